package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/urfave/cli/v2"
	"github.com/use-agent/quietpage/api"
	"github.com/use-agent/quietpage/api/handler"
	"github.com/use-agent/quietpage/cache"
	"github.com/use-agent/quietpage/config"
	"github.com/use-agent/quietpage/extract"
	"github.com/use-agent/quietpage/models"
	"github.com/use-agent/quietpage/quiesce"
	"github.com/use-agent/quietpage/scraper"
	"gopkg.in/yaml.v3"
)

func main() {
	app := &cli.App{
		Name:    "quietpage",
		Usage:   "load web pages and read them once they have gone quiet",
		Version: handler.Version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "YAML config file",
				EnvVars: []string{"QUIETPAGE_CONFIG"},
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP API",
				Action: serveAction,
			},
			{
				Name:  "settle",
				Usage: "load one page, wait for quiescence and print the result",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "url", Required: true, Usage: "page to load"},
					&cli.DurationFlag{Name: "idle", Usage: "quiet window (default from config)"},
					&cli.DurationFlag{Name: "timeout", Usage: "quiescence timeout (default from config)"},
					&cli.StringFlag{Name: "selector", Usage: "CSS selector restricting the content"},
					&cli.StringFlag{Name: "format", Value: "text", Usage: "content format: html, markdown or text"},
					&cli.BoolFlag{Name: "no-scroll", Usage: "do not scroll to the bottom after settling"},
					&cli.BoolFlag{Name: "stealth", Usage: "enable anti-bot evasions"},
					&cli.StringFlag{Name: "output", Aliases: []string{"o"}, Value: "json", Usage: "json or yaml"},
				},
				Action: settleAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		slog.Error("quietpage failed", "error", err)
		os.Exit(1)
	}
}

func loadConfig(c *cli.Context) (*config.Config, error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, err
	}
	initLogger(cfg.Log)
	return cfg, nil
}

func serveAction(c *cli.Context) error {
	// ── 1. Configuration and logging ────────────────────────────────
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	slog.Info("quietpage starting",
		"host", cfg.Server.Host,
		"port", cfg.Server.Port,
		"mode", cfg.Server.Mode,
		"maxPages", cfg.Browser.MaxPages,
	)

	// ── 2. Metrics ──────────────────────────────────────────────────
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	metrics := quiesce.NewMetrics(reg)

	// ── 3. Scraper (launches browser) ───────────────────────────────
	sc, err := scraper.NewScraper(cfg, metrics)
	if err != nil {
		return fmt.Errorf("initialise scraper: %w", err)
	}
	defer sc.Close()

	// ── 4. Cache ────────────────────────────────────────────────────
	var store cache.Store
	if cfg.Cache.RedisURL != "" {
		rc, err := cache.NewRedis(c.Context, cfg.Cache.RedisURL, cfg.Cache.TTL)
		if err != nil {
			return err
		}
		defer rc.Close()
		store = rc
		slog.Info("response cache: redis")
	} else {
		mc := cache.New(cfg.Cache.MaxEntries, cfg.Cache.TTL)
		defer mc.Close()
		store = mc
	}

	// ── 5. Router and server ────────────────────────────────────────
	router := api.NewRouter(cfg, api.Deps{
		Settler:   sc,
		Extractor: extract.New(),
		Cache:     store,
		Registry:  reg,
		StartTime: time.Now(),
	})

	addr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	srv := &http.Server{
		Addr:    addr,
		Handler: router,
	}

	serveErr := make(chan error, 1)
	go func() {
		slog.Info("HTTP server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
	}()

	// ── 6. Graceful shutdown ────────────────────────────────────────
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case sig := <-quit:
		slog.Info("shutdown signal received", "signal", sig.String())
	case err := <-serveErr:
		return fmt.Errorf("HTTP server: %w", err)
	}

	// In-flight settles can take up to the quiescence timeout.
	ctx, cancel := context.WithTimeout(context.Background(), cfg.Quiesce.Timeout+5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		slog.Error("HTTP server forced shutdown", "error", err)
	} else {
		slog.Info("HTTP server drained gracefully")
	}

	// sc.Close() runs via defer — drains page pool and kills Chrome.
	slog.Info("quietpage stopped")
	return nil
}

func settleAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	// The result goes to stdout; keep logs off it.
	cfg.Log.Level = "warn"
	initLoggerTo(cfg.Log, os.Stderr)

	req := &models.SettleRequest{
		URL:          c.String("url"),
		IdleMs:       int(c.Duration("idle").Milliseconds()),
		TimeoutMs:    int(c.Duration("timeout").Milliseconds()),
		CSSSelector:  c.String("selector"),
		OutputFormat: c.String("format"),
		Stealth:      c.Bool("stealth"),
	}
	if req.IdleMs == 0 {
		req.IdleMs = int(cfg.Quiesce.Idle.Milliseconds())
	}
	if req.TimeoutMs == 0 {
		req.TimeoutMs = int(cfg.Quiesce.Timeout.Milliseconds())
	}
	if c.Bool("no-scroll") {
		noScroll := false
		req.ScrollToBottom = &noScroll
	}
	req.Defaults()

	cfg.Browser.MaxPages = 1
	sc, err := scraper.NewScraper(cfg, nil)
	if err != nil {
		return err
	}
	defer sc.Close()

	ctx, stop := signal.NotifyContext(c.Context, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	result, err := sc.DoSettle(ctx, req)
	if err != nil {
		return err
	}
	out, err := extract.New().Extract(result.RawHTML, result.FinalURL, extract.Options{
		CSSSelector:  req.CSSSelector,
		OutputFormat: req.OutputFormat,
		ExtractMode:  req.ExtractMode,
	})
	if err != nil {
		return err
	}

	summary := settleSummary{
		URL:              result.FinalURL,
		Status:           result.StatusCode,
		Title:            result.Title,
		SettledBy:        result.Quiescence.Outcome.String(),
		ElapsedMs:        result.Quiescence.Elapsed.Milliseconds(),
		RequestsObserved: result.RequestsObserved,
		InFlight:         result.Quiescence.InFlight,
		Content:          out.Content,
	}

	switch c.String("output") {
	case "yaml":
		enc := yaml.NewEncoder(os.Stdout)
		defer enc.Close()
		return enc.Encode(summary)
	default:
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(summary)
	}
}

type settleSummary struct {
	URL              string `json:"url" yaml:"url"`
	Status           int    `json:"status" yaml:"status"`
	Title            string `json:"title" yaml:"title"`
	SettledBy        string `json:"settled_by" yaml:"settled_by"`
	ElapsedMs        int64  `json:"elapsed_ms" yaml:"elapsed_ms"`
	RequestsObserved int64  `json:"requests_observed" yaml:"requests_observed"`
	InFlight         int64  `json:"in_flight" yaml:"in_flight"`
	Content          string `json:"content" yaml:"content"`
}

// initLogger configures slog based on the LogConfig.
func initLogger(cfg config.LogConfig) {
	initLoggerTo(cfg, os.Stdout)
}

func initLoggerTo(cfg config.LogConfig, w *os.File) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	opts := &slog.HandlerOptions{Level: level}

	var h slog.Handler
	if cfg.Format == "text" {
		h = slog.NewTextHandler(w, opts)
	} else {
		h = slog.NewJSONHandler(w, opts)
	}

	slog.SetDefault(slog.New(h))
}
