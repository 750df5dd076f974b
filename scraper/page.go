package scraper

import (
	"context"
	"errors"
	"log/slog"
	"net/url"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/use-agent/quietpage/activity"
	"github.com/use-agent/quietpage/models"
	"github.com/use-agent/quietpage/probe"
	"github.com/use-agent/quietpage/quiesce"
	"github.com/ysmood/gson"
)

// extractSlack is added to the operation deadline for reading the DOM
// after the page has settled.
const extractSlack = 5 * time.Second

// evalTimeout bounds the small evaluations the probe makes.
const evalTimeout = 3 * time.Second

// DoSettle loads req.URL, waits until the page is quiet and returns the
// rendered document.
//
// Lifecycle (numbered steps match the inline comments):
//
//  1. Budgets                – idle/timeout from the request, capped by config
//  2. Acquire page           – borrow a tab from the pool (or create one)
//  3. DEFER: cleanup         – about:blank + return to pool (leak prevention)
//  4. Stealth injection      – mask navigator.webdriver etc.
//  5. Probe                  – binding + init script counting fetch/XHR
//  6. Headers, cookies       – request customisation
//  7. Hijack mount           – resource blocking, optional Go fetching
//  8. Navigate               – bounded by the navigation timeout
//  9. Quiescence             – debounce DOM mutations against in-flight requests
//  10. Scroll                – lazy content, then the settle delay
//  11. Read                  – page.HTML() + title, URL and status
//
// Steps 4-7 MUST happen before step 8: init scripts and request
// interception only apply to documents created after they are installed.
func (s *Scraper) DoSettle(ctx context.Context, req *models.SettleRequest) (*SettleResult, error) {
	logger := slog.With("url", req.URL)

	// ── 1. Budgets ────────────────────────────────────────────────────
	qreq := quiesce.Request{
		Idle:    time.Duration(req.IdleMs) * time.Millisecond,
		Timeout: time.Duration(req.TimeoutMs) * time.Millisecond,
	}
	if qreq.Idle == 0 {
		qreq.Idle = s.quiesceCfg.Idle
	}
	if qreq.Timeout == 0 {
		qreq.Timeout = s.quiesceCfg.Timeout
	}
	if s.quiesceCfg.MaxTimeout > 0 && qreq.Timeout > s.quiesceCfg.MaxTimeout {
		qreq.Timeout = s.quiesceCfg.MaxTimeout
	}
	if err := qreq.Validate(); err != nil {
		return nil, models.NewScrapeError(models.ErrCodeInvalidInput, err.Error(), err)
	}

	scroll := req.ScrollToBottom == nil || *req.ScrollToBottom
	settleDelay := s.quiesceCfg.SettleDelay
	if req.SettleDelayMs != nil {
		settleDelay = time.Duration(*req.SettleDelayMs) * time.Millisecond
	}

	total := s.scraperCfg.NavigationTimeout + qreq.Timeout + settleDelay + extractSlack
	ctx, cancel := context.WithTimeout(ctx, total)
	defer cancel()

	// ── 2. Acquire page from pool ─────────────────────────────────────
	s.activePages.Add(1)
	defer s.activePages.Add(-1)

	page, acquireErr := s.pagePool.Get(func() (*rod.Page, error) {
		return s.browser.Page(proto.TargetCreateTarget{})
	})
	if acquireErr != nil {
		return nil, models.NewScrapeError(
			models.ErrCodeBrowserCrash,
			"failed to acquire page from pool",
			acquireErr,
		)
	}

	// ── 3. CRITICAL DEFER: prevent DOM memory leak + guarantee pool return
	// Uses the page without the request context so cleanup still runs
	// after the deadline.
	defer func() {
		if navErr := page.Navigate("about:blank"); navErr != nil {
			logger.Warn("cleanup: failed to navigate to about:blank", "error", navErr)
		}
		s.pagePool.Put(page)
	}()

	// ── 4. Stealth injection ──────────────────────────────────────────
	if req.Stealth {
		if remove, evalErr := page.EvalOnNewDocument(stealth.JS); evalErr != nil {
			logger.Warn("stealth injection failed, proceeding without stealth", "error", evalErr)
		} else {
			defer func() { _ = remove() }()
		}
	}

	// ── 5. Probe: binding first, so the init script can post install ─
	monitor := activity.NewMonitor(nil)
	pr := probe.New(activity.NewTracker(monitor), pageEvaluator{page: page}, logger)

	stopBinding, err := page.Expose(probe.BindingName, func(payload gson.JSON) (interface{}, error) {
		if err := pr.Handle([]byte(payload.Str())); err != nil {
			logger.Debug("probe: dropped message", "error", err)
		}
		return nil, nil
	})
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeBrowserCrash, "failed to install page binding", err)
	}
	defer func() { _ = stopBinding() }()

	removeScript, err := page.EvalOnNewDocument(probe.Script())
	if err != nil {
		return nil, models.NewScrapeError(models.ErrCodeBrowserCrash, "failed to install page probe", err)
	}
	defer func() { _ = removeScript() }()

	// ── 6. Headers and cookies ───────────────────────────────────────
	extraHeaders := make(map[string]string, len(req.Headers)+1)
	if _, hasReferer := req.Headers["Referer"]; !hasReferer {
		if u, parseErr := url.Parse(req.URL); parseErr == nil {
			extraHeaders["Referer"] = "https://www.google.com/search?q=" + url.QueryEscape(u.Hostname())
		}
	}
	for k, v := range req.Headers {
		extraHeaders[k] = v
	}
	if len(extraHeaders) > 0 {
		_ = proto.NetworkSetExtraHTTPHeaders{
			Headers: toHeadersMap(extraHeaders),
		}.Call(page)
	}

	for _, cookie := range req.Cookies {
		domain := cookie.Domain
		if domain == "" {
			if u, parseErr := url.Parse(req.URL); parseErr == nil {
				domain = u.Hostname()
			}
		}
		path := cookie.Path
		if path == "" {
			path = "/"
		}
		_, _ = proto.NetworkSetCookie{
			Name:   cookie.Name,
			Value:  cookie.Value,
			Domain: domain,
			Path:   path,
		}.Call(page)
	}

	// ── 7. Mount hijack router ────────────────────────────────────────
	var fetcher *goFetcher
	if s.goTransport != nil {
		fetcher = newGoFetcher(s.goTransport, monitor)
	}
	router := setupHijack(page, s.scraperCfg.BlockedResourceTypes, req.BlockAds, fetcher)
	if router != nil {
		defer func() { _ = router.Stop() }()
	}

	// ── 8. Navigate ───────────────────────────────────────────────────
	p := page.Context(ctx)

	navCtx, navCancel := context.WithTimeout(ctx, s.scraperCfg.NavigationTimeout)
	navPage := page.Context(navCtx)
	if navErr := navPage.Navigate(req.URL); navErr != nil {
		navCancel()
		return nil, categorizeError(navErr, "navigation to target URL failed")
	}
	// A slow load event is not fatal: the quiescence wait takes over.
	if loadErr := navPage.WaitLoad(); loadErr != nil {
		if ctx.Err() != nil {
			navCancel()
			return nil, categorizeError(ctx.Err(), "navigation to target URL failed")
		}
		logger.Debug("load event not reached, waiting for quiescence anyway", "error", loadErr)
	}
	navCancel()

	// ── 9. Quiescence ─────────────────────────────────────────────────
	detector := quiesce.NewDetector(monitor,
		quiesce.WithMetrics(s.metrics),
		quiesce.WithLogger(logger),
	)
	qres, waitErr := detector.Wait(ctx, pr, qreq)
	if waitErr != nil {
		if errors.Is(waitErr, quiesce.ErrInvalidRequest) {
			return nil, models.NewScrapeError(models.ErrCodeInvalidInput, waitErr.Error(), waitErr)
		}
		return nil, categorizeError(waitErr, "waiting for the page to settle failed")
	}
	if qres.Outcome == quiesce.SettledTimeout {
		logger.Info("page did not settle before the timeout, reading it as-is",
			"timeout", qreq.Timeout, "inFlight", qres.InFlight)
	}

	// ── 10. Scroll for lazy-loaded content ───────────────────────────
	if scroll {
		if err := scrollToBottom(p, settleDelay); err != nil {
			if ctx.Err() != nil {
				return nil, categorizeError(ctx.Err(), "settle delay interrupted")
			}
			logger.Debug("scroll to bottom failed", "error", err)
		}
	}

	// ── 11. Read the document ────────────────────────────────────────
	rawHTML, htmlErr := p.HTML()
	if htmlErr != nil {
		return nil, categorizeError(htmlErr, "failed to extract page HTML")
	}

	title := evalStringOrEmpty(p, `() => document.title`)
	finalURL := evalStringOrEmpty(p, `() => window.location.href`)
	if finalURL == "" {
		finalURL = req.URL
	}

	// NOTE: page.EachEvent(NetworkResponseReceived) conflicts with the Fetch
	// domain used by HijackRequests on Chromium 145+, so the status code is
	// read from the navigation timing entry instead.
	statusCode := 0
	if res, err := p.Eval(`() => {
		try {
			const entries = performance.getEntriesByType("navigation");
			if (entries.length > 0) return entries[0].responseStatus || 0;
		} catch(e) {}
		return 0;
	}`); err == nil {
		statusCode = res.Value.Int()
	}

	return &SettleResult{
		RawHTML:          rawHTML,
		Title:            title,
		StatusCode:       statusCode,
		FinalURL:         finalURL,
		Quiescence:       qres,
		RequestsObserved: monitor.Dispatched(),
		Hooks:            pr.Hooks(),
	}, nil
}

// scrollToBottom scrolls to the full document height, then waits delay so
// content loaded by the scroll can render.
func scrollToBottom(p *rod.Page, delay time.Duration) error {
	const js = `() => {
		const b = document.body, d = document.documentElement;
		const h = Math.max(
			b ? b.scrollHeight : 0, d.scrollHeight,
			b ? b.offsetHeight : 0, d.offsetHeight,
			b ? b.clientHeight : 0, d.clientHeight
		);
		window.scrollTo(0, h);
	}`
	if _, err := p.Eval(js); err != nil {
		return err
	}
	if delay <= 0 {
		return nil
	}
	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-p.GetContext().Done():
		return p.GetContext().Err()
	}
}

// pageEvaluator adapts a rod page to probe.Evaluator. It deliberately
// ignores the request context so an observer can be disconnected after
// the deadline.
type pageEvaluator struct {
	page *rod.Page
}

func (e pageEvaluator) EvalBool(js string, args ...interface{}) (bool, error) {
	p := e.page.Timeout(evalTimeout)
	defer p.CancelTimeout()
	res, err := p.Eval(js, args...)
	if err != nil {
		return false, err
	}
	return res.Value.Bool(), nil
}

// evalStringOrEmpty evaluates a JS expression and returns the string result,
// swallowing any errors (useful for optional metadata extraction).
func evalStringOrEmpty(page *rod.Page, js string) string {
	res, err := page.Eval(js)
	if err != nil {
		return ""
	}
	return res.Value.Str()
}

// toHeadersMap converts a plain string map to the proto.NetworkHeaders type
// (map[string]gson.JSON) required by NetworkSetExtraHTTPHeaders.
func toHeadersMap(headers map[string]string) proto.NetworkHeaders {
	m := make(proto.NetworkHeaders, len(headers))
	for k, v := range headers {
		m[k] = gson.New(v)
	}
	return m
}

// categorizeError wraps raw errors into typed ScrapeErrors so the API layer
// can map them to appropriate HTTP status codes.
func categorizeError(err error, msg string) *models.ScrapeError {
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return models.NewScrapeError(models.ErrCodeTimeout, msg, err)
	case errors.Is(err, context.Canceled):
		return models.NewScrapeError(models.ErrCodeTimeout, "request canceled", err)
	default:
		return models.NewScrapeError(models.ErrCodeNavigation, msg, err)
	}
}
