package api

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/use-agent/quietpage/api/handler"
	"github.com/use-agent/quietpage/api/middleware"
	"github.com/use-agent/quietpage/cache"
	"github.com/use-agent/quietpage/config"
	"github.com/use-agent/quietpage/extract"
)

// Deps are the services the routes call. Cache and Registry may be nil.
type Deps struct {
	Settler   handler.Settler
	Extractor *extract.Extractor
	Cache     cache.Store
	Registry  *prometheus.Registry
	StartTime time.Time
}

// NewRouter creates a configured Gin engine with all routes and middleware.
//
// Middleware chain:
//
//	Global:  Recovery → Logger
//	API:     Auth (if enabled) → RateLimit
//
// Health and metrics are outside auth so monitoring probes always work.
func NewRouter(cfg *config.Config, deps Deps) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	var rejected prometheus.Counter
	if deps.Registry != nil && cfg.Metrics.Enabled {
		rejected = promauto.With(deps.Registry).NewCounter(prometheus.CounterOpts{
			Name: "quietpage_ratelimit_rejected_total",
			Help: "Requests rejected by the per-identity rate limiter.",
		})
		r.GET(cfg.Metrics.Path, gin.WrapH(promhttp.HandlerFor(deps.Registry, promhttp.HandlerOpts{})))
	}

	v1 := r.Group("/api/v1")

	// Health — no auth required.
	v1.GET("/health", handler.Health(deps.Settler, deps.StartTime))

	// Protected group — auth + rate limit.
	protected := v1.Group("")
	if cfg.Auth.Enabled {
		protected.Use(middleware.Auth(cfg.Auth.APIKeys))
	}
	protected.Use(middleware.RateLimit(cfg.RateLimit, rejected))

	protected.POST("/settle", handler.Settle(deps.Settler, deps.Extractor, deps.Cache))

	return r
}
