package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/quietpage/cache"
	"github.com/use-agent/quietpage/extract"
	"github.com/use-agent/quietpage/models"
	"github.com/use-agent/quietpage/quiesce"
	"github.com/use-agent/quietpage/scraper"
)

// Settler loads a page and waits for it to go quiet. *scraper.Scraper
// implements it.
type Settler interface {
	DoSettle(ctx context.Context, req *models.SettleRequest) (*scraper.SettleResult, error)
	Stats() models.PoolStats
}

// Settle returns a handler for POST /api/v1/settle. cc may be nil.
//
// Orchestration flow:
//  1. Parse & validate request, apply defaults.
//  2. Cache lookup when max_age is set.
//  3. Settler.DoSettle → rendered HTML once quiet  (records navigation_ms)
//  4. Extractor.Extract → content + records        (records extraction_ms)
//  5. Fill quiescence info and timing, cache unless timed out, return 200.
func Settle(sc Settler, ex *extract.Extractor, cc cache.Store) gin.HandlerFunc {
	return func(c *gin.Context) {
		totalStart := time.Now()
		ctx := c.Request.Context()

		// ── 1. Parse request ────────────────────────────────────────
		var req models.SettleRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, models.SettleResponse{
				Success: false,
				Error: &models.ErrorDetail{
					Code:    models.ErrCodeInvalidInput,
					Message: err.Error(),
				},
			})
			return
		}
		req.Defaults()

		// ── 2. Cache lookup ─────────────────────────────────────────
		var cacheKey string
		if cc != nil && req.MaxAge > 0 {
			cacheKey = cache.Key(&req)
			if cached, hit := cc.Get(ctx, cacheKey, time.Duration(req.MaxAge)*time.Millisecond); hit {
				cached.CacheStatus = "hit"
				cached.Timing = models.TimingInfo{
					TotalMs: time.Since(totalStart).Milliseconds(),
				}
				c.JSON(http.StatusOK, cached)
				return
			}
		}

		// ── 3. Settle ───────────────────────────────────────────────
		navStart := time.Now()
		result, err := sc.DoSettle(ctx, &req)
		navigationMs := time.Since(navStart).Milliseconds()

		if err != nil {
			respondError(c, err, models.TimingInfo{
				TotalMs:      time.Since(totalStart).Milliseconds(),
				NavigationMs: navigationMs,
			})
			return
		}

		// ── 4. Extract ──────────────────────────────────────────────
		extractStart := time.Now()
		out, err := ex.Extract(result.RawHTML, result.FinalURL, extract.Options{
			CSSSelector:  req.CSSSelector,
			Records:      req.Records,
			OutputFormat: req.OutputFormat,
			ExtractMode:  req.ExtractMode,
			Logger:       slog.With("url", req.URL),
		})
		extractionMs := time.Since(extractStart).Milliseconds()

		if err != nil {
			respondError(c, err, models.TimingInfo{
				TotalMs:      time.Since(totalStart).Milliseconds(),
				NavigationMs: navigationMs,
				ExtractionMs: extractionMs,
			})
			return
		}

		// ── 5. Respond ──────────────────────────────────────────────
		// Readability usually finds a better title; document.title is
		// the fallback.
		title := out.Title
		if title == "" {
			title = result.Title
		}

		q := result.Quiescence
		resp := &models.SettleResponse{
			Success:    true,
			StatusCode: result.StatusCode,
			FinalURL:   result.FinalURL,
			Title:      title,
			Content:    out.Content,
			Records:    out.Records,
			Quiescence: models.QuiescenceInfo{
				SettledBy:        q.Outcome.String(),
				ElapsedMs:        q.Elapsed.Milliseconds(),
				Checks:           q.Checks,
				Mutations:        q.Mutations,
				RequestsObserved: result.RequestsObserved,
				InFlight:         q.InFlight,
				Hooks: models.NetworkHooks{
					Fetch:    result.Hooks.Fetch,
					XHR:      result.Hooks.XHR,
					Observer: result.Hooks.Observer,
				},
			},
			Timing: models.TimingInfo{
				TotalMs:      time.Since(totalStart).Milliseconds(),
				NavigationMs: navigationMs,
				ExtractionMs: extractionMs,
			},
		}

		// A timed-out page may be missing content; serve it but do not
		// keep it for later requests.
		if cacheKey != "" {
			if q.Outcome != quiesce.SettledTimeout {
				cc.Set(ctx, cacheKey, resp)
			}
			resp.CacheStatus = "miss"
		}

		c.JSON(http.StatusOK, resp)
	}
}

// respondError writes err as a failed SettleResponse with the status its
// code maps to.
func respondError(c *gin.Context, err error, timing models.TimingInfo) {
	se := models.AsScrapeError(err)
	c.JSON(se.HTTPStatus(), models.SettleResponse{
		Success: false,
		Error:   se.ToDetail(),
		Timing:  timing,
	})
}
