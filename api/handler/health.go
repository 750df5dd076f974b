package handler

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/use-agent/quietpage/models"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

// Share of the page pool in use above which the service is degraded.
const degradedPoolShare = 0.8

// Health serves GET /api/v1/health.
func Health(sc Settler, started time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		stats := sc.Stats()
		c.JSON(http.StatusOK, models.HealthResponse{
			Status:    poolStatus(stats),
			Uptime:    time.Since(started).Round(time.Second).String(),
			PoolStats: stats,
			Version:   Version,
		})
	}
}

func poolStatus(s models.PoolStats) string {
	if s.MaxPages > 0 && float64(s.ActivePages) > degradedPoolShare*float64(s.MaxPages) {
		return "degraded"
	}
	return "healthy"
}
