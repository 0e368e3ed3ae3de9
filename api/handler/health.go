package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/regscout/models"
	"github.com/use-agent/regscout/search"
)

// Version is reported by the health endpoint.
const Version = "0.1.0"

const probeTimeout = 15 * time.Second

// StatsProvider reports session manager state. *engine.Manager implements it.
type StatsProvider interface {
	Stats() models.PoolStats
}

// Prober checks a registry page without a browser. *engine.Probe
// implements it.
type Prober interface {
	Check(ctx context.Context, jurisdiction, url string) models.ProbeReport
}

// Health returns a handler for GET /api/v1/health.
//
// Reports session utilisation and degrades status when more than 80% of
// sessions are in use. With ?deep=1 and a prober, the registry page of
// ?jurisdiction= (default DE) is fetched as well and a block or
// unreachable page also degrades status.
func Health(stats StatsProvider, registry search.Registry, prober Prober, startTime time.Time) gin.HandlerFunc {
	return func(c *gin.Context) {
		s := stats.Stats()

		status := "healthy"
		if s.MaxSessions > 0 && s.ActiveSessions > int(float64(s.MaxSessions)*0.8) {
			status = "degraded"
		}

		resp := models.HealthResponse{
			Uptime:    time.Since(startTime).Round(time.Second).String(),
			PoolStats: s,
			Version:   Version,
		}

		if prober != nil && isTruthy(c.Query("deep")) {
			code := strings.ToUpper(c.DefaultQuery("jurisdiction", models.DefaultJurisdiction))
			j, err := registry.Lookup(code)
			if err != nil {
				c.JSON(http.StatusBadRequest, gin.H{"error": models.ErrorDetail{
					Code:    models.ErrCodeUnsupportedJurisdiction,
					Message: err.Error(),
				}})
				return
			}
			ctx, cancel := context.WithTimeout(c.Request.Context(), probeTimeout)
			report := prober.Check(ctx, j.Code, j.URL)
			cancel()
			resp.Probe = &report
			if !report.Reachable || report.Blocked {
				status = "degraded"
			}
		}

		resp.Status = status
		c.JSON(http.StatusOK, resp)
	}
}

func isTruthy(v string) bool {
	switch strings.ToLower(v) {
	case "1", "true", "yes":
		return true
	}
	return false
}
