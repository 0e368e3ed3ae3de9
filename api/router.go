package api

import (
	"time"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/regscout/api/handler"
	"github.com/use-agent/regscout/api/middleware"
	"github.com/use-agent/regscout/config"
	"github.com/use-agent/regscout/search"
)

// Deps are the collaborators the HTTP layer serves.
type Deps struct {
	Searcher handler.Searcher
	Stats    handler.StatsProvider
	Registry search.Registry

	// Prober enables ?deep=1 on the health endpoint. Optional.
	Prober handler.Prober

	// Artifacts enables the diagnostics routes. Optional.
	Artifacts handler.ArtifactStore

	StartTime time.Time
}

// NewRouter creates a configured Gin engine with all routes and middleware.
//
// Middleware chain:
//
//	Global:  Recovery → Logger
//	API:     Auth (if enabled) → RateLimit
//
// Health stays outside auth so monitoring probes always work.
func NewRouter(cfg *config.Config, d Deps) *gin.Engine {
	gin.SetMode(cfg.Server.Mode)

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(gin.Logger())

	v1 := r.Group("/api/v1")

	v1.GET("/health", handler.Health(d.Stats, d.Registry, d.Prober, d.StartTime))

	protected := v1.Group("")
	if cfg.Auth.Enabled {
		protected.Use(middleware.Auth(cfg.Auth.APIKeys))
	}
	protected.Use(middleware.RateLimit(cfg.RateLimit))

	protected.GET("/search", handler.SearchGet(d.Searcher))
	protected.POST("/search", handler.SearchPost(d.Searcher))

	if d.Artifacts != nil {
		protected.GET("/diagnostics/:id", handler.DiagnosticImage(d.Artifacts))
		protected.GET("/diagnostics/:id/snapshot", handler.DiagnosticSnapshot(d.Artifacts))
	}

	return r
}
