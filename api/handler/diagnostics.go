package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/regscout/diagnostics"
	"github.com/use-agent/regscout/models"
)

// ArtifactStore looks up captured diagnostics. *diagnostics.Store
// implements it.
type ArtifactStore interface {
	Get(id string) (*diagnostics.Artifact, bool)
}

// DiagnosticImage returns a handler for GET /api/v1/diagnostics/:id, which
// serves the captured screenshot.
func DiagnosticImage(store ArtifactStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		a, ok := store.Get(c.Param("id"))
		if !ok || len(a.PNG) == 0 {
			notFound(c)
			return
		}
		c.Data(http.StatusOK, "image/png", a.PNG)
	}
}

// DiagnosticSnapshot returns a handler for
// GET /api/v1/diagnostics/:id/snapshot, which serves the markdown snapshot.
func DiagnosticSnapshot(store ArtifactStore) gin.HandlerFunc {
	return func(c *gin.Context) {
		a, ok := store.Get(c.Param("id"))
		if !ok || a.Snapshot == "" {
			notFound(c)
			return
		}
		c.Data(http.StatusOK, "text/markdown; charset=utf-8", []byte(a.Snapshot))
	}
}

func notFound(c *gin.Context) {
	c.JSON(http.StatusNotFound, gin.H{"error": models.ErrorDetail{
		Code:    models.ErrCodeNotFound,
		Message: "diagnostic not found or expired",
	}})
}
