package handler

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/use-agent/regscout/models"
)

// Searcher runs one registry search. *search.Service implements it.
type Searcher interface {
	Search(ctx context.Context, query, jurisdiction string) (models.Outcome, error)
}

// SearchGet returns a handler for GET /api/v1/search?q=&jurisdiction=.
func SearchGet(s Searcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.SearchRequest
		if err := c.ShouldBindQuery(&req); err != nil {
			respondInvalid(c, err.Error())
			return
		}
		runSearch(c, s, req)
	}
}

// SearchPost returns a handler for POST /api/v1/search.
func SearchPost(s Searcher) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.SearchRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			respondInvalid(c, err.Error())
			return
		}
		runSearch(c, s, req)
	}
}

// runSearch calls the core and maps the outcome kind to an HTTP status.
// Validation happens in the core, which reports it as a configuration
// error.
func runSearch(c *gin.Context, s Searcher, req models.SearchRequest) {
	start := time.Now()
	req.Defaults()

	out, err := s.Search(c.Request.Context(), req.Query, req.Jurisdiction)
	if err != nil {
		var se *models.SearchError
		if !errors.As(err, &se) {
			se = models.NewSearchError(models.ErrCodeInternal, err.Error(), err)
		}
		status := http.StatusInternalServerError
		if models.IsConfigurationError(se) {
			status = http.StatusBadRequest
		}
		c.JSON(status, models.SearchResponse{
			Success:      false,
			Query:        req.Query,
			Jurisdiction: req.Jurisdiction,
			Error:        se.ToDetail(),
			Timing:       models.TimingInfo{TotalMs: time.Since(start).Milliseconds()},
		})
		return
	}

	resp := models.SearchResponse{
		Success:      out.Terminal(),
		Status:       out.Kind,
		Query:        req.Query,
		Jurisdiction: req.Jurisdiction,
		Reason:       out.Reason,
		DiagnosticID: out.DiagnosticID,
		Timing:       models.TimingInfo{TotalMs: time.Since(start).Milliseconds()},
	}
	if out.Terminal() {
		resp.Records = out.Records
		if resp.Records == nil {
			resp.Records = []models.Record{}
		}
		resp.Count = len(resp.Records)
	}
	if out.Kind == models.OutcomeTransientError {
		resp.Error = &models.ErrorDetail{Code: out.Code, Message: out.Message}
	}
	c.JSON(outcomeStatus(out.Kind), resp)
}

// outcomeStatus translates outcome kinds to HTTP status codes.
func outcomeStatus(kind models.OutcomeKind) int {
	switch kind {
	case models.OutcomeSuccess, models.OutcomeNoResults:
		return http.StatusOK
	case models.OutcomeBlocked:
		return http.StatusServiceUnavailable // 503: upstream refuses us
	default:
		return http.StatusInternalServerError
	}
}

func respondInvalid(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, models.SearchResponse{
		Success: false,
		Error: &models.ErrorDetail{
			Code:    models.ErrCodeInvalidInput,
			Message: msg,
		},
	})
}
