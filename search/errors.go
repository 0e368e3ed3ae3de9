package search

import (
	"context"
	"errors"

	"github.com/use-agent/regscout/models"
)

// categorizeError wraps raw errors into coded SearchErrors. Deadline and
// cancellation always map to INTERACTION_TIMEOUT; anything else gets code.
func categorizeError(err error, code, msg string) *models.SearchError {
	var se *models.SearchError
	if errors.As(err, &se) {
		return se
	}
	switch {
	case errors.Is(err, context.DeadlineExceeded):
		return models.NewSearchError(models.ErrCodeInteractionTimeout, msg, err)
	case errors.Is(err, context.Canceled):
		return models.NewSearchError(models.ErrCodeInteractionTimeout, "request canceled", err)
	default:
		return models.NewSearchError(code, msg, err)
	}
}
