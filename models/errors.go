package models

import (
	"errors"
	"fmt"
)

// Error codes used in outcomes, API responses and internal error handling.
const (
	ErrCodeInvalidInput            = "INVALID_INPUT"
	ErrCodeUnsupportedJurisdiction = "UNSUPPORTED_JURISDICTION"
	ErrCodeEngineStartup           = "ENGINE_STARTUP"
	ErrCodeEngineLost              = "ENGINE_LOST"
	ErrCodeNavigation              = "NAVIGATION_FAILED"
	ErrCodeInteractionTimeout      = "INTERACTION_TIMEOUT"
	ErrCodeExtraction              = "EXTRACTION_FAILED"
	ErrCodeOutcomeTimeout          = "OUTCOME_TIMEOUT"

	// API-only codes.
	ErrCodeRateLimited  = "RATE_LIMITED"
	ErrCodeUnauthorized = "UNAUTHORIZED"
	ErrCodeNotFound     = "NOT_FOUND"
	ErrCodeInternal     = "INTERNAL_ERROR"
)

// ErrorDetail is the structured error in API responses.
type ErrorDetail struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// SearchError is the internal error type carrying an error code.
// It implements the error interface and supports error wrapping via Unwrap.
type SearchError struct {
	Code    string
	Message string
	Err     error // wrapped original error
}

func (e *SearchError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *SearchError) Unwrap() error {
	return e.Err
}

// NewSearchError creates a new SearchError.
func NewSearchError(code, message string, err error) *SearchError {
	return &SearchError{Code: code, Message: message, Err: err}
}

// ToDetail converts an internal error to an API-facing ErrorDetail.
func (e *SearchError) ToDetail() *ErrorDetail {
	return &ErrorDetail{Code: e.Code, Message: e.Message}
}

// IsConfigurationError reports whether err was raised before any browser
// interaction because the request itself is unusable.
func IsConfigurationError(err error) bool {
	var se *SearchError
	if !errors.As(err, &se) {
		return false
	}
	return se.Code == ErrCodeInvalidInput || se.Code == ErrCodeUnsupportedJurisdiction
}

// CodeOf extracts the code of the first SearchError in err's chain, or
// fallback when there is none.
func CodeOf(err error, fallback string) string {
	var se *SearchError
	if errors.As(err, &se) {
		return se.Code
	}
	return fallback
}
