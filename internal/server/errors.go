// Package server provides the HTTP API for web2pdf: conversions, metadata updates, artifact
// downloads and conversion history.
package server

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/jonathan/web2pdf/internal/ingestion"
	"github.com/jonathan/web2pdf/internal/storage"
)

// ErrHistoryDisabled is returned by history operations when no database is configured.
var ErrHistoryDisabled = errors.New("conversion history is not configured")

// ErrValidation indicates request validation failure
type ErrValidation struct {
	Field   string
	Message string
}

func (e *ErrValidation) Error() string {
	return fmt.Sprintf("validation error: %s - %s", e.Field, e.Message)
}

// ErrForbidden indicates the caller may not act on another user's data
type ErrForbidden struct {
	Message string
}

func (e *ErrForbidden) Error() string {
	return "forbidden: " + e.Message
}

// HTTPStatus returns the appropriate HTTP status code for an error
func HTTPStatus(err error) int {
	var validation *ErrValidation
	var sourceValidation *ingestion.ValidationError
	var forbidden *ErrForbidden

	switch {
	case err == nil:
		return http.StatusOK
	case errors.As(err, &validation), errors.As(err, &sourceValidation),
		errors.Is(err, storage.ErrInvalidFilename):
		return http.StatusBadRequest
	case errors.As(err, &forbidden):
		return http.StatusForbidden
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrAmbiguousID):
		return http.StatusConflict
	case errors.Is(err, ErrHistoryDisabled):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}
