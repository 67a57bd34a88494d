// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"

	"github.com/warden-iam/warden/internal/shared"
)

// Error kinds reported in problem responses.
const (
	KindUnauthenticated = "Unauthenticated"
	KindAccountInactive = "AccountInactive"
	KindForbidden       = "Forbidden"
	KindNotFound        = "NotFound"
	KindInvalidInput    = "InvalidInput"
	KindConflict        = "Conflict"
	KindInternal        = "InternalFailure"
)

// StatusFor maps a domain error to its HTTP status and kind.
func StatusFor(err error) (int, string) {
	switch {
	case errors.Is(err, shared.ErrAccountInactive):
		return http.StatusUnauthorized, KindAccountInactive
	case errors.Is(err, shared.ErrUnauthenticated), errors.Is(err, shared.ErrInvalidCredentials):
		return http.StatusUnauthorized, KindUnauthenticated
	case errors.Is(err, shared.ErrForbidden):
		return http.StatusForbidden, KindForbidden
	case errors.Is(err, shared.ErrNotFound):
		return http.StatusNotFound, KindNotFound
	case errors.Is(err, shared.ErrInvalidInput):
		return http.StatusBadRequest, KindInvalidInput
	case errors.Is(err, shared.ErrConflict):
		return http.StatusConflict, KindConflict
	default:
		return http.StatusInternalServerError, KindInternal
	}
}

// RespondError maps domain errors to HTTP responses using RFC7807.
// Internal failures never expose their detail.
func RespondError(w http.ResponseWriter, err error) {
	status, kind := StatusFor(err)
	detail := ""
	if status != http.StatusInternalServerError {
		detail = err.Error()
	}
	JSON(w, status, ProblemDetail{
		Title:  http.StatusText(status),
		Status: status,
		Detail: detail,
		Kind:   kind,
	})
}
