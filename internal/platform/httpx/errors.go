// Package httpx provides HTTP response utilities.
package httpx

import (
	"errors"
	"net/http"
)

// Sentinel errors shared by the catalog and grant layers.
var (
	ErrNotFound      = errors.New("resource not found")
	ErrInvalidSlug   = errors.New("invalid slug")
	ErrDuplicateSlug = errors.New("duplicate slug")
	ErrValidation    = errors.New("validation failed")
	ErrForbidden     = errors.New("forbidden")
	ErrCyclicParent  = errors.New("cyclic parent chain")
	ErrInUse         = errors.New("resource in use")
	ErrUnauthorized  = errors.New("unauthorized")
)

// RespondError maps domain errors to HTTP responses using RFC7807.
func RespondError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrNotFound):
		Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrDuplicateSlug):
		Problem(w, http.StatusConflict, "Duplicate Slug", err.Error())
	case errors.Is(err, ErrInUse):
		Problem(w, http.StatusConflict, "In Use", err.Error())
	case errors.Is(err, ErrInvalidSlug):
		Problem(w, http.StatusBadRequest, "Invalid Slug", err.Error())
	case errors.Is(err, ErrValidation):
		Problem(w, http.StatusBadRequest, "Validation Failed", err.Error())
	case errors.Is(err, ErrCyclicParent):
		Problem(w, http.StatusUnprocessableEntity, "Cyclic Parent", err.Error())
	case errors.Is(err, ErrForbidden):
		Problem(w, http.StatusForbidden, "Forbidden", err.Error())
	case errors.Is(err, ErrUnauthorized):
		Problem(w, http.StatusUnauthorized, "Unauthorized", err.Error())
	default:
		Problem(w, http.StatusInternalServerError, "Internal Error", "")
	}
}
