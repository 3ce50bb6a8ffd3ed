package conversion

import (
	"errors"
	"geo-backend/internal/geo"
	"geo-backend/internal/storage"
	"net/http"
)

var (
	ErrMalformedRoute       = errors.New("Invalid URL structure.")
	ErrUnsupportedRoute     = errors.New("Unsupported route")
	ErrUnsupportedExtension = errors.New("Unsupported extension")
)

// StatusCode maps a conversion failure to the HTTP status reported to the
// caller.
func StatusCode(err error) int {
	switch {
	case errors.Is(err, ErrMalformedRoute):
		return http.StatusBadRequest
	case errors.Is(err, ErrUnsupportedRoute),
		errors.Is(err, ErrUnsupportedExtension),
		errors.Is(err, geo.ErrUnsupportedVector):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrObjectNotFound):
		return http.StatusNotFound
	case errors.Is(err, geo.ErrUniformRaster):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}

// errorMessage keeps the bare sentinel text for client facing errors so
// that callers can match on it.
func errorMessage(err error) string {
	for _, sentinel := range []error{ErrMalformedRoute, ErrUnsupportedRoute, ErrUnsupportedExtension, geo.ErrUniformRaster} {
		if errors.Is(err, sentinel) {
			return sentinel.Error()
		}
	}
	return err.Error()
}
