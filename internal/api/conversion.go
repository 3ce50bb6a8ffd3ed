package api

import (
	"geo-backend/internal/conversion"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
)

// ConversionService exposes the conversion pipeline over plain HTTP. Every
// path other than /health is handed to the router unchanged.
type ConversionService struct {
	service *conversion.Service
}

func NewConversionService(service *conversion.Service) *ConversionService {
	return &ConversionService{service: service}
}

func (s *ConversionService) AddRoutes(r chi.Router) {
	r.Get("/health", RestHandler(func(r *http.Request) (any, error) { return nil, nil }))
	r.Get("/*", s.Convert)
}

func (s *ConversionService) Convert(w http.ResponseWriter, r *http.Request) {
	resp := s.service.Handle(r.Context(), r.URL.Path)
	WriteEnvelope(w, resp)
}

// WriteEnvelope writes the envelope as a regular HTTP response, decoding
// base64 bodies to raw bytes.
func WriteEnvelope(w http.ResponseWriter, resp conversion.Response) {
	body, err := resp.Payload()
	if err != nil {
		slog.Error("error decoding response payload", "error", err)
		WriteError(w, CodedErrorf(http.StatusInternalServerError, "error decoding response payload"))
		return
	}

	for key, value := range resp.Headers {
		w.Header().Set(key, value)
	}
	w.WriteHeader(resp.StatusCode)
	if _, err := w.Write(body); err != nil {
		slog.Error("error writing response body", "error", err)
	}
}
