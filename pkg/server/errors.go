package server

import (
	"encoding/json"
	"errors"
	"net/http"

	"go.uber.org/zap"

	"github.com/hed1ad/logids/pkg/classifiers"
	"github.com/hed1ad/logids/pkg/detectors"
	logio "github.com/hed1ad/logids/pkg/io"
	"github.com/hed1ad/logids/pkg/matrix"
	"github.com/hed1ad/logids/pkg/service"
	"github.com/hed1ad/logids/pkg/store"
)

var errPDFUnsupported = errors.New("pdf rendering is not available")

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &maxErr):
		return http.StatusRequestEntityTooLarge
	case logio.IsFormatError(err), errors.Is(err, service.ErrInvalidLabels),
		errors.Is(err, service.ErrNoLabels):
		return http.StatusBadRequest
	case errors.Is(err, classifiers.ErrInsufficientClasses):
		return http.StatusUnprocessableEntity
	case errors.Is(err, detectors.ErrNotTrained), errors.Is(err, matrix.ErrSchemaMismatch):
		return http.StatusConflict
	case errors.Is(err, service.ErrJobNotFound), errors.Is(err, service.ErrNoDataset):
		return http.StatusNotFound
	case errors.Is(err, errPDFUnsupported):
		return http.StatusNotImplemented
	case store.IsStorageError(err):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("encode response", zap.Error(err))
	}
}

func (s *Server) respondError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError && status != http.StatusNotImplemented {
		s.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	s.respondJSON(w, status, map[string]string{"error": err.Error()})
}
