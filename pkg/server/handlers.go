package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hed1ad/logids/pkg/pipeline"
	"github.com/hed1ad/logids/pkg/service"
)

// Training modes accepted by POST /train.
const (
	ModeUnsupervised = "unsupervised"
	ModeSupervised   = "supervised"
)

// readUpload returns the named multipart file, or the raw body when the
// request is not multipart.
func (s *Server) readUpload(w http.ResponseWriter, r *http.Request, field string) ([]byte, bool, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)

	if err := r.ParseMultipartForm(32 << 20); err != nil {
		if errors.Is(err, http.ErrNotMultipart) {
			data, err := io.ReadAll(r.Body)
			return data, len(data) > 0, err
		}
		return nil, false, err
	}

	f, _, err := r.FormFile(field)
	if errors.Is(err, http.ErrMissingFile) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, err
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	return data, true, err
}

func (s *Server) handleIngest(w http.ResponseWriter, r *http.Request) {
	data, ok, err := s.readUpload(w, r, "file")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if !ok {
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "no log file provided"})
		return
	}

	res, err := s.svc.Ingest(r.Context(), data)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, res)
}

func (s *Server) handleLabels(w http.ResponseWriter, r *http.Request) {
	data, ok, err := s.readUpload(w, r, "file")
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	if !ok {
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": "no label file provided"})
		return
	}

	n, err := s.svc.IngestLabels(r.Context(), bytes.NewReader(data))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"status": "ok", "labels": n})
}

func (s *Server) handleTrain(w http.ResponseWriter, r *http.Request) {
	mode := r.URL.Query().Get("mode")
	if mode == "" {
		mode = ModeUnsupervised
	}

	var fn service.TrainFunc
	switch mode {
	case ModeUnsupervised:
		fn = s.svc.TrainUnsupervised
	case ModeSupervised, "semi":
		mode = ModeSupervised
		data, ok, err := s.readUpload(w, r, "labels")
		if err != nil {
			s.respondError(w, r, err)
			return
		}
		if ok {
			if _, err := s.svc.IngestLabels(r.Context(), bytes.NewReader(data)); err != nil {
				s.respondError(w, r, err)
				return
			}
		}
		if _, err := s.svc.Labels(r.Context()); err != nil {
			s.respondError(w, r, err)
			return
		}
		fn = func(ctx context.Context) (pipeline.TrainResult, error) {
			return s.svc.TrainSupervised(ctx, nil)
		}
	default:
		s.respondJSON(w, http.StatusBadRequest, map[string]string{
			"error": fmt.Sprintf("unknown mode %q", mode),
		})
		return
	}

	if _, err := s.svc.LatestDataset(r.Context()); err != nil {
		s.respondError(w, r, err)
		return
	}

	job := s.svc.Jobs().Submit(mode, fn)
	s.logger.Info("training job submitted", zap.String("job", job.ID), zap.String("mode", mode))
	s.respondJSON(w, http.StatusAccepted, map[string]any{"job": job})
}

func (s *Server) handleListJobs(w http.ResponseWriter, r *http.Request) {
	jobs := s.svc.Jobs().List()
	s.respondJSON(w, http.StatusOK, map[string]any{
		"jobs":  jobs,
		"count": len(jobs),
	})
}

func (s *Server) handleGetJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.svc.Jobs().Get(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, job)
}

func (s *Server) handleCancelJob(w http.ResponseWriter, r *http.Request) {
	job, err := s.svc.Jobs().Cancel(chi.URLParam(r, "id"))
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, job)
}

// alertQuery reads the limit, ip and supervised parameters.
func alertQuery(r *http.Request) (service.AlertQuery, error) {
	q := service.AlertQuery{
		IP:    r.URL.Query().Get("ip"),
		Limit: service.DefaultAlertLimit,
	}
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			return q, fmt.Errorf("invalid limit %q", v)
		}
		q.Limit = n
	}
	if v := r.URL.Query().Get("supervised"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return q, fmt.Errorf("invalid supervised flag %q", v)
		}
		q.Supervised = b
	}
	return q, nil
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	q, err := alertQuery(r)
	if err != nil {
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	rows, err := s.svc.Alerts(r.Context(), q)
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, rows)
}

func (s *Server) handleAlertsCSV(w http.ResponseWriter, r *http.Request) {
	q, err := alertQuery(r)
	if err != nil {
		s.respondJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	var buf bytes.Buffer
	if err := s.svc.ExportAlerts(r.Context(), q, &buf); err != nil {
		s.respondError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename="alerts.csv"`)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(buf.Bytes())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	models, err := s.svc.Artifacts(r.Context())
	if err != nil {
		s.respondError(w, r, err)
		return
	}
	s.respondJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"models": models,
	})
}
