package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/JakeFAU/scrape-tasks/internal/jobs"
	"github.com/JakeFAU/scrape-tasks/internal/scrape"
)

const maxListLimit = 500

type submitRequest struct {
	URL    string `json:"url" validate:"required,url"`
	Method string `json:"method" validate:"omitempty,alpha"`
}

type submitResponse struct {
	JobID string `json:"job_id"`
}

type jobResponse struct {
	ID           string         `json:"id"`
	URL          string         `json:"url"`
	Method       scrape.Method  `json:"method"`
	Status       string         `json:"status"`
	Result       *scrape.Result `json:"result,omitempty"`
	ErrorMessage string         `json:"error_message,omitempty"`
	CreatedAt    time.Time      `json:"created_at"`
	CompletedAt  *time.Time     `json:"completed_at,omitempty"`
}

func toJobResponse(job scrape.Job) jobResponse {
	return jobResponse{
		ID:           job.ID,
		URL:          job.URL,
		Method:       job.Method,
		Status:       string(job.Status),
		Result:       job.Result,
		ErrorMessage: job.ErrorMessage,
		CreatedAt:    job.CreatedAt,
		CompletedAt:  job.CompletedAt,
	}
}

func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON")
		return
	}
	req.URL = strings.TrimSpace(req.URL)
	if err := s.validate.Struct(req); err != nil {
		writeError(w, http.StatusBadRequest, formatValidationErrors(err))
		return
	}
	if req.Method == "" {
		req.Method = string(scrape.MethodHTTP)
	}

	jobID, err := s.jobs.Submit(r.Context(), req.URL, req.Method)
	if err != nil {
		var cfgErr *scrape.ConfigurationError
		if errors.As(err, &cfgErr) || errors.Is(err, jobs.ErrInvalidURL) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		s.logger.Error("submit job failed", zap.String("url", req.URL), zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to submit job")
		return
	}
	writeJSON(w, http.StatusAccepted, submitResponse{JobID: jobID})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	job, err := s.jobs.Status(r.Context(), jobID)
	if err != nil {
		s.writeLookupError(w, jobID, err)
		return
	}
	writeJSON(w, http.StatusOK, toJobResponse(job))
}

func (s *Server) listJobs(w http.ResponseWriter, r *http.Request) {
	filter, err := parseListFilter(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	found, err := s.jobs.List(r.Context(), filter)
	if err != nil {
		s.logger.Error("list jobs failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, "failed to list jobs")
		return
	}
	out := make([]jobResponse, 0, len(found))
	for _, job := range found {
		out = append(out, toJobResponse(job))
	}
	writeJSON(w, http.StatusOK, map[string]any{"jobs": out})
}

func (s *Server) deleteJob(w http.ResponseWriter, r *http.Request) {
	jobID := chi.URLParam(r, "job_id")
	if err := s.jobs.Delete(r.Context(), jobID); err != nil {
		s.writeLookupError(w, jobID, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) writeLookupError(w http.ResponseWriter, jobID string, err error) {
	if errors.Is(err, scrape.ErrNotFound) {
		writeError(w, http.StatusNotFound, scrape.ErrNotFound.Error())
		return
	}
	s.logger.Error("job lookup failed", zap.String("job_id", jobID), zap.Error(err))
	writeError(w, http.StatusInternalServerError, "failed to load job")
}

func parseListFilter(r *http.Request) (scrape.ListFilter, error) {
	q := r.URL.Query()
	filter := scrape.ListFilter{Limit: scrape.DefaultListLimit}
	if raw := strings.TrimSpace(q.Get("status")); raw != "" {
		status := scrape.JobStatus(strings.ToLower(raw))
		if !status.Valid() {
			return filter, errors.New("invalid status")
		}
		filter.Status = &status
	}
	if raw := q.Get("limit"); raw != "" {
		val, err := strconv.Atoi(raw)
		if err != nil || val <= 0 {
			return filter, errors.New("invalid limit")
		}
		filter.Limit = min(val, maxListLimit)
	}
	if raw := q.Get("offset"); raw != "" {
		val, err := strconv.Atoi(raw)
		if err != nil || val < 0 {
			return filter, errors.New("invalid offset")
		}
		filter.Offset = val
	}
	return filter, nil
}

func formatValidationErrors(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		parts = append(parts, fmt.Sprintf("field %q failed on the %q tag", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}
