package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"mediagen/internal/domain"
	"mediagen/internal/orchestrator"
)

const maxJobsPerRequest = 50

type jobInput struct {
	Prompt      string `json:"prompt"`
	AspectRatio string `json:"aspect_ratio"`
}

// createJobsRequest accepts either a single prompt or a list of jobs.
type createJobsRequest struct {
	jobInput
	Jobs []jobInput `json:"jobs"`
}

type jobDTO struct {
	ID              string    `json:"id"`
	Status          string    `json:"status"`
	Prompt          string    `json:"prompt"`
	AspectRatio     string    `json:"aspect_ratio"`
	Sequence        int       `json:"sequence"`
	ArtifactURL     string    `json:"artifact_url,omitempty"`
	ErrorMessage    string    `json:"error_message,omitempty"`
	Retried         bool      `json:"retried"`
	RegeneratedFrom string    `json:"regenerated_from,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	UpdatedAt       time.Time `json:"updated_at"`
}

func toJobDTO(j *domain.Job) jobDTO {
	return jobDTO{
		ID:              j.ID,
		Status:          string(j.Status),
		Prompt:          j.Prompt,
		AspectRatio:     j.AspectRatio,
		Sequence:        j.Sequence,
		ArtifactURL:     j.ArtifactURL,
		ErrorMessage:    j.ErrorMessage,
		Retried:         j.Retried,
		RegeneratedFrom: j.RegeneratedFrom,
		CreatedAt:       j.CreatedAt,
		UpdatedAt:       j.UpdatedAt,
	}
}

func (a *App) CreateJobs(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, r, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	var req createJobsRequest
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, 1<<20)).Decode(&req); err != nil {
		a.error(w, r, http.StatusBadRequest, "bad_request", "invalid payload")
		return
	}
	inputs := req.Jobs
	if len(inputs) == 0 && req.Prompt != "" {
		inputs = []jobInput{req.jobInput}
	}
	if len(inputs) > maxJobsPerRequest {
		a.error(w, r, http.StatusBadRequest, "bad_request", "too many jobs in one request")
		return
	}
	reqs := make([]orchestrator.JobRequest, len(inputs))
	for i, in := range inputs {
		reqs[i] = orchestrator.JobRequest{Prompt: in.Prompt, AspectRatio: in.AspectRatio}
	}

	jobs, err := a.Jobs.Submit(r.Context(), userID, reqs)
	if err != nil {
		a.serviceError(w, r, err)
		return
	}
	out := make([]jobDTO, len(jobs))
	for i, j := range jobs {
		out[i] = toJobDTO(j)
	}
	a.json(w, http.StatusAccepted, map[string]any{"jobs": out})
}

func (a *App) GetJob(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, r, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	job, err := a.Jobs.Get(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		a.serviceError(w, r, err)
		return
	}
	a.json(w, http.StatusOK, toJobDTO(job))
}

func (a *App) RegenerateJob(w http.ResponseWriter, r *http.Request) {
	userID := a.currentUserID(r)
	if userID == "" {
		a.error(w, r, http.StatusUnauthorized, "unauthorized", "missing user context")
		return
	}
	job, err := a.Jobs.Regenerate(r.Context(), userID, chi.URLParam(r, "id"))
	if err != nil {
		a.serviceError(w, r, err)
		return
	}
	a.json(w, http.StatusAccepted, toJobDTO(job))
}

func (a *App) QueueStatus(w http.ResponseWriter, r *http.Request) {
	a.json(w, http.StatusOK, a.Jobs.Status())
}

func (a *App) serviceError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, domain.ErrNotFound):
		a.error(w, r, http.StatusNotFound, "not_found", "job not found")
	case errors.Is(err, domain.ErrInvalidTransition):
		a.error(w, r, http.StatusConflict, "conflict", err.Error())
	case errors.Is(err, domain.ErrInvalidPrompt):
		a.error(w, r, http.StatusBadRequest, "bad_request", err.Error())
	case errors.Is(err, orchestrator.ErrSchedulerClosed):
		a.error(w, r, http.StatusServiceUnavailable, "unavailable", "shutting down")
	default:
		a.Logger.Error().Err(err).Str("path", r.URL.Path).Msg("http: request failed")
		a.error(w, r, http.StatusInternalServerError, "internal", "internal error")
	}
}
