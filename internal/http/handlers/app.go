package handlers

import (
	"context"
	"encoding/json"
	"net/http"

	"mediagen/internal/domain"
	"mediagen/internal/infra"
	"mediagen/internal/middleware"
	"mediagen/internal/orchestrator"
)

// JobService is the orchestrator surface the API needs.
type JobService interface {
	Submit(ctx context.Context, userID string, reqs []orchestrator.JobRequest) ([]*domain.Job, error)
	Get(ctx context.Context, userID, jobID string) (*domain.Job, error)
	Regenerate(ctx context.Context, userID, jobID string) (*domain.Job, error)
	Status() orchestrator.Status
}

// Pinger reports dependency health.
type Pinger interface {
	Ping(ctx context.Context) error
}

type App struct {
	Jobs   JobService
	DB     Pinger
	Logger infra.Logger
}

func NewApp(jobs JobService, db Pinger, logger infra.Logger) *App {
	return &App{Jobs: jobs, DB: db, Logger: infra.Component(logger, "http")}
}

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	RequestID string `json:"request_id,omitempty"`
}

func (a *App) json(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func (a *App) error(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	a.json(w, status, errorBody{Error: errorDetail{
		Code:      code,
		Message:   message,
		RequestID: middleware.RequestIDFromContext(r.Context()),
	}})
}

func (a *App) currentUserID(r *http.Request) string {
	return middleware.UserIDFromContext(r.Context())
}
