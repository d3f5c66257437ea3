package orchestrator

import (
	"context"
	"fmt"
	"strings"

	"mediagen/internal/domain"
	"mediagen/internal/infra"
)

// DefaultAspectRatio is used when a request names none.
const DefaultAspectRatio = "16:9"

// JobRequest is one prompt to generate.
type JobRequest struct {
	Prompt      string
	AspectRatio string
}

// Status combines the queue view with the number of live pollers.
type Status struct {
	QueueStatus
	ActivePollers int `json:"active_pollers"`
}

// Service is the entry point used by the HTTP API.
type Service struct {
	store     domain.JobStore
	scheduler *Scheduler
	registry  *Registry
	logger    infra.Logger
}

// NewService wires a Service.
func NewService(store domain.JobStore, scheduler *Scheduler, registry *Registry, logger infra.Logger) *Service {
	return &Service{store: store, scheduler: scheduler, registry: registry, logger: infra.Component(logger, "service")}
}

// Submit persists one queued record per request, in order, and enqueues
// them. Records are created before anything is enqueued so a validation
// failure leaves nothing half-scheduled.
func (s *Service) Submit(ctx context.Context, userID string, reqs []JobRequest) ([]*domain.Job, error) {
	if len(reqs) == 0 {
		return nil, fmt.Errorf("%w: at least one prompt is required", domain.ErrInvalidPrompt)
	}
	for i, r := range reqs {
		if strings.TrimSpace(r.Prompt) == "" {
			return nil, fmt.Errorf("%w: prompt %d is empty", domain.ErrInvalidPrompt, i)
		}
		if !validAspectRatio(r.AspectRatio) {
			return nil, fmt.Errorf("%w: unsupported aspect ratio %q", domain.ErrInvalidPrompt, r.AspectRatio)
		}
	}

	jobs := make([]*domain.Job, 0, len(reqs))
	queued := make([]domain.QueuedJob, 0, len(reqs))
	for _, r := range reqs {
		job := &domain.Job{UserID: userID, Prompt: strings.TrimSpace(r.Prompt), AspectRatio: normalizeAspectRatio(r.AspectRatio)}
		if err := s.store.Create(ctx, job); err != nil {
			return nil, err
		}
		jobs = append(jobs, job)
		queued = append(queued, domain.QueuedJobFor(job))
	}
	if err := s.scheduler.Enqueue(queued...); err != nil {
		return nil, err
	}
	s.logger.Info().Str("user_id", userID).Int("jobs", len(jobs)).Msg("service: jobs queued")
	return jobs, nil
}

// Get returns a job owned by userID. Other owners' jobs look missing.
func (s *Service) Get(ctx context.Context, userID, jobID string) (*domain.Job, error) {
	job, err := s.store.Get(ctx, jobID)
	if err != nil {
		return nil, err
	}
	if userID != "" && job.UserID != userID {
		return nil, domain.ErrNotFound
	}
	return job, nil
}

// Regenerate queues a new job with the prompt of a terminal one. The
// original record is left untouched.
func (s *Service) Regenerate(ctx context.Context, userID, jobID string) (*domain.Job, error) {
	prev, err := s.Get(ctx, userID, jobID)
	if err != nil {
		return nil, err
	}
	if !prev.Status.Terminal() {
		return nil, fmt.Errorf("%w: job %s is still %s", domain.ErrInvalidTransition, prev.ID, prev.Status)
	}
	job := &domain.Job{
		UserID:          prev.UserID,
		Prompt:          prev.Prompt,
		AspectRatio:     prev.AspectRatio,
		RegeneratedFrom: prev.ID,
	}
	if err := s.store.Create(ctx, job); err != nil {
		return nil, err
	}
	if err := s.scheduler.Enqueue(domain.QueuedJobFor(job)); err != nil {
		return nil, err
	}
	return job, nil
}

// Status reports queue and poller counts.
func (s *Service) Status() Status {
	st := Status{QueueStatus: s.scheduler.Status()}
	if s.registry != nil {
		st.ActivePollers = s.registry.Active()
	}
	return st
}

func validAspectRatio(ar string) bool {
	switch strings.TrimSpace(ar) {
	case "", "16:9", PortraitAspectRatio:
		return true
	}
	return false
}

func normalizeAspectRatio(ar string) string {
	ar = strings.TrimSpace(ar)
	if ar == "" {
		return DefaultAspectRatio
	}
	return ar
}
