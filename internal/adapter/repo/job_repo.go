package repo

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"mediagen/internal/domain"
	"mediagen/internal/infra"
	"mediagen/internal/sqlinline"
)

// JobRepository implements domain.JobStore on Postgres.
type JobRepository struct {
	sql infra.SQLExecutor
}

// NewJobRepository creates a job repository over the given executor.
func NewJobRepository(sql infra.SQLExecutor) *JobRepository {
	return &JobRepository{sql: sql}
}

// Create inserts a queued record. The owner's next sequence number is
// assigned by the database and written back into job.
func (r *JobRepository) Create(ctx context.Context, job *domain.Job) error {
	if job == nil {
		return fmt.Errorf("repo: job is required")
	}
	if strings.TrimSpace(job.Prompt) == "" {
		return domain.ErrInvalidPrompt
	}
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	job.Status = domain.JobStatusQueued
	row := r.sql.QueryRow(ctx, sqlinline.QInsertJob, job.ID, job.UserID, job.Prompt, job.AspectRatio, job.RegeneratedFrom)
	if err := row.Scan(&job.Sequence, &job.CreatedAt, &job.UpdatedAt); err != nil {
		return fmt.Errorf("repo: insert job: %w", err)
	}
	return nil
}

// Get fetches a job by id.
func (r *JobRepository) Get(ctx context.Context, jobID string) (*domain.Job, error) {
	if _, err := uuid.Parse(jobID); err != nil {
		return nil, domain.ErrNotFound
	}
	row := r.sql.QueryRow(ctx, sqlinline.QSelectJob, jobID)
	var (
		job    domain.Job
		status string
	)
	if err := row.Scan(
		&job.ID,
		&job.UserID,
		&job.Prompt,
		&job.AspectRatio,
		&job.Sequence,
		&status,
		&job.ArtifactURL,
		&job.ErrorMessage,
		&job.CredentialID,
		&job.OperationName,
		&job.CorrelationID,
		&job.Retried,
		&job.RegeneratedFrom,
		&job.CreatedAt,
		&job.UpdatedAt,
	); err != nil {
		if infra.IsNoRows(err) {
			return nil, domain.ErrNotFound
		}
		return nil, fmt.Errorf("repo: select job: %w", err)
	}
	job.Status = domain.JobStatus(status)
	return &job, nil
}

// UpdateStatus moves a job forward. Transitions out of a terminal state, or
// backwards, match no row and return domain.ErrInvalidTransition.
func (r *JobRepository) UpdateStatus(ctx context.Context, jobID string, status domain.JobStatus, update domain.StatusUpdate) error {
	from := domain.PredecessorsOf(status)
	if len(from) == 0 {
		return fmt.Errorf("%w: nothing moves to %s", domain.ErrInvalidTransition, status)
	}
	allowed := make([]string, len(from))
	for i, s := range from {
		allowed[i] = string(s)
	}
	tag, err := r.sql.Exec(ctx, sqlinline.QUpdateJobStatus,
		jobID,
		string(status),
		update.ArtifactURL,
		update.ErrorMessage,
		update.CredentialID,
		allowed,
	)
	if err != nil {
		return fmt.Errorf("repo: update job status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: job %s to %s", domain.ErrInvalidTransition, jobID, status)
	}
	return nil
}

// RecordSubmission stores the credential and operation tracking a job.
func (r *JobRepository) RecordSubmission(ctx context.Context, jobID string, sub domain.Submission) error {
	tag, err := r.sql.Exec(ctx, sqlinline.QRecordJobSubmission,
		jobID,
		sub.CredentialID,
		sub.OperationName,
		sub.CorrelationID,
		sub.Retried,
	)
	if err != nil {
		return fmt.Errorf("repo: record submission: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: job %s is terminal or missing", domain.ErrInvalidTransition, jobID)
	}
	return nil
}

// FailStaleQueued fails every queued job created before the cutoff.
func (r *JobRepository) FailStaleQueued(ctx context.Context, before time.Time, reason string) (int64, error) {
	tag, err := r.sql.Exec(ctx, sqlinline.QFailStaleQueuedJobs, before, reason)
	if err != nil {
		return 0, fmt.Errorf("repo: fail stale jobs: %w", err)
	}
	return tag.RowsAffected(), nil
}

var _ domain.JobStore = (*JobRepository)(nil)
