package domain

import (
	"context"
	"time"
)

// JobStore persists job records. Implementations must refuse transitions
// that CanTransition rejects.
type JobStore interface {
	Create(ctx context.Context, job *Job) error
	Get(ctx context.Context, jobID string) (*Job, error)
	UpdateStatus(ctx context.Context, jobID string, status JobStatus, update StatusUpdate) error
	RecordSubmission(ctx context.Context, jobID string, sub Submission) error
	FailStaleQueued(ctx context.Context, before time.Time, reason string) (int64, error)
}

// CredentialStore loads and updates pool credentials.
type CredentialStore interface {
	ListActive(ctx context.Context) ([]Credential, error)
	MarkUsed(ctx context.Context, credentialID string, at time.Time) error
}

// SettingsSource provides scheduler pacing.
type SettingsSource interface {
	BatchSettings(ctx context.Context) (BatchSettings, error)
}
