// Package orchestrator drives generation jobs from the in-memory queue to a
// terminal record: batched dispatch, submission, supervised polling with a
// single credential-switch retry, and one-time artifact persistence.
//
// All state is process-local. Running two orchestrators against the same
// database would double-dispatch queued jobs.
package orchestrator

import (
	"context"
	"time"

	"mediagen/internal/domain"
	"mediagen/internal/providers/veo"
)

// Provider is the generation API.
type Provider interface {
	Submit(ctx context.Context, req veo.SubmitRequest) (veo.Operation, error)
	Poll(ctx context.Context, req veo.PollRequest) (veo.PollResult, error)
	ArtifactDownloadURL(uri, apiKey string) (string, error)
}

// CredentialGovernor picks credentials and tracks their health.
type CredentialGovernor interface {
	Select() (domain.Credential, bool)
	SelectExcluding(id string) (domain.Credential, bool)
	RecordUsage(id string)
	RecordError(id string) int
}

// ArtifactPersister copies a temporary artifact to durable storage.
type ArtifactPersister interface {
	Persist(ctx context.Context, key, sourceURL string) (string, error)
}

// SleepFunc waits for d or until ctx is done.
type SleepFunc func(ctx context.Context, d time.Duration) error

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func failJob(ctx context.Context, store domain.JobStore, jobID, message string) error {
	return store.UpdateStatus(ctx, jobID, domain.JobStatusFailed, domain.StatusUpdate{ErrorMessage: message})
}
