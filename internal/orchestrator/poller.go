package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"mediagen/internal/domain"
	"mediagen/internal/infra"
	"mediagen/internal/observability"
	"mediagen/internal/providers/veo"
	"mediagen/internal/upload"
)

const invalidCredentialMessage = "invalid credential"

// PollerConfig bounds a poller's lifetime.
type PollerConfig struct {
	Interval     time.Duration
	MaxAttempts  int
	RetryAttempt int
}

// DefaultPollerConfig polls every 2s for four minutes and switches
// credential once at the halfway mark.
func DefaultPollerConfig() PollerConfig {
	return PollerConfig{Interval: 2 * time.Second, MaxAttempts: 120, RetryAttempt: 60}
}

// Tracked is the poller's view of a submitted job. The operation and
// credential change at most once, when the stall retry fires.
type Tracked struct {
	Job           domain.QueuedJob
	Credential    domain.Credential
	OperationName string
	CorrelationID string
	Retried       bool
}

// Poller drives one submitted job to a terminal record.
type Poller struct {
	provider  Provider
	governor  CredentialGovernor
	submitter *Submitter
	store     domain.JobStore
	persister ArtifactPersister
	uploads   *upload.Memoizer[string]
	cfg       PollerConfig
	sleep     SleepFunc
	logger    infra.Logger
}

// PollerOption customizes a Poller.
type PollerOption func(*Poller)

// WithSleep replaces the wait between polls.
func WithSleep(fn SleepFunc) PollerOption {
	return func(p *Poller) { p.sleep = fn }
}

// NewPoller builds a Poller. Uploads are deduplicated through uploads.
func NewPoller(provider Provider, governor CredentialGovernor, submitter *Submitter, store domain.JobStore, persister ArtifactPersister, uploads *upload.Memoizer[string], cfg PollerConfig, logger infra.Logger, opts ...PollerOption) *Poller {
	def := DefaultPollerConfig()
	if cfg.Interval <= 0 {
		cfg.Interval = def.Interval
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = def.MaxAttempts
	}
	if cfg.RetryAttempt <= 0 || cfg.RetryAttempt >= cfg.MaxAttempts {
		cfg.RetryAttempt = cfg.MaxAttempts / 2
	}
	p := &Poller{
		provider:  provider,
		governor:  governor,
		submitter: submitter,
		store:     store,
		persister: persister,
		uploads:   uploads,
		cfg:       cfg,
		sleep:     sleepContext,
		logger:    infra.Component(logger, "poller"),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Run polls until the job completes, fails, or ctx is cancelled. It returns
// the terminal status written, or an empty status when ctx ended first.
func (p *Poller) Run(ctx context.Context, t Tracked) domain.JobStatus {
	log := p.logger.With().Str("job_id", t.Job.JobID).Logger()
	ctx, span := observability.StartSpan(ctx, "orchestrator.poll", attribute.String("job.id", t.Job.JobID))
	defer span.End()

	for attempt := 1; attempt <= p.cfg.MaxAttempts; attempt++ {
		if err := p.sleep(ctx, p.cfg.Interval); err != nil {
			log.Info().Int("attempt", attempt).Msg("poller: stopped before completion")
			return ""
		}
		if attempt == p.cfg.RetryAttempt && !t.Retried {
			p.retry(ctx, log, &t)
		}

		res, err := p.provider.Poll(ctx, veo.PollRequest{
			OperationName: t.OperationName,
			CorrelationID: t.CorrelationID,
			APIKey:        t.Credential.Secret,
		})
		if err != nil {
			if errors.Is(err, domain.ErrInvalidCredentialResponse) {
				p.governor.RecordError(t.Credential.ID)
				log.Warn().Err(err).Str("credential_id", t.Credential.ID).Msg("poller: credential rejected")
				return p.fail(ctx, log, t.Job.JobID, invalidCredentialMessage)
			}
			if ctx.Err() != nil {
				return ""
			}
			log.Warn().Err(err).Int("attempt", attempt).Msg("poller: transient poll error")
			continue
		}

		switch res.Status {
		case veo.StatusPending:
			continue
		case veo.StatusFailed:
			p.governor.RecordError(t.Credential.ID)
			msg := res.ErrorMessage
			if msg == "" {
				msg = domain.ErrUpstream.Error()
			}
			return p.fail(ctx, log, t.Job.JobID, msg)
		case veo.StatusComplete:
			if res.ArtifactURL == "" {
				return p.fail(ctx, log, t.Job.JobID, fmt.Errorf("%w: no artifact", domain.ErrUpstream).Error())
			}
			return p.complete(ctx, log, t, res.ArtifactURL)
		default:
			log.Warn().Str("status", string(res.Status)).Msg("poller: unknown status")
		}
	}
	err := fmt.Errorf("%w: no result after %d polls", domain.ErrPollTimeout, p.cfg.MaxAttempts)
	return p.fail(ctx, log, t.Job.JobID, err.Error())
}

// retry charges the stalled credential with an error and resubmits on a
// different one. The job is marked retried whether or not a replacement
// was found, so a job switches credential at most once.
func (p *Poller) retry(ctx context.Context, log infra.Logger, t *Tracked) {
	t.Retried = true
	p.governor.RecordError(t.Credential.ID)

	next, ok := p.governor.SelectExcluding(t.Credential.ID)
	if !ok {
		log.Warn().Str("credential_id", t.Credential.ID).Msg("poller: stalled, no alternate credential")
		p.recordSubmission(ctx, log, t)
		return
	}
	sub, err := p.submitter.Submit(ctx, t.Job, next)
	if err != nil {
		if domain.CountsAgainstCredential(err) {
			p.governor.RecordError(next.ID)
		}
		log.Warn().Err(err).Str("credential_id", next.ID).Msg("poller: retry submission failed, keeping original operation")
		p.recordSubmission(ctx, log, t)
		return
	}
	log.Info().
		Str("from_credential", t.Credential.ID).
		Str("to_credential", next.ID).
		Str("operation", sub.OperationName).
		Msg("poller: stalled job resubmitted")
	t.Credential = next
	t.OperationName = sub.OperationName
	t.CorrelationID = sub.CorrelationID
	p.recordSubmission(ctx, log, t)
}

func (p *Poller) recordSubmission(ctx context.Context, log infra.Logger, t *Tracked) {
	err := p.store.RecordSubmission(ctx, t.Job.JobID, domain.Submission{
		CredentialID:  t.Credential.ID,
		OperationName: t.OperationName,
		CorrelationID: t.CorrelationID,
		Retried:       t.Retried,
	})
	if err != nil {
		log.Error().Err(err).Msg("poller: record submission failed")
	}
}

func (p *Poller) complete(ctx context.Context, log infra.Logger, t Tracked, artifactURL string) domain.JobStatus {
	durable, err := p.uploads.GetOrCreate(ctx, t.Job.JobID, func(ctx context.Context) (string, error) {
		ctx, span := observability.StartSpan(ctx, "orchestrator.persist", attribute.String("job.id", t.Job.JobID))
		defer span.End()
		src, err := p.provider.ArtifactDownloadURL(artifactURL, t.Credential.Secret)
		if err != nil {
			return "", err
		}
		return p.persister.Persist(ctx, ArtifactKey(t.Job), src)
	})
	if err != nil {
		cause := fmt.Errorf("%w: %v", domain.ErrUploadFailure, err)
		return p.fail(ctx, log, t.Job.JobID, cause.Error())
	}
	if err := p.store.UpdateStatus(ctx, t.Job.JobID, domain.JobStatusCompleted, domain.StatusUpdate{ArtifactURL: durable}); err != nil {
		log.Error().Err(err).Msg("poller: mark completed failed")
	}
	log.Info().Str("artifact_url", durable).Msg("poller: job completed")
	return domain.JobStatusCompleted
}

func (p *Poller) fail(ctx context.Context, log infra.Logger, jobID, message string) domain.JobStatus {
	log.Warn().Str("reason", message).Msg("poller: job failed")
	if err := failJob(ctx, p.store, jobID, message); err != nil {
		log.Error().Err(err).Msg("poller: record failure error")
	}
	return domain.JobStatusFailed
}

// ArtifactKey is the storage key for a job's video.
func ArtifactKey(job domain.QueuedJob) string {
	owner := job.UserID
	if owner == "" {
		owner = "anonymous"
	}
	return fmt.Sprintf("videos/%s/%s.mp4", owner, job.JobID)
}
