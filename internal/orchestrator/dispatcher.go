package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"mediagen/internal/domain"
	"mediagen/internal/infra"
)

// Dispatcher moves one queued job to processing and hands it to a poller.
type Dispatcher struct {
	store     domain.JobStore
	governor  CredentialGovernor
	submitter *Submitter
	poller    *Poller
	registry  *Registry
	static    *domain.Credential
	logger    infra.Logger
}

// NewDispatcher wires a Dispatcher. staticKey is the optional fallback
// credential used when the pool has nothing eligible.
func NewDispatcher(store domain.JobStore, governor CredentialGovernor, submitter *Submitter, poller *Poller, registry *Registry, staticKey string, logger infra.Logger) *Dispatcher {
	d := &Dispatcher{
		store:     store,
		governor:  governor,
		submitter: submitter,
		poller:    poller,
		registry:  registry,
		logger:    infra.Component(logger, "dispatcher"),
	}
	if staticKey != "" {
		d.static = &domain.Credential{ID: domain.StaticCredentialID, Label: "static", Secret: staticKey, Active: true}
	}
	return d
}

// Dispatch submits job and starts its poller. Failures are written to the
// job record and returned; records that are no longer queued are skipped.
func (d *Dispatcher) Dispatch(ctx context.Context, job domain.QueuedJob) error {
	log := d.logger.With().Str("job_id", job.JobID).Logger()

	rec, err := d.store.Get(ctx, job.JobID)
	if err != nil {
		return fmt.Errorf("dispatch: load job: %w", err)
	}
	if rec.Status != domain.JobStatusQueued {
		log.Info().Str("status", string(rec.Status)).Msg("dispatcher: job no longer queued, skipping")
		return nil
	}
	if err := d.store.UpdateStatus(ctx, job.JobID, domain.JobStatusPending, domain.StatusUpdate{}); err != nil {
		if errors.Is(err, domain.ErrInvalidTransition) {
			log.Info().Msg("dispatcher: job left queued concurrently, skipping")
			return nil
		}
		return fmt.Errorf("dispatch: mark pending: %w", err)
	}

	cred, ok := d.pick()
	if !ok {
		err := domain.ErrNoCredentialAvailable
		d.fail(ctx, log, job.JobID, err)
		return err
	}

	sub, err := d.submitter.Submit(ctx, job, cred)
	if err != nil {
		if domain.CountsAgainstCredential(err) {
			d.governor.RecordError(cred.ID)
		}
		d.fail(ctx, log, job.JobID, err)
		return err
	}

	if err := d.store.UpdateStatus(ctx, job.JobID, domain.JobStatusProcessing, domain.StatusUpdate{CredentialID: cred.ID}); err != nil {
		log.Error().Err(err).Msg("dispatcher: mark processing failed")
	}
	if err := d.store.RecordSubmission(ctx, job.JobID, domain.Submission{
		CredentialID:  cred.ID,
		OperationName: sub.OperationName,
		CorrelationID: sub.CorrelationID,
	}); err != nil {
		log.Error().Err(err).Msg("dispatcher: record submission failed")
	}

	tracked := Tracked{
		Job:           job,
		Credential:    cred,
		OperationName: sub.OperationName,
		CorrelationID: sub.CorrelationID,
	}
	if !d.registry.Go(job.JobID, func(ctx context.Context) {
		d.poller.Run(ctx, tracked)
	}) {
		log.Warn().Msg("dispatcher: poller not started")
	}
	return nil
}

func (d *Dispatcher) pick() (domain.Credential, bool) {
	if cred, ok := d.governor.Select(); ok {
		return cred, true
	}
	if d.static != nil {
		return *d.static, true
	}
	return domain.Credential{}, false
}

func (d *Dispatcher) fail(ctx context.Context, log infra.Logger, jobID string, cause error) {
	log.Warn().Err(cause).Msg("dispatcher: job failed")
	if err := failJob(ctx, d.store, jobID, cause.Error()); err != nil {
		log.Error().Err(err).Msg("dispatcher: record failure error")
	}
}
