package orchestrator

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"mediagen/internal/domain"
	"mediagen/internal/infra"
)

// ErrSchedulerClosed is returned by Enqueue after Close.
var ErrSchedulerClosed = errors.New("orchestrator: scheduler closed")

const (
	DefaultJobsPerBatch    = 5
	DefaultInterBatchDelay = 20 * time.Second
)

// DispatchFunc starts one queued job.
type DispatchFunc func(ctx context.Context, job domain.QueuedJob) error

// QueueStatus is a point-in-time view of the scheduler.
type QueueStatus struct {
	QueueLength       int  `json:"queue_length"`
	IsProcessingBatch bool `json:"is_processing_batch"`
}

// Scheduler holds queued jobs in memory and releases them in paced batches.
// At most one processing loop runs at a time.
type Scheduler struct {
	ctx      context.Context
	settings domain.SettingsSource
	dispatch DispatchFunc
	defaults domain.BatchSettings
	sleep    SleepFunc
	logger   infra.Logger

	mu         sync.Mutex
	queue      []domain.QueuedJob
	processing bool
	closed     bool
	wg         sync.WaitGroup
}

// SchedulerOption customizes a Scheduler.
type SchedulerOption func(*Scheduler)

// WithSchedulerSleep replaces the inter-batch wait.
func WithSchedulerSleep(fn SleepFunc) SchedulerOption {
	return func(s *Scheduler) { s.sleep = fn }
}

// WithDefaults replaces the pacing used when settings are missing or invalid.
func WithDefaults(b domain.BatchSettings) SchedulerOption {
	return func(s *Scheduler) {
		if b.JobsPerBatch > 0 {
			s.defaults.JobsPerBatch = b.JobsPerBatch
		}
		if b.InterBatchDelaySeconds > 0 {
			s.defaults.InterBatchDelaySeconds = b.InterBatchDelaySeconds
		}
	}
}

// WithSchedulerLogger sets the logger.
func WithSchedulerLogger(l infra.Logger) SchedulerOption {
	return func(s *Scheduler) { s.logger = infra.Component(l, "scheduler") }
}

// NewScheduler builds an idle scheduler. The loop runs with ctx, so
// cancelling it stops dispatch after the current batch.
func NewScheduler(ctx context.Context, settings domain.SettingsSource, dispatch DispatchFunc, opts ...SchedulerOption) *Scheduler {
	s := &Scheduler{
		ctx:      ctx,
		settings: settings,
		dispatch: dispatch,
		defaults: domain.BatchSettings{
			JobsPerBatch:           DefaultJobsPerBatch,
			InterBatchDelaySeconds: int(DefaultInterBatchDelay / time.Second),
		},
		sleep:  sleepContext,
		logger: infra.Component(infra.NopLogger(), "scheduler"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Enqueue appends jobs in order and starts the loop if it is idle.
func (s *Scheduler) Enqueue(jobs ...domain.QueuedJob) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrSchedulerClosed
	}
	s.queue = append(s.queue, jobs...)
	if !s.processing && len(s.queue) > 0 {
		s.processing = true
		s.wg.Add(1)
		go s.run()
	}
	return nil
}

// Status reports the queue length and whether a loop is active.
func (s *Scheduler) Status() QueueStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return QueueStatus{QueueLength: len(s.queue), IsProcessingBatch: s.processing}
}

// Wait blocks until the loop goes idle.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

// Close rejects further Enqueue calls. Queued jobs stay queued in the store.
func (s *Scheduler) Close() {
	s.mu.Lock()
	s.closed = true
	s.mu.Unlock()
}

func (s *Scheduler) run() {
	defer s.wg.Done()
	for round := 1; ; round++ {
		settings := s.batchSettings()
		batch := s.take(settings.JobsPerBatch)
		if len(batch) == 0 {
			return
		}
		s.logger.Info().
			Int("round", round).
			Int("batch_size", len(batch)).
			Msg("scheduler: dispatching batch")
		s.dispatchBatch(batch)

		if s.Status().QueueLength == 0 {
			continue
		}
		if err := s.sleep(s.ctx, settings.InterBatchDelay()); err != nil {
			s.stop()
			s.logger.Info().Msg("scheduler: stopped")
			return
		}
	}
}

// take removes up to n jobs. When the queue is empty it marks the loop idle
// under the same lock, so a concurrent Enqueue either lands in this round
// or starts a new loop.
func (s *Scheduler) take(n int) []domain.QueuedJob {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.queue) == 0 || s.ctx.Err() != nil {
		s.processing = false
		return nil
	}
	if n > len(s.queue) {
		n = len(s.queue)
	}
	batch := make([]domain.QueuedJob, n)
	copy(batch, s.queue[:n])
	s.queue = s.queue[n:]
	return batch
}

func (s *Scheduler) stop() {
	s.mu.Lock()
	s.processing = false
	s.mu.Unlock()
}

func (s *Scheduler) dispatchBatch(batch []domain.QueuedJob) {
	var g errgroup.Group
	for _, job := range batch {
		job := job
		g.Go(func() error {
			if err := s.dispatch(s.ctx, job); err != nil {
				s.logger.Warn().Err(err).Str("job_id", job.JobID).Msg("scheduler: dispatch failed")
			}
			return nil
		})
	}
	_ = g.Wait()
}

func (s *Scheduler) batchSettings() domain.BatchSettings {
	out := s.defaults
	if s.settings == nil {
		return out
	}
	b, err := s.settings.BatchSettings(s.ctx)
	if err != nil {
		s.logger.Warn().Err(err).Msg("scheduler: settings unavailable, using defaults")
		return out
	}
	if b.JobsPerBatch > 0 {
		out.JobsPerBatch = b.JobsPerBatch
	}
	if b.InterBatchDelaySeconds > 0 {
		out.InterBatchDelaySeconds = b.InterBatchDelaySeconds
	}
	return out
}
