package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"mediagen/internal/domain"
	"mediagen/internal/infra"
	"mediagen/internal/providers/veo"
	"mediagen/internal/upload"
)

func completeWith(uri string) veo.PollResult {
	return veo.PollResult{Status: veo.StatusComplete, ArtifactURL: uri}
}

func TestJobCompletesAndPersistsOnce(t *testing.T) {
	h := newHarness(pendingThen("op-1", 3, completeWith("https://tmp/v.mp4")), "", cred("a"))
	job := h.queue("u1", "a red fox")

	if err := h.dispatcher.Dispatch(context.Background(), job); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	h.registry.Wait()

	rec := h.store.mustGet(job.JobID)
	if rec.Status != domain.JobStatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", rec.Status, rec.ErrorMessage)
	}
	want := "https://durable.example/videos/u1/" + job.JobID + ".mp4"
	if rec.ArtifactURL != want {
		t.Fatalf("artifact url %q want %q", rec.ArtifactURL, want)
	}
	if rec.CredentialID != "a" || rec.OperationName != "op-1" || rec.CorrelationID == "" {
		t.Fatalf("unexpected submission fields %+v", rec)
	}
	if h.persister.calls() != 1 {
		t.Fatalf("expected one persist, got %d", h.persister.calls())
	}
	if h.persister.sources[0] != "https://tmp/v.mp4?key=secret-a" {
		t.Fatalf("unexpected source %q", h.persister.sources[0])
	}
}

func TestStalledJobSwitchesCredentialOnce(t *testing.T) {
	// op-1 never finishes; the replacement op-2 finishes on its third poll.
	h := newHarness(pendingThen("op-2", 3, completeWith("https://tmp/v.mp4")), "", cred("a"), cred("b"))
	job := h.queue("u1", "slow prompt")

	if err := h.dispatcher.Dispatch(context.Background(), job); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	h.registry.Wait()

	rec := h.store.mustGet(job.JobID)
	if rec.Status != domain.JobStatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", rec.Status, rec.ErrorMessage)
	}
	if !rec.Retried {
		t.Fatalf("expected retried flag")
	}
	if rec.CredentialID != "b" || rec.OperationName != "op-2" {
		t.Fatalf("expected credential b / op-2, got %s / %s", rec.CredentialID, rec.OperationName)
	}
	if got := h.provider.pollCount("op-1"); got != 59 {
		t.Fatalf("expected 59 polls of op-1 before the switch, got %d", got)
	}
	if h.provider.submitCount() != 2 {
		t.Fatalf("expected exactly one resubmission, got %d submits", h.provider.submitCount())
	}
	if got := h.governor.ErrorCount("a"); got != 1 {
		t.Fatalf("expected one error on stalled credential, got %d", got)
	}
	if h.provider.submits[0].CorrelationID == h.provider.submits[1].CorrelationID {
		t.Fatalf("resubmission must use a new correlation id")
	}
	if h.persister.sources[0] != "https://tmp/v.mp4?key=secret-b" {
		t.Fatalf("artifact should be fetched with the new credential, got %q", h.persister.sources[0])
	}
}

func TestStalledJobRetriesAtMostOnceThenTimesOut(t *testing.T) {
	h := newHarness(nil, "", cred("a"), cred("b"))
	job := h.queue("u1", "never finishes")

	if err := h.dispatcher.Dispatch(context.Background(), job); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	h.registry.Wait()

	rec := h.store.mustGet(job.JobID)
	if rec.Status != domain.JobStatusFailed {
		t.Fatalf("expected failed, got %s", rec.Status)
	}
	if !strings.HasPrefix(rec.ErrorMessage, domain.ErrPollTimeout.Error()) {
		t.Fatalf("expected poll timeout message, got %q", rec.ErrorMessage)
	}
	if h.provider.submitCount() != 2 {
		t.Fatalf("expected a single retry, got %d submits", h.provider.submitCount())
	}
	total := h.provider.pollCount("op-1") + h.provider.pollCount("op-2")
	if total != 120 {
		t.Fatalf("expected 120 polls in total, got %d", total)
	}
}

func TestStalledJobWithoutAlternateKeepsPolling(t *testing.T) {
	h := newHarness(pendingThen("op-1", 70, completeWith("https://tmp/v.mp4")), "", cred("a"))
	job := h.queue("u1", "only one key")

	if err := h.dispatcher.Dispatch(context.Background(), job); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	h.registry.Wait()

	rec := h.store.mustGet(job.JobID)
	if rec.Status != domain.JobStatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", rec.Status, rec.ErrorMessage)
	}
	if !rec.Retried || rec.CredentialID != "a" || rec.OperationName != "op-1" {
		t.Fatalf("unexpected record %+v", rec)
	}
	if h.provider.submitCount() != 1 {
		t.Fatalf("expected no resubmission, got %d submits", h.provider.submitCount())
	}
}

func TestInvalidCredentialResponseFailsImmediately(t *testing.T) {
	poll := func(req veo.PollRequest, n int) (veo.PollResult, error) {
		return veo.PollResult{}, fmt.Errorf("%w: content type %q", domain.ErrInvalidCredentialResponse, "text/html")
	}
	h := newHarness(poll, "", cred("a"))
	job := h.queue("u1", "html please")

	if err := h.dispatcher.Dispatch(context.Background(), job); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	h.registry.Wait()

	rec := h.store.mustGet(job.JobID)
	if rec.Status != domain.JobStatusFailed || rec.ErrorMessage != "invalid credential" {
		t.Fatalf("expected failed/invalid credential, got %s/%q", rec.Status, rec.ErrorMessage)
	}
	if h.governor.ErrorCount("a") != 1 {
		t.Fatalf("expected one recorded error, got %d", h.governor.ErrorCount("a"))
	}
	if h.provider.pollCount("op-1") != 1 {
		t.Fatalf("expected a single poll, got %d", h.provider.pollCount("op-1"))
	}
}

func TestProviderFailureIsRecorded(t *testing.T) {
	h := newHarness(pendingThen("op-1", 2, veo.PollResult{Status: veo.StatusFailed, ErrorMessage: "unsafe prompt"}), "", cred("a"))
	job := h.queue("u1", "bad")

	if err := h.dispatcher.Dispatch(context.Background(), job); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	h.registry.Wait()

	rec := h.store.mustGet(job.JobID)
	if rec.Status != domain.JobStatusFailed || rec.ErrorMessage != "unsafe prompt" {
		t.Fatalf("unexpected record %s/%q", rec.Status, rec.ErrorMessage)
	}
	if h.governor.ErrorCount("a") != 1 {
		t.Fatalf("expected provider failure to count against credential")
	}
}

func TestCompleteWithoutArtifactFails(t *testing.T) {
	h := newHarness(pendingThen("op-1", 1, veo.PollResult{Status: veo.StatusComplete}), "", cred("a"))
	job := h.queue("u1", "empty")

	if err := h.dispatcher.Dispatch(context.Background(), job); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	h.registry.Wait()

	rec := h.store.mustGet(job.JobID)
	if rec.Status != domain.JobStatusFailed || !strings.Contains(rec.ErrorMessage, "no artifact") {
		t.Fatalf("unexpected record %s/%q", rec.Status, rec.ErrorMessage)
	}
}

func TestTransientPollErrorsAreTolerated(t *testing.T) {
	poll := func(req veo.PollRequest, n int) (veo.PollResult, error) {
		if n < 4 {
			return veo.PollResult{}, errBoom
		}
		return completeWith("https://tmp/v.mp4"), nil
	}
	h := newHarness(poll, "", cred("a"))
	job := h.queue("u1", "flaky")

	if err := h.dispatcher.Dispatch(context.Background(), job); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	h.registry.Wait()

	if rec := h.store.mustGet(job.JobID); rec.Status != domain.JobStatusCompleted {
		t.Fatalf("expected completed, got %s (%s)", rec.Status, rec.ErrorMessage)
	}
	if h.governor.ErrorCount("a") != 0 {
		t.Fatalf("transient errors must not count against the credential")
	}
}

func TestUploadFailureFailsJob(t *testing.T) {
	h := newHarness(pendingThen("op-1", 1, completeWith("https://tmp/v.mp4")), "", cred("a"))
	h.persister.err = errBoom
	job := h.queue("u1", "upload breaks")

	if err := h.dispatcher.Dispatch(context.Background(), job); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	h.registry.Wait()

	rec := h.store.mustGet(job.JobID)
	if rec.Status != domain.JobStatusFailed || !strings.HasPrefix(rec.ErrorMessage, domain.ErrUploadFailure.Error()) {
		t.Fatalf("unexpected record %s/%q", rec.Status, rec.ErrorMessage)
	}
	if h.governor.ErrorCount("a") != 0 {
		t.Fatalf("upload failures must not count against the credential")
	}
}

func TestPollerStopsOnCancel(t *testing.T) {
	h := newHarness(nil, "", cred("a"))
	job := h.queue("u1", "cancelled")

	started := make(chan struct{})
	var once sync.Once
	blocking := func(ctx context.Context, _ time.Duration) error {
		once.Do(func() { close(started) })
		<-ctx.Done()
		return ctx.Err()
	}
	p := NewPoller(h.provider, h.governor, nil, h.store, h.persister, upload.NewMemoizer[string](),
		DefaultPollerConfig(), infra.NopLogger(), WithSleep(blocking))

	result := make(chan domain.JobStatus, 1)
	if !h.registry.Go(job.JobID, func(ctx context.Context) {
		result <- p.Run(ctx, Tracked{Job: job, Credential: cred("a"), OperationName: "op-1"})
	}) {
		t.Fatalf("expected poller to start")
	}
	<-started
	if h.registry.Active() != 1 {
		t.Fatalf("expected one active poller, got %d", h.registry.Active())
	}
	if err := h.registry.Shutdown(context.Background()); err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if got := <-result; got != "" {
		t.Fatalf("cancelled poller should not write a terminal status, got %s", got)
	}
	if rec := h.store.mustGet(job.JobID); rec.Status != domain.JobStatusQueued {
		t.Fatalf("record should be untouched, got %s", rec.Status)
	}
	if h.registry.Go("another", func(context.Context) {}) {
		t.Fatalf("registry must refuse work after shutdown")
	}
}

func TestPollerConfigDefaults(t *testing.T) {
	p := NewPoller(nil, nil, nil, nil, nil, nil, PollerConfig{MaxAttempts: 10, RetryAttempt: 10}, infra.NopLogger())
	if p.cfg.RetryAttempt != 5 {
		t.Fatalf("retry attempt beyond the horizon should fall back to half, got %d", p.cfg.RetryAttempt)
	}
	if p.cfg.Interval != DefaultPollerConfig().Interval {
		t.Fatalf("expected default interval, got %s", p.cfg.Interval)
	}
}
