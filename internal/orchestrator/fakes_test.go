package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"mediagen/internal/domain"
	"mediagen/internal/infra"
	"mediagen/internal/infra/credentials"
	"mediagen/internal/providers/veo"
	"mediagen/internal/upload"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// memStore is an in-memory JobStore with the same transition guard as the
// SQL repository.
type memStore struct {
	mu   sync.Mutex
	jobs map[string]*domain.Job
	seq  map[string]int
	now  func() time.Time
}

func newMemStore(now func() time.Time) *memStore {
	return &memStore{jobs: make(map[string]*domain.Job), seq: make(map[string]int), now: now}
}

func (s *memStore) Create(_ context.Context, job *domain.Job) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	s.seq[job.UserID]++
	job.Sequence = s.seq[job.UserID]
	job.Status = domain.JobStatusQueued
	job.CreatedAt = s.now()
	job.UpdatedAt = job.CreatedAt
	cp := *job
	s.jobs[job.ID] = &cp
	return nil
}

func (s *memStore) Get(_ context.Context, id string) (*domain.Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok {
		return nil, domain.ErrNotFound
	}
	cp := *j
	return &cp, nil
}

func (s *memStore) UpdateStatus(_ context.Context, id string, status domain.JobStatus, u domain.StatusUpdate) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || !domain.CanTransition(j.Status, status) {
		return domain.ErrInvalidTransition
	}
	j.Status = status
	if u.ArtifactURL != "" {
		j.ArtifactURL = u.ArtifactURL
	}
	if u.ErrorMessage != "" {
		j.ErrorMessage = u.ErrorMessage
	}
	if u.CredentialID != "" {
		j.CredentialID = u.CredentialID
	}
	j.UpdatedAt = s.now()
	return nil
}

func (s *memStore) RecordSubmission(_ context.Context, id string, sub domain.Submission) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	j, ok := s.jobs[id]
	if !ok || j.Status.Terminal() {
		return domain.ErrInvalidTransition
	}
	j.CredentialID = sub.CredentialID
	j.OperationName = sub.OperationName
	j.CorrelationID = sub.CorrelationID
	j.Retried = j.Retried || sub.Retried
	return nil
}

func (s *memStore) FailStaleQueued(_ context.Context, before time.Time, reason string) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int64
	for _, j := range s.jobs {
		if j.Status == domain.JobStatusQueued && j.CreatedAt.Before(before) {
			j.Status = domain.JobStatusFailed
			j.ErrorMessage = reason
			n++
		}
	}
	return n, nil
}

func (s *memStore) mustGet(id string) domain.Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return *s.jobs[id]
}

type pollFunc func(req veo.PollRequest, n int) (veo.PollResult, error)

// fakeProvider numbers operations op-1, op-2, ... and answers polls with
// poll, passing how many times that operation has been polled.
type fakeProvider struct {
	mu        sync.Mutex
	submits   []veo.SubmitRequest
	submitErr error
	emptyName bool
	ops       int
	polls     map[string]int
	poll      pollFunc
}

func newFakeProvider(poll pollFunc) *fakeProvider {
	return &fakeProvider{polls: make(map[string]int), poll: poll}
}

func (p *fakeProvider) Submit(_ context.Context, req veo.SubmitRequest) (veo.Operation, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.submits = append(p.submits, req)
	if p.submitErr != nil {
		return veo.Operation{}, p.submitErr
	}
	if p.emptyName {
		return veo.Operation{}, nil
	}
	p.ops++
	return veo.Operation{Name: fmt.Sprintf("op-%d", p.ops)}, nil
}

func (p *fakeProvider) Poll(_ context.Context, req veo.PollRequest) (veo.PollResult, error) {
	p.mu.Lock()
	p.polls[req.OperationName]++
	n := p.polls[req.OperationName]
	fn := p.poll
	p.mu.Unlock()
	if fn == nil {
		return veo.PollResult{Status: veo.StatusPending}, nil
	}
	return fn(req, n)
}

func (p *fakeProvider) ArtifactDownloadURL(uri, key string) (string, error) {
	return uri + "?key=" + key, nil
}

func (p *fakeProvider) submitCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.submits)
}

func (p *fakeProvider) pollCount(op string) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.polls[op]
}

type fakePersister struct {
	mu      sync.Mutex
	sources []string
	err     error
}

func (f *fakePersister) Persist(_ context.Context, key, src string) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sources = append(f.sources, src)
	if f.err != nil {
		return "", f.err
	}
	return "https://durable.example/" + key, nil
}

func (f *fakePersister) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.sources)
}

type harness struct {
	clock      *fakeClock
	store      *memStore
	governor   *credentials.Governor
	provider   *fakeProvider
	persister  *fakePersister
	registry   *Registry
	dispatcher *Dispatcher
}

func newHarness(poll pollFunc, staticKey string, creds ...domain.Credential) *harness {
	h := &harness{clock: newFakeClock(), provider: newFakeProvider(poll), persister: &fakePersister{}}
	h.store = newMemStore(h.clock.Now)
	h.governor = credentials.NewGovernor(nil, credentials.WithClock(h.clock.Now))
	h.governor.SetCredentials(creds)
	logger := infra.NopLogger()
	sub := NewSubmitter(h.provider, h.governor, nil, SubmitterOptions{
		Models: Models{Landscape: "land", Portrait: "port"},
		Logger: logger,
		Now:    h.clock.Now,
	})
	poller := NewPoller(h.provider, h.governor, sub, h.store, h.persister, upload.NewMemoizer[string](),
		DefaultPollerConfig(), logger, WithSleep(noSleep))
	h.registry = NewRegistry(context.Background(), logger)
	h.dispatcher = NewDispatcher(h.store, h.governor, sub, poller, h.registry, staticKey, logger)
	return h
}

func (h *harness) queue(userID, prompt string) domain.QueuedJob {
	job := &domain.Job{UserID: userID, Prompt: prompt, AspectRatio: "16:9"}
	if err := h.store.Create(context.Background(), job); err != nil {
		panic(err)
	}
	return domain.QueuedJobFor(job)
}

func noSleep(ctx context.Context, _ time.Duration) error {
	return ctx.Err()
}

func cred(id string) domain.Credential {
	return domain.Credential{ID: id, Label: id, Secret: "secret-" + id, Active: true}
}

var errBoom = errors.New("boom")

func pendingThen(op string, after int, res veo.PollResult) pollFunc {
	return func(req veo.PollRequest, n int) (veo.PollResult, error) {
		if req.OperationName == op && n >= after {
			return res, nil
		}
		return veo.PollResult{Status: veo.StatusPending}, nil
	}
}
