package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"mediagen/internal/domain"
)

type staticSettings struct {
	b   domain.BatchSettings
	err error
}

func (s staticSettings) BatchSettings(context.Context) (domain.BatchSettings, error) {
	return s.b, s.err
}

// batchRecorder logs dispatches and sleeps in one ordered trace.
type batchRecorder struct {
	mu     sync.Mutex
	trace  []string
	delays []time.Duration
	seen   map[string]int
}

func newBatchRecorder() *batchRecorder {
	return &batchRecorder{seen: make(map[string]int)}
}

func (r *batchRecorder) dispatch(_ context.Context, job domain.QueuedJob) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trace = append(r.trace, "job")
	r.seen[job.JobID]++
	return nil
}

func (r *batchRecorder) sleep(ctx context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.trace = append(r.trace, "sleep")
	r.delays = append(r.delays, d)
	return ctx.Err()
}

// batches returns the size of each run of dispatches between sleeps.
func (r *batchRecorder) batches() []int {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []int
	n := 0
	for _, ev := range r.trace {
		if ev == "sleep" {
			out = append(out, n)
			n = 0
			continue
		}
		n++
	}
	if n > 0 {
		out = append(out, n)
	}
	return out
}

func queuedJobs(n int) []domain.QueuedJob {
	out := make([]domain.QueuedJob, n)
	for i := range out {
		out[i] = domain.QueuedJob{JobID: fmt.Sprintf("job-%02d", i), Sequence: i + 1}
	}
	return out
}

func TestSchedulerPacesBatches(t *testing.T) {
	rec := newBatchRecorder()
	s := NewScheduler(context.Background(),
		staticSettings{b: domain.BatchSettings{JobsPerBatch: 5, InterBatchDelaySeconds: 20}},
		rec.dispatch, WithSchedulerSleep(rec.sleep))

	if err := s.Enqueue(queuedJobs(12)...); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	s.Wait()

	got := rec.batches()
	if fmt.Sprint(got) != "[5 5 2]" {
		t.Fatalf("expected batches [5 5 2], got %v", got)
	}
	for _, d := range rec.delays {
		if d != 20*time.Second {
			t.Fatalf("expected 20s delay between batches, got %s", d)
		}
	}
	if st := s.Status(); st.QueueLength != 0 || st.IsProcessingBatch {
		t.Fatalf("expected idle empty scheduler, got %+v", st)
	}
}

func TestSchedulerFallsBackToDefaults(t *testing.T) {
	cases := []struct {
		name     string
		settings staticSettings
	}{
		{name: "error", settings: staticSettings{err: errors.New("db down")}},
		{name: "non-positive", settings: staticSettings{b: domain.BatchSettings{JobsPerBatch: 0, InterBatchDelaySeconds: -3}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rec := newBatchRecorder()
			s := NewScheduler(context.Background(), tc.settings, rec.dispatch, WithSchedulerSleep(rec.sleep))
			if err := s.Enqueue(queuedJobs(7)...); err != nil {
				t.Fatalf("enqueue: %v", err)
			}
			s.Wait()
			if fmt.Sprint(rec.batches()) != "[5 2]" {
				t.Fatalf("expected default batches [5 2], got %v", rec.batches())
			}
			if len(rec.delays) != 1 || rec.delays[0] != DefaultInterBatchDelay {
				t.Fatalf("expected one default delay, got %v", rec.delays)
			}
		})
	}
}

func TestSchedulerKeepsGoingAfterDispatchErrors(t *testing.T) {
	var mu sync.Mutex
	calls := 0
	dispatch := func(_ context.Context, job domain.QueuedJob) error {
		mu.Lock()
		calls++
		mu.Unlock()
		return domain.ErrNoCredentialAvailable
	}
	s := NewScheduler(context.Background(), staticSettings{b: domain.BatchSettings{JobsPerBatch: 2, InterBatchDelaySeconds: 1}},
		dispatch, WithSchedulerSleep(noSleep))
	if err := s.Enqueue(queuedJobs(5)...); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	s.Wait()
	if calls != 5 {
		t.Fatalf("expected every job to be attempted, got %d", calls)
	}
}

func TestSchedulerConcurrentEnqueueDispatchesEachJobOnce(t *testing.T) {
	rec := newBatchRecorder()
	s := NewScheduler(context.Background(), staticSettings{b: domain.BatchSettings{JobsPerBatch: 3, InterBatchDelaySeconds: 1}},
		rec.dispatch, WithSchedulerSleep(rec.sleep))

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				_ = s.Enqueue(domain.QueuedJob{JobID: fmt.Sprintf("w%d-%d", w, i)})
			}
		}(w)
	}
	wg.Wait()
	s.Wait()

	if len(rec.seen) != 80 {
		t.Fatalf("expected 80 distinct jobs, got %d", len(rec.seen))
	}
	for id, n := range rec.seen {
		if n != 1 {
			t.Fatalf("job %s dispatched %d times", id, n)
		}
	}
	for _, size := range rec.batches() {
		if size > 3 {
			t.Fatalf("batch exceeded jobs per batch: %d", size)
		}
	}
}

func TestSchedulerStatusWhileProcessing(t *testing.T) {
	release := make(chan struct{})
	entered := make(chan struct{}, 1)
	dispatch := func(context.Context, domain.QueuedJob) error {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-release
		return nil
	}
	s := NewScheduler(context.Background(), staticSettings{b: domain.BatchSettings{JobsPerBatch: 1, InterBatchDelaySeconds: 1}},
		dispatch, WithSchedulerSleep(noSleep))
	if err := s.Enqueue(queuedJobs(3)...); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	<-entered
	st := s.Status()
	if !st.IsProcessingBatch || st.QueueLength != 2 {
		t.Fatalf("expected processing with 2 queued, got %+v", st)
	}
	close(release)
	s.Wait()
	if st := s.Status(); st.IsProcessingBatch || st.QueueLength != 0 {
		t.Fatalf("expected idle, got %+v", st)
	}
}

func TestSchedulerCloseRejectsEnqueue(t *testing.T) {
	s := NewScheduler(context.Background(), nil, func(context.Context, domain.QueuedJob) error { return nil })
	s.Close()
	if err := s.Enqueue(queuedJobs(1)...); !errors.Is(err, ErrSchedulerClosed) {
		t.Fatalf("expected ErrSchedulerClosed, got %v", err)
	}
}

func TestSchedulerStopsWhenContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	rec := newBatchRecorder()
	sleep := func(ctx context.Context, d time.Duration) error {
		cancel()
		return rec.sleep(ctx, d)
	}
	s := NewScheduler(ctx, staticSettings{b: domain.BatchSettings{JobsPerBatch: 2, InterBatchDelaySeconds: 1}},
		rec.dispatch, WithSchedulerSleep(sleep))
	if err := s.Enqueue(queuedJobs(6)...); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	s.Wait()
	if fmt.Sprint(rec.batches()) != "[2]" {
		t.Fatalf("expected a single batch before stopping, got %v", rec.batches())
	}
	if st := s.Status(); st.IsProcessingBatch || st.QueueLength != 4 {
		t.Fatalf("expected idle with 4 left, got %+v", st)
	}
}
