package scheduler

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/chorale-dev/chorale/internal/config"
	"github.com/chorale-dev/chorale/internal/engine"
	"github.com/chorale-dev/chorale/internal/store"
)

type captureSubmitter struct {
	mu   sync.Mutex
	jobs []engine.Job
}

func (c *captureSubmitter) Submit(job engine.Job) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.jobs = append(c.jobs, job)
	return fmt.Sprintf("job-%d", len(c.jobs))
}

func (c *captureSubmitter) submitted() []engine.Job {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]engine.Job(nil), c.jobs...)
}

func newTestStore(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.New(config.StoreConfig{Path: filepath.Join(t.TempDir(), "sched.db")})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func saveScheduled(t *testing.T, s *store.Store, sj *store.ScheduledJob) {
	t.Helper()
	if err := s.SaveScheduledJob(context.Background(), sj); err != nil {
		t.Fatalf("save scheduled job: %v", err)
	}
}

func pastRun(t *testing.T) *time.Time {
	t.Helper()
	past := time.Now().Add(-time.Minute)
	return &past
}

func TestPollSubmitsDueJobs(t *testing.T) {
	s := newTestStore(t)
	sub := &captureSubmitter{}

	saveScheduled(t, s, &store.ScheduledJob{
		ID:        "sj-1",
		TenantID:  "acme",
		DomainID:  "metro",
		JobType:   "ingestion",
		Input:     "Daily district report feed",
		Schedule:  `{"kind":"interval","interval_ms":3600000}`,
		Status:    "active",
		NextRunAt: pastRun(t),
	})

	sched := New(s, sub, time.Minute)
	sched.Poll(context.Background())

	jobs := sub.submitted()
	if len(jobs) != 1 {
		t.Fatalf("expected 1 submission, got %d", len(jobs))
	}
	if jobs[0].TenantID != "acme" || jobs[0].DomainID != "metro" {
		t.Errorf("wrong job target: %+v", jobs[0])
	}
	if jobs[0].UserID != "scheduler" {
		t.Errorf("expected scheduler user, got %q", jobs[0].UserID)
	}

	sj, err := s.GetScheduledJob(context.Background(), "sj-1")
	if err != nil {
		t.Fatalf("get scheduled job: %v", err)
	}
	if sj.LastStatus != "submitted" {
		t.Errorf("expected last_status submitted, got %q", sj.LastStatus)
	}
	if sj.NextRunAt == nil || !sj.NextRunAt.After(time.Now()) {
		t.Errorf("next run not advanced: %v", sj.NextRunAt)
	}
}

func TestPollSkipsFutureAndInactiveJobs(t *testing.T) {
	s := newTestStore(t)
	sub := &captureSubmitter{}

	future := time.Now().Add(time.Hour)
	saveScheduled(t, s, &store.ScheduledJob{
		ID: "sj-future", TenantID: "acme", DomainID: "metro", JobType: "ingestion",
		Input: "later", Schedule: `{"kind":"interval","interval_ms":60000}`,
		Status: "active", NextRunAt: &future,
	})
	saveScheduled(t, s, &store.ScheduledJob{
		ID: "sj-paused", TenantID: "acme", DomainID: "metro", JobType: "ingestion",
		Input: "paused", Schedule: `{"kind":"interval","interval_ms":60000}`,
		Status: "paused", NextRunAt: pastRun(t),
	})

	sched := New(s, sub, time.Minute)
	sched.Poll(context.Background())

	if jobs := sub.submitted(); len(jobs) != 0 {
		t.Errorf("expected no submissions, got %d", len(jobs))
	}
}

func TestPollCompletesOneOffJob(t *testing.T) {
	s := newTestStore(t)
	sub := &captureSubmitter{}

	at := time.Now().Add(-time.Minute)
	saveScheduled(t, s, &store.ScheduledJob{
		ID: "sj-once", TenantID: "acme", DomainID: "metro", JobType: "query",
		Input:    "What happened downtown this week?",
		Schedule: fmt.Sprintf(`{"kind":"once","at_ms":%d}`, at.UnixMilli()),
		Status:   "active", NextRunAt: &at,
	})

	sched := New(s, sub, time.Minute)
	sched.Poll(context.Background())

	if jobs := sub.submitted(); len(jobs) != 1 {
		t.Fatalf("expected 1 submission, got %d", len(jobs))
	}

	sj, err := s.GetScheduledJob(context.Background(), "sj-once")
	if err != nil {
		t.Fatalf("get scheduled job: %v", err)
	}
	if sj.Status != "completed" {
		t.Errorf("expected completed status, got %q", sj.Status)
	}
	if sj.NextRunAt != nil {
		t.Errorf("expected no next run, got %v", sj.NextRunAt)
	}
}

func TestPollRecordsUnknownJobType(t *testing.T) {
	s := newTestStore(t)
	sub := &captureSubmitter{}

	saveScheduled(t, s, &store.ScheduledJob{
		ID: "sj-bad", TenantID: "acme", DomainID: "metro", JobType: "replicate",
		Input: "meaningless", Schedule: `{"kind":"interval","interval_ms":60000}`,
		Status: "active", NextRunAt: pastRun(t),
	})

	sched := New(s, sub, time.Minute)
	sched.Poll(context.Background())

	if jobs := sub.submitted(); len(jobs) != 0 {
		t.Errorf("expected no submissions for unknown type, got %d", len(jobs))
	}

	sj, err := s.GetScheduledJob(context.Background(), "sj-bad")
	if err != nil {
		t.Fatalf("get scheduled job: %v", err)
	}
	if sj.LastStatus != "error" {
		t.Errorf("expected last_status error, got %q", sj.LastStatus)
	}
	if sj.LastError == "" {
		t.Error("expected last_error to name the bad type")
	}
}

func TestStartStopsOnContextCancel(t *testing.T) {
	s := newTestStore(t)
	sched := New(s, &captureSubmitter{}, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		sched.Start(ctx)
		close(done)
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("scheduler did not stop after cancel")
	}
}

func TestUpdateIntervalSignalsReload(t *testing.T) {
	s := newTestStore(t)
	sched := New(s, &captureSubmitter{}, time.Hour)

	sched.UpdateInterval(time.Minute)
	if got := sched.pollInterval(); got != time.Minute {
		t.Errorf("expected interval 1m, got %v", got)
	}

	// Zero keeps the previous interval.
	sched.UpdateInterval(0)
	if got := sched.pollInterval(); got != time.Minute {
		t.Errorf("expected interval unchanged, got %v", got)
	}
}
