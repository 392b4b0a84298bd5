// Package scheduler turns due scheduled_jobs rows into engine submissions.
package scheduler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/chorale-dev/chorale/internal/engine"
	"github.com/chorale-dev/chorale/internal/playbook"
	"github.com/chorale-dev/chorale/internal/schedule"
	"github.com/chorale-dev/chorale/internal/store"
)

// JobSubmitter starts a job in the background. engine.Orchestrator
// satisfies it.
type JobSubmitter interface {
	Submit(job engine.Job) string
}

// Scheduler polls the store and submits due jobs. A submitted job's
// lifecycle is tracked through the jobs table, not here; the scheduled row
// only records that the submission happened.
type Scheduler struct {
	store  *store.Store
	engine JobSubmitter

	mu       sync.Mutex
	interval time.Duration
	reload   chan struct{}

	now func() time.Time
}

func New(s *store.Store, eng JobSubmitter, pollInterval time.Duration) *Scheduler {
	if pollInterval == 0 {
		pollInterval = 30 * time.Second
	}
	return &Scheduler{
		store:    s,
		engine:   eng,
		interval: pollInterval,
		reload:   make(chan struct{}, 1),
		now:      time.Now,
	}
}

// UpdateInterval changes the poll interval and signals the run loop to
// reset its ticker.
func (s *Scheduler) UpdateInterval(pollInterval time.Duration) {
	if pollInterval == 0 {
		return
	}
	s.mu.Lock()
	s.interval = pollInterval
	s.mu.Unlock()
	select {
	case s.reload <- struct{}{}:
	default:
	}
}

func (s *Scheduler) pollInterval() time.Duration {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.interval
}

// Start runs the poll loop until ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) {
	ticker := time.NewTicker(s.pollInterval())
	defer ticker.Stop()

	slog.Info("scheduler started", "poll_interval", s.pollInterval())

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return
		case <-s.reload:
			ticker.Reset(s.pollInterval())
			slog.Info("scheduler interval reloaded", "poll_interval", s.pollInterval())
		case <-ticker.C:
			s.Poll(ctx)
		}
	}
}

// Poll submits every due scheduled job once and advances its next run.
func (s *Scheduler) Poll(ctx context.Context) {
	due, err := s.store.GetDueScheduledJobs(ctx, s.now())
	if err != nil {
		slog.Error("failed to get due scheduled jobs", "error", err)
		return
	}

	for i := range due {
		s.dispatch(ctx, &due[i])
	}
}

func (s *Scheduler) dispatch(ctx context.Context, sj *store.ScheduledJob) {
	lastStatus := "submitted"
	lastError := ""

	kind := playbook.Kind(sj.JobType)
	if kind != playbook.KindIngestion && kind != playbook.KindQuery {
		lastStatus = "error"
		lastError = "unknown job type: " + sj.JobType
		slog.Error("scheduled job has unknown type", "id", sj.ID, "job_type", sj.JobType)
	} else {
		jobID := s.engine.Submit(engine.Job{
			Kind:     kind,
			TenantID: sj.TenantID,
			DomainID: sj.DomainID,
			UserID:   "scheduler",
			Input:    sj.Input,
		})
		slog.Info("scheduled job submitted", "id", sj.ID, "job_id", jobID, "tenant", sj.TenantID)
	}

	next := schedule.NextRun(sj.Schedule, s.now())
	if err := s.store.UpdateScheduledJobRun(ctx, sj.ID, lastStatus, lastError, next); err != nil {
		slog.Error("failed to update scheduled job run", "id", sj.ID, "error", err)
	}

	if next == nil {
		slog.Info("no next run, completing scheduled job", "id", sj.ID)
		if err := s.store.UpdateScheduledJobStatus(ctx, sj.ID, "completed"); err != nil {
			slog.Error("failed to complete scheduled job", "id", sj.ID, "error", err)
		}
	}
}
