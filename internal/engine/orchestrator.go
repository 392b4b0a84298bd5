// Package engine drives jobs through the orchestration state machine:
// accepted, loading_playbook, executing, validating, synthesizing, saving,
// complete, with error and cancelled reachable from any stage. Exactly one
// status event marks each transition.
package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/uuid"

	"github.com/chorale-dev/chorale/internal/agent"
	"github.com/chorale-dev/chorale/internal/config"
	"github.com/chorale-dev/chorale/internal/playbook"
	"github.com/chorale-dev/chorale/internal/status"
	"github.com/chorale-dev/chorale/internal/store"
	"github.com/chorale-dev/chorale/internal/synth"
	"github.com/chorale-dev/chorale/internal/validate"
)

// Job is one unit of work submitted to the orchestrator.
type Job struct {
	ID       string        `json:"id"`
	Kind     playbook.Kind `json:"kind"`
	TenantID string        `json:"tenant_id"`
	DomainID string        `json:"domain_id"`
	UserID   string        `json:"user_id,omitempty"`
	Input    string        `json:"input"`
}

// PlaybookSource resolves the playbook and agent definitions for a job.
// fallback reports that no playbook was configured and the default agent
// set was substituted.
type PlaybookSource interface {
	ResolvePlaybook(ctx context.Context, tenantID, domainID string, kind playbook.Kind) (pb *playbook.Playbook, defs map[string]*playbook.AgentDefinition, fallback bool, err error)
}

// DataService receives the synthesized result of a completed job.
// store.Store satisfies it.
type DataService interface {
	SaveResult(ctx context.Context, tenantID, domainID, jobID string, result json.RawMessage) error
}

// Orchestrator owns job execution end to end.
type Orchestrator struct {
	playbooks PlaybookSource
	exec      *Executor
	bc        *status.Broadcaster
	store     *store.Store
	data      DataService

	mu      sync.Mutex
	cfg     config.Config
	running map[string]context.CancelFunc
}

func New(playbooks PlaybookSource, inv AgentInvoker, bc *status.Broadcaster, st *store.Store, data DataService, cfg config.Config) *Orchestrator {
	return &Orchestrator{
		playbooks: playbooks,
		exec:      NewExecutor(inv, cfg.Engine.MaxConcurrent),
		bc:        bc,
		store:     st,
		data:      data,
		cfg:       cfg,
		running:   make(map[string]context.CancelFunc),
	}
}

// UpdateConfig installs reloaded tenant and engine settings. Stages that
// have not started yet pick them up; a new concurrency bound applies to
// jobs submitted after the call.
func (o *Orchestrator) UpdateConfig(cfg config.Config) {
	o.mu.Lock()
	o.cfg = cfg
	o.mu.Unlock()
	o.exec.SetMaxConcurrent(cfg.Engine.MaxConcurrent)
}

// Submit starts a job in the background and returns its id.
func (o *Orchestrator) Submit(job Job) string {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}

	ctx, cancel := context.WithCancel(context.Background())
	o.mu.Lock()
	o.running[job.ID] = cancel
	o.mu.Unlock()

	go func() {
		defer func() {
			cancel()
			o.mu.Lock()
			delete(o.running, job.ID)
			o.mu.Unlock()
		}()
		if _, err := o.Run(ctx, job); err != nil {
			slog.Error("job finished with error", "job_id", job.ID, "error", err)
		}
	}()

	return job.ID
}

// Cancel stops a running job. It reports whether the job was known.
func (o *Orchestrator) Cancel(jobID string) bool {
	o.mu.Lock()
	cancel, ok := o.running[jobID]
	o.mu.Unlock()
	if ok {
		cancel()
	}
	return ok
}

// Running lists ids of jobs currently in flight.
func (o *Orchestrator) Running() []string {
	o.mu.Lock()
	defer o.mu.Unlock()
	ids := make([]string, 0, len(o.running))
	for id := range o.running {
		ids = append(ids, id)
	}
	return ids
}

// Run executes a job synchronously and returns the synthesized result.
// The error is also reflected in the job's terminal state and events.
func (o *Orchestrator) Run(ctx context.Context, job Job) (*synth.Result, error) {
	if job.ID == "" {
		job.ID = uuid.New().String()
	}

	o.transition(job, status.StageAccepted, "job accepted", nil)
	o.persist(job, status.StageAccepted)

	if ctx.Err() != nil {
		return nil, o.cancelled(job)
	}

	o.transition(job, status.StageLoadingPlaybook, "resolving playbook", nil)
	o.persist(job, status.StageLoadingPlaybook)

	pb, defs, fallback, err := o.playbooks.ResolvePlaybook(ctx, job.TenantID, job.DomainID, job.Kind)
	if err != nil {
		return nil, o.fail(job, fmt.Errorf("load playbook: %w", err), nil)
	}
	if fallback {
		slog.Warn("no playbook configured, using default agent set",
			"tenant", job.TenantID, "domain", job.DomainID, "kind", job.Kind)
	}

	plan, err := playbook.BuildPlan(pb)
	if err != nil {
		return nil, o.fail(job, fmt.Errorf("plan playbook %q: %w", pb.PlaybookID, err), nil)
	}

	if ctx.Err() != nil {
		return nil, o.cancelled(job)
	}

	o.transition(job, status.StageExecuting, fmt.Sprintf("running %d agents", len(pb.Agents)),
		map[string]any{"agents": len(pb.Agents), "fallback": fallback})
	o.persist(job, status.StageExecuting)

	jc := agent.JobContext{
		JobID:    job.ID,
		TenantID: job.TenantID,
		DomainID: job.DomainID,
		UserID:   job.UserID,
		Kind:     job.Kind,
	}
	results := o.exec.Execute(ctx, jc, pb, defs, plan, job.Input)

	if ctx.Err() != nil {
		return nil, o.cancelled(job)
	}

	o.transition(job, status.StageValidating, "validating agent outputs", nil)
	o.persist(job, status.StageValidating)

	dc := o.domainConfig(job)
	findings := validate.New(validate.RulesFor(dc)...).Apply(defs, results)
	o.audit(job, results)

	if ctx.Err() != nil {
		return nil, o.cancelled(job)
	}

	o.transition(job, status.StageSynthesizing, "synthesizing result", nil)
	o.persist(job, status.StageSynthesizing)

	result := synth.New(dc).Synthesize(job.ID, job.Kind, results)
	for _, f := range findings {
		result.Warnings = append(result.Warnings,
			fmt.Sprintf("agent %q excluded by %s: %s", f.AgentID, f.Rule, f.Detail))
	}

	if ctx.Err() != nil {
		return nil, o.cancelled(job)
	}

	o.transition(job, status.StageSaving, "saving result", nil)
	o.persist(job, status.StageSaving)

	payload, err := json.Marshal(result)
	if err != nil {
		return nil, o.fail(job, fmt.Errorf("encode result: %w", err), nil)
	}
	if err := o.data.SaveResult(ctx, job.TenantID, job.DomainID, job.ID, payload); err != nil {
		if ctx.Err() != nil {
			return nil, o.cancelled(job)
		}
		// The result is already synthesized; hand it to operators via the
		// terminal event since it never reached the data service.
		return nil, o.fail(job, fmt.Errorf("save result: %w", err),
			map[string]any{"result": json.RawMessage(payload)})
	}

	o.transition(job, status.StageComplete, result.Summary,
		map[string]any{"agents_skipped": result.AgentsSkipped})
	o.finish(job, "complete", "")

	return result, nil
}

func (o *Orchestrator) domainConfig(job Job) config.DomainConfig {
	o.mu.Lock()
	tenant, ok := o.cfg.Tenants[job.TenantID]
	o.mu.Unlock()
	if !ok {
		return config.DomainConfig{}
	}
	return tenant.Domains[job.DomainID]
}

func (o *Orchestrator) transition(job Job, stage, message string, meta map[string]any) {
	slog.Info("job stage", "job_id", job.ID, "tenant", job.TenantID, "stage", stage)
	if o.bc == nil {
		return
	}
	o.bc.Publish(status.Event{
		JobID:    job.ID,
		TenantID: job.TenantID,
		UserID:   job.UserID,
		Stage:    stage,
		Message:  message,
		Metadata: meta,
	})
}

func (o *Orchestrator) fail(job Job, err error, meta map[string]any) error {
	slog.Error("job failed", "job_id", job.ID, "error", err)
	o.transition(job, status.StageError, err.Error(), meta)
	o.finish(job, "error", err.Error())
	return err
}

func (o *Orchestrator) cancelled(job Job) error {
	slog.Info("job cancelled", "job_id", job.ID)
	o.transition(job, status.StageCancelled, "job cancelled", nil)
	o.finish(job, "cancelled", "")
	return context.Canceled
}

// persist mirrors the current stage into the job row. Terminal writes use a
// fresh context so a cancelled job still gets recorded.
func (o *Orchestrator) persist(job Job, state string) {
	if o.store == nil {
		return
	}
	err := o.store.SaveJob(context.Background(), &store.Job{
		ID:       job.ID,
		Type:     string(job.Kind),
		TenantID: job.TenantID,
		UserID:   job.UserID,
		DomainID: job.DomainID,
		Input:    job.Input,
		State:    state,
	})
	if err != nil {
		slog.Warn("persist job state failed", "job_id", job.ID, "state", state, "error", err)
	}
}

func (o *Orchestrator) finish(job Job, state, errDetail string) {
	if o.store == nil {
		return
	}
	if err := o.store.FinishJob(context.Background(), job.ID, state, errDetail); err != nil {
		slog.Warn("finish job failed", "job_id", job.ID, "state", state, "error", err)
	}
}

func (o *Orchestrator) audit(job Job, results []*agent.Result) {
	if o.store == nil {
		return
	}
	for _, r := range results {
		err := o.store.RecordJobAgent(context.Background(), &store.JobAgent{
			JobID:      job.ID,
			AgentID:    r.AgentID,
			Status:     string(r.Status),
			Confidence: r.Confidence,
			Error:      r.ErrorDetail,
			DurationMS: r.Duration.Milliseconds(),
		})
		if err != nil {
			slog.Warn("record job agent failed", "job_id", job.ID, "agent", r.AgentID, "error", err)
		}
	}
}
