package agent

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chorale-dev/chorale/internal/config"
	"github.com/chorale-dev/chorale/internal/playbook"
	"github.com/chorale-dev/chorale/internal/status"
	"github.com/chorale-dev/chorale/internal/tools"
)

// Status classifies how an agent invocation ended.
type Status string

const (
	StatusSuccess          Status = "success"
	StatusValidationFailed Status = "validation_failed"
	StatusToolDenied       Status = "tool_denied"
	StatusExecutionFailed  Status = "execution_failed"
	StatusSkipped          Status = "skipped"
)

// Result is the outcome of one agent invocation. Failures are carried as
// data so a single bad agent never aborts the job.
type Result struct {
	AgentID     string         `json:"agent_id"`
	Output      map[string]any `json:"output,omitempty"`
	Confidence  float64        `json:"confidence"`
	Status      Status         `json:"status"`
	ErrorDetail string         `json:"error_detail,omitempty"`
	Duration    time.Duration  `json:"-"`
}

// SkippedResult marks an agent that was never invoked.
func SkippedResult(agentID, reason string) Result {
	return Result{AgentID: agentID, Status: StatusSkipped, ErrorDetail: reason}
}

// JobContext carries job identity into invocations and status events.
type JobContext struct {
	JobID    string
	TenantID string
	DomainID string
	UserID   string
	Kind     playbook.Kind
}

// ToolRequest is a provider asking for a tool call before it can answer.
type ToolRequest struct {
	Tool   string
	Reason string
	Params map[string]any
}

// Invoker executes a single agent: it drives the inference provider, resolves
// any tool requests through access control, and enforces the per-invocation
// timeout.
type Invoker struct {
	registry *tools.Registry
	acl      *tools.AccessController
	bc       *status.Broadcaster

	mu  sync.Mutex
	set settings
}

// settings is the reloadable slice of engine config an invocation runs under.
type settings struct {
	inferTool string
	timeout   time.Duration
	maxRounds int
}

func newSettings(cfg config.EngineConfig) settings {
	s := settings{inferTool: cfg.InferTool, timeout: cfg.AgentTimeout, maxRounds: cfg.ToolRounds}
	if s.inferTool == "" {
		s.inferTool = "infer"
	}
	if s.timeout <= 0 {
		s.timeout = 30 * time.Second
	}
	if s.maxRounds <= 0 {
		s.maxRounds = 4
	}
	return s
}

func NewInvoker(reg *tools.Registry, acl *tools.AccessController, bc *status.Broadcaster, cfg config.EngineConfig) *Invoker {
	return &Invoker{registry: reg, acl: acl, bc: bc, set: newSettings(cfg)}
}

// UpdateConfig applies reloaded engine settings to invocations started after
// the call.
func (iv *Invoker) UpdateConfig(cfg config.EngineConfig) {
	s := newSettings(cfg)
	iv.mu.Lock()
	iv.set = s
	iv.mu.Unlock()
}

func (iv *Invoker) settings() settings {
	iv.mu.Lock()
	defer iv.mu.Unlock()
	return iv.set
}

// Invoke runs one agent against its input payload. It never returns an error;
// everything that can go wrong lands in the result status.
func (iv *Invoker) Invoke(ctx context.Context, job JobContext, def *playbook.AgentDefinition, input string) Result {
	start := time.Now()
	iv.emit(job, status.StageAgentInvoking, def.AgentID, "", nil)

	set := iv.settings()
	ctx, cancel := context.WithTimeout(ctx, set.timeout)
	defer cancel()

	res := iv.run(ctx, job, def, input, set)
	res.AgentID = def.AgentID
	res.Duration = time.Since(start)

	if res.Status == StatusSuccess {
		iv.emit(job, status.StageAgentComplete, def.AgentID,
			fmt.Sprintf("confidence %.2f", res.Confidence), nil)
	} else {
		iv.emit(job, status.StageAgentError, def.AgentID, res.ErrorDetail,
			map[string]any{"status": string(res.Status)})
	}
	return res
}

func (iv *Invoker) run(ctx context.Context, job JobContext, def *playbook.AgentDefinition, input string, set settings) Result {
	call := tools.CallContext{JobID: job.JobID, TenantID: job.TenantID, AgentID: def.AgentID}

	params := map[string]any{
		"instructions": def.Instructions,
		"input":        input,
		"schema":       def.OutputSchema,
	}

	var toolResults []map[string]any
	for round := 0; round <= set.maxRounds; round++ {
		if d := iv.acl.Check(ctx, job.TenantID, def, set.inferTool); !d.Allowed {
			return Result{Status: StatusToolDenied, ErrorDetail: d.Reason}
		}
		infer, ok := iv.registry.Lookup(set.inferTool)
		if !ok {
			return Result{Status: StatusExecutionFailed,
				ErrorDetail: fmt.Sprintf("no provider for tool %q", set.inferTool)}
		}

		reply, err := infer.Call(ctx, call, params)
		if err != nil {
			return iv.failed(ctx, err, set.timeout)
		}

		requests := parseToolRequests(reply)
		if len(requests) == 0 {
			output, ok := reply["output"].(map[string]any)
			if !ok {
				return Result{Status: StatusExecutionFailed,
					ErrorDetail: "provider returned neither output nor tool requests"}
			}
			return Result{Status: StatusSuccess, Output: output, Confidence: confidenceOf(reply)}
		}

		for _, req := range requests {
			if d := iv.acl.Check(ctx, job.TenantID, def, req.Tool); !d.Allowed {
				return Result{Status: StatusToolDenied, ErrorDetail: d.Reason}
			}
			iv.emit(job, status.StageAgentCallingTool, def.AgentID,
				fmt.Sprintf("calling tool %s", req.Tool),
				map[string]any{"tool": req.Tool, "reason": req.Reason})

			p, ok := iv.registry.Lookup(req.Tool)
			if !ok {
				return Result{Status: StatusExecutionFailed,
					ErrorDetail: fmt.Sprintf("no provider for tool %q", req.Tool)}
			}
			out, err := p.Call(ctx, call, req.Params)
			if err != nil {
				return iv.failed(ctx, fmt.Errorf("tool %q: %w", req.Tool, err), set.timeout)
			}
			toolResults = append(toolResults, map[string]any{"tool": req.Tool, "result": out})
		}
		params["tool_results"] = toolResults
	}

	return Result{Status: StatusExecutionFailed,
		ErrorDetail: fmt.Sprintf("provider kept requesting tools after %d rounds", set.maxRounds)}
}

func (iv *Invoker) failed(ctx context.Context, err error, timeout time.Duration) Result {
	detail := err.Error()
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		detail = fmt.Sprintf("timeout after %s", timeout)
	}
	return Result{Status: StatusExecutionFailed, ErrorDetail: detail}
}

func (iv *Invoker) emit(job JobContext, stage, agentID, message string, meta map[string]any) {
	if iv.bc == nil {
		return
	}
	iv.bc.Publish(status.Event{
		JobID:    job.JobID,
		TenantID: job.TenantID,
		UserID:   job.UserID,
		Stage:    stage,
		Agent:    agentID,
		Message:  message,
		Metadata: meta,
	})
}

func parseToolRequests(reply map[string]any) []ToolRequest {
	raw, ok := reply["tool_requests"].([]any)
	if !ok {
		return nil
	}
	requests := make([]ToolRequest, 0, len(raw))
	for _, entry := range raw {
		m, ok := entry.(map[string]any)
		if !ok {
			continue
		}
		req := ToolRequest{}
		req.Tool, _ = m["tool"].(string)
		req.Reason, _ = m["reason"].(string)
		req.Params, _ = m["params"].(map[string]any)
		if req.Tool != "" {
			requests = append(requests, req)
		}
	}
	return requests
}

func confidenceOf(reply map[string]any) float64 {
	c, ok := reply["confidence"].(float64)
	if !ok {
		return 0
	}
	if c < 0 {
		return 0
	}
	if c > 1 {
		return 1
	}
	return c
}
