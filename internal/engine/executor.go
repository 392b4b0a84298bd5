package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/chorale-dev/chorale/internal/agent"
	"github.com/chorale-dev/chorale/internal/playbook"
)

// AgentInvoker executes a single agent. agent.Invoker satisfies it.
type AgentInvoker interface {
	Invoke(ctx context.Context, job agent.JobContext, def *playbook.AgentDefinition, input string) agent.Result
}

// Executor fans a playbook out over goroutines. Independent agents run
// concurrently; each dependent agent starts only after its parent finished,
// and only when the parent succeeded.
type Executor struct {
	invoker AgentInvoker

	mu            sync.Mutex
	maxConcurrent int
}

func NewExecutor(inv AgentInvoker, maxConcurrent int) *Executor {
	return &Executor{invoker: inv, maxConcurrent: maxConcurrent}
}

// SetMaxConcurrent changes the fan-out bound for subsequent Execute calls.
func (e *Executor) SetMaxConcurrent(n int) {
	e.mu.Lock()
	e.maxConcurrent = n
	e.mu.Unlock()
}

// Execute runs the plan to completion and returns one result per agent, in
// playbook-declared order regardless of completion order.
func (e *Executor) Execute(ctx context.Context, job agent.JobContext, pb *playbook.Playbook, defs map[string]*playbook.AgentDefinition, plan *playbook.ExecutionPlan, input string) []*agent.Result {
	results := make(map[string]*agent.Result, len(pb.Agents))
	var mu sync.Mutex
	set := func(id string, res agent.Result) {
		mu.Lock()
		results[id] = &res
		mu.Unlock()
	}

	e.mu.Lock()
	maxConcurrent := e.maxConcurrent
	e.mu.Unlock()

	var sem chan struct{}
	if maxConcurrent > 0 {
		sem = make(chan struct{}, maxConcurrent)
	}

	var wg sync.WaitGroup
	for _, parentID := range plan.Independent {
		wg.Add(1)
		go func(parentID string) {
			defer wg.Done()

			parentRes := e.invokeOne(ctx, job, parentID, defs[parentID], input, sem)
			set(parentID, parentRes)

			children := plan.Dependent[parentID]
			if len(children) == 0 {
				return
			}
			if parentRes.Status != agent.StatusSuccess {
				for _, childID := range children {
					set(childID, agent.SkippedResult(childID,
						fmt.Sprintf("parent agent %q did not succeed", parentID)))
				}
				return
			}

			childInput := composeChildInput(input, parentID, parentRes.Output)
			var cwg sync.WaitGroup
			for _, childID := range children {
				cwg.Add(1)
				go func(childID string) {
					defer cwg.Done()
					set(childID, e.invokeOne(ctx, job, childID, defs[childID], childInput, sem))
				}(childID)
			}
			cwg.Wait()
		}(parentID)
	}
	wg.Wait()

	ordered := make([]*agent.Result, 0, len(pb.Agents))
	for _, ref := range pb.Agents {
		if res, ok := results[ref.AgentID]; ok {
			ordered = append(ordered, res)
			continue
		}
		skipped := agent.SkippedResult(ref.AgentID, "never scheduled")
		ordered = append(ordered, &skipped)
	}
	return ordered
}

func (e *Executor) invokeOne(ctx context.Context, job agent.JobContext, agentID string, def *playbook.AgentDefinition, input string, sem chan struct{}) agent.Result {
	if sem != nil {
		select {
		case sem <- struct{}{}:
			defer func() { <-sem }()
		case <-ctx.Done():
			return agent.SkippedResult(agentID, "job cancelled")
		}
	}
	if ctx.Err() != nil {
		return agent.SkippedResult(agentID, "job cancelled")
	}
	if def == nil {
		return agent.Result{AgentID: agentID, Status: agent.StatusExecutionFailed,
			ErrorDetail: "agent definition not found"}
	}
	return e.invoker.Invoke(ctx, job, def, input)
}

// composeChildInput hands a dependent agent both the raw input and its
// parent's output in one payload.
func composeChildInput(raw, parentID string, output map[string]any) string {
	if len(output) == 0 {
		return raw
	}
	data, err := json.Marshal(output)
	if err != nil {
		return raw
	}
	return fmt.Sprintf("%s\n\n[%s output]\n%s", raw, parentID, data)
}
