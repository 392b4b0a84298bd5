package playbook

import (
	"errors"
	"fmt"
)

// ErrDependencyDepth is returned by BuildPlan when an agent's parent itself
// has a parent. Pipelines are at most two tiers deep.
var ErrDependencyDepth = errors.New("dependency depth exceeded")

// ExecutionPlan groups a playbook's agents into the independent tier and the
// per-parent dependent chains. Derived per job and discarded afterwards.
type ExecutionPlan struct {
	Independent []string            // agents with no parent, declaration order
	Dependent   map[string][]string // parent -> children, declaration order
}

// BuildPlan validates a playbook's dependency graph and derives its plan.
// It returns an error for duplicate agents, unknown or self parents, and
// chains deeper than two tiers, before any agent runs.
func BuildPlan(pb *Playbook) (*ExecutionPlan, error) {
	if len(pb.Agents) == 0 {
		return nil, fmt.Errorf("playbook %q declares no agents", pb.PlaybookID)
	}

	refs := make(map[string]AgentRef, len(pb.Agents))
	for _, ref := range pb.Agents {
		if ref.AgentID == "" {
			return nil, fmt.Errorf("playbook %q contains an agent with an empty id", pb.PlaybookID)
		}
		if _, ok := refs[ref.AgentID]; ok {
			return nil, fmt.Errorf("agent %q appears twice in playbook %q", ref.AgentID, pb.PlaybookID)
		}
		refs[ref.AgentID] = ref
	}

	plan := &ExecutionPlan{Dependent: make(map[string][]string)}
	for _, ref := range pb.Agents {
		if ref.ParentAgentID == "" {
			plan.Independent = append(plan.Independent, ref.AgentID)
			continue
		}
		if ref.ParentAgentID == ref.AgentID {
			return nil, fmt.Errorf("agent %q lists itself as parent", ref.AgentID)
		}
		parent, ok := refs[ref.ParentAgentID]
		if !ok {
			return nil, fmt.Errorf("agent %q references unknown parent %q", ref.AgentID, ref.ParentAgentID)
		}
		if parent.ParentAgentID != "" {
			return nil, fmt.Errorf("agent %q depends on %q which itself depends on %q: %w",
				ref.AgentID, ref.ParentAgentID, parent.ParentAgentID, ErrDependencyDepth)
		}
		plan.Dependent[ref.ParentAgentID] = append(plan.Dependent[ref.ParentAgentID], ref.AgentID)
	}

	return plan, nil
}
