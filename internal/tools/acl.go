package tools

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/open-policy-agent/opa/rego"

	"github.com/chorale-dev/chorale/internal/playbook"
)

// DefaultPolicy permits everything the agent allowlist permits. Tenants
// tighten it via tenants.<id>.policy_file.
const DefaultPolicy = `package tool_access

import rego.v1

default allow := true
`

// Decision is the outcome of an access check.
type Decision struct {
	Allowed bool
	Reason  string
}

func allow() Decision {
	return Decision{Allowed: true, Reason: "allowed"}
}

func deny(reason string) Decision {
	return Decision{Allowed: false, Reason: reason}
}

// AccessController decides whether an agent may call a tool. The agent
// definition's allowlist is always consulted; tenants can tighten it further
// with a rego policy (package tool_access, boolean allow).
type AccessController struct {
	mu       sync.RWMutex
	policies map[string]rego.PreparedEvalQuery
}

func NewAccessController() *AccessController {
	return &AccessController{policies: make(map[string]rego.PreparedEvalQuery)}
}

// LoadTenantPolicy compiles a rego policy and installs it for the tenant,
// replacing any previous one.
func (a *AccessController) LoadTenantPolicy(ctx context.Context, tenantID, policySource string) error {
	r := rego.New(
		rego.Query("data.tool_access.allow"),
		rego.Module("tool_access.rego", policySource),
	)
	query, err := r.PrepareForEval(ctx)
	if err != nil {
		return fmt.Errorf("prepare tenant %q policy: %w", tenantID, err)
	}

	a.mu.Lock()
	a.policies[tenantID] = query
	a.mu.Unlock()
	return nil
}

// LoadTenantPolicyFile reads a policy from disk and installs it.
func (a *AccessController) LoadTenantPolicyFile(ctx context.Context, tenantID, path string) error {
	src, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read tenant %q policy: %w", tenantID, err)
	}
	return a.LoadTenantPolicy(ctx, tenantID, string(src))
}

// DropTenantPolicy removes a tenant's policy, if any.
func (a *AccessController) DropTenantPolicy(tenantID string) {
	a.mu.Lock()
	delete(a.policies, tenantID)
	a.mu.Unlock()
}

// Check evaluates (agent, tool) against the allowlist and the tenant policy.
// Policy evaluation errors fail closed.
func (a *AccessController) Check(ctx context.Context, tenantID string, def *playbook.AgentDefinition, tool string) Decision {
	if def == nil {
		return deny("unknown agent")
	}
	if !def.AllowsTool(tool) {
		return deny(fmt.Sprintf("tool %q not in allowlist for agent %q", tool, def.AgentID))
	}

	a.mu.RLock()
	query, ok := a.policies[tenantID]
	a.mu.RUnlock()
	if !ok {
		return allow()
	}

	input := map[string]any{
		"tenant_id": tenantID,
		"agent_id":  def.AgentID,
		"tool":      tool,
	}
	results, err := query.Eval(ctx, rego.EvalInput(input))
	if err != nil {
		slog.Warn("tool policy evaluation failed", "tenant", tenantID, "agent", def.AgentID, "tool", tool, "error", err)
		return deny("policy evaluation failed")
	}
	if len(results) == 0 || len(results[0].Expressions) == 0 {
		return deny(fmt.Sprintf("tool %q denied by tenant policy", tool))
	}
	allowed, ok := results[0].Expressions[0].Value.(bool)
	if !ok || !allowed {
		return deny(fmt.Sprintf("tool %q denied by tenant policy", tool))
	}
	return allow()
}
