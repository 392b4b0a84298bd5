// Package tools binds agents to their capability providers: inference,
// geocoding, text analytics or anything else a tenant wires up. Every call
// passes access control first; providers stay opaque behind one interface.
package tools

import (
	"context"
	"fmt"
	"sync"

	"github.com/chorale-dev/chorale/internal/config"
	"github.com/chorale-dev/chorale/internal/natsbus"
	"github.com/chorale-dev/chorale/internal/vault"
)

// CallContext identifies the caller of a tool on behalf of a job.
type CallContext struct {
	JobID    string `json:"job_id"`
	TenantID string `json:"tenant_id"`
	AgentID  string `json:"agent_id"`
}

// Provider is one opaque capability backend.
type Provider interface {
	Call(ctx context.Context, call CallContext, params map[string]any) (map[string]any, error)
}

// CredentialResolver turns configured credential strings into usable values.
// The vault keeper satisfies it.
type CredentialResolver interface {
	Resolve(ctx context.Context, credential string) (string, error)
}

// Registry maps tool ids to providers.
type Registry struct {
	mu        sync.RWMutex
	providers map[string]Provider
}

func NewRegistry() *Registry {
	return &Registry{providers: make(map[string]Provider)}
}

func (r *Registry) Register(tool string, p Provider) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.providers[tool] = p
}

func (r *Registry) Lookup(tool string) (Provider, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.providers[tool]
	return p, ok
}

// Swap replaces the provider table with the one from other. Config reloads
// rebuild a registry and swap it in under running jobs.
func (r *Registry) Swap(other *Registry) {
	other.mu.RLock()
	providers := make(map[string]Provider, len(other.providers))
	for tool, p := range other.providers {
		providers[tool] = p
	}
	other.mu.RUnlock()

	r.mu.Lock()
	r.providers = providers
	r.mu.Unlock()
}

// BuildRegistry constructs providers from config. A nats-backed tool needs a
// bus client; creds may be nil when no tool uses vault references.
func BuildRegistry(cfgs map[string]config.ToolConfig, nc *natsbus.Client, creds CredentialResolver) (*Registry, error) {
	reg := NewRegistry()
	for name, tc := range cfgs {
		switch tc.Kind {
		case "http":
			if tc.URL == "" {
				return nil, fmt.Errorf("tool %q: http provider needs a url", name)
			}
			if creds == nil && vault.IsRef(tc.Credential) {
				return nil, fmt.Errorf("tool %q: credential %q needs a vault passphrase", name, tc.Credential)
			}
			reg.Register(name, NewHTTPProvider(name, tc, creds))
		case "nats":
			if nc == nil {
				return nil, fmt.Errorf("tool %q: nats provider needs a bus connection", name)
			}
			subject := tc.Subject
			if subject == "" {
				subject = natsbus.TopicTool(name)
			}
			reg.Register(name, NewNATSProvider(nc, subject, tc.Timeout))
		case "stub", "":
			reg.Register(name, NewStubProvider())
		default:
			return nil, fmt.Errorf("tool %q: unknown provider kind %q", name, tc.Kind)
		}
	}
	return reg, nil
}
