// Package registry resolves playbooks and agent definitions for jobs. The
// YAML config is the source of truth; the store carries a durable mirror for
// the API and survives restarts. When a tenant has no playbook for a job
// kind, a documented default agent set takes over instead of failing the job.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/chorale-dev/chorale/internal/config"
	"github.com/chorale-dev/chorale/internal/playbook"
	"github.com/chorale-dev/chorale/internal/store"
)

// ErrNotFound marks a missing playbook or agent definition.
var ErrNotFound = errors.New("not found")

type Registry struct {
	store *store.Store

	mu        sync.RWMutex
	agents    map[string]config.AgentConfig
	playbooks []config.PlaybookConfig
}

func New(s *store.Store, cfg *config.Config) *Registry {
	r := &Registry{store: s}
	r.UpdateConfig(cfg)
	return r
}

// UpdateConfig swaps in a new configuration snapshot, typically after a
// config reload.
func (r *Registry) UpdateConfig(cfg *config.Config) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.agents = cfg.Agents
	r.playbooks = cfg.Playbooks
}

// Sync mirrors the configured agents and playbooks into the store and
// removes entries that are no longer configured.
func (r *Registry) Sync(ctx context.Context) error {
	if r.store == nil {
		return nil
	}
	r.mu.RLock()
	agents := r.agents
	playbooks := r.playbooks
	r.mu.RUnlock()

	agentIDs := make([]string, 0, len(agents))
	for id, ac := range agents {
		agentIDs = append(agentIDs, id)
		if err := r.store.UpsertAgentDefinition(ctx, definitionOf(id, ac)); err != nil {
			return fmt.Errorf("sync agent %s: %w", id, err)
		}
	}
	if err := r.store.DeleteAgentDefinitionsNotIn(ctx, agentIDs); err != nil {
		return fmt.Errorf("delete stale agents: %w", err)
	}

	playbookIDs := make([]string, 0, len(playbooks))
	for _, pc := range playbooks {
		playbookIDs = append(playbookIDs, pc.ID)
		if err := r.store.UpsertPlaybook(ctx, playbookOf(pc)); err != nil {
			return fmt.Errorf("sync playbook %s: %w", pc.ID, err)
		}
	}
	if err := r.store.DeletePlaybooksNotIn(ctx, playbookIDs); err != nil {
		return fmt.Errorf("delete stale playbooks: %w", err)
	}

	return nil
}

// GetPlaybook finds the playbook for a tenant, domain and kind. The config
// wins; the store is consulted for playbooks registered out of band.
func (r *Registry) GetPlaybook(ctx context.Context, tenantID, domainID string, kind playbook.Kind) (*playbook.Playbook, error) {
	r.mu.RLock()
	for _, pc := range r.playbooks {
		if pc.Tenant == tenantID && pc.Domain == domainID && pc.Kind == kind {
			pb := playbookOf(pc)
			r.mu.RUnlock()
			return pb, nil
		}
	}
	r.mu.RUnlock()

	if r.store != nil {
		pb, err := r.store.GetPlaybook(ctx, tenantID, domainID, kind)
		if err != nil {
			return nil, fmt.Errorf("playbook lookup: %w", err)
		}
		if pb != nil {
			return pb, nil
		}
	}

	return nil, fmt.Errorf("playbook for tenant %q domain %q kind %q: %w", tenantID, domainID, kind, ErrNotFound)
}

// GetAgentDefinitions resolves definitions for the named agents.
func (r *Registry) GetAgentDefinitions(ctx context.Context, ids []string) (map[string]*playbook.AgentDefinition, error) {
	defs := make(map[string]*playbook.AgentDefinition, len(ids))
	var missing []string

	r.mu.RLock()
	for _, id := range ids {
		if ac, ok := r.agents[id]; ok {
			defs[id] = definitionOf(id, ac)
		} else {
			missing = append(missing, id)
		}
	}
	r.mu.RUnlock()

	for _, id := range missing {
		def, err := r.storedDefinition(ctx, id)
		if errors.Is(err, ErrNotFound) {
			return nil, fmt.Errorf("agent definition %q: %w", id, ErrNotFound)
		}
		if err != nil {
			return nil, fmt.Errorf("agent definition %q: %w", id, err)
		}
		defs[id] = def
	}
	return defs, nil
}

func (r *Registry) storedDefinition(ctx context.Context, id string) (*playbook.AgentDefinition, error) {
	if r.store == nil {
		return nil, ErrNotFound
	}
	def, err := r.store.GetAgentDefinition(ctx, id)
	if err != nil {
		return nil, err
	}
	if def == nil {
		return nil, ErrNotFound
	}
	return def, nil
}

// ResolvePlaybook loads a job's playbook and definitions, substituting the
// default agent set when nothing is configured. fallback reports the
// substitution so the caller can log the degradation.
func (r *Registry) ResolvePlaybook(ctx context.Context, tenantID, domainID string, kind playbook.Kind) (*playbook.Playbook, map[string]*playbook.AgentDefinition, bool, error) {
	pb, err := r.GetPlaybook(ctx, tenantID, domainID, kind)
	if errors.Is(err, ErrNotFound) {
		return DefaultPlaybook(tenantID, domainID, kind), DefaultAgentDefinitions(kind), true, nil
	}
	if err != nil {
		return nil, nil, false, err
	}

	defs, err := r.GetAgentDefinitions(ctx, pb.AgentIDs())
	if errors.Is(err, ErrNotFound) {
		return DefaultPlaybook(tenantID, domainID, kind), DefaultAgentDefinitions(kind), true, nil
	}
	if err != nil {
		return nil, nil, false, err
	}
	return pb, defs, false, nil
}

// ListAgents returns the configured agent definitions sorted by id.
func (r *Registry) ListAgents() []playbook.AgentDefinition {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]playbook.AgentDefinition, 0, len(r.agents))
	for id, ac := range r.agents {
		out = append(out, *definitionOf(id, ac))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// ListPlaybooks returns the configured playbooks in declaration order.
func (r *Registry) ListPlaybooks() []playbook.Playbook {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]playbook.Playbook, 0, len(r.playbooks))
	for _, pc := range r.playbooks {
		out = append(out, *playbookOf(pc))
	}
	return out
}

func definitionOf(id string, ac config.AgentConfig) *playbook.AgentDefinition {
	return &playbook.AgentDefinition{
		AgentID:      id,
		Instructions: ac.Instructions,
		AllowedTools: ac.AllowedTools,
		OutputSchema: ac.OutputSchema,
	}
}

func playbookOf(pc config.PlaybookConfig) *playbook.Playbook {
	return &playbook.Playbook{
		PlaybookID: pc.ID,
		TenantID:   pc.Tenant,
		DomainID:   pc.Domain,
		Kind:       pc.Kind,
		Agents:     pc.Agents,
	}
}
