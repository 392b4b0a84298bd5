package config

import (
	"testing"
	"time"

	"github.com/chorale-dev/chorale/internal/playbook"
)

func baseConfig() *Config {
	return &Config{
		Agents: map[string]AgentConfig{
			"geo_agent": {
				Instructions: "Extract location",
				AllowedTools: []string{"geocode"},
				OutputSchema: map[string]playbook.FieldType{"latitude": playbook.FieldNumber},
			},
		},
		Playbooks: []PlaybookConfig{
			{
				ID: "civic-ingest", Tenant: "acme", Domain: "civic", Kind: playbook.KindIngestion,
				Agents: []playbook.AgentRef{{AgentID: "geo_agent"}},
			},
		},
		Tenants: map[string]TenantConfig{
			"acme": {Domains: map[string]DomainConfig{"civic": {GeoToleranceKM: 5}}},
		},
		Tools: map[string]ToolConfig{
			"geocode": {Kind: "http", URL: "http://localhost:9900"},
		},
		Scheduler: SchedulerConfig{Enabled: true, PollInterval: 30 * time.Second},
	}
}

func TestDiffNoChanges(t *testing.T) {
	old := baseConfig()
	new := baseConfig()
	d := Diff(old, new)
	if d.HasChanges() {
		t.Fatalf("expected no changes, got %+v", d)
	}
	if len(d.NonReloadable) != 0 {
		t.Fatalf("expected no non-reloadable changes, got %v", d.NonReloadable)
	}
}

func TestDiffAgentAddedRemovedChanged(t *testing.T) {
	old := baseConfig()
	new := baseConfig()
	new.Agents["temporal_agent"] = AgentConfig{Instructions: "Extract time"}
	geo := new.Agents["geo_agent"]
	geo.Instructions = "Extract precise location"
	new.Agents["geo_agent"] = geo

	d := Diff(old, new)
	if len(d.AgentsAdded) != 1 || d.AgentsAdded[0] != "temporal_agent" {
		t.Errorf("expected temporal_agent added, got %v", d.AgentsAdded)
	}
	if len(d.AgentsChanged) != 1 || d.AgentsChanged[0] != "geo_agent" {
		t.Errorf("expected geo_agent changed, got %v", d.AgentsChanged)
	}

	d = Diff(new, old)
	if len(d.AgentsRemoved) != 1 || d.AgentsRemoved[0] != "temporal_agent" {
		t.Errorf("expected temporal_agent removed, got %v", d.AgentsRemoved)
	}
}

func TestDiffPlaybooks(t *testing.T) {
	old := baseConfig()
	new := baseConfig()
	new.Playbooks = append(new.Playbooks, PlaybookConfig{
		ID: "civic-query", Tenant: "acme", Domain: "civic", Kind: playbook.KindQuery,
		Agents: []playbook.AgentRef{{AgentID: "geo_agent"}},
	})
	new.Playbooks[0].Agents = append(new.Playbooks[0].Agents, playbook.AgentRef{AgentID: "temporal_agent"})

	d := Diff(old, new)
	if len(d.PlaybooksAdded) != 1 || d.PlaybooksAdded[0] != "civic-query" {
		t.Errorf("expected civic-query added, got %v", d.PlaybooksAdded)
	}
	if len(d.PlaybooksChanged) != 1 || d.PlaybooksChanged[0] != "civic-ingest" {
		t.Errorf("expected civic-ingest changed, got %v", d.PlaybooksChanged)
	}
}

func TestDiffTenantAndTools(t *testing.T) {
	old := baseConfig()
	new := baseConfig()
	acme := new.Tenants["acme"]
	acme.Domains["civic"] = DomainConfig{GeoToleranceKM: 10}
	new.Tenants["acme"] = acme
	new.Tools["geocode"] = ToolConfig{Kind: "nats", Subject: "tools.geocode"}

	d := Diff(old, new)
	if len(d.TenantsChanged) != 1 || d.TenantsChanged[0] != "acme" {
		t.Errorf("expected acme changed, got %v", d.TenantsChanged)
	}
	if !d.ToolsChanged {
		t.Error("expected tools changed")
	}
	if !d.HasChanges() {
		t.Error("expected HasChanges")
	}
}

func TestDiffNonReloadable(t *testing.T) {
	old := baseConfig()
	new := baseConfig()
	new.Store.Path = "elsewhere.db"
	new.NATS.Port = 4333
	new.Vault.Passphrase = "changed"

	d := Diff(old, new)
	if d.HasChanges() {
		t.Errorf("non-reloadable changes should not count as reloadable: %+v", d)
	}
	if len(d.NonReloadable) != 3 {
		t.Fatalf("expected 3 non-reloadable entries, got %v", d.NonReloadable)
	}
}

func TestDiffScheduler(t *testing.T) {
	old := baseConfig()
	new := baseConfig()
	new.Scheduler.PollInterval = time.Minute

	d := Diff(old, new)
	if !d.SchedulerChanged {
		t.Fatal("expected scheduler changed")
	}
	if d.NewScheduler.PollInterval != time.Minute {
		t.Errorf("expected new poll interval 1m, got %v", d.NewScheduler.PollInterval)
	}
}
