package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaults(t *testing.T) {
	cfg := defaults()

	if cfg.Engine.AgentTimeout != 30*time.Second {
		t.Errorf("expected agent_timeout 30s, got %v", cfg.Engine.AgentTimeout)
	}
	if cfg.Engine.ToolRounds != 4 {
		t.Errorf("expected tool_rounds 4, got %d", cfg.Engine.ToolRounds)
	}
	if cfg.Engine.InferTool != "infer" {
		t.Errorf("expected infer_tool %q, got %q", "infer", cfg.Engine.InferTool)
	}
	if cfg.Engine.MaxConcurrent != 0 {
		t.Errorf("expected max_concurrent 0 (tier size), got %d", cfg.Engine.MaxConcurrent)
	}
	if cfg.NATS.Port != 4222 {
		t.Errorf("expected nats port 4222, got %d", cfg.NATS.Port)
	}
	if cfg.Web.Port != 8080 {
		t.Errorf("expected web port 8080, got %d", cfg.Web.Port)
	}
	if !cfg.Web.Enabled {
		t.Error("expected web enabled by default")
	}
	if cfg.Store.Path != "data/chorale.db" {
		t.Errorf("expected store path data/chorale.db, got %s", cfg.Store.Path)
	}
	if !cfg.Scheduler.Enabled {
		t.Error("expected scheduler enabled by default")
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	// Point config to a non-existent file so we use defaults
	t.Setenv("CHORALE_CONFIG", "/nonexistent/config.yaml")
	t.Setenv("CHORALE_TELEGRAM_TOKEN", "test-token-123")
	t.Setenv("CHORALE_WEB_PASSWORD", "secret")
	t.Setenv("CHORALE_WEB_PORT", "9090")
	t.Setenv("CHORALE_VAULT_PASSPHRASE", "opensesame")
	t.Setenv("CHORALE_AGENT_TIMEOUT", "45s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Notify.TelegramToken != "test-token-123" {
		t.Errorf("expected telegram token test-token-123, got %s", cfg.Notify.TelegramToken)
	}
	if cfg.Web.Auth != "secret" {
		t.Errorf("expected web auth secret, got %s", cfg.Web.Auth)
	}
	if cfg.Web.Port != 9090 {
		t.Errorf("expected web port 9090, got %d", cfg.Web.Port)
	}
	if cfg.Vault.Passphrase != "opensesame" {
		t.Errorf("expected vault passphrase opensesame, got %s", cfg.Vault.Passphrase)
	}
	if cfg.Engine.AgentTimeout != 45*time.Second {
		t.Errorf("expected agent_timeout 45s, got %v", cfg.Engine.AgentTimeout)
	}
}

func TestLoadFromYAML(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	yaml := `
engine:
  max_concurrent: 8
tenants:
  acme:
    domains:
      civic:
        geo_tolerance_km: 5
        insight_max_chars: 200
agents:
  geo_agent:
    instructions: "Extract location"
    allowed_tools: [geocode]
    output_schema:
      latitude: number
      longitude: number
playbooks:
  - id: civic-ingest
    tenant: acme
    domain: civic
    kind: ingestion
    agents:
      - agent_id: geo_agent
tools:
  geocode:
    kind: http
    url: "http://localhost:9900/geocode"
web:
  port: 3000
  enabled: false
`
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}

	t.Setenv("CHORALE_CONFIG", cfgPath)
	// Clear any env overrides
	t.Setenv("CHORALE_WEB_PORT", "")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if cfg.Engine.MaxConcurrent != 8 {
		t.Errorf("expected max_concurrent 8, got %d", cfg.Engine.MaxConcurrent)
	}
	if cfg.Tenants["acme"].Domains["civic"].GeoToleranceKM != 5 {
		t.Errorf("expected geo tolerance 5, got %v", cfg.Tenants["acme"].Domains["civic"].GeoToleranceKM)
	}
	agent, ok := cfg.Agents["geo_agent"]
	if !ok {
		t.Fatal("expected geo_agent definition")
	}
	if len(agent.AllowedTools) != 1 || agent.AllowedTools[0] != "geocode" {
		t.Errorf("unexpected allowed tools: %v", agent.AllowedTools)
	}
	if len(cfg.Playbooks) != 1 || cfg.Playbooks[0].ID != "civic-ingest" {
		t.Fatalf("unexpected playbooks: %+v", cfg.Playbooks)
	}
	if cfg.Tools["geocode"].Kind != "http" {
		t.Errorf("expected http tool kind, got %s", cfg.Tools["geocode"].Kind)
	}
	if cfg.Web.Port != 3000 {
		t.Errorf("expected web port 3000, got %d", cfg.Web.Port)
	}
	if cfg.Web.Enabled {
		t.Error("expected web disabled")
	}
}

func TestLoadRejectsOversizedSchema(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	yaml := `
agents:
  big_agent:
    instructions: "too many keys"
    output_schema:
      a: string
      b: string
      c: string
      d: string
      e: string
      f: string
`
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CHORALE_CONFIG", cfgPath)

	if _, err := Load(); err == nil {
		t.Fatal("expected error for six-key schema")
	}
}

func TestLoadRejectsUnknownFieldType(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	yaml := `
agents:
  odd_agent:
    output_schema:
      count: integer
`
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CHORALE_CONFIG", cfgPath)

	if _, err := Load(); err == nil {
		t.Fatal("expected error for unknown field type")
	}
}

func TestLoadRejectsUndefinedPlaybookAgent(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.yaml")

	yaml := `
playbooks:
  - id: broken
    tenant: acme
    domain: civic
    kind: query
    agents:
      - agent_id: ghost_agent
`
	if err := os.WriteFile(cfgPath, []byte(yaml), 0o644); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CHORALE_CONFIG", cfgPath)

	if _, err := Load(); err == nil {
		t.Fatal("expected error for undefined playbook agent")
	}
}
