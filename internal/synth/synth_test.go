package synth

import (
	"strings"
	"testing"

	"github.com/chorale-dev/chorale/internal/agent"
	"github.com/chorale-dev/chorale/internal/config"
	"github.com/chorale-dev/chorale/internal/playbook"
)

func ok(agentID string, confidence float64, output map[string]any) *agent.Result {
	return &agent.Result{AgentID: agentID, Status: agent.StatusSuccess, Confidence: confidence, Output: output}
}

func TestIngestionMerge(t *testing.T) {
	s := New(config.DomainConfig{})
	results := []*agent.Result{
		ok("geo_agent", 0.9, map[string]any{"latitude": 40.7, "longitude": -74.0}),
		ok("temporal_agent", 0.8, map[string]any{"occurred_at": "2026-08-20T14:00:00Z"}),
		ok("entity_agent", 0.7, map[string]any{"entities": []any{"water main"}}),
	}

	res := s.Synthesize("j1", playbook.KindIngestion, results)

	if len(res.Content) != 4 {
		t.Fatalf("expected 4 merged keys, got %d: %+v", len(res.Content), res.Content)
	}
	if res.Content["latitude"] != 40.7 || res.Content["occurred_at"] != "2026-08-20T14:00:00Z" {
		t.Errorf("unexpected content: %+v", res.Content)
	}
	if len(res.Warnings) != 0 {
		t.Errorf("no collisions expected, got %v", res.Warnings)
	}
	if len(res.AgentsSkipped) != 0 {
		t.Errorf("no skipped agents expected, got %v", res.AgentsSkipped)
	}
	if res.Summary != "merged 3 of 3 agents" {
		t.Errorf("unexpected summary: %q", res.Summary)
	}
}

func TestIngestionCollisionLaterAgentWins(t *testing.T) {
	s := New(config.DomainConfig{})
	results := []*agent.Result{
		ok("geo_agent", 0.9, map[string]any{"location": "Elm St bridge"}),
		ok("entity_agent", 0.8, map[string]any{"location": "5th Ave overpass"}),
	}

	res := s.Synthesize("j1", playbook.KindIngestion, results)

	if res.Content["location"] != "5th Ave overpass" {
		t.Errorf("later agent in declared order should win, got %v", res.Content["location"])
	}
	if len(res.Warnings) != 1 {
		t.Fatalf("expected one collision warning, got %v", res.Warnings)
	}
	w := res.Warnings[0]
	if !strings.Contains(w, "location") || !strings.Contains(w, "geo_agent") || !strings.Contains(w, "entity_agent") {
		t.Errorf("warning should name key and both agents: %q", w)
	}
}

func TestIngestionExcludesNonSuccessful(t *testing.T) {
	s := New(config.DomainConfig{})
	results := []*agent.Result{
		ok("geo_agent", 0.9, map[string]any{"latitude": 40.7}),
		{AgentID: "entity_agent", Status: agent.StatusExecutionFailed, ErrorDetail: "timeout after 30s"},
		{AgentID: "severity_agent", Status: agent.StatusSkipped, ErrorDetail: "parent agent \"entity_agent\" did not succeed"},
	}

	res := s.Synthesize("j1", playbook.KindIngestion, results)

	if _, exists := res.Content["entities"]; exists {
		t.Errorf("failed agent output must not appear in content")
	}
	if len(res.AgentsSkipped) != 1 || res.AgentsSkipped[0] != "severity_agent" {
		t.Errorf("only never-invoked agents belong in agents_skipped, got %v", res.AgentsSkipped)
	}
	if len(res.Warnings) != 1 || !strings.Contains(res.Warnings[0], "entity_agent") {
		t.Errorf("failed agent should surface as a warning, got %v", res.Warnings)
	}
	if res.Summary != "merged 1 of 3 agents" {
		t.Errorf("unexpected summary: %q", res.Summary)
	}
}

func TestIngestionByAgentStrategy(t *testing.T) {
	s := New(config.DomainConfig{MergeStrategy: MergeByAgent})
	results := []*agent.Result{
		ok("geo_agent", 0.9, map[string]any{"location": "Elm St"}),
		ok("entity_agent", 0.8, map[string]any{"location": "5th Ave"}),
	}

	res := s.Synthesize("j1", playbook.KindIngestion, results)

	if len(res.Warnings) != 0 {
		t.Errorf("by_agent strategy has no collisions, got %v", res.Warnings)
	}
	geo, ok := res.Content["geo_agent"].(map[string]any)
	if !ok || geo["location"] != "Elm St" {
		t.Errorf("unexpected nested content: %+v", res.Content)
	}
}

func TestQueryBulletsFollowDeclaredOrder(t *testing.T) {
	s := New(config.DomainConfig{})
	results := []*agent.Result{
		ok("what_agent", 0.9, map[string]any{"insight": "water main break"}),
		ok("where_agent", 0.8, map[string]any{"insight": "Elm St and 5th"}),
		ok("why_agent", 0.7, map[string]any{"insight": "pipe corrosion"}),
	}

	res := s.Synthesize("j1", playbook.KindQuery, results)

	if len(res.Bullets) != 3 {
		t.Fatalf("expected 3 bullets, got %d", len(res.Bullets))
	}
	order := []string{"what_agent", "where_agent", "why_agent"}
	for i, want := range order {
		if res.Bullets[i].AgentID != want {
			t.Errorf("bullet %d should be %s, got %s", i, want, res.Bullets[i].AgentID)
		}
	}
	if res.Bullets[0].Insight != "water main break" {
		t.Errorf("unexpected insight: %q", res.Bullets[0].Insight)
	}
}

func TestQueryInsightTruncated(t *testing.T) {
	s := New(config.DomainConfig{InsightMaxChars: 40})
	long := strings.Repeat("the pipe under the intersection failed ", 10)
	results := []*agent.Result{
		ok("why_agent", 0.9, map[string]any{"insight": long}),
	}

	res := s.Synthesize("j1", playbook.KindQuery, results)

	insight := res.Bullets[0].Insight
	if len(insight) > 40 {
		t.Errorf("insight should be capped at 40 chars, got %d: %q", len(insight), insight)
	}
	if !strings.HasSuffix(insight, "...") {
		t.Errorf("truncated insight should end with ellipsis: %q", insight)
	}
}

func TestQueryInsightFallsBackToCompactOutput(t *testing.T) {
	s := New(config.DomainConfig{})
	results := []*agent.Result{
		ok("where_agent", 0.9, map[string]any{"latitude": 40.7, "longitude": -74.0}),
	}

	res := s.Synthesize("j1", playbook.KindQuery, results)

	insight := res.Bullets[0].Insight
	if !strings.Contains(insight, "latitude") {
		t.Errorf("fallback insight should carry the output, got %q", insight)
	}
	if strings.Contains(insight, "\n") {
		t.Errorf("insight must be a single line: %q", insight)
	}
}

func TestQuerySkippedAgentListed(t *testing.T) {
	s := New(config.DomainConfig{})
	results := []*agent.Result{
		ok("what_agent", 0.9, map[string]any{"insight": "water main break"}),
		ok("where_agent", 0.8, map[string]any{"insight": "Elm St"}),
		{AgentID: "when_agent", Status: agent.StatusExecutionFailed, ErrorDetail: "timeout after 30s"},
		ok("why_agent", 0.7, map[string]any{"insight": "corrosion"}),
	}

	res := s.Synthesize("j1", playbook.KindQuery, results)

	if len(res.Bullets) != 3 {
		t.Fatalf("expected 3 bullets, got %d", len(res.Bullets))
	}
	if len(res.AgentsSkipped) != 1 || res.AgentsSkipped[0] != "when_agent" {
		t.Errorf("unexpected agents_skipped: %v", res.AgentsSkipped)
	}
	if res.Summary != "3 of 4 agents answered" {
		t.Errorf("unexpected summary: %q", res.Summary)
	}
}

func TestMeanConfidence(t *testing.T) {
	s := New(config.DomainConfig{})
	results := []*agent.Result{
		ok("a", 0.9, map[string]any{"x": 1.0}),
		ok("b", 0.7, map[string]any{"y": 2.0}),
		{AgentID: "c", Status: agent.StatusSkipped},
	}

	res := s.Synthesize("j1", playbook.KindIngestion, results)
	if res.Confidence < 0.79 || res.Confidence > 0.81 {
		t.Errorf("expected mean confidence 0.8 over included agents, got %f", res.Confidence)
	}
}

func TestAllAgentsFailed(t *testing.T) {
	s := New(config.DomainConfig{})
	results := []*agent.Result{
		{AgentID: "a", Status: agent.StatusExecutionFailed},
		{AgentID: "b", Status: agent.StatusValidationFailed},
	}

	res := s.Synthesize("j1", playbook.KindIngestion, results)

	if len(res.Content) != 0 {
		t.Errorf("expected empty content, got %+v", res.Content)
	}
	if res.Confidence != 0 {
		t.Errorf("expected zero confidence, got %f", res.Confidence)
	}
	if res.Summary != "merged 0 of 2 agents" {
		t.Errorf("unexpected summary: %q", res.Summary)
	}
}
