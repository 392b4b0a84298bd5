package validate

import (
	"strings"
	"testing"

	"github.com/chorale-dev/chorale/internal/agent"
	"github.com/chorale-dev/chorale/internal/config"
	"github.com/chorale-dev/chorale/internal/playbook"
)

func geoDefs() map[string]*playbook.AgentDefinition {
	return map[string]*playbook.AgentDefinition{
		"geo_agent": {
			AgentID: "geo_agent",
			OutputSchema: map[string]playbook.FieldType{
				"latitude":  playbook.FieldNumber,
				"longitude": playbook.FieldNumber,
			},
		},
		"entity_agent": {
			AgentID: "entity_agent",
			OutputSchema: map[string]playbook.FieldType{
				"entities": playbook.FieldArray,
			},
		},
	}
}

func TestApplySchemaPass(t *testing.T) {
	results := []*agent.Result{
		{AgentID: "geo_agent", Status: agent.StatusSuccess,
			Output: map[string]any{"latitude": 40.7, "longitude": -74.0}},
		{AgentID: "entity_agent", Status: agent.StatusSuccess,
			Output: map[string]any{"entities": []any{"bridge"}}},
	}

	findings := New().Apply(geoDefs(), results)
	if len(findings) != 0 {
		t.Fatalf("expected no findings, got %+v", findings)
	}
	for _, r := range results {
		if r.Status != agent.StatusSuccess {
			t.Errorf("agent %s should stay successful, got %s", r.AgentID, r.Status)
		}
	}
}

func TestApplySchemaFailureExcludesOnlyThatAgent(t *testing.T) {
	results := []*agent.Result{
		{AgentID: "geo_agent", Status: agent.StatusSuccess,
			Output: map[string]any{"latitude": "forty", "longitude": -74.0}},
		{AgentID: "entity_agent", Status: agent.StatusSuccess,
			Output: map[string]any{"entities": []any{"bridge"}}},
	}

	findings := New().Apply(geoDefs(), results)
	if len(findings) != 1 || findings[0].AgentID != "geo_agent" || findings[0].Rule != "schema" {
		t.Fatalf("unexpected findings: %+v", findings)
	}
	if results[0].Status != agent.StatusValidationFailed {
		t.Errorf("geo_agent should be validation_failed, got %s", results[0].Status)
	}
	if !strings.Contains(results[0].ErrorDetail, "latitude") {
		t.Errorf("detail should name the bad key, got %q", results[0].ErrorDetail)
	}
	if results[1].Status != agent.StatusSuccess {
		t.Errorf("entity_agent must not be affected, got %s", results[1].Status)
	}
}

func TestApplySkipsNonSuccessful(t *testing.T) {
	results := []*agent.Result{
		{AgentID: "geo_agent", Status: agent.StatusExecutionFailed, ErrorDetail: "timeout after 30s"},
		{AgentID: "entity_agent", Status: agent.StatusSkipped},
	}

	findings := New().Apply(geoDefs(), results)
	if len(findings) != 0 {
		t.Fatalf("expected no findings, got %+v", findings)
	}
	if results[0].Status != agent.StatusExecutionFailed || results[0].ErrorDetail != "timeout after 30s" {
		t.Errorf("failed agent must keep its original status and detail: %+v", results[0])
	}
}

func TestGeoToleranceWithin(t *testing.T) {
	rule := NewGeoTolerance(5)
	results := []*agent.Result{
		{AgentID: "geo_agent", Status: agent.StatusSuccess, Confidence: 0.9,
			Output: map[string]any{"latitude": 40.7128, "longitude": -74.0060}},
		{AgentID: "context_agent", Status: agent.StatusSuccess, Confidence: 0.8,
			Output: map[string]any{"latitude": 40.7306, "longitude": -73.9866}},
	}

	if findings := rule.Check(results); len(findings) != 0 {
		t.Errorf("agents ~2.5km apart are within a 5km tolerance, got %+v", findings)
	}
}

func TestGeoToleranceExceededFlagsLowerConfidence(t *testing.T) {
	defs := geoDefs()
	defs["context_agent"] = &playbook.AgentDefinition{
		AgentID: "context_agent",
		OutputSchema: map[string]playbook.FieldType{
			"latitude":  playbook.FieldNumber,
			"longitude": playbook.FieldNumber,
		},
	}
	results := []*agent.Result{
		{AgentID: "geo_agent", Status: agent.StatusSuccess, Confidence: 0.9,
			Output: map[string]any{"latitude": 40.7128, "longitude": -74.0060}},
		{AgentID: "context_agent", Status: agent.StatusSuccess, Confidence: 0.6,
			Output: map[string]any{"latitude": 34.0522, "longitude": -118.2437}},
	}

	v := New(NewGeoTolerance(5))
	findings := v.Apply(defs, results)

	if len(findings) != 1 {
		t.Fatalf("expected one finding, got %+v", findings)
	}
	if findings[0].AgentID != "context_agent" || findings[0].Rule != "geo_tolerance" {
		t.Errorf("lower-confidence agent should be flagged: %+v", findings[0])
	}
	if results[1].Status != agent.StatusValidationFailed {
		t.Errorf("flagged agent should be excluded, got %s", results[1].Status)
	}
	if results[0].Status != agent.StatusSuccess {
		t.Errorf("trusted agent must survive, got %s", results[0].Status)
	}
}

func TestGeoToleranceIgnoresAgentsWithoutCoordinates(t *testing.T) {
	rule := NewGeoTolerance(5)
	results := []*agent.Result{
		{AgentID: "geo_agent", Status: agent.StatusSuccess,
			Output: map[string]any{"latitude": 40.7, "longitude": -74.0}},
		{AgentID: "entity_agent", Status: agent.StatusSuccess,
			Output: map[string]any{"entities": []any{"bridge"}}},
	}

	if findings := rule.Check(results); len(findings) != 0 {
		t.Errorf("agents without coordinates are not comparable, got %+v", findings)
	}
}

func TestHaversine(t *testing.T) {
	// New York to Los Angeles is roughly 3936 km.
	d := haversineKM(40.7128, -74.0060, 34.0522, -118.2437)
	if d < 3900 || d > 3970 {
		t.Errorf("unexpected distance: %.1f km", d)
	}
	if z := haversineKM(40.7, -74.0, 40.7, -74.0); z != 0 {
		t.Errorf("identical points should be 0 km apart, got %.4f", z)
	}
}

func TestRulesFor(t *testing.T) {
	if rules := RulesFor(config.DomainConfig{}); len(rules) != 0 {
		t.Errorf("no rules expected for an empty domain config, got %d", len(rules))
	}
	rules := RulesFor(config.DomainConfig{GeoToleranceKM: 2})
	if len(rules) != 1 || rules[0].Name() != "geo_tolerance" {
		t.Errorf("expected the geo rule, got %+v", rules)
	}
}
