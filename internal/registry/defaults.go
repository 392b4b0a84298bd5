package registry

import (
	"fmt"

	"github.com/chorale-dev/chorale/internal/playbook"
)

// The default agent sets below back every tenant that has no playbook of its
// own. Ingestion extracts location, time, entities and severity from free
// text; queries answer along the what/where/when/why axes. Both sets rely
// only on the inference tool, except the geo agent which may also geocode.

// DefaultPlaybook builds the fallback playbook for a job kind.
func DefaultPlaybook(tenantID, domainID string, kind playbook.Kind) *playbook.Playbook {
	pb := &playbook.Playbook{
		PlaybookID: fmt.Sprintf("default-%s", kind),
		TenantID:   tenantID,
		DomainID:   domainID,
		Kind:       kind,
	}
	if kind == playbook.KindQuery {
		pb.Agents = []playbook.AgentRef{
			{AgentID: "what_agent"},
			{AgentID: "where_agent"},
			{AgentID: "when_agent"},
			{AgentID: "why_agent"},
		}
		return pb
	}
	pb.Agents = []playbook.AgentRef{
		{AgentID: "geo_agent"},
		{AgentID: "temporal_agent"},
		{AgentID: "entity_agent"},
		{AgentID: "severity_agent", ParentAgentID: "entity_agent"},
	}
	return pb
}

// DefaultAgentDefinitions returns the definitions for the fallback set.
func DefaultAgentDefinitions(kind playbook.Kind) map[string]*playbook.AgentDefinition {
	if kind == playbook.KindQuery {
		defs := make(map[string]*playbook.AgentDefinition, 4)
		for id, question := range map[string]string{
			"what_agent":  "Answer what happened according to the stored reports.",
			"where_agent": "Answer where the events took place, as precisely as possible.",
			"when_agent":  "Answer when the events took place.",
			"why_agent":   "Answer why the events likely happened, noting uncertainty.",
		} {
			defs[id] = &playbook.AgentDefinition{
				AgentID:      id,
				Instructions: question,
				AllowedTools: []string{"infer"},
				OutputSchema: map[string]playbook.FieldType{"insight": playbook.FieldString},
			}
		}
		return defs
	}

	return map[string]*playbook.AgentDefinition{
		"geo_agent": {
			AgentID:      "geo_agent",
			Instructions: "Extract the location the text refers to and resolve it to coordinates.",
			AllowedTools: []string{"infer", "geocode"},
			OutputSchema: map[string]playbook.FieldType{
				"latitude":  playbook.FieldNumber,
				"longitude": playbook.FieldNumber,
				"address":   playbook.FieldString,
			},
		},
		"temporal_agent": {
			AgentID:      "temporal_agent",
			Instructions: "Extract when the described events occurred, normalized to RFC 3339.",
			AllowedTools: []string{"infer"},
			OutputSchema: map[string]playbook.FieldType{
				"occurred_at": playbook.FieldString,
			},
		},
		"entity_agent": {
			AgentID:      "entity_agent",
			Instructions: "Extract the entities involved: infrastructure, organizations, objects.",
			AllowedTools: []string{"infer"},
			OutputSchema: map[string]playbook.FieldType{
				"entities": playbook.FieldArray,
			},
		},
		"severity_agent": {
			AgentID:      "severity_agent",
			Instructions: "Rate the severity of the incident from 1 to 5 given the entities found.",
			AllowedTools: []string{"infer"},
			OutputSchema: map[string]playbook.FieldType{
				"severity":  playbook.FieldNumber,
				"rationale": playbook.FieldString,
			},
		},
	}
}
