// Package validate screens agent outputs after execution: every successful
// agent is checked against its declared schema, then domain rules look across
// agents for contradictions. A failing agent is excluded from synthesis, it
// never aborts the job.
package validate

import (
	"github.com/chorale-dev/chorale/internal/agent"
	"github.com/chorale-dev/chorale/internal/config"
	"github.com/chorale-dev/chorale/internal/playbook"
	"github.com/chorale-dev/chorale/internal/schema"
)

// Finding names one agent excluded by validation and why.
type Finding struct {
	AgentID string `json:"agent_id"`
	Rule    string `json:"rule"`
	Detail  string `json:"detail"`
}

// Rule is a cross-agent consistency check. Rules only see agents that are
// still successful and report the ones to exclude.
type Rule interface {
	Name() string
	Check(results []*agent.Result) []Finding
}

// Validator runs the schema check and the configured rules over a job's
// results, demoting failures to validation_failed in place.
type Validator struct {
	rules []Rule
}

func New(rules ...Rule) *Validator {
	return &Validator{rules: rules}
}

// RulesFor assembles the cross-agent rules a domain enables.
func RulesFor(dc config.DomainConfig) []Rule {
	var rules []Rule
	if dc.GeoToleranceKM > 0 {
		rules = append(rules, NewGeoTolerance(dc.GeoToleranceKM))
	}
	return rules
}

// Apply validates results in declared order and returns what was excluded.
func (v *Validator) Apply(defs map[string]*playbook.AgentDefinition, results []*agent.Result) []Finding {
	var findings []Finding

	for _, r := range results {
		if r.Status != agent.StatusSuccess {
			continue
		}
		def, ok := defs[r.AgentID]
		if !ok {
			continue
		}
		if res := schema.Check(def.OutputSchema, r.Output); !res.OK() {
			r.Status = agent.StatusValidationFailed
			r.ErrorDetail = res.Detail
			findings = append(findings, Finding{AgentID: r.AgentID, Rule: "schema", Detail: res.Detail})
		}
	}

	for _, rule := range v.rules {
		remaining := successful(results)
		if len(remaining) == 0 {
			break
		}
		for _, f := range rule.Check(remaining) {
			f.Rule = rule.Name()
			findings = append(findings, f)
			for _, r := range results {
				if r.AgentID == f.AgentID && r.Status == agent.StatusSuccess {
					r.Status = agent.StatusValidationFailed
					r.ErrorDetail = f.Detail
				}
			}
		}
	}

	return findings
}

func successful(results []*agent.Result) []*agent.Result {
	out := make([]*agent.Result, 0, len(results))
	for _, r := range results {
		if r.Status == agent.StatusSuccess {
			out = append(out, r)
		}
	}
	return out
}
