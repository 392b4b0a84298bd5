// Package synth folds per-agent results into one job result. Ingestion jobs
// merge outputs into a single record; query jobs render ordered bullets.
// Agent order follows the playbook declaration, never completion time.
package synth

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/muesli/reflow/truncate"

	"github.com/chorale-dev/chorale/internal/agent"
	"github.com/chorale-dev/chorale/internal/config"
	"github.com/chorale-dev/chorale/internal/playbook"
)

const (
	defaultInsightMaxChars = 160

	// MergeFlat folds outputs into one record, later agents win collisions.
	// MergeByAgent nests each agent's output under its id.
	MergeFlat    = "flat"
	MergeByAgent = "by_agent"
)

// Bullet is one agent's contribution to a query answer.
type Bullet struct {
	AgentID    string  `json:"agent_id"`
	Insight    string  `json:"insight"`
	Confidence float64 `json:"confidence"`
}

// Result is the synthesized outcome of a job.
type Result struct {
	JobID         string         `json:"job_id"`
	Kind          playbook.Kind  `json:"kind"`
	Content       map[string]any `json:"content,omitempty"`
	Bullets       []Bullet       `json:"bullets,omitempty"`
	AgentsSkipped []string       `json:"agents_skipped"`
	Warnings      []string       `json:"warnings,omitempty"`
	Summary       string         `json:"summary"`
	Confidence    float64        `json:"confidence"`
}

// Synthesizer renders job results according to the domain's settings.
type Synthesizer struct {
	maxInsightChars int
	strategy        string
}

func New(dc config.DomainConfig) *Synthesizer {
	maxChars := dc.InsightMaxChars
	if maxChars <= 0 {
		maxChars = defaultInsightMaxChars
	}
	strategy := dc.MergeStrategy
	if strategy == "" {
		strategy = MergeFlat
	}
	return &Synthesizer{maxInsightChars: maxChars, strategy: strategy}
}

// Synthesize folds results into one Result. The results slice must be in
// playbook-declared order; only successful agents contribute. Query results
// list every non-contributing agent in agents_skipped; ingestion results
// list only agents that were never invoked and carry the rest as warnings.
func (s *Synthesizer) Synthesize(jobID string, kind playbook.Kind, results []*agent.Result) *Result {
	out := &Result{
		JobID:         jobID,
		Kind:          kind,
		AgentsSkipped: []string{},
	}

	included := 0
	var confidenceSum float64
	for _, r := range results {
		if r.Status == agent.StatusSuccess {
			included++
			confidenceSum += r.Confidence
			continue
		}
		if kind == playbook.KindQuery || r.Status == agent.StatusSkipped {
			out.AgentsSkipped = append(out.AgentsSkipped, r.AgentID)
		}
		if kind != playbook.KindQuery &&
			(r.Status == agent.StatusExecutionFailed || r.Status == agent.StatusToolDenied) {
			out.Warnings = append(out.Warnings,
				fmt.Sprintf("agent %q %s: %s", r.AgentID, r.Status, r.ErrorDetail))
		}
	}
	if included > 0 {
		out.Confidence = confidenceSum / float64(included)
	}

	switch kind {
	case playbook.KindQuery:
		s.renderBullets(out, results)
		out.Summary = fmt.Sprintf("%d of %d agents answered", included, len(results))
	default:
		s.mergeOutputs(out, results)
		out.Summary = fmt.Sprintf("merged %d of %d agents", included, len(results))
	}

	return out
}

func (s *Synthesizer) mergeOutputs(out *Result, results []*agent.Result) {
	out.Content = make(map[string]any)

	if s.strategy == MergeByAgent {
		for _, r := range results {
			if r.Status != agent.StatusSuccess {
				continue
			}
			out.Content[r.AgentID] = r.Output
		}
		return
	}

	source := make(map[string]string)
	for _, r := range results {
		if r.Status != agent.StatusSuccess {
			continue
		}
		for _, key := range sortedKeys(r.Output) {
			if prev, exists := source[key]; exists {
				out.Warnings = append(out.Warnings,
					fmt.Sprintf("key %q from agent %q overwritten by agent %q", key, prev, r.AgentID))
			}
			out.Content[key] = r.Output[key]
			source[key] = r.AgentID
		}
	}
}

func (s *Synthesizer) renderBullets(out *Result, results []*agent.Result) {
	for _, r := range results {
		if r.Status != agent.StatusSuccess {
			continue
		}
		out.Bullets = append(out.Bullets, Bullet{
			AgentID:    r.AgentID,
			Insight:    s.insightOf(r.Output),
			Confidence: r.Confidence,
		})
	}
}

// insightOf flattens an output into one short line. Agents that answer with
// an "insight" or "summary" key get it verbatim, anything else is compacted.
func (s *Synthesizer) insightOf(output map[string]any) string {
	text, ok := output["insight"].(string)
	if !ok {
		text, ok = output["summary"].(string)
	}
	if !ok {
		data, err := json.Marshal(output)
		if err != nil {
			text = fmt.Sprint(output)
		} else {
			text = string(data)
		}
	}
	text = strings.Join(strings.Fields(text), " ")
	return truncate.StringWithTail(text, uint(s.maxInsightChars), "...")
}

func sortedKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
