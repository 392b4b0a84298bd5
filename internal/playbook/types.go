package playbook

// Kind selects which pipeline a playbook drives.
type Kind string

const (
	KindIngestion Kind = "ingestion"
	KindQuery     Kind = "query"
)

// FieldType is the declared runtime type of one output schema key.
type FieldType string

const (
	FieldString  FieldType = "string"
	FieldNumber  FieldType = "number"
	FieldBoolean FieldType = "boolean"
	FieldArray   FieldType = "array"
	FieldObject  FieldType = "object"
)

// Valid reports whether t is one of the five declarable types.
func (t FieldType) Valid() bool {
	switch t {
	case FieldString, FieldNumber, FieldBoolean, FieldArray, FieldObject:
		return true
	}
	return false
}

// AgentRef places one agent in a playbook, optionally under a parent whose
// output feeds into the agent's input.
type AgentRef struct {
	AgentID       string `json:"agent_id" yaml:"agent_id"`
	ParentAgentID string `json:"parent_agent_id,omitempty" yaml:"parent_agent_id,omitempty"`
}

// Playbook is an ordered pipeline of agent references for one tenant domain.
// Declaration order is presentation order for synthesized results.
type Playbook struct {
	PlaybookID string     `json:"playbook_id" yaml:"playbook_id"`
	TenantID   string     `json:"tenant_id" yaml:"tenant_id"`
	DomainID   string     `json:"domain_id" yaml:"domain_id"`
	Kind       Kind       `json:"kind" yaml:"kind"`
	Agents     []AgentRef `json:"agents" yaml:"agents"`
}

// AgentIDs returns the referenced agent ids in declaration order.
func (p *Playbook) AgentIDs() []string {
	ids := make([]string, len(p.Agents))
	for i, ref := range p.Agents {
		ids[i] = ref.AgentID
	}
	return ids
}

// AgentDefinition configures one specialist agent. Definitions are resolved
// into a read-only snapshot before a job starts and never change mid-run.
type AgentDefinition struct {
	AgentID      string               `json:"agent_id" yaml:"agent_id"`
	Instructions string               `json:"instructions" yaml:"instructions"`
	AllowedTools []string             `json:"allowed_tools" yaml:"allowed_tools"`
	OutputSchema map[string]FieldType `json:"output_schema" yaml:"output_schema"`
}

// AllowsTool reports whether the definition lists tool among its allowed set.
func (d *AgentDefinition) AllowsTool(tool string) bool {
	for _, t := range d.AllowedTools {
		if t == tool {
			return true
		}
	}
	return false
}
