package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/chorale-dev/chorale/internal/playbook"
)

// UpsertAgentDefinition mirrors one configured agent definition into the
// store so the web surface and audit joins can read it.
func (s *Store) UpsertAgentDefinition(ctx context.Context, def *playbook.AgentDefinition) error {
	tools, err := json.Marshal(def.AllowedTools)
	if err != nil {
		return fmt.Errorf("marshal allowed tools: %w", err)
	}
	schema, err := json.Marshal(def.OutputSchema)
	if err != nil {
		return fmt.Errorf("marshal output schema: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO agents (id, instructions, allowed_tools, output_schema)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			instructions = excluded.instructions,
			allowed_tools = excluded.allowed_tools,
			output_schema = excluded.output_schema,
			updated_at = CURRENT_TIMESTAMP`,
		def.AgentID, def.Instructions, string(tools), string(schema))
	if err != nil {
		return fmt.Errorf("upsert agent definition: %w", err)
	}
	return nil
}

func (s *Store) GetAgentDefinition(ctx context.Context, id string) (*playbook.AgentDefinition, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, instructions, allowed_tools, output_schema FROM agents WHERE id = ?`, id)
	def, err := scanAgentDefinition(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get agent definition: %w", err)
	}
	return def, nil
}

func (s *Store) ListAgentDefinitions(ctx context.Context) ([]playbook.AgentDefinition, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, instructions, allowed_tools, output_schema FROM agents ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list agent definitions: %w", err)
	}
	defer rows.Close()

	var defs []playbook.AgentDefinition
	for rows.Next() {
		def, err := scanAgentDefinition(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent definition: %w", err)
		}
		defs = append(defs, *def)
	}
	return defs, rows.Err()
}

func (s *Store) DeleteAgentDefinitionsNotIn(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		_, err := s.db.ExecContext(ctx, `DELETE FROM agents`)
		return err
	}
	query := `DELETE FROM agents WHERE id NOT IN (`
	args := make([]any, len(ids))
	for i, id := range ids {
		if i > 0 {
			query += ","
		}
		query += "?"
		args[i] = id
	}
	query += ")"
	_, err := s.db.ExecContext(ctx, query, args...)
	return err
}

func scanAgentDefinition(sc scanner) (*playbook.AgentDefinition, error) {
	def := &playbook.AgentDefinition{}
	var instructions sql.NullString
	var tools, schema string
	if err := sc.Scan(&def.AgentID, &instructions, &tools, &schema); err != nil {
		return nil, err
	}
	def.Instructions = instructions.String
	if err := json.Unmarshal([]byte(tools), &def.AllowedTools); err != nil {
		return nil, fmt.Errorf("unmarshal allowed tools: %w", err)
	}
	if err := json.Unmarshal([]byte(schema), &def.OutputSchema); err != nil {
		return nil, fmt.Errorf("unmarshal output schema: %w", err)
	}
	return def, nil
}
