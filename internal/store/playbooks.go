package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/chorale-dev/chorale/internal/playbook"
)

func (s *Store) UpsertPlaybook(ctx context.Context, pb *playbook.Playbook) error {
	agents, err := json.Marshal(pb.Agents)
	if err != nil {
		return fmt.Errorf("marshal playbook agents: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO playbooks (id, tenant_id, domain_id, kind, agents)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			tenant_id = excluded.tenant_id,
			domain_id = excluded.domain_id,
			kind = excluded.kind,
			agents = excluded.agents,
			updated_at = CURRENT_TIMESTAMP`,
		pb.PlaybookID, pb.TenantID, pb.DomainID, string(pb.Kind), string(agents))
	if err != nil {
		return fmt.Errorf("upsert playbook: %w", err)
	}
	return nil
}

func (s *Store) GetPlaybook(ctx context.Context, tenantID, domainID string, kind playbook.Kind) (*playbook.Playbook, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, tenant_id, domain_id, kind, agents FROM playbooks
		WHERE tenant_id = ? AND domain_id = ? AND kind = ?
		ORDER BY updated_at DESC LIMIT 1`,
		tenantID, domainID, string(kind))
	pb, err := scanPlaybook(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get playbook: %w", err)
	}
	return pb, nil
}

func (s *Store) ListPlaybooks(ctx context.Context) ([]playbook.Playbook, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, tenant_id, domain_id, kind, agents FROM playbooks ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list playbooks: %w", err)
	}
	defer rows.Close()

	var pbs []playbook.Playbook
	for rows.Next() {
		pb, err := scanPlaybook(rows)
		if err != nil {
			return nil, fmt.Errorf("scan playbook: %w", err)
		}
		pbs = append(pbs, *pb)
	}
	return pbs, rows.Err()
}

func (s *Store) DeletePlaybooksNotIn(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		_, err := s.db.ExecContext(ctx, `DELETE FROM playbooks`)
		return err
	}
	query := `DELETE FROM playbooks WHERE id NOT IN (`
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

func scanPlaybook(sc scanner) (*playbook.Playbook, error) {
	pb := &playbook.Playbook{}
	var kind, agents string
	if err := sc.Scan(&pb.PlaybookID, &pb.TenantID, &pb.DomainID, &kind, &agents); err != nil {
		return nil, err
	}
	pb.Kind = playbook.Kind(kind)
	if err := json.Unmarshal([]byte(agents), &pb.Agents); err != nil {
		return nil, fmt.Errorf("unmarshal playbook agents: %w", err)
	}
	return pb, nil
}
