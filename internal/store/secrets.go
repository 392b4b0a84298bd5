package store

import (
	"context"
	"database/sql"
	"fmt"
)

// PutSecret stores one encrypted credential. Value and nonce come from the
// vault; the store never sees plaintext.
func (s *Store) PutSecret(ctx context.Context, name string, value, nonce []byte) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO secrets (name, value, nonce)
		VALUES (?, ?, ?)
		ON CONFLICT(name) DO UPDATE SET
			value = excluded.value,
			nonce = excluded.nonce,
			updated_at = CURRENT_TIMESTAMP`,
		name, value, nonce)
	if err != nil {
		return fmt.Errorf("put secret: %w", err)
	}
	return nil
}

func (s *Store) GetSecret(ctx context.Context, name string) (value, nonce []byte, err error) {
	err = s.db.QueryRowContext(ctx,
		`SELECT value, nonce FROM secrets WHERE name = ?`, name).Scan(&value, &nonce)
	if err == sql.ErrNoRows {
		return nil, nil, fmt.Errorf("secret %q not found", name)
	}
	if err != nil {
		return nil, nil, fmt.Errorf("get secret: %w", err)
	}
	return value, nonce, nil
}

func (s *Store) ListSecretNames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT name FROM secrets ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list secrets: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var n string
		if err := rows.Scan(&n); err != nil {
			return nil, err
		}
		names = append(names, n)
	}
	return names, rows.Err()
}

func (s *Store) DeleteSecret(ctx context.Context, name string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM secrets WHERE name = ?`, name)
	if err != nil {
		return fmt.Errorf("delete secret: %w", err)
	}
	return nil
}
