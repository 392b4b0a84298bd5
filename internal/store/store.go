package store

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"

	"github.com/chorale-dev/chorale/internal/config"
	_ "modernc.org/sqlite"
)

type Store struct {
	db *sql.DB
}

func New(cfg config.StoreConfig) (*Store, error) {
	dir := filepath.Dir(cfg.Path)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create data dir: %w", err)
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	// Enable WAL mode for concurrent read/write access and set a busy
	// timeout so writers retry instead of immediately returning SQLITE_BUSY.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
	}
	for _, p := range pragmas {
		if _, err := db.Exec(p); err != nil {
			return nil, fmt.Errorf("exec %s: %w", p, err)
		}
	}

	s := &Store{db: db}
	if err := s.migrate(); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}

	return s, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) migrate() error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS jobs (
			id           TEXT PRIMARY KEY,
			job_type     TEXT NOT NULL,
			tenant_id    TEXT NOT NULL,
			user_id      TEXT,
			domain_id    TEXT NOT NULL,
			input        TEXT NOT NULL,
			state        TEXT NOT NULL DEFAULT 'accepted',
			result       TEXT,
			error        TEXT,
			created_at   DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at   DATETIME DEFAULT CURRENT_TIMESTAMP,
			completed_at DATETIME
		)`,
		`CREATE INDEX IF NOT EXISTS idx_jobs_tenant ON jobs(tenant_id, created_at)`,
		`CREATE TABLE IF NOT EXISTS job_agents (
			job_id      TEXT NOT NULL REFERENCES jobs(id),
			agent_id    TEXT NOT NULL,
			status      TEXT NOT NULL,
			confidence  REAL,
			error       TEXT,
			duration_ms INTEGER,
			created_at  DATETIME DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (job_id, agent_id)
		)`,
		`CREATE TABLE IF NOT EXISTS agents (
			id            TEXT PRIMARY KEY,
			instructions  TEXT,
			allowed_tools TEXT,
			output_schema TEXT,
			created_at    DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at    DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS playbooks (
			id         TEXT PRIMARY KEY,
			tenant_id  TEXT NOT NULL,
			domain_id  TEXT NOT NULL,
			kind       TEXT NOT NULL,
			agents     TEXT NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_playbooks_scope ON playbooks(tenant_id, domain_id, kind)`,
		`CREATE TABLE IF NOT EXISTS secrets (
			name       TEXT PRIMARY KEY,
			value      BLOB NOT NULL,
			nonce      BLOB NOT NULL,
			created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
			updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE TABLE IF NOT EXISTS scheduled_jobs (
			id          TEXT PRIMARY KEY,
			tenant_id   TEXT NOT NULL,
			domain_id   TEXT NOT NULL,
			job_type    TEXT NOT NULL,
			input       TEXT NOT NULL,
			schedule    TEXT NOT NULL,
			status      TEXT DEFAULT 'active',
			next_run_at DATETIME,
			last_run_at DATETIME,
			last_status TEXT,
			last_error  TEXT,
			created_at  DATETIME DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_scheduled_next ON scheduled_jobs(status, next_run_at)`,
	}

	for _, m := range migrations {
		if _, err := s.db.Exec(m); err != nil {
			return fmt.Errorf("exec migration: %w", err)
		}
	}

	return nil
}

type scanner interface {
	Scan(dest ...any) error
}
