package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Job is the persisted record of one orchestration run.
type Job struct {
	ID          string          `json:"id"`
	Type        string          `json:"job_type"`
	TenantID    string          `json:"tenant_id"`
	UserID      string          `json:"user_id,omitempty"`
	DomainID    string          `json:"domain_id"`
	Input       string          `json:"input"`
	State       string          `json:"state"`
	Result      json.RawMessage `json:"result,omitempty"`
	Error       string          `json:"error,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	UpdatedAt   time.Time       `json:"updated_at"`
	CompletedAt *time.Time      `json:"completed_at,omitempty"`
}

const jobColumns = `id, job_type, tenant_id, user_id, domain_id, input, state, result, error, created_at, updated_at, completed_at`

func scanJob(sc scanner) (*Job, error) {
	j := &Job{}
	var userID, result, errMsg sql.NullString
	err := sc.Scan(&j.ID, &j.Type, &j.TenantID, &userID, &j.DomainID, &j.Input,
		&j.State, &result, &errMsg, &j.CreatedAt, &j.UpdatedAt, &j.CompletedAt)
	if err != nil {
		return nil, err
	}
	j.UserID = userID.String
	j.Error = errMsg.String
	if result.Valid {
		j.Result = json.RawMessage(result.String)
	}
	return j, nil
}

// SaveJob upserts a job record, refreshing state and error on conflict.
func (s *Store) SaveJob(ctx context.Context, j *Job) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, job_type, tenant_id, user_id, domain_id, input, state, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			state = excluded.state,
			error = excluded.error,
			updated_at = CURRENT_TIMESTAMP`,
		j.ID, j.Type, j.TenantID, j.UserID, j.DomainID, j.Input, j.State, j.Error)
	if err != nil {
		return fmt.Errorf("save job: %w", err)
	}
	return nil
}

// FinishJob records a job's terminal state.
func (s *Store) FinishJob(ctx context.Context, id, state, errDetail string) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE jobs
		SET state = ?, error = ?, updated_at = CURRENT_TIMESTAMP, completed_at = CURRENT_TIMESTAMP
		WHERE id = ?`, state, errDetail, id)
	if err != nil {
		return fmt.Errorf("finish job: %w", err)
	}
	return nil
}

// SaveResult persists a synthesized result for a job. This is the data
// service handoff; the caller decides what a failure means for the job.
func (s *Store) SaveResult(ctx context.Context, tenantID, domainID, jobID string, result json.RawMessage) error {
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET result = ?, updated_at = CURRENT_TIMESTAMP
		WHERE id = ? AND tenant_id = ? AND domain_id = ?`,
		string(result), jobID, tenantID, domainID)
	if err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("save result: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("save result: job %q not found for tenant %q", jobID, tenantID)
	}
	return nil
}

func (s *Store) GetJob(ctx context.Context, id string) (*Job, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id)
	j, err := scanJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get job: %w", err)
	}
	return j, nil
}

func (s *Store) ListJobs(ctx context.Context, tenantID string, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+jobColumns+` FROM jobs
		WHERE tenant_id = ? ORDER BY created_at DESC LIMIT ?`, tenantID, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, *j)
	}
	return jobs, rows.Err()
}

// JobAgent is the audit row for one agent within one job.
type JobAgent struct {
	JobID      string    `json:"job_id"`
	AgentID    string    `json:"agent_id"`
	Status     string    `json:"status"`
	Confidence float64   `json:"confidence"`
	Error      string    `json:"error,omitempty"`
	DurationMS int64     `json:"duration_ms"`
	CreatedAt  time.Time `json:"created_at"`
}

func (s *Store) RecordJobAgent(ctx context.Context, ja *JobAgent) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO job_agents (job_id, agent_id, status, confidence, error, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(job_id, agent_id) DO UPDATE SET
			status = excluded.status,
			confidence = excluded.confidence,
			error = excluded.error,
			duration_ms = excluded.duration_ms`,
		ja.JobID, ja.AgentID, ja.Status, ja.Confidence, ja.Error, ja.DurationMS)
	if err != nil {
		return fmt.Errorf("record job agent: %w", err)
	}
	return nil
}

func (s *Store) ListJobAgents(ctx context.Context, jobID string) ([]JobAgent, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT job_id, agent_id, status, confidence, error, duration_ms, created_at
		FROM job_agents WHERE job_id = ? ORDER BY created_at`, jobID)
	if err != nil {
		return nil, fmt.Errorf("list job agents: %w", err)
	}
	defer rows.Close()

	var out []JobAgent
	for rows.Next() {
		var ja JobAgent
		var errMsg sql.NullString
		var confidence sql.NullFloat64
		if err := rows.Scan(&ja.JobID, &ja.AgentID, &ja.Status, &confidence, &errMsg, &ja.DurationMS, &ja.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan job agent: %w", err)
		}
		ja.Error = errMsg.String
		ja.Confidence = confidence.Float64
		out = append(out, ja)
	}
	return out, rows.Err()
}
