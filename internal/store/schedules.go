package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// ScheduledJob is a recurring job submission: the scheduler turns each due
// row into a fresh job descriptor.
type ScheduledJob struct {
	ID         string     `json:"id"`
	TenantID   string     `json:"tenant_id"`
	DomainID   string     `json:"domain_id"`
	JobType    string     `json:"job_type"`
	Input      string     `json:"input"`
	Schedule   string     `json:"schedule"`
	Status     string     `json:"status"`
	NextRunAt  *time.Time `json:"next_run_at,omitempty"`
	LastRunAt  *time.Time `json:"last_run_at,omitempty"`
	LastStatus string     `json:"last_status,omitempty"`
	LastError  string     `json:"last_error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

const scheduledColumns = `id, tenant_id, domain_id, job_type, input, schedule, status, next_run_at, last_run_at, last_status, last_error, created_at`

func scanScheduledJob(sc scanner) (*ScheduledJob, error) {
	sj := &ScheduledJob{}
	var lastStatus, lastError sql.NullString
	err := sc.Scan(&sj.ID, &sj.TenantID, &sj.DomainID, &sj.JobType, &sj.Input, &sj.Schedule,
		&sj.Status, &sj.NextRunAt, &sj.LastRunAt, &lastStatus, &lastError, &sj.CreatedAt)
	if err != nil {
		return nil, err
	}
	sj.LastStatus = lastStatus.String
	sj.LastError = lastError.String
	return sj, nil
}

func (s *Store) SaveScheduledJob(ctx context.Context, sj *ScheduledJob) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO scheduled_jobs (id, tenant_id, domain_id, job_type, input, schedule, status, next_run_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			tenant_id = excluded.tenant_id,
			domain_id = excluded.domain_id,
			job_type = excluded.job_type,
			input = excluded.input,
			schedule = excluded.schedule,
			status = excluded.status,
			next_run_at = excluded.next_run_at`,
		sj.ID, sj.TenantID, sj.DomainID, sj.JobType, sj.Input, sj.Schedule, sj.Status, sj.NextRunAt)
	if err != nil {
		return fmt.Errorf("save scheduled job: %w", err)
	}
	return nil
}

func (s *Store) GetScheduledJob(ctx context.Context, id string) (*ScheduledJob, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+scheduledColumns+` FROM scheduled_jobs WHERE id = ?`, id)
	sj, err := scanScheduledJob(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get scheduled job: %w", err)
	}
	return sj, nil
}

func (s *Store) ListScheduledJobs(ctx context.Context) ([]ScheduledJob, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+scheduledColumns+` FROM scheduled_jobs ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list scheduled jobs: %w", err)
	}
	defer rows.Close()

	var out []ScheduledJob
	for rows.Next() {
		sj, err := scanScheduledJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan scheduled job: %w", err)
		}
		out = append(out, *sj)
	}
	return out, rows.Err()
}

func (s *Store) GetDueScheduledJobs(ctx context.Context, now time.Time) ([]ScheduledJob, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+scheduledColumns+` FROM scheduled_jobs
		WHERE status = 'active' AND next_run_at <= ?
		ORDER BY next_run_at`, now)
	if err != nil {
		return nil, fmt.Errorf("get due scheduled jobs: %w", err)
	}
	defer rows.Close()

	var out []ScheduledJob
	for rows.Next() {
		sj, err := scanScheduledJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan scheduled job: %w", err)
		}
		out = append(out, *sj)
	}
	return out, rows.Err()
}

func (s *Store) UpdateScheduledJobRun(ctx context.Context, id, lastStatus, lastError string, nextRunAt *time.Time) error {
	_, err := s.db.ExecContext(ctx, `
		UPDATE scheduled_jobs
		SET last_run_at = CURRENT_TIMESTAMP, last_status = ?, last_error = ?, next_run_at = ?
		WHERE id = ?`, lastStatus, lastError, nextRunAt, id)
	return err
}

func (s *Store) UpdateScheduledJobStatus(ctx context.Context, id, status string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE scheduled_jobs SET status = ? WHERE id = ?`, status, id)
	return err
}

func (s *Store) DeleteScheduledJob(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM scheduled_jobs WHERE id = ?`, id)
	return err
}
