package store

import (
	"context"
	"fmt"
	"time"

	"affiliate-pipeline/internal/models"

	sq "github.com/Masterminds/squirrel"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx/types"
)

// AcquireLease takes the named job's lease when it is free or older than ttl.
// It returns the lease token and whether the lease was acquired.
func (s *Store) AcquireLease(ctx context.Context, name string, ttl time.Duration) (string, bool, error) {
	_, err := s.db.ExecContext(ctx,
		s.q("INSERT INTO automation_jobs (job_name) VALUES (?) ON CONFLICT (job_name) DO NOTHING"),
		name)
	if err != nil {
		return "", false, fmt.Errorf("failed to register job: %w", err)
	}

	ts := now()
	token := uuid.New().String()

	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE automation_jobs SET running_since = ?, lease_token = ?
		WHERE job_name = ? AND (running_since IS NULL OR running_since < ?)`),
		ts, token, name, ts.Add(-ttl))
	if err != nil {
		return "", false, fmt.Errorf("failed to acquire lease: %w", err)
	}

	rows, err := res.RowsAffected()
	if err != nil {
		return "", false, err
	}
	if rows == 0 {
		return "", false, nil
	}
	return token, true, nil
}

// ReleaseLease frees the lease if token still owns it
func (s *Store) ReleaseLease(ctx context.Context, name, token string) error {
	_, err := s.db.ExecContext(ctx, s.q(`
		UPDATE automation_jobs SET running_since = NULL, lease_token = NULL
		WHERE job_name = ? AND lease_token = ?`),
		name, token)
	return err
}

// ExtendLease refreshes running_since while token still owns the lease.
// The ttl is applied at acquire time, so it is unused here.
func (s *Store) ExtendLease(ctx context.Context, name, token string, _ time.Duration) (bool, error) {
	res, err := s.db.ExecContext(ctx, s.q(`
		UPDATE automation_jobs SET running_since = ?
		WHERE job_name = ? AND lease_token = ?`),
		now(), name, token)
	if err != nil {
		return false, fmt.Errorf("failed to extend lease: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return rows > 0, nil
}

// RecordJobRun appends the run's log row and bumps the job counters in one transaction
func (s *Store) RecordJobRun(ctx context.Context, l *models.AutomationLog) error {
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if len(l.Details) == 0 {
		l.Details = types.JSONText("{}")
	}
	l.CreatedAt = now()

	err = tx.GetContext(ctx, &l.ID, s.q(`
		INSERT INTO automation_logs (job_name, status, message, details, duration_ms, created_at)
		VALUES (?, ?, ?, ?, ?, ?)
		RETURNING id`),
		l.JobName, l.Status, l.Message, l.Details, l.DurationMS, l.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to insert automation log: %w", err)
	}

	failed := 0
	if l.Status == models.JobStatusError {
		failed = 1
	}

	_, err = tx.ExecContext(ctx, s.q(`
		INSERT INTO automation_jobs (job_name, last_run, run_count, error_count)
		VALUES (?, ?, 1, ?)
		ON CONFLICT (job_name) DO UPDATE SET
			last_run = excluded.last_run,
			run_count = automation_jobs.run_count + 1,
			error_count = automation_jobs.error_count + excluded.error_count`),
		l.JobName, l.CreatedAt, failed)
	if err != nil {
		return fmt.Errorf("failed to update automation job: %w", err)
	}

	return tx.Commit()
}

// GetJob retrieves a job's bookkeeping row
func (s *Store) GetJob(ctx context.Context, name string) (*models.AutomationJob, error) {
	var job models.AutomationJob
	err := s.db.GetContext(ctx, &job, s.q(`
		SELECT job_name, schedule, last_run, run_count, error_count, running_since, lease_token
		FROM automation_jobs WHERE job_name = ?`), name)
	if err != nil {
		return nil, notFound(err, "job "+name)
	}
	return &job, nil
}

// ListJobLogs returns the most recent log rows; an empty name lists every job
func (s *Store) ListJobLogs(ctx context.Context, name string, limit int) ([]models.AutomationLog, error) {
	qb := s.sb.Select("id", "job_name", "status", "message", "details", "duration_ms", "created_at").
		From("automation_logs").
		OrderBy("id DESC")
	if name != "" {
		qb = qb.Where(sq.Eq{"job_name": name})
	}
	if limit > 0 {
		qb = qb.Limit(uint64(limit))
	}

	query, args, err := qb.ToSql()
	if err != nil {
		return nil, err
	}

	logs := []models.AutomationLog{}
	err = s.db.SelectContext(ctx, &logs, query, args...)
	return logs, err
}
