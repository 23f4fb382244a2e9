package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"
)

// Job statuses.
const (
	JobPending   = "pending"
	JobRunning   = "running"
	JobCompleted = "completed"
	JobFailed    = "failed"
)

const defaultMaxAttempts = 3

const jobColumns = `id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at, last_error`

func timestamp(t time.Time) string { return t.UTC().Format(time.RFC3339) }

// EnqueueJob inserts a pending job. A zero RunAfter means "now" and a zero
// MaxAttempts means 3.
func (s *Store) EnqueueJob(ctx context.Context, job Job) error {
	now := time.Now()
	if job.RunAfter.IsZero() {
		job.RunAfter = now
	}
	if job.MaxAttempts == 0 {
		job.MaxAttempts = defaultMaxAttempts
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO jobs (id, type, payload_json, status, attempts, max_attempts, run_after, created_at, updated_at)
		VALUES (?, ?, ?, ?, 0, ?, ?, ?, ?)`,
		job.ID, job.Type, job.PayloadJSON, JobPending, job.MaxAttempts, timestamp(job.RunAfter), timestamp(now), timestamp(now),
	)
	if err != nil {
		return fmt.Errorf("enqueueing job %s: %w", job.ID, err)
	}
	return nil
}

// ClaimNextJob atomically moves the oldest runnable job of one of types to
// running and returns it, or nil when none is due.
func (s *Store) ClaimNextJob(ctx context.Context, types []string) (*Job, error) {
	if len(types) == 0 {
		return nil, nil
	}
	now := timestamp(time.Now())

	args := []any{JobRunning, now, JobPending, now}
	for _, t := range types {
		args = append(args, t)
	}
	j, err := scanJob(s.db.QueryRowContext(ctx, `
		UPDATE jobs SET status = ?, updated_at = ?
		WHERE id = (
			SELECT id FROM jobs
			WHERE status = ? AND run_after <= ? AND type IN (`+placeholders(len(types))+`)
			ORDER BY run_after, created_at
			LIMIT 1
		)
		RETURNING `+jobColumns, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("claiming job: %w", err)
	}
	return j, nil
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?,", n), ",")
}

func (s *Store) CompleteJob(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `UPDATE jobs SET status = ?, updated_at = ? WHERE id = ?`, JobCompleted, timestamp(time.Now()), id)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

// FailJob records a failed attempt. Until max_attempts is reached the job
// goes back to pending after 2^attempts seconds; then it is failed for good.
func (s *Store) FailJob(ctx context.Context, id string, errMsg string) error {
	return s.inTx(ctx, func(tx *sql.Tx) error {
		var attempts, maxAttempts int
		err := tx.QueryRowContext(ctx, `SELECT attempts, max_attempts FROM jobs WHERE id = ?`, id).Scan(&attempts, &maxAttempts)
		if errors.Is(err, sql.ErrNoRows) {
			return ErrNotFound
		}
		if err != nil {
			return err
		}

		attempts++
		now := time.Now()
		status, runAfter := JobFailed, now
		if attempts < maxAttempts {
			status, runAfter = JobPending, now.Add(time.Second<<attempts)
		}
		_, err = tx.ExecContext(ctx, `
			UPDATE jobs SET status = ?, attempts = ?, last_error = ?, run_after = ?, updated_at = ?
			WHERE id = ?`,
			status, attempts, errMsg, timestamp(runAfter), timestamp(now), id)
		return err
	})
}

// RequeueStale returns running jobs of types untouched for longer than
// olderThan to pending, for workers that died mid-job. It returns how many
// were requeued.
func (s *Store) RequeueStale(ctx context.Context, types []string, olderThan time.Duration) (int, error) {
	if len(types) == 0 {
		return 0, nil
	}
	now := time.Now()
	args := []any{JobPending, timestamp(now), JobRunning, timestamp(now.Add(-olderThan))}
	for _, t := range types {
		args = append(args, t)
	}
	res, err := s.db.ExecContext(ctx, `
		UPDATE jobs SET status = ?, updated_at = ?
		WHERE status = ? AND updated_at < ? AND type IN (`+placeholders(len(types))+`)`, args...)
	if err != nil {
		return 0, fmt.Errorf("requeueing stale jobs: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

func (s *Store) GetJob(ctx context.Context, id string) (Job, error) {
	j, err := scanJob(s.db.QueryRowContext(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrNotFound
	}
	if err != nil {
		return Job{}, err
	}
	return *j, nil
}

// JobCounts returns the number of jobs per status.
func (s *Store) JobCounts(ctx context.Context) (map[string]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT status, COUNT(*) FROM jobs GROUP BY status`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var status string
		var n int
		if err := rows.Scan(&status, &n); err != nil {
			return nil, err
		}
		counts[status] = n
	}
	return counts, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanJob(row rowScanner) (*Job, error) {
	var (
		j                          Job
		runAfter, created, updated string
		lastError                  sql.NullString
	)
	if err := row.Scan(&j.ID, &j.Type, &j.PayloadJSON, &j.Status, &j.Attempts, &j.MaxAttempts,
		&runAfter, &created, &updated, &lastError); err != nil {
		return nil, err
	}
	j.LastError = lastError.String

	for _, f := range []struct {
		name string
		raw  string
		dst  *time.Time
	}{
		{"run_after", runAfter, &j.RunAfter},
		{"created_at", created, &j.CreatedAt},
		{"updated_at", updated, &j.UpdatedAt},
	} {
		t, err := parseTime(f.raw)
		if err != nil {
			return nil, fmt.Errorf("job %s: parsing %s: %w", j.ID, f.name, err)
		}
		*f.dst = t
	}
	return &j, nil
}

// parseTime accepts RFC3339 and the "YYYY-MM-DD HH:MM:SS" form SQLite uses
// for CURRENT_TIMESTAMP defaults.
func parseTime(s string) (time.Time, error) {
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Parse(time.DateTime, s)
}

func expectOneRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
