package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// SaveActivity inserts an activity record. Saving the same ID twice is a
// no-op, which keeps redelivered broker messages from duplicating rows.
func (s *Store) SaveActivity(ctx context.Context, a Activity) error {
	meta := a.Metadata
	if meta == "" {
		meta = "{}"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO activities (id, user_id, kind, occurred_at, metadata) VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING`,
		a.ID, a.UserID, a.Kind, a.OccurredAt.UTC().Format(time.RFC3339), meta)
	return err
}

// ListActivities returns a user's activities, most recent first.
func (s *Store) ListActivities(ctx context.Context, userID string, limit int) ([]Activity, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, user_id, kind, occurred_at, metadata FROM activities
		WHERE user_id = ? ORDER BY occurred_at DESC, id ASC LIMIT ?`, userID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Activity
	for rows.Next() {
		var a Activity
		var occurredAt string
		if err := rows.Scan(&a.ID, &a.UserID, &a.Kind, &occurredAt, &a.Metadata); err != nil {
			return nil, err
		}
		if a.OccurredAt, err = parseTime(occurredAt); err != nil {
			return nil, fmt.Errorf("parsing occurred_at: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) GetStreak(ctx context.Context, userID string) (Streak, error) {
	st := Streak{UserID: userID}
	err := s.db.QueryRowContext(ctx, `SELECT current, longest, last_active_day FROM streaks WHERE user_id = ?`, userID).
		Scan(&st.Current, &st.Longest, &st.LastActiveDay)
	if err == sql.ErrNoRows {
		return Streak{}, ErrNotFound
	}
	return st, err
}

// UpdateStreak applies fn to the user's streak (zero value if none) and
// stores the result in one transaction.
func (s *Store) UpdateStreak(ctx context.Context, userID string, fn func(Streak) Streak) (Streak, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Streak{}, fmt.Errorf("beginning streak transaction: %w", err)
	}
	defer tx.Rollback()

	current := Streak{UserID: userID}
	err = tx.QueryRowContext(ctx, `SELECT current, longest, last_active_day FROM streaks WHERE user_id = ?`, userID).
		Scan(&current.Current, &current.Longest, &current.LastActiveDay)
	if err != nil && err != sql.ErrNoRows {
		return Streak{}, err
	}

	next := fn(current)
	next.UserID = userID
	if _, err := tx.ExecContext(ctx, `
		INSERT INTO streaks (user_id, current, longest, last_active_day) VALUES (?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET current = excluded.current, longest = excluded.longest, last_active_day = excluded.last_active_day`,
		userID, next.Current, next.Longest, next.LastActiveDay); err != nil {
		return Streak{}, fmt.Errorf("saving streak: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return Streak{}, err
	}
	return next, nil
}
