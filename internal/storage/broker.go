package storage

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// The broker log gives every subscribed consumer group its own delivery row
// per message. Groups therefore each see every message, while consumers inside
// one group compete for the same rows.

// Subscribe registers group for topics. Messages appended afterwards are
// delivered to the group; earlier ones are not.
func (s *Store) Subscribe(ctx context.Context, group string, topics []string) error {
	now := time.Now().UTC().Format(time.RFC3339)
	for _, t := range topics {
		if _, err := s.db.ExecContext(ctx, `
			INSERT INTO broker_subscriptions (group_name, topic, created_at) VALUES (?, ?, ?)
			ON CONFLICT(group_name, topic) DO NOTHING`, group, t, now); err != nil {
			return fmt.Errorf("subscribing %s to %s: %w", group, t, err)
		}
	}
	return nil
}

// AppendMessage writes a message to the log and fans out one pending delivery
// per subscribed group.
func (s *Store) AppendMessage(ctx context.Context, topic, key string, payload []byte) (int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("beginning append transaction: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.ExecContext(ctx, `INSERT INTO broker_messages (topic, msg_key, payload, created_at) VALUES (?, ?, ?, ?)`,
		topic, key, payload, time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return 0, fmt.Errorf("inserting message: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, err
	}

	if _, err := tx.ExecContext(ctx, `
		INSERT INTO broker_deliveries (message_id, group_name, topic, status)
		SELECT ?, group_name, topic, 'pending' FROM broker_subscriptions WHERE topic = ?`, id, topic); err != nil {
		return 0, fmt.Errorf("fanning out deliveries: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("committing append: %w", err)
	}
	return id, nil
}

// ClaimDelivery leases the oldest deliverable message for group on one of
// topics. Deliveries whose lease expired without an ack are handed out again.
// It returns nil when nothing is deliverable.
func (s *Store) ClaimDelivery(ctx context.Context, group string, topics []string, lease time.Duration) (*BrokerMessage, error) {
	if len(topics) == 0 {
		return nil, nil
	}
	now := time.Now().UTC()
	nowStr := now.Format(time.RFC3339)

	args := []any{group}
	for _, t := range topics {
		args = append(args, t)
	}
	args = append(args, nowStr)

	query := `SELECT m.id, m.topic, m.msg_key, m.payload, m.created_at
		FROM broker_deliveries d JOIN broker_messages m ON m.id = d.message_id
		WHERE d.group_name = ? AND d.topic IN (?` + strings.Repeat(",?", len(topics)-1) + `)
		AND (d.status = 'pending' OR (d.status = 'inflight' AND d.leased_until <= ?))
		ORDER BY d.message_id ASC
		LIMIT 1`

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("beginning claim transaction: %w", err)
	}
	defer tx.Rollback()

	var m BrokerMessage
	var createdAt string
	err = tx.QueryRowContext(ctx, query, args...).Scan(&m.ID, &m.Topic, &m.Key, &m.Payload, &createdAt)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("selecting delivery: %w", err)
	}

	leased, err := leaseDelivery(ctx, tx, group, m.ID, now, lease)
	if err != nil {
		return nil, err
	}
	if !leased {
		return nil, nil
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("committing claim: %w", err)
	}

	if m.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, fmt.Errorf("parsing created_at: %w", err)
	}
	return &m, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// leaseDelivery moves one delivery to inflight, but only while it is still
// claimable. It reports false when another claimer got there first.
func leaseDelivery(ctx context.Context, db execer, group string, messageID int64, now time.Time, lease time.Duration) (bool, error) {
	nowStr := now.UTC().Format(time.RFC3339)
	res, err := db.ExecContext(ctx, `
		UPDATE broker_deliveries SET status = 'inflight', attempts = attempts + 1, leased_until = ?
		WHERE message_id = ? AND group_name = ?
		AND (status = 'pending' OR (status = 'inflight' AND leased_until <= ?))`,
		now.Add(lease).UTC().Format(time.RFC3339), messageID, group, nowStr)
	if err != nil {
		return false, fmt.Errorf("leasing delivery: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("leasing delivery: %w", err)
	}
	return n == 1, nil
}

// AckDelivery marks the group's delivery of messageID as done.
func (s *Store) AckDelivery(ctx context.Context, group string, messageID int64) error {
	res, err := s.db.ExecContext(ctx, `UPDATE broker_deliveries SET status = 'done', leased_until = NULL WHERE message_id = ? AND group_name = ?`,
		messageID, group)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

// PendingDeliveries counts the deliveries not yet acknowledged by group.
func (s *Store) PendingDeliveries(ctx context.Context, group string) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM broker_deliveries WHERE group_name = ? AND status != 'done'`, group).Scan(&n)
	return n, err
}
