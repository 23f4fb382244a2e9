package broker

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/docintel/internal/storage"
)

// Log is the durable message log behind SQLiteTransport. *storage.Store
// implements it.
type Log interface {
	Subscribe(ctx context.Context, group string, topics []string) error
	AppendMessage(ctx context.Context, topic, key string, payload []byte) (int64, error)
	ClaimDelivery(ctx context.Context, group string, topics []string, lease time.Duration) (*storage.BrokerMessage, error)
	AckDelivery(ctx context.Context, group string, messageID int64) error
}

var _ Transport = (*SQLiteTransport)(nil)

// SQLiteTransport keeps topics in the application database. Unacknowledged
// deliveries are handed out again once their lease expires.
type SQLiteTransport struct {
	log   Log
	lease time.Duration
	poll  time.Duration
}

// NewSQLiteTransport returns a transport over log. poll is the interval
// between claim attempts inside one Fetch.
func NewSQLiteTransport(log Log, poll time.Duration) *SQLiteTransport {
	if poll <= 0 {
		poll = 100 * time.Millisecond
	}
	return &SQLiteTransport{log: log, lease: 30 * time.Second, poll: poll}
}

// WithLease changes how long a claimed message stays invisible to the rest
// of its group.
func (t *SQLiteTransport) WithLease(d time.Duration) *SQLiteTransport {
	t.lease = d
	return t
}

func (t *SQLiteTransport) NewWriter() (Writer, error) {
	return &sqliteWriter{log: t.log}, nil
}

func (t *SQLiteTransport) NewReader(ctx context.Context, group string, topics []string) (Reader, error) {
	if group == "" || len(topics) == 0 {
		return nil, fmt.Errorf("reader needs a group and at least one topic")
	}
	if err := t.log.Subscribe(ctx, group, topics); err != nil {
		return nil, err
	}
	return &sqliteReader{t: t, group: group, topics: topics}, nil
}

type sqliteWriter struct {
	log Log
}

func (w *sqliteWriter) Write(ctx context.Context, msgs ...Message) error {
	for _, m := range msgs {
		if _, err := w.log.AppendMessage(ctx, m.Topic, m.Key, m.Value); err != nil {
			return classifySQLite(err)
		}
	}
	return nil
}

func (w *sqliteWriter) Close() error { return nil }

type sqliteReader struct {
	t      *SQLiteTransport
	group  string
	topics []string
}

func (r *sqliteReader) Fetch(ctx context.Context, maxWait time.Duration) (Message, error) {
	deadline := time.Now().Add(maxWait)
	for {
		bm, err := r.t.log.ClaimDelivery(ctx, r.group, r.topics, r.t.lease)
		if err != nil {
			return Message{}, classifySQLite(err)
		}
		if bm != nil {
			return Message{
				Topic:  bm.Topic,
				Key:    bm.Key,
				Value:  bm.Payload,
				Offset: bm.ID,
				Time:   bm.CreatedAt,
			}, nil
		}
		wait := time.Until(deadline)
		if wait <= 0 {
			return Message{}, ErrPartitionEOF
		}
		if wait > r.t.poll {
			wait = r.t.poll
		}
		if !sleep(ctx, wait) {
			return Message{}, ctx.Err()
		}
	}
}

func (r *sqliteReader) Commit(ctx context.Context, m Message) error {
	return classifySQLite(r.t.log.AckDelivery(ctx, r.group, m.Offset))
}

func (r *sqliteReader) Close() error { return nil }

// classifySQLite treats lock contention as transient.
func classifySQLite(err error) error {
	if err == nil {
		return nil
	}
	msg := err.Error()
	if strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked") {
		return markTransient(err)
	}
	return err
}
