package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Producer is the process-wide publish endpoint. Construct one at startup,
// pass it to every publisher, and Close it on shutdown. It is safe for
// concurrent use.
type Producer struct {
	mu     sync.Mutex
	w      Writer
	closed bool
	logger *slog.Logger
}

// NewProducer wraps w. The Producer owns w and closes it in Close.
func NewProducer(w Writer, logger *slog.Logger) *Producer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Producer{w: w, logger: logger}
}

// Publish encodes payload as JSON and hands it to the transport. A nil error
// means the message was accepted for delivery, not that anyone consumed it.
func (p *Producer) Publish(ctx context.Context, topic string, payload any) error {
	return p.PublishKey(ctx, topic, "", payload)
}

// PublishKey is Publish with a partition key. Messages sharing a key keep
// their relative order.
func (p *Producer) PublishKey(ctx context.Context, topic, key string, payload any) error {
	value, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding %s payload: %w", topic, err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return ErrClosed
	}
	msg := Message{Topic: topic, Key: key, Value: value, Time: time.Now().UTC()}
	if err := p.w.Write(ctx, msg); err != nil {
		return fmt.Errorf("publishing to %s: %w", topic, err)
	}
	p.logger.Debug("message published", "topic", topic, "key", key, "bytes", len(value))
	return nil
}

// Close flushes and releases the writer. Later publishes fail with ErrClosed.
func (p *Producer) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.w.Close()
}
