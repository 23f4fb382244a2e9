package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"
)

// Handler processes one message. A returned error is logged; the message is
// committed regardless.
type Handler func(ctx context.Context, m Message) error

// JSONHandler decodes the message value into T before calling fn.
func JSONHandler[T any](fn func(ctx context.Context, payload T) error) Handler {
	return func(ctx context.Context, m Message) error {
		var payload T
		if err := json.Unmarshal(m.Value, &payload); err != nil {
			return fmt.Errorf("decoding %s message at offset %d: %w", m.Topic, m.Offset, err)
		}
		return fn(ctx, payload)
	}
}

// Route binds a handler to a topic set under a consumer group.
type Route struct {
	Topics  []string
	Group   string
	Handler Handler
}

// Name identifies the route in logs.
func (r Route) Name() string {
	return fmt.Sprintf("%s%v", r.Group, r.Topics)
}

// DefaultPollTimeout bounds each Fetch.
const DefaultPollTimeout = time.Second

// Consumer runs one Route: fetch, handle, commit, repeat. Messages are
// handled strictly one at a time.
type Consumer struct {
	route       Route
	transport   Transport
	pollTimeout time.Duration
	logger      *slog.Logger
}

// NewConsumer builds a Consumer for route over transport.
func NewConsumer(route Route, transport Transport, logger *slog.Logger) *Consumer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Consumer{
		route:       route,
		transport:   transport,
		pollTimeout: DefaultPollTimeout,
		logger:      logger.With("group", route.Group, "topics", route.Topics),
	}
}

// WithPollTimeout overrides DefaultPollTimeout.
func (c *Consumer) WithPollTimeout(d time.Duration) *Consumer {
	if d > 0 {
		c.pollTimeout = d
	}
	return c
}

// Route returns the consumer's registration.
func (c *Consumer) Route() Route { return c.route }

// Run polls until ctx is cancelled, returning nil, or until the broker fails
// with a non-transient error, which is returned.
func (c *Consumer) Run(ctx context.Context) error {
	r, err := c.transport.NewReader(ctx, c.route.Group, c.route.Topics)
	if err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return fmt.Errorf("opening reader for %s: %w", c.route.Name(), err)
	}
	defer r.Close()

	c.logger.Info("consumer started")
	defer c.logger.Info("consumer stopped")

	for {
		if ctx.Err() != nil {
			return nil
		}

		m, err := r.Fetch(ctx, c.pollTimeout)
		switch {
		case err == nil:
		case ctx.Err() != nil:
			return nil
		case errors.Is(err, ErrPartitionEOF):
			continue
		case errors.Is(err, ErrTransient):
			c.logger.Warn("transient broker error", "error", err)
			if !sleep(ctx, c.pollTimeout) {
				return nil
			}
			continue
		default:
			return fmt.Errorf("consumer %s: %w", c.route.Name(), err)
		}

		c.dispatch(ctx, m)

		if err := r.Commit(ctx, m); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			if errors.Is(err, ErrTransient) {
				c.logger.Warn("commit failed, message may be redelivered", "offset", m.Offset, "error", err)
				continue
			}
			return fmt.Errorf("consumer %s: committing offset %d: %w", c.route.Name(), m.Offset, err)
		}
	}
}

// dispatch runs the handler, turning errors and panics into log lines.
func (c *Consumer) dispatch(ctx context.Context, m Message) {
	start := time.Now()
	defer func() {
		if rec := recover(); rec != nil {
			c.logger.Error("handler panicked", "topic", m.Topic, "offset", m.Offset, "panic", rec, "stack", string(debug.Stack()))
		}
	}()
	if err := c.route.Handler(ctx, m); err != nil {
		c.logger.Error("handler failed", "topic", m.Topic, "offset", m.Offset, "error", err)
		return
	}
	c.logger.Debug("message handled", "topic", m.Topic, "offset", m.Offset, "elapsed", time.Since(start))
}

func sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}
