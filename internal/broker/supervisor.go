package broker

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

var errUnexpectedExit = errors.New("consumer exited without error")

// Failure reports a consumer that exited with a broker error.
type Failure struct {
	Route    string
	Err      error
	Restarts int
	At       time.Time
}

// Supervisor runs each Consumer in its own goroutine and restarts it with
// exponential backoff when it fails.
type Supervisor struct {
	consumers  []*Consumer
	failures   chan Failure
	minBackoff time.Duration
	maxBackoff time.Duration
	logger     *slog.Logger
}

// NewSupervisor creates a Supervisor with a 1s..1m restart backoff.
func NewSupervisor(logger *slog.Logger) *Supervisor {
	if logger == nil {
		logger = slog.Default()
	}
	return &Supervisor{
		failures:   make(chan Failure, 16),
		minBackoff: time.Second,
		maxBackoff: time.Minute,
		logger:     logger,
	}
}

// WithBackoff overrides the restart delay bounds.
func (s *Supervisor) WithBackoff(min, max time.Duration) *Supervisor {
	s.minBackoff, s.maxBackoff = min, max
	return s
}

// Add registers a consumer. Call before Run.
func (s *Supervisor) Add(c *Consumer) {
	s.consumers = append(s.consumers, c)
}

// Failures delivers one entry per consumer crash. Entries are dropped if the
// channel is not drained.
func (s *Supervisor) Failures() <-chan Failure {
	return s.failures
}

// Run blocks until ctx is cancelled and every consumer has returned.
func (s *Supervisor) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for _, c := range s.consumers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.supervise(ctx, c)
		}()
	}
	wg.Wait()
}

func (s *Supervisor) supervise(ctx context.Context, c *Consumer) {
	backoff := s.minBackoff
	restarts := 0
	for {
		started := time.Now()
		err := c.Run(ctx)
		if ctx.Err() != nil {
			return
		}
		if err == nil {
			err = errUnexpectedExit
		}

		// A consumer that stayed up longer than the cap is considered
		// healthy again.
		if time.Since(started) > s.maxBackoff {
			backoff = s.minBackoff
		}

		f := Failure{Route: c.Route().Name(), Err: err, Restarts: restarts, At: time.Now().UTC()}
		select {
		case s.failures <- f:
		default:
		}
		s.logger.Error("consumer crashed, restarting", "route", f.Route, "error", err, "restarts", restarts, "backoff", backoff)

		if !sleep(ctx, backoff) {
			return
		}
		restarts++
		backoff *= 2
		if backoff > s.maxBackoff {
			backoff = s.maxBackoff
		}
	}
}
