package retrieval

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/kalambet/docintel/internal/engine"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
)

// Embedder wraps an Engine to generate text embeddings of a fixed width.
type Embedder struct {
	engine   engine.Engine
	model    string
	dims     int
	limiter  *rate.Limiter
	attempts int
	backoff  time.Duration
}

// NewEmbedder creates an Embedder using the given Engine and model name.
func NewEmbedder(e engine.Engine, model string) *Embedder {
	return &Embedder{
		engine:   e,
		model:    model,
		limiter:  rate.NewLimiter(rate.Inf, 0),
		attempts: 4,
		backoff:  250 * time.Millisecond,
	}
}

// WithDimensions makes Embed reject vectors whose width is not dims.
func (e *Embedder) WithDimensions(dims int) *Embedder {
	e.dims = dims
	return e
}

// WithRateLimit caps requests to rps per second. rps <= 0 removes the cap.
func (e *Embedder) WithRateLimit(rps float64, burst int) *Embedder {
	if rps <= 0 {
		e.limiter = rate.NewLimiter(rate.Inf, 0)
		return e
	}
	if burst < 1 {
		burst = 1
	}
	e.limiter = rate.NewLimiter(rate.Limit(rps), burst)
	return e
}

// Dimensions returns the configured width, or 0 if unchecked.
func (e *Embedder) Dimensions() int { return e.dims }

// Embed returns the embedding vector for a single text. Transient engine
// failures are retried with exponential backoff.
func (e *Embedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, fmt.Errorf("%w: empty text", ErrInvalidInput)
	}

	var vec []float32
	err := engine.Retry(ctx, e.attempts, e.backoff, func() error {
		if err := e.limiter.Wait(ctx); err != nil {
			return err
		}
		var err error
		vec, err = e.engine.Embed(ctx, e.model, text)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("embedding text: %w", err)
	}
	if e.dims > 0 && len(vec) != e.dims {
		return nil, fmt.Errorf("%w: model %s returned %d dimensions, want %d", ErrDimensionMismatch, e.model, len(vec), e.dims)
	}
	return vec, nil
}

// EmbedBatch returns embedding vectors for texts, in input order. Engines
// that implement engine.BatchEmbedder get requests of up to batchSize texts;
// others are called once per text with bounded concurrency.
func (e *Embedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return nil, fmt.Errorf("%w: empty text at %d", ErrInvalidInput, i)
		}
	}
	if be, ok := e.engine.(engine.BatchEmbedder); ok {
		return e.embedBatched(ctx, be, texts)
	}

	results := make([][]float32, len(texts))
	g, gCtx := errgroup.WithContext(ctx)
	g.SetLimit(4)

	for i, text := range texts {
		g.Go(func() error {
			vec, err := e.Embed(gCtx, text)
			if err != nil {
				return fmt.Errorf("embedding text %d: %w", i, err)
			}
			results[i] = vec
			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

const batchSize = 32

func (e *Embedder) embedBatched(ctx context.Context, be engine.BatchEmbedder, texts []string) ([][]float32, error) {
	results := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += batchSize {
		chunk := texts[start:min(start+batchSize, len(texts))]

		var vecs [][]float32
		err := engine.Retry(ctx, e.attempts, e.backoff, func() error {
			if err := e.limiter.Wait(ctx); err != nil {
				return err
			}
			var err error
			vecs, err = be.EmbedBatch(ctx, e.model, chunk)
			return err
		})
		if err != nil {
			return nil, fmt.Errorf("embedding texts %d-%d: %w", start, start+len(chunk)-1, err)
		}
		if len(vecs) != len(chunk) {
			return nil, fmt.Errorf("embedding texts %d-%d: got %d vectors", start, start+len(chunk)-1, len(vecs))
		}
		for i, v := range vecs {
			if e.dims > 0 && len(v) != e.dims {
				return nil, fmt.Errorf("%w: model %s returned %d dimensions for text %d, want %d", ErrDimensionMismatch, e.model, len(v), start+i, e.dims)
			}
		}
		results = append(results, vecs...)
	}
	return results, nil
}
