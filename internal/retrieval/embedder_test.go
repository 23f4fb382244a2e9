package retrieval

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/kalambet/docintel/internal/engine"
)

// mockEngine implements engine.Engine for testing.
type mockEngine struct {
	embedFn func(ctx context.Context, model string, text string) ([]float32, error)
}

func (m *mockEngine) Chat(_ context.Context, _ string, _ []engine.Message, _ *engine.Schema) (string, error) {
	return "", fmt.Errorf("not implemented")
}
func (m *mockEngine) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	return m.embedFn(ctx, model, text)
}
func (m *mockEngine) IsRunning(_ context.Context) bool { return false }

func makeVector(dim int) []float32 {
	v := make([]float32, dim)
	for i := range v {
		v[i] = float32(i) * 0.001
	}
	return v
}

func TestEmbed_ReturnsDimension(t *testing.T) {
	mock := &mockEngine{
		embedFn: func(_ context.Context, _ string, _ string) ([]float32, error) {
			return makeVector(384), nil
		},
	}
	e := NewEmbedder(mock, "nomic-embed-text")

	vec, err := e.Embed(context.Background(), "hello world")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 384 {
		t.Errorf("got %d dimensions, want 384", len(vec))
	}
}

func TestEmbed_OllamaError(t *testing.T) {
	mock := &mockEngine{
		embedFn: func(_ context.Context, _ string, _ string) ([]float32, error) {
			return nil, errors.New("model not found")
		},
	}
	e := NewEmbedder(mock, "nomic-embed-text")

	_, err := e.Embed(context.Background(), "hello")
	if err == nil {
		t.Fatal("expected error, got nil")
	}
}

func TestEmbedBatch_CountMatches(t *testing.T) {
	mock := &mockEngine{
		embedFn: func(_ context.Context, _ string, _ string) ([]float32, error) {
			return makeVector(384), nil
		},
	}
	e := NewEmbedder(mock, "nomic-embed-text")

	vecs, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(vecs) != 3 {
		t.Errorf("got %d vectors, want 3", len(vecs))
	}
}

func TestEmbedBatch_OllamaError(t *testing.T) {
	mock := &mockEngine{
		embedFn: func(_ context.Context, _ string, text string) ([]float32, error) {
			if text == "b" {
				return nil, errors.New("embedding failed")
			}
			return makeVector(384), nil
		},
	}
	e := NewEmbedder(mock, "nomic-embed-text")

	_, err := e.EmbedBatch(context.Background(), []string{"a", "b", "c"})
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !strings.Contains(err.Error(), "embedding failed") {
		t.Errorf("unexpected error message: %v", err)
	}
}

func TestEmbedBatch_EmptyInput(t *testing.T) {
	mock := &mockEngine{
		embedFn: func(_ context.Context, _ string, _ string) ([]float32, error) {
			t.Fatal("should not be called for empty input")
			return nil, nil
		},
	}
	e := NewEmbedder(mock, "nomic-embed-text")

	vecs, err := e.EmbedBatch(context.Background(), nil)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if vecs != nil {
		t.Errorf("got %v, want nil", vecs)
	}
}

func TestEmbed_EmptyTextRejected(t *testing.T) {
	mock := &mockEngine{
		embedFn: func(_ context.Context, _ string, _ string) ([]float32, error) {
			t.Fatal("engine should not be called for empty text")
			return nil, nil
		},
	}
	e := NewEmbedder(mock, "nomic-embed-text")

	for _, text := range []string{"", "   \n\t"} {
		if _, err := e.Embed(context.Background(), text); !errors.Is(err, ErrInvalidInput) {
			t.Errorf("Embed(%q) = %v, want ErrInvalidInput", text, err)
		}
	}
}

type transient struct{}

func (transient) Error() string { return "503 service unavailable" }
func (transient) Is(target error) bool { return target == engine.ErrTransient }

func TestEmbed_RetriesTransient(t *testing.T) {
	calls := 0
	mock := &mockEngine{
		embedFn: func(_ context.Context, _ string, _ string) ([]float32, error) {
			calls++
			if calls < 3 {
				return nil, transient{}
			}
			return makeVector(8), nil
		},
	}
	e := NewEmbedder(mock, "nomic-embed-text")
	e.backoff = time.Millisecond

	vec, err := e.Embed(context.Background(), "photosynthesis")
	if err != nil {
		t.Fatalf("Embed: %v", err)
	}
	if len(vec) != 8 || calls != 3 {
		t.Errorf("len=%d calls=%d, want 8 and 3", len(vec), calls)
	}
}

func TestEmbed_GivesUpAfterAttempts(t *testing.T) {
	calls := 0
	mock := &mockEngine{
		embedFn: func(_ context.Context, _ string, _ string) ([]float32, error) {
			calls++
			return nil, transient{}
		},
	}
	e := NewEmbedder(mock, "nomic-embed-text")
	e.backoff = time.Millisecond

	_, err := e.Embed(context.Background(), "x")
	if !errors.Is(err, engine.ErrTransient) {
		t.Fatalf("err = %v, want transient", err)
	}
	if calls != e.attempts {
		t.Errorf("calls = %d, want %d", calls, e.attempts)
	}
}

func TestEmbed_DimensionMismatch(t *testing.T) {
	mock := &mockEngine{
		embedFn: func(_ context.Context, _ string, _ string) ([]float32, error) {
			return makeVector(384), nil
		},
	}
	e := NewEmbedder(mock, "nomic-embed-text").WithDimensions(768)

	if _, err := e.Embed(context.Background(), "hello"); !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("err = %v, want ErrDimensionMismatch", err)
	}
}

func TestEmbedBatch_PreservesOrder(t *testing.T) {
	mock := &mockEngine{
		embedFn: func(_ context.Context, _ string, text string) ([]float32, error) {
			return []float32{float32(len(text))}, nil
		},
	}
	e := NewEmbedder(mock, "nomic-embed-text").WithRateLimit(1000, 10)

	texts := []string{"a", "bb", "ccc", "dddd", "eeeee", "ffffff"}
	vecs, err := e.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	for i, v := range vecs {
		if int(v[0]) != len(texts[i]) {
			t.Errorf("vecs[%d] = %v, want [%d]", i, v, len(texts[i]))
		}
	}
}

// batchEngine also implements engine.BatchEmbedder.
type batchEngine struct {
	mockEngine
	batches [][]string
	batchFn func(texts []string) ([][]float32, error)
}

func (b *batchEngine) EmbedBatch(_ context.Context, _ string, texts []string) ([][]float32, error) {
	b.batches = append(b.batches, texts)
	return b.batchFn(texts)
}

func TestEmbedBatch_UsesBatchEngine(t *testing.T) {
	be := &batchEngine{
		mockEngine: mockEngine{embedFn: func(_ context.Context, _ string, _ string) ([]float32, error) {
			t.Fatal("single Embed should not be called for a batch engine")
			return nil, nil
		}},
		batchFn: func(texts []string) ([][]float32, error) {
			out := make([][]float32, len(texts))
			for i, s := range texts {
				out[i] = []float32{float32(len(s)), 0}
			}
			return out, nil
		},
	}
	e := NewEmbedder(be, "nomic-embed-text").WithDimensions(2)

	texts := make([]string, batchSize+5)
	for i := range texts {
		texts[i] = strings.Repeat("x", i+1)
	}
	vecs, err := e.EmbedBatch(context.Background(), texts)
	if err != nil {
		t.Fatalf("EmbedBatch: %v", err)
	}
	if len(be.batches) != 2 || len(be.batches[0]) != batchSize || len(be.batches[1]) != 5 {
		t.Errorf("batch sizes = %d requests, want %d then 5", len(be.batches), batchSize)
	}
	for i, v := range vecs {
		if int(v[0]) != i+1 {
			t.Fatalf("vecs[%d] = %v, want [%d 0]", i, v, i+1)
		}
	}
}

func TestEmbedBatch_BatchEngineChecks(t *testing.T) {
	calls := 0
	be := &batchEngine{batchFn: func(texts []string) ([][]float32, error) {
		calls++
		if calls == 1 {
			return nil, transient{}
		}
		return [][]float32{makeVector(3)}, nil
	}}
	e := NewEmbedder(be, "nomic-embed-text").WithDimensions(4)
	e.backoff = time.Millisecond

	_, err := e.EmbedBatch(context.Background(), []string{"mitosis"})
	if !errors.Is(err, ErrDimensionMismatch) {
		t.Errorf("err = %v, want ErrDimensionMismatch after the retry", err)
	}
	if calls != 2 {
		t.Errorf("calls = %d, want 2", calls)
	}

	if _, err := e.EmbedBatch(context.Background(), []string{"ok", " "}); !errors.Is(err, ErrInvalidInput) {
		t.Errorf("err = %v, want ErrInvalidInput for a blank text", err)
	}
}
