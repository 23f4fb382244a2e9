package engine

import (
	"context"
	"errors"
	"fmt"
)

// ErrTransient marks a failure that is expected to clear on retry, such as a
// refused connection, a rate limit, or a 5xx from the provider.
var ErrTransient = errors.New("transient engine failure")

// Engine abstracts an inference backend (a local Ollama server or the Gemini
// API). Embedding, clustering labels, RAG answers, flashcards, and quizzes all
// go through this interface instead of a concrete client.
type Engine interface {
	// Chat sends messages to the given model and returns the assistant's response.
	// When jsonSchema is non-nil, structured JSON output is requested.
	Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error)

	// Embed returns the embedding vector for the given text using the specified model.
	Embed(ctx context.Context, model string, text string) ([]float32, error)

	// IsRunning reports whether the inference backend is reachable.
	IsRunning(ctx context.Context) bool
}

// ModelManager is implemented by engines that host their own models and can
// download missing ones.
type ModelManager interface {
	ListModels(ctx context.Context) ([]string, error)
	HasModel(ctx context.Context, name string) bool
	PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error
}

// BatchEmbedder is implemented by engines that embed many texts in one
// request. Vectors come back in input order.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, model string, texts []string) ([][]float32, error)
}

// Provider names accepted by New.
const (
	ProviderOllama = "ollama"
	ProviderGemini = "gemini"
)

// Options selects and configures an Engine.
type Options struct {
	Provider     string
	OllamaURL    string
	GeminiAPIKey string
}

// New builds the Engine named by opts.Provider. Unknown providers fail here
// rather than on first use.
func New(ctx context.Context, opts Options) (Engine, error) {
	switch opts.Provider {
	case ProviderOllama, "":
		return NewOllamaEngine(opts.OllamaURL), nil
	case ProviderGemini:
		return NewGeminiEngine(ctx, opts.GeminiAPIKey)
	default:
		return nil, fmt.Errorf("unknown engine provider %q (want %s or %s)", opts.Provider, ProviderOllama, ProviderGemini)
	}
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

type transientError struct{ err error }

func (e *transientError) Error() string { return e.err.Error() }
func (e *transientError) Unwrap() []error {
	return []error{e.err, ErrTransient}
}

// markTransient wraps err so that errors.Is(err, ErrTransient) holds while the
// original cause stays reachable.
func markTransient(err error) error {
	if err == nil || errors.Is(err, ErrTransient) {
		return err
	}
	return &transientError{err: err}
}
