package engine

import (
	"context"
	"errors"
	"net"

	"github.com/kalambet/docintel/internal/ollama"
)

var (
	_ Engine        = (*OllamaEngine)(nil)
	_ ModelManager  = (*OllamaEngine)(nil)
	_ BatchEmbedder = (*OllamaEngine)(nil)
)

// OllamaEngine adapts the internal/ollama.Client to the Engine interface.
type OllamaEngine struct {
	client *ollama.Client
}

// NewOllamaEngine creates an OllamaEngine backed by an Ollama server at baseURL.
func NewOllamaEngine(baseURL string) *OllamaEngine {
	return &OllamaEngine{client: ollama.New(baseURL)}
}

func (e *OllamaEngine) Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error) {
	msgs := make([]ollama.Message, len(messages))
	for i, m := range messages {
		msgs[i] = ollama.Message{Role: m.Role, Content: m.Content}
	}

	var s *ollama.Schema
	if jsonSchema != nil {
		s = &ollama.Schema{
			Type:       jsonSchema.Type,
			Required:   jsonSchema.Required,
			Properties: toOllamaProperties(jsonSchema.Properties),
		}
	}

	out, err := e.client.Chat(ctx, model, msgs, s)
	return out, classifyOllama(err)
}

func toOllamaProperties(props map[string]SchemaProperty) map[string]ollama.SchemaProperty {
	if props == nil {
		return nil
	}
	out := make(map[string]ollama.SchemaProperty, len(props))
	for k, v := range props {
		out[k] = toOllamaProperty(v)
	}
	return out
}

func toOllamaProperty(p SchemaProperty) ollama.SchemaProperty {
	op := ollama.SchemaProperty{
		Type:        p.Type,
		Description: p.Description,
		Required:    p.Required,
		Properties:  toOllamaProperties(p.Properties),
	}
	if p.Items != nil {
		item := toOllamaProperty(*p.Items)
		op.Items = &item
	}
	return op
}

func (e *OllamaEngine) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	vec, err := e.client.Embed(ctx, model, text)
	return vec, classifyOllama(err)
}

func (e *OllamaEngine) EmbedBatch(ctx context.Context, model string, texts []string) ([][]float32, error) {
	vecs, err := e.client.EmbedBatch(ctx, model, texts)
	return vecs, classifyOllama(err)
}

func (e *OllamaEngine) IsRunning(ctx context.Context) bool {
	return e.client.IsRunning(ctx)
}

func (e *OllamaEngine) ListModels(ctx context.Context) ([]string, error) {
	return e.client.ListModels(ctx)
}

func (e *OllamaEngine) HasModel(ctx context.Context, name string) bool {
	return e.client.HasModel(ctx, name)
}

func (e *OllamaEngine) PullModel(ctx context.Context, name string, onProgress func(PullProgress)) error {
	var cb func(ollama.PullProgress)
	if onProgress != nil {
		cb = func(p ollama.PullProgress) {
			onProgress(PullProgress{
				Status:    p.Status,
				Total:     p.Total,
				Completed: p.Completed,
			})
		}
	}
	return e.client.PullModel(ctx, name, cb)
}

// classifyOllama marks rate limits, server errors, and network failures as
// transient. Context cancellation is left alone.
func classifyOllama(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var se *ollama.StatusError
	if errors.As(err, &se) {
		if se.Temporary() {
			return markTransient(err)
		}
		return err
	}
	var ne net.Error
	var oe *net.OpError
	if errors.As(err, &ne) || errors.As(err, &oe) {
		return markTransient(err)
	}
	return err
}
