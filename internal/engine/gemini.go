package engine

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var (
	_ Engine        = (*GeminiEngine)(nil)
	_ BatchEmbedder = (*GeminiEngine)(nil)
)

// geminiBatchLimit is the most contents one BatchEmbedContents call accepts.
const geminiBatchLimit = 100

// GeminiEngine implements Engine on the Gemini API.
type GeminiEngine struct {
	client *genai.Client
}

// NewGeminiEngine dials the Gemini API with the given key.
func NewGeminiEngine(ctx context.Context, apiKey string) (*GeminiEngine, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini: api key is required")
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("creating gemini client: %w", err)
	}
	return &GeminiEngine{client: client}, nil
}

// Close releases the underlying connection.
func (g *GeminiEngine) Close() error {
	return g.client.Close()
}

// Chat replays all but the last message as history and sends the last one.
// System messages become the model's system instruction.
func (g *GeminiEngine) Chat(ctx context.Context, model string, messages []Message, jsonSchema *Schema) (string, error) {
	gm := g.client.GenerativeModel(model)

	var system []string
	var turns []Message
	for _, m := range messages {
		if m.Role == RoleSystem {
			system = append(system, m.Content)
			continue
		}
		turns = append(turns, m)
	}
	if len(turns) == 0 {
		return "", fmt.Errorf("gemini chat: no user message")
	}
	if len(system) > 0 {
		gm.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(strings.Join(system, "\n\n"))}}
	}
	if jsonSchema != nil {
		gm.ResponseMIMEType = "application/json"
		gm.ResponseSchema = toGenaiSchema(jsonSchema)
	}

	cs := gm.StartChat()
	for _, m := range turns[:len(turns)-1] {
		role := "user"
		if m.Role == RoleAssistant {
			role = "model"
		}
		cs.History = append(cs.History, &genai.Content{Role: role, Parts: []genai.Part{genai.Text(m.Content)}})
	}

	resp, err := cs.SendMessage(ctx, genai.Text(turns[len(turns)-1].Content))
	if err != nil {
		return "", classifyGemini(fmt.Errorf("gemini chat: %w", err))
	}

	var parts []string
	for _, cand := range resp.Candidates {
		if cand.Content == nil {
			continue
		}
		for _, part := range cand.Content.Parts {
			if text, ok := part.(genai.Text); ok {
				parts = append(parts, string(text))
			}
		}
	}
	return strings.Join(parts, ""), nil
}

func (g *GeminiEngine) Embed(ctx context.Context, model string, text string) ([]float32, error) {
	resp, err := g.client.EmbeddingModel(model).EmbedContent(ctx, genai.Text(text))
	if err != nil {
		return nil, classifyGemini(fmt.Errorf("gemini embed: %w", err))
	}
	if resp.Embedding == nil {
		return nil, fmt.Errorf("gemini embed: empty embedding")
	}
	values := resp.Embedding.Values
	vec := make([]float32, len(values))
	for i, v := range values {
		vec[i] = float32(v)
	}
	return vec, nil
}

// EmbedBatch sends texts in BatchEmbedContents calls of at most
// geminiBatchLimit contents each.
func (g *GeminiEngine) EmbedBatch(ctx context.Context, model string, texts []string) ([][]float32, error) {
	em := g.client.EmbeddingModel(model)
	out := make([][]float32, 0, len(texts))
	for start := 0; start < len(texts); start += geminiBatchLimit {
		end := min(start+geminiBatchLimit, len(texts))
		b := em.NewBatch()
		for _, t := range texts[start:end] {
			b.AddContent(genai.Text(t))
		}
		resp, err := em.BatchEmbedContents(ctx, b)
		if err != nil {
			return nil, classifyGemini(fmt.Errorf("gemini batch embed: %w", err))
		}
		if len(resp.Embeddings) != end-start {
			return nil, fmt.Errorf("gemini batch embed: got %d embeddings for %d texts", len(resp.Embeddings), end-start)
		}
		for _, e := range resp.Embeddings {
			out = append(out, e.Values)
		}
	}
	return out, nil
}

// IsRunning lists one model to check that the key and endpoint work.
func (g *GeminiEngine) IsRunning(ctx context.Context) bool {
	_, err := g.client.ListModels(ctx).Next()
	return err == nil || errors.Is(err, iterator.Done)
}

func toGenaiSchema(s *Schema) *genai.Schema {
	out := &genai.Schema{
		Type:     genaiType(s.Type),
		Required: s.Required,
	}
	if len(s.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(s.Properties))
		for k, v := range s.Properties {
			out.Properties[k] = toGenaiProperty(v)
		}
	}
	return out
}

func toGenaiProperty(p SchemaProperty) *genai.Schema {
	out := &genai.Schema{
		Type:        genaiType(p.Type),
		Description: p.Description,
		Required:    p.Required,
	}
	if p.Items != nil {
		out.Items = toGenaiProperty(*p.Items)
	}
	if len(p.Properties) > 0 {
		out.Properties = make(map[string]*genai.Schema, len(p.Properties))
		for k, v := range p.Properties {
			out.Properties[k] = toGenaiProperty(v)
		}
	}
	return out
}

func genaiType(t string) genai.Type {
	switch t {
	case "string":
		return genai.TypeString
	case "number":
		return genai.TypeNumber
	case "integer":
		return genai.TypeInteger
	case "boolean":
		return genai.TypeBoolean
	case "array":
		return genai.TypeArray
	case "object":
		return genai.TypeObject
	default:
		return genai.TypeUnspecified
	}
}

func classifyGemini(err error) error {
	switch status.Code(err) {
	case codes.Unavailable, codes.ResourceExhausted, codes.Internal, codes.Aborted:
		return markTransient(err)
	}
	return err
}
