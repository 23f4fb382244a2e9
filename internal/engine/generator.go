package engine

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// Generator is the single-turn text generation contract used by clustering,
// RAG, flashcards, and quizzes.
type Generator interface {
	Generate(ctx context.Context, prompt string) (string, error)
}

// JSONGenerator produces output that decodes into a caller-supplied value.
type JSONGenerator interface {
	GenerateJSON(ctx context.Context, prompt string, schema *Schema, out any) error
}

// ChatGenerator implements Generator and JSONGenerator on an Engine chat model and retries
// transient failures.
type ChatGenerator struct {
	engine   Engine
	model    string
	system   string
	attempts int
	backoff  time.Duration
}

// NewChatGenerator returns a Generator that sends prompts to model.
func NewChatGenerator(e Engine, model string) *ChatGenerator {
	return &ChatGenerator{engine: e, model: model, attempts: 3, backoff: 500 * time.Millisecond}
}

// WithSystem returns a copy of g that prefixes every call with a system message.
func (g *ChatGenerator) WithSystem(prompt string) *ChatGenerator {
	c := *g
	c.system = prompt
	return &c
}

func (g *ChatGenerator) messages(prompt string) []Message {
	var msgs []Message
	if g.system != "" {
		msgs = append(msgs, Message{Role: RoleSystem, Content: g.system})
	}
	return append(msgs, Message{Role: RoleUser, Content: prompt})
}

// Generate returns the model's reply to prompt.
func (g *ChatGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	var out string
	err := Retry(ctx, g.attempts, g.backoff, func() error {
		var err error
		out, err = g.engine.Chat(ctx, g.model, g.messages(prompt), nil)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("generating text: %w", err)
	}
	return strings.TrimSpace(out), nil
}

// GenerateJSON asks for output matching schema and decodes it into out.
func (g *ChatGenerator) GenerateJSON(ctx context.Context, prompt string, schema *Schema, out any) error {
	var raw string
	err := Retry(ctx, g.attempts, g.backoff, func() error {
		var err error
		raw, err = g.engine.Chat(ctx, g.model, g.messages(prompt), schema)
		return err
	})
	if err != nil {
		return fmt.Errorf("generating json: %w", err)
	}
	if err := json.Unmarshal([]byte(stripCodeFence(raw)), out); err != nil {
		return fmt.Errorf("decoding generated json: %w", err)
	}
	return nil
}

// stripCodeFence removes a ```json ... ``` wrapper some models add.
func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(s), "```"))
}

// Retry calls fn up to attempts times while it fails with a transient error,
// doubling the wait from base between tries.
func Retry(ctx context.Context, attempts int, base time.Duration, fn func() error) error {
	if attempts < 1 {
		attempts = 1
	}
	wait := base
	var err error
	for i := 0; i < attempts; i++ {
		if err = fn(); err == nil || !IsTransient(err) {
			return err
		}
		if i == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(wait):
		}
		wait *= 2
	}
	return err
}
