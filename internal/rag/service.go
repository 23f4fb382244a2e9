// Package rag answers questions about documents from their retrieved pages.
package rag

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/kalambet/docintel/internal/composer"
	"github.com/kalambet/docintel/internal/engine"
	"github.com/kalambet/docintel/internal/retrieval"
	"github.com/kalambet/docintel/internal/storage"
)

// FallbackAnswer is returned when no document yields a passage.
const FallbackAnswer = "I'm sorry, but I don't have enough information to answer your question."

// Answer is a generated reply with the passages it was grounded on.
type Answer struct {
	Content   string               `json:"content"`
	Citations []retrieval.Citation `json:"citations"`
}

// QueryEmbedder embeds a question. *retrieval.Embedder implements it.
type QueryEmbedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Searcher finds the passages of a document closest to a query vector.
// retrieval.VectorStore implements it.
type Searcher interface {
	GetCurriculum(ctx context.Context, documentID string, queryEmbedding []float32) ([]retrieval.Citation, error)
}

// Service runs retrieval-augmented answering on the request path.
type Service struct {
	embedder QueryEmbedder
	store    Searcher
	gen      engine.Generator
	composer *composer.Composer
	logger   *slog.Logger
}

func NewService(embedder QueryEmbedder, store Searcher, gen engine.Generator, comp *composer.Composer, logger *slog.Logger) *Service {
	if comp == nil {
		comp = composer.New(0)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{embedder: embedder, store: store, gen: gen, composer: comp, logger: logger}
}

// ProcessAnswer embeds question once and gathers citations from each
// document in order. With no citations it returns FallbackAnswer without
// calling the generator and leaves history untouched. Otherwise the
// generated answer is appended to *history as an assistant turn carrying the
// serialized citations.
func (s *Service) ProcessAnswer(ctx context.Context, documentIDs []string, question string, history *[]storage.ChatMessage) (Answer, error) {
	vec, err := s.embedder.Embed(ctx, question)
	if err != nil {
		return Answer{}, fmt.Errorf("embedding question: %w", err)
	}

	citations := []retrieval.Citation{}
	for _, id := range documentIDs {
		found, err := s.store.GetCurriculum(ctx, id, vec)
		if err != nil {
			return Answer{}, fmt.Errorf("searching document %s: %w", id, err)
		}
		citations = append(citations, found...)
	}

	if len(citations) == 0 {
		s.logger.Info("no passages found, returning fallback", "documents", len(documentIDs))
		return Answer{Content: FallbackAnswer, Citations: citations}, nil
	}

	var prior []engine.Message
	if history != nil {
		prior = make([]engine.Message, len(*history))
		for i, m := range *history {
			prior[i] = engine.Message{Role: m.Role, Content: m.Content}
		}
	}

	content, err := s.gen.Generate(ctx, s.composer.Compose(question, citations, prior))
	if err != nil {
		return Answer{}, fmt.Errorf("generating answer: %w", err)
	}
	ans := Answer{Content: content, Citations: citations}

	if history != nil {
		raw, err := json.Marshal(citations)
		if err != nil {
			return Answer{}, fmt.Errorf("serializing citations: %w", err)
		}
		*history = append(*history, storage.ChatMessage{
			Role:      engine.RoleAssistant,
			Content:   content,
			Citations: string(raw),
		})
	}

	s.logger.Debug("question answered", "documents", len(documentIDs), "citations", len(citations))
	return ans, nil
}
