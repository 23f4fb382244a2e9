package quiz

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"

	"github.com/kalambet/docintel/internal/engine"
	"github.com/kalambet/docintel/internal/retrieval"
)

// PageRanger supplies page texts. retrieval.VectorStore implements it.
type PageRanger interface {
	GetPageRange(ctx context.Context, documentID string, start, end int) ([]retrieval.Citation, error)
}

var quizSchema = &engine.Schema{
	Type: "object",
	Properties: map[string]engine.SchemaProperty{
		"questions": {
			Type: "array",
			Items: &engine.SchemaProperty{
				Type: "object",
				Properties: map[string]engine.SchemaProperty{
					"question": {Type: "string"},
					"options":  {Type: "array", Items: &engine.SchemaProperty{Type: "string"}, Description: "empty for open-ended questions"},
					"answer":   {Type: "string", Description: "for multiple choice, exactly one of the options"},
				},
				Required: []string{"question", "answer"},
			},
		},
	},
	Required: []string{"questions"},
}

const quizPrompt = `Write a quiz of %d questions about the pages below. Mix open-ended
and multiple-choice questions. Keep answers short so they can be compared
exactly. Use only facts stated on the pages.

%s`

// Generator builds quizzes from page ranges.
type Generator struct {
	pages  PageRanger
	gen    engine.JSONGenerator
	logger *slog.Logger
}

func NewGenerator(pages PageRanger, gen engine.JSONGenerator, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{pages: pages, gen: gen, logger: logger}
}

// Generate asks for n questions over pages start..end of documentID.
// Malformed questions are dropped, so the quiz may hold fewer than n.
func (g *Generator) Generate(ctx context.Context, documentID string, start, end, n int) (Quiz, error) {
	if n <= 0 {
		return Quiz{}, fmt.Errorf("question count must be positive, got %d", n)
	}
	pages, err := g.pages.GetPageRange(ctx, documentID, start, end)
	if err != nil {
		return Quiz{}, fmt.Errorf("loading pages %d-%d: %w", start, end, err)
	}
	if len(pages) == 0 {
		return Quiz{}, fmt.Errorf("no pages between %d and %d in %s", start, end, documentID)
	}

	var b strings.Builder
	for _, p := range pages {
		fmt.Fprintf(&b, "--- Page %d ---\n%s\n\n", p.PageNum, p.Text)
	}

	var out struct {
		Questions []Question `json:"questions"`
	}
	if err := g.gen.GenerateJSON(ctx, fmt.Sprintf(quizPrompt, n, b.String()), quizSchema, &out); err != nil {
		return Quiz{}, fmt.Errorf("generating quiz: %w", err)
	}

	q := Quiz{DocumentID: documentID, StartPage: start, EndPage: end}
	for _, qq := range out.Questions {
		qq.Question = strings.TrimSpace(qq.Question)
		qq.Answer = strings.TrimSpace(qq.Answer)
		for i := range qq.Options {
			qq.Options[i] = strings.TrimSpace(qq.Options[i])
		}
		if qq.Question == "" || qq.Answer == "" {
			continue
		}
		if qq.MultipleChoice() && !slices.Contains(qq.Options, qq.Answer) {
			g.logger.Debug("dropping question whose answer is not an option", "question", qq.Question)
			continue
		}
		q.Questions = append(q.Questions, qq)
		if len(q.Questions) == n {
			break
		}
	}
	return q, nil
}
