package flashcard

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/kalambet/docintel/internal/engine"
	"github.com/kalambet/docintel/internal/retrieval"
	"github.com/kalambet/docintel/internal/storage"
)

// Policy decides what a failing page does to a generation batch.
type Policy int

const (
	// FailFast aborts the whole batch on the first failed page.
	FailFast Policy = iota
	// BestEffort skips failed pages and reports them in Result.Failed.
	BestEffort
)

// ParsePolicy maps a config value to a Policy.
func ParsePolicy(s string) (Policy, error) {
	switch strings.ToLower(s) {
	case "", "fail_fast", "failfast":
		return FailFast, nil
	case "best_effort", "besteffort":
		return BestEffort, nil
	default:
		return FailFast, fmt.Errorf("unknown flashcard policy %q (want fail_fast or best_effort)", s)
	}
}

// PageRanger supplies page texts. retrieval.VectorStore implements it.
type PageRanger interface {
	GetPageRange(ctx context.Context, documentID string, start, end int) ([]retrieval.Citation, error)
}

// PageFailure is a page skipped under BestEffort.
type PageFailure struct {
	PageNum int
	Err     error
}

// Result is the outcome of one generation batch. Cards are in page order.
type Result struct {
	Cards  []storage.Flashcard
	Failed []PageFailure
}

var cardSchema = &engine.Schema{
	Type: "object",
	Properties: map[string]engine.SchemaProperty{
		"cards": {
			Type: "array",
			Items: &engine.SchemaProperty{
				Type: "object",
				Properties: map[string]engine.SchemaProperty{
					"front": {Type: "string", Description: "question or term"},
					"back":  {Type: "string", Description: "answer or definition"},
				},
				Required: []string{"front", "back"},
			},
		},
	},
	Required: []string{"cards"},
}

const cardPrompt = `Write up to %d study flashcards for the page below. Each card has a
short front (a question or term) and a back (the answer). Use only facts
stated on the page.

Page %d of %q:
%s`

type generatedCards struct {
	Cards []struct {
		Front string `json:"front"`
		Back  string `json:"back"`
	} `json:"cards"`
}

// Generator turns page ranges into flashcards with one generator call per
// page.
type Generator struct {
	pages        PageRanger
	gen          engine.JSONGenerator
	policy       Policy
	limit        int
	cardsPerPage int
	logger       *slog.Logger
	now          func() time.Time
}

func NewGenerator(pages PageRanger, gen engine.JSONGenerator, logger *slog.Logger) *Generator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Generator{pages: pages, gen: gen, limit: 4, cardsPerPage: 3, logger: logger, now: time.Now}
}

// WithPolicy sets how page failures affect the batch.
func (g *Generator) WithPolicy(p Policy) *Generator {
	g.policy = p
	return g
}

// WithConcurrency bounds the number of pages generated at once.
func (g *Generator) WithConcurrency(n int) *Generator {
	if n > 0 {
		g.limit = n
	}
	return g
}

// WithCardsPerPage sets how many cards are requested for each page.
func (g *Generator) WithCardsPerPage(n int) *Generator {
	if n > 0 {
		g.cardsPerPage = n
	}
	return g
}

// GenerateForRange builds cards for pages start..end of documentID. Under
// FailFast the first page error cancels the rest and is returned.
func (g *Generator) GenerateForRange(ctx context.Context, cardsetID, documentID string, start, end int) (Result, error) {
	pages, err := g.pages.GetPageRange(ctx, documentID, start, end)
	if err != nil {
		return Result{}, fmt.Errorf("loading pages %d-%d: %w", start, end, err)
	}

	perPage := make([][]storage.Flashcard, len(pages))
	errs := make([]error, len(pages))
	now := g.now().UTC()

	eg, gctx := errgroup.WithContext(ctx)
	eg.SetLimit(g.limit)
	for i, page := range pages {
		eg.Go(func() error {
			cards, err := g.forPage(gctx, cardsetID, page, now)
			if err != nil {
				err = fmt.Errorf("page %d: %w", page.PageNum, err)
				if g.policy == FailFast {
					return err
				}
				errs[i] = err
				return nil
			}
			perPage[i] = cards
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return Result{}, fmt.Errorf("generating flashcards: %w", err)
	}

	var res Result
	for i := range pages {
		if errs[i] != nil {
			g.logger.Warn("flashcard page skipped", "document_id", documentID, "page", pages[i].PageNum, "error", errs[i])
			res.Failed = append(res.Failed, PageFailure{PageNum: pages[i].PageNum, Err: errs[i]})
			continue
		}
		res.Cards = append(res.Cards, perPage[i]...)
	}
	return res, nil
}

func (g *Generator) forPage(ctx context.Context, cardsetID string, page retrieval.Citation, now time.Time) ([]storage.Flashcard, error) {
	prompt := fmt.Sprintf(cardPrompt, g.cardsPerPage, page.PageNum, page.DocumentName, page.Text)
	var out generatedCards
	if err := g.gen.GenerateJSON(ctx, prompt, cardSchema, &out); err != nil {
		return nil, err
	}
	var cards []storage.Flashcard
	for _, c := range out.Cards {
		front, back := strings.TrimSpace(c.Front), strings.TrimSpace(c.Back)
		if front == "" || back == "" {
			continue
		}
		cards = append(cards, NewCard(cardsetID, front, back, page.PageNum, now))
		if len(cards) == g.cardsPerPage {
			break
		}
	}
	return cards, nil
}
