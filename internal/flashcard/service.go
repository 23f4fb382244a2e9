package flashcard

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/kalambet/docintel/internal/storage"
)

// Store is the flashcard persistence used by Service. *storage.Store
// implements it.
type Store interface {
	SaveFlashcards(ctx context.Context, cards []storage.Flashcard) error
	ListFlashcards(ctx context.Context, cardsetID string, dueBy time.Time) ([]storage.Flashcard, error)
	UpdateFlashcard(ctx context.Context, id string, fn func(storage.Flashcard) (storage.Flashcard, error)) (storage.Flashcard, error)
}

// Service records reviews against stored cards.
type Service struct {
	store  Store
	logger *slog.Logger
	now    func() time.Time
}

func NewService(store Store, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{store: store, logger: logger, now: time.Now}
}

// Review applies an answer to the stored card. The read and write happen in
// one transaction.
func (s *Service) Review(ctx context.Context, cardID string, correct bool) (storage.Flashcard, error) {
	now := s.now().UTC()
	card, err := s.store.UpdateFlashcard(ctx, cardID, func(c storage.Flashcard) (storage.Flashcard, error) {
		return Review(c, correct, now), nil
	})
	if err != nil {
		return storage.Flashcard{}, fmt.Errorf("reviewing card %s: %w", cardID, err)
	}
	s.logger.Debug("card reviewed", "card_id", cardID, "correct", correct,
		"proficiency", card.Proficiency, "next_review", card.TimeOfNextReview)
	return card, nil
}

// Due lists the cards of cardsetID that are due now, earliest first.
func (s *Service) Due(ctx context.Context, cardsetID string) ([]storage.Flashcard, error) {
	return s.store.ListFlashcards(ctx, cardsetID, s.now().UTC())
}

// Add stores cards made with NewCard or Generator.
func (s *Service) Add(ctx context.Context, cards []storage.Flashcard) error {
	return s.store.SaveFlashcards(ctx, cards)
}
