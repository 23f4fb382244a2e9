// Package flashcard schedules spaced-repetition reviews and generates cards
// from document pages.
package flashcard

import (
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/docintel/internal/storage"
)

const (
	// RetryDelay is how soon a card answered wrong comes back.
	RetryDelay = 10 * time.Minute
	// MaxIntervalExponent caps interval growth at 2^10 days.
	MaxIntervalExponent = 10
)

// NewCard returns an unreviewed card that is due immediately.
func NewCard(cardsetID, front, back string, pageNum int, now time.Time) storage.Flashcard {
	return storage.Flashcard{
		ID:               uuid.New().String(),
		CardsetID:        cardsetID,
		Front:            front,
		Back:             back,
		PageNum:          pageNum,
		Proficiency:      0,
		TimeOfNextReview: now,
		CreatedAt:        now,
	}
}

// Review applies one answer to card. A correct answer raises proficiency by
// one and schedules the card Interval(p) ahead; a wrong one resets
// proficiency and retries after RetryDelay.
func Review(card storage.Flashcard, correct bool, now time.Time) storage.Flashcard {
	if !correct {
		card.Proficiency = 0
		card.TimeOfNextReview = now.Add(RetryDelay)
		return card
	}
	card.Proficiency = max(card.Proficiency, 0) + 1
	card.TimeOfNextReview = now.Add(Interval(card.Proficiency))
	return card
}

// Interval is the wait after reaching proficiency p: 2^(p-1) days, with the
// exponent capped at MaxIntervalExponent.
func Interval(p int) time.Duration {
	if p <= 0 {
		return 0
	}
	exp := min(p-1, MaxIntervalExponent)
	return time.Duration(1<<exp) * 24 * time.Hour
}
