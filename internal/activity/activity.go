// Package activity records what users do and keeps their daily streaks. Both
// consumers read the user.activity topic in separate consumer groups.
package activity

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/docintel/internal/broker"
	"github.com/kalambet/docintel/internal/storage"
)

// Activity kinds published by the API.
const (
	KindFlashcardReview = "flashcard_review"
	KindQuizGraded      = "quiz_graded"
	KindQuestionAsked   = "question_asked"
	KindDocumentUpload  = "document_upload"
)

const dayLayout = "2006-01-02"

// Store is the persistence used by the handlers. *storage.Store implements it.
type Store interface {
	SaveActivity(ctx context.Context, a storage.Activity) error
	UpdateStreak(ctx context.Context, userID string, fn func(storage.Streak) storage.Streak) (storage.Streak, error)
}

// Publisher is the producer side. *broker.Producer implements it.
type Publisher interface {
	PublishKey(ctx context.Context, topic, key string, payload any) error
}

// Recorder publishes activity events keyed by user so one user's events stay
// ordered.
type Recorder struct {
	pub    Publisher
	logger *slog.Logger
	now    func() time.Time
}

func NewRecorder(pub Publisher, logger *slog.Logger) *Recorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Recorder{pub: pub, logger: logger, now: time.Now}
}

// Record publishes one activity. An empty userID is ignored. Publish failures
// are logged and not returned.
func (r *Recorder) Record(ctx context.Context, userID, kind string, metadata map[string]string) {
	if r == nil || r.pub == nil || userID == "" {
		return
	}
	ev := broker.UserActivity{
		ID:         uuid.New().String(),
		UserID:     userID,
		Kind:       kind,
		OccurredAt: r.now().UTC(),
		Metadata:   metadata,
	}
	if err := r.pub.PublishKey(ctx, broker.TopicUserActivity, userID, ev); err != nil {
		r.logger.Warn("activity not published", "user_id", userID, "kind", kind, "error", err)
	}
}

// Handlers consume user.activity.
type Handlers struct {
	store  Store
	logger *slog.Logger
}

func NewHandlers(store Store, logger *slog.Logger) *Handlers {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handlers{store: store, logger: logger}
}

// Save stores the event. Redelivered events are ignored by ID.
func (h *Handlers) Save(ctx context.Context, ev broker.UserActivity) error {
	if ev.ID == "" || ev.UserID == "" {
		return fmt.Errorf("activity event missing id or user id")
	}
	meta := "{}"
	if len(ev.Metadata) > 0 {
		b, err := json.Marshal(ev.Metadata)
		if err != nil {
			return fmt.Errorf("encoding metadata: %w", err)
		}
		meta = string(b)
	}
	return h.store.SaveActivity(ctx, storage.Activity{
		ID:         ev.ID,
		UserID:     ev.UserID,
		Kind:       ev.Kind,
		OccurredAt: ev.OccurredAt,
		Metadata:   meta,
	})
}

// Streak advances the user's run of consecutive active UTC days.
func (h *Handlers) Streak(ctx context.Context, ev broker.UserActivity) error {
	if ev.UserID == "" {
		return fmt.Errorf("activity event missing user id")
	}
	at := ev.OccurredAt
	if at.IsZero() {
		at = time.Now()
	}
	st, err := h.store.UpdateStreak(ctx, ev.UserID, func(s storage.Streak) storage.Streak {
		return Advance(s, at)
	})
	if err != nil {
		return fmt.Errorf("updating streak for %s: %w", ev.UserID, err)
	}
	h.logger.Debug("streak updated", "user_id", ev.UserID, "current", st.Current, "longest", st.Longest)
	return nil
}

// Advance applies activity at time at to s. Activity on the same day changes
// nothing, the next day extends the streak, and a gap restarts it at one.
// Events older than the last active day are ignored.
func Advance(s storage.Streak, at time.Time) storage.Streak {
	day := at.UTC().Format(dayLayout)
	switch {
	case s.LastActiveDay == "":
		s.Current = 1
	case day <= s.LastActiveDay:
		return s
	default:
		last, err := time.Parse(dayLayout, s.LastActiveDay)
		if err == nil && last.AddDate(0, 0, 1).Format(dayLayout) == day {
			s.Current++
		} else {
			s.Current = 1
		}
	}
	s.LastActiveDay = day
	s.Longest = max(s.Longest, s.Current)
	return s
}
