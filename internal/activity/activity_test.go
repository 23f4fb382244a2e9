package activity

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/docintel/internal/broker"
	"github.com/kalambet/docintel/internal/storage"
)

func day(d, h int) time.Time {
	return time.Date(2026, 5, d, h, 0, 0, 0, time.UTC)
}

func TestAdvance(t *testing.T) {
	s := Advance(storage.Streak{}, day(1, 9))
	assert.Equal(t, storage.Streak{Current: 1, Longest: 1, LastActiveDay: "2026-05-01"}, s)

	s = Advance(s, day(1, 22))
	assert.Equal(t, 1, s.Current, "same day")

	s = Advance(s, day(2, 8))
	s = Advance(s, day(3, 8))
	assert.Equal(t, 3, s.Current)
	assert.Equal(t, 3, s.Longest)

	s = Advance(s, day(1, 12))
	assert.Equal(t, 3, s.Current, "late event ignored")

	s = Advance(s, day(6, 8))
	assert.Equal(t, 1, s.Current, "gap restarts")
	assert.Equal(t, 3, s.Longest)
	assert.Equal(t, "2026-05-06", s.LastActiveDay)
}

func TestAdvanceAcrossMonth(t *testing.T) {
	s := storage.Streak{Current: 4, Longest: 4, LastActiveDay: "2026-04-30"}
	s = Advance(s, day(1, 0))
	assert.Equal(t, 5, s.Current)
}

func TestAdvanceUsesUTC(t *testing.T) {
	tz := time.FixedZone("UTC+10", 10*3600)
	s := storage.Streak{Current: 1, Longest: 1, LastActiveDay: "2026-05-01"}
	// 2026-05-02 08:00 in UTC+10 is still 2026-05-01 in UTC.
	s = Advance(s, time.Date(2026, 5, 2, 8, 0, 0, 0, tz))
	assert.Equal(t, 1, s.Current)
}

func openStore(t *testing.T) *storage.Store {
	t.Helper()
	s, err := storage.Open(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestHandlersAgainstStore(t *testing.T) {
	ctx := context.Background()
	st := openStore(t)
	h := NewHandlers(st, nil)

	ev := broker.UserActivity{ID: "a1", UserID: "u1", Kind: KindFlashcardReview, OccurredAt: day(1, 9), Metadata: map[string]string{"card_id": "c1"}}
	require.NoError(t, h.Save(ctx, ev))
	require.NoError(t, h.Save(ctx, ev), "redelivery is a no-op")
	require.NoError(t, h.Streak(ctx, ev))
	require.NoError(t, h.Streak(ctx, broker.UserActivity{ID: "a2", UserID: "u1", OccurredAt: day(2, 9)}))

	list, err := st.ListActivities(ctx, "u1", 10)
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.JSONEq(t, `{"card_id":"c1"}`, list[0].Metadata)

	streak, err := st.GetStreak(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, 2, streak.Current)

	assert.Error(t, h.Save(ctx, broker.UserActivity{UserID: "u1"}))
	assert.Error(t, h.Streak(ctx, broker.UserActivity{}))
}

type fakePublisher struct {
	topic, key string
	payload    any
	err        error
}

func (f *fakePublisher) PublishKey(_ context.Context, topic, key string, payload any) error {
	f.topic, f.key, f.payload = topic, key, payload
	return f.err
}

func TestRecorder(t *testing.T) {
	pub := &fakePublisher{}
	r := NewRecorder(pub, nil)
	r.now = func() time.Time { return day(3, 10) }

	r.Record(context.Background(), "u7", KindQuizGraded, map[string]string{"score": "3"})
	assert.Equal(t, broker.TopicUserActivity, pub.topic)
	assert.Equal(t, "u7", pub.key)
	ev, ok := pub.payload.(broker.UserActivity)
	require.True(t, ok)
	assert.NotEmpty(t, ev.ID)
	assert.Equal(t, day(3, 10), ev.OccurredAt)

	pub.err = errors.New("broker down")
	r.Record(context.Background(), "u7", KindQuizGraded, nil)

	fresh := &fakePublisher{}
	NewRecorder(fresh, nil).Record(context.Background(), "", KindQuizGraded, nil)
	assert.Empty(t, fresh.topic)

	var nilRecorder *Recorder
	nilRecorder.Record(context.Background(), "u1", KindQuizGraded, nil)
}

// Both groups on user.activity see the event: one stores it, the other
// advances the streak.
func TestBothGroupsThroughBroker(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	st := openStore(t)
	transport := broker.NewSQLiteTransport(st, 5*time.Millisecond)
	h := NewHandlers(st, nil)
	routes := broker.Handlers{
		Clustering:     func(context.Context, broker.Message) error { return nil },
		ActivitySave:   broker.JSONHandler(h.Save),
		ActivityStreak: broker.JSONHandler(h.Streak),
	}.Routes()
	for _, r := range routes {
		require.NoError(t, st.Subscribe(ctx, r.Group, r.Topics))
	}

	w, err := transport.NewWriter()
	require.NoError(t, err)
	producer := broker.NewProducer(w, nil)
	defer producer.Close()
	NewRecorder(producer, nil).Record(ctx, "u1", KindQuestionAsked, nil)

	sup := broker.NewSupervisor(nil)
	for _, r := range routes {
		sup.Add(broker.NewConsumer(r, transport, nil).WithPollTimeout(20 * time.Millisecond))
	}
	go sup.Run(ctx)

	require.Eventually(t, func() bool {
		list, err := st.ListActivities(ctx, "u1", 10)
		if err != nil || len(list) != 1 {
			return false
		}
		s, err := st.GetStreak(ctx, "u1")
		return err == nil && s.Current == 1
	}, 3*time.Second, 20*time.Millisecond)
}
