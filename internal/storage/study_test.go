package storage

import (
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"
)

func TestReplaceClusterElements_Supersedes(t *testing.T) {
	s := openTestStore(t)

	first := []ClusterElement{
		{DocumentID: "d1", PageNumber: 1, ClusterName: "Cells", X: 1, Y: 2, Z: 3, Dimensions: 3},
		{DocumentID: "d1", PageNumber: 2, ClusterName: "Cells", X: 4, Y: 5, Z: 6, Dimensions: 3},
		{DocumentID: "d1", PageNumber: 3, ClusterName: "Genes", X: 7, Y: 8, Z: 9, Dimensions: 3},
	}
	if err := s.ReplaceClusterElements(ctx, "d1", first); err != nil {
		t.Fatalf("ReplaceClusterElements: %v", err)
	}

	second := []ClusterElement{
		{DocumentID: "d1", PageNumber: 1, ClusterName: "Biology", X: 0.5, Y: 0.25, Z: 99, Dimensions: 2},
		{DocumentID: "d1", PageNumber: 2, ClusterName: "Biology", X: 0.1, Y: 0.2, Dimensions: 2},
	}
	if err := s.ReplaceClusterElements(ctx, "d1", second); err != nil {
		t.Fatalf("ReplaceClusterElements: %v", err)
	}

	got, err := s.ListClusterElements(ctx, "d1")
	if err != nil {
		t.Fatalf("ListClusterElements: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d elements, want 2 (old rows superseded)", len(got))
	}
	for _, e := range got {
		if e.Dimensions != 2 || e.Z != 0 {
			t.Errorf("page %d: dims=%d z=%v, want 2D with z=0", e.PageNumber, e.Dimensions, e.Z)
		}
		if e.ClusterName != "Biology" {
			t.Errorf("page %d: cluster %q, want Biology", e.PageNumber, e.ClusterName)
		}
	}
}

func TestReplaceClusterElements_RejectsForeignDocument(t *testing.T) {
	s := openTestStore(t)

	err := s.ReplaceClusterElements(ctx, "d1", []ClusterElement{{DocumentID: "d2", PageNumber: 1, Dimensions: 2}})
	if err == nil {
		t.Fatal("expected error for element of another document")
	}
}

func seedCardset(t *testing.T, s *Store, n int) []Flashcard {
	t.Helper()
	if err := s.CreateCardset(ctx, Cardset{ID: "cs1", DocumentID: "d1", Name: "Chapter 1"}); err != nil {
		t.Fatalf("CreateCardset: %v", err)
	}
	now := time.Now().UTC().Truncate(time.Second)
	cards := make([]Flashcard, n)
	for i := range cards {
		cards[i] = Flashcard{
			ID:               fmt.Sprintf("card-%d", i),
			CardsetID:        "cs1",
			Front:            fmt.Sprintf("Q%d", i),
			Back:             fmt.Sprintf("A%d", i),
			PageNum:          i + 1,
			TimeOfNextReview: now.Add(time.Duration(i) * time.Hour),
		}
	}
	if err := s.SaveFlashcards(ctx, cards); err != nil {
		t.Fatalf("SaveFlashcards: %v", err)
	}
	return cards
}

func TestListFlashcards_DueFilter(t *testing.T) {
	s := openTestStore(t)
	seedCardset(t, s, 3)

	all, err := s.ListFlashcards(ctx, "cs1", time.Time{})
	if err != nil {
		t.Fatalf("ListFlashcards: %v", err)
	}
	if len(all) != 3 {
		t.Fatalf("got %d cards, want 3", len(all))
	}

	due, err := s.ListFlashcards(ctx, "cs1", time.Now().UTC().Add(time.Minute))
	if err != nil {
		t.Fatalf("ListFlashcards due: %v", err)
	}
	if len(due) != 1 || due[0].ID != "card-0" {
		t.Errorf("due = %+v, want only card-0", due)
	}
}

func TestUpdateFlashcard_Serialized(t *testing.T) {
	s := openTestStore(t)
	seedCardset(t, s, 1)

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := s.UpdateFlashcard(ctx, "card-0", func(c Flashcard) (Flashcard, error) {
				c.Proficiency++
				return c, nil
			})
			if err != nil {
				t.Errorf("UpdateFlashcard: %v", err)
			}
		}()
	}
	wg.Wait()

	got, err := s.GetFlashcard(ctx, "card-0")
	if err != nil {
		t.Fatalf("GetFlashcard: %v", err)
	}
	if got.Proficiency != 10 {
		t.Errorf("Proficiency = %d, want 10 (no lost updates)", got.Proficiency)
	}
}

func TestUpdateFlashcard_ErrorLeavesCardUnchanged(t *testing.T) {
	s := openTestStore(t)
	seedCardset(t, s, 1)

	boom := errors.New("boom")
	_, err := s.UpdateFlashcard(ctx, "card-0", func(c Flashcard) (Flashcard, error) {
		return Flashcard{}, boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("err = %v, want boom", err)
	}
	got, _ := s.GetFlashcard(ctx, "card-0")
	if got.Proficiency != 0 {
		t.Errorf("Proficiency = %d, want 0", got.Proficiency)
	}

	if _, err := s.UpdateFlashcard(ctx, "missing", func(c Flashcard) (Flashcard, error) { return c, nil }); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateFlashcard(missing) = %v, want ErrNotFound", err)
	}
}

func TestDeleteCardset_CascadesToCards(t *testing.T) {
	s := openTestStore(t)
	seedCardset(t, s, 2)

	if err := s.DeleteCardset(ctx, "cs1"); err != nil {
		t.Fatalf("DeleteCardset: %v", err)
	}
	if _, err := s.GetFlashcard(ctx, "card-0"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetFlashcard after cardset delete = %v, want ErrNotFound", err)
	}
}

func TestChatMessagesRoundTrip(t *testing.T) {
	s := openTestStore(t)

	if err := s.CreateChat(ctx, Chat{ID: "c1", DocumentIDs: []string{"d1", "d2"}}); err != nil {
		t.Fatalf("CreateChat: %v", err)
	}
	msgs := []ChatMessage{
		{Role: "user", Content: "What is a cell?"},
		{Role: "assistant", Content: "The basic unit of life.", Citations: `[{"page_num":3}]`},
	}
	if err := s.AppendChatMessages(ctx, "c1", msgs); err != nil {
		t.Fatalf("AppendChatMessages: %v", err)
	}

	chat, err := s.GetChat(ctx, "c1")
	if err != nil {
		t.Fatalf("GetChat: %v", err)
	}
	if len(chat.DocumentIDs) != 2 || chat.DocumentIDs[1] != "d2" {
		t.Errorf("DocumentIDs = %v", chat.DocumentIDs)
	}

	got, err := s.ListChatMessages(ctx, "c1")
	if err != nil {
		t.Fatalf("ListChatMessages: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("got %d messages, want 2", len(got))
	}
	if got[0].Role != "user" || got[0].Citations != "[]" {
		t.Errorf("first message = %+v", got[0])
	}
	if got[1].Citations != `[{"page_num":3}]` {
		t.Errorf("citations = %q", got[1].Citations)
	}

	if err := s.AppendChatMessages(ctx, "missing", msgs); !errors.Is(err, ErrNotFound) {
		t.Errorf("AppendChatMessages(missing) = %v, want ErrNotFound", err)
	}
}

func TestActivityAndStreak(t *testing.T) {
	s := openTestStore(t)

	a := Activity{ID: "a1", UserID: "u1", Kind: "login", OccurredAt: time.Now().UTC()}
	if err := s.SaveActivity(ctx, a); err != nil {
		t.Fatalf("SaveActivity: %v", err)
	}
	if err := s.SaveActivity(ctx, a); err != nil {
		t.Fatalf("SaveActivity duplicate: %v", err)
	}
	list, err := s.ListActivities(ctx, "u1", 10)
	if err != nil {
		t.Fatalf("ListActivities: %v", err)
	}
	if len(list) != 1 {
		t.Errorf("got %d activities, want 1 (duplicate ignored)", len(list))
	}

	if _, err := s.GetStreak(ctx, "u1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetStreak before update = %v, want ErrNotFound", err)
	}
	_, err = s.UpdateStreak(ctx, "u1", func(st Streak) Streak {
		st.Current, st.Longest, st.LastActiveDay = 1, 1, "2026-10-14"
		return st
	})
	if err != nil {
		t.Fatalf("UpdateStreak: %v", err)
	}
	st, err := s.GetStreak(ctx, "u1")
	if err != nil {
		t.Fatalf("GetStreak: %v", err)
	}
	if st.Current != 1 || st.LastActiveDay != "2026-10-14" {
		t.Errorf("streak = %+v", st)
	}
}
