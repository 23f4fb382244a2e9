package api

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/kalambet/docintel/internal/activity"
	"github.com/kalambet/docintel/internal/quiz"
	"github.com/kalambet/docintel/internal/storage"
)

type createCardsetRequest struct {
	DocumentID string `json:"document_id"`
	Name       string `json:"name"`
}

func handleCreateCardset(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req createCardsetRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.DocumentID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "document_id is required")
			return
		}
		if _, err := deps.Store.GetDocument(r.Context(), req.DocumentID); err != nil {
			serviceError(w, "document", err)
			return
		}
		cs := storage.Cardset{
			ID:         uuid.New().String(),
			DocumentID: req.DocumentID,
			Name:       req.Name,
			CreatedAt:  time.Now().UTC().Truncate(time.Second),
		}
		if err := deps.Store.CreateCardset(r.Context(), cs); err != nil {
			serviceError(w, "cardset", err)
			return
		}
		writeJSON(w, http.StatusCreated, cs)
	}
}

func handleGetCardset(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cs, err := deps.Store.GetCardset(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			serviceError(w, "cardset", err)
			return
		}
		writeJSON(w, http.StatusOK, cs)
	}
}

func handleDeleteCardset(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := deps.Store.DeleteCardset(r.Context(), chi.URLParam(r, "id")); err != nil {
			serviceError(w, "cardset", err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "deleted"})
	}
}

// handleListFlashcards lists all cards of a cardset, or only the due ones
// with ?due=true.
func handleListFlashcards(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		var (
			cards []storage.Flashcard
			err   error
		)
		if due, _ := strconv.ParseBool(r.URL.Query().Get("due")); due {
			cards, err = deps.Flashcards.Due(r.Context(), id)
		} else {
			cards, err = deps.Store.ListFlashcards(r.Context(), id, time.Time{})
		}
		if err != nil {
			serviceError(w, "flashcards", err)
			return
		}
		if cards == nil {
			cards = []storage.Flashcard{}
		}
		writeJSON(w, http.StatusOK, cards)
	}
}

type generateCardsRequest struct {
	StartPage int `json:"start_page"`
	EndPage   int `json:"end_page"`
}

type pageFailure struct {
	PageNum int    `json:"page_num"`
	Error   string `json:"error"`
}

type generateCardsResponse struct {
	Cards  []storage.Flashcard `json:"cards"`
	Failed []pageFailure       `json:"failed"`
}

func handleGenerateFlashcards(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Cards == nil {
			unavailable(w, "flashcard generation")
			return
		}
		var req generateCardsRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		cs, err := deps.Store.GetCardset(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			serviceError(w, "cardset", err)
			return
		}

		res, err := deps.Cards.GenerateForRange(r.Context(), cs.ID, cs.DocumentID, req.StartPage, req.EndPage)
		if err != nil {
			serviceError(w, "flashcard generation", err)
			return
		}
		if err := deps.Flashcards.Add(r.Context(), res.Cards); err != nil {
			serviceError(w, "saving flashcards", err)
			return
		}

		out := generateCardsResponse{Cards: res.Cards, Failed: []pageFailure{}}
		if out.Cards == nil {
			out.Cards = []storage.Flashcard{}
		}
		for _, f := range res.Failed {
			out.Failed = append(out.Failed, pageFailure{PageNum: f.PageNum, Error: f.Err.Error()})
		}
		writeJSON(w, http.StatusCreated, out)
	}
}

type reviewRequest struct {
	Correct bool `json:"correct"`
}

func handleReview(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req reviewRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		card, err := deps.Flashcards.Review(r.Context(), chi.URLParam(r, "id"), req.Correct)
		if err != nil {
			serviceError(w, "flashcard", err)
			return
		}
		deps.Activity.Record(r.Context(), r.Header.Get(userHeader), activity.KindFlashcardReview, map[string]string{
			"card_id": card.ID,
			"correct": strconv.FormatBool(req.Correct),
		})
		writeJSON(w, http.StatusOK, card)
	}
}

type generateQuizRequest struct {
	DocumentID string `json:"document_id"`
	StartPage  int    `json:"start_page"`
	EndPage    int    `json:"end_page"`
	Count      int    `json:"count"`
}

func handleGenerateQuiz(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Quizzes == nil {
			unavailable(w, "quiz generation")
			return
		}
		req := generateQuizRequest{Count: 5}
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.DocumentID == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "document_id is required")
			return
		}
		q, err := deps.Quizzes.Generate(r.Context(), req.DocumentID, req.StartPage, req.EndPage, req.Count)
		if err != nil {
			serviceError(w, "quiz generation", err)
			return
		}
		writeJSON(w, http.StatusCreated, q)
	}
}

// gradeRequest accepts either a whole quiz with answers, or the three
// parallel lists.
type gradeRequest struct {
	Quiz           *quiz.Quiz `json:"quiz"`
	Answers        []string   `json:"answers"`
	Questions      []string   `json:"questions"`
	CorrectAnswers []string   `json:"correct_answers"`
	StudentAnswers []string   `json:"student_answers"`
}

func handleGradeQuiz(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req gradeRequest
		if !decodeJSON(w, r, &req) {
			return
		}

		var (
			graded quiz.Graded
			err    error
		)
		switch {
		case req.Quiz != nil && deps.Grader != nil:
			graded, err = deps.Grader.Grade(r.Context(), *req.Quiz, req.Answers)
		case req.Quiz != nil:
			graded, err = quiz.GradeQuiz(*req.Quiz, req.Answers)
		default:
			graded, err = quiz.Grade(req.Questions, req.CorrectAnswers, req.StudentAnswers)
		}
		if err != nil {
			serviceError(w, "grading", err)
			return
		}

		deps.Activity.Record(r.Context(), r.Header.Get(userHeader), activity.KindQuizGraded, map[string]string{
			"score": strconv.Itoa(graded.Score),
			"total": strconv.Itoa(graded.Total),
		})
		writeJSON(w, http.StatusOK, graded)
	}
}

func handleGetStreak(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		st, err := deps.Store.GetStreak(r.Context(), id)
		if errors.Is(err, storage.ErrNotFound) {
			st, err = storage.Streak{UserID: id}, nil
		}
		if err != nil {
			serviceError(w, "streak", err)
			return
		}
		writeJSON(w, http.StatusOK, st)
	}
}

func handleListActivities(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		acts, err := deps.Store.ListActivities(r.Context(), chi.URLParam(r, "id"), parseIntParam(r, "limit", 50, 500))
		if err != nil {
			serviceError(w, "activities", err)
			return
		}
		if acts == nil {
			acts = []storage.Activity{}
		}
		writeJSON(w, http.StatusOK, acts)
	}
}
