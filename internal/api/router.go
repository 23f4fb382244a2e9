// Package api exposes the document pipeline over HTTP (chi) and MCP
// (mcp-go).
package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/docintel/internal/activity"
	"github.com/kalambet/docintel/internal/clustering"
	"github.com/kalambet/docintel/internal/flashcard"
	"github.com/kalambet/docintel/internal/ingest"
	"github.com/kalambet/docintel/internal/quiz"
	"github.com/kalambet/docintel/internal/rag"
	"github.com/kalambet/docintel/internal/retrieval"
	"github.com/kalambet/docintel/internal/storage"
)

const maxRequestBodySize = 1 << 20 // 1MB

// userHeader carries the acting user for activity recording.
const userHeader = "X-User-ID"

// Prober reports whether the vector store answers. retrieval.VectorStore
// implements it.
type Prober interface {
	IsReachable(ctx context.Context) bool
}

// AppDeps are the services behind the HTTP API. Cards, Quizzes and Activity
// are optional; their routes answer 503 when nil, or skip recording.
type AppDeps struct {
	Store      *storage.Store
	Vectors    Prober
	Uploader   *ingest.Uploader
	RAG        *rag.Service
	Chats      *rag.Chats
	Clusters   *clustering.Service
	Flashcards *flashcard.Service
	Cards      *flashcard.Generator
	Quizzes    *quiz.Generator
	Grader     *quiz.Grader
	Activity   *activity.Recorder
	Token      string // empty disables bearer auth
	Logger     *slog.Logger
}

// NewAppHandler returns the HTTP API. /health is never behind auth.
func NewAppHandler(deps AppDeps) http.Handler {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}

	r := chi.NewRouter()
	r.Get("/health", handleHealth(deps))

	r.Group(func(r chi.Router) {
		r.Use(requireToken(deps.Token, deps.Logger))

		r.Post("/documents", handleUpload(deps))
		r.Get("/documents", handleListDocuments(deps))
		r.Get("/documents/{id}", handleGetDocument(deps))
		r.Get("/documents/{id}/clusters", handleListClusters(deps))
		r.Post("/documents/{id}/clusters", handleRecluster(deps))

		r.Post("/ask", handleAsk(deps))
		r.Post("/chats", handleStartChat(deps))
		r.Get("/chats/{id}/messages", handleChatHistory(deps))
		r.Post("/chats/{id}/messages", handleChatAsk(deps))

		r.Post("/cardsets", handleCreateCardset(deps))
		r.Get("/cardsets/{id}", handleGetCardset(deps))
		r.Delete("/cardsets/{id}", handleDeleteCardset(deps))
		r.Get("/cardsets/{id}/flashcards", handleListFlashcards(deps))
		r.Post("/cardsets/{id}/generate", handleGenerateFlashcards(deps))
		r.Post("/flashcards/{id}/review", handleReview(deps))

		r.Post("/quizzes", handleGenerateQuiz(deps))
		r.Post("/quizzes/grade", handleGradeQuiz(deps))

		r.Get("/users/{id}/streak", handleGetStreak(deps))
		r.Get("/users/{id}/activities", handleListActivities(deps))
	})

	return r
}

func handleHealth(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Vectors != nil && !deps.Vectors.IsReachable(r.Context()) {
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "degraded"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid request body: %v", err)
		return false
	}
	return true
}

func httpError(w http.ResponseWriter, code int, errType string, format string, args ...any) {
	writeJSON(w, code, map[string]any{
		"error": map[string]any{
			"message": fmt.Sprintf(format, args...),
			"type":    errType,
		},
	})
}

// serviceError maps domain sentinels to status codes.
func serviceError(w http.ResponseWriter, what string, err error) {
	switch {
	case errors.Is(err, storage.ErrNotFound):
		httpError(w, http.StatusNotFound, "not_found", "%s not found", what)
	case errors.Is(err, retrieval.ErrInvalidRange),
		errors.Is(err, retrieval.ErrInvalidInput),
		errors.Is(err, clustering.ErrInvalidDimensions),
		errors.Is(err, quiz.ErrLengthMismatch):
		httpError(w, http.StatusBadRequest, "invalid_request_error", "%v", err)
	case errors.Is(err, clustering.ErrDocumentEmpty):
		httpError(w, http.StatusConflict, "invalid_request_error", "%v", err)
	default:
		httpError(w, http.StatusInternalServerError, "api_error", "%s failed: %v", what, err)
	}
}

func unavailable(w http.ResponseWriter, feature string) {
	httpError(w, http.StatusServiceUnavailable, "api_error", "%s is not configured", feature)
}

func parseIntParam(r *http.Request, key string, defaultVal, maxVal int) int {
	s := r.URL.Query().Get(key)
	if s == "" {
		return defaultVal
	}
	v, err := strconv.Atoi(s)
	if err != nil || v < 0 {
		return defaultVal
	}
	if maxVal > 0 && v > maxVal {
		return maxVal
	}
	return v
}
