package api

import (
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/kalambet/docintel/internal/activity"
	"github.com/kalambet/docintel/internal/clustering"
	"github.com/kalambet/docintel/internal/storage"
)

const maxUploadSize = 64 << 20 // 64MB

func handleUpload(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		r.Body = http.MaxBytesReader(w, r.Body, maxUploadSize)
		if err := r.ParseMultipartForm(8 << 20); err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "invalid multipart body: %v", err)
			return
		}
		file, header, err := r.FormFile("file")
		if err != nil {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "file is required")
			return
		}
		defer file.Close()

		doc, err := deps.Uploader.Upload(r.Context(), header.Filename, header.Header.Get("Content-Type"), file)
		if err != nil {
			serviceError(w, "upload", err)
			return
		}

		deps.Activity.Record(r.Context(), r.Header.Get(userHeader), activity.KindDocumentUpload,
			map[string]string{"document_id": doc.ID})
		writeJSON(w, http.StatusAccepted, doc)
	}
}

func handleListDocuments(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		limit := parseIntParam(r, "limit", 20, 100)
		offset := parseIntParam(r, "offset", 0, 0)

		docs, err := deps.Store.ListDocuments(r.Context(), limit, offset)
		if err != nil {
			serviceError(w, "list documents", err)
			return
		}
		if docs == nil {
			docs = []storage.Document{}
		}
		writeJSON(w, http.StatusOK, docs)
	}
}

func handleGetDocument(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		doc, err := deps.Store.GetDocument(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			serviceError(w, "document", err)
			return
		}
		writeJSON(w, http.StatusOK, doc)
	}
}

func handleListClusters(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		elems, err := deps.Store.ListClusterElements(r.Context(), chi.URLParam(r, "id"))
		if err != nil {
			serviceError(w, "clusters", err)
			return
		}
		if elems == nil {
			elems = []storage.ClusterElement{}
		}
		writeJSON(w, http.StatusOK, elems)
	}
}

type reclusterRequest struct {
	Dimensions int `json:"dimensions"`
}

// handleRecluster runs clustering synchronously and supersedes stored rows.
func handleRecluster(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if deps.Clusters == nil {
			unavailable(w, "clustering")
			return
		}
		req := reclusterRequest{Dimensions: clustering.DefaultDimensions}
		if r.ContentLength != 0 && !decodeJSON(w, r, &req) {
			return
		}
		elems, err := deps.Clusters.Cluster(r.Context(), chi.URLParam(r, "id"), req.Dimensions)
		if err != nil {
			serviceError(w, "clustering", err)
			return
		}
		writeJSON(w, http.StatusOK, elems)
	}
}

type askRequest struct {
	DocumentIDs []string `json:"document_ids"`
	Question    string   `json:"question"`
}

// handleAsk answers a one-off question without a stored transcript.
func handleAsk(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req askRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.Question == "" || len(req.DocumentIDs) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "question and document_ids are required")
			return
		}
		ans, err := deps.RAG.ProcessAnswer(r.Context(), req.DocumentIDs, req.Question, nil)
		if err != nil {
			serviceError(w, "answer", err)
			return
		}
		recordQuestion(deps, r, "")
		writeJSON(w, http.StatusOK, ans)
	}
}

type startChatRequest struct {
	Title       string   `json:"title"`
	DocumentIDs []string `json:"document_ids"`
}

func handleStartChat(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req startChatRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if len(req.DocumentIDs) == 0 {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "document_ids is required")
			return
		}
		chat, err := deps.Chats.Start(r.Context(), req.Title, req.DocumentIDs)
		if err != nil {
			serviceError(w, "chat", err)
			return
		}
		writeJSON(w, http.StatusCreated, chat)
	}
}

func handleChatHistory(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := chi.URLParam(r, "id")
		if _, err := deps.Store.GetChat(r.Context(), id); err != nil {
			serviceError(w, "chat", err)
			return
		}
		msgs, err := deps.Chats.History(r.Context(), id)
		if err != nil {
			serviceError(w, "chat history", err)
			return
		}
		if msgs == nil {
			msgs = []storage.ChatMessage{}
		}
		writeJSON(w, http.StatusOK, msgs)
	}
}

type chatAskRequest struct {
	Question string `json:"question"`
}

func handleChatAsk(deps AppDeps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req chatAskRequest
		if !decodeJSON(w, r, &req) {
			return
		}
		if req.Question == "" {
			httpError(w, http.StatusBadRequest, "invalid_request_error", "question is required")
			return
		}
		id := chi.URLParam(r, "id")
		ans, err := deps.Chats.Ask(r.Context(), id, req.Question)
		if err != nil {
			serviceError(w, "chat", err)
			return
		}
		recordQuestion(deps, r, id)
		writeJSON(w, http.StatusOK, ans)
	}
}

func recordQuestion(deps AppDeps, r *http.Request, chatID string) {
	var meta map[string]string
	if chatID != "" {
		meta = map[string]string{"chat_id": chatID}
	}
	deps.Activity.Record(r.Context(), r.Header.Get(userHeader), activity.KindQuestionAsked, meta)
}
