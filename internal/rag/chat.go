package rag

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/docintel/internal/engine"
	"github.com/kalambet/docintel/internal/storage"
)

// ChatStore persists chats. *storage.Store implements it.
type ChatStore interface {
	CreateChat(ctx context.Context, c storage.Chat) error
	GetChat(ctx context.Context, id string) (storage.Chat, error)
	AppendChatMessages(ctx context.Context, chatID string, msgs []storage.ChatMessage) error
	ListChatMessages(ctx context.Context, chatID string) ([]storage.ChatMessage, error)
}

// Chats keeps a persisted transcript per conversation on top of Service.
type Chats struct {
	svc   *Service
	store ChatStore
}

func NewChats(svc *Service, store ChatStore) *Chats {
	return &Chats{svc: svc, store: store}
}

// Start opens a chat over documentIDs.
func (c *Chats) Start(ctx context.Context, title string, documentIDs []string) (storage.Chat, error) {
	chat := storage.Chat{
		ID:          uuid.New().String(),
		Title:       title,
		DocumentIDs: documentIDs,
		CreatedAt:   time.Now().UTC(),
	}
	if err := c.store.CreateChat(ctx, chat); err != nil {
		return storage.Chat{}, fmt.Errorf("creating chat: %w", err)
	}
	return chat, nil
}

// Ask answers question in the context of the chat's earlier turns and stores
// both the question and the reply. The fallback reply is stored too, so the
// transcript shows every question asked.
func (c *Chats) Ask(ctx context.Context, chatID, question string) (Answer, error) {
	chat, err := c.store.GetChat(ctx, chatID)
	if err != nil {
		return Answer{}, fmt.Errorf("loading chat %s: %w", chatID, err)
	}
	history, err := c.store.ListChatMessages(ctx, chatID)
	if err != nil {
		return Answer{}, fmt.Errorf("loading chat history: %w", err)
	}

	before := len(history)
	ans, err := c.svc.ProcessAnswer(ctx, chat.DocumentIDs, question, &history)
	if err != nil {
		return Answer{}, err
	}

	reply := storage.ChatMessage{Role: engine.RoleAssistant, Content: ans.Content, Citations: "[]"}
	if len(history) > before {
		reply = history[before]
	}
	turns := []storage.ChatMessage{{Role: engine.RoleUser, Content: question}, reply}
	if err := c.store.AppendChatMessages(ctx, chatID, turns); err != nil {
		return Answer{}, fmt.Errorf("saving chat turns: %w", err)
	}
	return ans, nil
}

// History returns the stored turns of a chat in order.
func (c *Chats) History(ctx context.Context, chatID string) ([]storage.ChatMessage, error) {
	return c.store.ListChatMessages(ctx, chatID)
}
