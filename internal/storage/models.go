package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Document status values.
const (
	DocumentUploaded  = "uploaded"
	DocumentIngesting = "ingesting"
	DocumentReady     = "ready"
	DocumentFailed    = "failed"
)

type Document struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	ContentType string    `json:"content_type"`
	BlobPath    string    `json:"blob_path"`
	Status      string    `json:"status"`
	PageCount   int       `json:"page_count"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Job struct {
	ID          string
	Type        string
	PayloadJSON string
	Status      string // "pending", "running", "completed", "failed"
	Attempts    int
	MaxAttempts int
	RunAfter    time.Time
	CreatedAt   time.Time
	UpdatedAt   time.Time
	LastError   string
}

// ClusterElement is the projected position and topic label of one page.
// Z is always 0 when Dimensions is 2.
type ClusterElement struct {
	DocumentID  string  `json:"document_id"`
	PageNumber  int     `json:"page_number"`
	ClusterName string  `json:"cluster_name"`
	X           float64 `json:"x"`
	Y           float64 `json:"y"`
	Z           float64 `json:"z"`
	Dimensions  int     `json:"dimensions"`
}

type Cardset struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"document_id"`
	Name       string    `json:"name"`
	CreatedAt  time.Time `json:"created_at"`
}

type Flashcard struct {
	ID               string    `json:"id"`
	CardsetID        string    `json:"cardset_id"`
	Front            string    `json:"front"`
	Back             string    `json:"back"`
	PageNum          int       `json:"page_num"`
	Proficiency      int       `json:"proficiency"`
	TimeOfNextReview time.Time `json:"time_of_next_review"`
	CreatedAt        time.Time `json:"created_at"`
}

type Chat struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	DocumentIDs []string  `json:"document_ids"`
	CreatedAt   time.Time `json:"created_at"`
}

// ChatMessage is one persisted turn. Citations holds the JSON-serialized
// citation list attached to assistant turns.
type ChatMessage struct {
	ID        int64     `json:"id"`
	ChatID    string    `json:"chat_id"`
	Role      string    `json:"role"`
	Content   string    `json:"content"`
	Citations string    `json:"citations"`
	CreatedAt time.Time `json:"created_at"`
}

type Activity struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	Kind       string    `json:"kind"`
	OccurredAt time.Time `json:"occurred_at"`
	Metadata   string    `json:"metadata"` // JSON object stored as text
}

// Streak tracks consecutive active days. LastActiveDay is formatted as 2006-01-02.
type Streak struct {
	UserID        string `json:"user_id"`
	Current       int    `json:"current"`
	Longest       int    `json:"longest"`
	LastActiveDay string `json:"last_active_day"`
}

// BrokerMessage is a row of the durable message log.
type BrokerMessage struct {
	ID        int64
	Topic     string
	Key       string
	Payload   []byte
	CreatedAt time.Time
}
