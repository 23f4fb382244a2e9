package broker

import "time"

// DocumentUploadRAG is published once a document's pages are embedded and
// stored. It triggers clustering.
type DocumentUploadRAG struct {
	DocumentID string `json:"document_id"`
	Dimensions int    `json:"dimensions"`
}

// DocumentUploadCDN is published when the original file lands in blob storage.
type DocumentUploadCDN struct {
	DocumentID  string `json:"document_id"`
	BlobPath    string `json:"blob_path"`
	ContentType string `json:"content_type"`
	Size        int64  `json:"size"`
}

// UserActivity records one thing a user did.
type UserActivity struct {
	ID         string            `json:"id"`
	UserID     string            `json:"user_id"`
	Kind       string            `json:"kind"`
	OccurredAt time.Time         `json:"occurred_at"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

// UserSignup carries the attributes of a newly registered user.
type UserSignup struct {
	UserID    string    `json:"user_id"`
	Email     string    `json:"email"`
	Name      string    `json:"name,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Handlers holds the in-core message handlers.
type Handlers struct {
	Clustering     Handler
	ActivitySave   Handler
	ActivityStreak Handler
}

// Routes returns the fixed topic, handler, and group registrations. Both
// activity groups subscribe to the same topic and each sees every message.
func (h Handlers) Routes() []Route {
	return []Route{
		{Topics: []string{TopicDocumentUploadRAG}, Group: GroupClustering, Handler: h.Clustering},
		{Topics: []string{TopicUserActivity}, Group: GroupActivitySave, Handler: h.ActivitySave},
		{Topics: []string{TopicUserActivity}, Group: GroupActivityStreak, Handler: h.ActivityStreak},
	}
}
