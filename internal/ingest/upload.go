package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/docintel/internal/blob"
	"github.com/kalambet/docintel/internal/broker"
	"github.com/kalambet/docintel/internal/storage"
)

// Payload is the JSON body of a document_ingest job.
type Payload struct {
	DocumentID string `json:"document_id"`
}

// Queue stores documents and enqueues their ingest jobs. *storage.Store
// implements it.
type Queue interface {
	SaveDocument(ctx context.Context, d storage.Document) error
	EnqueueJob(ctx context.Context, job storage.Job) error
}

// Uploader accepts new files: it stores the blob, records the document,
// publishes document.upload.cdn and queues ingestion.
type Uploader struct {
	queue     Queue
	blobs     blob.Store
	publisher Publisher
	logger    *slog.Logger
}

func NewUploader(queue Queue, blobs blob.Store, publisher Publisher, logger *slog.Logger) *Uploader {
	if logger == nil {
		logger = slog.Default()
	}
	return &Uploader{queue: queue, blobs: blobs, publisher: publisher, logger: logger}
}

// Upload saves data under a new document id and returns the document. An
// empty contentType is guessed from the file name.
func (u *Uploader) Upload(ctx context.Context, filename, contentType string, data io.Reader) (storage.Document, error) {
	if filename == "" {
		return storage.Document{}, fmt.Errorf("file name is required")
	}
	if contentType == "" || contentType == "application/octet-stream" {
		contentType = blob.ContentType(filename)
	}

	counter := &countingReader{r: data}
	id := uuid.New().String()
	path, err := u.blobs.Put(ctx, id, filename, counter)
	if err != nil {
		return storage.Document{}, fmt.Errorf("storing upload: %w", err)
	}

	doc := storage.Document{
		ID:          id,
		Name:        filename,
		ContentType: contentType,
		BlobPath:    path,
		Status:      storage.DocumentUploaded,
		CreatedAt:   time.Now().UTC(),
	}
	if err := u.queue.SaveDocument(ctx, doc); err != nil {
		return storage.Document{}, fmt.Errorf("saving document: %w", err)
	}

	if err := u.publisher.Publish(ctx, broker.TopicDocumentUploadCDN, broker.DocumentUploadCDN{
		DocumentID:  id,
		BlobPath:    path,
		ContentType: contentType,
		Size:        counter.n,
	}); err != nil {
		u.logger.Warn("upload not announced", "document_id", id, "error", err)
	}

	payload, _ := json.Marshal(Payload{DocumentID: id})
	if err := u.queue.EnqueueJob(ctx, storage.Job{
		ID:          uuid.New().String(),
		Type:        JobType,
		PayloadJSON: string(payload),
	}); err != nil {
		return storage.Document{}, fmt.Errorf("queueing ingestion: %w", err)
	}

	u.logger.Info("document uploaded", "document_id", id, "name", filename, "bytes", counter.n)
	return doc, nil
}

type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
