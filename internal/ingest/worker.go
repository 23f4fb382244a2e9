// Package ingest turns uploaded files into embedded pages and announces them
// on the broker.
package ingest

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/kalambet/docintel/internal/blob"
	"github.com/kalambet/docintel/internal/broker"
	"github.com/kalambet/docintel/internal/storage"
)

// JobType is the queue job type handled by Worker.
const JobType = "document_ingest"

// maxBlobBytes bounds how much of a stored file is read.
const maxBlobBytes = 64 << 20

// JobStore abstracts the job queue operations.
type JobStore interface {
	ClaimNextJob(ctx context.Context, types []string) (*storage.Job, error)
	CompleteJob(ctx context.Context, id string) error
	FailJob(ctx context.Context, id string, errMsg string) error
}

// StaleRequeuer is implemented by job stores that can recover jobs left
// running by a worker that died. *storage.Store implements it.
type StaleRequeuer interface {
	RequeueStale(ctx context.Context, types []string, olderThan time.Duration) (int, error)
}

// staleAfter is how long a running ingest job may go untouched before Run
// treats its worker as dead.
const staleAfter = 10 * time.Minute

// DocumentStore tracks document metadata and status.
type DocumentStore interface {
	GetDocument(ctx context.Context, id string) (storage.Document, error)
	UpdateDocumentStatus(ctx context.Context, id, status string, pageCount int) error
}

// BatchEmbedder generates embeddings for many texts. *retrieval.Embedder
// implements it.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
}

// PagePoster upserts one embedded page. retrieval.VectorStore implements it.
type PagePoster interface {
	PostCurriculum(ctx context.Context, text string, pageNum int, documentName string, embedding []float32, documentID string) (bool, error)
}

// Publisher announces ingested documents. *broker.Producer implements it.
type Publisher interface {
	Publish(ctx context.Context, topic string, payload any) error
}

// Deps are the collaborators of Worker.
type Deps struct {
	Jobs      JobStore
	Documents DocumentStore
	Blobs     blob.Store
	Embedder  BatchEmbedder
	Pages     PagePoster
	Publisher Publisher
	Logger    *slog.Logger
}

// Worker processes document_ingest jobs from the SQLite job queue.
type Worker struct {
	Deps
	poll       time.Duration
	dimensions int
	pageChars  int
}

// NewWorker creates a Worker with the given dependencies.
// If pollInterval is <= 0, it defaults to 500ms.
func NewWorker(deps Deps, pollInterval time.Duration) *Worker {
	if pollInterval <= 0 {
		pollInterval = 500 * time.Millisecond
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	return &Worker{Deps: deps, poll: pollInterval, dimensions: 2, pageChars: DefaultPageChars}
}

// WithProjection sets the dimensions requested in document.upload.rag.
func (w *Worker) WithProjection(dims int) *Worker {
	w.dimensions = dims
	return w
}

// WithPageChars sets the chunk size for text files without form feeds.
func (w *Worker) WithPageChars(n int) *Worker {
	w.pageChars = n
	return w
}

// Run polls for jobs until ctx is cancelled. It first requeues stale running
// jobs when the job store supports it.
func (w *Worker) Run(ctx context.Context) {
	if rq, ok := w.Jobs.(StaleRequeuer); ok {
		n, err := rq.RequeueStale(ctx, []string{JobType}, staleAfter)
		if err != nil {
			w.Logger.Warn("requeueing stale ingest jobs", "error", err)
		} else if n > 0 {
			w.Logger.Info("requeued stale ingest jobs", "count", n)
		}
	}
	for {
		if ctx.Err() != nil {
			return
		}

		done, err := w.RunOnce(ctx)
		if err != nil {
			w.Logger.Error("worker iteration failed", "error", err)
		}
		if done {
			continue
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(w.poll):
		}
	}
}

// RunOnce claims and processes a single document_ingest job.
// Returns true if a job was processed (regardless of success/failure).
func (w *Worker) RunOnce(ctx context.Context) (bool, error) {
	job, err := w.Jobs.ClaimNextJob(ctx, []string{JobType})
	if err != nil {
		return false, fmt.Errorf("claiming job: %w", err)
	}
	if job == nil {
		return false, nil
	}

	var payload Payload
	if err := json.Unmarshal([]byte(job.PayloadJSON), &payload); err != nil {
		w.fail(ctx, job, "", fmt.Errorf("parsing payload: %w", err))
		return true, nil
	}

	if err := w.process(ctx, payload.DocumentID); err != nil {
		w.fail(ctx, job, payload.DocumentID, err)
		return true, nil
	}

	if err := w.Jobs.CompleteJob(ctx, job.ID); err != nil {
		return true, fmt.Errorf("completing job %s: %w", job.ID, err)
	}
	return true, nil
}

// fail records a failed attempt. On the last attempt the document is marked
// failed as well.
func (w *Worker) fail(ctx context.Context, job *storage.Job, documentID string, err error) {
	w.Logger.Warn("job failed", "job_id", job.ID, "document_id", documentID, "attempt", job.Attempts+1, "error", err)
	if failErr := w.Jobs.FailJob(ctx, job.ID, err.Error()); failErr != nil {
		w.Logger.Error("failed to mark job as failed", "job_id", job.ID, "error", failErr)
	}
	if documentID != "" && job.Attempts+1 >= job.MaxAttempts {
		if err := w.Documents.UpdateDocumentStatus(ctx, documentID, storage.DocumentFailed, -1); err != nil {
			w.Logger.Error("failed to mark document as failed", "document_id", documentID, "error", err)
		}
	}
}

func (w *Worker) process(ctx context.Context, documentID string) error {
	start := time.Now()
	doc, err := w.Documents.GetDocument(ctx, documentID)
	if err != nil {
		return fmt.Errorf("loading document %s: %w", documentID, err)
	}
	if err := w.Documents.UpdateDocumentStatus(ctx, doc.ID, storage.DocumentIngesting, -1); err != nil {
		return fmt.Errorf("marking document ingesting: %w", err)
	}

	rc, err := w.Blobs.Open(ctx, doc.BlobPath)
	if err != nil {
		return fmt.Errorf("opening blob: %w", err)
	}
	data, err := io.ReadAll(io.LimitReader(rc, maxBlobBytes))
	rc.Close()
	if err != nil {
		return fmt.Errorf("reading blob: %w", err)
	}

	pages, err := ExtractPages(doc.ContentType, data, w.pageChars)
	if err != nil {
		return err
	}
	if len(pages) == 0 {
		return fmt.Errorf("document %s has no extractable text", doc.ID)
	}

	texts := make([]string, len(pages))
	for i, p := range pages {
		texts[i] = p.Text
	}
	vecs, err := w.Embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("embedding pages: %w", err)
	}
	for i, p := range pages {
		if _, err := w.Pages.PostCurriculum(ctx, p.Text, p.Num, doc.Name, vecs[i], doc.ID); err != nil {
			return fmt.Errorf("storing page %d: %w", p.Num, err)
		}
	}

	if err := w.Documents.UpdateDocumentStatus(ctx, doc.ID, storage.DocumentReady, len(pages)); err != nil {
		return fmt.Errorf("marking document ready: %w", err)
	}
	if err := w.Publisher.Publish(ctx, broker.TopicDocumentUploadRAG, broker.DocumentUploadRAG{
		DocumentID: doc.ID,
		Dimensions: w.dimensions,
	}); err != nil {
		return fmt.Errorf("announcing document: %w", err)
	}

	w.Logger.Info("document ingested", "document_id", doc.ID, "pages", len(pages), "duration", time.Since(start))
	return nil
}
