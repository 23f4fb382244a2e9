package retrieval

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

var (
	// ErrInvalidRange is returned by GetPageRange when start > end.
	ErrInvalidRange = errors.New("invalid page range")
	// ErrInvalidInput is returned for empty text or embeddings.
	ErrInvalidInput = errors.New("invalid input")
	// ErrDimensionMismatch is returned when a vector's width differs from the
	// configured embedding dimensionality.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// VectorStore owns page texts and their embeddings. Every read is scoped to
// one document.
type VectorStore interface {
	// IsReachable is a liveness probe for health checks. It never fails.
	IsReachable(ctx context.Context) bool

	// GetCurriculum returns the pages of documentID most similar to
	// queryEmbedding, best first.
	GetCurriculum(ctx context.Context, documentID string, queryEmbedding []float32) ([]Citation, error)

	// GetPageRange returns pages start..end inclusive, ordered by page number.
	GetPageRange(ctx context.Context, documentID string, start, end int) ([]Citation, error)

	// GetAllPages returns every page of documentID with its embedding,
	// ordered by page number.
	GetAllPages(ctx context.Context, documentID string) ([]EmbeddedCitation, error)

	// PostCurriculum upserts one page keyed by (documentID, pageNum).
	PostCurriculum(ctx context.Context, text string, pageNum int, documentName string, embedding []float32, documentID string) (bool, error)
}

// Citation is a retrieved passage with its provenance.
type Citation struct {
	Text         string `json:"text"`
	PageNum      int    `json:"page_num"`
	DocumentName string `json:"document_name"`
	DocumentID   string `json:"document_id"`
}

// EmbeddedCitation is a Citation together with the page embedding.
type EmbeddedCitation struct {
	Citation
	Embedding []float32 `json:"embedding"`
}

// Backend names accepted by NewVectorStore.
const (
	BackendSQLite   = "sqlite"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

// DefaultTopK is the number of citations GetCurriculum returns when unset.
const DefaultTopK = 5

// StoreOptions selects and configures a VectorStore backend.
type StoreOptions struct {
	Backend     string
	DB          *sql.DB // sqlite backend
	PostgresURL string  // postgres backend
	TopK        int
	Dimensions  int // 0 accepts any width
}

// NewVectorStore resolves opts.Backend to a concrete store. Unknown backends
// fail here, at startup.
func NewVectorStore(ctx context.Context, opts StoreOptions) (VectorStore, error) {
	if opts.TopK <= 0 {
		opts.TopK = DefaultTopK
	}
	switch opts.Backend {
	case BackendSQLite, "":
		if opts.DB == nil {
			return nil, fmt.Errorf("sqlite vector store: database handle is required")
		}
		s := NewSQLiteStore(opts.DB)
		s.topK, s.dims = opts.TopK, opts.Dimensions
		return s, nil
	case BackendPostgres:
		return NewPostgresStore(ctx, opts.PostgresURL, opts.TopK, opts.Dimensions)
	case BackendMemory:
		m := NewMemoryStore()
		m.topK, m.dims = opts.TopK, opts.Dimensions
		return m, nil
	default:
		return nil, fmt.Errorf("unknown vector store backend %q (want %s, %s or %s)",
			opts.Backend, BackendSQLite, BackendPostgres, BackendMemory)
	}
}

// checkPage validates PostCurriculum arguments shared by all backends.
func checkPage(text string, pageNum int, embedding []float32, documentID string, dims int) error {
	if documentID == "" {
		return fmt.Errorf("%w: document id is empty", ErrInvalidInput)
	}
	if pageNum < 0 {
		return fmt.Errorf("%w: negative page number %d", ErrInvalidInput, pageNum)
	}
	if len(embedding) == 0 {
		return fmt.Errorf("%w: empty embedding for page %d", ErrInvalidInput, pageNum)
	}
	if dims > 0 && len(embedding) != dims {
		return fmt.Errorf("%w: page %d has %d dimensions, want %d", ErrDimensionMismatch, pageNum, len(embedding), dims)
	}
	return nil
}

func checkRange(start, end int) error {
	if start > end {
		return fmt.Errorf("%w: start %d > end %d", ErrInvalidRange, start, end)
	}
	return nil
}
