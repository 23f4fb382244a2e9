package retrieval

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// Compile-time check that SQLiteStore implements VectorStore.
var _ VectorStore = (*SQLiteStore)(nil)

// SQLiteStore keeps pages in the curriculum_pages table and answers
// similarity queries with a brute-force cosine scan over one document.
type SQLiteStore struct {
	db   *sql.DB
	topK int
	dims int
}

// NewSQLiteStore wraps an existing *sql.DB for vector operations.
// The curriculum_pages table must already exist (created via migrations).
func NewSQLiteStore(db *sql.DB) *SQLiteStore {
	return &SQLiteStore{db: db, topK: DefaultTopK}
}

func (s *SQLiteStore) IsReachable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	var n int
	return s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM curriculum_pages").Scan(&n) == nil
}

func (s *SQLiteStore) PostCurriculum(ctx context.Context, text string, pageNum int, documentName string, embedding []float32, documentID string) (bool, error) {
	if err := checkPage(text, pageNum, embedding, documentID, s.dims); err != nil {
		return false, err
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO curriculum_pages (document_id, page_num, document_name, text, embedding, updated_at)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(document_id, page_num) DO UPDATE SET
			document_name = excluded.document_name,
			text = excluded.text,
			embedding = excluded.embedding,
			updated_at = excluded.updated_at`,
		documentID, pageNum, documentName, text, encodeFloat32s(embedding), time.Now().UTC().Format(time.RFC3339))
	if err != nil {
		return false, fmt.Errorf("upserting page %d of %s: %w", pageNum, documentID, err)
	}
	return true, nil
}

func (s *SQLiteStore) GetCurriculum(ctx context.Context, documentID string, queryEmbedding []float32) ([]Citation, error) {
	queryNorm := norm(queryEmbedding)
	if queryNorm == 0 {
		return nil, nil
	}
	if s.dims > 0 && len(queryEmbedding) != s.dims {
		return nil, fmt.Errorf("%w: query has %d dimensions, want %d", ErrDimensionMismatch, len(queryEmbedding), s.dims)
	}

	// Phase 1: scan only page_num + embedding to find top-K candidates.
	rows, err := s.db.QueryContext(ctx, `SELECT page_num, embedding FROM curriculum_pages WHERE document_id = ?`, documentID)
	if err != nil {
		return nil, fmt.Errorf("querying vectors: %w", err)
	}
	defer rows.Close()

	best := newRanking(s.topK)
	var buf []float32
	for rows.Next() {
		var page int
		var blob []byte
		if err := rows.Scan(&page, &blob); err != nil {
			return nil, fmt.Errorf("scanning row: %w", err)
		}
		buf, err = decodeFloat32sInto(buf, blob)
		if err != nil {
			return nil, fmt.Errorf("decoding embedding for page %d: %w", page, err)
		}
		best.offer(pageScore{Page: page, Score: cosine(queryEmbedding, buf, queryNorm)})
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating rows: %w", err)
	}
	top := best.ranked()
	if len(top) == 0 {
		return nil, nil
	}

	// Phase 2: fetch text for the winners, best first.
	out := make([]Citation, 0, len(top))
	for _, ps := range top {
		c := Citation{DocumentID: documentID, PageNum: ps.Page}
		err := s.db.QueryRowContext(ctx, `SELECT document_name, text FROM curriculum_pages WHERE document_id = ? AND page_num = ?`,
			documentID, ps.Page).Scan(&c.DocumentName, &c.Text)
		if err == sql.ErrNoRows {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("fetching page %d: %w", ps.Page, err)
		}
		out = append(out, c)
	}
	return out, nil
}

func (s *SQLiteStore) GetPageRange(ctx context.Context, documentID string, start, end int) ([]Citation, error) {
	if err := checkRange(start, end); err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT page_num, document_name, text FROM curriculum_pages
		WHERE document_id = ? AND page_num BETWEEN ? AND ?
		ORDER BY page_num ASC`, documentID, start, end)
	if err != nil {
		return nil, fmt.Errorf("querying page range: %w", err)
	}
	defer rows.Close()

	var out []Citation
	for rows.Next() {
		c := Citation{DocumentID: documentID}
		if err := rows.Scan(&c.PageNum, &c.DocumentName, &c.Text); err != nil {
			return nil, fmt.Errorf("scanning page: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) GetAllPages(ctx context.Context, documentID string) ([]EmbeddedCitation, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT page_num, document_name, text, embedding FROM curriculum_pages
		WHERE document_id = ? ORDER BY page_num ASC`, documentID)
	if err != nil {
		return nil, fmt.Errorf("querying pages: %w", err)
	}
	defer rows.Close()

	var out []EmbeddedCitation
	for rows.Next() {
		var ec EmbeddedCitation
		var blob []byte
		ec.DocumentID = documentID
		if err := rows.Scan(&ec.PageNum, &ec.DocumentName, &ec.Text, &blob); err != nil {
			return nil, fmt.Errorf("scanning page: %w", err)
		}
		if ec.Embedding, err = decodeFloat32s(blob); err != nil {
			return nil, fmt.Errorf("decoding embedding for page %d: %w", ec.PageNum, err)
		}
		out = append(out, ec)
	}
	return out, rows.Err()
}
