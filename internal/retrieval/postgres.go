package retrieval

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var _ VectorStore = (*PostgresStore)(nil)

// PostgresStore keeps pages in a pgvector column and lets the database rank
// them by cosine distance.
type PostgresStore struct {
	pool *pgxpool.Pool
	topK int
	dims int
}

// NewPostgresStore connects to url and ensures the schema exists. dims sizes
// the vector column; 0 leaves it unconstrained.
func NewPostgresStore(ctx context.Context, url string, topK, dims int) (*PostgresStore, error) {
	if url == "" {
		return nil, fmt.Errorf("postgres vector store: url is required")
	}
	pool, err := pgxpool.New(ctx, url)
	if err != nil {
		return nil, fmt.Errorf("connecting to postgres: %w", err)
	}
	if topK <= 0 {
		topK = DefaultTopK
	}
	s := &PostgresStore{pool: pool, topK: topK, dims: dims}
	if err := s.EnsureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

// EnsureSchema creates the pgvector extension and the pages table.
func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	column := "vector"
	if s.dims > 0 {
		column = fmt.Sprintf("vector(%d)", s.dims)
	}
	stmts := []string{
		"CREATE EXTENSION IF NOT EXISTS vector",
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS curriculum_pages (
			document_id TEXT NOT NULL,
			page_num INTEGER NOT NULL,
			document_name TEXT NOT NULL DEFAULT '',
			text TEXT NOT NULL,
			embedding %s NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (document_id, page_num)
		)`, column),
	}
	for _, stmt := range stmts {
		if _, err := s.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("ensuring pgvector schema: %w", err)
		}
	}
	return nil
}

func (s *PostgresStore) IsReachable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.pool.Ping(ctx) == nil
}

func (s *PostgresStore) PostCurriculum(ctx context.Context, text string, pageNum int, documentName string, embedding []float32, documentID string) (bool, error) {
	if err := checkPage(text, pageNum, embedding, documentID, s.dims); err != nil {
		return false, err
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO curriculum_pages (document_id, page_num, document_name, text, embedding, updated_at)
		VALUES ($1, $2, $3, $4, $5::vector, now())
		ON CONFLICT (document_id, page_num) DO UPDATE SET
			document_name = EXCLUDED.document_name,
			text = EXCLUDED.text,
			embedding = EXCLUDED.embedding,
			updated_at = now()`,
		documentID, pageNum, documentName, text, formatVector(embedding))
	if err != nil {
		return false, fmt.Errorf("upserting page %d of %s: %w", pageNum, documentID, err)
	}
	return true, nil
}

func (s *PostgresStore) GetCurriculum(ctx context.Context, documentID string, queryEmbedding []float32) ([]Citation, error) {
	if norm(queryEmbedding) == 0 {
		return nil, nil
	}
	if s.dims > 0 && len(queryEmbedding) != s.dims {
		return nil, fmt.Errorf("%w: query has %d dimensions, want %d", ErrDimensionMismatch, len(queryEmbedding), s.dims)
	}
	rows, err := s.pool.Query(ctx, `
		SELECT page_num, document_name, text FROM curriculum_pages
		WHERE document_id = $2
		ORDER BY embedding <=> $1::vector, page_num
		LIMIT $3`, formatVector(queryEmbedding), documentID, s.topK)
	if err != nil {
		return nil, fmt.Errorf("querying nearest pages: %w", err)
	}
	return collectCitations(rows, documentID)
}

func (s *PostgresStore) GetPageRange(ctx context.Context, documentID string, start, end int) ([]Citation, error) {
	if err := checkRange(start, end); err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, `
		SELECT page_num, document_name, text FROM curriculum_pages
		WHERE document_id = $1 AND page_num BETWEEN $2 AND $3
		ORDER BY page_num`, documentID, start, end)
	if err != nil {
		return nil, fmt.Errorf("querying page range: %w", err)
	}
	return collectCitations(rows, documentID)
}

func (s *PostgresStore) GetAllPages(ctx context.Context, documentID string) ([]EmbeddedCitation, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT page_num, document_name, text, embedding::text FROM curriculum_pages
		WHERE document_id = $1 ORDER BY page_num`, documentID)
	if err != nil {
		return nil, fmt.Errorf("querying pages: %w", err)
	}
	defer rows.Close()

	var out []EmbeddedCitation
	for rows.Next() {
		var ec EmbeddedCitation
		var vec string
		ec.DocumentID = documentID
		if err := rows.Scan(&ec.PageNum, &ec.DocumentName, &ec.Text, &vec); err != nil {
			return nil, fmt.Errorf("scanning page: %w", err)
		}
		if ec.Embedding, err = parseVector(vec); err != nil {
			return nil, fmt.Errorf("parsing embedding for page %d: %w", ec.PageNum, err)
		}
		out = append(out, ec)
	}
	return out, rows.Err()
}

func collectCitations(rows pgx.Rows, documentID string) ([]Citation, error) {
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

// formatVector renders an embedding in pgvector's text form, e.g. [0.1,0.2].
func formatVector(v []float32) string {
	if len(v) == 0 {
		return "[]"
	}
	parts := make([]string, len(v))
	for i, f := range v {
		parts[i] = strconv.FormatFloat(float64(f), 'f', -1, 32)
	}
	return "[" + strings.Join(parts, ",") + "]"
}

// parseVector is the inverse of formatVector.
func parseVector(s string) ([]float32, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(strings.TrimPrefix(s, "["), "]")
	if s == "" {
		return nil, nil
	}
	fields := strings.Split(s, ",")
	out := make([]float32, len(fields))
	for i, f := range fields {
		v, err := strconv.ParseFloat(strings.TrimSpace(f), 32)
		if err != nil {
			return nil, err
		}
		out[i] = float32(v)
	}
	return out, nil
}
