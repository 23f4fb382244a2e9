package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

func (s *Store) SaveDocument(ctx context.Context, d Document) error {
	now := time.Now().UTC()
	if d.CreatedAt.IsZero() {
		d.CreatedAt = now
	}
	if d.Status == "" {
		d.Status = DocumentUploaded
	}
	if d.ContentType == "" {
		d.ContentType = "text/plain"
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO documents (id, name, content_type, blob_path, status, page_count, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		d.ID, d.Name, d.ContentType, d.BlobPath, d.Status, d.PageCount,
		d.CreatedAt.UTC().Format(time.RFC3339), now.Format(time.RFC3339),
	)
	return err
}

func (s *Store) GetDocument(ctx context.Context, id string) (Document, error) {
	d, err := scanDocument(s.db.QueryRowContext(ctx, `
		SELECT id, name, content_type, blob_path, status, page_count, created_at, updated_at
		FROM documents WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return Document{}, ErrNotFound
	}
	return d, err
}

// ListDocuments returns documents newest first.
func (s *Store) ListDocuments(ctx context.Context, limit, offset int) ([]Document, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, name, content_type, blob_path, status, page_count, created_at, updated_at
		FROM documents ORDER BY created_at DESC, id ASC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var docs []Document
	for rows.Next() {
		d, err := scanDocument(rows)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, rows.Err()
}

// UpdateDocumentStatus sets the status and, when pageCount >= 0, the page count.
func (s *Store) UpdateDocumentStatus(ctx context.Context, id, status string, pageCount int) error {
	now := time.Now().UTC().Format(time.RFC3339)
	var res sql.Result
	var err error
	if pageCount >= 0 {
		res, err = s.db.ExecContext(ctx, `UPDATE documents SET status = ?, page_count = ?, updated_at = ? WHERE id = ?`,
			status, pageCount, now, id)
	} else {
		res, err = s.db.ExecContext(ctx, `UPDATE documents SET status = ?, updated_at = ? WHERE id = ?`, status, now, id)
	}
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

func scanDocument(row rowScanner) (Document, error) {
	var d Document
	var createdAt, updatedAt string
	if err := row.Scan(&d.ID, &d.Name, &d.ContentType, &d.BlobPath, &d.Status, &d.PageCount, &createdAt, &updatedAt); err != nil {
		return Document{}, err
	}
	var err error
	if d.CreatedAt, err = parseTime(createdAt); err != nil {
		return Document{}, fmt.Errorf("parsing created_at: %w", err)
	}
	if d.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return Document{}, fmt.Errorf("parsing updated_at: %w", err)
	}
	return d, nil
}
