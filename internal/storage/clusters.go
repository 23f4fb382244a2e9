package storage

import (
	"context"
	"fmt"
	"time"
)

// ReplaceClusterElements supersedes every stored element of documentID with
// elements in a single transaction. Readers never observe a mix of old and
// new clusterings.
func (s *Store) ReplaceClusterElements(ctx context.Context, documentID string, elements []ClusterElement) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning cluster transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM cluster_elements WHERE document_id = ?`, documentID); err != nil {
		return fmt.Errorf("deleting previous clusters: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO cluster_elements (document_id, page_number, cluster_name, x, y, z, dimensions, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	for _, e := range elements {
		if e.DocumentID != documentID {
			return fmt.Errorf("element for page %d belongs to document %q, not %q", e.PageNumber, e.DocumentID, documentID)
		}
		z := e.Z
		if e.Dimensions == 2 {
			z = 0
		}
		if _, err := stmt.ExecContext(ctx, e.DocumentID, e.PageNumber, e.ClusterName, e.X, e.Y, z, e.Dimensions, now); err != nil {
			return fmt.Errorf("inserting element for page %d: %w", e.PageNumber, err)
		}
	}

	return tx.Commit()
}

// ListClusterElements returns the current clustering of a document ordered by page.
func (s *Store) ListClusterElements(ctx context.Context, documentID string) ([]ClusterElement, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT document_id, page_number, cluster_name, x, y, z, dimensions
		FROM cluster_elements WHERE document_id = ? ORDER BY page_number ASC`, documentID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ClusterElement
	for rows.Next() {
		var e ClusterElement
		if err := rows.Scan(&e.DocumentID, &e.PageNumber, &e.ClusterName, &e.X, &e.Y, &e.Z, &e.Dimensions); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
