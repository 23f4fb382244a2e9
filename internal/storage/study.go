package storage

import (
	"context"
	"database/sql"
	"fmt"
	"time"
)

// --- Cardsets ---

func (s *Store) CreateCardset(ctx context.Context, c Cardset) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO cardsets (id, document_id, name, created_at) VALUES (?, ?, ?, ?)`,
		c.ID, c.DocumentID, c.Name, c.CreatedAt.UTC().Format(time.RFC3339))
	return err
}

func (s *Store) GetCardset(ctx context.Context, id string) (Cardset, error) {
	var c Cardset
	var createdAt string
	err := s.db.QueryRowContext(ctx, `SELECT id, document_id, name, created_at FROM cardsets WHERE id = ?`, id).
		Scan(&c.ID, &c.DocumentID, &c.Name, &createdAt)
	if err == sql.ErrNoRows {
		return Cardset{}, ErrNotFound
	}
	if err != nil {
		return Cardset{}, err
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return Cardset{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return c, nil
}

// DeleteCardset removes a cardset; its flashcards go with it.
func (s *Store) DeleteCardset(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM cardsets WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return expectOneRow(res)
}

// --- Flashcards ---

// SaveFlashcards inserts cards in one transaction.
func (s *Store) SaveFlashcards(ctx context.Context, cards []Flashcard) error {
	if len(cards) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning flashcard transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO flashcards (id, cardset_id, front, back, page_num, proficiency, time_of_next_review, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return fmt.Errorf("preparing insert statement: %w", err)
	}
	defer stmt.Close()

	now := time.Now().UTC()
	for _, c := range cards {
		if c.CreatedAt.IsZero() {
			c.CreatedAt = now
		}
		if _, err := stmt.ExecContext(ctx, c.ID, c.CardsetID, c.Front, c.Back, c.PageNum, c.Proficiency,
			c.TimeOfNextReview.UTC().Format(time.RFC3339), c.CreatedAt.UTC().Format(time.RFC3339)); err != nil {
			return fmt.Errorf("inserting flashcard %s: %w", c.ID, err)
		}
	}
	return tx.Commit()
}

const flashcardColumns = `id, cardset_id, front, back, page_num, proficiency, time_of_next_review, created_at`

func (s *Store) GetFlashcard(ctx context.Context, id string) (Flashcard, error) {
	c, err := scanFlashcard(s.db.QueryRowContext(ctx, `SELECT `+flashcardColumns+` FROM flashcards WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return Flashcard{}, ErrNotFound
	}
	return c, err
}

// ListFlashcards returns the cards of a cardset, earliest review first.
// A non-zero dueBy restricts the result to cards due at or before it.
func (s *Store) ListFlashcards(ctx context.Context, cardsetID string, dueBy time.Time) ([]Flashcard, error) {
	query := `SELECT ` + flashcardColumns + ` FROM flashcards WHERE cardset_id = ?`
	args := []any{cardsetID}
	if !dueBy.IsZero() {
		query += ` AND time_of_next_review <= ?`
		args = append(args, dueBy.UTC().Format(time.RFC3339))
	}
	query += ` ORDER BY time_of_next_review ASC, page_num ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var cards []Flashcard
	for rows.Next() {
		c, err := scanFlashcard(rows)
		if err != nil {
			return nil, err
		}
		cards = append(cards, c)
	}
	return cards, rows.Err()
}

// UpdateFlashcard reads a card, applies fn and writes the result back inside
// one transaction, so concurrent reviews of the same card serialize.
func (s *Store) UpdateFlashcard(ctx context.Context, id string, fn func(Flashcard) (Flashcard, error)) (Flashcard, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return Flashcard{}, fmt.Errorf("beginning review transaction: %w", err)
	}
	defer tx.Rollback()

	current, err := scanFlashcard(tx.QueryRowContext(ctx, `SELECT `+flashcardColumns+` FROM flashcards WHERE id = ?`, id))
	if err == sql.ErrNoRows {
		return Flashcard{}, ErrNotFound
	}
	if err != nil {
		return Flashcard{}, err
	}

	next, err := fn(current)
	if err != nil {
		return Flashcard{}, err
	}

	if _, err := tx.ExecContext(ctx, `UPDATE flashcards SET proficiency = ?, time_of_next_review = ? WHERE id = ?`,
		next.Proficiency, next.TimeOfNextReview.UTC().Format(time.RFC3339), id); err != nil {
		return Flashcard{}, fmt.Errorf("updating flashcard %s: %w", id, err)
	}
	if err := tx.Commit(); err != nil {
		return Flashcard{}, fmt.Errorf("committing review: %w", err)
	}
	return next, nil
}

func scanFlashcard(row rowScanner) (Flashcard, error) {
	var c Flashcard
	var next, createdAt string
	if err := row.Scan(&c.ID, &c.CardsetID, &c.Front, &c.Back, &c.PageNum, &c.Proficiency, &next, &createdAt); err != nil {
		return Flashcard{}, err
	}
	var err error
	if c.TimeOfNextReview, err = parseTime(next); err != nil {
		return Flashcard{}, fmt.Errorf("parsing time_of_next_review: %w", err)
	}
	if c.CreatedAt, err = parseTime(createdAt); err != nil {
		return Flashcard{}, fmt.Errorf("parsing created_at: %w", err)
	}
	return c, nil
}
