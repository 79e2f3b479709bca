package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/conorfennell/recallloop/internal/domain"
)

const cardColumns = `id, question, answer, hash, created_at`

// InsertCard stores a new card together with its initial review plan, due
// the day after the card was created. A zero CreatedAt is set to now.
// sourceID links the card to a deck source; pass 0 for a hand-written card.
func (db *DB) InsertCard(ctx context.Context, card domain.Card, sourceID int64) (domain.Card, error) {
	if err := card.Validate(); err != nil {
		return domain.Card{}, fmt.Errorf("invalid card: %w", err)
	}
	if card.CreatedAt.IsZero() {
		card.CreatedAt = time.Now()
	}

	err := db.RunInTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		res, err := tx.ExecContext(ctx, `
			INSERT INTO cards (question, answer, hash, source_id, created_at)
			VALUES (?, ?, ?, ?, ?)
		`,
			card.Question,
			card.Answer,
			nullString(card.Hash),
			sql.NullInt64{Int64: sourceID, Valid: sourceID != 0},
			domain.FormatTimestamp(card.CreatedAt),
		)
		if err != nil {
			if isUniqueViolation(err) {
				return fmt.Errorf("card with hash %s: %w", card.Hash, ErrDuplicate)
			}
			return fmt.Errorf("failed to insert card: %w", err)
		}
		if card.ID, err = res.LastInsertId(); err != nil {
			return fmt.Errorf("failed to get last insert ID for card: %w", err)
		}

		_, err = insertPlan(ctx, tx, domain.NewInitialPlan(card.ID, card.CreatedAt))
		return err
	})
	if err != nil {
		return domain.Card{}, err
	}
	return card, nil
}

// LoadCard retrieves a card by ID. It returns ErrCardNotFound if there is none.
func (db *DB) LoadCard(ctx context.Context, id int64) (domain.Card, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+cardColumns+` FROM cards WHERE id = ?`, id)
	card, err := scanCard(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Card{}, fmt.Errorf("card %d: %w", id, ErrCardNotFound)
		}
		return domain.Card{}, fmt.Errorf("failed to load card %d: %w", id, err)
	}
	return card, nil
}

// FindCardByHash retrieves a card by its content fingerprint.
func (db *DB) FindCardByHash(ctx context.Context, hash string) (domain.Card, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+cardColumns+` FROM cards WHERE hash = ?`, hash)
	card, err := scanCard(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.Card{}, fmt.Errorf("card with hash %s: %w", hash, ErrCardNotFound)
		}
		return domain.Card{}, fmt.Errorf("failed to find card by hash %s: %w", hash, err)
	}
	return card, nil
}

// UpdateCard replaces the text and fingerprint of an existing card.
// Its plan and history are left alone.
func (db *DB) UpdateCard(ctx context.Context, card domain.Card) error {
	if err := card.Validate(); err != nil {
		return fmt.Errorf("invalid card: %w", err)
	}
	res, err := db.conn.ExecContext(ctx, `
		UPDATE cards SET question = ?, answer = ?, hash = ?
		WHERE id = ?
	`, card.Question, card.Answer, nullString(card.Hash), card.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("card with hash %s: %w", card.Hash, ErrDuplicate)
		}
		return fmt.Errorf("failed to update card %d: %w", card.ID, err)
	}
	return expectOneRow(res, fmt.Errorf("card %d: %w", card.ID, ErrCardNotFound))
}

// DeleteCard removes a card along with its plan and review history.
func (db *DB) DeleteCard(ctx context.Context, id int64) error {
	res, err := db.conn.ExecContext(ctx, `DELETE FROM cards WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("failed to delete card %d: %w", id, err)
	}
	return expectOneRow(res, fmt.Errorf("card %d: %w", id, ErrCardNotFound))
}

// ListCards returns every card ordered by ID.
func (db *DB) ListCards(ctx context.Context) ([]domain.Card, error) {
	return db.queryCards(ctx, `SELECT `+cardColumns+` FROM cards ORDER BY id`)
}

// CardsBySource returns the cards imported from a source.
func (db *DB) CardsBySource(ctx context.Context, sourceID int64) ([]domain.Card, error) {
	return db.queryCards(ctx, `SELECT `+cardColumns+` FROM cards WHERE source_id = ? ORDER BY id`, sourceID)
}

func (db *DB) queryCards(ctx context.Context, query string, args ...any) ([]domain.Card, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query cards: %w", err)
	}
	defer rows.Close()

	var cards []domain.Card
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan card row: %w", err)
		}
		cards = append(cards, card)
	}
	return cards, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanCard(s scanner) (domain.Card, error) {
	var (
		card      domain.Card
		hash      sql.NullString
		createdAt string
	)
	if err := s.Scan(&card.ID, &card.Question, &card.Answer, &hash, &createdAt); err != nil {
		return domain.Card{}, err
	}
	card.Hash = hash.String
	t, err := domain.ParseTimestamp(createdAt)
	if err != nil {
		return domain.Card{}, fmt.Errorf("card %d has a malformed created_at %q: %w", card.ID, createdAt, err)
	}
	card.CreatedAt = t
	return card, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
