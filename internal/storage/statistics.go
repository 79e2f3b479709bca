package storage

import (
	"context"
	"fmt"

	"github.com/conorfennell/recallloop/internal/domain"
)

const statisticColumns = `id, card_id, reviewed_at, duration_ms, correct, rating, note`

// AppendStatistic records a completed review and returns its ID.
func (db *DB) AppendStatistic(ctx context.Context, stat domain.ReviewStatistic) (int64, error) {
	return insertStatistic(ctx, db.conn, stat)
}

// CardHistory returns every review of a card, oldest first.
func (db *DB) CardHistory(ctx context.Context, cardID int64) ([]domain.ReviewStatistic, error) {
	return db.queryStatistics(ctx, `
		SELECT `+statisticColumns+` FROM review_statistic
		WHERE card_id = ?
		ORDER BY reviewed_at, id
	`, cardID)
}

// ListStatistics returns the whole review history ordered by ID.
func (db *DB) ListStatistics(ctx context.Context) ([]domain.ReviewStatistic, error) {
	return db.queryStatistics(ctx, `SELECT `+statisticColumns+` FROM review_statistic ORDER BY id`)
}

func insertStatistic(ctx context.Context, q queryer, stat domain.ReviewStatistic) (int64, error) {
	res, err := q.ExecContext(ctx, `
		INSERT INTO review_statistic (card_id, reviewed_at, duration_ms, correct, rating, note)
		VALUES (?, ?, ?, ?, ?, ?)
	`,
		stat.CardID,
		domain.FormatTimestamp(stat.ReviewedAt),
		stat.DurationMs,
		stat.Correct,
		stat.Rating,
		stat.Note,
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert statistic for card %d: %w", stat.CardID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for statistic: %w", err)
	}
	return id, nil
}

func (db *DB) queryStatistics(ctx context.Context, query string, args ...any) ([]domain.ReviewStatistic, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query statistics: %w", err)
	}
	defer rows.Close()

	var history []domain.ReviewStatistic
	for rows.Next() {
		var (
			stat       domain.ReviewStatistic
			reviewedAt string
		)
		if err := rows.Scan(
			&stat.ID,
			&stat.CardID,
			&reviewedAt,
			&stat.DurationMs,
			&stat.Correct,
			&stat.Rating,
			&stat.Note,
		); err != nil {
			return nil, fmt.Errorf("failed to scan statistic row: %w", err)
		}
		if stat.ReviewedAt, err = domain.ParseTimestamp(reviewedAt); err != nil {
			return nil, fmt.Errorf("statistic %d has a malformed reviewed_at %q: %w", stat.ID, reviewedAt, err)
		}
		history = append(history, stat)
	}
	return history, rows.Err()
}
