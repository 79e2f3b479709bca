package storage

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/conorfennell/recallloop/internal/domain"
)

// ReplaceAll erases every card, plan and statistic and stores the given
// ones with their IDs preserved. Nothing changes if any row fails.
// Sources are kept; restored cards are not linked to any of them.
func (db *DB) ReplaceAll(ctx context.Context, cards []domain.Card, plans []domain.ReviewPlan, stats []domain.ReviewStatistic) error {
	err := db.RunInTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		for _, table := range []string{"review_statistic", "review_plan", "cards"} {
			if _, err := tx.ExecContext(ctx, `DELETE FROM `+table); err != nil {
				return fmt.Errorf("failed to clear %s: %w", table, err)
			}
		}

		for _, c := range cards {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO cards (id, question, answer, hash, created_at)
				VALUES (?, ?, ?, ?, ?)
			`, c.ID, c.Question, c.Answer, nullString(c.Hash), domain.FormatTimestamp(c.CreatedAt)); err != nil {
				return fmt.Errorf("failed to restore card %d: %w", c.ID, err)
			}
		}

		for _, p := range plans {
			args := append([]any{p.ID}, planArgs(p)...)
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO review_plan (id, card_id, planned_on, reviewed_on, rating, interval_days, repeats, ease_factor)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			`, args...); err != nil {
				return fmt.Errorf("failed to restore plan %d: %w", p.ID, err)
			}
		}

		for _, s := range stats {
			if _, err := tx.ExecContext(ctx, `
				INSERT INTO review_statistic (id, card_id, reviewed_at, duration_ms, correct, rating, note)
				VALUES (?, ?, ?, ?, ?, ?, ?)
			`, s.ID, s.CardID, domain.FormatTimestamp(s.ReviewedAt), s.DurationMs, s.Correct, s.Rating, s.Note); err != nil {
				return fmt.Errorf("failed to restore statistic %d: %w", s.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return err
	}

	db.log.Info("database restored",
		"cards", len(cards),
		"plans", len(plans),
		"statistics", len(stats),
	)
	return nil
}
