package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/conorfennell/recallloop/internal/domain"
)

const planColumns = `id, card_id, planned_on, reviewed_on, rating, interval_days, repeats, ease_factor`

// LoadDuePlans returns the plans planned on or before today, ascending by ID.
func (db *DB) LoadDuePlans(ctx context.Context, today time.Time) ([]domain.ReviewPlan, error) {
	return db.queryPlans(ctx, `
		SELECT `+planColumns+` FROM review_plan
		WHERE planned_on <= ?
		ORDER BY id
	`, domain.FormatDate(today))
}

// ListPlans returns every plan ordered by ID.
func (db *DB) ListPlans(ctx context.Context) ([]domain.ReviewPlan, error) {
	return db.queryPlans(ctx, `SELECT `+planColumns+` FROM review_plan ORDER BY id`)
}

// PlanForCard returns the plan of a card.
func (db *DB) PlanForCard(ctx context.Context, cardID int64) (domain.ReviewPlan, error) {
	row := db.conn.QueryRowContext(ctx, `SELECT `+planColumns+` FROM review_plan WHERE card_id = ?`, cardID)
	plan, err := scanPlan(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return domain.ReviewPlan{}, fmt.Errorf("plan for card %d: %w", cardID, ErrPlanNotFound)
		}
		return domain.ReviewPlan{}, fmt.Errorf("failed to load plan for card %d: %w", cardID, err)
	}
	return plan, nil
}

// CreateInitialPlan stores the starting plan for a card that has none.
func (db *DB) CreateInitialPlan(ctx context.Context, cardID int64, createdOn time.Time) (domain.ReviewPlan, error) {
	plan := domain.NewInitialPlan(cardID, createdOn)
	id, err := insertPlan(ctx, db.conn, plan)
	if err != nil {
		return domain.ReviewPlan{}, err
	}
	plan.ID = id
	return plan, nil
}

// SavePlan overwrites the scheduling fields of an existing plan.
func (db *DB) SavePlan(ctx context.Context, plan domain.ReviewPlan) error {
	return updatePlan(ctx, db.conn, plan)
}

// CommitReview appends the statistic and saves the rescheduled plan in a
// single transaction. Either both are stored or neither is.
func (db *DB) CommitReview(ctx context.Context, plan domain.ReviewPlan, stat domain.ReviewStatistic) (int64, error) {
	var statID int64
	err := db.RunInTransaction(ctx, func(ctx context.Context, tx *sql.Tx) error {
		var err error
		if statID, err = insertStatistic(ctx, tx, stat); err != nil {
			return err
		}
		return updatePlan(ctx, tx, plan)
	})
	if err != nil {
		return 0, err
	}
	return statID, nil
}

func insertPlan(ctx context.Context, q queryer, plan domain.ReviewPlan) (int64, error) {
	res, err := q.ExecContext(ctx, `
		INSERT INTO review_plan (card_id, planned_on, reviewed_on, rating, interval_days, repeats, ease_factor)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`, planArgs(plan)...)
	if err != nil {
		if isUniqueViolation(err) {
			return 0, fmt.Errorf("plan for card %d: %w", plan.CardID, ErrDuplicate)
		}
		return 0, fmt.Errorf("failed to insert plan for card %d: %w", plan.CardID, err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID for plan: %w", err)
	}
	return id, nil
}

func updatePlan(ctx context.Context, q queryer, plan domain.ReviewPlan) error {
	args := append(planArgs(plan)[1:], plan.ID)
	res, err := q.ExecContext(ctx, `
		UPDATE review_plan
		SET planned_on = ?, reviewed_on = ?, rating = ?, interval_days = ?, repeats = ?, ease_factor = ?
		WHERE id = ?
	`, args...)
	if err != nil {
		return fmt.Errorf("failed to update plan %d: %w", plan.ID, err)
	}
	return expectOneRow(res, fmt.Errorf("plan %d: %w", plan.ID, ErrPlanNotFound))
}

// planArgs lists the plan's columns in planColumns order, without the ID.
func planArgs(plan domain.ReviewPlan) []any {
	var reviewedOn sql.NullString
	if plan.ReviewedOn != nil {
		reviewedOn = sql.NullString{String: domain.FormatDate(*plan.ReviewedOn), Valid: true}
	}
	return []any{
		plan.CardID,
		domain.FormatDate(plan.PlannedOn),
		reviewedOn,
		nullInt(plan.Rating),
		nullInt(plan.IntervalDays),
		plan.Repeats,
		plan.Ease(),
	}
}

func (db *DB) queryPlans(ctx context.Context, query string, args ...any) ([]domain.ReviewPlan, error) {
	rows, err := db.conn.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query plans: %w", err)
	}
	defer rows.Close()

	var plans []domain.ReviewPlan
	for rows.Next() {
		plan, err := scanPlan(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan plan row: %w", err)
		}
		plans = append(plans, plan)
	}
	return plans, rows.Err()
}

func scanPlan(s scanner) (domain.ReviewPlan, error) {
	var (
		plan       domain.ReviewPlan
		plannedOn  string
		reviewedOn sql.NullString
		rating     sql.NullInt64
		interval   sql.NullInt64
	)
	err := s.Scan(
		&plan.ID,
		&plan.CardID,
		&plannedOn,
		&reviewedOn,
		&rating,
		&interval,
		&plan.Repeats,
		&plan.EaseFactor,
	)
	if err != nil {
		return domain.ReviewPlan{}, err
	}

	if plan.PlannedOn, err = domain.ParseDate(plannedOn); err != nil {
		return domain.ReviewPlan{}, fmt.Errorf("plan %d has a malformed planned_on %q: %w", plan.ID, plannedOn, err)
	}
	if reviewedOn.Valid {
		d, err := domain.ParseDate(reviewedOn.String)
		if err != nil {
			return domain.ReviewPlan{}, fmt.Errorf("plan %d has a malformed reviewed_on %q: %w", plan.ID, reviewedOn.String, err)
		}
		plan.ReviewedOn = &d
	}
	plan.Rating = intPtr(rating)
	plan.IntervalDays = intPtr(interval)
	return plan, nil
}

func nullInt(p *int) sql.NullInt64 {
	if p == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: int64(*p), Valid: true}
}

func intPtr(n sql.NullInt64) *int {
	if !n.Valid {
		return nil
	}
	v := int(n.Int64)
	return &v
}
