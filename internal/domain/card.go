package domain

import (
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
)

// ErrNotFound is wrapped by every "missing entity" error a store returns.
var ErrNotFound = errors.New("not found")

var validate = validator.New()

// Default scheduling values for a freshly created plan.
const (
	DefaultEaseFactor   = 2.5
	DefaultIntervalDays = 1
	MinRating           = 0
	MaxRating           = 5
)

// Card represents a single question-answer entry.
type Card struct {
	ID        int64
	Question  string `validate:"required"`
	Answer    string `validate:"required"`
	Hash      string // content fingerprint, empty for cards that were never fingerprinted
	CreatedAt time.Time
}

// Validate checks that the card can be stored.
func (c Card) Validate() error {
	return validate.Struct(c)
}

// ReviewPlan is the scheduling state of one card.
// Nil pointers mean the card has never been reviewed.
type ReviewPlan struct {
	ID           int64
	CardID       int64
	PlannedOn    time.Time
	ReviewedOn   *time.Time
	Rating       *int    `validate:"omitnil,gte=0,lte=5"`
	IntervalDays *int    `validate:"omitnil,gte=1"`
	Repeats      int     `validate:"gte=0"`
	EaseFactor   float64 `validate:"omitempty,gte=1.3"` // zero reads as DefaultEaseFactor
}

// Validate checks that the plan holds values the scheduler can work from.
func (p ReviewPlan) Validate() error {
	return validate.Struct(p)
}

// Ease returns the plan's ease factor, substituting the default when unset.
func (p ReviewPlan) Ease() float64 {
	if p.EaseFactor == 0 {
		return DefaultEaseFactor
	}
	return p.EaseFactor
}

// Interval returns the plan's interval in days, 1 when it was never set.
func (p ReviewPlan) Interval() int {
	if p.IntervalDays == nil {
		return DefaultIntervalDays
	}
	return *p.IntervalDays
}

// IsDue reports whether the plan is planned on or before today.
func (p ReviewPlan) IsDue(today time.Time) bool {
	return !Day(p.PlannedOn).After(Day(today))
}

// ReviewStatistic records one completed review. It is never updated.
type ReviewStatistic struct {
	ID         int64
	CardID     int64
	ReviewedAt time.Time
	DurationMs int64 `validate:"gte=0"`
	Correct    bool
	Rating     int `validate:"gte=0,lte=5"`
	Note       string
}

// Validate checks the statistic's duration and rating ranges.
func (s ReviewStatistic) Validate() error {
	return validate.Struct(s)
}

// NewInitialPlan builds the plan every card starts with: due the day after it was created.
func NewInitialPlan(cardID int64, createdOn time.Time) ReviewPlan {
	interval := DefaultIntervalDays
	return ReviewPlan{
		CardID:       cardID,
		PlannedOn:    AddDays(createdOn, 1),
		IntervalDays: &interval,
		Repeats:      0,
		EaseFactor:   DefaultEaseFactor,
	}
}
