package sm2

import (
	"fmt"
	"math"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/conorfennell/recallloop/internal/domain"
)

// Params holds the tunables of the SM-2 scheduler.
type Params struct {
	InitialEase    float64 `koanf:"initial_ease" validate:"gtefield=MinEase"`
	MinEase        float64 `koanf:"min_ease" validate:"gte=1.3"`
	PassingRating  int     `koanf:"passing_rating" validate:"gte=1,lte=5"`
	FirstInterval  int     `koanf:"first_interval" validate:"gte=1"`
	SecondInterval int     `koanf:"second_interval" validate:"gtefield=FirstInterval"`
}

// DefaultParams returns the classic SM-2 constants.
func DefaultParams() *Params {
	return &Params{
		InitialEase:    2.5,
		MinEase:        1.3,
		PassingRating:  3,
		FirstInterval:  1,
		SecondInterval: 6,
	}
}

var validate = validator.New()

// Validate reports parameter combinations the scheduler cannot work with.
func (p *Params) Validate() error {
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("invalid scheduler params: %w", err)
	}
	return nil
}

// ClampRating forces a rating into [0,5].
func ClampRating(rating int) int {
	return min(max(rating, domain.MinRating), domain.MaxRating)
}

// Next computes the interval, repeat count and ease factor that follow a review.
// The input plan is not modified. rating must already be clamped.
func (p *Params) Next(plan domain.ReviewPlan, rating int) domain.ReviewPlan {
	next := plan
	ease := plan.EaseFactor
	if ease == 0 {
		ease = p.InitialEase
	}
	interval := plan.Interval()

	if rating < p.PassingRating {
		// A lapse restarts the schedule. Ease is only adjusted on successful recall.
		next.Repeats = 0
		interval = 1
	} else {
		switch {
		case next.Repeats <= 0:
			next.Repeats = 0
			interval = p.FirstInterval
		case next.Repeats == 1:
			interval = p.SecondInterval
		default:
			interval = roundHalfUp(float64(interval) * ease)
		}
		next.Repeats++

		q := float64(domain.MaxRating - rating)
		ease += 0.1 - q*(0.08+q*0.02)
	}
	ease = max(ease, p.MinEase)

	next.IntervalDays = &interval
	next.EaseFactor = ease
	return next
}

// Apply runs Next and stamps the review onto the plan: reviewed today,
// planned again interval days from today.
func (p *Params) Apply(plan domain.ReviewPlan, rating int, today time.Time) domain.ReviewPlan {
	next := p.Next(plan, rating)
	reviewed := domain.Day(today)
	r := rating
	next.ReviewedOn = &reviewed
	next.Rating = &r
	next.PlannedOn = domain.AddDays(today, next.Interval())
	return next
}

func roundHalfUp(x float64) int {
	return int(math.Floor(x + 0.5))
}
