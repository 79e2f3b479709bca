package sm2

import (
	"math"
	"math/rand"
	"testing"
	"time"

	"github.com/conorfennell/recallloop/internal/domain"
)

func planWith(repeats, interval int, ease float64) domain.ReviewPlan {
	return domain.ReviewPlan{
		ID:           1,
		CardID:       1,
		Repeats:      repeats,
		IntervalDays: &interval,
		EaseFactor:   ease,
	}
}

func TestNextSuccessfulReviews(t *testing.T) {
	params := DefaultParams()

	for rating := 3; rating <= 5; rating++ {
		first := params.Next(planWith(0, 1, 2.5), rating)
		if first.Interval() != 1 || first.Repeats != 1 {
			t.Errorf("rating %d from repeats=0: expected (1, 1), got (%d, %d)", rating, first.Interval(), first.Repeats)
		}

		second := params.Next(planWith(1, 1, 2.5), rating)
		if second.Interval() != 6 || second.Repeats != 2 {
			t.Errorf("rating %d from repeats=1: expected (6, 2), got (%d, %d)", rating, second.Interval(), second.Repeats)
		}

		later := params.Next(planWith(4, 10, 2.36), rating)
		if want := int(math.Floor(10*2.36 + 0.5)); later.Interval() != want {
			t.Errorf("rating %d from repeats=4: expected interval %d, got %d", rating, want, later.Interval())
		}
	}
}

func TestNextScenarios(t *testing.T) {
	params := DefaultParams()

	t.Run("rating 4 on a mature card keeps ease", func(t *testing.T) {
		next := params.Next(planWith(2, 6, 2.5), 4)
		if next.Interval() != 15 {
			t.Errorf("Expected interval 15, got %d", next.Interval())
		}
		if next.Repeats != 3 {
			t.Errorf("Expected repeats 3, got %d", next.Repeats)
		}
		if math.Abs(next.EaseFactor-2.5) > 1e-9 {
			t.Errorf("Expected ease 2.5, got %f", next.EaseFactor)
		}
	})

	t.Run("lapse resets interval and repeats but not ease", func(t *testing.T) {
		next := params.Next(planWith(3, 15, 2.5), 1)
		if next.Interval() != 1 || next.Repeats != 0 {
			t.Errorf("Expected (1, 0), got (%d, %d)", next.Interval(), next.Repeats)
		}
		if next.EaseFactor != 2.5 {
			t.Errorf("Expected ease to stay 2.5, got %f", next.EaseFactor)
		}
	})

	t.Run("rating 5 raises ease", func(t *testing.T) {
		next := params.Next(planWith(2, 6, 2.5), 5)
		if math.Abs(next.EaseFactor-2.6) > 1e-9 {
			t.Errorf("Expected ease 2.6, got %f", next.EaseFactor)
		}
	})

	t.Run("rating 3 lowers ease", func(t *testing.T) {
		// 0.1 - 2*(0.08 + 2*0.02) = -0.14
		next := params.Next(planWith(2, 6, 2.5), 3)
		if math.Abs(next.EaseFactor-2.36) > 1e-9 {
			t.Errorf("Expected ease 2.36, got %f", next.EaseFactor)
		}
	})

	t.Run("ease is floored", func(t *testing.T) {
		next := params.Next(planWith(2, 6, 1.35), 3)
		if next.EaseFactor != 1.3 {
			t.Errorf("Expected ease floored at 1.3, got %f", next.EaseFactor)
		}
	})
}

func TestNextLapseForAllFailingRatings(t *testing.T) {
	params := DefaultParams()
	for rating := 0; rating < 3; rating++ {
		before := planWith(5, 40, 1.9)
		next := params.Next(before, rating)
		if next.Repeats != 0 || next.Interval() != 1 {
			t.Errorf("rating %d: expected (repeats 0, interval 1), got (%d, %d)", rating, next.Repeats, next.Interval())
		}
		if next.EaseFactor != before.EaseFactor {
			t.Errorf("rating %d: ease changed from %f to %f", rating, before.EaseFactor, next.EaseFactor)
		}
	}
}

func TestNextDoesNotMutateInput(t *testing.T) {
	params := DefaultParams()
	before := planWith(2, 6, 2.5)
	_ = params.Next(before, 5)

	if *before.IntervalDays != 6 || before.Repeats != 2 || before.EaseFactor != 2.5 {
		t.Errorf("Next() modified its input: %+v (interval %d)", before, *before.IntervalDays)
	}
}

func TestNextHandlesUnsetFields(t *testing.T) {
	params := DefaultParams()
	next := params.Next(domain.ReviewPlan{}, 4)

	if next.Interval() != 1 || next.Repeats != 1 {
		t.Errorf("Expected (1, 1) for a first review, got (%d, %d)", next.Interval(), next.Repeats)
	}
	if math.Abs(next.EaseFactor-2.5) > 1e-9 {
		t.Errorf("Expected ease to start from 2.5, got %f", next.EaseFactor)
	}
}

func TestEaseNeverBelowFloor(t *testing.T) {
	params := DefaultParams()
	rng := rand.New(rand.NewSource(42))

	for run := 0; run < 200; run++ {
		plan := domain.NewInitialPlan(1, time.Now())
		for i := 0; i < 50; i++ {
			plan = params.Next(plan, rng.Intn(6))
			if plan.EaseFactor < 1.3 {
				t.Fatalf("run %d step %d: ease dropped to %f", run, i, plan.EaseFactor)
			}
			if plan.Interval() < 1 {
				t.Fatalf("run %d step %d: interval dropped to %d", run, i, plan.Interval())
			}
		}
	}
}

func TestNextRaisesEaseBelowFloor(t *testing.T) {
	params := DefaultParams()

	lapsed := params.Next(planWith(3, 20, 0.4), 1)
	if math.Abs(lapsed.EaseFactor-1.3) > 1e-9 {
		t.Errorf("Expected a lapse to lift ease 0.4 to the floor, got %f", lapsed.EaseFactor)
	}

	recalled := params.Next(planWith(-3, 4, 2.5), 5)
	if recalled.Repeats != 1 || recalled.Interval() != 1 {
		t.Errorf("Expected a negative repeat count to restart at (1, 1), got (%d, %d)",
			recalled.Interval(), recalled.Repeats)
	}
}

func TestApply(t *testing.T) {
	params := DefaultParams()
	today := time.Date(2026, time.June, 1, 18, 30, 0, 0, time.UTC)

	next := params.Apply(planWith(2, 6, 2.5), 4, today)

	if got := domain.FormatDate(next.PlannedOn); got != "2026-06-16" {
		t.Errorf("Expected planned on 2026-06-16, got %s", got)
	}
	if next.ReviewedOn == nil || domain.FormatDate(*next.ReviewedOn) != "2026-06-01" {
		t.Errorf("Expected reviewed on 2026-06-01, got %v", next.ReviewedOn)
	}
	if next.Rating == nil || *next.Rating != 4 {
		t.Errorf("Expected rating 4, got %v", next.Rating)
	}
}

func TestClampRating(t *testing.T) {
	testCases := []struct {
		in, want int
	}{
		{-3, 0}, {0, 0}, {3, 3}, {5, 5}, {9, 5},
	}
	for _, tc := range testCases {
		if got := ClampRating(tc.in); got != tc.want {
			t.Errorf("ClampRating(%d) = %d, want %d", tc.in, got, tc.want)
		}
	}
}

func TestValidate(t *testing.T) {
	if err := DefaultParams().Validate(); err != nil {
		t.Fatalf("DefaultParams() should be valid, got %v", err)
	}

	bad := DefaultParams()
	bad.MinEase = 3.0
	if err := bad.Validate(); err == nil {
		t.Error("Expected an error when the initial ease is below the floor")
	}

	bad = DefaultParams()
	bad.MinEase = 1.2
	if err := bad.Validate(); err == nil {
		t.Error("Expected an error for an ease floor below 1.3")
	}

	bad = DefaultParams()
	bad.FirstInterval = 0
	if err := bad.Validate(); err == nil {
		t.Error("Expected an error for a zero first interval")
	}
}
