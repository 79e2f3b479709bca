package stats

import (
	"math"
	"testing"
	"time"

	"github.com/conorfennell/recallloop/internal/domain"
)

func history() []domain.ReviewStatistic {
	base := time.Date(2026, time.January, 5, 10, 0, 0, 0, time.UTC)
	return []domain.ReviewStatistic{
		{CardID: 1, ReviewedAt: base, DurationMs: 4000, Correct: true, Rating: 5},
		{CardID: 1, ReviewedAt: base.AddDate(0, 0, 1), DurationMs: 8000, Correct: false, Rating: 2},
		{CardID: 1, ReviewedAt: base.AddDate(0, 0, 7), DurationMs: 3000, Correct: true, Rating: 4},
		{CardID: 1, ReviewedAt: base.AddDate(0, 0, 3), DurationMs: 1000, Correct: true, Rating: 3},
	}
}

func TestAggregates(t *testing.T) {
	h := history()

	if got := Count(h); got != 4 {
		t.Errorf("Count() = %d, want 4", got)
	}
	if got := AverageDurationMs(h); got != 4000 {
		t.Errorf("AverageDurationMs() = %f, want 4000", got)
	}
	if got := AverageRating(h); got != 3.5 {
		t.Errorf("AverageRating() = %f, want 3.5", got)
	}
	if got := CorrectRate(h); got != 0.75 {
		t.Errorf("CorrectRate() = %f, want 0.75", got)
	}
}

func TestAggregatesOnEmptyHistory(t *testing.T) {
	for name, got := range map[string]float64{
		"AverageDurationMs": AverageDurationMs(nil),
		"AverageRating":     AverageRating(nil),
		"CorrectRate":       CorrectRate(nil),
	} {
		if got != 0 || math.IsNaN(got) {
			t.Errorf("%s(nil) = %f, want 0", name, got)
		}
	}
	if Count(nil) != 0 {
		t.Errorf("Count(nil) = %d, want 0", Count(nil))
	}

	s := Summarize(nil)
	if s.Count != 0 || !s.LastReviewedAt.IsZero() {
		t.Errorf("Summarize(nil) = %+v, want zero summary", s)
	}
}

func TestSummarize(t *testing.T) {
	h := history()
	s := Summarize(h)

	if s.Count != 4 || s.AverageRating != 3.5 || s.CorrectRate != 0.75 {
		t.Errorf("Unexpected summary: %+v", s)
	}
	if !s.LastReviewedAt.Equal(h[2].ReviewedAt) {
		t.Errorf("Expected last reviewed at %v, got %v", h[2].ReviewedAt, s.LastReviewedAt)
	}
}

func TestMovingAverage(t *testing.T) {
	testCases := []struct {
		name   string
		series []float64
		window int
		want   []float64
	}{
		{
			name:   "window of 2",
			series: []float64{2, 4, 6, 8},
			window: 2,
			want:   []float64{2, 3, 5, 7},
		},
		{
			name:   "window of 3 with partial start",
			series: []float64{3, 6, 9, 0, 3},
			window: 3,
			want:   []float64{3, 4.5, 6, 5, 4},
		},
		{
			name:   "window larger than series",
			series: []float64{1, 2, 3},
			window: 10,
			want:   []float64{1, 1.5, 2},
		},
		{
			name:   "window of 1 is the identity",
			series: []float64{5, 1, 4},
			window: 1,
			want:   []float64{5, 1, 4},
		},
		{
			name:   "non-positive window is the identity",
			series: []float64{5, 1, 4},
			window: 0,
			want:   []float64{5, 1, 4},
		},
		{
			name:   "empty series",
			series: nil,
			window: 3,
			want:   []float64{},
		},
	}

	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got := MovingAverage(tc.series, tc.window)
			if len(got) != len(tc.want) {
				t.Fatalf("Expected length %d, got %d", len(tc.want), len(got))
			}
			for i := range got {
				if math.IsNaN(got[i]) || math.Abs(got[i]-tc.want[i]) > 1e-9 {
					t.Errorf("index %d: expected %f, got %f", i, tc.want[i], got[i])
				}
			}
			if len(got) > 0 && got[0] != tc.series[0] {
				t.Errorf("Expected first element %f, got %f", tc.series[0], got[0])
			}
		})
	}
}

func TestMovingAverageReturnsCopy(t *testing.T) {
	series := []float64{1, 2, 3}
	out := MovingAverage(series, 1)
	out[0] = 99
	if series[0] != 1 {
		t.Error("MovingAverage() with window 1 returned the input slice instead of a copy")
	}
}

func TestNewTrend(t *testing.T) {
	trend := NewTrend(history(), 2)

	wantRatings := []float64{5, 3.5, 3, 3.5}
	wantSecs := []float64{4, 6, 5.5, 2}
	for i := range wantRatings {
		if trend.Ratings[i] != wantRatings[i] {
			t.Errorf("rating %d: expected %f, got %f", i, wantRatings[i], trend.Ratings[i])
		}
		if trend.DurationSeconds[i] != wantSecs[i] {
			t.Errorf("duration %d: expected %f, got %f", i, wantSecs[i], trend.DurationSeconds[i])
		}
	}
}

func TestFormatDuration(t *testing.T) {
	testCases := []struct {
		ms   int64
		want string
	}{
		{0, "0:00"},
		{999, "0:00"},
		{5000, "0:05"},
		{65000, "1:05"},
		{600000, "10:00"},
		{-20, "0:00"},
	}
	for _, tc := range testCases {
		if got := FormatDuration(tc.ms); got != tc.want {
			t.Errorf("FormatDuration(%d) = %q, want %q", tc.ms, got, tc.want)
		}
	}
}
