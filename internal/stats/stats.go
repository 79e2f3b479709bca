// Package stats aggregates a card's review history into counts, averages and
// smoothed trend series. Every function is pure and treats an empty history as zero.
package stats

import (
	"fmt"
	"time"

	"github.com/conorfennell/recallloop/internal/domain"
)

// Summary is the per-card aggregate shown next to a card under review.
type Summary struct {
	Count             int       `json:"count"`
	AverageDurationMs float64   `json:"average_duration_ms"`
	AverageRating     float64   `json:"average_rating"`
	CorrectRate       float64   `json:"correct_rate"`
	LastReviewedAt    time.Time `json:"last_reviewed_at,omitzero"`
}

// Trend holds the smoothed rating and duration series of a card, oldest review first.
type Trend struct {
	Ratings         []float64 `json:"ratings"`
	DurationSeconds []float64 `json:"duration_seconds"`
}

// Count returns the number of reviews in history.
func Count(history []domain.ReviewStatistic) int {
	return len(history)
}

// AverageDurationMs returns the mean review duration in milliseconds.
func AverageDurationMs(history []domain.ReviewStatistic) float64 {
	return mean(history, func(s domain.ReviewStatistic) float64 { return float64(s.DurationMs) })
}

// AverageRating returns the mean rating.
func AverageRating(history []domain.ReviewStatistic) float64 {
	return mean(history, func(s domain.ReviewStatistic) float64 { return float64(s.Rating) })
}

// CorrectRate returns the fraction of reviews marked correct, in [0,1].
func CorrectRate(history []domain.ReviewStatistic) float64 {
	return mean(history, func(s domain.ReviewStatistic) float64 {
		if s.Correct {
			return 1
		}
		return 0
	})
}

func mean(history []domain.ReviewStatistic, value func(domain.ReviewStatistic) float64) float64 {
	if len(history) == 0 {
		return 0
	}
	var sum float64
	for _, s := range history {
		sum += value(s)
	}
	return sum / float64(len(history))
}

// Summarize computes every aggregate of history in one call.
func Summarize(history []domain.ReviewStatistic) Summary {
	s := Summary{
		Count:             Count(history),
		AverageDurationMs: AverageDurationMs(history),
		AverageRating:     AverageRating(history),
		CorrectRate:       CorrectRate(history),
	}
	for _, h := range history {
		if h.ReviewedAt.After(s.LastReviewedAt) {
			s.LastReviewedAt = h.ReviewedAt
		}
	}
	return s
}

// MovingAverage smooths series with a trailing window. Element i is the mean of
// the last min(window, i+1) values up to and including i, so the output has the
// same length as the input and never looks ahead. A window of 1 or less returns
// a copy of series.
func MovingAverage(series []float64, window int) []float64 {
	out := make([]float64, len(series))
	if window <= 1 {
		copy(out, series)
		return out
	}

	var sum float64
	for i, v := range series {
		sum += v
		if i >= window {
			sum -= series[i-window]
		}
		out[i] = sum / float64(min(window, i+1))
	}
	return out
}

// NewTrend builds the rating and duration series of history in the order given,
// smoothed with MovingAverage.
func NewTrend(history []domain.ReviewStatistic, window int) Trend {
	ratings := make([]float64, len(history))
	secs := make([]float64, len(history))
	for i, s := range history {
		ratings[i] = float64(s.Rating)
		secs[i] = float64(s.DurationMs) / 1000
	}
	return Trend{
		Ratings:         MovingAverage(ratings, window),
		DurationSeconds: MovingAverage(secs, window),
	}
}

// FormatDuration renders milliseconds as m:ss.
func FormatDuration(ms int64) string {
	if ms < 0 {
		ms = 0
	}
	totalSec := ms / 1000
	return fmt.Sprintf("%d:%02d", totalSec/60, totalSec%60)
}
