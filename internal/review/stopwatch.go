package review

import "time"

// Clock supplies the current time. time.Now carries a monotonic reading, so
// elapsed times are immune to wall clock adjustments.
type Clock interface {
	Now() time.Time
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// stopwatch measures focused time on one card. It never runs a goroutine;
// elapsed time is derived from the start instant and the paused total.
type stopwatch struct {
	running     bool
	paused      bool
	startedAt   time.Time
	pausedAt    time.Time
	pausedTotal time.Duration
}

func (w *stopwatch) start(now time.Time) {
	*w = stopwatch{running: true, startedAt: now}
}

func (w *stopwatch) pause(now time.Time) {
	if !w.running || w.paused {
		return
	}
	w.paused = true
	w.pausedAt = now
}

func (w *stopwatch) resume(now time.Time) {
	if !w.running || !w.paused {
		return
	}
	w.pausedTotal += now.Sub(w.pausedAt)
	w.paused = false
	w.pausedAt = time.Time{}
}

// elapsed returns wall time since start minus every paused interval,
// including one still open at now. Never negative.
func (w *stopwatch) elapsed(now time.Time) time.Duration {
	if w.startedAt.IsZero() {
		return 0
	}
	paused := w.pausedTotal
	if w.paused {
		paused += now.Sub(w.pausedAt)
	}
	d := now.Sub(w.startedAt) - paused
	if d < 0 {
		return 0
	}
	return d
}

// stop freezes the stopwatch and returns the effective elapsed time.
func (w *stopwatch) stop(now time.Time) time.Duration {
	d := w.elapsed(now)
	*w = stopwatch{}
	return d
}
