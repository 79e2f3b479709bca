package review

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"time"

	"github.com/conorfennell/recallloop/internal/domain"
	"github.com/conorfennell/recallloop/internal/sm2"
	"github.com/conorfennell/recallloop/internal/stats"
)

// MissingPlaceholder is shown in place of the question of a card that no longer exists.
const MissingPlaceholder = "(card missing)"

// Store is the persistence a session borrows for its lifetime.
type Store interface {
	// LoadDuePlans returns the plans planned on or before today, ascending by ID.
	LoadDuePlans(ctx context.Context, today time.Time) ([]domain.ReviewPlan, error)
	// LoadCard returns an error wrapping domain.ErrNotFound when the card does not exist.
	LoadCard(ctx context.Context, id int64) (domain.Card, error)
	CardHistory(ctx context.Context, cardID int64) ([]domain.ReviewStatistic, error)
	// CommitReview stores the statistic and the updated plan atomically and
	// returns the statistic's ID.
	CommitReview(ctx context.Context, plan domain.ReviewPlan, stat domain.ReviewStatistic) (int64, error)
}

// State is a step of the review session lifecycle.
type State int

const (
	Idle State = iota
	Loaded
	Presenting
	AnswerRevealed
	RatingOrNavigating
	Finished
)

var stateNames = [...]string{
	Idle:               "idle",
	Loaded:             "loaded",
	Presenting:         "presenting",
	AnswerRevealed:     "answer_revealed",
	RatingOrNavigating: "rating_or_navigating",
	Finished:           "finished",
}

func (s State) String() string {
	if s >= Idle && s <= Finished {
		return stateNames[s]
	}
	return fmt.Sprintf("State(%d)", int(s))
}

// FinishReason tells why a session reached Finished.
type FinishReason int

const (
	NotFinished FinishReason = iota
	NothingDue
	Completed
	Abandoned
)

func (r FinishReason) String() string {
	switch r {
	case NothingDue:
		return "nothing_due"
	case Completed:
		return "completed"
	case Abandoned:
		return "abandoned"
	default:
		return "not_finished"
	}
}

// Submission is the learner's verdict on the current card.
type Submission struct {
	Rating  int    `json:"rating"`
	Correct bool   `json:"correct"`
	Note    string `json:"note,omitempty"`
}

// CardView is what a presenter may show of the current card.
// Answer stays empty until it is revealed.
type CardView struct {
	PlanID        int64  `json:"plan_id"`
	CardID        int64  `json:"card_id"`
	Question      string `json:"question"`
	Answer        string `json:"answer,omitempty"`
	AnswerVisible bool   `json:"answer_visible"`
	Missing       bool   `json:"missing"`
}

// Option configures a Session.
type Option func(*Session)

// WithClock replaces the system clock.
func WithClock(c Clock) Option {
	return func(s *Session) { s.clock = c }
}

// WithLogger sets the logger used for non-fatal problems.
func WithLogger(l *slog.Logger) Option {
	return func(s *Session) { s.log = l }
}

// WithScheduler sets the SM-2 parameters used to reschedule rated cards.
func WithScheduler(p *sm2.Params) Option {
	return func(s *Session) { s.scheduler = p }
}

// Session walks through every card due today, one event at a time.
// It is not safe for concurrent use.
type Session struct {
	store     Store
	scheduler *sm2.Params
	clock     Clock
	log       *slog.Logger

	state    State
	reason   FinishReason
	plans    []domain.ReviewPlan
	index    int
	card     domain.Card
	cardErr  error
	summary  stats.Summary
	watch    stopwatch
	reviewed int
}

// New creates an idle session over store.
func New(store Store, opts ...Option) *Session {
	s := &Session{
		store:     store,
		scheduler: sm2.DefaultParams(),
		clock:     systemClock{},
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start loads today's due plans and presents the first one. When nothing is
// due the session finishes immediately with reason NothingDue.
func (s *Session) Start(ctx context.Context) error {
	if s.state != Idle {
		return s.stateError("start")
	}

	plans, err := s.store.LoadDuePlans(ctx, s.clock.Now())
	if err != nil {
		return fmt.Errorf("loading due plans: %w", err)
	}
	slices.SortStableFunc(plans, func(a, b domain.ReviewPlan) int {
		return cmp.Compare(a.ID, b.ID)
	})

	if len(plans) == 0 {
		s.log.Info("no cards due today")
		s.state = Finished
		s.reason = NothingDue
		return nil
	}

	s.log.Info("review session started", "due", len(plans))
	s.plans = plans
	s.index = 0
	s.state = Loaded
	return s.Present(ctx, 0)
}

// Present shows the plan at index i: the answer is hidden, the stopwatch
// restarts and the card's statistics are refreshed. A card that cannot be
// loaded is replaced by a placeholder and reported through CardError.
func (s *Session) Present(ctx context.Context, i int) error {
	switch s.state {
	case Loaded, Presenting, AnswerRevealed, RatingOrNavigating:
	default:
		return s.stateError("present")
	}
	if i < 0 || i >= len(s.plans) {
		return fmt.Errorf("%w: index %d out of range [0,%d)", ErrInvalidState, i, len(s.plans))
	}

	plan := s.plans[i]
	s.index = i
	s.cardErr = nil

	card, err := s.store.LoadCard(ctx, plan.CardID)
	switch {
	case errors.Is(err, domain.ErrNotFound):
		s.cardErr = &IntegrityError{PlanID: plan.ID, CardID: plan.CardID, Err: err}
		s.log.Warn("card missing for plan", "plan_id", plan.ID, "card_id", plan.CardID)
		card = domain.Card{ID: plan.CardID, Question: MissingPlaceholder}
	case err != nil:
		s.cardErr = fmt.Errorf("loading card %d: %w", plan.CardID, err)
		s.log.Error("failed to load card", "plan_id", plan.ID, "card_id", plan.CardID, "error", err)
		card = domain.Card{ID: plan.CardID, Question: MissingPlaceholder}
	}
	s.card = card

	s.summary = stats.Summary{}
	if s.cardErr == nil {
		history, err := s.store.CardHistory(ctx, plan.CardID)
		if err != nil {
			s.log.Warn("failed to load card history", "card_id", plan.CardID, "error", err)
		} else {
			s.summary = stats.Summarize(history)
		}
	}

	s.state = Presenting
	s.watch.start(s.clock.Now())
	return nil
}

// Reveal shows the answer. Timing continues.
func (s *Session) Reveal() error {
	switch s.state {
	case Presenting:
		s.state = AnswerRevealed
		return nil
	case AnswerRevealed:
		return nil
	default:
		return s.stateError("reveal")
	}
}

// Pause freezes the stopwatch. It does nothing unless a card is on screen.
func (s *Session) Pause() {
	if s.cardActive() {
		s.watch.pause(s.clock.Now())
	}
}

// Resume restarts a paused stopwatch. It does nothing unless a card is on screen.
func (s *Session) Resume() {
	if s.cardActive() {
		s.watch.resume(s.clock.Now())
	}
}

// TogglePause pauses a running stopwatch or resumes a paused one.
func (s *Session) TogglePause() {
	if s.watch.paused {
		s.Resume()
	} else {
		s.Pause()
	}
}

// Navigate moves the cursor by delta, wrapping around the queue, without
// recording anything for the card being left.
func (s *Session) Navigate(ctx context.Context, delta int) error {
	if !s.cardActive() {
		return s.stateError("navigate")
	}
	n := len(s.plans)
	s.watch.stop(s.clock.Now())
	s.state = RatingOrNavigating
	return s.Present(ctx, ((s.index+delta)%n+n)%n)
}

// Rate records the learner's verdict on the current card, reschedules it and
// moves on. If saving fails a *PersistenceError is returned and the session
// stays on the same card with its stopwatch running.
func (s *Session) Rate(ctx context.Context, sub Submission) error {
	if !s.cardActive() {
		return s.stateError("rate")
	}

	now := s.clock.Now()
	elapsed := s.watch.elapsed(now)
	rating := sm2.ClampRating(sub.Rating)
	plan := s.plans[s.index]

	next := s.scheduler.Apply(plan, rating, now)
	stat := domain.ReviewStatistic{
		CardID:     plan.CardID,
		ReviewedAt: now,
		DurationMs: elapsed.Milliseconds(),
		Correct:    sub.Correct,
		Rating:     rating,
		Note:       sub.Note,
	}

	prev := s.state
	s.state = RatingOrNavigating
	if _, err := s.store.CommitReview(ctx, next, stat); err != nil {
		s.state = prev
		s.log.Error("failed to save review", "plan_id", plan.ID, "card_id", plan.CardID, "error", err)
		return &PersistenceError{CardID: plan.CardID, Err: err}
	}

	s.watch.stop(now)
	s.plans[s.index] = next
	s.reviewed++
	s.log.Debug("card reviewed",
		"card_id", plan.CardID,
		"rating", rating,
		"duration_ms", stat.DurationMs,
		"interval_days", next.Interval(),
		"ease_factor", next.EaseFactor,
	)

	if s.index+1 < len(s.plans) {
		return s.Present(ctx, s.index+1)
	}
	s.finish(Completed)
	return nil
}

// Finish ends the session without recording the current card. Calling it
// again has no effect.
func (s *Session) Finish() {
	if s.state == Finished {
		return
	}
	s.finish(Abandoned)
}

func (s *Session) finish(reason FinishReason) {
	s.watch.stop(s.clock.Now())
	s.state = Finished
	s.reason = reason
	s.log.Info("review session finished", "reason", reason.String(), "reviewed", s.reviewed)
}

// CurrentCard returns the card on screen, or false when none is.
func (s *Session) CurrentCard() (CardView, bool) {
	if !s.cardActive() {
		return CardView{}, false
	}
	view := CardView{
		PlanID:   s.plans[s.index].ID,
		CardID:   s.card.ID,
		Question: s.card.Question,
		Missing:  s.cardErr != nil,
	}
	if s.state == AnswerRevealed {
		view.Answer = s.card.Answer
		view.AnswerVisible = true
	}
	return view, true
}

// Progress returns the 1-based position of the current card and the queue length.
func (s *Session) Progress() (position, total int) {
	if len(s.plans) == 0 {
		return 0, 0
	}
	return s.index + 1, len(s.plans)
}

// Elapsed returns the focused time spent on the current card so far.
func (s *Session) Elapsed() time.Duration {
	return s.watch.elapsed(s.clock.Now())
}

// ElapsedDisplay renders Elapsed as m:ss.
func (s *Session) ElapsedDisplay() string {
	return stats.FormatDuration(s.Elapsed().Milliseconds())
}

// IsRunning reports whether the session has started and not yet finished.
func (s *Session) IsRunning() bool {
	return s.state != Idle && s.state != Finished
}

// IsPaused reports whether the stopwatch is paused.
func (s *Session) IsPaused() bool {
	return s.watch.paused
}

func (s *Session) State() State { return s.state }

func (s *Session) Reason() FinishReason { return s.reason }

// Summary returns the statistics of the current card as of its presentation.
func (s *Session) Summary() stats.Summary { return s.summary }

// Reviewed returns how many cards were rated in this session.
func (s *Session) Reviewed() int { return s.reviewed }

// CardError returns the problem found while loading the current card, if any.
func (s *Session) CardError() error { return s.cardErr }

func (s *Session) cardActive() bool {
	return s.state == Presenting || s.state == AnswerRevealed
}

func (s *Session) stateError(op string) error {
	if s.state == Finished {
		return fmt.Errorf("%s: %w", op, ErrSessionFinished)
	}
	return fmt.Errorf("%s in state %s: %w", op, s.state, ErrInvalidState)
}
