package web

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/google/uuid"

	"github.com/conorfennell/recallloop/internal/review"
	"github.com/conorfennell/recallloop/internal/stats"
)

// SessionHeader optionally names the session a request is meant for.
const SessionHeader = "X-Session-ID"

var errBadRequest = errors.New("bad request")

type sessionResponse struct {
	ID        string           `json:"id"`
	State     string           `json:"state"`
	Reason    string           `json:"reason,omitempty"`
	Position  int              `json:"position"`
	Total     int              `json:"total"`
	Reviewed  int              `json:"reviewed"`
	ElapsedMs int64            `json:"elapsed_ms"`
	Elapsed   string           `json:"elapsed"`
	Paused    bool             `json:"paused"`
	Card      *review.CardView `json:"card,omitempty"`
	Summary   *stats.Summary   `json:"summary,omitempty"`
	CardError string           `json:"card_error,omitempty"`
}

type navigateRequest struct {
	Delta *int `json:"delta"`
}

// sessionView snapshots the active session. The caller holds s.mu.
func (s *Server) sessionView() sessionResponse {
	sess := s.session
	pos, total := sess.Progress()
	resp := sessionResponse{
		ID:        s.sessionID,
		State:     sess.State().String(),
		Position:  pos,
		Total:     total,
		Reviewed:  sess.Reviewed(),
		ElapsedMs: sess.Elapsed().Milliseconds(),
		Elapsed:   sess.ElapsedDisplay(),
		Paused:    sess.IsPaused(),
	}
	if sess.State() == review.Finished {
		resp.Reason = sess.Reason().String()
	}
	if card, ok := sess.CurrentCard(); ok {
		resp.Card = &card
		summary := sess.Summary()
		resp.Summary = &summary
	}
	if err := sess.CardError(); err != nil {
		resp.CardError = err.Error()
	}
	return resp
}

// lookup returns the active session unless the request names another one.
// The caller holds s.mu.
func (s *Server) lookup(r *http.Request) (*review.Session, bool) {
	if s.session == nil {
		return nil, false
	}
	if id := r.Header.Get(SessionHeader); id != "" && id != s.sessionID {
		return nil, false
	}
	return s.session, true
}

// withSession runs fn against the active session and responds with its
// new state.
func (s *Server) withSession(fn func(r *http.Request, sess *review.Session) error) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()

		sess, ok := s.lookup(r)
		if !ok {
			s.respondError(w, http.StatusNotFound, "review session not found")
			return
		}
		if err := fn(r, sess); err != nil {
			if errors.Is(err, errBadRequest) {
				s.respondError(w, http.StatusBadRequest, err.Error())
				return
			}
			s.respondFailure(w, err)
			return
		}
		s.respondJSON(w, http.StatusOK, s.sessionView())
	}
}

// handleStartSession loads today's due cards into a new session. A session
// that is still running must be finished first.
func (s *Server) handleStartSession() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		defer s.mu.Unlock()

		if s.session != nil && s.session.IsRunning() {
			s.respondError(w, http.StatusConflict, fmt.Sprintf("review session %s is still running", s.sessionID))
			return
		}

		sess := review.New(s.store,
			review.WithClock(s.clock),
			review.WithLogger(s.log),
			review.WithScheduler(s.scheduler),
		)
		if err := sess.Start(r.Context()); err != nil {
			s.respondFailure(w, err)
			return
		}
		s.session = sess
		s.sessionID = uuid.NewString()
		s.log.Info("review session created", "session_id", s.sessionID)
		s.respondJSON(w, http.StatusCreated, s.sessionView())
	}
}

func (s *Server) handleGetSession() http.HandlerFunc {
	return s.withSession(func(*http.Request, *review.Session) error { return nil })
}

func (s *Server) handleReveal() http.HandlerFunc {
	return s.withSession(func(_ *http.Request, sess *review.Session) error {
		return sess.Reveal()
	})
}

func (s *Server) handlePause() http.HandlerFunc {
	return s.withSession(func(_ *http.Request, sess *review.Session) error {
		sess.Pause()
		return nil
	})
}

func (s *Server) handleResume() http.HandlerFunc {
	return s.withSession(func(_ *http.Request, sess *review.Session) error {
		sess.Resume()
		return nil
	})
}

// handleNavigate moves by "delta" cards, one forward when omitted.
func (s *Server) handleNavigate() http.HandlerFunc {
	return s.withSession(func(r *http.Request, sess *review.Session) error {
		var req navigateRequest
		if err := decode(r, &req); err != nil {
			return fmt.Errorf("%w: %v", errBadRequest, err)
		}
		delta := 1
		if req.Delta != nil {
			delta = *req.Delta
		}
		return sess.Navigate(context.WithoutCancel(r.Context()), delta)
	})
}

func (s *Server) handleRate() http.HandlerFunc {
	return s.withSession(func(r *http.Request, sess *review.Session) error {
		var sub review.Submission
		if err := decode(r, &sub); err != nil {
			return fmt.Errorf("%w: %v", errBadRequest, err)
		}
		return sess.Rate(context.WithoutCancel(r.Context()), sub)
	})
}

func (s *Server) handleFinish() http.HandlerFunc {
	return s.withSession(func(_ *http.Request, sess *review.Session) error {
		sess.Finish()
		return nil
	})
}
