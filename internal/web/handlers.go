package web

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"

	"github.com/conorfennell/recallloop/internal/gitsource"
	"github.com/conorfennell/recallloop/internal/stats"
	"github.com/conorfennell/recallloop/internal/storage"
)

type cardStats struct {
	CardID       int64         `json:"card_id"`
	Question     string        `json:"question"`
	Summary      stats.Summary `json:"summary"`
	LastReviewed string        `json:"last_reviewed,omitempty"`
}

type trendResponse struct {
	CardID int64 `json:"card_id"`
	Window int   `json:"window"`
	stats.Trend
}

type sourceResponse struct {
	ID          int64      `json:"id"`
	Path        string     `json:"path"`
	Type        string     `json:"type"`
	LastScanned *time.Time `json:"last_scanned,omitempty"`
}

type addSourceRequest struct {
	Path string `json:"path"`
}

type syncReport struct {
	SourceID int64    `json:"source_id"`
	Path     string   `json:"path"`
	Parsed   int      `json:"parsed"`
	Added    int      `json:"added"`
	Pruned   int      `json:"pruned"`
	Errors   []string `json:"errors,omitempty"`
}

func toSourceResponse(src storage.Source) sourceResponse {
	return sourceResponse{ID: src.ID, Path: src.Path, Type: string(src.Type), LastScanned: src.LastScanned}
}

func pathID(r *http.Request) (int64, error) {
	return strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
}

// handleStats summarises the review history of every card.
func (s *Server) handleStats() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		cards, err := s.store.ListCards(r.Context())
		if err != nil {
			s.respondFailure(w, err)
			return
		}

		now := s.clock.Now()
		out := make([]cardStats, 0, len(cards))
		for _, c := range cards {
			history, err := s.store.CardHistory(r.Context(), c.ID)
			if err != nil {
				s.respondFailure(w, err)
				return
			}
			cs := cardStats{CardID: c.ID, Question: c.Question, Summary: stats.Summarize(history)}
			if cs.Summary.Count > 0 {
				cs.LastReviewed = humanize.RelTime(cs.Summary.LastReviewedAt, now, "ago", "from now")
			}
			out = append(out, cs)
		}
		s.respondJSON(w, http.StatusOK, out)
	}
}

// handleTrend returns the smoothed rating and duration series of one card.
func (s *Server) handleTrend() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid card ID")
			return
		}
		if _, err := s.store.LoadCard(r.Context(), id); err != nil {
			s.respondFailure(w, err)
			return
		}
		history, err := s.store.CardHistory(r.Context(), id)
		if err != nil {
			s.respondFailure(w, err)
			return
		}
		s.respondJSON(w, http.StatusOK, trendResponse{
			CardID: id,
			Window: s.window,
			Trend:  stats.NewTrend(history, s.window),
		})
	}
}

func (s *Server) handleListSources() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sources, err := s.store.ListSources(r.Context())
		if err != nil {
			s.respondFailure(w, err)
			return
		}
		out := make([]sourceResponse, 0, len(sources))
		for _, src := range sources {
			out = append(out, toSourceResponse(src))
		}
		s.respondJSON(w, http.StatusOK, out)
	}
}

// handleAddSource registers a local directory or a git URL.
func (s *Server) handleAddSource() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req addSourceRequest
		if err := decode(r, &req); err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid request body")
			return
		}
		path := strings.TrimSpace(req.Path)
		if path == "" {
			s.respondError(w, http.StatusBadRequest, "path cannot be empty")
			return
		}

		typ := storage.SourceLocal
		if gitsource.IsRemote(path) {
			typ = storage.SourceGit
		}
		src, err := s.store.InsertSource(r.Context(), path, typ)
		if errors.Is(err, storage.ErrDuplicate) {
			s.respondError(w, http.StatusConflict, "source already registered")
			return
		}
		if err != nil {
			s.respondFailure(w, err)
			return
		}
		s.log.Info("source added", "source_id", src.ID, "path", src.Path, "type", src.Type)
		s.respondJSON(w, http.StatusCreated, toSourceResponse(src))
	}
}

func (s *Server) handleDeleteSource() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id, err := pathID(r)
		if err != nil {
			s.respondError(w, http.StatusBadRequest, "invalid source ID")
			return
		}
		if err := s.store.DeleteSource(r.Context(), id); err != nil {
			s.respondFailure(w, err)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}
}

// handleSync imports every source in the foreground and reports per source.
func (s *Server) handleSync() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.syncer == nil {
			s.respondError(w, http.StatusServiceUnavailable, "sync is not configured")
			return
		}
		reports, err := s.syncer.Run(r.Context())
		if err != nil {
			s.respondFailure(w, err)
			return
		}
		out := make([]syncReport, 0, len(reports))
		for _, rep := range reports {
			sr := syncReport{
				SourceID: rep.Source.ID,
				Path:     rep.Source.Path,
				Parsed:   rep.Parsed,
				Added:    rep.Added,
				Pruned:   rep.Pruned,
			}
			for _, e := range rep.Errors {
				sr.Errors = append(sr.Errors, e.Error())
			}
			out = append(out, sr)
		}
		s.respondJSON(w, http.StatusOK, out)
	}
}

func (s *Server) handleHealth() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if err := s.store.Ping(r.Context()); err != nil {
			s.log.Error("health check failed", "error", err)
			s.respondJSON(w, http.StatusServiceUnavailable, map[string]string{"status": "unavailable"})
			return
		}
		s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}
}

var _ Store = (*storage.DB)(nil)
