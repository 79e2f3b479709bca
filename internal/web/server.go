// Package web serves a JSON API for running a review session, inspecting
// statistics and managing deck sources.
package web

import (
	"context"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/conorfennell/recallloop/internal/deck"
	"github.com/conorfennell/recallloop/internal/domain"
	"github.com/conorfennell/recallloop/internal/review"
	"github.com/conorfennell/recallloop/internal/sm2"
	"github.com/conorfennell/recallloop/internal/storage"
)

// Store is the persistence the server reads from and hands to review sessions.
type Store interface {
	review.Store
	ListCards(ctx context.Context) ([]domain.Card, error)
	ListSources(ctx context.Context) ([]storage.Source, error)
	InsertSource(ctx context.Context, path string, typ storage.SourceType) (storage.Source, error)
	DeleteSource(ctx context.Context, id int64) error
	Ping(ctx context.Context) error
}

// Syncer imports cards from every registered source.
type Syncer interface {
	Run(ctx context.Context) ([]deck.Report, error)
}

// Server holds the dependencies for the HTTP server.
type Server struct {
	store     Store
	syncer    Syncer
	scheduler *sm2.Params
	window    int
	clock     review.Clock
	log       *slog.Logger
	router    chi.Router

	// mu guards the single active review session.
	mu        sync.Mutex
	sessionID string
	session   *review.Session
}

// Option configures a Server.
type Option func(*Server)

// WithSyncer enables POST /api/sync.
func WithSyncer(s Syncer) Option {
	return func(srv *Server) { srv.syncer = s }
}

func WithScheduler(p *sm2.Params) Option {
	return func(srv *Server) { srv.scheduler = p }
}

// WithTrendWindow sets the moving average window of card trends.
func WithTrendWindow(n int) Option {
	return func(srv *Server) { srv.window = n }
}

func WithClock(c review.Clock) Option {
	return func(srv *Server) { srv.clock = c }
}

func WithLogger(l *slog.Logger) Option {
	return func(srv *Server) { srv.log = l }
}

type systemClock struct{}

func (systemClock) Now() time.Time { return time.Now() }

// NewServer creates and configures a new server.
func NewServer(store Store, opts ...Option) *Server {
	s := &Server{
		store:     store,
		scheduler: sm2.DefaultParams(),
		window:    2,
		clock:     systemClock{},
		log:       slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.router = s.routes()
	return s
}

// ServeHTTP implements the http.Handler interface.
func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.requestLogger)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Route("/session", func(r chi.Router) {
			r.Post("/", s.handleStartSession())
			r.Get("/", s.handleGetSession())
			r.Post("/reveal", s.handleReveal())
			r.Post("/pause", s.handlePause())
			r.Post("/resume", s.handleResume())
			r.Post("/navigate", s.handleNavigate())
			r.Post("/rate", s.handleRate())
			r.Post("/finish", s.handleFinish())
		})

		r.Get("/stats", s.handleStats())
		r.Get("/cards/{id}/trend", s.handleTrend())

		r.Get("/sources", s.handleListSources())
		r.Post("/sources", s.handleAddSource())
		r.Delete("/sources/{id}", s.handleDeleteSource())
		r.Post("/sync", s.handleSync())
	})

	r.Get("/health", s.handleHealth())
	return r
}

// requestLogger logs one line per request through the server's logger.
func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()
		defer func() {
			s.log.Info("http request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", ww.Status(),
				"bytes", ww.BytesWritten(),
				"duration", time.Since(start),
				"request_id", middleware.GetReqID(r.Context()),
			)
		}()
		next.ServeHTTP(ww, r)
	})
}
