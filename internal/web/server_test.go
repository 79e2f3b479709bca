package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/conorfennell/recallloop/internal/deck"
	"github.com/conorfennell/recallloop/internal/domain"
	"github.com/conorfennell/recallloop/internal/storage"
)

var now = time.Date(2026, time.October, 16, 9, 30, 0, 0, time.UTC)

type fixedClock struct{}

func (fixedClock) Now() time.Time { return now }

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

func newTestDB(t *testing.T, questions ...string) *storage.DB {
	t.Helper()
	db, err := storage.Open(filepath.Join(t.TempDir(), "web.db"), discard)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	for _, q := range questions {
		_, err := db.InsertCard(context.Background(), domain.Card{
			Question:  q,
			Answer:    "answer to " + q,
			CreatedAt: now.AddDate(0, 0, -1),
		}, 0)
		require.NoError(t, err)
	}
	return db
}

func newTestServer(store Store, opts ...Option) *Server {
	opts = append([]Option{WithClock(fixedClock{}), WithLogger(discard)}, opts...)
	return NewServer(store, opts...)
}

func do(t *testing.T, h http.Handler, method, path, body string, header ...string) *httptest.ResponseRecorder {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	for i := 0; i+1 < len(header); i += 2 {
		req.Header.Set(header[i], header[i+1])
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestReviewSessionFlow(t *testing.T) {
	srv := newTestServer(newTestDB(t, "first", "second"))

	rec := do(t, srv, http.MethodPost, "/api/session", "")
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	started := decodeBody[sessionResponse](t, rec)
	assert.NotEmpty(t, started.ID)
	assert.Equal(t, "presenting", started.State)
	assert.Equal(t, 1, started.Position)
	assert.Equal(t, 2, started.Total)
	require.NotNil(t, started.Card)
	assert.Equal(t, "first", started.Card.Question)
	assert.Empty(t, started.Card.Answer, "answer hidden until revealed")

	rec = do(t, srv, http.MethodPost, "/api/session/reveal", "", SessionHeader, started.ID)
	require.Equal(t, http.StatusOK, rec.Code)
	revealed := decodeBody[sessionResponse](t, rec)
	assert.Equal(t, "answer_revealed", revealed.State)
	assert.Equal(t, "answer to first", revealed.Card.Answer)

	rec = do(t, srv, http.MethodPost, "/api/session/rate", `{"rating":4,"correct":true,"note":"easy"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	next := decodeBody[sessionResponse](t, rec)
	assert.Equal(t, 2, next.Position)
	assert.Equal(t, 1, next.Reviewed)
	assert.Equal(t, "second", next.Card.Question)

	rec = do(t, srv, http.MethodPost, "/api/session/rate", `{"rating":9}`)
	require.Equal(t, http.StatusOK, rec.Code)
	done := decodeBody[sessionResponse](t, rec)
	assert.Equal(t, "finished", done.State)
	assert.Equal(t, "completed", done.Reason)
	assert.Nil(t, done.Card)

	rec = do(t, srv, http.MethodGet, "/api/stats", "")
	require.Equal(t, http.StatusOK, rec.Code)
	summaries := decodeBody[[]cardStats](t, rec)
	require.Len(t, summaries, 2)
	assert.Equal(t, 1, summaries[0].Summary.Count)
	assert.Equal(t, 4.0, summaries[0].Summary.AverageRating)
	assert.Equal(t, 5.0, summaries[1].Summary.AverageRating, "ratings are clamped")
	assert.Equal(t, "now", summaries[0].LastReviewed)

	rec = do(t, srv, http.MethodGet, "/api/cards/1/trend", "")
	require.Equal(t, http.StatusOK, rec.Code)
	trend := decodeBody[trendResponse](t, rec)
	assert.Equal(t, int64(1), trend.CardID)
	assert.Equal(t, []float64{4}, trend.Ratings)
}

func TestStartWithNothingDue(t *testing.T) {
	srv := newTestServer(newTestDB(t))

	rec := do(t, srv, http.MethodPost, "/api/session", "")
	require.Equal(t, http.StatusCreated, rec.Code)
	resp := decodeBody[sessionResponse](t, rec)
	assert.Equal(t, "finished", resp.State)
	assert.Equal(t, "nothing_due", resp.Reason)
	assert.Zero(t, resp.Total)
}

func TestSessionErrors(t *testing.T) {
	srv := newTestServer(newTestDB(t, "only"))

	rec := do(t, srv, http.MethodGet, "/api/session", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	assert.Equal(t, "review session not found", decodeBody[errorResponse](t, rec).Error)

	rec = do(t, srv, http.MethodPost, "/api/session", "")
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/session", "")
	assert.Equal(t, http.StatusConflict, rec.Code, "a running session blocks a new one")

	rec = do(t, srv, http.MethodGet, "/api/session", "", SessionHeader, "someone-else")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/session/rate", `{"rating":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/session/navigate", `{"delta":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/session/finish", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "abandoned", decodeBody[sessionResponse](t, rec).Reason)

	rec = do(t, srv, http.MethodPost, "/api/session/reveal", "")
	assert.Equal(t, http.StatusConflict, rec.Code)

	rec = do(t, srv, http.MethodPost, "/api/session", "")
	assert.Equal(t, http.StatusCreated, rec.Code, "a finished session can be replaced")
}

func TestPauseAndNavigate(t *testing.T) {
	srv := newTestServer(newTestDB(t, "a", "b", "c"))
	require.Equal(t, http.StatusCreated, do(t, srv, http.MethodPost, "/api/session", "").Code)

	rec := do(t, srv, http.MethodPost, "/api/session/pause", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.True(t, decodeBody[sessionResponse](t, rec).Paused)

	rec = do(t, srv, http.MethodPost, "/api/session/resume", "")
	assert.False(t, decodeBody[sessionResponse](t, rec).Paused)

	rec = do(t, srv, http.MethodPost, "/api/session/navigate", `{"delta":-1}`)
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decodeBody[sessionResponse](t, rec)
	assert.Equal(t, 3, resp.Position, "navigation wraps around")
	assert.Equal(t, "c", resp.Card.Question)

	rec = do(t, srv, http.MethodPost, "/api/session/navigate", "")
	assert.Equal(t, 1, decodeBody[sessionResponse](t, rec).Position, "delta defaults to one")
}

type failingCommits struct {
	*storage.DB
}

var errDiskFull = errors.New("disk full")

func (failingCommits) CommitReview(context.Context, domain.ReviewPlan, domain.ReviewStatistic) (int64, error) {
	return 0, errDiskFull
}

func TestRatePersistenceFailure(t *testing.T) {
	srv := newTestServer(failingCommits{newTestDB(t, "q")})
	require.Equal(t, http.StatusCreated, do(t, srv, http.MethodPost, "/api/session", "").Code)

	rec := do(t, srv, http.MethodPost, "/api/session/rate", `{"rating":3}`)
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
	assert.Contains(t, decodeBody[errorResponse](t, rec).Error, "disk full")

	rec = do(t, srv, http.MethodGet, "/api/session", "")
	resp := decodeBody[sessionResponse](t, rec)
	assert.Equal(t, "presenting", resp.State, "session stays on the card")
	assert.Zero(t, resp.Reviewed)
}

func TestTrendErrors(t *testing.T) {
	srv := newTestServer(newTestDB(t), WithTrendWindow(3))

	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodGet, "/api/cards/abc/trend", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodGet, "/api/cards/42/trend", "").Code)
}

func TestSources(t *testing.T) {
	srv := newTestServer(newTestDB(t))

	rec := do(t, srv, http.MethodPost, "/api/sources", `{"path":"https://github.com/acme/decks.git"}`)
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	src := decodeBody[sourceResponse](t, rec)
	assert.Equal(t, "git", src.Type)

	rec = do(t, srv, http.MethodPost, "/api/sources", `{"path":"/home/me/decks"}`)
	require.Equal(t, http.StatusCreated, rec.Code)
	assert.Equal(t, "local", decodeBody[sourceResponse](t, rec).Type)

	assert.Equal(t, http.StatusConflict,
		do(t, srv, http.MethodPost, "/api/sources", `{"path":"/home/me/decks"}`).Code)
	assert.Equal(t, http.StatusBadRequest,
		do(t, srv, http.MethodPost, "/api/sources", `{"path":"  "}`).Code)

	rec = do(t, srv, http.MethodGet, "/api/sources", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]sourceResponse](t, rec), 2)

	assert.Equal(t, http.StatusNoContent, do(t, srv, http.MethodDelete, "/api/sources/1", "").Code)
	assert.Equal(t, http.StatusNotFound, do(t, srv, http.MethodDelete, "/api/sources/1", "").Code)
	assert.Equal(t, http.StatusBadRequest, do(t, srv, http.MethodDelete, "/api/sources/x", "").Code)
}

type fakeSyncer struct {
	reports []deck.Report
}

func (f fakeSyncer) Run(context.Context) ([]deck.Report, error) { return f.reports, nil }

func TestSync(t *testing.T) {
	db := newTestDB(t)
	assert.Equal(t, http.StatusServiceUnavailable,
		do(t, newTestServer(db), http.MethodPost, "/api/sync", "").Code)

	syncer := fakeSyncer{reports: []deck.Report{{
		Source: storage.Source{ID: 3, Path: "/decks"},
		Parsed: 5,
		Added:  2,
		Errors: []error{errors.New("bad.md: unreadable")},
	}}}
	rec := do(t, newTestServer(db, WithSyncer(syncer)), http.MethodPost, "/api/sync", "")
	require.Equal(t, http.StatusOK, rec.Code)
	reports := decodeBody[[]syncReport](t, rec)
	require.Len(t, reports, 1)
	assert.Equal(t, syncReport{
		SourceID: 3,
		Path:     "/decks",
		Parsed:   5,
		Added:    2,
		Errors:   []string{"bad.md: unreadable"},
	}, reports[0])
}

func TestHealth(t *testing.T) {
	db := newTestDB(t)
	srv := newTestServer(db)

	rec := do(t, srv, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))

	require.NoError(t, db.Close())
	assert.Equal(t, http.StatusServiceUnavailable, do(t, srv, http.MethodGet, "/health", "").Code)
}
