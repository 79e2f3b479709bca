package web

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/conorfennell/recallloop/internal/domain"
	"github.com/conorfennell/recallloop/internal/review"
)

// errorResponse is the body of every failed request.
type errorResponse struct {
	Error string `json:"error"`
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.log.Error("failed to encode response", "error", err)
	}
}

func (s *Server) respondError(w http.ResponseWriter, status int, msg string) {
	s.respondJSON(w, status, errorResponse{Error: msg})
}

// respondFailure maps err to a status code.
func (s *Server) respondFailure(w http.ResponseWriter, err error) {
	var persistErr *review.PersistenceError
	switch {
	case errors.As(err, &persistErr):
		s.respondError(w, http.StatusInternalServerError, err.Error())
	case errors.Is(err, review.ErrInvalidState):
		s.respondError(w, http.StatusConflict, err.Error())
	case errors.Is(err, domain.ErrNotFound):
		s.respondError(w, http.StatusNotFound, err.Error())
	default:
		s.log.Error("request failed", "error", err)
		s.respondError(w, http.StatusInternalServerError, "internal error")
	}
}

// decode reads a JSON body into v. An empty body leaves v untouched.
func decode(r *http.Request, v any) error {
	if r.Body == nil {
		return nil
	}
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}
