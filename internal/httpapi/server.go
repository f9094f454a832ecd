// Package httpapi exposes the producer and triage surface: job
// submission, read-only statistics, and dead-letter administration.
package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/you/relayq/internal/dlq"
	"github.com/you/relayq/internal/domain"
	"github.com/you/relayq/internal/storage"
)

// Store is the record-store surface the API serves from. Implemented by
// *storage.Store.
type Store interface {
	InsertJob(ctx context.Context, j *domain.Job) error
	GetJob(ctx context.Context, jobID string) (*domain.Job, error)
	CancelJob(ctx context.Context, jobID string) error
	CountJobsByStatus(ctx context.Context) (map[domain.Status]int64, error)
	CountJobsByType(ctx context.Context) ([]storage.TypeStat, error)
	CountDeadLetters(ctx context.Context) (*storage.DLQStats, error)
	ListDeadLetters(ctx context.Context, status domain.DLQStatus, limit int) ([]*domain.DeadLetter, error)
	StaleDeadLetters(ctx context.Context, cutoff time.Time, limit int) ([]*domain.DeadLetter, error)
	Cleanup(ctx context.Context, retention time.Duration) (*storage.CleanupResult, error)
}

type Server struct {
	store  Store
	triage *dlq.Service
	logger *zap.Logger
}

func NewServer(store Store, triage *dlq.Service, logger *zap.Logger) *Server {
	return &Server{store: store, triage: triage, logger: logger}
}

// Handler builds the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()

	r.Route("/v1", func(r chi.Router) {
		r.Post("/jobs", s.submitJob)
		r.Get("/jobs/{id}", s.getJob)
		r.Post("/jobs/{id}/cancel", s.cancelJob)

		r.Get("/stats/jobs", s.jobStats)
		r.Get("/stats/deadletters", s.deadLetterStats)

		r.Get("/deadletters", s.listDeadLetters)
		r.Get("/deadletters/stale", s.staleDeadLetters)
		r.Post("/deadletters/reprocess", s.reprocessBatch)
		r.Post("/deadletters/{id}/reprocess", s.reprocessOne)
		r.Post("/deadletters/{id}/resolve", s.resolveDeadLetter)
		r.Post("/deadletters/{id}/ignore", s.ignoreDeadLetter)
		r.Post("/deadletters/{id}/resubmit", s.resubmitDeadLetter)

		r.Post("/admin/cleanup", s.cleanup)
	})

	return r
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Error("write response", zap.Error(err))
	}
}

type errorBody struct {
	Error string `json:"error"`
}

// writeErr maps the domain error taxonomy onto HTTP statuses.
func (s *Server) writeErr(w http.ResponseWriter, err error) {
	var vErr *domain.ValidationError
	switch {
	case errors.As(err, &vErr):
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: vErr.Error()})
	case errors.Is(err, domain.ErrJobNotFound), errors.Is(err, domain.ErrDeadLetterNotFound):
		s.writeJSON(w, http.StatusNotFound, errorBody{Error: err.Error()})
	case errors.Is(err, domain.ErrNotReprocessable), errors.Is(err, domain.ErrInvalidTransition):
		s.writeJSON(w, http.StatusConflict, errorBody{Error: err.Error()})
	case errors.Is(err, domain.ErrStoreUnavailable):
		s.logger.Error("store unavailable", zap.Error(err))
		s.writeJSON(w, http.StatusServiceUnavailable, errorBody{Error: "store unavailable"})
	default:
		s.logger.Error("request failed", zap.Error(err))
		s.writeJSON(w, http.StatusInternalServerError, errorBody{Error: "internal error"})
	}
}
