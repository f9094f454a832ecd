package httpapi

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/you/relayq/internal/domain"
)

type submitRequest struct {
	Type           string          `json:"type"`
	Payload        json.RawMessage `json:"payload,omitempty"`
	JobID          string          `json:"job_id,omitempty"`
	Priority       int             `json:"priority,omitempty"`
	MaxAttempts    int             `json:"max_attempts,omitempty"`
	ScheduledFor   *time.Time      `json:"scheduled_for,omitempty"`
	BackoffType    string          `json:"backoff_type,omitempty"`
	BackoffDelayMS int64           `json:"backoff_delay_ms,omitempty"`
}

// submitJob accepts a unit of work and returns its job id immediately.
// Submission never blocks on processing.
func (s *Server) submitJob(w http.ResponseWriter, r *http.Request) {
	var req submitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: "malformed JSON body"})
		return
	}

	j, err := domain.NewJob(req.Type, req.Payload, domain.Options{
		JobID:        req.JobID,
		Priority:     req.Priority,
		MaxAttempts:  req.MaxAttempts,
		BackoffType:  domain.BackoffType(req.BackoffType),
		BackoffDelay: time.Duration(req.BackoffDelayMS) * time.Millisecond,
		ScheduledFor: req.ScheduledFor,
	})
	if err != nil {
		s.writeErr(w, err)
		return
	}

	if err := s.store.InsertJob(r.Context(), j); err != nil {
		s.writeErr(w, err)
		return
	}

	s.writeJSON(w, http.StatusAccepted, map[string]string{"job_id": j.JobID})
}

func (s *Server) getJob(w http.ResponseWriter, r *http.Request) {
	j, err := s.store.GetJob(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, j)
}

func (s *Server) cancelJob(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	if err := s.store.CancelJob(r.Context(), id); err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"job_id": id, "status": "cancelled"})
}

func (s *Server) jobStats(w http.ResponseWriter, r *http.Request) {
	byStatus, err := s.store.CountJobsByStatus(r.Context())
	if err != nil {
		s.writeErr(w, err)
		return
	}
	byType, err := s.store.CountJobsByType(r.Context())
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"by_status": byStatus,
		"by_type":   byType,
	})
}

func (s *Server) deadLetterStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.store.CountDeadLetters(r.Context())
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, stats)
}

func (s *Server) listDeadLetters(w http.ResponseWriter, r *http.Request) {
	limit := queryInt(r, "limit", 50)
	status := domain.DLQStatus(r.URL.Query().Get("status"))
	entries, err := s.store.ListDeadLetters(r.Context(), status, limit)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

// staleDeadLetters lists non-terminal entries older than ?days (default 7).
func (s *Server) staleDeadLetters(w http.ResponseWriter, r *http.Request) {
	days := queryInt(r, "days", 7)
	limit := queryInt(r, "limit", 100)
	cutoff := time.Now().UTC().AddDate(0, 0, -days)
	entries, err := s.store.StaleDeadLetters(r.Context(), cutoff, limit)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"entries": entries, "count": len(entries)})
}

type triageRequest struct {
	Actor      string `json:"actor"`
	Resolution string `json:"resolution,omitempty"`
	Reason     string `json:"reason,omitempty"`
	Type       string `json:"type,omitempty"`
	MaxEntries int    `json:"max_entries,omitempty"`
}

func decodeTriage(r *http.Request) triageRequest {
	var req triageRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	if req.Actor == "" {
		req.Actor = "unknown"
	}
	return req
}

func (s *Server) reprocessOne(w http.ResponseWriter, r *http.Request) {
	req := decodeTriage(r)
	id := chi.URLParam(r, "id")
	if err := s.triage.ReprocessOne(r.Context(), id, req.Actor); err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "reprocessed"})
}

func (s *Server) reprocessBatch(w http.ResponseWriter, r *http.Request) {
	req := decodeTriage(r)
	if req.Type == "" {
		s.writeJSON(w, http.StatusBadRequest, errorBody{Error: "type is required"})
		return
	}
	if req.MaxEntries <= 0 {
		req.MaxEntries = 10
	}
	res, err := s.triage.ReprocessBatch(r.Context(), req.Type, req.Actor, req.MaxEntries)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func (s *Server) resolveDeadLetter(w http.ResponseWriter, r *http.Request) {
	req := decodeTriage(r)
	id := chi.URLParam(r, "id")
	if err := s.triage.Resolve(r.Context(), id, req.Actor, req.Resolution); err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "resolved"})
}

func (s *Server) ignoreDeadLetter(w http.ResponseWriter, r *http.Request) {
	req := decodeTriage(r)
	id := chi.URLParam(r, "id")
	if err := s.triage.Ignore(r.Context(), id, req.Reason); err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"id": id, "status": "ignored"})
}

func (s *Server) resubmitDeadLetter(w http.ResponseWriter, r *http.Request) {
	req := decodeTriage(r)
	j, err := s.triage.Resubmit(r.Context(), chi.URLParam(r, "id"), req.Actor)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusAccepted, map[string]string{"job_id": j.JobID})
}

type cleanupRequest struct {
	RetentionHours int `json:"retention_hours,omitempty"`
}

func (s *Server) cleanup(w http.ResponseWriter, r *http.Request) {
	var req cleanupRequest
	_ = json.NewDecoder(r.Body).Decode(&req)
	retention := 7 * 24 * time.Hour
	if req.RetentionHours > 0 {
		retention = time.Duration(req.RetentionHours) * time.Hour
	}
	res, err := s.store.Cleanup(r.Context(), retention)
	if err != nil {
		s.writeErr(w, err)
		return
	}
	s.writeJSON(w, http.StatusOK, res)
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil || n <= 0 {
		return def
	}
	return n
}
