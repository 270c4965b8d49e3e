package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/gorilla/handlers"

	"github.com/DeafMist/opportunity-indexer/internal/config"
	"github.com/DeafMist/opportunity-indexer/internal/elasticsearch"
	"github.com/DeafMist/opportunity-indexer/internal/failure"
	"github.com/DeafMist/opportunity-indexer/internal/models"
	"github.com/DeafMist/opportunity-indexer/internal/processing"
)

// maxOffset caps from so deep paging stays under the default result window.
const maxOffset = 10_000

type opportunityStore interface {
	Health(ctx context.Context) (*elasticsearch.Health, error)
	Status(ctx context.Context) (*elasticsearch.Status, error)
	Totals(ctx context.Context) (*elasticsearch.Totals, error)
	GetOpportunity(ctx context.Context, id string) (*models.OpportunityDocument, error)
	SearchOpportunities(ctx context.Context, params elasticsearch.SearchParams) (*elasticsearch.SearchResult, error)
}

type server struct {
	log *slog.Logger
	cfg config.Dashboard
	es  opportunityStore
}

type errorResponse struct {
	Error string `json:"error"`
}

type statsResponse struct {
	Index  *elasticsearch.Status `json:"index"`
	Totals *elasticsearch.Totals `json:"totals,omitempty"`
}

// newRouter mounts the read-only routes and writes one combined access log
// line per request to access.
func newRouter(s *server, access io.Writer) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/health", s.handleHealth)
	r.Get("/opportunities", s.handleSearch)
	r.Get("/opportunities/{id}", s.handleGet)
	r.Get("/stats", s.handleStats)

	return handlers.CombinedLoggingHandler(access, r)
}

func (s *server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	h, err := s.es.Health(ctx)
	if err != nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: err.Error()})
		return
	}

	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "cluster": h.Status})
}

func (s *server) handleSearch(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	q := r.URL.Query()
	params := elasticsearch.SearchParams{
		Query:     strings.TrimSpace(q.Get("q")),
		Account:   strings.TrimSpace(q.Get("account")),
		Source:    strings.TrimSpace(q.Get("source")),
		CloseFrom: parseDate(q.Get("close_from")),
		CloseTo:   parseDate(q.Get("close_to")),
		From:      clampInt(q.Get("from"), 0, maxOffset),
		Size:      clampInt(q.Get("size"), s.cfg.DefaultPage, s.cfg.MaxPage),
		Sort:      strings.TrimSpace(q.Get("sort")),
	}

	result, err := s.es.SearchOpportunities(ctx, params)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, result)
}

func (s *server) handleGet(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	id := chi.URLParam(r, "id")
	if !processing.ValidID(id, processing.OpportunityPrefix) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: "not an opportunity id: " + id})
		return
	}

	doc, err := s.es.GetOpportunity(ctx, id)
	if err != nil {
		s.writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusOK, doc)
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	st, err := s.es.Status(ctx)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	resp := statsResponse{Index: st}
	if st.Exists {
		totals, err := s.es.Totals(ctx)
		if err != nil {
			s.writeError(w, r, err)
			return
		}
		resp.Totals = totals
	}

	writeJSON(w, http.StatusOK, resp)
}

func (s *server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		s.log.Error("request failed",
			slog.String("path", r.URL.Path),
			slog.String("request_id", middleware.GetReqID(r.Context())),
			slog.Any("err", err),
		)
	}
	writeJSON(w, status, errorResponse{Error: err.Error()})
}

func statusFor(err error) int {
	if errors.Is(err, elasticsearch.ErrInvalidSort) {
		return http.StatusBadRequest
	}
	switch failure.KindOf(err) {
	case failure.InvalidIdentifier:
		return http.StatusBadRequest
	case failure.NotFound:
		return http.StatusNotFound
	case failure.IndexUnavailable, failure.TransientError:
		return http.StatusServiceUnavailable
	case failure.AuthError:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

// parseDate accepts YYYY-MM-DD or RFC3339 and ignores anything else.
func parseDate(raw string) *time.Time {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	for _, layout := range []string{time.DateOnly, time.RFC3339} {
		if ts, err := time.Parse(layout, raw); err == nil {
			return &ts
		}
	}
	return nil
}

func clampInt(raw string, fallback, max int) int {
	if raw == "" {
		return fallback
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value <= 0 {
		return fallback
	}
	if value > max {
		return max
	}
	return value
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
