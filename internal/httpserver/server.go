// Package httpserver exposes the REST surface: executor, request, rule
// and assignment CRUD, the assignment operations, and the stats and
// metrics endpoints.
package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"

	"github.com/Oofersky/executor-balancer/internal/balancer"
	"github.com/Oofersky/executor-balancer/internal/stats"
	"github.com/Oofersky/executor-balancer/internal/store"
)

type Server struct {
	store     store.Store
	balancer  *balancer.Service
	collector *stats.Collector
	registry  *stats.Registry
}

func New(st store.Store, svc *balancer.Service, collector *stats.Collector, registry *stats.Registry) *Server {
	return &Server{store: st, balancer: svc, collector: collector, registry: registry}
}

func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(middleware.Timeout(30 * time.Second))

	r.Get("/health", s.handleHealth)

	r.Route("/api", func(r chi.Router) {
		r.Route("/executors", func(r chi.Router) {
			r.Post("/", s.handleCreateExecutor)
			r.Get("/", s.handleListExecutors)
			r.Get("/{id}", s.handleGetExecutor)
			r.Put("/{id}", s.handleUpdateExecutor)
			r.Delete("/{id}", s.handleDeleteExecutor)
		})

		r.Route("/requests", func(r chi.Router) {
			r.Post("/", s.handleCreateRequest)
			r.Get("/", s.handleListRequests)
			r.Get("/{id}", s.handleGetRequest)
			r.Put("/{id}", s.handleUpdateRequest)
			r.Delete("/{id}", s.handleDeleteRequest)
			r.Post("/{id}/assign", s.handleAssign)
			r.Post("/{id}/start", s.handleStart)
			r.Post("/{id}/complete", s.handleComplete)
			r.Post("/{id}/cancel", s.handleCancel)
			r.Get("/{id}/candidates", s.handleCandidates)
		})
		r.Post("/assign-fair", s.handleAssignFair)

		r.Route("/rules", func(r chi.Router) {
			r.Get("/fields", s.handleRuleFields)
			r.Post("/", s.handleCreateRule)
			r.Get("/", s.handleListRules)
			r.Get("/{id}", s.handleGetRule)
			r.Put("/{id}", s.handleUpdateRule)
			r.Delete("/{id}", s.handleDeleteRule)
		})

		r.Route("/assignments", func(r chi.Router) {
			r.Get("/", s.handleListAssignments)
			r.Get("/{id}", s.handleGetAssignment)
		})

		r.Get("/stats", s.handleStats)
		r.Get("/dashboard", s.handleDashboard)
		r.Get("/metrics/summary", s.handleMetricsSummary)
		r.Get("/metrics/realtime", s.handleMetricsRealtime)
	})

	return r
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	status := map[string]interface{}{
		"ok":      true,
		"service": "executor-balancer",
		"time":    time.Now().UTC(),
	}
	if err := s.store.Ping(ctx); err != nil {
		status["ok"] = false
		status["db"] = err.Error()
		respondJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	respondJSON(w, http.StatusOK, status)
}

func urlID(r *http.Request) (uuid.UUID, error) {
	return uuid.Parse(chi.URLParam(r, "id"))
}

func queryInt(r *http.Request, key string) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return 0
}

func queryBool(r *http.Request, key string) bool {
	if v := r.URL.Query().Get(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			return b
		}
	}
	return false
}

func decodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(v)
}

func respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func respondError(w http.ResponseWriter, status int, message string) {
	respondJSON(w, status, map[string]string{"error": message})
}

func respondConflict(w http.ResponseWriter, code string, err error) {
	respondJSON(w, http.StatusConflict, map[string]string{
		"error": err.Error(),
		"code":  code,
	})
}

// respondServiceError maps the sentinel errors of the store and balancer
// onto HTTP statuses; anything unrecognized is a 500.
func respondServiceError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		respondError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, balancer.ErrAlreadyAssigned):
		respondConflict(w, "already_assigned", err)
	case errors.Is(err, balancer.ErrInvalidTransition):
		respondConflict(w, "invalid_transition", err)
	case errors.Is(err, balancer.ErrNoEligibleExecutor):
		respondConflict(w, "no_eligible_executor", err)
	case errors.Is(err, store.ErrCapacityExceeded):
		respondConflict(w, "capacity_exceeded", err)
	default:
		respondError(w, http.StatusInternalServerError, err.Error())
	}
}
