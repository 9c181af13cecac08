package httpserver

import (
	"net/http"

	"github.com/google/uuid"

	"github.com/Oofersky/executor-balancer/internal/store"
)

func (s *Server) handleListAssignments(w http.ResponseWriter, r *http.Request) {
	filter := store.AssignmentFilter{Limit: queryInt(r, "limit")}
	if raw := r.URL.Query().Get("requestId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid requestId")
			return
		}
		filter.RequestID = &id
	}
	if raw := r.URL.Query().Get("executorId"); raw != "" {
		id, err := uuid.Parse(raw)
		if err != nil {
			respondError(w, http.StatusBadRequest, "invalid executorId")
			return
		}
		filter.ExecutorID = &id
	}
	assignments, err := s.store.ListAssignments(r.Context(), filter)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"assignments": assignments,
		"count":       len(assignments),
	})
}

func (s *Server) handleGetAssignment(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid id")
		return
	}
	assignment, err := s.store.GetAssignment(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, assignment)
}
