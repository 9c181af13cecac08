package httpserver

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Oofersky/executor-balancer/internal/balancer"
	"github.com/Oofersky/executor-balancer/internal/models"
	"github.com/Oofersky/executor-balancer/internal/store"
)

const (
	defaultCategory      = "general"
	defaultRequestWeight = 1.0
)

type requestBody struct {
	Title              string     `json:"title"`
	Description        string     `json:"description"`
	Category           string     `json:"category"`
	Priority           string     `json:"priority"`
	Complexity         string     `json:"complexity"`
	RequiredSkills     []string   `json:"requiredSkills"`
	RequiredLanguages  []string   `json:"requiredLanguages"`
	TimezonePreference string     `json:"timezonePreference"`
	EstimatedHours     int        `json:"estimatedHours"`
	Weight             *float64   `json:"weight"`
	Deadline           *time.Time `json:"deadline"`

	// AutoAssign runs the assignment right after creation. Failure to
	// assign degrades to the pending request plus a warning.
	AutoAssign bool `json:"autoAssign"`
}

func (b requestBody) toInput() (store.RequestInput, error) {
	if strings.TrimSpace(b.Title) == "" {
		return store.RequestInput{}, fmt.Errorf("title is required")
	}
	priority := models.Priority(b.Priority)
	if b.Priority == "" {
		priority = models.PriorityMedium
	} else if !priority.Valid() {
		return store.RequestInput{}, fmt.Errorf("invalid priority %q", b.Priority)
	}
	complexity := models.Complexity(b.Complexity)
	if b.Complexity == "" {
		complexity = models.ComplexityMedium
	} else if !complexity.Valid() {
		return store.RequestInput{}, fmt.Errorf("invalid complexity %q", b.Complexity)
	}
	category := strings.TrimSpace(b.Category)
	if category == "" {
		category = defaultCategory
	}
	if b.EstimatedHours < 0 {
		return store.RequestInput{}, fmt.Errorf("estimatedHours must be >= 0")
	}
	weight := defaultRequestWeight
	if b.Weight != nil {
		if *b.Weight < 0 {
			return store.RequestInput{}, fmt.Errorf("weight must be >= 0")
		}
		weight = *b.Weight
	}
	return store.RequestInput{
		Title:              strings.TrimSpace(b.Title),
		Description:        b.Description,
		Category:           category,
		Priority:           priority,
		Complexity:         complexity,
		RequiredSkills:     b.RequiredSkills,
		RequiredLanguages:  b.RequiredLanguages,
		TimezonePreference: strings.TrimSpace(b.TimezonePreference),
		EstimatedHours:     b.EstimatedHours,
		Weight:             weight,
		Deadline:           b.Deadline,
	}, nil
}

func (s *Server) handleCreateRequest(w http.ResponseWriter, r *http.Request) {
	var body requestBody
	if err := decodeJSON(w, r, &body); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	in, err := body.toInput()
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	request, err := s.store.CreateRequest(r.Context(), in)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	s.registry.Inc("requests_created_total", map[string]string{"priority": string(request.Priority)})

	if !body.AutoAssign {
		respondJSON(w, http.StatusCreated, map[string]interface{}{"request": request})
		return
	}

	assignment, err := s.balancer.Assign(r.Context(), balancer.AssignInput{RequestID: request.ID})
	if err != nil {
		respondJSON(w, http.StatusCreated, map[string]interface{}{
			"request": request,
			"warning": err.Error(),
		})
		return
	}
	s.registry.Inc("assignments_total", map[string]string{"mode": "auto"})
	assigned, err := s.store.GetRequest(r.Context(), request.ID)
	if err != nil {
		assigned = request
	}
	respondJSON(w, http.StatusCreated, map[string]interface{}{
		"request":    assigned,
		"assignment": assignment,
	})
}

func (s *Server) handleListRequests(w http.ResponseWriter, r *http.Request) {
	requests, err := s.store.ListRequests(r.Context(), store.RequestFilter{
		Status:   r.URL.Query().Get("status"),
		Priority: r.URL.Query().Get("priority"),
		Category: r.URL.Query().Get("category"),
		Limit:    queryInt(r, "limit"),
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"requests": requests,
		"count":    len(requests),
	})
}

func (s *Server) handleGetRequest(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid id")
		return
	}
	request, err := s.store.GetRequest(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, request)
}

func (s *Server) handleUpdateRequest(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid id")
		return
	}
	var body requestBody
	if err := decodeJSON(w, r, &body); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	in, err := body.toInput()
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	request, err := s.store.UpdateRequest(r.Context(), id, in)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, request)
}

func (s *Server) handleDeleteRequest(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := s.store.DeleteRequest(r.Context(), id); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}

type assignBody struct {
	ExecutorID *uuid.UUID `json:"executorId"`
	Reassign   bool       `json:"reassign"`
}

func (s *Server) handleAssign(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid id")
		return
	}
	var body assignBody
	if r.ContentLength > 0 {
		if err := decodeJSON(w, r, &body); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	assignment, err := s.balancer.Assign(r.Context(), balancer.AssignInput{
		RequestID:  id,
		ExecutorID: body.ExecutorID,
		Reassign:   body.Reassign,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	mode := "auto"
	if body.ExecutorID != nil {
		mode = "manual"
	}
	s.registry.Inc("assignments_total", map[string]string{"mode": mode})
	respondJSON(w, http.StatusOK, assignment)
}

func (s *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid id")
		return
	}
	request, err := s.balancer.Start(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, request)
}

type completeBody struct {
	Success *bool `json:"success"`
}

func (s *Server) handleComplete(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid id")
		return
	}
	var body completeBody
	if r.ContentLength > 0 {
		if err := decodeJSON(w, r, &body); err != nil {
			respondError(w, http.StatusBadRequest, err.Error())
			return
		}
	}
	success := true
	if body.Success != nil {
		success = *body.Success
	}
	request, err := s.balancer.Complete(r.Context(), id, success)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	s.registry.Inc("requests_completed_total", map[string]string{"success": strconv.FormatBool(success)})
	respondJSON(w, http.StatusOK, request)
}

func (s *Server) handleCancel(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid id")
		return
	}
	request, err := s.balancer.Cancel(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, request)
}

func (s *Server) handleCandidates(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid id")
		return
	}
	candidates, err := s.balancer.Candidates(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"candidates": candidates,
		"count":      len(candidates),
	})
}

type assignFairBody struct {
	Title          string   `json:"title"`
	Description    string   `json:"description"`
	Category       string   `json:"category"`
	Priority       string   `json:"priority"`
	RequiredSkills []string `json:"requiredSkills"`
}

func (s *Server) handleAssignFair(w http.ResponseWriter, r *http.Request) {
	var body assignFairBody
	if err := decodeJSON(w, r, &body); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	if body.Priority != "" && !models.Priority(body.Priority).Valid() {
		respondError(w, http.StatusBadRequest, fmt.Sprintf("invalid priority %q", body.Priority))
		return
	}
	result, err := s.balancer.AssignFair(r.Context(), balancer.FairAssignInput{
		Title:          body.Title,
		Description:    body.Description,
		Category:       body.Category,
		Priority:       models.Priority(body.Priority),
		RequiredSkills: body.RequiredSkills,
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	s.registry.Inc("assignments_total", map[string]string{"mode": "fair"})
	respondJSON(w, http.StatusCreated, result)
}
