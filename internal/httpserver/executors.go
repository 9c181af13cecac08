package httpserver

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/Oofersky/executor-balancer/internal/models"
	"github.com/Oofersky/executor-balancer/internal/store"
)

const (
	defaultDailyLimit     = 10
	defaultExecutorWeight = 1.0
)

type executorBody struct {
	Name            string   `json:"name"`
	Email           string   `json:"email"`
	Role            string   `json:"role"`
	Status          string   `json:"status"`
	Skills          []string `json:"skills"`
	Languages       []string `json:"languages"`
	Timezone        string   `json:"timezone"`
	ExperienceYears int      `json:"experienceYears"`
	DailyLimit      *int     `json:"dailyLimit"`
	SuccessRate     float64  `json:"successRate"`
	Weight          *float64 `json:"weight"`
}

// toInput validates the payload. Absent dailyLimit defaults to 10; an
// explicit 0 means unbounded.
func (b executorBody) toInput() (store.ExecutorInput, error) {
	if strings.TrimSpace(b.Name) == "" {
		return store.ExecutorInput{}, fmt.Errorf("name is required")
	}
	role := models.Role(b.Role)
	if !role.Valid() {
		return store.ExecutorInput{}, fmt.Errorf("invalid role %q", b.Role)
	}
	status := models.ExecutorStatus(b.Status)
	if b.Status == "" {
		status = models.ExecutorActive
	} else if !status.Valid() {
		return store.ExecutorInput{}, fmt.Errorf("invalid status %q", b.Status)
	}
	if b.SuccessRate < 0 || b.SuccessRate > 1 {
		return store.ExecutorInput{}, fmt.Errorf("successRate must be between 0 and 1")
	}
	if b.ExperienceYears < 0 {
		return store.ExecutorInput{}, fmt.Errorf("experienceYears must be >= 0")
	}
	dailyLimit := defaultDailyLimit
	if b.DailyLimit != nil {
		if *b.DailyLimit < 0 {
			return store.ExecutorInput{}, fmt.Errorf("dailyLimit must be >= 0")
		}
		dailyLimit = *b.DailyLimit
	}
	weight := defaultExecutorWeight
	if b.Weight != nil {
		if *b.Weight < 0 || *b.Weight > 1 {
			return store.ExecutorInput{}, fmt.Errorf("weight must be between 0 and 1")
		}
		weight = *b.Weight
	}
	return store.ExecutorInput{
		Name:            strings.TrimSpace(b.Name),
		Email:           strings.TrimSpace(b.Email),
		Role:            role,
		Status:          status,
		Skills:          b.Skills,
		Languages:       b.Languages,
		Timezone:        strings.TrimSpace(b.Timezone),
		ExperienceYears: b.ExperienceYears,
		DailyLimit:      dailyLimit,
		SuccessRate:     b.SuccessRate,
		Weight:          weight,
	}, nil
}

func (s *Server) handleCreateExecutor(w http.ResponseWriter, r *http.Request) {
	var body executorBody
	if err := decodeJSON(w, r, &body); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	in, err := body.toInput()
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	executor, err := s.store.CreateExecutor(r.Context(), in)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	s.registry.Inc("executors_created_total", map[string]string{"role": string(executor.Role)})
	respondJSON(w, http.StatusCreated, executor)
}

func (s *Server) handleListExecutors(w http.ResponseWriter, r *http.Request) {
	executors, err := s.store.ListExecutors(r.Context(), store.ExecutorFilter{
		Role:   r.URL.Query().Get("role"),
		Status: r.URL.Query().Get("status"),
		Skill:  r.URL.Query().Get("skill"),
		Search: r.URL.Query().Get("q"),
		Limit:  queryInt(r, "limit"),
	})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"executors": executors,
		"count":     len(executors),
	})
}

func (s *Server) handleGetExecutor(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid id")
		return
	}
	executor, err := s.store.GetExecutor(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, executor)
}

func (s *Server) handleUpdateExecutor(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid id")
		return
	}
	var body executorBody
	if err := decodeJSON(w, r, &body); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	in, err := body.toInput()
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	executor, err := s.store.UpdateExecutor(r.Context(), id, in)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, executor)
}

func (s *Server) handleDeleteExecutor(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := s.store.DeleteExecutor(r.Context(), id); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
