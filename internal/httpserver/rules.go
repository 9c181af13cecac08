package httpserver

import (
	"fmt"
	"net/http"
	"strings"

	"github.com/Oofersky/executor-balancer/internal/models"
	"github.com/Oofersky/executor-balancer/internal/rules"
	"github.com/Oofersky/executor-balancer/internal/store"
)

const defaultRuleAdjustment = 1.0

type ruleBody struct {
	Name        string                 `json:"name"`
	Description string                 `json:"description"`
	Priority    int                    `json:"priority"`
	IsActive    *bool                  `json:"isActive"`
	Adjustment  *float64               `json:"adjustment"`
	Conditions  []models.RuleCondition `json:"conditions"`
}

func (b ruleBody) toInput() (store.RuleInput, error) {
	name := strings.TrimSpace(b.Name)
	if name == "" {
		return store.RuleInput{}, fmt.Errorf("name is required")
	}
	active := true
	if b.IsActive != nil {
		active = *b.IsActive
	}
	adjustment := defaultRuleAdjustment
	if b.Adjustment != nil {
		adjustment = *b.Adjustment
	}
	in := store.RuleInput{
		Name:        name,
		Description: b.Description,
		Priority:    b.Priority,
		IsActive:    active,
		Adjustment:  adjustment,
		Conditions:  b.Conditions,
	}
	if err := rules.ValidateRule(models.Rule{
		Name:       in.Name,
		Priority:   in.Priority,
		IsActive:   in.IsActive,
		Adjustment: in.Adjustment,
		Conditions: in.Conditions,
	}); err != nil {
		return store.RuleInput{}, err
	}
	return in, nil
}

func (s *Server) handleRuleFields(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, map[string]interface{}{"fields": rules.Fields()})
}

func (s *Server) handleCreateRule(w http.ResponseWriter, r *http.Request) {
	var body ruleBody
	if err := decodeJSON(w, r, &body); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	in, err := body.toInput()
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	rule, err := s.store.CreateRule(r.Context(), in)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusCreated, rule)
}

func (s *Server) handleListRules(w http.ResponseWriter, r *http.Request) {
	ruleSet, err := s.store.ListRules(r.Context(), queryBool(r, "activeOnly"))
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"rules": ruleSet,
		"count": len(ruleSet),
	})
}

func (s *Server) handleGetRule(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid id")
		return
	}
	rule, err := s.store.GetRule(r.Context(), id)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

func (s *Server) handleUpdateRule(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid id")
		return
	}
	var body ruleBody
	if err := decodeJSON(w, r, &body); err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	in, err := body.toInput()
	if err != nil {
		respondError(w, http.StatusBadRequest, err.Error())
		return
	}
	rule, err := s.store.UpdateRule(r.Context(), id, in)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, rule)
}

func (s *Server) handleDeleteRule(w http.ResponseWriter, r *http.Request) {
	id, err := urlID(r)
	if err != nil {
		respondError(w, http.StatusBadRequest, "invalid id")
		return
	}
	if err := s.store.DeleteRule(r.Context(), id); err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]bool{"ok": true})
}
