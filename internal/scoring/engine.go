package scoring

import (
	"fmt"
	"math"
	"strings"

	"github.com/Oofersky/executor-balancer/internal/models"
	"github.com/Oofersky/executor-balancer/internal/rules"
)

// Result is the auditable outcome of scoring one executor against one
// request. Reasons is ordered by factor evaluation order and is part of
// the API surface, not incidental logging.
type Result struct {
	FinalScore   float64  `json:"finalScore"`
	MatchPercent float64  `json:"matchPercent"`
	Reasons      []string `json:"reasons"`
}

type Engine struct {
	weights Weights
}

func NewEngine(w Weights) *Engine {
	if w.PriorityMultipliers == nil {
		w.PriorityMultipliers = DefaultWeights().PriorityMultipliers
	}
	return &Engine{weights: w}
}

// Categories outside this table (the original freeform "general" bucket
// included) accept any role rather than disqualifying.
var categoryRoles = map[string][]models.Role{
	"development":    {models.RoleProgrammer, models.RoleTester},
	"testing":        {models.RoleTester, models.RoleProgrammer},
	"support":        {models.RoleSupport, models.RoleModerator},
	"moderation":     {models.RoleModerator, models.RoleAdmin},
	"administration": {models.RoleAdmin, models.RoleManager},
	"design":         {models.RoleDesigner},
	"analytics":      {models.RoleAnalyst},
	"management":     {models.RoleManager, models.RoleAdmin},
}

func roleServes(role models.Role, category string) bool {
	serving, ok := categoryRoles[strings.ToLower(strings.TrimSpace(category))]
	if !ok {
		return true
	}
	for _, r := range serving {
		if r == role {
			return true
		}
	}
	return false
}

// Score computes the weighted additive match score for the pair. Each
// factor that contributes appends one reason, in factor order; matching
// rules adjust the score after the priority multiplier and append their
// names.
func (e *Engine) Score(req models.Request, ex models.Executor, ruleSet []models.Rule) Result {
	w := e.weights
	var sum float64
	reasons := make([]string, 0, 8)

	if roleServes(ex.Role, req.Category) {
		sum += w.Role
		reasons = append(reasons, fmt.Sprintf("Role %s fits category %s", ex.Role, displayCategory(req.Category)))
	}

	if len(req.RequiredSkills) == 0 {
		sum += w.Skills
		reasons = append(reasons, "No specific skills required")
	} else if overlap := overlapCount(req.RequiredSkills, ex.Skills); overlap > 0 {
		sum += w.Skills * float64(overlap) / float64(len(req.RequiredSkills))
		reasons = append(reasons, fmt.Sprintf("Skill match: %d/%d required skills", overlap, len(req.RequiredSkills)))
	}

	if len(req.RequiredLanguages) == 0 {
		sum += w.Language * 0.5
		reasons = append(reasons, "No language requirement")
	} else if coversAll(ex.Languages, req.RequiredLanguages) {
		sum += w.Language
		reasons = append(reasons, fmt.Sprintf("Covers all %d required languages", len(req.RequiredLanguages)))
	}

	if timezoneCompatible(req.TimezonePreference, ex.Timezone) {
		sum += w.Timezone
		reasons = append(reasons, "Timezone compatible")
	}

	if ex.Unbounded() {
		sum += w.Load
		reasons = append(reasons, "No daily limit")
	} else if free := 1 - float64(ex.CurrentLoad)/float64(ex.DailyLimit); free > 0 {
		sum += w.Load * free
		reasons = append(reasons, fmt.Sprintf("Capacity available: %d/%d slots free", ex.DailyLimit-ex.CurrentLoad, ex.DailyLimit))
	}

	if ex.SuccessRate > 0 {
		sum += w.Success * ex.SuccessRate
		reasons = append(reasons, fmt.Sprintf("Success rate %.0f%%", ex.SuccessRate*100))
	}

	if mult := w.multiplier(req.Priority); mult != 1.0 {
		sum *= mult
		reasons = append(reasons, fmt.Sprintf("Priority boost: %s x%.2f", req.Priority, mult))
	}

	for _, r := range rules.ActiveMatches(ruleSet, ex, req) {
		adj := r.Adjustment
		if adj == 0 {
			adj = w.RuleAdjustment
		}
		sum += adj
		reasons = append(reasons, fmt.Sprintf("Rule: %s", r.Name))
	}

	final := round2(sum)
	return Result{
		FinalScore:   final,
		MatchPercent: matchPercent(final, w),
		Reasons:      reasons,
	}
}

// Disqualified applies the hard filters: inactive status, exhausted daily
// limit, zero overlap with nonempty required skills. The reason string
// feeds skip logging, not the assignment audit trail.
func (e *Engine) Disqualified(req models.Request, ex models.Executor) (bool, string) {
	if ex.Status != models.ExecutorActive {
		return true, fmt.Sprintf("status %s", ex.Status)
	}
	if ex.AtCapacity() {
		return true, fmt.Sprintf("at daily limit %d", ex.DailyLimit)
	}
	if len(req.RequiredSkills) > 0 && overlapCount(req.RequiredSkills, ex.Skills) == 0 {
		return true, "no required skill overlap"
	}
	return false, ""
}

// Executors without a daily limit take the nominal capacity so the
// fairness arithmetic stays comparable.
const nominalCapacity = 10

// FairnessScore ranks executors for the fair-assign path: free slots
// weigh 0.5, success rate 0.3, total capacity 0.2.
func (e *Engine) FairnessScore(ex models.Executor) float64 {
	limit := ex.DailyLimit
	if ex.Unbounded() {
		limit = nominalCapacity
	}
	free := float64(limit - ex.CurrentLoad)
	return free*0.5 + ex.SuccessRate*0.3 + float64(limit)*0.2
}

func overlapCount(required, have []string) int {
	haveSet := make(map[string]struct{}, len(have))
	for _, s := range have {
		haveSet[strings.ToLower(strings.TrimSpace(s))] = struct{}{}
	}
	seen := make(map[string]struct{}, len(required))
	count := 0
	for _, s := range required {
		key := strings.ToLower(strings.TrimSpace(s))
		if key == "" {
			continue
		}
		if _, dup := seen[key]; dup {
			continue
		}
		seen[key] = struct{}{}
		if _, ok := haveSet[key]; ok {
			count++
		}
	}
	return count
}

func coversAll(have, required []string) bool {
	haveSet := make(map[string]struct{}, len(have))
	for _, s := range have {
		haveSet[strings.ToLower(strings.TrimSpace(s))] = struct{}{}
	}
	for _, s := range required {
		if _, ok := haveSet[strings.ToLower(strings.TrimSpace(s))]; !ok {
			return false
		}
	}
	return true
}

func timezoneCompatible(preference, timezone string) bool {
	pref := strings.TrimSpace(preference)
	if pref == "" || strings.EqualFold(pref, "any") {
		return true
	}
	return strings.EqualFold(pref, strings.TrimSpace(timezone))
}

func displayCategory(category string) string {
	c := strings.TrimSpace(category)
	if c == "" {
		return "general"
	}
	return c
}

func matchPercent(final float64, w Weights) float64 {
	max := w.maxBase() * w.maxMultiplier()
	if max <= 0 {
		return 0
	}
	pct := final / max * 100
	if pct < 0 {
		return 0
	}
	if pct > 100 {
		return 100
	}
	return round2(pct)
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}
