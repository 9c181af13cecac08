package scoring

import (
	"sort"

	"github.com/Oofersky/executor-balancer/internal/models"
)

// Candidate is one ranked entry: the executor snapshot it was scored
// against plus the audit trail. Rank starts at 1.
type Candidate struct {
	Executor     models.Executor `json:"executor"`
	FinalScore   float64         `json:"finalScore"`
	MatchPercent float64         `json:"matchPercent"`
	Reasons      []string        `json:"reasons"`
	Rank         int             `json:"rank"`
}

// Rank filters out disqualified executors, scores the rest and orders
// them: final score descending, then executor weight descending, then
// current load ascending, then id for determinism. An empty result means
// no eligible executor, not an error.
func (e *Engine) Rank(req models.Request, executors []models.Executor, ruleSet []models.Rule) []Candidate {
	out := make([]Candidate, 0, len(executors))
	for _, ex := range executors {
		if disqualified, _ := e.Disqualified(req, ex); disqualified {
			continue
		}
		res := e.Score(req, ex, ruleSet)
		out = append(out, Candidate{
			Executor:     ex,
			FinalScore:   res.FinalScore,
			MatchPercent: res.MatchPercent,
			Reasons:      res.Reasons,
		})
	}
	sort.SliceStable(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.FinalScore != b.FinalScore {
			return a.FinalScore > b.FinalScore
		}
		if a.Executor.Weight != b.Executor.Weight {
			return a.Executor.Weight > b.Executor.Weight
		}
		if a.Executor.CurrentLoad != b.Executor.CurrentLoad {
			return a.Executor.CurrentLoad < b.Executor.CurrentLoad
		}
		return a.Executor.ID.String() < b.Executor.ID.String()
	})
	for i := range out {
		out[i].Rank = i + 1
	}
	return out
}
