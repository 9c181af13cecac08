package scoring

import "github.com/Oofersky/executor-balancer/internal/models"

// Weights configures the additive scoring model. Every factor weight is
// the score contribution at full credit; the priority multiplier scales
// the summed base score, and rule adjustments land after it.
type Weights struct {
	Role     float64 `json:"role"`
	Skills   float64 `json:"skills"`
	Language float64 `json:"language"`
	Timezone float64 `json:"timezone"`
	Load     float64 `json:"load"`
	Success  float64 `json:"success"`

	// RuleAdjustment is the delta applied for a matching rule that does
	// not carry its own adjustment value.
	RuleAdjustment float64 `json:"ruleAdjustment"`

	PriorityMultipliers map[models.Priority]float64 `json:"priorityMultipliers"`
}

func DefaultWeights() Weights {
	return Weights{
		Role:           2.0,
		Skills:         3.0,
		Language:       1.0,
		Timezone:       0.5,
		Load:           2.0,
		Success:        2.0,
		RuleAdjustment: 1.0,
		PriorityMultipliers: map[models.Priority]float64{
			models.PriorityLow:      1.0,
			models.PriorityMedium:   1.1,
			models.PriorityHigh:     1.25,
			models.PriorityCritical: 1.5,
		},
	}
}

func (w Weights) multiplier(p models.Priority) float64 {
	if m, ok := w.PriorityMultipliers[p]; ok && m > 0 {
		return m
	}
	return 1.0
}

func (w Weights) maxBase() float64 {
	return w.Role + w.Skills + w.Language + w.Timezone + w.Load + w.Success
}

func (w Weights) maxMultiplier() float64 {
	max := 1.0
	for _, m := range w.PriorityMultipliers {
		if m > max {
			max = m
		}
	}
	return max
}
