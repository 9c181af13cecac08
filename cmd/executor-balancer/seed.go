package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/Oofersky/executor-balancer/internal/models"
	"github.com/Oofersky/executor-balancer/internal/store"
)

// seed loads a small demo data set so the API has something to assign
// right after startup.
func seed(ctx context.Context, st store.Store) error {
	executors := []store.ExecutorInput{
		{
			Name:            "Ada Lovelace",
			Email:           "ada@example.com",
			Role:            models.RoleProgrammer,
			Status:          models.ExecutorActive,
			Skills:          []string{"go", "postgresql", "kafka"},
			Languages:       []string{"en"},
			Timezone:        "UTC",
			ExperienceYears: 8,
			DailyLimit:      10,
			SuccessRate:     0.92,
			Weight:          0.9,
		},
		{
			Name:            "Grace Hopper",
			Email:           "grace@example.com",
			Role:            models.RoleProgrammer,
			Status:          models.ExecutorActive,
			Skills:          []string{"go", "compilers"},
			Languages:       []string{"en"},
			Timezone:        "America/New_York",
			ExperienceYears: 12,
			DailyLimit:      8,
			SuccessRate:     0.88,
			Weight:          1.0,
		},
		{
			Name:            "Mary Jackson",
			Email:           "mary@example.com",
			Role:            models.RoleSupport,
			Status:          models.ExecutorActive,
			Skills:          []string{"email", "triage"},
			Languages:       []string{"en", "es"},
			Timezone:        "America/Chicago",
			ExperienceYears: 5,
			DailyLimit:      15,
			SuccessRate:     0.95,
			Weight:          1.0,
		},
		{
			Name:            "Katherine Johnson",
			Email:           "katherine@example.com",
			Role:            models.RoleAnalyst,
			Status:          models.ExecutorActive,
			Skills:          []string{"sql", "reporting"},
			Languages:       []string{"en"},
			Timezone:        "UTC",
			ExperienceYears: 10,
			DailyLimit:      0,
			SuccessRate:     0.9,
			Weight:          0.85,
		},
	}
	for _, in := range executors {
		if _, err := st.CreateExecutor(ctx, in); err != nil {
			return fmt.Errorf("seed executor %s: %w", in.Name, err)
		}
	}

	requests := []store.RequestInput{
		{
			Title:          "Migrate billing schema",
			Description:    "Apply the new invoice partitioning migration.",
			Category:       "development",
			Priority:       models.PriorityHigh,
			Complexity:     models.ComplexityHigh,
			RequiredSkills: []string{"go", "postgresql"},
			EstimatedHours: 6,
			Weight:         2.0,
		},
		{
			Title:          "Customer ticket backlog",
			Description:    "Work through the weekend support queue.",
			Category:       "support",
			Priority:       models.PriorityMedium,
			Complexity:     models.ComplexityLow,
			RequiredSkills: []string{"email"},
			EstimatedHours: 3,
			Weight:         1.0,
		},
		{
			Title:          "Quarterly usage report",
			Description:    "Aggregate per-tenant usage for Q3.",
			Category:       "analytics",
			Priority:       models.PriorityLow,
			Complexity:     models.ComplexityMedium,
			RequiredSkills: []string{"sql"},
			EstimatedHours: 4,
			Weight:         1.0,
		},
	}
	for _, in := range requests {
		if _, err := st.CreateRequest(ctx, in); err != nil {
			return fmt.Errorf("seed request %s: %w", in.Title, err)
		}
	}

	rules := []store.RuleInput{
		{
			Name:        "Critical boost",
			Description: "Prefer proven executors for critical work.",
			Priority:    1,
			IsActive:    true,
			Adjustment:  1.5,
			Conditions: []models.RuleCondition{
				{Field: "priority", Operator: models.OpEquals, Value: json.RawMessage(`"critical"`)},
				{Field: "success_rate", Operator: models.OpGreaterThanOrEqual, Value: json.RawMessage(`0.8`)},
			},
		},
		{
			Name:        "Protect overloaded seniors",
			Description: "Dampen heavy requests landing on already busy executors.",
			Priority:    2,
			IsActive:    true,
			Adjustment:  0.7,
			Conditions: []models.RuleCondition{
				{Field: "current_load", Operator: models.OpGreaterThanOrEqual, Value: json.RawMessage(`5`)},
				{Field: "request_weight", Operator: models.OpGreaterThan, Value: json.RawMessage(`1.5`)},
			},
		},
	}
	for _, in := range rules {
		if _, err := st.CreateRule(ctx, in); err != nil {
			return fmt.Errorf("seed rule %s: %w", in.Name, err)
		}
	}
	return nil
}
