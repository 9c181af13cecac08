package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

type Executor struct {
	ID              uuid.UUID      `json:"id"`
	Name            string         `json:"name"`
	Email           string         `json:"email,omitempty"`
	Role            Role           `json:"role"`
	Status          ExecutorStatus `json:"status"`
	Skills          []string       `json:"skills"`
	Languages       []string       `json:"languages"`
	Timezone        string         `json:"timezone,omitempty"`
	ExperienceYears int            `json:"experienceYears"`
	DailyLimit      int            `json:"dailyLimit"`
	CurrentLoad     int            `json:"currentLoad"`
	SuccessRate     float64        `json:"successRate"`
	Weight          float64        `json:"weight"`
	CreatedAt       time.Time      `json:"createdAt"`
	UpdatedAt       time.Time      `json:"updatedAt"`
}

// Unbounded reports whether the executor has no daily assignment cap.
func (e Executor) Unbounded() bool {
	return e.DailyLimit <= 0
}

func (e Executor) AtCapacity() bool {
	return !e.Unbounded() && e.CurrentLoad >= e.DailyLimit
}

type Request struct {
	ID                 uuid.UUID     `json:"id"`
	Title              string        `json:"title"`
	Description        string        `json:"description"`
	Category           string        `json:"category"`
	Priority           Priority      `json:"priority"`
	Complexity         Complexity    `json:"complexity"`
	RequiredSkills     []string      `json:"requiredSkills"`
	RequiredLanguages  []string      `json:"requiredLanguages"`
	TimezonePreference string        `json:"timezonePreference,omitempty"`
	EstimatedHours     int           `json:"estimatedHours,omitempty"`
	Weight             float64       `json:"weight"`
	Status             RequestStatus `json:"status"`
	Deadline           *time.Time    `json:"deadline,omitempty"`
	AssignedExecutorID *uuid.UUID    `json:"assignedExecutorId,omitempty"`
	CreatedAt          time.Time     `json:"createdAt"`
	UpdatedAt          time.Time     `json:"updatedAt"`
}

type RuleCondition struct {
	Field    string          `json:"field"`
	Operator Operator        `json:"operator"`
	Value    json.RawMessage `json:"value"`
}

type Rule struct {
	ID          uuid.UUID       `json:"id"`
	Name        string          `json:"name"`
	Description string          `json:"description,omitempty"`
	Priority    int             `json:"priority"`
	IsActive    bool            `json:"isActive"`
	Adjustment  float64         `json:"adjustment"`
	Conditions  []RuleCondition `json:"conditions"`
	CreatedAt   time.Time       `json:"createdAt"`
}

type Assignment struct {
	ID         uuid.UUID `json:"id"`
	RequestID  uuid.UUID `json:"requestId"`
	ExecutorID uuid.UUID `json:"executorId"`
	MatchScore float64   `json:"matchScore"`
	FinalScore float64   `json:"finalScore"`
	Reasons    []string  `json:"reasons"`
	Superseded bool      `json:"superseded"`
	CreatedAt  time.Time `json:"createdAt"`
}

type OutcomeEvent struct {
	ID           uuid.UUID       `json:"id"`
	EventType    string          `json:"eventType"`
	Payload      json.RawMessage `json:"payload"`
	StreamStatus StreamStatus    `json:"streamStatus"`
	Attempts     int             `json:"attempts"`
	ArchiveKey   string          `json:"archiveKey,omitempty"`
	CreatedAt    time.Time       `json:"createdAt"`
}
