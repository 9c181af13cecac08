package rules

import (
	"sort"

	"github.com/Oofersky/executor-balancer/internal/models"
)

type EntityKind string

const (
	EntityExecutor EntityKind = "executor"
	EntityRequest  EntityKind = "request"
)

type ValueType string

const (
	TypeString    ValueType = "string"
	TypeNumber    ValueType = "number"
	TypeStringSet ValueType = "string_set"
)

// FieldSpec is one entry of the closed rule-field enumeration. Conditions
// may only reference fields listed here; the owning entity and value type
// are fixed at registration, so a stored rule never has to guess either.
type FieldSpec struct {
	Entity EntityKind `json:"entity"`
	Name   string     `json:"name"`
	Type   ValueType  `json:"type"`
}

// Bare names resolve to the executor where both entities carry the same
// attribute (weight, status); the request-side twins get a request_ prefix.
var fieldRegistry = map[string]FieldSpec{
	"role":             {EntityExecutor, "role", TypeString},
	"skills":           {EntityExecutor, "skills", TypeStringSet},
	"languages":        {EntityExecutor, "languages", TypeStringSet},
	"timezone":         {EntityExecutor, "timezone", TypeString},
	"experience_years": {EntityExecutor, "experience_years", TypeNumber},
	"status":           {EntityExecutor, "status", TypeString},
	"daily_limit":      {EntityExecutor, "daily_limit", TypeNumber},
	"current_load":     {EntityExecutor, "current_load", TypeNumber},
	"success_rate":     {EntityExecutor, "success_rate", TypeNumber},
	"weight":           {EntityExecutor, "weight", TypeNumber},

	"category":            {EntityRequest, "category", TypeString},
	"priority":            {EntityRequest, "priority", TypeString},
	"complexity":          {EntityRequest, "complexity", TypeString},
	"required_skills":     {EntityRequest, "required_skills", TypeStringSet},
	"required_languages":  {EntityRequest, "required_languages", TypeStringSet},
	"timezone_preference": {EntityRequest, "timezone_preference", TypeString},
	"estimated_hours":     {EntityRequest, "estimated_hours", TypeNumber},
	"request_weight":      {EntityRequest, "request_weight", TypeNumber},
	"request_status":      {EntityRequest, "request_status", TypeString},
}

var allowedOps = map[ValueType][]models.Operator{
	TypeString: {models.OpEquals, models.OpNotEquals, models.OpContains, models.OpIn, models.OpNotIn},
	TypeNumber: {models.OpEquals, models.OpNotEquals, models.OpGreaterThan, models.OpLessThan,
		models.OpGreaterThanOrEqual, models.OpLessThanOrEqual, models.OpIn, models.OpNotIn},
	TypeStringSet: {models.OpContains},
}

func LookupField(name string) (FieldSpec, bool) {
	spec, ok := fieldRegistry[name]
	return spec, ok
}

func operatorAllowed(t ValueType, op models.Operator) bool {
	for _, allowed := range allowedOps[t] {
		if allowed == op {
			return true
		}
	}
	return false
}

// Fields returns the registry sorted by entity then name, for surfacing to
// rule-building clients.
func Fields() []FieldSpec {
	out := make([]FieldSpec, 0, len(fieldRegistry))
	for _, spec := range fieldRegistry {
		out = append(out, spec)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Entity != out[j].Entity {
			return out[i].Entity < out[j].Entity
		}
		return out[i].Name < out[j].Name
	})
	return out
}

type fieldValue struct {
	kind ValueType
	str  string
	num  float64
	set  []string
}

func resolveField(spec FieldSpec, executor models.Executor, request models.Request) fieldValue {
	switch spec.Name {
	case "role":
		return fieldValue{kind: TypeString, str: string(executor.Role)}
	case "skills":
		return fieldValue{kind: TypeStringSet, set: executor.Skills}
	case "languages":
		return fieldValue{kind: TypeStringSet, set: executor.Languages}
	case "timezone":
		return fieldValue{kind: TypeString, str: executor.Timezone}
	case "experience_years":
		return fieldValue{kind: TypeNumber, num: float64(executor.ExperienceYears)}
	case "status":
		return fieldValue{kind: TypeString, str: string(executor.Status)}
	case "daily_limit":
		return fieldValue{kind: TypeNumber, num: float64(executor.DailyLimit)}
	case "current_load":
		return fieldValue{kind: TypeNumber, num: float64(executor.CurrentLoad)}
	case "success_rate":
		return fieldValue{kind: TypeNumber, num: executor.SuccessRate}
	case "weight":
		return fieldValue{kind: TypeNumber, num: executor.Weight}
	case "category":
		return fieldValue{kind: TypeString, str: request.Category}
	case "priority":
		return fieldValue{kind: TypeString, str: string(request.Priority)}
	case "complexity":
		return fieldValue{kind: TypeString, str: string(request.Complexity)}
	case "required_skills":
		return fieldValue{kind: TypeStringSet, set: request.RequiredSkills}
	case "required_languages":
		return fieldValue{kind: TypeStringSet, set: request.RequiredLanguages}
	case "timezone_preference":
		return fieldValue{kind: TypeString, str: request.TimezonePreference}
	case "estimated_hours":
		return fieldValue{kind: TypeNumber, num: float64(request.EstimatedHours)}
	case "request_weight":
		return fieldValue{kind: TypeNumber, num: request.Weight}
	case "request_status":
		return fieldValue{kind: TypeString, str: string(request.Status)}
	}
	return fieldValue{}
}
