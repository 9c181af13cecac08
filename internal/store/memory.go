package store

import (
	"context"
	"encoding/json"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Oofersky/executor-balancer/internal/models"
)

// MemoryStore provides an in-memory implementation useful for tests and
// for running without Postgres.
type MemoryStore struct {
	mu          sync.RWMutex
	executors   map[uuid.UUID]models.Executor
	requests    map[uuid.UUID]models.Request
	ruleSet     map[uuid.UUID]models.Rule
	assignments map[uuid.UUID]models.Assignment
	events      map[uuid.UUID]models.OutcomeEvent
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		executors:   map[uuid.UUID]models.Executor{},
		requests:    map[uuid.UUID]models.Request{},
		ruleSet:     map[uuid.UUID]models.Rule{},
		assignments: map[uuid.UUID]models.Assignment{},
		events:      map[uuid.UUID]models.OutcomeEvent{},
	}
}

func copyStrings(items []string) []string {
	if items == nil {
		return []string{}
	}
	return append([]string(nil), items...)
}

func copyExecutor(e models.Executor) models.Executor {
	e.Skills = copyStrings(e.Skills)
	e.Languages = copyStrings(e.Languages)
	return e
}

func copyRequest(r models.Request) models.Request {
	r.RequiredSkills = copyStrings(r.RequiredSkills)
	r.RequiredLanguages = copyStrings(r.RequiredLanguages)
	if r.Deadline != nil {
		d := *r.Deadline
		r.Deadline = &d
	}
	if r.AssignedExecutorID != nil {
		id := *r.AssignedExecutorID
		r.AssignedExecutorID = &id
	}
	return r
}

func copyRule(r models.Rule) models.Rule {
	conditions := make([]models.RuleCondition, len(r.Conditions))
	for i, c := range r.Conditions {
		c.Value = append(json.RawMessage(nil), c.Value...)
		conditions[i] = c
	}
	r.Conditions = conditions
	return r
}

func copyAssignment(a models.Assignment) models.Assignment {
	a.Reasons = copyStrings(a.Reasons)
	return a
}

func (m *MemoryStore) CreateExecutor(ctx context.Context, in ExecutorInput) (models.Executor, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	now := time.Now().UTC()
	executor := models.Executor{
		ID:              in.ID,
		Name:            in.Name,
		Email:           in.Email,
		Role:            in.Role,
		Status:          in.Status,
		Skills:          copyStrings(in.Skills),
		Languages:       copyStrings(in.Languages),
		Timezone:        in.Timezone,
		ExperienceYears: in.ExperienceYears,
		DailyLimit:      in.DailyLimit,
		CurrentLoad:     0,
		SuccessRate:     in.SuccessRate,
		Weight:          in.Weight,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.executors[executor.ID] = executor
	return copyExecutor(executor), nil
}

func (m *MemoryStore) GetExecutor(ctx context.Context, id uuid.UUID) (models.Executor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	executor, ok := m.executors[id]
	if !ok {
		return models.Executor{}, ErrNotFound
	}
	return copyExecutor(executor), nil
}

func containsFold(items []string, want string) bool {
	for _, item := range items {
		if strings.EqualFold(item, want) {
			return true
		}
	}
	return false
}

func (m *MemoryStore) ListExecutors(ctx context.Context, filter ExecutorFilter) ([]models.Executor, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	executors := make([]models.Executor, 0, len(m.executors))
	for _, e := range m.executors {
		if filter.Role != "" && string(e.Role) != filter.Role {
			continue
		}
		if filter.Status != "" && string(e.Status) != filter.Status {
			continue
		}
		if filter.Skill != "" && !containsFold(e.Skills, filter.Skill) {
			continue
		}
		if filter.Search != "" {
			q := strings.ToLower(filter.Search)
			if !strings.Contains(strings.ToLower(e.Name), q) &&
				!strings.Contains(strings.ToLower(e.Email), q) {
				continue
			}
		}
		executors = append(executors, copyExecutor(e))
	}
	sort.Slice(executors, func(i, j int) bool {
		if !executors[i].CreatedAt.Equal(executors[j].CreatedAt) {
			return executors[i].CreatedAt.After(executors[j].CreatedAt)
		}
		return executors[i].ID.String() < executors[j].ID.String()
	})
	limit := normalizeLimit(filter.Limit)
	if len(executors) > limit {
		executors = executors[:limit]
	}
	return executors, nil
}

func (m *MemoryStore) UpdateExecutor(ctx context.Context, id uuid.UUID, in ExecutorInput) (models.Executor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	executor, ok := m.executors[id]
	if !ok {
		return models.Executor{}, ErrNotFound
	}
	executor.Name = in.Name
	executor.Email = in.Email
	executor.Role = in.Role
	executor.Status = in.Status
	executor.Skills = copyStrings(in.Skills)
	executor.Languages = copyStrings(in.Languages)
	executor.Timezone = in.Timezone
	executor.ExperienceYears = in.ExperienceYears
	executor.DailyLimit = in.DailyLimit
	executor.SuccessRate = in.SuccessRate
	executor.Weight = in.Weight
	executor.UpdatedAt = time.Now().UTC()
	m.executors[id] = executor
	return copyExecutor(executor), nil
}

func (m *MemoryStore) DeleteExecutor(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.executors[id]; !ok {
		return ErrNotFound
	}
	delete(m.executors, id)
	return nil
}

func (m *MemoryStore) AdjustExecutorLoad(ctx context.Context, id uuid.UUID, delta int, enforceLimit bool) (models.Executor, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	executor, ok := m.executors[id]
	if !ok {
		return models.Executor{}, ErrNotFound
	}
	if enforceLimit && delta > 0 && !executor.Unbounded() && executor.CurrentLoad+delta > executor.DailyLimit {
		return models.Executor{}, ErrCapacityExceeded
	}
	executor.CurrentLoad += delta
	if executor.CurrentLoad < 0 {
		executor.CurrentLoad = 0
	}
	executor.UpdatedAt = time.Now().UTC()
	m.executors[id] = executor
	return copyExecutor(executor), nil
}

func (m *MemoryStore) SetExecutorSuccessRate(ctx context.Context, id uuid.UUID, rate float64) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	executor, ok := m.executors[id]
	if !ok {
		return ErrNotFound
	}
	executor.SuccessRate = rate
	executor.UpdatedAt = time.Now().UTC()
	m.executors[id] = executor
	return nil
}

func (m *MemoryStore) CreateRequest(ctx context.Context, in RequestInput) (models.Request, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	now := time.Now().UTC()
	request := models.Request{
		ID:                 in.ID,
		Title:              in.Title,
		Description:        in.Description,
		Category:           in.Category,
		Priority:           in.Priority,
		Complexity:         in.Complexity,
		RequiredSkills:     copyStrings(in.RequiredSkills),
		RequiredLanguages:  copyStrings(in.RequiredLanguages),
		TimezonePreference: in.TimezonePreference,
		EstimatedHours:     in.EstimatedHours,
		Weight:             in.Weight,
		Status:             models.RequestPending,
		Deadline:           in.Deadline,
		CreatedAt:          now,
		UpdatedAt:          now,
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.requests[request.ID] = request
	return copyRequest(request), nil
}

func (m *MemoryStore) GetRequest(ctx context.Context, id uuid.UUID) (models.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	request, ok := m.requests[id]
	if !ok {
		return models.Request{}, ErrNotFound
	}
	return copyRequest(request), nil
}

func (m *MemoryStore) ListRequests(ctx context.Context, filter RequestFilter) ([]models.Request, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	requests := make([]models.Request, 0, len(m.requests))
	for _, r := range m.requests {
		if filter.Status != "" && string(r.Status) != filter.Status {
			continue
		}
		if filter.Priority != "" && string(r.Priority) != filter.Priority {
			continue
		}
		if filter.Category != "" && r.Category != filter.Category {
			continue
		}
		requests = append(requests, copyRequest(r))
	}
	sort.Slice(requests, func(i, j int) bool {
		if !requests[i].CreatedAt.Equal(requests[j].CreatedAt) {
			return requests[i].CreatedAt.After(requests[j].CreatedAt)
		}
		return requests[i].ID.String() < requests[j].ID.String()
	})
	limit := normalizeLimit(filter.Limit)
	if len(requests) > limit {
		requests = requests[:limit]
	}
	return requests, nil
}

func (m *MemoryStore) UpdateRequest(ctx context.Context, id uuid.UUID, in RequestInput) (models.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	request, ok := m.requests[id]
	if !ok {
		return models.Request{}, ErrNotFound
	}
	request.Title = in.Title
	request.Description = in.Description
	request.Category = in.Category
	request.Priority = in.Priority
	request.Complexity = in.Complexity
	request.RequiredSkills = copyStrings(in.RequiredSkills)
	request.RequiredLanguages = copyStrings(in.RequiredLanguages)
	request.TimezonePreference = in.TimezonePreference
	request.EstimatedHours = in.EstimatedHours
	request.Weight = in.Weight
	request.Deadline = in.Deadline
	request.UpdatedAt = time.Now().UTC()
	m.requests[id] = request
	return copyRequest(request), nil
}

func (m *MemoryStore) DeleteRequest(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.requests[id]; !ok {
		return ErrNotFound
	}
	delete(m.requests, id)
	return nil
}

func (m *MemoryStore) UpdateRequestStatus(ctx context.Context, id uuid.UUID, status models.RequestStatus, executorID *uuid.UUID) (models.Request, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	request, ok := m.requests[id]
	if !ok {
		return models.Request{}, ErrNotFound
	}
	request.Status = status
	if executorID != nil {
		eid := *executorID
		request.AssignedExecutorID = &eid
	} else {
		request.AssignedExecutorID = nil
	}
	request.UpdatedAt = time.Now().UTC()
	m.requests[id] = request
	return copyRequest(request), nil
}

func (m *MemoryStore) CreateRule(ctx context.Context, in RuleInput) (models.Rule, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	rule := models.Rule{
		ID:          in.ID,
		Name:        in.Name,
		Description: in.Description,
		Priority:    in.Priority,
		IsActive:    in.IsActive,
		Adjustment:  in.Adjustment,
		Conditions:  in.Conditions,
		CreatedAt:   time.Now().UTC(),
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ruleSet[rule.ID] = copyRule(rule)
	return copyRule(rule), nil
}

func (m *MemoryStore) GetRule(ctx context.Context, id uuid.UUID) (models.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	rule, ok := m.ruleSet[id]
	if !ok {
		return models.Rule{}, ErrNotFound
	}
	return copyRule(rule), nil
}

func (m *MemoryStore) ListRules(ctx context.Context, activeOnly bool) ([]models.Rule, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ruleSet := make([]models.Rule, 0, len(m.ruleSet))
	for _, r := range m.ruleSet {
		if activeOnly && !r.IsActive {
			continue
		}
		ruleSet = append(ruleSet, copyRule(r))
	}
	sort.Slice(ruleSet, func(i, j int) bool {
		if ruleSet[i].Priority != ruleSet[j].Priority {
			return ruleSet[i].Priority < ruleSet[j].Priority
		}
		if !ruleSet[i].CreatedAt.Equal(ruleSet[j].CreatedAt) {
			return ruleSet[i].CreatedAt.Before(ruleSet[j].CreatedAt)
		}
		return ruleSet[i].ID.String() < ruleSet[j].ID.String()
	})
	return ruleSet, nil
}

func (m *MemoryStore) UpdateRule(ctx context.Context, id uuid.UUID, in RuleInput) (models.Rule, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rule, ok := m.ruleSet[id]
	if !ok {
		return models.Rule{}, ErrNotFound
	}
	rule.Name = in.Name
	rule.Description = in.Description
	rule.Priority = in.Priority
	rule.IsActive = in.IsActive
	rule.Adjustment = in.Adjustment
	rule.Conditions = in.Conditions
	m.ruleSet[id] = copyRule(rule)
	return copyRule(rule), nil
}

func (m *MemoryStore) DeleteRule(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.ruleSet[id]; !ok {
		return ErrNotFound
	}
	delete(m.ruleSet, id)
	return nil
}

func (m *MemoryStore) InsertAssignment(ctx context.Context, in AssignmentInput) (models.Assignment, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	assignment := models.Assignment{
		ID:         in.ID,
		RequestID:  in.RequestID,
		ExecutorID: in.ExecutorID,
		MatchScore: in.MatchScore,
		FinalScore: in.FinalScore,
		Reasons:    copyStrings(in.Reasons),
		CreatedAt:  time.Now().UTC(),
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.assignments[assignment.ID] = assignment
	return copyAssignment(assignment), nil
}

func (m *MemoryStore) GetAssignment(ctx context.Context, id uuid.UUID) (models.Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	assignment, ok := m.assignments[id]
	if !ok {
		return models.Assignment{}, ErrNotFound
	}
	return copyAssignment(assignment), nil
}

func (m *MemoryStore) ListAssignments(ctx context.Context, filter AssignmentFilter) ([]models.Assignment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	assignments := make([]models.Assignment, 0, len(m.assignments))
	for _, a := range m.assignments {
		if filter.RequestID != nil && a.RequestID != *filter.RequestID {
			continue
		}
		if filter.ExecutorID != nil && a.ExecutorID != *filter.ExecutorID {
			continue
		}
		assignments = append(assignments, copyAssignment(a))
	}
	sort.Slice(assignments, func(i, j int) bool {
		if !assignments[i].CreatedAt.Equal(assignments[j].CreatedAt) {
			return assignments[i].CreatedAt.After(assignments[j].CreatedAt)
		}
		return assignments[i].ID.String() < assignments[j].ID.String()
	})
	limit := normalizeLimit(filter.Limit)
	if len(assignments) > limit {
		assignments = assignments[:limit]
	}
	return assignments, nil
}

func (m *MemoryStore) MarkAssignmentSuperseded(ctx context.Context, id uuid.UUID) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	assignment, ok := m.assignments[id]
	if !ok {
		return ErrNotFound
	}
	assignment.Superseded = true
	m.assignments[id] = assignment
	return nil
}

func (m *MemoryStore) InsertOutcomeEvent(ctx context.Context, in OutcomeEventInput) (models.OutcomeEvent, error) {
	if in.ID == uuid.Nil {
		in.ID = uuid.New()
	}
	event := models.OutcomeEvent{
		ID:           in.ID,
		EventType:    in.EventType,
		Payload:      ensurePayload(in.Payload),
		StreamStatus: models.StreamPending,
		CreatedAt:    time.Now().UTC(),
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events[event.ID] = event
	return event, nil
}

func (m *MemoryStore) FetchPendingOutcomeEvents(ctx context.Context, limit int) ([]models.OutcomeEvent, error) {
	if limit <= 0 {
		limit = 100
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	var events []models.OutcomeEvent
	for _, ev := range m.events {
		if ev.StreamStatus != models.StreamPending {
			continue
		}
		ev.Payload = append(json.RawMessage(nil), ev.Payload...)
		events = append(events, ev)
	}
	sort.Slice(events, func(i, j int) bool {
		if !events[i].CreatedAt.Equal(events[j].CreatedAt) {
			return events[i].CreatedAt.Before(events[j].CreatedAt)
		}
		return events[i].ID.String() < events[j].ID.String()
	})
	if len(events) > limit {
		events = events[:limit]
	}
	return events, nil
}

func (m *MemoryStore) MarkOutcomeEventResult(ctx context.Context, id uuid.UUID, status models.StreamStatus, archiveKey string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	event, ok := m.events[id]
	if !ok {
		return ErrNotFound
	}
	event.StreamStatus = status
	event.Attempts++
	if archiveKey != "" {
		event.ArchiveKey = archiveKey
	}
	m.events[id] = event
	return nil
}

func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}
