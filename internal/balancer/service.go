// Package balancer coordinates assignments: it picks an executor for a
// request (ranked, manual, or fair), commits the paired state change, and
// appends the outcome event consumed by the streaming sink.
package balancer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/Oofersky/executor-balancer/internal/models"
	"github.com/Oofersky/executor-balancer/internal/scoring"
	"github.com/Oofersky/executor-balancer/internal/store"
)

var (
	// ErrNoEligibleExecutor means every candidate fell to the hard
	// filters. Recoverable: broaden the request or queue it.
	ErrNoEligibleExecutor = errors.New("no eligible executor")

	// ErrAlreadyAssigned guards idempotency; pass Reassign to supersede.
	ErrAlreadyAssigned = errors.New("request already assigned")

	ErrInvalidTransition = errors.New("invalid request status transition")
)

// SuccessRateFunc folds one completed outcome into an executor's success
// rate. The engine exposes the hook and does not mandate the formula.
type SuccessRateFunc func(prev float64, succeeded bool) float64

const defaultRateAlpha = 0.2

// DefaultSuccessRate is an exponential moving average with alpha 0.2.
func DefaultSuccessRate(prev float64, succeeded bool) float64 {
	outcome := 0.0
	if succeeded {
		outcome = 1.0
	}
	next := defaultRateAlpha*outcome + (1-defaultRateAlpha)*prev
	if next < 0 {
		return 0
	}
	if next > 1 {
		return 1
	}
	return next
}

// The ranking pool is a point-in-time snapshot; the store caps listing
// at this size anyway.
const rankPoolLimit = 500

type Service struct {
	store  store.Store
	engine *scoring.Engine
	rateFn SuccessRateFunc

	mu    sync.Mutex
	locks map[uuid.UUID]*sync.Mutex
}

func New(st store.Store, engine *scoring.Engine, rateFn SuccessRateFunc) *Service {
	if rateFn == nil {
		rateFn = DefaultSuccessRate
	}
	return &Service{
		store:  st,
		engine: engine,
		rateFn: rateFn,
		locks:  map[uuid.UUID]*sync.Mutex{},
	}
}

// executorLock serializes the read-check-increment sequence per executor
// id. Ranking runs outside the lock; only the commit needs exclusivity.
func (s *Service) executorLock(id uuid.UUID) *sync.Mutex {
	s.mu.Lock()
	defer s.mu.Unlock()
	l, ok := s.locks[id]
	if !ok {
		l = &sync.Mutex{}
		s.locks[id] = l
	}
	return l
}

type AssignInput struct {
	RequestID uuid.UUID

	// ExecutorID forces a manual assignment that bypasses the hard
	// filters; the audit score is still computed.
	ExecutorID *uuid.UUID

	// Reassign permits assigning an already-assigned request; the prior
	// executor is released and the prior assignment superseded.
	Reassign bool
}

func (s *Service) Assign(ctx context.Context, in AssignInput) (models.Assignment, error) {
	req, err := s.store.GetRequest(ctx, in.RequestID)
	if err != nil {
		return models.Assignment{}, err
	}
	switch req.Status {
	case models.RequestPending:
	case models.RequestAssigned:
		if !in.Reassign {
			return models.Assignment{}, ErrAlreadyAssigned
		}
	default:
		return models.Assignment{}, fmt.Errorf("%w: cannot assign %s request", ErrInvalidTransition, req.Status)
	}

	ruleSet, err := s.store.ListRules(ctx, true)
	if err != nil {
		return models.Assignment{}, err
	}

	var (
		executor models.Executor
		result   scoring.Result
		manual   bool
	)
	if in.ExecutorID != nil {
		manual = true
		executor, err = s.store.GetExecutor(ctx, *in.ExecutorID)
		if err != nil {
			return models.Assignment{}, err
		}
		result = s.engine.Score(req, executor, ruleSet)
	} else {
		ranked, err := s.rank(ctx, req, ruleSet)
		if err != nil {
			return models.Assignment{}, err
		}
		if len(ranked) == 0 {
			return models.Assignment{}, ErrNoEligibleExecutor
		}
		top := ranked[0]
		executor = top.Executor
		result = scoring.Result{
			FinalScore:   top.FinalScore,
			MatchPercent: top.MatchPercent,
			Reasons:      top.Reasons,
		}
	}

	if req.Status == models.RequestAssigned {
		if err := s.release(ctx, req); err != nil {
			return models.Assignment{}, err
		}
	}

	return s.commit(ctx, req, executor, result, manual)
}

// release undoes the current assignment of a request ahead of a
// reassignment: prior executor load -1, prior assignment superseded.
func (s *Service) release(ctx context.Context, req models.Request) error {
	if req.AssignedExecutorID != nil {
		prior := *req.AssignedExecutorID
		lock := s.executorLock(prior)
		lock.Lock()
		_, err := s.store.AdjustExecutorLoad(ctx, prior, -1, false)
		lock.Unlock()
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return fmt.Errorf("release prior executor: %w", err)
		}
	}

	existing, err := s.store.ListAssignments(ctx, store.AssignmentFilter{RequestID: &req.ID})
	if err != nil {
		return err
	}
	for _, a := range existing {
		if a.Superseded {
			continue
		}
		if err := s.store.MarkAssignmentSuperseded(ctx, a.ID); err != nil {
			return err
		}
		s.recordEvent(ctx, models.EventAssignmentSuperseded, assignmentEvent{
			AssignmentID: a.ID,
			RequestID:    a.RequestID,
			ExecutorID:   a.ExecutorID,
			FinalScore:   a.FinalScore,
			MatchScore:   a.MatchScore,
		})
	}
	return nil
}

// commit applies the paired mutation: executor load +1, request to
// assigned, assignment row, outcome event. Failures after the increment
// roll the earlier steps back so the pair moves together or not at all.
func (s *Service) commit(ctx context.Context, req models.Request, executor models.Executor, result scoring.Result, manual bool) (models.Assignment, error) {
	lock := s.executorLock(executor.ID)
	lock.Lock()
	defer lock.Unlock()

	reasons := result.Reasons
	if manual {
		reasons = append(reasons, "Manually overridden")
		if executor.AtCapacity() {
			reasons = append(reasons, fmt.Sprintf("Capacity warning: executor over daily limit %d", executor.DailyLimit))
			log.Printf("[balancer] %v: manual assignment of request %s to executor %s past limit %d",
				store.ErrCapacityExceeded, req.ID, executor.ID, executor.DailyLimit)
		}
	}

	if _, err := s.store.AdjustExecutorLoad(ctx, executor.ID, 1, !manual); err != nil {
		return models.Assignment{}, err
	}
	if _, err := s.store.UpdateRequestStatus(ctx, req.ID, models.RequestAssigned, &executor.ID); err != nil {
		_, _ = s.store.AdjustExecutorLoad(ctx, executor.ID, -1, false)
		return models.Assignment{}, err
	}
	assignment, err := s.store.InsertAssignment(ctx, store.AssignmentInput{
		RequestID:  req.ID,
		ExecutorID: executor.ID,
		MatchScore: result.MatchPercent,
		FinalScore: result.FinalScore,
		Reasons:    reasons,
	})
	if err != nil {
		_, _ = s.store.UpdateRequestStatus(ctx, req.ID, req.Status, req.AssignedExecutorID)
		_, _ = s.store.AdjustExecutorLoad(ctx, executor.ID, -1, false)
		return models.Assignment{}, err
	}

	s.recordEvent(ctx, models.EventAssignmentCreated, assignmentEvent{
		AssignmentID: assignment.ID,
		RequestID:    assignment.RequestID,
		ExecutorID:   assignment.ExecutorID,
		FinalScore:   assignment.FinalScore,
		MatchScore:   assignment.MatchScore,
		Manual:       manual,
	})
	return assignment, nil
}

// Candidates returns the ranked preview for a request without mutating
// anything.
func (s *Service) Candidates(ctx context.Context, requestID uuid.UUID) ([]scoring.Candidate, error) {
	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return nil, err
	}
	ruleSet, err := s.store.ListRules(ctx, true)
	if err != nil {
		return nil, err
	}
	return s.rank(ctx, req, ruleSet)
}

func (s *Service) rank(ctx context.Context, req models.Request, ruleSet []models.Rule) ([]scoring.Candidate, error) {
	executors, err := s.store.ListExecutors(ctx, store.ExecutorFilter{
		Status: string(models.ExecutorActive),
		Limit:  rankPoolLimit,
	})
	if err != nil {
		return nil, err
	}
	return s.engine.Rank(req, executors, ruleSet), nil
}

func (s *Service) Start(ctx context.Context, requestID uuid.UUID) (models.Request, error) {
	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return models.Request{}, err
	}
	if !req.Status.CanTransition(models.RequestInProgress) {
		return models.Request{}, fmt.Errorf("%w: %s -> in_progress", ErrInvalidTransition, req.Status)
	}
	return s.store.UpdateRequestStatus(ctx, requestID, models.RequestInProgress, req.AssignedExecutorID)
}

// Complete moves the request to completed, returns the executor's slot
// and folds the outcome into its success rate.
func (s *Service) Complete(ctx context.Context, requestID uuid.UUID, succeeded bool) (models.Request, error) {
	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return models.Request{}, err
	}
	if !req.Status.CanTransition(models.RequestCompleted) {
		return models.Request{}, fmt.Errorf("%w: %s -> completed", ErrInvalidTransition, req.Status)
	}
	updated, err := s.store.UpdateRequestStatus(ctx, requestID, models.RequestCompleted, req.AssignedExecutorID)
	if err != nil {
		return models.Request{}, err
	}
	if req.AssignedExecutorID != nil {
		s.settleExecutor(ctx, *req.AssignedExecutorID, &succeeded)
	}
	s.recordEvent(ctx, models.EventRequestCompleted, requestEvent{
		RequestID:  req.ID,
		ExecutorID: req.AssignedExecutorID,
		Status:     string(models.RequestCompleted),
		Success:    &succeeded,
	})
	return updated, nil
}

// Cancel moves the request to cancelled from any non-terminal status and
// releases the executor's slot when one was assigned.
func (s *Service) Cancel(ctx context.Context, requestID uuid.UUID) (models.Request, error) {
	req, err := s.store.GetRequest(ctx, requestID)
	if err != nil {
		return models.Request{}, err
	}
	if !req.Status.CanTransition(models.RequestCancelled) {
		return models.Request{}, fmt.Errorf("%w: %s -> cancelled", ErrInvalidTransition, req.Status)
	}
	updated, err := s.store.UpdateRequestStatus(ctx, requestID, models.RequestCancelled, req.AssignedExecutorID)
	if err != nil {
		return models.Request{}, err
	}
	if req.Status != models.RequestPending && req.AssignedExecutorID != nil {
		s.settleExecutor(ctx, *req.AssignedExecutorID, nil)
	}
	s.recordEvent(ctx, models.EventRequestCancelled, requestEvent{
		RequestID:  req.ID,
		ExecutorID: req.AssignedExecutorID,
		Status:     string(models.RequestCancelled),
	})
	return updated, nil
}

// settleExecutor releases one load slot and, when outcome is non-nil,
// updates the success rate through the configured hook.
func (s *Service) settleExecutor(ctx context.Context, id uuid.UUID, outcome *bool) {
	lock := s.executorLock(id)
	lock.Lock()
	defer lock.Unlock()

	executor, err := s.store.AdjustExecutorLoad(ctx, id, -1, false)
	if err != nil {
		log.Printf("[balancer] release executor %s: %v", id, err)
		return
	}
	if outcome == nil {
		return
	}
	rate := s.rateFn(executor.SuccessRate, *outcome)
	if err := s.store.SetExecutorSuccessRate(ctx, id, rate); err != nil {
		log.Printf("[balancer] update success rate for %s: %v", id, err)
	}
}

type FairAssignInput struct {
	Title          string
	Description    string
	Category       string
	Priority       models.Priority
	RequiredSkills []string
}

type FairAssignResult struct {
	Request    models.Request    `json:"request"`
	Executor   models.Executor   `json:"executor"`
	Assignment models.Assignment `json:"assignment"`
}

// AssignFair creates a request and hands it to the executor maximizing
// the fairness score (free slots over match quality). Skill filtering is
// any-overlap and advisory: when nobody overlaps, the whole active pool
// stays in play.
func (s *Service) AssignFair(ctx context.Context, in FairAssignInput) (FairAssignResult, error) {
	if in.Title == "" {
		in.Title = "Untitled request"
	}
	if in.Category == "" {
		in.Category = "general"
	}
	if !in.Priority.Valid() {
		in.Priority = models.PriorityMedium
	}

	pool, err := s.store.ListExecutors(ctx, store.ExecutorFilter{
		Status: string(models.ExecutorActive),
		Limit:  rankPoolLimit,
	})
	if err != nil {
		return FairAssignResult{}, err
	}
	candidates := fairCandidates(pool, in.RequiredSkills)
	if len(candidates) == 0 {
		return FairAssignResult{}, ErrNoEligibleExecutor
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		fa, fb := s.engine.FairnessScore(a), s.engine.FairnessScore(b)
		if fa != fb {
			return fa > fb
		}
		if a.CurrentLoad != b.CurrentLoad {
			return a.CurrentLoad < b.CurrentLoad
		}
		return a.ID.String() < b.ID.String()
	})

	req, err := s.store.CreateRequest(ctx, store.RequestInput{
		Title:          in.Title,
		Description:    in.Description,
		Category:       in.Category,
		Priority:       in.Priority,
		Complexity:     models.ComplexityMedium,
		RequiredSkills: in.RequiredSkills,
		Weight:         1.0,
	})
	if err != nil {
		return FairAssignResult{}, err
	}

	ruleSet, err := s.store.ListRules(ctx, true)
	if err != nil {
		return FairAssignResult{}, err
	}

	// Walk the fairness order; a candidate whose last slot raced away is
	// skipped, not fatal.
	for _, executor := range candidates {
		result := s.engine.Score(req, executor, ruleSet)
		result.Reasons = append(result.Reasons,
			fmt.Sprintf("Fair assignment: fairness score %.2f", s.engine.FairnessScore(executor)))
		assignment, err := s.commit(ctx, req, executor, result, false)
		if errors.Is(err, store.ErrCapacityExceeded) {
			continue
		}
		if err != nil {
			return FairAssignResult{}, err
		}
		updated, err := s.store.GetRequest(ctx, req.ID)
		if err != nil {
			updated = req
		}
		return FairAssignResult{Request: updated, Executor: executor, Assignment: assignment}, nil
	}
	return FairAssignResult{}, ErrNoEligibleExecutor
}

func fairCandidates(pool []models.Executor, requiredSkills []string) []models.Executor {
	available := make([]models.Executor, 0, len(pool))
	for _, e := range pool {
		if e.Status == models.ExecutorActive && !e.AtCapacity() {
			available = append(available, e)
		}
	}
	if len(requiredSkills) == 0 {
		return available
	}
	matching := make([]models.Executor, 0, len(available))
	for _, e := range available {
		if anySkillOverlap(requiredSkills, e.Skills) {
			matching = append(matching, e)
		}
	}
	if len(matching) == 0 {
		return available
	}
	return matching
}

func anySkillOverlap(required, have []string) bool {
	set := make(map[string]struct{}, len(have))
	for _, s := range have {
		set[strings.ToLower(strings.TrimSpace(s))] = struct{}{}
	}
	for _, s := range required {
		if _, ok := set[strings.ToLower(strings.TrimSpace(s))]; ok {
			return true
		}
	}
	return false
}

type assignmentEvent struct {
	AssignmentID uuid.UUID `json:"assignmentId"`
	RequestID    uuid.UUID `json:"requestId"`
	ExecutorID   uuid.UUID `json:"executorId"`
	FinalScore   float64   `json:"finalScore"`
	MatchScore   float64   `json:"matchScore"`
	Manual       bool      `json:"manual,omitempty"`
}

type requestEvent struct {
	RequestID  uuid.UUID  `json:"requestId"`
	ExecutorID *uuid.UUID `json:"executorId,omitempty"`
	Status     string     `json:"status"`
	Success    *bool      `json:"success,omitempty"`
}

// recordEvent appends an outcome event for the sink. The sink observes
// passively, so a failure here is logged, never propagated.
func (s *Service) recordEvent(ctx context.Context, eventType string, payload interface{}) {
	body, err := json.Marshal(payload)
	if err != nil {
		log.Printf("[balancer] encode %s event: %v", eventType, err)
		return
	}
	if _, err := s.store.InsertOutcomeEvent(ctx, store.OutcomeEventInput{
		EventType: eventType,
		Payload:   body,
	}); err != nil {
		log.Printf("[balancer] record %s event: %v", eventType, err)
	}
}
