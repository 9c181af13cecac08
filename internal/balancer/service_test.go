package balancer_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"

	"github.com/Oofersky/executor-balancer/internal/balancer"
	"github.com/Oofersky/executor-balancer/internal/models"
	"github.com/Oofersky/executor-balancer/internal/scoring"
	"github.com/Oofersky/executor-balancer/internal/store"
)

func newService(st store.Store) *balancer.Service {
	return balancer.New(st, scoring.NewEngine(scoring.DefaultWeights()), nil)
}

func seedExecutor(t *testing.T, st store.Store, in store.ExecutorInput) models.Executor {
	t.Helper()
	if in.Role == "" {
		in.Role = models.RoleProgrammer
	}
	if in.Status == "" {
		in.Status = models.ExecutorActive
	}
	executor, err := st.CreateExecutor(context.Background(), in)
	if err != nil {
		t.Fatalf("seed executor: %v", err)
	}
	return executor
}

func seedRequest(t *testing.T, st store.Store, in store.RequestInput) models.Request {
	t.Helper()
	if in.Title == "" {
		in.Title = "Fix login flow"
	}
	if in.Category == "" {
		in.Category = "development"
	}
	if in.Priority == "" {
		in.Priority = models.PriorityMedium
	}
	if in.Complexity == "" {
		in.Complexity = models.ComplexityMedium
	}
	if in.Weight == 0 {
		in.Weight = 1.0
	}
	request, err := st.CreateRequest(context.Background(), in)
	if err != nil {
		t.Fatalf("seed request: %v", err)
	}
	return request
}

func eventTypes(t *testing.T, st store.Store) []string {
	t.Helper()
	events, err := st.FetchPendingOutcomeEvents(context.Background(), 100)
	if err != nil {
		t.Fatalf("fetch events: %v", err)
	}
	types := make([]string, 0, len(events))
	for _, ev := range events {
		types = append(types, ev.EventType)
	}
	return types
}

func TestAssignPicksTopCandidate(t *testing.T) {
	st := store.NewMemoryStore()
	svc := newService(st)
	ctx := context.Background()

	strong := seedExecutor(t, st, store.ExecutorInput{
		Name: "Ada", Skills: []string{"go"}, DailyLimit: 5, SuccessRate: 0.9, Weight: 0.9,
	})
	seedExecutor(t, st, store.ExecutorInput{
		Name: "Bob", Skills: []string{"go"}, DailyLimit: 5, SuccessRate: 0.4, Weight: 0.2,
	})
	req := seedRequest(t, st, store.RequestInput{RequiredSkills: []string{"go"}})

	assignment, err := svc.Assign(ctx, balancer.AssignInput{RequestID: req.ID})

	assert.NoError(t, err)
	assert.Equal(t, strong.ID, assignment.ExecutorID)
	assert.Equal(t, req.ID, assignment.RequestID)
	assert.NotEmpty(t, assignment.Reasons)

	updated, err := st.GetRequest(ctx, req.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.RequestAssigned, updated.Status)
	if assert.NotNil(t, updated.AssignedExecutorID) {
		assert.Equal(t, strong.ID, *updated.AssignedExecutorID)
	}

	loaded, err := st.GetExecutor(ctx, strong.ID)
	assert.NoError(t, err)
	assert.Equal(t, 1, loaded.CurrentLoad)

	assert.Contains(t, eventTypes(t, st), models.EventAssignmentCreated)
}

func TestAssignNoEligibleExecutor(t *testing.T) {
	st := store.NewMemoryStore()
	svc := newService(st)

	seedExecutor(t, st, store.ExecutorInput{
		Name: "Off", Status: models.ExecutorOffline, Skills: []string{"go"}, DailyLimit: 5,
	})
	req := seedRequest(t, st, store.RequestInput{RequiredSkills: []string{"go"}})

	_, err := svc.Assign(context.Background(), balancer.AssignInput{RequestID: req.ID})

	assert.ErrorIs(t, err, balancer.ErrNoEligibleExecutor)
}

func TestAssignUnknownRequest(t *testing.T) {
	st := store.NewMemoryStore()
	svc := newService(st)

	_, err := svc.Assign(context.Background(), balancer.AssignInput{RequestID: uuid.New()})

	assert.ErrorIs(t, err, store.ErrNotFound)
}

func TestAssignTwiceReturnsAlreadyAssigned(t *testing.T) {
	st := store.NewMemoryStore()
	svc := newService(st)
	ctx := context.Background()

	executor := seedExecutor(t, st, store.ExecutorInput{
		Name: "Ada", Skills: []string{"go"}, DailyLimit: 5, SuccessRate: 0.9, Weight: 1.0,
	})
	req := seedRequest(t, st, store.RequestInput{RequiredSkills: []string{"go"}})

	_, err := svc.Assign(ctx, balancer.AssignInput{RequestID: req.ID})
	assert.NoError(t, err)

	_, err = svc.Assign(ctx, balancer.AssignInput{RequestID: req.ID})
	assert.ErrorIs(t, err, balancer.ErrAlreadyAssigned)
	_, err = svc.Assign(ctx, balancer.AssignInput{RequestID: req.ID})
	assert.ErrorIs(t, err, balancer.ErrAlreadyAssigned)

	loaded, err := st.GetExecutor(ctx, executor.ID)
	assert.NoError(t, err)
	assert.Equal(t, 1, loaded.CurrentLoad)
}

func TestAssignTerminalRequestInvalidTransition(t *testing.T) {
	st := store.NewMemoryStore()
	svc := newService(st)
	ctx := context.Background()

	seedExecutor(t, st, store.ExecutorInput{Name: "Ada", Skills: []string{"go"}, DailyLimit: 5})
	req := seedRequest(t, st, store.RequestInput{RequiredSkills: []string{"go"}})
	_, err := st.UpdateRequestStatus(ctx, req.ID, models.RequestCancelled, nil)
	assert.NoError(t, err)

	_, err = svc.Assign(ctx, balancer.AssignInput{RequestID: req.ID})

	assert.ErrorIs(t, err, balancer.ErrInvalidTransition)
}

func TestAssignConcurrentSingleSlot(t *testing.T) {
	st := store.NewMemoryStore()
	svc := newService(st)
	ctx := context.Background()

	executor := seedExecutor(t, st, store.ExecutorInput{
		Name: "Solo", Skills: []string{"go"}, DailyLimit: 1, SuccessRate: 0.9, Weight: 1.0,
	})

	const attempts = 8
	requests := make([]models.Request, attempts)
	for i := range requests {
		requests[i] = seedRequest(t, st, store.RequestInput{RequiredSkills: []string{"go"}})
	}

	var wg sync.WaitGroup
	errs := make([]error, attempts)
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, errs[i] = svc.Assign(ctx, balancer.AssignInput{RequestID: requests[i].ID})
		}(i)
	}
	wg.Wait()

	wins := 0
	for _, err := range errs {
		if err == nil {
			wins++
			continue
		}
		if !errors.Is(err, balancer.ErrNoEligibleExecutor) && !errors.Is(err, store.ErrCapacityExceeded) {
			t.Fatalf("unexpected error: %v", err)
		}
	}
	assert.Equal(t, 1, wins)

	loaded, err := st.GetExecutor(ctx, executor.ID)
	assert.NoError(t, err)
	assert.Equal(t, 1, loaded.CurrentLoad)

	assignments, err := st.ListAssignments(ctx, store.AssignmentFilter{ExecutorID: &executor.ID})
	assert.NoError(t, err)
	assert.Len(t, assignments, 1)
}

func TestAssignManualOverridePastLimit(t *testing.T) {
	st := store.NewMemoryStore()
	svc := newService(st)
	ctx := context.Background()

	executor := seedExecutor(t, st, store.ExecutorInput{
		Name: "Busy", Skills: []string{"go"}, DailyLimit: 1, SuccessRate: 0.9, Weight: 1.0,
	})
	_, err := st.AdjustExecutorLoad(ctx, executor.ID, 1, true)
	assert.NoError(t, err)

	req := seedRequest(t, st, store.RequestInput{RequiredSkills: []string{"go"}})

	assignment, err := svc.Assign(ctx, balancer.AssignInput{RequestID: req.ID, ExecutorID: &executor.ID})

	assert.NoError(t, err)
	assert.Contains(t, assignment.Reasons, "Manually overridden")
	warned := false
	for _, reason := range assignment.Reasons {
		if strings.HasPrefix(reason, "Capacity warning") {
			warned = true
		}
	}
	assert.True(t, warned, "expected a capacity warning reason, got %v", assignment.Reasons)

	loaded, err := st.GetExecutor(ctx, executor.ID)
	assert.NoError(t, err)
	assert.Equal(t, 2, loaded.CurrentLoad)
}

func TestAssignManualSkipsHardFilters(t *testing.T) {
	st := store.NewMemoryStore()
	svc := newService(st)
	ctx := context.Background()

	// Zero skill overlap would disqualify on the ranked path.
	executor := seedExecutor(t, st, store.ExecutorInput{
		Name: "Sam", Skills: []string{"design"}, DailyLimit: 5, SuccessRate: 0.8,
	})
	req := seedRequest(t, st, store.RequestInput{RequiredSkills: []string{"go"}})

	assignment, err := svc.Assign(ctx, balancer.AssignInput{RequestID: req.ID, ExecutorID: &executor.ID})

	assert.NoError(t, err)
	assert.Equal(t, executor.ID, assignment.ExecutorID)
	assert.Contains(t, assignment.Reasons, "Manually overridden")
}

func TestReassignReleasesPriorExecutor(t *testing.T) {
	st := store.NewMemoryStore()
	svc := newService(st)
	ctx := context.Background()

	first := seedExecutor(t, st, store.ExecutorInput{
		Name: "First", Skills: []string{"go"}, DailyLimit: 5, SuccessRate: 0.9, Weight: 1.0,
	})
	second := seedExecutor(t, st, store.ExecutorInput{
		Name: "Second", Skills: []string{"go"}, DailyLimit: 5, SuccessRate: 0.5, Weight: 0.1,
		Status: models.ExecutorBusy,
	})
	req := seedRequest(t, st, store.RequestInput{RequiredSkills: []string{"go"}})

	initial, err := svc.Assign(ctx, balancer.AssignInput{RequestID: req.ID})
	assert.NoError(t, err)
	assert.Equal(t, first.ID, initial.ExecutorID)

	replacement, err := svc.Assign(ctx, balancer.AssignInput{
		RequestID:  req.ID,
		ExecutorID: &second.ID,
		Reassign:   true,
	})
	assert.NoError(t, err)
	assert.Equal(t, second.ID, replacement.ExecutorID)

	firstLoaded, err := st.GetExecutor(ctx, first.ID)
	assert.NoError(t, err)
	assert.Equal(t, 0, firstLoaded.CurrentLoad)

	secondLoaded, err := st.GetExecutor(ctx, second.ID)
	assert.NoError(t, err)
	assert.Equal(t, 1, secondLoaded.CurrentLoad)

	prior, err := st.GetAssignment(ctx, initial.ID)
	assert.NoError(t, err)
	assert.True(t, prior.Superseded)

	current, err := st.GetAssignment(ctx, replacement.ID)
	assert.NoError(t, err)
	assert.False(t, current.Superseded)

	updated, err := st.GetRequest(ctx, req.ID)
	assert.NoError(t, err)
	if assert.NotNil(t, updated.AssignedExecutorID) {
		assert.Equal(t, second.ID, *updated.AssignedExecutorID)
	}

	assert.Contains(t, eventTypes(t, st), models.EventAssignmentSuperseded)
}

func TestStartCompleteLifecycle(t *testing.T) {
	st := store.NewMemoryStore()
	svc := newService(st)
	ctx := context.Background()

	executor := seedExecutor(t, st, store.ExecutorInput{
		Name: "Ada", Skills: []string{"go"}, DailyLimit: 5, SuccessRate: 0.5, Weight: 1.0,
	})
	req := seedRequest(t, st, store.RequestInput{RequiredSkills: []string{"go"}})

	_, err := svc.Assign(ctx, balancer.AssignInput{RequestID: req.ID})
	assert.NoError(t, err)

	started, err := svc.Start(ctx, req.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.RequestInProgress, started.Status)

	completed, err := svc.Complete(ctx, req.ID, true)
	assert.NoError(t, err)
	assert.Equal(t, models.RequestCompleted, completed.Status)

	loaded, err := st.GetExecutor(ctx, executor.ID)
	assert.NoError(t, err)
	assert.Equal(t, 0, loaded.CurrentLoad)
	// EMA with alpha 0.2: 0.2*1 + 0.8*0.5
	assert.InDelta(t, 0.6, loaded.SuccessRate, 0.0001)

	assert.Contains(t, eventTypes(t, st), models.EventRequestCompleted)
}

func TestCompleteFailureLowersSuccessRate(t *testing.T) {
	st := store.NewMemoryStore()
	svc := newService(st)
	ctx := context.Background()

	executor := seedExecutor(t, st, store.ExecutorInput{
		Name: "Ada", Skills: []string{"go"}, DailyLimit: 5, SuccessRate: 0.5, Weight: 1.0,
	})
	req := seedRequest(t, st, store.RequestInput{RequiredSkills: []string{"go"}})

	_, err := svc.Assign(ctx, balancer.AssignInput{RequestID: req.ID})
	assert.NoError(t, err)

	_, err = svc.Complete(ctx, req.ID, false)
	assert.NoError(t, err)

	loaded, err := st.GetExecutor(ctx, executor.ID)
	assert.NoError(t, err)
	assert.InDelta(t, 0.4, loaded.SuccessRate, 0.0001)
}

func TestStartRequiresAssigned(t *testing.T) {
	st := store.NewMemoryStore()
	svc := newService(st)

	req := seedRequest(t, st, store.RequestInput{})

	_, err := svc.Start(context.Background(), req.ID)

	assert.ErrorIs(t, err, balancer.ErrInvalidTransition)
}

func TestCompleteRequiresAssignedOrInProgress(t *testing.T) {
	st := store.NewMemoryStore()
	svc := newService(st)

	req := seedRequest(t, st, store.RequestInput{})

	_, err := svc.Complete(context.Background(), req.ID, true)

	assert.ErrorIs(t, err, balancer.ErrInvalidTransition)
}

func TestCancelReleasesLoad(t *testing.T) {
	st := store.NewMemoryStore()
	svc := newService(st)
	ctx := context.Background()

	executor := seedExecutor(t, st, store.ExecutorInput{
		Name: "Ada", Skills: []string{"go"}, DailyLimit: 5, SuccessRate: 0.9, Weight: 1.0,
	})
	req := seedRequest(t, st, store.RequestInput{RequiredSkills: []string{"go"}})

	_, err := svc.Assign(ctx, balancer.AssignInput{RequestID: req.ID})
	assert.NoError(t, err)

	cancelled, err := svc.Cancel(ctx, req.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.RequestCancelled, cancelled.Status)

	loaded, err := st.GetExecutor(ctx, executor.ID)
	assert.NoError(t, err)
	assert.Equal(t, 0, loaded.CurrentLoad)

	assert.Contains(t, eventTypes(t, st), models.EventRequestCancelled)

	// Terminal now.
	_, err = svc.Cancel(ctx, req.ID)
	assert.ErrorIs(t, err, balancer.ErrInvalidTransition)
}

func TestCancelPendingRequest(t *testing.T) {
	st := store.NewMemoryStore()
	svc := newService(st)

	req := seedRequest(t, st, store.RequestInput{})

	cancelled, err := svc.Cancel(context.Background(), req.ID)

	assert.NoError(t, err)
	assert.Equal(t, models.RequestCancelled, cancelled.Status)
}

func TestCandidatesReadOnly(t *testing.T) {
	st := store.NewMemoryStore()
	svc := newService(st)
	ctx := context.Background()

	executor := seedExecutor(t, st, store.ExecutorInput{
		Name: "Ada", Skills: []string{"go"}, DailyLimit: 5, SuccessRate: 0.9, Weight: 1.0,
	})
	req := seedRequest(t, st, store.RequestInput{RequiredSkills: []string{"go"}})

	candidates, err := svc.Candidates(ctx, req.ID)

	assert.NoError(t, err)
	if assert.Len(t, candidates, 1) {
		assert.Equal(t, executor.ID, candidates[0].Executor.ID)
		assert.Equal(t, 1, candidates[0].Rank)
	}

	loaded, err := st.GetExecutor(ctx, executor.ID)
	assert.NoError(t, err)
	assert.Equal(t, 0, loaded.CurrentLoad)

	unchanged, err := st.GetRequest(ctx, req.ID)
	assert.NoError(t, err)
	assert.Equal(t, models.RequestPending, unchanged.Status)
}

func TestAssignFairPicksMostFairExecutor(t *testing.T) {
	st := store.NewMemoryStore()
	svc := newService(st)
	ctx := context.Background()

	fresh := seedExecutor(t, st, store.ExecutorInput{
		Name: "Fresh", Skills: []string{"python"}, DailyLimit: 10, SuccessRate: 0.9, Weight: 0.5,
	})
	swamped := seedExecutor(t, st, store.ExecutorInput{
		Name: "Swamped", Skills: []string{"python"}, DailyLimit: 10, SuccessRate: 0.99, Weight: 0.9,
	})
	for i := 0; i < 8; i++ {
		_, err := st.AdjustExecutorLoad(ctx, swamped.ID, 1, true)
		assert.NoError(t, err)
	}

	result, err := svc.AssignFair(ctx, balancer.FairAssignInput{
		Title:          "Data cleanup",
		Category:       "development",
		Priority:       models.PriorityHigh,
		RequiredSkills: []string{"python"},
	})

	assert.NoError(t, err)
	assert.Equal(t, fresh.ID, result.Executor.ID)
	assert.Equal(t, models.RequestAssigned, result.Request.Status)
	if assert.NotNil(t, result.Request.AssignedExecutorID) {
		assert.Equal(t, fresh.ID, *result.Request.AssignedExecutorID)
	}

	fair := false
	for _, reason := range result.Assignment.Reasons {
		if strings.HasPrefix(reason, "Fair assignment") {
			fair = true
		}
	}
	assert.True(t, fair, "expected a fairness reason, got %v", result.Assignment.Reasons)
}

func TestAssignFairFallsBackWithoutSkillOverlap(t *testing.T) {
	st := store.NewMemoryStore()
	svc := newService(st)

	executor := seedExecutor(t, st, store.ExecutorInput{
		Name: "Generalist", Skills: []string{"support"}, DailyLimit: 10, SuccessRate: 0.8,
	})

	result, err := svc.AssignFair(context.Background(), balancer.FairAssignInput{
		Title:          "Niche work",
		RequiredSkills: []string{"rust"},
	})

	assert.NoError(t, err)
	assert.Equal(t, executor.ID, result.Executor.ID)
}

func TestAssignFairExcludesAtCapacity(t *testing.T) {
	st := store.NewMemoryStore()
	svc := newService(st)
	ctx := context.Background()

	full := seedExecutor(t, st, store.ExecutorInput{
		Name: "Full", Skills: []string{"go"}, DailyLimit: 1, SuccessRate: 0.99,
	})
	_, err := st.AdjustExecutorLoad(ctx, full.ID, 1, true)
	assert.NoError(t, err)

	open := seedExecutor(t, st, store.ExecutorInput{
		Name: "Open", Skills: []string{"design"}, DailyLimit: 5, SuccessRate: 0.5,
	})

	result, err := svc.AssignFair(ctx, balancer.FairAssignInput{
		Title:          "Urgent task",
		RequiredSkills: []string{"go"},
	})

	assert.NoError(t, err)
	assert.Equal(t, open.ID, result.Executor.ID)
}

func TestAssignFairNoExecutors(t *testing.T) {
	st := store.NewMemoryStore()
	svc := newService(st)

	_, err := svc.AssignFair(context.Background(), balancer.FairAssignInput{Title: "Orphan"})

	assert.ErrorIs(t, err, balancer.ErrNoEligibleExecutor)
}

func TestDefaultSuccessRate(t *testing.T) {
	assert.InDelta(t, 0.6, balancer.DefaultSuccessRate(0.5, true), 0.0001)
	assert.InDelta(t, 0.4, balancer.DefaultSuccessRate(0.5, false), 0.0001)
	assert.InDelta(t, 0.2, balancer.DefaultSuccessRate(0.0, true), 0.0001)
	assert.InDelta(t, 0.8, balancer.DefaultSuccessRate(1.0, false), 0.0001)
}
