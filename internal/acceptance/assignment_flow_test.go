package acceptance

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/Oofersky/executor-balancer/internal/audit"
	"github.com/Oofersky/executor-balancer/internal/balancer"
	"github.com/Oofersky/executor-balancer/internal/models"
	"github.com/Oofersky/executor-balancer/internal/scoring"
	"github.com/Oofersky/executor-balancer/internal/stats"
	"github.com/Oofersky/executor-balancer/internal/store"
)

func TestAssignStartCompleteFlow(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	svc := balancer.New(mem, scoring.NewEngine(scoring.DefaultWeights()), nil)

	strong, err := mem.CreateExecutor(ctx, store.ExecutorInput{
		Name:        "Ada",
		Role:        models.RoleProgrammer,
		Status:      models.ExecutorActive,
		Skills:      []string{"go", "postgresql"},
		Languages:   []string{"en"},
		DailyLimit:  10,
		SuccessRate: 0.9,
		Weight:      1.0,
	})
	if err != nil {
		t.Fatalf("create executor: %v", err)
	}
	if _, err := mem.CreateExecutor(ctx, store.ExecutorInput{
		Name:        "Bob",
		Role:        models.RoleProgrammer,
		Status:      models.ExecutorActive,
		Skills:      []string{"java"},
		Languages:   []string{"en"},
		DailyLimit:  10,
		SuccessRate: 0.6,
		Weight:      1.0,
	}); err != nil {
		t.Fatalf("create executor: %v", err)
	}
	if _, err := mem.CreateRule(ctx, store.RuleInput{
		Name:       "Critical boost",
		Priority:   1,
		IsActive:   true,
		Adjustment: 1.5,
		Conditions: []models.RuleCondition{
			{Field: "priority", Operator: models.OpEquals, Value: json.RawMessage(`"critical"`)},
			{Field: "success_rate", Operator: models.OpGreaterThanOrEqual, Value: json.RawMessage(`0.8`)},
		},
	}); err != nil {
		t.Fatalf("create rule: %v", err)
	}

	request, err := mem.CreateRequest(ctx, store.RequestInput{
		Title:          "Migrate billing schema",
		Category:       "development",
		Priority:       models.PriorityCritical,
		Complexity:     models.ComplexityHigh,
		RequiredSkills: []string{"go"},
		Weight:         2.0,
	})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}

	assignment, err := svc.Assign(ctx, balancer.AssignInput{RequestID: request.ID})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if assignment.ExecutorID != strong.ID {
		t.Fatalf("expected strong executor %s, got %s", strong.ID, assignment.ExecutorID)
	}
	if assignment.FinalScore <= 0 {
		t.Fatalf("final score missing: %+v", assignment)
	}

	assigned, err := mem.GetRequest(ctx, request.ID)
	if err != nil {
		t.Fatalf("get request: %v", err)
	}
	if assigned.Status != models.RequestAssigned {
		t.Fatalf("expected assigned, got %s", assigned.Status)
	}
	loaded, err := mem.GetExecutor(ctx, strong.ID)
	if err != nil {
		t.Fatalf("get executor: %v", err)
	}
	if loaded.CurrentLoad != 1 {
		t.Fatalf("expected load 1, got %d", loaded.CurrentLoad)
	}

	if _, err := svc.Start(ctx, request.ID); err != nil {
		t.Fatalf("start: %v", err)
	}
	completed, err := svc.Complete(ctx, request.ID, true)
	if err != nil {
		t.Fatalf("complete: %v", err)
	}
	if completed.Status != models.RequestCompleted {
		t.Fatalf("expected completed, got %s", completed.Status)
	}

	settled, err := mem.GetExecutor(ctx, strong.ID)
	if err != nil {
		t.Fatalf("get executor: %v", err)
	}
	if settled.CurrentLoad != 0 {
		t.Fatalf("expected load back to 0, got %d", settled.CurrentLoad)
	}
	if settled.SuccessRate <= 0.9 {
		t.Fatalf("success should fold into a higher rate, got %f", settled.SuccessRate)
	}

	events, err := mem.FetchPendingOutcomeEvents(ctx, 10)
	if err != nil {
		t.Fatalf("fetch events: %v", err)
	}
	types := make([]string, 0, len(events))
	for _, ev := range events {
		types = append(types, ev.EventType)
	}
	if len(types) != 2 || types[0] != models.EventAssignmentCreated || types[1] != models.EventRequestCompleted {
		t.Fatalf("unexpected event trail: %v", types)
	}

	systemStats, err := stats.NewCollector(mem).Collect(ctx)
	if err != nil {
		t.Fatalf("collect stats: %v", err)
	}
	if systemStats.Requests.Completed != 1 {
		t.Fatalf("expected 1 completed request, got %+v", systemStats.Requests)
	}
	if systemStats.SystemLoadPercent != 0 {
		t.Fatalf("expected idle system, got %f%%", systemStats.SystemLoadPercent)
	}
}

func TestReassignmentSupersedesFirstAssignment(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	svc := balancer.New(mem, scoring.NewEngine(scoring.DefaultWeights()), nil)

	first, err := mem.CreateExecutor(ctx, store.ExecutorInput{
		Name:        "Ada",
		Role:        models.RoleProgrammer,
		Status:      models.ExecutorActive,
		Skills:      []string{"go"},
		DailyLimit:  10,
		SuccessRate: 0.9,
		Weight:      1.0,
	})
	if err != nil {
		t.Fatalf("create executor: %v", err)
	}
	second, err := mem.CreateExecutor(ctx, store.ExecutorInput{
		Name:        "Bob",
		Role:        models.RoleProgrammer,
		Status:      models.ExecutorActive,
		Skills:      []string{"go"},
		DailyLimit:  10,
		SuccessRate: 0.5,
		Weight:      1.0,
	})
	if err != nil {
		t.Fatalf("create executor: %v", err)
	}
	request, err := mem.CreateRequest(ctx, store.RequestInput{
		Title:          "Ship feature",
		Category:       "development",
		Priority:       models.PriorityMedium,
		Complexity:     models.ComplexityMedium,
		RequiredSkills: []string{"go"},
		Weight:         1.0,
	})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}

	original, err := svc.Assign(ctx, balancer.AssignInput{RequestID: request.ID})
	if err != nil {
		t.Fatalf("assign: %v", err)
	}
	if original.ExecutorID != first.ID {
		t.Fatalf("expected %s first, got %s", first.ID, original.ExecutorID)
	}

	replacement, err := svc.Assign(ctx, balancer.AssignInput{
		RequestID:  request.ID,
		ExecutorID: &second.ID,
		Reassign:   true,
	})
	if err != nil {
		t.Fatalf("reassign: %v", err)
	}
	if replacement.ExecutorID != second.ID {
		t.Fatalf("expected %s after reassign, got %s", second.ID, replacement.ExecutorID)
	}

	released, err := mem.GetExecutor(ctx, first.ID)
	if err != nil {
		t.Fatalf("get executor: %v", err)
	}
	if released.CurrentLoad != 0 {
		t.Fatalf("first executor should be released, load %d", released.CurrentLoad)
	}
	stale, err := mem.GetAssignment(ctx, original.ID)
	if err != nil {
		t.Fatalf("get assignment: %v", err)
	}
	if !stale.Superseded {
		t.Fatalf("original assignment should be superseded")
	}
	active, err := mem.ListAssignments(ctx, store.AssignmentFilter{RequestID: &request.ID})
	if err != nil {
		t.Fatalf("list assignments: %v", err)
	}
	if len(active) != 2 {
		t.Fatalf("expected 2 assignment rows, got %d", len(active))
	}
}

func TestFairAssignmentSpreadsLoad(t *testing.T) {
	ctx := context.Background()
	mem := store.NewMemoryStore()
	svc := balancer.New(mem, scoring.NewEngine(scoring.DefaultWeights()), nil)

	ids := make(map[uuid.UUID]string)
	for _, name := range []string{"Ada", "Bob"} {
		executor, err := mem.CreateExecutor(ctx, store.ExecutorInput{
			Name:        name,
			Role:        models.RoleProgrammer,
			Status:      models.ExecutorActive,
			Skills:      []string{"go"},
			DailyLimit:  10,
			SuccessRate: 0.8,
			Weight:      1.0,
		})
		if err != nil {
			t.Fatalf("create executor: %v", err)
		}
		ids[executor.ID] = name
	}

	counts := make(map[uuid.UUID]int)
	for i := 0; i < 2; i++ {
		result, err := svc.AssignFair(ctx, balancer.FairAssignInput{
			Title:          "Spread the load",
			RequiredSkills: []string{"go"},
		})
		if err != nil {
			t.Fatalf("fair assign %d: %v", i, err)
		}
		if result.Request.Status != models.RequestAssigned {
			t.Fatalf("expected assigned request, got %s", result.Request.Status)
		}
		counts[result.Executor.ID]++
	}
	for id, name := range ids {
		if counts[id] != 1 {
			t.Fatalf("expected one assignment for %s, got %d", name, counts[id])
		}
	}
}

func TestOutcomeEventsDrainThroughStreamer(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	mem := store.NewMemoryStore()
	svc := balancer.New(mem, scoring.NewEngine(scoring.DefaultWeights()), nil)

	if _, err := mem.CreateExecutor(ctx, store.ExecutorInput{
		Name:        "Ada",
		Role:        models.RoleProgrammer,
		Status:      models.ExecutorActive,
		Skills:      []string{"go"},
		DailyLimit:  10,
		SuccessRate: 0.8,
		Weight:      1.0,
	}); err != nil {
		t.Fatalf("create executor: %v", err)
	}
	request, err := mem.CreateRequest(ctx, store.RequestInput{
		Title:          "Ship feature",
		Category:       "development",
		Priority:       models.PriorityMedium,
		Complexity:     models.ComplexityMedium,
		RequiredSkills: []string{"go"},
		Weight:         1.0,
	})
	if err != nil {
		t.Fatalf("create request: %v", err)
	}
	if _, err := svc.Assign(ctx, balancer.AssignInput{RequestID: request.ID}); err != nil {
		t.Fatalf("assign: %v", err)
	}
	if _, err := svc.Complete(ctx, request.ID, true); err != nil {
		t.Fatalf("complete: %v", err)
	}

	produced := make(chan string, 4)
	producer := &captureProducer{ch: produced}
	streamer := audit.NewStreamer(mem, producer, nil, audit.StreamerConfig{
		BatchSize:    10,
		PollInterval: 10 * time.Millisecond,
	})
	done := make(chan error, 1)
	go func() { done <- streamer.Run(ctx) }()

	for i := 0; i < 2; i++ {
		select {
		case <-produced:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for event %d", i)
		}
	}
	cancel()
	if err := <-done; err != context.Canceled {
		t.Fatalf("unexpected streamer exit: %v", err)
	}

	pending, err := mem.FetchPendingOutcomeEvents(context.Background(), 10)
	if err != nil {
		t.Fatalf("fetch pending: %v", err)
	}
	if len(pending) != 0 {
		t.Fatalf("expected drained queue, %d events left", len(pending))
	}
}

type captureProducer struct {
	ch chan string
}

func (p *captureProducer) Produce(ctx context.Context, key, value []byte) (time.Time, error) {
	p.ch <- string(key)
	return time.Now().UTC(), nil
}

func (p *captureProducer) Close() error { return nil }
