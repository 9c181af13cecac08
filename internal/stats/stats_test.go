package stats

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/Oofersky/executor-balancer/internal/models"
	"github.com/Oofersky/executor-balancer/internal/store"
)

func TestMetricKeySortsLabels(t *testing.T) {
	assert.Equal(t, "requests_total", metricKey("requests_total", nil))
	assert.Equal(t,
		"requests_total{priority=high,status=pending}",
		metricKey("requests_total", map[string]string{"status": "pending", "priority": "high"}))
	assert.Equal(t,
		metricKey("x", map[string]string{"a": "1", "b": "2"}),
		metricKey("x", map[string]string{"b": "2", "a": "1"}))
}

func TestRegistryCountersAndGauges(t *testing.T) {
	r := NewRegistry()
	r.Inc("assignments_total", map[string]string{"mode": "auto"})
	r.Inc("assignments_total", map[string]string{"mode": "auto"})
	r.Add("assignments_total", map[string]string{"mode": "manual"}, 3)
	r.SetGauge("system_load", nil, 42.5)
	r.SetGauge("system_load", nil, 37.5)

	summary := r.Summary()
	assert.Equal(t, int64(2), summary.Counters["assignments_total{mode=auto}"])
	assert.Equal(t, int64(3), summary.Counters["assignments_total{mode=manual}"])
	assert.Equal(t, 37.5, summary.Gauges["system_load"])
	assert.False(t, summary.Timestamp.IsZero())
}

func TestRegistryHistoryBounded(t *testing.T) {
	r := NewRegistry()
	for i := 0; i < historyLimit+50; i++ {
		r.Record("system_load", nil, float64(i))
	}

	history := r.History("system_load", nil)
	assert.Len(t, history, historyLimit)
	assert.Equal(t, 50.0, history[0].Value)
	assert.Equal(t, float64(historyLimit+49), history[len(history)-1].Value)
}

func executorWith(status models.ExecutorStatus, role models.Role, load, limit int, success float64) models.Executor {
	return models.Executor{
		Role:        role,
		Status:      status,
		CurrentLoad: load,
		DailyLimit:  limit,
		SuccessRate: success,
	}
}

func TestCollectExecutorStats(t *testing.T) {
	executors := []models.Executor{
		executorWith(models.ExecutorActive, models.RoleProgrammer, 2, 5, 0.8),
		executorWith(models.ExecutorActive, models.RoleTester, 3, 5, 0.6),
		executorWith(models.ExecutorOffline, models.RoleProgrammer, 0, 5, 0),
	}

	got := CollectExecutorStats(executors)

	assert.Equal(t, 3, got.Total)
	assert.Equal(t, 2, got.Active)
	assert.Equal(t, 1, got.Inactive)
	assert.Equal(t, 5, got.TotalWorkload)
	assert.Equal(t, 2, got.ByRole["programmer"])
	assert.Equal(t, 1, got.ByRole["tester"])
	assert.Equal(t, 2, got.ByStatus["active"])
	assert.Equal(t, 1, got.ByStatus["offline"])
	// zero-rate executor excluded from the average
	assert.InDelta(t, 0.7, got.AverageSuccessRate, 0.0001)
}

func TestCollectExecutorStatsEmpty(t *testing.T) {
	got := CollectExecutorStats(nil)
	assert.Equal(t, 0, got.Total)
	assert.Equal(t, 0.0, got.AverageSuccessRate)
	assert.NotNil(t, got.ByRole)
	assert.NotNil(t, got.ByStatus)
}

func TestCollectRequestStats(t *testing.T) {
	requests := []models.Request{
		{Status: models.RequestPending, Priority: models.PriorityHigh, Category: "development"},
		{Status: models.RequestAssigned, Priority: models.PriorityHigh, Category: "development"},
		{Status: models.RequestCompleted, Priority: models.PriorityLow, Category: "support"},
		{Status: models.RequestCancelled, Priority: models.PriorityLow, Category: "support"},
	}

	got := CollectRequestStats(requests)

	assert.Equal(t, 4, got.Total)
	assert.Equal(t, 1, got.Pending)
	assert.Equal(t, 1, got.Assigned)
	assert.Equal(t, 1, got.Completed)
	assert.Equal(t, 2, got.ByPriority["high"])
	assert.Equal(t, 2, got.ByCategory["support"])
	assert.Equal(t, 1, got.ByStatus["cancelled"])
}

func TestCollectAssignmentStats(t *testing.T) {
	assignments := []models.Assignment{
		{Superseded: false},
		{Superseded: false},
		{Superseded: true},
	}

	got := CollectAssignmentStats(assignments)

	assert.Equal(t, 3, got.Total)
	assert.Equal(t, 2, got.Active)
	assert.Equal(t, 1, got.Superseded)
}

func TestSystemLoadMixedCapacity(t *testing.T) {
	executors := []models.Executor{
		executorWith(models.ExecutorActive, models.RoleProgrammer, 2, 5, 0.8),
		// unbounded: counts the nominal capacity of 10
		executorWith(models.ExecutorActive, models.RoleTester, 3, 0, 0.6),
	}

	got := CollectSystemStats(executors, nil, nil)

	// workload 5 over capacity 15
	assert.InDelta(t, 33.3333, got.SystemLoadPercent, 0.001)
	// utilization 2.5, average success 0.7
	assert.InDelta(t, 17.5, got.EfficiencyScore, 0.0001)
}

func TestSystemLoadClamped(t *testing.T) {
	executors := []models.Executor{
		executorWith(models.ExecutorActive, models.RoleProgrammer, 9, 2, 1.0),
	}

	got := CollectSystemStats(executors, nil, nil)

	assert.Equal(t, 100.0, got.SystemLoadPercent)
	assert.Equal(t, 90.0, got.EfficiencyScore)
}

func TestSystemStatsNoExecutors(t *testing.T) {
	got := CollectSystemStats(nil, nil, nil)
	assert.Equal(t, 0.0, got.SystemLoadPercent)
	assert.Equal(t, 0.0, got.EfficiencyScore)
}

func TestCollectorCollect(t *testing.T) {
	st := store.NewMemoryStore()
	ctx := context.Background()

	executor, err := st.CreateExecutor(ctx, store.ExecutorInput{
		Name: "Ada", Role: models.RoleProgrammer, Status: models.ExecutorActive,
		DailyLimit: 5, SuccessRate: 0.9,
	})
	assert.NoError(t, err)
	_, err = st.AdjustExecutorLoad(ctx, executor.ID, 1, true)
	assert.NoError(t, err)

	req, err := st.CreateRequest(ctx, store.RequestInput{
		Title: "Task", Category: "development",
		Priority: models.PriorityMedium, Complexity: models.ComplexityLow, Weight: 1,
	})
	assert.NoError(t, err)
	_, err = st.UpdateRequestStatus(ctx, req.ID, models.RequestAssigned, &executor.ID)
	assert.NoError(t, err)

	_, err = st.InsertAssignment(ctx, store.AssignmentInput{
		RequestID: req.ID, ExecutorID: executor.ID, MatchScore: 80, FinalScore: 12,
	})
	assert.NoError(t, err)

	got, err := NewCollector(st).Collect(ctx)

	assert.NoError(t, err)
	assert.Equal(t, 1, got.Executors.Total)
	assert.Equal(t, 1, got.Executors.TotalWorkload)
	assert.Equal(t, 1, got.Requests.Assigned)
	assert.Equal(t, 1, got.Assignments.Active)
	assert.InDelta(t, 20.0, got.SystemLoadPercent, 0.0001)
}
