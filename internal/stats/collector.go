package stats

import (
	"context"

	"github.com/Oofersky/executor-balancer/internal/models"
	"github.com/Oofersky/executor-balancer/internal/store"
)

// Executors without a daily limit count as this capacity so system load
// stays computable for mixed fleets.
const nominalCapacity = 10

const snapshotLimit = 500

type ExecutorStats struct {
	Total              int            `json:"totalExecutors"`
	Active             int            `json:"activeExecutors"`
	Inactive           int            `json:"inactiveExecutors"`
	ByRole             map[string]int `json:"executorsByRole"`
	ByStatus           map[string]int `json:"executorsByStatus"`
	TotalWorkload      int            `json:"totalWorkload"`
	AverageSuccessRate float64        `json:"averageSuccessRate"`
}

type RequestStats struct {
	Total      int            `json:"totalRequests"`
	Pending    int            `json:"pendingRequests"`
	Assigned   int            `json:"assignedRequests"`
	Completed  int            `json:"completedRequests"`
	ByStatus   map[string]int `json:"requestsByStatus"`
	ByPriority map[string]int `json:"requestsByPriority"`
	ByCategory map[string]int `json:"requestsByCategory"`
}

type AssignmentStats struct {
	Total      int `json:"totalAssignments"`
	Active     int `json:"activeAssignments"`
	Superseded int `json:"supersededAssignments"`
}

type SystemStats struct {
	SystemLoadPercent float64         `json:"systemLoadPercent"`
	EfficiencyScore   float64         `json:"efficiencyScore"`
	Executors         ExecutorStats   `json:"executorStats"`
	Requests          RequestStats    `json:"requestStats"`
	Assignments       AssignmentStats `json:"assignmentStats"`
}

// CollectExecutorStats aggregates an executor snapshot. The success rate
// average skips zero-rate executors so fresh accounts do not drag it
// down.
func CollectExecutorStats(executors []models.Executor) ExecutorStats {
	stats := ExecutorStats{
		Total:    len(executors),
		ByRole:   map[string]int{},
		ByStatus: map[string]int{},
	}
	rated := 0
	for _, e := range executors {
		stats.ByRole[string(e.Role)]++
		stats.ByStatus[string(e.Status)]++
		stats.TotalWorkload += e.CurrentLoad
		if e.SuccessRate > 0 {
			stats.AverageSuccessRate += e.SuccessRate
			rated++
		}
		if e.Status == models.ExecutorActive {
			stats.Active++
		} else {
			stats.Inactive++
		}
	}
	if rated > 0 {
		stats.AverageSuccessRate /= float64(rated)
	}
	return stats
}

func CollectRequestStats(requests []models.Request) RequestStats {
	stats := RequestStats{
		Total:      len(requests),
		ByStatus:   map[string]int{},
		ByPriority: map[string]int{},
		ByCategory: map[string]int{},
	}
	for _, r := range requests {
		stats.ByStatus[string(r.Status)]++
		stats.ByPriority[string(r.Priority)]++
		stats.ByCategory[r.Category]++
		switch r.Status {
		case models.RequestPending:
			stats.Pending++
		case models.RequestAssigned:
			stats.Assigned++
		case models.RequestCompleted:
			stats.Completed++
		}
	}
	return stats
}

func CollectAssignmentStats(assignments []models.Assignment) AssignmentStats {
	stats := AssignmentStats{Total: len(assignments)}
	for _, a := range assignments {
		if a.Superseded {
			stats.Superseded++
		} else {
			stats.Active++
		}
	}
	return stats
}

// CollectSystemStats combines the three snapshots. System load is
// workload over summed capacity (unbounded executors count the nominal
// capacity), clamped to 100. Efficiency is utilization per active
// executor times the average success rate, scaled to [0,100].
func CollectSystemStats(executors []models.Executor, requests []models.Request, assignments []models.Assignment) SystemStats {
	executorStats := CollectExecutorStats(executors)

	capacity := 0
	for _, e := range executors {
		if e.Unbounded() {
			capacity += nominalCapacity
		} else {
			capacity += e.DailyLimit
		}
	}
	load := 0.0
	if capacity > 0 {
		load = float64(executorStats.TotalWorkload) / float64(capacity) * 100
		if load > 100 {
			load = 100
		}
	}

	return SystemStats{
		SystemLoadPercent: load,
		EfficiencyScore:   efficiencyScore(executorStats),
		Executors:         executorStats,
		Requests:          CollectRequestStats(requests),
		Assignments:       CollectAssignmentStats(assignments),
	}
}

func efficiencyScore(executorStats ExecutorStats) float64 {
	if executorStats.Active == 0 {
		return 0
	}
	utilization := float64(executorStats.TotalWorkload) / float64(executorStats.Active)
	score := utilization * executorStats.AverageSuccessRate / 10 * 100
	if score > 100 {
		return 100
	}
	return score
}

// Collector reads current store state and produces the system snapshot.
type Collector struct {
	store store.Store
}

func NewCollector(st store.Store) *Collector {
	return &Collector{store: st}
}

func (c *Collector) Collect(ctx context.Context) (SystemStats, error) {
	executors, err := c.store.ListExecutors(ctx, store.ExecutorFilter{Limit: snapshotLimit})
	if err != nil {
		return SystemStats{}, err
	}
	requests, err := c.store.ListRequests(ctx, store.RequestFilter{Limit: snapshotLimit})
	if err != nil {
		return SystemStats{}, err
	}
	assignments, err := c.store.ListAssignments(ctx, store.AssignmentFilter{Limit: snapshotLimit})
	if err != nil {
		return SystemStats{}, err
	}
	return CollectSystemStats(executors, requests, assignments), nil
}
