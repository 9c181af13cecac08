package httpserver

import (
	"net/http"
	"sort"
	"time"

	"github.com/Oofersky/executor-balancer/internal/store"
)

const (
	dashboardRecent       = 10
	dashboardTopExecutors = 5
	dashboardExecutorCap  = 500
)

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	systemStats, err := s.collector.Collect(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, systemStats)
}

// handleDashboard bundles the snapshot the UI polls: system stats plus
// the most recent activity and the best-performing executors.
func (s *Server) handleDashboard(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	systemStats, err := s.collector.Collect(ctx)
	if err != nil {
		respondServiceError(w, err)
		return
	}
	recentRequests, err := s.store.ListRequests(ctx, store.RequestFilter{Limit: dashboardRecent})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	executors, err := s.store.ListExecutors(ctx, store.ExecutorFilter{Limit: dashboardExecutorCap})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	sort.Slice(executors, func(i, j int) bool {
		return executors[i].SuccessRate > executors[j].SuccessRate
	})
	if len(executors) > dashboardTopExecutors {
		executors = executors[:dashboardTopExecutors]
	}
	recentAssignments, err := s.store.ListAssignments(ctx, store.AssignmentFilter{Limit: dashboardRecent})
	if err != nil {
		respondServiceError(w, err)
		return
	}
	respondJSON(w, http.StatusOK, map[string]interface{}{
		"stats":             systemStats,
		"recentRequests":    recentRequests,
		"topExecutors":      executors,
		"recentAssignments": recentAssignments,
		"timestamp":         time.Now().UTC(),
	})
}

func (s *Server) handleMetricsSummary(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, s.registry.Summary())
}

// handleMetricsRealtime samples the system into the bounded history
// buffers so repeated polls build up a sparkline per metric.
func (s *Server) handleMetricsRealtime(w http.ResponseWriter, r *http.Request) {
	systemStats, err := s.collector.Collect(r.Context())
	if err != nil {
		respondServiceError(w, err)
		return
	}
	s.registry.Record("total_requests", nil, float64(systemStats.Requests.Total))
	s.registry.Record("active_executors", nil, float64(systemStats.Executors.Active))
	s.registry.Record("system_load", nil, systemStats.SystemLoadPercent)
	s.registry.SetGauge("system_load_percent", nil, systemStats.SystemLoadPercent)

	respondJSON(w, http.StatusOK, map[string]interface{}{
		"timestamp": time.Now().UTC(),
		"stats":     systemStats,
		"history": map[string]interface{}{
			"totalRequests":   s.registry.History("total_requests", nil),
			"activeExecutors": s.registry.History("active_executors", nil),
			"systemLoad":      s.registry.History("system_load", nil),
		},
	})
}
