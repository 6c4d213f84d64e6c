package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/dirigent-io/dirigent/pkg/version"
)

func (s *Server) handleHealthz(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":  "ok",
		"version": version.Full(),
	})
}

// handleReadyz probes the execution store. Without a store the engine runs
// purely in memory and is ready as soon as it serves requests.
func (s *Server) handleReadyz(c *gin.Context) {
	if s.store != nil {
		ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
		defer cancel()
		if err := s.store.Ping(ctx); err != nil {
			c.JSON(http.StatusServiceUnavailable, gin.H{
				"status": "not ready",
				"store":  err.Error(),
			})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready"})
}

// MetricsSummary is the JSON body of GET /api/v1/metrics/summary: the
// executor's terminal counters plus a per-pool breakdown. Prometheus
// scraping uses /metrics instead; this endpoint serves dashboards and the
// CLI's metrics verb.
type MetricsSummary struct {
	Workflows WorkflowSummary `json:"workflows"`
	Pools     []PoolSummary   `json:"pools"`
}

// WorkflowSummary carries the workflow-level counters.
type WorkflowSummary struct {
	Active          int     `json:"active"`
	Started         uint64  `json:"started"`
	Completed       uint64  `json:"completed"`
	Failed          uint64  `json:"failed"`
	Cancelled       uint64  `json:"cancelled"`
	TaskSuccessRate float64 `json:"task_success_rate"`
}

// PoolSummary is the per-role slice of the summary.
type PoolSummary struct {
	Role           string  `json:"role"`
	Instances      int     `json:"instances"`
	Idle           int     `json:"idle"`
	Busy           int     `json:"busy"`
	QueuedTasks    int     `json:"queued_tasks"`
	TasksCompleted int     `json:"tasks_completed"`
	TasksFailed    int     `json:"tasks_failed"`
	SuccessRate    float64 `json:"success_rate"`
	CurrentLoad    float64 `json:"current_load"`
}

func (s *Server) handleMetricsSummary(c *gin.Context) {
	counters := s.executor.Metrics()
	summary := MetricsSummary{
		Workflows: WorkflowSummary{
			Active:          counters.ActiveExecutions,
			Started:         counters.WorkflowsStarted,
			Completed:       counters.WorkflowsCompleted,
			Failed:          counters.WorkflowsFailed,
			Cancelled:       counters.WorkflowsCancelled,
			TaskSuccessRate: counters.TaskSuccessRate,
		},
	}
	for _, st := range s.pools.Status() {
		summary.Pools = append(summary.Pools, PoolSummary{
			Role:           string(st.Role),
			Instances:      st.TotalInstances,
			Idle:           st.IdleInstances,
			Busy:           st.BusyInstances,
			QueuedTasks:    st.QueuedTasks,
			TasksCompleted: st.TasksCompleted,
			TasksFailed:    st.TasksFailed,
			SuccessRate:    st.SuccessRate,
			CurrentLoad:    st.CurrentLoad,
		})
	}
	c.JSON(http.StatusOK, summary)
}
