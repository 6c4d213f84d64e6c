// Package metrics exposes Prometheus collectors for the orchestration
// engine. All collectors live on a private registry owned by the Metrics
// value, so tests and embedded engines never collide with the global
// registry.
//
// Every method is safe on a nil receiver: a nil *Metrics is the disabled
// form, letting callers skip their own guards.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dirigent-io/dirigent/pkg/models"
)

const namespace = "dirigent"

// Task and workflow runtimes span milliseconds (builtin steps) to the 30m
// task timeout and the 2h execution age limit, so the default buckets are
// far too short.
var (
	taskDurationBuckets     = []float64{0.05, 0.25, 1, 5, 15, 60, 300, 900, 1800}
	workflowDurationBuckets = []float64{1, 5, 15, 60, 300, 900, 1800, 3600, 7200}
)

// Metrics holds the engine's collectors and the registry they live on.
type Metrics struct {
	registry *prometheus.Registry

	workflowsStarted  prometheus.Counter
	workflowsFinished *prometheus.CounterVec
	workflowsActive   prometheus.Gauge
	workflowDuration  prometheus.Histogram

	tasksDispatched *prometheus.CounterVec
	tasksCompleted  *prometheus.CounterVec
	tasksFailed     *prometheus.CounterVec
	tasksRetried    *prometheus.CounterVec
	taskDuration    *prometheus.HistogramVec

	scaleEvents    *prometheus.CounterVec
	poolInstances  *prometheus.GaugeVec
	poolQueueDepth *prometheus.GaugeVec
	poolLoad       *prometheus.GaugeVec

	breakerOpens *prometheus.CounterVec
}

// New creates a Metrics with a fresh private registry. The Go runtime and
// process collectors are included so a scrape of the engine is useful on
// its own.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	m := &Metrics{
		registry: reg,

		workflowsStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflows_started_total",
			Help:      "Total number of workflow executions started.",
		}),
		workflowsFinished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "workflows_finished_total",
			Help:      "Total number of workflow executions reaching a terminal state.",
		}, []string{"outcome"}),
		workflowsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "workflows_active",
			Help:      "Number of workflow executions currently running or paused.",
		}),
		workflowDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "workflow_duration_seconds",
			Help:      "Wall-clock runtime of finished workflow executions.",
			Buckets:   workflowDurationBuckets,
		}),

		tasksDispatched: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_dispatched_total",
			Help:      "Total number of tasks handed to an agent pool.",
		}, []string{"role"}),
		tasksCompleted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_completed_total",
			Help:      "Total number of tasks that completed successfully.",
		}, []string{"role"}),
		tasksFailed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_failed_total",
			Help:      "Total number of tasks that failed.",
		}, []string{"role"}),
		tasksRetried: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "tasks_retried_total",
			Help:      "Total number of task retry dispatches.",
		}, []string{"role"}),
		taskDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "task_duration_seconds",
			Help:      "Execution time of completed tasks per agent role.",
			Buckets:   taskDurationBuckets,
		}, []string{"role"}),

		scaleEvents: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "scale_events_total",
			Help:      "Total number of pool scaling operations.",
		}, []string{"role", "direction"}),
		poolInstances: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "instances",
			Help:      "Current number of agent instances per pool.",
		}, []string{"role"}),
		poolQueueDepth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "queue_depth",
			Help:      "Tasks waiting in the pool backlog per role.",
		}, []string{"role"}),
		poolLoad: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "pool",
			Name:      "load",
			Help:      "Average instance load per pool, 0 to 1.",
		}, []string{"role"}),

		breakerOpens: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transport",
			Name:      "breaker_opens_total",
			Help:      "Times the agent transport circuit breaker opened.",
		}, []string{"name"}),
	}

	reg.MustRegister(
		m.workflowsStarted, m.workflowsFinished, m.workflowsActive, m.workflowDuration,
		m.tasksDispatched, m.tasksCompleted, m.tasksFailed, m.tasksRetried, m.taskDuration,
		m.scaleEvents, m.poolInstances, m.poolQueueDepth, m.poolLoad,
		m.breakerOpens,
	)
	return m
}

// Handler returns the scrape handler for the private registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// WorkflowStarted records a new execution entering the engine.
func (m *Metrics) WorkflowStarted() {
	if m == nil {
		return
	}
	m.workflowsStarted.Inc()
	m.workflowsActive.Inc()
}

// WorkflowFinished records a terminal transition and the total runtime.
func (m *Metrics) WorkflowFinished(state models.ExecutionState, duration time.Duration) {
	if m == nil {
		return
	}
	m.workflowsFinished.WithLabelValues(string(state)).Inc()
	m.workflowsActive.Dec()
	m.workflowDuration.Observe(duration.Seconds())
}

// TaskDispatched records a task handed to the given role's pool.
func (m *Metrics) TaskDispatched(role models.AgentType) {
	if m == nil {
		return
	}
	m.tasksDispatched.WithLabelValues(string(role)).Inc()
}

// TaskCompleted records a successful task and its execution time.
func (m *Metrics) TaskCompleted(role models.AgentType, duration time.Duration) {
	if m == nil {
		return
	}
	m.tasksCompleted.WithLabelValues(string(role)).Inc()
	m.taskDuration.WithLabelValues(string(role)).Observe(duration.Seconds())
}

// TaskFailed records a failed task.
func (m *Metrics) TaskFailed(role models.AgentType) {
	if m == nil {
		return
	}
	m.tasksFailed.WithLabelValues(string(role)).Inc()
}

// TaskRetried records a retry dispatch for a previously failed task.
func (m *Metrics) TaskRetried(role models.AgentType) {
	if m == nil {
		return
	}
	m.tasksRetried.WithLabelValues(string(role)).Inc()
}

// ScaleUp records an added instance in the role's pool.
func (m *Metrics) ScaleUp(role models.AgentType) {
	if m == nil {
		return
	}
	m.scaleEvents.WithLabelValues(string(role), "up").Inc()
}

// ScaleDown records a removed instance in the role's pool.
func (m *Metrics) ScaleDown(role models.AgentType) {
	if m == nil {
		return
	}
	m.scaleEvents.WithLabelValues(string(role), "down").Inc()
}

// SetPoolStatus updates the per-pool gauges. Pools call this from their
// monitor tick so the gauges track the scaler's own view.
func (m *Metrics) SetPoolStatus(role models.AgentType, instances, queueDepth int, load float64) {
	if m == nil {
		return
	}
	r := string(role)
	m.poolInstances.WithLabelValues(r).Set(float64(instances))
	m.poolQueueDepth.WithLabelValues(r).Set(float64(queueDepth))
	m.poolLoad.WithLabelValues(r).Set(load)
}

// BreakerOpened records a circuit breaker transition to open.
func (m *Metrics) BreakerOpened(name string) {
	if m == nil {
		return
	}
	m.breakerOpens.WithLabelValues(name).Inc()
}
