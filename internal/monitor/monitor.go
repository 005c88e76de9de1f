// Package monitor provides live observability over the orchestrator's
// running roles: per-role status snapshots and aggregate turn/error/
// duration counters, plus Prometheus collectors for scraping. The
// Prometheus side holds process-wide totals only (tasks started and
// finished, turns, errors, and a task-duration histogram); it has no
// per-role labels and no tool-call count.
package monitor

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// TaskStatus is a role's current activity state.
type TaskStatus string

const (
	Idle    TaskStatus = "idle"
	Working TaskStatus = "working"
)

type roleState struct {
	status      TaskStatus
	currentTask string
	turns       int
	toolCalls   int
	durationMS  int64
	errors      int
}

// Snapshot is one role's point-in-time status, returned by Snapshot().
type Snapshot struct {
	Role        string     `json:"role"`
	Status      TaskStatus `json:"status"`
	CurrentTask string     `json:"current_task,omitempty"`
	Turns       int        `json:"turns"`
	ToolCalls   int        `json:"tool_calls"`
	DurationMS  int64      `json:"duration_ms"`
	Errors      int        `json:"errors"`
}

// AggregateMetrics sums every role's counters.
type AggregateMetrics struct {
	TotalTurns      int   `json:"total_turns"`
	TotalDurationMS int64 `json:"total_duration_ms"`
	TotalErrors     int   `json:"total_errors"`
	TotalToolCalls  int   `json:"total_tool_calls"`
}

// Monitor tracks every role's live state. All operations are
// non-blocking and safe for concurrent use.
type Monitor struct {
	mu    sync.Mutex
	roles map[string]*roleState

	tasksStarted  prometheus.Counter
	tasksFinished prometheus.Counter
	turnsTotal    prometheus.Counter
	errorsTotal   prometheus.Counter
	durationSecs  prometheus.Histogram
}

// New constructs a Monitor and registers its collectors with reg. reg
// may be nil to skip Prometheus registration (tests).
func New(reg prometheus.Registerer) *Monitor {
	m := &Monitor{
		roles: make(map[string]*roleState),

		tasksStarted: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agentor",
			Subsystem: "orchestrator",
			Name:      "tasks_started_total",
			Help:      "Number of role tasks started.",
		}),
		tasksFinished: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agentor",
			Subsystem: "orchestrator",
			Name:      "tasks_finished_total",
			Help:      "Number of role tasks finished.",
		}),
		turnsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agentor",
			Subsystem: "orchestrator",
			Name:      "agent_turns_total",
			Help:      "Total agent-loop turns recorded across all roles.",
		}),
		errorsTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "agentor",
			Subsystem: "orchestrator",
			Name:      "agent_errors_total",
			Help:      "Total agent-loop errors recorded across all roles.",
		}),
		durationSecs: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "agentor",
			Subsystem: "orchestrator",
			Name:      "task_duration_seconds",
			Help:      "Task duration in seconds, per completed role task.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	if reg != nil {
		reg.MustRegister(m.tasksStarted, m.tasksFinished, m.turnsTotal, m.errorsTotal, m.durationSecs)
	}
	return m
}

func (m *Monitor) roleStateLocked(role string) *roleState {
	st, ok := m.roles[role]
	if !ok {
		st = &roleState{status: Idle}
		m.roles[role] = st
	}
	return st
}

// StartTask marks role as Working on id.
func (m *Monitor) StartTask(role, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.roleStateLocked(role)
	st.status = Working
	st.currentTask = id
	m.tasksStarted.Inc()
}

// FinishTask marks role as Idle.
func (m *Monitor) FinishTask(role string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.roleStateLocked(role)
	st.status = Idle
	st.currentTask = ""
	m.tasksFinished.Inc()
}

// RecordTurn adds turns and toolCalls to role's running counters.
func (m *Monitor) RecordTurn(role string, turns, toolCalls int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.roleStateLocked(role)
	st.turns += turns
	st.toolCalls += toolCalls
	m.turnsTotal.Add(float64(turns))
}

// RecordDuration adds d to role's cumulative duration.
func (m *Monitor) RecordDuration(role string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.roleStateLocked(role)
	st.durationMS += d.Milliseconds()
	m.durationSecs.Observe(d.Seconds())
}

// RecordError increments role's error counter.
func (m *Monitor) RecordError(role string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	st := m.roleStateLocked(role)
	st.errors++
	m.errorsTotal.Inc()
}

// Snapshot returns a point-in-time view of every tracked role.
func (m *Monitor) Snapshot() []Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]Snapshot, 0, len(m.roles))
	for role, st := range m.roles {
		out = append(out, Snapshot{
			Role:        role,
			Status:      st.status,
			CurrentTask: st.currentTask,
			Turns:       st.turns,
			ToolCalls:   st.toolCalls,
			DurationMS:  st.durationMS,
			Errors:      st.errors,
		})
	}
	return out
}

// AggregateMetrics sums counters across every tracked role.
func (m *Monitor) AggregateMetrics() AggregateMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	var agg AggregateMetrics
	for _, st := range m.roles {
		agg.TotalTurns += st.turns
		agg.TotalDurationMS += st.durationMS
		agg.TotalErrors += st.errors
		agg.TotalToolCalls += st.toolCalls
	}
	return agg
}
