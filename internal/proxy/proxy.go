// Package proxy implements the single chokepoint every tool call flows
// through: dispatch to the skill registry, a bounded recent-call log,
// and per-agent metrics. No other component may invoke a skill directly.
package proxy

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/haasonsaas/agentor/internal/capability"
	"github.com/haasonsaas/agentor/internal/skill"
	"github.com/haasonsaas/agentor/pkg/models"
)

// LogEntry is one recent-call record kept in the proxy's bounded ring.
type LogEntry struct {
	CallID    string    `json:"call_id"`
	ToolName  string    `json:"tool_name"`
	AgentID   string    `json:"agent_id"`
	Timestamp time.Time `json:"timestamp"`
	Duration  time.Duration `json:"duration"`
	Success   bool      `json:"success"`
	Error     string    `json:"error,omitempty"`
}

// AgentMetrics accumulates per-agent call counters.
type AgentMetrics struct {
	Total      int           `json:"total"`
	Successful int           `json:"successful"`
	Failed     int           `json:"failed"`
	Denied     int           `json:"denied"`
	Duration   time.Duration `json:"cumulative_duration"`
}

const defaultRingSize = 10_000

// Proxy is the only layer permitted to interleave logging, metrics,
// and dispatch in the hot path. Audit entries for tool_call/tool_result
// belong to the agent loop driving the call (see internal/agentloop);
// the proxy only ever maintains its own ring and per-agent counters.
type Proxy struct {
	registry    *skill.Registry
	permissions *capability.Set
	ringSize    int

	mu      sync.Mutex
	ring    []LogEntry
	metrics map[string]*AgentMetrics
}

// New constructs a Proxy dispatching through registry and checking
// calls against permissions.
func New(registry *skill.Registry, permissions *capability.Set) *Proxy {
	return &Proxy{
		registry:    registry,
		permissions: permissions,
		ringSize:    defaultRingSize,
		metrics:     make(map[string]*AgentMetrics),
	}
}

// Execute records the call's start time, forwards it to the skill
// registry, appends a log entry, and updates the agent's counters. The
// registry's outcome (ToolResult and error) is returned unchanged.
// permissions overrides the Proxy's own grant set for this call when
// non-nil, so a caller can scope a role down below the engine-wide
// default; pass nil to use the Proxy's own permissions.
func (p *Proxy) Execute(ctx context.Context, call models.ToolCall, agentID string, permissions *capability.Set) (models.ToolResult, error) {
	perm := permissions
	if perm == nil {
		perm = p.permissions
	}

	start := time.Now()
	result, err := p.registry.Execute(ctx, call, perm)
	duration := time.Since(start)

	success := err == nil && !result.IsError
	errText := ""
	if err != nil {
		errText = err.Error()
	} else if result.IsError {
		errText = result.Content
	}

	p.record(LogEntry{
		CallID:    call.ID,
		ToolName:  call.Name,
		AgentID:   agentID,
		Timestamp: start,
		Duration:  duration,
		Success:   success,
		Error:     errText,
	})

	return result, err
}

// RecordDenied increments the denied counter for agentID without
// producing a log entry, for use when a higher layer rejects a call
// before it ever reaches Execute.
func (p *Proxy) RecordDenied(agentID, toolName string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	m := p.metricsLocked(agentID)
	m.Denied++
}

func (p *Proxy) record(e LogEntry) {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.ring = append(p.ring, e)
	if len(p.ring) > p.ringSize {
		p.ring = p.ring[len(p.ring)-p.ringSize:]
	}

	m := p.metricsLocked(e.AgentID)
	m.Total++
	m.Duration += e.Duration
	if e.Success {
		m.Successful++
	} else {
		m.Failed++
	}
}

func (p *Proxy) metricsLocked(agentID string) *AgentMetrics {
	m, ok := p.metrics[agentID]
	if !ok {
		m = &AgentMetrics{}
		p.metrics[agentID] = m
	}
	return m
}

// RecentLogs returns up to limit of the most recently recorded calls,
// most recent first.
func (p *Proxy) RecentLogs(limit int) []LogEntry {
	p.mu.Lock()
	defer p.mu.Unlock()
	if limit <= 0 || limit > len(p.ring) {
		limit = len(p.ring)
	}
	out := make([]LogEntry, limit)
	for i := 0; i < limit; i++ {
		out[i] = p.ring[len(p.ring)-1-i]
	}
	return out
}

// AgentMetricsFor returns a snapshot of agentID's counters.
func (p *Proxy) AgentMetricsFor(agentID string) AgentMetrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	m := p.metricsLocked(agentID)
	return *m
}

// AllMetrics returns a snapshot of every agent's counters, keyed by id.
func (p *Proxy) AllMetrics() map[string]AgentMetrics {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make(map[string]AgentMetrics, len(p.metrics))
	for id, m := range p.metrics {
		out[id] = *m
	}
	return out
}

// TotalCalls returns the sum of Total across every agent.
func (p *Proxy) TotalCalls() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	total := 0
	for _, m := range p.metrics {
		total += m.Total
	}
	return total
}

// ToJSON serializes the current ring and metrics snapshot.
func (p *Proxy) ToJSON() ([]byte, error) {
	p.mu.Lock()
	ring := append([]LogEntry(nil), p.ring...)
	metrics := make(map[string]AgentMetrics, len(p.metrics))
	for id, m := range p.metrics {
		metrics[id] = *m
	}
	p.mu.Unlock()

	return json.Marshal(struct {
		Logs    []LogEntry              `json:"logs"`
		Metrics map[string]AgentMetrics `json:"metrics"`
	}{Logs: ring, Metrics: metrics})
}
