package proxy

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/haasonsaas/agentor/internal/capability"
	"github.com/haasonsaas/agentor/internal/skill"
	"github.com/haasonsaas/agentor/pkg/models"
)

type okSkill struct{}

func (okSkill) Descriptor() skill.Descriptor { return skill.Descriptor{Name: "ok"} }

func (okSkill) Execute(ctx context.Context, call models.ToolCall) (models.ToolResult, error) {
	return models.ToolResult{ToolCallID: call.ID, Content: "done"}, nil
}

type guardedSkill struct{}

func (guardedSkill) Descriptor() skill.Descriptor {
	return skill.Descriptor{
		Name:     "shell",
		Requires: []capability.Capability{{Kind: capability.ShellExec, Pattern: "echo"}},
	}
}

func (guardedSkill) Execute(ctx context.Context, call models.ToolCall) (models.ToolResult, error) {
	return models.ToolResult{ToolCallID: call.ID, Content: "ran"}, nil
}

func newTestProxy(t *testing.T) *Proxy {
	t.Helper()
	reg := skill.NewRegistry()
	if err := reg.Register(okSkill{}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	if err := reg.Register(guardedSkill{}); err != nil {
		t.Fatalf("Register() error = %v", err)
	}
	return New(reg, capability.New())
}

func TestProxy_Execute_PermissionsOverrideScopesBelowProxyDefault(t *testing.T) {
	p := newTestProxy(t)

	// The proxy's own grant set (capability.New(), empty) denies
	// everything, so a nil override falls back to a denial.
	_, err := p.Execute(context.Background(), models.ToolCall{ID: "c1", Name: "shell"}, "agent-1", nil)
	if err == nil {
		t.Fatal("Execute() with proxy default error = nil, want permission denied")
	}

	// An explicit grant passed as the permissions override lets the
	// call through even though the proxy's own grant set lacks it.
	grants := capability.New()
	grants.Grant(capability.Capability{Kind: capability.ShellExec, Pattern: "echo"})
	result, err := p.Execute(context.Background(), models.ToolCall{ID: "c2", Name: "shell"}, "agent-1", grants)
	if err != nil {
		t.Fatalf("Execute() with override error = %v", err)
	}
	if result.Content != "ran" {
		t.Errorf("Execute() result = %+v, want Content=\"ran\"", result)
	}
}

func TestProxy_Execute_RecordsMetricsAndLog(t *testing.T) {
	p := newTestProxy(t)

	_, err := p.Execute(context.Background(), models.ToolCall{ID: "c1", Name: "ok"}, "agent-1", nil)
	if err != nil {
		t.Fatalf("Execute() error = %v", err)
	}

	m := p.AgentMetricsFor("agent-1")
	if m.Total != 1 || m.Successful != 1 || m.Failed != 0 {
		t.Errorf("metrics = %+v, want 1 total/1 success/0 failed", m)
	}

	logs := p.RecentLogs(10)
	if len(logs) != 1 || logs[0].ToolName != "ok" {
		t.Errorf("RecentLogs() = %+v", logs)
	}
}

func TestProxy_Execute_UnknownToolCountsFailed(t *testing.T) {
	p := newTestProxy(t)

	_, err := p.Execute(context.Background(), models.ToolCall{ID: "c2", Name: "missing"}, "agent-1", nil)
	if err == nil {
		t.Fatalf("Execute() error = nil, want unknown tool error")
	}

	m := p.AgentMetricsFor("agent-1")
	if m.Failed != 1 {
		t.Errorf("Failed = %d, want 1", m.Failed)
	}
}

func TestProxy_RecordDenied_DoesNotAddLogEntry(t *testing.T) {
	p := newTestProxy(t)
	p.RecordDenied("agent-1", "secret_tool")

	m := p.AgentMetricsFor("agent-1")
	if m.Denied != 1 {
		t.Errorf("Denied = %d, want 1", m.Denied)
	}
	if len(p.RecentLogs(10)) != 0 {
		t.Errorf("expected no log entries from a denial")
	}
}

func TestProxy_RecentLogs_MostRecentFirstAndBounded(t *testing.T) {
	p := newTestProxy(t)
	p.ringSize = 2

	for i := 0; i < 3; i++ {
		_, _ = p.Execute(context.Background(), models.ToolCall{ID: string(rune('a' + i)), Name: "ok"}, "agent-1", nil)
	}

	logs := p.RecentLogs(10)
	if len(logs) != 2 {
		t.Fatalf("len(logs) = %d, want 2 (ring trimmed)", len(logs))
	}
	if logs[0].CallID != "c" || logs[1].CallID != "b" {
		t.Errorf("logs not most-recent-first: %+v", logs)
	}
}

func TestProxy_ToJSON(t *testing.T) {
	p := newTestProxy(t)
	_, _ = p.Execute(context.Background(), models.ToolCall{ID: "c1", Name: "ok"}, "agent-1", nil)

	raw, err := p.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON() error = %v", err)
	}
	var decoded map[string]json.RawMessage
	if err := json.Unmarshal(raw, &decoded); err != nil {
		t.Fatalf("ToJSON output not valid JSON: %v", err)
	}
	if _, ok := decoded["logs"]; !ok {
		t.Errorf("expected \"logs\" key in ToJSON output")
	}
}
