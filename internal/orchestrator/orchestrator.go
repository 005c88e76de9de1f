// Package orchestrator drives the plan → execute → synthesize pipeline
// that turns one user prompt into a fixed four-role pipeline of
// cooperating agent loops: Spec, Coder, Tester, and Reviewer.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/haasonsaas/agentor/internal/agentloop"
	"github.com/haasonsaas/agentor/internal/audit"
	"github.com/haasonsaas/agentor/internal/backend"
	"github.com/haasonsaas/agentor/internal/capability"
	"github.com/haasonsaas/agentor/internal/monitor"
	"github.com/haasonsaas/agentor/internal/proxy"
	"github.com/haasonsaas/agentor/internal/spawner"
	"github.com/haasonsaas/agentor/internal/task"
	"github.com/haasonsaas/agentor/pkg/models"
)

// revisionMarker is what a Reviewer's artifact must contain to send
// the change back to the Coder for another pass instead of completing
// the pipeline outright.
const revisionMarker = "NEEDS_REVISION"

// ErrDeadlock is returned when execution has pending tasks but none
// are ready. In the fixed pipeline this happens whenever a task fails,
// since its dependents require it to be Completed.
var ErrDeadlock = errors.New("orchestrator: deadlock, pending tasks but none ready")

// Role names the fixed pipeline stages.
type Role string

const (
	RoleSpec     Role = "spec"
	RoleCoder    Role = "coder"
	RoleTester   Role = "tester"
	RoleReviewer Role = "reviewer"
)

// RoleProfile describes one role's agent loop. runTask hands the loop
// SystemPrompt, MaxTurns and Permissions. Temperature and ToolGroup are
// stored on the profile but not passed on: the loop is given no tool
// descriptors and its backend requests carry no per-role temperature.
type RoleProfile struct {
	SystemPrompt string
	MaxTurns     int
	Temperature  float32
	ToolGroup    string
	Permissions  *capability.Set
}

// DefaultRoleProfiles returns the profile set the fixed pipeline ships
// with. Callers may override any entry before constructing an Engine.
func DefaultRoleProfiles() map[Role]RoleProfile {
	return map[Role]RoleProfile{
		RoleSpec: {
			SystemPrompt: "You write a clear, testable specification for the requested change. Output the spec only.",
			MaxTurns:     8,
			Temperature:  0.2,
			ToolGroup:    "spec",
		},
		RoleCoder: {
			SystemPrompt: "You implement the specification precisely using the available tools. Output the final diff or file contents.",
			MaxTurns:     25,
			Temperature:  0.2,
			ToolGroup:    "coder",
		},
		RoleTester: {
			SystemPrompt: "You write and run tests against the implementation and report pass/fail with detail.",
			MaxTurns:     20,
			Temperature:  0.2,
			ToolGroup:    "tester",
		},
		RoleReviewer: {
			SystemPrompt: "You review the specification, implementation, and test results for correctness and clarity.",
			MaxTurns:     10,
			Temperature:  0.3,
			ToolGroup:    "reviewer",
		},
	}
}

// BackendFactory resolves a Role to the backend.Backend its agent loop
// should use. Injectable so tests and alternative providers can swap
// in fakes without touching the pipeline shape.
type BackendFactory func(role Role) backend.Backend

// Result is the synthesized outcome of one orchestration run.
type Result struct {
	Summary      string
	Artifacts    map[string]string
	Total        int
	Completed    int
	Failed       int
	NeedsReview  int
}

// Engine drives one orchestration run over a fresh task graph.
type Engine struct {
	backendFor BackendFactory
	proxy      *proxy.Proxy
	mon        *monitor.Monitor
	auditLog   *audit.Log
	profiles   map[Role]RoleProfile
	spawnCfg   spawner.Config

	mu    sync.Mutex
	queue *task.Queue
	spawn *spawner.Spawner
}

// New constructs an Engine. profiles may be nil to use
// DefaultRoleProfiles. auditLog may be nil to disable audit recording
// (tests); every production run should pass the same *audit.Log the
// proxy is constructed with, since the agent loop is what records
// tool_call/tool_result/tool_error/agent_response entries. The spawner
// bounding a Reviewer's request-revision loop defaults to
// spawner.DefaultConfig(); override with SetSpawnConfig before calling
// Run.
func New(backendFor BackendFactory, p *proxy.Proxy, mon *monitor.Monitor, auditLog *audit.Log, profiles map[Role]RoleProfile) *Engine {
	if profiles == nil {
		profiles = DefaultRoleProfiles()
	}
	return &Engine{backendFor: backendFor, proxy: p, mon: mon, auditLog: auditLog, profiles: profiles, spawnCfg: spawner.DefaultConfig()}
}

// SetSpawnConfig overrides the depth/fanout ceiling applied to
// Reviewer-requested revision passes.
func (e *Engine) SetSpawnConfig(cfg spawner.Config) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.spawnCfg = cfg
}

// Run executes the full plan → execute → synthesize pipeline for
// prompt and returns the synthesized Result.
func (e *Engine) Run(ctx context.Context, sessionID, prompt string) (Result, error) {
	q := e.plan(prompt)
	e.mu.Lock()
	e.queue = q
	e.spawn = spawner.New(q, e.spawnCfg)
	e.mu.Unlock()

	if q.HasCycle() {
		return Result{}, fmt.Errorf("orchestrator: plan produced a cyclic graph")
	}

	if err := e.execute(ctx, sessionID, q); err != nil {
		return Result{}, err
	}

	return e.synthesize(q), nil
}

// plan emits the fixed four-task shape: Spec (no deps), Coder (depends
// on Spec), Tester (depends on Coder), Reviewer (depends on Coder and
// Tester).
func (e *Engine) plan(prompt string) *task.Queue {
	q := task.New()
	specID := uuid.NewString()
	coderID := uuid.NewString()
	testerID := uuid.NewString()
	reviewerID := uuid.NewString()

	q.Add(&task.Task{ID: specID, Role: string(RoleSpec), Description: prompt, Status: task.Pending})
	q.Add(&task.Task{ID: coderID, Role: string(RoleCoder), Description: prompt, DependsOn: []string{specID}, Status: task.Pending})
	q.Add(&task.Task{ID: testerID, Role: string(RoleTester), Description: prompt, DependsOn: []string{coderID}, Status: task.Pending})
	q.Add(&task.Task{ID: reviewerID, Role: string(RoleReviewer), Description: prompt, DependsOn: []string{coderID, testerID}, Status: task.Pending})
	return q
}

// execute loops while the queue is not done, running every ready task
// in the current wave, until the graph is exhausted or stalls.
func (e *Engine) execute(ctx context.Context, sessionID string, q *task.Queue) error {
	for !q.IsDone() {
		ready := q.AllReady()
		if len(ready) == 0 {
			if q.PendingCount() > 0 {
				return ErrDeadlock
			}
			break
		}

		var wg sync.WaitGroup
		for _, t := range ready {
			q.MarkRunning(t.ID)
			wg.Add(1)
			go func(t *task.Task) {
				defer wg.Done()
				e.runTask(ctx, sessionID, q, t)
			}(t)
		}
		wg.Wait()
	}
	return nil
}

func (e *Engine) runTask(ctx context.Context, sessionID string, q *task.Queue, t *task.Task) {
	role := Role(t.Role)
	profile := e.profiles[role]

	if e.mon != nil {
		e.mon.StartTask(t.Role, t.ID)
		defer e.mon.FinishTask(t.Role)
	}

	start := time.Now()
	b := e.backendFor(role)

	// profile.Permissions, when set, scopes this role's tool dispatches
	// below the proxy's engine-wide grants; nil leaves the proxy's own
	// grant set in force.
	loop := agentloop.New(b, e.proxy, e.auditLog, agentloop.Config{
		MaxTurns:     profile.MaxTurns,
		SystemPrompt: profile.SystemPrompt,
		AgentID:      fmt.Sprintf("%s:%s", sessionID, t.ID),
		Permissions:  profile.Permissions,
	})

	text, stats, err := loop.Run(ctx, &models.Session{ID: sessionID}, nil, t.Description)
	duration := time.Since(start)

	if e.mon != nil {
		e.mon.RecordDuration(t.Role, duration)
		e.mon.RecordTurn(t.Role, stats.Turns, stats.ToolCalls)
	}

	if err != nil {
		q.MarkFailed(t.ID, err.Error())
		if e.mon != nil {
			e.mon.RecordError(t.Role)
		}
		return
	}

	t.Artifact = text

	if role == RoleReviewer && strings.Contains(text, revisionMarker) {
		e.requestRevision(sessionID, q, t)
		return
	}
	q.MarkCompleted(t.ID)
}

// requestRevision marks a Reviewer's task as needing human review and
// spawns a follow-up Coder task as its child, bounded by the engine's
// spawn config, so the pipeline can send work back for another pass
// instead of completing on a rejected review.
func (e *Engine) requestRevision(sessionID string, q *task.Queue, reviewer *task.Task) {
	q.MarkNeedsReview(reviewer.ID)

	e.mu.Lock()
	sp := e.spawn
	e.mu.Unlock()
	if sp == nil {
		return
	}

	if _, err := sp.Spawn(spawner.Request{
		Description: fmt.Sprintf("Address reviewer feedback: %s", reviewer.Artifact),
		Role:        string(RoleCoder),
		ParentID:    reviewer.ID,
	}); err != nil {
		if e.mon != nil {
			e.mon.RecordError(reviewer.Role)
		}
	}
}

// synthesize concatenates every task's artifact in dependency order
// and produces the summary Result.
func (e *Engine) synthesize(q *task.Queue) Result {
	tasks := q.AllTasks()
	// AllTasks has no order; visiting in creation order puts a spawned
	// revision task after the tasks that existed when it was created.
	sort.SliceStable(tasks, func(i, j int) bool { return tasks[i].CreatedAt.Before(tasks[j].CreatedAt) })
	ordered := topologicalOrder(tasks)

	artifacts := make(map[string]string, len(ordered))
	var sb strings.Builder
	for _, t := range ordered {
		if t.Artifact == "" {
			continue
		}
		artifacts[t.Role] = t.Artifact
		fmt.Fprintf(&sb, "## %s\n\n%s\n\n", strings.ToUpper(t.Role), t.Artifact)
	}

	res := Result{
		Artifacts:   artifacts,
		Total:       q.TotalCount(),
		Completed:   q.CompletedCount(),
		Failed:      q.FailedCount(),
		NeedsReview: q.NeedsReviewCount(),
	}

	summary := fmt.Sprintf("%d/%d tasks completed, %d failed", res.Completed, res.Total, res.Failed)
	if res.NeedsReview > 0 {
		summary += fmt.Sprintf(", %d awaiting human review", res.NeedsReview)
	}
	res.Summary = summary + "\n\n" + sb.String()
	return res
}

// topologicalOrder sorts tasks so every task appears after everything
// it depends on, matching the dependency order the synthesize step
// concatenates artifacts in.
func topologicalOrder(tasks []*task.Task) []*task.Task {
	byID := make(map[string]*task.Task, len(tasks))
	for _, t := range tasks {
		byID[t.ID] = t
	}

	var order []*task.Task
	visited := make(map[string]bool, len(tasks))
	var visit func(t *task.Task)
	visit = func(t *task.Task) {
		if visited[t.ID] {
			return
		}
		visited[t.ID] = true
		for _, dep := range t.DependsOn {
			if d, ok := byID[dep]; ok {
				visit(d)
			}
		}
		order = append(order, t)
	}
	for _, t := range tasks {
		visit(t)
	}
	return order
}
