// Package skill implements the name-to-skill registry every tool call
// resolves through: registration, descriptor listing for progressive
// disclosure, and permission-checked dispatch.
package skill

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/agentor/internal/capability"
	"github.com/haasonsaas/agentor/pkg/models"
)

// ErrPermissionDenied is returned by Execute when the caller's
// permission set does not cover every capability a skill requires.
var ErrPermissionDenied = errors.New("skill: permission denied")

// ErrUnknownTool is returned by Execute when no skill is registered
// under the requested name.
var ErrUnknownTool = errors.New("skill: unknown tool")

// Descriptor is the subset of a skill's shape exposed for model
// tool-calling and for progressive disclosure to a caller.
type Descriptor struct {
	Name        string
	Description string
	Group       string
	Parameters  map[string]any
	Requires    []capability.Capability
}

// Skill is one callable capability a worker can invoke through the
// registry. Input is validated against the schema compiled from
// Descriptor().Parameters (when non-empty) before Execute is called.
type Skill interface {
	Descriptor() Descriptor
	Execute(ctx context.Context, call models.ToolCall) (models.ToolResult, error)
}

// Registry resolves tool names to Skill implementations and enforces
// the capability check before dispatch.
type Registry struct {
	mu      sync.RWMutex
	skills  map[string]Skill
	schemas map[string]*jsonschema.Schema
}

// NewRegistry returns an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		skills:  make(map[string]Skill),
		schemas: make(map[string]*jsonschema.Schema),
	}
}

// Register adds or replaces a skill under its own descriptor name. If
// the descriptor carries a JSON-schema-shaped Parameters map, it is
// compiled once at registration time so Execute never pays a
// compilation cost per call.
func (r *Registry) Register(s Skill) error {
	d := s.Descriptor()
	var compiled *jsonschema.Schema
	if len(d.Parameters) > 0 {
		raw, err := json.Marshal(d.Parameters)
		if err != nil {
			return fmt.Errorf("skill: encode schema for %q: %w", d.Name, err)
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(d.Name+".json", bytes.NewReader(raw)); err != nil {
			return fmt.Errorf("skill: add schema resource for %q: %w", d.Name, err)
		}
		compiled, err = compiler.Compile(d.Name + ".json")
		if err != nil {
			return fmt.Errorf("skill: compile schema for %q: %w", d.Name, err)
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	r.skills[d.Name] = s
	if compiled != nil {
		r.schemas[d.Name] = compiled
	} else {
		delete(r.schemas, d.Name)
	}
	return nil
}

// Get returns the skill registered under name, if any.
func (r *Registry) Get(name string) (Skill, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.skills[name]
	return s, ok
}

// ListDescriptors returns every registered skill's descriptor, sorted
// by name for deterministic output.
func (r *Registry) ListDescriptors() []Descriptor {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Descriptor, 0, len(r.skills))
	for _, s := range r.skills {
		out = append(out, s.Descriptor())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// FilterByGroup returns descriptors whose Group equals tag.
func (r *Registry) FilterByGroup(tag string) []Descriptor {
	var out []Descriptor
	for _, d := range r.ListDescriptors() {
		if d.Group == tag {
			out = append(out, d)
		}
	}
	return out
}

// FilterByAllowed returns descriptors whose name appears in names,
// implementing progressive disclosure of only the tools a caller may
// currently see.
func (r *Registry) FilterByAllowed(names []string) []Descriptor {
	allowed := make(map[string]struct{}, len(names))
	for _, n := range names {
		allowed[n] = struct{}{}
	}
	var out []Descriptor
	for _, d := range r.ListDescriptors() {
		if _, ok := allowed[d.Name]; ok {
			out = append(out, d)
		}
	}
	return out
}

// Execute resolves call.Name, checks permissions.Covers against the
// skill's required capabilities, validates call.Input against the
// skill's compiled schema (if any), and dispatches. A schema failure
// is reported as an error ToolResult rather than a Go error, matching
// how a skill's own execution failure is reported.
func (r *Registry) Execute(ctx context.Context, call models.ToolCall, permissions *capability.Set) (models.ToolResult, error) {
	r.mu.RLock()
	s, ok := r.skills[call.Name]
	schema := r.schemas[call.Name]
	r.mu.RUnlock()

	if !ok {
		return models.ToolResult{}, fmt.Errorf("%w: %s", ErrUnknownTool, call.Name)
	}

	d := s.Descriptor()
	if permissions != nil && !permissions.Covers(d.Requires) {
		return models.ToolResult{}, fmt.Errorf("%w: %s", ErrPermissionDenied, call.Name)
	}

	if schema != nil {
		var decoded any
		if err := json.Unmarshal(call.Input, &decoded); err != nil {
			return models.ToolResult{ToolCallID: call.ID, Content: fmt.Sprintf("invalid input JSON: %v", err), IsError: true}, nil
		}
		if err := schema.Validate(decoded); err != nil {
			return models.ToolResult{ToolCallID: call.ID, Content: fmt.Sprintf("input failed schema validation: %v", err), IsError: true}, nil
		}
	}

	return s.Execute(ctx, call)
}
