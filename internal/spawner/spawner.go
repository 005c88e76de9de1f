// Package spawner lets a running worker enqueue a child task onto the
// shared task graph, bounded by depth and fanout ceilings so a runaway
// worker cannot recurse or fan out without limit.
package spawner

import (
	"errors"
	"fmt"
	"sync"

	"github.com/google/uuid"

	"github.com/haasonsaas/agentor/internal/task"
)

// ErrSpawnDepthExceeded is returned when spawning would push a child
// past MaxDepth.
var ErrSpawnDepthExceeded = errors.New("spawner: maximum spawn depth exceeded")

// ErrSpawnFanoutExceeded is returned when the parent already has
// MaxChildrenPerTask children.
var ErrSpawnFanoutExceeded = errors.New("spawner: max children per task exceeded")

// ErrParentNotFound is returned when request.ParentID does not name a
// task in the graph.
var ErrParentNotFound = errors.New("spawner: parent task not found")

// Config bounds the spawner's recursion and fanout.
type Config struct {
	MaxDepth            int
	MaxChildrenPerTask  int
}

// DefaultConfig matches the defaults the orchestrator ships with.
func DefaultConfig() Config {
	return Config{MaxDepth: 3, MaxChildrenPerTask: 5}
}

func sanitize(cfg Config) Config {
	def := DefaultConfig()
	if cfg.MaxDepth <= 0 {
		cfg.MaxDepth = def.MaxDepth
	}
	if cfg.MaxChildrenPerTask <= 0 {
		cfg.MaxChildrenPerTask = def.MaxChildrenPerTask
	}
	return cfg
}

// Request describes a child task a worker wants to enqueue.
type Request struct {
	Description string
	Role        string
	ParentID    string
	DependsOn   []string
}

// Spawner enqueues child tasks onto a shared queue.
type Spawner struct {
	mu    sync.Mutex
	queue *task.Queue
	cfg   Config
}

// New constructs a Spawner writing into queue.
func New(queue *task.Queue, cfg Config) *Spawner {
	return &Spawner{queue: queue, cfg: sanitize(cfg)}
}

func (s *Spawner) childCount(parentID string) int {
	n := 0
	for _, t := range s.queue.AllTasks() {
		if t.ParentID == parentID {
			n++
		}
	}
	return n
}

// Spawn validates request against the depth and fanout ceilings and,
// if it passes, adds a new Pending task inheriting depth = parent.depth
// + 1 and parent_id = parent, returning the new task's id.
func (s *Spawner) Spawn(req Request) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	parent, ok := s.queue.Get(req.ParentID)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrParentNotFound, req.ParentID)
	}
	if parent.Depth+1 > s.cfg.MaxDepth {
		return "", fmt.Errorf("%w: parent depth %d, max %d", ErrSpawnDepthExceeded, parent.Depth, s.cfg.MaxDepth)
	}
	if s.childCount(req.ParentID) >= s.cfg.MaxChildrenPerTask {
		return "", fmt.Errorf("%w: parent %s already has %d children", ErrSpawnFanoutExceeded, req.ParentID, s.cfg.MaxChildrenPerTask)
	}

	id := uuid.NewString()
	s.queue.Add(&task.Task{
		ID:          id,
		Role:        req.Role,
		Description: req.Description,
		DependsOn:   req.DependsOn,
		Status:      task.Pending,
		Depth:       parent.Depth + 1,
		ParentID:    req.ParentID,
	})
	return id, nil
}
