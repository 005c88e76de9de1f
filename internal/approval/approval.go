// Package approval implements the suspended request/decision round
// trip a worker uses to pause for a human decision: an auto-approver
// for tests, a callback-based channel, and a broadcast channel keyed
// by request id for external subscribers.
package approval

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Request is what a worker submits when it needs a human decision
// before proceeding.
type Request struct {
	ID        string
	SessionID string
	AgentID   string
	ToolName  string
	Reason    string
	CreatedAt time.Time
}

// Decision is the outcome of an approval request.
type Decision struct {
	Approved bool
	Reason   string
}

// timedOut is the synthetic decision returned when a request's
// deadline elapses before a human responds.
func timedOut() Decision { return Decision{Approved: false, Reason: "Timed out"} }

// closedChannel is the synthetic decision returned when the channel is
// closed while a request is outstanding.
func closedChannel() Decision { return Decision{Approved: false, Reason: "Channel closed"} }

// Channel is implemented by every approval transport: an auto-approver
// for tests, a callback-based channel, and a broadcast channel.
type Channel interface {
	// RequestApproval blocks (cooperatively) until a matching decision
	// arrives, the request's timeout elapses, or the channel closes.
	RequestApproval(ctx context.Context, req Request, timeout time.Duration) (Decision, error)
}

// AutoApprover always approves (or always denies), for tests and
// non-interactive pipelines that never want to stall on a human.
type AutoApprover struct {
	Approve bool
	Reason  string
}

func (a AutoApprover) RequestApproval(ctx context.Context, req Request, timeout time.Duration) (Decision, error) {
	return Decision{Approved: a.Approve, Reason: a.Reason}, nil
}

// CallbackChannel invokes a synchronous decision function directly,
// useful when the approver lives in-process (e.g. a CLI prompt).
type CallbackChannel struct {
	Decide func(ctx context.Context, req Request) Decision
}

func (c CallbackChannel) RequestApproval(ctx context.Context, req Request, timeout time.Duration) (Decision, error) {
	type result struct{ d Decision }
	done := make(chan result, 1)
	go func() { done <- result{c.Decide(ctx, req)} }()

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case r := <-done:
		return r.d, nil
	case <-timer.C:
		return timedOut(), nil
	case <-ctx.Done():
		return Decision{}, ctx.Err()
	}
}

// pendingWait is one outstanding request's wakeup slot.
type pendingWait struct {
	decision chan Decision
}

// BroadcastChannel emits every request to external subscribers (e.g.
// over a websocket gateway) and routes the matching response back via
// a keyed wakeup table; a decision is matched to its waiter by request
// ID.
type BroadcastChannel struct {
	// Publish is called once per request with the request to emit to
	// subscribers. It must not block for long; the actual wait for a
	// decision happens in RequestApproval.
	Publish func(req Request)

	mu      sync.Mutex
	pending map[string]*pendingWait
	closed  bool
}

// NewBroadcastChannel constructs a BroadcastChannel that calls publish
// for every new request.
func NewBroadcastChannel(publish func(req Request)) *BroadcastChannel {
	return &BroadcastChannel{Publish: publish, pending: make(map[string]*pendingWait)}
}

func (b *BroadcastChannel) RequestApproval(ctx context.Context, req Request, timeout time.Duration) (Decision, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.CreatedAt.IsZero() {
		req.CreatedAt = time.Now()
	}

	wait := &pendingWait{decision: make(chan Decision, 1)}

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return closedChannel(), nil
	}
	b.pending[req.ID] = wait
	b.mu.Unlock()

	defer func() {
		b.mu.Lock()
		delete(b.pending, req.ID)
		b.mu.Unlock()
	}()

	if b.Publish != nil {
		b.Publish(req)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case d := <-wait.decision:
		return d, nil
	case <-timer.C:
		return timedOut(), nil
	case <-ctx.Done():
		return Decision{}, ctx.Err()
	}
}

// Resolve delivers d to the request waiting under id, if any. It is
// the "keyed wakeup" a subscriber calls after a human responds.
// Returns false if no matching request is currently outstanding.
func (b *BroadcastChannel) Resolve(id string, d Decision) bool {
	b.mu.Lock()
	wait, ok := b.pending[id]
	b.mu.Unlock()
	if !ok {
		return false
	}
	select {
	case wait.decision <- d:
		return true
	default:
		return false
	}
}

// Close marks the channel closed; every currently outstanding request
// immediately receives a synthetic negative decision, and every
// future RequestApproval call does too without publishing.
func (b *BroadcastChannel) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	for _, wait := range b.pending {
		select {
		case wait.decision <- closedChannel():
		default:
		}
	}
}
