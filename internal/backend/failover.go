package backend

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
)

// FailoverConfig is the retry policy §4.5 names as
// {max_retries, backoff_base_ms, backoff_max_ms}.
type FailoverConfig struct {
	MaxRetries    int
	BackoffBase   time.Duration
	BackoffMax    time.Duration
	CircuitThreshold int
	CircuitCooldown  time.Duration

	// Sleep is injectable so tests can run the backoff loop without
	// real delay; it defaults to time.Sleep-via-context.
	Sleep func(ctx context.Context, d time.Duration) error
}

// DefaultFailoverConfig returns the sanitize-then-default values the
// teacher's agent package uses for its own failover composite.
func DefaultFailoverConfig() FailoverConfig {
	return FailoverConfig{
		MaxRetries:       2,
		BackoffBase:      100 * time.Millisecond,
		BackoffMax:       5 * time.Second,
		CircuitThreshold: 3,
		CircuitCooldown:  30 * time.Second,
	}
}

func sanitizeFailoverConfig(cfg FailoverConfig) FailoverConfig {
	def := DefaultFailoverConfig()
	if cfg.MaxRetries < 0 {
		cfg.MaxRetries = def.MaxRetries
	}
	if cfg.BackoffMax <= 0 {
		cfg.BackoffMax = def.BackoffMax
	}
	if cfg.CircuitThreshold <= 0 {
		cfg.CircuitThreshold = def.CircuitThreshold
	}
	if cfg.CircuitCooldown <= 0 {
		cfg.CircuitCooldown = def.CircuitCooldown
	}
	if cfg.Sleep == nil {
		cfg.Sleep = sleepCtx
	}
	return cfg
}

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

type circuitState struct {
	failures   int
	open       bool
	openedAt   time.Time
}

// Failover wraps an ordered, non-empty list of backends and implements
// Backend itself so the agent loop never distinguishes a single backend
// from a failover composite.
type Failover struct {
	backends []Backend
	cfg      FailoverConfig

	mu      sync.Mutex
	circuit map[string]*circuitState
}

// NewFailover builds a composite over backends in priority order.
// Panics if backends is empty, mirroring the spec's "non-empty list"
// precondition.
func NewFailover(cfg FailoverConfig, backends ...Backend) *Failover {
	if len(backends) == 0 {
		panic("backend: NewFailover requires at least one backend")
	}
	return &Failover{
		backends: backends,
		cfg:      sanitizeFailoverConfig(cfg),
		circuit:  make(map[string]*circuitState),
	}
}

func (f *Failover) Name() string {
	return "failover:" + f.backends[0].Name()
}

func (f *Failover) available(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := f.circuit[name]
	if st == nil || !st.open {
		return true
	}
	return time.Since(st.openedAt) > f.cfg.CircuitCooldown
}

func (f *Failover) recordSuccess(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.circuit, name)
}

func (f *Failover) recordFailure(name string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := f.circuit[name]
	if st == nil {
		st = &circuitState{}
		f.circuit[name] = st
	}
	st.failures++
	if st.failures >= f.cfg.CircuitThreshold {
		st.open = true
		st.openedAt = time.Now()
	}
}

// Chat implements the algorithm in spec.md §4.5: for each backend in
// order, attempt up to MaxRetries retries with exponential backoff
// capped at BackoffMax; a non-retryable error moves to the next backend
// without waiting. In addition, a backend whose circuit is open
// (CircuitThreshold consecutive failed calls, less than CircuitCooldown
// ago) is skipped without being called.
func (f *Failover) Chat(ctx context.Context, req Request) (ModelResponse, error) {
	var lastErr error
	for _, b := range f.backends {
		if !f.available(b.Name()) {
			continue
		}
		resp, err := f.tryBackend(ctx, b, func() (ModelResponse, error) {
			return b.Chat(ctx, req)
		})
		if err == nil {
			f.recordSuccess(b.Name())
			return resp, nil
		}
		lastErr = err
		f.recordFailure(b.Name())
	}
	if lastErr == nil {
		lastErr = errors.New("backend: all providers exhausted")
	}
	return ModelResponse{}, fmt.Errorf("backend: all providers exhausted: %w", lastErr)
}

func (f *Failover) tryBackend(ctx context.Context, b Backend, call func() (ModelResponse, error)) (ModelResponse, error) {
	backoff := f.cfg.BackoffBase
	var lastErr error
	for attempt := 0; attempt <= f.cfg.MaxRetries; attempt++ {
		resp, err := call()
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if !IsRetryable(err) {
			return ModelResponse{}, err
		}
		if attempt >= f.cfg.MaxRetries {
			break
		}
		wait := backoff
		if wait > f.cfg.BackoffMax {
			wait = f.cfg.BackoffMax
		}
		if err := f.cfg.Sleep(ctx, wait); err != nil {
			return ModelResponse{}, err
		}
		backoff *= 2
	}
	return ModelResponse{}, lastErr
}

// ChatStream establishes a stream on the first available, successfully
// connecting backend, applying the same per-backend retry-on-establish
// policy as Chat. Once a stream is established it is not retried.
func (f *Failover) ChatStream(ctx context.Context, req Request) (<-chan StreamEvent, func() (ModelResponse, error), error) {
	var lastErr error
	for _, b := range f.backends {
		if !f.available(b.Name()) {
			continue
		}
		backoff := f.cfg.BackoffBase
		for attempt := 0; attempt <= f.cfg.MaxRetries; attempt++ {
			events, final, err := b.ChatStream(ctx, req)
			if err == nil {
				f.recordSuccess(b.Name())
				return events, final, nil
			}
			lastErr = err
			if !IsRetryable(err) {
				break
			}
			if attempt >= f.cfg.MaxRetries {
				break
			}
			wait := backoff
			if wait > f.cfg.BackoffMax {
				wait = f.cfg.BackoffMax
			}
			if serr := f.cfg.Sleep(ctx, wait); serr != nil {
				return nil, nil, serr
			}
			backoff *= 2
		}
		f.recordFailure(b.Name())
	}
	if lastErr == nil {
		lastErr = errors.New("backend: all providers exhausted")
	}
	return nil, nil, fmt.Errorf("backend: all providers exhausted: %w", lastErr)
}
