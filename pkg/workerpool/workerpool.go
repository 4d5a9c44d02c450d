// Package workerpool provides bounded, context-aware concurrency for the
// source cache's per-domain fetch pools and for any other component that
// needs a fixed number of concurrent workers with graceful shutdown.
package workerpool

import (
	"context"
	"sync"
	"time"
)

// Semaphore is a context-aware counting semaphore.
type Semaphore struct {
	ch chan struct{}
}

// NewSemaphore creates a semaphore with the given capacity.
func NewSemaphore(capacity int) *Semaphore {
	return &Semaphore{ch: make(chan struct{}, capacity)}
}

// Acquire blocks until a slot is free or ctx is done.
func (s *Semaphore) Acquire(ctx context.Context) error {
	select {
	case s.ch <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryAcquire attempts to acquire a slot without blocking.
func (s *Semaphore) TryAcquire() bool {
	select {
	case s.ch <- struct{}{}:
		return true
	default:
		return false
	}
}

// Release frees a slot. It panics if called without a matching Acquire,
// the same invariant the teacher's semaphore enforces.
func (s *Semaphore) Release() {
	select {
	case <-s.ch:
	default:
		panic("workerpool: release called without a matching acquire")
	}
}

// Available reports how many slots are currently free.
func (s *Semaphore) Available() int {
	return cap(s.ch) - len(s.ch)
}

// Pool bounds the number of goroutines running concurrently, as the
// source cache requires per domain: ten workers for ordinary mirrors,
// one for aur.archlinux.org so a slow AUR fetch can't starve others.
type Pool struct {
	name      string
	semaphore *Semaphore
	cancel    context.CancelFunc
	wg        sync.WaitGroup
	mu        sync.RWMutex
	closed    bool
}

// New creates a pool with the given name (used only for diagnostics) and
// worker capacity.
func New(name string, capacity int) *Pool {
	_, cancel := context.WithCancel(context.Background())

	return &Pool{
		name:      name,
		semaphore: NewSemaphore(capacity),
		cancel:    cancel,
	}
}

// Name returns the pool's diagnostic name (typically a source domain).
func (p *Pool) Name() string {
	return p.name
}

// Submit schedules work to run once a slot is free. It blocks until a
// slot opens, the context is canceled, or the pool is shut down.
func (p *Pool) Submit(ctx context.Context, work func(context.Context) error) error {
	workCtx, cancel := context.WithCancel(ctx)

	p.mu.RLock()

	if p.closed {
		p.mu.RUnlock()
		cancel()

		return context.Canceled
	}

	p.mu.RUnlock()

	if err := p.semaphore.Acquire(workCtx); err != nil {
		cancel()

		return err
	}

	p.wg.Add(1)

	go func() {
		defer p.wg.Done()
		defer p.semaphore.Release()
		defer cancel()

		_ = work(workCtx)
	}()

	return nil
}

// Shutdown closes the pool to new submissions and waits up to timeout for
// running work to finish. It does not cancel the contexts handed to work
// that is already running.
func (p *Pool) Shutdown(timeout time.Duration) error {
	p.mu.Lock()

	if p.closed {
		p.mu.Unlock()

		return nil
	}

	p.closed = true
	p.mu.Unlock()
	p.cancel()

	done := make(chan struct{})

	go func() {
		defer close(done)

		p.wg.Wait()
	}()

	select {
	case <-done:
		return nil
	case <-time.After(timeout):
		return context.DeadlineExceeded
	}
}

// Available reports the number of idle workers.
func (p *Pool) Available() int {
	return p.semaphore.Available()
}

// Registry keeps one Pool per domain, creating pools lazily so callers
// don't need to know the full domain set up front.
type Registry struct {
	mu         sync.Mutex
	pools      map[string]*Pool
	defaultCap int
	domainCaps map[string]int
}

// NewRegistry creates a registry with defaultCap workers per unrecognized
// domain and the given per-domain overrides (the source cache passes
// {"aur.archlinux.org": 1}).
func NewRegistry(defaultCap int, domainCaps map[string]int) *Registry {
	return &Registry{
		pools:      make(map[string]*Pool),
		defaultCap: defaultCap,
		domainCaps: domainCaps,
	}
}

// PoolFor returns the pool for the given domain, creating it on first use.
func (r *Registry) PoolFor(domain string) *Pool {
	r.mu.Lock()
	defer r.mu.Unlock()

	if p, ok := r.pools[domain]; ok {
		return p
	}

	capacity := r.defaultCap
	if c, ok := r.domainCaps[domain]; ok {
		capacity = c
	}

	p := New(domain, capacity)
	r.pools[domain] = p

	return p
}

// ShutdownAll shuts down every pool the registry has created, waiting up
// to timeout for each.
func (r *Registry) ShutdownAll(timeout time.Duration) error {
	r.mu.Lock()
	pools := make([]*Pool, 0, len(r.pools))
	for _, p := range r.pools {
		pools = append(pools, p)
	}
	r.mu.Unlock()

	var firstErr error

	for _, p := range pools {
		if err := p.Shutdown(timeout); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	return firstErr
}

// RetryWithContext retries fn with exponential backoff starting at
// baseDelay, stopping early if ctx is canceled.
func RetryWithContext(ctx context.Context, maxRetries int, baseDelay time.Duration,
	fn func(context.Context) error,
) error {
	var lastErr error

	delay := baseDelay

	for attempt := 0; attempt <= maxRetries; attempt++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		err := fn(ctx)
		if err == nil {
			return nil
		}

		lastErr = err

		if attempt < maxRetries {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(delay):
			}

			delay *= 2
		}
	}

	return lastErr
}
