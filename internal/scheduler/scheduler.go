// Package scheduler enforces the concurrency disciplines the fetch pipeline
// must respect: a global bound on parallel fetches, mutual exclusion per
// domain, a cooldown between consecutive fetches to the same domain, and a
// single process-wide lock around PDF extraction. A Scheduler value holds
// all of that state explicitly so tests can build their own instance rather
// than relying on ambient globals.
package scheduler

import (
	"context"
	"net/url"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"
)

// Scheduler owns the shared resources fetches must acquire, in the order
// global semaphore, per-domain mutex, per-domain cooldown, and (only for the
// PDF branch) the process-wide PDF mutex.
type Scheduler struct {
	global   *semaphore.Weighted
	pdf      *semaphore.Weighted
	coolDown time.Duration

	mu          sync.Mutex
	domainSem   map[string]*semaphore.Weighted
	nextAllowed map[string]time.Time

	now func() time.Time
}

// New builds a Scheduler with the given global fetch concurrency and
// per-domain cooldown. concurrentLimit <= 0 is treated as 1 (no real
// unbounded mode is offered — a fetch pipeline with zero concurrency does
// nothing).
func New(concurrentLimit int, coolDown time.Duration) *Scheduler {
	if concurrentLimit <= 0 {
		concurrentLimit = 1
	}
	return &Scheduler{
		global:      semaphore.NewWeighted(int64(concurrentLimit)),
		pdf:         semaphore.NewWeighted(1),
		coolDown:    coolDown,
		domainSem:   make(map[string]*semaphore.Weighted),
		nextAllowed: make(map[string]time.Time),
		now:         time.Now,
	}
}

// Host canonicalizes a URL into the domain key the scheduler partitions on:
// lowercased hostname, port stripped.
func Host(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return strings.ToLower(rawURL)
	}
	return strings.ToLower(u.Hostname())
}

func (s *Scheduler) domainSemFor(host string) *semaphore.Weighted {
	s.mu.Lock()
	defer s.mu.Unlock()
	sem, ok := s.domainSem[host]
	if !ok {
		sem = semaphore.NewWeighted(1)
		s.domainSem[host] = sem
	}
	return sem
}

// Release is returned by AcquireFetch and AcquirePDF; it undoes exactly the
// acquisitions that call made, in the reverse order they were taken.
type Release func()

// AcquireFetch acquires the global semaphore, then the per-domain mutex for
// host, then blocks (while still holding the domain mutex, so ordering
// across waiters on the same domain is preserved) until any cooldown
// recorded for host has elapsed. It returns a Release that must be called
// exactly once when the fetch completes; calling it records the cooldown
// deadline for host before releasing the domain mutex and the global
// semaphore.
//
// Any step can be unblocked by ctx cancellation, in which case AcquireFetch
// releases whatever it already holds and returns ctx.Err().
func (s *Scheduler) AcquireFetch(ctx context.Context, host string) (Release, error) {
	if err := s.global.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	domSem := s.domainSemFor(host)
	if err := domSem.Acquire(ctx, 1); err != nil {
		s.global.Release(1)
		return nil, err
	}
	if err := s.waitCooldown(ctx, host); err != nil {
		domSem.Release(1)
		s.global.Release(1)
		return nil, err
	}
	released := false
	return func() {
		if released {
			return
		}
		released = true
		s.mu.Lock()
		s.nextAllowed[host] = s.now().Add(s.coolDown)
		s.mu.Unlock()
		domSem.Release(1)
		s.global.Release(1)
	}, nil
}

func (s *Scheduler) waitCooldown(ctx context.Context, host string) error {
	for {
		s.mu.Lock()
		until, ok := s.nextAllowed[host]
		s.mu.Unlock()
		if !ok {
			return nil
		}
		wait := until.Sub(s.now())
		if wait <= 0 {
			return nil
		}
		timer := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			timer.Stop()
			return ctx.Err()
		case <-timer.C:
			// Re-check: another waiter for this host may have pushed
			// nextAllowed further out while we slept.
		}
	}
}

// AcquirePDF takes the process-wide PDF extraction mutex. Callers must have
// already acquired the global semaphore via AcquireFetch (the PDF mutex is
// orthogonal to it and is always acquired after, released before, to avoid
// a PDF task waiting on a non-PDF task that itself needs the semaphore).
func (s *Scheduler) AcquirePDF(ctx context.Context) (Release, error) {
	if err := s.pdf.Acquire(ctx, 1); err != nil {
		return nil, err
	}
	released := false
	return func() {
		if released {
			return
		}
		released = true
		s.pdf.Release(1)
	}, nil
}
