package core

// stage_limiter.go bounds how many files are parsed and validated at once.
//
// Staging holds a whole file in memory and validates every row, so a burst
// of uploads can exhaust memory. Callers wait up to maxWait for a slot
// before failing with ErrTooManyStages. WaitForDrain lets shutdown wait for
// in-flight stages.

import (
	"context"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"
)

// DefaultMaxConcurrentStages is the default limit for parallel stages.
const DefaultMaxConcurrentStages = 5

// DefaultStageWaitTime is how long to wait for a slot before rejecting.
const DefaultStageWaitTime = 30 * time.Second

// StageLimiter is a weighted semaphore with a wait deadline.
type StageLimiter struct {
	sem     *semaphore.Weighted
	max     int
	maxWait time.Duration
	active  atomic.Int64
}

// NewStageLimiter creates a limiter allowing maxConcurrent simultaneous stages.
func NewStageLimiter(maxConcurrent int, maxWait time.Duration) *StageLimiter {
	if maxConcurrent <= 0 {
		maxConcurrent = DefaultMaxConcurrentStages
	}
	if maxWait <= 0 {
		maxWait = DefaultStageWaitTime
	}
	return &StageLimiter{
		sem:     semaphore.NewWeighted(int64(maxConcurrent)),
		max:     maxConcurrent,
		maxWait: maxWait,
	}
}

// Acquire waits for a slot. It returns ErrTooManyStages when maxWait
// elapses and ctx.Err() when ctx is done first.
// The caller must call Release when done.
func (l *StageLimiter) Acquire(ctx context.Context) error {
	waitCtx, cancel := context.WithTimeout(ctx, l.maxWait)
	defer cancel()

	if err := l.sem.Acquire(waitCtx, 1); err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		return ErrTooManyStages
	}
	l.active.Add(1)
	return nil
}

// TryAcquire takes a slot without waiting.
func (l *StageLimiter) TryAcquire() bool {
	if !l.sem.TryAcquire(1) {
		return false
	}
	l.active.Add(1)
	return true
}

// Release frees a slot taken by Acquire or TryAcquire.
func (l *StageLimiter) Release() {
	l.active.Add(-1)
	l.sem.Release(1)
}

// ActiveCount returns the number of stages in flight.
func (l *StageLimiter) ActiveCount() int {
	return int(l.active.Load())
}

// MaxConcurrent returns the slot count.
func (l *StageLimiter) MaxConcurrent() int {
	return l.max
}

// WaitForDrain blocks until no stage is in flight or ctx is done.
func (l *StageLimiter) WaitForDrain(ctx context.Context) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()

	for {
		if l.ActiveCount() == 0 {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// StageLimiterStatus is a point-in-time view of the limiter.
type StageLimiterStatus struct {
	Active        int `json:"active"`
	Available     int `json:"available"`
	MaxConcurrent int `json:"max_concurrent"`
}

// Status returns the limiter state for monitoring.
func (l *StageLimiter) Status() StageLimiterStatus {
	active := l.ActiveCount()
	return StageLimiterStatus{
		Active:        active,
		Available:     l.max - active,
		MaxConcurrent: l.max,
	}
}
