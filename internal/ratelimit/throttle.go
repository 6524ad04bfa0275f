package ratelimit

import (
	"context"
	"sync"
	"time"
)

// Throttle enforces a minimum interval between outbound requests across the
// whole process. Every fetch call site shares one Throttle, so raising the
// fan-out of callers raises queued concurrency but never the request rate.
//
// Wait hands out start slots in call order: each caller reserves the next
// free slot under the lock and then sleeps until its slot arrives.
type Throttle struct {
	minInterval time.Duration

	mu       sync.Mutex
	nextSlot time.Time

	// Stats
	totalRequests int64
	totalWaited   time.Duration
	lastRequest   time.Time
}

// NewThrottle creates a throttle with the given minimum spacing between
// successive request starts. A non-positive interval disables throttling.
func NewThrottle(minInterval time.Duration) *Throttle {
	return &Throttle{minInterval: minInterval}
}

// Wait blocks until the caller's slot arrives or the context is cancelled.
// A cancelled wait gives up the reservation's delay but keeps the slot
// spacing intact for later callers.
func (t *Throttle) Wait(ctx context.Context) error {
	t.mu.Lock()
	now := time.Now()
	slot := t.nextSlot
	if slot.Before(now) {
		slot = now
	}
	t.nextSlot = slot.Add(t.minInterval)
	t.totalRequests++
	t.lastRequest = now
	t.mu.Unlock()

	delay := time.Until(slot)
	if delay <= 0 {
		return nil
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
	}

	t.mu.Lock()
	t.totalWaited += delay
	t.mu.Unlock()
	return nil
}

// MinInterval returns the configured spacing.
func (t *Throttle) MinInterval() time.Duration {
	return t.minInterval
}

// Stats contains throttle statistics
type Stats struct {
	MinIntervalMs int     `json:"min_interval_ms"`
	TotalRequests int64   `json:"total_requests"`
	TotalWaitedMs int64   `json:"total_waited_ms"`
	AvgWaitedMs   float64 `json:"avg_waited_ms"`
	LastRequest   *time.Time `json:"last_request,omitempty"`
}

// GetStats returns current throttle statistics
func (t *Throttle) GetStats() Stats {
	t.mu.Lock()
	defer t.mu.Unlock()

	stats := Stats{
		MinIntervalMs: int(t.minInterval / time.Millisecond),
		TotalRequests: t.totalRequests,
		TotalWaitedMs: t.totalWaited.Milliseconds(),
	}
	if t.totalRequests > 0 {
		stats.AvgWaitedMs = float64(stats.TotalWaitedMs) / float64(t.totalRequests)
	}
	if !t.lastRequest.IsZero() {
		last := t.lastRequest
		stats.LastRequest = &last
	}
	return stats
}

// Reset clears all tracked requests (useful for testing)
func (t *Throttle) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.nextSlot = time.Time{}
	t.totalRequests = 0
	t.totalWaited = 0
	t.lastRequest = time.Time{}
}
