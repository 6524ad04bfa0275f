package ratelimit

import (
	"context"
	"sync"
	"testing"
	"time"
)

func TestWaitEnforcesMinInterval(t *testing.T) {
	throttle := NewThrottle(50 * time.Millisecond)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 3; i++ {
		if err := throttle.Wait(ctx); err != nil {
			t.Fatalf("Wait failed: %v", err)
		}
	}
	elapsed := time.Since(start)

	// Three requests need two full intervals between them.
	if elapsed < 100*time.Millisecond {
		t.Errorf("three waits finished in %v, want at least 100ms", elapsed)
	}
}

func TestWaitSpacingUnderConcurrency(t *testing.T) {
	throttle := NewThrottle(30 * time.Millisecond)
	ctx := context.Background()

	const n = 5
	var mu sync.Mutex
	var starts []time.Time

	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := throttle.Wait(ctx); err != nil {
				t.Errorf("Wait failed: %v", err)
				return
			}
			mu.Lock()
			starts = append(starts, time.Now())
			mu.Unlock()
		}()
	}
	wg.Wait()

	if len(starts) != n {
		t.Fatalf("got %d starts, want %d", len(starts), n)
	}

	// Regardless of arrival order, release times must span the full window.
	var min, max time.Time
	for i, s := range starts {
		if i == 0 || s.Before(min) {
			min = s
		}
		if i == 0 || s.After(max) {
			max = s
		}
	}
	want := time.Duration(n-1) * 30 * time.Millisecond
	// Timer precision can release a hair early.
	if span := max.Sub(min); span < want-5*time.Millisecond {
		t.Errorf("%d concurrent waits spanned %v, want at least %v", n, span, want)
	}
}

func TestWaitContextCancel(t *testing.T) {
	throttle := NewThrottle(time.Minute)

	// First call takes the immediate slot.
	if err := throttle.Wait(context.Background()); err != nil {
		t.Fatalf("first Wait failed: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	start := time.Now()
	err := throttle.Wait(ctx)
	if err == nil {
		t.Fatal("Wait with cancelled context should fail")
	}
	if time.Since(start) > 5*time.Second {
		t.Error("cancelled Wait blocked far past its deadline")
	}
}

func TestZeroIntervalNeverBlocks(t *testing.T) {
	throttle := NewThrottle(0)
	ctx := context.Background()

	start := time.Now()
	for i := 0; i < 100; i++ {
		if err := throttle.Wait(ctx); err != nil {
			t.Fatalf("Wait failed: %v", err)
		}
	}
	if elapsed := time.Since(start); elapsed > time.Second {
		t.Errorf("100 waits with zero interval took %v", elapsed)
	}
}

func TestGetStats(t *testing.T) {
	throttle := NewThrottle(10 * time.Millisecond)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := throttle.Wait(ctx); err != nil {
			t.Fatalf("Wait failed: %v", err)
		}
	}

	stats := throttle.GetStats()
	if stats.TotalRequests != 3 {
		t.Errorf("TotalRequests = %d, want 3", stats.TotalRequests)
	}
	if stats.MinIntervalMs != 10 {
		t.Errorf("MinIntervalMs = %d, want 10", stats.MinIntervalMs)
	}
	if stats.LastRequest == nil {
		t.Error("LastRequest should be set after requests")
	}

	throttle.Reset()
	if stats := throttle.GetStats(); stats.TotalRequests != 0 {
		t.Errorf("TotalRequests after Reset = %d, want 0", stats.TotalRequests)
	}
}
