package cache

import (
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestGetOrComputeCachesResult(t *testing.T) {
	store := NewStore(t.TempDir())

	calls := 0
	producer := func() ([]byte, error) {
		calls++
		return []byte("payload"), nil
	}

	for i := 0; i < 3; i++ {
		got, err := store.GetOrCompute(DetailPageKey(42), time.Hour, producer)
		if err != nil {
			t.Fatalf("GetOrCompute failed: %v", err)
		}
		if string(got) != "payload" {
			t.Fatalf("got %q, want %q", got, "payload")
		}
	}
	if calls != 1 {
		t.Errorf("producer called %d times, want 1", calls)
	}
}

func TestGetOrComputeStalenessBoundary(t *testing.T) {
	store := NewStore(t.TempDir())

	now := time.Now()
	store.now = func() time.Time { return now }

	if _, err := store.GetOrCompute(GridPageKey(1), time.Hour, func() ([]byte, error) {
		return []byte("first"), nil
	}); err != nil {
		t.Fatalf("initial compute failed: %v", err)
	}

	// Exactly at max age the entry is still fresh.
	store.now = func() time.Time { return now.Add(time.Hour) }
	got, err := store.GetOrCompute(GridPageKey(1), time.Hour, func() ([]byte, error) {
		return []byte("second"), nil
	})
	if err != nil {
		t.Fatalf("GetOrCompute failed: %v", err)
	}
	if string(got) != "first" {
		t.Errorf("entry at exact max age should still be served, got %q", got)
	}

	// Past max age it is recomputed.
	store.now = func() time.Time { return now.Add(time.Hour + time.Second) }
	got, err = store.GetOrCompute(GridPageKey(1), time.Hour, func() ([]byte, error) {
		return []byte("second"), nil
	})
	if err != nil {
		t.Fatalf("GetOrCompute failed: %v", err)
	}
	if string(got) != "second" {
		t.Errorf("stale entry should be recomputed, got %q", got)
	}
}

func TestGetOrComputeNeverCachesFailure(t *testing.T) {
	store := NewStore(t.TempDir())

	boom := errors.New("boom")
	if _, err := store.GetOrCompute(DetailPageKey(7), time.Hour, func() ([]byte, error) {
		return nil, boom
	}); !errors.Is(err, boom) {
		t.Fatalf("producer error not propagated: %v", err)
	}

	// The failure must not be cached; the next call runs the producer again.
	got, err := store.GetOrCompute(DetailPageKey(7), time.Hour, func() ([]byte, error) {
		return []byte("recovered"), nil
	})
	if err != nil {
		t.Fatalf("retry failed: %v", err)
	}
	if string(got) != "recovered" {
		t.Errorf("got %q, want %q", got, "recovered")
	}
}

func TestCorruptEntryTreatedAsStale(t *testing.T) {
	dir := t.TempDir()
	store := NewStore(dir)

	if _, err := store.GetOrCompute(GridPageKey(3), time.Hour, func() ([]byte, error) {
		return []byte("good"), nil
	}); err != nil {
		t.Fatalf("initial compute failed: %v", err)
	}

	path := filepath.Join(dir, "grid-pages", "3.json")
	if err := os.WriteFile(path, []byte("{not json"), 0o644); err != nil {
		t.Fatalf("failed to corrupt entry: %v", err)
	}

	got, err := store.GetOrCompute(GridPageKey(3), time.Hour, func() ([]byte, error) {
		return []byte("rebuilt"), nil
	})
	if err != nil {
		t.Fatalf("GetOrCompute failed: %v", err)
	}
	if string(got) != "rebuilt" {
		t.Errorf("corrupt entry should be recomputed, got %q", got)
	}
}

func TestKeysAreCollisionFree(t *testing.T) {
	keys := []Key{
		GridPageKey(1),
		GridPageKey(2),
		ListingIndexKey(),
		DetailPageKey(1),
		ProcessedKey(1, 1),
		ProcessedKey(1, 2),
		CommuteKey(51.5, -0.1),
		CommuteKey(51.5, -0.2),
	}

	seen := make(map[Key]bool)
	for _, k := range keys {
		if seen[k] {
			t.Errorf("duplicate key %q", k)
		}
		seen[k] = true
	}
}

func TestProcessedVersionInvalidatesOldArtifacts(t *testing.T) {
	store := NewStore(t.TempDir())

	if _, err := store.GetOrCompute(ProcessedKey(9, 1), time.Hour, func() ([]byte, error) {
		return []byte("v1"), nil
	}); err != nil {
		t.Fatalf("compute failed: %v", err)
	}

	got, err := store.GetOrCompute(ProcessedKey(9, 2), time.Hour, func() ([]byte, error) {
		return []byte("v2"), nil
	})
	if err != nil {
		t.Fatalf("compute failed: %v", err)
	}
	if string(got) != "v2" {
		t.Errorf("bumped version should miss the old artifact, got %q", got)
	}
}
