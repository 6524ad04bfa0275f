package cache

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"time"
)

// Key identifies one cached artifact as "<class>/<identifier>". Constructors
// below guarantee identifiers from different artifact classes never collide.
type Key string

// GridPageKey keys a cached search-result grid page by page number.
func GridPageKey(page int) Key {
	return Key(fmt.Sprintf("grid-pages/%d", page))
}

// ListingIndexKey keys the aggregated set of listing stubs from a full scan.
func ListingIndexKey() Key {
	return Key("listing-index/all")
}

// DetailPageKey keys a cached listing detail page by listing ID.
func DetailPageKey(id int64) Key {
	return Key(fmt.Sprintf("detail-html/%d", id))
}

// ProcessedKey keys a fully processed listing record. The version segment
// invalidates old entries when the record shape changes.
func ProcessedKey(id int64, version int) Key {
	return Key(fmt.Sprintf("processed/%d-v%d", id, version))
}

// CommuteKey keys a commute lookup by coordinate pair. Coordinates for a
// given listing never move, so entries live for months.
func CommuteKey(lat, lon float64) Key {
	return Key(fmt.Sprintf("commute-times/%v,%v", lat, lon))
}

// Entry is the on-disk envelope for one cached artifact. The write timestamp
// travels inside the entry rather than in filesystem metadata so the backend
// can change without altering staleness behavior.
type Entry struct {
	Key       string    `json:"key"`
	Payload   []byte    `json:"payload"`
	WrittenAt time.Time `json:"written_at"`
}

// Store is a disk-backed TTL cache. Entries for different keys live in
// separate files and never block each other; concurrent computes for the
// same key may race, which is acceptable given the coarse max ages.
type Store struct {
	root string
	now  func() time.Time
}

// NewStore creates a cache store rooted at dir.
func NewStore(dir string) *Store {
	return &Store{root: dir, now: time.Now}
}

// GetOrCompute returns the cached payload for key if an entry exists and is
// younger than maxAge; otherwise it runs producer, persists the result, and
// returns it. A producer failure writes nothing and propagates unchanged, so
// the next call retries.
func (s *Store) GetOrCompute(key Key, maxAge time.Duration, producer func() ([]byte, error)) ([]byte, error) {
	if entry, ok := s.read(key); ok {
		if s.now().Sub(entry.WrittenAt) <= maxAge {
			return entry.Payload, nil
		}
	}

	payload, err := producer()
	if err != nil {
		return nil, err
	}

	if err := s.write(key, payload); err != nil {
		return nil, fmt.Errorf("failed to write cache entry %s: %w", key, err)
	}
	return payload, nil
}

// read loads the entry for key. A missing or unreadable entry is treated as
// stale, not as an error.
func (s *Store) read(key Key) (*Entry, bool) {
	data, err := os.ReadFile(s.path(key))
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			log.Printf("[Cache] Failed to read entry %s: %v (treating as stale)", key, err)
		}
		return nil, false
	}

	var entry Entry
	if err := json.Unmarshal(data, &entry); err != nil {
		log.Printf("[Cache] Corrupt entry %s: %v (treating as stale)", key, err)
		return nil, false
	}
	return &entry, true
}

// write persists an entry atomically: entries are overwritten on refresh,
// never appended, and a crash mid-write leaves the previous entry intact.
func (s *Store) write(key Key, payload []byte) error {
	path := s.path(key)
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}

	data, err := json.Marshal(Entry{
		Key:       string(key),
		Payload:   payload,
		WrittenAt: s.now(),
	})
	if err != nil {
		return err
	}

	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func (s *Store) path(key Key) string {
	return filepath.Join(s.root, filepath.FromSlash(string(key))+".json")
}
