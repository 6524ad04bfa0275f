package pipeline

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"property-swipe/internal/cache"
	"property-swipe/internal/commute"
	"property-swipe/internal/detail"
	"property-swipe/internal/fetch"
	"property-swipe/internal/grid"
	"property-swipe/internal/models"
	"property-swipe/internal/ratelimit"
	"property-swipe/internal/reconcile"
)

const testGridPage = `<html><script>
var d = {u: "/ajax/listings/travel-time", listings: [{"listing_id": 101, "lat": 51.5, "lon": -0.1}, {"listing_id": 102, "lat": 51.6, "lon": -0.2}]};
</script></html>`

func testDetailPage(id int64) string {
	return fmt.Sprintf(`<html><script type="application/ld+json">
{"@graph": [{"@type": "Residence",
  "name": "Flat %d to rent",
  "description": "£1,%03d pcm",
  "address": {"addressLocality": "Testville"},
  "geo": {"latitude": 51.5, "longitude": -0.1},
  "photo": [{"contentUrl": "https://img.example/%d.jpg"}]}]}
</script></html>`, id, id, id)
}

type recordingStore struct {
	listings map[int64]*models.Listing
	removed  map[int64]bool
}

func (s *recordingStore) ActiveListingIDs() ([]int64, error) {
	var ids []int64
	for id := range s.listings {
		if !s.removed[id] {
			ids = append(ids, id)
		}
	}
	return ids, nil
}

func (s *recordingStore) MarkListingsRemoved(ids []int64, at time.Time) error {
	for _, id := range ids {
		s.removed[id] = true
	}
	return nil
}

func (s *recordingStore) UpsertListing(listing *models.Listing, now time.Time) error {
	s.listings[listing.ID] = listing
	delete(s.removed, listing.ID)
	return nil
}

type recordingIndexer struct {
	indexed []int64
	deleted []int64
}

func (r *recordingIndexer) IndexListings(listings []*models.Listing) error {
	for _, l := range listings {
		r.indexed = append(r.indexed, l.ID)
	}
	return nil
}

func (r *recordingIndexer) DeleteListings(ids []int64) error {
	r.deleted = append(r.deleted, ids...)
	return nil
}

// newTestImporter stands up the full pipeline against one test server that
// plays the listing site and the distance-matrix service at once.
func newTestImporter(t *testing.T, failDetailID int64, indexer SearchIndexer) (*Importer, *recordingStore) {
	t.Helper()

	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasPrefix(r.URL.Path, "/matrix"):
			fmt.Fprint(w, `{"status": "OK", "rows": [{"elements": [{"status": "OK", "duration": {"value": 1500}}]}]}`)
		case strings.HasPrefix(r.URL.Path, "/to-rent/details/"):
			var id int64
			fmt.Sscanf(r.URL.Path, "/to-rent/details/%d", &id)
			if id == failDetailID {
				w.WriteHeader(http.StatusInternalServerError)
				return
			}
			fmt.Fprint(w, testDetailPage(id))
		default:
			fmt.Fprint(w, testGridPage)
		}
	}))
	t.Cleanup(server.Close)

	fetcher := fetch.NewFetcher(fetch.Config{Timeout: 5 * time.Second}, ratelimit.NewThrottle(0))
	store := cache.NewStore(t.TempDir())

	scanner := grid.NewScanner(fetcher, store, grid.Config{
		BaseURL:     server.URL,
		Area:        "testville",
		PageSize:    48,
		MaxPages:    1,
		PageMaxAge:  time.Hour,
		IndexMaxAge: time.Hour,
	})
	extractor := detail.NewExtractor(fetcher, store, server.URL, time.Hour)
	oracle := commute.NewOracle(fetcher, store, commute.Config{
		Endpoint:       server.URL + "/matrix",
		Destination:    "Testville Central",
		ArrivalWeekday: time.Monday,
		ArrivalHour:    9,
		MaxAge:         time.Hour,
	})

	db := &recordingStore{
		listings: make(map[int64]*models.Listing),
		removed:  make(map[int64]bool),
	}
	importer := NewImporter(scanner, extractor, oracle, store, reconcile.NewReconciler(db), indexer, Config{
		ProcessedVersion: 1,
		ProcessedMaxAge:  time.Hour,
	})
	return importer, db
}

func TestRunFullCycle(t *testing.T) {
	importer, db := newTestImporter(t, 0, nil)

	if err := importer.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if len(db.listings) != 2 {
		t.Fatalf("got %d listings, want 2", len(db.listings))
	}

	l := db.listings[101]
	if l == nil {
		t.Fatal("listing 101 missing")
	}
	if l.Summary != "Flat 101" {
		t.Errorf("Summary = %q, want %q", l.Summary, "Flat 101")
	}
	if l.Price != 1101 {
		t.Errorf("Price = %d, want 1101", l.Price)
	}
	if l.Locality != "Testville" {
		t.Errorf("Locality = %q, want Testville", l.Locality)
	}
	if l.TransitMinutes == nil || *l.TransitMinutes != 25 {
		t.Errorf("TransitMinutes = %v, want 25", l.TransitMinutes)
	}
	if l.CyclingMinutes == nil || *l.CyclingMinutes != 25 {
		t.Errorf("CyclingMinutes = %v, want 25", l.CyclingMinutes)
	}
	if !strings.HasSuffix(l.URL, "/to-rent/details/101") {
		t.Errorf("URL = %q", l.URL)
	}
}

func TestRunIsolatesFailedListing(t *testing.T) {
	importer, db := newTestImporter(t, 102, nil)

	if err := importer.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if _, ok := db.listings[101]; !ok {
		t.Error("listing 101 should be upserted despite 102 failing")
	}
	if _, ok := db.listings[102]; ok {
		t.Error("listing 102 failed enrichment and must not be upserted")
	}
	// 102 was still fetched, so it must not be marked removed either.
	if db.removed[102] {
		t.Error("failed listing must not be marked removed")
	}
}

func TestRunSkipsOverlappingCycle(t *testing.T) {
	importer, _ := newTestImporter(t, 0, nil)

	importer.mu.Lock()
	importer.running = true
	importer.mu.Unlock()

	// With a cycle supposedly in flight, Run returns immediately without
	// touching the network or the store.
	if err := importer.Run(context.Background()); err != nil {
		t.Fatalf("overlapping Run should be a no-op, got %v", err)
	}
	if !importer.IsRunning() {
		t.Error("running flag should be untouched by the skipped cycle")
	}
}

func TestRunDropsRemovedListingsFromIndex(t *testing.T) {
	indexer := &recordingIndexer{}
	importer, db := newTestImporter(t, 0, indexer)

	// 999 is active in the store but no longer appears on the site, so
	// reconciliation marks it removed and the cycle must also delete it
	// from the search index.
	db.listings[999] = &models.Listing{ID: 999, Summary: "stale", Price: 800}

	if err := importer.Run(context.Background()); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if !db.removed[999] {
		t.Error("listing 999 should be marked removed in the store")
	}
	indexed := make(map[int64]bool)
	for _, id := range indexer.indexed {
		indexed[id] = true
	}
	if !indexed[101] || !indexed[102] {
		t.Errorf("indexed = %v, want 101 and 102", indexer.indexed)
	}
	if len(indexer.deleted) != 1 || indexer.deleted[0] != 999 {
		t.Errorf("deleted = %v, want [999]", indexer.deleted)
	}
}
