package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"time"

	"property-swipe/internal/cache"
	"property-swipe/internal/commute"
	"property-swipe/internal/detail"
	"property-swipe/internal/grid"
	"property-swipe/internal/models"
	"property-swipe/internal/reconcile"
)

// SearchIndexer receives the reconciled snapshot after each cycle. Indexing
// failures are logged but never fail the cycle; the database is the source
// of truth and the index catches up next run.
type SearchIndexer interface {
	IndexListings(listings []*models.Listing) error
	DeleteListings(ids []int64) error
}

// Importer drives one full import cycle: scan the search grid, enrich every
// listing, reconcile the store, and sync the search index.
type Importer struct {
	scanner    *grid.Scanner
	extractor  *detail.Extractor
	oracle     *commute.Oracle
	cache      *cache.Store
	reconciler *reconcile.Reconciler
	search     SearchIndexer // optional

	processedVersion int
	processedMaxAge  time.Duration
	workers          int

	mu      sync.Mutex
	running bool
}

// Config holds importer settings.
type Config struct {
	ProcessedVersion int
	ProcessedMaxAge  time.Duration
	Workers          int
}

// NewImporter wires the pipeline stages together. search may be nil.
func NewImporter(scanner *grid.Scanner, extractor *detail.Extractor, oracle *commute.Oracle, store *cache.Store, reconciler *reconcile.Reconciler, search SearchIndexer, cfg Config) *Importer {
	workers := cfg.Workers
	if workers <= 0 {
		workers = 4
	}
	return &Importer{
		scanner:          scanner,
		extractor:        extractor,
		oracle:           oracle,
		cache:            store,
		reconciler:       reconciler,
		search:           search,
		processedVersion: cfg.ProcessedVersion,
		processedMaxAge:  cfg.ProcessedMaxAge,
		workers:          workers,
	}
}

// Run executes one import cycle. Overlapping runs are skipped rather than
// queued: a second trigger while a cycle is in flight returns immediately.
func (i *Importer) Run(ctx context.Context) error {
	i.mu.Lock()
	if i.running {
		i.mu.Unlock()
		log.Printf("[Importer] Previous import still running, skipping")
		return nil
	}
	i.running = true
	i.mu.Unlock()
	defer func() {
		i.mu.Lock()
		i.running = false
		i.mu.Unlock()
	}()

	start := time.Now()
	log.Printf("[Importer] Starting import cycle")

	stubs, err := i.scanner.Scan(ctx)
	if err != nil {
		return fmt.Errorf("grid scan failed: %w", err)
	}

	fetchedIDs := make([]int64, len(stubs))
	for n, stub := range stubs {
		fetchedIDs[n] = stub.ID
	}

	enriched := i.processAll(ctx, stubs)

	result, err := i.reconciler.Reconcile(fetchedIDs, enriched)
	if err != nil {
		return fmt.Errorf("reconciliation failed: %w", err)
	}

	i.syncSearch(enriched, result.RemovedIDs)

	log.Printf("[Importer] Import cycle complete in %v: %d scanned, %d enriched, %d upserted, %d removed",
		time.Since(start).Round(time.Second), len(stubs), len(enriched), result.Upserted, result.Removed)
	return nil
}

// IsRunning reports whether an import cycle is currently in flight.
func (i *Importer) IsRunning() bool {
	i.mu.Lock()
	defer i.mu.Unlock()
	return i.running
}

// processAll enriches every stub with a bounded worker pool. A failure on
// one listing is logged and dropped; it never aborts the batch.
func (i *Importer) processAll(ctx context.Context, stubs []models.Stub) []*models.Listing {
	var (
		wg      sync.WaitGroup
		mu      sync.Mutex
		results []*models.Listing
		failed  int
	)
	sem := make(chan struct{}, i.workers)

	for _, stub := range stubs {
		wg.Add(1)
		sem <- struct{}{}
		go func(stub models.Stub) {
			defer wg.Done()
			defer func() { <-sem }()

			listing, err := i.Process(ctx, stub)
			mu.Lock()
			defer mu.Unlock()
			if err != nil {
				log.Printf("[Importer] Failed to process listing %d: %v", stub.ID, err)
				failed++
				return
			}
			results = append(results, listing)
		}(stub)
	}
	wg.Wait()

	if failed > 0 {
		log.Printf("[Importer] %d of %d listings failed processing", failed, len(stubs))
	}
	return results
}

// Process enriches a single stub into a full listing: detail extraction plus
// commute lookup, cached as one processed artifact. The cache key carries the
// processing version so a pipeline change invalidates old artifacts without
// touching the raw page caches.
func (i *Importer) Process(ctx context.Context, stub models.Stub) (*models.Listing, error) {
	payload, err := i.cache.GetOrCompute(cache.ProcessedKey(stub.ID, i.processedVersion), i.processedMaxAge, func() ([]byte, error) {
		listing, err := i.enrich(ctx, stub)
		if err != nil {
			return nil, err
		}
		return json.Marshal(listing)
	})
	if err != nil {
		return nil, err
	}

	var listing models.Listing
	if err := json.Unmarshal(payload, &listing); err != nil {
		return nil, fmt.Errorf("corrupt processed cache entry for %d: %w", stub.ID, err)
	}
	return &listing, nil
}

func (i *Importer) enrich(ctx context.Context, stub models.Stub) (*models.Listing, error) {
	var (
		d     *detail.Detail
		times *commute.Times
		dErr  error
		cErr  error
	)

	if stub.HasCoords {
		// Grid coordinates let the commute lookup run alongside extraction.
		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			d, dErr = i.extractor.Extract(ctx, stub.ID)
		}()
		go func() {
			defer wg.Done()
			times, cErr = i.oracle.Commute(ctx, stub.Latitude, stub.Longitude)
		}()
		wg.Wait()
	} else {
		d, dErr = i.extractor.Extract(ctx, stub.ID)
		if dErr == nil {
			times, cErr = i.oracle.Commute(ctx, d.Latitude, d.Longitude)
		}
	}

	if dErr != nil {
		return nil, fmt.Errorf("detail extraction failed: %w", dErr)
	}
	if cErr != nil {
		return nil, fmt.Errorf("commute lookup failed: %w", cErr)
	}

	listing := &models.Listing{
		ID:           stub.ID,
		URL:          models.ListingURL(i.extractor.BaseURL(), stub.ID),
		Summary:      d.Summary,
		Price:        d.Price,
		Locality:     d.Locality,
		Latitude:     d.Latitude,
		Longitude:    d.Longitude,
		Description:  d.Description,
		Photos:       d.Photos,
		Features:     d.Features,
		PriceHistory: d.PriceHistory,

		BedCount:      d.BedCount,
		BathCount:     d.BathCount,
		AvailableFrom: d.AvailableFrom,
		ViewCount:     d.ViewCount,
		AvgAreaPrice:  d.AvgAreaPrice,

		TransitMinutes: times.TransitMinutes,
		CyclingMinutes: times.CyclingMinutes,
	}
	return listing, nil
}

// syncSearch pushes the cycle's enriched listings into the search index and
// drops the listings reconciliation just marked removed out of it. Only the
// reconciler knows which listings left the site; enriched listings are
// always active.
func (i *Importer) syncSearch(enriched []*models.Listing, removedIDs []int64) {
	if i.search == nil {
		return
	}

	if len(enriched) > 0 {
		if err := i.search.IndexListings(enriched); err != nil {
			log.Printf("[Importer] Search index sync failed: %v", err)
		}
	}
	if len(removedIDs) > 0 {
		if err := i.search.DeleteListings(removedIDs); err != nil {
			log.Printf("[Importer] Search index delete failed: %v", err)
		}
	}
}
