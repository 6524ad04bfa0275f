package cleanup

import (
	"fmt"
	"log"
	"time"

	"property-swipe/internal/database"
)

// SearchDeleter removes listings from the search index after a purge.
type SearchDeleter interface {
	DeleteListings(ids []int64) error
}

// Service physically deletes listings that have been marked removed for
// longer than the retention window. Removal itself is logical; this is the
// only place rows are actually dropped.
type Service struct {
	store         database.ListingStore
	search        SearchDeleter // optional
	retentionDays int
	dryRun        bool
}

// NewService creates a cleanup service. search may be nil.
func NewService(store database.ListingStore, search SearchDeleter, retentionDays int, dryRun bool) *Service {
	return &Service{
		store:         store,
		search:        search,
		retentionDays: retentionDays,
		dryRun:        dryRun,
	}
}

// Result holds the outcome of one cleanup run.
type Result struct {
	TargetCount  int       `json:"target_count"`
	DeletedCount int       `json:"deleted_count"`
	DryRun       bool      `json:"dry_run"`
	ExecutedAt   time.Time `json:"executed_at"`
	DeletedIDs   []int64   `json:"deleted_ids,omitempty"`
}

// Run purges listings removed before the retention cutoff.
func (s *Service) Run() error {
	_, err := s.Execute()
	return err
}

// Execute purges expired listings and reports what was deleted. In dry-run
// mode it only reports.
func (s *Service) Execute() (*Result, error) {
	cutoff := time.Now().AddDate(0, 0, -s.retentionDays)

	ids, err := s.store.RemovedListingIDsBefore(cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to find expired listings: %w", err)
	}

	result := &Result{
		TargetCount: len(ids),
		DryRun:      s.dryRun,
		ExecutedAt:  time.Now(),
	}

	log.Printf("[Cleanup] Found %d listings removed before %s", len(ids), cutoff.Format("2006-01-02"))

	if len(ids) == 0 || s.dryRun {
		if s.dryRun && len(ids) > 0 {
			log.Printf("[Cleanup] Dry run: would delete %d listings", len(ids))
		}
		return result, nil
	}

	if err := s.store.PurgeListings(ids); err != nil {
		return nil, fmt.Errorf("failed to purge listings: %w", err)
	}
	result.DeletedCount = len(ids)
	result.DeletedIDs = ids

	if s.search != nil {
		if err := s.search.DeleteListings(ids); err != nil {
			// The rows are gone; a failed index delete just leaves stale
			// documents until the next sync.
			log.Printf("[Cleanup] Failed to delete listings from search index: %v", err)
		}
	}

	log.Printf("[Cleanup] Deleted %d listings", result.DeletedCount)
	return result, nil
}
