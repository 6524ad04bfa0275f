package reconcile

import (
	"errors"
	"log"
	"time"

	"property-swipe/internal/models"
)

// ErrEmptyFetch is returned when a reconciliation is attempted against an
// empty fetched-ID set. Acting on it would mark the entire database removed,
// so the cycle aborts instead.
var ErrEmptyFetch = errors.New("refusing to reconcile against an empty fetched set")

// Store is the subset of the listing store reconciliation needs.
type Store interface {
	ActiveListingIDs() ([]int64, error)
	MarkListingsRemoved(ids []int64, at time.Time) error
	UpsertListing(listing *models.Listing, now time.Time) error
}

// Result summarizes one reconciliation pass. RemovedIDs carries the listings
// marked removed this pass so the caller can drop them from the search index.
type Result struct {
	Upserted   int
	Removed    int
	Failed     int
	RemovedIDs []int64
}

// Reconciler converges the store toward the latest fetched snapshot:
// listings no longer present on the site are marked removed, then every
// enriched listing is upserted. Removal runs first so a listing that
// reappears in the same cycle ends up active.
type Reconciler struct {
	store Store
	now   func() time.Time
}

// NewReconciler creates a reconciler over the given store.
func NewReconciler(store Store) *Reconciler {
	return &Reconciler{store: store, now: time.Now}
}

// Reconcile marks listings absent from fetchedIDs as removed, then upserts
// the enriched listings. fetchedIDs is the full set of IDs seen in the scan,
// which may be wider than enriched when some listings failed processing;
// a processing failure must not get its listing marked removed.
func (r *Reconciler) Reconcile(fetchedIDs []int64, enriched []*models.Listing) (*Result, error) {
	if len(fetchedIDs) == 0 {
		return nil, ErrEmptyFetch
	}

	now := r.now()
	result := &Result{}

	fetched := make(map[int64]bool, len(fetchedIDs))
	for _, id := range fetchedIDs {
		fetched[id] = true
	}

	active, err := r.store.ActiveListingIDs()
	if err != nil {
		return nil, err
	}

	var gone []int64
	for _, id := range active {
		if !fetched[id] {
			gone = append(gone, id)
		}
	}
	if len(gone) > 0 {
		if err := r.store.MarkListingsRemoved(gone, now); err != nil {
			return nil, err
		}
		result.Removed = len(gone)
		result.RemovedIDs = gone
		log.Printf("[Reconciler] Marked %d listings as removed", len(gone))
	}

	for _, listing := range enriched {
		if err := r.store.UpsertListing(listing, now); err != nil {
			log.Printf("[Reconciler] Failed to upsert listing %d: %v", listing.ID, err)
			result.Failed++
			continue
		}
		result.Upserted++
	}

	log.Printf("[Reconciler] Reconciled: %d upserted, %d removed, %d failed", result.Upserted, result.Removed, result.Failed)
	return result, nil
}
