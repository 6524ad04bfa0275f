package database

import (
	"time"

	"property-swipe/internal/models"
)

// ListingStore is the persistence surface the pipeline and API share. Both
// the gorm/MySQL and the Postgres backend implement it.
type ListingStore interface {
	InitSchema() error
	Close() error

	UpsertListing(listing *models.Listing, now time.Time) error
	GetListing(id int64) (*models.Listing, error)
	ActiveListings(maxTransitMinutes int) ([]models.Listing, error)
	ActiveListingIDs() ([]int64, error)
	MarkListingsRemoved(ids []int64, at time.Time) error

	RemovedListingIDsBefore(cutoff time.Time) ([]int64, error)
	PurgeListings(ids []int64) error
}
