package cleanup

import (
	"testing"
	"time"

	"property-swipe/internal/models"
)

type fakeStore struct {
	expired []int64
	purged  []int64
}

func (s *fakeStore) InitSchema() error { return nil }
func (s *fakeStore) Close() error      { return nil }

func (s *fakeStore) UpsertListing(l *models.Listing, now time.Time) error { return nil }
func (s *fakeStore) GetListing(id int64) (*models.Listing, error)         { return nil, nil }
func (s *fakeStore) ActiveListings(max int) ([]models.Listing, error)     { return nil, nil }
func (s *fakeStore) ActiveListingIDs() ([]int64, error)                   { return nil, nil }
func (s *fakeStore) MarkListingsRemoved(ids []int64, at time.Time) error  { return nil }

func (s *fakeStore) RemovedListingIDsBefore(cutoff time.Time) ([]int64, error) {
	return s.expired, nil
}

func (s *fakeStore) PurgeListings(ids []int64) error {
	s.purged = append(s.purged, ids...)
	return nil
}

type fakeDeleter struct {
	deleted []int64
}

func (d *fakeDeleter) DeleteListings(ids []int64) error {
	d.deleted = append(d.deleted, ids...)
	return nil
}

func TestExecutePurgesExpired(t *testing.T) {
	store := &fakeStore{expired: []int64{1, 2, 3}}
	deleter := &fakeDeleter{}
	svc := NewService(store, deleter, 90, false)

	result, err := svc.Execute()
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.DeletedCount != 3 {
		t.Errorf("DeletedCount = %d, want 3", result.DeletedCount)
	}
	if len(store.purged) != 3 {
		t.Errorf("purged %d rows, want 3", len(store.purged))
	}
	if len(deleter.deleted) != 3 {
		t.Errorf("search deletes = %d, want 3", len(deleter.deleted))
	}
}

func TestExecuteDryRun(t *testing.T) {
	store := &fakeStore{expired: []int64{1, 2}}
	svc := NewService(store, nil, 90, true)

	result, err := svc.Execute()
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.TargetCount != 2 {
		t.Errorf("TargetCount = %d, want 2", result.TargetCount)
	}
	if result.DeletedCount != 0 || len(store.purged) != 0 {
		t.Error("dry run must not delete anything")
	}
}

func TestExecuteNothingExpired(t *testing.T) {
	store := &fakeStore{}
	svc := NewService(store, nil, 90, false)

	result, err := svc.Execute()
	if err != nil {
		t.Fatalf("Execute failed: %v", err)
	}
	if result.TargetCount != 0 || result.DeletedCount != 0 {
		t.Errorf("unexpected result %+v", result)
	}
}
