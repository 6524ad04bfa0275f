package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"property-swipe/internal/models"
	"property-swipe/internal/ratelimit"
)

type stubStore struct {
	listings []models.Listing
}

func (s *stubStore) InitSchema() error { return nil }
func (s *stubStore) Close() error      { return nil }

func (s *stubStore) UpsertListing(listing *models.Listing, now time.Time) error { return nil }

func (s *stubStore) GetListing(id int64) (*models.Listing, error) {
	for i := range s.listings {
		if s.listings[i].ID == id {
			return &s.listings[i], nil
		}
	}
	return nil, fmt.Errorf("listing %d not found", id)
}

func (s *stubStore) ActiveListings(maxTransitMinutes int) ([]models.Listing, error) {
	var out []models.Listing
	for _, l := range s.listings {
		if l.Removed {
			continue
		}
		if l.TransitMinutes != nil && *l.TransitMinutes >= maxTransitMinutes {
			continue
		}
		out = append(out, l)
	}
	return out, nil
}

func (s *stubStore) ActiveListingIDs() ([]int64, error) {
	var ids []int64
	for _, l := range s.listings {
		if !l.Removed {
			ids = append(ids, l.ID)
		}
	}
	return ids, nil
}

func (s *stubStore) MarkListingsRemoved(ids []int64, at time.Time) error  { return nil }
func (s *stubStore) RemovedListingIDsBefore(t time.Time) ([]int64, error) { return nil, nil }
func (s *stubStore) PurgeListings(ids []int64) error                      { return nil }

func intPtr(v int) *int { return &v }

func newTestRouter(store *stubStore, loginKey string) *gin.Engine {
	gin.SetMode(gin.TestMode)
	handler := NewListingHandler(store, nil, nil, ratelimit.NewThrottle(0), 45, 3)

	r := gin.New()
	r.GET("/health", handler.HealthCheck)
	api := r.Group("/api", KeyAuthMiddleware(loginKey))
	api.GET("/listings", handler.GetListings)
	api.GET("/listings/:id", handler.GetListing)
	api.GET("/available", handler.GetAvailableIDs)
	return r
}

func manyPhotos(n int) []string {
	photos := make([]string, n)
	for i := range photos {
		photos[i] = fmt.Sprintf("https://img.example/%d.jpg", i)
	}
	return photos
}

func TestGetListingsFiltering(t *testing.T) {
	store := &stubStore{listings: []models.Listing{
		{ID: 1, Price: 1000, TransitMinutes: intPtr(20), Photos: manyPhotos(5)},
		{ID: 2, Price: 1100, TransitMinutes: intPtr(50), Photos: manyPhotos(5)}, // too far
		{ID: 3, Price: 1200, TransitMinutes: intPtr(30), Photos: manyPhotos(2)}, // too few photos
		{ID: 4, Price: 1300, Photos: manyPhotos(4)},                             // unknown commute stays in
		{ID: 5, Price: 900, TransitMinutes: intPtr(10), Photos: manyPhotos(5), Removed: true},
	}}
	router := newTestRouter(store, "")

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/listings", nil)
	router.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	var resp struct {
		Listings []models.Listing `json:"listings"`
		Count    int              `json:"count"`
	}
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("bad response body: %v", err)
	}
	if resp.Count != 2 {
		t.Fatalf("count = %d, want 2: %+v", resp.Count, resp.Listings)
	}
	want := map[int64]bool{1: true, 4: true}
	for _, l := range resp.Listings {
		if !want[l.ID] {
			t.Errorf("unexpected listing %d in response", l.ID)
		}
	}
}

func TestGetListingByID(t *testing.T) {
	store := &stubStore{listings: []models.Listing{{ID: 7, Summary: "flat", Price: 950}}}
	router := newTestRouter(store, "")

	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/listings/7", nil))
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/listings/999", nil))
	if w.Code != http.StatusNotFound {
		t.Errorf("missing listing status = %d, want 404", w.Code)
	}

	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/listings/abc", nil))
	if w.Code != http.StatusBadRequest {
		t.Errorf("bad ID status = %d, want 400", w.Code)
	}
}

func TestKeyAuth(t *testing.T) {
	store := &stubStore{}
	router := newTestRouter(store, "secret")

	// No key.
	w := httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/available", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("no key status = %d, want 401", w.Code)
	}

	// Wrong key.
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/available?key=nope", nil))
	if w.Code != http.StatusUnauthorized {
		t.Errorf("wrong key status = %d, want 401", w.Code)
	}

	// Query-param key.
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/api/available?key=secret", nil))
	if w.Code != http.StatusOK {
		t.Errorf("query key status = %d, want 200", w.Code)
	}

	// Header key.
	w = httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/available", nil)
	req.Header.Set("X-Api-Key", "secret")
	router.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Errorf("header key status = %d, want 200", w.Code)
	}

	// Health stays open.
	w = httptest.NewRecorder()
	router.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/health", nil))
	if w.Code != http.StatusOK {
		t.Errorf("health status = %d, want 200", w.Code)
	}
}
