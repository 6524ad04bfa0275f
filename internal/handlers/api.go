package handlers

import (
	"context"
	"log"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"property-swipe/internal/database"
	"property-swipe/internal/ratelimit"
	"property-swipe/internal/scheduler"
	"property-swipe/internal/search"
)

// Version is stamped at build time.
var Version = "dev"

// ListingHandler serves the listing API
type ListingHandler struct {
	store     database.ListingStore
	search    *search.SearchClient
	scheduler *scheduler.Scheduler
	throttle  *ratelimit.Throttle

	maxTransitMinutes int
	minPhotos         int
}

// NewListingHandler creates a new listing handler. search and sched may be nil.
func NewListingHandler(store database.ListingStore, searchClient *search.SearchClient, sched *scheduler.Scheduler, throttle *ratelimit.Throttle, maxTransitMinutes, minPhotos int) *ListingHandler {
	return &ListingHandler{
		store:             store,
		search:            searchClient,
		scheduler:         sched,
		throttle:          throttle,
		maxTransitMinutes: maxTransitMinutes,
		minPhotos:         minPhotos,
	}
}

// KeyAuthMiddleware rejects requests that don't carry the login key, either
// as a ?key= query parameter or an X-Api-Key header. An empty configured key
// disables the check.
func KeyAuthMiddleware(loginKey string) gin.HandlerFunc {
	return func(c *gin.Context) {
		if loginKey == "" {
			c.Next()
			return
		}
		key := c.Query("key")
		if key == "" {
			key = c.GetHeader("X-Api-Key")
		}
		if key != loginKey {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid or missing API key"})
			return
		}
		c.Next()
	}
}

// HealthCheck reports service liveness.
func (h *ListingHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now(),
	})
}

// GetVersion returns the build version.
func (h *ListingHandler) GetVersion(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"version": Version})
}

// GetListings returns active listings sorted by commute then price. The
// transit cutoff comes from config; listings with too few photos are
// filtered out since they can't be usefully browsed.
func (h *ListingHandler) GetListings(c *gin.Context) {
	maxTransit := h.maxTransitMinutes
	if maxStr := c.Query("max_transit"); maxStr != "" {
		if v, err := strconv.Atoi(maxStr); err == nil && v > 0 {
			maxTransit = v
		}
	}

	listings, err := h.store.ActiveListings(maxTransit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	filtered := listings[:0]
	for _, listing := range listings {
		if len(listing.Photos) >= h.minPhotos {
			filtered = append(filtered, listing)
		}
	}

	c.JSON(http.StatusOK, gin.H{
		"listings": filtered,
		"count":    len(filtered),
	})
}

// GetListing returns a single listing by ID.
func (h *ListingHandler) GetListing(c *gin.Context) {
	id, err := strconv.ParseInt(c.Param("id"), 10, 64)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid listing ID"})
		return
	}

	listing, err := h.store.GetListing(id)
	if err != nil {
		c.JSON(http.StatusNotFound, gin.H{"error": "listing not found"})
		return
	}

	c.JSON(http.StatusOK, listing)
}

// GetAvailableIDs returns the IDs of all active listings. The swipe client
// uses this to diff its local state against the server.
func (h *ListingHandler) GetAvailableIDs(c *gin.Context) {
	ids, err := h.store.ActiveListingIDs()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if ids == nil {
		ids = []int64{}
	}
	c.JSON(http.StatusOK, gin.H{"ids": ids, "count": len(ids)})
}

// SearchListings performs a full-text search over the index.
func (h *ListingHandler) SearchListings(c *gin.Context) {
	if h.search == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "search is not configured"})
		return
	}

	limit := int64(20)
	if limitStr := c.Query("limit"); limitStr != "" {
		if v, err := strconv.ParseInt(limitStr, 10, 64); err == nil && v > 0 {
			limit = v
		}
	}

	req := search.SearchRequest{
		Query:  c.Query("q"),
		Limit:  limit,
		Filter: []string{"removed = false"},
	}
	if locality := c.Query("locality"); locality != "" {
		req.Filter = append(req.Filter, "locality = "+strconv.Quote(locality))
	}
	if sort := c.Query("sort"); sort != "" {
		for _, s := range strings.Split(sort, ",") {
			req.Sort = append(req.Sort, strings.TrimSpace(s))
		}
	}

	result, err := h.search.Search(req)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"hits":               result.Hits,
		"total_hits":         result.TotalHits,
		"processing_time_ms": result.ProcessingTime,
	})
}

// TriggerImport manually starts an import cycle.
func (h *ListingHandler) TriggerImport(c *gin.Context) {
	if h.scheduler == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "scheduler not available"})
		return
	}

	log.Println("[API] Manual import trigger requested")

	// Run in goroutine to avoid blocking; overlapping runs are skipped
	// inside the importer.
	go func() {
		if err := h.scheduler.RunNow(context.Background()); err != nil {
			log.Printf("[API] Manual import failed: %v", err)
		}
	}()

	c.JSON(http.StatusAccepted, gin.H{
		"message": "Import cycle started",
		"status":  "running",
	})
}

// GetRateLimitStats returns fetch throttle statistics.
func (h *ListingHandler) GetRateLimitStats(c *gin.Context) {
	c.JSON(http.StatusOK, h.throttle.GetStats())
}
