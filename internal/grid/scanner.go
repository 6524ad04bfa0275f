package grid

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/url"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"

	"property-swipe/internal/cache"
	"property-swipe/internal/fetch"
	"property-swipe/internal/models"
)

// ErrNoListings is returned when a complete scan yields zero listing IDs.
// An empty successful scan is indistinguishable from a broken extractor, so
// callers must not reconcile against it.
var ErrNoListings = errors.New("grid scan found no listings")

// dataScriptMarker identifies the inline script that carries the grid page's
// listing payload.
const dataScriptMarker = "/ajax/listings/travel-time"

var (
	// "listing_id":[123,456,...]: current payload shape
	listingIDsRe = regexp.MustCompile(`"listing_id":\s*(\[[^\]]*\])`)
	// listings: [{...},{...}]: older payload shape carrying coordinates
	listingObjectsRe = regexp.MustCompile(`listings:\s*(\[.+?\])\s*[,}]`)
	// id="listing_123456": DOM fallback when no script payload is found
	domListingIDRe = regexp.MustCompile(`^listing[_-](\d+)$`)
)

// Scanner paginates the search-result grid and extracts the set of listing
// IDs the site is showing right now. Page fetches fan out in parallel; the
// shared throttle inside the fetcher is the real rate gate.
type Scanner struct {
	fetcher *fetch.Fetcher
	cache   *cache.Store

	baseURL  string
	area     string
	query    map[string]string
	pageSize int
	maxPages int

	pageMaxAge  time.Duration
	indexMaxAge time.Duration
}

// Config holds scanner settings
type Config struct {
	BaseURL     string
	Area        string
	Query       map[string]string
	PageSize    int
	MaxPages    int
	PageMaxAge  time.Duration
	IndexMaxAge time.Duration
}

// NewScanner creates a grid scanner.
func NewScanner(fetcher *fetch.Fetcher, store *cache.Store, cfg Config) *Scanner {
	return &Scanner{
		fetcher:     fetcher,
		cache:       store,
		baseURL:     cfg.BaseURL,
		area:        cfg.Area,
		query:       cfg.Query,
		pageSize:    cfg.PageSize,
		maxPages:    cfg.MaxPages,
		pageMaxAge:  cfg.PageMaxAge,
		indexMaxAge: cfg.IndexMaxAge,
	}
}

// Scan fetches all grid pages and returns the deduplicated union of listing
// stubs. The aggregate is cached with its own (short) max age. Returns
// ErrNoListings when the union is empty; nothing is cached in that case.
func (s *Scanner) Scan(ctx context.Context) ([]models.Stub, error) {
	payload, err := s.cache.GetOrCompute(cache.ListingIndexKey(), s.indexMaxAge, func() ([]byte, error) {
		stubs, err := s.scanAllPages(ctx)
		if err != nil {
			return nil, err
		}
		return json.Marshal(stubs)
	})
	if err != nil {
		return nil, err
	}

	var stubs []models.Stub
	if err := json.Unmarshal(payload, &stubs); err != nil {
		return nil, fmt.Errorf("corrupt listing index: %w", err)
	}
	if len(stubs) == 0 {
		return nil, ErrNoListings
	}
	return stubs, nil
}

func (s *Scanner) scanAllPages(ctx context.Context) ([]models.Stub, error) {
	log.Printf("[GridScanner] Fetching %d grid pages to extract listing IDs", s.maxPages)

	pageStubs := make([][]models.Stub, s.maxPages)
	var wg sync.WaitGroup
	for page := 0; page < s.maxPages; page++ {
		wg.Add(1)
		go func(page int) {
			defer wg.Done()
			pageStubs[page] = s.scanPage(ctx, page)
		}(page)
	}
	wg.Wait()

	// Merge in ascending page order so duplicate IDs across overlapping
	// pages resolve last-seen-wins for coordinates.
	merged := make(map[int64]models.Stub)
	for _, stubs := range pageStubs {
		for _, stub := range stubs {
			if prev, ok := merged[stub.ID]; ok && prev.HasCoords && !stub.HasCoords {
				continue
			}
			merged[stub.ID] = stub
		}
	}

	if len(merged) == 0 {
		return nil, ErrNoListings
	}

	result := make([]models.Stub, 0, len(merged))
	for _, stub := range merged {
		result = append(result, stub)
	}
	sort.Slice(result, func(i, j int) bool { return result[i].ID < result[j].ID })

	log.Printf("[GridScanner] Found %d unique listings across %d pages", len(result), s.maxPages)
	return result, nil
}

// scanPage extracts the stubs visible on one grid page. Failures degrade to
// an empty set for that page: one broken page must not abort the whole scan.
func (s *Scanner) scanPage(ctx context.Context, page int) []models.Stub {
	pageURL := s.searchURL(page)
	if page == 0 {
		log.Printf("[GridScanner] Example URL: %s", pageURL)
	}

	html, err := s.cache.GetOrCompute(cache.GridPageKey(page), s.pageMaxAge, func() ([]byte, error) {
		body, _, err := s.fetcher.Fetch(ctx, pageURL)
		if err != nil {
			return nil, err
		}
		log.Printf("[GridScanner] Fetched grid page %d of %d", page+1, s.maxPages)
		return body, nil
	})
	if err != nil {
		log.Printf("[GridScanner] Error fetching grid page %d: %v", page, err)
		return nil
	}

	stubs, err := extractStubs(html)
	if err != nil {
		log.Printf("[GridScanner] %v (page %d)", err, page)
		return nil
	}
	return stubs
}

// searchURL builds the grid page URL for the configured saved search.
func (s *Scanner) searchURL(page int) string {
	params := url.Values{}
	for key, value := range s.query {
		params.Set(key, value)
	}
	params.Set("q", s.area)
	params.Set("page_size", strconv.Itoa(s.pageSize))
	params.Set("pn", strconv.Itoa(page))

	slug := strings.ReplaceAll(strings.ToLower(s.area), " ", "-")
	return fmt.Sprintf("%s/to-rent/property/%s/?%s", s.baseURL, slug, params.Encode())
}

// extractStubs locates listing identifiers in a grid page. It tries the
// embedded script payload first (both shapes the site has used), then falls
// back to DOM element IDs.
func extractStubs(html []byte) ([]models.Stub, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse grid page HTML: %w", err)
	}

	var dataScript string
	doc.Find("script").EachWithBreak(func(i int, sel *goquery.Selection) bool {
		text := sel.Text()
		if strings.Contains(text, dataScriptMarker) {
			dataScript = text
			return false
		}
		return true
	})

	if dataScript != "" {
		if stubs := stubsFromScript(dataScript); len(stubs) > 0 {
			return stubs, nil
		}
		return nil, errors.New("could not find listings array in data script")
	}

	if stubs := stubsFromDOM(doc); len(stubs) > 0 {
		return stubs, nil
	}
	return nil, errors.New("could not find script containing listing data")
}

func stubsFromScript(script string) []models.Stub {
	// Object-array shape first: it carries coordinates.
	if m := listingObjectsRe.FindStringSubmatch(script); m != nil {
		var objects []struct {
			ListingID json.Number `json:"listing_id"`
			Latitude  float64     `json:"lat"`
			Longitude float64     `json:"lon"`
		}
		if err := json.Unmarshal([]byte(m[1]), &objects); err == nil && len(objects) > 0 {
			stubs := make([]models.Stub, 0, len(objects))
			for _, obj := range objects {
				id, err := obj.ListingID.Int64()
				if err != nil {
					continue
				}
				stubs = append(stubs, models.Stub{
					ID:        id,
					Latitude:  obj.Latitude,
					Longitude: obj.Longitude,
					HasCoords: obj.Latitude != 0 || obj.Longitude != 0,
				})
			}
			if len(stubs) > 0 {
				return stubs
			}
		}
	}

	m := listingIDsRe.FindStringSubmatch(script)
	if m == nil {
		return nil
	}
	// IDs appear both as numbers and as quoted strings depending on the
	// payload version; accept either.
	var raw []any
	if err := json.Unmarshal([]byte(m[1]), &raw); err != nil {
		return nil
	}
	stubs := make([]models.Stub, 0, len(raw))
	for _, v := range raw {
		switch id := v.(type) {
		case float64:
			stubs = append(stubs, models.Stub{ID: int64(id)})
		case string:
			if n, err := strconv.ParseInt(id, 10, 64); err == nil {
				stubs = append(stubs, models.Stub{ID: n})
			}
		}
	}
	return stubs
}

func stubsFromDOM(doc *goquery.Document) []models.Stub {
	var stubs []models.Stub
	doc.Find("[id]").Each(func(i int, sel *goquery.Selection) {
		id, _ := sel.Attr("id")
		m := domListingIDRe.FindStringSubmatch(id)
		if m == nil {
			return
		}
		if n, err := strconv.ParseInt(m[1], 10, 64); err == nil {
			stubs = append(stubs, models.Stub{ID: n})
		}
	})
	return stubs
}
