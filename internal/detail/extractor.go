package detail

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"

	"property-swipe/internal/cache"
	"property-swipe/internal/fetch"
	"property-swipe/internal/models"
)

// ErrMissingRequiredField marks an extraction failure on a field the record
// is unusable without (title, price, coordinates). Optional fields never
// produce this error; they degrade to their unknown state instead.
var ErrMissingRequiredField = errors.New("required listing field missing")

// priceRe isolates the currency amount from text like "£1,234 pcm". The
// periodicity suffix is required: matching a bare number would silently
// accept weekly prices or deposit amounts.
var priceRe = regexp.MustCompile(`£([\d,]+) pcm`)

var (
	viewCountRe  = regexp.MustCompile(`(\d+) page views`)
	roomCountRe  = regexp.MustCompile(`(?i)(\d+)\s+(bed|bath)`)
	galleryURLRe = regexp.MustCompile(`url\((.+)\)`)
	ordinalDayRe = regexp.MustCompile(`(\d+)(?:st|nd|rd|th)`)
	availFromRe  = regexp.MustCompile(`(?i)available\s+(?:from\s+)?(.+)`)
)

// Detail is the structured result of extracting one listing's detail page.
// Pointer fields are explicitly unknown when nil.
type Detail struct {
	Summary       string
	Price         int
	Locality      string
	Latitude      float64
	Longitude     float64
	Description   string
	Photos        []string
	Features      []string
	PriceHistory  []models.PricePoint
	BedCount      *int
	BathCount     *int
	AvailableFrom *time.Time
	ViewCount     *int
	AvgAreaPrice  *int
}

// Extractor turns a listing's detail page into a Detail record. The embedded
// linked-data block is authoritative for title, price, address, coordinates
// and photos; everything else comes from page markup and is optional.
type Extractor struct {
	fetcher *fetch.Fetcher
	cache   *cache.Store
	baseURL string
	maxAge  time.Duration
}

// NewExtractor creates a detail extractor.
func NewExtractor(fetcher *fetch.Fetcher, store *cache.Store, baseURL string, maxAge time.Duration) *Extractor {
	return &Extractor{fetcher: fetcher, cache: store, baseURL: baseURL, maxAge: maxAge}
}

// BaseURL returns the site base URL detail pages are resolved against.
func (e *Extractor) BaseURL() string {
	return e.baseURL
}

// Extract fetches (cached, throttled) and parses the detail page for id.
func (e *Extractor) Extract(ctx context.Context, id int64) (*Detail, error) {
	pageURL := models.ListingURL(e.baseURL, id)

	html, err := e.cache.GetOrCompute(cache.DetailPageKey(id), e.maxAge, func() ([]byte, error) {
		body, status, err := e.fetcher.Fetch(ctx, pageURL)
		if err != nil {
			return nil, fmt.Errorf("error retrieving detail page for %d (status %d): %w", id, status, err)
		}
		log.Printf("[DetailExtractor] Fetched detail page for %d", id)
		return body, nil
	})
	if err != nil {
		return nil, err
	}

	log.Printf("[DetailExtractor] Parsing detail page for %d", id)
	return Parse(html, id)
}

// Parse extracts a Detail from raw detail-page HTML.
func Parse(html []byte, id int64) (*Detail, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("failed to parse detail page HTML: %w", err)
	}

	residence, err := findResidence(doc)
	if err != nil {
		return nil, err
	}

	d := &Detail{}
	if err := applyResidence(d, residence); err != nil {
		return nil, err
	}

	// Everything below is optional markup: log and keep the unknown state,
	// never fail the record.
	applyDescription(d, doc, id)
	applyFeatures(d, doc)
	applyPriceHistory(d, doc, id)
	applyRoomCounts(d, doc)
	applyAvailability(d, doc, id)
	applyViewCount(d, doc, id)
	applyAreaPrice(d, doc)
	applyGalleryPhotos(d, doc)

	return d, nil
}

// residence mirrors the fields used from the site's linked-data block.
type residence struct {
	Type        string `json:"@type"`
	Name        string `json:"name"`
	Description string `json:"description"`
	Address     struct {
		Locality string `json:"addressLocality"`
	} `json:"address"`
	Geo struct {
		Latitude  float64 `json:"latitude"`
		Longitude float64 `json:"longitude"`
	} `json:"geo"`
	Photo []struct {
		ContentURL string `json:"contentUrl"`
	} `json:"photo"`
}

// findResidence locates the Residence entity across the page's ld+json
// blocks. Blocks that fail to decode are skipped; only a page with no
// Residence at all is a hard failure.
func findResidence(doc *goquery.Document) (*residence, error) {
	var found *residence
	doc.Find(`script[type="application/ld+json"]`).EachWithBreak(func(i int, sel *goquery.Selection) bool {
		var document struct {
			Graph []json.RawMessage `json:"@graph"`
		}
		if err := json.Unmarshal([]byte(sel.Text()), &document); err != nil {
			return true
		}
		for _, raw := range document.Graph {
			var entity residence
			if err := json.Unmarshal(raw, &entity); err != nil {
				continue
			}
			if entity.Type == "Residence" {
				found = &entity
				return false
			}
		}
		return true
	})

	if found == nil {
		return nil, fmt.Errorf("%w: no Residence entity in linked-data block", ErrMissingRequiredField)
	}
	return found, nil
}

func applyResidence(d *Detail, r *residence) error {
	if strings.TrimSpace(r.Name) == "" {
		return fmt.Errorf("%w: title", ErrMissingRequiredField)
	}
	d.Summary = strings.TrimSpace(strings.Replace(r.Name, " to rent", "", 1))

	price, err := ParsePrice(r.Description)
	if err != nil {
		return err
	}
	d.Price = price

	if r.Geo.Latitude == 0 && r.Geo.Longitude == 0 {
		return fmt.Errorf("%w: coordinates", ErrMissingRequiredField)
	}
	d.Latitude = r.Geo.Latitude
	d.Longitude = r.Geo.Longitude
	d.Locality = r.Address.Locality

	for _, photo := range r.Photo {
		if photo.ContentURL != "" {
			d.Photos = append(d.Photos, photo.ContentURL)
		}
	}
	return nil
}

// ParsePrice isolates the monthly amount from text like "£1,234 pcm",
// stripping thousands separators. An absent pattern is a required-field
// failure, never a silent zero.
func ParsePrice(text string) (int, error) {
	m := priceRe.FindStringSubmatch(text)
	if m == nil {
		return 0, fmt.Errorf("%w: price pattern not found in %q", ErrMissingRequiredField, text)
	}
	price, err := strconv.Atoi(strings.ReplaceAll(m[1], ",", ""))
	if err != nil {
		return 0, fmt.Errorf("%w: price %q: %v", ErrMissingRequiredField, m[1], err)
	}
	return price, nil
}

func applyDescription(d *Detail, doc *goquery.Document, id int64) {
	sel := doc.Find(".dp-description__text")
	if sel.Length() == 0 {
		log.Printf("[DetailExtractor] Missing description for %d", id)
		return
	}
	d.Description = strings.TrimSpace(sel.First().Text())
}

func applyFeatures(d *Detail, doc *goquery.Document) {
	doc.Find(".dp-features-list--bullets .dp-features-list__item").Each(func(i int, sel *goquery.Selection) {
		if feature := strings.TrimSpace(sel.Text()); feature != "" {
			d.Features = append(d.Features, feature)
		}
	})
}

func applyPriceHistory(d *Detail, doc *goquery.Document, id int64) {
	doc.Find(".dp-price-history__item").Each(func(i int, sel *goquery.Selection) {
		dateText := strings.TrimSpace(sel.Find(".dp-price-history__item-date").Text())
		date, err := ParseSiteDate(dateText)
		if err != nil {
			log.Printf("[DetailExtractor] Skipping price history entry with unparseable date %q for %d", dateText, id)
			return
		}
		price, err := ParsePrice(sel.Find(".dp-price-history__item-price").Text())
		if err != nil {
			log.Printf("[DetailExtractor] Skipping price history entry with unparseable price for %d", id)
			return
		}
		d.PriceHistory = append(d.PriceHistory, models.PricePoint{Date: date, Price: price})
	})
}

func applyRoomCounts(d *Detail, doc *goquery.Document) {
	doc.Find(".dp-features-list--counts .dp-features-list__text").Each(func(i int, sel *goquery.Selection) {
		m := roomCountRe.FindStringSubmatch(strings.TrimSpace(sel.Text()))
		if m == nil {
			return
		}
		count, err := strconv.Atoi(m[1])
		if err != nil {
			return
		}
		switch strings.ToLower(m[2]) {
		case "bed":
			d.BedCount = &count
		case "bath":
			d.BathCount = &count
		}
	})
}

func applyAvailability(d *Detail, doc *goquery.Document, id int64) {
	text := strings.TrimSpace(doc.Find(".dp-availability__text").Text())
	if text == "" {
		return
	}
	m := availFromRe.FindStringSubmatch(text)
	if m == nil {
		return
	}
	date, err := ParseSiteDate(strings.TrimSpace(m[1]))
	if err != nil {
		log.Printf("[DetailExtractor] Unparseable availability date %q for %d", m[1], id)
		return
	}
	d.AvailableFrom = &date
}

func applyViewCount(d *Detail, doc *goquery.Document, id int64) {
	text := doc.Find(".dp-view-count__legend").Text()
	m := viewCountRe.FindStringSubmatch(text)
	if m == nil {
		if strings.TrimSpace(text) != "" {
			log.Printf("[DetailExtractor] Unparseable view count %q for %d", text, id)
		}
		return
	}
	if count, err := strconv.Atoi(m[1]); err == nil {
		d.ViewCount = &count
	}
}

func applyAreaPrice(d *Detail, doc *goquery.Document) {
	sel := doc.Find(".dp-market-stats__price")
	if sel.Length() == 0 {
		return
	}
	if price, err := ParsePrice(sel.First().Text()); err == nil {
		d.AvgAreaPrice = &price
	}
}

// applyGalleryPhotos appends gallery images that are absent from the
// linked-data photo list, preserving order and skipping duplicates.
func applyGalleryPhotos(d *Detail, doc *goquery.Document) {
	seen := make(map[string]bool, len(d.Photos))
	for _, photo := range d.Photos {
		seen[photo] = true
	}
	doc.Find(".ui-modal-gallery__asset--center-content").Each(func(i int, sel *goquery.Selection) {
		style, _ := sel.Attr("style")
		m := galleryURLRe.FindStringSubmatch(style)
		if m == nil {
			return
		}
		photo := strings.Trim(m[1], `"'`)
		if photo != "" && !seen[photo] {
			seen[photo] = true
			d.Photos = append(d.Photos, photo)
		}
	})
}

// ParseSiteDate parses the site's human-readable dates ("2nd Jan 2006").
// A format the parser does not recognise is an extraction-shape failure for
// the caller to degrade on, never a guess.
func ParseSiteDate(text string) (time.Time, error) {
	normalized := ordinalDayRe.ReplaceAllString(strings.TrimSpace(text), "$1")
	for _, layout := range []string{"2 Jan 2006", "2 January 2006"} {
		if date, err := time.Parse(layout, normalized); err == nil {
			return date, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date format %q", text)
}
