package commute

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"net/url"
	"strconv"
	"sync"
	"time"

	"property-swipe/internal/cache"
	"property-swipe/internal/fetch"
)

const defaultEndpoint = "https://maps.googleapis.com/maps/api/distancematrix/json"

// Times holds commute durations to the configured destination. A nil value
// means the destination is unreachable by that mode, which is a valid
// outcome, not an extraction failure.
type Times struct {
	TransitMinutes *int `json:"transit_minutes"`
	CyclingMinutes *int `json:"cycling_minutes"`
}

// Oracle resolves commute durations from listing coordinates via the
// distance-matrix service. Lookups are cached per coordinate pair with a
// long max age (a listing's coordinates never move) and go through the
// shared throttled fetcher.
type Oracle struct {
	fetcher *fetch.Fetcher
	cache   *cache.Store

	endpoint    string
	apiKey      string
	destination string

	arrivalWeekday time.Weekday
	arrivalHour    int

	maxAge time.Duration
	now    func() time.Time
}

// Config holds oracle settings
type Config struct {
	Endpoint       string // defaults to the Google Distance Matrix API
	APIKey         string
	Destination    string
	ArrivalWeekday time.Weekday
	ArrivalHour    int
	MaxAge         time.Duration
}

// NewOracle creates a commute oracle.
func NewOracle(fetcher *fetch.Fetcher, store *cache.Store, cfg Config) *Oracle {
	endpoint := cfg.Endpoint
	if endpoint == "" {
		endpoint = defaultEndpoint
	}
	return &Oracle{
		fetcher:        fetcher,
		cache:          store,
		endpoint:       endpoint,
		apiKey:         cfg.APIKey,
		destination:    cfg.Destination,
		arrivalWeekday: cfg.ArrivalWeekday,
		arrivalHour:    cfg.ArrivalHour,
		maxAge:         cfg.MaxAge,
		now:            time.Now,
	}
}

// Commute resolves travel times from the given coordinates. The transit and
// cycling queries run concurrently; if either request fails, the whole lookup
// fails and nothing is cached, so the listing is retried on the next cycle.
// An unreachable destination is not a failure and caches a nil duration.
func (o *Oracle) Commute(ctx context.Context, lat, lon float64) (*Times, error) {
	payload, err := o.cache.GetOrCompute(cache.CommuteKey(lat, lon), o.maxAge, func() ([]byte, error) {
		times, err := o.lookup(ctx, lat, lon)
		if err != nil {
			return nil, err
		}
		return json.Marshal(times)
	})
	if err != nil {
		return nil, err
	}

	var times Times
	if err := json.Unmarshal(payload, &times); err != nil {
		return nil, fmt.Errorf("corrupt commute cache entry: %w", err)
	}
	return &times, nil
}

func (o *Oracle) lookup(ctx context.Context, lat, lon float64) (*Times, error) {
	arrival := nextArrival(o.now(), o.arrivalWeekday, o.arrivalHour)

	var wg sync.WaitGroup
	var transit, cycling *int
	var transitErr, cyclingErr error

	wg.Add(2)
	go func() {
		defer wg.Done()
		transit, transitErr = o.queryMode(ctx, lat, lon, "transit", arrival)
	}()
	go func() {
		defer wg.Done()
		cycling, cyclingErr = o.queryMode(ctx, lat, lon, "bicycling", arrival)
	}()
	wg.Wait()

	// A request error on either mode fails the lookup so that a transient
	// failure is never cached as unreachable for the full max age.
	if transitErr != nil {
		return nil, fmt.Errorf("transit lookup failed: %w", transitErr)
	}
	if cyclingErr != nil {
		return nil, fmt.Errorf("cycling lookup failed: %w", cyclingErr)
	}

	return &Times{TransitMinutes: transit, CyclingMinutes: cycling}, nil
}

// matrixResponse mirrors the distance-matrix response fields in use.
type matrixResponse struct {
	Status string `json:"status"`
	Rows   []struct {
		Elements []struct {
			Status   string `json:"status"`
			Duration struct {
				Value int `json:"value"` // seconds
			} `json:"duration"`
		} `json:"elements"`
	} `json:"rows"`
}

// queryMode issues one distance-matrix query. A non-OK element status means
// the destination is unreachable by this mode and returns (nil, nil).
func (o *Oracle) queryMode(ctx context.Context, lat, lon float64, mode string, arrival time.Time) (*int, error) {
	params := url.Values{}
	params.Set("origins", fmt.Sprintf("%v,%v", lat, lon))
	params.Set("destinations", o.destination)
	params.Set("mode", mode)
	params.Set("arrival_time", strconv.FormatInt(arrival.Unix(), 10))
	params.Set("units", "metric")
	params.Set("key", o.apiKey)

	body, status, err := o.fetcher.Fetch(ctx, o.endpoint+"?"+params.Encode())
	if err != nil {
		return nil, fmt.Errorf("distance matrix request failed (status %d): %w", status, err)
	}

	var resp matrixResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("failed to decode distance matrix response: %w", err)
	}
	if resp.Status != "OK" {
		return nil, fmt.Errorf("distance matrix responded with status %q", resp.Status)
	}
	if len(resp.Rows) == 0 || len(resp.Rows[0].Elements) == 0 {
		return nil, fmt.Errorf("distance matrix response has no elements")
	}

	element := resp.Rows[0].Elements[0]
	if element.Status != "OK" {
		// Unreachable by this mode: valid data, not an error.
		return nil, nil
	}

	minutes := int(math.Round(float64(element.Duration.Value) / 60.0))
	return &minutes, nil
}

// nextArrival returns the next occurrence of weekday at hour:00 strictly
// after now, in now's location.
func nextArrival(now time.Time, weekday time.Weekday, hour int) time.Time {
	days := (int(weekday) - int(now.Weekday()) + 7) % 7
	candidate := time.Date(now.Year(), now.Month(), now.Day()+days, hour, 0, 0, 0, now.Location())
	if !candidate.After(now) {
		candidate = candidate.AddDate(0, 0, 7)
	}
	return candidate
}
