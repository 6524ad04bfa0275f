package fetch

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/http/cookiejar"
	"time"

	"property-swipe/internal/ratelimit"
)

// StatusError reports a non-2xx response. The body is kept so callers can
// log what the site returned; retrying is the caller's decision.
type StatusError struct {
	URL        string
	StatusCode int
	Body       []byte
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("unexpected status %d fetching %s", e.StatusCode, e.URL)
}

// Fetcher performs outbound HTTP requests through the shared process-wide
// throttle. All page and API fetches in the pipeline go through one Fetcher
// so the target site sees at most one request per configured interval.
type Fetcher struct {
	client    *http.Client
	throttle  *ratelimit.Throttle
	userAgent string

	// Optional headless-browser fallback for bot-walled pages.
	useHeadless bool
	chromePath  string
	timeout     time.Duration
}

// Config holds fetcher settings
type Config struct {
	Timeout     time.Duration
	UserAgent   string
	UseHeadless bool
	ChromePath  string
}

// NewFetcher creates a fetcher sharing the given throttle.
func NewFetcher(cfg Config, throttle *ratelimit.Throttle) *Fetcher {
	// Cookie jar for session continuity between grid and detail fetches
	jar, err := cookiejar.New(nil)
	if err != nil {
		log.Printf("[Fetcher] Warning: failed to create cookie jar: %v", err)
		jar = nil
	}

	return &Fetcher{
		client: &http.Client{
			Timeout: cfg.Timeout,
			Jar:     jar,
		},
		throttle:    throttle,
		userAgent:   cfg.UserAgent,
		useHeadless: cfg.UseHeadless,
		chromePath:  cfg.ChromePath,
		timeout:     cfg.Timeout,
	}
}

// Fetch retrieves url after waiting for a throttle slot. It returns the body
// and status code; a non-2xx response yields the body plus a *StatusError.
func (f *Fetcher) Fetch(ctx context.Context, url string) ([]byte, int, error) {
	if err := f.throttle.Wait(ctx); err != nil {
		return nil, 0, fmt.Errorf("throttle wait: %w", err)
	}

	body, status, err := f.do(ctx, url)

	// Some responses are served by the site's bot wall rather than the site
	// itself; a headless browser fetch usually gets through.
	if f.useHeadless && isBotWallStatus(status) {
		log.Printf("[Fetcher] Status %d for %s, retrying with headless browser", status, url)
		if err := f.throttle.Wait(ctx); err != nil {
			return nil, 0, fmt.Errorf("throttle wait: %w", err)
		}
		html, herr := f.fetchHeadless(ctx, url)
		if herr != nil {
			log.Printf("[Fetcher] Headless fallback failed for %s: %v", url, herr)
			return body, status, err
		}
		return html, http.StatusOK, nil
	}

	return body, status, err
}

func (f *Fetcher) do(ctx context.Context, url string) ([]byte, int, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, 0, fmt.Errorf("failed to create request: %w", err)
	}
	f.applyBrowserHeaders(req)

	resp, err := f.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("failed to read response body: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return body, resp.StatusCode, &StatusError{URL: url, StatusCode: resp.StatusCode, Body: body}
	}
	return body, resp.StatusCode, nil
}

// applyBrowserHeaders sets browser-like headers; the target site serves a
// reduced page to clients that look like scripts.
func (f *Fetcher) applyBrowserHeaders(req *http.Request) {
	req.Header.Set("User-Agent", f.userAgent)
	req.Header.Set("Accept", "text/html,application/xhtml+xml,application/xml;q=0.9,*/*;q=0.8")
	req.Header.Set("Accept-Language", "en-GB,en;q=0.9")
	req.Header.Set("Upgrade-Insecure-Requests", "1")
}

func isBotWallStatus(status int) bool {
	return status == http.StatusForbidden || status == http.StatusTooManyRequests || status == http.StatusServiceUnavailable
}
