package fetch

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/chromedp/chromedp"
)

// fetchHeadless renders url in headless Chrome and returns the resulting
// HTML. Used only as a fallback when the plain HTTP fetch hits the site's
// bot wall; the JavaScript-executed page passes most of its checks.
func (f *Fetcher) fetchHeadless(ctx context.Context, url string) ([]byte, error) {
	log.Printf("[HeadlessBrowser] Fetching %s with Chrome", url)

	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.ExecPath(f.chromePath),
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.UserAgent(f.userAgent),
	)

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	defer allocCancel()

	browserCtx, cancel := chromedp.NewContext(allocCtx)
	defer cancel()

	browserCtx, cancel = context.WithTimeout(browserCtx, f.timeout)
	defer cancel()

	var htmlContent string
	err := chromedp.Run(browserCtx,
		chromedp.Navigate(url),
		chromedp.WaitVisible(`body`, chromedp.ByQuery),
		// Give client-side scripts a moment to fill the page in
		chromedp.Sleep(2*time.Second),
		chromedp.OuterHTML(`html`, &htmlContent, chromedp.ByQuery),
	)
	if err != nil {
		return nil, fmt.Errorf("chromedp error: %w", err)
	}

	log.Printf("[HeadlessBrowser] Fetched %s (%d bytes)", url, len(htmlContent))
	return []byte(htmlContent), nil
}
