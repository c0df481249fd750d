package web

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"
)

// RenderHTML loads rawURL in a headless Chromium instance and returns its
// fully rendered outer HTML plus the URL chromedp ended up navigating to
// after redirects. Grounded on the teacher's chromedp-based screenshot tool
// (same ExecAllocator/navigate/WaitReady task shape); adapted here to pull
// rendered markup rather than a PNG, since web_extract's JS-heavy-page path
// needs the DOM, not an image.
func RenderHTML(ctx context.Context, rawURL string, timeout time.Duration) (html, finalURL string, err error) {
	if timeout <= 0 {
		timeout = 20 * time.Second
	}
	opts := append(chromedp.DefaultExecAllocatorOptions[:], chromedp.Flag("headless", true))
	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx)
	defer cancelBrowser()
	runCtx, cancelRun := context.WithTimeout(browserCtx, timeout)
	defer cancelRun()

	tasks := chromedp.Tasks{
		chromedp.Navigate(rawURL),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.Location(&finalURL),
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	}
	if err := chromedp.Run(runCtx, tasks); err != nil {
		return "", "", fmt.Errorf("render %s: %w", rawURL, err)
	}
	if finalURL == "" {
		finalURL = rawURL
	}
	return html, finalURL, nil
}
