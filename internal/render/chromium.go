// Package render loads detail pages in headless Chromium so that pages
// building their JSON-LD with JavaScript can still be enriched.
package render

import (
	"context"
	"fmt"
	"time"

	"github.com/chromedp/chromedp"

	appLog "github.com/faistasortieaToulouse/ftsonline-sub003/internal/log"
)

// DefaultTimeoutSec bounds a single page render.
const DefaultTimeoutSec = 30

// Options defines parameters for a Chromium page source.
type Options struct {
	// Timeout bounds each render. If zero, DefaultTimeoutSec is used.
	Timeout time.Duration

	// UserAgent overrides Chromium's default when non-empty.
	UserAgent string

	// ExecPath points at a specific Chromium binary. Empty lets chromedp
	// search the usual locations.
	ExecPath string
}

// Chromium renders pages in one shared headless browser; each Page call
// opens its own tab.
type Chromium struct {
	opts        Options
	browserCtx  context.Context
	allocCancel context.CancelFunc
	cancel      context.CancelFunc
}

// NewChromium launches the browser. Call Close when done.
func NewChromium(parent context.Context, opts Options) (*Chromium, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = time.Duration(DefaultTimeoutSec) * time.Second
	}

	allocOpts := append([]chromedp.ExecAllocatorOption{}, chromedp.DefaultExecAllocatorOptions[:]...)
	if opts.UserAgent != "" {
		allocOpts = append(allocOpts, chromedp.UserAgent(opts.UserAgent))
	}
	if opts.ExecPath != "" {
		allocOpts = append(allocOpts, chromedp.ExecPath(opts.ExecPath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(parent, allocOpts...)
	browserCtx, cancel := chromedp.NewContext(allocCtx)

	// Tabs opened later attach to this browser only if it is already running.
	if err := chromedp.Run(browserCtx); err != nil {
		cancel()
		allocCancel()
		return nil, fmt.Errorf("render: start chromium: %w", err)
	}
	appLog.Info("headless chromium started", "timeout", opts.Timeout)

	return &Chromium{opts: opts, browserCtx: browserCtx, allocCancel: allocCancel, cancel: cancel}, nil
}

// Page navigates to url, waits for the body and returns the rendered
// document HTML.
func (c *Chromium) Page(ctx context.Context, url string) ([]byte, error) {
	if url == "" {
		return nil, fmt.Errorf("render: URL is required")
	}

	tabCtx, cancel := chromedp.NewContext(c.browserCtx)
	defer cancel()

	// Cancel the tab when either the caller or the timeout gives up.
	tabCtx, timeoutCancel := context.WithTimeout(tabCtx, c.opts.Timeout)
	defer timeoutCancel()
	stop := context.AfterFunc(ctx, timeoutCancel)
	defer stop()

	start := time.Now()
	var doc string
	tasks := chromedp.Tasks{
		chromedp.Navigate(url),
		chromedp.WaitReady("body", chromedp.ByQuery),
		chromedp.OuterHTML("html", &doc, chromedp.ByQuery),
	}
	if err := chromedp.Run(tabCtx, tasks); err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, fmt.Errorf("render: chromedp run failed: %w", err)
	}

	appLog.Debug("page rendered", "elapsed", time.Since(start).Round(time.Millisecond), "bytes", len(doc))
	return []byte(doc), nil
}

// Close shuts down the browser.
func (c *Chromium) Close() {
	c.cancel()
	c.allocCancel()
}
