// Package enrich fills missing venue addresses and cover images by scraping
// each event's detail page.
package enrich

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/faistasortieaToulouse/ftsonline-sub003/internal/feed"
	"github.com/faistasortieaToulouse/ftsonline-sub003/internal/model"
)

const defaultConcurrency = 5

// PageSource returns the HTML of a detail page.
type PageSource interface {
	Page(ctx context.Context, url string) ([]byte, error)
}

// Options configures an Enricher.
type Options struct {
	// Concurrency caps simultaneous page fetches. Zero means 5.
	Concurrency int
	// RatePerSecond limits page fetches across the pool. Zero disables it.
	RatePerSecond float64
}

// Enrichment is what a detail page contributed. Empty fields mean "not found".
type Enrichment struct {
	CoverImage  string
	FullAddress string
}

func (e Enrichment) Empty() bool {
	return e.CoverImage == "" && e.FullAddress == ""
}

// Error records a failed enrichment for one event.
type Error struct {
	URL string
	Err error
}

func (e *Error) Error() string {
	return fmt.Sprintf("enrich %s: %v", feed.RedactURL(e.URL), e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Result is the per-event outcome: exactly one of Enrichment or Err is meaningful.
type Result struct {
	Index      int
	Enrichment Enrichment
	Err        error
}

// Report aggregates the results of one batch.
type Report struct {
	Attempted int
	Succeeded int
	Empty     int
	Failed    int
	Errors    []error
}

// Enricher scrapes detail pages through a bounded worker pool.
type Enricher struct {
	pages       PageSource
	concurrency int
	limiter     *rate.Limiter
}

// New creates an Enricher reading pages from src.
func New(src PageSource, opts Options) *Enricher {
	if opts.Concurrency <= 0 {
		opts.Concurrency = defaultConcurrency
	}
	e := &Enricher{
		pages:       src,
		concurrency: opts.Concurrency,
	}
	if opts.RatePerSecond > 0 {
		e.limiter = rate.NewLimiter(rate.Limit(opts.RatePerSecond), opts.Concurrency)
	}
	return e
}

// NeedsEnrichment reports whether ev lacks a venue and has a page to scrape.
func NeedsEnrichment(ev model.Event) bool {
	return !ev.HasAddress() && ev.Link != ""
}

// Enrich returns a copy of events with addresses and images filled in from
// detail pages where possible. Failures are per event: they are reported,
// never returned, and the event keeps its original fields.
func (e *Enricher) Enrich(ctx context.Context, events []model.Event) ([]model.Event, Report) {
	out := make([]model.Event, len(events))
	copy(out, events)

	var targets []int
	for i, ev := range out {
		if NeedsEnrichment(ev) {
			targets = append(targets, i)
		}
	}

	results := make([]Result, len(targets))
	var g errgroup.Group
	g.SetLimit(e.concurrency)
	for slot, idx := range targets {
		g.Go(func() error {
			results[slot] = e.one(ctx, idx, out[idx].Link)
			return nil
		})
	}
	_ = g.Wait()

	report := Report{Attempted: len(targets)}
	for _, r := range results {
		if r.Err != nil {
			report.Failed++
			report.Errors = append(report.Errors, r.Err)
			continue
		}
		if r.Enrichment.Empty() {
			report.Empty++
			continue
		}
		report.Succeeded++
		apply(&out[r.Index], r.Enrichment)
	}
	return out, report
}

func (e *Enricher) one(ctx context.Context, idx int, url string) Result {
	res := Result{Index: idx}

	if e.limiter != nil {
		if err := e.limiter.Wait(ctx); err != nil {
			res.Err = &Error{URL: url, Err: err}
			return res
		}
	}

	body, err := e.pages.Page(ctx, url)
	if err != nil {
		res.Err = &Error{URL: url, Err: err}
		return res
	}

	enr, err := extractPage(body)
	if err != nil {
		res.Err = &Error{URL: url, Err: err}
		return res
	}
	res.Enrichment = enr
	return res
}

func apply(ev *model.Event, enr Enrichment) {
	if enr.FullAddress != "" {
		ev.FullAddress = enr.FullAddress
		if ev.Location == "" {
			ev.Location = shortAddress(enr.FullAddress)
		}
	}
	if enr.CoverImage != "" && ev.CoverImage == "" {
		ev.CoverImage = enr.CoverImage
	}
}

// shortAddress keeps the locality, the last comma-separated part.
func shortAddress(addr string) string {
	if i := strings.LastIndex(addr, ","); i >= 0 {
		if s := strings.TrimSpace(addr[i+1:]); s != "" {
			return s
		}
	}
	return addr
}

// IsCanceled reports whether every failure in the report came from the
// request being canceled, which callers log at a lower level.
func (r Report) IsCanceled() bool {
	if len(r.Errors) == 0 {
		return false
	}
	for _, err := range r.Errors {
		if !errors.Is(err, context.Canceled) && !errors.Is(err, context.DeadlineExceeded) {
			return false
		}
	}
	return true
}
