// Package meetup assembles the event list behind each /api/meetup-{id} route.
package meetup

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/faistasortieaToulouse/ftsonline-sub003/internal/config"
	"github.com/faistasortieaToulouse/ftsonline-sub003/internal/dedup"
	"github.com/faistasortieaToulouse/ftsonline-sub003/internal/enrich"
	"github.com/faistasortieaToulouse/ftsonline-sub003/internal/feed"
	"github.com/faistasortieaToulouse/ftsonline-sub003/internal/ics"
	appLog "github.com/faistasortieaToulouse/ftsonline-sub003/internal/log"
	"github.com/faistasortieaToulouse/ftsonline-sub003/internal/metrics"
	"github.com/faistasortieaToulouse/ftsonline-sub003/internal/model"
	"github.com/faistasortieaToulouse/ftsonline-sub003/internal/window"
)

const pipeline = "meetup"

// ErrUnknownSource is returned for an id that is not configured.
var ErrUnknownSource = errors.New("meetup: unknown source")

// Fetcher retrieves all feeds of a source, failing as a whole.
type Fetcher interface {
	FetchAll(ctx context.Context, urls []string) ([][]byte, error)
}

// Options configures a Service.
type Options struct {
	// WindowDays is the served horizon. Zero means 31.
	WindowDays int
	// Location resolves floating iCal times. Nil means time.Local.
	Location *time.Location
	// Enricher fills missing venues. Nil disables enrichment.
	Enricher *enrich.Enricher
	Metrics  *metrics.Manager
	Now      func() time.Time
}

// Service runs the event pipeline: fetch, parse, dedup, expand, window, enrich.
type Service struct {
	fetch    Fetcher
	days     int
	loc      *time.Location
	enricher *enrich.Enricher
	metrics  *metrics.Manager
	now      func() time.Time

	sources []config.MeetupSource
	byID    map[string]config.MeetupSource
}

// NewService creates a Service over the configured sources.
func NewService(fetch Fetcher, sources []config.MeetupSource, opts Options) *Service {
	if opts.WindowDays <= 0 {
		opts.WindowDays = window.DefaultDays
	}
	if opts.Location == nil {
		opts.Location = time.Local
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Service{
		fetch:    fetch,
		days:     opts.WindowDays,
		loc:      opts.Location,
		enricher: opts.Enricher,
		metrics:  opts.Metrics,
		now:      opts.Now,
		sources:  sources,
		byID:     make(map[string]config.MeetupSource, len(sources)),
	}
	for _, src := range sources {
		s.byID[src.ID] = src
	}
	return s
}

// Sources returns the configured pages in configuration order.
func (s *Service) Sources() []config.MeetupSource {
	return s.sources
}

// Events returns the upcoming events of source id, sorted by start date.
// Any feed failing to download or parse fails the whole request.
func (s *Service) Events(ctx context.Context, id string) ([]model.Event, error) {
	src, ok := s.byID[id]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownSource, id)
	}

	start := time.Now()
	defer func() { s.metrics.ObserveRun(pipeline, id, time.Since(start)) }()

	now := s.now()

	bodies, err := s.fetch.FetchAll(ctx, src.URLs)
	if err != nil {
		s.metrics.FetchError(pipeline, id)
		return nil, fmt.Errorf("meetup %s: %w", id, err)
	}

	var events []model.Event
	for i, body := range bodies {
		evs, err := ics.ParseEvents(body, ics.ParseOptions{Location: s.loc, Now: now})
		if err != nil {
			s.metrics.FetchError(pipeline, id)
			return nil, fmt.Errorf("meetup %s: %s: %w", id, feed.RedactURL(src.URLs[i]), err)
		}
		events = append(events, evs...)
	}
	parsed := len(events)

	// Dedup before expansion: occurrences share their series UID.
	events = dedup.Events(events)

	winStart, winEnd := window.Bounds(now, s.days)
	expanded, err := ics.Expand(events, ics.ExpandConfig{RangeStart: winStart, RangeEnd: winEnd})
	if err != nil {
		return nil, fmt.Errorf("meetup %s: %w", id, err)
	}
	events = window.Filter(expanded.Events, now, s.days)

	if s.enricher != nil {
		var report enrich.Report
		events, report = s.enricher.Enrich(ctx, events)
		s.logReport(id, report)
	}

	s.metrics.Served(pipeline, id, len(events))
	appLog.Info("meetup events built",
		"source", id,
		"feeds", len(src.URLs),
		"parsed", parsed,
		"served", len(events),
		"elapsed", time.Since(start).Round(time.Millisecond),
	)
	return events, nil
}

func (s *Service) logReport(id string, r enrich.Report) {
	s.metrics.EnrichResults(id, r.Succeeded, r.Failed, r.Empty)
	if r.Attempted == 0 {
		return
	}

	appLog.Info("meetup enrichment",
		"source", id,
		"attempted", r.Attempted,
		"succeeded", r.Succeeded,
		"empty", r.Empty,
		"failed", r.Failed,
	)
	if r.IsCanceled() {
		appLog.Debug("meetup enrichment canceled", "source", id)
		return
	}
	for _, err := range r.Errors {
		appLog.Warn("meetup enrichment failed", "source", id, "err", err)
	}
}
