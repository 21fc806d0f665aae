// Package podcast serves RSS-backed episode lists through a TTL cache.
package podcast

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/faistasortieaToulouse/ftsonline-sub003/internal/cache"
	"github.com/faistasortieaToulouse/ftsonline-sub003/internal/config"
	"github.com/faistasortieaToulouse/ftsonline-sub003/internal/dedup"
	"github.com/faistasortieaToulouse/ftsonline-sub003/internal/feed"
	appLog "github.com/faistasortieaToulouse/ftsonline-sub003/internal/log"
	"github.com/faistasortieaToulouse/ftsonline-sub003/internal/metrics"
	"github.com/faistasortieaToulouse/ftsonline-sub003/internal/model"
	"github.com/faistasortieaToulouse/ftsonline-sub003/internal/rss"
)

const (
	DefaultTTL = 6 * time.Hour
	// DefaultRebuildTimeout bounds one shared fetch, parse and save.
	DefaultRebuildTimeout = 2 * time.Minute

	pipeline = "podcast"
)

// ErrUnknownSource is returned for an id that is not configured.
var ErrUnknownSource = errors.New("podcast: unknown source")

// Fetcher retrieves one feed body.
type Fetcher interface {
	Get(ctx context.Context, url string) ([]byte, error)
}

// Options configures a Service.
type Options struct {
	// TTL is the cache age that triggers regeneration. Zero means 6h.
	TTL time.Duration
	// RebuildTimeout bounds a regeneration. Zero means 2m.
	RebuildTimeout time.Duration
	// ProxyPath is the local audio proxy route.
	ProxyPath string
	Metrics   *metrics.Manager
	// Now is the clock, replaced in tests.
	Now func() time.Time
}

// Result is an episode list ready to serve.
type Result struct {
	Episodes  []model.Episode
	UpdatedAt time.Time
	// Cached is true when the list came from the store without a refetch.
	Cached bool
}

// Service regenerates podcast caches on demand.
type Service struct {
	fetch          Fetcher
	store          cache.Store
	ttl            time.Duration
	rebuildTimeout time.Duration
	proxyPath      string
	metrics        *metrics.Manager
	now            func() time.Time

	sources []config.PodcastSource
	byID    map[string]config.PodcastSource

	// group collapses concurrent regenerations of the same source.
	group singleflight.Group
}

// NewService creates a Service over the configured sources.
func NewService(fetch Fetcher, store cache.Store, sources []config.PodcastSource, opts Options) *Service {
	if opts.TTL <= 0 {
		opts.TTL = DefaultTTL
	}
	if opts.RebuildTimeout <= 0 {
		opts.RebuildTimeout = DefaultRebuildTimeout
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	s := &Service{
		fetch:          fetch,
		store:          store,
		ttl:            opts.TTL,
		rebuildTimeout: opts.RebuildTimeout,
		proxyPath:      opts.ProxyPath,
		metrics:        opts.Metrics,
		now:            opts.Now,
		sources:        sources,
		byID:           make(map[string]config.PodcastSource, len(sources)),
	}
	for _, src := range sources {
		s.byID[src.ID] = src
	}
	return s
}

// Sources returns the configured podcasts in configuration order.
func (s *Service) Sources() []config.PodcastSource {
	return s.sources
}

// Get serves the cached list for id when it is younger than the TTL and
// regenerates it from the feed otherwise.
func (s *Service) Get(ctx context.Context, id string) (Result, error) {
	src, ok := s.byID[id]
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownSource, id)
	}

	snap, err := s.store.Load(ctx, id)
	switch {
	case err == nil && snap.Age(s.now()) < s.ttl:
		s.metrics.CacheLookup(id, "fresh")
		appLog.Debug("podcast cache hit", "source", id, "age", snap.Age(s.now()).Round(time.Second))
		return s.serve(id, snap, true), nil
	case err == nil:
		s.metrics.CacheLookup(id, "stale")
	case errors.Is(err, cache.ErrNotFound):
		s.metrics.CacheLookup(id, "miss")
	default:
		s.metrics.CacheLookup(id, "miss")
		appLog.Warn("podcast cache unreadable, regenerating", "source", id, "err", err)
	}

	return s.regenerate(ctx, src, snap.Version)
}

// Refresh regenerates the list for id regardless of its age.
func (s *Service) Refresh(ctx context.Context, id string) (Result, error) {
	src, ok := s.byID[id]
	if !ok {
		return Result{}, fmt.Errorf("%w: %q", ErrUnknownSource, id)
	}

	// Only the version matters here; unreadable entries still carry one.
	snap, _ := s.store.Load(ctx, id)
	return s.regenerate(ctx, src, snap.Version)
}

// RefreshAll regenerates every source and returns the joined failures.
func (s *Service) RefreshAll(ctx context.Context) error {
	var errs []error
	for _, src := range s.sources {
		res, err := s.Refresh(ctx, src.ID)
		if err != nil {
			appLog.Error("podcast refresh failed", err, "source", src.ID)
			errs = append(errs, err)
			continue
		}
		appLog.Info("podcast refreshed", "source", src.ID, "episodes", len(res.Episodes))
	}
	return errors.Join(errs...)
}

// regenerate runs one rebuild per source at a time. The rebuild is shared by
// every waiting caller, so it runs detached from any single request and each
// caller only stops waiting when its own context ends.
func (s *Service) regenerate(ctx context.Context, src config.PodcastSource, version int64) (Result, error) {
	ch := s.group.DoChan(src.ID, func() (any, error) {
		rctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.rebuildTimeout)
		defer cancel()
		return s.rebuild(rctx, src, version)
	})

	select {
	case <-ctx.Done():
		return Result{}, fmt.Errorf("podcast %s: %w", src.ID, ctx.Err())
	case r := <-ch:
		if r.Err != nil {
			return Result{}, r.Err
		}
		if r.Shared {
			appLog.Debug("podcast regeneration shared", "source", src.ID)
		}
		return r.Val.(Result), nil
	}
}

func (s *Service) rebuild(ctx context.Context, src config.PodcastSource, version int64) (Result, error) {
	start := time.Now()
	defer func() { s.metrics.ObserveRun(pipeline, src.ID, time.Since(start)) }()

	body, err := s.fetch.Get(ctx, src.URL)
	if err != nil {
		s.metrics.FetchError(pipeline, src.ID)
		return Result{}, fmt.Errorf("podcast %s: %w", src.ID, err)
	}

	episodes, err := rss.ParseEpisodes(body, rss.ParseOptions{ProxyPath: s.proxyPath})
	if err != nil {
		s.metrics.FetchError(pipeline, src.ID)
		return Result{}, fmt.Errorf("podcast %s: %w", src.ID, err)
	}
	episodes = dedup.Episodes(episodes)

	saved, err := s.store.Save(ctx, src.ID, episodes, version)
	switch {
	case err == nil:
		appLog.Info("podcast cache written",
			"source", src.ID,
			"episodes", len(episodes),
			"url", feed.RedactURL(src.URL),
			"elapsed", time.Since(start).Round(time.Millisecond),
		)
		return s.serve(src.ID, saved, false), nil

	case errors.Is(err, cache.ErrConflict):
		// Another writer got there first; its snapshot is as fresh as ours.
		s.metrics.CacheLookup(src.ID, "conflict")
		winner, lerr := s.store.Load(ctx, src.ID)
		if lerr == nil {
			appLog.Debug("podcast cache conflict, serving winner", "source", src.ID)
			return s.serve(src.ID, winner, true), nil
		}
		appLog.Warn("podcast cache conflict, winner unreadable", "source", src.ID, "err", lerr)

	default:
		appLog.Error("podcast cache write failed", err, "source", src.ID)
	}

	return s.serve(src.ID, cache.Snapshot{Episodes: episodes, UpdatedAt: s.now()}, false), nil
}

// serve rewrites audio URLs through the proxy and counts the response.
func (s *Service) serve(id string, snap cache.Snapshot, cached bool) Result {
	out := make([]model.Episode, len(snap.Episodes))
	for i, ep := range snap.Episodes {
		ep.AudioURL = rss.Proxify(ep.AudioURL, s.proxyPath)
		out[i] = ep
	}
	s.metrics.Served(pipeline, id, len(out))
	return Result{Episodes: out, UpdatedAt: snap.UpdatedAt, Cached: cached}
}
