package main

import (
	"context"
	"fmt"
	"time"
	_ "time/tzdata"

	"github.com/faistasortieaToulouse/ftsonline-sub003/internal/cache"
	"github.com/faistasortieaToulouse/ftsonline-sub003/internal/config"
	"github.com/faistasortieaToulouse/ftsonline-sub003/internal/enrich"
	"github.com/faistasortieaToulouse/ftsonline-sub003/internal/feed"
	appLog "github.com/faistasortieaToulouse/ftsonline-sub003/internal/log"
	"github.com/faistasortieaToulouse/ftsonline-sub003/internal/meetup"
	"github.com/faistasortieaToulouse/ftsonline-sub003/internal/metrics"
	"github.com/faistasortieaToulouse/ftsonline-sub003/internal/podcast"
	"github.com/faistasortieaToulouse/ftsonline-sub003/internal/render"
)

// app holds the wired pipelines for one process.
type app struct {
	conf     *config.Config
	loc      *time.Location
	metrics  *metrics.Manager
	fetcher  *feed.Fetcher
	meetups  *meetup.Service
	podcasts *podcast.Service

	closers []func()
}

func newApp(ctx context.Context, conf *config.Config) (*app, error) {
	a := &app{
		conf:    conf,
		loc:     resolveLocationOrLocal(conf.Meetup.Timezone),
		metrics: metrics.NewManager(metrics.WithRuntimeCollectors()),
	}
	a.fetcher = feed.NewFetcher(feed.Options{
		UserAgent: conf.UserAgent,
		Timeout:   time.Duration(conf.HTTPTimeoutSeconds) * time.Second,
	})

	pages := enrich.PageSource(a.fetcher)
	if conf.Meetup.Enrich.RenderJS {
		chromium, err := render.NewChromium(ctx, render.Options{
			Timeout:   time.Duration(conf.Meetup.Enrich.RenderTimeoutSeconds) * time.Second,
			UserAgent: conf.UserAgent,
		})
		if err != nil {
			appLog.Warn("chromium unavailable, enriching over plain HTTP", "err", err)
		} else {
			pages = chromium
			a.closers = append(a.closers, chromium.Close)
		}
	}

	a.meetups = meetup.NewService(a.fetcher, conf.Meetup.Sources, meetup.Options{
		WindowDays: conf.Meetup.WindowDays,
		Location:   a.loc,
		Enricher: enrich.New(pages, enrich.Options{
			Concurrency:   conf.Meetup.Enrich.Concurrency,
			RatePerSecond: conf.Meetup.Enrich.RatePerSecond,
		}),
		Metrics: a.metrics,
	})

	store, err := openStore(conf)
	if err != nil {
		a.Close()
		return nil, err
	}
	a.closers = append(a.closers, func() {
		if err := store.Close(); err != nil {
			appLog.Error("failed to close podcast store", err)
		}
	})

	a.podcasts = podcast.NewService(a.fetcher, store, conf.Podcast.Sources, podcast.Options{
		TTL:       time.Duration(conf.Podcast.CacheTTLHours) * time.Hour,
		ProxyPath: conf.Podcast.ProxyPath,
		Metrics:   a.metrics,
	})
	return a, nil
}

func openStore(conf *config.Config) (cache.Store, error) {
	switch conf.Podcast.Store {
	case "sqlite":
		appLog.Info("podcast cache backend", "store", "sqlite", "path", conf.Podcast.DBPath)
		return cache.OpenSQLite(conf.Podcast.DBPath)
	default:
		appLog.Info("podcast cache backend", "store", "file", "dir", conf.DataDir)
		return cache.NewFileStore(conf.DataDir)
	}
}

// Close releases resources in reverse order of acquisition.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}

func resolveLocationOrLocal(name string) *time.Location {
	if name == "" {
		return time.Local
	}
	loc, err := time.LoadLocation(name)
	if err != nil {
		appLog.Warn("failed to load timezone, falling back to Local", "timezone", name, "err", err)
		return time.Local
	}
	return loc
}

func requireSource[T any](kind, id string, sources []T, idOf func(T) string) error {
	for _, s := range sources {
		if idOf(s) == id {
			return nil
		}
	}
	return fmt.Errorf("unknown %s source %q", kind, id)
}
