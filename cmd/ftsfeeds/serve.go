package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	appLog "github.com/faistasortieaToulouse/ftsonline-sub003/internal/log"
	"github.com/faistasortieaToulouse/ftsonline-sub003/internal/web"
)

const shutdownGrace = 10 * time.Second

func serveCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Serve the meetup and podcast JSON APIs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context())
		},
	}
}

func runServe(ctx context.Context) error {
	appLog.Info("ftsfeeds starting", "version", version)

	conf, err := loadConfig()
	if err != nil {
		return err
	}
	a, err := newApp(ctx, conf)
	if err != nil {
		return err
	}
	defer a.Close()

	if conf.Podcast.RefreshCron != "" {
		c := cron.New(cron.WithLocation(a.loc))
		_, err := c.AddFunc(conf.Podcast.RefreshCron, func() {
			appLog.Info("scheduled podcast refresh")
			if err := a.podcasts.RefreshAll(ctx); err != nil {
				appLog.Warn("scheduled podcast refresh incomplete", "err", err)
			}
		})
		if err != nil {
			return fmt.Errorf("podcast refresh schedule %q: %w", conf.Podcast.RefreshCron, err)
		}
		c.Start()
		defer func() { <-c.Stop().Done() }()
		appLog.Info("podcast refresh scheduled", "schedule", conf.Podcast.RefreshCron)
	}

	proxy := web.NewAudioProxy(web.ProxyOptions{
		UserAgent: conf.UserAgent,
		Timeout:   time.Duration(conf.HTTPTimeoutSeconds) * time.Second,
	})
	server := web.NewServer(conf, a.meetups, a.podcasts, proxy, a.metrics)

	srv := &http.Server{
		Addr:              conf.Listen,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	if err := web.ListenAndServe(ctx, srv, shutdownGrace); err != nil {
		return fmt.Errorf("http server: %w", err)
	}

	appLog.Info("ftsfeeds exiting")
	return nil
}
