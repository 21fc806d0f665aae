package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/faistasortieaToulouse/ftsonline-sub003/internal/config"
	appLog "github.com/faistasortieaToulouse/ftsonline-sub003/internal/log"
)

const version = "0.1.0"

var (
	configPath string
	listenAddr string
)

func main() {
	rootCmd := &cobra.Command{
		Use:           "ftsfeeds",
		Short:         "JSON feeds for the FTS Online meetup and podcast pages",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "/etc/ftsfeeds/config.yaml", "Path to config file")
	rootCmd.PersistentFlags().StringVar(&listenAddr, "listen", "", "HTTP listen address (overrides config if set)")

	rootCmd.AddCommand(serveCmd(), refreshPodcastsCmd(), eventsCmd())

	if err := rootCmd.ExecuteContext(signalContext()); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// signalContext is canceled on SIGINT/SIGTERM.
func signalContext() context.Context {
	ctx, cancel := context.WithCancel(context.Background())

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()
	return ctx
}

// loadConfig loads the config file and applies CLI overrides.
func loadConfig() (*config.Config, error) {
	conf, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("load config %s: %w", configPath, err)
	}
	if listenAddr != "" {
		conf.Listen = listenAddr
	}
	appLog.SetLevel(appLog.ParseLevel(conf.LogLevel))

	appLog.Info("effective config",
		"listen", conf.Listen,
		"log_level", conf.LogLevel,
		"data_dir", conf.DataDir,
		"window_days", conf.Meetup.WindowDays,
		"timezone", conf.Meetup.Timezone,
		"meetup_sources", len(conf.Meetup.Sources),
		"enrich_concurrency", conf.Meetup.Enrich.Concurrency,
		"render_js", conf.Meetup.Enrich.RenderJS,
		"podcast_sources", len(conf.Podcast.Sources),
		"podcast_store", conf.Podcast.Store,
		"podcast_refresh", conf.Podcast.RefreshCron,
	)
	return conf, nil
}
