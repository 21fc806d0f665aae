package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/faistasortieaToulouse/ftsonline-sub003/internal/config"
	appLog "github.com/faistasortieaToulouse/ftsonline-sub003/internal/log"
)

func refreshPodcastsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "refresh-podcasts [id...]",
		Short: "Regenerate podcast caches now",
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig()
			if err != nil {
				return err
			}
			a, err := newApp(cmd.Context(), conf)
			if err != nil {
				return err
			}
			defer a.Close()

			if len(args) == 0 {
				return a.podcasts.RefreshAll(cmd.Context())
			}
			for _, id := range args {
				res, err := a.podcasts.Refresh(cmd.Context(), id)
				if err != nil {
					return err
				}
				appLog.Info("podcast refreshed", "source", id, "episodes", len(res.Episodes))
			}
			return nil
		},
	}
}

func eventsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "events <id>",
		Short: "Print the events JSON of one meetup source",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			conf, err := loadConfig()
			if err != nil {
				return err
			}
			id := args[0]
			if err := requireSource("meetup", id, conf.Meetup.Sources, func(s config.MeetupSource) string { return s.ID }); err != nil {
				return err
			}

			a, err := newApp(cmd.Context(), conf)
			if err != nil {
				return err
			}
			defer a.Close()

			events, err := a.meetups.Events(cmd.Context(), id)
			if err != nil {
				return err
			}

			enc := json.NewEncoder(os.Stdout)
			enc.SetIndent("", "  ")
			if err := enc.Encode(map[string]any{"events": events, "totalEvents": len(events)}); err != nil {
				return fmt.Errorf("write events: %w", err)
			}
			return nil
		},
	}
}
