package main

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func remindCmd(log *zerolog.Logger, opts *appOptions) *cobra.Command {
	var at string

	cmd := &cobra.Command{
		Use:   "remind",
		Short: "Run one reminder pass now",
		Long: `Selects every issued invoice that is overdue and due for a reminder and
sends it, exactly as the scheduled job does. Use --at to evaluate the pass as
of another moment.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			now := time.Now()
			if at != "" {
				parsed, err := time.Parse(time.RFC3339, at)
				if err != nil {
					return fmt.Errorf("invalid --at value %q: %w", at, err)
				}
				now = parsed
			}

			a, err := newApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			log.Info().Time("as_of", now).Msg("Running reminder pass")
			report, err := a.services.Reminders.RunOnce(cmd.Context(), now)
			if err != nil {
				return fmt.Errorf("reminder pass failed: %w", err)
			}

			log.Info().
				Int("selected", report.Selected).
				Int("sent", report.Sent).
				Int("failed", report.Failed).
				Int("skipped", report.Skipped).
				Msg("Reminder pass complete")
			return nil
		},
	}
	cmd.Flags().StringVar(&at, "at", "", "Evaluate as of this RFC3339 time")
	return cmd
}
