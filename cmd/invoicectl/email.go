package main

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dukerupert/invoicer/internal"
	"github.com/dukerupert/invoicer/internal/bootstrap"
)

type connectionChecker interface {
	CheckConnection(ctx context.Context) error
}

func emailCmd(log *zerolog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "email",
		Short: "Check the notification gateway",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "check",
		Short: "Dial and authenticate against the configured SMTP server",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := internal.NewConfig()
			if err != nil {
				return err
			}

			sender := bootstrap.NewSender(cfg.Email, slog.New(slog.NewTextHandler(io.Discard, nil)))
			checker, ok := sender.(connectionChecker)
			if !ok {
				return errors.New("configured email provider " + cfg.Email.Provider + " has no connection check")
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), 30*time.Second)
			defer cancel()

			if err := checker.CheckConnection(ctx); err != nil {
				return err
			}
			log.Info().Str("host", cfg.Email.Host).Uint16("port", cfg.Email.Port).Msg("SMTP connection OK")
			return nil
		},
	})

	return cmd
}
