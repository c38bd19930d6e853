package main

import (
	"database/sql"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/dukerupert/invoicer/internal"
	"github.com/dukerupert/invoicer/internal/bootstrap"
)

func migrateCmd(log *zerolog.Logger) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Manage the database schema",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "up",
		Short: "Apply all pending migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrationDB(func(db *sql.DB, dialect string) error {
				if err := internal.RunMigrations(db, dialect); err != nil {
					return err
				}
				log.Info().Str("dialect", dialect).Msg("Migrations applied")
				return nil
			})
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show which migrations have been applied",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withMigrationDB(internal.MigrationStatus)
		},
	})

	return cmd
}

func withMigrationDB(fn func(db *sql.DB, dialect string) error) error {
	cfg, err := internal.NewConfig()
	if err != nil {
		return err
	}
	db, dialect, err := bootstrap.OpenMigrationDB(cfg.Database)
	if err != nil {
		return err
	}
	defer db.Close()

	return fn(db, dialect)
}
