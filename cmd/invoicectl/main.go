// Command invoicectl is the operator CLI for the invoicing backend.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var version = "dev"

func main() {
	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	rootCmd := newRootCmd(&log)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		log.Error().Err(err).Msg("Command execution failed")
		os.Exit(1)
	}
}

func newRootCmd(log *zerolog.Logger) *cobra.Command {
	var verbose bool

	rootCmd := &cobra.Command{
		Use:           "invoicectl",
		Short:         "Operate the invoicing backend",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			if verbose {
				zerolog.SetGlobalLevel(zerolog.DebugLevel)
			} else {
				zerolog.SetGlobalLevel(zerolog.InfoLevel)
			}
		},
	}
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Show service logs")

	opts := &appOptions{verbose: &verbose}

	rootCmd.AddCommand(remindCmd(log, opts))
	rootCmd.AddCommand(issuesCmd(log, opts))
	rootCmd.AddCommand(invoiceCmd(log, opts))
	rootCmd.AddCommand(customerCmd(log, opts))
	rootCmd.AddCommand(migrateCmd(log))
	rootCmd.AddCommand(emailCmd(log))
	rootCmd.AddCommand(keygenCmd())

	return rootCmd
}
