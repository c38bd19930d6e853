package main

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func invoiceCmd(log *zerolog.Logger, opts *appOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "invoice",
		Short: "Inspect and settle invoices",
	}
	cmd.AddCommand(invoiceShowCmd(opts))
	cmd.AddCommand(invoicePayCmd(log, opts))
	cmd.AddCommand(invoiceCancelCmd(log, opts))
	return cmd
}

func invoiceShowCmd(opts *appOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "show <number>",
		Short: "Print an invoice with its derived state",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			view, err := a.services.Lifecycle.Get(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), view)
		},
	}
}

func invoicePayCmd(log *zerolog.Logger, opts *appOptions) *cobra.Command {
	var ref string

	cmd := &cobra.Command{
		Use:   "pay <number>",
		Short: "Record a settlement received outside the payment provider",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			outcome, err := a.services.Lifecycle.MarkPaid(cmd.Context(), args[0], ref)
			if err != nil {
				return err
			}
			log.Info().Str("invoice", args[0]).Str("settlement_ref", ref).Str("outcome", string(outcome)).Msg("Invoice paid")
			return nil
		},
	}
	cmd.Flags().StringVar(&ref, "ref", "", "Settlement reference (required)")
	_ = cmd.MarkFlagRequired("ref")
	return cmd
}

func invoiceCancelCmd(log *zerolog.Logger, opts *appOptions) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "cancel <number>",
		Short: "Cancel an issued invoice",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			outcome, err := a.services.Lifecycle.Cancel(cmd.Context(), args[0], reason)
			if err != nil {
				return err
			}
			log.Info().Str("invoice", args[0]).Str("outcome", string(outcome)).Msg("Invoice cancelled")
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "", "Cancellation reason")
	return cmd
}
