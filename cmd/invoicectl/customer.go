package main

import (
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

func customerCmd(log *zerolog.Logger, opts *appOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "customer",
		Short: "Manage customers",
	}
	cmd.AddCommand(customerDeactivateCmd(log, opts))
	return cmd
}

func customerDeactivateCmd(log *zerolog.Logger, opts *appOptions) *cobra.Command {
	var reason string

	cmd := &cobra.Command{
		Use:   "deactivate <customer-id>",
		Short: "Deactivate a customer and cancel their open invoices",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := newApp(cmd.Context(), opts)
			if err != nil {
				return err
			}
			defer a.Close()

			cancelled, err := a.services.Customers.Deactivate(cmd.Context(), args[0], reason)
			if err != nil {
				return err
			}
			log.Info().Str("customer_id", args[0]).Int("invoices_cancelled", cancelled).Msg("Customer deactivated")
			return nil
		},
	}
	cmd.Flags().StringVar(&reason, "reason", "customer deactivated", "Reason recorded on cancelled invoices")
	return cmd
}
