package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/dukerupert/invoicer/internal/crypto"
)

func keygenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keygen",
		Short: "Generate a value for ENCRYPTION_KEY",
		RunE: func(cmd *cobra.Command, args []string) error {
			key, err := crypto.GenerateKey()
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), crypto.EncodeKeyBase64(key))
			return nil
		},
	}
}
