package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mailvault.org/internal/mfa"
)

func newKeysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Generate key material",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(&cobra.Command{
		Use:   "sealing",
		Short: "Print a new age identity for sealing TOTP secrets",
		Long: `Print a new age X25519 identity and its recipient.

Set the identity as mfa.sealing_identity (MAILVAULT_MFA__SEALING_IDENTITY).
Credentials sealed under one identity cannot be opened with another.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			identity, recipient, err := mfa.GenerateIdentity()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "# recipient: %s\n", recipient)
			fmt.Fprintln(out, identity)
			return nil
		},
	})
	return cmd
}
