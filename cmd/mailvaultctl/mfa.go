package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"mailvault.org/internal/audit"
	"mailvault.org/internal/config"
	"mailvault.org/internal/directory"
	"mailvault.org/internal/mfa"
	"mailvault.org/internal/store/pg"
)

func newMFACmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "mfa",
		Short: "Manage one-time passcode credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	var username string
	enroll := &cobra.Command{
		Use:   "enroll",
		Short: "Enroll or re-enroll a user and print the provisioning URI",
		Long: `Create a fresh TOTP secret for a user, replacing any earlier one.

Users holding a step-up role cannot sign in before they are enrolled; this
command bootstraps them. Hand the printed otpauth:// URI to the user over a
trusted channel.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.configPath)
			if err != nil {
				return err
			}
			dsn := opts.dsn
			if dsn == "" {
				dsn = cfg.Database.DSN
			}
			if dsn == "" {
				return errors.New("mfa enroll needs --dsn or database.dsn")
			}
			store, err := pg.Open(dsn, pg.Pool{MaxOpenConns: 2, MaxIdleConns: 2})
			if err != nil {
				return err
			}
			defer store.Close()

			user, err := store.UserByUsername(cmd.Context(), username)
			if errors.Is(err, directory.ErrNotFound) {
				return fmt.Errorf("unknown user %q", username)
			}
			if err != nil {
				return err
			}
			sealer, err := mfa.NewAgeSealer(cfg.MFA.SealingIdentity)
			if err != nil {
				return err
			}
			svc, err := mfa.NewService(store.Credentials(), sealer, cfg.MFA.Issuer)
			if err != nil {
				return err
			}
			uri, err := svc.Enroll(cmd.Context(), user)
			if err != nil {
				return err
			}
			_ = audit.LogEvent(cmd.Context(), audit.EventMFAEnrolled, map[string]any{
				"target_user": user.ID,
				"via":         "mailvaultctl",
			})
			fmt.Fprintln(cmd.OutOrStdout(), uri)
			return nil
		},
	}
	enroll.Flags().StringVar(&username, "user", "", "username to enroll")
	_ = enroll.MarkFlagRequired("user")

	cmd.AddCommand(enroll)
	return cmd
}
