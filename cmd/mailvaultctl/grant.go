package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"mailvault.org/internal/audit"
	"mailvault.org/internal/directory"
	"mailvault.org/internal/ids"
)

type grantFlags struct {
	userID    string
	mailboxID string
	start     string
	end       string
	scope     string
}

func newGrantCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grant",
		Short: "Add or revoke mailbox grants",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	var add grantFlags
	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Grant a user access to a mailbox for a time window",
		Example: `  mailvaultctl grant add --user 01HX... --mailbox 01HY... --start 2024-01-01T00:00:00Z
  mailvaultctl grant add --user 01HX... --mailbox 01HY... --start 2024-01-01T00:00:00Z --end 2024-06-30T23:59:59Z --scope EXPORT`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			g, err := add.grant(time.Now())
			if err != nil {
				return err
			}
			store, err := opts.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			g, err = store.AddGrant(cmd.Context(), g)
			switch {
			case errors.Is(err, directory.ErrNotFound):
				return errors.New("unknown user or mailbox")
			case err != nil:
				return fmt.Errorf("add grant: %w", err)
			}
			_ = audit.LogEvent(cmd.Context(), audit.EventGrantAdded, map[string]any{
				"grant_id":   g.ID,
				"user_id":    g.UserID,
				"mailbox_id": g.MailboxID,
				"scope":      string(g.Scope),
			})
			fmt.Fprintf(cmd.OutOrStdout(), "granted %s on %s (%s) as %s\n", g.Scope, g.MailboxAddress, g.MailboxID, g.ID)
			return nil
		},
	}
	addCmd.Flags().StringVar(&add.userID, "user", "", "user id")
	addCmd.Flags().StringVar(&add.mailboxID, "mailbox", "", "mailbox id")
	addCmd.Flags().StringVar(&add.start, "start", "", "window start, RFC 3339 (default now)")
	addCmd.Flags().StringVar(&add.end, "end", "", "window end, RFC 3339 (default open-ended)")
	addCmd.Flags().StringVar(&add.scope, "scope", string(directory.ScopeRead), "READ or EXPORT")
	_ = addCmd.MarkFlagRequired("user")
	_ = addCmd.MarkFlagRequired("mailbox")

	var revoke grantFlags
	revokeCmd := &cobra.Command{
		Use:   "revoke",
		Short: "Remove every grant a user holds on a mailbox",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := opts.openStore()
			if err != nil {
				return err
			}
			defer store.Close()

			n, err := store.RevokeGrants(cmd.Context(), revoke.userID, revoke.mailboxID)
			if err != nil {
				return fmt.Errorf("revoke grants: %w", err)
			}
			_ = audit.LogEvent(cmd.Context(), audit.EventGrantRevoked, map[string]any{
				"user_id":    revoke.userID,
				"mailbox_id": revoke.mailboxID,
				"revoked":    n,
			})
			fmt.Fprintf(cmd.OutOrStdout(), "revoked %d grant(s)\n", n)
			return nil
		},
	}
	revokeCmd.Flags().StringVar(&revoke.userID, "user", "", "user id")
	revokeCmd.Flags().StringVar(&revoke.mailboxID, "mailbox", "", "mailbox id")
	_ = revokeCmd.MarkFlagRequired("user")
	_ = revokeCmd.MarkFlagRequired("mailbox")

	cmd.AddCommand(addCmd, revokeCmd)
	return cmd
}

// grant parses the flags into a grant. now fills a missing start.
func (f grantFlags) grant(now time.Time) (directory.Grant, error) {
	g := directory.Grant{
		ID:        ids.NewAt(now),
		UserID:    strings.TrimSpace(f.userID),
		MailboxID: strings.TrimSpace(f.mailboxID),
		Start:     now.UTC(),
		Scope:     directory.Scope(strings.ToUpper(strings.TrimSpace(f.scope))),
	}
	if !g.Scope.Valid() {
		return directory.Grant{}, fmt.Errorf("invalid scope %q: want READ or EXPORT", f.scope)
	}
	if f.start != "" {
		t, err := time.Parse(time.RFC3339, f.start)
		if err != nil {
			return directory.Grant{}, fmt.Errorf("invalid --start: %w", err)
		}
		g.Start = t.UTC()
	}
	if f.end != "" {
		t, err := time.Parse(time.RFC3339, f.end)
		if err != nil {
			return directory.Grant{}, fmt.Errorf("invalid --end: %w", err)
		}
		t = t.UTC()
		if t.Before(g.Start) {
			return directory.Grant{}, errors.New("--end is before --start")
		}
		g.End = &t
	}
	return g, nil
}
