package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"mailvault.org/internal/audit"
	"mailvault.org/internal/ledger"
	"mailvault.org/internal/store/badgerstore"
)

func newLedgerCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ledger",
		Short: "Inspect the audit ledger",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}
	cmd.AddCommand(newLedgerVerifyCmd(opts))
	return cmd
}

func newLedgerVerifyCmd(opts *rootOptions) *cobra.Command {
	var (
		backend    string
		badgerPath string
	)
	cmd := &cobra.Command{
		Use:   "verify",
		Short: "Walk the whole chain and check every digest and link",
		Long: `Walk the audit chain from the first entry and recompute every digest.

Exits with status 2 at the first entry whose digest or link does not match.
Nothing is repaired.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			store, closeStore, err := openLedgerStore(opts, backend, badgerPath)
			if err != nil {
				return err
			}
			defer closeStore()
			return verifyChain(cmd, ledger.NewChain(store))
		},
	}
	cmd.Flags().StringVar(&backend, "backend", "postgres", "ledger backend (postgres or badger)")
	cmd.Flags().StringVar(&badgerPath, "badger-path", "", "badger data directory")
	return cmd
}

func openLedgerStore(opts *rootOptions, backend, badgerPath string) (ledger.Store, func(), error) {
	switch backend {
	case "postgres":
		store, err := opts.openStore()
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	case "badger":
		if badgerPath == "" {
			return nil, nil, errors.New("--badger-path is required for the badger backend")
		}
		store, err := badgerstore.Open(badgerPath)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { _ = store.Close() }, nil
	default:
		return nil, nil, fmt.Errorf("unknown ledger backend %q", backend)
	}
}

func verifyChain(cmd *cobra.Command, chain *ledger.Chain) error {
	out := cmd.OutOrStdout()
	report, err := chain.Verify(cmd.Context())
	var ierr *ledger.IntegrityError
	switch {
	case errors.As(err, &ierr):
		_ = audit.LogEvent(cmd.Context(), audit.EventIntegrityFailure, map[string]any{
			"entry_id": ierr.EntryID,
			"seq":      ierr.Seq,
			"kind":     ierr.Kind,
		})
		fmt.Fprintf(out, "ledger BROKEN after %d valid entries\n", report.Entries)
		fmt.Fprintf(out, "  entry: %s\n  seq:   %d\n  kind:  %s\n", ierr.EntryID, ierr.Seq, ierr.Kind)
		return err
	case err != nil:
		return fmt.Errorf("ledger verify: %w", err)
	}
	if report.Entries == 0 {
		fmt.Fprintln(out, "ledger ok: empty")
		return nil
	}
	fmt.Fprintf(out, "ledger ok: %d entries, head %s\n", report.Entries, report.Head)
	return nil
}
