package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"mailvault.org/internal/migrate"
)

func newMigrateCmd(opts *rootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply, roll back or inspect the embedded schema migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return cmd.Help()
		},
	}

	run := func(fn func(cmd *cobra.Command, m *migrate.Manager) error) func(*cobra.Command, []string) error {
		return func(cmd *cobra.Command, args []string) error {
			store, err := opts.openStore()
			if err != nil {
				return err
			}
			defer store.Close()
			return fn(cmd, migrate.NewManager(store.DB()))
		}
	}

	cmd.AddCommand(
		&cobra.Command{
			Use:   "up",
			Short: "Apply every pending migration",
			Args:  cobra.NoArgs,
			RunE: run(func(cmd *cobra.Command, m *migrate.Manager) error {
				applied, err := m.Up(cmd.Context())
				if err != nil {
					return fmt.Errorf("migrate up: %w", err)
				}
				printList(cmd, "applied", applied, "schema is up to date")
				return nil
			}),
		},
		&cobra.Command{
			Use:   "down",
			Short: "Roll back the latest applied migration",
			Args:  cobra.NoArgs,
			RunE: run(func(cmd *cobra.Command, m *migrate.Manager) error {
				name, err := m.Down(cmd.Context())
				if err != nil {
					return fmt.Errorf("migrate down: %w", err)
				}
				fmt.Fprintf(cmd.OutOrStdout(), "rolled back %s\n", name)
				return nil
			}),
		},
		&cobra.Command{
			Use:   "status",
			Short: "List applied migrations in order",
			Args:  cobra.NoArgs,
			RunE: run(func(cmd *cobra.Command, m *migrate.Manager) error {
				history, err := m.Status(cmd.Context())
				if err != nil {
					return fmt.Errorf("migrate status: %w", err)
				}
				printList(cmd, "", history, "no migrations applied")
				return nil
			}),
		},
		&cobra.Command{
			Use:   "seed",
			Short: "Load the builtin permission and role catalog",
			Args:  cobra.NoArgs,
			RunE: run(func(cmd *cobra.Command, m *migrate.Manager) error {
				seeded, err := m.Seed(cmd.Context())
				if err != nil {
					return fmt.Errorf("migrate seed: %w", err)
				}
				printList(cmd, "seeded", seeded, "seeds already loaded")
				return nil
			}),
		},
	)
	return cmd
}

func printList(cmd *cobra.Command, verb string, items []string, empty string) {
	out := cmd.OutOrStdout()
	if len(items) == 0 {
		fmt.Fprintln(out, empty)
		return
	}
	for _, item := range items {
		if verb == "" {
			fmt.Fprintln(out, item)
			continue
		}
		fmt.Fprintf(out, "%s %s\n", verb, item)
	}
}
