package main

import (
	"errors"
	"os"

	"github.com/spf13/cobra"

	"mailvault.org/internal/config"
	"mailvault.org/internal/obs"
	"mailvault.org/internal/store/pg"
)

const dsnEnvVar = "MAILVAULT_DATABASE__DSN"

type rootOptions struct {
	configPath string
	dsn        string
	logLevel   string
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	cmd := &cobra.Command{
		Use:   "mailvaultctl",
		Short: "Administer a mailvault deployment",
		Long: `mailvaultctl manages the PostgreSQL schema, checks the audit ledger,
generates sealing keys, enrolls MFA credentials and maintains mailbox grants.

The database is taken from --dsn, then MAILVAULT_DATABASE__DSN, then the
database.dsn setting of the config file.`,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRun: func(cmd *cobra.Command, args []string) {
			obs.InitLogger(obs.LogConfig{Level: opts.logLevel, Format: "console", Output: cmd.ErrOrStderr()})
		},
	}
	cmd.PersistentFlags().StringVar(&opts.configPath, "config", "", "path to a YAML config file")
	cmd.PersistentFlags().StringVar(&opts.dsn, "dsn", "", "PostgreSQL DSN")
	cmd.PersistentFlags().StringVar(&opts.logLevel, "log-level", "warn", "log level (debug, info, warn, error)")

	cmd.AddCommand(
		newMigrateCmd(opts),
		newLedgerCmd(opts),
		newKeysCmd(),
		newMFACmd(opts),
		newGrantCmd(opts),
	)
	return cmd
}

// resolveDSN applies flag, environment and config file precedence. The
// config file is only read when neither of the first two is set.
func (o *rootOptions) resolveDSN() (string, error) {
	if o.dsn != "" {
		return o.dsn, nil
	}
	if dsn := os.Getenv(dsnEnvVar); dsn != "" {
		return dsn, nil
	}
	cfg, err := config.Load(o.configPath)
	if err != nil {
		return "", err
	}
	if cfg.Database.DSN == "" {
		return "", errors.New("missing DSN: provide --dsn, " + dsnEnvVar + " or database.dsn")
	}
	return cfg.Database.DSN, nil
}

func (o *rootOptions) openStore() (*pg.Store, error) {
	dsn, err := o.resolveDSN()
	if err != nil {
		return nil, err
	}
	return pg.Open(dsn, pg.Pool{MaxOpenConns: 2, MaxIdleConns: 2})
}
