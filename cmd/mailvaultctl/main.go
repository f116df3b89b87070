// Command mailvaultctl administers a mailvault deployment: schema
// migrations, ledger verification, sealing keys, MFA enrollment and
// mailbox grants.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"mailvault.org/internal/ledger"
)

// Exit codes.
const (
	exitOK        = 0
	exitError     = 1
	exitIntegrity = 2
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		stop()
		os.Exit(exitCode(err))
	}
}

func exitCode(err error) int {
	var ierr *ledger.IntegrityError
	switch {
	case err == nil:
		return exitOK
	case errors.As(err, &ierr):
		return exitIntegrity
	default:
		return exitError
	}
}
