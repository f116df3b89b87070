package main

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailvault.org/internal/directory"
	"mailvault.org/internal/ledger"
	"mailvault.org/internal/store/badgerstore"
)

func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.ExecuteContext(context.Background())
	return out.String(), err
}

func TestExitCode(t *testing.T) {
	assert.Equal(t, exitOK, exitCode(nil))
	assert.Equal(t, exitError, exitCode(fmt.Errorf("boom")))
	ierr := &ledger.IntegrityError{EntryID: "e", Seq: 3, Kind: ledger.KindBrokenLink}
	assert.Equal(t, exitIntegrity, exitCode(fmt.Errorf("verify: %w", ierr)))
}

func TestKeysSealingPrintsIdentity(t *testing.T) {
	out, err := execute(t, "keys", "sealing")
	require.NoError(t, err)
	lines := strings.Split(strings.TrimSpace(out), "\n")
	require.Len(t, lines, 2)
	assert.True(t, strings.HasPrefix(lines[0], "# recipient: age1"))
	assert.True(t, strings.HasPrefix(lines[1], "AGE-SECRET-KEY-1"))
}

func TestLedgerVerifyBadger(t *testing.T) {
	dir := t.TempDir()
	store, err := badgerstore.Open(dir)
	require.NoError(t, err)
	chain := ledger.NewChain(store)
	var last ledger.Entry
	for i := 0; i < 3; i++ {
		last, err = chain.Append(context.Background(), ledger.Record{ActorID: "u1", Action: "EMAIL_VIEW", TargetID: fmt.Sprintf("m%d", i)})
		require.NoError(t, err)
	}
	require.NoError(t, store.Close())

	out, err := execute(t, "ledger", "verify", "--backend", "badger", "--badger-path", dir)
	require.NoError(t, err)
	assert.Contains(t, out, "ledger ok: 3 entries, head "+last.Digest)
}

func TestLedgerVerifyRejectsUnknownBackend(t *testing.T) {
	_, err := execute(t, "ledger", "verify", "--backend", "sqlite")
	require.ErrorContains(t, err, `unknown ledger backend "sqlite"`)

	_, err = execute(t, "ledger", "verify", "--backend", "badger")
	require.ErrorContains(t, err, "--badger-path")
}

func TestGrantRequiresFlags(t *testing.T) {
	_, err := execute(t, "grant", "add", "--user", "u1")
	require.ErrorContains(t, err, "mailbox")
}

func TestGrantFlagsParse(t *testing.T) {
	now := time.Date(2024, 6, 3, 10, 0, 0, 0, time.UTC)

	g, err := grantFlags{userID: " u1 ", mailboxID: "m1", scope: "read"}.grant(now)
	require.NoError(t, err)
	assert.Equal(t, "u1", g.UserID)
	assert.Equal(t, directory.ScopeRead, g.Scope)
	assert.Equal(t, now, g.Start)
	assert.Nil(t, g.End)
	assert.NotEmpty(t, g.ID)

	g, err = grantFlags{userID: "u1", mailboxID: "m1", scope: "EXPORT", start: "2024-01-01T00:00:00+02:00", end: "2024-02-01T00:00:00Z"}.grant(now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2023, 12, 31, 22, 0, 0, 0, time.UTC), g.Start)
	require.NotNil(t, g.End)
	assert.Equal(t, directory.ScopeExport, g.Scope)

	_, err = grantFlags{userID: "u1", mailboxID: "m1", scope: "WRITE"}.grant(now)
	require.ErrorContains(t, err, "invalid scope")

	_, err = grantFlags{userID: "u1", mailboxID: "m1", scope: "READ", start: "2024-02-01T00:00:00Z", end: "2024-01-01T00:00:00Z"}.grant(now)
	require.ErrorContains(t, err, "before")

	_, err = grantFlags{userID: "u1", mailboxID: "m1", scope: "READ", start: "yesterday"}.grant(now)
	require.ErrorContains(t, err, "--start")
}
