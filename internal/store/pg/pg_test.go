package pg

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailvault.org/internal/directory"
	"mailvault.org/internal/ledger"
	"mailvault.org/internal/mfa"
)

func newMock(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = db.Close()
	})
	return New(db), mock
}

var entryCols = []string{"seq", "id", "actor_id", "actor_roles", "action", "parameters", "result_count", "target_id", "created_at", "digest", "prev_digest"}

func TestUserLoadsRoles(t *testing.T) {
	s, mock := newMock(t)
	login := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)

	mock.ExpectQuery(`select id, username, .* from users where username = \$1`).
		WithArgs("ann").
		WillReturnRows(sqlmock.NewRows([]string{"id", "username", "email", "department_id", "superuser", "active", "password_hash", "last_login_at"}).
			AddRow("u1", "ann", "ann@example.com", "d1", false, true, "hash", login))
	mock.ExpectQuery(`select role_code from user_roles where user_id = \$1`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"role_code"}).AddRow("analyst").AddRow("legal_user"))

	u, err := s.UserByUsername(context.Background(), "ann")
	require.NoError(t, err)
	assert.Equal(t, "u1", u.ID)
	assert.Equal(t, []string{"analyst", "legal_user"}, u.Roles)
	require.NotNil(t, u.LastLoginAt)
	assert.True(t, login.Equal(*u.LastLoginAt))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestUserNotFound(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(`from users where id = \$1`).WithArgs("nope").WillReturnError(sql.ErrNoRows)

	_, err := s.User(context.Background(), "nope")
	require.ErrorIs(t, err, directory.ErrNotFound)
}

func TestRolePermissionsBuildsPlaceholders(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(`where role_code in \(\$1,\$2\)`).
		WithArgs("a", "b").
		WillReturnRows(sqlmock.NewRows([]string{"permission_code"}).AddRow("EMAIL_SEARCH").AddRow("EMAIL_VIEW"))

	perms, err := s.RolePermissions(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, []string{"EMAIL_SEARCH", "EMAIL_VIEW"}, perms)

	perms, err = s.RolePermissions(context.Background(), nil)
	require.NoError(t, err)
	assert.Empty(t, perms)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGrantsJoinMailboxAddress(t *testing.T) {
	s, mock := newMock(t)
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	end := start.AddDate(0, 1, 0)
	mock.ExpectQuery(`from mailbox_grants g\s+join mailboxes m`).
		WithArgs("u1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "mailbox_id", "address", "time_start", "time_end", "scope"}).
			AddRow("g1", "u1", "m1", "ceo@example.com", start, end, "READ").
			AddRow("g2", "u1", "m2", "cfo@example.com", start, nil, "EXPORT"))

	grants, err := s.Grants(context.Background(), "u1")
	require.NoError(t, err)
	require.Len(t, grants, 2)
	assert.Equal(t, "ceo@example.com", grants[0].MailboxAddress)
	require.NotNil(t, grants[0].End)
	assert.True(t, end.Equal(*grants[0].End))
	assert.Nil(t, grants[1].End)
	assert.Equal(t, directory.ScopeExport, grants[1].Scope)
}

func TestAddGrantRejectsInvertedWindow(t *testing.T) {
	s, _ := newMock(t)
	start := time.Date(2024, 1, 2, 0, 0, 0, 0, time.UTC)
	end := start.Add(-time.Hour)
	_, err := s.AddGrant(context.Background(), directory.Grant{ID: "g1", UserID: "u1", MailboxID: "m1", Start: start, End: &end, Scope: directory.ScopeRead})
	require.ErrorIs(t, err, directory.ErrInvalidInput)
}

func TestAddGrantMapsForeignKeyViolation(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(`insert into mailbox_grants`).
		WillReturnError(&pgconn.PgError{Code: pgErrForeignKeyViolation})

	_, err := s.AddGrant(context.Background(), directory.Grant{ID: "g1", UserID: "u1", MailboxID: "missing", Start: time.Now(), Scope: directory.ScopeRead})
	require.ErrorIs(t, err, directory.ErrNotFound)
}

func TestTouchLoginUnknownUser(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectExec(`update users set last_login_at`).
		WithArgs("ghost", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := s.TouchLogin(context.Background(), "ghost", time.Now())
	require.ErrorIs(t, err, directory.ErrNotFound)
}

func TestCredentialsGetNotEnrolled(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(`from mfa_credentials where user_id = \$1`).WithArgs("u1").WillReturnError(sql.ErrNoRows)

	_, err := s.Credentials().Get(context.Background(), "u1")
	require.ErrorIs(t, err, mfa.ErrNotEnrolled)
}

func TestCredentialsPutUpserts(t *testing.T) {
	s, mock := newMock(t)
	at := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	mock.ExpectExec(`insert into mfa_credentials .* on conflict \(user_id\) do update`).
		WithArgs("c1", "u1", []byte("sealed"), at).
		WillReturnResult(sqlmock.NewResult(1, 1))

	err := s.Credentials().Put(context.Background(), mfa.Credential{ID: "c1", UserID: "u1", Sealed: []byte("sealed"), EnrolledAt: at})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendLinkedFirstEntry(t *testing.T) {
	s, mock := newMock(t)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	chain := ledger.NewChain(s, ledger.WithClock(func() time.Time { return now }))

	mock.ExpectBegin()
	mock.ExpectExec(`select pg_advisory_xact_lock\(\$1\)`).WithArgs(ledgerLockKey).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`from audit_entries order by seq desc limit 1`).WillReturnRows(sqlmock.NewRows(entryCols))
	mock.ExpectExec(`insert into audit_entries`).
		WithArgs(int64(1), sqlmock.AnyArg(), "u1", "analyst", "SEARCH", `{"q":"x"}`, nil, nil, now, sqlmock.AnyArg(), nil).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	e, err := chain.Append(context.Background(), ledger.Record{
		ActorID: "u1", ActorRoles: "analyst", Action: "SEARCH", Parameters: map[string]any{"q": "x"},
	})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), e.Seq)
	assert.Nil(t, e.PrevDigest)
	assert.Len(t, e.Digest, 64)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendLinkedChainsFromTail(t *testing.T) {
	s, mock := newMock(t)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	chain := ledger.NewChain(s, ledger.WithClock(func() time.Time { return now }))
	tailDigest := "aaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"

	mock.ExpectBegin()
	mock.ExpectExec(`pg_advisory_xact_lock`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`order by seq desc limit 1`).WillReturnRows(sqlmock.NewRows(entryCols).
		AddRow(int64(7), "e7", nil, "", "LOGIN", []byte(`{}`), nil, nil, now.Add(-time.Minute), tailDigest, nil))
	mock.ExpectExec(`insert into audit_entries`).
		WithArgs(int64(8), sqlmock.AnyArg(), nil, "", "EXPORT", `{}`, int64(3), "m1", now, sqlmock.AnyArg(), tailDigest).
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	count := int64(3)
	e, err := chain.Append(context.Background(), ledger.Record{Action: "EXPORT", ResultCount: &count, TargetID: "m1"})
	require.NoError(t, err)
	assert.Equal(t, uint64(8), e.Seq)
	require.NotNil(t, e.PrevDigest)
	assert.Equal(t, tailDigest, *e.PrevDigest)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAppendLinkedInsertFailureRollsBack(t *testing.T) {
	s, mock := newMock(t)
	chain := ledger.NewChain(s)

	mock.ExpectBegin()
	mock.ExpectExec(`pg_advisory_xact_lock`).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectQuery(`order by seq desc limit 1`).WillReturnRows(sqlmock.NewRows(entryCols))
	mock.ExpectExec(`insert into audit_entries`).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	_, err := chain.Append(context.Background(), ledger.Record{Action: "LOGIN"})
	require.ErrorIs(t, err, ledger.ErrNotRecorded)
	assert.Contains(t, err.Error(), "disk full")
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListAppliesFilters(t *testing.T) {
	s, mock := newMock(t)
	now := time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)
	mock.ExpectQuery(`where actor_id = \$1 and action = \$2 order by seq desc limit \$3 offset \$4`).
		WithArgs("u1", "SEARCH", 10, 20).
		WillReturnRows(sqlmock.NewRows(entryCols).
			AddRow(int64(2), "e2", "u1", "analyst", "SEARCH", []byte(`{"q":"x"}`), int64(4), nil, now, "d2", "d1"))

	got, err := s.List(context.Background(), ledger.Filter{ActorID: "u1", Action: "SEARCH", Limit: 10, Offset: 20})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "u1", got[0].ActorID)
	require.NotNil(t, got[0].ResultCount)
	assert.Equal(t, int64(4), *got[0].ResultCount)
	assert.JSONEq(t, `{"q":"x"}`, string(got[0].Parameters))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetMissingEntry(t *testing.T) {
	s, mock := newMock(t)
	mock.ExpectQuery(`from audit_entries where id = \$1`).WithArgs("nope").WillReturnError(sql.ErrNoRows)

	_, err := s.Get(context.Background(), "nope")
	require.ErrorIs(t, err, ledger.ErrNotFound)
}
