package pg

import (
	"context"
	"database/sql"
	"errors"

	"mailvault.org/internal/directory"
	"mailvault.org/internal/mfa"
)

// Credentials adapts Store to mfa.CredentialStore.
type Credentials struct {
	s *Store
}

var _ mfa.CredentialStore = Credentials{}

func (s *Store) Credentials() Credentials { return Credentials{s: s} }

func (c Credentials) Put(ctx context.Context, cred mfa.Credential) error {
	_, err := c.s.db.ExecContext(ctx, `
		insert into mfa_credentials (id, user_id, sealed, enrolled_at)
		values ($1, $2, $3, $4)
		on conflict (user_id) do update
		set id = excluded.id, sealed = excluded.sealed, enrolled_at = excluded.enrolled_at
	`, cred.ID, cred.UserID, cred.Sealed, cred.EnrolledAt.UTC())
	if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrForeignKeyViolation {
		return directory.ErrNotFound
	}
	return err
}

func (c Credentials) Get(ctx context.Context, userID string) (mfa.Credential, error) {
	var cred mfa.Credential
	err := c.s.db.QueryRowContext(ctx, `
		select id, user_id, sealed, enrolled_at from mfa_credentials where user_id = $1
	`, userID).Scan(&cred.ID, &cred.UserID, &cred.Sealed, &cred.EnrolledAt)
	if errors.Is(err, sql.ErrNoRows) {
		return mfa.Credential{}, mfa.ErrNotEnrolled
	}
	if err != nil {
		return mfa.Credential{}, err
	}
	cred.EnrolledAt = cred.EnrolledAt.UTC()
	return cred, nil
}
