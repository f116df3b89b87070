package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"mailvault.org/internal/directory"
)

var _ directory.Store = (*Store)(nil)

const userColumns = `id, username, email, department_id, superuser, active, password_hash, last_login_at`

func (s *Store) User(ctx context.Context, id string) (directory.User, error) {
	return s.queryUser(ctx, `select `+userColumns+` from users where id = $1`, id)
}

func (s *Store) UserByUsername(ctx context.Context, username string) (directory.User, error) {
	return s.queryUser(ctx, `select `+userColumns+` from users where username = $1`, username)
}

func (s *Store) queryUser(ctx context.Context, query string, arg string) (directory.User, error) {
	var (
		u         directory.User
		lastLogin sql.NullTime
	)
	err := s.db.QueryRowContext(ctx, query, arg).Scan(
		&u.ID, &u.Username, &u.Email, &u.DepartmentID, &u.Superuser, &u.Active, &u.PasswordHash, &lastLogin)
	if errors.Is(err, sql.ErrNoRows) {
		return directory.User{}, directory.ErrNotFound
	}
	if err != nil {
		return directory.User{}, err
	}
	if lastLogin.Valid {
		t := lastLogin.Time.UTC()
		u.LastLoginAt = &t
	}

	rows, err := s.db.QueryContext(ctx, `select role_code from user_roles where user_id = $1 order by role_code`, u.ID)
	if err != nil {
		return directory.User{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return directory.User{}, err
		}
		u.Roles = append(u.Roles, code)
	}
	return u, rows.Err()
}

func (s *Store) Department(ctx context.Context, id string) (directory.Department, error) {
	var (
		d      directory.Department
		parent sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		select id, name, parent_id, path from departments where id = $1
	`, id).Scan(&d.ID, &d.Name, &parent, &d.Path)
	if errors.Is(err, sql.ErrNoRows) {
		return directory.Department{}, directory.ErrNotFound
	}
	if err != nil {
		return directory.Department{}, err
	}
	d.ParentID = parent.String
	return d, nil
}

func (s *Store) RolePermissions(ctx context.Context, roles []string) ([]string, error) {
	if len(roles) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(roles))
	args := make([]any, len(roles))
	for i, r := range roles {
		placeholders[i] = fmt.Sprintf("$%d", i+1)
		args[i] = r
	}
	rows, err := s.db.QueryContext(ctx, `
		select distinct permission_code from role_permissions
		where role_code in (`+strings.Join(placeholders, ",")+`)
		order by permission_code
	`, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var code string
		if err := rows.Scan(&code); err != nil {
			return nil, err
		}
		out = append(out, code)
	}
	return out, rows.Err()
}

func (s *Store) Mailbox(ctx context.Context, id string) (directory.Mailbox, error) {
	var m directory.Mailbox
	err := s.db.QueryRowContext(ctx, `
		select id, address, department_id, sensitivity from mailboxes where id = $1
	`, id).Scan(&m.ID, &m.Address, &m.DepartmentID, &m.Sensitivity)
	if errors.Is(err, sql.ErrNoRows) {
		return directory.Mailbox{}, directory.ErrNotFound
	}
	return m, err
}

func (s *Store) Email(ctx context.Context, id string) (directory.Email, error) {
	var e directory.Email
	err := s.db.QueryRowContext(ctx, `
		select id, mailbox_id, department_id, received_at from emails where id = $1
	`, id).Scan(&e.ID, &e.MailboxID, &e.DepartmentID, &e.ReceivedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return directory.Email{}, directory.ErrNotFound
	}
	if err != nil {
		return directory.Email{}, err
	}
	e.ReceivedAt = e.ReceivedAt.UTC()
	return e, nil
}

// Grants returns every grant of the user, active or not. Activity is decided
// by the caller against its own clock.
func (s *Store) Grants(ctx context.Context, userID string) ([]directory.Grant, error) {
	rows, err := s.db.QueryContext(ctx, `
		select g.id, g.user_id, g.mailbox_id, m.address, g.time_start, g.time_end, g.scope
		from mailbox_grants g
		join mailboxes m on m.id = g.mailbox_id
		where g.user_id = $1
		order by g.time_start, g.id
	`, userID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []directory.Grant
	for rows.Next() {
		var (
			g     directory.Grant
			end   sql.NullTime
			scope string
		)
		if err := rows.Scan(&g.ID, &g.UserID, &g.MailboxID, &g.MailboxAddress, &g.Start, &end, &scope); err != nil {
			return nil, err
		}
		g.Start = g.Start.UTC()
		if end.Valid {
			t := end.Time.UTC()
			g.End = &t
		}
		g.Scope = directory.Scope(scope)
		out = append(out, g)
	}
	return out, rows.Err()
}

// AddGrant stores a grant and returns it with the mailbox address filled in.
func (s *Store) AddGrant(ctx context.Context, g directory.Grant) (directory.Grant, error) {
	if g.ID == "" || g.UserID == "" || g.MailboxID == "" || !g.Scope.Valid() {
		return directory.Grant{}, directory.ErrInvalidInput
	}
	if g.End != nil && g.End.Before(g.Start) {
		return directory.Grant{}, directory.ErrInvalidInput
	}
	var end sql.NullTime
	if g.End != nil {
		end = sql.NullTime{Time: g.End.UTC(), Valid: true}
	}
	err := s.db.QueryRowContext(ctx, `
		with inserted as (
			insert into mailbox_grants (id, user_id, mailbox_id, time_start, time_end, scope)
			values ($1, $2, $3, $4, $5, $6)
			returning mailbox_id
		)
		select m.address from inserted i join mailboxes m on m.id = i.mailbox_id
	`, g.ID, g.UserID, g.MailboxID, g.Start.UTC(), end, string(g.Scope)).Scan(&g.MailboxAddress)
	if err != nil {
		if pgErr, ok := maybePgError(err); ok {
			switch pgErr.Code {
			case pgErrUniqueViolation:
				return directory.Grant{}, directory.ErrAlreadyExists
			case pgErrForeignKeyViolation:
				return directory.Grant{}, directory.ErrNotFound
			}
		}
		return directory.Grant{}, err
	}
	return g, nil
}

// RevokeGrants deletes the user's grants on a mailbox and reports how many went.
func (s *Store) RevokeGrants(ctx context.Context, userID, mailboxID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		delete from mailbox_grants where user_id = $1 and mailbox_id = $2
	`, userID, mailboxID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (s *Store) TouchLogin(ctx context.Context, userID string, at time.Time) error {
	res, err := s.db.ExecContext(ctx, `update users set last_login_at = $2 where id = $1`, userID, at.UTC())
	if err != nil {
		return err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return directory.ErrNotFound
	}
	return nil
}
