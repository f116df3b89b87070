package pg

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"mailvault.org/internal/ledger"
)

var _ ledger.Store = (*Store)(nil)

// ledgerLockKey is the advisory lock serializing appends across processes.
const ledgerLockKey int64 = 0x6d61696c7661756c

const entryColumns = `seq, id, actor_id, actor_roles, action, parameters, result_count, target_id, created_at, digest, prev_digest`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanEntry(row rowScanner) (ledger.Entry, error) {
	var (
		e      ledger.Entry
		actor  sql.NullString
		params []byte
		count  sql.NullInt64
		target sql.NullString
		prev   sql.NullString
	)
	if err := row.Scan(&e.Seq, &e.ID, &actor, &e.ActorRoles, &e.Action, &params, &count, &target, &e.CreatedAt, &e.Digest, &prev); err != nil {
		return ledger.Entry{}, err
	}
	e.ActorID = actor.String
	e.Parameters = append([]byte(nil), params...)
	if count.Valid {
		n := count.Int64
		e.ResultCount = &n
	}
	if target.Valid {
		t := target.String
		e.TargetID = &t
	}
	if prev.Valid {
		p := prev.String
		e.PrevDigest = &p
	}
	e.CreatedAt = e.CreatedAt.UTC()
	return e, nil
}

// AppendLinked takes a transaction-scoped advisory lock, reads the tail and
// inserts the linked entry. Nothing is written unless the commit succeeds.
func (s *Store) AppendLinked(ctx context.Context, link ledger.LinkFunc) (ledger.Entry, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return ledger.Entry{}, err
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `select pg_advisory_xact_lock($1)`, ledgerLockKey); err != nil {
		return ledger.Entry{}, fmt.Errorf("lock ledger: %w", err)
	}

	var tail *ledger.Entry
	t, err := scanEntry(tx.QueryRowContext(ctx, `select `+entryColumns+` from audit_entries order by seq desc limit 1`))
	switch {
	case errors.Is(err, sql.ErrNoRows):
	case err != nil:
		return ledger.Entry{}, fmt.Errorf("read tail: %w", err)
	default:
		tail = &t
	}

	e, err := link(tail)
	if err != nil {
		return ledger.Entry{}, err
	}

	var count sql.NullInt64
	if e.ResultCount != nil {
		count = sql.NullInt64{Int64: *e.ResultCount, Valid: true}
	}
	var target, prev sql.NullString
	if e.TargetID != nil {
		target = sql.NullString{String: *e.TargetID, Valid: true}
	}
	if e.PrevDigest != nil {
		prev = sql.NullString{String: *e.PrevDigest, Valid: true}
	}
	if _, err := tx.ExecContext(ctx, `
		insert into audit_entries (`+entryColumns+`)
		values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`, int64(e.Seq), e.ID, nullString(e.ActorID), e.ActorRoles, e.Action, string(e.Parameters),
		count, target, e.CreatedAt, e.Digest, prev); err != nil {
		if pgErr, ok := maybePgError(err); ok && pgErr.Code == pgErrUniqueViolation {
			return ledger.Entry{}, fmt.Errorf("tail moved during append: %w", err)
		}
		return ledger.Entry{}, err
	}
	if err := tx.Commit(); err != nil {
		return ledger.Entry{}, err
	}
	return e, nil
}

func (s *Store) Scan(ctx context.Context, afterSeq uint64, limit int) ([]ledger.Entry, error) {
	if limit <= 0 {
		limit = ledger.MaxListLimit
	}
	rows, err := s.db.QueryContext(ctx, `
		select `+entryColumns+` from audit_entries
		where seq > $1
		order by seq asc
		limit $2
	`, int64(afterSeq), limit)
	if err != nil {
		return nil, err
	}
	return collectEntries(rows)
}

func (s *Store) Get(ctx context.Context, id string) (ledger.Entry, error) {
	e, err := scanEntry(s.db.QueryRowContext(ctx, `select `+entryColumns+` from audit_entries where id = $1`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return ledger.Entry{}, ledger.ErrNotFound
	}
	return e, err
}

func (s *Store) List(ctx context.Context, f ledger.Filter) ([]ledger.Entry, error) {
	var (
		where []string
		args  []any
	)
	if f.ActorID != "" {
		args = append(args, f.ActorID)
		where = append(where, fmt.Sprintf("actor_id = $%d", len(args)))
	}
	if f.Action != "" {
		args = append(args, f.Action)
		where = append(where, fmt.Sprintf("action = $%d", len(args)))
	}
	query := `select ` + entryColumns + ` from audit_entries`
	if len(where) > 0 {
		query += ` where ` + strings.Join(where, " and ")
	}
	args = append(args, f.Limit, f.Offset)
	query += fmt.Sprintf(` order by seq desc limit $%d offset $%d`, len(args)-1, len(args))

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return collectEntries(rows)
}

func collectEntries(rows *sql.Rows) ([]ledger.Entry, error) {
	defer rows.Close()
	var out []ledger.Entry
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
