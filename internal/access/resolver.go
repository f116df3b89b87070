// Package access decides which mailboxes, departments and time windows a
// principal may touch. Grants are read from the directory on every call.
package access

import (
	"context"
	"fmt"
	"sort"
	"time"

	"mailvault.org/internal/auth"
	"mailvault.org/internal/directory"
	"mailvault.org/internal/obs"
)

// WildcardTag tells the search collaborator to skip tag filtering.
const WildcardTag = "*"

// GrantSource lists every grant held by a user.
type GrantSource interface {
	Grants(ctx context.Context, userID string) ([]directory.Grant, error)
}

// TimeRange is an inclusive search window.
type TimeRange struct {
	Start time.Time
	End   time.Time
}

// Validate rejects zero bounds and ranges ending before they start.
func (r TimeRange) Validate() error {
	if r.Start.IsZero() || r.End.IsZero() {
		return auth.Validationf("time range requires start and end")
	}
	if r.End.Before(r.Start) {
		return auth.Validationf("time range ends before it starts")
	}
	return nil
}

// Resolver evaluates access for a principal against its active grants.
type Resolver struct {
	grants GrantSource
	now    func() time.Time
}

// Option configures Resolver.
type Option func(*Resolver)

// WithClock overrides the time source used to decide which grants are active.
func WithClock(fn func() time.Time) Option {
	return func(r *Resolver) {
		if fn != nil {
			r.now = fn
		}
	}
}

func NewResolver(grants GrantSource, opts ...Option) *Resolver {
	r := &Resolver{grants: grants, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func (r *Resolver) activeGrants(ctx context.Context, p auth.Principal) ([]directory.Grant, error) {
	all, err := r.grants.Grants(ctx, p.User.ID)
	if err != nil {
		return nil, fmt.Errorf("load grants: %w", err)
	}
	return directory.ActiveGrants(all, r.now()), nil
}

// ResolveTags returns the department path and the addresses of actively
// granted mailboxes, plus WildcardTag for global readers. With a time range
// both bounds must pass EnsureTimeScope or nothing is returned.
func (r *Resolver) ResolveTags(ctx context.Context, p auth.Principal, tr *TimeRange) ([]string, error) {
	if tr != nil {
		if err := tr.Validate(); err != nil {
			return nil, err
		}
	}
	active, err := r.activeGrants(ctx, p)
	if err != nil {
		return nil, err
	}
	if tr != nil {
		for _, instant := range []time.Time{tr.Start, tr.End} {
			if err := timeScope(p, active, instant); err != nil {
				return nil, err
			}
		}
	}

	set := map[string]struct{}{p.Department.Path: {}}
	for _, g := range active {
		set[g.MailboxAddress] = struct{}{}
	}
	if p.HasPermission(auth.PermGlobalMailboxRead) {
		set[WildcardTag] = struct{}{}
	}
	tags := make([]string, 0, len(set))
	for t := range set {
		tags = append(tags, t)
	}
	sort.Strings(tags)
	return tags, nil
}

// EnsureEmailAccess allows global readers and members of the email's
// department; anyone else needs an active grant on the email's mailbox.
func (r *Resolver) EnsureEmailAccess(ctx context.Context, p auth.Principal, email directory.Email) error {
	if p.HasPermission(auth.PermGlobalMailboxRead) {
		return nil
	}
	if email.DepartmentID == p.User.DepartmentID {
		return nil
	}
	return r.EnsureMailboxAccess(ctx, p, email.MailboxID)
}

// EnsureTimeScope requires some active grant, on any mailbox, whose window
// contains instant. Time-unbound principals always pass.
func (r *Resolver) EnsureTimeScope(ctx context.Context, p auth.Principal, instant time.Time) error {
	if p.HasPermission(auth.PermTimeUnbound) {
		return nil
	}
	active, err := r.activeGrants(ctx, p)
	if err != nil {
		return err
	}
	return timeScope(p, active, instant)
}

// EnsureMailboxAccess requires an active grant on mailboxID regardless of department.
func (r *Resolver) EnsureMailboxAccess(ctx context.Context, p auth.Principal, mailboxID string) error {
	if p.HasPermission(auth.PermGlobalMailboxRead) {
		return nil
	}
	active, err := r.activeGrants(ctx, p)
	if err != nil {
		return err
	}
	for _, g := range active {
		if g.MailboxID == mailboxID {
			return nil
		}
	}
	return deny(auth.ReasonMailboxForbidden)
}

func timeScope(p auth.Principal, active []directory.Grant, instant time.Time) error {
	if p.HasPermission(auth.PermTimeUnbound) {
		return nil
	}
	for _, g := range active {
		if g.Covers(instant) {
			return nil
		}
	}
	return deny(auth.ReasonTimeForbidden)
}

func deny(reason string) error {
	obs.AuthzDenied(reason)
	return auth.Forbidden(reason)
}
