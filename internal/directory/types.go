// Package directory holds the organisational model the authorization core
// reads: departments, roles, users, mailboxes, archived email references and
// mailbox access grants.
package directory

import (
	"errors"
	"strings"
	"time"
)

var (
	ErrNotFound        = errors.New("directory: not found")
	ErrAlreadyExists   = errors.New("directory: already exists")
	ErrInvalidInput    = errors.New("directory: invalid input")
	ErrDepartmentCycle = errors.New("directory: department cannot be its own ancestor")
)

// Department is a node in the organisational tree. Path is the slash-joined
// chain of ancestor names ending with Name.
type Department struct {
	ID       string
	Name     string
	ParentID string
	Path     string
}

// Permission is a capability code granted through roles.
type Permission struct {
	Code        string
	Description string
}

// Role bundles unique permission codes.
type Role struct {
	Code        string
	Name        string
	Permissions []string
}

// User is an identity that belongs to exactly one department.
type User struct {
	ID           string
	Username     string
	Email        string
	DepartmentID string
	Roles        []string
	Superuser    bool
	Active       bool
	PasswordHash string
	LastLoginAt  *time.Time
}

// RoleCodes returns the user's role codes as a comma-joined snapshot.
func (u User) RoleCodes() string {
	return strings.Join(u.Roles, ",")
}

// Sensitivity levels for mailboxes. Informational only.
const (
	SensitivityNormal = "NORMAL"
	SensitivityHigh   = "HIGH"
)

type Mailbox struct {
	ID           string
	Address      string
	DepartmentID string
	Sensitivity  string
}

// Email is the minimal view of an archived message needed for access decisions.
type Email struct {
	ID           string
	MailboxID    string
	DepartmentID string
	ReceivedAt   time.Time
}

type Scope string

const (
	ScopeRead   Scope = "READ"
	ScopeExport Scope = "EXPORT"
)

func (s Scope) Valid() bool {
	return s == ScopeRead || s == ScopeExport
}

// Grant gives a user access to one mailbox for a time window. A nil End
// leaves the window open.
type Grant struct {
	ID             string
	UserID         string
	MailboxID      string
	MailboxAddress string
	Start          time.Time
	End            *time.Time
	Scope          Scope
}

// Covers reports whether t lies in the grant window, both bounds inclusive.
func (g Grant) Covers(t time.Time) bool {
	if t.Before(g.Start) {
		return false
	}
	return g.End == nil || !g.End.Before(t)
}

// ActiveGrants filters grants whose window contains now.
func ActiveGrants(grants []Grant, now time.Time) []Grant {
	out := make([]Grant, 0, len(grants))
	for _, g := range grants {
		if g.Covers(now) {
			out = append(out, g)
		}
	}
	return out
}
