package directory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"mailvault.org/internal/ids"
)

// Memory is an in-process Store, also used to seed fixtures in tests.
type Memory struct {
	mu          sync.RWMutex
	departments map[string]Department
	roles       map[string]Role
	users       map[string]User
	mailboxes   map[string]Mailbox
	emails      map[string]Email
	grants      map[string][]Grant
}

var _ Store = (*Memory)(nil)

func NewMemory() *Memory {
	return &Memory{
		departments: make(map[string]Department),
		roles:       make(map[string]Role),
		users:       make(map[string]User),
		mailboxes:   make(map[string]Mailbox),
		emails:      make(map[string]Email),
		grants:      make(map[string][]Grant),
	}
}

// AddDepartment creates a department under parentID ("" for a root) and computes its path.
func (m *Memory) AddDepartment(name, parentID string) (Department, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	path, err := ComputePath(name, parentID, m.lookupDepartment)
	if err != nil {
		return Department{}, err
	}
	d := Department{ID: ids.New(), Name: strings.TrimSpace(name), ParentID: parentID, Path: path}
	m.departments[d.ID] = d
	return d, nil
}

// MoveDepartment reparents a department and rewrites the paths below it.
func (m *Memory) MoveDepartment(id, newParentID string) (Department, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	all := make([]Department, 0, len(m.departments))
	for _, d := range m.departments {
		all = append(all, d)
	}
	changed, err := Reparent(all, id, newParentID)
	if err != nil {
		return Department{}, err
	}
	for _, d := range changed {
		m.departments[d.ID] = d
	}
	return changed[0], nil
}

func (m *Memory) lookupDepartment(id string) (Department, bool) {
	d, ok := m.departments[id]
	return d, ok
}

// PutRole creates or replaces a role. Permission codes are deduplicated.
func (m *Memory) PutRole(role Role) error {
	if strings.TrimSpace(role.Code) == "" {
		return fmt.Errorf("%w: role code is required", ErrInvalidInput)
	}
	role.Permissions = dedupe(role.Permissions)
	m.mu.Lock()
	m.roles[role.Code] = role
	m.mu.Unlock()
	return nil
}

// PutUser creates or replaces a user. An empty ID is assigned.
func (m *Memory) PutUser(u User) (User, error) {
	if strings.TrimSpace(u.Username) == "" {
		return User{}, fmt.Errorf("%w: username is required", ErrInvalidInput)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.departments[u.DepartmentID]; !ok {
		return User{}, fmt.Errorf("%w: department %s", ErrNotFound, u.DepartmentID)
	}
	for _, existing := range m.users {
		if existing.Username == u.Username && existing.ID != u.ID {
			return User{}, ErrAlreadyExists
		}
	}
	if u.ID == "" {
		u.ID = ids.New()
	}
	u.Roles = dedupe(u.Roles)
	m.users[u.ID] = u
	return u, nil
}

func (m *Memory) PutMailbox(mb Mailbox) (Mailbox, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.departments[mb.DepartmentID]; !ok {
		return Mailbox{}, fmt.Errorf("%w: department %s", ErrNotFound, mb.DepartmentID)
	}
	if mb.ID == "" {
		mb.ID = ids.New()
	}
	if mb.Sensitivity == "" {
		mb.Sensitivity = SensitivityNormal
	}
	m.mailboxes[mb.ID] = mb
	return mb, nil
}

// PutEmail records an archived email reference; its department follows the mailbox.
func (m *Memory) PutEmail(e Email) (Email, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	mb, ok := m.mailboxes[e.MailboxID]
	if !ok {
		return Email{}, fmt.Errorf("%w: mailbox %s", ErrNotFound, e.MailboxID)
	}
	if e.ID == "" {
		e.ID = ids.New()
	}
	if e.DepartmentID == "" {
		e.DepartmentID = mb.DepartmentID
	}
	m.emails[e.ID] = e
	return e, nil
}

func (m *Memory) AddGrant(g Grant) (Grant, error) {
	if !g.Scope.Valid() {
		return Grant{}, fmt.Errorf("%w: scope %q", ErrInvalidInput, g.Scope)
	}
	if g.End != nil && g.End.Before(g.Start) {
		return Grant{}, fmt.Errorf("%w: grant ends before it starts", ErrInvalidInput)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	mb, ok := m.mailboxes[g.MailboxID]
	if !ok {
		return Grant{}, fmt.Errorf("%w: mailbox %s", ErrNotFound, g.MailboxID)
	}
	if _, ok := m.users[g.UserID]; !ok {
		return Grant{}, fmt.Errorf("%w: user %s", ErrNotFound, g.UserID)
	}
	if g.ID == "" {
		g.ID = ids.New()
	}
	g.MailboxAddress = mb.Address
	m.grants[g.UserID] = append(m.grants[g.UserID], g)
	return g, nil
}

// RevokeGrants removes every grant the user holds for a mailbox.
func (m *Memory) RevokeGrants(userID, mailboxID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	kept := m.grants[userID][:0]
	for _, g := range m.grants[userID] {
		if g.MailboxID != mailboxID {
			kept = append(kept, g)
		}
	}
	m.grants[userID] = kept
}

func (m *Memory) User(_ context.Context, id string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return User{}, ErrNotFound
	}
	return u, nil
}

func (m *Memory) UserByUsername(_ context.Context, username string) (User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Username == username {
			return u, nil
		}
	}
	return User{}, ErrNotFound
}

func (m *Memory) Department(_ context.Context, id string) (Department, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.departments[id]
	if !ok {
		return Department{}, ErrNotFound
	}
	return d, nil
}

func (m *Memory) RolePermissions(_ context.Context, roles []string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var perms []string
	for _, code := range roles {
		perms = append(perms, m.roles[code].Permissions...)
	}
	perms = dedupe(perms)
	sort.Strings(perms)
	return perms, nil
}

func (m *Memory) Mailbox(_ context.Context, id string) (Mailbox, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	mb, ok := m.mailboxes[id]
	if !ok {
		return Mailbox{}, ErrNotFound
	}
	return mb, nil
}

func (m *Memory) Email(_ context.Context, id string) (Email, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.emails[id]
	if !ok {
		return Email{}, ErrNotFound
	}
	return e, nil
}

func (m *Memory) Grants(_ context.Context, userID string) ([]Grant, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]Grant, len(m.grants[userID]))
	copy(out, m.grants[userID])
	return out, nil
}

func (m *Memory) TouchLogin(_ context.Context, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[userID]
	if !ok {
		return ErrNotFound
	}
	at = at.UTC()
	u.LastLoginAt = &at
	m.users[userID] = u
	return nil
}

func dedupe(values []string) []string {
	if len(values) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		v = strings.TrimSpace(v)
		if v == "" {
			continue
		}
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}
