package directory

import (
	"context"
	"time"
)

// Store is the read side of the directory used on every request. Results
// are never cached by callers so grant changes apply immediately.
type Store interface {
	User(ctx context.Context, id string) (User, error)
	UserByUsername(ctx context.Context, username string) (User, error)
	Department(ctx context.Context, id string) (Department, error)
	// RolePermissions returns the union of permission codes for the given roles.
	RolePermissions(ctx context.Context, roles []string) ([]string, error)
	Mailbox(ctx context.Context, id string) (Mailbox, error)
	Email(ctx context.Context, id string) (Email, error)
	Grants(ctx context.Context, userID string) ([]Grant, error)
	TouchLogin(ctx context.Context, userID string, at time.Time) error
}
