package mfa

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrNotEnrolled is returned by stores for users without a credential.
var ErrNotEnrolled = errors.New("mfa: not enrolled")

// Credential is a user's sealed TOTP secret. At most one exists per user.
type Credential struct {
	ID         string
	UserID     string
	Sealed     []byte
	EnrolledAt time.Time
}

// CredentialStore persists credentials keyed by user. Put replaces any
// existing credential for the same user.
type CredentialStore interface {
	Put(ctx context.Context, c Credential) error
	Get(ctx context.Context, userID string) (Credential, error)
}

// MemoryStore keeps credentials in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	items map[string]Credential
}

var _ CredentialStore = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{items: make(map[string]Credential)}
}

func (m *MemoryStore) Put(_ context.Context, c Credential) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.Sealed = append([]byte(nil), c.Sealed...)
	m.items[c.UserID] = c
	return nil
}

func (m *MemoryStore) Get(_ context.Context, userID string) (Credential, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.items[userID]
	if !ok {
		return Credential{}, ErrNotEnrolled
	}
	return c, nil
}
