package auth

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mailvault.org/internal/directory"
)

type stubOTP struct {
	enrolled map[string]bool
	code     string
}

func (s *stubOTP) Enrolled(_ context.Context, userID string) (bool, error) {
	return s.enrolled[userID], nil
}

func (s *stubOTP) Verify(_ context.Context, userID, code string) bool {
	return s.enrolled[userID] && code == s.code
}

type fixture struct {
	dir     *directory.Memory
	clock   *fakeClock
	otp     *stubOTP
	svc     *Service
	guard   *Guard
	analyst directory.User
	legal   directory.User
	admin   directory.User
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{dir: directory.NewMemory(), clock: newClock(), otp: &stubOTP{enrolled: map[string]bool{}, code: "123456"}}

	dept, err := f.dir.AddDepartment("Legal", "")
	require.NoError(t, err)
	require.NoError(t, f.dir.PutRole(directory.Role{Code: "analyst", Permissions: []string{PermEmailView}}))
	require.NoError(t, f.dir.PutRole(directory.Role{Code: RoleLegalUser, Permissions: []string{PermEmailView, PermEmailSearch, PermAuditRead}}))

	hash, err := HashPassword("correct horse")
	require.NoError(t, err)
	f.analyst, err = f.dir.PutUser(directory.User{Username: "ann", DepartmentID: dept.ID, Roles: []string{"analyst"}, Active: true, PasswordHash: hash})
	require.NoError(t, err)
	f.legal, err = f.dir.PutUser(directory.User{Username: "lee", DepartmentID: dept.ID, Roles: []string{RoleLegalUser}, Active: true, PasswordHash: hash})
	require.NoError(t, err)
	f.admin, err = f.dir.PutUser(directory.User{Username: "root", DepartmentID: dept.ID, Superuser: true, Active: true, PasswordHash: hash})
	require.NoError(t, err)

	tokens := newTokens(t, f.clock)
	f.svc, err = NewService(f.dir, tokens, f.otp, WithClock(f.clock.Now))
	require.NoError(t, err)
	f.guard = NewGuard(tokens, f.svc)
	return f
}

func TestLoginWithoutStepUpRole(t *testing.T) {
	f := newFixture(t)
	res, err := f.svc.Login(context.Background(), LoginRequest{Username: "ann", Password: "correct horse"})
	require.NoError(t, err)
	assert.False(t, res.MFARequired)
	assert.NotEmpty(t, res.Token)
	assert.Nil(t, res.MFAVerifiedUntil)

	u, _ := f.dir.User(context.Background(), f.analyst.ID)
	require.NotNil(t, u.LastLoginAt)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	f := newFixture(t)
	_, err := f.svc.Login(context.Background(), LoginRequest{Username: "ann", Password: "wrong password"})
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = f.svc.Login(context.Background(), LoginRequest{Username: "nobody", Password: "correct horse"})
	require.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = f.svc.Login(context.Background(), LoginRequest{Username: "", Password: ""})
	require.ErrorIs(t, err, ErrValidation)
}

func TestLoginStepUpFlow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	res, err := f.svc.Login(ctx, LoginRequest{Username: "lee", Password: "correct horse"})
	require.NoError(t, err)
	assert.True(t, res.MFARequired)
	assert.Equal(t, "not_enrolled", res.Reason)
	assert.Empty(t, res.Token)

	f.otp.enrolled[f.legal.ID] = true
	res, err = f.svc.Login(ctx, LoginRequest{Username: "lee", Password: "correct horse"})
	require.NoError(t, err)
	assert.True(t, res.MFARequired)
	assert.Empty(t, res.Reason)

	_, err = f.svc.Login(ctx, LoginRequest{Username: "lee", Password: "correct horse", OTP: "000000"})
	require.ErrorIs(t, err, ErrValidation)
	assert.Contains(t, err.Error(), "invalid_otp")

	res, err = f.svc.Login(ctx, LoginRequest{Username: "lee", Password: "correct horse", OTP: "123456"})
	require.NoError(t, err)
	require.NotNil(t, res.MFAVerifiedUntil)
	assert.Equal(t, f.clock.Now().Add(480*time.Minute), *res.MFAVerifiedUntil)

	claims, err := f.svc.Tokens().Verify(res.Token)
	require.NoError(t, err)
	assert.True(t, claims.MFAVerified)
}

func TestStepUpReissuesWithFreshWindow(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.otp.enrolled[f.analyst.ID] = true
	p, err := f.svc.Principal(ctx, f.analyst.ID)
	require.NoError(t, err)

	_, err = f.svc.StepUp(ctx, p, "999999")
	require.ErrorIs(t, err, ErrValidation)

	res, err := f.svc.StepUp(ctx, p, "123456")
	require.NoError(t, err)
	claims, err := f.svc.Tokens().Verify(res.Token)
	require.NoError(t, err)
	assert.True(t, claims.MFAVerified)
}

func TestPrincipalRejectsInactiveAndUnknown(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	_, err := f.svc.Principal(ctx, "missing")
	require.ErrorIs(t, err, ErrUnauthenticated)

	inactive := f.analyst
	inactive.Active = false
	_, err = f.dir.PutUser(inactive)
	require.NoError(t, err)
	_, err = f.svc.Principal(ctx, f.analyst.ID)
	require.ErrorIs(t, err, ErrUnauthenticated)
}

func TestSuperuserHoldsEveryPermission(t *testing.T) {
	f := newFixture(t)
	p, err := f.svc.Principal(context.Background(), f.admin.ID)
	require.NoError(t, err)
	for _, perm := range BuiltinPermissions {
		assert.True(t, p.HasPermission(perm.Code), perm.Code)
	}
}
