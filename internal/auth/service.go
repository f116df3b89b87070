package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"mailvault.org/internal/directory"
)

const defaultMFASessionTTL = 480 * time.Minute

// ErrInvalidCredentials is a failed username/password check.
var ErrInvalidCredentials = fmt.Errorf("%w: invalid credentials", ErrUnauthenticated)

// OTPVerifier is the slice of the MFA credential service the login flow needs.
type OTPVerifier interface {
	Enrolled(ctx context.Context, userID string) (bool, error)
	Verify(ctx context.Context, userID, code string) bool
}

// Service resolves principals and runs the login and step-up flows.
type Service struct {
	dir         directory.Store
	tokens      *TokenService
	otp         OTPVerifier
	stepUpRoles []string
	mfaTTL      time.Duration
	now         func() time.Time
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithStepUpRoles sets the roles that must present a one-time code at login.
func WithStepUpRoles(roles []string) ServiceOption {
	return func(s *Service) error {
		if roles != nil {
			s.stepUpRoles = append([]string(nil), roles...)
		}
		return nil
	}
}

// WithMFASessionTTL sets how long a successful step-up stays valid.
func WithMFASessionTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl < 0 {
			return errors.New("auth: mfa session ttl must not be negative")
		}
		if ttl > 0 {
			s.mfaTTL = ttl
		}
		return nil
	}
}

// WithClock overrides the time source.
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

func NewService(dir directory.Store, tokens *TokenService, otp OTPVerifier, opts ...ServiceOption) (*Service, error) {
	if dir == nil || tokens == nil || otp == nil {
		return nil, errors.New("auth: directory, token service and otp verifier are required")
	}
	s := &Service{
		dir:         dir,
		tokens:      tokens,
		otp:         otp,
		stepUpRoles: DefaultStepUpRoles,
		mfaTTL:      defaultMFASessionTTL,
		now:         time.Now,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// Tokens exposes the token service backing s.
func (s *Service) Tokens() *TokenService { return s.tokens }

// Principal loads the user, department and permission union. Unknown or
// inactive users are reported as ErrUnauthenticated.
func (s *Service) Principal(ctx context.Context, userID string) (Principal, error) {
	user, err := s.dir.User(ctx, userID)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return Principal{}, ErrUnauthenticated
		}
		return Principal{}, fmt.Errorf("load user: %w", err)
	}
	return s.principalFor(ctx, user)
}

// PrincipalForClaims resolves the principal behind a verified token. The
// user record is read live, so deactivation applies at once, but role
// membership comes from the token snapshot and only changes on re-issuance.
func (s *Service) PrincipalForClaims(ctx context.Context, claims *Claims) (Principal, error) {
	user, err := s.dir.User(ctx, claims.Subject)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return Principal{}, ErrUnauthenticated
		}
		return Principal{}, fmt.Errorf("load user: %w", err)
	}
	user.Roles = append([]string(nil), claims.Roles...)
	return s.principalFor(ctx, user)
}

func (s *Service) principalFor(ctx context.Context, user directory.User) (Principal, error) {
	if !user.Active {
		return Principal{}, ErrUnauthenticated
	}
	dept, err := s.dir.Department(ctx, user.DepartmentID)
	if err != nil {
		return Principal{}, fmt.Errorf("load department: %w", err)
	}
	perms, err := s.dir.RolePermissions(ctx, user.Roles)
	if err != nil {
		return Principal{}, fmt.Errorf("load permissions: %w", err)
	}
	return NewPrincipal(user, dept, perms), nil
}

// LoginRequest carries credentials and an optional one-time code.
type LoginRequest struct {
	Username string
	Password string
	OTP      string
}

// LoginResult is either an issued token or a step-up demand. When
// MFARequired is set, Token is empty and Reason may be "not_enrolled".
type LoginResult struct {
	Principal        Principal
	MFARequired      bool
	Reason           string
	Token            string
	ExpiresAt        time.Time
	MFAVerifiedUntil *time.Time
}

// Login checks the password and, for step-up roles, the one-time code.
func (s *Service) Login(ctx context.Context, req LoginRequest) (LoginResult, error) {
	username := strings.TrimSpace(req.Username)
	if username == "" || req.Password == "" {
		return LoginResult{}, Validationf("username and password are required")
	}
	user, err := s.dir.UserByUsername(ctx, username)
	if err != nil && !errors.Is(err, directory.ErrNotFound) {
		return LoginResult{}, fmt.Errorf("load user: %w", err)
	}
	if !PasswordMatches(user.PasswordHash, req.Password) || !user.Active {
		return LoginResult{}, ErrInvalidCredentials
	}
	p, err := s.principalFor(ctx, user)
	if err != nil {
		return LoginResult{}, err
	}

	var mfaUntil *time.Time
	if p.HasAnyRole(s.stepUpRoles) {
		enrolled, err := s.otp.Enrolled(ctx, user.ID)
		if err != nil {
			return LoginResult{}, fmt.Errorf("check enrollment: %w", err)
		}
		if !enrolled {
			return LoginResult{Principal: p, MFARequired: true, Reason: "not_enrolled"}, nil
		}
		if strings.TrimSpace(req.OTP) == "" {
			return LoginResult{Principal: p, MFARequired: true}, nil
		}
		if !s.otp.Verify(ctx, user.ID, req.OTP) {
			return LoginResult{}, Validationf("invalid_otp")
		}
		until := s.now().UTC().Add(s.mfaTTL)
		mfaUntil = &until
	}

	if err := s.dir.TouchLogin(ctx, user.ID, s.now()); err != nil {
		return LoginResult{}, fmt.Errorf("record login: %w", err)
	}
	return s.issue(p, mfaUntil)
}

// StepUp verifies a one-time code for an authenticated principal and issues
// a token carrying a fresh MFA window.
func (s *Service) StepUp(ctx context.Context, p Principal, code string) (LoginResult, error) {
	if strings.TrimSpace(code) == "" || !s.otp.Verify(ctx, p.User.ID, code) {
		return LoginResult{}, Validationf("invalid_otp")
	}
	until := s.now().UTC().Add(s.mfaTTL)
	return s.issue(p, &until)
}

func (s *Service) issue(p Principal, mfaUntil *time.Time) (LoginResult, error) {
	token, exp, err := s.tokens.Issue(p, mfaUntil)
	if err != nil {
		return LoginResult{}, err
	}
	return LoginResult{Principal: p, Token: token, ExpiresAt: exp, MFAVerifiedUntil: mfaUntil}, nil
}
