// Package mfa enrolls and checks time-based one-time passcodes. Secrets are
// sealed with age before storage and only opened to verify a code.
package mfa

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"mailvault.org/internal/directory"
	"mailvault.org/internal/ids"
	"mailvault.org/internal/obs"
)

const (
	secretSize   = 20 // 160 bits
	codePeriod   = 30
	codeSkew     = 1
	issuerSuffix = " Mail Archive"
)

// Service manages TOTP credentials.
type Service struct {
	store  CredentialStore
	sealer Sealer
	issuer string
	now    func() time.Time
}

// Option configures Service.
type Option func(*Service)

// WithClock overrides the time source for code validation.
func WithClock(fn func() time.Time) Option {
	return func(s *Service) {
		if fn != nil {
			s.now = fn
		}
	}
}

// NewService builds a Service. issuer is the product name; authenticator
// apps display it as "<issuer> Mail Archive".
func NewService(store CredentialStore, sealer Sealer, issuer string, opts ...Option) (*Service, error) {
	if store == nil || sealer == nil {
		return nil, errors.New("mfa: store and sealer are required")
	}
	issuer = strings.TrimSpace(issuer)
	if issuer == "" {
		return nil, errors.New("mfa: issuer is required")
	}
	s := &Service{store: store, sealer: sealer, issuer: issuer, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Enroll creates a fresh secret for user, replacing any earlier one, and
// returns the otpauth:// provisioning URI. The URI is the only time the
// secret leaves this package.
func (s *Service) Enroll(ctx context.Context, user directory.User) (string, error) {
	if user.ID == "" {
		return "", fmt.Errorf("mfa: user id is required")
	}
	account := user.Email
	if account == "" {
		account = user.Username
	}
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      s.issuer + issuerSuffix,
		AccountName: account,
		SecretSize:  secretSize,
		Period:      codePeriod,
		Digits:      otp.DigitsSix,
		Algorithm:   otp.AlgorithmSHA1,
	})
	if err != nil {
		return "", fmt.Errorf("generate secret: %w", err)
	}
	sealed, err := s.sealer.Seal([]byte(key.Secret()))
	if err != nil {
		return "", fmt.Errorf("seal secret: %w", err)
	}
	now := s.now().UTC()
	if err := s.store.Put(ctx, Credential{ID: ids.NewAt(now), UserID: user.ID, Sealed: sealed, EnrolledAt: now}); err != nil {
		return "", fmt.Errorf("store credential: %w", err)
	}
	return key.URL(), nil
}

// Enrolled reports whether userID has a credential.
func (s *Service) Enrolled(ctx context.Context, userID string) (bool, error) {
	_, err := s.store.Get(ctx, userID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, ErrNotEnrolled):
		return false, nil
	default:
		return false, err
	}
}

// Verify checks code against the user's secret, accepting one period of
// drift either way. Any failure, including a missing credential, is false.
func (s *Service) Verify(ctx context.Context, userID, code string) bool {
	ok := s.verify(ctx, userID, strings.TrimSpace(code))
	obs.MFAVerification(ok)
	return ok
}

func (s *Service) verify(ctx context.Context, userID, code string) bool {
	if code == "" {
		return false
	}
	cred, err := s.store.Get(ctx, userID)
	if err != nil {
		if !errors.Is(err, ErrNotEnrolled) {
			obs.Ctx(ctx).Error().Err(err).Str("user_id", userID).Msg("mfa credential lookup failed")
		}
		return false
	}
	secret, err := s.sealer.Open(cred.Sealed)
	if err != nil {
		obs.Ctx(ctx).Error().Err(err).Str("user_id", userID).Msg("mfa credential unseal failed")
		return false
	}
	valid, err := totp.ValidateCustom(code, string(secret), s.now(), totp.ValidateOpts{
		Period:    codePeriod,
		Skew:      codeSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && valid
}
