package auth

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"mailvault.org/internal/ids"
)

const (
	defaultIssuer   = "mail-archive"
	defaultAudience = "mail-archive-clients"
	defaultTokenTTL = 30 * time.Minute
	minSecretLength = 32
)

// Claims are the signed contents of an access token.
type Claims struct {
	Username         string           `json:"username"`
	Roles            []string         `json:"roles"`
	MFAVerified      bool             `json:"mfa_verified"`
	MFAVerifiedUntil *jwt.NumericDate `json:"mfa_verified_until,omitempty"`
	jwt.RegisteredClaims
}

// MFAFresh reports whether the step-up window is still open at now.
func (c *Claims) MFAFresh(now time.Time) bool {
	if c == nil || !c.MFAVerified {
		return false
	}
	return c.MFAVerifiedUntil == nil || c.MFAVerifiedUntil.Time.After(now)
}

// TokenService issues and verifies HS256 access tokens.
type TokenService struct {
	secret   []byte
	issuer   string
	audience string
	ttl      time.Duration
	now      func() time.Time
}

// TokenOption configures TokenService.
type TokenOption func(*TokenService) error

// WithIssuer overrides the iss claim.
func WithIssuer(issuer string) TokenOption {
	return func(s *TokenService) error {
		if issuer = strings.TrimSpace(issuer); issuer != "" {
			s.issuer = issuer
		}
		return nil
	}
}

// WithAudience overrides the aud claim.
func WithAudience(aud string) TokenOption {
	return func(s *TokenService) error {
		if aud = strings.TrimSpace(aud); aud != "" {
			s.audience = aud
		}
		return nil
	}
}

// WithTokenTTL configures access token lifetime.
func WithTokenTTL(ttl time.Duration) TokenOption {
	return func(s *TokenService) error {
		if ttl < 0 {
			return errors.New("auth: token ttl must not be negative")
		}
		if ttl > 0 {
			s.ttl = ttl
		}
		return nil
	}
}

// WithTokenClock overrides the time source.
func WithTokenClock(fn func() time.Time) TokenOption {
	return func(s *TokenService) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewTokenService constructs a TokenService signing with secret.
func NewTokenService(secret string, opts ...TokenOption) (*TokenService, error) {
	if len(secret) < minSecretLength {
		return nil, fmt.Errorf("auth: signing secret must be at least %d bytes", minSecretLength)
	}
	s := &TokenService{
		secret:   []byte(secret),
		issuer:   defaultIssuer,
		audience: defaultAudience,
		ttl:      defaultTokenTTL,
		now:      time.Now,
	}
	for _, opt := range opts {
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// TTL returns the configured token lifetime.
func (s *TokenService) TTL() time.Duration { return s.ttl }

// Issue signs a token for p. mfaVerified is set only when mfaUntil lies in the future.
func (s *TokenService) Issue(p Principal, mfaUntil *time.Time) (string, time.Time, error) {
	if strings.TrimSpace(p.User.ID) == "" {
		return "", time.Time{}, Validationf("user id is required")
	}
	now := s.now().UTC()
	exp := now.Add(s.ttl)
	claims := Claims{
		Username: p.User.Username,
		Roles:    append([]string(nil), p.User.Roles...),
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    s.issuer,
			Audience:  jwt.ClaimStrings{s.audience},
			Subject:   p.User.ID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
			ID:        ids.NewAt(now),
		},
	}
	if mfaUntil != nil {
		claims.MFAVerifiedUntil = jwt.NewNumericDate(mfaUntil.UTC())
		claims.MFAVerified = mfaUntil.After(now)
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return signed, exp, nil
}

// Verify checks signature, issuer, audience and expiry. Every failure is
// reported as ErrInvalidToken.
func (s *TokenService) Verify(token string) (*Claims, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, ErrInvalidToken
	}
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(s.issuer),
		jwt.WithAudience(s.audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.now),
	)
	claims := &Claims{}
	parsed, err := parser.ParseWithClaims(token, claims, func(*jwt.Token) (any, error) {
		return s.secret, nil
	})
	if err != nil || !parsed.Valid {
		return nil, ErrInvalidToken
	}
	if strings.TrimSpace(claims.Subject) == "" {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
