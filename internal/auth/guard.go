package auth

import (
	"context"
	"errors"
	"time"

	"mailvault.org/internal/obs"
)

// PrincipalLoader resolves the principal behind verified claims.
type PrincipalLoader interface {
	PrincipalForClaims(ctx context.Context, claims *Claims) (Principal, error)
}

// Requirement is what an action demands from its caller. An empty
// Permission only requires authentication.
type Requirement struct {
	Permission string
	RequireMFA bool
}

// Session is an authenticated caller: the verified claims plus the principal
// they resolve to.
type Session struct {
	Principal Principal
	Claims    *Claims
}

// Guard gates actions on authentication, permission and MFA freshness.
type Guard struct {
	tokens     *TokenService
	principals PrincipalLoader
	now        func() time.Time
}

func NewGuard(tokens *TokenService, principals PrincipalLoader) *Guard {
	return &Guard{tokens: tokens, principals: principals, now: tokens.now}
}

// Authenticate verifies the bearer token and loads its principal.
func (g *Guard) Authenticate(ctx context.Context, bearer string) (Session, error) {
	claims, err := g.tokens.Verify(bearer)
	if err != nil {
		return Session{}, ErrInvalidToken
	}
	p, err := g.principals.PrincipalForClaims(ctx, claims)
	if err != nil {
		if errors.Is(err, ErrUnauthenticated) {
			return Session{}, ErrInvalidToken
		}
		return Session{}, err
	}
	return Session{Principal: p, Claims: claims}, nil
}

// Authorize authenticates bearer and checks req against the resulting session.
func (g *Guard) Authorize(ctx context.Context, bearer string, req Requirement) (Session, error) {
	s, err := g.Authenticate(ctx, bearer)
	if err != nil {
		return Session{}, err
	}
	if err := g.Check(s, req); err != nil {
		return Session{}, err
	}
	return s, nil
}

// Check applies the permission test before the MFA test.
func (g *Guard) Check(s Session, req Requirement) error {
	if req.Permission != "" && !s.Principal.HasPermission(req.Permission) {
		obs.AuthzDenied(ReasonInsufficientPermission)
		return Forbidden(ReasonInsufficientPermission)
	}
	if req.RequireMFA && !s.Claims.MFAFresh(g.now()) {
		obs.AuthzDenied(ReasonMFARequired)
		return Forbidden(ReasonMFARequired)
	}
	return nil
}
