package auth

import "context"

type sessionContextKey struct{}

// ContextWithSession attaches the authenticated session to the context.
func ContextWithSession(ctx context.Context, s Session) context.Context {
	return context.WithValue(ctx, sessionContextKey{}, &s)
}

// SessionFromContext extracts the authenticated session from the context.
func SessionFromContext(ctx context.Context) (Session, bool) {
	if ctx == nil {
		return Session{}, false
	}
	v, ok := ctx.Value(sessionContextKey{}).(*Session)
	if !ok || v == nil {
		return Session{}, false
	}
	return *v, true
}

// PrincipalFromContext returns the principal of the attached session.
func PrincipalFromContext(ctx context.Context) (Principal, bool) {
	s, ok := SessionFromContext(ctx)
	if !ok {
		return Principal{}, false
	}
	return s.Principal, true
}
