package httpapi

import (
	"net/http"
	"strings"

	"mailvault.org/internal/auth"
	"mailvault.org/internal/obs"
)

const (
	authHeader = "Authorization"
	bearer     = "Bearer "
)

// guarded authenticates the bearer token and enforces req before next runs.
// The session is stored in the request context.
func (a *API) guarded(req auth.Requirement, next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		token, ok := extractBearerToken(r.Header.Get(authHeader))
		if !ok {
			handleError(w, r, auth.ErrUnauthenticated)
			return
		}
		s, err := a.Guard.Authenticate(r.Context(), token)
		if err != nil {
			handleError(w, r, err)
			return
		}
		ctx := auth.ContextWithSession(r.Context(), s)
		ctx = obs.WithUserID(ctx, s.Principal.User.ID)
		r = r.WithContext(ctx)
		if err := a.Guard.Check(s, req); err != nil {
			handleError(w, r, err)
			return
		}
		next(w, r)
	}
}

func extractBearerToken(header string) (string, bool) {
	header = strings.TrimSpace(header)
	if len(header) < len(bearer) || !strings.EqualFold(header[:len(bearer)], bearer) {
		return "", false
	}
	token := strings.TrimSpace(header[len(bearer):])
	return token, token != ""
}
