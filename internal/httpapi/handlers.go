// Package httpapi exposes authentication, access decisions and the audit
// ledger over HTTP, plus the gRPC health service.
package httpapi

import (
	"context"
	"net/http"
	"net/netip"
	"time"

	"github.com/go-chi/chi/v5"

	"mailvault.org/internal/access"
	"mailvault.org/internal/auth"
	"mailvault.org/internal/directory"
	"mailvault.org/internal/ledger"
	"mailvault.org/internal/mfa"
	"mailvault.org/internal/obs"
	"mailvault.org/internal/stream"
)

const serviceName = "mailvault-api"

// Readiness reports whether dependencies are reachable.
type Readiness interface {
	Check(ctx context.Context) error
}

// ReadyFunc adapts a ping function to Readiness. A nil func is always ready.
type ReadyFunc func(ctx context.Context) error

func (f ReadyFunc) Check(ctx context.Context) error {
	if f == nil {
		return nil
	}
	return f(ctx)
}

// Deps are the services the API dispatches to.
type Deps struct {
	Auth      *auth.Service
	Guard     *auth.Guard
	MFA       *mfa.Service
	Access    *access.Resolver
	Directory directory.Store
	Ledger    *ledger.Chain
	Feed      *stream.Hub
	Ready     Readiness
	Version   string
}

// API is the HTTP layer.
type API struct {
	Deps
	router       chi.Router
	maxBodyBytes int64
	rateBurst    int
	ratePerSec   float64
	proxies      []netip.Prefix
	now          func() time.Time
}

// Option configures API.
type Option func(*API)

// WithRateLimit sets the per-IP token bucket. A non-positive rate disables it.
func WithRateLimit(burst int, perSecond float64) Option {
	return func(a *API) {
		a.rateBurst = burst
		a.ratePerSec = perSecond
	}
}

// WithTrustedProxies names the peers allowed to supply X-Forwarded-For.
func WithTrustedProxies(prefixes []netip.Prefix) Option {
	return func(a *API) { a.proxies = prefixes }
}

// WithMaxBodyBytes caps request bodies.
func WithMaxBodyBytes(n int64) Option {
	return func(a *API) { a.maxBodyBytes = n }
}

// WithClock overrides the clock used for response timestamps.
func WithClock(fn func() time.Time) Option {
	return func(a *API) {
		if fn != nil {
			a.now = fn
		}
	}
}

func New(deps Deps, opts ...Option) *API {
	a := &API{
		Deps:         deps,
		maxBodyBytes: maxJSONBody,
		rateBurst:    20,
		ratePerSec:   10,
		now:          time.Now,
	}
	if a.Ready == nil {
		a.Ready = ReadyFunc(nil)
	}
	for _, opt := range opts {
		opt(a)
	}
	a.router = a.routes()
	return a
}

func (a *API) routes() chi.Router {
	r := chi.NewRouter()
	if len(a.proxies) > 0 {
		r.Use(TrustedProxies(a.proxies))
	}
	r.Use(RequestID, LoggingJSON, SecurityHeaders, CORS, MaxBodyBytes(a.maxBodyBytes))
	if a.ratePerSec > 0 {
		r.Use(RateLimit(a.rateBurst, a.ratePerSec))
	}
	r.Use(obs.Instrument, Immutable)

	r.Get("/healthz", a.Healthz)
	r.Get("/readyz", a.Readyz)
	r.Handle("/metrics", obs.Handler())

	r.Route("/v1", func(r chi.Router) {
		r.Post("/auth/token", a.handleLogin)
		r.Post("/mfa/enroll", a.guarded(auth.Requirement{}, a.handleMFAEnroll))
		r.Post("/mfa/verify", a.guarded(auth.Requirement{}, a.handleMFAVerify))
		r.Get("/me", a.guarded(auth.Requirement{}, a.handleMe))

		r.Post("/search/scope", a.guarded(auth.Requirement{Permission: auth.PermEmailSearch, RequireMFA: true}, a.handleSearchScope))
		r.Get("/emails/{id}/access", a.guarded(auth.Requirement{Permission: auth.PermEmailView}, a.handleEmailAccess))
		r.Post("/exports/authorize", a.guarded(auth.Requirement{Permission: auth.PermExportEmail, RequireMFA: true}, a.handleExportAuthorize))

		r.Get("/audit", a.guarded(auth.Requirement{Permission: auth.PermAuditRead, RequireMFA: true}, a.handleAuditList))
		r.Get("/audit/stream", a.guarded(auth.Requirement{Permission: auth.PermAuditRead, RequireMFA: true}, a.handleAuditStream))
		r.Get("/audit/{id}", a.guarded(auth.Requirement{Permission: auth.PermAuditRead, RequireMFA: true}, a.handleAuditGet))
		r.Post("/audit/verify", a.guarded(auth.Requirement{Permission: auth.PermAuditRead, RequireMFA: true}, a.handleAuditVerify))
	})

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeDetail(w, r, http.StatusNotFound, "not_found")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeDetail(w, r, http.StatusMethodNotAllowed, "method_not_allowed")
	})
	return r
}

// Handler returns the root http.Handler.
func (a *API) Handler() http.Handler { return a.router }

func (a *API) Healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":  "ok",
		"service": serviceName,
		"version": a.Version,
	})
}

func (a *API) Readyz(w http.ResponseWriter, r *http.Request) {
	if err := a.Ready.Check(r.Context()); err != nil {
		obs.Ctx(r.Context()).Warn().Err(err).Msg("readiness check failed")
		writeJSON(w, http.StatusServiceUnavailable, map[string]any{"status": "not_ready"})
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"status": "ready"})
}

// record appends an audit entry for the session's principal.
func (a *API) record(ctx context.Context, action string, params map[string]any, resultCount *int64, target string) error {
	rec := ledger.Record{
		Action:      action,
		Parameters:  params,
		ResultCount: resultCount,
		TargetID:    target,
	}
	if p, ok := auth.PrincipalFromContext(ctx); ok {
		rec.ActorID = p.User.ID
		rec.ActorRoles = p.User.RoleCodes()
	}
	_, err := a.Ledger.Append(ctx, rec)
	return err
}
