package httpapi

import (
	"net/http"
	"time"

	"mailvault.org/internal/audit"
	"mailvault.org/internal/auth"
)

// Ledger actions recorded by the HTTP layer.
const (
	ActionLogin         = "LOGIN"
	ActionMFAEnroll     = "MFA_ENROLL"
	ActionMFAVerify     = "MFA_VERIFY"
	ActionEmailSearch   = "EMAIL_SEARCH"
	ActionEmailView     = "EMAIL_VIEW"
	ActionExportRequest = "EXPORT_REQUEST"
)

type loginRequest struct {
	Username string `json:"username" validate:"required,max=150"`
	Password string `json:"password" validate:"required"`
	OTP      string `json:"otp" validate:"omitempty,numeric,len=6"`
}

type tokenResponse struct {
	Token            string     `json:"token,omitempty"`
	ExpiresAt        *time.Time `json:"expires_at,omitempty"`
	MFARequired      bool       `json:"mfa_required"`
	Reason           string     `json:"reason,omitempty"`
	MFAVerifiedUntil *time.Time `json:"mfa_verified_until,omitempty"`
}

func toTokenResponse(res auth.LoginResult) tokenResponse {
	out := tokenResponse{
		Token:            res.Token,
		MFARequired:      res.MFARequired,
		Reason:           res.Reason,
		MFAVerifiedUntil: res.MFAVerifiedUntil,
	}
	if !res.ExpiresAt.IsZero() {
		exp := res.ExpiresAt
		out.ExpiresAt = &exp
	}
	return out
}

func (a *API) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleError(w, r, err)
		return
	}
	res, err := a.Auth.Login(r.Context(), auth.LoginRequest{
		Username: req.Username,
		Password: req.Password,
		OTP:      req.OTP,
	})
	if err != nil {
		handleError(w, r, err)
		return
	}

	ctx := auth.ContextWithSession(r.Context(), auth.Session{Principal: res.Principal})
	if err := a.record(ctx, ActionLogin, map[string]any{"mfa_required": res.MFARequired}, nil, ""); err != nil {
		handleError(w, r, err)
		return
	}
	_ = audit.LogEvent(ctx, audit.EventLoginSucceeded, map[string]any{"mfa_required": res.MFARequired})

	code := http.StatusOK
	if res.MFARequired {
		code = http.StatusAccepted
	}
	writeJSON(w, code, toTokenResponse(res))
}

func (a *API) handleMFAEnroll(w http.ResponseWriter, r *http.Request) {
	p, _ := auth.PrincipalFromContext(r.Context())
	uri, err := a.MFA.Enroll(r.Context(), p.User)
	if err != nil {
		handleError(w, r, err)
		return
	}
	if err := a.record(r.Context(), ActionMFAEnroll, map[string]any{}, nil, ""); err != nil {
		handleError(w, r, err)
		return
	}
	_ = audit.LogEvent(r.Context(), audit.EventMFAEnrolled, nil)
	writeJSON(w, http.StatusCreated, map[string]any{"provisioning_uri": uri})
}

type mfaVerifyRequest struct {
	OTP string `json:"otp" validate:"required"`
}

func (a *API) handleMFAVerify(w http.ResponseWriter, r *http.Request) {
	var req mfaVerifyRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleError(w, r, err)
		return
	}
	p, _ := auth.PrincipalFromContext(r.Context())
	res, err := a.Auth.StepUp(r.Context(), p, req.OTP)
	if err != nil {
		_ = audit.LogEvent(r.Context(), audit.EventMFAFailed, nil)
		handleError(w, r, err)
		return
	}
	if err := a.record(r.Context(), ActionMFAVerify, map[string]any{}, nil, ""); err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toTokenResponse(res))
}

type meResponse struct {
	ID          string     `json:"id"`
	Username    string     `json:"username"`
	Email       string     `json:"email"`
	Roles       []string   `json:"roles"`
	Department  string     `json:"department"`
	Permissions []string   `json:"permissions"`
	Superuser   bool       `json:"superuser"`
	MFAEnrolled bool       `json:"mfa_enrolled"`
	MFAVerified bool       `json:"mfa_verified"`
	LastLoginAt *time.Time `json:"last_login_at,omitempty"`
}

func (a *API) handleMe(w http.ResponseWriter, r *http.Request) {
	s, _ := auth.SessionFromContext(r.Context())
	p := s.Principal
	enrolled, err := a.MFA.Enrolled(r.Context(), p.User.ID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	roles := p.User.Roles
	if roles == nil {
		roles = []string{}
	}
	writeJSON(w, http.StatusOK, meResponse{
		ID:          p.User.ID,
		Username:    p.User.Username,
		Email:       p.User.Email,
		Roles:       roles,
		Department:  p.Department.Path,
		Permissions: p.PermissionList(),
		Superuser:   p.User.Superuser,
		MFAEnrolled: enrolled,
		MFAVerified: s.Claims != nil && s.Claims.MFAFresh(a.now()),
		LastLoginAt: p.User.LastLoginAt,
	})
}
