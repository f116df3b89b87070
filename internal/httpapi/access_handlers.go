package httpapi

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"mailvault.org/internal/access"
	"mailvault.org/internal/auth"
	"mailvault.org/internal/ids"
)

type searchScopeRequest struct {
	TimeStart    time.Time `json:"time_start" validate:"required"`
	TimeEnd      time.Time `json:"time_end" validate:"required,gtefield=TimeStart"`
	Departments  []string  `json:"departments,omitempty" validate:"omitempty,dive,required"`
	Participants []string  `json:"participants,omitempty" validate:"omitempty,dive,email"`
	Subject      string    `json:"subject,omitempty" validate:"max=512"`
	Keywords     string    `json:"keywords,omitempty" validate:"max=1024"`
	Fuzzy        bool      `json:"fuzzy"`
	Page         int       `json:"page,omitempty" validate:"omitempty,min=1"`
	Size         int       `json:"size,omitempty" validate:"omitempty,min=1,max=200"`
}

func (req *searchScopeRequest) applyDefaults() {
	if req.Page == 0 {
		req.Page = 1
	}
	if req.Size == 0 {
		req.Size = 50
	}
}

// params is the audited form of the request.
func (req searchScopeRequest) params() map[string]any {
	out := map[string]any{
		"time_start": req.TimeStart,
		"time_end":   req.TimeEnd,
		"fuzzy":      req.Fuzzy,
		"page":       req.Page,
		"size":       req.Size,
	}
	if len(req.Departments) > 0 {
		out["departments"] = req.Departments
	}
	if len(req.Participants) > 0 {
		out["participants"] = req.Participants
	}
	if req.Subject != "" {
		out["subject"] = req.Subject
	}
	if req.Keywords != "" {
		out["keywords"] = req.Keywords
	}
	return out
}

type searchScopeResponse struct {
	Tags         []string  `json:"access_tags"`
	Unrestricted bool      `json:"unrestricted"`
	TimeStart    time.Time `json:"time_start"`
	TimeEnd      time.Time `json:"time_end"`
	Page         int       `json:"page"`
	Size         int       `json:"size"`
}

// handleSearchScope returns the access tags the search collaborator must
// filter on. The search itself runs elsewhere.
func (a *API) handleSearchScope(w http.ResponseWriter, r *http.Request) {
	var req searchScopeRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleError(w, r, err)
		return
	}
	req.applyDefaults()
	p, _ := auth.PrincipalFromContext(r.Context())

	tags, err := a.Access.ResolveTags(r.Context(), p, &access.TimeRange{Start: req.TimeStart, End: req.TimeEnd})
	if err != nil {
		handleError(w, r, err)
		return
	}
	if err := a.record(r.Context(), ActionEmailSearch, req.params(), nil, ""); err != nil {
		handleError(w, r, err)
		return
	}
	unrestricted := false
	for _, t := range tags {
		if t == access.WildcardTag {
			unrestricted = true
		}
	}
	writeJSON(w, http.StatusOK, searchScopeResponse{
		Tags:         tags,
		Unrestricted: unrestricted,
		TimeStart:    req.TimeStart.UTC(),
		TimeEnd:      req.TimeEnd.UTC(),
		Page:         req.Page,
		Size:         req.Size,
	})
}

func (a *API) handleEmailAccess(w http.ResponseWriter, r *http.Request) {
	emailID := chi.URLParam(r, "id")
	p, _ := auth.PrincipalFromContext(r.Context())

	email, err := a.Directory.Email(r.Context(), emailID)
	if err != nil {
		handleError(w, r, err)
		return
	}
	if err := a.Access.EnsureEmailAccess(r.Context(), p, email); err != nil {
		handleError(w, r, err)
		return
	}
	if err := a.Access.EnsureTimeScope(r.Context(), p, email.ReceivedAt); err != nil {
		handleError(w, r, err)
		return
	}
	if err := a.record(r.Context(), ActionEmailView, map[string]any{"email_id": email.ID}, nil, email.ID); err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"email_id":    email.ID,
		"mailbox_id":  email.MailboxID,
		"received_at": email.ReceivedAt.UTC(),
		"allowed":     true,
	})
}

type exportRequest struct {
	MailboxID string    `json:"mailbox_id" validate:"required"`
	TimeStart time.Time `json:"time_start" validate:"required"`
	TimeEnd   time.Time `json:"time_end" validate:"required,gtefield=TimeStart"`
}

// handleExportAuthorize approves an export and hands back the job id the
// export worker builds under.
func (a *API) handleExportAuthorize(w http.ResponseWriter, r *http.Request) {
	var req exportRequest
	if err := decodeJSON(w, r, &req); err != nil {
		handleError(w, r, err)
		return
	}
	p, _ := auth.PrincipalFromContext(r.Context())

	if err := a.Access.EnsureMailboxAccess(r.Context(), p, req.MailboxID); err != nil {
		handleError(w, r, err)
		return
	}
	if _, err := a.Directory.Mailbox(r.Context(), req.MailboxID); err != nil {
		handleError(w, r, err)
		return
	}
	if err := a.Access.EnsureTimeScope(r.Context(), p, req.TimeStart); err != nil {
		handleError(w, r, err)
		return
	}
	jobID := ids.NewAt(a.now())
	params := map[string]any{
		"job_id":     jobID,
		"mailbox_id": req.MailboxID,
		"time_start": req.TimeStart,
		"time_end":   req.TimeEnd,
	}
	if err := a.record(r.Context(), ActionExportRequest, params, nil, req.MailboxID); err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"job_id":     jobID,
		"mailbox_id": req.MailboxID,
		"time_start": req.TimeStart.UTC(),
		"time_end":   req.TimeEnd.UTC(),
	})
}
