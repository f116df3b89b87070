package httpapi

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"mailvault.org/internal/audit"
	"mailvault.org/internal/auth"
	"mailvault.org/internal/ledger"
)

type auditListResponse struct {
	Results []ledger.Entry `json:"results"`
	Limit   int            `json:"limit"`
	Offset  int            `json:"offset"`
}

func (a *API) handleAuditList(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	limit, err := parseNonNegativeInt(q.Get("limit"), "invalid_limit")
	if err != nil {
		handleError(w, r, err)
		return
	}
	offset, err := parseNonNegativeInt(q.Get("offset"), "invalid_offset")
	if err != nil {
		handleError(w, r, err)
		return
	}
	f := ledger.Filter{
		ActorID: q.Get("actor"),
		Action:  q.Get("action"),
		Limit:   limit,
		Offset:  offset,
	}.Normalize()

	entries, err := a.Ledger.List(r.Context(), f)
	if err != nil {
		handleError(w, r, err)
		return
	}
	if entries == nil {
		entries = []ledger.Entry{}
	}
	writeJSON(w, http.StatusOK, auditListResponse{Results: entries, Limit: f.Limit, Offset: f.Offset})
}

func (a *API) handleAuditGet(w http.ResponseWriter, r *http.Request) {
	e, err := a.Ledger.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		handleError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, e)
}

// handleAuditVerify walks the whole chain. A broken chain answers 409 with
// the first failing entry; nothing is repaired.
func (a *API) handleAuditVerify(w http.ResponseWriter, r *http.Request) {
	report, err := a.Ledger.Verify(r.Context())
	var ierr *ledger.IntegrityError
	switch {
	case errors.As(err, &ierr):
		_ = audit.LogEvent(r.Context(), audit.EventIntegrityFailure, map[string]any{
			"entry_id": ierr.EntryID,
			"seq":      ierr.Seq,
			"kind":     ierr.Kind,
		})
		writeJSON(w, http.StatusConflict, map[string]any{
			"valid":    false,
			"entry_id": ierr.EntryID,
			"seq":      ierr.Seq,
			"kind":     ierr.Kind,
			"checked":  report.Entries,
		})
	case err != nil:
		handleError(w, r, err)
	default:
		writeJSON(w, http.StatusOK, map[string]any{
			"valid":   true,
			"entries": report.Entries,
			"head":    report.Head,
		})
	}
}

func parseNonNegativeInt(raw, detail string) (int, error) {
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, auth.Validationf("%s", detail)
	}
	return n, nil
}
