package httpapi

import (
	"errors"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/goccy/go-json"

	"mailvault.org/internal/audit"
	"mailvault.org/internal/auth"
	"mailvault.org/internal/directory"
	"mailvault.org/internal/ledger"
	"mailvault.org/internal/obs"
)

const maxJSONBody = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

// writeDetail writes the {"detail": ...} refusal body used for every client error.
func writeDetail(w http.ResponseWriter, r *http.Request, code int, detail string) {
	payload := map[string]any{"detail": detail}
	if rid := obs.RequestIDFromContext(r.Context()); rid != "" {
		payload["request_id"] = rid
	}
	writeJSON(w, code, payload)
}

// decodeJSON reads exactly one JSON object into dst and validates it.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	reader := http.MaxBytesReader(w, r.Body, maxJSONBody)
	defer reader.Close()
	dec := json.NewDecoder(reader)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return auth.Validationf("request body is required")
		}
		return auth.Validationf("malformed_body")
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		return auth.Validationf("malformed_body")
	}
	if err := validate.Struct(dst); err != nil {
		return auth.Validationf("%s", validationDetail(err))
	}
	return nil
}

func validationDetail(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return "invalid_request"
	}
	fe := verrs[0]
	if fe.Tag() == "gtefield" {
		return "invalid_time_range"
	}
	return "invalid_" + fe.Field()
}

// detailOf strips the sentinel prefix from a validation error.
func detailOf(err error) string {
	msg := err.Error()
	if i := strings.Index(msg, auth.ErrValidation.Error()+": "); i >= 0 {
		return msg[i+len(auth.ErrValidation.Error())+2:]
	}
	return "invalid_request"
}

// handleError maps domain errors onto status codes. Server faults are logged
// and answered without detail.
func handleError(w http.ResponseWriter, r *http.Request, err error) {
	if reason, ok := auth.ForbiddenReason(err); ok {
		_ = audit.LogEvent(r.Context(), audit.EventAccessDenied, map[string]any{
			"reason": reason,
			"path":   r.URL.Path,
		})
		writeDetail(w, r, http.StatusForbidden, reason)
		return
	}
	switch {
	case errors.Is(err, auth.ErrInvalidCredentials):
		_ = audit.LogEvent(r.Context(), audit.EventLoginFailed, nil)
		writeDetail(w, r, http.StatusUnauthorized, "invalid_credentials")
	case errors.Is(err, auth.ErrUnauthenticated):
		writeDetail(w, r, http.StatusUnauthorized, "invalid_token")
	case errors.Is(err, auth.ErrValidation):
		writeDetail(w, r, http.StatusBadRequest, detailOf(err))
	case errors.Is(err, ledger.ErrInvalidRecord):
		writeDetail(w, r, http.StatusBadRequest, "invalid_record")
	case errors.Is(err, directory.ErrNotFound), errors.Is(err, ledger.ErrNotFound):
		writeDetail(w, r, http.StatusNotFound, "not_found")
	case errors.Is(err, ledger.ErrNotRecorded):
		_ = audit.LogEvent(r.Context(), audit.EventAuditNotRecorded, map[string]any{"path": r.URL.Path})
		writeDetail(w, r, http.StatusInternalServerError, "audit_unavailable")
	default:
		obs.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		writeDetail(w, r, http.StatusInternalServerError, "internal_error")
	}
}
