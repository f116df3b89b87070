// Package audit writes security events to the structured log. The durable,
// tamper-evident record of user actions lives in the ledger package; these
// lines are for operators and alerting.
package audit

import (
	"context"
	"errors"
	"strings"

	"mailvault.org/internal/auth"
	"mailvault.org/internal/obs"
)

// Security event names.
const (
	EventLoginFailed       = "auth.login_failed"
	EventLoginSucceeded    = "auth.login_succeeded"
	EventMFAEnrolled       = "mfa.enrolled"
	EventMFAFailed         = "mfa.verification_failed"
	EventAccessDenied      = "authz.denied"
	EventAuditNotRecorded  = "ledger.not_recorded"
	EventIntegrityFailure  = "ledger.integrity_violation"
	EventImmutableRejected = "ledger.mutation_rejected"
	EventGrantAdded        = "grant.added"
	EventGrantRevoked      = "grant.revoked"
)

var warnEvents = map[string]bool{
	EventLoginFailed:       true,
	EventMFAFailed:         true,
	EventAccessDenied:      true,
	EventAuditNotRecorded:  true,
	EventIntegrityFailure:  true,
	EventImmutableRejected: true,
}

// LogEvent writes an audit log entry enriched with request and user context.
func LogEvent(ctx context.Context, event string, fields map[string]any) error {
	event = strings.TrimSpace(event)
	if event == "" {
		return errors.New("event name is required")
	}
	l := obs.Ctx(ctx)
	ev := l.Info()
	if warnEvents[event] {
		ev = l.Warn()
	}
	ev = ev.Str("type", "audit").Str("event", event)
	if p, ok := auth.PrincipalFromContext(ctx); ok {
		ev = ev.Str("user_id", p.User.ID).Strs("roles", p.User.Roles)
	}
	if fields == nil {
		fields = map[string]any{}
	}
	ev.Interface("fields", fields).Msg(event)
	return nil
}
