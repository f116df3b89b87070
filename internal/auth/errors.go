package auth

import (
	"errors"
	"fmt"
)

var (
	// ErrUnauthenticated covers every failure to establish who is calling.
	ErrUnauthenticated = errors.New("auth: unauthenticated")
	// ErrInvalidToken is returned for any token that fails verification.
	ErrInvalidToken = fmt.Errorf("%w: invalid token", ErrUnauthenticated)
	// ErrValidation marks malformed input rejected before any state change.
	ErrValidation = errors.New("auth: validation failed")
)

// Refusal reasons carried by ForbiddenError.
const (
	ReasonMailboxForbidden       = "mailbox_forbidden"
	ReasonTimeForbidden          = "time_forbidden"
	ReasonInsufficientPermission = "insufficient_permission"
	ReasonMFARequired            = "mfa_required"
)

// ForbiddenError is an authenticated caller being refused. Reason is one of
// the Reason* codes and never names the grants that were missing.
type ForbiddenError struct {
	Reason string
}

func (e *ForbiddenError) Error() string {
	return "auth: forbidden: " + e.Reason
}

// Forbidden builds a ForbiddenError for reason.
func Forbidden(reason string) error {
	return &ForbiddenError{Reason: reason}
}

// ForbiddenReason extracts the refusal reason when err is a ForbiddenError.
func ForbiddenReason(err error) (string, bool) {
	var fe *ForbiddenError
	if errors.As(err, &fe) {
		return fe.Reason, true
	}
	return "", false
}

// Validationf wraps ErrValidation with a detail code such as "invalid_otp".
func Validationf(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrValidation, fmt.Sprintf(format, args...))
}
