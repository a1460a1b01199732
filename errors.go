package castellan

import (
	"errors"
	"fmt"
)

var (
	// ErrEngineNotReady is returned when a method is invoked on a nil or
	// unbuilt engine.
	ErrEngineNotReady = errors.New("engine not ready")
	// ErrRedisRequired is returned by Build when no Redis client was
	// supplied.
	ErrRedisRequired = errors.New("redis client required")
	// ErrMFAMethodInvalid rejects unknown MFA methods.
	ErrMFAMethodInvalid = errors.New("invalid mfa method")
	// ErrModalityInvalid rejects unknown biometric modalities.
	ErrModalityInvalid = errors.New("invalid biometric modality")
	// ErrMFARateLimited is returned when verification attempts against a
	// user exceed the failure budget.
	ErrMFARateLimited = errors.New("mfa verification rate limited")
	// ErrSessionBackend wraps session store transport failures.
	ErrSessionBackend = errors.New("session backend unavailable")
)

// AuthenticationError reports a failed external identity exchange or
// session resolution. The message is deliberately generic; Stage and the
// wrapped error are for the audit trail, not end users.
type AuthenticationError struct {
	Stage string
	Err   error
}

func (e *AuthenticationError) Error() string {
	return "authentication failed"
}

func (e *AuthenticationError) Unwrap() error {
	return e.Err
}

// MFAFailureKind distinguishes challenge verification failures for
// correct user messaging.
type MFAFailureKind string

const (
	MFAChallengeNotFound  MFAFailureKind = "not_found"
	MFAChallengeExpired   MFAFailureKind = "expired"
	MFAChallengeExhausted MFAFailureKind = "exhausted"
	MFACodeMismatch       MFAFailureKind = "code_mismatch"
	MFAUnavailable        MFAFailureKind = "unavailable"
)

// MFAError reports why a challenge verification failed. Remaining is the
// attempt budget left; the correct code is never revealed.
type MFAError struct {
	Kind      MFAFailureKind
	Remaining int
}

func (e *MFAError) Error() string {
	if e.Kind == MFACodeMismatch {
		return fmt.Sprintf("mfa verification failed: %s (%d attempts remaining)", e.Kind, e.Remaining)
	}
	return "mfa verification failed: " + string(e.Kind)
}

// BiometricMismatchError reports a failed biometric verification:
// either no enrollment or similarity below the acceptance threshold.
// The two reasons share one user-visible message.
type BiometricMismatchError struct {
	Reason string
}

func (e *BiometricMismatchError) Error() string {
	return "biometric verification failed"
}
