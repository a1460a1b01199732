package castellan

import (
	"context"
	"time"

	"github.com/castellan-io/castellan/permission"
)

// Clearance re-exports the ordered classification level.
type Clearance = permission.Clearance

// AuthUser is an authenticated principal: an immutable snapshot
// constructed once per successful identity exchange and re-derived on
// each login, never mutated in place.
type AuthUser struct {
	ID                string    `json:"id"`
	Email             string    `json:"email"`
	Name              string    `json:"name"`
	Roles             []string  `json:"roles"`
	Clearance         Clearance `json:"clearance"`
	Department        string    `json:"department"`
	Permissions       []string  `json:"permissions"`
	MFAEnrolled       bool      `json:"mfa_enrolled"`
	BiometricEnrolled bool      `json:"biometric_enrolled"`
}

// PermissionSet rebuilds the set form of the snapshot's permissions.
func (u *AuthUser) PermissionSet() permission.Set {
	set := make(permission.Set, len(u.Permissions))
	for _, p := range u.Permissions {
		set[p] = struct{}{}
	}
	return set
}

// HasPermission reports whether the principal holds the permission,
// honoring the administrative wildcard.
func (u *AuthUser) HasPermission(perm string) bool {
	return permission.HasPermission(u.PermissionSet(), perm)
}

// HasClearance reports whether the principal's clearance rank satisfies
// the required level.
func (u *AuthUser) HasClearance(required Clearance) bool {
	return permission.HasClearance(u.Clearance, required)
}

// MFAMethod identifies the second factor backing a challenge.
type MFAMethod string

const (
	MethodTOTP  MFAMethod = "totp"
	MethodSMS   MFAMethod = "sms"
	MethodEmail MFAMethod = "email"
	MethodPush  MFAMethod = "push"
)

func (m MFAMethod) valid() bool {
	switch m {
	case MethodTOTP, MethodSMS, MethodEmail, MethodPush:
		return true
	}
	return false
}

// outOfBand reports whether codes for the method are delivered through
// an external channel.
func (m MFAMethod) outOfBand() bool {
	return m == MethodSMS || m == MethodEmail || m == MethodPush
}

// Modality identifies a biometric capture type.
type Modality string

const (
	ModalityFingerprint Modality = "fingerprint"
	ModalityFace        Modality = "face"
	ModalityVoice       Modality = "voice"
	ModalityRetina      Modality = "retina"
)

func (m Modality) valid() bool {
	switch m {
	case ModalityFingerprint, ModalityFace, ModalityVoice, ModalityRetina:
		return true
	}
	return false
}

// MFAChallenge is the caller-visible view of a pending second-factor
// proof. The correct code is never part of it.
type MFAChallenge struct {
	ID          string    `json:"id"`
	UserID      string    `json:"user_id"`
	Method      MFAMethod `json:"method"`
	ExpiresAt   time.Time `json:"expires_at"`
	Attempts    int       `json:"attempts"`
	MaxAttempts int       `json:"max_attempts"`
}

// LoginResult is the outcome of a completed OAuth callback.
type LoginResult struct {
	User        *AuthUser `json:"user"`
	SessionID   string    `json:"session_id"`
	BearerToken string    `json:"bearer_token"`
	// MFARequired and BiometricRequired report which verifications the
	// session still needs before it is fully verified.
	MFARequired       bool `json:"mfa_required"`
	BiometricRequired bool `json:"biometric_required"`
}

// UserSecrets resolves per-user MFA enrollment material. TOTP secrets are
// provisioned by the surrounding system; the engine only consumes them.
type UserSecrets interface {
	// TOTPSecret returns the user's base32 TOTP secret, or an error when
	// the user has no TOTP enrollment.
	TOTPSecret(ctx context.Context, userID string) (string, error)
}

// SimilarityFunc scores two biometric templates in [0,1]. The engine
// fixes only the accept/reject contract around the score; production
// deployments inject a real matcher.
type SimilarityFunc func(stored, presented []byte) float64

// DefaultSimilarity is a stand-in matcher: the fraction of positions at
// which the two templates agree, over the longer length. It is NOT a
// biometric algorithm; replace it via [Builder.WithSimilarity].
func DefaultSimilarity(stored, presented []byte) float64 {
	longest := len(stored)
	if len(presented) > longest {
		longest = len(presented)
	}
	if longest == 0 {
		return 0
	}

	shortest := len(stored)
	if len(presented) < shortest {
		shortest = len(presented)
	}

	matches := 0
	for i := 0; i < shortest; i++ {
		if stored[i] == presented[i] {
			matches++
		}
	}
	return float64(matches) / float64(longest)
}
