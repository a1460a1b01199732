package castellan

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/castellan-io/castellan/audit"
	"github.com/castellan-io/castellan/session"
)

// tokenMaterial is the plaintext form of the identity provider tokens
// sealed into the session record.
type tokenMaterial struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token,omitempty"`
}

// CreateSession opens a session for the user with the configured
// absolute lifetime. Verification flags start satisfied only for factors
// the user is not enrolled in; enrolled factors require an explicit
// challenge before the session counts as fully verified.
func (e *Engine) CreateSession(ctx context.Context, user *AuthUser, accessToken, refreshToken string) (*session.Session, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	snapshot, err := json.Marshal(user)
	if err != nil {
		return nil, fmt.Errorf("encode user snapshot: %w", err)
	}

	tokens, err := json.Marshal(tokenMaterial{AccessToken: accessToken, RefreshToken: refreshToken})
	if err != nil {
		return nil, fmt.Errorf("encode token material: %w", err)
	}
	sealed, err := e.crypto.Encrypt(ctx, tokens, "CONFIDENTIAL")
	if err != nil {
		return nil, err
	}

	now := e.now()
	sess := &session.Session{
		ID:                uuid.NewString(),
		UserID:            user.ID,
		User:              string(snapshot),
		EncryptedTokens:   sealed.Encode(),
		Clearance:         user.Clearance.String(),
		MFAVerified:       !user.MFAEnrolled,
		BiometricVerified: !user.BiometricEnrolled,
		Active:            true,
		CreatedAt:         now.Unix(),
		ExpiresAt:         now.Add(e.config.Session.Lifetime).Unix(),
	}

	ttl := e.config.Session.Lifetime + e.config.Session.IndexGrace
	if err := e.sessions.Save(ctx, sess, ttl); err != nil {
		e.record(ctx, audit.Event{
			UserID:   user.ID,
			Action:   "session_created",
			Resource: "session",
			Outcome:  audit.OutcomeFailure,
			Detail:   map[string]string{"reason": "store unavailable"},
		})
		return nil, fmt.Errorf("%w: %v", ErrSessionBackend, err)
	}

	e.record(ctx, audit.Event{
		UserID:   user.ID,
		Action:   "session_created",
		Resource: "session",
		Outcome:  audit.OutcomeSuccess,
		Detail: map[string]string{
			"session_id": sess.ID,
			"expires_at": strconv.FormatInt(sess.ExpiresAt, 10),
			"clearance":  sess.Clearance,
		},
	})
	e.metrics.SessionOpened()

	return sess, nil
}

// ValidateSession resolves a session id to its user snapshot. It returns
// (nil, nil) for unknown, inactive or expired sessions; expiry observed
// here transitions the session to invalidated before returning.
func (e *Engine) ValidateSession(ctx context.Context, sessionID string) (*AuthUser, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}

	sess, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		if err == session.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrSessionBackend, err)
	}

	if !sess.Active {
		return nil, nil
	}

	if sess.ExpiredAt(e.now()) {
		transitioned, err := e.sessions.Invalidate(ctx, sessionID)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrSessionBackend, err)
		}
		if transitioned {
			e.record(ctx, audit.Event{
				UserID:   sess.UserID,
				Action:   "session_expired",
				Resource: "session",
				Outcome:  audit.OutcomeDenied,
				Detail:   map[string]string{"session_id": sessionID},
			})
			e.metrics.SessionClosed()
		}
		return nil, nil
	}

	var user AuthUser
	if err := json.Unmarshal([]byte(sess.User), &user); err != nil {
		return nil, fmt.Errorf("decode user snapshot: %w", err)
	}
	return &user, nil
}

// Session returns the raw session record, including verification flags.
func (e *Engine) Session(ctx context.Context, sessionID string) (*session.Session, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	sess, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		if err == session.ErrNotFound {
			return nil, nil
		}
		return nil, fmt.Errorf("%w: %v", ErrSessionBackend, err)
	}
	return sess, nil
}

// InvalidateSession flips the session's liveness off. Idempotent: the
// audit entry is emitted exactly once, by the call that performed the
// transition.
func (e *Engine) InvalidateSession(ctx context.Context, sessionID string) error {
	if e == nil {
		return ErrEngineNotReady
	}

	transitioned, err := e.sessions.Invalidate(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSessionBackend, err)
	}
	if transitioned {
		e.record(ctx, audit.Event{
			Action:   "session_invalidated",
			Resource: "session",
			Outcome:  audit.OutcomeSuccess,
			Detail:   map[string]string{"session_id": sessionID},
		})
		e.metrics.SessionClosed()
	}
	return nil
}
