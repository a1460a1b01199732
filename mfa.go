package castellan

import (
	"context"
	"crypto/subtle"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"

	"github.com/castellan-io/castellan/audit"
	"github.com/castellan-io/castellan/internal"
	"github.com/castellan-io/castellan/internal/delivery"
	"github.com/castellan-io/castellan/internal/rate"
	"github.com/castellan-io/castellan/internal/stores"
	"github.com/castellan-io/castellan/session"
)

const mfaRateScope = "mfa"

// InitiateChallenge opens a second-factor challenge for the user. For
// out-of-band methods the code is generated here, hashed into the stored
// challenge and handed to the delivery pool; the plaintext never leaves
// this call. For totp no code is generated: verification runs against
// the user's enrolled secret.
func (e *Engine) InitiateChallenge(ctx context.Context, userID string, method MFAMethod) (*MFAChallenge, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if !method.valid() {
		return nil, ErrMFAMethodInvalid
	}
	if method == MethodTOTP && e.secrets == nil {
		return nil, fmt.Errorf("%w: totp requires a user secrets source", ErrMFAMethodInvalid)
	}
	if method.outOfBand() && e.delivery == nil {
		return nil, fmt.Errorf("%w: no delivery sender configured for %s", ErrMFAMethodInvalid, method)
	}

	now := e.now()
	ch := &stores.Challenge{
		ID:          uuid.NewString(),
		UserID:      userID,
		Method:      string(method),
		ExpiresAt:   now.Add(e.config.MFA.ChallengeTTL).Unix(),
		Attempts:    0,
		MaxAttempts: e.config.MFA.MaxAttempts,
	}

	var code string
	if method.outOfBand() {
		var err error
		code, err = internal.NewOTP(e.config.MFA.CodeDigits)
		if err != nil {
			return nil, fmt.Errorf("generate challenge code: %w", err)
		}
		ch.CodeHash = e.crypto.Hash([]byte(code))
	}

	// TTL holds the hash past logical expiry so lazy expiry can still
	// classify the challenge as expired rather than not-found.
	if err := e.challenges.Save(ctx, ch, e.config.MFA.ChallengeTTL*2); err != nil {
		return nil, err
	}

	if method.outOfBand() {
		e.delivery.Enqueue(delivery.Job{
			UserID:      userID,
			ChallengeID: ch.ID,
			Method:      ch.Method,
			Code:        code,
		})
	}

	e.record(ctx, audit.Event{
		UserID:   userID,
		Action:   "mfa_challenge_initiated",
		Resource: "mfa_challenge",
		Outcome:  audit.OutcomeSuccess,
		Detail: map[string]string{
			"challenge_id": ch.ID,
			"method":       ch.Method,
		},
	})

	return &MFAChallenge{
		ID:          ch.ID,
		UserID:      ch.UserID,
		Method:      method,
		ExpiresAt:   now.Add(e.config.MFA.ChallengeTTL),
		Attempts:    ch.Attempts,
		MaxAttempts: ch.MaxAttempts,
	}, nil
}

// VerifyChallenge checks the presented code against the pending
// challenge. On success every active session of the user gains the MFA
// verification flag. Terminal failures (expiry, exhaustion) consume the
// challenge; a wrong code burns one attempt from the budget.
func (e *Engine) VerifyChallenge(ctx context.Context, challengeID, code string) (bool, error) {
	if e == nil {
		return false, ErrEngineNotReady
	}

	now := e.now()
	ch, err := e.challenges.Get(ctx, challengeID, now)
	if err != nil {
		switch {
		case errors.Is(err, stores.ErrChallengeNotFound):
			e.recordMFAFailure(ctx, "", challengeID, string(MFAChallengeNotFound))
			return false, &MFAError{Kind: MFAChallengeNotFound}
		case errors.Is(err, stores.ErrChallengeExpired):
			e.recordMFAFailure(ctx, "", challengeID, string(MFAChallengeExpired))
			return false, &MFAError{Kind: MFAChallengeExpired}
		case errors.Is(err, stores.ErrChallengeExhausted):
			e.recordMFAFailure(ctx, "", challengeID, string(MFAChallengeExhausted))
			return false, &MFAError{Kind: MFAChallengeExhausted}
		}
		return false, err
	}

	if err := e.limiter.Check(ctx, mfaRateScope, ch.UserID); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			e.recordMFAFailure(ctx, ch.UserID, challengeID, "rate_limited")
			return false, ErrMFARateLimited
		}
		return false, err
	}

	attempts, err := e.challenges.IncrementAttempts(ctx, challengeID)
	if err != nil {
		if errors.Is(err, stores.ErrChallengeNotFound) {
			e.recordMFAFailure(ctx, ch.UserID, challengeID, string(MFAChallengeNotFound))
			return false, &MFAError{Kind: MFAChallengeNotFound}
		}
		return false, err
	}

	ok, err := e.codeMatches(ctx, ch, code)
	if err != nil {
		return false, err
	}

	if ok {
		if _, err := e.sessions.SetFlagForUser(ctx, ch.UserID, session.FlagMFAVerified); err != nil {
			return false, fmt.Errorf("%w: %v", ErrSessionBackend, err)
		}
		if err := e.challenges.Consume(ctx, challengeID, false, 0); err != nil {
			return false, err
		}
		_ = e.limiter.Reset(ctx, mfaRateScope, ch.UserID)

		e.record(ctx, audit.Event{
			UserID:   ch.UserID,
			Action:   "mfa_verification",
			Resource: "mfa_challenge",
			Outcome:  audit.OutcomeSuccess,
			Detail: map[string]string{
				"challenge_id": challengeID,
				"method":       ch.Method,
			},
		})
		e.metrics.ObserveMFA("success")
		return true, nil
	}

	_ = e.limiter.Increment(ctx, mfaRateScope, ch.UserID)

	if attempts >= ch.MaxAttempts {
		if err := e.challenges.Consume(ctx, challengeID, true, e.config.MFA.ChallengeTTL); err != nil {
			return false, err
		}
		e.recordMFAFailure(ctx, ch.UserID, challengeID, string(MFAChallengeExhausted))
		return false, &MFAError{Kind: MFAChallengeExhausted}
	}

	e.recordMFAFailure(ctx, ch.UserID, challengeID, string(MFACodeMismatch))
	return false, &MFAError{Kind: MFACodeMismatch, Remaining: ch.MaxAttempts - attempts}
}

func (e *Engine) codeMatches(ctx context.Context, ch *stores.Challenge, code string) (bool, error) {
	if MFAMethod(ch.Method) == MethodTOTP {
		secret, err := e.secrets.TOTPSecret(ctx, ch.UserID)
		if err != nil {
			e.recordMFAFailure(ctx, ch.UserID, ch.ID, string(MFAUnavailable))
			return false, &MFAError{Kind: MFAUnavailable}
		}
		ok, err := totp.ValidateCustom(code, secret, e.now().UTC(), totp.ValidateOpts{
			Period:    e.config.MFA.TOTPPeriod,
			Skew:      e.config.MFA.TOTPSkew,
			Digits:    otp.DigitsSix,
			Algorithm: otp.AlgorithmSHA1,
		})
		if err != nil {
			return false, nil
		}
		return ok, nil
	}

	presented := e.crypto.Hash([]byte(code))
	return subtle.ConstantTimeCompare([]byte(presented), []byte(ch.CodeHash)) == 1, nil
}

// recordMFAFailure writes the single audit entry for a failed or rejected
// verification attempt, with the reason in the detail map.
func (e *Engine) recordMFAFailure(ctx context.Context, userID, challengeID, reason string) {
	e.record(ctx, audit.Event{
		UserID:   userID,
		Action:   "mfa_authentication_failure",
		Resource: "mfa_challenge",
		Outcome:  audit.OutcomeFailure,
		Detail: map[string]string{
			"challenge_id": challengeID,
			"reason":       reason,
		},
	})
	e.metrics.ObserveMFA(reason)
}

// ChallengeStatus returns the caller-visible view of a pending challenge,
// or the terminal error classification if it is gone.
func (e *Engine) ChallengeStatus(ctx context.Context, challengeID string) (*MFAChallenge, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	ch, err := e.challenges.Get(ctx, challengeID, e.now())
	if err != nil {
		switch {
		case errors.Is(err, stores.ErrChallengeNotFound):
			return nil, &MFAError{Kind: MFAChallengeNotFound}
		case errors.Is(err, stores.ErrChallengeExpired):
			return nil, &MFAError{Kind: MFAChallengeExpired}
		case errors.Is(err, stores.ErrChallengeExhausted):
			return nil, &MFAError{Kind: MFAChallengeExhausted}
		}
		return nil, err
	}
	return &MFAChallenge{
		ID:          ch.ID,
		UserID:      ch.UserID,
		Method:      MFAMethod(ch.Method),
		ExpiresAt:   time.Unix(ch.ExpiresAt, 0),
		Attempts:    ch.Attempts,
		MaxAttempts: ch.MaxAttempts,
	}, nil
}
