package castellan

import (
	"context"
	"fmt"
	"strconv"

	"github.com/castellan-io/castellan/audit"
	"github.com/castellan-io/castellan/crypto"
	"github.com/castellan-io/castellan/internal/stores"
	"github.com/castellan-io/castellan/session"
)

// RegisterBiometric enrolls a template for the user on the given
// modality and device. The template is sealed before storage;
// re-registration supersedes the previous enrollment without destroying
// its history.
func (e *Engine) RegisterBiometric(ctx context.Context, userID string, modality Modality, deviceID string, template []byte) error {
	if e == nil {
		return ErrEngineNotReady
	}
	if !modality.valid() {
		return ErrModalityInvalid
	}

	sealed, err := e.crypto.Encrypt(ctx, template, "SECRET")
	if err != nil {
		return err
	}

	rec := &stores.BiometricRecord{
		UserID:     userID,
		Modality:   string(modality),
		DeviceID:   deviceID,
		Template:   sealed.Encode(),
		Confidence: 1.0,
		EnrolledAt: e.now().Unix(),
	}
	if err := e.biometrics.Save(ctx, rec); err != nil {
		return err
	}

	e.record(ctx, audit.Event{
		UserID:   userID,
		Action:   "biometric_registered",
		Resource: "biometric_template",
		Outcome:  audit.OutcomeSuccess,
		Detail: map[string]string{
			"modality":  rec.Modality,
			"device_id": deviceID,
		},
	})
	return nil
}

// VerifyBiometric scores the presented sample against the enrolled
// template and, at or above the configured threshold, marks every active
// session of the user as biometric-verified. Missing enrollment fails
// closed. Exactly one biometric audit entry is written per call.
func (e *Engine) VerifyBiometric(ctx context.Context, userID string, modality Modality, deviceID string, sample []byte) (bool, error) {
	if e == nil {
		return false, ErrEngineNotReady
	}
	if !modality.valid() {
		return false, ErrModalityInvalid
	}

	rec, err := e.biometrics.Latest(ctx, userID, string(modality), deviceID)
	if err != nil {
		if err == stores.ErrNoBiometric {
			e.recordBiometric(ctx, userID, modality, audit.OutcomeFailure, map[string]string{
				"reason": "not_enrolled",
			})
			return false, &BiometricMismatchError{Reason: "not_enrolled"}
		}
		return false, err
	}

	payload, err := crypto.DecodePayload(rec.Template)
	if err != nil {
		return false, fmt.Errorf("decode stored template: %w", err)
	}
	stored, err := e.crypto.Decrypt(ctx, payload)
	if err != nil {
		return false, err
	}

	score := e.similarity(stored, sample)
	if score < e.config.Biometric.Threshold {
		e.recordBiometric(ctx, userID, modality, audit.OutcomeFailure, map[string]string{
			"reason":     "below_threshold",
			"similarity": strconv.FormatFloat(score, 'f', 4, 64),
		})
		return false, &BiometricMismatchError{Reason: "below_threshold"}
	}

	if _, err := e.sessions.SetFlagForUser(ctx, userID, session.FlagBioVerified); err != nil {
		return false, fmt.Errorf("%w: %v", ErrSessionBackend, err)
	}

	e.recordBiometric(ctx, userID, modality, audit.OutcomeSuccess, map[string]string{
		"similarity": strconv.FormatFloat(score, 'f', 4, 64),
	})
	return true, nil
}

func (e *Engine) recordBiometric(ctx context.Context, userID string, modality Modality, outcome audit.Outcome, detail map[string]string) {
	if detail == nil {
		detail = map[string]string{}
	}
	detail["modality"] = string(modality)

	e.record(ctx, audit.Event{
		UserID:   userID,
		Action:   "biometric_verification",
		Resource: "biometric_template",
		Outcome:  outcome,
		Detail:   detail,
	})
	if outcome == audit.OutcomeSuccess {
		e.metrics.ObserveBiometric("success")
	} else {
		e.metrics.ObserveBiometric("failure")
	}
}

// BiometricHistory lists the user's enrollment history for the modality
// and device, newest first.
func (e *Engine) BiometricHistory(ctx context.Context, userID string, modality Modality, deviceID string) ([]stores.BiometricRecord, error) {
	if e == nil {
		return nil, ErrEngineNotReady
	}
	if !modality.valid() {
		return nil, ErrModalityInvalid
	}
	return e.biometrics.History(ctx, userID, string(modality), deviceID)
}
