// Package audit implements the append-only, risk-scored security event
// log. Every mutating operation in the engine reports its outcome here;
// recording never fails the caller.
package audit

import (
	"context"
	"strings"
	"time"
)

// Outcome classifies how an audited operation ended.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeDenied  Outcome = "denied"
)

// Event is the caller-supplied description of a security-relevant event.
type Event struct {
	UserID   string
	Action   string
	Resource string
	Outcome  Outcome
	Detail   map[string]string
}

// Entry is a recorded event with identity, timestamp, computed risk score
// and the compliance frameworks active at record time. Entries are
// append-only and never mutated.
type Entry struct {
	ID         string            `json:"id"`
	Timestamp  time.Time         `json:"timestamp"`
	UserID     string            `json:"user_id,omitempty"`
	Action     string            `json:"action"`
	Resource   string            `json:"resource,omitempty"`
	Outcome    Outcome           `json:"outcome"`
	Detail     map[string]string `json:"detail,omitempty"`
	RiskScore  int               `json:"risk_score"`
	Frameworks []string          `json:"frameworks,omitempty"`
}

// Recorder is the narrow interface components use to report events.
// *Log satisfies it.
type Recorder interface {
	Record(ctx context.Context, event Event) Entry
}

const (
	// HighRiskThreshold marks the score at or above which an entry counts
	// as high risk in statistics.
	HighRiskThreshold = 7

	maxRiskScore = 10
)

// baseRiskScores holds the per-action-category base risk scores. Actions
// not matching any category score 1.
var baseRiskScores = map[string]int{
	"login":                  2,
	"data_access":            3,
	"data_modification":      5,
	"encryption":             1,
	"decryption":             3,
	"admin_action":           7,
	"security_violation":     9,
	"authentication_failure": 6,
}

// actionCategories maps concrete action names onto scoring categories by
// substring, so oauth_login scores as login and data_encryption as
// encryption.
var actionCategories = []string{
	"authentication_failure",
	"security_violation",
	"admin_action",
	"data_modification",
	"data_access",
	"decryption",
	"encryption",
	"login",
}

var protectedResourceHints = []string{"patient", "medical", "health", "personal", "pii", "phi", "biometric"}

var privilegedResourceHints = []string{"admin", "security", "audit", "config"}

func baseRisk(action string) int {
	if score, ok := baseRiskScores[action]; ok {
		return score
	}
	for _, category := range actionCategories {
		if strings.Contains(action, category) {
			return baseRiskScores[category]
		}
	}
	return 1
}

// riskScore computes the clamped [0,10] risk score for an event.
func riskScore(e Event) int {
	score := baseRisk(e.Action)

	switch e.Outcome {
	case OutcomeFailure:
		score += 3
	case OutcomeDenied:
		score += 5
	}

	resource := strings.ToLower(e.Resource)
	for _, hint := range protectedResourceHints {
		if strings.Contains(resource, hint) {
			score += 4
			break
		}
	}
	for _, hint := range privilegedResourceHints {
		if strings.Contains(resource, hint) {
			score += 3
			break
		}
	}

	if score > maxRiskScore {
		return maxRiskScore
	}
	if score < 0 {
		return 0
	}
	return score
}
