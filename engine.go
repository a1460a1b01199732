package castellan

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/castellan-io/castellan/audit"
	"github.com/castellan-io/castellan/compliance"
	"github.com/castellan-io/castellan/crypto"
	"github.com/castellan-io/castellan/internal/delivery"
	"github.com/castellan-io/castellan/internal/rate"
	"github.com/castellan-io/castellan/internal/stores"
	"github.com/castellan-io/castellan/jwt"
	"github.com/castellan-io/castellan/metrics"
	"github.com/castellan-io/castellan/session"
)

// Engine coordinates the identity, session and audit components. Build
// one through [Builder]; treat it as immutable afterwards. All methods
// are safe for concurrent use.
type Engine struct {
	config Config
	now    func() time.Time

	audit      *audit.Log
	crypto     *crypto.Service
	jwt        *jwt.Manager
	sessions   *session.Store
	challenges *stores.ChallengeStore
	biometrics *stores.BiometricStore
	states     *stores.StateStore
	limiter    *rate.Limiter
	delivery   *delivery.Pool
	httpClient *http.Client
	similarity SimilarityFunc
	secrets    UserSecrets
	rules      *compliance.RuleSet
	metrics    *metrics.Metrics
}

// Close drains the audit dispatcher and the delivery pool.
func (e *Engine) Close() {
	if e == nil {
		return
	}
	if e.audit != nil {
		e.audit.Close()
	}
	if e.delivery != nil {
		e.delivery.Close()
	}
}

// Audit exposes the audit log for statistics queries and retention
// cleanup.
func (e *Engine) Audit() *audit.Log {
	return e.audit
}

// Crypto exposes the encryption service for callers that store their own
// sensitive material.
func (e *Engine) Crypto() *crypto.Service {
	return e.crypto
}

// AuditStatistics aggregates audit entries over the trailing window.
func (e *Engine) AuditStatistics(ctx context.Context, window time.Duration) (audit.Stats, error) {
	return e.audit.Statistics(ctx, window)
}

// AuditCleanup removes audit entries past the configured retention
// horizon.
func (e *Engine) AuditCleanup(ctx context.Context) (int, error) {
	return e.audit.Cleanup(ctx, e.config.Audit.RetentionDays)
}

// DeliveryDropped reports out-of-band dispatch jobs discarded due to
// backpressure.
func (e *Engine) DeliveryDropped() uint64 {
	return e.delivery.Dropped()
}

// record funnels every engine audit write through one place so metrics
// stay in step with the trail.
func (e *Engine) record(ctx context.Context, event audit.Event) audit.Entry {
	entry := e.audit.Record(ctx, event)
	e.metrics.ObserveAudit(entry.Action, entry.RiskScore)
	return entry
}

// CheckCompliance validates the action against the named framework.
// Violations are returned as data, never as an error; the check itself
// is audited.
func (e *Engine) CheckCompliance(ctx context.Context, action compliance.Action, framework string) compliance.Result {
	result := e.rules.Validate(action, framework)

	outcome := audit.OutcomeSuccess
	if !result.Compliant {
		outcome = audit.OutcomeDenied
	}
	e.record(ctx, audit.Event{
		Action:   "compliance_check",
		Resource: action.Name,
		Outcome:  outcome,
		Detail: map[string]string{
			"framework":  result.Framework,
			"violations": strconv.Itoa(len(result.Violations)),
		},
	})

	return result
}
