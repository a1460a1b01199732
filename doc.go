// Package castellan is the identity, session and security-audit core: it
// authenticates principals against an external OAuth2/OIDC provider,
// manages time-bounded sessions, coordinates multi-factor and biometric
// challenge/response flows, derives role- and clearance-based permission
// sets, and maintains a risk-scored, compliance-tagged audit trail.
//
// Construction goes through the [Builder]:
//
//	engine, err := castellan.New().
//		WithConfig(cfg).
//		WithRedis(rdb).
//		WithAuditStore(store).
//		WithDelivery(sender).
//		Build()
//
// Sessions, MFA challenges, biometric records and OAuth state live in
// Redis; the audit trail goes to a pluggable store. All engine methods
// are safe for concurrent use.
package castellan
