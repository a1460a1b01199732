package compliance

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestHIPAAUnencryptedPHI(t *testing.T) {
	rs := DefaultRuleSet()

	result := rs.Validate(Action{
		Name:           "read_record",
		DataCategories: []string{"PHI"},
		Encrypted:      false,
		AuditLogged:    true,
		AccessVerified: true,
	}, "hipaa")

	assert.Equal(t, "HIPAA", result.Framework)
	assert.False(t, result.Compliant)
	assert.Len(t, result.Violations, 1)
	assert.Contains(t, result.Violations[0], "hipaa-phi-encryption")
	assert.NotEmpty(t, result.Recommendations)
}

func TestHIPAACompliantAction(t *testing.T) {
	rs := DefaultRuleSet()

	result := rs.Validate(Action{
		Name:           "read_record",
		DataCategories: []string{"phi"},
		Encrypted:      true,
		AuditLogged:    true,
		AccessVerified: true,
	}, "HIPAA")

	assert.True(t, result.Compliant)
	assert.Empty(t, result.Violations)
}

func TestSOC2AdminRequiresMFA(t *testing.T) {
	rs := DefaultRuleSet()

	result := rs.Validate(Action{
		Name:           "rotate_keys",
		Administrative: true,
		AuditLogged:    true,
		MFAVerified:    false,
	}, "SOC2")

	assert.False(t, result.Compliant)
	assert.Contains(t, result.Violations[0], "soc2-admin-mfa")

	result = rs.Validate(Action{
		Name:           "rotate_keys",
		Administrative: true,
		AuditLogged:    true,
		MFAVerified:    true,
	}, "SOC2")
	assert.True(t, result.Compliant)
}

func TestRulesScopedByApplies(t *testing.T) {
	rs := DefaultRuleSet()

	// Non-administrative, non-PHI action: only the SOC2 audit-trail rule
	// applies.
	result := rs.Validate(Action{Name: "view_dashboard", AuditLogged: false}, "SOC2")
	assert.False(t, result.Compliant)
	assert.Len(t, result.Violations, 1)

	result = rs.Validate(Action{Name: "view_dashboard", AuditLogged: false}, "CMMC")
	assert.True(t, result.Compliant)
}

func TestUnknownFrameworkIsVacuouslyCompliant(t *testing.T) {
	rs := DefaultRuleSet()
	result := rs.Validate(Action{Name: "anything"}, "PCI-DSS")
	assert.True(t, result.Compliant)
	assert.Empty(t, result.Violations)
}

func TestAddingRulesIsAdditive(t *testing.T) {
	rs := DefaultRuleSet()
	rs.Add(Rule{
		ID:        "custom-no-voice",
		Framework: "INTERNAL_POLICY",
		Satisfied: func(a Action) bool { return !a.touches("voice") },
		Violation: "voice data is not permitted",
	})

	result := rs.Validate(Action{DataCategories: []string{"voice"}}, "internal_policy")
	assert.False(t, result.Compliant)
}
