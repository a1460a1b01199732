// Package compliance evaluates actions against named regulatory
// frameworks. Rule sets are data keyed by framework name: adding a
// framework or rule is additive, not a new code path. Validation is
// advisory; results are returned, never thrown.
package compliance

import "strings"

// Action describes an operation and the data it touches, as seen by the
// caller at enforcement time.
type Action struct {
	Name           string
	ResourceType   string
	DataCategories []string
	Encrypted      bool
	AuditLogged    bool
	MFAVerified    bool
	AccessVerified bool
	Administrative bool
}

func (a Action) touches(category string) bool {
	for _, c := range a.DataCategories {
		if strings.EqualFold(c, category) {
			return true
		}
	}
	return false
}

// Rule is one declarative compliance requirement. Applies scopes the rule
// to relevant actions; Satisfied reports whether the action meets it.
type Rule struct {
	ID             string
	Framework      string
	Description    string
	Applies        func(Action) bool
	Satisfied      func(Action) bool
	Violation      string
	Recommendation string
}

// Result reports the outcome of validating one action against one
// framework.
type Result struct {
	Framework       string   `json:"framework"`
	Compliant       bool     `json:"compliant"`
	Violations      []string `json:"violations"`
	Recommendations []string `json:"recommendations"`
}

// RuleSet groups rules by framework.
type RuleSet struct {
	rules map[string][]Rule
}

func NewRuleSet() *RuleSet {
	return &RuleSet{rules: make(map[string][]Rule)}
}

// Add registers a rule under its framework.
func (rs *RuleSet) Add(rule Rule) {
	key := strings.ToUpper(rule.Framework)
	rs.rules[key] = append(rs.rules[key], rule)
}

// Frameworks lists frameworks with at least one registered rule.
func (rs *RuleSet) Frameworks() []string {
	out := make([]string, 0, len(rs.rules))
	for fw := range rs.rules {
		out = append(out, fw)
	}
	return out
}

// Validate evaluates the action against the named framework. Frameworks
// with no registered rules are vacuously compliant.
func (rs *RuleSet) Validate(action Action, framework string) Result {
	result := Result{
		Framework:       strings.ToUpper(framework),
		Compliant:       true,
		Violations:      []string{},
		Recommendations: []string{},
	}

	for _, rule := range rs.rules[result.Framework] {
		if rule.Applies != nil && !rule.Applies(action) {
			continue
		}
		if rule.Satisfied(action) {
			continue
		}
		result.Compliant = false
		result.Violations = append(result.Violations, rule.ID+": "+rule.Violation)
		if rule.Recommendation != "" {
			result.Recommendations = append(result.Recommendations, rule.Recommendation)
		}
	}

	return result
}

// DefaultRuleSet returns the built-in HIPAA, SOC2, CMMC and GDPR rules.
func DefaultRuleSet() *RuleSet {
	rs := NewRuleSet()

	rs.Add(Rule{
		ID:             "hipaa-phi-encryption",
		Framework:      "HIPAA",
		Description:    "Protected health information must be encrypted",
		Applies:        func(a Action) bool { return a.touches("phi") },
		Satisfied:      func(a Action) bool { return a.Encrypted },
		Violation:      "protected health information handled without encryption",
		Recommendation: "encrypt PHI at rest and in transit before processing",
	})
	rs.Add(Rule{
		ID:             "hipaa-phi-audit",
		Framework:      "HIPAA",
		Description:    "Access to protected health information must be audit logged",
		Applies:        func(a Action) bool { return a.touches("phi") },
		Satisfied:      func(a Action) bool { return a.AuditLogged },
		Violation:      "PHI access is not audit logged",
		Recommendation: "enable audit logging for all PHI access paths",
	})
	rs.Add(Rule{
		ID:             "hipaa-phi-access-control",
		Framework:      "HIPAA",
		Description:    "PHI access requires verified access control",
		Applies:        func(a Action) bool { return a.touches("phi") },
		Satisfied:      func(a Action) bool { return a.AccessVerified },
		Violation:      "PHI accessed without verified access control",
		Recommendation: "resolve the caller's permission set before granting PHI access",
	})

	rs.Add(Rule{
		ID:             "soc2-audit-trail",
		Framework:      "SOC2",
		Description:    "Every action must be audit logged",
		Satisfied:      func(a Action) bool { return a.AuditLogged },
		Violation:      "action is not captured in the audit trail",
		Recommendation: "route the operation through the audit log",
	})
	rs.Add(Rule{
		ID:             "soc2-admin-mfa",
		Framework:      "SOC2",
		Description:    "Administrative actions require MFA-verified sessions",
		Applies:        func(a Action) bool { return a.Administrative },
		Satisfied:      func(a Action) bool { return a.MFAVerified },
		Violation:      "administrative action performed without MFA verification",
		Recommendation: "require a second factor before administrative operations",
	})

	rs.Add(Rule{
		ID:             "cmmc-cui-encryption",
		Framework:      "CMMC",
		Description:    "Classified and controlled data must be encrypted",
		Applies:        func(a Action) bool { return a.touches("classified") || a.touches("cui") },
		Satisfied:      func(a Action) bool { return a.Encrypted },
		Violation:      "controlled data handled without encryption",
		Recommendation: "apply authenticated encryption to controlled data",
	})
	rs.Add(Rule{
		ID:             "cmmc-cui-access",
		Framework:      "CMMC",
		Description:    "Controlled data requires verified access control",
		Applies:        func(a Action) bool { return a.touches("classified") || a.touches("cui") },
		Satisfied:      func(a Action) bool { return a.AccessVerified },
		Violation:      "controlled data accessed without clearance verification",
		Recommendation: "check clearance rank before releasing controlled data",
	})

	rs.Add(Rule{
		ID:             "gdpr-personal-encryption",
		Framework:      "GDPR",
		Description:    "Personal data must be encrypted",
		Applies:        func(a Action) bool { return a.touches("personal") || a.touches("pii") },
		Satisfied:      func(a Action) bool { return a.Encrypted },
		Violation:      "personal data handled without encryption",
		Recommendation: "encrypt personal data before storage",
	})
	rs.Add(Rule{
		ID:             "gdpr-personal-audit",
		Framework:      "GDPR",
		Description:    "Personal data processing must be audit logged",
		Applies:        func(a Action) bool { return a.touches("personal") || a.touches("pii") },
		Satisfied:      func(a Action) bool { return a.AuditLogged },
		Violation:      "personal data processing is not audit logged",
		Recommendation: "record personal data processing in the audit trail",
	})

	return rs
}
