// Package permission derives permission sets from roles and clearance
// levels. Calculation is pure: identical inputs always produce identical
// sets, and clearance-derived grants are monotonic in the clearance
// ordering.
package permission

import (
	"fmt"
	"sort"
	"strings"
)

// Clearance is an ordered classification level. The zero value is Public.
type Clearance uint8

const (
	Public Clearance = iota
	Internal
	Confidential
	Secret
	TopSecret
)

var clearanceNames = [...]string{
	Public:       "PUBLIC",
	Internal:     "INTERNAL",
	Confidential: "CONFIDENTIAL",
	Secret:       "SECRET",
	TopSecret:    "TOP_SECRET",
}

func (c Clearance) String() string {
	if int(c) < len(clearanceNames) {
		return clearanceNames[c]
	}
	return "PUBLIC"
}

// Rank returns the position of the level in the total order
// PUBLIC < INTERNAL < CONFIDENTIAL < SECRET < TOP_SECRET.
func (c Clearance) Rank() int {
	return int(c)
}

// MarshalText encodes the level as its canonical name, so principal
// snapshots serialize readably.
func (c Clearance) MarshalText() ([]byte, error) {
	return []byte(c.String()), nil
}

func (c *Clearance) UnmarshalText(b []byte) error {
	parsed, err := ParseClearance(string(b))
	if err != nil {
		return err
	}
	*c = parsed
	return nil
}

// ParseClearance maps a clearance string from an identity provider claim
// to its level. Matching is case-insensitive; unknown values fail.
func ParseClearance(s string) (Clearance, error) {
	normalized := strings.ToUpper(strings.TrimSpace(s))
	for level, name := range clearanceNames {
		if normalized == name {
			return Clearance(level), nil
		}
	}
	return Public, fmt.Errorf("unknown clearance level %q", s)
}

// WildcardAdmin grants every permission check.
const WildcardAdmin = "admin:*"

// Set is a permission set. Membership is checked with [Set.Has] or, with
// wildcard handling, [HasPermission].
type Set map[string]struct{}

func (s Set) Has(perm string) bool {
	_, ok := s[perm]
	return ok
}

func (s Set) add(perms ...string) {
	for _, p := range perms {
		s[p] = struct{}{}
	}
}

// Slice returns the set members sorted, for stable serialization.
func (s Set) Slice() []string {
	out := make([]string, 0, len(s))
	for p := range s {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// roleGrants is the fixed capability table per role. Unknown roles
// contribute nothing.
var roleGrants = map[string][]string{
	"admin":               {WildcardAdmin},
	"healthcare_provider": {"read:patient_data", "write:patient_data", "access:medical_ai"},
	"defense_analyst":     {"read:classified_data", "access:threat_analysis"},
	"legal_counsel":       {"access:legal_documents"},
	"researcher":          {"read:research_data", "access:simulations"},
}

// Calculate derives the permission set for the given roles and clearance.
// Every principal holds read:profile and update:profile. Clearance grants
// are cumulative: each level at or below the held one (above PUBLIC)
// contributes its access tier.
func Calculate(roles []string, clearance Clearance) Set {
	set := make(Set)
	set.add("read:profile", "update:profile")

	for _, role := range roles {
		if grants, ok := roleGrants[strings.ToLower(strings.TrimSpace(role))]; ok {
			set.add(grants...)
		}
	}

	for level := Internal; level <= clearance && level <= TopSecret; level++ {
		set.add("access:" + strings.ToLower(level.String()))
	}

	return set
}

// HasPermission reports whether the set contains the permission, honoring
// the administrative wildcard.
func HasPermission(set Set, perm string) bool {
	if set.Has(WildcardAdmin) {
		return true
	}
	return set.Has(perm)
}

// HasClearance reports whether the held level satisfies the required one.
func HasClearance(held, required Clearance) bool {
	return held.Rank() >= required.Rank()
}
