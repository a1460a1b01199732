package permission

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCalculateHealthcareProviderConfidential(t *testing.T) {
	set := Calculate([]string{"healthcare_provider"}, Confidential)

	assert.True(t, set.Has("read:profile"))
	assert.True(t, set.Has("update:profile"))
	assert.True(t, set.Has("read:patient_data"))
	assert.True(t, set.Has("access:confidential"))
	assert.True(t, set.Has("access:internal"))
	assert.False(t, set.Has("access:secret"))
	assert.False(t, set.Has("access:top_secret"))
}

func TestCalculateIsDeterministic(t *testing.T) {
	first := Calculate([]string{"healthcare_provider"}, Confidential)
	second := Calculate([]string{"healthcare_provider"}, Confidential)
	assert.Equal(t, first.Slice(), second.Slice())
}

func TestCalculateClearanceMonotonic(t *testing.T) {
	levels := []Clearance{Public, Internal, Confidential, Secret, TopSecret}

	var previous Set
	for _, level := range levels {
		set := Calculate(nil, level)
		for perm := range previous {
			assert.True(t, set.Has(perm), "level %s lost %s held at lower clearance", level, perm)
		}
		previous = set
	}

	top := Calculate(nil, TopSecret)
	assert.True(t, top.Has("access:internal"))
	assert.True(t, top.Has("access:confidential"))
	assert.True(t, top.Has("access:secret"))
	assert.True(t, top.Has("access:top_secret"))

	public := Calculate(nil, Public)
	assert.Equal(t, []string{"read:profile", "update:profile"}, public.Slice())
}

func TestHasPermissionWildcard(t *testing.T) {
	admin := Calculate([]string{"admin"}, Public)
	assert.True(t, HasPermission(admin, "delete:anything"))
	assert.True(t, HasPermission(admin, "read:patient_data"))

	analyst := Calculate([]string{"defense_analyst"}, Secret)
	assert.True(t, HasPermission(analyst, "read:classified_data"))
	assert.False(t, HasPermission(analyst, "write:patient_data"))
}

func TestUnknownRolesContributeNothing(t *testing.T) {
	set := Calculate([]string{"barista", ""}, Public)
	assert.Equal(t, []string{"read:profile", "update:profile"}, set.Slice())
}

func TestParseClearance(t *testing.T) {
	level, err := ParseClearance("top_secret")
	require.NoError(t, err)
	assert.Equal(t, TopSecret, level)

	level, err = ParseClearance(" CONFIDENTIAL ")
	require.NoError(t, err)
	assert.Equal(t, Confidential, level)

	_, err = ParseClearance("ULTRAVIOLET")
	assert.Error(t, err)
}

func TestHasClearance(t *testing.T) {
	assert.True(t, HasClearance(Secret, Confidential))
	assert.True(t, HasClearance(Secret, Secret))
	assert.False(t, HasClearance(Internal, Confidential))
}
