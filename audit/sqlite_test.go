package audit

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newSQLiteStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := OpenSQLite(filepath.Join(t.TempDir(), "audit.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestSQLiteAppendAndBetween(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	base := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

	entries := []Entry{
		{ID: "a", Timestamp: base, Action: "login", Outcome: OutcomeSuccess, Frameworks: []string{"SOC2", "HIPAA"}},
		{ID: "b", Timestamp: base.Add(time.Minute), Action: "data_access", Outcome: OutcomeFailure,
			Detail: map[string]string{"resource_len": "12"}, RiskScore: 6},
	}
	for _, e := range entries {
		require.NoError(t, store.Append(ctx, e))
	}

	got, err := store.Between(ctx, base, base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 2)
	assert.Equal(t, "a", got[0].ID)
	assert.Equal(t, []string{"SOC2", "HIPAA"}, got[0].Frameworks)
	assert.Equal(t, "12", got[1].Detail["resource_len"])
	assert.Equal(t, 6, got[1].RiskScore)

	got, err = store.Between(ctx, base.Add(30*time.Second), base.Add(time.Hour))
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "b", got[0].ID)
}

func TestSQLiteDeleteOlderThan(t *testing.T) {
	store := newSQLiteStore(t)
	ctx := context.Background()
	base := time.Date(2026, 2, 10, 12, 0, 0, 0, time.UTC)

	require.NoError(t, store.Append(ctx, Entry{ID: "old", Timestamp: base.AddDate(0, 0, -91), Action: "login", Outcome: OutcomeSuccess}))
	require.NoError(t, store.Append(ctx, Entry{ID: "recent", Timestamp: base.AddDate(0, 0, -89), Action: "login", Outcome: OutcomeSuccess}))

	removed, err := store.DeleteOlderThan(ctx, base.AddDate(0, 0, -90))
	require.NoError(t, err)
	assert.Equal(t, 1, removed)

	left, err := store.Between(ctx, base.AddDate(0, 0, -100), base)
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "recent", left[0].ID)
}
