package crypto

import (
	"bytes"
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/castellan-io/castellan/audit"
)

func testKey() []byte {
	key := make([]byte, 32)
	for i := range key {
		key[i] = byte(i)
	}
	return key
}

func newTestService(t *testing.T) (*Service, *audit.MemoryStore) {
	t.Helper()
	store := audit.NewMemoryStore()
	svc, err := NewService(testKey(), audit.New(store, audit.Config{}))
	require.NoError(t, err)
	return svc, store
}

func TestEncryptDecryptRoundTrip(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	plaintexts := []string{"", "x", "hello world", "ünïcødé ✓", string(bytes.Repeat([]byte{0x00, 0xff}, 512))}
	classifications := []string{"PUBLIC", "INTERNAL", "CONFIDENTIAL", "SECRET", "TOP_SECRET"}

	for _, p := range plaintexts {
		for _, c := range classifications {
			payload, err := svc.Encrypt(ctx, []byte(p), c)
			require.NoError(t, err)
			assert.Equal(t, c, payload.Classification)

			got, err := svc.Decrypt(ctx, payload)
			require.NoError(t, err)
			assert.Equal(t, []byte(p), got)
		}
	}
}

func TestEncryptUsesFreshNonce(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	first, err := svc.Encrypt(ctx, []byte("same plaintext"), "INTERNAL")
	require.NoError(t, err)
	second, err := svc.Encrypt(ctx, []byte("same plaintext"), "INTERNAL")
	require.NoError(t, err)

	assert.NotEqual(t, first.Nonce, second.Nonce)
	assert.NotEqual(t, first.Ciphertext, second.Ciphertext)
}

func TestTamperedPayloadFailsClosed(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	payload, err := svc.Encrypt(ctx, []byte("sensitive"), "SECRET")
	require.NoError(t, err)

	flipByte := func(b []byte) []byte {
		out := append([]byte(nil), b...)
		out[0] ^= 0x01
		return out
	}

	tampered := payload
	tampered.Ciphertext = flipByte(payload.Ciphertext)
	_, err = svc.Decrypt(ctx, tampered)
	assert.ErrorIs(t, err, ErrDecryptionFailed)

	tampered = payload
	tampered.Tag = flipByte(payload.Tag)
	_, err = svc.Decrypt(ctx, tampered)
	assert.ErrorIs(t, err, ErrDecryptionFailed)

	tampered = payload
	tampered.Nonce = flipByte(payload.Nonce)
	_, err = svc.Decrypt(ctx, tampered)
	assert.ErrorIs(t, err, ErrDecryptionFailed)

	// Wrong key is indistinguishable from tampering.
	otherKey := testKey()
	otherKey[0] ^= 0x01
	other, err := NewService(otherKey, nil)
	require.NoError(t, err)
	_, err = other.Decrypt(ctx, payload)
	assert.ErrorIs(t, err, ErrDecryptionFailed)
}

func TestEveryCallWritesOneAuditEntry(t *testing.T) {
	svc, store := newTestService(t)
	ctx := context.Background()

	payload, err := svc.Encrypt(ctx, []byte("audited"), "CONFIDENTIAL")
	require.NoError(t, err)
	_, err = svc.Decrypt(ctx, payload)
	require.NoError(t, err)

	tampered := payload
	tampered.Tag = append([]byte(nil), payload.Tag...)
	tampered.Tag[0] ^= 0x01
	_, err = svc.Decrypt(ctx, tampered)
	require.Error(t, err)

	entries := store.All()
	require.Len(t, entries, 3)
	assert.Equal(t, "data_encryption", entries[0].Action)
	assert.Equal(t, audit.OutcomeSuccess, entries[0].Outcome)
	assert.Equal(t, "data_decryption", entries[1].Action)
	assert.Equal(t, audit.OutcomeSuccess, entries[1].Outcome)
	assert.Equal(t, audit.OutcomeFailure, entries[2].Outcome)

	// No plaintext in detail, only lengths and identifiers.
	for _, entry := range entries {
		for _, v := range entry.Detail {
			assert.NotContains(t, v, "audited")
		}
	}
}

func TestInvalidMasterKeyRejected(t *testing.T) {
	_, err := NewService([]byte("short"), nil)
	assert.ErrorIs(t, err, ErrInvalidKey)
}

func TestHashDeterministic(t *testing.T) {
	svc, _ := newTestService(t)
	first := svc.Hash([]byte("fingerprint me"))
	second := svc.Hash([]byte("fingerprint me"))
	other := svc.Hash([]byte("fingerprint me!"))

	assert.Equal(t, first, second)
	assert.NotEqual(t, first, other)
	assert.Len(t, first, 64)
}

func TestPasswordHashAndVerify(t *testing.T) {
	svc, _ := newTestService(t)

	hash, err := svc.HashPassword("correct horse battery staple")
	require.NoError(t, err)
	assert.True(t, len(hash) > 0)
	assert.Contains(t, hash, "$argon2id$")

	ok, err := svc.VerifyPassword("correct horse battery staple", hash)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = svc.VerifyPassword("wrong password", hash)
	require.NoError(t, err)
	assert.False(t, ok)

	// Per-password random salt: same password, different hash.
	again, err := svc.HashPassword("correct horse battery staple")
	require.NoError(t, err)
	assert.NotEqual(t, hash, again)

	_, err = svc.VerifyPassword("anything", "not-a-phc-string")
	assert.ErrorIs(t, err, ErrMalformedHash)
}
