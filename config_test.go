package castellan

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const configFixture = `
redis_prefix: acme
oauth:
  authorize_url: https://idp.acme.test/authorize
  token_url: https://idp.acme.test/token
  userinfo_url: https://idp.acme.test/userinfo
  client_id: acme-app
  client_secret: hunter2
  redirect_uri: https://acme.test/auth/callback
  request_timeout_seconds: 5
session:
  lifetime_hours: 8
mfa:
  challenge_ttl_minutes: 5
  max_attempts: 3
biometric:
  threshold: 0.9
encryption:
  master_key_hex: "4141414141414141414141414141414141414141414141414141414141414141"
jwt:
  signing_method: hs256
  private_key_hex: "4242424242424242424242424242424242424242424242424242424242424242"
  issuer: acme
audit:
  frameworks: [HIPAA, SOC2]
  retention_days: 30
`

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "castellan.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadConfigFile(t *testing.T) {
	cfg, err := LoadConfigFile(writeConfigFile(t, configFixture))
	require.NoError(t, err)

	assert.Equal(t, "acme", cfg.RedisPrefix)
	assert.Equal(t, 8*time.Hour, cfg.Session.Lifetime)
	assert.Equal(t, 5*time.Minute, cfg.MFA.ChallengeTTL)
	assert.Equal(t, 0.9, cfg.Biometric.Threshold)
	assert.Len(t, cfg.Encryption.MasterKey, 32)
	assert.Equal(t, []string{"HIPAA", "SOC2"}, cfg.Audit.Frameworks)
	assert.Equal(t, 30, cfg.Audit.RetentionDays)

	// Untouched keys keep their defaults.
	assert.Equal(t, 3, cfg.MFA.MaxAttempts)
	assert.Equal(t, 6, cfg.MFA.CodeDigits)
	assert.Equal(t, 10, cfg.RateLimit.MaxMFAFailures)

	require.NoError(t, cfg.Validate())
}

func TestLoadConfigFileBadKey(t *testing.T) {
	_, err := LoadConfigFile(writeConfigFile(t, "encryption:\n  master_key_hex: \"zz\"\n"))
	assert.Error(t, err)
}

func TestConfigValidate(t *testing.T) {
	cfg := testConfig()
	require.NoError(t, cfg.Validate())

	bad := cfg
	bad.Encryption.MasterKey = []byte("short")
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.Session.Lifetime = 0
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.Biometric.Threshold = 1.5
	assert.Error(t, bad.Validate())

	bad = cfg
	bad.OAuth.ClientID = ""
	assert.Error(t, bad.Validate())
}
