package castellan

import (
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the engine configuration. Zero values fall back to the
// defaults from [DefaultConfig] during Build where noted.
type Config struct {
	// RedisPrefix namespaces every key the engine writes.
	RedisPrefix string

	OAuth      OAuthConfig
	Session    SessionConfig
	MFA        MFAConfig
	Biometric  BiometricConfig
	Encryption EncryptionConfig
	JWT        JWTConfig
	Audit      AuditConfig
	Delivery   DeliveryConfig
	RateLimit  RateLimitConfig
}

// OAuthConfig describes the external OAuth2/OIDC boundary.
type OAuthConfig struct {
	AuthorizeURL string
	TokenURL     string
	UserInfoURL  string
	ClientID     string
	ClientSecret string
	RedirectURI  string
	// Scopes must request identity, profile, role and clearance claims.
	Scopes []string
	// StateTTL bounds how long an issued anti-forgery state is honored.
	StateTTL time.Duration
	// RequestTimeout bounds each call to the identity provider. Timeout
	// is a distinct, logged failure outcome.
	RequestTimeout time.Duration
}

type SessionConfig struct {
	// Lifetime is the absolute session lifetime, fixed at creation and
	// never extended.
	Lifetime time.Duration
	// IndexGrace extends the Redis TTL past the logical expiry so lazy
	// expiry checks can observe and invalidate stale sessions.
	IndexGrace time.Duration
}

type MFAConfig struct {
	ChallengeTTL time.Duration
	MaxAttempts  int
	CodeDigits   int
	// TOTPPeriod and TOTPSkew tune totp validation.
	TOTPPeriod uint
	TOTPSkew   uint
}

type BiometricConfig struct {
	// Threshold is the minimum similarity score accepted.
	Threshold float64
}

type EncryptionConfig struct {
	// MasterKey is the 32-byte process master key.
	MasterKey []byte
}

type JWTConfig struct {
	SigningMethod string // "hs256" (default) or "ed25519"
	PrivateKey    []byte
	PublicKey     []byte
	Issuer        string
	Leeway        time.Duration
}

type AuditConfig struct {
	// Frameworks tags every audit entry with the active compliance
	// frameworks.
	Frameworks    []string
	SinkBuffer    int
	RetentionDays int
}

type DeliveryConfig struct {
	Workers       int
	QueueSize     int
	MaxRetries    int
	RetryBackoff  time.Duration
	RatePerSecond float64
	SendTimeout   time.Duration
}

type RateLimitConfig struct {
	// MaxMFAFailures bounds failed challenge verifications per user
	// within the cooldown window.
	MaxMFAFailures int
	Cooldown       time.Duration
}

// DefaultConfig returns the baseline configuration: 8-hour sessions,
// 5-minute 3-attempt MFA challenges, 0.85 biometric threshold, 90-day
// audit retention.
func DefaultConfig() Config {
	return Config{
		RedisPrefix: "castellan",
		OAuth: OAuthConfig{
			Scopes:         []string{"openid", "profile", "email", "roles", "clearance"},
			StateTTL:       10 * time.Minute,
			RequestTimeout: 10 * time.Second,
		},
		Session: SessionConfig{
			Lifetime:   8 * time.Hour,
			IndexGrace: time.Hour,
		},
		MFA: MFAConfig{
			ChallengeTTL: 5 * time.Minute,
			MaxAttempts:  3,
			CodeDigits:   6,
			TOTPPeriod:   30,
			TOTPSkew:     1,
		},
		Biometric: BiometricConfig{
			Threshold: 0.85,
		},
		JWT: JWTConfig{
			SigningMethod: "hs256",
			Issuer:        "castellan",
			Leeway:        30 * time.Second,
		},
		Audit: AuditConfig{
			Frameworks:    []string{"SOC2"},
			SinkBuffer:    256,
			RetentionDays: 90,
		},
		Delivery: DeliveryConfig{
			Workers:       2,
			QueueSize:     64,
			MaxRetries:    2,
			RetryBackoff:  500 * time.Millisecond,
			RatePerSecond: 50,
			SendTimeout:   10 * time.Second,
		},
		RateLimit: RateLimitConfig{
			MaxMFAFailures: 10,
			Cooldown:       15 * time.Minute,
		},
	}
}

// Validate rejects configurations the engine cannot run with.
func (c Config) Validate() error {
	if len(c.Encryption.MasterKey) != 32 {
		return errors.New("encryption master key must be 32 bytes")
	}
	if len(c.JWT.PrivateKey) == 0 {
		return errors.New("jwt private key required")
	}
	if c.Session.Lifetime <= 0 {
		return errors.New("session lifetime must be positive")
	}
	if c.MFA.ChallengeTTL <= 0 {
		return errors.New("mfa challenge ttl must be positive")
	}
	if c.MFA.MaxAttempts <= 0 {
		return errors.New("mfa max attempts must be positive")
	}
	if c.MFA.CodeDigits < 6 || c.MFA.CodeDigits > 10 {
		return errors.New("mfa code digits must be between 6 and 10")
	}
	if c.Biometric.Threshold <= 0 || c.Biometric.Threshold > 1 {
		return errors.New("biometric threshold must be in (0,1]")
	}
	if c.OAuth.ClientID == "" || c.OAuth.TokenURL == "" || c.OAuth.UserInfoURL == "" ||
		c.OAuth.AuthorizeURL == "" || c.OAuth.RedirectURI == "" {
		return errors.New("oauth endpoints, client id and redirect uri required")
	}
	if c.OAuth.RequestTimeout <= 0 {
		return errors.New("oauth request timeout must be positive")
	}
	if c.Audit.RetentionDays <= 0 {
		return errors.New("audit retention must be positive")
	}
	return nil
}

// fileConfig is the YAML shape of the engine configuration. Durations
// are integers in the unit named by the key; keys are hex-encoded.
type fileConfig struct {
	RedisPrefix string `yaml:"redis_prefix"`
	OAuth       struct {
		AuthorizeURL          string   `yaml:"authorize_url"`
		TokenURL              string   `yaml:"token_url"`
		UserInfoURL           string   `yaml:"userinfo_url"`
		ClientID              string   `yaml:"client_id"`
		ClientSecret          string   `yaml:"client_secret"`
		RedirectURI           string   `yaml:"redirect_uri"`
		Scopes                []string `yaml:"scopes"`
		StateTTLMinutes       int      `yaml:"state_ttl_minutes"`
		RequestTimeoutSeconds int      `yaml:"request_timeout_seconds"`
	} `yaml:"oauth"`
	Session struct {
		LifetimeHours int `yaml:"lifetime_hours"`
	} `yaml:"session"`
	MFA struct {
		ChallengeTTLMinutes int `yaml:"challenge_ttl_minutes"`
		MaxAttempts         int `yaml:"max_attempts"`
		CodeDigits          int `yaml:"code_digits"`
	} `yaml:"mfa"`
	Biometric struct {
		Threshold float64 `yaml:"threshold"`
	} `yaml:"biometric"`
	Encryption struct {
		MasterKeyHex string `yaml:"master_key_hex"`
	} `yaml:"encryption"`
	JWT struct {
		SigningMethod string `yaml:"signing_method"`
		PrivateKeyHex string `yaml:"private_key_hex"`
		Issuer        string `yaml:"issuer"`
	} `yaml:"jwt"`
	Audit struct {
		Frameworks    []string `yaml:"frameworks"`
		RetentionDays int      `yaml:"retention_days"`
	} `yaml:"audit"`
}

// LoadConfigFile reads a YAML configuration file and merges it over the
// defaults.
func LoadConfigFile(path string) (Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return Config{}, fmt.Errorf("parse config: %w", err)
	}

	cfg := DefaultConfig()
	if fc.RedisPrefix != "" {
		cfg.RedisPrefix = fc.RedisPrefix
	}

	cfg.OAuth.AuthorizeURL = fc.OAuth.AuthorizeURL
	cfg.OAuth.TokenURL = fc.OAuth.TokenURL
	cfg.OAuth.UserInfoURL = fc.OAuth.UserInfoURL
	cfg.OAuth.ClientID = fc.OAuth.ClientID
	cfg.OAuth.ClientSecret = fc.OAuth.ClientSecret
	cfg.OAuth.RedirectURI = fc.OAuth.RedirectURI
	if len(fc.OAuth.Scopes) > 0 {
		cfg.OAuth.Scopes = fc.OAuth.Scopes
	}
	if fc.OAuth.StateTTLMinutes > 0 {
		cfg.OAuth.StateTTL = time.Duration(fc.OAuth.StateTTLMinutes) * time.Minute
	}
	if fc.OAuth.RequestTimeoutSeconds > 0 {
		cfg.OAuth.RequestTimeout = time.Duration(fc.OAuth.RequestTimeoutSeconds) * time.Second
	}

	if fc.Session.LifetimeHours > 0 {
		cfg.Session.Lifetime = time.Duration(fc.Session.LifetimeHours) * time.Hour
	}
	if fc.MFA.ChallengeTTLMinutes > 0 {
		cfg.MFA.ChallengeTTL = time.Duration(fc.MFA.ChallengeTTLMinutes) * time.Minute
	}
	if fc.MFA.MaxAttempts > 0 {
		cfg.MFA.MaxAttempts = fc.MFA.MaxAttempts
	}
	if fc.MFA.CodeDigits > 0 {
		cfg.MFA.CodeDigits = fc.MFA.CodeDigits
	}
	if fc.Biometric.Threshold > 0 {
		cfg.Biometric.Threshold = fc.Biometric.Threshold
	}

	if fc.Encryption.MasterKeyHex != "" {
		key, err := hex.DecodeString(fc.Encryption.MasterKeyHex)
		if err != nil {
			return Config{}, fmt.Errorf("decode master key: %w", err)
		}
		cfg.Encryption.MasterKey = key
	}
	if fc.JWT.SigningMethod != "" {
		cfg.JWT.SigningMethod = fc.JWT.SigningMethod
	}
	if fc.JWT.PrivateKeyHex != "" {
		key, err := hex.DecodeString(fc.JWT.PrivateKeyHex)
		if err != nil {
			return Config{}, fmt.Errorf("decode jwt key: %w", err)
		}
		cfg.JWT.PrivateKey = key
	}
	if fc.JWT.Issuer != "" {
		cfg.JWT.Issuer = fc.JWT.Issuer
	}

	if len(fc.Audit.Frameworks) > 0 {
		cfg.Audit.Frameworks = fc.Audit.Frameworks
	}
	if fc.Audit.RetentionDays > 0 {
		cfg.Audit.RetentionDays = fc.Audit.RetentionDays
	}

	return cfg, nil
}
