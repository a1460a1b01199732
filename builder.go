package castellan

import (
	"errors"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"

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

// Builder assembles an [Engine]. Collaborators not supplied fall back to
// sensible defaults; only the Redis client and a valid config are
// mandatory.
type Builder struct {
	config     Config
	redis      redis.UniversalClient
	auditStore audit.Store
	auditSink  audit.Sink
	sender     delivery.Sender
	httpClient *http.Client
	similarity SimilarityFunc
	secrets    UserSecrets
	rules      *compliance.RuleSet
	metrics    *metrics.Metrics
	clock      func() time.Time

	built bool
}

// New starts a builder with [DefaultConfig].
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithAuditStore sets the durable audit backend. Defaults to an
// in-memory store.
func (b *Builder) WithAuditStore(store audit.Store) *Builder {
	b.auditStore = store
	return b
}

// WithAuditSink forwards recorded entries asynchronously to the sink.
func (b *Builder) WithAuditSink(sink audit.Sink) *Builder {
	b.auditSink = sink
	return b
}

// WithDelivery sets the out-of-band code dispatch collaborator. Without
// one, sms/email/push challenges cannot be initiated.
func (b *Builder) WithDelivery(sender delivery.Sender) *Builder {
	b.sender = sender
	return b
}

// WithHTTPClient overrides the client used for identity provider calls.
func (b *Builder) WithHTTPClient(client *http.Client) *Builder {
	b.httpClient = client
	return b
}

// WithSimilarity replaces the biometric matcher.
func (b *Builder) WithSimilarity(fn SimilarityFunc) *Builder {
	b.similarity = fn
	return b
}

// WithUserSecrets wires the per-user TOTP secret resolver.
func (b *Builder) WithUserSecrets(secrets UserSecrets) *Builder {
	b.secrets = secrets
	return b
}

// WithComplianceRules replaces the built-in rule set.
func (b *Builder) WithComplianceRules(rules *compliance.RuleSet) *Builder {
	b.rules = rules
	return b
}

// WithMetrics enables Prometheus collectors.
func (b *Builder) WithMetrics(m *metrics.Metrics) *Builder {
	b.metrics = m
	return b
}

// WithClock overrides time.Now, for tests.
func (b *Builder) WithClock(clock func() time.Time) *Builder {
	b.clock = clock
	return b
}

// Build validates the configuration and assembles the engine.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.redis == nil {
		return nil, ErrRedisRequired
	}
	if err := b.config.Validate(); err != nil {
		return nil, err
	}

	now := b.clock
	if now == nil {
		now = time.Now
	}

	auditLog := audit.New(b.auditStore, audit.Config{
		Frameworks: b.config.Audit.Frameworks,
		Sink:       b.auditSink,
		SinkBuffer: b.config.Audit.SinkBuffer,
		Clock:      now,
	})

	cryptoSvc, err := crypto.NewService(b.config.Encryption.MasterKey, auditLog)
	if err != nil {
		return nil, err
	}

	jwtManager, err := jwt.NewManager(jwt.Config{
		SigningMethod: jwt.SigningMethod(b.config.JWT.SigningMethod),
		PrivateKey:    b.config.JWT.PrivateKey,
		PublicKey:     b.config.JWT.PublicKey,
		Issuer:        b.config.JWT.Issuer,
		Leeway:        b.config.JWT.Leeway,
		Clock:         now,
	})
	if err != nil {
		return nil, err
	}

	httpClient := b.httpClient
	if httpClient == nil {
		httpClient = &http.Client{Timeout: b.config.OAuth.RequestTimeout}
	}

	similarity := b.similarity
	if similarity == nil {
		similarity = DefaultSimilarity
	}

	rules := b.rules
	if rules == nil {
		rules = compliance.DefaultRuleSet()
	}

	prefix := b.config.RedisPrefix

	engine := &Engine{
		config:     b.config,
		now:        now,
		audit:      auditLog,
		crypto:     cryptoSvc,
		jwt:        jwtManager,
		sessions:   session.NewStore(b.redis, prefix),
		challenges: stores.NewChallengeStore(b.redis, prefix),
		biometrics: stores.NewBiometricStore(b.redis, prefix),
		states:     stores.NewStateStore(b.redis, prefix),
		limiter: rate.New(b.redis, prefix, rate.Config{
			MaxAttempts: b.config.RateLimit.MaxMFAFailures,
			Cooldown:    b.config.RateLimit.Cooldown,
		}),
		delivery: delivery.NewPool(delivery.Config{
			Workers:       b.config.Delivery.Workers,
			QueueSize:     b.config.Delivery.QueueSize,
			MaxRetries:    b.config.Delivery.MaxRetries,
			RetryBackoff:  b.config.Delivery.RetryBackoff,
			RatePerSecond: b.config.Delivery.RatePerSecond,
			SendTimeout:   b.config.Delivery.SendTimeout,
		}, b.sender),
		httpClient: httpClient,
		similarity: similarity,
		secrets:    b.secrets,
		rules:      rules,
		metrics:    b.metrics,
	}

	b.built = true
	return engine, nil
}
