// Package stores holds the Redis-backed keyed state the engine mutates
// concurrently: MFA challenges, biometric records, OAuth state values.
// Per-key mutations are atomic via Lua scripts or single Redis commands.
package stores

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	ErrChallengeNotFound  = errors.New("mfa challenge not found")
	ErrChallengeExpired   = errors.New("mfa challenge expired")
	ErrChallengeExhausted = errors.New("mfa challenge attempts exhausted")
	ErrChallengeBackend   = errors.New("mfa challenge backend unavailable")
)

// Challenge is the stored form of a pending second-factor proof. CodeHash
// is the digest of the delivered code for out-of-band methods and empty
// for totp (verified against the user's enrolled secret instead).
type Challenge struct {
	ID          string
	UserID      string
	Method      string
	CodeHash    string
	ExpiresAt   int64
	Attempts    int
	MaxAttempts int
}

const (
	chFieldUserID      = "user_id"
	chFieldMethod      = "method"
	chFieldCodeHash    = "code_hash"
	chFieldExpiresAt   = "expires_at"
	chFieldAttempts    = "attempts"
	chFieldMaxAttempts = "max_attempts"
)

// incrementAttemptsScript bumps the attempt counter only while the
// challenge hash still exists, so concurrent deletion cannot recreate a
// stray key.
const incrementAttemptsScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return -1
end
return redis.call("HINCRBY", KEYS[1], "attempts", 1)
`

var incrementAttemptsLua = redis.NewScript(incrementAttemptsScript)

// ChallengeStore persists MFA challenges as Redis hashes. Exhausted
// challenges leave a short-lived tombstone so late verification attempts
// can be rejected with the exhausted reason rather than not-found.
type ChallengeStore struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewChallengeStore(rdb redis.UniversalClient, prefix string) *ChallengeStore {
	if prefix == "" {
		prefix = "castellan"
	}
	return &ChallengeStore{rdb: rdb, prefix: prefix}
}

func (s *ChallengeStore) key(id string) string {
	return s.prefix + ":mfa:" + id
}

func (s *ChallengeStore) tombstoneKey(id string) string {
	return s.prefix + ":mfa-x:" + id
}

// Save stores the challenge with a TTL slightly beyond its logical expiry
// so lazy expiry checks observe it before Redis reclaims it.
func (s *ChallengeStore) Save(ctx context.Context, ch *Challenge, ttl time.Duration) error {
	err := s.rdb.HSet(ctx, s.key(ch.ID),
		chFieldUserID, ch.UserID,
		chFieldMethod, ch.Method,
		chFieldCodeHash, ch.CodeHash,
		chFieldExpiresAt, strconv.FormatInt(ch.ExpiresAt, 10),
		chFieldAttempts, strconv.Itoa(ch.Attempts),
		chFieldMaxAttempts, strconv.Itoa(ch.MaxAttempts),
	).Err()
	if err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	if err := s.rdb.Expire(ctx, s.key(ch.ID), ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	return nil
}

// Get loads a challenge. Expiry is evaluated lazily here: an expired
// challenge is deleted and reported as ErrChallengeExpired. A tombstone
// left by exhaustion reports ErrChallengeExhausted.
func (s *ChallengeStore) Get(ctx context.Context, id string, now time.Time) (*Challenge, error) {
	fields, err := s.rdb.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	if len(fields) == 0 {
		exhausted, err := s.rdb.Exists(ctx, s.tombstoneKey(id)).Result()
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
		}
		if exhausted == 1 {
			return nil, ErrChallengeExhausted
		}
		return nil, ErrChallengeNotFound
	}

	expiresAt, _ := strconv.ParseInt(fields[chFieldExpiresAt], 10, 64)
	attempts, _ := strconv.Atoi(fields[chFieldAttempts])
	maxAttempts, _ := strconv.Atoi(fields[chFieldMaxAttempts])

	if now.Unix() > expiresAt {
		_, _ = s.rdb.Del(ctx, s.key(id)).Result()
		return nil, ErrChallengeExpired
	}

	return &Challenge{
		ID:          id,
		UserID:      fields[chFieldUserID],
		Method:      fields[chFieldMethod],
		CodeHash:    fields[chFieldCodeHash],
		ExpiresAt:   expiresAt,
		Attempts:    attempts,
		MaxAttempts: maxAttempts,
	}, nil
}

// IncrementAttempts atomically bumps the attempt counter and returns the
// new value, or ErrChallengeNotFound if the challenge vanished.
func (s *ChallengeStore) IncrementAttempts(ctx context.Context, id string) (int, error) {
	n, err := incrementAttemptsLua.Run(ctx, s.rdb, []string{s.key(id)}).Int64()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	if n < 0 {
		return 0, ErrChallengeNotFound
	}
	return int(n), nil
}

// Consume deletes the challenge after its terminal outcome. When
// exhausted is set, a tombstone with the remaining TTL marks the
// challenge as exhausted for late verification attempts.
func (s *ChallengeStore) Consume(ctx context.Context, id string, exhausted bool, tombstoneTTL time.Duration) error {
	if err := s.rdb.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrChallengeBackend, err)
	}
	if exhausted && tombstoneTTL > 0 {
		if err := s.rdb.Set(ctx, s.tombstoneKey(id), "1", tombstoneTTL).Err(); err != nil {
			return fmt.Errorf("%w: %v", ErrChallengeBackend, err)
		}
	}
	return nil
}
