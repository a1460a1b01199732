package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

var (
	// ErrNotFound is returned when no session exists for the id.
	ErrNotFound = errors.New("session not found")
	// ErrBackend wraps store transport failures.
	ErrBackend = errors.New("session backend unavailable")
)

// Hash field names of the per-session Redis hash.
const (
	fieldUserID      = "user_id"
	fieldUser        = "user"
	fieldTokens      = "tokens"
	fieldClearance   = "clearance"
	fieldMFA         = "mfa_verified"
	fieldBiometric   = "biometric_verified"
	fieldActive      = "active"
	fieldCreatedAt   = "created_at"
	fieldExpiresAt   = "expires_at"
	FlagMFAVerified  = fieldMFA
	FlagBioVerified  = fieldBiometric
)

// setFlagScript flips a verification flag only while the session hash
// still exists and is active, so a concurrent invalidation or expiry
// cleanup can never resurrect a session.
const setFlagScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
if redis.call("HGET", KEYS[1], "active") ~= "1" then
  return 0
end
redis.call("HSET", KEYS[1], ARGV[1], "1")
return 1
`

var setFlagLua = redis.NewScript(setFlagScript)

// invalidateScript transitions active -> inactive exactly once.
// Returns 1 when this call performed the transition, 0 otherwise.
const invalidateScript = `
if redis.call("EXISTS", KEYS[1]) == 0 then
  return 0
end
if redis.call("HGET", KEYS[1], "active") ~= "1" then
  return 0
end
redis.call("HSET", KEYS[1], "active", "0")
return 1
`

var invalidateLua = redis.NewScript(invalidateScript)

// Store persists sessions as Redis hashes with a per-user index set.
// All single-key mutations are atomic Lua scripts.
type Store struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewStore(rdb redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "castellan"
	}
	return &Store{rdb: rdb, prefix: prefix}
}

func (s *Store) key(id string) string {
	return s.prefix + ":s:" + id
}

func (s *Store) userKey(userID string) string {
	return s.prefix + ":u:" + userID
}

func boolField(b bool) string {
	if b {
		return "1"
	}
	return "0"
}

// Save writes the session hash and indexes it under its user. The key TTL
// outlives the logical expiry so that lazy expiry checks can observe and
// invalidate stale sessions before Redis reclaims them.
func (s *Store) Save(ctx context.Context, sess *Session, ttl time.Duration) error {
	key := s.key(sess.ID)
	_, err := s.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.HSet(ctx, key,
			fieldUserID, sess.UserID,
			fieldUser, sess.User,
			fieldTokens, sess.EncryptedTokens,
			fieldClearance, sess.Clearance,
			fieldMFA, boolField(sess.MFAVerified),
			fieldBiometric, boolField(sess.BiometricVerified),
			fieldActive, boolField(sess.Active),
			fieldCreatedAt, strconv.FormatInt(sess.CreatedAt, 10),
			fieldExpiresAt, strconv.FormatInt(sess.ExpiresAt, 10),
		)
		pipe.Expire(ctx, key, ttl)
		pipe.SAdd(ctx, s.userKey(sess.UserID), sess.ID)
		pipe.Expire(ctx, s.userKey(sess.UserID), ttl)
		return nil
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}

// Get loads a session by id.
func (s *Store) Get(ctx context.Context, id string) (*Session, error) {
	fields, err := s.rdb.HGetAll(ctx, s.key(id)).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	if len(fields) == 0 {
		return nil, ErrNotFound
	}

	createdAt, _ := strconv.ParseInt(fields[fieldCreatedAt], 10, 64)
	expiresAt, _ := strconv.ParseInt(fields[fieldExpiresAt], 10, 64)

	return &Session{
		ID:                id,
		UserID:            fields[fieldUserID],
		User:              fields[fieldUser],
		EncryptedTokens:   fields[fieldTokens],
		Clearance:         fields[fieldClearance],
		MFAVerified:       fields[fieldMFA] == "1",
		BiometricVerified: fields[fieldBiometric] == "1",
		Active:            fields[fieldActive] == "1",
		CreatedAt:         createdAt,
		ExpiresAt:         expiresAt,
	}, nil
}

// SetFlag atomically sets a verification flag on one active session.
// Returns false when the session is gone or inactive.
func (s *Store) SetFlag(ctx context.Context, id, flag string) (bool, error) {
	set, err := setFlagLua.Run(ctx, s.rdb, []string{s.key(id)}, flag).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return set == 1, nil
}

// SetFlagForUser sets a verification flag on every active session of the
// user and returns how many sessions were updated. Sessions invalidated
// or reclaimed concurrently are skipped; their ids are pruned from the
// index.
func (s *Store) SetFlagForUser(ctx context.Context, userID, flag string) (int, error) {
	ids, err := s.rdb.SMembers(ctx, s.userKey(userID)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBackend, err)
	}

	updated := 0
	for _, id := range ids {
		set, err := s.SetFlag(ctx, id, flag)
		if err != nil {
			return updated, err
		}
		if set {
			updated++
			continue
		}
		if exists, err := s.rdb.Exists(ctx, s.key(id)).Result(); err == nil && exists == 0 {
			_, _ = s.rdb.SRem(ctx, s.userKey(userID), id).Result()
		}
	}
	return updated, nil
}

// Invalidate flips liveness to false. Returns true only for the call
// that performed the transition, making caller-side audit emission
// exactly-once.
func (s *Store) Invalidate(ctx context.Context, id string) (bool, error) {
	transitioned, err := invalidateLua.Run(ctx, s.rdb, []string{s.key(id)}).Int64()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return transitioned == 1, nil
}

// Delete removes the session hash entirely.
func (s *Store) Delete(ctx context.Context, id string) error {
	if err := s.rdb.Del(ctx, s.key(id)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackend, err)
	}
	return nil
}
