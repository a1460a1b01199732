package stores

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrStateBackend wraps OAuth state store transport failures.
var ErrStateBackend = errors.New("oauth state backend unavailable")

// StateStore tracks issued anti-forgery state values with a TTL. A state
// is single-use: Consume removes it atomically on first sight.
type StateStore struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewStateStore(rdb redis.UniversalClient, prefix string) *StateStore {
	if prefix == "" {
		prefix = "castellan"
	}
	return &StateStore{rdb: rdb, prefix: prefix}
}

func (s *StateStore) key(state string) string {
	return s.prefix + ":oauth-state:" + state
}

// Save registers a freshly issued state value.
func (s *StateStore) Save(ctx context.Context, state string, ttl time.Duration) error {
	if err := s.rdb.Set(ctx, s.key(state), "1", ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrStateBackend, err)
	}
	return nil
}

// Consume atomically checks and removes the state. Returns false for
// unknown, expired, or already-consumed values.
func (s *StateStore) Consume(ctx context.Context, state string) (bool, error) {
	_, err := s.rdb.GetDel(ctx, s.key(state)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return false, nil
		}
		return false, fmt.Errorf("%w: %v", ErrStateBackend, err)
	}
	return true, nil
}
