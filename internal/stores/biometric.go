package stores

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

var (
	ErrNoBiometric      = errors.New("no biometric record enrolled")
	ErrBiometricBackend = errors.New("biometric backend unavailable")
)

// BiometricRecord is one enrolled template, immutable once stored.
// Re-registration on the same (modality, device) prepends a new record;
// prior records are superseded, never overwritten.
type BiometricRecord struct {
	UserID     string  `json:"user_id"`
	Modality   string  `json:"modality"`
	DeviceID   string  `json:"device_id"`
	Template   string  `json:"template"` // encoded EncryptedPayload
	Confidence float64 `json:"confidence"`
	EnrolledAt int64   `json:"enrolled_at"`
}

// BiometricStore keeps per-(user, modality, device) record history in a
// Redis list, newest first.
type BiometricStore struct {
	rdb    redis.UniversalClient
	prefix string
}

func NewBiometricStore(rdb redis.UniversalClient, prefix string) *BiometricStore {
	if prefix == "" {
		prefix = "castellan"
	}
	return &BiometricStore{rdb: rdb, prefix: prefix}
}

func (s *BiometricStore) key(userID, modality, deviceID string) string {
	return s.prefix + ":bio:" + userID + ":" + modality + ":" + deviceID
}

// Save prepends the record, superseding earlier enrollments.
func (s *BiometricStore) Save(ctx context.Context, rec *BiometricRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBiometricBackend, err)
	}
	if err := s.rdb.LPush(ctx, s.key(rec.UserID, rec.Modality, rec.DeviceID), data).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBiometricBackend, err)
	}
	return nil
}

// Latest returns the current (most recent) record for the key, or
// ErrNoBiometric when nothing is enrolled.
func (s *BiometricStore) Latest(ctx context.Context, userID, modality, deviceID string) (*BiometricRecord, error) {
	data, err := s.rdb.LIndex(ctx, s.key(userID, modality, deviceID), 0).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNoBiometric
		}
		return nil, fmt.Errorf("%w: %v", ErrBiometricBackend, err)
	}

	var rec BiometricRecord
	if err := json.Unmarshal(data, &rec); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBiometricBackend, err)
	}
	return &rec, nil
}

// History returns all records for the key, newest first.
func (s *BiometricStore) History(ctx context.Context, userID, modality, deviceID string) ([]BiometricRecord, error) {
	raw, err := s.rdb.LRange(ctx, s.key(userID, modality, deviceID), 0, -1).Result()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrBiometricBackend, err)
	}

	out := make([]BiometricRecord, 0, len(raw))
	for _, item := range raw {
		var rec BiometricRecord
		if err := json.Unmarshal([]byte(item), &rec); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrBiometricBackend, err)
		}
		out = append(out, rec)
	}
	return out, nil
}
