package crypto

import (
	"crypto/rand"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"

	"golang.org/x/crypto/argon2"
)

// Fixed argon2id work factor. Deliberately slow; tuned for interactive
// logins on commodity hardware.
const (
	passwordMemoryKB    uint32 = 64 * 1024
	passwordTime        uint32 = 3
	passwordParallelism uint8  = 2
	passwordSaltLength  uint32 = 16
	passwordKeyLength   uint32 = 32

	passwordAlgorithmID = "argon2id"
)

// ErrMalformedHash rejects salted hashes not in PHC format.
var ErrMalformedHash = errors.New("malformed password hash")

// HashPassword derives a salted PHC-format argon2id hash with a fresh
// random salt per call.
func (s *Service) HashPassword(password string) (string, error) {
	salt := make([]byte, passwordSaltLength)
	if _, err := io.ReadFull(rand.Reader, salt); err != nil {
		return "", fmt.Errorf("%w: %v", ErrCipherUnavailable, err)
	}

	hash := argon2.IDKey(
		[]byte(password),
		salt,
		passwordTime,
		passwordMemoryKB,
		passwordParallelism,
		passwordKeyLength,
	)

	return fmt.Sprintf(
		"$%s$v=%d$m=%d,t=%d,p=%d$%s$%s",
		passwordAlgorithmID,
		argon2.Version,
		passwordMemoryKB,
		passwordTime,
		passwordParallelism,
		base64.StdEncoding.EncodeToString(salt),
		base64.StdEncoding.EncodeToString(hash),
	), nil
}

// VerifyPassword re-derives the hash using the parameters embedded in the
// salted hash and compares in constant time.
func (s *Service) VerifyPassword(password, saltedHash string) (bool, error) {
	memory, timeCost, parallelism, salt, hash, err := parsePasswordHash(saltedHash)
	if err != nil {
		return false, err
	}

	computed := argon2.IDKey([]byte(password), salt, timeCost, memory, parallelism, uint32(len(hash)))
	return subtle.ConstantTimeCompare(computed, hash) == 1, nil
}

func parsePasswordHash(encoded string) (memory, timeCost uint32, parallelism uint8, salt, hash []byte, err error) {
	parts := strings.Split(encoded, "$")
	if len(parts) != 6 || parts[0] != "" || parts[1] != passwordAlgorithmID {
		return 0, 0, 0, nil, nil, ErrMalformedHash
	}

	version, convErr := strconv.Atoi(strings.TrimPrefix(parts[2], "v="))
	if !strings.HasPrefix(parts[2], "v=") || convErr != nil || version != argon2.Version {
		return 0, 0, 0, nil, nil, ErrMalformedHash
	}

	for _, param := range strings.Split(parts[3], ",") {
		key, value, found := strings.Cut(param, "=")
		if !found {
			return 0, 0, 0, nil, nil, ErrMalformedHash
		}
		n, convErr := strconv.ParseUint(value, 10, 32)
		if convErr != nil {
			return 0, 0, 0, nil, nil, ErrMalformedHash
		}
		switch key {
		case "m":
			memory = uint32(n)
		case "t":
			timeCost = uint32(n)
		case "p":
			parallelism = uint8(n)
		default:
			return 0, 0, 0, nil, nil, ErrMalformedHash
		}
	}
	if memory == 0 || timeCost == 0 || parallelism == 0 {
		return 0, 0, 0, nil, nil, ErrMalformedHash
	}

	salt, err = base64.StdEncoding.DecodeString(parts[4])
	if err != nil || len(salt) == 0 {
		return 0, 0, 0, nil, nil, ErrMalformedHash
	}
	hash, err = base64.StdEncoding.DecodeString(parts[5])
	if err != nil || len(hash) == 0 {
		return 0, 0, 0, nil, nil, ErrMalformedHash
	}

	return memory, timeCost, parallelism, salt, hash, nil
}
