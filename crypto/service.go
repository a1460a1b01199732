// Package crypto provides the authenticated encryption, digest and
// password hashing primitives used wherever the engine stores or examines
// sensitive material. Audit entries describe lengths, classifications and
// algorithm identifiers only; plaintext and key material are never logged.
package crypto

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"strconv"

	"github.com/zeebo/blake3"

	"github.com/castellan-io/castellan/audit"
)

const (
	keySize   = 32
	nonceSize = 12
	tagSize   = 16

	algorithmAESGCM = "aes-256-gcm"
	algorithmBLAKE3 = "blake3"
)

var (
	// ErrCipherUnavailable signals that the encryption primitive could not
	// be initialized or driven. It is the only failure Encrypt can return.
	ErrCipherUnavailable = errors.New("encryption primitive unavailable")
	// ErrDecryptionFailed signals an authentication tag mismatch: key
	// mismatch or tampering. Callers cannot distinguish the two.
	ErrDecryptionFailed = errors.New("decryption failed")
	// ErrInvalidKey rejects master keys of the wrong size.
	ErrInvalidKey = errors.New("master key must be 32 bytes")
)

// Payload is ciphertext plus the integrity material needed to decrypt it.
// The invariant decrypt(encrypt(x)) == x holds for any plaintext and any
// valid key.
type Payload struct {
	Ciphertext     []byte `json:"ciphertext"`
	Nonce          []byte `json:"nonce"`
	Tag            []byte `json:"tag"`
	Classification string `json:"classification"`
}

// Service wraps a process master key behind the operations the rest of
// the engine needs. Instances are immutable after construction and safe
// for concurrent use.
type Service struct {
	aead     cipher.AEAD
	recorder audit.Recorder
}

// NewService builds a Service around the 32-byte master key. The recorder
// receives one entry per operation; nil disables auditing (tests only).
func NewService(masterKey []byte, recorder audit.Recorder) (*Service, error) {
	if len(masterKey) != keySize {
		return nil, ErrInvalidKey
	}
	block, err := aes.NewCipher(masterKey)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCipherUnavailable, err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCipherUnavailable, err)
	}
	return &Service{aead: aead, recorder: recorder}, nil
}

// Encrypt seals the plaintext under a fresh random nonce and tags the
// result with the supplied data classification.
func (s *Service) Encrypt(ctx context.Context, plaintext []byte, classification string) (Payload, error) {
	nonce := make([]byte, nonceSize)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		s.record(ctx, "data_encryption", audit.OutcomeFailure, map[string]string{
			"algorithm": algorithmAESGCM,
			"reason":    "nonce generation failed",
		})
		return Payload{}, fmt.Errorf("%w: %v", ErrCipherUnavailable, err)
	}

	sealed := s.aead.Seal(nil, nonce, plaintext, nil)
	payload := Payload{
		Ciphertext:     sealed[:len(sealed)-tagSize],
		Nonce:          nonce,
		Tag:            sealed[len(sealed)-tagSize:],
		Classification: classification,
	}

	s.record(ctx, "data_encryption", audit.OutcomeSuccess, map[string]string{
		"algorithm":      algorithmAESGCM,
		"classification": classification,
		"plaintext_len":  strconv.Itoa(len(plaintext)),
	})
	return payload, nil
}

// Decrypt opens the payload. A tag that does not verify yields
// [ErrDecryptionFailed], never garbage plaintext.
func (s *Service) Decrypt(ctx context.Context, payload Payload) ([]byte, error) {
	if len(payload.Nonce) != nonceSize || len(payload.Tag) != tagSize {
		s.record(ctx, "data_decryption", audit.OutcomeFailure, map[string]string{
			"algorithm":      algorithmAESGCM,
			"classification": payload.Classification,
			"reason":         "malformed payload",
		})
		return nil, ErrDecryptionFailed
	}

	sealed := make([]byte, 0, len(payload.Ciphertext)+tagSize)
	sealed = append(sealed, payload.Ciphertext...)
	sealed = append(sealed, payload.Tag...)

	plaintext, err := s.aead.Open(nil, payload.Nonce, sealed, nil)
	if err != nil {
		s.record(ctx, "data_decryption", audit.OutcomeFailure, map[string]string{
			"algorithm":      algorithmAESGCM,
			"classification": payload.Classification,
			"reason":         "authentication tag mismatch",
		})
		return nil, ErrDecryptionFailed
	}

	s.record(ctx, "data_decryption", audit.OutcomeSuccess, map[string]string{
		"algorithm":      algorithmAESGCM,
		"classification": payload.Classification,
	})
	return plaintext, nil
}

// Hash returns the hex BLAKE3 digest of data. Deterministic and one-way;
// used for integrity fingerprints, not for passwords.
func (s *Service) Hash(data []byte) string {
	digest := blake3.Sum256(data)
	return hex.EncodeToString(digest[:])
}

func (s *Service) record(ctx context.Context, action string, outcome audit.Outcome, detail map[string]string) {
	if s.recorder == nil {
		return
	}
	s.recorder.Record(ctx, audit.Event{
		Action:  action,
		Outcome: outcome,
		Detail:  detail,
	})
}
