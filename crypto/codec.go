package crypto

import (
	"encoding/base64"
	"strings"
)

// Encode renders the payload as a compact dot-separated string:
// classification.nonce.tag.ciphertext, with binary parts base64url.
// Suitable for storage in Redis hash fields.
func (p Payload) Encode() string {
	enc := base64.RawURLEncoding
	return strings.Join([]string{
		p.Classification,
		enc.EncodeToString(p.Nonce),
		enc.EncodeToString(p.Tag),
		enc.EncodeToString(p.Ciphertext),
	}, ".")
}

// DecodePayload parses a string produced by [Payload.Encode]. Malformed
// input yields ErrDecryptionFailed so callers treat it like any other
// integrity failure.
func DecodePayload(s string) (Payload, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return Payload{}, ErrDecryptionFailed
	}

	enc := base64.RawURLEncoding
	nonce, err := enc.DecodeString(parts[1])
	if err != nil {
		return Payload{}, ErrDecryptionFailed
	}
	tag, err := enc.DecodeString(parts[2])
	if err != nil {
		return Payload{}, ErrDecryptionFailed
	}
	ciphertext, err := enc.DecodeString(parts[3])
	if err != nil {
		return Payload{}, ErrDecryptionFailed
	}

	return Payload{
		Ciphertext:     ciphertext,
		Nonce:          nonce,
		Tag:            tag,
		Classification: parts[0],
	}, nil
}
