package pushclient

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// RawKeyLength is the size of an uncompressed P-256 public key.
const RawKeyLength = 65

const uncompressedPointPrefix = 0x04

var base64URLReplacer = strings.NewReplacer("+", "-", "/", "_")

// ToRawKey decodes a URL-safe base64 application server key into raw bytes.
// Padded and standard-alphabet input is accepted. Anything that does not decode
// to an uncompressed 65 byte point is rejected.
func ToRawKey(encoded string) ([]byte, error) {
	trimmed := strings.TrimSpace(encoded)
	if trimmed == "" {
		return nil, fmt.Errorf("%w: key is empty", ErrInvalidKey)
	}

	normalized := base64URLReplacer.Replace(strings.TrimRight(trimmed, "="))
	raw, err := base64.RawURLEncoding.DecodeString(normalized)
	if err != nil {
		return nil, fmt.Errorf("%w: not base64url: %v", ErrInvalidKey, err)
	}
	if len(raw) != RawKeyLength {
		return nil, fmt.Errorf("%w: decoded %d bytes, want %d", ErrInvalidKey, len(raw), RawKeyLength)
	}
	if raw[0] != uncompressedPointPrefix {
		return nil, fmt.Errorf("%w: not an uncompressed EC point", ErrInvalidKey)
	}

	return raw, nil
}

// EncodeKey renders key material the way browsers expose it: base64url without padding.
func EncodeKey(raw []byte) string {
	return base64.RawURLEncoding.EncodeToString(raw)
}
