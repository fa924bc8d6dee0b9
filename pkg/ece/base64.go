package ece

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// DecodeBase64 decodes the base64 variants seen in bridged push
// message envelopes. Autopush emits URL-safe unpadded values, but some
// native transports re-encode with padding or the standard alphabet.
func DecodeBase64(value string) ([]byte, error) {
	value = strings.TrimSpace(value)
	decoded, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(value, "="))
	if err == nil {
		return decoded, nil
	}
	decoded, stdErr := base64.RawStdEncoding.DecodeString(strings.TrimRight(value, "="))
	if stdErr == nil {
		return decoded, nil
	}
	return nil, fmt.Errorf("invalid base64 value: %w", err)
}

// EncodeBase64 encodes bytes the way subscription info is published:
// URL-safe without padding.
func EncodeBase64(value []byte) string {
	return base64.RawURLEncoding.EncodeToString(value)
}
