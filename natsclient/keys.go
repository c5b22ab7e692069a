package natsclient

import (
	"encoding/base64"
	"strings"
)

const encodedKeyPrefix = "b64."

// EncodeKey maps an arbitrary string onto the KV key alphabet. Keys that are
// already valid pass through unchanged so buckets stay readable with the
// nats CLI.
func EncodeKey(key string) string {
	if ValidKey(key) && !strings.HasPrefix(key, encodedKeyPrefix) {
		return key
	}
	return encodedKeyPrefix + base64.RawURLEncoding.EncodeToString([]byte(key))
}

// DecodeKey reverses EncodeKey. Unrecognised input is returned as is.
func DecodeKey(stored string) string {
	if !strings.HasPrefix(stored, encodedKeyPrefix) {
		return stored
	}
	raw, err := base64.RawURLEncoding.DecodeString(strings.TrimPrefix(stored, encodedKeyPrefix))
	if err != nil {
		return stored
	}
	return string(raw)
}

// ValidKey reports whether key can be stored in a KV bucket verbatim.
func ValidKey(key string) bool {
	if key == "" || strings.HasPrefix(key, ".") || strings.HasSuffix(key, ".") || strings.Contains(key, "..") {
		return false
	}
	for _, r := range key {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '-', r == '_', r == '/', r == '=', r == '.':
		default:
			return false
		}
	}
	return true
}
