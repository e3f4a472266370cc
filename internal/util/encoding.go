package util

import (
	"encoding/base64"
	"regexp"
	"strings"
)

var base64urlPattern = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// DecodeBase64URL decodes a base64url string, tolerating both padded and
// unpadded input. Frame and ratchet blobs arrive unpadded on the wire.
func DecodeBase64URL(s string) ([]byte, error) {
	return base64.RawURLEncoding.DecodeString(strings.TrimRight(s, "="))
}

// EncodeBase64URL encodes bytes as unpadded base64url.
func EncodeBase64URL(data []byte) string {
	return base64.RawURLEncoding.EncodeToString(data)
}

// IsBase64URL reports whether s is a non-empty unpadded base64url string.
func IsBase64URL(s string) bool {
	return base64urlPattern.MatchString(s)
}
