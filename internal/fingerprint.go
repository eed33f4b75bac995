package internal

import (
	"crypto/sha256"
	"encoding/hex"
)

// TokenFingerprint returns a short, non-reversible label for a token so log
// lines can correlate tokens without leaking them. Empty input yields "".
func TokenFingerprint(token string) string {
	if token == "" {
		return ""
	}
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:6])
}
