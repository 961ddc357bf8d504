package internal

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

const (
	fingerprintVersion = "v1:"
	// 16 bytes (128 bits) is enough for an equality-checked fingerprint and
	// keeps the stored value compact. The full digest is never needed.
	fingerprintHashLen = 16
)

// DeriveFingerprint computes a deterministic, one-way device fingerprint from
// request attributes. Identical inputs always produce identical fingerprints,
// so binding checks reduce to a string equality comparison.
func DeriveFingerprint(userAgent, sourceAddress, requestFingerprint string) string {
	components := make([]string, 0, 3)
	for _, c := range []string{userAgent, sourceAddress, requestFingerprint} {
		if c != "" {
			components = append(components, c)
		}
	}

	// Pipe delimiter prevents boundary collisions where ["ab","c"] and
	// ["a","bc"] would otherwise hash identically.
	combined := strings.Join(components, "|")
	hash := sha256.Sum256([]byte(combined))

	return fingerprintVersion + hex.EncodeToString(hash[:fingerprintHashLen])
}
