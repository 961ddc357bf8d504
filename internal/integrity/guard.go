// Package integrity computes and verifies keyed integrity tags over stored
// session records so that tampering with the backing store is detectable.
package integrity

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/binary"
	"errors"
	"hash"
	"time"
)

// KeySize is the required HMAC secret size in bytes.
const KeySize = 32

// ErrKeySize is returned when the configured secret is not KeySize bytes.
var ErrKeySize = errors.New("integrity key must be 32 bytes")

// Guard holds the server-side HMAC secret. The key is loaded once at process
// start; losing it across restarts invalidates all previously issued tags.
type Guard struct {
	key [KeySize]byte
}

func NewGuard(key []byte) (*Guard, error) {
	if len(key) != KeySize {
		return nil, ErrKeySize
	}

	g := &Guard{}
	copy(g.key[:], key)
	return g, nil
}

// GenerateKey returns a fresh random HMAC secret.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, err
	}
	return key, nil
}

// Tag computes the keyed tag over the canonical serialization of the
// identity and binding fields of a session record. Fields are length-prefixed
// so no two distinct inputs share a serialization.
func (g *Guard) Tag(sessionID, principalID string, createdAt time.Time, fingerprint string) [32]byte {
	mac := hmac.New(sha256.New, g.key[:])
	writeField(mac, []byte(sessionID))
	writeField(mac, []byte(principalID))

	var ts [8]byte
	binary.BigEndian.PutUint64(ts[:], uint64(createdAt.UnixNano()))
	writeField(mac, ts[:])

	writeField(mac, []byte(fingerprint))

	var tag [32]byte
	copy(tag[:], mac.Sum(nil))
	return tag
}

// Verify recomputes the tag and compares in constant time. A mismatch means
// the stored record was altered outside the lifecycle API.
func (g *Guard) Verify(sessionID, principalID string, createdAt time.Time, fingerprint string, tag [32]byte) bool {
	expected := g.Tag(sessionID, principalID, createdAt, fingerprint)
	return subtle.ConstantTimeCompare(expected[:], tag[:]) == 1
}

func writeField(mac hash.Hash, field []byte) {
	var size [4]byte
	binary.BigEndian.PutUint32(size[:], uint32(len(field)))
	mac.Write(size[:])
	mac.Write(field)
}
