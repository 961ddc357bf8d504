package internal

import (
	"crypto/rand"
	"encoding/base64"
	"errors"
)

// SessionID is a 256-bit random session identifier.
type SessionID [32]byte

// Token is a 256-bit random anti-forgery token, drawn independently from the
// session id.
type Token [32]byte

func NewSessionID() (SessionID, error) {
	var sid SessionID
	_, err := rand.Read(sid[:])
	return sid, err
}

func (s SessionID) Bytes() []byte {
	return s[:]
}

func (s SessionID) String() string {
	// base64url, no padding, compact
	return base64.RawURLEncoding.EncodeToString(s[:])
}

func ParseSessionID(sessionID string) (SessionID, error) {
	var sid SessionID

	raw, err := base64.RawURLEncoding.DecodeString(sessionID)
	if err != nil {
		return sid, err
	}
	if len(raw) != len(sid) {
		return sid, errors.New("invalid session id size")
	}

	copy(sid[:], raw)
	return sid, nil
}

func NewAntiForgeryToken() (Token, error) {
	var tok Token
	_, err := rand.Read(tok[:])
	return tok, err
}

func (t Token) String() string {
	return base64.RawURLEncoding.EncodeToString(t[:])
}
