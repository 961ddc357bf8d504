package session

import "time"

// Status is the session state machine. Active is the only state in which a
// session can be validated; Expired, Terminated, and Locked are terminal for
// a given session id.
type Status uint8

const (
	StatusActive Status = iota
	StatusExpired
	StatusTerminated
	StatusSuspicious
	StatusLocked
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusExpired:
		return "expired"
	case StatusTerminated:
		return "terminated"
	case StatusSuspicious:
		return "suspicious"
	case StatusLocked:
		return "locked"
	default:
		return "unknown"
	}
}

// Terminal reports whether the status permits no further transitions.
func (s Status) Terminal() bool {
	return s == StatusExpired || s == StatusTerminated || s == StatusLocked
}

// SecurityLevel orders session hardening tiers. Higher levels activate
// stricter binding flags at creation time.
type SecurityLevel uint8

const (
	LevelBasic SecurityLevel = iota
	LevelEnhanced
	LevelHighSecurity
	LevelMaximum
)

func (l SecurityLevel) String() string {
	switch l {
	case LevelBasic:
		return "basic"
	case LevelEnhanced:
		return "enhanced"
	case LevelHighSecurity:
		return "high_security"
	case LevelMaximum:
		return "maximum"
	default:
		return "unknown"
	}
}

// Flags is a set of independent policy toggles attached to a session.
type Flags uint8

const (
	FlagIPLocked Flags = 1 << iota
	FlagDeviceLocked
	FlagRequireSecondFactor
	FlagMobileSession
)

func (f Flags) Has(flag Flags) bool {
	return f&flag != 0
}

// Session is one active grant of access for a principal. Records are treated
// as immutable per version: mutations go through the store, which recomputes
// the integrity tag on every write.
type Session struct {
	SessionID   string
	PrincipalID string

	CreatedAt           time.Time
	LastActivityAt      time.Time
	ExpiresAt           time.Time
	LastTokenRotationAt time.Time

	SourceAddress     string
	UserAgent         string
	DeviceFingerprint string

	AntiForgeryToken string
	Status           Status
	Level            SecurityLevel
	Flags            Flags
	RenewalCount     int
	AccessCount      uint64

	// EncryptedPayload is an opaque blob produced by the external encryption
	// collaborator. The store never interprets it.
	EncryptedPayload []byte

	IntegrityTag [32]byte
}
