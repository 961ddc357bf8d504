package sessionguard

import (
	"time"

	"github.com/clinware/sessionguard/session"
)

// Severity ranks a security warning.
type Severity uint8

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// WarningKind identifies the anomaly a validation check detected.
type WarningKind string

const (
	WarningNotFound          WarningKind = "not_found"
	WarningExpired           WarningKind = "expired"
	WarningIntegrity         WarningKind = "integrity_violation"
	WarningNotActive         WarningKind = "session_not_active"
	WarningAddressMismatch   WarningKind = "address_mismatch"
	WarningDeviceMismatch    WarningKind = "device_mismatch"
	WarningAnonymizedNetwork WarningKind = "anonymized_network"
	WarningIdleTimeout       WarningKind = "idle_timeout"
)

// RequiredAction tells the calling layer which remediation to drive. A
// rejected validation always carries at least one action, never only a
// boolean.
type RequiredAction string

const (
	ActionRequireReauth    RequiredAction = "require_reauth"
	ActionRenewSession     RequiredAction = "renew_session"
	ActionRotateTokens     RequiredAction = "rotate_tokens"
	ActionTerminateSession RequiredAction = "terminate_session"
)

// TerminationReason is recorded in the audit event when a session ends.
type TerminationReason string

const (
	ReasonLogout             TerminationReason = "logout"
	ReasonExpired            TerminationReason = "expired"
	ReasonSecurityViolation  TerminationReason = "security_violation"
	ReasonAdminAction        TerminationReason = "admin_action"
	ReasonIntegrityViolation TerminationReason = "integrity_violation"
)

// SecurityWarning is produced during validation and never persisted beyond
// the validation result.
type SecurityWarning struct {
	Kind              WarningKind
	Severity          Severity
	Message           string
	RecommendedAction RequiredAction
}

// GeoSignal carries optional network-origin hints supplied by the caller.
type GeoSignal struct {
	Country         string
	Region          string
	AnonymizedProxy bool
}

// SecurityContext describes one inbound request. It is constructed per
// request by the caller, consumed once, and discarded.
type SecurityContext struct {
	SourceAddress         string
	UserAgent             string
	DeviceFingerprintSeed string
	Geo                   *GeoSignal
	RequestFingerprint    string
	ObservedAt            time.Time
}

// ValidationResult is the structured outcome of a validation call. Policy
// rejections are expressed here, not as errors, so callers can render the
// right response without exception-style control flow.
type ValidationResult struct {
	Valid              bool
	Session            *session.Session
	Warnings           []SecurityWarning
	RequiredActions    []RequiredAction
	RenewalRecommended bool
	RiskScore          int
	EvaluatedAt        time.Time
}

// HasCritical reports whether any warning carries Critical severity.
func (r ValidationResult) HasCritical() bool {
	for _, w := range r.Warnings {
		if w.Severity == SeverityCritical {
			return true
		}
	}
	return false
}

func (r ValidationResult) hasAction(action RequiredAction) bool {
	for _, a := range r.RequiredActions {
		if a == action {
			return true
		}
	}
	return false
}
