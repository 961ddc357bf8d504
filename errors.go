package sessionguard

import "errors"

var (
	// ErrSessionNotFound reports an unknown session id. Unknown ids are
	// treated as maximally risky during validation, not as a benign miss.
	ErrSessionNotFound = errors.New("session not found")
	// ErrSessionExpired reports a session past its maximum lifetime.
	ErrSessionExpired = errors.New("session expired")
	// ErrIntegrityViolation reports a stored record whose integrity tag no
	// longer verifies. Always fatal to that session.
	ErrIntegrityViolation = errors.New("session integrity violation")
	// ErrPolicyViolation reports invalid input such as an empty principal id.
	ErrPolicyViolation = errors.New("session policy violation")
	// ErrRenewalDenied reports a renewal blocked by the risk threshold.
	ErrRenewalDenied = errors.New("session renewal denied")
	// ErrRateExceeded is reserved for callers layering request throttling on
	// top of the engine; it is never produced internally.
	ErrRateExceeded = errors.New("request rate exceeded")
	// ErrEncryptionUnavailable reports payload operations without a
	// configured encryption collaborator.
	ErrEncryptionUnavailable = errors.New("encryption service not configured")
	// ErrManagerClosed reports lifecycle calls after Close.
	ErrManagerClosed = errors.New("session manager closed")
)
