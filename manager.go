package sessionguard

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/clinware/sessionguard/internal"
	"github.com/clinware/sessionguard/session"
)

// Manager is the request-facing session lifecycle API. It owns the store,
// the integrity guard, and the background maintenance tasks; all mutations
// of session state go through its exposed operations.
//
// Manager instances are built once through [Builder.Build] and are safe for
// concurrent use.
type Manager struct {
	cfg       Config
	store     *session.Store
	audit     *auditDispatcher
	metrics   *Metrics
	encryptor Encryptor
	logger    *zap.Logger
	now       func() time.Time

	done      chan struct{}
	wg        sync.WaitGroup
	closed    atomic.Bool
	closeOnce sync.Once
}

// CreateSession issues a new session for an already-authenticated principal.
// Under the single-session policy any existing active session of the
// principal is terminated (reason admin_action) atomically with the insert.
func (m *Manager) CreateSession(ctx context.Context, principalID string, sctx SecurityContext, level session.SecurityLevel) (*session.Session, error) {
	if m.closed.Load() {
		return nil, ErrManagerClosed
	}
	if strings.TrimSpace(principalID) == "" {
		return nil, fmt.Errorf("%w: empty principal id", ErrPolicyViolation)
	}

	sid, err := internal.NewSessionID()
	if err != nil {
		return nil, fmt.Errorf("generate session id: %w", err)
	}
	token, err := internal.NewAntiForgeryToken()
	if err != nil {
		return nil, fmt.Errorf("generate anti-forgery token: %w", err)
	}

	now := m.now()
	sess := session.Session{
		SessionID:           sid.String(),
		PrincipalID:         principalID,
		CreatedAt:           now,
		LastActivityAt:      now,
		ExpiresAt:           now.Add(m.cfg.Session.MaxLifetime),
		LastTokenRotationAt: now,
		SourceAddress:       sctx.SourceAddress,
		UserAgent:           sctx.UserAgent,
		DeviceFingerprint:   internal.DeriveFingerprint(sctx.UserAgent, sctx.SourceAddress, fingerprintSeed(sctx)),
		AntiForgeryToken:    token.String(),
		Status:              session.StatusActive,
		Level:               level,
		Flags:               flagsForLevel(level),
	}

	replaced, err := m.store.InsertExclusive(sess, m.cfg.Session.SingleSession)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrPolicyViolation, err)
	}

	for _, old := range replaced {
		m.metrics.Inc(MetricSessionReplaced)
		m.metrics.Inc(MetricSessionTerminated)
		m.emitTerminated(ctx, old, ReasonAdminAction, now)
	}

	m.metrics.Inc(MetricSessionCreated)
	m.emitAudit(ctx, AuditEvent{
		Action:        auditSessionCreated,
		PrincipalID:   principalID,
		SessionID:     sess.SessionID,
		SourceAddress: sess.SourceAddress,
		Outcome:       outcomeSuccess,
		RiskMetadata: map[string]string{
			"security_level": level.String(),
			"expires_at":     sess.ExpiresAt.UTC().Format(time.RFC3339),
		},
	})
	m.logger.Debug("session created",
		zap.String("principal_id", principalID),
		zap.String("security_level", level.String()),
	)

	out := sess
	return &out, nil
}

// ValidateSession scores the session against the request context and returns
// a structured result. Side effects: an acceptable result updates
// LastActivityAt and the access counter; an expired or tampered session is
// terminated. All other rejections leave the record untouched.
func (m *Manager) ValidateSession(ctx context.Context, sessionID string, sctx SecurityContext) (ValidationResult, error) {
	if m.closed.Load() {
		return ValidationResult{}, ErrManagerClosed
	}

	now := m.now()
	stored, found := m.store.Get(sessionID)
	verified := found && m.store.Verify(stored)
	result := m.evaluateRisk(stored, found, verified, sctx, now)

	switch {
	case !found:
		m.metrics.Inc(MetricValidationRejected)
	case now.After(stored.ExpiresAt):
		m.metrics.Inc(MetricValidationRejected)
		_ = m.TerminateSession(ctx, sessionID, ReasonExpired)
	case !verified:
		m.metrics.Inc(MetricValidationRejected)
		m.metrics.Inc(MetricIntegrityFailure)
		_ = m.TerminateSession(ctx, sessionID, ReasonIntegrityViolation)
	case result.Valid:
		m.store.Touch(sessionID, now)
		if result.Session != nil {
			result.Session.LastActivityAt = now
			result.Session.AccessCount++
		}
		m.metrics.Inc(MetricValidationAccepted)
	default:
		m.metrics.Inc(MetricValidationRejected)
	}

	for _, w := range result.Warnings {
		switch w.Kind {
		case WarningAddressMismatch:
			m.metrics.Inc(MetricAddressMismatch)
		case WarningDeviceMismatch:
			m.metrics.Inc(MetricDeviceMismatch)
		}
	}

	action := auditSessionValidated
	outcome := outcomeSuccess
	if !result.Valid {
		action = auditSessionRejected
		outcome = outcomeFailure
	}
	m.emitAudit(ctx, AuditEvent{
		Action:        action,
		PrincipalID:   stored.PrincipalID,
		SessionID:     sessionID,
		SourceAddress: sctx.SourceAddress,
		Outcome:       outcome,
		RiskMetadata:  riskMetadata(result),
	})

	return result, nil
}

// RenewSession extends a session into a fresh expiry window. Renewal is
// gated by the renew threshold, which is stricter than the reject threshold:
// a session can still validate while being too risky to extend.
func (m *Manager) RenewSession(ctx context.Context, sessionID string, sctx SecurityContext) (*session.Session, error) {
	result, err := m.ValidateSession(ctx, sessionID, sctx)
	if err != nil {
		return nil, err
	}
	if !result.Valid || result.RiskScore >= m.cfg.Risk.RenewThreshold {
		m.metrics.Inc(MetricRenewalDenied)
		m.emitAudit(ctx, AuditEvent{
			Action:        auditRenewalDenied,
			SessionID:     sessionID,
			SourceAddress: sctx.SourceAddress,
			Outcome:       outcomeFailure,
			RiskMetadata:  riskMetadata(result),
		})
		return nil, fmt.Errorf("%w: risk score %d", ErrRenewalDenied, result.RiskScore)
	}

	token, err := internal.NewAntiForgeryToken()
	if err != nil {
		return nil, fmt.Errorf("generate anti-forgery token: %w", err)
	}

	// Conditional write-back: a termination completing after the validation
	// above must win, never be overwritten by the renewed record.
	now := m.now()
	sess, ok := m.store.Update(sessionID, func(s *session.Session) {
		s.ExpiresAt = now.Add(m.cfg.Session.MaxLifetime)
		s.LastActivityAt = now
		s.LastTokenRotationAt = now
		s.AntiForgeryToken = token.String()
		s.RenewalCount++
	})
	if !ok {
		return nil, ErrSessionNotFound
	}

	m.metrics.Inc(MetricSessionRenewed)
	m.emitAudit(ctx, AuditEvent{
		Action:        auditSessionRenewed,
		PrincipalID:   sess.PrincipalID,
		SessionID:     sessionID,
		SourceAddress: sctx.SourceAddress,
		Outcome:       outcomeSuccess,
		RiskMetadata: map[string]string{
			"renewal_count": strconv.Itoa(sess.RenewalCount),
			"expires_at":    sess.ExpiresAt.UTC().Format(time.RFC3339),
		},
	})

	out := sess
	return &out, nil
}

// RotateTokens issues a new anti-forgery token. At SecurityLevel Maximum the
// session id itself is rotated: the old record is removed and a new one
// inserted with the same principal, binding, and creation time. Callers must
// switch to the returned session's id.
func (m *Manager) RotateTokens(ctx context.Context, sessionID string, sctx SecurityContext) (*session.Session, error) {
	if m.closed.Load() {
		return nil, ErrManagerClosed
	}

	sess, ok := m.store.Get(sessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}
	now := m.now()
	if now.After(sess.ExpiresAt) {
		_ = m.TerminateSession(ctx, sessionID, ReasonExpired)
		return nil, ErrSessionExpired
	}
	if !m.store.Verify(sess) {
		m.metrics.Inc(MetricIntegrityFailure)
		_ = m.TerminateSession(ctx, sessionID, ReasonIntegrityViolation)
		return nil, ErrIntegrityViolation
	}

	token, err := internal.NewAntiForgeryToken()
	if err != nil {
		return nil, fmt.Errorf("generate anti-forgery token: %w", err)
	}
	sess.AntiForgeryToken = token.String()
	sess.LastTokenRotationAt = now

	meta := map[string]string{"full_rotation": "0"}
	if sess.Level == session.LevelMaximum {
		sid, err := internal.NewSessionID()
		if err != nil {
			return nil, fmt.Errorf("generate session id: %w", err)
		}
		sess.SessionID = sid.String()
		if err := m.store.Replace(sessionID, sess); err != nil {
			if errors.Is(err, session.ErrSessionNotFound) {
				return nil, ErrSessionNotFound
			}
			return nil, fmt.Errorf("rotate session id: %w", err)
		}
		meta["full_rotation"] = "1"
		meta["rotated_from"] = sessionID
	} else {
		// Same conditional discipline as renewal: a concurrent termination
		// between the read above and this write-back must win.
		updated, ok := m.store.Update(sessionID, func(s *session.Session) {
			s.AntiForgeryToken = sess.AntiForgeryToken
			s.LastTokenRotationAt = now
		})
		if !ok {
			return nil, ErrSessionNotFound
		}
		sess = updated
	}

	m.metrics.Inc(MetricTokensRotated)
	m.emitAudit(ctx, AuditEvent{
		Action:        auditTokensRotated,
		PrincipalID:   sess.PrincipalID,
		SessionID:     sess.SessionID,
		SourceAddress: sctx.SourceAddress,
		Outcome:       outcomeSuccess,
		RiskMetadata:  meta,
	})

	out := sess
	return &out, nil
}

// TerminateSession removes the session from the store and indices and emits
// an audit event carrying the reason and session duration. Terminating an
// already-removed id is a no-op.
func (m *Manager) TerminateSession(ctx context.Context, sessionID string, reason TerminationReason) error {
	removed, ok := m.store.RemoveWithIndices(sessionID)
	if !ok {
		return nil
	}

	m.metrics.Inc(MetricSessionTerminated)
	m.emitTerminated(ctx, removed, reason, m.now())
	m.logger.Debug("session terminated",
		zap.String("principal_id", removed.PrincipalID),
		zap.String("reason", string(reason)),
	)
	return nil
}

// ActiveSessionsFor is a read-only projection for monitoring and UI.
func (m *Manager) ActiveSessionsFor(principalID string) []session.Session {
	return m.store.ActiveSessionsFor(principalID)
}

// SessionsForAddress lists every session bound to a source address.
func (m *Manager) SessionsForAddress(address string) []session.Session {
	return m.store.SessionsForAddress(address)
}

// TerminateSessionsForAddress is a containment operation: it terminates all
// sessions originating from an address and returns how many were removed.
func (m *Manager) TerminateSessionsForAddress(ctx context.Context, address string, reason TerminationReason) int {
	sessions := m.store.SessionsForAddress(address)
	var terminated int
	for _, sess := range sessions {
		if _, ok := m.store.RemoveWithIndices(sess.SessionID); ok {
			terminated++
			m.metrics.Inc(MetricSessionTerminated)
			m.emitTerminated(ctx, sess, reason, m.now())
		}
	}
	return terminated
}

// AttachPayload encrypts plaintext through the external collaborator and
// stores the resulting opaque blob on the session. The store lock is never
// held across the encryption call.
func (m *Manager) AttachPayload(ctx context.Context, sessionID string, plaintext []byte) error {
	if m.encryptor == nil {
		return ErrEncryptionUnavailable
	}
	if _, ok := m.store.Get(sessionID); !ok {
		return ErrSessionNotFound
	}

	blob, err := m.encryptor.Encrypt(ctx, plaintext, sessionID)
	if err != nil {
		return fmt.Errorf("encrypt session payload: %w", err)
	}
	if !m.store.SetPayload(sessionID, blob) {
		return ErrSessionNotFound
	}
	return nil
}

// Payload decrypts and returns the session's stored payload.
func (m *Manager) Payload(ctx context.Context, sessionID string) ([]byte, error) {
	if m.encryptor == nil {
		return nil, ErrEncryptionUnavailable
	}
	sess, ok := m.store.Get(sessionID)
	if !ok {
		return nil, ErrSessionNotFound
	}
	if sess.EncryptedPayload == nil {
		return nil, nil
	}

	plaintext, err := m.encryptor.Decrypt(ctx, sess.EncryptedPayload, sessionID)
	if err != nil {
		return nil, fmt.Errorf("decrypt session payload: %w", err)
	}
	return plaintext, nil
}

// MetricsSnapshot returns a point-in-time copy of all engine counters.
func (m *Manager) MetricsSnapshot() MetricsSnapshot {
	return m.metrics.Snapshot()
}

// AuditDropped reports how many audit events the dispatcher discarded.
func (m *Manager) AuditDropped() uint64 {
	return m.audit.Dropped()
}

// Close stops the background maintenance tasks as a unit and drains the
// audit dispatcher. Lifecycle calls after Close return ErrManagerClosed.
func (m *Manager) Close() {
	if m == nil {
		return
	}
	m.closeOnce.Do(func() {
		m.closed.Store(true)
		close(m.done)
		m.wg.Wait()
		m.audit.Close()
	})
}

func (m *Manager) emitTerminated(ctx context.Context, sess session.Session, reason TerminationReason, now time.Time) {
	m.emitAudit(ctx, AuditEvent{
		Action:        auditSessionTerminated,
		PrincipalID:   sess.PrincipalID,
		SessionID:     sess.SessionID,
		SourceAddress: sess.SourceAddress,
		Outcome:       outcomeSuccess,
		RiskMetadata: map[string]string{
			"reason":           string(reason),
			"session_duration": now.Sub(sess.CreatedAt).String(),
		},
	})
}

func (m *Manager) emitAudit(ctx context.Context, event AuditEvent) {
	m.audit.Emit(ctx, event)
}

func flagsForLevel(level session.SecurityLevel) session.Flags {
	// IP binding is mandatory in this policy domain regardless of level.
	flags := session.FlagIPLocked
	if level >= session.LevelEnhanced {
		flags |= session.FlagDeviceLocked
	}
	if level == session.LevelMaximum {
		flags |= session.FlagRequireSecondFactor
	}
	return flags
}

func fingerprintSeed(sctx SecurityContext) string {
	if sctx.DeviceFingerprintSeed != "" {
		return sctx.DeviceFingerprintSeed
	}
	return sctx.RequestFingerprint
}

func riskMetadata(result ValidationResult) map[string]string {
	meta := map[string]string{
		"risk_score": strconv.Itoa(result.RiskScore),
	}
	if len(result.Warnings) > 0 {
		kinds := make([]string, 0, len(result.Warnings))
		for _, w := range result.Warnings {
			kinds = append(kinds, string(w.Kind))
		}
		meta["warnings"] = strings.Join(kinds, ",")
	}
	if len(result.RequiredActions) > 0 {
		actions := make([]string, 0, len(result.RequiredActions))
		for _, a := range result.RequiredActions {
			actions = append(actions, string(a))
		}
		meta["required_actions"] = strings.Join(actions, ",")
	}
	if result.RenewalRecommended {
		meta["renewal_recommended"] = "1"
	}
	return meta
}
