package sessionguard

import (
	"fmt"
	"time"

	"github.com/clinware/sessionguard/internal"
	"github.com/clinware/sessionguard/session"
)

// evaluateRisk is the multi-signal scoring algorithm. It is a pure function
// of (stored session, context, now) and the configured policy: it mutates
// nothing, and identical inputs always produce identical scores and warning
// sets. The Manager applies side effects based on its output.
func (m *Manager) evaluateRisk(stored session.Session, found, verified bool, sctx SecurityContext, now time.Time) ValidationResult {
	result := ValidationResult{EvaluatedAt: now}

	if !found {
		result.RiskScore = riskScoreMax
		result.Warnings = append(result.Warnings, SecurityWarning{
			Kind:              WarningNotFound,
			Severity:          SeverityCritical,
			Message:           "session id is not known to the store",
			RecommendedAction: ActionRequireReauth,
		})
		result.RequiredActions = append(result.RequiredActions, ActionRequireReauth)
		return result
	}

	if now.After(stored.ExpiresAt) {
		result.Warnings = append(result.Warnings, SecurityWarning{
			Kind:              WarningExpired,
			Severity:          SeverityMedium,
			Message:           "session exceeded its maximum lifetime",
			RecommendedAction: ActionRequireReauth,
		})
		result.RequiredActions = append(result.RequiredActions, ActionRequireReauth)
		return result
	}

	if !verified {
		result.RiskScore = riskScoreMax
		result.Warnings = append(result.Warnings, SecurityWarning{
			Kind:              WarningIntegrity,
			Severity:          SeverityCritical,
			Message:           "stored session failed integrity verification",
			RecommendedAction: ActionRequireReauth,
		})
		result.RequiredActions = append(result.RequiredActions, ActionRequireReauth)
		return result
	}

	rc := m.cfg.Risk
	sc := m.cfg.Session

	// Independent checks run in a fixed order so the accumulated score and
	// warning set are deterministic.
	if stored.Status != session.StatusActive {
		result.RiskScore += rc.FlaggedStatusWeight
		result.Warnings = append(result.Warnings, SecurityWarning{
			Kind:              WarningNotActive,
			Severity:          SeverityHigh,
			Message:           fmt.Sprintf("session status is %s", stored.Status),
			RecommendedAction: ActionRequireReauth,
		})
		appendAction(&result, ActionRequireReauth)
	}

	if stored.Flags.Has(session.FlagIPLocked) && sctx.SourceAddress != stored.SourceAddress {
		result.RiskScore += rc.AddressMismatchWeight
		result.Warnings = append(result.Warnings, SecurityWarning{
			Kind:              WarningAddressMismatch,
			Severity:          SeverityHigh,
			Message:           "request address does not match the session binding",
			RecommendedAction: ActionRequireReauth,
		})
		appendAction(&result, ActionRequireReauth)
	}

	if stored.Flags.Has(session.FlagDeviceLocked) {
		current := internal.DeriveFingerprint(sctx.UserAgent, sctx.SourceAddress, fingerprintSeed(sctx))
		if current != stored.DeviceFingerprint {
			result.RiskScore += rc.DeviceMismatchWeight
			result.Warnings = append(result.Warnings, SecurityWarning{
				Kind:              WarningDeviceMismatch,
				Severity:          SeverityHigh,
				Message:           "request device fingerprint does not match the session binding",
				RecommendedAction: ActionRequireReauth,
			})
			appendAction(&result, ActionRequireReauth)
		}
	}

	if sctx.Geo != nil && sctx.Geo.AnonymizedProxy {
		result.RiskScore += rc.AnonymizedNetworkWeight
		result.Warnings = append(result.Warnings, SecurityWarning{
			Kind:     WarningAnonymizedNetwork,
			Severity: SeverityHigh,
			Message:  "request arrived through an anonymization proxy or VPN",
		})
	}

	if now.Sub(stored.LastActivityAt) > sc.IdleTimeout {
		result.RiskScore += rc.IdleWeight
		result.Warnings = append(result.Warnings, SecurityWarning{
			Kind:              WarningIdleTimeout,
			Severity:          SeverityMedium,
			Message:           "session idle time exceeded the idle timeout",
			RecommendedAction: ActionRenewSession,
		})
		appendAction(&result, ActionRenewSession)
	}

	// Stale anti-forgery token: informational only, adds no risk.
	if now.Sub(stored.LastTokenRotationAt) > sc.TokenRotationInterval {
		appendAction(&result, ActionRotateTokens)
	}

	if stored.ExpiresAt.Sub(now) < sc.RenewalThreshold {
		result.RenewalRecommended = true
		appendAction(&result, ActionRenewSession)
	}

	result.Valid = result.RiskScore < rc.RejectThreshold && !result.HasCritical()

	// A rejection must always carry a remediation for the calling layer,
	// even when no individual check attached one.
	if !result.Valid && len(result.RequiredActions) == 0 {
		result.RequiredActions = append(result.RequiredActions, ActionRequireReauth)
	}

	sessCopy := stored
	result.Session = &sessCopy
	return result
}

func appendAction(result *ValidationResult, action RequiredAction) {
	if !result.hasAction(action) {
		result.RequiredActions = append(result.RequiredActions, action)
	}
}
