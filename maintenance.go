package sessionguard

import (
	"context"
	"strconv"
	"time"

	"go.uber.org/zap"

	"github.com/clinware/sessionguard/session"
)

// The two maintenance tasks run on independent timers, fully concurrent with
// request handling. They reach session state only through the same
// synchronized store operations the foreground uses, and both stop together
// when the Manager closes.

func (m *Manager) startMaintenance() {
	m.wg.Add(2)
	go m.sweepLoop()
	go m.cleanupLoop()
}

func (m *Manager) sweepLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.Maintenance.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.sweepOnce(context.Background())
		case <-m.done:
			return
		}
	}
}

func (m *Manager) cleanupLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.Maintenance.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			m.cleanupOnce(context.Background())
		case <-m.done:
			return
		}
	}
}

// sweepOnce walks a snapshot of the store: expired sessions are terminated,
// sessions idle beyond twice the idle timeout are terminated as a security
// violation, and sessions with anomalously high access counts are flagged
// Suspicious for operator review without being terminated.
func (m *Manager) sweepOnce(ctx context.Context) {
	now := m.now()
	var expired, idle, flagged int

	for _, sess := range m.store.Snapshot() {
		switch {
		case now.After(sess.ExpiresAt):
			m.metrics.Inc(MetricSweepExpired)
			_ = m.TerminateSession(ctx, sess.SessionID, ReasonExpired)
			expired++
		case now.Sub(sess.LastActivityAt) > 2*m.cfg.Session.IdleTimeout:
			m.metrics.Inc(MetricSweepIdle)
			_ = m.TerminateSession(ctx, sess.SessionID, ReasonSecurityViolation)
			idle++
		case sess.Status == session.StatusActive && sess.AccessCount > m.cfg.Risk.AnomalousAccessCount:
			if m.store.MarkStatus(sess.SessionID, session.StatusSuspicious) {
				m.metrics.Inc(MetricSessionFlagged)
				m.emitAudit(ctx, AuditEvent{
					Action:        auditSessionFlagged,
					PrincipalID:   sess.PrincipalID,
					SessionID:     sess.SessionID,
					SourceAddress: sess.SourceAddress,
					Outcome:       outcomeSuccess,
					RiskMetadata: map[string]string{
						"access_count": strconv.FormatUint(sess.AccessCount, 10),
					},
				})
				flagged++
			}
		}
	}

	if expired > 0 || idle > 0 || flagged > 0 {
		m.logger.Info("security sweep finished",
			zap.Int("expired", expired),
			zap.Int("idle_terminated", idle),
			zap.Int("flagged", flagged),
			zap.Int("remaining", m.store.Len()),
		)
	}
}

// cleanupOnce permanently purges records whose expiry is older than the
// grace period, reclaiming memory.
func (m *Manager) cleanupOnce(ctx context.Context) {
	cutoff := m.now().Add(-m.cfg.Session.ExpiredGracePeriod)
	purged := m.store.PurgeExpiredBefore(cutoff)
	if len(purged) == 0 {
		return
	}

	m.metrics.Add(MetricCleanupPurged, uint64(len(purged)))
	m.emitAudit(ctx, AuditEvent{
		Action:  auditCleanupCompleted,
		Outcome: outcomeSuccess,
		RiskMetadata: map[string]string{
			"purged": strconv.Itoa(len(purged)),
		},
	})
	m.logger.Info("cleanup purged expired sessions",
		zap.Int("purged", len(purged)),
		zap.Int("remaining", m.store.Len()),
	)
}
