package sessionguard

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/clinware/sessionguard/session"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type memorySink struct {
	mu     sync.Mutex
	events []AuditEvent
}

func (s *memorySink) Emit(_ context.Context, event AuditEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

func (s *memorySink) byAction(action string) []AuditEvent {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []AuditEvent
	for _, e := range s.events {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

type stubEncryptor struct{}

func (stubEncryptor) Encrypt(_ context.Context, plaintext []byte, aad string) ([]byte, error) {
	return append([]byte("enc:"+aad+":"), plaintext...), nil
}

func (stubEncryptor) Decrypt(_ context.Context, blob []byte, aad string) ([]byte, error) {
	prefix := []byte("enc:" + aad + ":")
	if !bytes.HasPrefix(blob, prefix) {
		return nil, errors.New("bad blob")
	}
	return blob[len(prefix):], nil
}

func testSecretKey() []byte {
	return bytes.Repeat([]byte{0x42}, 32)
}

func testContext() SecurityContext {
	return SecurityContext{
		SourceAddress:      "203.0.113.10",
		UserAgent:          "Mozilla/5.0 (clinic-workstation)",
		RequestFingerprint: "en-US|gzip, deflate|text/html",
	}
}

func newTestManager(t *testing.T, mutate func(*Config)) (*Manager, *fakeClock, *memorySink) {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Maintenance.Enabled = false
	cfg.Audit.DropIfFull = false
	cfg.Integrity.SecretKey = testSecretKey()
	if mutate != nil {
		mutate(&cfg)
	}

	clock := newFakeClock()
	sink := &memorySink{}

	manager, err := New().
		WithConfig(cfg).
		WithAuditSink(sink).
		WithEncryptor(stubEncryptor{}).
		WithClock(clock.Now).
		Build()
	if err != nil {
		t.Fatalf("build manager: %v", err)
	}
	t.Cleanup(manager.Close)

	return manager, clock, sink
}

func TestCreateSessionIssuesActiveSession(t *testing.T) {
	manager, clock, _ := newTestManager(t, nil)

	sess, err := manager.CreateSession(context.Background(), "clinician-1", testContext(), session.LevelEnhanced)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	if sess.SessionID == "" || sess.AntiForgeryToken == "" {
		t.Fatal("expected non-empty session id and anti-forgery token")
	}
	if sess.SessionID == sess.AntiForgeryToken {
		t.Fatal("session id and anti-forgery token must be independent values")
	}
	if sess.Status != session.StatusActive {
		t.Fatalf("expected active status, got %s", sess.Status)
	}
	if want := clock.Now().Add(20 * time.Minute); !sess.ExpiresAt.Equal(want) {
		t.Fatalf("expected expiry %v, got %v", want, sess.ExpiresAt)
	}
	if !sess.ExpiresAt.After(sess.CreatedAt) {
		t.Fatal("expiry must be after creation")
	}
	if sess.DeviceFingerprint == "" {
		t.Fatal("expected derived device fingerprint")
	}
}

func TestCreateSessionEmptyPrincipal(t *testing.T) {
	manager, _, _ := newTestManager(t, nil)

	if _, err := manager.CreateSession(context.Background(), "  ", testContext(), session.LevelBasic); !errors.Is(err, ErrPolicyViolation) {
		t.Fatalf("expected ErrPolicyViolation, got %v", err)
	}
}

func TestCreateSessionFlagsFollowSecurityLevel(t *testing.T) {
	tests := []struct {
		level session.SecurityLevel
		want  session.Flags
	}{
		{session.LevelBasic, session.FlagIPLocked},
		{session.LevelEnhanced, session.FlagIPLocked | session.FlagDeviceLocked},
		{session.LevelHighSecurity, session.FlagIPLocked | session.FlagDeviceLocked},
		{session.LevelMaximum, session.FlagIPLocked | session.FlagDeviceLocked | session.FlagRequireSecondFactor},
	}

	for _, tc := range tests {
		t.Run(tc.level.String(), func(t *testing.T) {
			manager, _, _ := newTestManager(t, nil)

			sess, err := manager.CreateSession(context.Background(), "clinician-1", testContext(), tc.level)
			if err != nil {
				t.Fatalf("create session: %v", err)
			}
			if sess.Flags != tc.want {
				t.Fatalf("level %s: expected flags %b, got %b", tc.level, tc.want, sess.Flags)
			}
		})
	}
}

func TestCreateSessionEnforcesSingleSession(t *testing.T) {
	manager, _, _ := newTestManager(t, nil)
	ctx := context.Background()

	first, err := manager.CreateSession(ctx, "p1", testContext(), session.LevelBasic)
	if err != nil {
		t.Fatalf("first create: %v", err)
	}
	second, err := manager.CreateSession(ctx, "p1", testContext(), session.LevelBasic)
	if err != nil {
		t.Fatalf("second create: %v", err)
	}

	active := manager.ActiveSessionsFor("p1")
	if len(active) != 1 {
		t.Fatalf("expected exactly one active session, got %d", len(active))
	}
	if active[0].SessionID != second.SessionID {
		t.Fatal("surviving session must be the most recently created one")
	}

	result, err := manager.ValidateSession(ctx, first.SessionID, testContext())
	if err != nil {
		t.Fatalf("validate replaced session: %v", err)
	}
	if result.Valid {
		t.Fatal("replaced session must no longer validate")
	}
	if len(result.Warnings) == 0 || result.Warnings[0].Kind != WarningNotFound {
		t.Fatalf("expected not_found warning, got %+v", result.Warnings)
	}
}

func TestCreateSessionConcurrentSamePrincipal(t *testing.T) {
	manager, _, _ := newTestManager(t, nil)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 16; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := manager.CreateSession(ctx, "p1", testContext(), session.LevelBasic); err != nil {
				t.Errorf("create session: %v", err)
			}
		}()
	}
	wg.Wait()

	if active := manager.ActiveSessionsFor("p1"); len(active) != 1 {
		t.Fatalf("single-session invariant violated: %d active sessions", len(active))
	}
}

func TestValidateImmediatelyIsCleanAndZeroRisk(t *testing.T) {
	manager, _, _ := newTestManager(t, nil)
	ctx := context.Background()

	sess, err := manager.CreateSession(ctx, "clinician-1", testContext(), session.LevelEnhanced)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	result, err := manager.ValidateSession(ctx, sess.SessionID, testContext())
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !result.Valid {
		t.Fatalf("expected valid result, got %+v", result)
	}
	if result.RiskScore != 0 {
		t.Fatalf("expected zero risk, got %d", result.RiskScore)
	}
	if len(result.Warnings) != 0 {
		t.Fatalf("expected no warnings, got %+v", result.Warnings)
	}
	if result.Session == nil || result.Session.AccessCount != 1 {
		t.Fatal("acceptable validation must bump the access counter")
	}
}

func TestValidateUnknownSessionIsMaximallyRisky(t *testing.T) {
	manager, _, _ := newTestManager(t, nil)

	result, err := manager.ValidateSession(context.Background(), "no-such-session", testContext())
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if result.Valid {
		t.Fatal("unknown session must not validate")
	}
	if result.RiskScore != 100 {
		t.Fatalf("expected risk score 100, got %d", result.RiskScore)
	}
	if !result.HasCritical() {
		t.Fatal("expected a critical warning")
	}
	if !result.hasAction(ActionRequireReauth) {
		t.Fatalf("expected require_reauth action, got %v", result.RequiredActions)
	}
}

func TestSessionLifetimeScenario(t *testing.T) {
	manager, clock, _ := newTestManager(t, nil)
	ctx := context.Background()

	sess, err := manager.CreateSession(ctx, "clinician-1", testContext(), session.LevelBasic)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	result, err := manager.ValidateSession(ctx, sess.SessionID, testContext())
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !result.Valid || result.RiskScore != 0 {
		t.Fatalf("fresh session must validate cleanly, got %+v", result)
	}

	clock.Advance(19 * time.Minute)
	result, err = manager.ValidateSession(ctx, sess.SessionID, testContext())
	if err != nil {
		t.Fatalf("validate at 19m: %v", err)
	}
	if !result.RenewalRecommended {
		t.Fatal("expected renewal recommendation one minute before expiry")
	}
	if !result.hasAction(ActionRenewSession) {
		t.Fatalf("expected renew_session action, got %v", result.RequiredActions)
	}

	clock.Advance(2 * time.Minute)
	result, err = manager.ValidateSession(ctx, sess.SessionID, testContext())
	if err != nil {
		t.Fatalf("validate at 21m: %v", err)
	}
	if result.Valid {
		t.Fatal("expired session must not validate")
	}
	if len(result.Warnings) == 0 || result.Warnings[0].Kind != WarningExpired {
		t.Fatalf("expected expired warning, got %+v", result.Warnings)
	}

	// Expiry is a hard failure: the record must be gone afterwards.
	result, err = manager.ValidateSession(ctx, sess.SessionID, testContext())
	if err != nil {
		t.Fatalf("validate after expiry: %v", err)
	}
	if len(result.Warnings) == 0 || result.Warnings[0].Kind != WarningNotFound {
		t.Fatalf("expected not_found after expiry termination, got %+v", result.Warnings)
	}
}

func TestValidateAddressMismatch(t *testing.T) {
	manager, _, _ := newTestManager(t, nil)
	ctx := context.Background()

	sess, err := manager.CreateSession(ctx, "clinician-1", testContext(), session.LevelBasic)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	other := testContext()
	other.SourceAddress = "198.51.100.7"
	result, err := manager.ValidateSession(ctx, sess.SessionID, other)
	if err != nil {
		t.Fatalf("validate: %v", err)
	}

	if result.Valid {
		t.Fatal("address mismatch on an IP-locked session must reject")
	}
	if result.RiskScore < 60 {
		t.Fatalf("expected risk >= 60, got %d", result.RiskScore)
	}
	if len(result.Warnings) == 0 || result.Warnings[0].Kind != WarningAddressMismatch {
		t.Fatalf("expected address_mismatch warning, got %+v", result.Warnings)
	}
	if !result.hasAction(ActionRequireReauth) {
		t.Fatalf("expected require_reauth action, got %v", result.RequiredActions)
	}

	// Soft rejection: the record stays in place.
	if len(manager.ActiveSessionsFor("clinician-1")) != 1 {
		t.Fatal("rejected-but-not-terminated session must remain stored")
	}
}

func TestRenewSessionExtendsExpiry(t *testing.T) {
	manager, clock, _ := newTestManager(t, nil)
	ctx := context.Background()

	sess, err := manager.CreateSession(ctx, "clinician-1", testContext(), session.LevelBasic)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	oldExpiry := sess.ExpiresAt
	oldToken := sess.AntiForgeryToken

	clock.Advance(5 * time.Minute)
	renewed, err := manager.RenewSession(ctx, sess.SessionID, testContext())
	if err != nil {
		t.Fatalf("renew: %v", err)
	}

	if !renewed.ExpiresAt.After(oldExpiry) {
		t.Fatalf("renewal must set a strictly later expiry: old %v, new %v", oldExpiry, renewed.ExpiresAt)
	}
	if renewed.AntiForgeryToken == oldToken {
		t.Fatal("renewal must issue a fresh anti-forgery token")
	}
	if renewed.RenewalCount != 1 {
		t.Fatalf("expected renewal count 1, got %d", renewed.RenewalCount)
	}
}

func TestRenewSessionDeniedAboveRenewThreshold(t *testing.T) {
	// The renew threshold is stricter than the reject threshold: a session
	// can still validate while being too risky to extend.
	manager, clock, _ := newTestManager(t, func(cfg *Config) {
		cfg.Session.MaxLifetime = time.Hour
		cfg.Risk.RenewThreshold = 10
	})
	ctx := context.Background()

	sess, err := manager.CreateSession(ctx, "clinician-1", testContext(), session.LevelBasic)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	clock.Advance(11 * time.Minute) // idle warning: +20, still below reject

	result, err := manager.ValidateSession(ctx, sess.SessionID, testContext())
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if !result.Valid {
		t.Fatalf("idle session should still validate, got %+v", result)
	}

	// Idle again for the renew attempt (validation above reset activity).
	clock.Advance(11 * time.Minute)
	if _, err := manager.RenewSession(ctx, sess.SessionID, testContext()); !errors.Is(err, ErrRenewalDenied) {
		t.Fatalf("expected ErrRenewalDenied, got %v", err)
	}
}

func TestRenewSessionDeniedWhenInvalid(t *testing.T) {
	manager, _, _ := newTestManager(t, nil)
	ctx := context.Background()

	sess, err := manager.CreateSession(ctx, "clinician-1", testContext(), session.LevelBasic)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	other := testContext()
	other.SourceAddress = "198.51.100.7"
	if _, err := manager.RenewSession(ctx, sess.SessionID, other); !errors.Is(err, ErrRenewalDenied) {
		t.Fatalf("expected ErrRenewalDenied, got %v", err)
	}
}

func TestRotateTokensKeepsIDBelowMaximum(t *testing.T) {
	manager, _, _ := newTestManager(t, nil)
	ctx := context.Background()

	sess, err := manager.CreateSession(ctx, "clinician-1", testContext(), session.LevelEnhanced)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	oldToken := sess.AntiForgeryToken

	rotated, err := manager.RotateTokens(ctx, sess.SessionID, testContext())
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if rotated.SessionID != sess.SessionID {
		t.Fatal("session id must be stable below SecurityLevel Maximum")
	}
	if rotated.AntiForgeryToken == oldToken {
		t.Fatal("rotation must issue a fresh anti-forgery token")
	}
}

func TestRotateTokensMaximumRotatesSessionID(t *testing.T) {
	manager, _, _ := newTestManager(t, nil)
	ctx := context.Background()

	sess, err := manager.CreateSession(ctx, "clinician-1", testContext(), session.LevelMaximum)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	rotated, err := manager.RotateTokens(ctx, sess.SessionID, testContext())
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}

	if rotated.SessionID == sess.SessionID {
		t.Fatal("SecurityLevel Maximum must rotate the session id")
	}
	if rotated.PrincipalID != sess.PrincipalID {
		t.Fatal("rotation must preserve the principal")
	}
	if !rotated.CreatedAt.Equal(sess.CreatedAt) {
		t.Fatal("rotation must preserve the original creation time")
	}

	// The old id is gone; the new one validates.
	result, err := manager.ValidateSession(ctx, sess.SessionID, testContext())
	if err != nil {
		t.Fatalf("validate old id: %v", err)
	}
	if result.Valid {
		t.Fatal("old session id must no longer validate")
	}

	result, err = manager.ValidateSession(ctx, rotated.SessionID, testContext())
	if err != nil {
		t.Fatalf("validate new id: %v", err)
	}
	if !result.Valid {
		t.Fatalf("rotated session must validate, got %+v", result)
	}
}

// hookClock runs a one-shot callback on the Nth reading of the clock,
// injecting a concurrent operation into an exact point of a lifecycle call.
type hookClock struct {
	mu    sync.Mutex
	now   time.Time
	calls int
	at    int
	fn    func()
}

func (c *hookClock) Now() time.Time {
	c.mu.Lock()
	c.calls++
	var fn func()
	if c.fn != nil && c.calls == c.at {
		fn = c.fn
		c.fn = nil
	}
	c.mu.Unlock()

	if fn != nil {
		fn()
	}
	return c.now
}

func (c *hookClock) arm(after int, fn func()) {
	c.mu.Lock()
	c.at = c.calls + after
	c.fn = fn
	c.mu.Unlock()
}

func newHookedManager(t *testing.T) (*Manager, *hookClock) {
	t.Helper()

	cfg := DefaultConfig()
	cfg.Maintenance.Enabled = false
	cfg.Audit.DropIfFull = false
	cfg.Integrity.SecretKey = testSecretKey()

	clock := &hookClock{now: time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC)}
	manager, err := New().
		WithConfig(cfg).
		WithClock(clock.Now).
		Build()
	if err != nil {
		t.Fatalf("build manager: %v", err)
	}
	t.Cleanup(manager.Close)

	return manager, clock
}

func TestRenewSessionDoesNotResurrectTerminatedSession(t *testing.T) {
	manager, clock := newHookedManager(t)
	ctx := context.Background()

	sess, err := manager.CreateSession(ctx, "p1", testContext(), session.LevelBasic)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	// Renewal reads the clock twice: once validating, once stamping the new
	// window. Terminating at the second reading lands the removal between
	// renewal's read of the record and its write-back; the terminated state
	// must win.
	clock.arm(2, func() {
		if err := manager.TerminateSession(ctx, sess.SessionID, ReasonLogout); err != nil {
			t.Errorf("terminate: %v", err)
		}
	})

	if _, err := manager.RenewSession(ctx, sess.SessionID, testContext()); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if active := manager.ActiveSessionsFor("p1"); len(active) != 0 {
		t.Fatalf("terminated session came back: %d active sessions", len(active))
	}
}

func TestRotateTokensDoesNotResurrectTerminatedSession(t *testing.T) {
	manager, clock := newHookedManager(t)
	ctx := context.Background()

	sess, err := manager.CreateSession(ctx, "p1", testContext(), session.LevelBasic)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	// Rotation reads the clock once, right after fetching the record.
	clock.arm(1, func() {
		if err := manager.TerminateSession(ctx, sess.SessionID, ReasonLogout); err != nil {
			t.Errorf("terminate: %v", err)
		}
	})

	if _, err := manager.RotateTokens(ctx, sess.SessionID, testContext()); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if active := manager.ActiveSessionsFor("p1"); len(active) != 0 {
		t.Fatalf("terminated session came back: %d active sessions", len(active))
	}
}

func TestValidateSessionTerminatesTamperedRecord(t *testing.T) {
	manager, _, sink := newTestManager(t, nil)
	ctx := context.Background()

	sess, err := manager.CreateSession(ctx, "clinician-1", testContext(), session.LevelBasic)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	// Alter a bound field behind the lifecycle API, keeping the original tag.
	stored, ok := manager.store.Get(sess.SessionID)
	if !ok {
		t.Fatal("expected stored session")
	}
	stored.DeviceFingerprint = "v1:00000000000000000000000000000000"
	manager.store.Restore(stored)

	result, err := manager.ValidateSession(ctx, sess.SessionID, testContext())
	if err != nil {
		t.Fatalf("validate: %v", err)
	}
	if result.Valid {
		t.Fatal("tampered record must not validate")
	}
	if result.RiskScore != 100 {
		t.Fatalf("expected risk score 100, got %d", result.RiskScore)
	}
	if len(result.Warnings) == 0 || result.Warnings[0].Kind != WarningIntegrity {
		t.Fatalf("expected integrity_violation warning, got %+v", result.Warnings)
	}

	// Tampering is fatal to the session, not a retriable failure.
	if _, ok := manager.store.Get(sess.SessionID); ok {
		t.Fatal("tampered record must be terminated")
	}
	if got := manager.MetricsSnapshot()[MetricIntegrityFailure]; got != 1 {
		t.Fatalf("expected integrity_failure counter 1, got %d", got)
	}

	manager.Close()
	terminated := sink.byAction("session_terminated")
	if len(terminated) != 1 || terminated[0].RiskMetadata["reason"] != string(ReasonIntegrityViolation) {
		t.Fatalf("expected termination with integrity_violation reason, got %+v", terminated)
	}
}

func TestTerminateSessionIdempotent(t *testing.T) {
	manager, _, _ := newTestManager(t, nil)
	ctx := context.Background()

	if err := manager.TerminateSession(ctx, "never-existed", ReasonLogout); err != nil {
		t.Fatalf("terminating unknown id must be a no-op, got %v", err)
	}

	sess, err := manager.CreateSession(ctx, "clinician-1", testContext(), session.LevelBasic)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := manager.TerminateSession(ctx, sess.SessionID, ReasonLogout); err != nil {
		t.Fatalf("terminate: %v", err)
	}
	if err := manager.TerminateSession(ctx, sess.SessionID, ReasonLogout); err != nil {
		t.Fatalf("second terminate must be a no-op, got %v", err)
	}

	if len(manager.ActiveSessionsFor("clinician-1")) != 0 {
		t.Fatal("terminated session must not appear in the principal index")
	}
	if len(manager.SessionsForAddress(testContext().SourceAddress)) != 0 {
		t.Fatal("terminated session must not appear in the address index")
	}
}

func TestTerminateSessionsForAddress(t *testing.T) {
	manager, _, _ := newTestManager(t, func(cfg *Config) {
		cfg.Session.SingleSession = false
	})
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		principal := fmt.Sprintf("clinician-%d", i)
		if _, err := manager.CreateSession(ctx, principal, testContext(), session.LevelBasic); err != nil {
			t.Fatalf("create session: %v", err)
		}
	}
	elsewhere := testContext()
	elsewhere.SourceAddress = "198.51.100.7"
	if _, err := manager.CreateSession(ctx, "clinician-x", elsewhere, session.LevelBasic); err != nil {
		t.Fatalf("create session: %v", err)
	}

	terminated := manager.TerminateSessionsForAddress(ctx, testContext().SourceAddress, ReasonSecurityViolation)
	if terminated != 3 {
		t.Fatalf("expected 3 terminated sessions, got %d", terminated)
	}
	if len(manager.SessionsForAddress(testContext().SourceAddress)) != 0 {
		t.Fatal("address bucket must be empty after containment")
	}
	if len(manager.ActiveSessionsFor("clinician-x")) != 1 {
		t.Fatal("sessions from other addresses must survive")
	}
}

func TestPayloadRoundTrip(t *testing.T) {
	manager, _, _ := newTestManager(t, nil)
	ctx := context.Background()

	sess, err := manager.CreateSession(ctx, "clinician-1", testContext(), session.LevelBasic)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}

	plaintext := []byte(`{"ward":"cardiology"}`)
	if err := manager.AttachPayload(ctx, sess.SessionID, plaintext); err != nil {
		t.Fatalf("attach payload: %v", err)
	}

	got, err := manager.Payload(ctx, sess.SessionID)
	if err != nil {
		t.Fatalf("payload: %v", err)
	}
	if !bytes.Equal(got, plaintext) {
		t.Fatalf("payload round trip mismatch: %q", got)
	}

	if err := manager.AttachPayload(ctx, "no-such-session", plaintext); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestPayloadWithoutEncryptor(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Maintenance.Enabled = false
	cfg.Integrity.SecretKey = testSecretKey()

	manager, err := New().WithConfig(cfg).Build()
	if err != nil {
		t.Fatalf("build manager: %v", err)
	}
	t.Cleanup(manager.Close)

	sess, err := manager.CreateSession(context.Background(), "clinician-1", testContext(), session.LevelBasic)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if err := manager.AttachPayload(context.Background(), sess.SessionID, []byte("x")); !errors.Is(err, ErrEncryptionUnavailable) {
		t.Fatalf("expected ErrEncryptionUnavailable, got %v", err)
	}
	if _, err := manager.Payload(context.Background(), sess.SessionID); !errors.Is(err, ErrEncryptionUnavailable) {
		t.Fatalf("expected ErrEncryptionUnavailable, got %v", err)
	}
}

func TestManagerClosed(t *testing.T) {
	manager, _, _ := newTestManager(t, nil)
	manager.Close()

	if _, err := manager.CreateSession(context.Background(), "p1", testContext(), session.LevelBasic); !errors.Is(err, ErrManagerClosed) {
		t.Fatalf("expected ErrManagerClosed, got %v", err)
	}
	if _, err := manager.ValidateSession(context.Background(), "x", testContext()); !errors.Is(err, ErrManagerClosed) {
		t.Fatalf("expected ErrManagerClosed, got %v", err)
	}
}

func TestLifecycleAuditTrail(t *testing.T) {
	manager, _, sink := newTestManager(t, nil)
	ctx := context.Background()

	sess, err := manager.CreateSession(ctx, "clinician-1", testContext(), session.LevelBasic)
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if _, err := manager.ValidateSession(ctx, sess.SessionID, testContext()); err != nil {
		t.Fatalf("validate: %v", err)
	}
	if err := manager.TerminateSession(ctx, sess.SessionID, ReasonLogout); err != nil {
		t.Fatalf("terminate: %v", err)
	}

	// Close drains the dispatcher before the sink is inspected.
	manager.Close()

	if got := sink.byAction("session_created"); len(got) != 1 {
		t.Fatalf("expected one session_created event, got %d", len(got))
	}
	if got := sink.byAction("session_validated"); len(got) != 1 {
		t.Fatalf("expected one session_validated event, got %d", len(got))
	}
	terminated := sink.byAction("session_terminated")
	if len(terminated) != 1 {
		t.Fatalf("expected one session_terminated event, got %d", len(terminated))
	}
	if terminated[0].RiskMetadata["reason"] != string(ReasonLogout) {
		t.Fatalf("expected logout reason, got %q", terminated[0].RiskMetadata["reason"])
	}
	if terminated[0].EventID == "" {
		t.Fatal("audit events must carry an event id")
	}
}
