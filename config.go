package sessionguard

import (
	"errors"
	"fmt"
	"time"

	"github.com/clinware/sessionguard/internal/integrity"
)

// Config is the caller-supplied tuning surface. All risk weights and
// thresholds are defined here once and referenced by the engine; nothing is
// hard-coded in the scoring path.
type Config struct {
	Session     SessionConfig
	Risk        RiskConfig
	Maintenance MaintenanceConfig
	Integrity   IntegrityConfig
	Audit       AuditConfig
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig bounds session lifetimes and rotation cadence.
type SessionConfig struct {
	// MaxLifetime caps expiry at creation and at each renewal. A renewal
	// opens a new window; it never extends an existing one.
	MaxLifetime time.Duration `env:"SESSION_MAX_LIFETIME" envDefault:"20m"`
	// IdleTimeout is the inactivity span that raises the idle warning; the
	// sweep terminates sessions idle beyond twice this value.
	IdleTimeout time.Duration `env:"SESSION_IDLE_TIMEOUT" envDefault:"10m"`
	// RenewalThreshold is the remaining-lifetime span below which validation
	// recommends renewal.
	RenewalThreshold time.Duration `env:"SESSION_RENEWAL_THRESHOLD" envDefault:"5m"`
	// TokenRotationInterval is the anti-forgery token age after which
	// validation recommends rotation.
	TokenRotationInterval time.Duration `env:"SESSION_TOKEN_ROTATION_INTERVAL" envDefault:"15m"`
	// SingleSession enforces at most one active session per principal.
	SingleSession bool `env:"SESSION_SINGLE_SESSION" envDefault:"true"`
	// ExpiredGracePeriod is how long expired records are retained before the
	// cleanup task purges them.
	ExpiredGracePeriod time.Duration `env:"SESSION_EXPIRED_GRACE" envDefault:"1h"`
}

/*
====================================
RISK CONFIG
====================================
*/

// RiskConfig holds the scoring weights and thresholds. These are the primary
// tuning surface for the false-positive/false-negative tradeoff.
type RiskConfig struct {
	AddressMismatchWeight   int `env:"SESSION_RISK_ADDRESS_WEIGHT" envDefault:"60"`
	DeviceMismatchWeight    int `env:"SESSION_RISK_DEVICE_WEIGHT" envDefault:"45"`
	AnonymizedNetworkWeight int `env:"SESSION_RISK_ANON_WEIGHT" envDefault:"70"`
	IdleWeight              int `env:"SESSION_RISK_IDLE_WEIGHT" envDefault:"20"`
	FlaggedStatusWeight     int `env:"SESSION_RISK_FLAGGED_WEIGHT" envDefault:"60"`

	// RejectThreshold is the score at or above which validation fails.
	RejectThreshold int `env:"SESSION_RISK_REJECT_THRESHOLD" envDefault:"60"`
	// RenewThreshold gates RenewSession. It is stricter than RejectThreshold:
	// a session may still validate while being too risky to extend.
	RenewThreshold int `env:"SESSION_RISK_RENEW_THRESHOLD" envDefault:"30"`

	// AnomalousAccessCount is the per-session access count above which the
	// sweep flags the session Suspicious for operator review.
	AnomalousAccessCount uint64 `env:"SESSION_RISK_ANOMALOUS_ACCESS" envDefault:"1000"`
}

// riskScoreMax is returned for unknown session ids.
const riskScoreMax = 100

/*
====================================
MAINTENANCE CONFIG
====================================
*/

// MaintenanceConfig controls the two background tasks.
type MaintenanceConfig struct {
	Enabled         bool          `env:"SESSION_MAINTENANCE_ENABLED" envDefault:"true"`
	SweepInterval   time.Duration `env:"SESSION_SWEEP_INTERVAL" envDefault:"1m"`
	CleanupInterval time.Duration `env:"SESSION_CLEANUP_INTERVAL" envDefault:"5m"`
}

/*
====================================
INTEGRITY CONFIG
====================================
*/

// IntegrityConfig supplies the HMAC secret for the integrity guard. An empty
// key makes Build generate an ephemeral one and log a warning: tags issued
// before a restart will then no longer verify, which is an accepted
// operational tradeoff.
type IntegrityConfig struct {
	SecretKey []byte
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig controls the async audit dispatcher.
type AuditConfig struct {
	Enabled    bool `env:"SESSION_AUDIT_ENABLED" envDefault:"true"`
	BufferSize int  `env:"SESSION_AUDIT_BUFFER" envDefault:"256"`
	DropIfFull bool `env:"SESSION_AUDIT_DROP_IF_FULL" envDefault:"true"`
}

// DefaultConfig returns the policy defaults documented on each field.
func DefaultConfig() Config {
	return Config{
		Session: SessionConfig{
			MaxLifetime:           20 * time.Minute,
			IdleTimeout:           10 * time.Minute,
			RenewalThreshold:      5 * time.Minute,
			TokenRotationInterval: 15 * time.Minute,
			SingleSession:         true,
			ExpiredGracePeriod:    time.Hour,
		},
		Risk: RiskConfig{
			AddressMismatchWeight:   60,
			DeviceMismatchWeight:    45,
			AnonymizedNetworkWeight: 70,
			IdleWeight:              20,
			FlaggedStatusWeight:     60,
			RejectThreshold:         60,
			RenewThreshold:          30,
			AnomalousAccessCount:    1000,
		},
		Maintenance: MaintenanceConfig{
			Enabled:         true,
			SweepInterval:   time.Minute,
			CleanupInterval: 5 * time.Minute,
		},
		Audit: AuditConfig{
			Enabled:    true,
			BufferSize: 256,
			DropIfFull: true,
		},
	}
}

// Validate rejects configurations that indicate a misconfigured deployment.
// Build refuses to construct a Manager from an invalid Config.
func (c Config) Validate() error {
	if c.Session.MaxLifetime <= 0 {
		return errors.New("session max lifetime must be positive")
	}
	if c.Session.IdleTimeout <= 0 {
		return errors.New("session idle timeout must be positive")
	}
	if c.Session.RenewalThreshold <= 0 || c.Session.RenewalThreshold >= c.Session.MaxLifetime {
		return errors.New("renewal threshold must be positive and below max lifetime")
	}
	if c.Session.TokenRotationInterval <= 0 {
		return errors.New("token rotation interval must be positive")
	}
	if c.Session.ExpiredGracePeriod < 0 {
		return errors.New("expired grace period must not be negative")
	}
	if c.Risk.RejectThreshold <= 0 {
		return errors.New("risk reject threshold must be positive")
	}
	if c.Risk.RenewThreshold <= 0 || c.Risk.RenewThreshold > c.Risk.RejectThreshold {
		return errors.New("risk renew threshold must be positive and not above reject threshold")
	}
	for _, w := range []int{
		c.Risk.AddressMismatchWeight,
		c.Risk.DeviceMismatchWeight,
		c.Risk.AnonymizedNetworkWeight,
		c.Risk.IdleWeight,
		c.Risk.FlaggedStatusWeight,
	} {
		if w < 0 {
			return errors.New("risk weights must not be negative")
		}
	}
	if c.Maintenance.Enabled {
		if c.Maintenance.SweepInterval <= 0 {
			return errors.New("sweep interval must be positive")
		}
		if c.Maintenance.CleanupInterval <= 0 {
			return errors.New("cleanup interval must be positive")
		}
	}
	if n := len(c.Integrity.SecretKey); n != 0 && n != integrity.KeySize {
		return fmt.Errorf("integrity secret must be %d bytes, got %d", integrity.KeySize, n)
	}
	if c.Audit.Enabled && c.Audit.BufferSize < 0 {
		return errors.New("audit buffer size must not be negative")
	}
	return nil
}
