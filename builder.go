package sessionguard

import (
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/clinware/sessionguard/internal/integrity"
	"github.com/clinware/sessionguard/session"
)

// Builder assembles a Manager. Construction is allocation-only until Build,
// which validates configuration, wires the integrity guard and store, and
// starts the maintenance tasks.
type Builder struct {
	config    Config
	auditSink AuditSink
	encryptor Encryptor
	logger    *zap.Logger
	clock     func() time.Time

	built bool
}

func New() *Builder {
	return &Builder{
		config: DefaultConfig(),
	}
}

func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cfg
	return b
}

// WithAuditSink sets the destination for lifecycle events. Without a sink,
// events are dispatched to a no-op.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithEncryptor sets the external encryption collaborator used by the
// payload operations.
func (b *Builder) WithEncryptor(enc Encryptor) *Builder {
	b.encryptor = enc
	return b
}

func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithClock overrides the time source. Intended for tests.
func (b *Builder) WithClock(clock func() time.Time) *Builder {
	b.clock = clock
	return b
}

// Build validates the configuration and constructs the Manager. A missing
// integrity secret is replaced with a generated ephemeral key and logged as
// a warning: sessions issued before a restart will then fail verification.
func (b *Builder) Build() (*Manager, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	b.built = true

	if err := b.config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid session config: %w", err)
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	key := b.config.Integrity.SecretKey
	if len(key) == 0 {
		generated, err := integrity.GenerateKey()
		if err != nil {
			return nil, fmt.Errorf("generate integrity secret: %w", err)
		}
		key = generated
		logger.Warn("no integrity secret configured, generated an ephemeral key",
			zap.String("consequence", "integrity tags will not survive a process restart"),
		)
	}

	guard, err := integrity.NewGuard(key)
	if err != nil {
		return nil, fmt.Errorf("init integrity guard: %w", err)
	}

	clock := b.clock
	if clock == nil {
		clock = time.Now
	}

	m := &Manager{
		cfg:       b.config,
		store:     session.NewStore(guard),
		audit:     newAuditDispatcher(b.config.Audit, b.auditSink),
		metrics:   newMetrics(),
		encryptor: b.encryptor,
		logger:    logger,
		now:       clock,
		done:      make(chan struct{}),
	}

	if b.config.Maintenance.Enabled {
		m.startMaintenance()
	}

	return m, nil
}
