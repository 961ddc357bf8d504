package sessionguard

import "sync/atomic"

// MetricID enumerates the engine's counters.
type MetricID uint8

const (
	MetricSessionCreated MetricID = iota
	MetricSessionReplaced
	MetricValidationAccepted
	MetricValidationRejected
	MetricSessionRenewed
	MetricRenewalDenied
	MetricTokensRotated
	MetricSessionTerminated
	MetricIntegrityFailure
	MetricAddressMismatch
	MetricDeviceMismatch
	MetricSweepExpired
	MetricSweepIdle
	MetricSessionFlagged
	MetricCleanupPurged

	metricCount
)

func (id MetricID) String() string {
	switch id {
	case MetricSessionCreated:
		return "session_created"
	case MetricSessionReplaced:
		return "session_replaced"
	case MetricValidationAccepted:
		return "validation_accepted"
	case MetricValidationRejected:
		return "validation_rejected"
	case MetricSessionRenewed:
		return "session_renewed"
	case MetricRenewalDenied:
		return "renewal_denied"
	case MetricTokensRotated:
		return "tokens_rotated"
	case MetricSessionTerminated:
		return "session_terminated"
	case MetricIntegrityFailure:
		return "integrity_failure"
	case MetricAddressMismatch:
		return "address_mismatch"
	case MetricDeviceMismatch:
		return "device_mismatch"
	case MetricSweepExpired:
		return "sweep_expired"
	case MetricSweepIdle:
		return "sweep_idle"
	case MetricSessionFlagged:
		return "session_flagged"
	case MetricCleanupPurged:
		return "cleanup_purged"
	default:
		return "unknown"
	}
}

// Metrics is a fixed-size atomic counter registry. Inc is lock-free and safe
// from any goroutine.
type Metrics struct {
	counters [metricCount]atomic.Uint64
}

func newMetrics() *Metrics {
	return &Metrics{}
}

func (m *Metrics) Inc(id MetricID) {
	m.Add(id, 1)
}

func (m *Metrics) Add(id MetricID, n uint64) {
	if m == nil || id >= metricCount {
		return
	}
	m.counters[id].Add(n)
}

// MetricsSnapshot is a point-in-time copy of all counters.
type MetricsSnapshot map[MetricID]uint64

func (m *Metrics) Snapshot() MetricsSnapshot {
	snap := make(MetricsSnapshot, metricCount)
	if m == nil {
		return snap
	}
	for id := MetricID(0); id < metricCount; id++ {
		snap[id] = m.counters[id].Load()
	}
	return snap
}
