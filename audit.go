package sessionguard

import (
	"context"
	"encoding/json"
	"io"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// AuditEvent records one session lifecycle action for the external audit
// log. Delivery is fire-and-forget: a failed or slow sink never fails the
// lifecycle operation that produced the event.
type AuditEvent struct {
	EventID       string            `json:"event_id"`
	Timestamp     time.Time         `json:"timestamp"`
	Action        string            `json:"action"`
	PrincipalID   string            `json:"principal_id,omitempty"`
	SessionID     string            `json:"session_id,omitempty"`
	SourceAddress string            `json:"source_address,omitempty"`
	Outcome       string            `json:"outcome"`
	Error         string            `json:"error,omitempty"`
	RiskMetadata  map[string]string `json:"risk_metadata,omitempty"`
}

const (
	outcomeSuccess = "success"
	outcomeFailure = "failure"
)

const (
	auditSessionCreated    = "session_created"
	auditSessionValidated  = "session_validated"
	auditSessionRejected   = "session_rejected"
	auditSessionRenewed    = "session_renewed"
	auditRenewalDenied     = "renewal_denied"
	auditTokensRotated     = "tokens_rotated"
	auditSessionTerminated = "session_terminated"
	auditSessionFlagged    = "session_flagged"
	auditCleanupCompleted  = "cleanup_completed"
)

// AuditSink receives lifecycle events from the dispatcher.
type AuditSink interface {
	Emit(ctx context.Context, event AuditEvent)
}

type NoOpSink struct{}

func (NoOpSink) Emit(context.Context, AuditEvent) {}

// ChannelSink hands events to a consumer goroutine over a buffered channel.
type ChannelSink struct {
	events chan AuditEvent
}

func NewChannelSink(buffer int) *ChannelSink {
	if buffer <= 0 {
		buffer = 1
	}
	return &ChannelSink{
		events: make(chan AuditEvent, buffer),
	}
}

func (s *ChannelSink) Emit(ctx context.Context, event AuditEvent) {
	select {
	case s.events <- event:
	case <-ctx.Done():
	}
}

func (s *ChannelSink) Events() <-chan AuditEvent {
	return s.events
}

// JSONWriterSink appends events as JSON lines to a writer.
type JSONWriterSink struct {
	writer io.Writer
	mu     sync.Mutex
}

func NewJSONWriterSink(w io.Writer) *JSONWriterSink {
	return &JSONWriterSink{
		writer: w,
	}
}

func (s *JSONWriterSink) Emit(ctx context.Context, event AuditEvent) {
	if s == nil || s.writer == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	_, _ = s.writer.Write(data)
	_, _ = s.writer.Write([]byte("\n"))
}

// RedisStreamSink appends events to a Redis stream so deployments can ship
// the audit trail to a durable bus. Delivery errors are swallowed: the audit
// contract is fire-and-forget.
type RedisStreamSink struct {
	client redis.UniversalClient
	stream string
	maxLen int64
}

// NewRedisStreamSink writes to the given stream, trimming it to roughly
// maxLen entries (0 disables trimming).
func NewRedisStreamSink(client redis.UniversalClient, stream string, maxLen int64) *RedisStreamSink {
	return &RedisStreamSink{
		client: client,
		stream: stream,
		maxLen: maxLen,
	}
}

func (s *RedisStreamSink) Emit(ctx context.Context, event AuditEvent) {
	if s == nil || s.client == nil {
		return
	}
	data, err := json.Marshal(event)
	if err != nil {
		return
	}

	args := &redis.XAddArgs{
		Stream: s.stream,
		Values: map[string]interface{}{"event": data},
	}
	if s.maxLen > 0 {
		args.MaxLen = s.maxLen
		args.Approx = true
	}
	_ = s.client.XAdd(ctx, args).Err()
}
