package notify

import (
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/modkernel/switchyard/pkg/log"
)

// AuditRecord is one appended audit entry
type AuditRecord struct {
	Event     string
	Actor     string
	Timestamp time.Time
	Payload   map[string]string
}

// LogAuditSink writes audit records as structured log lines. Suitable
// when the host has no dedicated audit store.
type LogAuditSink struct {
	logger zerolog.Logger
}

// NewLogAuditSink creates an audit sink backed by the global logger
func NewLogAuditSink() *LogAuditSink {
	return &LogAuditSink{logger: log.WithComponent("audit")}
}

func (s *LogAuditSink) Record(event string, actor string, timestamp time.Time, payload map[string]string) error {
	entry := s.logger.Info().
		Str("event", event).
		Str("actor", actor).
		Time("at", timestamp)
	for k, v := range payload {
		entry = entry.Str(k, v)
	}
	entry.Msg("Audit record")
	return nil
}

// MemoryAuditSink keeps records in memory for tests and inspection
type MemoryAuditSink struct {
	mu      sync.Mutex
	records []AuditRecord
}

// NewMemoryAuditSink creates an in-memory audit sink
func NewMemoryAuditSink() *MemoryAuditSink {
	return &MemoryAuditSink{}
}

func (s *MemoryAuditSink) Record(event string, actor string, timestamp time.Time, payload map[string]string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	copied := make(map[string]string, len(payload))
	for k, v := range payload {
		copied[k] = v
	}
	s.records = append(s.records, AuditRecord{
		Event:     event,
		Actor:     actor,
		Timestamp: timestamp,
		Payload:   copied,
	})
	return nil
}

// Records returns a snapshot of everything recorded so far
func (s *MemoryAuditSink) Records() []AuditRecord {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]AuditRecord, len(s.records))
	copy(out, s.records)
	return out
}

// ByEvent filters the snapshot by event name
func (s *MemoryAuditSink) ByEvent(event string) []AuditRecord {
	var out []AuditRecord
	for _, r := range s.Records() {
		if r.Event == event {
			out = append(out, r)
		}
	}
	return out
}
