package testutil

import (
	"context"
	"sync"

	"github.com/dalemusser/volunteerhub/internal/app/store/audit"
	"github.com/dalemusser/volunteerhub/internal/app/system/auditlog"
	"go.uber.org/zap"
)

// AuditLogger returns an audit logger that records every category into
// the returned sink.
func AuditLogger() (*auditlog.Logger, *AuditSink) {
	sink := &AuditSink{}
	return auditlog.New(sink, zap.NewNop(), auditlog.Config{Auth: "db", Admin: "db"}), sink
}

// AuditSink collects audit events in memory.
type AuditSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (s *AuditSink) Log(_ context.Context, e audit.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

// Events returns a copy of everything logged so far.
func (s *AuditSink) Events() []audit.Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]audit.Event(nil), s.events...)
}

// OfType returns the logged events with the given event type.
func (s *AuditSink) OfType(eventType string) []audit.Event {
	var out []audit.Event
	for _, e := range s.Events() {
		if e.EventType == eventType {
			out = append(out, e)
		}
	}
	return out
}
