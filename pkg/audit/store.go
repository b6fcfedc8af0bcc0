// Package audit provides pluggable AuditSink backends. The engine only
// speaks core.AuditSink; persistence is the caller's choice.
package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/metahuman-os/operator/pkg/core"
)

// Filter limits audit event queries.
type Filter struct {
	RunID    string
	Category core.EventCategory
	Level    core.EventLevel
	Limit    int
}

// Store is an AuditSink that can also be queried.
type Store interface {
	core.AuditSink
	List(ctx context.Context, filter Filter) ([]core.AuditEvent, error)
}

// MemoryStore keeps audit events in memory. Safe for concurrent runs.
type MemoryStore struct {
	mu     sync.Mutex
	events []core.AuditEvent
}

// NewMemoryStore returns an in-memory audit store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{}
}

// Record appends an audit event.
func (s *MemoryStore) Record(_ context.Context, event core.AuditEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
}

// List returns filtered audit events.
func (s *MemoryStore) List(_ context.Context, filter Filter) ([]core.AuditEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]core.AuditEvent, 0, len(s.events))
	for _, ev := range s.events {
		if filter.RunID != "" && ev.RunID != filter.RunID {
			continue
		}
		if filter.Category != "" && ev.Category != filter.Category {
			continue
		}
		if filter.Level != "" && ev.Level != filter.Level {
			continue
		}
		out = append(out, ev)
		if filter.Limit > 0 && len(out) >= filter.Limit {
			break
		}
	}
	return out, nil
}

// encodeDetails marshals the details payload into JSON.
func encodeDetails(details map[string]any) ([]byte, error) {
	if details == nil {
		return []byte("null"), nil
	}
	return json.Marshal(details)
}

// decodeDetails parses a JSON details payload.
func decodeDetails(raw []byte) (map[string]any, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	var out map[string]any
	if err := json.Unmarshal(raw, &out); err != nil {
		return nil, err
	}
	return out, nil
}

// normalizeTime ensures timestamps are stored in UTC.
func normalizeTime(value time.Time) time.Time {
	if value.IsZero() {
		return value
	}
	return value.UTC()
}
