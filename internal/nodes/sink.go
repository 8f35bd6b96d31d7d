package nodes

import (
	"context"
	"sync"
	"time"
)

// Record is one save-data write.
type Record struct {
	BotID       string
	Collection  string
	ExecutionID string
	NodeID      string
	Platform    string
	UserID      string
	ChatID      string
	Data        map[string]any
	CreatedAt   time.Time
}

// RecordSink receives the output of save-data nodes.
type RecordSink interface {
	SaveRecord(ctx context.Context, rec Record) error
}

// RecordSinkFunc adapts a function to a RecordSink.
type RecordSinkFunc func(ctx context.Context, rec Record) error

func (f RecordSinkFunc) SaveRecord(ctx context.Context, rec Record) error { return f(ctx, rec) }

// MemorySink keeps records in memory.
type MemorySink struct {
	mu      sync.Mutex
	records []Record
}

func (m *MemorySink) SaveRecord(_ context.Context, rec Record) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.records = append(m.records, rec)
	return nil
}

// Records returns a copy of everything saved.
func (m *MemorySink) Records() []Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Record(nil), m.records...)
}
