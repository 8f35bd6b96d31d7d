package store

import (
	"context"

	"github.com/fusserg007/botconstructor/internal/session"
)

// Store is the durable side of the runtime. Implementations must be safe
// for concurrent use.
type Store interface {
	// Bots
	SaveBot(ctx context.Context, bot *BotRecord) error
	GetBot(ctx context.Context, id string) (*BotRecord, error)
	ListBots(ctx context.Context) ([]*BotRecord, error)
	DeleteBot(ctx context.Context, id string) error

	// Sessions
	session.Persister

	// Save-data records
	AppendRecord(ctx context.Context, rec *DataRecord) error
	ListRecords(ctx context.Context, filter RecordFilter) ([]*DataRecord, error)

	// Run history (append-only)
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, executionID string, since int64) ([]*Event, error)
	GetEventsByType(ctx context.Context, eventType string, filter EventFilter) ([]*Event, error)

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}
