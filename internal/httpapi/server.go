// Package httpapi exposes the dispatcher over HTTP: inbound messenger
// updates, webhook triggers, bot registration, runtime stats and a
// server-sent event stream.
package httpapi

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/fusserg007/botconstructor/internal/adapter"
	"github.com/fusserg007/botconstructor/internal/dispatch"
	"github.com/fusserg007/botconstructor/internal/logging"
	"github.com/fusserg007/botconstructor/internal/scheduler"
	"github.com/fusserg007/botconstructor/internal/store"
	"github.com/fusserg007/botconstructor/internal/streaming"
	"github.com/fusserg007/botconstructor/pkg/schema"
)

// DocumentValidator checks a raw schema document.
// *validation.BotValidator satisfies it.
type DocumentValidator interface {
	ValidateDocument(data []byte) (*schema.BotSchema, *schema.ValidationResult)
}

// BotStore persists registered schemas and serves save-data records.
type BotStore interface {
	SaveBot(ctx context.Context, bot *store.BotRecord) error
	DeleteBot(ctx context.Context, id string) error
	ListRecords(ctx context.Context, filter store.RecordFilter) ([]*store.DataRecord, error)
}

// RunReplayer rebuilds a run from its recorded events.
type RunReplayer interface {
	ReplayRun(ctx context.Context, executionID string) (*store.RunTrace, error)
}

// Deps holds what the server needs. Only Dispatcher is required.
type Deps struct {
	Dispatcher *dispatch.Dispatcher
	Validator  DocumentValidator
	Scheduler  *scheduler.Scheduler
	Store      BotStore
	Runs       RunReplayer
	Hub        streaming.EventHub
	// Messenger picks the outbound messenger for an inbound update. When
	// nil, updates are answered only in the HTTP response.
	Messenger func(platform string) adapter.Messenger
	Logger    *slog.Logger
}

// Server serves the HTTP surface.
type Server struct {
	deps Deps
}

// NewServer creates a Server.
func NewServer(deps Deps) *Server {
	if deps.Logger == nil {
		deps.Logger = logging.Discard()
	}
	return &Server{deps: deps}
}

// Handler returns the routes.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /healthz", s.handleHealth)

	// Bots.
	mux.HandleFunc("GET /bots", s.handleListBots)
	mux.HandleFunc("GET /bots/{id}", s.handleGetBot)
	mux.HandleFunc("PUT /bots/{id}", s.handleRegisterBot)
	mux.HandleFunc("DELETE /bots/{id}", s.handleDeleteBot)
	mux.HandleFunc("GET /bots/{id}/records", s.handleListRecords)
	mux.HandleFunc("GET /bots/{id}/diagram", s.handleDiagram)
	mux.HandleFunc("POST /validate", s.handleValidate)

	// Inbound events.
	mux.HandleFunc("POST /bots/{id}/messages", s.handleMessage)
	mux.HandleFunc("POST /bots/{id}/webhooks/{node}", s.handleWebhook)

	// Schedules.
	mux.HandleFunc("GET /schedules", s.handleListSchedules)
	mux.HandleFunc("POST /bots/{id}/schedules/{node}/run", s.handleRunSchedule)

	// Sessions and runs.
	mux.HandleFunc("POST /sessions/{platform}/{user}/{chat}/stop", s.handleStopUser)
	mux.HandleFunc("DELETE /sessions/{platform}/{user}/{chat}", s.handleClearSession)
	mux.HandleFunc("GET /runs/{id}", s.handleGetRun)

	// Observability.
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /errors", s.handleErrors)
	mux.HandleFunc("GET /sse/events", s.handleSSE)

	return mux
}

func (s *Server) messenger(platform string) adapter.Messenger {
	if s.deps.Messenger == nil {
		return nil
	}
	return s.deps.Messenger(platform)
}
