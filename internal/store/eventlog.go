package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/fusserg007/botconstructor/internal/logging"
	"github.com/fusserg007/botconstructor/internal/streaming"
	"github.com/fusserg007/botconstructor/pkg/schema"
)

// EventAppender is the write side of the run history.
type EventAppender interface {
	AppendEvent(ctx context.Context, event *Event) error
	GetEvents(ctx context.Context, executionID string, since int64) ([]*Event, error)
}

// EventLog persists execution events and rebuilds run traces from them.
type EventLog struct {
	store  EventAppender
	logger *slog.Logger
}

// NewEventLog wraps a store.
func NewEventLog(s EventAppender, logger *slog.Logger) *EventLog {
	if logger == nil {
		logger = logging.Discard()
	}
	return &EventLog{store: s, logger: logger}
}

// Record appends one streamed event.
func (el *EventLog) Record(ctx context.Context, ev streaming.ExecutionEvent) error {
	if ev.ExecutionID == "" {
		return nil
	}
	var payload json.RawMessage
	if len(ev.Data) > 0 {
		b, err := json.Marshal(ev.Data)
		if err != nil {
			return fmt.Errorf("marshal event payload: %w", err)
		}
		payload = b
	}
	return el.store.AppendEvent(ctx, &Event{
		ExecutionID: ev.ExecutionID,
		BotID:       ev.BotID,
		NodeID:      ev.NodeID,
		Type:        ev.Type,
		Payload:     payload,
		Timestamp:   ev.Timestamp,
	})
}

// Attach subscribes to hub and records every event until ctx is done or
// the returned stop function is called.
func (el *EventLog) Attach(ctx context.Context, hub streaming.EventHub) (func(), error) {
	ch, cancel, err := hub.Subscribe(ctx, streaming.EventFilter{})
	if err != nil {
		return nil, err
	}
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case <-ctx.Done():
				return
			case ev, ok := <-ch:
				if !ok {
					return
				}
				if err := el.Record(ctx, ev); err != nil {
					el.logger.WarnContext(ctx, "run event not recorded",
						"execution_id", ev.ExecutionID, "type", ev.Type, "error", err)
				}
			}
		}
	}()
	return func() {
		cancel()
		<-done
	}, nil
}

// NodeTrace is the replayed state of one node within a run.
type NodeTrace struct {
	NodeID  string `json:"node_id"`
	Status  string `json:"status"`
	Retries int    `json:"retries,omitempty"`
	Error   string `json:"error,omitempty"`
}

// RunTrace is a run rebuilt from its events.
type RunTrace struct {
	ExecutionID string      `json:"execution_id"`
	BotID       string      `json:"bot_id,omitempty"`
	Status      string      `json:"status"`
	Nodes       []NodeTrace `json:"nodes"`
	StartedAt   time.Time   `json:"started_at"`
	FinishedAt  *time.Time  `json:"finished_at,omitempty"`
}

// ReplayRun rebuilds a run trace. Sequence gaps are reported as a store
// error.
func (el *EventLog) ReplayRun(ctx context.Context, executionID string) (*RunTrace, error) {
	events, err := el.store.GetEvents(ctx, executionID, 0)
	if err != nil {
		return nil, fmt.Errorf("get events for replay: %w", err)
	}
	if len(events) == 0 {
		return nil, storeNotFound("run", executionID)
	}

	for i, e := range events {
		if want := int64(i + 1); e.Sequence != want {
			return nil, schema.NewErrorf(schema.ErrCodeStore,
				"sequence gap in run %s: expected %d, got %d", executionID, want, e.Sequence)
		}
	}

	trace := &RunTrace{ExecutionID: executionID, Status: "running", StartedAt: events[0].Timestamp}
	index := make(map[string]int)
	node := func(id string) *NodeTrace {
		i, ok := index[id]
		if !ok {
			i = len(trace.Nodes)
			index[id] = i
			trace.Nodes = append(trace.Nodes, NodeTrace{NodeID: id, Status: "pending"})
		}
		return &trace.Nodes[i]
	}

	for _, e := range events {
		if e.BotID != "" {
			trace.BotID = e.BotID
		}
		payload := decodePayload(e.Payload)
		switch e.Type {
		case schema.EventNodeStarted:
			node(e.NodeID).Status = "running"
		case schema.EventNodeCompleted:
			node(e.NodeID).Status = "completed"
		case schema.EventNodeFailed:
			n := node(e.NodeID)
			n.Status = "failed"
			n.Error, _ = payload["error"].(string)
		case schema.EventNodeRetrying:
			node(e.NodeID).Retries++
		case schema.EventNodeFallback:
			node(e.NodeID).Status = "fallback"
		case schema.EventInputWaiting:
			node(e.NodeID).Status = "waiting"
		case schema.EventRunFinished, schema.EventRunStopped:
			if st, ok := payload["status"].(string); ok {
				trace.Status = st
			} else if e.Type == schema.EventRunStopped {
				trace.Status = string(schema.RunStatusStopped)
			}
			ts := e.Timestamp
			trace.FinishedAt = &ts
		}
	}
	return trace, nil
}

func decodePayload(raw json.RawMessage) map[string]any {
	if len(raw) == 0 {
		return nil
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil
	}
	return m
}
