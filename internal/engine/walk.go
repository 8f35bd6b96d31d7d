package engine

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/fusserg007/botconstructor/internal/adapter"
	"github.com/fusserg007/botconstructor/internal/expressions"
	"github.com/fusserg007/botconstructor/internal/logging"
	"github.com/fusserg007/botconstructor/internal/recovery"
	"github.com/fusserg007/botconstructor/internal/streaming"
	"github.com/fusserg007/botconstructor/pkg/schema"
)

// run is one walk over a schema.
type run struct {
	eng       *Engine
	schema    *schema.BotSchema
	ec        *ExecutionContext
	trigger   TriggerData
	messenger adapter.Messenger
	stopped   *atomic.Bool

	res     *ExecutionResult
	hops    int
	halted  bool
	failed  bool
	waiting bool
	stop    bool
}

// walk executes nodeID and then, depth first, every target its outcome
// selects.
func (r *run) walk(ctx context.Context, nodeID string) {
	if r.halted {
		return
	}
	if r.checkStopped(ctx) {
		return
	}

	node, ok := r.schema.NodeByID(nodeID)
	if !ok {
		r.fail(ctx, nil, schema.NewErrorf(schema.ErrCodeBadReference, "node %q does not exist", nodeID))
		return
	}

	r.hops++
	if r.hops > r.eng.cfg.MaxHops {
		r.fail(ctx, node, schema.NewErrorf(schema.ErrCodeMaxHopsExceeded,
			"run exceeded %d node executions", r.eng.cfg.MaxHops).WithNode(node.ID))
		return
	}

	out, ok := r.execNode(ctx, node)
	if !ok || r.halted {
		return
	}

	targets := selectTargets(r.schema.OutgoingEdges(node.ID), out.Handle)
	if out.Wait != nil {
		r.wait(ctx, node, out.Wait, targets)
		return
	}
	if out.Halt {
		return
	}
	for _, next := range targets {
		r.walk(ctx, next)
		if r.halted {
			return
		}
	}
}

// execNode runs the handler under the error subsystem and applies the
// outcome. It reports false when the branch must not continue.
func (r *run) execNode(ctx context.Context, node *schema.Node) (*Outcome, bool) {
	ctx = logging.WithNodeID(ctx, node.ID)
	ectx := r.errorContext(node)
	r.publish(ctx, schema.EventNodeStarted, node, nil)

	h, lookupErr := r.eng.registry.Get(node.Type)
	if lookupErr != nil {
		lookupErr = lookupErr.(*schema.EngineError).WithNode(node.ID)
	}

	attempt := 0
	out, err := recovery.Execute(ctx, r.eng.errors, ectx, r.maxRetries(node), func(ctx context.Context) (*Outcome, error) {
		if attempt > 0 {
			r.publish(ctx, schema.EventNodeRetrying, node, map[string]any{"attempt": attempt})
		}
		attempt++
		if lookupErr != nil {
			return nil, lookupErr
		}
		return r.callHandler(ctx, h, node)
	})
	if err != nil {
		r.fail(ctx, node, err)
		return nil, false
	}
	if out == nil {
		r.log("node %s (%s) recovered, continuing with defaults", node.ID, node.Type)
		out = Next()
	}

	for k, v := range out.Variables {
		r.ec.Variables[k] = v
	}
	for k, v := range out.State {
		r.ec.UserState[k] = v
	}
	r.res.Logs = append(r.res.Logs, out.Logs...)

	for _, a := range out.Actions {
		if a.NodeID == "" {
			a.NodeID = node.ID
		}
		if a.ChatID == "" {
			a.ChatID = r.ec.ChatID
		}
		if !r.deliver(ctx, node, a) {
			return nil, false
		}
	}

	r.publish(ctx, schema.EventNodeCompleted, node, map[string]any{"handle": out.Handle, "actions": len(out.Actions)})
	return out, true
}

func (r *run) callHandler(ctx context.Context, h Handler, node *schema.Node) (out *Outcome, err error) {
	defer func() {
		if p := recover(); p != nil {
			out, err = nil, schema.NewErrorf(schema.ErrCodeExecution, "handler panicked: %v", p).WithNode(node.ID)
		}
	}()
	env := NewEnv(r.ec, r.eng.exprs, r.eng.renderer, logging.LogWith(ctx, r.eng.logger), r.eng.now())
	env.Trigger = r.trigger
	return h.Execute(ctx, node, r.ec, env)
}

// deliver sends a through the messenger under the error subsystem and
// records it. Types the messenger does not handle are only recorded.
func (r *run) deliver(ctx context.Context, node *schema.Node, a schema.Action) bool {
	if r.messenger == nil || !deliverable(a.Type) {
		r.res.Actions = append(r.res.Actions, a)
		return true
	}
	if r.checkStopped(ctx) {
		return false
	}

	_, err := recovery.Execute(ctx, r.eng.errors, r.errorContext(node), r.eng.cfg.MaxRetries, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, send(ctx, r.messenger, a)
	})
	if err != nil {
		var ex *recovery.ExhaustedError
		if errors.As(err, &ex) {
			ex.Info.Err = schema.NewErrorf(schema.ErrCodeDeliveryFailed, "deliver %s: %v", a.Type, ex.Info.Err).
				WithNode(node.ID).WithCause(ex.Info.Err)
		}
		r.fail(ctx, node, err)
		return false
	}
	r.res.Actions = append(r.res.Actions, a)
	r.publish(ctx, schema.EventActionDelivered, node, map[string]any{"type": string(a.Type)})
	return true
}

func deliverable(t schema.ActionType) bool {
	switch t {
	case schema.ActionSendMessage, schema.ActionSendMedia, schema.ActionSendNotification:
		return true
	}
	return false
}

func send(ctx context.Context, m adapter.Messenger, a schema.Action) error {
	if a.Type == schema.ActionSendMedia {
		return m.SendMedia(ctx, a.ChatID, a.MediaType, a.MediaURL, a.Options)
	}
	return m.SendMessage(ctx, a.ChatID, a.Text, a.Options)
}

// fail records an unrecovered failure, substitutes the fallback message and
// stops the branch. Structural failures halt the whole run.
func (r *run) fail(ctx context.Context, node *schema.Node, err error) {
	ectx := r.errorContext(node)
	fallback := recovery.FallbackAction(ectx)
	var ex *recovery.ExhaustedError
	if errors.As(err, &ex) {
		if ex.Verdict.Fallback != nil {
			fallback = ex.Verdict.Fallback
		}
		err = ex.Info.Err
	} else {
		r.eng.errors.HandleError(ctx, err, ectx)
	}

	r.failed = true
	r.res.Errors = append(r.res.Errors, err.Error())
	r.publish(ctx, schema.EventNodeFailed, node, map[string]any{
		"error": err.Error(),
		"kind":  string(recovery.Classify(err)),
	})

	if r.messenger != nil && !r.stopped.Load() {
		if serr := send(ctx, r.messenger, *fallback); serr != nil {
			r.eng.logger.WarnContext(ctx, "fallback not delivered", "error", serr)
		}
	}
	r.res.Actions = append(r.res.Actions, *fallback)
	r.publish(ctx, schema.EventNodeFallback, node, nil)

	if schema.IsStructural(err) {
		r.halted = true
	}
}

func (r *run) wait(ctx context.Context, node *schema.Node, req *InputRequest, next []string) {
	r.waiting = true
	r.halted = true
	r.res.WaitingForInput = true
	r.res.InputVariable = req.Variable
	r.res.NextNodes = next
	r.publish(ctx, schema.EventInputWaiting, node, map[string]any{
		"variable":   req.Variable,
		"next_nodes": next,
	})
}

func (r *run) checkStopped(ctx context.Context) bool {
	if !r.stopped.Load() {
		return false
	}
	if !r.stop {
		r.stop = true
		r.halted = true
		r.log("execution stopped")
		r.publish(ctx, schema.EventRunStopped, nil, map[string]any{"status": string(schema.RunStatusStopped)})
	}
	return true
}

func (r *run) finish(ctx context.Context) *ExecutionResult {
	res := r.res
	res.Hops = r.hops
	res.Variables = expressions.DeepCopyMap(r.ec.Variables)
	res.UserState = expressions.DeepCopyMap(r.ec.UserState)

	switch {
	case r.stop:
		res.Status = schema.RunStatusStopped
	case r.failed:
		res.Status = schema.RunStatusFailed
	case r.waiting:
		res.Status = schema.RunStatusWaiting
	default:
		res.Status = schema.RunStatusCompleted
	}
	res.Success = !r.failed

	r.publish(ctx, schema.EventRunFinished, nil, map[string]any{
		"status":  string(res.Status),
		"hops":    r.hops,
		"actions": len(res.Actions),
	})
	return res
}

func (r *run) maxRetries(node *schema.Node) int {
	for _, k := range []string{"retries", "maxRetries"} {
		if f, ok := expressions.ToFloat(node.Data[k]); ok && f >= 0 {
			return int(f)
		}
	}
	return r.eng.cfg.MaxRetries
}

func (r *run) errorContext(node *schema.Node) recovery.ErrorContext {
	ectx := recovery.ErrorContext{
		ExecutionID: r.ec.ExecutionID,
		UserID:      r.ec.UserID,
		ChatID:      r.ec.ChatID,
		Platform:    r.ec.Platform,
		SchemaID:    r.schema.ID,
		Timestamp:   r.eng.now(),
	}
	if node != nil {
		ectx.NodeID = node.ID
		ectx.NodeType = node.Type
	}
	return ectx
}

func (r *run) log(format string, args ...any) {
	r.res.Logs = append(r.res.Logs, fmt.Sprintf(format, args...))
}

func (r *run) publish(ctx context.Context, typ string, node *schema.Node, data map[string]any) {
	if r.eng.hub == nil {
		return
	}
	ev := streaming.ExecutionEvent{
		Type:        typ,
		ExecutionID: r.ec.ExecutionID,
		BotID:       r.schema.ID,
		UserID:      r.ec.UserID,
		ChatID:      r.ec.ChatID,
		Platform:    r.ec.Platform,
		Data:        data,
		Timestamp:   r.eng.now(),
	}
	if node != nil {
		ev.NodeID = node.ID
		ev.NodeType = node.Type
	}
	if err := r.eng.hub.Publish(ctx, ev); err != nil {
		r.eng.logger.DebugContext(ctx, "event not published", "type", typ, "error", err)
	}
}
