package nodes

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/fusserg007/botconstructor/internal/engine"
	"github.com/fusserg007/botconstructor/internal/expressions"
	"github.com/fusserg007/botconstructor/pkg/schema"
)

const defaultInputPrompt = "Введите данные:"

// ActionHandlers returns the messaging, variable and side-effect nodes.
func ActionHandlers(deps Deps) []engine.Handler {
	deps.defaults()
	a := &actionNodes{deps: deps}
	return []engine.Handler{
		engine.HandlerOf(schema.NodeSendMessage, a.sendMessage),
		engine.HandlerOf(schema.NodeSendMedia, a.sendMedia),
		engine.HandlerOf(schema.NodeSendKeyboard, a.sendKeyboard),
		engine.HandlerOf(schema.NodeRequestInput, a.requestInput),
		engine.HandlerOf(schema.NodeSetVariable, a.setVariable),
		engine.HandlerOf(schema.NodeDelay, a.delay),
		engine.HandlerOf(schema.NodeHTTPRequest, a.httpRequest),
		engine.HandlerOf(schema.NodeSaveData, a.saveData),
		engine.HandlerOf(schema.NodeSendNotification, a.sendNotification),
		engine.HandlerOf(schema.NodeLog, a.log),
	}
}

type actionNodes struct {
	deps Deps
}

func (a *actionNodes) sendMessage(_ context.Context, n *schema.Node, ec *engine.ExecutionContext, env *engine.Env) (*engine.Outcome, error) {
	text := firstText(env, n, "", "message", "text")
	if strings.TrimSpace(text) == "" {
		return nil, invalid(n, "message text is empty")
	}
	opts := map[string]any{
		"parseMode":             stringParam(n, "parseMode", "text"),
		"disableWebPagePreview": boolParam(n, "disablePreview", false),
	}
	if boolParam(n, "replyToMessage", false) && ec.MessageID != "" {
		opts["replyToMessageId"] = ec.MessageID
	}
	return engine.Next().Emit(schema.Action{
		Type:    schema.ActionSendMessage,
		Text:    text,
		Options: opts,
	}), nil
}

func (a *actionNodes) sendMedia(_ context.Context, n *schema.Node, _ *engine.ExecutionContext, env *engine.Env) (*engine.Outcome, error) {
	url := firstText(env, n, "", "mediaUrl", "url")
	if url == "" {
		return nil, invalid(n, "mediaUrl is required")
	}
	opts := map[string]any{}
	if c := textParam(env, n, "caption", ""); c != "" {
		opts["caption"] = c
	}
	if f := textParam(env, n, "fileName", ""); f != "" {
		opts["fileName"] = f
	}
	return engine.Next().Emit(schema.Action{
		Type:      schema.ActionSendMedia,
		MediaType: stringParam(n, "mediaType", "photo"),
		MediaURL:  url,
		Options:   opts,
	}), nil
}

func (a *actionNodes) sendKeyboard(_ context.Context, n *schema.Node, _ *engine.ExecutionContext, env *engine.Env) (*engine.Outcome, error) {
	text := firstText(env, n, "Выберите вариант:", "message", "text")
	kind := stringParam(n, "keyboardType", "inline")
	if kind != "inline" && kind != "reply" {
		return nil, invalid(n, "keyboardType must be inline or reply, got %q", kind)
	}

	rows := make([][]map[string]any, 0)
	for _, r := range listParam(n, "buttons") {
		// A flat list of buttons means one button per row.
		cells, isRow := r.([]any)
		if !isRow {
			cells = []any{r}
		}
		row := make([]map[string]any, 0, len(cells))
		for _, c := range cells {
			btn, ok := c.(map[string]any)
			if !ok {
				continue
			}
			out := map[string]any{"text": env.Render(expressions.Stringify(btn["text"]))}
			if cb := expressions.Stringify(btn["callbackData"]); cb != "" {
				out["callbackData"] = env.Render(cb)
			}
			if u := expressions.Stringify(btn["url"]); u != "" {
				out["url"] = env.Render(u)
			}
			row = append(row, out)
		}
		if len(row) > 0 {
			rows = append(rows, row)
		}
	}
	if len(rows) == 0 {
		return nil, invalid(n, "keyboard has no buttons")
	}

	return engine.Next().Emit(schema.Action{
		Type: schema.ActionSendMessage,
		Text: text,
		Options: map[string]any{
			"keyboard": map[string]any{
				"type":            kind,
				"buttons":         rows,
				"oneTimeKeyboard": boolParam(n, "oneTime", false),
				"resizeKeyboard":  boolParam(n, "resize", true),
			},
		},
	}), nil
}

func (a *actionNodes) requestInput(_ context.Context, n *schema.Node, _ *engine.ExecutionContext, env *engine.Env) (*engine.Outcome, error) {
	variable := stringParam(n, "variable", "userInput")
	out := engine.Next().Emit(schema.Action{
		Type:    schema.ActionSendMessage,
		Text:    firstText(env, n, defaultInputPrompt, "message", "prompt"),
		Options: map[string]any{"forceReply": true},
	})
	out.Wait = &engine.InputRequest{
		Variable:  variable,
		InputType: stringParam(n, "inputType", "text"),
	}
	return out, nil
}

func (a *actionNodes) setVariable(ctx context.Context, n *schema.Node, _ *engine.ExecutionContext, env *engine.Env) (*engine.Outcome, error) {
	name := stringParam(n, "variable", "temp")
	value, err := typedValue(ctx, env, n)
	if err != nil {
		return nil, err
	}
	return engine.Next().SetVar(name, value), nil
}

// typedValue reads data.value, renders it and coerces it to data.valueType.
// An "expression" field is evaluated with expr instead.
func typedValue(ctx context.Context, env *engine.Env, n *schema.Node) (any, error) {
	if expr := stringParam(n, "expression", ""); expr != "" {
		v, err := env.Exprs.Expr.Evaluate(ctx, expr, env.Scope().Flat())
		if err != nil {
			return nil, invalid(n, "expression %q: %v", expr, err)
		}
		return v, nil
	}

	rawVal, _ := raw(n, "value")
	rendered := env.RenderValue(rawVal)
	switch typ := stringParam(n, "valueType", "string"); typ {
	case "string":
		return expressions.Stringify(rendered), nil
	case "number":
		f, ok := expressions.ToFloat(rendered)
		if !ok {
			return nil, invalid(n, "value %q is not a number", expressions.Stringify(rendered))
		}
		return f, nil
	case "boolean":
		if b, ok := rendered.(bool); ok {
			return b, nil
		}
		s := strings.ToLower(strings.TrimSpace(expressions.Stringify(rendered)))
		return s == "true" || s == "1", nil
	case "json":
		if s, ok := rendered.(string); ok {
			v, err := decodeJSON(s)
			if err != nil {
				return nil, invalid(n, "value is not valid JSON: %v", err)
			}
			return v, nil
		}
		return rendered, nil
	default:
		return nil, invalid(n, "unsupported valueType %q", typ)
	}
}

var delayUnits = map[string]time.Duration{
	"ms": time.Millisecond,
	"s":  time.Second,
	"m":  time.Minute,
	"h":  time.Hour,
}

func (a *actionNodes) delay(ctx context.Context, n *schema.Node, _ *engine.ExecutionContext, env *engine.Env) (*engine.Outcome, error) {
	amount, ok := floatParam(env, n, "duration", 1000)
	if !ok || amount < 0 {
		return nil, invalid(n, "duration must be a non-negative number")
	}
	unit := stringParam(n, "unit", "ms")
	mult, ok := delayUnits[unit]
	if !ok {
		return nil, invalid(n, "unknown delay unit %q", unit)
	}
	d := time.Duration(amount * float64(mult))
	if d > a.deps.MaxDelay {
		d = a.deps.MaxDelay
	}
	if err := a.deps.Sleep(ctx, d); err != nil {
		return nil, err
	}
	return engine.Next().Emit(schema.Action{
		Type: schema.ActionDelay,
		Data: map[string]any{"duration": d.Milliseconds()},
	}), nil
}

func (a *actionNodes) saveData(ctx context.Context, n *schema.Node, ec *engine.ExecutionContext, env *engine.Env) (*engine.Outcome, error) {
	fileName := textParam(env, n, "fileName", "data.json")

	var payload map[string]any
	if d, ok := raw(n, "data"); ok {
		switch v := env.RenderValue(d).(type) {
		case map[string]any:
			payload = v
		case string:
			parsed, err := decodeJSON(v)
			if m, isMap := parsed.(map[string]any); err == nil && isMap {
				payload = m
			} else {
				payload = map[string]any{"value": v}
			}
		default:
			payload = map[string]any{"value": v}
		}
	} else {
		payload = expressions.DeepCopyMap(ec.Variables)
	}

	now := env.Now
	rec := Record{
		BotID:       ec.SchemaID,
		Collection:  fileName,
		ExecutionID: ec.ExecutionID,
		NodeID:      n.ID,
		Platform:    ec.Platform,
		UserID:      ec.UserID,
		ChatID:      ec.ChatID,
		Data: map[string]any{
			"dataType": stringParam(n, "dataType", "json"),
			"append":   boolParam(n, "append", false),
			"payload":  payload,
		},
		CreatedAt: now,
	}
	if err := a.deps.Records.SaveRecord(ctx, rec); err != nil {
		return nil, schema.NewErrorf(schema.ErrCodeStore, "save %s: %v", fileName, err).WithNode(n.ID).WithCause(err)
	}

	return engine.Next().
		SetVar("lastSavedFile", fileName).
		SetVar("lastSavedAt", float64(now.UnixMilli())).
		Emit(schema.Action{
			Type: schema.ActionSaveData,
			Data: map[string]any{"fileName": fileName, "payload": payload},
		}), nil
}

func (a *actionNodes) sendNotification(_ context.Context, n *schema.Node, ec *engine.ExecutionContext, env *engine.Env) (*engine.Outcome, error) {
	message := textParam(env, n, "message", "")
	if message == "" {
		return nil, invalid(n, "notification message is empty")
	}
	title := textParam(env, n, "title", "")
	text := message
	if title != "" {
		text = title + "\n" + message
	}

	recipients := make([]string, 0)
	for _, r := range listParam(n, "recipients") {
		if s := env.Render(expressions.Stringify(r)); s != "" {
			recipients = append(recipients, s)
		}
	}
	if len(recipients) == 0 {
		recipients = []string{ec.UserID}
	}

	out := engine.Next()
	for _, to := range recipients {
		out.Emit(schema.Action{
			Type:   schema.ActionSendNotification,
			ChatID: to,
			Text:   text,
			Data: map[string]any{
				"notificationType": stringParam(n, "notificationType", "info"),
				"title":            title,
			},
		})
	}
	return out, nil
}

func (a *actionNodes) log(ctx context.Context, n *schema.Node, ec *engine.ExecutionContext, env *engine.Env) (*engine.Outcome, error) {
	level := stringParam(n, "logLevel", "info")
	message := textParam(env, n, "message", "")

	args := []any{"node_type", n.Type}
	if boolParam(n, "includeContext", false) {
		args = append(args, "variables", ec.Variables, "user_id", ec.UserID)
	}
	switch level {
	case "debug":
		a.deps.Logger.DebugContext(ctx, message, args...)
	case "warn", "warning":
		a.deps.Logger.WarnContext(ctx, message, args...)
	case "error":
		a.deps.Logger.ErrorContext(ctx, message, args...)
	default:
		a.deps.Logger.InfoContext(ctx, message, args...)
	}

	out := engine.Next().
		SetVar("lastLogMessage", message).
		SetVar("lastLogLevel", level).
		SetVar("lastLogTime", env.Now.Format(time.RFC3339))
	out.Logs = append(out.Logs, "["+strings.ToUpper(level)+"] "+message)
	return out.Emit(schema.Action{
		Type: schema.ActionLog,
		Text: message,
		Data: map[string]any{"level": level},
	}), nil
}

func (a *actionNodes) httpRequest(ctx context.Context, n *schema.Node, _ *engine.ExecutionContext, env *engine.Env) (*engine.Outcome, error) {
	variable := stringParam(n, "responseVariable", "httpResponse")
	resp, err := a.deps.call(ctx, n, env, requestSpec{
		URL:     textParam(env, n, "url", ""),
		Method:  stringParam(n, "method", "GET"),
		Headers: renderHeaders(env, mapParam(n, "headers")),
		Body:    bodyParam(env, n, "body"),
		Timeout: timeoutParam(env, n),
	})
	if err != nil {
		return nil, err
	}
	return engine.Next().
		SetVar(variable, resp.Body).
		SetVar(variable+"_status", float64(resp.StatusCode)).
		SetVar(variable+"_headers", resp.Headers).
		Emit(schema.Action{
			Type: schema.ActionHTTPRequest,
			Data: map[string]any{"method": resp.Method, "url": resp.URL, "status": resp.StatusCode},
		}), nil
}

func timeoutParam(env *engine.Env, n *schema.Node) time.Duration {
	ms := intParam(env, n, "timeout", int(defaultNodeTimeout/time.Millisecond))
	if ms <= 0 {
		return defaultNodeTimeout
	}
	return time.Duration(ms) * time.Millisecond
}

func itoa(i int) string { return strconv.Itoa(i) }
