package httpapi

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"time"

	"github.com/fusserg007/botconstructor/internal/store"
	"github.com/fusserg007/botconstructor/pkg/schema"
)

// handleRegisterBot validates the body as a bot schema, persists it and
// registers it under the path id.
func (s *Server) handleRegisterBot(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	id := r.PathValue("id")

	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var (
		bot      *schema.BotSchema
		warnings []schema.ValidationIssue
	)
	if s.deps.Validator != nil {
		var res *schema.ValidationResult
		bot, res = s.deps.Validator.ValidateDocument(body)
		if !res.Valid() {
			writeJSON(w, http.StatusBadRequest, map[string]any{
				"valid":    false,
				"errors":   nonNil(res.Errors),
				"warnings": nonNil(res.Warnings),
			})
			return
		}
		warnings = res.Warnings
	} else if bot, err = schema.ParseBotSchema(body); err != nil {
		writeEngineError(w, err)
		return
	}
	bot.ID = id

	if s.deps.Store != nil {
		now := time.Now().UTC()
		rec := &store.BotRecord{
			ID:         id,
			Name:       bot.Name,
			Version:    bot.Version,
			Definition: json.RawMessage(body),
			CreatedAt:  now,
			UpdatedAt:  now,
		}
		if err := s.deps.Store.SaveBot(ctx, rec); err != nil {
			writeEngineError(w, err)
			return
		}
	}

	if err := s.deps.Dispatcher.RegisterBotSchema(id, bot); err != nil {
		writeEngineError(w, err)
		return
	}

	if warnings == nil {
		warnings = []schema.ValidationIssue{}
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"id":       id,
		"nodes":    len(bot.Nodes),
		"warnings": warnings,
	})
}

func (s *Server) handleDeleteBot(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if !s.deps.Dispatcher.UnregisterBotSchema(id) {
		writeError(w, http.StatusNotFound, "bot not found")
		return
	}
	if s.deps.Store != nil {
		if err := s.deps.Store.DeleteBot(r.Context(), id); err != nil && schema.CodeOf(err) != schema.ErrCodeNotFound {
			s.deps.Logger.Warn("bot unregistered but not deleted from store", slog.String("bot_id", id), slog.String("error", err.Error()))
		}
	}
	writeJSON(w, http.StatusOK, map[string]any{"deleted": id})
}

func (s *Server) handleValidate(w http.ResponseWriter, r *http.Request) {
	if s.deps.Validator == nil {
		writeError(w, http.StatusNotImplemented, "no validator configured")
		return
	}
	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	_, res := s.deps.Validator.ValidateDocument(body)
	writeJSON(w, http.StatusOK, map[string]any{
		"valid":    res.Valid(),
		"errors":   nonNil(res.Errors),
		"warnings": nonNil(res.Warnings),
	})
}

func nonNil(issues []schema.ValidationIssue) []schema.ValidationIssue {
	if issues == nil {
		return []schema.ValidationIssue{}
	}
	return issues
}

// handleMessage runs an inbound update. With ?async=true it is queued and
// answered with 202.
func (s *Server) handleMessage(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, ok := s.deps.Dispatcher.Schema(id); !ok {
		writeError(w, http.StatusNotFound, "bot not found")
		return
	}

	var msg schema.BotMessage
	if err := decodeBody(r, &msg); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if msg.UserID == "" || msg.ChatID == "" {
		writeError(w, http.StatusBadRequest, "userId and chatId are required")
		return
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now().UTC()
	}
	m := s.messenger(msg.Platform)

	if r.URL.Query().Get("async") == "true" {
		err := s.deps.Dispatcher.Enqueue(r.Context(), id, msg, m, nil)
		if err != nil {
			writeError(w, http.StatusServiceUnavailable, err.Error())
			return
		}
		writeJSON(w, http.StatusAccepted, map[string]any{"queued": true})
		return
	}

	writeJSON(w, http.StatusOK, s.deps.Dispatcher.ProcessMessage(r.Context(), id, msg, m))
}

// handleWebhook starts a bot at a webhook trigger. The JSON body becomes
// the run's payload; user, chat and platform come from the query string.
func (s *Server) handleWebhook(w http.ResponseWriter, r *http.Request) {
	id, nodeID := r.PathValue("id"), r.PathValue("node")
	bot, ok := s.deps.Dispatcher.Schema(id)
	if !ok {
		writeError(w, http.StatusNotFound, "bot not found")
		return
	}
	if n, ok := bot.NodeByID(nodeID); !ok || n.Type != schema.NodeTriggerWebhook {
		writeError(w, http.StatusNotFound, "webhook trigger not found")
		return
	}

	body, err := readBody(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	payload := map[string]any{}
	if len(body) > 0 {
		var v any
		if err := json.Unmarshal(body, &v); err != nil {
			writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
			return
		}
		if obj, isObj := v.(map[string]any); isObj {
			payload = obj
		} else {
			payload["body"] = v
		}
	}

	q := r.URL.Query()
	msg := schema.BotMessage{
		UserID:    q.Get("user"),
		ChatID:    q.Get("chat"),
		Platform:  q.Get("platform"),
		Timestamp: time.Now().UTC(),
	}
	if msg.UserID == "" {
		msg.UserID = "webhook"
	}
	if msg.ChatID == "" {
		msg.ChatID = msg.UserID
	}
	if msg.Platform == "" {
		msg.Platform = "webhook"
	}

	resp := s.deps.Dispatcher.RunTrigger(r.Context(), id, nodeID, msg, payload, s.messenger(msg.Platform))
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleRunSchedule(w http.ResponseWriter, r *http.Request) {
	if s.deps.Scheduler == nil {
		writeError(w, http.StatusNotImplemented, "scheduler is not running")
		return
	}
	if err := s.deps.Scheduler.RunNow(r.Context(), r.PathValue("id"), r.PathValue("node")); err != nil {
		writeEngineError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"ok": true})
}

func (s *Server) handleStopUser(w http.ResponseWriter, r *http.Request) {
	stopped := s.deps.Dispatcher.StopUserExecution(r.PathValue("platform"), r.PathValue("user"), r.PathValue("chat"))
	writeJSON(w, http.StatusOK, map[string]any{"stopped": stopped})
}

func (s *Server) handleClearSession(w http.ResponseWriter, r *http.Request) {
	cleared := s.deps.Dispatcher.ClearUserState(r.Context(), r.PathValue("platform"), r.PathValue("user"), r.PathValue("chat"))
	writeJSON(w, http.StatusOK, map[string]any{"cleared": cleared})
}
