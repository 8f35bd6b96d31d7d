package nodes

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/fusserg007/botconstructor/internal/engine"
	"github.com/fusserg007/botconstructor/internal/expressions"
	"github.com/fusserg007/botconstructor/pkg/schema"
)

// Param helpers shared by every handler. Editors save numbers both as JSON
// numbers and as strings, so numeric readers accept either.

func raw(n *schema.Node, key string) (any, bool) {
	v, ok := n.Data[key]
	if !ok || v == nil {
		return nil, false
	}
	return v, true
}

func stringParam(n *schema.Node, key, def string) string {
	v, ok := raw(n, key)
	if !ok {
		return def
	}
	s := expressions.Stringify(v)
	if s == "" {
		return def
	}
	return s
}

// textParam is stringParam with templates resolved.
func textParam(env *engine.Env, n *schema.Node, key, def string) string {
	return env.Render(stringParam(n, key, def))
}

// firstText returns the first non-empty rendered value among keys.
func firstText(env *engine.Env, n *schema.Node, def string, keys ...string) string {
	for _, k := range keys {
		if s := stringParam(n, k, ""); s != "" {
			return env.Render(s)
		}
	}
	return env.Render(def)
}

func boolParam(n *schema.Node, key string, def bool) bool {
	v, ok := raw(n, key)
	if !ok {
		return def
	}
	switch b := v.(type) {
	case bool:
		return b
	case string:
		parsed, err := strconv.ParseBool(strings.TrimSpace(b))
		if err != nil {
			return def
		}
		return parsed
	default:
		return expressions.Truthy(v)
	}
}

func floatParam(env *engine.Env, n *schema.Node, key string, def float64) (float64, bool) {
	v, ok := raw(n, key)
	if !ok {
		return def, true
	}
	if s, isStr := v.(string); isStr {
		s = strings.TrimSpace(env.Render(s))
		if s == "" {
			return def, true
		}
		f, err := strconv.ParseFloat(s, 64)
		return f, err == nil
	}
	return expressions.ToFloat(v)
}

func intParam(env *engine.Env, n *schema.Node, key string, def int) int {
	f, ok := floatParam(env, n, key, float64(def))
	if !ok {
		return def
	}
	return int(f)
}

func mapParam(n *schema.Node, key string) map[string]any {
	v, _ := raw(n, key)
	switch m := v.(type) {
	case map[string]any:
		return m
	case string:
		var out map[string]any
		if json.Unmarshal([]byte(m), &out) == nil {
			return out
		}
	}
	return nil
}

func listParam(n *schema.Node, key string) []any {
	v, _ := raw(n, key)
	switch l := v.(type) {
	case []any:
		return l
	case []string:
		out := make([]any, len(l))
		for i, s := range l {
			out[i] = s
		}
		return out
	}
	return nil
}

func invalid(n *schema.Node, format string, args ...any) error {
	return schema.NewErrorf(schema.ErrCodeValidation, format, args...).WithNode(n.ID)
}

func failed(n *schema.Node, format string, args ...any) *schema.EngineError {
	return schema.NewErrorf(schema.ErrCodeExecution, format, args...).WithNode(n.ID)
}

func truncate(s string, max int) string {
	r := []rune(s)
	if len(r) <= max {
		return s
	}
	return string(r[:max]) + "..."
}
