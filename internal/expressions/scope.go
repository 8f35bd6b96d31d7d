package expressions

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"
)

// DefaultUserName is what {{userName}} renders to when neither userName nor
// firstName is known.
const DefaultUserName = "Пользователь"

// SystemInfo carries the run-level values exposed as system variables.
type SystemInfo struct {
	UserID      string
	ChatID      string
	Platform    string
	ExecutionID string
	StartedAt   time.Time
}

// Scope is what a node sees when its templates and expressions are
// evaluated: the run's variables, the session's user state and the system
// variables. Variables shadow system names.
type Scope struct {
	Vars map[string]any
	User map[string]any
	Info SystemInfo
	Now  time.Time
}

// System returns the system variables for this scope.
func (s Scope) System() map[string]any {
	now := s.Now
	if now.IsZero() {
		now = time.Now()
	}
	first := Stringify(s.Vars["firstName"])
	userName := Stringify(s.Vars["userName"])
	if userName == "" {
		userName = first
	}
	if userName == "" {
		userName = DefaultUserName
	}
	return map[string]any{
		"userId":            s.Info.UserID,
		"chatId":            s.Info.ChatID,
		"platform":          s.Info.Platform,
		"executionId":       s.Info.ExecutionID,
		"timestamp":         s.Info.StartedAt.UnixMilli(),
		"current_date":      now.Format("02.01.2006"),
		"current_time":      now.Format("15:04:05"),
		"current_datetime":  now.Format("02.01.2006, 15:04:05"),
		"current_timestamp": now.UnixMilli(),
		"current_iso":       now.UTC().Format("2006-01-02T15:04:05.000Z"),
		"userName":          userName,
		"userFirstName":     first,
		"userLastName":      Stringify(s.Vars["lastName"]),
	}
}

// Resolve implements Resolver: variables first, then system variables.
func (s Scope) Resolve(name string) (any, bool) {
	if v, ok := LookupPath(s.Vars, name); ok {
		return v, true
	}
	if v, ok := s.System()[name]; ok {
		return v, true
	}
	return nil, false
}

// CEL returns the activation for CEL expressions.
func (s Scope) CEL() map[string]any {
	return map[string]any{
		"vars":   nonNil(s.Vars),
		"user":   nonNil(s.User),
		"system": s.System(),
	}
}

// Flat merges system variables and run variables (run variables win) into
// one map, with user state under "user". Used as the expr environment.
func (s Scope) Flat() map[string]any {
	out := s.System()
	for k, v := range s.Vars {
		out[k] = v
	}
	if _, ok := out["user"]; !ok {
		out["user"] = nonNil(s.User)
	}
	return out
}

func nonNil(m map[string]any) map[string]any {
	if m == nil {
		return map[string]any{}
	}
	return m
}

// LookupPath resolves a name against m. An exact key wins; otherwise the
// name is walked as a dotted path through nested maps and slices.
func LookupPath(m map[string]any, name string) (any, bool) {
	if m == nil {
		return nil, false
	}
	if v, ok := m[name]; ok {
		return v, true
	}
	if !strings.Contains(name, ".") {
		return nil, false
	}
	var cur any = m
	for _, part := range strings.Split(name, ".") {
		switch node := cur.(type) {
		case map[string]any:
			v, ok := node[part]
			if !ok {
				return nil, false
			}
			cur = v
		case []any:
			idx, err := strconv.Atoi(part)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, false
			}
			cur = node[idx]
		default:
			return nil, false
		}
	}
	return cur, true
}

// SetPath writes value at a dotted path, creating intermediate maps.
func SetPath(m map[string]any, name string, value any) {
	parts := strings.Split(name, ".")
	cur := m
	for _, part := range parts[:len(parts)-1] {
		next, ok := cur[part].(map[string]any)
		if !ok {
			next = make(map[string]any)
			cur[part] = next
		}
		cur = next
	}
	cur[parts[len(parts)-1]] = value
}

// DeepCopyMap copies m recursively so the result shares no maps or slices
// with the input.
func DeepCopyMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	cp := make(map[string]any, len(m))
	for k, v := range m {
		cp[k] = DeepCopy(v)
	}
	return cp
}

// DeepCopy recursively copies maps and slices. Scalars are returned as is.
func DeepCopy(v any) any {
	switch val := v.(type) {
	case map[string]any:
		return DeepCopyMap(val)
	case []any:
		cp := make([]any, len(val))
		for i, item := range val {
			cp[i] = DeepCopy(item)
		}
		return cp
	case []string:
		return append([]string(nil), val...)
	case json.RawMessage:
		if val == nil {
			return nil
		}
		cp := make(json.RawMessage, len(val))
		copy(cp, val)
		return cp
	default:
		return v
	}
}
