package engine

import (
	"regexp"
	"strings"

	"github.com/fusserg007/botconstructor/internal/expressions"
	"github.com/fusserg007/botconstructor/pkg/schema"
)

// MatchTrigger returns the first trigger node, in schema order, that
// answers td, or nil.
func (e *Engine) MatchTrigger(s *schema.BotSchema, td TriggerData) *schema.Node {
	for _, n := range s.Triggers() {
		if schema.TriggerKindOf(n.Type) != td.Type {
			continue
		}
		if td.NodeID != "" && n.ID != td.NodeID {
			continue
		}
		if e.triggerMatches(n, td) {
			return n
		}
	}
	return nil
}

func (e *Engine) triggerMatches(n *schema.Node, td TriggerData) bool {
	switch td.Type {
	case schema.TriggerCommand:
		want := NormalizeCommand(dataString(n.Data, "command"))
		got := td.Command
		if got == "" {
			got = td.Text
		}
		return want != "" && want == NormalizeCommand(got)

	case schema.TriggerMessage:
		patterns := dataStrings(n.Data, "patterns")
		if p := dataString(n.Data, "pattern"); p != "" {
			patterns = append(patterns, p)
		}
		if len(patterns) == 0 {
			return true
		}
		caseSensitive, _ := n.Data["caseSensitive"].(bool)
		for _, p := range patterns {
			re, err := e.compilePattern(p, caseSensitive)
			if err != nil {
				e.logger.Warn("invalid message trigger pattern", "node_id", n.ID, "pattern", p, "error", err)
				continue
			}
			if re.MatchString(td.Text) {
				return true
			}
		}
		return false

	case schema.TriggerCallback:
		want := dataString(n.Data, "callbackData")
		if want == "" {
			want = dataString(n.Data, "data")
		}
		return want == "" || want == td.CallbackData

	default:
		return true
	}
}

// NormalizeCommand reduces "/Start@my_bot payload" and "start" to "start".
func NormalizeCommand(s string) string {
	fields := strings.Fields(s)
	if len(fields) == 0 {
		return ""
	}
	cmd := strings.TrimPrefix(fields[0], "/")
	if i := strings.IndexByte(cmd, '@'); i >= 0 {
		cmd = cmd[:i]
	}
	return strings.ToLower(cmd)
}

func (e *Engine) compilePattern(p string, caseSensitive bool) (*regexp.Regexp, error) {
	key := p
	if !caseSensitive {
		key = "(?i)" + p
	}
	if re, ok := e.patterns.Load(key); ok {
		return re.(*regexp.Regexp), nil
	}
	re, err := regexp.Compile(key)
	if err != nil {
		return nil, err
	}
	e.patterns.Store(key, re)
	return re, nil
}

func dataString(data map[string]any, key string) string {
	v, ok := data[key]
	if !ok || v == nil {
		return ""
	}
	return expressions.Stringify(v)
}

func dataStrings(data map[string]any, key string) []string {
	switch v := data[key].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s := expressions.Stringify(item); s != "" {
				out = append(out, s)
			}
		}
		return out
	case string:
		if v == "" {
			return nil
		}
		return []string{v}
	}
	return nil
}
