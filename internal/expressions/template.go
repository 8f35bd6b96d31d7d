package expressions

import (
	"strings"
	"sync"
)

// Ref is one {{name}} placeholder. Start and End are byte offsets of the
// whole placeholder, braces included.
type Ref struct {
	Name  string
	Start int
	End   int
}

// Template is a parsed text with its placeholders located.
type Template struct {
	Source string
	Refs   []Ref
}

// Resolver looks a placeholder name up. ok=false leaves the placeholder
// verbatim in the output.
type Resolver interface {
	Resolve(name string) (any, bool)
}

// MapResolver resolves names against a plain map, dotted paths included.
type MapResolver map[string]any

// Resolve implements Resolver.
func (m MapResolver) Resolve(name string) (any, bool) {
	return LookupPath(m, name)
}

// ParseTemplate scans s once and records every well-formed placeholder. A
// placeholder whose trimmed name is empty or contains a brace is treated as
// literal text; an unterminated "{{" ends the scan.
func ParseTemplate(s string) *Template {
	t := &Template{Source: s}
	i := 0
	for i < len(s) {
		j := strings.Index(s[i:], "{{")
		if j < 0 {
			break
		}
		start := i + j
		k := strings.Index(s[start+2:], "}}")
		if k < 0 {
			break
		}
		end := start + 2 + k + 2
		name := strings.TrimSpace(s[start+2 : end-2])
		if name == "" || strings.ContainsAny(name, "{}") {
			i = start + 1
			continue
		}
		t.Refs = append(t.Refs, Ref{Name: name, Start: start, End: end})
		i = end
	}
	return t
}

// Names returns the distinct placeholder names in order of first use.
func (t *Template) Names() []string {
	seen := make(map[string]struct{}, len(t.Refs))
	out := make([]string, 0, len(t.Refs))
	for _, r := range t.Refs {
		if _, ok := seen[r.Name]; ok {
			continue
		}
		seen[r.Name] = struct{}{}
		out = append(out, r.Name)
	}
	return out
}

// Render substitutes vars into the template.
func (t *Template) Render(vars map[string]any) string {
	return t.RenderWith(MapResolver(vars))
}

// RenderWith substitutes every resolvable placeholder. Unknown names stay
// verbatim.
func (t *Template) RenderWith(r Resolver) string {
	if len(t.Refs) == 0 {
		return t.Source
	}
	var b strings.Builder
	b.Grow(len(t.Source))
	last := 0
	for _, ref := range t.Refs {
		b.WriteString(t.Source[last:ref.Start])
		if v, ok := r.Resolve(ref.Name); ok {
			b.WriteString(Stringify(v))
		} else {
			b.WriteString(t.Source[ref.Start:ref.End])
		}
		last = ref.End
	}
	b.WriteString(t.Source[last:])
	return b.String()
}

// Renderer caches parsed templates by source text.
type Renderer struct {
	mu    sync.RWMutex
	cache map[string]*Template
}

// NewRenderer creates an empty template cache.
func NewRenderer() *Renderer {
	return &Renderer{cache: make(map[string]*Template)}
}

// Parse returns the cached template for s, parsing it on first use.
func (r *Renderer) Parse(s string) *Template {
	r.mu.RLock()
	if t, ok := r.cache[s]; ok {
		r.mu.RUnlock()
		return t
	}
	r.mu.RUnlock()

	r.mu.Lock()
	defer r.mu.Unlock()
	if t, ok := r.cache[s]; ok {
		return t
	}
	t := ParseTemplate(s)
	r.cache[s] = t
	return t
}

// Render resolves text against res. Text without "{{" is returned untouched
// and never cached.
func (r *Renderer) Render(text string, res Resolver) string {
	if !strings.Contains(text, "{{") {
		return text
	}
	return r.Parse(text).RenderWith(res)
}

// RenderValue renders strings and recurses into maps and slices, leaving
// other values alone. The input is not modified.
func (r *Renderer) RenderValue(v any, res Resolver) any {
	switch val := v.(type) {
	case string:
		return r.Render(val, res)
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = r.RenderValue(item, res)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = r.RenderValue(item, res)
		}
		return out
	default:
		return v
	}
}

// Len reports how many templates are cached.
func (r *Renderer) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.cache)
}
