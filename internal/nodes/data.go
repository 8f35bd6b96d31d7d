package nodes

import (
	"bytes"
	"context"
	"encoding/json"
	"math"
	"slices"
	"sort"
	"strings"

	"github.com/fusserg007/botconstructor/internal/engine"
	"github.com/fusserg007/botconstructor/internal/expressions"
	"github.com/fusserg007/botconstructor/pkg/schema"
)

// DataHandlers returns the variable-transforming nodes.
func DataHandlers(deps Deps) []engine.Handler {
	deps.defaults()
	d := &dataNodes{deps: deps}
	return []engine.Handler{
		engine.HandlerOf(schema.NodeDataMath, d.mathOp),
		engine.HandlerOf(schema.NodeDataString, d.str),
		engine.HandlerOf(schema.NodeDataArray, d.array),
		engine.HandlerOf(schema.NodeDataJSON, d.jsonOp),
		engine.HandlerOf(schema.NodeDataRandom, d.random),
		engine.HandlerOf(schema.NodeDataFormat, d.format),
	}
}

type dataNodes struct {
	deps Deps
}

func decodeJSON(s string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	return v, nil
}

func roundTo(f float64, precision int) float64 {
	if precision < 0 || math.IsInf(f, 0) || math.IsNaN(f) {
		return f
	}
	p := math.Pow(10, float64(precision))
	return math.Round(f*p) / p
}

func (d *dataNodes) mathOp(ctx context.Context, n *schema.Node, _ *engine.ExecutionContext, env *engine.Env) (*engine.Outcome, error) {
	variable := stringParam(n, "resultVariable", "mathResult")
	precision := intParam(env, n, "precision", 2)

	if expr := stringParam(n, "expression", ""); expr != "" {
		v, err := env.Exprs.Expr.Evaluate(ctx, env.Render(expr), env.Scope().Flat())
		if err != nil {
			return nil, invalid(n, "math expression: %v", err)
		}
		f, ok := expressions.ToFloat(v)
		if !ok {
			return nil, invalid(n, "math expression returned %s, want number", expressions.TypeOf(v))
		}
		return engine.Next().SetVar(variable, roundTo(f, precision)), nil
	}

	op := stringParam(n, "operation", "add")
	a, ok := floatParam(env, n, "operand1", 0)
	if !ok {
		return nil, invalid(n, "operand1 is not a number")
	}
	b, ok := floatParam(env, n, "operand2", 0)
	if !ok {
		return nil, invalid(n, "operand2 is not a number")
	}

	var result float64
	switch op {
	case "add":
		result = a + b
	case "subtract":
		result = a - b
	case "multiply":
		result = a * b
	case "divide":
		if b == 0 {
			return nil, failed(n, "division by zero")
		}
		result = a / b
	case "modulo":
		if b == 0 {
			return nil, failed(n, "modulo by zero")
		}
		result = math.Mod(a, b)
	case "power":
		result = math.Pow(a, b)
	case "sqrt":
		if a < 0 {
			return nil, failed(n, "square root of negative number")
		}
		result = math.Sqrt(a)
	case "abs":
		result = math.Abs(a)
	case "round":
		result = math.Round(a)
	case "floor":
		result = math.Floor(a)
	case "ceil":
		result = math.Ceil(a)
	case "min":
		result = math.Min(a, b)
	case "max":
		result = math.Max(a, b)
	default:
		return nil, invalid(n, "unknown math operation %q", op)
	}
	return engine.Next().SetVar(variable, roundTo(result, precision)), nil
}

func (d *dataNodes) str(_ context.Context, n *schema.Node, _ *engine.ExecutionContext, env *engine.Env) (*engine.Outcome, error) {
	s1 := textParam(env, n, "string1", "")
	s2 := textParam(env, n, "string2", "")
	variable := stringParam(n, "resultVariable", "stringResult")
	out := engine.Next()

	switch op := stringParam(n, "operation", "concat"); op {
	case "concat":
		out.SetVar(variable, s1+s2)
	case "substring":
		r := []rune(s1)
		start := clamp(intParam(env, n, "start", 0), 0, len(r))
		end := clamp(intParam(env, n, "end", len(r)), 0, len(r))
		if start > end {
			start, end = end, start
		}
		out.SetVar(variable, string(r[start:end]))
	case "replace":
		search := textParam(env, n, "searchValue", "")
		repl := textParam(env, n, "replaceValue", "")
		count := 1
		if boolParam(n, "replaceAll", false) {
			count = -1
		}
		out.SetVar(variable, strings.Replace(s1, search, repl, count))
	case "toLowerCase":
		out.SetVar(variable, strings.ToLower(s1))
	case "toUpperCase":
		out.SetVar(variable, strings.ToUpper(s1))
	case "trim":
		out.SetVar(variable, strings.TrimSpace(s1))
	case "length":
		out.SetVar(variable, float64(len([]rune(s1))))
	case "split":
		parts := strings.Split(s1, textParam(env, n, "separator", ","))
		list := make([]any, len(parts))
		for i, p := range parts {
			list[i] = p
		}
		out.SetVar(variable, list).SetVar(variable+"_length", float64(len(list)))
	case "indexOf":
		idx := strings.Index(s1, textParam(env, n, "searchString", ""))
		if idx > 0 {
			idx = len([]rune(s1[:idx]))
		}
		out.SetVar(variable, float64(idx))
	case "includes":
		out.SetVar(variable, boolNum(strings.Contains(s1, textParam(env, n, "includesString", ""))))
	default:
		return nil, invalid(n, "unknown string operation %q", op)
	}
	return out, nil
}

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

func boolNum(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

func (d *dataNodes) array(ctx context.Context, n *schema.Node, _ *engine.ExecutionContext, env *engine.Env) (*engine.Outcome, error) {
	name := stringParam(n, "arrayVariable", "array")
	variable := stringParam(n, "resultVariable", name)

	var list []any
	if v, ok := env.Resolve(name); ok && v != nil {
		switch a := v.(type) {
		case []any:
			list = slices.Clone(a)
		case []string:
			for _, s := range a {
				list = append(list, s)
			}
		default:
			return nil, invalid(n, "variable %s is not an array", name)
		}
	}
	if list == nil {
		list = []any{}
	}
	out := engine.Next()

	switch op := stringParam(n, "operation", "push"); op {
	case "push":
		out.SetVar(variable, append(list, textParam(env, n, "value", "")))
	case "pop":
		var popped any
		if len(list) > 0 {
			popped, list = list[len(list)-1], list[:len(list)-1]
		}
		out.SetVar(variable, list).SetVar(variable+"_popped", popped)
	case "shift":
		var shifted any
		if len(list) > 0 {
			shifted, list = list[0], list[1:]
		}
		out.SetVar(variable, list).SetVar(variable+"_shifted", shifted)
	case "unshift":
		out.SetVar(variable, append([]any{textParam(env, n, "value", "")}, list...))
	case "slice":
		start := clamp(intParam(env, n, "start", 0), 0, len(list))
		end := clamp(intParam(env, n, "end", len(list)), start, len(list))
		out.SetVar(variable, slices.Clone(list[start:end]))
	case "splice":
		start := clamp(intParam(env, n, "start", 0), 0, len(list))
		end := clamp(start+intParam(env, n, "deleteCount", 1), start, len(list))
		removed := slices.Clone(list[start:end])
		var insert []any
		if v := textParam(env, n, "value", ""); v != "" {
			insert = []any{v}
		}
		list = slices.Replace(list, start, end, insert...)
		out.SetVar(variable, list).SetVar(variable+"_spliced", removed)
	case "join":
		parts := make([]string, len(list))
		for i, item := range list {
			parts[i] = expressions.Stringify(item)
		}
		out.SetVar(variable, strings.Join(parts, textParam(env, n, "separator", ",")))
	case "reverse":
		slices.Reverse(list)
		out.SetVar(variable, list)
	case "sort":
		sort.SliceStable(list, func(i, j int) bool {
			return expressions.Stringify(list[i]) < expressions.Stringify(list[j])
		})
		out.SetVar(variable, list)
	case "length":
		out.SetVar(variable, float64(len(list)))
	case "indexOf":
		out.SetVar(variable, float64(indexOf(list, textParam(env, n, "searchValue", ""))))
	case "includes":
		out.SetVar(variable, boolNum(indexOf(list, textParam(env, n, "includesValue", "")) >= 0))
	case "filter":
		cond := stringParam(n, "filterCondition", "")
		if cond == "" {
			return nil, invalid(n, "filterCondition is required")
		}
		base := env.Scope().Flat()
		kept := make([]any, 0, len(list))
		for i, item := range list {
			base["item"], base["index"], base["array"] = item, i, list
			ok, err := env.Exprs.Expr.EvaluateBool(ctx, cond, base)
			if err != nil {
				return nil, invalid(n, "filter condition: %v", err)
			}
			if ok {
				kept = append(kept, item)
			}
		}
		out.SetVar(variable, kept)
	default:
		return nil, invalid(n, "unknown array operation %q", op)
	}
	return out, nil
}

// indexOf compares by string form since pushed values arrive as text.
func indexOf(list []any, want string) int {
	for i, item := range list {
		if expressions.Stringify(item) == want {
			return i
		}
	}
	return -1
}

func (d *dataNodes) jsonOp(ctx context.Context, n *schema.Node, _ *engine.ExecutionContext, env *engine.Env) (*engine.Outcome, error) {
	variable := stringParam(n, "resultVariable", "jsonResult")
	source, _ := env.Resolve(stringParam(n, "jsonVariable", "jsonObject"))

	var result any
	switch op := stringParam(n, "operation", "parse"); op {
	case "parse":
		v, err := decodeJSON(textParam(env, n, "jsonString", ""))
		if err != nil {
			return nil, invalid(n, "invalid JSON: %v", err)
		}
		result = v
	case "stringify":
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetEscapeHTML(false)
		if indent := intParam(env, n, "indent", 0); indent > 0 {
			enc.SetIndent("", strings.Repeat(" ", indent))
		}
		if err := enc.Encode(source); err != nil {
			return nil, invalid(n, "cannot encode %s: %v", expressions.TypeOf(source), err)
		}
		result = strings.TrimSuffix(buf.String(), "\n")
	case "get":
		obj, _ := source.(map[string]any)
		result, _ = expressions.LookupPath(obj, stringParam(n, "path", ""))
	case "set":
		obj, _ := expressions.DeepCopy(source).(map[string]any)
		if obj == nil {
			obj = map[string]any{}
		}
		path := stringParam(n, "path", "")
		if path == "" {
			return nil, invalid(n, "path is required")
		}
		val, _ := raw(n, "value")
		expressions.SetPath(obj, path, env.RenderValue(val))
		result = obj
	case "keys", "values", "entries":
		obj, _ := source.(map[string]any)
		keys := make([]string, 0, len(obj))
		for k := range obj {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		list := make([]any, len(keys))
		for i, k := range keys {
			switch op {
			case "keys":
				list[i] = k
			case "values":
				list[i] = obj[k]
			default:
				list[i] = []any{k, obj[k]}
			}
		}
		result = list
	case "query":
		q := textParam(env, n, "query", "")
		input := source
		if s := textParam(env, n, "jsonString", ""); s != "" {
			v, err := decodeJSON(s)
			if err != nil {
				return nil, invalid(n, "invalid JSON: %v", err)
			}
			input = v
		}
		rows, err := env.Exprs.JQ.Query(ctx, q, input)
		if err != nil {
			return nil, invalid(n, "jq query: %v", err)
		}
		switch len(rows) {
		case 0:
			result = nil
		case 1:
			result = rows[0]
		default:
			result = rows
		}
	default:
		return nil, invalid(n, "unknown json operation %q", op)
	}
	return engine.Next().SetVar(variable, result), nil
}
