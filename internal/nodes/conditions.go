package nodes

import (
	"context"
	"math"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/fusserg007/botconstructor/internal/engine"
	"github.com/fusserg007/botconstructor/internal/expressions"
	"github.com/fusserg007/botconstructor/pkg/schema"
)

// ConditionHandlers returns the branching nodes. Each one selects the
// "true" or "false" handle, except switch which names its output.
func ConditionHandlers(deps Deps) []engine.Handler {
	deps.defaults()
	c := &conditionNodes{deps: deps}
	return []engine.Handler{
		engine.HandlerOf(schema.NodeConditionText, c.textContains),
		engine.HandlerOf(schema.NodeConditionVariable, c.variableCompare),
		engine.HandlerOf(schema.NodeConditionLogic, c.logic),
		engine.HandlerOf(schema.NodeConditionTime, c.timeOf),
		engine.HandlerOf(schema.NodeConditionRandom, c.random),
		engine.HandlerOf(schema.NodeConditionSwitch, c.switchCase),
		engine.HandlerOf(schema.NodeConditionExists, c.exists),
		engine.HandlerOf(schema.NodeConditionType, c.typeCheck),
	}
}

type conditionNodes struct {
	deps Deps

	mu      sync.Mutex
	regexps map[string]*regexp.Regexp
}

func (c *conditionNodes) compile(pattern string) (*regexp.Regexp, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if re, ok := c.regexps[pattern]; ok {
		return re, nil
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		return nil, err
	}
	if c.regexps == nil {
		c.regexps = make(map[string]*regexp.Regexp)
	}
	c.regexps[pattern] = re
	return re, nil
}

func (c *conditionNodes) textContains(_ context.Context, n *schema.Node, _ *engine.ExecutionContext, env *engine.Env) (*engine.Outcome, error) {
	pattern := textParam(env, n, "pattern", "")
	text := ""
	if v, ok := env.Resolve("messageText"); ok {
		text = expressions.Stringify(v)
	}
	caseSensitive := boolParam(n, "caseSensitive", false)
	matchType := stringParam(n, "matchType", "contains")

	if matchType == "regex" {
		expr := pattern
		if !caseSensitive {
			expr = "(?i)" + expr
		}
		re, err := c.compile(expr)
		if err != nil {
			return nil, invalid(n, "invalid regex %q: %v", pattern, err)
		}
		return engine.Branch(re.MatchString(text)), nil
	}

	if !caseSensitive {
		text = strings.ToLower(text)
		pattern = strings.ToLower(pattern)
	}
	var ok bool
	switch matchType {
	case "contains":
		ok = strings.Contains(text, pattern)
	case "equals":
		ok = text == pattern
	case "startsWith":
		ok = strings.HasPrefix(text, pattern)
	case "endsWith":
		ok = strings.HasSuffix(text, pattern)
	default:
		return nil, invalid(n, "unknown matchType %q", matchType)
	}
	return engine.Branch(ok), nil
}

func (c *conditionNodes) variableCompare(_ context.Context, n *schema.Node, _ *engine.ExecutionContext, env *engine.Env) (*engine.Outcome, error) {
	left := operandValue(env, n, "variable1")
	right := operandValue(env, n, "variable2")
	op := stringParam(n, "operator", "==")
	ok, err := compare(left, op, right)
	if err != nil {
		return nil, invalid(n, "%v", err)
	}
	return engine.Branch(ok), nil
}

// operandValue reads a comparison operand. A bare variable name resolves to
// that variable; anything else is rendered as a template literal.
func operandValue(env *engine.Env, n *schema.Node, key string) any {
	v, ok := raw(n, key)
	if !ok {
		return nil
	}
	s, isStr := v.(string)
	if !isStr {
		return v
	}
	if !strings.Contains(s, "{{") {
		if resolved, found := env.Resolve(strings.TrimSpace(s)); found {
			return resolved
		}
	}
	return env.Render(s)
}

type compareError string

func (e compareError) Error() string { return string(e) }

// compare applies op. Equality is loose (numbers compare numerically, all
// else by string form) except the strict operators, which also require the
// same JSON type.
func compare(left any, op string, right any) (bool, error) {
	ls, rs := expressions.Stringify(left), expressions.Stringify(right)
	switch op {
	case "==", "equals":
		return looseEqual(left, right), nil
	case "!=", "notEquals":
		return !looseEqual(left, right), nil
	case "===":
		return expressions.TypeOf(left) == expressions.TypeOf(right) && ls == rs, nil
	case "!==":
		return expressions.TypeOf(left) != expressions.TypeOf(right) || ls != rs, nil
	case ">", "<", ">=", "<=":
		lf, lok := expressions.ToFloat(left)
		rf, rok := expressions.ToFloat(right)
		if !lok || !rok {
			return false, nil
		}
		switch op {
		case ">":
			return lf > rf, nil
		case "<":
			return lf < rf, nil
		case ">=":
			return lf >= rf, nil
		default:
			return lf <= rf, nil
		}
	case "contains":
		return strings.Contains(ls, rs), nil
	case "startsWith":
		return strings.HasPrefix(ls, rs), nil
	case "endsWith":
		return strings.HasSuffix(ls, rs), nil
	}
	return false, compareError("unsupported operator " + op)
}

func looseEqual(a, b any) bool {
	af, aok := expressions.ToFloat(a)
	bf, bok := expressions.ToFloat(b)
	_, aBool := a.(bool)
	_, bBool := b.(bool)
	if aok && bok && !aBool && !bBool {
		return af == bf
	}
	return expressions.Stringify(a) == expressions.Stringify(b)
}

// logic evaluates either a single CEL "expression" over vars/user/system,
// or a list of expr "conditions" over the flat scope joined by operator.
// NOT negates the conjunction of the list.
func (c *conditionNodes) logic(ctx context.Context, n *schema.Node, _ *engine.ExecutionContext, env *engine.Env) (*engine.Outcome, error) {
	scope := env.Scope()
	if expr := stringParam(n, "expression", ""); expr != "" {
		ok, err := env.Exprs.CEL.EvaluateBool(ctx, expr, scope.CEL())
		if err != nil {
			return nil, invalid(n, "logic expression: %v", err)
		}
		return engine.Branch(ok), nil
	}

	data := scope.Flat()
	data["now"] = env.Now.UnixMilli()
	data["currentHour"] = env.Now.Hour()
	data["currentMinute"] = env.Now.Minute()

	op := strings.ToUpper(stringParam(n, "operator", "AND"))
	if op != "AND" && op != "OR" && op != "NOT" {
		return nil, invalid(n, "unknown logic operator %q", op)
	}
	result := op != "OR"
	for _, item := range listParam(n, "conditions") {
		cond := strings.TrimSpace(expressions.Stringify(item))
		if cond == "" {
			continue
		}
		ok, err := env.Exprs.Expr.EvaluateBool(ctx, cond, data)
		if err != nil {
			return nil, invalid(n, "condition %q: %v", cond, err)
		}
		if op == "OR" {
			if ok {
				result = true
				break
			}
			continue
		}
		if !ok {
			result = false
			break
		}
	}
	if op == "NOT" {
		result = !result
	}
	return engine.Branch(result), nil
}

func (c *conditionNodes) timeOf(_ context.Context, n *schema.Node, _ *engine.ExecutionContext, env *engine.Env) (*engine.Outcome, error) {
	now := env.Now
	if tz := stringParam(n, "timezone", ""); tz != "" {
		loc, err := time.LoadLocation(tz)
		if err != nil {
			return nil, invalid(n, "unknown timezone %q", tz)
		}
		now = now.In(loc)
	}

	var current int
	switch kind := stringParam(n, "timeType", "hour"); kind {
	case "hour":
		current = now.Hour()
	case "day":
		current = now.Day()
	case "month":
		current = int(now.Month())
	case "weekday":
		current = int(now.Weekday())
	case "year":
		current = now.Year()
	default:
		return nil, invalid(n, "unknown timeType %q", kind)
	}

	want, ok := floatParam(env, n, "value", 0)
	if !ok {
		return nil, invalid(n, "time value must be a number")
	}
	result, err := compare(float64(current), stringParam(n, "operator", "=="), want)
	if err != nil {
		return nil, invalid(n, "%v", err)
	}
	return engine.Branch(result), nil
}

func (c *conditionNodes) random(_ context.Context, n *schema.Node, _ *engine.ExecutionContext, env *engine.Env) (*engine.Outcome, error) {
	p, ok := floatParam(env, n, "probability", 0.5)
	if !ok || p < 0 || p > 1 {
		return nil, invalid(n, "probability must be between 0 and 1")
	}
	var roll float64
	if seed, has := raw(n, "seed"); has {
		s, _ := expressions.ToFloat(seed)
		roll = seededRoll(s)
	} else {
		roll = c.deps.rng.Float64()
	}
	return engine.Branch(roll < p), nil
}

// seededRoll maps a seed to [0,1) deterministically.
func seededRoll(seed float64) float64 {
	x := math.Sin(seed) * 10000
	return x - math.Floor(x)
}

func (c *conditionNodes) switchCase(_ context.Context, n *schema.Node, _ *engine.ExecutionContext, env *engine.Env) (*engine.Outcome, error) {
	value := expressions.Stringify(operandValue(env, n, "variable"))
	for i, item := range listParam(n, "cases") {
		cs, ok := item.(map[string]any)
		if !ok {
			continue
		}
		if env.Render(expressions.Stringify(cs["value"])) != value {
			continue
		}
		handle := expressions.Stringify(cs["output"])
		if handle == "" {
			handle = "case-" + itoa(i)
		}
		return &engine.Outcome{Handle: handle}, nil
	}
	if def := stringParam(n, "defaultCase", ""); def != "" {
		return &engine.Outcome{Handle: def}, nil
	}
	// Nothing matched and there is no default: stop this branch.
	return &engine.Outcome{Halt: true}, nil
}

func (c *conditionNodes) exists(_ context.Context, n *schema.Node, _ *engine.ExecutionContext, env *engine.Env) (*engine.Outcome, error) {
	name := stringParam(n, "variable", "")
	if name == "" {
		return nil, invalid(n, "variable is required")
	}
	v, found := env.Resolve(name)
	found = found && v != nil

	var ok bool
	switch check := stringParam(n, "checkType", "exists"); check {
	case "exists":
		ok = found
	case "notExists":
		ok = !found
	case "empty":
		ok = !found || isEmpty(v)
	case "notEmpty":
		ok = found && !isEmpty(v)
	default:
		return nil, invalid(n, "unknown checkType %q", check)
	}
	return engine.Branch(ok), nil
}

func isEmpty(v any) bool {
	switch val := v.(type) {
	case nil:
		return true
	case string:
		return val == ""
	case []any:
		return len(val) == 0
	case map[string]any:
		return len(val) == 0
	}
	return false
}

func (c *conditionNodes) typeCheck(_ context.Context, n *schema.Node, _ *engine.ExecutionContext, env *engine.Env) (*engine.Outcome, error) {
	name := stringParam(n, "variable", "")
	want := stringParam(n, "expectedType", "string")
	v, _ := env.Resolve(name)
	switch want {
	case "string", "number", "boolean", "array", "object", "null":
	default:
		return nil, invalid(n, "unknown expectedType %q", want)
	}
	return engine.Branch(expressions.TypeOf(v) == want), nil
}
