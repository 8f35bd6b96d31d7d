package nodes

import (
	"context"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"golang.org/x/text/currency"
	"golang.org/x/text/language"
	"golang.org/x/text/message"
	"golang.org/x/text/number"

	"github.com/fusserg007/botconstructor/internal/engine"
	"github.com/fusserg007/botconstructor/internal/expressions"
	"github.com/fusserg007/botconstructor/pkg/schema"
)

const defaultCharset = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

func (d *dataNodes) random(_ context.Context, n *schema.Node, _ *engine.ExecutionContext, env *engine.Env) (*engine.Outcome, error) {
	variable := stringParam(n, "resultVariable", "randomResult")
	rnd := d.deps.rng

	var result any
	switch typ := stringParam(n, "dataType", "number"); typ {
	case "number":
		lo, ok1 := floatParam(env, n, "min", 0)
		hi, ok2 := floatParam(env, n, "max", 100)
		if !ok1 || !ok2 || hi < lo {
			return nil, invalid(n, "min and max must be numbers with min <= max")
		}
		v := rnd.Float64()*(hi-lo) + lo
		if boolParam(n, "integer", false) {
			v = math.Floor(v)
		}
		result = v
	case "string":
		length := intParam(env, n, "length", 10)
		charset := []rune(stringParam(n, "charset", defaultCharset))
		var b strings.Builder
		for range max(length, 0) {
			b.WriteRune(charset[rnd.IntN(len(charset))])
		}
		result = b.String()
	case "boolean":
		result = rnd.Float64() < 0.5
	case "uuid":
		result = uuid.NewString()
	case "choice":
		choices := listParam(n, "choices")
		if len(choices) > 0 {
			result = env.RenderValue(choices[rnd.IntN(len(choices))])
		}
	default:
		return nil, invalid(n, "unknown random dataType %q", typ)
	}
	return engine.Next().SetVar(variable, result), nil
}

func (d *dataNodes) format(_ context.Context, n *schema.Node, _ *engine.ExecutionContext, env *engine.Env) (*engine.Outcome, error) {
	variable := stringParam(n, "resultVariable", "formatResult")
	var value any
	if name := stringParam(n, "variable", ""); name != "" {
		value, _ = env.Resolve(name)
	}

	var result string
	switch typ := stringParam(n, "formatType", "template"); typ {
	case "template":
		result = textParam(env, n, "template", "")
	case "date":
		t, ok := toTime(value, env.Now)
		if !ok {
			return nil, invalid(n, "%v is not a date", value)
		}
		result = formatDate(t, stringParam(n, "dateFormat", "YYYY-MM-DD"))
	case "number":
		f, ok := expressions.ToFloat(value)
		if !ok {
			return nil, invalid(n, "%v is not a number", value)
		}
		result = groupNumber(f, intParam(env, n, "decimals", 2),
			stringParam(n, "thousandsSeparator", ","), stringParam(n, "decimalSeparator", "."))
	case "currency":
		f, ok := expressions.ToFloat(value)
		if !ok {
			return nil, invalid(n, "%v is not a number", value)
		}
		s, err := formatCurrency(f, stringParam(n, "currency", "USD"), stringParam(n, "locale", "en-US"))
		if err != nil {
			return nil, invalid(n, "%v", err)
		}
		result = s
	default:
		result = expressions.Stringify(value)
	}
	return engine.Next().SetVar(variable, result), nil
}

// toTime accepts RFC 3339 text, a date, or epoch milliseconds. No value
// means now.
func toTime(v any, now time.Time) (time.Time, bool) {
	switch val := v.(type) {
	case nil:
		return now, true
	case time.Time:
		return val, true
	case string:
		for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, val); err == nil {
				return t, true
			}
		}
		if ms, err := strconv.ParseInt(val, 10, 64); err == nil {
			return time.UnixMilli(ms).In(now.Location()), true
		}
		return time.Time{}, false
	default:
		f, ok := expressions.ToFloat(v)
		if !ok {
			return time.Time{}, false
		}
		return time.UnixMilli(int64(f)).In(now.Location()), true
	}
}

func formatDate(t time.Time, layout string) string {
	return strings.NewReplacer(
		"YYYY", strconv.Itoa(t.Year()),
		"MM", pad2(int(t.Month())),
		"DD", pad2(t.Day()),
		"HH", pad2(t.Hour()),
		"mm", pad2(t.Minute()),
		"ss", pad2(t.Second()),
	).Replace(layout)
}

func pad2(v int) string {
	if v < 10 {
		return "0" + strconv.Itoa(v)
	}
	return strconv.Itoa(v)
}

// groupNumber renders f with fixed decimals and caller-chosen separators.
func groupNumber(f float64, decimals int, thousands, point string) string {
	if decimals < 0 {
		decimals = 0
	}
	s := strconv.FormatFloat(f, 'f', decimals, 64)
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	whole, frac, _ := strings.Cut(s, ".")

	var b strings.Builder
	for i, r := range whole {
		if i > 0 && (len(whole)-i)%3 == 0 {
			b.WriteString(thousands)
		}
		b.WriteRune(r)
	}
	out := sign + b.String()
	if frac != "" {
		out += point + frac
	}
	return out
}

// formatCurrency renders an amount in locale with the currency symbol and
// the currency's standard number of decimals.
func formatCurrency(f float64, code, locale string) (string, error) {
	tag, err := language.Parse(locale)
	if err != nil {
		return "", err
	}
	unit, err := currency.ParseISO(code)
	if err != nil {
		return "", err
	}
	scale, _ := currency.Standard.Rounding(unit)
	p := message.NewPrinter(tag)
	symbol := p.Sprint(currency.Symbol(unit))
	amount := p.Sprint(number.Decimal(f, number.Scale(scale)))
	return symbol + amount, nil
}
