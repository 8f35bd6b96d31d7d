package recovery

import (
	"context"
	"errors"
	"net"
	"strings"

	"github.com/fusserg007/botconstructor/pkg/schema"
)

// Kind is the coarse error family used to pick a recovery strategy.
type Kind string

const (
	KindStructural Kind = "structural"
	KindNetwork    Kind = "network"
	KindValidation Kind = "validation"
	KindUnknown    Kind = "unknown"
)

// Severity ranks how bad a failure is; it bounds the retry budget.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

var networkPatterns = []string{
	"network",
	"timeout",
	"connection refused",
	"connection reset",
	"broken pipe",
	"i/o timeout",
	"temporary failure",
	"service unavailable",
	"bad gateway",
	"gateway timeout",
	"too many requests",
}

var validationPatterns = []string{
	"validation",
	"format",
}

// Classify maps an error to its Kind. First match wins: structural codes,
// then network signals (codes, net.Error, deadline, message keywords), then
// validation signals.
func Classify(err error) Kind {
	if err == nil {
		return KindUnknown
	}
	if schema.IsStructural(err) {
		return KindStructural
	}
	if hasCode(err, schema.ErrCodeNetwork, schema.ErrCodeTimeout) ||
		errors.Is(err, context.DeadlineExceeded) {
		return KindNetwork
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindNetwork
	}
	msg := strings.ToLower(err.Error())
	if containsAny(msg, networkPatterns) {
		return KindNetwork
	}
	if hasCode(err, schema.ErrCodeValidation) || containsAny(msg, validationPatterns) {
		return KindValidation
	}
	return KindUnknown
}

// SeverityOf returns the severity tier for a kind.
func SeverityOf(k Kind) Severity {
	switch k {
	case KindStructural:
		return SeverityCritical
	case KindNetwork:
		return SeverityHigh
	case KindValidation:
		return SeverityMedium
	default:
		return SeverityLow
	}
}

// MaxRetriesFor is the retry budget of a severity tier.
func MaxRetriesFor(s Severity) int {
	switch s {
	case SeverityLow:
		return 3
	case SeverityMedium:
		return 2
	case SeverityHigh:
		return 1
	default:
		return 0
	}
}

// Recoverable reports whether a strategy may be attempted for the kind.
func Recoverable(k Kind) bool {
	return k == KindNetwork || k == KindValidation
}

// hasCode walks the whole wrap chain, not just the outermost EngineError.
func hasCode(err error, codes ...string) bool {
	for e := err; e != nil; e = errors.Unwrap(e) {
		ee, ok := e.(*schema.EngineError)
		if !ok {
			continue
		}
		for _, c := range codes {
			if ee.Code == c {
				return true
			}
		}
	}
	return false
}

func containsAny(s string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(s, p) {
			return true
		}
	}
	return false
}
