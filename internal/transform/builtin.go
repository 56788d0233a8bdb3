package transform

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/animus-labs/qmt/internal/domain"
)

const (
	TransformInjectNullEffect        = "inject_null_effect"
	TransformChangeBackend           = "change_backend"
	TransformChangeOptimizationLevel = "change_optimization_level"
	TransformAddIdentityPair         = "add_identity_pair"

	PreconditionAlways               = "always"
	PreconditionHasMeasurement       = "has_measurement"
	PreconditionHasBackend           = "has_backend"
	PreconditionHasOptimizationLevel = "has_optimization_level"
	PreconditionHasGateCalls         = "has_gate_calls"
)

var (
	backendPattern  = regexp.MustCompile(`get_backend\('([^']*)'\)`)
	optLevelPattern = regexp.MustCompile(`optimization_level=(\d+)`)
	gateCallPattern = regexp.MustCompile(`(?m)^qc\.\w+\(.*q\[\d+\]`)
	measurePattern  = regexp.MustCompile(`(?m)^qc\.measure\(`)
)

func builtinTransforms() map[string]Transformer {
	return map[string]Transformer{
		TransformInjectNullEffect:        TransformerFunc(injectNullEffect),
		TransformChangeBackend:           TransformerFunc(changeBackend),
		TransformChangeOptimizationLevel: TransformerFunc(changeOptimizationLevel),
		TransformAddIdentityPair:         TransformerFunc(addIdentityPair),
	}
}

func builtinPreconditions() map[string]Predicate {
	return map[string]Predicate{
		PreconditionAlways:               func(string) bool { return true },
		PreconditionHasMeasurement:       measurePattern.MatchString,
		PreconditionHasBackend:           backendPattern.MatchString,
		PreconditionHasOptimizationLevel: optLevelPattern.MatchString,
		PreconditionHasGateCalls:         gateCallPattern.MatchString,
	}
}

// injectNullEffect inserts a statement with no observable effect. With an
// "after" pattern it goes below the last matching line, otherwise it is
// appended to the program.
func injectNullEffect(text string, params domain.Metadata) (string, domain.Metadata, error) {
	statement := paramString(params, "statement", "pass")
	if strings.Contains(statement, "\n") {
		return "", nil, errors.New("statement must be a single line")
	}
	lines := splitLines(text)
	at := len(lines)
	if after := paramString(params, "after", ""); after != "" {
		re, err := regexp.Compile(after)
		if err != nil {
			return "", nil, fmt.Errorf("compile after pattern: %w", err)
		}
		for i := len(lines) - 1; i >= 0; i-- {
			if re.MatchString(lines[i]) {
				at = i + 1
				break
			}
		}
	}
	lines = append(lines[:at], append([]string{statement}, lines[at:]...)...)
	return joinLines(lines), domain.Metadata{"statement": statement, "line": at}, nil
}

// changeBackend swaps the backend for the next different one in "backends".
func changeBackend(text string, params domain.Metadata) (string, domain.Metadata, error) {
	m := backendPattern.FindStringSubmatch(text)
	if m == nil {
		return "", nil, errors.New("program has no backend selection")
	}
	current := m[1]
	next, ok := nextDifferent(paramStrings(params, "backends"), current)
	if !ok {
		return "", nil, fmt.Errorf("no alternative to backend %q", current)
	}
	out := backendPattern.ReplaceAllLiteralString(text, "get_backend('"+next+"')")
	return out, domain.Metadata{"from": current, "to": next}, nil
}

// changeOptimizationLevel swaps the compiler optimization level for the next
// different one in "levels" (default 0..3).
func changeOptimizationLevel(text string, params domain.Metadata) (string, domain.Metadata, error) {
	m := optLevelPattern.FindStringSubmatch(text)
	if m == nil {
		return "", nil, errors.New("program has no optimization level")
	}
	levels := paramStrings(params, "levels")
	if len(levels) == 0 {
		levels = []string{"0", "1", "2", "3"}
	}
	next, ok := nextDifferent(levels, m[1])
	if !ok {
		return "", nil, fmt.Errorf("no alternative to optimization level %s", m[1])
	}
	from, _ := strconv.Atoi(m[1])
	to, err := strconv.Atoi(next)
	if err != nil {
		return "", nil, fmt.Errorf("invalid optimization level %q", next)
	}
	out := optLevelPattern.ReplaceAllLiteralString(text, "optimization_level="+next)
	return out, domain.Metadata{"from": from, "to": to}, nil
}

// addIdentityPair applies a self-inverse gate twice right before the first
// measurement.
func addIdentityPair(text string, params domain.Metadata) (string, domain.Metadata, error) {
	gate := paramString(params, "gate", "x")
	qubit := paramInt(params, "qubit", 0)
	lines := splitLines(text)
	at := -1
	for i, line := range lines {
		if measurePattern.MatchString(line) {
			at = i
			break
		}
	}
	if at < 0 {
		return "", nil, errors.New("program has no measurement")
	}
	call := fmt.Sprintf("qc.%s(q[%d])", gate, qubit)
	lines = append(lines[:at], append([]string{call, call}, lines[at:]...)...)
	return joinLines(lines), domain.Metadata{"gate": gate, "qubit": qubit, "line": at}, nil
}

func nextDifferent(options []string, current string) (string, bool) {
	if len(options) == 0 {
		return "", false
	}
	start := 0
	for i, opt := range options {
		if opt == current {
			start = i + 1
			break
		}
	}
	for i := 0; i < len(options); i++ {
		opt := options[(start+i)%len(options)]
		if opt != current {
			return opt, true
		}
	}
	return "", false
}

func splitLines(text string) []string {
	text = strings.TrimSuffix(text, "\n")
	if text == "" {
		return []string{}
	}
	return strings.Split(text, "\n")
}

func joinLines(lines []string) string {
	return strings.Join(lines, "\n") + "\n"
}

func paramString(params domain.Metadata, key, def string) string {
	v, ok := params[key]
	if !ok || v == nil {
		return def
	}
	s := strings.TrimSpace(fmt.Sprint(v))
	if s == "" {
		return def
	}
	return s
}

func paramInt(params domain.Metadata, key string, def int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	case string:
		if i, err := strconv.Atoi(strings.TrimSpace(v)); err == nil {
			return i
		}
	}
	return def
}

func paramStrings(params domain.Metadata, key string) []string {
	switch v := params[key].(type) {
	case []string:
		return append([]string(nil), v...)
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			out = append(out, strings.TrimSpace(fmt.Sprint(item)))
		}
		return out
	case string:
		if strings.TrimSpace(v) == "" {
			return nil
		}
		return []string{strings.TrimSpace(v)}
	}
	return nil
}
