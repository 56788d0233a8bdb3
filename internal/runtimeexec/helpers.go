package runtimeexec

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/animus-labs/qmt/internal/domain"
)

// parseDistribution reads the last non-empty line of stdout as a JSON object
// of outcome counts. Counts may be encoded as numbers or numeric strings.
func parseDistribution(stdout []byte) (domain.Distribution, error) {
	lines := bytes.Split(bytes.TrimSpace(stdout), []byte("\n"))
	var last []byte
	for i := len(lines) - 1; i >= 0; i-- {
		if line := bytes.TrimSpace(lines[i]); len(line) > 0 {
			last = line
			break
		}
	}
	if len(last) == 0 {
		return nil, ErrNoResult
	}

	var raw map[string]any
	if err := json.Unmarshal(last, &raw); err != nil {
		return nil, fmt.Errorf("%w: parse result line: %v", ErrNoResult, err)
	}
	out := make(domain.Distribution, len(raw))
	for label, v := range raw {
		n, err := count(v)
		if err != nil {
			return nil, fmt.Errorf("outcome %q: %w", label, err)
		}
		out[label] = n
	}
	return out, nil
}

func count(v any) (int, error) {
	switch t := v.(type) {
	case float64:
		if t < 0 || t != math.Trunc(t) {
			return 0, fmt.Errorf("count must be a non-negative integer, got %v", t)
		}
		return int(t), nil
	case string:
		var n int
		if _, err := fmt.Sscanf(strings.TrimSpace(t), "%d", &n); err != nil || n < 0 {
			return 0, fmt.Errorf("count must be a non-negative integer, got %q", t)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("unsupported count type %T", v)
	}
}

func sortedEnv(env map[string]string) []string {
	keys := make([]string, 0, len(env))
	for k := range env {
		key := strings.TrimSpace(k)
		if key == "" || isReservedEnvKey(key) {
			continue
		}
		keys = append(keys, key)
	}
	sort.Strings(keys)
	out := make([]string, 0, len(keys))
	for _, key := range keys {
		out = append(out, key+"="+env[key])
	}
	return out
}

func isReservedEnvKey(key string) bool {
	switch strings.ToUpper(strings.TrimSpace(key)) {
	case "QMT_PROGRAM_ID", "QMT_PLATFORM":
		return true
	default:
		return false
	}
}

func jobEnv(job Job) []string {
	return []string{
		"QMT_PROGRAM_ID=" + job.ProgramID,
		"QMT_PLATFORM=" + job.Platform,
	}
}

// limitedBuffer keeps at most max bytes and records that output was cut.
type limitedBuffer struct {
	buf       bytes.Buffer
	max       int
	truncated bool
}

func (b *limitedBuffer) Write(p []byte) (int, error) {
	if b.max <= 0 {
		return b.buf.Write(p)
	}
	room := b.max - b.buf.Len()
	if room <= 0 {
		b.truncated = true
		return len(p), nil
	}
	if len(p) > room {
		b.buf.Write(p[:room])
		b.truncated = true
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *limitedBuffer) Bytes() []byte { return b.buf.Bytes() }

func tail(b []byte, n int) string {
	s := strings.TrimSpace(string(b))
	if len(s) > n {
		s = "..." + s[len(s)-n:]
	}
	return s
}
