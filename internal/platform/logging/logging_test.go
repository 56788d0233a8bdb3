package logging

import (
	"bytes"
	"strings"
	"testing"
)

func TestNewRendersAttributes(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, "info")
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	logger.Info("crash found", "program_id", "abc123")
	logger.Debug("hidden")

	out := buf.String()
	if !strings.Contains(out, "crash found") || !strings.Contains(out, "abc123") {
		t.Fatalf("output=%q, want message and attribute", out)
	}
	if strings.Contains(out, "hidden") {
		t.Fatalf("output=%q, debug line must be filtered at info", out)
	}
}

func TestNewDebugLevel(t *testing.T) {
	var buf bytes.Buffer
	logger, err := New(&buf, "DEBUG")
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	logger.Debug("visible")
	if !strings.Contains(buf.String(), "visible") {
		t.Fatalf("output=%q, want debug line", buf.String())
	}
}

func TestParseLevelInvalid(t *testing.T) {
	if _, err := ParseLevel("verbose"); err == nil {
		t.Fatalf("ParseLevel() expected error")
	}
}
