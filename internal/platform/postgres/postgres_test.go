package postgres

import (
	"net/url"
	"testing"
	"time"
)

func TestConfigFromEnvDefaults(t *testing.T) {
	t.Setenv("QMT_DATABASE_URL", "")
	t.Setenv("DATABASE_URL", "")
	t.Setenv("QMT_DATABASE_TABLE", "")
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if cfg.URL != DefaultURL {
		t.Fatalf("URL=%q, want %q", cfg.URL, DefaultURL)
	}
	if cfg.MaxOpenConns != 2 || cfg.MaxIdleConns != 1 {
		t.Fatalf("pool=%d/%d, want 2/1", cfg.MaxOpenConns, cfg.MaxIdleConns)
	}
	if cfg.ApplicationName != DefaultApplicationName {
		t.Fatalf("ApplicationName=%q", cfg.ApplicationName)
	}
}

func TestConfigFromEnvPrefersQMTURL(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://generic/db")
	t.Setenv("QMT_DATABASE_URL", "postgres://qmt/db")
	cfg, err := ConfigFromEnv()
	if err != nil {
		t.Fatalf("ConfigFromEnv() err=%v", err)
	}
	if cfg.URL != "postgres://qmt/db" {
		t.Fatalf("URL=%q, want postgres://qmt/db", cfg.URL)
	}
}

func TestConfigValidateIdleAboveOpen(t *testing.T) {
	t.Setenv("QMT_DATABASE_MAX_OPEN_CONNS", "1")
	t.Setenv("QMT_DATABASE_MAX_IDLE_CONNS", "3")
	if _, err := ConfigFromEnv(); err == nil {
		t.Fatalf("ConfigFromEnv() expected error")
	}
}

func TestConfigValidateNegativeStatementTimeout(t *testing.T) {
	t.Setenv("QMT_DATABASE_STATEMENT_TIMEOUT", "-1s")
	if _, err := ConfigFromEnv(); err == nil {
		t.Fatalf("ConfigFromEnv() expected error")
	}
}

func TestDSNAddsSessionParameters(t *testing.T) {
	cfg := Config{URL: DefaultURL, ApplicationName: "qmt", StatementTimeout: 1500 * time.Millisecond}
	dsn, err := cfg.DSN()
	if err != nil {
		t.Fatalf("DSN() err=%v", err)
	}
	u, err := url.Parse(dsn)
	if err != nil {
		t.Fatalf("parse %q: %v", dsn, err)
	}
	q := u.Query()
	if q.Get("sslmode") != "disable" {
		t.Fatalf("sslmode lost: %q", dsn)
	}
	if q.Get("application_name") != "qmt" {
		t.Fatalf("application_name=%q", q.Get("application_name"))
	}
	if q.Get("statement_timeout") != "1500" {
		t.Fatalf("statement_timeout=%q", q.Get("statement_timeout"))
	}
}

func TestDSNKeepsExplicitParameters(t *testing.T) {
	cfg := Config{URL: "postgres://h/db?application_name=mine&statement_timeout=10", ApplicationName: "qmt", StatementTimeout: time.Second}
	dsn, err := cfg.DSN()
	if err != nil {
		t.Fatalf("DSN() err=%v", err)
	}
	u, _ := url.Parse(dsn)
	if got := u.Query().Get("application_name"); got != "mine" {
		t.Fatalf("application_name=%q, want mine", got)
	}
	if got := u.Query().Get("statement_timeout"); got != "10" {
		t.Fatalf("statement_timeout=%q, want 10", got)
	}
}

func TestRecordTablePrecedence(t *testing.T) {
	cfg := Config{Table: "env_records"}
	if got := cfg.RecordTable(" file_records "); got != "file_records" {
		t.Fatalf("RecordTable=%q, want file_records", got)
	}
	if got := cfg.RecordTable(""); got != "env_records" {
		t.Fatalf("RecordTable=%q, want env_records", got)
	}
	if got := (Config{}).RecordTable(""); got != "" {
		t.Fatalf("RecordTable=%q, want empty", got)
	}
}
