// Package badgerdb opens the embedded BadgerDB instance used as the default
// record store.
package badgerdb

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/animus-labs/qmt/internal/platform/env"
)

type Config struct {
	// Path is ignored when InMemory is true.
	Path              string
	InMemory          bool
	SyncWrites        bool
	Logger            *slog.Logger
	NumVersionsToKeep int
	GCInterval        time.Duration
	GCDiscardRatio    float64
}

func DefaultConfig(path string) Config {
	return Config{
		Path:              path,
		SyncWrites:        true,
		NumVersionsToKeep: 1,
		GCInterval:        5 * time.Minute,
		GCDiscardRatio:    0.5,
	}
}

// ApplyEnv overrides the maintenance settings of cfg from QMT_BADGER_*.
func ApplyEnv(cfg Config) (Config, error) {
	var err error
	if cfg.SyncWrites, err = env.Bool("QMT_BADGER_SYNC_WRITES", cfg.SyncWrites); err != nil {
		return Config{}, err
	}
	if cfg.GCInterval, err = env.Duration("QMT_BADGER_GC_INTERVAL", cfg.GCInterval); err != nil {
		return Config{}, err
	}
	if cfg.GCDiscardRatio, err = env.Float("QMT_BADGER_GC_DISCARD_RATIO", cfg.GCDiscardRatio); err != nil {
		return Config{}, err
	}
	if cfg.GCDiscardRatio <= 0 || cfg.GCDiscardRatio >= 1 {
		return Config{}, fmt.Errorf("QMT_BADGER_GC_DISCARD_RATIO must be in (0, 1), got %g", cfg.GCDiscardRatio)
	}
	if cfg.GCInterval < 0 {
		return Config{}, errors.New("QMT_BADGER_GC_INTERVAL must be >= 0")
	}
	return cfg, nil
}

func InMemoryConfig() Config {
	return Config{
		InMemory:          true,
		NumVersionsToKeep: 1,
	}
}

// badgerLogger routes badger's internal logging through slog.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(fmt.Sprintf(format, args...))
}

func Open(cfg Config) (*badger.DB, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent database")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0o750); err != nil {
			return nil, fmt.Errorf("create database directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	if cfg.NumVersionsToKeep < 1 {
		cfg.NumVersionsToKeep = 1
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(cfg.NumVersionsToKeep)
	if cfg.Logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: cfg.Logger.With("component", "badger")})
	} else {
		opts = opts.WithLogger(nil)
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open badger database: %w", err)
	}
	return db, nil
}

// RunGC collects the value log every interval until ctx is done. It is a
// no-op for in-memory databases or a zero interval.
func RunGC(ctx context.Context, db *badger.DB, cfg Config) {
	if cfg.InMemory || cfg.GCInterval <= 0 {
		return
	}
	ratio := cfg.GCDiscardRatio
	if ratio <= 0 || ratio >= 1 {
		ratio = 0.5
	}
	ticker := time.NewTicker(cfg.GCInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				if err := db.RunValueLogGC(ratio); err != nil {
					if !errors.Is(err, badger.ErrNoRewrite) && cfg.Logger != nil {
						cfg.Logger.Warn("badger value log gc", "error", err)
					}
					break
				}
			}
		}
	}
}
