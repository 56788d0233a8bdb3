package campaign

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"path/filepath"
	"sync"
	"time"

	"github.com/animus-labs/qmt/internal/artifacts"
	"github.com/animus-labs/qmt/internal/config"
	"github.com/animus-labs/qmt/internal/detect"
	"github.com/animus-labs/qmt/internal/generator"
	"github.com/animus-labs/qmt/internal/platform/badgerdb"
	"github.com/animus-labs/qmt/internal/platform/objectstore"
	"github.com/animus-labs/qmt/internal/platform/postgres"
	"github.com/animus-labs/qmt/internal/platform/telemetry"
	"github.com/animus-labs/qmt/internal/repo"
	badgerrepo "github.com/animus-labs/qmt/internal/repo/badger"
	"github.com/animus-labs/qmt/internal/repo/memory"
	pgrepo "github.com/animus-labs/qmt/internal/repo/postgres"
	"github.com/animus-labs/qmt/internal/runtimeexec"
	"github.com/animus-labs/qmt/internal/transform"
)

// lockedSource serialises draws. An iteration abandoned by its guard may
// still be drawing while the next one starts.
type lockedSource struct {
	mu  sync.Mutex
	src rand.Source
}

func (s *lockedSource) Uint64() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.src.Uint64()
}

// NewRand returns a goroutine-safe generator. A nil seed draws one at random.
func NewRand(seed *uint64) *rand.Rand {
	var s uint64
	if seed != nil {
		s = *seed
	} else {
		s = rand.Uint64()
	}
	return rand.New(&lockedSource{src: rand.NewPCG(s, s^0x9e3779b97f4a7c15)})
}

// Build wires every component named by cfg. The returned cleanup releases
// the store and stops background work; it is safe to call once.
func Build(ctx context.Context, cfg config.Config, logger *slog.Logger, metrics *telemetry.Metrics) (*Campaign, func(), error) {
	if logger == nil {
		logger = slog.Default()
	}
	rng := NewRand(cfg.Seed)

	gen, err := generator.New(cfg.Generation, cfg.SampleSize, rng)
	if err != nil {
		return nil, nil, fmt.Errorf("generator: %w", err)
	}
	rules, err := transform.NewRegistry().Build(cfg.Strategies)
	if err != nil {
		return nil, nil, fmt.Errorf("transformation rules: %w", err)
	}
	pipeline, err := transform.NewPipeline(rules, cfg.Pipeline, rng)
	if err != nil {
		return nil, nil, fmt.Errorf("pipeline: %w", err)
	}
	executor, err := runtimeexec.New(cfg.Execution)
	if err != nil {
		return nil, nil, fmt.Errorf("runtime: %w", err)
	}
	harness, err := runtimeexec.NewHarness(executor, cfg.Execution.FallbackLabel, logger)
	if err != nil {
		return nil, nil, fmt.Errorf("harness: %w", err)
	}
	suite, err := detect.NewSuite(cfg.Detectors)
	if err != nil {
		return nil, nil, fmt.Errorf("detectors: %w", err)
	}
	scanner, err := detect.NewScanner(cfg.Scan())
	if err != nil {
		return nil, nil, fmt.Errorf("scanner: %w", err)
	}

	layout, err := artifacts.NewLayout(cfg.ExperimentFolder, cfg.FolderStructure)
	if err != nil {
		return nil, nil, fmt.Errorf("artifacts: %w", err)
	}
	if err := layout.Setup(); err != nil {
		return nil, nil, fmt.Errorf("artifacts: %w", err)
	}
	var mirror objectstore.Store
	if cfg.Artifacts.Mirror {
		mirror, err = openMirror(ctx, cfg.Artifacts.Bucket)
		if err != nil {
			return nil, nil, fmt.Errorf("artifact mirror: %w", err)
		}
	}
	writer := artifacts.NewWriter(layout, mirror, cfg.Artifacts.Prefix, logger)

	bgCtx, stop := context.WithCancel(context.Background())
	store, err := OpenStore(ctx, bgCtx, cfg, logger)
	if err != nil {
		stop()
		return nil, nil, fmt.Errorf("store: %w", err)
	}

	c, err := New(Deps{
		Generator: gen,
		Pipeline:  pipeline,
		Harness:   harness,
		Suite:     suite,
		Scanner:   scanner,
		Store:     store,
		Writer:    writer,
		Metrics:   metrics,
		Logger:    logger,
	}, Budgets{Campaign: cfg.CampaignBudget(), Iteration: cfg.IterationBudget()})
	if err != nil {
		stop()
		_ = store.Close()
		return nil, nil, err
	}

	var once sync.Once
	cleanup := func() {
		once.Do(func() {
			stop()
			if err := store.Close(); err != nil {
				logger.Warn("store close", "error", err)
			}
		})
	}
	return c, cleanup, nil
}

// OpenStore opens the configured record store. Background maintenance, such
// as badger value log GC, runs until bgCtx is done.
func OpenStore(ctx, bgCtx context.Context, cfg config.Config, logger *slog.Logger) (repo.RecordStore, error) {
	switch cfg.Store.Backend {
	case config.BackendMemory:
		return memory.New(), nil
	case config.BackendPostgres:
		pgCfg, err := postgres.ConfigFromEnv()
		if err != nil {
			return nil, err
		}
		db, err := postgres.Open(ctx, pgCfg)
		if err != nil {
			return nil, err
		}
		store, err := pgrepo.New(db, pgCfg.RecordTable(cfg.Store.Table), db.Close)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		if err := store.EnsureSchema(ctx); err != nil {
			_ = store.Close()
			return nil, err
		}
		return store, nil
	case config.BackendBadger, "":
		path := cfg.Store.Path
		if path == "" {
			path = "store"
		}
		if !filepath.IsAbs(path) {
			path = filepath.Join(cfg.ExperimentFolder, path)
		}
		bCfg, err := badgerdb.ApplyEnv(badgerdb.DefaultConfig(path))
		if err != nil {
			return nil, err
		}
		bCfg.Logger = logger
		db, err := badgerdb.Open(bCfg)
		if err != nil {
			return nil, err
		}
		store, err := badgerrepo.New(db, true)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		go badgerdb.RunGC(bgCtx, db, bCfg)
		return store, nil
	default:
		return nil, fmt.Errorf("unsupported store backend %q", cfg.Store.Backend)
	}
}

func openMirror(ctx context.Context, bucket string) (objectstore.Store, error) {
	osCfg, err := objectstore.ConfigFromEnv(bucket)
	if err != nil {
		return nil, err
	}
	client, err := objectstore.NewMinIOClient(osCfg)
	if err != nil {
		return nil, err
	}
	store := objectstore.NewMinioStore(client, osCfg)
	checkCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	if err := store.EnsureBucket(checkCtx); err != nil {
		return nil, fmt.Errorf("ensure bucket: %w", err)
	}
	return store, nil
}
