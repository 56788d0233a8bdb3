package runtimeexec

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"time"

	"github.com/animus-labs/qmt/internal/domain"
)

// New builds the executor named by cfg.Runtime.
func New(cfg Config) (Executor, error) {
	switch strings.TrimSpace(cfg.Runtime) {
	case "", KindProcess:
		return NewProcessExecutor(cfg.Command, cfg.Env, cfg.MaxOutputBytes)
	case KindDocker:
		return NewDockerExecutor(cfg)
	default:
		return nil, fmt.Errorf("unsupported runtime %q", cfg.Runtime)
	}
}

// Harness turns executor outcomes into execution results. A candidate that
// fails in any way yields the fallback distribution and its error text.
type Harness struct {
	executor Executor
	fallback string
	logger   *slog.Logger
	now      func() time.Time
}

func NewHarness(executor Executor, fallbackLabel string, logger *slog.Logger) (*Harness, error) {
	if executor == nil {
		return nil, errors.New("executor is required")
	}
	if strings.TrimSpace(fallbackLabel) == "" {
		fallbackLabel = DefaultFallbackLabel
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Harness{executor: executor, fallback: fallbackLabel, logger: logger, now: time.Now}, nil
}

func (h *Harness) Execute(ctx context.Context, platform string, program domain.Program) domain.ExecutionResult {
	job := Job{
		ProgramID: program.ID,
		Platform:  platform,
		Text:      program.Text,
		Path:      program.Metadata.FilePath,
	}

	started := h.now()
	h.logger.Info("executing", "platform", platform, "program_id", program.ID, "date", started.Format(time.RFC3339), "runtime", h.executor.Kind())

	dist, err := h.run(ctx, job)
	if err == nil {
		err = validateDistribution(dist, program.Metadata.Shots)
	}
	finished := h.now()

	res := domain.ExecutionResult{
		Platform:   platform,
		StartedAt:  started.UTC(),
		FinishedAt: finished.UTC(),
		Seconds:    domain.Seconds(finished.Sub(started)),
	}
	if err != nil {
		res.Crashed = true
		res.Error = err.Error()
		res.Distribution = domain.FallbackDistribution(h.fallback)
		return res
	}
	res.Distribution = dist.Clone()
	return res
}

// ExecutePair runs the source then the follow-up. Neither outcome prevents
// the other side from running.
func (h *Harness) ExecutePair(ctx context.Context, source, followup domain.Program) (domain.ExecutionResult, domain.ExecutionResult) {
	a := h.Execute(ctx, domain.PlatformSource, source)
	b := h.Execute(ctx, domain.PlatformFollowup, followup)
	return a, b
}

func (h *Harness) run(ctx context.Context, job Job) (dist domain.Distribution, err error) {
	defer func() {
		if v := recover(); v != nil {
			dist = nil
			err = fmt.Errorf("executor panic: %v\n%s", v, debug.Stack())
		}
	}()
	return h.executor.Run(ctx, job)
}

// validateDistribution rejects malformed counts. When shots is positive the
// counts must sum to it.
func validateDistribution(dist domain.Distribution, shots int) error {
	if len(dist) == 0 {
		return errors.New("empty distribution")
	}
	for label, n := range dist {
		if n < 0 {
			return fmt.Errorf("negative count for outcome %q", label)
		}
	}
	total := dist.Total()
	if total == 0 {
		return errors.New("distribution has no samples")
	}
	if shots > 0 && total != shots {
		return fmt.Errorf("%w: got %d, requested %d", ErrShotsMismatch, total, shots)
	}
	return nil
}
