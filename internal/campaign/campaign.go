// Package campaign drives the generate, transform, execute, detect and
// persist cycle under the campaign and iteration time budgets.
package campaign

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/animus-labs/qmt/internal/artifacts"
	"github.com/animus-labs/qmt/internal/detect"
	"github.com/animus-labs/qmt/internal/domain"
	"github.com/animus-labs/qmt/internal/generator"
	"github.com/animus-labs/qmt/internal/platform/telemetry"
	"github.com/animus-labs/qmt/internal/repo"
	"github.com/animus-labs/qmt/internal/runtimeexec"
	"github.com/animus-labs/qmt/internal/timeout"
	"github.com/animus-labs/qmt/internal/transform"
)

var (
	ErrGeneration     = errors.New("generation failed")
	ErrTransformation = errors.New("transformation failed")
	ErrArtifact       = errors.New("artifact write failed")
	ErrPersistence    = errors.New("persistence failed")
	ErrAbandoned      = errors.New("iteration abandoned")
)

const (
	campaignTimeoutMessage  = "Change 'budget_time' in config yaml file."
	iterationTimeoutMessage = "Change 'budget_time_per_program_couple' in config yaml file."
)

// Deps are the collaborators of a campaign. Writer and Metrics are optional.
type Deps struct {
	Generator generator.Generator
	Pipeline  *transform.Pipeline
	Harness   *runtimeexec.Harness
	Suite     *detect.Suite
	Scanner   *detect.Scanner
	Store     repo.RecordStore
	Writer    *artifacts.Writer
	Metrics   *telemetry.Metrics
	Logger    *slog.Logger
}

type Budgets struct {
	Campaign  time.Duration
	Iteration time.Duration
}

type Campaign struct {
	Deps
	campaignGuard  timeout.Guard
	iterationGuard timeout.Guard
	// maxIterations stops the loop after that many attempts; zero runs
	// until the campaign budget expires or ctx is cancelled.
	maxIterations int
	now           func() time.Time
}

type Option func(*Campaign)

func WithMaxIterations(n int) Option {
	return func(c *Campaign) { c.maxIterations = n }
}

func WithClock(now func() time.Time) Option {
	return func(c *Campaign) { c.now = now }
}

func New(deps Deps, budgets Budgets, opts ...Option) (*Campaign, error) {
	switch {
	case deps.Generator == nil:
		return nil, errors.New("generator is required")
	case deps.Pipeline == nil:
		return nil, errors.New("pipeline is required")
	case deps.Harness == nil:
		return nil, errors.New("harness is required")
	case deps.Suite == nil:
		return nil, errors.New("detector suite is required")
	case deps.Scanner == nil:
		return nil, errors.New("scanner is required")
	case deps.Store == nil:
		return nil, errors.New("store is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Metrics == nil {
		deps.Metrics = telemetry.NewWithRegistry(prometheus.NewRegistry())
	}
	c := &Campaign{
		Deps:           deps,
		campaignGuard:  timeout.Guard{Name: "campaign", Timeout: budgets.Campaign, Message: campaignTimeoutMessage},
		iterationGuard: timeout.Guard{Name: "iteration", Timeout: budgets.Iteration, Message: iterationTimeoutMessage},
		now:            time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Run loops until the campaign budget expires, ctx is cancelled or an
// append to the store fails. Only the last case returns an error.
func (c *Campaign) Run(ctx context.Context) error {
	if c.campaignGuard.Bounded() {
		c.Logger.Info("starting loop", "timer", c.campaignGuard.Timeout.String())
	} else {
		c.Logger.Info("starting loop", "timer", "no timer")
	}

	err := c.campaignGuard.Run(ctx, c.loop)
	switch {
	case err == nil:
		return nil
	case timeout.IsTimeout(err):
		c.Metrics.Timeouts.WithLabelValues("campaign").Inc()
		c.Logger.Info("campaign budget expired", "error", err)
		return nil
	case ctx.Err() != nil && !errors.Is(err, ErrPersistence):
		c.Logger.Info("campaign interrupted", "reason", ctx.Err())
		return nil
	default:
		return err
	}
}

func (c *Campaign) loop(ctx context.Context) error {
	for i := 0; c.maxIterations <= 0 || i < c.maxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		if c.iterationGuard.Bounded() {
			c.Logger.Info("new program couple", "timer", c.iterationGuard.Timeout.String())
		} else {
			c.Logger.Info("new program couple", "timer", "no timer")
		}

		err := c.iterationGuard.Run(ctx, func(ctx context.Context) error {
			_, err := c.RunIteration(ctx)
			return err
		})
		switch {
		case err == nil:
		case errors.Is(err, ErrPersistence):
			c.Metrics.Iterations.WithLabelValues(telemetry.OutcomePersistFail).Inc()
			return err
		case timeout.IsTimeout(err):
			c.Metrics.Iterations.WithLabelValues(telemetry.OutcomeTimeout).Inc()
			c.Metrics.Timeouts.WithLabelValues("iteration").Inc()
			c.Logger.Warn("timeout", "error", err)
		case ctx.Err() != nil:
			return ctx.Err()
		default:
			c.Metrics.Iterations.WithLabelValues(outcome(err)).Inc()
			c.Logger.Error("iteration failed", "error", err)
		}
	}
	return nil
}

func outcome(err error) string {
	switch {
	case errors.Is(err, ErrGeneration):
		return telemetry.OutcomeGenerationFail
	case errors.Is(err, ErrTransformation):
		return telemetry.OutcomeTransformFail
	case errors.Is(err, ErrArtifact):
		return telemetry.OutcomeArtifactFail
	default:
		return "failed"
	}
}

// RunIteration performs one full cycle and returns the persisted record.
func (c *Campaign) RunIteration(ctx context.Context) (domain.Record, error) {
	started := c.now()

	source, err := c.Generator.Generate(ctx)
	if err != nil {
		return domain.Record{}, fmt.Errorf("%w: %w", ErrGeneration, err)
	}
	source.Metadata.ProgramID = source.ID
	if source.Metadata.FilePath, err = c.writeProgram(ctx, artifacts.KindSource, source); err != nil {
		return domain.Record{}, err
	}
	generated := c.now()

	followText, run, err := c.Pipeline.Run(source.Text)
	if err != nil {
		return domain.Record{}, fmt.Errorf("%w: %s: %w", ErrTransformation, source.ID, err)
	}
	c.Metrics.PipelineLength.Observe(float64(len(run.Steps)))
	if c.Logger.Enabled(ctx, slog.LevelDebug) {
		c.Logger.Debug("follow-up derived", "program_id", source.ID, "rules", run.RuleNames(), "diff", transform.DiffText(source.Text, followText))
	}
	followup := domain.Program{ID: source.ID, Text: followText, Metadata: source.Metadata.Clone()}
	if followup.Metadata.FilePath, err = c.writeProgram(ctx, artifacts.KindFollowup, followup); err != nil {
		return domain.Record{}, err
	}
	transformed := c.now()

	resA, resB := c.Harness.ExecutePair(ctx, source, followup)
	if err := ctx.Err(); err != nil {
		// Both sides were killed by cancellation, not by the candidate.
		return domain.Record{}, fmt.Errorf("%w: %s: %w", ErrAbandoned, source.ID, err)
	}
	exceptions := c.observeExecution(source.ID, resA, resB)
	executed := c.now()

	var verdicts []domain.Verdict
	switch {
	case resA.Crashed && resB.Crashed:
		verdicts = c.Suite.Skip("both executions crashed")
	case resA.Crashed:
		verdicts = c.Suite.Skip("source execution crashed")
	case resB.Crashed:
		verdicts = c.Suite.Skip("follow-up execution crashed")
	default:
		verdicts = c.Suite.Check(resA.Distribution, resB.Distribution)
	}
	detected := c.now()
	for _, v := range verdicts {
		if v.Decision == domain.DecisionDivergence {
			c.Metrics.Divergences.WithLabelValues(v.Detector).Inc()
			c.Logger.Warn("divergence found", "program_id", source.ID, "detector", v.Detector, "p_value", v.PValue, "alpha", v.Alpha)
		}
	}

	rec := domain.Record{
		ProgramID: source.ID,
		CreatedAt: detected.UTC(),
		Source:    source.Metadata,
		Followup: domain.FollowupMetadata{
			ProgramMetadata:  followup.Metadata,
			Rules:            run.RuleNames(),
			RuleSeconds:      run.StepSeconds(),
			TransformSeconds: domain.Seconds(run.Duration),
			DiffSummary:      transform.DiffSummary(source.Text, followText),
			RuleInfo:         run.Info(),
		},
		SourceResult:   resA,
		FollowupResult: resB,
		Divergence:     verdicts,
		Exceptions:     exceptions,
		Timings: domain.Timings{
			Generation:     domain.Seconds(generated.Sub(started)),
			Transformation: domain.Seconds(transformed.Sub(generated)),
			Execution:      domain.Seconds(executed.Sub(transformed)),
			Detection:      domain.Seconds(detected.Sub(executed)),
		},
	}

	if c.Writer != nil {
		if _, err := c.Writer.WriteMetadata(ctx, rec); err != nil {
			c.Logger.Warn("metadata not written", "program_id", rec.ProgramID, "error", err)
		}
		if _, err := c.Writer.WriteExecMetadata(ctx, rec); err != nil {
			c.Logger.Warn("execution metadata not written", "program_id", rec.ProgramID, "error", err)
		}
	}

	if err := ctx.Err(); err != nil {
		return domain.Record{}, fmt.Errorf("%w: %s: %w", ErrAbandoned, rec.ProgramID, err)
	}
	if err := c.Store.Append(ctx, rec); err != nil {
		c.surface(rec, err)
		return domain.Record{}, fmt.Errorf("%w: %s: %w", ErrPersistence, rec.ProgramID, err)
	}

	c.scan(ctx, rec.ProgramID)
	c.Metrics.Iterations.WithLabelValues(telemetry.OutcomeCompleted).Inc()
	c.Metrics.IterationDuration.Observe(domain.Seconds(c.now().Sub(started)))

	rec.Followup.RuleInfo = nil
	return rec, nil
}

func (c *Campaign) writeProgram(ctx context.Context, kind string, p domain.Program) (string, error) {
	if c.Writer == nil {
		return "", nil
	}
	path, err := c.Writer.WriteProgram(ctx, kind, p)
	if err != nil {
		return "", fmt.Errorf("%w: %s %s: %w", ErrArtifact, kind, p.ID, err)
	}
	return path, nil
}

func (c *Campaign) observeExecution(programID string, resA, resB domain.ExecutionResult) domain.Exceptions {
	for _, res := range []domain.ExecutionResult{resA, resB} {
		c.Metrics.ExecutionDuration.WithLabelValues(res.Platform).Observe(res.Seconds)
		if res.Crashed {
			c.Metrics.Crashes.WithLabelValues(res.Platform).Inc()
		}
	}
	exc := domain.Exceptions{Source: resA.Error, Followup: resB.Error}
	if exc.Any() {
		c.Logger.Warn("crash found", "program_id", programID, "source", exc.Source, "followup", exc.Followup)
	}
	return exc
}

// surface logs the full record of a failed append.
func (c *Campaign) surface(rec domain.Record, err error) {
	blob, mErr := json.Marshal(rec)
	if mErr != nil {
		c.Logger.Error("record not persisted", "program_id", rec.ProgramID, "error", err, "marshal_error", mErr)
		return
	}
	c.Logger.Error("record not persisted", "program_id", rec.ProgramID, "error", err, "record", string(blob))
}

func (c *Campaign) scan(ctx context.Context, programID string) {
	records, err := c.Store.List(ctx, c.Scanner.Config().Window)
	if err != nil {
		c.Logger.Warn("divergence scan skipped", "error", err)
		return
	}
	report := c.Scanner.Scan(records)
	c.Metrics.ScanTested.Set(float64(report.Tested))
	c.Metrics.ScanFlagged.Set(float64(len(report.Flagged)))

	attrs := []any{
		"method", report.Method,
		"test", report.Test,
		"examined", report.Examined,
		"tested", report.Tested,
		"flagged", len(report.Flagged),
	}
	if len(report.Flagged) > 0 {
		c.Logger.Warn("divergence scan", attrs...)
	} else {
		c.Logger.Info("divergence scan", attrs...)
	}
	if c.Writer != nil {
		if _, err := c.Writer.WriteScanReport(ctx, programID, report); err != nil {
			c.Logger.Warn("scan report not written", "error", err)
		}
	}
}
