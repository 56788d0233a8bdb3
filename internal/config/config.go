// Package config loads the campaign configuration document. A Config is
// built once at startup and passed by value to every component.
package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/animus-labs/qmt/internal/detect"
	"github.com/animus-labs/qmt/internal/generator"
	"github.com/animus-labs/qmt/internal/runtimeexec"
	"github.com/animus-labs/qmt/internal/shots"
	"github.com/animus-labs/qmt/internal/timeout"
	"github.com/animus-labs/qmt/internal/transform"
)

// ErrInvalid wraps every configuration error.
var ErrInvalid = errors.New("invalid configuration")

const (
	BackendBadger   = "badger"
	BackendPostgres = "postgres"
	BackendMemory   = "memory"
)

type StoreConfig struct {
	Backend string `yaml:"backend" validate:"oneof=badger postgres memory"`
	// Path of the badger directory, relative to the experiment folder unless
	// absolute.
	Path  string `yaml:"path"`
	Table string `yaml:"table"`
}

type ArtifactsConfig struct {
	Mirror bool   `yaml:"mirror"`
	Bucket string `yaml:"bucket"`
	Prefix string `yaml:"prefix"`
}

type Config struct {
	ExperimentFolder           string            `yaml:"experiment_folder" validate:"required"`
	FolderStructure            map[string]string `yaml:"folder_structure"`
	BudgetTime                 *float64          `yaml:"budget_time" validate:"omitempty,gte=0"`
	BudgetTimePerProgramCouple *float64          `yaml:"budget_time_per_program_couple" validate:"omitempty,gte=0"`
	Seed                       *uint64           `yaml:"seed"`
	LogLevel                   string            `yaml:"log_level" validate:"omitempty,oneof=debug info warn warning error"`
	MetricsAddr                string            `yaml:"metrics_addr" validate:"omitempty,hostname_port"`

	Generation generator.Config     `yaml:"generation_strategy"`
	SampleSize shots.Config         `yaml:"sample_size"`
	Pipeline   transform.Config     `yaml:"pipeline"`
	Strategies []transform.Strategy `yaml:"metamorphic_strategies" validate:"required,min=1,dive"`
	Detectors  []detect.Detector    `yaml:"detectors" validate:"dive"`

	DivergenceThresholdMethod string  `yaml:"divergence_threshold_method" validate:"omitempty,oneof=none bonferroni holm benjamini_hochberg"`
	DivergencePrimaryTest     string  `yaml:"divergence_primary_test" validate:"required"`
	DivergenceAlphaLevel      float64 `yaml:"divergence_alpha_level" validate:"gt=0,lt=1"`
	DivergenceWindow          int     `yaml:"divergence_window" validate:"gte=0"`

	Execution runtimeexec.Config `yaml:"execution"`
	Store     StoreConfig        `yaml:"store"`
	Artifacts ArtifactsConfig    `yaml:"artifacts"`
}

// Default is the configuration every document is decoded on top of.
func Default() Config {
	return Config{
		LogLevel:   "info",
		SampleSize: shots.DefaultConfig(),
		Pipeline: transform.Config{
			MaxTransformations: 1,
			Order:              transform.OrderDraw,
		},
		Detectors: []detect.Detector{
			{Name: detect.TestChiSquare, Test: detect.TestChiSquare, Alpha: detect.DefaultAlpha},
			{Name: detect.TestKS, Test: detect.TestKS, Alpha: detect.DefaultAlpha},
		},
		DivergenceThresholdMethod: detect.MethodHolm,
		DivergencePrimaryTest:     detect.TestKS,
		DivergenceAlphaLevel:      detect.DefaultAlpha,
		Execution: runtimeexec.Config{
			Runtime:        runtimeexec.KindProcess,
			Command:        []string{"python3"},
			FallbackLabel:  runtimeexec.DefaultFallbackLabel,
			MaxOutputBytes: runtimeexec.DefaultMaxOutputBytes,
		},
		Store: StoreConfig{
			Backend: BackendBadger,
			Path:    "store",
		},
		Artifacts: ArtifactsConfig{
			Prefix: "qmt",
		},
	}
}

func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("%w: open %s: %v", ErrInvalid, path, err)
	}
	defer f.Close()
	return Parse(f)
}

// Parse decodes one YAML document on top of Default and validates it.
// Unknown keys are rejected.
func Parse(r io.Reader) (Config, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return Config{}, fmt.Errorf("%w: read: %v", ErrInvalid, err)
	}
	cfg := Default()
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		if errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("%w: empty document", ErrInvalid)
		}
		return Config{}, fmt.Errorf("%w: decode: %v", ErrInvalid, err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

var validate = validator.New(validator.WithRequiredStructEnabled())

func (c Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			msgs := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				msgs = append(msgs, fmt.Sprintf("%s failed %q", fe.Namespace(), fe.Tag()))
			}
			return fmt.Errorf("%w: %s", ErrInvalid, strings.Join(msgs, "; "))
		}
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}

	if err := c.SampleSize.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if _, err := transform.NewRegistry().Build(c.Strategies); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if _, err := detect.NewSuite(c.Detectors); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	if _, err := detect.NewScanner(c.Scan()); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalid, err)
	}
	switch c.Execution.Runtime {
	case runtimeexec.KindProcess, "":
		if len(c.Execution.Command) == 0 {
			return fmt.Errorf("%w: execution.command is required for the process runtime", ErrInvalid)
		}
	case runtimeexec.KindDocker:
		if strings.TrimSpace(c.Execution.Image) == "" {
			return fmt.Errorf("%w: execution.image is required for the docker runtime", ErrInvalid)
		}
	}
	if c.Artifacts.Mirror && strings.TrimSpace(c.Artifacts.Bucket) == "" {
		return fmt.Errorf("%w: artifacts.bucket is required when artifacts.mirror is set", ErrInvalid)
	}
	return nil
}

// Scan is the history scan configuration.
func (c Config) Scan() detect.ScanConfig {
	return detect.ScanConfig{
		Method: c.DivergenceThresholdMethod,
		Test:   c.DivergencePrimaryTest,
		Alpha:  c.DivergenceAlphaLevel,
		Window: c.DivergenceWindow,
	}
}

func (c Config) CampaignBudget() time.Duration {
	return timeout.Seconds(c.BudgetTime)
}

func (c Config) IterationBudget() time.Duration {
	return timeout.Seconds(c.BudgetTimePerProgramCouple)
}
