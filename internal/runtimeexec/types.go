// Package runtimeexec runs candidate programs in isolation from the engine
// and turns every outcome, including crashes, into an ExecutionResult.
package runtimeexec

import (
	"context"
	"errors"

	"github.com/animus-labs/qmt/internal/domain"
)

const (
	KindProcess = "process"
	KindDocker  = "docker"

	DefaultFallbackLabel  = "0"
	DefaultMaxOutputBytes = 4 << 20
)

var (
	ErrNoResult      = errors.New("program produced no result line")
	ErrShotsMismatch = errors.New("sample count differs from requested shots")
)

// Executor runs one program and reports its empirical distribution. Errors
// describe a failure of the candidate program.
type Executor interface {
	Kind() string
	Run(ctx context.Context, program Job) (domain.Distribution, error)
}

// Job is what an executor needs to run a program.
type Job struct {
	ProgramID string
	Platform  string
	Text      string
	// Path is an on-disk copy of Text, when one exists.
	Path string
}

// ExecutorFunc adapts an in-process function, such as a deterministic
// backend, to Executor.
type ExecutorFunc func(ctx context.Context, job Job) (domain.Distribution, error)

func (f ExecutorFunc) Kind() string { return "func" }

func (f ExecutorFunc) Run(ctx context.Context, job Job) (domain.Distribution, error) {
	return f(ctx, job)
}

// Config selects and shapes the executor.
type Config struct {
	Runtime        string            `yaml:"runtime" validate:"omitempty,oneof=process docker"`
	Command        []string          `yaml:"command"`
	Image          string            `yaml:"image"`
	DockerBin      string            `yaml:"docker_bin"`
	Memory         string            `yaml:"memory"`
	CPUs           string            `yaml:"cpus"`
	Network        string            `yaml:"network"`
	FallbackLabel  string            `yaml:"fallback_label"`
	MaxOutputBytes int               `yaml:"max_output_bytes" validate:"min=0"`
	Env            map[string]string `yaml:"env"`
}
