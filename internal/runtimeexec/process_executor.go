package runtimeexec

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"github.com/animus-labs/qmt/internal/domain"
)

const defaultWaitDelay = 2 * time.Second

// ProcessExecutor runs `command... <program path>` as a child process. The
// program prints its counts as a JSON object on its last stdout line.
type ProcessExecutor struct {
	command   []string
	env       []string
	maxOutput int
	tempDir   string
	waitDelay time.Duration
}

func NewProcessExecutor(command []string, env map[string]string, maxOutput int) (*ProcessExecutor, error) {
	if len(command) == 0 || strings.TrimSpace(command[0]) == "" {
		return nil, errors.New("execution command is required")
	}
	if _, err := exec.LookPath(command[0]); err != nil {
		return nil, fmt.Errorf("interpreter not found: %w", err)
	}
	if maxOutput <= 0 {
		maxOutput = DefaultMaxOutputBytes
	}
	return &ProcessExecutor{
		command:   append([]string(nil), command...),
		env:       sortedEnv(env),
		maxOutput: maxOutput,
		waitDelay: defaultWaitDelay,
	}, nil
}

func (e *ProcessExecutor) Kind() string {
	return KindProcess
}

func (e *ProcessExecutor) Run(ctx context.Context, job Job) (domain.Distribution, error) {
	path := strings.TrimSpace(job.Path)
	if path == "" {
		tmp, cleanup, err := e.writeTemp(job)
		if err != nil {
			return nil, err
		}
		defer cleanup()
		path = tmp
	}

	args := append(append([]string(nil), e.command[1:]...), path)
	cmd := exec.CommandContext(ctx, e.command[0], args...)
	cmd.Dir = filepath.Dir(path)
	cmd.Env = append(append(os.Environ(), e.env...), jobEnv(job)...)
	cmd.WaitDelay = e.waitDelay

	stdout := &limitedBuffer{max: e.maxOutput}
	stderr := &limitedBuffer{max: e.maxOutput}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("program killed: %w", ctxErr)
		}
		return nil, fmt.Errorf("program failed: %w: %s", err, tail(stderr.Bytes(), 2048))
	}
	if stdout.truncated {
		return nil, fmt.Errorf("program output exceeded %d bytes", e.maxOutput)
	}
	return parseDistribution(stdout.Bytes())
}

func (e *ProcessExecutor) writeTemp(job Job) (string, func(), error) {
	f, err := os.CreateTemp(e.tempDir, "qmt-"+job.Platform+"-*.py")
	if err != nil {
		return "", nil, fmt.Errorf("create program file: %w", err)
	}
	cleanup := func() { _ = os.Remove(f.Name()) }
	if _, err := f.WriteString(job.Text); err != nil {
		_ = f.Close()
		cleanup()
		return "", nil, fmt.Errorf("write program file: %w", err)
	}
	if err := f.Close(); err != nil {
		cleanup()
		return "", nil, fmt.Errorf("close program file: %w", err)
	}
	return f.Name(), cleanup, nil
}
