package runtimeexec

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"time"

	"github.com/animus-labs/qmt/internal/domain"
)

// DockerExecutor runs each program in a throwaway container with the program
// text on stdin. The container is force-removed if the run is cancelled.
type DockerExecutor struct {
	dockerBin string
	image     string
	command   []string
	memory    string
	cpus      string
	network   string
	env       []string
	maxOutput int
}

func NewDockerExecutor(cfg Config) (*DockerExecutor, error) {
	dockerBin := strings.TrimSpace(cfg.DockerBin)
	if dockerBin == "" {
		dockerBin = "docker"
	}
	if _, err := exec.LookPath(dockerBin); err != nil {
		return nil, fmt.Errorf("docker binary not found: %w", err)
	}
	image := strings.TrimSpace(cfg.Image)
	if image == "" {
		return nil, errors.New("image ref is required")
	}
	command := cfg.Command
	if len(command) == 0 {
		command = []string{"python", "-"}
	}
	network := strings.TrimSpace(cfg.Network)
	if network == "" {
		network = "none"
	}
	maxOutput := cfg.MaxOutputBytes
	if maxOutput <= 0 {
		maxOutput = DefaultMaxOutputBytes
	}
	return &DockerExecutor{
		dockerBin: dockerBin,
		image:     image,
		command:   append([]string(nil), command...),
		memory:    strings.TrimSpace(cfg.Memory),
		cpus:      strings.TrimSpace(cfg.CPUs),
		network:   network,
		env:       sortedEnv(cfg.Env),
		maxOutput: maxOutput,
	}, nil
}

func (e *DockerExecutor) Kind() string {
	return KindDocker
}

func (e *DockerExecutor) Run(ctx context.Context, job Job) (domain.Distribution, error) {
	name := containerName(job)
	cmd := exec.CommandContext(ctx, e.dockerBin, e.runArgs(name, job)...)
	cmd.Stdin = strings.NewReader(job.Text)
	cmd.WaitDelay = defaultWaitDelay
	cmd.Cancel = func() error {
		e.remove(name)
		return cmd.Process.Kill()
	}

	stdout := &limitedBuffer{max: e.maxOutput}
	stderr := &limitedBuffer{max: e.maxOutput}
	cmd.Stdout = stdout
	cmd.Stderr = stderr

	if err := cmd.Run(); err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, fmt.Errorf("container %s killed: %w", name, ctxErr)
		}
		return nil, fmt.Errorf("docker run failed: %w: %s", err, tail(stderr.Bytes(), 2048))
	}
	if stdout.truncated {
		return nil, fmt.Errorf("program output exceeded %d bytes", e.maxOutput)
	}
	return parseDistribution(stdout.Bytes())
}

func (e *DockerExecutor) runArgs(name string, job Job) []string {
	args := []string{
		"run",
		"--rm",
		"-i",
		"--name", name,
		"--network", e.network,
	}
	for _, kv := range jobEnv(job) {
		args = append(args, "-e", kv)
	}
	for _, kv := range e.env {
		args = append(args, "-e", kv)
	}
	if e.cpus != "" {
		if parsed, err := strconv.ParseFloat(e.cpus, 64); err == nil && parsed > 0 {
			args = append(args, "--cpus", fmt.Sprintf("%g", parsed))
		}
	}
	if e.memory != "" {
		args = append(args, "--memory", e.memory)
	}
	args = append(args, e.image)
	return append(args, e.command...)
}

// remove runs detached from the cancelled context so the kill still happens.
func (e *DockerExecutor) remove(name string) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	_ = exec.CommandContext(ctx, e.dockerBin, "rm", "-f", name).Run()
}

func containerName(job Job) string {
	id := strings.TrimSpace(job.ProgramID)
	if id == "" {
		id = strconv.FormatInt(time.Now().UnixNano(), 36)
	}
	platform := strings.ReplaceAll(job.Platform, "_", "")
	return "qmt-" + id + "-" + platform
}
