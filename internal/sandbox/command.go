package sandbox

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// ArgvFunc builds the command line for one execution. name is unique per run.
type ArgvFunc func(name string, cfg RunConfig) []string

// CommandSandbox runs the sandbox as a child process, by default the docker
// CLI. The child gets its own process group so termination reaches
// everything it spawned.
type CommandSandbox struct {
	argv   ArgvFunc
	reap   func(ctx context.Context, name string) error
	ensure func(ctx context.Context, image string) error
	logger *zerolog.Logger
}

func NewCommandSandbox(argv ArgvFunc, logger *zerolog.Logger) *CommandSandbox {
	return &CommandSandbox{argv: argv, logger: logger}
}

// NewDockerCLISandbox shells out to `docker run`, with the same isolation
// flags the Engine API driver sets.
func NewDockerCLISandbox(logger *zerolog.Logger) *CommandSandbox {
	return &CommandSandbox{
		argv:   DockerCLIArgs,
		reap:   dockerRemove,
		ensure: dockerEnsureImage,
		logger: logger,
	}
}

func DockerCLIArgs(name string, cfg RunConfig) []string {
	args := []string{
		"docker", "run",
		"--rm",
		"--name", name,
		"--network", "none",
		"--memory", strconv.FormatInt(cfg.Limits.MemoryBytes, 10),
		"--memory-swap", strconv.FormatInt(cfg.Limits.MemoryBytes, 10),
		"--cpus", strconv.FormatFloat(cfg.Limits.CPUs, 'f', -1, 64),
		"--pids-limit", strconv.FormatInt(cfg.Limits.PidsLimit, 10),
		"--read-only",
		"--tmpfs", "/tmp:rw,noexec,nosuid,size=16m",
		"--cap-drop", "ALL",
		"--security-opt", "no-new-privileges",
		"-v", cfg.WorkspaceDir + ":" + cfg.MountPath + ":ro",
		"-i",
	}
	if cfg.User != "" {
		args = append(args, "--user", cfg.User)
	}
	return append(args, cfg.Image)
}

func (s *CommandSandbox) Run(ctx context.Context, cfg RunConfig) (*Result, error) {
	name := "codejudge-" + uuid.NewString()
	argv := s.argv(name, cfg)
	if len(argv) == 0 {
		return nil, errors.New("empty sandbox command")
	}

	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	if cfg.HasStdin && cfg.Stdin != "" {
		cmd.Stdin = strings.NewReader(cfg.Stdin)
	}
	stdout := newCappedBuffer(cfg.Limits.MaxOutputBytes)
	stderr := newCappedBuffer(cfg.Limits.MaxOutputBytes)
	cmd.Stdout = stdout
	cmd.Stderr = stderr
	// Bounds the stdin/stdout copy goroutines once the process is gone.
	cmd.WaitDelay = cfg.Limits.GracePeriod + time.Second

	startTime := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start sandbox: %w", err)
	}

	done := make(chan error, 1)
	go func() {
		done <- cmd.Wait()
	}()

	timer := time.NewTimer(cfg.Limits.TimeLimit)
	defer timer.Stop()

	select {
	case err := <-done:
		duration := time.Since(startTime)
		var exitErr *exec.ExitError
		if err != nil && !errors.As(err, &exitErr) {
			return nil, fmt.Errorf("sandbox process failed: %w", err)
		}
		return &Result{
			Stdout:    stdout.String(),
			Stderr:    stderr.String(),
			ExitCode:  cmd.ProcessState.ExitCode(),
			TimeMs:    duration.Milliseconds(),
			Truncated: stdout.truncated || stderr.truncated,
		}, nil
	case <-timer.C:
		s.terminate(cmd, done, cfg.Limits.GracePeriod)
		s.cleanup(name)
		return &Result{TimedOut: true, TimeMs: time.Since(startTime).Milliseconds()}, nil
	case <-ctx.Done():
		s.terminate(cmd, done, 0)
		s.cleanup(name)
		return nil, ctx.Err()
	}
}

// terminate sends SIGTERM to the process group, waits up to grace, then
// SIGKILLs. It returns only after Wait has returned.
func (s *CommandSandbox) terminate(cmd *exec.Cmd, done <-chan error, grace time.Duration) {
	pgid := -cmd.Process.Pid
	if grace > 0 {
		_ = syscall.Kill(pgid, syscall.SIGTERM)
		select {
		case <-done:
			return
		case <-time.After(grace):
		}
	}
	_ = syscall.Kill(pgid, syscall.SIGKILL)
	<-done
}

func (s *CommandSandbox) cleanup(name string) {
	if s.reap == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := s.reap(ctx, name); err != nil {
		s.logger.Warn().Err(err).Str("container", name).Msg("failed to reap sandbox")
	}
}

func (s *CommandSandbox) EnsureImage(ctx context.Context, image string) error {
	if s.ensure == nil {
		return nil
	}
	return s.ensure(ctx, image)
}

func dockerRemove(ctx context.Context, name string) error {
	out, err := exec.CommandContext(ctx, "docker", "rm", "-f", name).CombinedOutput()
	if err != nil && !strings.Contains(string(out), "No such container") {
		return fmt.Errorf("docker rm -f %s: %w: %s", name, err, strings.TrimSpace(string(out)))
	}
	return nil
}

func dockerEnsureImage(ctx context.Context, image string) error {
	if err := exec.CommandContext(ctx, "docker", "image", "inspect", image).Run(); err == nil {
		return nil
	}
	out, err := exec.CommandContext(ctx, "docker", "pull", image).CombinedOutput()
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w: %s", image, err, strings.TrimSpace(string(out)))
	}
	return nil
}
