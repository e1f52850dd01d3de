package sandbox

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/docker/docker/api/types"
	"github.com/docker/docker/api/types/container"
	"github.com/docker/docker/api/types/image"
	"github.com/docker/docker/client"
	"github.com/docker/docker/pkg/stdcopy"
	"github.com/google/uuid"
	"github.com/itstheanurag/codejudge/internal/metrics"
	"github.com/rs/zerolog"
)

const cleanupTimeout = 10 * time.Second

// DockerSandbox talks to the Docker Engine API. Each Run creates exactly one
// container and removes it before returning.
type DockerSandbox struct {
	cli    *client.Client
	logger *zerolog.Logger
}

func NewDockerSandbox(logger *zerolog.Logger) (*DockerSandbox, error) {
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, err
	}
	return &DockerSandbox{cli: cli, logger: logger}, nil
}

// Close releases the Engine API client.
func (s *DockerSandbox) Close() error {
	return s.cli.Close()
}

// containerConfigs builds the container for one run: workspace mounted
// read-only, no network, no capabilities, hard memory and pid caps.
func containerConfigs(cfg RunConfig) (*container.Config, *container.HostConfig) {
	pidsLimit := cfg.Limits.PidsLimit
	conf := &container.Config{
		Image:           cfg.Image,
		User:            cfg.User,
		Tty:             false,
		AttachStdin:     true,
		AttachStdout:    true,
		AttachStderr:    true,
		OpenStdin:       true,
		StdinOnce:       true,
		NetworkDisabled: true,
	}
	hostConf := &container.HostConfig{
		Binds: []string{fmt.Sprintf("%s:%s:ro", cfg.WorkspaceDir, cfg.MountPath)},
		Resources: container.Resources{
			Memory:     cfg.Limits.MemoryBytes,
			MemorySwap: cfg.Limits.MemoryBytes, // no swap
			NanoCPUs:   int64(cfg.Limits.CPUs * 1e9),
			PidsLimit:  &pidsLimit,
		},
		NetworkMode:    "none",
		ReadonlyRootfs: true,
		SecurityOpt:    []string{"no-new-privileges"},
		CapDrop:        []string{"ALL"},
		Tmpfs: map[string]string{
			"/tmp": "rw,noexec,nosuid,size=16m,mode=1777",
		},
	}
	return conf, hostConf
}

func (s *DockerSandbox) Run(ctx context.Context, cfg RunConfig) (*Result, error) {
	name := "codejudge-" + uuid.NewString()
	conf, hostConf := containerConfigs(cfg)

	createStart := time.Now()
	resp, err := s.cli.ContainerCreate(ctx, conf, hostConf, nil, nil, name)
	if err != nil {
		return nil, fmt.Errorf("failed to create container: %w", err)
	}
	defer s.remove(resp.ID)

	attach, err := s.cli.ContainerAttach(ctx, resp.ID, container.AttachOptions{
		Stream: true,
		Stdin:  true,
		Stdout: true,
		Stderr: true,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to attach container: %w", err)
	}
	defer attach.Close()

	stdout := newCappedBuffer(cfg.Limits.MaxOutputBytes)
	stderr := newCappedBuffer(cfg.Limits.MaxOutputBytes)
	copyDone := make(chan error, 1)
	go func() {
		_, err := stdcopy.StdCopy(stdout, stderr, attach.Reader)
		copyDone <- err
	}()

	// Register the wait before start so a fast exit is not missed.
	waitCh, waitErrCh := s.cli.ContainerWait(ctx, resp.ID, container.WaitConditionNextExit)

	if err := s.cli.ContainerStart(ctx, resp.ID, container.StartOptions{}); err != nil {
		return nil, fmt.Errorf("failed to start container: %w", err)
	}
	metrics.ContainerCreationTime.Observe(float64(time.Since(createStart).Milliseconds()))

	startTime := time.Now()
	deadline := startTime.Add(cfg.Limits.TimeLimit)
	go s.feedStdin(attach, cfg, deadline)

	timer := time.NewTimer(cfg.Limits.TimeLimit)
	defer timer.Stop()

	var exitCode int64
	select {
	case w := <-waitCh:
		if w.Error != nil {
			return nil, fmt.Errorf("container wait failed: %s", w.Error.Message)
		}
		exitCode = w.StatusCode
	case err := <-waitErrCh:
		return nil, fmt.Errorf("container wait failed: %w", err)
	case <-timer.C:
		s.terminate(resp.ID, cfg.Limits.GracePeriod)
		s.logger.Debug().Str("container", resp.ID).Msg("container exceeded time limit")
		return &Result{TimedOut: true, TimeMs: time.Since(startTime).Milliseconds()}, nil
	case <-ctx.Done():
		s.terminate(resp.ID, 0)
		return nil, ctx.Err()
	}
	duration := time.Since(startTime)

	// The stream closes when the container exits; do not wait on it forever.
	select {
	case err := <-copyDone:
		if err != nil && !errors.Is(err, io.EOF) {
			return nil, fmt.Errorf("failed to read execution logs: %w", err)
		}
	case <-time.After(cfg.Limits.GracePeriod + time.Second):
		return nil, errors.New("container output stream did not close after exit")
	}

	return &Result{
		Stdout:    stdout.String(),
		Stderr:    stderr.String(),
		ExitCode:  int(exitCode),
		TimeMs:    duration.Milliseconds(),
		Truncated: stdout.truncated || stderr.truncated,
	}, nil
}

// feedStdin writes the input and closes the write side. The write deadline
// keeps a program that never reads from pinning this goroutine.
func (s *DockerSandbox) feedStdin(attach types.HijackedResponse, cfg RunConfig, deadline time.Time) {
	if cfg.HasStdin && cfg.Stdin != "" {
		_ = attach.Conn.SetWriteDeadline(deadline)
		if _, err := io.WriteString(attach.Conn, cfg.Stdin); err != nil {
			s.logger.Debug().Err(err).Msg("stdin write interrupted")
		}
	}
	_ = attach.CloseWrite()
}

// terminate asks the container to stop (SIGTERM), lets the engine wait the
// grace period, then kills it outright if it is still around.
func (s *DockerSandbox) terminate(id string, grace time.Duration) {
	ctx, cancel := context.WithTimeout(context.Background(), grace+cleanupTimeout)
	defer cancel()

	secs := int(math.Ceil(grace.Seconds()))
	if err := s.cli.ContainerStop(ctx, id, container.StopOptions{Timeout: &secs}); err != nil {
		s.logger.Warn().Err(err).Str("container", id).Msg("graceful stop failed, killing")
		if err := s.cli.ContainerKill(ctx, id, "SIGKILL"); err != nil {
			s.logger.Error().Err(err).Str("container", id).Msg("failed to kill container")
		}
	}
}

func (s *DockerSandbox) remove(id string) {
	ctx, cancel := context.WithTimeout(context.Background(), cleanupTimeout)
	defer cancel()
	if err := s.cli.ContainerRemove(ctx, id, container.RemoveOptions{Force: true}); err != nil {
		s.logger.Error().Err(err).Str("container", id).Msg("failed to remove container")
	}
}

func (s *DockerSandbox) EnsureImage(ctx context.Context, img string) error {
	_, _, err := s.cli.ImageInspectWithRaw(ctx, img)
	if err == nil {
		return nil // Image already exists
	}

	s.logger.Info().Str("image", img).Msg("pulling docker image")
	reader, err := s.cli.ImagePull(ctx, img, image.PullOptions{})
	if err != nil {
		return fmt.Errorf("failed to pull image %s: %w", img, err)
	}
	defer reader.Close()

	// Important: must consume the reader to finish the pull
	_, _ = io.Copy(io.Discard, reader)

	s.logger.Info().Str("image", img).Msg("successfully pulled docker image")
	return nil
}
