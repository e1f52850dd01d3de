package sandbox

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func shArgv(_ string, cfg RunConfig) []string {
	return []string{"sh", filepath.Join(cfg.WorkspaceDir, cfg.SourceFile)}
}

func runScript(t *testing.T, script, stdin string, limits Limits) (*Result, error) {
	t.Helper()
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "solution.sh"), []byte(script), 0o644))

	logger := zerolog.Nop()
	sb := NewCommandSandbox(shArgv, &logger)
	return sb.Run(context.Background(), RunConfig{
		WorkspaceDir: dir,
		SourceFile:   "solution.sh",
		Stdin:        stdin,
		HasStdin:     stdin != "",
		Limits:       limits,
	})
}

func testLimits() Limits {
	return Limits{
		TimeLimit:      2 * time.Second,
		GracePeriod:    200 * time.Millisecond,
		MaxOutputBytes: 1 << 16,
	}
}

func TestCommandSandboxOutput(t *testing.T) {
	res, err := runScript(t, "read a b\necho $((a + b))\n", "2 3", testLimits())
	require.NoError(t, err)
	assert.False(t, res.TimedOut)
	assert.Equal(t, 0, res.ExitCode)
	assert.Equal(t, "5\n", res.Stdout)
}

func TestCommandSandboxNoInputSeesEOF(t *testing.T) {
	res, err := runScript(t, "if read line; then echo got; else echo eof; fi\n", "", testLimits())
	require.NoError(t, err)
	assert.Equal(t, "eof\n", res.Stdout)
}

func TestCommandSandboxRuntimeFailure(t *testing.T) {
	res, err := runScript(t, "echo boom >&2\nexit 3\n", "", testLimits())
	require.NoError(t, err)
	assert.False(t, res.TimedOut)
	assert.Equal(t, 3, res.ExitCode)
	assert.Equal(t, "boom\n", res.Stderr)
}

func TestCommandSandboxTimeout(t *testing.T) {
	limits := testLimits()
	limits.TimeLimit = 300 * time.Millisecond

	start := time.Now()
	res, err := runScript(t, "while :; do :; done\n", "", limits)
	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	assert.Less(t, time.Since(start), limits.TimeLimit+limits.GracePeriod+2*time.Second)
}

func TestCommandSandboxTimeoutIgnoringSigterm(t *testing.T) {
	limits := testLimits()
	limits.TimeLimit = 300 * time.Millisecond

	start := time.Now()
	res, err := runScript(t, "trap '' TERM\nwhile :; do :; done\n", "", limits)
	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	assert.Less(t, time.Since(start), limits.TimeLimit+limits.GracePeriod+2*time.Second)
}

func TestCommandSandboxProgramIgnoringLargeInput(t *testing.T) {
	limits := testLimits()
	limits.TimeLimit = 300 * time.Millisecond

	input := strings.Repeat("x", 4<<20)
	start := time.Now()
	res, err := runScript(t, "sleep 30\n", input, limits)
	require.NoError(t, err)
	assert.True(t, res.TimedOut)
	assert.Less(t, time.Since(start), limits.TimeLimit+limits.GracePeriod+3*time.Second)
}

func TestCommandSandboxOutputCap(t *testing.T) {
	limits := testLimits()
	limits.MaxOutputBytes = 10

	res, err := runScript(t, "i=0\nwhile [ $i -lt 100 ]; do echo line; i=$((i+1)); done\n", "", limits)
	require.NoError(t, err)
	assert.Equal(t, 0, res.ExitCode)
	assert.Len(t, res.Stdout, 10)
}

func TestCommandSandboxMissingBinary(t *testing.T) {
	logger := zerolog.Nop()
	sb := NewCommandSandbox(func(string, RunConfig) []string {
		return []string{"/nonexistent/sandbox-runtime"}
	}, &logger)

	_, err := sb.Run(context.Background(), RunConfig{Limits: testLimits()})
	assert.Error(t, err)
}

func TestCommandSandboxContextCancel(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "solution.sh"), []byte("sleep 30\n"), 0o644))

	logger := zerolog.Nop()
	sb := NewCommandSandbox(shArgv, &logger)

	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	_, err := sb.Run(ctx, RunConfig{WorkspaceDir: dir, SourceFile: "solution.sh", Limits: testLimits()})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDockerCLIArgs(t *testing.T) {
	args := DockerCLIArgs("codejudge-1", RunConfig{
		Image:        "judge-python-runner",
		WorkspaceDir: "/tmp/ws-1",
		MountPath:    "/app/code",
		Limits: Limits{
			MemoryBytes: 128 << 20,
			CPUs:        0.5,
			PidsLimit:   50,
		},
	})
	joined := strings.Join(args, " ")

	assert.Equal(t, "docker", args[0])
	assert.Equal(t, "judge-python-runner", args[len(args)-1])
	assert.Contains(t, joined, "--network none")
	assert.Contains(t, joined, "--memory 134217728")
	assert.Contains(t, joined, "--cpus 0.5")
	assert.Contains(t, joined, "--pids-limit 50")
	assert.Contains(t, joined, "-v /tmp/ws-1:/app/code:ro")
	assert.Contains(t, joined, "--name codejudge-1")
}

func TestCommandSandboxReportsTruncatedOutput(t *testing.T) {
	limits := testLimits()
	limits.MaxOutputBytes = 8
	res, err := runScript(t, "echo 0123456789abcdef\n", "", limits)
	require.NoError(t, err)
	assert.Equal(t, "01234567", res.Stdout)
	assert.True(t, res.Truncated)

	res, err = runScript(t, "echo ok\n", "", limits)
	require.NoError(t, err)
	assert.False(t, res.Truncated)
}

func TestCappedBuffer(t *testing.T) {
	b := newCappedBuffer(4)
	n, err := b.Write([]byte("abcdef"))
	require.NoError(t, err)
	assert.Equal(t, 6, n)
	assert.Equal(t, "abcd", b.String())
	assert.True(t, b.truncated)

	n, err = b.Write([]byte("gh"))
	require.NoError(t, err)
	assert.Equal(t, 2, n)
	assert.Equal(t, "abcd", b.String())
}
