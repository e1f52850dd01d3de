package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeFile(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadDefaultsWithoutFile(t *testing.T) {
	conf, err := Load("")
	require.NoError(t, err)

	assert.Equal(t, "8080", conf.Server.Port)
	assert.Equal(t, "judge-python-runner", conf.Sandbox.Image)
	assert.Equal(t, "/app/code", conf.Sandbox.MountPath)
	assert.Equal(t, "solution.py", conf.Sandbox.SourceFile)
	assert.Equal(t, "input.txt", conf.Sandbox.InputFile)
	assert.Equal(t, 5, conf.Judge.Workers)
	assert.Equal(t, 100, conf.Judge.QueueCapacity)
	assert.Equal(t, 10000, conf.Judge.MaxCodeLength)

	limits := conf.Sandbox.Limits()
	assert.Equal(t, 5*time.Second, limits.TimeLimit)
	assert.Equal(t, time.Second, limits.GracePeriod)
	assert.Equal(t, int64(128*1024*1024), limits.MemoryBytes)
	assert.Equal(t, 0.5, limits.CPUs)
	assert.Equal(t, int64(50), limits.PidsLimit)
}

func TestLoadYAMLThenEnv(t *testing.T) {
	path := writeFile(t, "config.yaml", `
server:
  port: "9090"
db:
  driver: memory
sandbox:
  driver: cli
  time_limit_ms: 2000
judge:
  workers: 2
  legacy_verdicts: true
`)
	t.Setenv("JUDGE_WORKERS", "7")
	t.Setenv("LOG_LEVEL", "debug")

	conf, err := Load(path)
	require.NoError(t, err)

	assert.Equal(t, "9090", conf.Server.Port)
	assert.Equal(t, "memory", conf.Db.Driver)
	assert.Equal(t, "cli", conf.Sandbox.Driver)
	assert.Equal(t, int64(2000), conf.Sandbox.TimeLimitMs)
	assert.Equal(t, 7, conf.Judge.Workers)
	assert.True(t, conf.Judge.LegacyVerdicts)
	assert.Equal(t, "debug", conf.Log.Level)
	// untouched sections keep defaults
	assert.Equal(t, "judge-python-runner", conf.Sandbox.Image)
}

func TestLoadConfigUsesConfigPath(t *testing.T) {
	path := writeFile(t, "custom.yaml", "server:\n  port: \"7070\"\n")
	t.Setenv("CONFIG_PATH", path)

	conf, err := LoadConfig()
	require.NoError(t, err)
	assert.Equal(t, "7070", conf.Server.Port)
}

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.ErrorContains(t, err, "failed to read config file")
}

func TestLoadMalformedFile(t *testing.T) {
	path := writeFile(t, "bad.yaml", "server: [\n")
	_, err := Load(path)
	assert.ErrorContains(t, err, "failed to parse config file")
}

func TestInvalidEnvValuesFallBack(t *testing.T) {
	t.Setenv("JUDGE_WORKERS", "many")
	t.Setenv("JUDGE_LEGACY_VERDICTS", "sometimes")

	conf, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, 5, conf.Judge.Workers)
	assert.False(t, conf.Judge.LegacyVerdicts)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		errMsg string
	}{
		{"unknown db driver", func(c *Config) { c.Db.Driver = "sqlite" }, "db.driver"},
		{"unknown sandbox driver", func(c *Config) { c.Sandbox.Driver = "vm" }, "sandbox.driver"},
		{"unknown notify driver", func(c *Config) { c.Notify.Driver = "kafka" }, "notify.driver"},
		{"no workers", func(c *Config) { c.Judge.Workers = 0 }, "judge.workers"},
		{"no queue", func(c *Config) { c.Judge.QueueCapacity = 0 }, "judge.queue_capacity"},
		{"no time limit", func(c *Config) { c.Sandbox.TimeLimitMs = 0 }, "time_limit_ms"},
		{"stale running too short", func(c *Config) { c.Judge.StaleRunningSec = 3 }, "stale_running_sec"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			conf := Default()
			tt.mutate(conf)
			assert.ErrorContains(t, conf.Validate(), tt.errMsg)
		})
	}

	assert.NoError(t, Default().Validate())
}

func TestJudgeOptions(t *testing.T) {
	opts := Default().Judge.Options()
	assert.Equal(t, 10000, opts.MaxCodeLength)
	assert.Equal(t, 30*time.Second, opts.SweepInterval)
	assert.Equal(t, time.Minute, opts.StaleReceived)
	assert.Equal(t, 10*time.Minute, opts.StaleRunning)
	assert.False(t, opts.LegacyVerdicts)
}

func TestExecutorConfig(t *testing.T) {
	ec := Default().Sandbox.ExecutorConfig()
	assert.Equal(t, "judge-python-runner", ec.Image)
	assert.Equal(t, "/app/code", ec.MountPath)
	assert.Equal(t, int64(1024*1024), ec.Limits.MaxOutputBytes)
}

func TestLoadProblems(t *testing.T) {
	path := writeFile(t, "problems.yaml", `
problems:
  - id: 1
    title: Echo
    input_example: "hello"
    output_example: "hello"
  - id: 2
    title: Silent
    input_example: ""
    output_example: ""
    time_limit_ms: 1000
  - id: 3
    title: Unconfigured
`)
	problems, err := LoadProblems(path)
	require.NoError(t, err)
	require.Len(t, problems, 3)

	assert.Equal(t, "hello", *problems[0].OutputExample)
	assert.True(t, problems[1].HasTestCase())
	assert.Equal(t, int64(1000), *problems[1].TimeLimitMs)
	assert.False(t, problems[2].HasTestCase())
}

func TestLoadProblemsRejectsBadIDs(t *testing.T) {
	dup := writeFile(t, "dup.yaml", "problems:\n  - id: 1\n  - id: 1\n")
	_, err := LoadProblems(dup)
	assert.ErrorContains(t, err, "duplicate id")

	zero := writeFile(t, "zero.yaml", "problems:\n  - title: x\n")
	_, err = LoadProblems(zero)
	assert.ErrorContains(t, err, "id must be positive")
}
