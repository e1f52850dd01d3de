package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/itstheanurag/codejudge/internal/executor"
	"github.com/itstheanurag/codejudge/internal/judge"
	"github.com/itstheanurag/codejudge/internal/sandbox"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

const defaultConfigFile = "config.yaml"

type Config struct {
	Server           ServerConfig  `yaml:"server"`
	Db               DbConfig      `yaml:"db"`
	Sandbox          SandboxConfig `yaml:"sandbox"`
	Judge            JudgeConfig   `yaml:"judge"`
	Limiter          LimiterConfig `yaml:"limiter"`
	Notify           NotifyConfig  `yaml:"notify"`
	Log              LogConfig     `yaml:"log"`
	SeedProblemsFile string        `yaml:"seed_problems_file"`
}

// Timeouts are in seconds.
type ServerConfig struct {
	Port         string `yaml:"port"`
	ReadTimeout  int    `yaml:"read_timeout"`
	WriteTimeout int    `yaml:"write_timeout"`
	IdleTimeout  int    `yaml:"idle_timeout"`
}

type DbConfig struct {
	Driver   string `yaml:"driver"` // postgres | memory
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	Name     string `yaml:"name"`
	SSLMode  string `yaml:"sslmode"`
	MaxConns int32  `yaml:"max_conns"`
}

type SandboxConfig struct {
	Driver        string  `yaml:"driver"` // docker | cli
	Image         string  `yaml:"image"`
	MountPath     string  `yaml:"mount_path"`
	SourceFile    string  `yaml:"source_file"`
	InputFile     string  `yaml:"input_file"`
	WorkspaceRoot string  `yaml:"workspace_root"`
	User          string  `yaml:"user"`
	TimeLimitMs   int64   `yaml:"time_limit_ms"`
	GracePeriodMs int64   `yaml:"grace_period_ms"`
	MemoryMb      int64   `yaml:"memory_mb"`
	CPUs          float64 `yaml:"cpus"`
	PidsLimit     int64   `yaml:"pids_limit"`
	MaxOutputKb   int64   `yaml:"max_output_kb"`
	PullImage     bool    `yaml:"pull_image"`
}

type JudgeConfig struct {
	Workers          int  `yaml:"workers"`
	QueueCapacity    int  `yaml:"queue_capacity"`
	MaxCodeLength    int  `yaml:"max_code_length"`
	PersistRetries   uint `yaml:"persist_retries"`
	SweepIntervalSec int  `yaml:"sweep_interval_sec"`
	SweepBatch       int  `yaml:"sweep_batch"`
	StaleReceivedSec int  `yaml:"stale_received_sec"`
	StaleRunningSec  int  `yaml:"stale_running_sec"`
	LegacyVerdicts   bool `yaml:"legacy_verdicts"`
}

type LimiterConfig struct {
	Enabled            bool    `yaml:"enabled"`
	GlobalRPS          float64 `yaml:"global_rps"`
	PerIPRPS           float64 `yaml:"per_ip_rps"`
	PerIPBurst         int     `yaml:"per_ip_burst"`
	CleanupIntervalSec int     `yaml:"cleanup_interval_sec"`
}

type NotifyConfig struct {
	Driver          string `yaml:"driver"` // none | redis | momento
	RedisAddr       string `yaml:"redis_addr"`
	RedisPassword   string `yaml:"redis_password"`
	Channel         string `yaml:"channel"`
	StatusTTLSec    int    `yaml:"status_ttl_sec"`
	MomentoTokenEnv string `yaml:"momento_token_env"`
	MomentoCache    string `yaml:"momento_cache"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // console | json
}

func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:         "8080",
			ReadTimeout:  10,
			WriteTimeout: 10,
			IdleTimeout:  60,
		},
		Db: DbConfig{
			Driver:   "postgres",
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Name:     "codejudge",
			SSLMode:  "disable",
			MaxConns: 10,
		},
		Sandbox: SandboxConfig{
			Driver:        "docker",
			Image:         "judge-python-runner",
			MountPath:     "/app/code",
			SourceFile:    "solution.py",
			InputFile:     "input.txt",
			WorkspaceRoot: os.TempDir(),
			TimeLimitMs:   5000,
			GracePeriodMs: 1000,
			MemoryMb:      128,
			CPUs:          0.5,
			PidsLimit:     50,
			MaxOutputKb:   1024,
			User:          "65534:65534",
		},
		Judge: JudgeConfig{
			Workers:          5,
			QueueCapacity:    100,
			MaxCodeLength:    10000,
			PersistRetries:   5,
			SweepIntervalSec: 30,
			SweepBatch:       100,
			StaleReceivedSec: 60,
			StaleRunningSec:  600,
		},
		Limiter: LimiterConfig{
			Enabled:            true,
			GlobalRPS:          100,
			PerIPRPS:           10,
			PerIPBurst:         20,
			CleanupIntervalSec: 300,
		},
		Notify: NotifyConfig{
			Driver:          "none",
			RedisAddr:       "localhost:6379",
			Channel:         "codejudge:status",
			StatusTTLSec:    3600,
			MomentoTokenEnv: "MOMENTO_AUTH_TOKEN",
			MomentoCache:    "codejudge-cache",
		},
		Log: LogConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// LoadConfig reads .env, then the YAML file named by CONFIG_PATH (or
// ./config.yaml when present), then environment overrides.
func LoadConfig() (*Config, error) {
	_ = godotenv.Load()

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		if _, err := os.Stat(defaultConfigFile); err == nil {
			path = defaultConfigFile
		}
	}
	return Load(path)
}

// Load builds a config from defaults, the YAML file at path (skipped when
// path is empty) and the environment.
func Load(path string) (*Config, error) {
	conf := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, conf); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	conf.applyEnv()

	if err := conf.Validate(); err != nil {
		return nil, err
	}
	return conf, nil
}

func (c *Config) applyEnv() {
	c.Server.Port = getEnv("SERVER_PORT", c.Server.Port)

	c.Db.Driver = getEnv("DB_DRIVER", c.Db.Driver)
	c.Db.Host = getEnv("DB_HOST", c.Db.Host)
	c.Db.Port = getEnvInt("DB_PORT", c.Db.Port)
	c.Db.User = getEnv("DB_USER", c.Db.User)
	c.Db.Password = getEnv("DB_PASSWORD", c.Db.Password)
	c.Db.Name = getEnv("DB_NAME", c.Db.Name)
	c.Db.SSLMode = getEnv("DB_SSLMODE", c.Db.SSLMode)

	c.Sandbox.Driver = getEnv("SANDBOX_DRIVER", c.Sandbox.Driver)
	c.Sandbox.Image = getEnv("SANDBOX_IMAGE", c.Sandbox.Image)
	c.Sandbox.WorkspaceRoot = getEnv("SANDBOX_WORKSPACE_ROOT", c.Sandbox.WorkspaceRoot)
	c.Sandbox.TimeLimitMs = int64(getEnvInt("SANDBOX_TIME_LIMIT_MS", int(c.Sandbox.TimeLimitMs)))
	c.Sandbox.MemoryMb = int64(getEnvInt("SANDBOX_MEMORY_MB", int(c.Sandbox.MemoryMb)))
	c.Sandbox.PullImage = getEnvBool("SANDBOX_PULL_IMAGE", c.Sandbox.PullImage)

	c.Judge.Workers = getEnvInt("JUDGE_WORKERS", c.Judge.Workers)
	c.Judge.QueueCapacity = getEnvInt("JUDGE_QUEUE_CAPACITY", c.Judge.QueueCapacity)
	c.Judge.MaxCodeLength = getEnvInt("JUDGE_MAX_CODE_LENGTH", c.Judge.MaxCodeLength)
	c.Judge.LegacyVerdicts = getEnvBool("JUDGE_LEGACY_VERDICTS", c.Judge.LegacyVerdicts)

	c.Limiter.Enabled = getEnvBool("LIMITER_ENABLED", c.Limiter.Enabled)

	c.Notify.Driver = getEnv("NOTIFY_DRIVER", c.Notify.Driver)
	c.Notify.RedisAddr = getEnv("REDIS_ADDR", c.Notify.RedisAddr)
	c.Notify.RedisPassword = getEnv("REDIS_PASSWORD", c.Notify.RedisPassword)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)

	c.SeedProblemsFile = getEnv("SEED_PROBLEMS_FILE", c.SeedProblemsFile)
}

func (c *Config) Validate() error {
	var errs []error

	if c.Server.Port == "" {
		errs = append(errs, errors.New("server.port is required"))
	}
	switch c.Db.Driver {
	case "postgres", "memory":
	default:
		errs = append(errs, fmt.Errorf("db.driver %q is not one of postgres, memory", c.Db.Driver))
	}
	switch c.Sandbox.Driver {
	case "docker", "cli":
	default:
		errs = append(errs, fmt.Errorf("sandbox.driver %q is not one of docker, cli", c.Sandbox.Driver))
	}
	switch c.Notify.Driver {
	case "none", "redis", "momento":
	default:
		errs = append(errs, fmt.Errorf("notify.driver %q is not one of none, redis, momento", c.Notify.Driver))
	}
	if c.Sandbox.Image == "" {
		errs = append(errs, errors.New("sandbox.image is required"))
	}
	if c.Sandbox.SourceFile == "" || c.Sandbox.InputFile == "" {
		errs = append(errs, errors.New("sandbox.source_file and sandbox.input_file are required"))
	}
	if c.Sandbox.TimeLimitMs <= 0 {
		errs = append(errs, errors.New("sandbox.time_limit_ms must be positive"))
	}
	if c.Judge.Workers <= 0 {
		errs = append(errs, errors.New("judge.workers must be positive"))
	}
	if c.Judge.QueueCapacity <= 0 {
		errs = append(errs, errors.New("judge.queue_capacity must be positive"))
	}
	stale := time.Duration(c.Judge.StaleRunningSec) * time.Second
	if c.Judge.StaleRunningSec > 0 && stale <= c.Sandbox.Limits().TimeLimit+c.Sandbox.Limits().GracePeriod {
		errs = append(errs, errors.New("judge.stale_running_sec must exceed the time limit plus grace period"))
	}

	return errors.Join(errs...)
}

func (s SandboxConfig) Limits() sandbox.Limits {
	return sandbox.Limits{
		TimeLimit:      time.Duration(s.TimeLimitMs) * time.Millisecond,
		GracePeriod:    time.Duration(s.GracePeriodMs) * time.Millisecond,
		MemoryBytes:    s.MemoryMb * 1024 * 1024,
		CPUs:           s.CPUs,
		PidsLimit:      s.PidsLimit,
		MaxOutputBytes: s.MaxOutputKb * 1024,
	}
}

func (s SandboxConfig) ExecutorConfig() executor.Config {
	return executor.Config{
		Image:     s.Image,
		MountPath: s.MountPath,
		User:      s.User,
		Limits:    s.Limits(),
	}
}

func (j JudgeConfig) Options() judge.Config {
	return judge.Config{
		MaxCodeLength:  j.MaxCodeLength,
		PersistRetries: j.PersistRetries,
		LegacyVerdicts: j.LegacyVerdicts,
		SweepInterval:  time.Duration(j.SweepIntervalSec) * time.Second,
		SweepBatch:     j.SweepBatch,
		StaleReceived:  time.Duration(j.StaleReceivedSec) * time.Second,
		StaleRunning:   time.Duration(j.StaleRunningSec) * time.Second,
	}
}

func getEnv(key, fallback string) string {
	if v, ok := os.LookupEnv(key); ok && strings.TrimSpace(v) != "" {
		return strings.TrimSpace(v)
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getEnvBool(key string, fallback bool) bool {
	v := getEnv(key, "")
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
