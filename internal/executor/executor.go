package executor

import (
	"context"
	"fmt"
	"strings"
	"time"
	"unicode"

	"github.com/itstheanurag/codejudge/internal/metrics"
	"github.com/itstheanurag/codejudge/internal/sandbox"
	"github.com/itstheanurag/codejudge/internal/workspace"
	"github.com/rs/zerolog"
)

type Kind string

const (
	KindOutput                Kind = "output"
	KindTimedOut              Kind = "timed_out"
	KindRuntimeFailure        Kind = "runtime_failure"
	KindInfrastructureFailure Kind = "infrastructure_failure"
)

// ExecutionResult is exactly one of Output(text), TimedOut,
// RuntimeFailure(message) or InfrastructureFailure(message).
type ExecutionResult struct {
	Kind      Kind
	Output    string // KindOutput only
	Message   string // KindRuntimeFailure, KindInfrastructureFailure
	TimeMs    int64
	Truncated bool // Output was cut at the sandbox output cap
}

// LegacyText renders the result the way the first version of the grader
// did: everything flattened into one string.
func (r ExecutionResult) LegacyText() string {
	switch r.Kind {
	case KindOutput:
		return r.Output
	case KindTimedOut:
		return "Time Limit Exceeded"
	case KindRuntimeFailure:
		return "Runtime Error: " + r.Message
	default:
		return "Execution Error: " + r.Message
	}
}

type Config struct {
	Image     string
	MountPath string
	User      string
	Limits    sandbox.Limits
}

type Executor struct {
	workspaces *workspace.Manager
	sandbox    sandbox.Sandbox
	conf       Config
	logger     *zerolog.Logger
}

func NewExecutor(workspaces *workspace.Manager, sb sandbox.Sandbox, conf Config, logger *zerolog.Logger) *Executor {
	return &Executor{
		workspaces: workspaces,
		sandbox:    sb,
		conf:       conf,
		logger:     logger,
	}
}

type ExecuteOptions struct {
	SourceCode string
	Stdin      string

	// Zero means the executor default.
	TimeLimit   time.Duration
	MemoryBytes int64
}

func (e *Executor) Limits(opts ExecuteOptions) sandbox.Limits {
	limits := e.conf.Limits
	if opts.TimeLimit > 0 {
		limits.TimeLimit = opts.TimeLimit
	}
	if opts.MemoryBytes > 0 {
		limits.MemoryBytes = opts.MemoryBytes
	}
	return limits
}

func (e *Executor) Execute(ctx context.Context, opts ExecuteOptions) ExecutionResult {
	startTime := time.Now()
	res := e.execute(ctx, opts)

	metrics.ExecutionsTotal.WithLabelValues(string(res.Kind)).Inc()
	metrics.ExecutionDuration.WithLabelValues(string(res.Kind)).Observe(float64(time.Since(startTime).Milliseconds()))

	if res.Kind == KindInfrastructureFailure {
		e.logger.Error().Str("message", res.Message).Msg("sandbox infrastructure failure")
	}
	return res
}

func (e *Executor) execute(ctx context.Context, opts ExecuteOptions) ExecutionResult {
	ws, err := e.workspaces.Acquire()
	if err != nil {
		return infrastructureFailure(err)
	}
	defer func() {
		if err := ws.Release(); err != nil {
			metrics.WorkspaceCleanupFailures.Inc()
			e.logger.Error().Err(err).Str("workspace", ws.Dir()).Msg("failed to release workspace")
		}
	}()

	if err := ws.WriteSource(opts.SourceCode); err != nil {
		return infrastructureFailure(err)
	}
	if opts.Stdin != "" {
		if err := ws.WriteInput(opts.Stdin); err != nil {
			return infrastructureFailure(err)
		}
	}

	res, err := e.sandbox.Run(ctx, sandbox.RunConfig{
		Image:        e.conf.Image,
		WorkspaceDir: ws.Dir(),
		MountPath:    e.conf.MountPath,
		SourceFile:   ws.SourceFile(),
		User:         e.conf.User,
		Stdin:        opts.Stdin,
		HasStdin:     ws.HasInput(),
		Limits:       e.Limits(opts),
	})
	if err != nil {
		return infrastructureFailure(fmt.Errorf("sandbox execution failed: %w", err))
	}
	if res.Truncated {
		e.logger.Warn().
			Str("workspace", ws.Dir()).
			Int64("max_output_bytes", e.conf.Limits.MaxOutputBytes).
			Msg("program output truncated")
	}

	return classify(res)
}

func classify(res *sandbox.Result) ExecutionResult {
	switch {
	case res.TimedOut:
		return ExecutionResult{Kind: KindTimedOut, TimeMs: res.TimeMs}
	case res.ExitCode != 0:
		return ExecutionResult{
			Kind:    KindRuntimeFailure,
			Message: strings.TrimSpace(res.Stderr),
			TimeMs:  res.TimeMs,
		}
	default:
		return ExecutionResult{
			Kind:      KindOutput,
			Output:    strings.TrimRightFunc(res.Stdout, unicode.IsSpace),
			TimeMs:    res.TimeMs,
			Truncated: res.Truncated,
		}
	}
}

func infrastructureFailure(err error) ExecutionResult {
	return ExecutionResult{Kind: KindInfrastructureFailure, Message: err.Error()}
}
