package judge

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/cenkalti/backoff/v5"
	"github.com/itstheanurag/codejudge/internal/executor"
	"github.com/itstheanurag/codejudge/internal/metrics"
	"github.com/itstheanurag/codejudge/internal/model"
	"github.com/itstheanurag/codejudge/internal/verdict"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

var (
	ErrInvalidSubmission = errors.New("invalid submission")
)

const notifyTimeout = 2 * time.Second

type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error {
	return ErrInvalidSubmission
}

// Store is the persistence the orchestrator needs. UpdateStatus must be a
// compare-and-set on the current status and report whether it applied.
type Store interface {
	CreateSubmission(ctx context.Context, sub *model.Submission) error
	GetSubmission(ctx context.Context, id int64) (*model.Submission, error)
	ListSubmissions(ctx context.Context, filter model.SubmissionFilter) ([]*model.Submission, error)
	UpdateStatus(ctx context.Context, id int64, from, to model.Status, reason string) (bool, error)
	GetProblem(ctx context.Context, id int64) (*model.Problem, error)
}

type Runner interface {
	Execute(ctx context.Context, opts executor.ExecuteOptions) executor.ExecutionResult
}

type Dispatcher interface {
	Dispatch(submissionID int64) error
}

type Notifier interface {
	Publish(ctx context.Context, event model.StatusEvent) error
}

type Config struct {
	MaxCodeLength  int
	PersistRetries uint
	PersistBackoff time.Duration
	LegacyVerdicts bool

	SweepInterval time.Duration
	SweepBatch    int
	StaleReceived time.Duration
	StaleRunning  time.Duration
}

type Judge struct {
	store      Store
	runner     Runner
	dispatcher Dispatcher
	notifier   Notifier
	conf       Config
	logger     *zerolog.Logger
	inflight   singleflight.Group
	now        func() time.Time
}

func New(store Store, runner Runner, dispatcher Dispatcher, notifier Notifier, conf Config, logger *zerolog.Logger) *Judge {
	if conf.PersistRetries == 0 {
		conf.PersistRetries = 1
	}
	if conf.PersistBackoff <= 0 {
		conf.PersistBackoff = 100 * time.Millisecond
	}
	return &Judge{
		store:      store,
		runner:     runner,
		dispatcher: dispatcher,
		notifier:   notifier,
		conf:       conf,
		logger:     logger,
		now:        time.Now,
	}
}

type SubmitRequest struct {
	Code      string
	ProblemID int64
	UserID    int64
}

func (j *Judge) validate(req SubmitRequest) error {
	if strings.TrimSpace(req.Code) == "" {
		return &ValidationError{Field: "code", Message: "must not be empty"}
	}
	if j.conf.MaxCodeLength > 0 && utf8.RuneCountInString(req.Code) > j.conf.MaxCodeLength {
		return &ValidationError{Field: "code", Message: fmt.Sprintf("must be at most %d characters", j.conf.MaxCodeLength)}
	}
	if req.ProblemID <= 0 {
		return &ValidationError{Field: "problem_id", Message: "is required"}
	}
	if req.UserID <= 0 {
		return &ValidationError{Field: "user_id", Message: "is required"}
	}
	return nil
}

// Submit persists the submission as Received and returns it. Grading happens
// later on a worker; Submit never runs code.
func (j *Judge) Submit(ctx context.Context, req SubmitRequest) (*model.Submission, error) {
	if err := j.validate(req); err != nil {
		return nil, err
	}

	now := j.now().UTC()
	sub := &model.Submission{
		UserID:      req.UserID,
		ProblemID:   req.ProblemID,
		Code:        req.Code,
		Status:      model.StatusReceived,
		SubmittedAt: now,
		UpdatedAt:   now,
	}
	if err := j.store.CreateSubmission(ctx, sub); err != nil {
		return nil, fmt.Errorf("failed to persist submission: %w", err)
	}
	metrics.SubmissionsTotal.Inc()

	out := *sub
	j.publish(sub)

	if err := j.dispatcher.Dispatch(sub.ID); err != nil {
		// The record is durable; the recovery sweep will dispatch it later.
		j.logger.Warn().Err(err).Int64("submission_id", sub.ID).Msg("submission not queued, deferring to recovery sweep")
	}

	return &out, nil
}

func (j *Judge) GetSubmission(ctx context.Context, id int64) (*model.Submission, error) {
	return j.store.GetSubmission(ctx, id)
}

func (j *Judge) ListSubmissions(ctx context.Context, filter model.SubmissionFilter) ([]*model.Submission, error) {
	return j.store.ListSubmissions(ctx, filter)
}

// Process grades one submission. Concurrent calls for the same id in this
// process share one run; across processes the Received -> Running
// compare-and-set admits a single grader.
func (j *Judge) Process(ctx context.Context, id int64) {
	_, _, _ = j.inflight.Do(strconv.FormatInt(id, 10), func() (any, error) {
		j.process(ctx, id)
		return nil, nil
	})
}

func (j *Judge) process(ctx context.Context, id int64) {
	logger := j.logger.With().Int64("submission_id", id).Logger()

	sub, err := j.store.GetSubmission(ctx, id)
	if errors.Is(err, model.ErrNotFound) {
		logger.Debug().Msg("submission gone before grading")
		return
	}
	if err != nil {
		logger.Error().Err(err).Msg("failed to load submission")
		return
	}
	if sub.Status != model.StatusReceived {
		logger.Debug().Str("status", string(sub.Status)).Msg("submission already claimed")
		return
	}

	ok, err := j.transition(ctx, sub, model.StatusRunning, "")
	if err != nil {
		logger.Error().Err(err).Msg("failed to mark submission running")
		return
	}
	if !ok {
		logger.Debug().Msg("submission claimed by another grader")
		return
	}

	startTime := time.Now()
	status, reason := j.grade(ctx, sub, &logger)

	ok, err = j.transition(ctx, sub, status, reason)
	if err != nil {
		logger.Error().Err(err).Str("status", string(status)).Msg("failed to persist verdict")
		return
	}
	if !ok {
		logger.Warn().Str("status", string(status)).Msg("verdict discarded, submission changed concurrently")
		return
	}

	metrics.VerdictsTotal.WithLabelValues(string(status)).Inc()
	metrics.GradingDuration.Observe(float64(time.Since(startTime).Milliseconds()))
	logger.Info().Str("status", string(status)).Str("reason", reason).Msg("submission graded")
}

func (j *Judge) grade(ctx context.Context, sub *model.Submission, logger *zerolog.Logger) (status model.Status, reason string) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error().Interface("panic", r).Msg("grading panicked")
			status, reason = model.StatusInfrastructureError, fmt.Sprintf("internal error: %v", r)
		}
	}()

	// Always re-read the problem by id; the submission only carries the reference.
	problem, err := j.store.GetProblem(ctx, sub.ProblemID)
	if errors.Is(err, model.ErrNotFound) {
		return model.StatusConfigurationError, "Problem not found"
	}
	if err != nil {
		logger.Error().Err(err).Msg("failed to load problem")
		return model.StatusInfrastructureError, fmt.Sprintf("failed to load problem: %v", err)
	}
	if !problem.HasTestCase() {
		return model.StatusConfigurationError, "Test case not configured"
	}

	opts := executor.ExecuteOptions{
		SourceCode: sub.Code,
		Stdin:      *problem.InputExample,
	}
	if problem.TimeLimitMs != nil {
		opts.TimeLimit = time.Duration(*problem.TimeLimitMs) * time.Millisecond
	}
	if problem.MemoryLimitMb != nil {
		opts.MemoryBytes = *problem.MemoryLimitMb << 20
	}

	res := j.runner.Execute(ctx, opts)
	logger.Debug().Str("outcome", string(res.Kind)).Int64("time_ms", res.TimeMs).Msg("execution finished")

	return j.decide(res, *problem.OutputExample)
}

func (j *Judge) decide(res executor.ExecutionResult, expected string) (model.Status, string) {
	if j.conf.LegacyVerdicts {
		return verdict.Compare(res.LegacyText(), expected), ""
	}

	switch res.Kind {
	case executor.KindOutput:
		return verdict.Compare(res.Output, expected), ""
	case executor.KindTimedOut:
		return model.StatusTimeLimitExceeded, ""
	case executor.KindRuntimeFailure:
		return model.StatusRuntimeError, res.Message
	default:
		return model.StatusInfrastructureError, res.Message
	}
}

// transition persists sub.Status -> to with compare-and-set, retrying
// transient store errors. On success sub is updated and an event published.
func (j *Judge) transition(ctx context.Context, sub *model.Submission, to model.Status, reason string) (bool, error) {
	from := sub.Status
	if !model.CanTransition(from, to) {
		return false, fmt.Errorf("illegal transition %s -> %s", from, to)
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = j.conf.PersistBackoff

	ok, err := backoff.Retry(ctx, func() (bool, error) {
		ok, err := j.store.UpdateStatus(ctx, sub.ID, from, to, reason)
		if errors.Is(err, model.ErrNotFound) {
			return false, backoff.Permanent(err)
		}
		return ok, err
	}, backoff.WithBackOff(b), backoff.WithMaxTries(j.conf.PersistRetries))
	if err != nil || !ok {
		return false, err
	}

	sub.Status = to
	sub.Reason = reason
	sub.UpdatedAt = j.now().UTC()
	j.publish(sub)
	return true, nil
}

func (j *Judge) publish(sub *model.Submission) {
	if j.notifier == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), notifyTimeout)
	defer cancel()

	err := j.notifier.Publish(ctx, model.StatusEvent{
		SubmissionID: sub.ID,
		UserID:       sub.UserID,
		ProblemID:    sub.ProblemID,
		Status:       sub.Status,
		Reason:       sub.Reason,
		At:           sub.UpdatedAt,
	})
	if err != nil {
		j.logger.Warn().Err(err).Int64("submission_id", sub.ID).Msg("failed to publish status event")
	}
}
