package judge

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/itstheanurag/codejudge/internal/metrics"
	"github.com/itstheanurag/codejudge/internal/model"
)

const abandonedReason = "grading abandoned"

// RunSweeper calls Sweep every SweepInterval until ctx is done.
func (j *Judge) RunSweeper(ctx context.Context) {
	if j.conf.SweepInterval <= 0 {
		return
	}
	ticker := time.NewTicker(j.conf.SweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.Sweep(ctx); err != nil {
				j.logger.Error().Err(err).Msg("recovery sweep failed")
			}
		}
	}
}

// Sweep re-dispatches Received submissions nobody picked up (queue overflow,
// restart) and fails Running submissions whose grader went away.
func (j *Judge) Sweep(ctx context.Context) error {
	now := j.now()

	if j.conf.StaleReceived > 0 {
		received, err := j.store.ListSubmissions(ctx, model.SubmissionFilter{
			Status:        model.StatusReceived,
			UpdatedBefore: now.Add(-j.conf.StaleReceived),
			Limit:         j.conf.SweepBatch,
		})
		if err != nil {
			return fmt.Errorf("failed to list stale received submissions: %w", err)
		}
		for _, sub := range received {
			if err := j.dispatcher.Dispatch(sub.ID); err != nil {
				j.logger.Warn().Err(err).Msg("queue still full, stopping redispatch")
				break
			}
			metrics.RecoveredSubmissions.WithLabelValues("redispatched").Inc()
		}
	}

	if j.conf.StaleRunning > 0 {
		running, err := j.store.ListSubmissions(ctx, model.SubmissionFilter{
			Status:        model.StatusRunning,
			UpdatedBefore: now.Add(-j.conf.StaleRunning),
			Limit:         j.conf.SweepBatch,
		})
		if err != nil {
			return fmt.Errorf("failed to list stale running submissions: %w", err)
		}
		for _, sub := range running {
			abandoned, err := j.abandoned(ctx, sub, now)
			if err != nil {
				return err
			}
			if !abandoned {
				continue
			}
			ok, err := j.transition(ctx, sub, model.StatusInfrastructureError, abandonedReason)
			if err != nil {
				return fmt.Errorf("failed to fail abandoned submission %d: %w", sub.ID, err)
			}
			if ok {
				metrics.RecoveredSubmissions.WithLabelValues("abandoned").Inc()
				j.logger.Warn().Int64("submission_id", sub.ID).Msg("abandoned submission failed")
			}
		}
	}

	return nil
}

// abandoned reports whether a Running submission has outlived its problem's
// time limit plus StaleRunning. The listing only applies StaleRunning.
func (j *Judge) abandoned(ctx context.Context, sub *model.Submission, now time.Time) (bool, error) {
	threshold := j.conf.StaleRunning
	problem, err := j.store.GetProblem(ctx, sub.ProblemID)
	switch {
	case errors.Is(err, model.ErrNotFound):
	case err != nil:
		return false, fmt.Errorf("failed to load problem %d for submission %d: %w", sub.ProblemID, sub.ID, err)
	case problem.TimeLimitMs != nil:
		threshold += time.Duration(*problem.TimeLimitMs) * time.Millisecond
	}
	return now.Sub(sub.UpdatedAt) >= threshold, nil
}
