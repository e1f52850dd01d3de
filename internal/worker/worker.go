package worker

import (
	"context"
	"sync"
	"time"

	"github.com/itstheanurag/codejudge/internal/metrics"
	"github.com/itstheanurag/codejudge/internal/queue"
	"github.com/rs/zerolog"
)

type Processor interface {
	Process(ctx context.Context, submissionID int64)
}

// Worker grades one submission at a time. The number of workers is the cap
// on concurrently running sandboxes.
type Worker struct {
	id        int
	processor Processor
	manager   *queue.Manager
	logger    *zerolog.Logger
}

func NewWorker(id int, processor Processor, manager *queue.Manager, logger *zerolog.Logger) *Worker {
	return &Worker{
		id:        id,
		processor: processor,
		manager:   manager,
		logger:    logger,
	}
}

// Start takes jobs until ctx is cancelled. Each job runs under jobCtx, so a
// submission already picked up is graded to the end when ctx goes away.
func (w *Worker) Start(ctx, jobCtx context.Context) {
	w.logger.Info().Int("worker_id", w.id).Msg("worker started")
	for {
		select {
		case job := <-w.manager.NextJob():
			w.manager.UpdateQueueMetric()
			metrics.ActiveWorkers.Inc()
			w.processJob(jobCtx, job)
			metrics.ActiveWorkers.Dec()
		case <-ctx.Done():
			w.logger.Info().Int("worker_id", w.id).Msg("worker stopping")
			return
		}
	}
}

func (w *Worker) processJob(ctx context.Context, job *queue.Job) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Error().Int("worker_id", w.id).Int64("submission_id", job.SubmissionID).
				Interface("panic", r).Msg("job panicked")
		}
	}()

	w.logger.Debug().
		Int("worker_id", w.id).
		Int64("submission_id", job.SubmissionID).
		Dur("queued_for", time.Since(job.EnqueuedAt)).
		Msg("processing job")

	w.processor.Process(ctx, job.SubmissionID)
}

// Pool starts n workers over one queue.
type Pool struct {
	workers []*Worker
	wg      sync.WaitGroup
	abort   context.CancelFunc
}

func NewPool(n int, processor Processor, manager *queue.Manager, logger *zerolog.Logger) *Pool {
	workers := make([]*Worker, n)
	for i := 0; i < n; i++ {
		workers[i] = NewWorker(i, processor, manager, logger)
	}
	return &Pool{workers: workers}
}

func (p *Pool) Size() int {
	return len(p.workers)
}

// Start runs the workers until ctx is cancelled. In-flight jobs keep their
// own context and are only cancelled by Abort.
func (p *Pool) Start(ctx context.Context) {
	jobCtx, abort := context.WithCancel(context.WithoutCancel(ctx))
	p.abort = abort
	for _, w := range p.workers {
		p.wg.Add(1)
		go func(w *Worker) {
			defer p.wg.Done()
			w.Start(ctx, jobCtx)
		}(w)
	}
}

// Abort cancels the jobs currently being processed.
func (p *Pool) Abort() {
	if p.abort != nil {
		p.abort()
	}
}

// Wait blocks until every worker has returned.
func (p *Pool) Wait() {
	p.wg.Wait()
}
