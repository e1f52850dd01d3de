package queue

import (
	"errors"
	"time"

	"github.com/itstheanurag/codejudge/internal/metrics"
)

var ErrQueueFull = errors.New("job queue is full")

type Job struct {
	SubmissionID int64
	EnqueuedAt   time.Time
}

// Manager is a bounded FIFO of grading jobs. Submission never blocks: a full
// queue is reported to the caller instead.
type Manager struct {
	jobQueue chan *Job
}

func NewManager(capacity int) *Manager {
	return &Manager{
		jobQueue: make(chan *Job, capacity),
	}
}

func (m *Manager) Submit(job *Job) error {
	select {
	case m.jobQueue <- job:
		m.UpdateQueueMetric()
		return nil
	default:
		metrics.QueueRejections.Inc()
		return ErrQueueFull
	}
}

func (m *Manager) Dispatch(submissionID int64) error {
	return m.Submit(&Job{SubmissionID: submissionID, EnqueuedAt: time.Now()})
}

func (m *Manager) NextJob() <-chan *Job {
	return m.jobQueue
}

func (m *Manager) Len() int {
	return len(m.jobQueue)
}

func (m *Manager) UpdateQueueMetric() {
	metrics.QueueDepth.Set(float64(len(m.jobQueue)))
}
