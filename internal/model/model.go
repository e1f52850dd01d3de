package model

import (
	"errors"
	"time"
)

var (
	ErrNotFound = errors.New("not found")
)

// Status is the lifecycle state of a submission. Error kinds carry their
// message in Submission.Reason, never in the status itself.
type Status string

const (
	StatusReceived            Status = "Received"
	StatusRunning             Status = "Running"
	StatusAccepted            Status = "Accepted"
	StatusWrongAnswer         Status = "Wrong Answer"
	StatusTimeLimitExceeded   Status = "Time Limit Exceeded"
	StatusRuntimeError        Status = "Runtime Error"
	StatusConfigurationError  Status = "Configuration Error"
	StatusInfrastructureError Status = "Infrastructure Error"
)

var allStatuses = []Status{
	StatusReceived,
	StatusRunning,
	StatusAccepted,
	StatusWrongAnswer,
	StatusTimeLimitExceeded,
	StatusRuntimeError,
	StatusConfigurationError,
	StatusInfrastructureError,
}

func ParseStatus(s string) (Status, bool) {
	for _, st := range allStatuses {
		if string(st) == s {
			return st, true
		}
	}
	return "", false
}

func (s Status) IsTerminal() bool {
	switch s {
	case StatusAccepted,
		StatusWrongAnswer,
		StatusTimeLimitExceeded,
		StatusRuntimeError,
		StatusConfigurationError,
		StatusInfrastructureError:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is an edge of the state machine:
// Received -> Running -> terminal.
func CanTransition(from, to Status) bool {
	switch from {
	case StatusReceived:
		return to == StatusRunning
	case StatusRunning:
		return to.IsTerminal()
	}
	return false
}

type Submission struct {
	ID          int64     `json:"id"`
	UserID      int64     `json:"user_id"`
	ProblemID   int64     `json:"problem_id"`
	Code        string    `json:"code"`
	Status      Status    `json:"status"`
	Reason      string    `json:"reason,omitempty"`
	SubmittedAt time.Time `json:"submitted_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

// Problem is the subset of the problem entity needed for grading.
// A nil example means the test case was never configured.
type Problem struct {
	ID            int64   `json:"id" yaml:"id"`
	Title         string  `json:"title" yaml:"title"`
	Description   string  `json:"description,omitempty" yaml:"description,omitempty"`
	InputExample  *string `json:"input_example,omitempty" yaml:"input_example,omitempty"`
	OutputExample *string `json:"output_example,omitempty" yaml:"output_example,omitempty"`
	TimeLimitMs   *int64  `json:"time_limit_ms,omitempty" yaml:"time_limit_ms,omitempty"`
	MemoryLimitMb *int64  `json:"memory_limit_mb,omitempty" yaml:"memory_limit_mb,omitempty"`
}

func (p *Problem) HasTestCase() bool {
	return p.InputExample != nil && p.OutputExample != nil
}

type SubmissionFilter struct {
	UserID        int64
	ProblemID     int64
	Status        Status
	UpdatedBefore time.Time
	Limit         int
}

// StatusEvent is emitted after every persisted transition.
type StatusEvent struct {
	SubmissionID int64     `json:"submission_id"`
	UserID       int64     `json:"user_id"`
	ProblemID    int64     `json:"problem_id"`
	Status       Status    `json:"status"`
	Reason       string    `json:"reason,omitempty"`
	At           time.Time `json:"at"`
}
