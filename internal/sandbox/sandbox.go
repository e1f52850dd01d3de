package sandbox

import (
	"bytes"
	"context"
	"time"
)

// Limits bound a single sandboxed execution.
type Limits struct {
	TimeLimit      time.Duration // wall clock, measured from launch
	GracePeriod    time.Duration // between graceful and forced termination
	MemoryBytes    int64
	CPUs           float64
	PidsLimit      int64
	MaxOutputBytes int64
}

type RunConfig struct {
	Image        string
	WorkspaceDir string // host directory, mounted read-only
	MountPath    string // where WorkspaceDir appears inside the sandbox
	SourceFile   string
	User         string
	Stdin        string
	HasStdin     bool
	Limits       Limits
}

// Result is the raw process outcome. TimedOut results carry no exit code.
// Truncated reports that stdout or stderr went past MaxOutputBytes.
type Result struct {
	Stdout    string
	Stderr    string
	ExitCode  int
	TimedOut  bool
	TimeMs    int64
	Truncated bool
}

type Sandbox interface {
	Run(ctx context.Context, config RunConfig) (*Result, error)
	EnsureImage(ctx context.Context, image string) error
}

// cappedBuffer keeps the first limit bytes and silently drops the rest, so a
// chatty program cannot exhaust memory or stall its own pipe.
type cappedBuffer struct {
	buf       bytes.Buffer
	limit     int64
	truncated bool
}

func newCappedBuffer(limit int64) *cappedBuffer {
	return &cappedBuffer{limit: limit}
}

func (b *cappedBuffer) Write(p []byte) (int, error) {
	if b.limit <= 0 {
		return b.buf.Write(p)
	}
	room := b.limit - int64(b.buf.Len())
	if room <= 0 {
		b.truncated = true
		return len(p), nil
	}
	if int64(len(p)) > room {
		b.buf.Write(p[:room])
		b.truncated = true
		return len(p), nil
	}
	return b.buf.Write(p)
}

func (b *cappedBuffer) String() string {
	return b.buf.String()
}
