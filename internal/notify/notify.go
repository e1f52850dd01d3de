package notify

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/itstheanurag/codejudge/internal/model"
	"github.com/rs/zerolog"
)

type Notifier interface {
	Publish(ctx context.Context, event model.StatusEvent) error
	Close() error
}

func encodeEvent(ev model.StatusEvent) ([]byte, error) {
	return json.Marshal(ev)
}

// LogNotifier writes events to the log. Used when no broker is configured.
type LogNotifier struct {
	logger *zerolog.Logger
}

func NewLogNotifier(logger *zerolog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Publish(_ context.Context, ev model.StatusEvent) error {
	n.logger.Debug().
		Int64("submission_id", ev.SubmissionID).
		Str("status", string(ev.Status)).
		Str("reason", ev.Reason).
		Msg("status changed")
	return nil
}

func (n *LogNotifier) Close() error { return nil }

// Fanout publishes to every notifier and joins their errors.
type Fanout []Notifier

func (f Fanout) Publish(ctx context.Context, ev model.StatusEvent) error {
	var errs []error
	for _, n := range f {
		if err := n.Publish(ctx, ev); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (f Fanout) Close() error {
	var errs []error
	for _, n := range f {
		if err := n.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
