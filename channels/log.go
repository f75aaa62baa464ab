package channels

import (
	"context"
	"encoding/json"
	"log/slog"
)

// LogNotifier writes the digest to the structured log. It is the fallback
// when no channel is configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier returns a LogNotifier; nil logger means slog.Default().
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogNotifier{logger: logger}
}

func logFactory(_ string, _ json.RawMessage, o *options) (Notifier, error) {
	return &LogNotifier{logger: o.logger}, nil
}

func (l *LogNotifier) Notify(ctx context.Context, d Digest) error {
	l.logger.InfoContext(ctx, "channels: digest",
		"subject", d.Subject,
		"experiment_id", d.ExperimentID,
		"actions", d.Actions,
	)
	return nil
}
