package report

import (
	"context"
	"log/slog"
	"os"
)

// teeHandler sends every record to the console text handler and the run
// directory's JSON handler. Enabled defers to either side so raising the
// level on one destination does not silence the other.
type teeHandler struct {
	console slog.Handler
	file    slog.Handler
}

func (t *teeHandler) Enabled(ctx context.Context, level slog.Level) bool {
	return t.console.Enabled(ctx, level) || t.file.Enabled(ctx, level)
}

func (t *teeHandler) Handle(ctx context.Context, r slog.Record) error {
	if err := t.console.Handle(ctx, r); err != nil {
		return err
	}
	// Records are single-use; the second handler gets its own copy.
	return t.file.Handle(ctx, r.Clone())
}

func (t *teeHandler) WithAttrs(attrs []slog.Attr) slog.Handler {
	return &teeHandler{
		console: t.console.WithAttrs(attrs),
		file:    t.file.WithAttrs(attrs),
	}
}

func (t *teeHandler) WithGroup(name string) slog.Handler {
	return &teeHandler{
		console: t.console.WithGroup(name),
		file:    t.file.WithGroup(name),
	}
}

// SetupLogger creates a logger writing text to stdout and JSON to the run
// log file. The caller owns closing the returned file.
func SetupLogger(runDir *RunDir, logLevel slog.Level) (*slog.Logger, *os.File, error) {
	logFile, err := os.OpenFile(runDir.LogPath(), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return nil, nil, err
	}

	opts := &slog.HandlerOptions{Level: logLevel}
	logger := slog.New(&teeHandler{
		console: slog.NewTextHandler(os.Stdout, opts),
		file:    slog.NewJSONHandler(logFile, opts),
	})

	return logger, logFile, nil
}
