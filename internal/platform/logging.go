package platform

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/nats-io/nats-server/v2/server"
)

// InitLogger installs the process-wide JSON logger on stdout. Child output
// logged by the executor shares this stream, so every record carries the
// service name for filtering.
func InitLogger(level slog.Level) {
	slog.SetDefault(newLogger(os.Stdout, level))
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	handler := slog.NewJSONHandler(w, &slog.HandlerOptions{AddSource: true, Level: level})
	return slog.New(handler).With("service", "cmdrunner")
}

// natsLogger routes embedded server output into slog. The server only backs
// execution history, so its routine notices are demoted to debug and the
// fatal path is tagged so it stands out next to execution records.
type natsLogger struct {
	logger *slog.Logger
}

// NewNATSServerLogger adapts logger to the nats-server Logger interface.
func NewNATSServerLogger(logger *slog.Logger) server.Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &natsLogger{logger: logger.With("component", "nats")}
}

func (l *natsLogger) logf(level slog.Level, format string, v []any, attrs ...any) {
	ctx := context.Background()
	if !l.logger.Enabled(ctx, level) {
		return
	}
	l.logger.Log(ctx, level, fmt.Sprintf(format, v...), attrs...)
}

func (l *natsLogger) Noticef(format string, v ...any) { l.logf(slog.LevelDebug, format, v) }
func (l *natsLogger) Warnf(format string, v ...any)   { l.logf(slog.LevelWarn, format, v) }
func (l *natsLogger) Errorf(format string, v ...any)  { l.logf(slog.LevelError, format, v) }
func (l *natsLogger) Fatalf(format string, v ...any) {
	l.logf(slog.LevelError, format, v, "fatal", true)
}
func (l *natsLogger) Debugf(format string, v ...any) { l.logf(slog.LevelDebug, format, v) }
func (l *natsLogger) Tracef(format string, v ...any) {
	l.logf(slog.LevelDebug, format, v, "trace", true)
}
