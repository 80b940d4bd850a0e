package runtime

import (
	"bufio"
	"bytes"
	"context"
	"log/slog"
)

// Stream names one of the child's output pipes.
type Stream string

const (
	StreamStdout Stream = "stdout"
	StreamStderr Stream = "stderr"
)

// Execution describes a spawned child process.
type Execution struct {
	ID     string
	Kind   Kind
	Target string // script name or raw command
	Dir    string
	PID    int
}

// ProgressSink observes an execution while it runs. Implementations must not
// block for long: Output is called from the pipe copy goroutines.
type ProgressSink interface {
	Started(ex Execution)
	Output(ex Execution, stream Stream, chunk []byte)
	Exited(ex Execution, res *Result)
}

// NopSink discards all progress.
type NopSink struct{}

func (NopSink) Started(Execution)                {}
func (NopSink) Output(Execution, Stream, []byte) {}
func (NopSink) Exited(Execution, *Result)        {}

// MultiSink fans progress out to several sinks in order.
type MultiSink []ProgressSink

func (m MultiSink) Started(ex Execution) {
	for _, s := range m {
		s.Started(ex)
	}
}

func (m MultiSink) Output(ex Execution, stream Stream, chunk []byte) {
	for _, s := range m {
		s.Output(ex, stream, chunk)
	}
}

func (m MultiSink) Exited(ex Execution, res *Result) {
	for _, s := range m {
		s.Exited(ex, res)
	}
}

// LogSink writes child output to a slog.Logger line by line.
type LogSink struct {
	Logger *slog.Logger
}

// NewLogSink returns a LogSink that falls back to slog.Default().
func NewLogSink(logger *slog.Logger) *LogSink {
	if logger == nil {
		logger = slog.Default()
	}
	return &LogSink{Logger: logger}
}

func (s *LogSink) Started(ex Execution) {
	s.Logger.Info("🚀 Executing", "id", ex.ID, "kind", ex.Kind, "target", ex.Target, "dir", ex.Dir, "pid", ex.PID)
}

func (s *LogSink) Output(ex Execution, stream Stream, chunk []byte) {
	level := slog.LevelInfo
	if stream == StreamStderr {
		level = slog.LevelWarn
	}
	sc := bufio.NewScanner(bytes.NewReader(chunk))
	sc.Buffer(make([]byte, 0, 64*1024), len(chunk)+1)
	for sc.Scan() {
		s.Logger.Log(context.Background(), level, sc.Text(), "id", ex.ID, "stream", stream)
	}
}

func (s *LogSink) Exited(ex Execution, res *Result) {
	if res.Success {
		s.Logger.Info("Execution finished", "id", ex.ID, "kind", ex.Kind, "exitCode", res.ExitCode, "duration", res.Duration())
		return
	}
	s.Logger.Error("Execution failed", "id", ex.ID, "kind", ex.Kind, "exitCode", res.ExitCode, "message", res.Message, "duration", res.Duration())
}
