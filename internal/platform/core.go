package platform

import (
	"context"
	"log/slog"
	"time"

	"cmdrunner/internal/messages"
	"cmdrunner/internal/runtime"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// storeTimeout bounds the KV write made when an execution finishes.
const storeTimeout = 5 * time.Second

// Bus forwards execution progress to NATS and keeps final results in the
// executions bucket. It implements runtime.ProgressSink.
type Bus struct {
	publisher *messages.Publisher
	store     *messages.ResultStore
	logger    *slog.Logger
}

// SetupBus creates the EXEC stream and executions bucket on nc's JetStream.
func SetupBus(ctx context.Context, nc *nats.Conn) (*Bus, error) {
	js, err := jetstream.New(nc)
	if err != nil {
		return nil, err
	}
	kv, err := messages.EnsureExecResources(ctx, js)
	if err != nil {
		return nil, err
	}
	slog.Info("Stream and KV bucket ready", "stream", messages.ExecStreamName, "bucket", messages.ExecutionsBucket)
	return &Bus{
		publisher: messages.NewPublisher(nc),
		store:     messages.NewResultStore(kv),
		logger:    slog.Default().With("component", "bus"),
	}, nil
}

// Store returns the result store, or nil when b is nil.
func (b *Bus) Store() *messages.ResultStore {
	if b == nil {
		return nil
	}
	return b.store
}

func (b *Bus) Started(ex runtime.Execution) {
	evt := messages.NewExecStartedEvent(string(ex.Kind), ex.ID, ex.Target, ex.Dir, ex.PID)
	if err := b.publisher.PublishEvent(evt); err != nil {
		b.logger.Warn("publish started", "id", ex.ID, "err", err)
	}
}

func (b *Bus) Output(ex runtime.Execution, stream runtime.Stream, chunk []byte) {
	evt := messages.NewExecOutputEvent(string(ex.Kind), ex.ID, string(stream), string(chunk))
	if err := b.publisher.PublishEvent(evt); err != nil {
		b.logger.Warn("publish output", "id", ex.ID, "stream", stream, "err", err)
	}
}

func (b *Bus) Exited(ex runtime.Execution, res *runtime.Result) {
	rec := recordFromResult(res)
	if err := b.publisher.PublishEvent(messages.NewExecExitEvent(rec)); err != nil {
		b.logger.Warn("publish exit", "id", ex.ID, "err", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), storeTimeout)
	defer cancel()
	if err := b.store.Put(ctx, rec); err != nil {
		b.logger.Warn("store result", "id", ex.ID, "err", err)
	}
}

// recordFromResult converts an executor result into its stored form.
func recordFromResult(res *runtime.Result) messages.ExecutionRecord {
	return messages.ExecutionRecord{
		ID:         res.ID,
		Kind:       string(res.Kind),
		Target:     res.Target,
		Dir:        res.Dir,
		Success:    res.Success,
		Output:     res.Stdout,
		Error:      res.Stderr,
		ExitCode:   res.ExitCode,
		Message:    res.Message,
		StartedAt:  res.StartedAt,
		FinishedAt: res.FinishedAt,
	}
}

// NewExecutor builds the command executor for cfg. Progress always goes to
// the log; when bus is non-nil it is published as well.
func NewExecutor(cfg *AppConfig, bus *Bus) *runtime.Executor {
	sinks := runtime.MultiSink{runtime.NewLogSink(slog.Default().With("component", "executor"))}
	if bus != nil {
		sinks = append(sinks, bus)
	}
	return runtime.NewExecutor(*cfg.ExecCfg, sinks)
}
