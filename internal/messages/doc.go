// Package messages provides the NATS contracts for execution events.
//
// Every spawned child process produces a small lifecycle on the bus:
//
//   - event.exec.<kind>.<id>.started  once the process is running
//   - event.exec.<kind>.<id>.stdout   one event per output chunk
//   - event.exec.<kind>.<id>.stderr   one event per output chunk
//   - event.exec.<kind>.<id>.exit     the final ExecutionRecord
//
// All subjects live under event.exec.> and are captured by the EXEC
// JetStream stream. The final record is also kept in the "executions"
// key-value bucket so it can be fetched by id afterwards.
//
// # Usage Example
//
//	publisher := messages.NewPublisher(nc)
//	evt := messages.NewExecOutputEvent("command", id, "stdout", "hi\n")
//	if err := publisher.PublishEvent(evt); err != nil {
//	    slog.Warn("publish", "err", err)
//	}
//
// Publishing is best effort: the executor never waits on the bus.
package messages
