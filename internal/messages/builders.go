package messages

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// =============================================================================
// CONSTRUCTORS - Easy message creation
// =============================================================================

// NewExecStartedEvent creates an exec started event
func NewExecStartedEvent(kind, execID, target, dir string, pid int) *ExecStartedEvent {
	return &ExecStartedEvent{
		ExecID:    execID,
		Kind:      kind,
		Target:    target,
		Dir:       dir,
		PID:       pid,
		StartedAt: time.Now(),
	}
}

// NewExecOutputEvent creates an exec output event
func NewExecOutputEvent(kind, execID, stream, data string) *ExecOutputEvent {
	return &ExecOutputEvent{
		ExecID:    execID,
		Kind:      kind,
		Stream:    stream,
		Data:      data,
		EmittedAt: time.Now(),
	}
}

// NewExecExitEvent creates an exec exit event
func NewExecExitEvent(rec ExecutionRecord) *ExecExitEvent {
	return &ExecExitEvent{Record: rec, ExitedAt: time.Now()}
}

// =============================================================================
// PUBLISHER - Type-safe message publishing
// =============================================================================

// Publisher publishes events over core NATS. Publish only buffers in the
// client, so it never waits on the server; the EXEC stream captures them.
type Publisher struct {
	nc *nats.Conn
}

// NewPublisher creates a new type-safe publisher
func NewPublisher(nc *nats.Conn) *Publisher {
	return &Publisher{nc: nc}
}

// PublishEvent publishes an event with validation
func (p *Publisher) PublishEvent(evt Event) error {
	if err := evt.Validate(); err != nil {
		return fmt.Errorf("event validation failed: %w", err)
	}

	data, err := json.Marshal(evt)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	if err := p.nc.Publish(evt.Subject(), data); err != nil {
		return fmt.Errorf("publish event: %w", err)
	}
	return nil
}

// =============================================================================
// RESULT STORE - execution history in JetStream KV
// =============================================================================

// ErrRecordNotFound is returned by ResultStore.Get for unknown ids.
var ErrRecordNotFound = errors.New("execution record not found")

// ResultStore keeps the final record of each execution.
type ResultStore struct {
	kv jetstream.KeyValue
}

// NewResultStore wraps an existing key-value bucket.
func NewResultStore(kv jetstream.KeyValue) *ResultStore {
	return &ResultStore{kv: kv}
}

// Put stores rec under rec.ID.
func (s *ResultStore) Put(ctx context.Context, rec ExecutionRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal record: %w", err)
	}
	if _, err := s.kv.Put(ctx, rec.ID, data); err != nil {
		return fmt.Errorf("put record %s: %w", rec.ID, err)
	}
	return nil
}

// Get loads the record stored under id.
func (s *ResultStore) Get(ctx context.Context, id string) (*ExecutionRecord, error) {
	entry, err := s.kv.Get(ctx, id)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) || errors.Is(err, jetstream.ErrInvalidKey) {
			return nil, ErrRecordNotFound
		}
		return nil, fmt.Errorf("get record %s: %w", id, err)
	}
	var rec ExecutionRecord
	if err := json.Unmarshal(entry.Value(), &rec); err != nil {
		return nil, fmt.Errorf("decode record %s: %w", id, err)
	}
	return &rec, nil
}

// =============================================================================
// SETUP - JetStream resources
// =============================================================================

// EnsureExecResources creates the EXEC stream and the executions bucket.
func EnsureExecResources(ctx context.Context, js jetstream.JetStream) (jetstream.KeyValue, error) {
	_, err := js.CreateOrUpdateStream(ctx, jetstream.StreamConfig{
		Name:     ExecStreamName,
		Subjects: []string{ExecSubjectPrefix},
		Storage:  jetstream.FileStorage,
		MaxAge:   24 * time.Hour,
	})
	if err != nil {
		return nil, fmt.Errorf("create %s stream: %w", ExecStreamName, err)
	}
	kv, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:  ExecutionsBucket,
		History: 1,
		TTL:     24 * time.Hour,
		Storage: jetstream.FileStorage,
	})
	if err != nil {
		return nil, fmt.Errorf("create %s bucket: %w", ExecutionsBucket, err)
	}
	return kv, nil
}
