package messages

import (
	"fmt"
	"time"

	"cmdrunner/util"
)

// =============================================================================
// CORE INTERFACES
// =============================================================================

// Message represents any message in the system
type Message interface {
	Subject() string
	Validate() error
}

// Event represents something that has happened
type Event interface {
	Message
	IsEvent()
	Timestamp() time.Time
}

// =============================================================================
// SUBJECT CONSTANTS - Single source of truth for all subjects
// =============================================================================

const (
	// ExecSubjectPrefix is bound to the EXEC stream.
	ExecSubjectPrefix = "event.exec.>"

	ExecStartedSubjectPattern = "event.exec.*.*.started" // kind, exec id
	ExecStdoutSubjectPattern  = "event.exec.*.*.stdout"
	ExecStderrSubjectPattern  = "event.exec.*.*.stderr"
	ExecExitSubjectPattern    = "event.exec.*.*.exit"

	// ExecStreamName and ExecutionsBucket name the JetStream resources.
	ExecStreamName   = "EXEC"
	ExecutionsBucket = "executions"
)

// =============================================================================
// EXECUTION DOMAIN - EVENTS
// =============================================================================

// ExecStartedEvent indicates a child process was spawned
type ExecStartedEvent struct {
	ExecID    string    `json:"exec_id"`
	Kind      string    `json:"kind"`
	Target    string    `json:"target"`
	Dir       string    `json:"dir"`
	PID       int       `json:"pid"`
	StartedAt time.Time `json:"started_at"`
}

func (e ExecStartedEvent) Subject() string {
	return ExecStartedSubject(e.Kind, e.ExecID)
}
func (e ExecStartedEvent) IsEvent()             {}
func (e ExecStartedEvent) Timestamp() time.Time { return e.StartedAt }
func (e ExecStartedEvent) Validate() error {
	return validateSubject(ExecStartedSubjectPattern, e.Kind, e.ExecID, e.Subject())
}

// ExecOutputEvent carries a chunk of stdout/stderr from a running child
type ExecOutputEvent struct {
	ExecID    string    `json:"exec_id"`
	Kind      string    `json:"kind"`
	Stream    string    `json:"stream"` // "stdout" | "stderr"
	Data      string    `json:"data"`
	EmittedAt time.Time `json:"emitted_at"`
}

func (e ExecOutputEvent) Subject() string {
	return fmt.Sprintf("event.exec.%s.%s.%s", e.Kind, e.ExecID, e.Stream)
}
func (e ExecOutputEvent) IsEvent()             {}
func (e ExecOutputEvent) Timestamp() time.Time { return e.EmittedAt }
func (e ExecOutputEvent) Validate() error {
	switch e.Stream {
	case "stdout":
		return validateSubject(ExecStdoutSubjectPattern, e.Kind, e.ExecID, e.Subject())
	case "stderr":
		return validateSubject(ExecStderrSubjectPattern, e.Kind, e.ExecID, e.Subject())
	default:
		return fmt.Errorf("stream must be 'stdout' or 'stderr', got %q", e.Stream)
	}
}

// ExecExitEvent indicates a child process has terminated (or never started)
type ExecExitEvent struct {
	Record   ExecutionRecord `json:"record"`
	ExitedAt time.Time       `json:"exited_at"`
}

func (e ExecExitEvent) Subject() string {
	return ExecExitSubject(e.Record.Kind, e.Record.ID)
}
func (e ExecExitEvent) IsEvent()             {}
func (e ExecExitEvent) Timestamp() time.Time { return e.ExitedAt }
func (e ExecExitEvent) Validate() error {
	return validateSubject(ExecExitSubjectPattern, e.Record.Kind, e.Record.ID, e.Subject())
}

// ExecutionRecord is the stored outcome of one execution.
type ExecutionRecord struct {
	ID         string    `json:"id"`
	Kind       string    `json:"kind"`
	Target     string    `json:"target"`
	Dir        string    `json:"dir"`
	Success    bool      `json:"success"`
	Output     string    `json:"output"`
	Error      string    `json:"error"`
	ExitCode   int       `json:"exitCode"`
	Message    string    `json:"message,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

// =============================================================================
// HELPER FUNCTIONS
// =============================================================================

func ExecStartedSubject(kind, execID string) string {
	return fmt.Sprintf("event.exec.%s.%s.started", kind, execID)
}

func ExecStdoutSubject(kind, execID string) string {
	return fmt.Sprintf("event.exec.%s.%s.stdout", kind, execID)
}

func ExecStderrSubject(kind, execID string) string {
	return fmt.Sprintf("event.exec.%s.%s.stderr", kind, execID)
}

func ExecExitSubject(kind, execID string) string {
	return fmt.Sprintf("event.exec.%s.%s.exit", kind, execID)
}

func validateSubject(pattern, kind, execID, subject string) error {
	if !util.ValidToken(kind) {
		return fmt.Errorf("kind %q is not a valid subject token", kind)
	}
	if !util.ValidToken(execID) {
		return fmt.Errorf("exec_id %q is not a valid subject token", execID)
	}
	if !util.SubjectMatches(pattern, subject) {
		return fmt.Errorf("subject %q does not match %q", subject, pattern)
	}
	return nil
}
