package runtime

import (
	"context"
	"errors"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/rs/xid"
)

// Kind distinguishes the two request flavours the executor accepts.
type Kind string

const (
	KindScript  Kind = "script"
	KindCommand Kind = "command"
)

// DefaultMaxBuffer is the combined stdout+stderr cap when none is configured.
const DefaultMaxBuffer = 10 * 1024 * 1024

// waitDelay bounds how long Wait keeps copying output once the child has
// exited or been killed, in case background jobs still hold the pipes open.
// Output those jobs write after the delay is dropped.
const waitDelay = 2 * time.Second

// Request is a logical execution request.
type Request struct {
	Kind             Kind
	ScriptName       string
	RawCommand       string
	WorkingDirectory string
}

// Result is the outcome of one execution. It is built once, after the child
// process has exited, and never modified afterwards.
type Result struct {
	ID         string    `json:"id"`
	Kind       Kind      `json:"kind"`
	Target     string    `json:"target"`
	Dir        string    `json:"dir"`
	Success    bool      `json:"success"`
	Stdout     string    `json:"output"`
	Stderr     string    `json:"error"`
	ExitCode   int       `json:"exitCode"`
	Message    string    `json:"message,omitempty"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
	Err        error     `json:"-"`
}

// Duration is the wall time between spawn and exit.
func (r *Result) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Config is the immutable executor configuration.
type Config struct {
	// PackageManager runs named scripts: "<PackageManager> run <script>".
	PackageManager string
	// Shell is the interpreter and its leading args; the raw command is
	// appended as the final argument, e.g. {"sh", "-c"}.
	Shell []string
	// DefaultDir is used by RunCommand when the request names no directory.
	DefaultDir string
	// MaxBuffer caps combined stdout+stderr in bytes.
	MaxBuffer int
}

// Executor spawns one OS process per call and returns its buffered output.
// It holds no mutable state and is safe for concurrent use.
type Executor struct {
	cfg  Config
	sink ProgressSink
}

// NewExecutor builds an Executor. A nil sink discards progress.
func NewExecutor(cfg Config, sink ProgressSink) *Executor {
	if cfg.PackageManager == "" {
		cfg.PackageManager = "pnpm"
	}
	if len(cfg.Shell) == 0 {
		cfg.Shell = []string{"sh", "-c"}
	}
	if cfg.MaxBuffer <= 0 {
		cfg.MaxBuffer = DefaultMaxBuffer
	}
	cfg.Shell = append([]string(nil), cfg.Shell...)
	if sink == nil {
		sink = NopSink{}
	}
	return &Executor{cfg: cfg, sink: sink}
}

// Config returns a copy of the executor configuration.
func (e *Executor) Config() Config {
	cfg := e.cfg
	cfg.Shell = append([]string(nil), e.cfg.Shell...)
	return cfg
}

// RunScript runs "<package-manager> run <scriptName>" in workingDirectory.
// Script runs never fall back to the default directory.
func (e *Executor) RunScript(ctx context.Context, scriptName, workingDirectory string) (*Result, error) {
	return e.Run(ctx, Request{Kind: KindScript, ScriptName: scriptName, WorkingDirectory: workingDirectory})
}

// RunCommand runs command through the configured shell in workingDirectory,
// or in the default directory when workingDirectory is empty.
func (e *Executor) RunCommand(ctx context.Context, command, workingDirectory string) (*Result, error) {
	return e.Run(ctx, Request{Kind: KindCommand, RawCommand: command, WorkingDirectory: workingDirectory})
}

// Run executes req and blocks until the child exits.
//
// Invalid requests return a nil Result and an error wrapping
// ErrInvalidRequest. Every other outcome returns a non-nil Result; the error
// is nil on success and otherwise wraps ErrSpawnFailure, ErrNonZeroExit or
// ErrBufferOverflow (the same error is kept in Result.Err).
//
// Cancellation of ctx does not stop the child: there is no timeout and no
// abort path, callers that need one must bound the request themselves.
func (e *Executor) Run(ctx context.Context, req Request) (*Result, error) {
	argv, dir, target, err := e.plan(req)
	if err != nil {
		return nil, err
	}

	runCtx, kill := context.WithCancel(context.WithoutCancel(ctx))
	defer kill()

	ex := Execution{ID: xid.New().String(), Kind: req.Kind, Target: target, Dir: dir}
	res := &Result{ID: ex.ID, Kind: req.Kind, Target: target, Dir: dir, StartedAt: time.Now()}

	out := newOutputBuffer(e.cfg.MaxBuffer, kill)
	emit := func(stream Stream, chunk []byte) { e.sink.Output(ex, stream, chunk) }

	cmd := exec.CommandContext(runCtx, argv[0], argv[1:]...)
	cmd.Dir = dir
	cmd.Stdout = out.writer(StreamStdout, emit)
	cmd.Stderr = out.writer(StreamStderr, emit)
	cmd.WaitDelay = waitDelay

	if err := cmd.Start(); err != nil {
		res.FinishedAt = time.Now()
		res.ExitCode = -1
		res.Message = err.Error()
		res.Err = fmt.Errorf("%w: %s: %w", ErrSpawnFailure, argv[0], err)
		e.sink.Exited(ex, res)
		return res, res.Err
	}
	ex.PID = cmd.Process.Pid
	e.sink.Started(ex)

	waitErr := settleWaitErr(cmd, cmd.Wait())
	res.FinishedAt = time.Now()
	res.Stdout, res.Stderr = out.Strings()

	switch {
	case out.Overflowed():
		res.ExitCode = -1
		res.Message = fmt.Sprintf("output exceeded max buffer of %d bytes", e.cfg.MaxBuffer)
		res.Err = fmt.Errorf("%w: %s", ErrBufferOverflow, res.Message)
	case waitErr == nil:
		res.Success = true
	default:
		var exitErr *exec.ExitError
		if errors.As(waitErr, &exitErr) {
			res.ExitCode = exitErr.ExitCode()
			res.Message = fmt.Sprintf("Command failed: %s (exit code %d)", target, res.ExitCode)
			res.Err = fmt.Errorf("%w: %w", ErrNonZeroExit, waitErr)
		} else {
			// I/O error while copying output or waiting on the child.
			res.ExitCode = -1
			res.Message = waitErr.Error()
			res.Err = fmt.Errorf("%w: %w", ErrSpawnFailure, waitErr)
		}
	}

	e.sink.Exited(ex, res)
	return res, res.Err
}

// settleWaitErr classifies a Wait that gave up on the pipes by the child's
// own exit status. A job backgrounded by the child (`pnpm dev &`) keeps
// stdout open long after the child itself exited.
func settleWaitErr(cmd *exec.Cmd, waitErr error) error {
	if !errors.Is(waitErr, exec.ErrWaitDelay) || cmd.ProcessState == nil {
		return waitErr
	}
	if cmd.ProcessState.Success() {
		return nil
	}
	return &exec.ExitError{ProcessState: cmd.ProcessState}
}

// plan validates req and turns it into argv and a working directory.
func (e *Executor) plan(req Request) (argv []string, dir, target string, err error) {
	switch req.Kind {
	case KindScript:
		name := strings.TrimSpace(req.ScriptName)
		if name == "" {
			return nil, "", "", fmt.Errorf("%w: script name is required", ErrInvalidRequest)
		}
		if strings.HasPrefix(name, "-") {
			return nil, "", "", fmt.Errorf("%w: script name %q must not start with '-'", ErrInvalidRequest, name)
		}
		if req.WorkingDirectory == "" {
			return nil, "", "", fmt.Errorf("%w: project path is required", ErrInvalidRequest)
		}
		return []string{e.cfg.PackageManager, "run", name}, req.WorkingDirectory, name, nil

	case KindCommand:
		if strings.TrimSpace(req.RawCommand) == "" {
			return nil, "", "", fmt.Errorf("%w: command is required", ErrInvalidRequest)
		}
		dir := req.WorkingDirectory
		if dir == "" {
			dir = e.cfg.DefaultDir
		}
		if dir == "" {
			return nil, "", "", fmt.Errorf("%w: project path is required and no default is configured", ErrInvalidRequest)
		}
		argv := append(append([]string(nil), e.cfg.Shell...), req.RawCommand)
		return argv, dir, req.RawCommand, nil

	default:
		return nil, "", "", fmt.Errorf("%w: unknown kind %q", ErrInvalidRequest, req.Kind)
	}
}
