package platform

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"path/filepath"
	"time"

	"cmdrunner/internal/messages"
	"cmdrunner/internal/runtime"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
)

// Messages returned when no working directory can be resolved.
const (
	ErrScriptPathRequired  = "Project path is required....."
	ErrCommandPathRequired = "Project path is required and no default project is configured"
)

// isoMillis matches the timestamp format clients of the runner expect.
const isoMillis = "2006-01-02T15:04:05.000Z07:00"

// Handlers serves the runner's HTTP API.
type Handlers struct {
	exec       *runtime.Executor
	store      *messages.ResultStore // nil when the bus is disabled
	port       int
	instanceID string
	now        func() time.Time
}

// NewHandlers creates the HTTP handlers. store may be nil.
func NewHandlers(exec *runtime.Executor, store *messages.ResultStore, port int) *Handlers {
	InitMetrics()
	return &Handlers{
		exec:       exec,
		store:      store,
		port:       port,
		instanceID: uuid.NewString(),
		now:        time.Now,
	}
}

type runScriptRequest struct {
	Script string `json:"script"`
	Path   string `json:"path"`
}

type runCommandRequest struct {
	Command string `json:"command"`
	Path    string `json:"path"`
}

// runResponse is the body of every executed request. Message is only set on
// the failure shapes that carry it.
type runResponse struct {
	Success  bool   `json:"success"`
	Output   string `json:"output"`
	Error    string `json:"error"`
	Message  string `json:"message,omitempty"`
	ExitCode int    `json:"exitCode"`
	ID       string `json:"id,omitempty"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

type statusResponse struct {
	Status         string `json:"status"`
	DefaultProject string `json:"defaultProject"`
	Project        string `json:"project"`
	Port           int    `json:"port"`
	InstanceID     string `json:"instanceId"`
	Timestamp      string `json:"timestamp"`
}

// Health returns 200 OK.
func (h *Handlers) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// Status reports the configured default project and port.
func (h *Handlers) Status(w http.ResponseWriter, r *http.Request) {
	def := h.exec.Config().DefaultDir
	project := ""
	if def != "" {
		project = filepath.Base(filepath.Clean(def))
	}
	writeJSON(w, http.StatusOK, statusResponse{
		Status:         "running",
		DefaultProject: def,
		Project:        project,
		Port:           h.port,
		InstanceID:     h.instanceID,
		Timestamp:      h.now().UTC().Format(isoMillis),
	})
}

// RunScript handles POST /run-script.
func (h *Handlers) RunScript(w http.ResponseWriter, r *http.Request) {
	var req runScriptRequest
	if err := decodeJSON(w, r, runScriptValidator, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if req.Path == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: ErrScriptPathRequired})
		return
	}

	ExecutionsInFlight.Inc()
	res, err := h.exec.RunScript(r.Context(), req.Script, req.Path)
	ExecutionsInFlight.Dec()
	observeExecution(runtime.KindScript, res, err)

	h.respond(w, res, err, func(resp *runResponse) {
		// A script that ran and failed reports its exit code only.
		if errors.Is(err, runtime.ErrNonZeroExit) {
			resp.Message = ""
		}
	})
}

// RunCommand handles POST /run-command.
func (h *Handlers) RunCommand(w http.ResponseWriter, r *http.Request) {
	var req runCommandRequest
	if err := decodeJSON(w, r, runCommandValidator, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if req.Path == "" && h.exec.Config().DefaultDir == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: ErrCommandPathRequired})
		return
	}

	ExecutionsInFlight.Inc()
	res, err := h.exec.RunCommand(r.Context(), req.Command, req.Path)
	ExecutionsInFlight.Dec()
	observeExecution(runtime.KindCommand, res, err)

	h.respond(w, res, err, nil)
}

// respond writes the result of an executor call. shape may adjust the failure
// body before it is written.
func (h *Handlers) respond(w http.ResponseWriter, res *runtime.Result, err error, shape func(*runResponse)) {
	if errors.Is(err, runtime.ErrInvalidRequest) {
		writeJSON(w, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	if res == nil {
		slog.Error("executor returned no result", "err", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: "internal error"})
		return
	}

	resp := runResponse{
		Success:  res.Success,
		Output:   res.Stdout,
		Error:    res.Stderr,
		ExitCode: res.ExitCode,
		ID:       res.ID,
	}
	if err == nil {
		writeJSON(w, http.StatusOK, resp)
		return
	}
	resp.Message = res.Message
	if shape != nil {
		shape(&resp)
	}
	writeJSON(w, http.StatusInternalServerError, resp)
}

// GetExecution handles GET /executions/{id}.
func (h *Handlers) GetExecution(w http.ResponseWriter, r *http.Request) {
	if h.store == nil {
		writeJSON(w, http.StatusServiceUnavailable, errorResponse{Error: "execution history is disabled"})
		return
	}
	id := chi.URLParam(r, "id")
	rec, err := h.store.Get(r.Context(), id)
	if errors.Is(err, messages.ErrRecordNotFound) {
		writeJSON(w, http.StatusNotFound, errorResponse{Error: "execution not found"})
		return
	}
	if err != nil {
		slog.Error("GetExecution: store lookup failed", "id", id, "err", err)
		writeJSON(w, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Warn("write response", "err", err)
	}
}
