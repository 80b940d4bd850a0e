package platform

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cmdrunner/internal/messages"
	"cmdrunner/internal/runtime"
)

// Test helpers

func newTestRouter(t *testing.T, cfg runtime.Config, store *messages.ResultStore) http.Handler {
	t.Helper()
	if cfg.PackageManager == "" {
		cfg.PackageManager = "echo"
	}
	exec := runtime.NewExecutor(cfg, nil)
	return NewRouter(NewHandlers(exec, store, 3000))
}

func do(t *testing.T, h http.Handler, method, path, body string) (int, map[string]any) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, rd)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)

	var out map[string]any
	if err := json.NewDecoder(w.Body).Decode(&out); err != nil {
		t.Fatalf("decode %s %s response: %v", method, path, err)
	}
	return w.Code, out
}

func jsonBody(t *testing.T, v any) string {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return string(b)
}

// writeFakePackageManager creates an executable that stands in for pnpm.
func writeFakePackageManager(t *testing.T, script string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "fake-pm")
	if err := os.WriteFile(path, []byte("#!/bin/sh\n"+script+"\n"), 0o755); err != nil {
		t.Fatal(err)
	}
	return path
}

func Test_Health(t *testing.T) {
	h := newTestRouter(t, runtime.Config{}, nil)
	code, body := do(t, h, http.MethodGet, "/health", "")
	if code != http.StatusOK {
		t.Errorf("expected status 200, got %d", code)
	}
	if body["status"] != "ok" {
		t.Errorf("expected status 'ok', got %v", body["status"])
	}
}

func Test_Status(t *testing.T) {
	def := filepath.Join(t.TempDir(), "nuxt-demo")
	h := newTestRouter(t, runtime.Config{DefaultDir: def}, nil)

	before := time.Now().Add(-time.Second)
	code, body := do(t, h, http.MethodGet, "/status", "")
	if code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", code)
	}
	if body["status"] != "running" {
		t.Errorf("status = %v, want running", body["status"])
	}
	if body["defaultProject"] != def {
		t.Errorf("defaultProject = %v, want %q", body["defaultProject"], def)
	}
	if body["project"] != "nuxt-demo" {
		t.Errorf("project = %v, want nuxt-demo", body["project"])
	}
	if body["port"] != float64(3000) {
		t.Errorf("port = %v, want 3000", body["port"])
	}
	if id, _ := body["instanceId"].(string); id == "" {
		t.Error("instanceId is empty")
	}
	ts, _ := body["timestamp"].(string)
	parsed, err := time.Parse(time.RFC3339, ts)
	if err != nil {
		t.Fatalf("timestamp %q: %v", ts, err)
	}
	if parsed.Before(before) {
		t.Errorf("timestamp %v is older than the request", parsed)
	}
}

func Test_RunScript_RequiresPath(t *testing.T) {
	h := newTestRouter(t, runtime.Config{DefaultDir: t.TempDir()}, nil)
	for _, body := range []string{`{"script":"test"}`, `{"script":"test","path":null}`, `{"script":"test","path":""}`} {
		code, resp := do(t, h, http.MethodPost, "/run-script", body)
		if code != http.StatusBadRequest {
			t.Errorf("%s: expected 400, got %d", body, code)
		}
		if resp["success"] != false {
			t.Errorf("%s: success = %v, want false", body, resp["success"])
		}
		if resp["error"] != ErrScriptPathRequired {
			t.Errorf("%s: error = %v, want %q", body, resp["error"], ErrScriptPathRequired)
		}
	}
}

func Test_RunScript_Validation(t *testing.T) {
	h := newTestRouter(t, runtime.Config{}, nil)
	tests := []struct {
		name string
		body string
	}{
		{name: "empty body", body: ""},
		{name: "invalid json", body: "{"},
		{name: "missing script", body: `{"path":"/tmp"}`},
		{name: "script not a string", body: `{"script":3,"path":"/tmp"}`},
		{name: "flag-like script", body: `{"script":"--help","path":"/tmp"}`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodPost, "/run-script", strings.NewReader(tt.body))
			w := httptest.NewRecorder()
			h.ServeHTTP(w, req)
			if w.Code != http.StatusBadRequest {
				t.Errorf("expected 400, got %d: %s", w.Code, w.Body.String())
			}
		})
	}
}

func Test_RunScript_Success(t *testing.T) {
	pm := writeFakePackageManager(t, `[ "$1" = run ] && [ "$2" = test ] && echo OK`)
	h := newTestRouter(t, runtime.Config{PackageManager: pm}, nil)

	code, resp := do(t, h, http.MethodPost, "/run-script", jsonBody(t, map[string]string{"script": "test", "path": t.TempDir()}))
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", code, resp)
	}
	if resp["success"] != true || resp["output"] != "OK\n" || resp["error"] != "" || resp["exitCode"] != float64(0) {
		t.Errorf("response = %v, want success/OK/empty/0", resp)
	}
	if _, ok := resp["message"]; ok {
		t.Errorf("message present on success: %v", resp["message"])
	}
}

func Test_RunScript_NonZeroExit(t *testing.T) {
	pm := writeFakePackageManager(t, `echo partial; echo broken 1>&2; exit 4`)
	h := newTestRouter(t, runtime.Config{PackageManager: pm}, nil)

	code, resp := do(t, h, http.MethodPost, "/run-script", jsonBody(t, map[string]string{"script": "build", "path": t.TempDir()}))
	if code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", code)
	}
	if resp["success"] != false || resp["exitCode"] != float64(4) {
		t.Errorf("response = %v, want success=false exitCode=4", resp)
	}
	if resp["output"] != "partial\n" || resp["error"] != "broken\n" {
		t.Errorf("output/error = %q/%q", resp["output"], resp["error"])
	}
	if _, ok := resp["message"]; ok {
		t.Error("script exit failure must not carry a message")
	}
}

func Test_RunScript_SpawnFailure(t *testing.T) {
	h := newTestRouter(t, runtime.Config{PackageManager: "nonexistent-pm-xyz-123"}, nil)
	code, resp := do(t, h, http.MethodPost, "/run-script", jsonBody(t, map[string]string{"script": "test", "path": t.TempDir()}))
	if code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", code)
	}
	if msg, _ := resp["message"].(string); msg == "" {
		t.Errorf("message missing: %v", resp)
	}
	if resp["exitCode"] != float64(-1) {
		t.Errorf("exitCode = %v, want -1", resp["exitCode"])
	}
}

func Test_RunCommand_NoPathNoDefault(t *testing.T) {
	h := newTestRouter(t, runtime.Config{}, nil)
	code, resp := do(t, h, http.MethodPost, "/run-command", `{"command":"exit 3"}`)
	if code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", code)
	}
	if resp["error"] != ErrCommandPathRequired {
		t.Errorf("error = %v, want %q", resp["error"], ErrCommandPathRequired)
	}
}

func Test_RunCommand_Success(t *testing.T) {
	h := newTestRouter(t, runtime.Config{}, nil)
	code, resp := do(t, h, http.MethodPost, "/run-command", jsonBody(t, map[string]string{"command": "echo hi", "path": t.TempDir()}))
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", code, resp)
	}
	if resp["success"] != true || resp["output"] != "hi\n" || resp["error"] != "" || resp["exitCode"] != float64(0) {
		t.Errorf("response = %v", resp)
	}
}

func Test_RunCommand_UsesDefaultProject(t *testing.T) {
	def := t.TempDir()
	h := newTestRouter(t, runtime.Config{DefaultDir: def}, nil)
	code, resp := do(t, h, http.MethodPost, "/run-command", `{"command":"pwd"}`)
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", code, resp)
	}
	if out, _ := resp["output"].(string); !strings.Contains(out, filepath.Base(def)) {
		t.Errorf("output = %q, want to contain %q", out, filepath.Base(def))
	}
}

func Test_RunCommand_NonZeroExit(t *testing.T) {
	h := newTestRouter(t, runtime.Config{}, nil)
	code, resp := do(t, h, http.MethodPost, "/run-command", jsonBody(t, map[string]string{"command": "echo out; echo err 1>&2; exit 3", "path": t.TempDir()}))
	if code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", code)
	}
	if resp["success"] != false || resp["exitCode"] != float64(3) {
		t.Errorf("response = %v, want success=false exitCode=3", resp)
	}
	if resp["output"] != "out\n" || resp["error"] != "err\n" {
		t.Errorf("output/error = %q/%q", resp["output"], resp["error"])
	}
	if msg, _ := resp["message"].(string); msg == "" {
		t.Error("command failure must carry a message")
	}
}

func Test_RunCommand_BufferOverflow(t *testing.T) {
	h := newTestRouter(t, runtime.Config{MaxBuffer: 10}, nil)
	code, resp := do(t, h, http.MethodPost, "/run-command", jsonBody(t, map[string]string{"command": "echo 0123456789abcdef", "path": t.TempDir()}))
	if code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", code)
	}
	if resp["output"] != "0123456789" {
		t.Errorf("output = %q, want the first 10 bytes", resp["output"])
	}
	if msg, _ := resp["message"].(string); !strings.Contains(msg, "max buffer") {
		t.Errorf("message = %q, want overflow description", msg)
	}
}

func Test_GetExecution_Disabled(t *testing.T) {
	h := newTestRouter(t, runtime.Config{}, nil)
	code, _ := do(t, h, http.MethodGet, "/executions/abc", "")
	if code != http.StatusServiceUnavailable {
		t.Errorf("expected 503, got %d", code)
	}
}

func Test_GetExecution_WithBus(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	nc, ns, _, err := RunEmbeddedServer(ctx, EmbeddedServerConfig{
		InProcess: true,
		JetStream: true,
		StoreDir:  t.TempDir(),
	})
	if err != nil {
		t.Fatalf("RunEmbeddedServer: %v", err)
	}
	defer ns.Shutdown()
	defer nc.Close()

	bus, err := SetupBus(ctx, nc)
	if err != nil {
		t.Fatalf("SetupBus: %v", err)
	}
	cfg := &AppConfig{ExecCfg: &runtime.Config{Shell: []string{"sh", "-c"}, MaxBuffer: 1024}}
	h := NewRouter(NewHandlers(NewExecutor(cfg, bus), bus.Store(), 3000))

	code, resp := do(t, h, http.MethodPost, "/run-command", jsonBody(t, map[string]string{"command": "echo stored; exit 2", "path": t.TempDir()}))
	if code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", code)
	}
	id, _ := resp["id"].(string)
	if id == "" {
		t.Fatalf("response has no id: %v", resp)
	}

	code, rec := do(t, h, http.MethodGet, "/executions/"+id, "")
	if code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %v", code, rec)
	}
	if rec["output"] != "stored\n" || rec["exitCode"] != float64(2) || rec["kind"] != "command" {
		t.Errorf("record = %v", rec)
	}

	code, _ = do(t, h, http.MethodGet, "/executions/unknown", "")
	if code != http.StatusNotFound {
		t.Errorf("expected 404 for unknown id, got %d", code)
	}
}

func Test_Metrics(t *testing.T) {
	h := newTestRouter(t, runtime.Config{}, nil)
	do(t, h, http.MethodPost, "/run-command", jsonBody(t, map[string]string{"command": "true", "path": t.TempDir()}))

	req := httptest.NewRequest(http.MethodGet, "/metrics", nil)
	w := httptest.NewRecorder()
	h.ServeHTTP(w, req)
	if w.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", w.Code)
	}
	if !bytes.Contains(w.Body.Bytes(), []byte(`cmdrunner_executions_total{kind="command",outcome="ok"}`)) {
		t.Error("metrics output is missing the execution counter")
	}
}
