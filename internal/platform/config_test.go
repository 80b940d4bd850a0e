package platform

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"

	"cmdrunner/internal/runtime"
)

func envFrom(m map[string]string) func(string) string {
	return func(k string) string { return m[k] }
}

func TestLoadAppConfig_Defaults(t *testing.T) {
	cfg, err := loadAppConfig(envFrom(nil))
	if err != nil {
		t.Fatalf("loadAppConfig: %v", err)
	}
	if cfg.HTTPSrvCfg.Port != 3000 {
		t.Errorf("Port = %d, want 3000", cfg.HTTPSrvCfg.Port)
	}
	if cfg.HTTPSrvCfg.Addr() != "0.0.0.0:3000" {
		t.Errorf("Addr = %q, want 0.0.0.0:3000", cfg.HTTPSrvCfg.Addr())
	}
	if cfg.ExecCfg.MaxBuffer != 10*1024*1024 {
		t.Errorf("MaxBuffer = %d, want 10MB", cfg.ExecCfg.MaxBuffer)
	}
	if cfg.ExecCfg.PackageManager != "pnpm" {
		t.Errorf("PackageManager = %q, want pnpm", cfg.ExecCfg.PackageManager)
	}
	if cfg.ExecCfg.DefaultDir != "" {
		t.Errorf("DefaultDir = %q, want empty", cfg.ExecCfg.DefaultDir)
	}
	if cfg.Flags.Bus {
		t.Error("Bus enabled by default")
	}
	if cfg.HTTPSrvCfg.EnableTLS {
		t.Error("TLS enabled by default")
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, want info", cfg.LogLevel)
	}
}

func TestLoadAppConfig_Env(t *testing.T) {
	cfg, err := loadAppConfig(envFrom(map[string]string{
		"PORT":                 "8081",
		"DEFAULT_PROJECT_PATH": "/srv/app",
		"MAX_BUFFER_BYTES":     "2048",
		"PACKAGE_MANAGER":      "npm",
		"RUNNER_SHELL":         "bash -lc",
		"LOG_LEVEL":            "debug",
		"NATS_ENABLED":         "true",
		"NATS_PORT":            "4333",
	}))
	if err != nil {
		t.Fatalf("loadAppConfig: %v", err)
	}
	if cfg.HTTPSrvCfg.Port != 8081 {
		t.Errorf("Port = %d, want 8081", cfg.HTTPSrvCfg.Port)
	}
	if cfg.ExecCfg.DefaultDir != "/srv/app" {
		t.Errorf("DefaultDir = %q", cfg.ExecCfg.DefaultDir)
	}
	if cfg.ExecCfg.MaxBuffer != 2048 {
		t.Errorf("MaxBuffer = %d, want 2048", cfg.ExecCfg.MaxBuffer)
	}
	if cfg.ExecCfg.PackageManager != "npm" {
		t.Errorf("PackageManager = %q, want npm", cfg.ExecCfg.PackageManager)
	}
	if len(cfg.ExecCfg.Shell) != 2 || cfg.ExecCfg.Shell[0] != "bash" || cfg.ExecCfg.Shell[1] != "-lc" {
		t.Errorf("Shell = %v, want [bash -lc]", cfg.ExecCfg.Shell)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v, want debug", cfg.LogLevel)
	}
	if !cfg.Flags.Bus {
		t.Error("Bus = false, want true")
	}
	if cfg.NatsCfg.InProcess || cfg.NatsCfg.Port != 4333 {
		t.Errorf("NatsCfg = %+v, want listener on 4333", cfg.NatsCfg)
	}
}

func TestLoadAppConfig_Invalid(t *testing.T) {
	tests := map[string]map[string]string{
		"non-numeric port":   {"PORT": "http"},
		"port out of range":  {"PORT": "70000"},
		"zero buffer":        {"MAX_BUFFER_BYTES": "0"},
		"negative buffer":    {"MAX_BUFFER_BYTES": "-5"},
		"bad bool":           {"NATS_ENABLED": "maybe"},
		"bad log level":      {"LOG_LEVEL": "loud"},
		"cert without key":   {"TLS_CERT_FILE": "cert.pem"},
		"missing yaml file":  {"RUNNER_CONFIG": "/nonexistent/runner.yaml"},
		"blank shell string": {"RUNNER_SHELL": "   "},
	}
	for name, env := range tests {
		t.Run(name, func(t *testing.T) {
			if _, err := loadAppConfig(envFrom(env)); err == nil {
				t.Error("loadAppConfig succeeded, want error")
			}
		})
	}
}

func TestLoadAppConfig_FileThenEnv(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "runner.yaml")
	yml := `port: 4000
default_project: /from/file
max_buffer: 512
package_manager: yarn
shell: [bash, -c]
nats:
  enabled: true
  store_dir: /var/lib/runner
`
	if err := os.WriteFile(path, []byte(yml), 0o644); err != nil {
		t.Fatal(err)
	}

	cfg, err := loadAppConfig(envFrom(map[string]string{
		"RUNNER_CONFIG": path,
		"PORT":          "5000",
	}))
	if err != nil {
		t.Fatalf("loadAppConfig: %v", err)
	}
	if cfg.HTTPSrvCfg.Port != 5000 {
		t.Errorf("Port = %d, want env to win with 5000", cfg.HTTPSrvCfg.Port)
	}
	if cfg.ExecCfg.DefaultDir != "/from/file" {
		t.Errorf("DefaultDir = %q, want /from/file", cfg.ExecCfg.DefaultDir)
	}
	if cfg.ExecCfg.MaxBuffer != 512 {
		t.Errorf("MaxBuffer = %d, want 512", cfg.ExecCfg.MaxBuffer)
	}
	if cfg.ExecCfg.PackageManager != "yarn" {
		t.Errorf("PackageManager = %q, want yarn", cfg.ExecCfg.PackageManager)
	}
	if cfg.ExecCfg.Shell[0] != "bash" {
		t.Errorf("Shell = %v, want bash", cfg.ExecCfg.Shell)
	}
	if !cfg.Flags.Bus || cfg.NatsCfg.StoreDir != "/var/lib/runner" {
		t.Errorf("nats = %+v bus=%v", cfg.NatsCfg, cfg.Flags.Bus)
	}
}

func TestLoadAppConfig_DotEnv(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, ".env"), []byte("DEFAULT_PROJECT_PATH=/from/dotenv\nPORT=7000\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	wd, err := os.Getwd()
	if err != nil {
		t.Fatal(err)
	}
	if err := os.Chdir(dir); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = os.Chdir(wd) })
	// Real environment wins over .env.
	t.Setenv("PORT", "7001")
	t.Setenv("DEFAULT_PROJECT_PATH", "")
	os.Unsetenv("DEFAULT_PROJECT_PATH")

	cfg, err := LoadAppConfig()
	if err != nil {
		t.Fatalf("LoadAppConfig: %v", err)
	}
	if cfg.ExecCfg.DefaultDir != "/from/dotenv" {
		t.Errorf("DefaultDir = %q, want /from/dotenv", cfg.ExecCfg.DefaultDir)
	}
	if cfg.HTTPSrvCfg.Port != 7001 {
		t.Errorf("Port = %d, want 7001 from the real environment", cfg.HTTPSrvCfg.Port)
	}
}

func TestNewExecutor_UsesConfig(t *testing.T) {
	cfg, err := loadAppConfig(envFrom(map[string]string{"DEFAULT_PROJECT_PATH": "/srv/app", "MAX_BUFFER_BYTES": "64"}))
	if err != nil {
		t.Fatal(err)
	}
	got := NewExecutor(cfg, nil).Config()
	want := runtime.Config{PackageManager: "pnpm", DefaultDir: "/srv/app", MaxBuffer: 64}
	if got.PackageManager != want.PackageManager || got.DefaultDir != want.DefaultDir || got.MaxBuffer != want.MaxBuffer {
		t.Errorf("executor config = %+v, want %+v", got, want)
	}
}
