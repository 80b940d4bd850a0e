package platform

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	goruntime "runtime"
	"strconv"
	"strings"
	"time"

	"cmdrunner/internal/runtime"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Defaults for the process-wide configuration.
const (
	DefaultPort           = 3000
	DefaultHost           = "0.0.0.0"
	DefaultPackageManager = "pnpm"
	DefaultNatsStoreDir   = "./store/js"
)

// FlagsConfig holds all boolean or string flags for the app.
type FlagsConfig struct {
	// Bus starts the embedded NATS server and publishes execution events.
	Bus bool
}

// AppConfig contains the configuration for the app. It is built once at
// startup and never mutated afterwards.
type AppConfig struct {
	Flags      *FlagsConfig
	LogLevel   slog.Level
	ExecCfg    *runtime.Config
	NatsCfg    *EmbeddedServerConfig
	HTTPSrvCfg *HTTPServerConfig
}

// fileConfig mirrors the optional YAML file named by RUNNER_CONFIG.
type fileConfig struct {
	Port           *int     `yaml:"port"`
	DefaultProject *string  `yaml:"default_project"`
	MaxBuffer      *int     `yaml:"max_buffer"`
	PackageManager string   `yaml:"package_manager"`
	Shell          []string `yaml:"shell"`
	LogLevel       string   `yaml:"log_level"`
	TLS            struct {
		CertFile string `yaml:"cert_file"`
		KeyFile  string `yaml:"key_file"`
	} `yaml:"tls"`
	Nats struct {
		Enabled  *bool  `yaml:"enabled"`
		Port     int    `yaml:"port"`
		StoreDir string `yaml:"store_dir"`
	} `yaml:"nats"`
}

// LoadAppConfig loads application configuration and returns an AppConfig.
// Precedence, lowest first: defaults, RUNNER_CONFIG YAML file, .env file,
// process environment. The .env file never overrides variables already set.
func LoadAppConfig() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	return loadAppConfig(os.Getenv)
}

func loadAppConfig(getenv func(string) string) (*AppConfig, error) {
	cfg := &AppConfig{
		Flags:      defaultFlagsCfg(),
		LogLevel:   slog.LevelInfo,
		ExecCfg:    defaultExecCfg(),
		NatsCfg:    defaultNatsCfg(),
		HTTPSrvCfg: defaultHTTPServerCfg(),
	}

	if path := getenv("RUNNER_CONFIG"); path != "" {
		if err := cfg.applyFile(path); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(getenv); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// defaultFlagsCfg returns the default FlagsConfig.
func defaultFlagsCfg() *FlagsConfig {
	return &FlagsConfig{Bus: false}
}

// defaultExecCfg returns the executor defaults.
func defaultExecCfg() *runtime.Config {
	return &runtime.Config{
		PackageManager: DefaultPackageManager,
		Shell:          defaultShell(),
		MaxBuffer:      runtime.DefaultMaxBuffer,
	}
}

func defaultShell() []string {
	if goruntime.GOOS == "windows" {
		return []string{"cmd", "/C"}
	}
	return []string{"sh", "-c"}
}

// defaultHTTPServerCfg returns sane defaults for the HTTP server. There is no
// write timeout: a request lasts as long as its child process.
func defaultHTTPServerCfg() *HTTPServerConfig {
	return &HTTPServerConfig{
		Host:              DefaultHost,
		Port:              DefaultPort,
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       2 * time.Minute,
		ShutdownTimeout:   defaultShutdownTimeout,
	}
}

// defaultNatsCfg returns the default EmbeddedServerConfig.
func defaultNatsCfg() *EmbeddedServerConfig {
	return &EmbeddedServerConfig{
		InProcess:     true,
		EnableLogging: true,
		JetStream:     true,
		StoreDir:      DefaultNatsStoreDir,
	}
}

func (c *AppConfig) applyFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}

	if fc.Port != nil {
		c.HTTPSrvCfg.Port = *fc.Port
	}
	if fc.DefaultProject != nil {
		c.ExecCfg.DefaultDir = *fc.DefaultProject
	}
	if fc.MaxBuffer != nil {
		c.ExecCfg.MaxBuffer = *fc.MaxBuffer
	}
	if fc.PackageManager != "" {
		c.ExecCfg.PackageManager = fc.PackageManager
	}
	if len(fc.Shell) > 0 {
		c.ExecCfg.Shell = fc.Shell
	}
	if fc.LogLevel != "" {
		if err := c.LogLevel.UnmarshalText([]byte(fc.LogLevel)); err != nil {
			return fmt.Errorf("config file log_level: %w", err)
		}
	}
	if fc.TLS.CertFile != "" || fc.TLS.KeyFile != "" {
		c.HTTPSrvCfg.CertFile = fc.TLS.CertFile
		c.HTTPSrvCfg.KeyFile = fc.TLS.KeyFile
	}
	if fc.Nats.Enabled != nil {
		c.Flags.Bus = *fc.Nats.Enabled
	}
	if fc.Nats.Port > 0 {
		c.NatsCfg.InProcess = false
		c.NatsCfg.Port = fc.Nats.Port
	}
	if fc.Nats.StoreDir != "" {
		c.NatsCfg.StoreDir = fc.Nats.StoreDir
	}
	return nil
}

func (c *AppConfig) applyEnv(getenv func(string) string) error {
	if v := getenv("PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("PORT: %w", err)
		}
		c.HTTPSrvCfg.Port = port
	}
	if v := getenv("HOST"); v != "" {
		c.HTTPSrvCfg.Host = v
	}
	if v := getenv("DEFAULT_PROJECT_PATH"); v != "" {
		c.ExecCfg.DefaultDir = v
	}
	if v := getenv("MAX_BUFFER_BYTES"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("MAX_BUFFER_BYTES: %w", err)
		}
		c.ExecCfg.MaxBuffer = n
	}
	if v := getenv("PACKAGE_MANAGER"); v != "" {
		c.ExecCfg.PackageManager = v
	}
	if v := getenv("RUNNER_SHELL"); v != "" {
		c.ExecCfg.Shell = strings.Fields(v)
	}
	if v := getenv("LOG_LEVEL"); v != "" {
		if err := c.LogLevel.UnmarshalText([]byte(v)); err != nil {
			return fmt.Errorf("LOG_LEVEL: %w", err)
		}
	}
	if cert, key := getenv("TLS_CERT_FILE"), getenv("TLS_KEY_FILE"); cert != "" || key != "" {
		c.HTTPSrvCfg.CertFile = cert
		c.HTTPSrvCfg.KeyFile = key
	}
	if v := getenv("NATS_ENABLED"); v != "" {
		on, err := strconv.ParseBool(v)
		if err != nil {
			return fmt.Errorf("NATS_ENABLED: %w", err)
		}
		c.Flags.Bus = on
	}
	if v := getenv("NATS_PORT"); v != "" {
		port, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("NATS_PORT: %w", err)
		}
		c.NatsCfg.InProcess = port <= 0
		c.NatsCfg.Port = port
	}
	if v := getenv("NATS_STORE_DIR"); v != "" {
		c.NatsCfg.StoreDir = v
	}
	if v := getenv("NATS_LEAF_URL"); v != "" {
		c.NatsCfg.LeafNodeURL = v
		c.NatsCfg.LeafNodeCreds = getenv("NATS_LEAF_CREDS")
	}
	return nil
}

func (c *AppConfig) validate() error {
	if c.HTTPSrvCfg.Port <= 0 || c.HTTPSrvCfg.Port > 65535 {
		return fmt.Errorf("port %d out of range", c.HTTPSrvCfg.Port)
	}
	if c.ExecCfg.MaxBuffer <= 0 {
		return fmt.Errorf("max buffer must be positive, got %d", c.ExecCfg.MaxBuffer)
	}
	if len(c.ExecCfg.Shell) == 0 {
		return errors.New("shell must name an interpreter")
	}
	if (c.HTTPSrvCfg.CertFile == "") != (c.HTTPSrvCfg.KeyFile == "") {
		return errors.New("TLS needs both a certificate and a key file")
	}
	c.HTTPSrvCfg.EnableTLS = c.HTTPSrvCfg.CertFile != ""
	return nil
}
