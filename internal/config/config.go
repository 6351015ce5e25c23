// Package config handles loading and validating nsbox configuration.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	goutils "github.com/jkaninda/go-utils"
	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

func init() {
	// Load .env file if it exists
	_ = godotenv.Load()
}

// Config is the root configuration for nsbox.
type Config struct {
	// Workspace is the runtime root. Default: ~/.nsbox/workspace.
	// Override: NSBOX_WORKSPACE env var.
	Workspace string `json:"workspace,omitempty" yaml:"workspace,omitempty"`

	Sandbox       SandboxConfig        `json:"sandbox" yaml:"sandbox"`
	Files         FilesConfig          `json:"files" yaml:"files"`
	Observability *ObservabilityConfig `json:"observability,omitempty" yaml:"observability,omitempty"` // nil = metrics disabled
}

// SandboxConfig configures the namespace executor.
type SandboxConfig struct {
	// DefaultTimeoutSeconds bounds each execution. Default: 30.
	DefaultTimeoutSeconds int `json:"default_timeout_s" yaml:"default_timeout_s"`

	// MaxOutputBytes caps each captured stream. Default: 1 MiB.
	MaxOutputBytes int `json:"max_output_bytes" yaml:"max_output_bytes"`

	// Namespaces overrides the default isolation set (mount, pid, uts, ipc)
	// applied when a call names none.
	Namespaces []string `json:"namespaces,omitempty" yaml:"namespaces,omitempty"`
}

// DefaultTimeout returns the execution timeout as a duration.
func (s SandboxConfig) DefaultTimeout() time.Duration {
	if s.DefaultTimeoutSeconds > 0 {
		return time.Duration(s.DefaultTimeoutSeconds) * time.Second
	}
	return 30 * time.Second
}

// FilesConfig configures the file tools.
type FilesConfig struct {
	// Root confines file tool paths when non-empty. Default: the
	// workspace files directory. Set to "/" to disable confinement.
	Root string `json:"root,omitempty" yaml:"root,omitempty"`

	// MaxFileSizeBytes limits read/write sizes. Default: 10 MB.
	MaxFileSizeBytes int64 `json:"max_file_size_bytes" yaml:"max_file_size_bytes"`
}

// ObservabilityConfig configures Prometheus metrics exposition.
type ObservabilityConfig struct {
	Metrics *MetricsConfig `json:"metrics,omitempty" yaml:"metrics,omitempty"`
}

// MetricsConfig configures the standalone metrics listener.
type MetricsConfig struct {
	Enabled    bool   `json:"enabled" yaml:"enabled"`
	ListenAddr string `json:"listen_addr" yaml:"listen_addr"` // Default: ":9464"
}

// Addr returns the configured listen address, defaulting to ":9464".
func (m *MetricsConfig) Addr() string {
	if m != nil && m.ListenAddr != "" {
		return m.ListenAddr
	}
	return ":9464"
}

// DefaultConfigPath returns the default config file path (~/.nsbox/config.yaml).
func DefaultConfigPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "configs/nsbox.yaml" // fallback for environments without a home dir
	}
	return filepath.Join(home, ".nsbox", "config.yaml")
}

// Default returns the built-in configuration used when no config file exists.
func Default() *Config {
	return &Config{}
}

// Load reads a JSON or YAML config file and returns a validated Config.
// The format is detected by file extension: .yml/.yaml for YAML, everything
// else for JSON. Environment variables take precedence over file values.
// A missing file at the default path is not an error — built-in defaults apply.
func Load(path string) (*Config, error) {
	resolved, err := resolvePath(goutils.Env("NSBOX_CONFIG", path))
	if err != nil {
		return nil, fmt.Errorf("resolving config path %s: %w", path, err)
	}

	cfg := Default()
	data, err := os.ReadFile(resolved)
	switch {
	case err == nil:
		switch ext := strings.ToLower(filepath.Ext(resolved)); ext {
		case ".yml", ".yaml":
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing YAML config %s: %w", resolved, err)
			}
		default:
			if err := json.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parsing JSON config %s: %w", resolved, err)
			}
		}
	case os.IsNotExist(err) && path == DefaultConfigPath():
		// No config file at the default location: run on defaults.
	default:
		return nil, fmt.Errorf("reading config %s: %w", resolved, err)
	}

	// Environment variable overrides.
	if envWS := os.Getenv("NSBOX_WORKSPACE"); envWS != "" {
		cfg.Workspace = envWS
	}
	if envAddr := os.Getenv("NSBOX_METRICS_ADDR"); envAddr != "" {
		if cfg.Observability == nil {
			cfg.Observability = &ObservabilityConfig{}
		}
		if cfg.Observability.Metrics == nil {
			cfg.Observability.Metrics = &MetricsConfig{}
		}
		cfg.Observability.Metrics.Enabled = true
		cfg.Observability.Metrics.ListenAddr = envAddr
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate rejects configurations the server cannot start with.
func (c *Config) Validate() error {
	if c.Sandbox.DefaultTimeoutSeconds < 0 {
		return fmt.Errorf("sandbox.default_timeout_s must not be negative, got %d", c.Sandbox.DefaultTimeoutSeconds)
	}
	if c.Sandbox.MaxOutputBytes < 0 {
		return fmt.Errorf("sandbox.max_output_bytes must not be negative, got %d", c.Sandbox.MaxOutputBytes)
	}
	if c.Files.MaxFileSizeBytes < 0 {
		return fmt.Errorf("files.max_file_size_bytes must not be negative, got %d", c.Files.MaxFileSizeBytes)
	}
	for _, ns := range c.Sandbox.Namespaces {
		switch ns {
		case "pid", "mount", "mnt", "uts", "ipc", "net", "network", "user":
		default:
			return fmt.Errorf("sandbox.namespaces contains unknown namespace %q", ns)
		}
	}
	return nil
}

// resolvePath expands ~ to the user home directory and returns an absolute path.
func resolvePath(path string) (string, error) {
	if strings.HasPrefix(path, "~/") || path == "~" {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		path = filepath.Join(home, path[1:])
	}
	return filepath.Abs(path)
}
