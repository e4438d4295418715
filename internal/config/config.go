// Package config loads the tool's own settings: where the debugger backend
// lives and how sessions behave. Settings come from a TOML or YAML file
// with an environment-variable overlay on top.
package config

import (
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"

	toml "github.com/pelletier/go-toml/v2"
	"gopkg.in/yaml.v3"
)

// Settings configures the debugger driver.
type Settings struct {
	// BackendPath is the debugger backend executable.
	BackendPath string `toml:"backend_path" yaml:"backend_path"`

	// BackendArgs are extra arguments passed to every backend launch.
	BackendArgs []string `toml:"backend_args" yaml:"backend_args"`

	// Environment is extra environment for the backend, KEY=VALUE form.
	Environment []string `toml:"environment" yaml:"environment"`

	// ShutdownGrace bounds how long teardown waits for the backend to exit
	// before the session is abandoned.
	ShutdownGrace time.Duration `toml:"shutdown_grace" yaml:"shutdown_grace"`

	// LogLevel is one of debug, info, warn, error.
	LogLevel string `toml:"log_level" yaml:"log_level"`
}

// Default returns the settings used when no file is present.
func Default() Settings {
	return Settings{
		BackendPath:   "gdb",
		ShutdownGrace: 10 * time.Second,
		LogLevel:      "info",
	}
}

// FileSystem abstracts file access so tests can use in-memory fixtures.
type FileSystem interface {
	fs.FS
	ReadFile(path string) ([]byte, error)
}

// OSFS implements FileSystem using the real file system.
type OSFS struct{}

// Open implements fs.FS.
func (OSFS) Open(name string) (fs.File, error) { return os.Open(name) }

// ReadFile reads the entire file at path.
func (OSFS) ReadFile(path string) ([]byte, error) { return os.ReadFile(path) }

// ParseError describes a malformed settings file.
type ParseError struct {
	Path    string
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error in %s: %s", e.Path, e.Message)
}

func (e *ParseError) Unwrap() error { return e.Err }

// Load reads settings from path, chooses the decoder by extension, and
// applies the environment overlay. A missing file is not an error: the
// defaults plus overlay are returned.
func Load(path string) (Settings, error) {
	return LoadWithFS(OSFS{}, path)
}

// LoadWithFS is Load with an explicit file system.
func LoadWithFS(fsys FileSystem, path string) (Settings, error) {
	settings := Default()

	data, err := fsys.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return settings, fmt.Errorf("reading settings file %s: %w", path, err)
		}
	} else {
		if err := decode(path, data, &settings); err != nil {
			return settings, err
		}
	}

	applyEnv(&settings)
	return settings, nil
}

// decode parses data into settings based on the file extension.
func decode(path string, data []byte, settings *Settings) error {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		if err := toml.Unmarshal(data, settings); err != nil {
			return &ParseError{Path: path, Message: err.Error(), Err: err}
		}
	case ".yml", ".yaml":
		if err := yaml.Unmarshal(data, settings); err != nil {
			return &ParseError{Path: path, Message: err.Error(), Err: err}
		}
	default:
		return fmt.Errorf("unsupported settings format %q", filepath.Ext(path))
	}
	return nil
}

// Environment variables overriding file settings.
const (
	envBackendPath   = "GDBMI_BACKEND_PATH"
	envBackendArgs   = "GDBMI_BACKEND_ARGS"
	envShutdownGrace = "GDBMI_SHUTDOWN_GRACE"
	envLogLevel      = "GDBMI_LOG_LEVEL"
)

// applyEnv overlays environment variables onto settings. Environment wins
// over the file, which wins over defaults.
func applyEnv(settings *Settings) {
	if v, ok := os.LookupEnv(envBackendPath); ok && v != "" {
		settings.BackendPath = v
	}
	if v, ok := os.LookupEnv(envBackendArgs); ok && v != "" {
		settings.BackendArgs = strings.Fields(v)
	}
	if v, ok := os.LookupEnv(envShutdownGrace); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			settings.ShutdownGrace = d
		}
	}
	if v, ok := os.LookupEnv(envLogLevel); ok && v != "" {
		settings.LogLevel = v
	}
}

// Validate checks the settings are usable.
func (s Settings) Validate() error {
	if s.BackendPath == "" {
		return fmt.Errorf("backend_path is required")
	}
	if s.ShutdownGrace <= 0 {
		return fmt.Errorf("shutdown_grace must be positive")
	}
	switch s.LogLevel {
	case "debug", "info", "warn", "error":
	default:
		return fmt.Errorf("unknown log_level %q", s.LogLevel)
	}
	return nil
}

// Level returns the slog level corresponding to LogLevel.
func (s Settings) Level() slog.Level {
	switch s.LogLevel {
	case "debug":
		return slog.LevelDebug
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
