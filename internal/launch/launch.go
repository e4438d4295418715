// Package launch reads debug launch configurations.
//
// The file format follows the common launch.json convention: a top-level
// "configurations" array of named entries. Documents are queried with gjson
// rather than unmarshaled wholesale, so unknown editor-specific keys pass
// through untouched, and command-line overrides are applied to the raw
// document with sjson before a configuration is extracted.
package launch

import (
	"fmt"
	"os"

	"github.com/tidwall/gjson"
	"github.com/tidwall/sjson"

	"github.com/dshills/gdbmi/internal/adapter"
)

// Config is one launch configuration.
type Config struct {
	// Name identifies the configuration.
	Name string

	// Program is the inferior executable.
	Program string

	// Args are the inferior's command-line arguments.
	Args []string

	// Cwd is the working directory for the backend.
	Cwd string

	// Env are extra environment variables, KEY=VALUE form.
	Env []string

	// BackendPath overrides the configured backend executable.
	BackendPath string

	// BackendArgs are extra backend arguments.
	BackendArgs []string
}

// Document is a parsed launch file.
type Document struct {
	raw string
}

// Load reads a launch file from disk.
func Load(path string) (*Document, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read launch file %s: %w", path, err)
	}
	return Parse(data)
}

// Parse parses launch file content.
func Parse(data []byte) (*Document, error) {
	if !gjson.ValidBytes(data) {
		return nil, fmt.Errorf("launch file is not valid JSON")
	}
	doc := &Document{raw: string(data)}
	if !gjson.Get(doc.raw, "configurations").IsArray() {
		return nil, fmt.Errorf("launch file has no configurations array")
	}
	return doc, nil
}

// Names lists the configuration names in document order.
func (d *Document) Names() []string {
	var names []string
	gjson.Get(d.raw, "configurations").ForEach(func(_, cfg gjson.Result) bool {
		names = append(names, cfg.Get("name").String())
		return true
	})
	return names
}

// indexOf finds the configuration with the given name, or the first one
// when name is empty. Returns -1 if not found.
func (d *Document) indexOf(name string) int {
	index := -1
	i := 0
	gjson.Get(d.raw, "configurations").ForEach(func(_, cfg gjson.Result) bool {
		if name == "" || cfg.Get("name").String() == name {
			index = i
			return false
		}
		i++
		return true
	})
	return index
}

// Override sets a key on the named configuration (the first one when name
// is empty) in the raw document. Later Select calls see the new value.
func (d *Document) Override(name, key string, value any) error {
	idx := d.indexOf(name)
	if idx < 0 {
		return fmt.Errorf("launch configuration %q not found", name)
	}

	path := fmt.Sprintf("configurations.%d.%s", idx, key)
	raw, err := sjson.Set(d.raw, path, value)
	if err != nil {
		return fmt.Errorf("override %s: %w", key, err)
	}
	d.raw = raw
	return nil
}

// Select extracts the named configuration (the first one when name is
// empty) and validates it.
func (d *Document) Select(name string) (Config, error) {
	idx := d.indexOf(name)
	if idx < 0 {
		if name == "" {
			return Config{}, fmt.Errorf("launch file has no configurations")
		}
		return Config{}, fmt.Errorf("launch configuration %q not found", name)
	}

	entry := gjson.Get(d.raw, fmt.Sprintf("configurations.%d", idx))
	cfg := Config{
		Name:        entry.Get("name").String(),
		Program:     entry.Get("program").String(),
		Cwd:         entry.Get("cwd").String(),
		BackendPath: entry.Get("backendPath").String(),
	}

	entry.Get("args").ForEach(func(_, v gjson.Result) bool {
		cfg.Args = append(cfg.Args, v.String())
		return true
	})
	entry.Get("backendArgs").ForEach(func(_, v gjson.Result) bool {
		cfg.BackendArgs = append(cfg.BackendArgs, v.String())
		return true
	})
	entry.Get("env").ForEach(func(k, v gjson.Result) bool {
		cfg.Env = append(cfg.Env, fmt.Sprintf("%s=%s", k.String(), v.String()))
		return true
	})

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration is usable.
func (c Config) Validate() error {
	if c.Program == "" {
		name := c.Name
		if name == "" {
			name = "<unnamed>"
		}
		return fmt.Errorf("launch configuration %s: program is required", name)
	}
	return nil
}

// StartParams converts the configuration into adapter start parameters,
// filling the backend path from defaultBackend when not overridden.
func (c Config) StartParams(defaultBackend string, defaultBackendArgs []string) adapter.StartParams {
	backend := c.BackendPath
	if backend == "" {
		backend = defaultBackend
	}

	backendArgs := append([]string{}, defaultBackendArgs...)
	backendArgs = append(backendArgs, c.BackendArgs...)

	return adapter.StartParams{
		BackendPath: backend,
		BackendArgs: backendArgs,
		Executable:  c.Program,
		ProcessArgs: append([]string{}, c.Args...),
		WorkingDir:  c.Cwd,
		Environment: append([]string{}, c.Env...),
	}
}
