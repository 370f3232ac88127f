// Package manifest handles flowvm.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// Manifest represents a flowvm.toml project configuration.
type Manifest struct {
	Project Project `toml:"project"`
	Program Program `toml:"program"`
	Run     Run     `toml:"run"`

	// Dir is the directory containing the flowvm.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// Program locates the compiled program image.
type Program struct {
	Path   string `toml:"path"`
	Format string `toml:"format"`
}

// Run configures which events to trigger and how the host ticks the engine.
type Run struct {
	Events       []EventSpec `toml:"events"`
	StepsPerTick int         `toml:"steps-per-tick"`
}

// EventSpec names one event to trigger, with an optional YAML document of
// input values.
type EventSpec struct {
	Name   string `toml:"name"`
	Inputs string `toml:"inputs"`
}

// Load parses a flowvm.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, "flowvm.toml")
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var m Manifest
	if err := toml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}

	// Defaults
	if m.Program.Path == "" {
		m.Program.Path = "program.flow"
	}
	if m.Program.Format == "" {
		m.Program.Format = "cbor"
	}

	if err := m.validate(path); err != nil {
		return nil, err
	}
	return &m, nil
}

// FindAndLoad walks up from startDir to find a flowvm.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, "flowvm.toml")
		if _, err := os.Stat(path); err == nil {
			return Load(dir)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			// Reached root
			return nil, nil
		}
		dir = parent
	}
}

func (m *Manifest) validate(path string) error {
	if m.Project.Name == "" {
		return fmt.Errorf("%s: project.name is required", path)
	}
	if m.Program.Format != "cbor" {
		return fmt.Errorf("%s: unsupported program format %q", path, m.Program.Format)
	}
	if m.Run.StepsPerTick < 0 {
		return fmt.Errorf("%s: run.steps-per-tick cannot be negative", path)
	}
	for i, ev := range m.Run.Events {
		if ev.Name == "" {
			return fmt.Errorf("%s: run.events[%d] has no name", path, i)
		}
	}
	return nil
}

// ProgramPath returns the absolute path of the compiled program image.
func (m *Manifest) ProgramPath() string {
	if filepath.IsAbs(m.Program.Path) {
		return m.Program.Path
	}
	return filepath.Join(m.Dir, m.Program.Path)
}
