// Package manifest handles sheep.toml project configuration.
package manifest

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/BurntSushi/toml"
)

// FileName is the name of the project configuration file.
const FileName = "sheep.toml"

// Manifest represents a sheep.toml project configuration.
type Manifest struct {
	Project      Project               `toml:"project"`
	Scripts      Scripts               `toml:"scripts"`
	Dependencies map[string]Dependency `toml:"dependencies"`
	VM           VMConfig              `toml:"vm"`
	Log          LogConfig             `toml:"log"`

	// Dir is the directory containing the sheep.toml file (set at load time).
	Dir string `toml:"-"`
}

// Project contains project metadata.
type Project struct {
	Name    string `toml:"name"`
	Version string `toml:"version"`
}

// Scripts configures where scripts are found and which one runs first.
type Scripts struct {
	Dirs     []string `toml:"dirs"`
	Store    string   `toml:"store"`
	Entry    string   `toml:"entry"`
	Function string   `toml:"function"`
}

// Dependency is another directory of scripts searched after the
// project's own.
type Dependency struct {
	Path string `toml:"path"`
}

// VMConfig configures the virtual machine and the host loop driving it.
type VMConfig struct {
	DevFunctions bool  `toml:"dev-functions"`
	TickMS       int   `toml:"tick-ms"`
	MaxTicks     int   `toml:"max-ticks"`
	MaxThreads   int   `toml:"max-threads"`
	Trace        bool  `toml:"trace"`
	Seed         int64 `toml:"seed"` // 0 picks a time-based seed
}

// LogConfig configures logging.
type LogConfig struct {
	Verbosity int    `toml:"verbosity"`
	File      string `toml:"file"`
}

// Default returns the manifest used when a project has no sheep.toml.
func Default(dir string) *Manifest {
	m := &Manifest{Dir: dir}
	m.applyDefaults()
	return m
}

// Load parses a sheep.toml file from the given directory.
func Load(dir string) (*Manifest, error) {
	path := filepath.Join(dir, FileName)
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	m, err := Parse(data)
	if err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	m.Dir, err = filepath.Abs(dir)
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", dir, err)
	}
	return m, nil
}

// Parse decodes and validates manifest text. Dir is left empty.
func Parse(data []byte) (*Manifest, error) {
	var m Manifest
	md, err := toml.Decode(string(data), &m)
	if err != nil {
		return nil, err
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("unknown key %s", undecoded[0])
	}

	m.applyDefaults()
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return &m, nil
}

func (m *Manifest) applyDefaults() {
	if len(m.Scripts.Dirs) == 0 {
		m.Scripts.Dirs = []string{"scripts"}
	}
	if m.Scripts.Entry == "" {
		m.Scripts.Entry = "Main"
	}
	if m.Scripts.Function == "" {
		m.Scripts.Function = "main"
	}
	if m.VM.TickMS == 0 {
		m.VM.TickMS = 16
	}
	if m.Log.Verbosity == 0 {
		m.Log.Verbosity = 1
	}
}

// Validate reports settings that cannot work.
func (m *Manifest) Validate() error {
	if m.VM.TickMS < 0 {
		return fmt.Errorf("vm.tick-ms must be positive, got %d", m.VM.TickMS)
	}
	if m.VM.MaxTicks < 0 {
		return fmt.Errorf("vm.max-ticks must not be negative, got %d", m.VM.MaxTicks)
	}
	if m.VM.MaxThreads < 0 {
		return fmt.Errorf("vm.max-threads must not be negative, got %d", m.VM.MaxThreads)
	}
	for name, dep := range m.Dependencies {
		if dep.Path == "" {
			return fmt.Errorf("dependency %s has no path", name)
		}
	}
	return nil
}

// FindAndLoad walks up from startDir to find a sheep.toml file,
// then loads and returns the manifest. Returns nil if no manifest is found.
func FindAndLoad(startDir string) (*Manifest, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, FileName)
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

// ScriptDirPaths returns absolute paths for the project's script
// directories followed by its dependencies in name order.
func (m *Manifest) ScriptDirPaths() []string {
	var paths []string
	for _, d := range m.Scripts.Dirs {
		paths = append(paths, m.resolve(d))
	}

	names := make([]string, 0, len(m.Dependencies))
	for name := range m.Dependencies {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		paths = append(paths, m.resolve(m.Dependencies[name].Path))
	}
	return paths
}

// StorePath returns the path of the compiled-script database, or "" when
// none is configured.
func (m *Manifest) StorePath() string {
	if m.Scripts.Store == "" {
		return ""
	}
	return m.resolve(m.Scripts.Store)
}

// LogPath returns the log file path, or nil to log to stderr.
func (m *Manifest) LogPath() *string {
	if m.Log.File == "" {
		return nil
	}
	p := m.resolve(m.Log.File)
	return &p
}

func (m *Manifest) resolve(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(m.Dir, p)
}
