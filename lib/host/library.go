package host

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/chazu/sheep/compiler"
	"github.com/chazu/sheep/lib/store"
	"github.com/chazu/sheep/pkg/bytecode"
	"github.com/chazu/sheep/vm"
)

// Script file extensions. Sources are compiled on load; bytecode files are
// deserialized.
const (
	ExtSource    = ".yaml"
	ExtSourceYml = ".yml"
	ExtBytecode  = ".shp"
)

// Library resolves script names to compiled scripts. Directories are
// searched in order, then the store. Names are case-insensitive and
// results are cached. It implements vm.ScriptSource.
type Library struct {
	dirs  []string
	store *store.Store

	mu    sync.Mutex
	cache map[string]*bytecode.Script
}

// NewLibrary creates a library over dirs and st; either may be empty.
func NewLibrary(dirs []string, st *store.Store) *Library {
	return &Library{
		dirs:  dirs,
		store: st,
		cache: make(map[string]*bytecode.Script),
	}
}

// Script returns the named script, loading it on first use.
func (l *Library) Script(name string) (*bytecode.Script, error) {
	key := strings.ToLower(name)

	l.mu.Lock()
	defer l.mu.Unlock()

	if s, ok := l.cache[key]; ok {
		return s, nil
	}

	s, err := l.load(name)
	if err != nil {
		return nil, err
	}
	l.cache[key] = s
	return s, nil
}

// Add caches s under its own name, shadowing any file or stored script.
func (l *Library) Add(s *bytecode.Script) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache[strings.ToLower(s.Name)] = s
}

// Invalidate drops every cached script.
func (l *Library) Invalidate() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.cache = make(map[string]*bytecode.Script)
}

func (l *Library) load(name string) (*bytecode.Script, error) {
	for _, dir := range l.dirs {
		path, ok := findScriptFile(dir, name)
		if !ok {
			continue
		}
		s, err := LoadFile(path)
		if err != nil {
			return nil, err
		}
		log.Debugf("loaded script %s from %s", s.Name, path)
		return s, nil
	}

	if l.store != nil {
		s, err := l.store.Script(name)
		if err == nil {
			return s, nil
		}
		if !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
	}
	return nil, fmt.Errorf("%w: %s", vm.ErrUnknownScript, name)
}

// Names lists every script the library can resolve, sorted and without
// duplicates.
func (l *Library) Names() ([]string, error) {
	seen := make(map[string]string)
	for _, dir := range l.dirs {
		entries, err := os.ReadDir(dir)
		if err != nil {
			if errors.Is(err, os.ErrNotExist) {
				continue
			}
			return nil, err
		}
		for _, e := range entries {
			if e.IsDir() || !isScriptFile(e.Name()) {
				continue
			}
			base := strings.TrimSuffix(e.Name(), filepath.Ext(e.Name()))
			if _, ok := seen[strings.ToLower(base)]; !ok {
				seen[strings.ToLower(base)] = base
			}
		}
	}
	if l.store != nil {
		stored, err := l.store.ScriptNames()
		if err != nil {
			return nil, err
		}
		for _, name := range stored {
			if _, ok := seen[strings.ToLower(name)]; !ok {
				seen[strings.ToLower(name)] = name
			}
		}
	}

	names := make([]string, 0, len(seen))
	for _, name := range seen {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool {
		return strings.ToLower(names[i]) < strings.ToLower(names[j])
	})
	return names, nil
}

// LoadFile compiles a source file or deserializes a bytecode file.
func LoadFile(path string) (*bytecode.Script, error) {
	if strings.EqualFold(filepath.Ext(path), ExtBytecode) {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, err
		}
		s, err := bytecode.Deserialize(data)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", path, err)
		}
		return s, nil
	}
	return compiler.CompileFile(path)
}

func isScriptFile(name string) bool {
	switch strings.ToLower(filepath.Ext(name)) {
	case ExtSource, ExtSourceYml, ExtBytecode:
		return true
	}
	return false
}

// findScriptFile looks for name with any script extension in dir,
// ignoring case. Source files win over bytecode.
func findScriptFile(dir, name string) (string, bool) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return "", false
	}
	var bytecodeMatch string
	for _, e := range entries {
		if e.IsDir() || !isScriptFile(e.Name()) {
			continue
		}
		ext := filepath.Ext(e.Name())
		if !strings.EqualFold(strings.TrimSuffix(e.Name(), ext), name) {
			continue
		}
		if strings.EqualFold(ext, ExtBytecode) {
			bytecodeMatch = filepath.Join(dir, e.Name())
			continue
		}
		return filepath.Join(dir, e.Name()), true
	}
	return bytecodeMatch, bytecodeMatch != ""
}
