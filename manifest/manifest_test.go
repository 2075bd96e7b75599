package manifest

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeManifest(t *testing.T, dir, content string) {
	t.Helper()
	if err := os.WriteFile(filepath.Join(dir, FileName), []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
}

func TestLoadManifest(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[project]
name = "pasture"
version = "0.1.0"

[scripts]
dirs = ["scripts", "levels"]
store = ".sheep/scripts.db"
entry = "Intro"
function = "start"

[dependencies]
shared = { path = "../shared" }

[vm]
dev-functions = true
tick-ms = 33
max-ticks = 600
max-threads = 64
trace = true
seed = 7

[log]
verbosity = 2
file = "sheep.log"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if m.Project.Name != "pasture" {
		t.Errorf("project name = %q, want pasture", m.Project.Name)
	}
	if m.Project.Version != "0.1.0" {
		t.Errorf("project version = %q, want 0.1.0", m.Project.Version)
	}
	if len(m.Scripts.Dirs) != 2 {
		t.Errorf("script dirs count = %d, want 2", len(m.Scripts.Dirs))
	}
	if m.Scripts.Entry != "Intro" || m.Scripts.Function != "start" {
		t.Errorf("entry = %s.%s, want Intro.start", m.Scripts.Entry, m.Scripts.Function)
	}
	if dep, ok := m.Dependencies["shared"]; !ok || dep.Path != "../shared" {
		t.Errorf("shared dep = %v, want path ../shared", m.Dependencies["shared"])
	}
	if !m.VM.DevFunctions || !m.VM.Trace {
		t.Error("vm dev-functions/trace = false, want true")
	}
	if m.VM.TickMS != 33 || m.VM.MaxTicks != 600 || m.VM.MaxThreads != 64 || m.VM.Seed != 7 {
		t.Errorf("vm = %+v", m.VM)
	}
	if m.Log.Verbosity != 2 {
		t.Errorf("log verbosity = %d, want 2", m.Log.Verbosity)
	}

	abs, _ := filepath.Abs(dir)
	if m.Dir != abs {
		t.Errorf("dir = %q, want %q", m.Dir, abs)
	}
	if got, want := m.StorePath(), filepath.Join(abs, ".sheep", "scripts.db"); got != want {
		t.Errorf("store path = %q, want %q", got, want)
	}
	if p := m.LogPath(); p == nil || *p != filepath.Join(abs, "sheep.log") {
		t.Errorf("log path = %v", p)
	}
}

func TestLoadManifestDefaults(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, `
[project]
name = "minimal"
`)

	m, err := Load(dir)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if len(m.Scripts.Dirs) != 1 || m.Scripts.Dirs[0] != "scripts" {
		t.Errorf("default script dirs = %v, want [scripts]", m.Scripts.Dirs)
	}
	if m.Scripts.Entry != "Main" || m.Scripts.Function != "main" {
		t.Errorf("default entry = %s.%s, want Main.main", m.Scripts.Entry, m.Scripts.Function)
	}
	if m.VM.TickMS != 16 {
		t.Errorf("default tick-ms = %d, want 16", m.VM.TickMS)
	}
	if m.Log.Verbosity != 1 {
		t.Errorf("default verbosity = %d, want 1", m.Log.Verbosity)
	}
	if m.StorePath() != "" {
		t.Errorf("store path = %q, want empty", m.StorePath())
	}
	if m.LogPath() != nil {
		t.Errorf("log path = %v, want nil", *m.LogPath())
	}
}

func TestParseRejects(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
	}{
		{"unknown key", "[vm]\nspeed = 3\n", "unknown key vm.speed"},
		{"negative tick", "[vm]\ntick-ms = -1\n", "tick-ms"},
		{"negative max ticks", "[vm]\nmax-ticks = -5\n", "max-ticks"},
		{"dependency without path", "[dependencies]\nshared = {}\n", "shared has no path"},
		{"bad toml", "[project\n", ""},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Parse([]byte(tc.content))
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tc.want) {
				t.Errorf("error %q does not mention %q", err, tc.want)
			}
		})
	}
}

func TestFindAndLoad(t *testing.T) {
	dir := t.TempDir()
	subDir := filepath.Join(dir, "a", "b", "c")
	if err := os.MkdirAll(subDir, 0755); err != nil {
		t.Fatal(err)
	}
	writeManifest(t, dir, `[project]
name = "found-project"
`)

	// Should find manifest when starting from a deep subdirectory
	m, err := FindAndLoad(subDir)
	if err != nil {
		t.Fatalf("FindAndLoad failed: %v", err)
	}
	if m == nil {
		t.Fatal("FindAndLoad returned nil")
	}
	if m.Project.Name != "found-project" {
		t.Errorf("project name = %q, want found-project", m.Project.Name)
	}
}

func TestFindAndLoadNotFound(t *testing.T) {
	dir := t.TempDir()
	m, err := FindAndLoad(dir)
	if err != nil {
		t.Fatalf("FindAndLoad error: %v", err)
	}
	if m != nil {
		t.Error("expected nil manifest when no sheep.toml exists")
	}
}

func TestLoadReportsParseErrors(t *testing.T) {
	dir := t.TempDir()
	writeManifest(t, dir, "[vm]\ntick-ms = \"fast\"\n")

	_, err := Load(dir)
	if err == nil || !strings.Contains(err.Error(), FileName) {
		t.Errorf("error = %v, want one naming %s", err, FileName)
	}
}

func TestScriptDirPaths(t *testing.T) {
	m := &Manifest{
		Dir: "/app",
		Scripts: Scripts{
			Dirs: []string{"scripts", "/abs/levels"},
		},
		Dependencies: map[string]Dependency{
			"zeta":  {Path: "../zeta"},
			"alpha": {Path: "vendor/alpha"},
		},
	}

	paths := m.ScriptDirPaths()
	want := []string{"/app/scripts", "/abs/levels", "/app/vendor/alpha", "/zeta"}
	if len(paths) != len(want) {
		t.Fatalf("paths = %v, want %v", paths, want)
	}
	for i := range want {
		if paths[i] != want[i] {
			t.Errorf("paths[%d] = %q, want %q", i, paths[i], want[i])
		}
	}
}

func TestDefault(t *testing.T) {
	m := Default("/proj")
	if m.Dir != "/proj" || m.Scripts.Entry != "Main" || m.VM.TickMS != 16 {
		t.Errorf("Default = %+v", m)
	}
}
