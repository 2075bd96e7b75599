package host

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/sheep/lib/store"
	"github.com/chazu/sheep/pkg/bytecode"
	"github.com/chazu/sheep/vm"
)

func writeScript(t *testing.T, dir, name string, data []byte) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), data, 0644))
}

func compiled(name string) *bytecode.Script {
	s := bytecode.NewScript(name)
	s.AddFunction("main", 0)
	s.EmitInt(bytecode.OpPushI, 42)
	s.Emit(bytecode.OpReturn)
	return s
}

func TestLibraryLoadsSourceIgnoringCase(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "Greeter.yaml", []byte(greeterSrc))
	lib := NewLibrary([]string{dir}, nil)

	s, err := lib.Script("GREETER")
	require.NoError(t, err)
	assert.Equal(t, "Greeter", s.Name)

	again, err := lib.Script("greeter")
	require.NoError(t, err)
	assert.Same(t, s, again, "scripts are cached")

	lib.Invalidate()
	fresh, err := lib.Script("greeter")
	require.NoError(t, err)
	assert.NotSame(t, s, fresh)
}

func TestLibraryLoadsBytecode(t *testing.T) {
	dir := t.TempDir()
	data, err := compiled("Barn").Serialize()
	require.NoError(t, err)
	writeScript(t, dir, "barn.shp", data)

	s, err := NewLibrary([]string{dir}, nil).Script("Barn")
	require.NoError(t, err)
	assert.Equal(t, compiled("Barn").Code, s.Code)
}

func TestLibraryPrefersSourceOverBytecode(t *testing.T) {
	dir := t.TempDir()
	data, err := compiled("Greeter").Serialize()
	require.NoError(t, err)
	writeScript(t, dir, "greeter.shp", data)
	writeScript(t, dir, "greeter.yml", []byte(greeterSrc))

	s, err := NewLibrary([]string{dir}, nil).Script("greeter")
	require.NoError(t, err)
	assert.Len(t, s.Imports, 1, "compiled from source")
}

func TestLibrarySearchesDirsInOrder(t *testing.T) {
	first, second := t.TempDir(), t.TempDir()
	writeScript(t, second, "Greeter.yaml", []byte(greeterSrc))
	data, err := compiled("Greeter").Serialize()
	require.NoError(t, err)
	writeScript(t, first, "Greeter.shp", data)

	s, err := NewLibrary([]string{first, second}, nil).Script("greeter")
	require.NoError(t, err)
	assert.Empty(t, s.Imports, "first directory wins")
}

func TestLibraryFallsBackToStore(t *testing.T) {
	st, err := store.Open(store.Memory)
	require.NoError(t, err)
	defer st.Close()
	require.NoError(t, st.PutScript(compiled("Meadow")))

	lib := NewLibrary([]string{filepath.Join(t.TempDir(), "missing")}, st)
	s, err := lib.Script("meadow")
	require.NoError(t, err)
	assert.Equal(t, "Meadow", s.Name)

	_, err = lib.Script("nowhere")
	assert.ErrorIs(t, err, vm.ErrUnknownScript)
}

func TestLibraryReportsCompileErrors(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "broken.yaml", []byte("name: Broken\nfunctions:\n  main: |\n    frobnicate\n"))

	_, err := NewLibrary([]string{dir}, nil).Script("broken")
	require.Error(t, err)
	assert.NotErrorIs(t, err, vm.ErrUnknownScript)
}

func TestLibraryAddShadowsFiles(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "Greeter.yaml", []byte(greeterSrc))
	lib := NewLibrary([]string{dir}, nil)

	lib.Add(compiled("greeter"))
	s, err := lib.Script("Greeter")
	require.NoError(t, err)
	assert.Empty(t, s.Imports)
}

func TestLibraryNames(t *testing.T) {
	dir := t.TempDir()
	writeScript(t, dir, "Greeter.yaml", []byte(greeterSrc))
	writeScript(t, dir, "greeter.shp", []byte("ignored"))
	writeScript(t, dir, "notes.txt", []byte("not a script"))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.yaml"), 0755))

	st, err := store.Open(store.Memory)
	require.NoError(t, err)
	defer st.Close()
	require.NoError(t, st.PutScript(compiled("Barn")))
	require.NoError(t, st.PutScript(compiled("GREETER")))

	names, err := NewLibrary([]string{dir, filepath.Join(dir, "absent")}, st).Names()
	require.NoError(t, err)
	assert.Equal(t, []string{"Barn", "Greeter"}, names)
}
