package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/chazu/sheep/compiler"
	"github.com/chazu/sheep/lib/host"
	"github.com/chazu/sheep/lib/store"
	"github.com/chazu/sheep/manifest"
	"github.com/chazu/sheep/pkg/bytecode"
)

// cmdAsm handles `sheep asm`.
// Usage:
//
//	sheep asm scripts/Greeter.yaml        # scripts/Greeter.shp
//	sheep asm -o build scripts/*.yaml     # build/*.shp
//	sheep asm -store scripts/*.yaml       # into the manifest's script store
func cmdAsm(m *manifest.Manifest, args []string, verbose bool) error {
	fs := flag.NewFlagSet("asm", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	outDir := fs.String("o", "", "Output directory (defaults to each source's directory)")
	toStore := fs.Bool("store", false, "Write compiled scripts to the script store instead of files")
	if err := fs.Parse(args); err != nil || fs.NArg() == 0 {
		return usageError("sheep asm [-o dir] [-store] <file.yaml>...")
	}

	var st *store.Store
	if *toStore {
		path := m.StorePath()
		if path == "" {
			return host.ErrNoStore
		}
		var err error
		st, err = store.Open(path)
		if err != nil {
			return err
		}
		defer st.Close()
	}

	for _, src := range fs.Args() {
		script, err := compiler.CompileFile(src)
		if err != nil {
			return err
		}

		if st != nil {
			if err := st.PutScript(script); err != nil {
				return err
			}
			if verbose {
				fmt.Printf("Stored %s (%d bytes of code)\n", script.Name, len(script.Code))
			}
			continue
		}

		dst := bytecodePath(src, *outDir)
		data, err := script.Serialize()
		if err != nil {
			return fmt.Errorf("%s: %w", src, err)
		}
		if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
			return err
		}
		if err := os.WriteFile(dst, data, 0644); err != nil {
			return err
		}
		if verbose {
			fmt.Printf("Wrote %s (%d bytes)\n", dst, len(data))
		}
	}
	return nil
}

// bytecodePath swaps src's extension for .shp, moving it into dir if set.
func bytecodePath(src, dir string) string {
	base := strings.TrimSuffix(filepath.Base(src), filepath.Ext(src)) + host.ExtBytecode
	if dir == "" {
		dir = filepath.Dir(src)
	}
	return filepath.Join(dir, base)
}

// cmdDisasm handles `sheep disasm <file|script>`. An argument that names an
// existing file is loaded directly; anything else is resolved through the
// project's script library.
func cmdDisasm(m *manifest.Manifest, args []string, w io.Writer) error {
	if len(args) != 1 {
		return usageError("sheep disasm <file|script>")
	}

	script, err := loadForDisasm(m, args[0])
	if err != nil {
		return err
	}
	return writeListing(w, script.Disassemble(), isTerminal(w))
}

func loadForDisasm(m *manifest.Manifest, arg string) (*bytecode.Script, error) {
	if info, err := os.Stat(arg); err == nil && !info.IsDir() {
		return host.LoadFile(arg)
	}

	var st *store.Store
	if path := m.StorePath(); path != "" {
		var err error
		st, err = store.Open(path)
		if err != nil {
			return nil, err
		}
		defer st.Close()
	}
	return host.NewLibrary(m.ScriptDirPaths(), st).Script(arg)
}

const (
	ansiDim   = "\x1b[2m"
	ansiBold  = "\x1b[1m"
	ansiReset = "\x1b[0m"
)

// writeListing prints a disassembly, dimming comment lines and
// highlighting function labels when color is set.
func writeListing(w io.Writer, listing string, color bool) error {
	bw := bufio.NewWriter(w)
	for _, line := range strings.SplitAfter(listing, "\n") {
		if line == "" {
			continue
		}
		switch {
		case !color:
			bw.WriteString(line)
		case strings.HasPrefix(line, ";"):
			bw.WriteString(ansiDim + strings.TrimSuffix(line, "\n") + ansiReset + "\n")
		case strings.HasSuffix(strings.TrimSpace(line), ":"):
			bw.WriteString(ansiBold + strings.TrimSuffix(line, "\n") + ansiReset + "\n")
		default:
			bw.WriteString(line)
		}
	}
	return bw.Flush()
}

func isTerminal(w io.Writer) bool {
	f, ok := w.(*os.File)
	if !ok {
		return false
	}
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}
