// Sheep CLI - runs, assembles and inspects Sheep scripts
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"

	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"

	"github.com/chazu/sheep/manifest"
)

func main() {
	dir := flag.String("C", ".", "Project directory (searched upwards for sheep.toml)")
	verbose := flag.Bool("v", false, "Verbose output")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: sheep [options] <command> [args...]\n\n")
		fmt.Fprintf(os.Stderr, "Commands:\n")
		fmt.Fprintf(os.Stderr, "  run [script] [function]   Run a script until it finishes\n")
		fmt.Fprintf(os.Stderr, "  asm <file.yaml>...        Assemble sources into .shp bytecode\n")
		fmt.Fprintf(os.Stderr, "  disasm <file|script>      Print a bytecode listing\n")
		fmt.Fprintf(os.Stderr, "  store <subcommand>        Inspect the script store\n")
		fmt.Fprintf(os.Stderr, "\nOptions:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  sheep run                       # Run the manifest's entry script\n")
		fmt.Fprintf(os.Stderr, "  sheep run -fast Greeter main    # Run without pacing ticks\n")
		fmt.Fprintf(os.Stderr, "  sheep asm -o out scripts/*.yaml # Write out/*.shp\n")
		fmt.Fprintf(os.Stderr, "  sheep store saves               # List save slots\n")
	}
	flag.Parse()

	args := flag.Args()
	if len(args) == 0 {
		flag.Usage()
		os.Exit(2)
	}

	m, err := loadManifest(*dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading manifest: %v\n", err)
		os.Exit(1)
	}
	configureLogging(m, *verbose)

	var code int
	switch args[0] {
	case "run":
		code, err = cmdRun(m, args[1:], *verbose)
	case "asm":
		err = cmdAsm(m, args[1:], *verbose)
	case "disasm":
		err = cmdDisasm(m, args[1:], os.Stdout)
	case "store":
		err = cmdStore(m, args[1:], os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", args[0])
		flag.Usage()
		os.Exit(2)
	}

	if err != nil {
		var usage usageError
		if errors.As(err, &usage) {
			fmt.Fprintln(os.Stderr, usage.Error())
			os.Exit(2)
		}
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	os.Exit(code)
}

// usageError is reported without the "Error:" prefix and exits with 2.
type usageError string

func (e usageError) Error() string { return "Usage: " + string(e) }

// loadManifest finds sheep.toml above dir, falling back to defaults
// rooted at dir.
func loadManifest(dir string) (*manifest.Manifest, error) {
	m, err := manifest.FindAndLoad(dir)
	if err != nil {
		return nil, err
	}
	if m != nil {
		return m, nil
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, err
	}
	return manifest.Default(abs), nil
}

func configureLogging(m *manifest.Manifest, verbose bool) {
	verbosity := m.Log.Verbosity
	if verbose && verbosity < 2 {
		verbosity = 2
	}
	commonlog.Configure(verbosity, m.LogPath())
}
