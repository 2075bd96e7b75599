package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/chazu/sheep/lib/host"
	"github.com/chazu/sheep/manifest"
	"github.com/chazu/sheep/vm"
)

// cmdRun handles `sheep run`.
// Usage:
//
//	sheep run                        # manifest entry script and function
//	sheep run Greeter                # Greeter.main
//	sheep run -fast Greeter wander   # no wall-clock pacing
//	sheep run -restore <slot-id>     # resume a save slot
//
// An int result becomes the exit code.
func cmdRun(m *manifest.Manifest, args []string, verbose bool) (int, error) {
	fs := flag.NewFlagSet("run", flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	fast := fs.Bool("fast", false, "Tick as fast as possible instead of every tick-ms")
	trace := fs.Bool("trace", m.VM.Trace, "Log every instruction at debug level")
	dev := fs.Bool("dev", m.VM.DevFunctions, "Enable development-only system functions")
	maxTicks := fs.Int("max-ticks", m.VM.MaxTicks, "Stop after this many ticks (0 means no limit)")
	restore := fs.String("restore", "", "Resume the threads of a save slot instead of starting a script")
	if err := fs.Parse(args); err != nil {
		return 0, usageError("sheep run [-fast] [-trace] [-dev] [-max-ticks n] [-restore id] [script] [function]")
	}

	m.VM.Trace = *trace
	m.VM.DevFunctions = *dev
	m.VM.MaxTicks = *maxTicks

	h, err := host.New(m, os.Stdout, host.WithBreakpoint(func(info vm.ThreadInfo) {
		fmt.Fprintf(os.Stderr, "breakpoint: %s.%s @%04X thread %d [%s] stack %d\n",
			info.Script, info.Function, info.IP, info.ID, info.Tag, info.StackSize)
	}))
	if err != nil {
		return 0, err
	}
	defer h.Close()
	if !*fast {
		h.Pace = time.Duration(m.VM.TickMS) * time.Millisecond
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if *restore != "" {
		handles, err := h.Restore(*restore)
		if err != nil {
			return 0, err
		}
		if verbose {
			fmt.Fprintf(os.Stderr, "Restored %d threads\n", len(handles))
		}
		return 0, h.RunAll(ctx)
	}

	script, function := m.Scripts.Entry, m.Scripts.Function
	if fs.NArg() > 0 {
		script = fs.Arg(0)
	}
	if fs.NArg() > 1 {
		function = fs.Arg(1)
	}

	start := time.Now()
	result, err := h.Run(ctx, script, function)
	if verbose {
		fmt.Fprintf(os.Stderr, "%s.%s -> %s after %d ticks (%s)\n",
			script, function, result.Value, h.VM.Ticks(), time.Since(start).Round(time.Millisecond))
	}
	if err != nil {
		return 0, err
	}
	if result.Value.IsInt() {
		return int(result.Value.AsInt()), nil
	}
	return 0, nil
}
