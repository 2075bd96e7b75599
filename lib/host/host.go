// Package host drives a Sheep VM from a project manifest: it wires the
// standard system functions to a timer clock and a script library, and
// pumps ticks until a root script finishes.
package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math/rand"
	"time"

	"github.com/tliron/commonlog"

	"github.com/chazu/sheep/lib/store"
	"github.com/chazu/sheep/manifest"
	"github.com/chazu/sheep/vm"
)

var log = commonlog.GetLogger("sheep.host")

var (
	// ErrTickLimit is returned by Run when max-ticks elapse first.
	ErrTickLimit = errors.New("tick limit reached")

	// ErrNoStore is returned by save operations without a configured store.
	ErrNoStore = errors.New("no script store configured")
)

// Host owns a VM and the services its standard functions use.
type Host struct {
	Manifest *manifest.Manifest
	Registry *vm.Registry
	VM       *vm.VM
	Timers   *Timers
	Library  *Library
	Store    *store.Store // nil without scripts.store

	// Pace, when positive, is the wall-clock time Run waits between ticks.
	Pace time.Duration
}

// Option customizes a Host before its registry is sealed.
type Option func(*config)

type config struct {
	register []func(*vm.Registry) error
	onBreak  func(vm.ThreadInfo)
	logger   commonlog.Logger
}

// WithFunctions registers extra system functions alongside the standard
// ones.
func WithFunctions(register func(*vm.Registry) error) Option {
	return func(c *config) { c.register = append(c.register, register) }
}

// WithBreakpoint installs the BREAKPOINT handler.
func WithBreakpoint(fn func(vm.ThreadInfo)) Option {
	return func(c *config) { c.onBreak = fn }
}

// WithLogger replaces the VM's logger.
func WithLogger(l commonlog.Logger) Option {
	return func(c *config) { c.logger = l }
}

// New builds a host for m. Script output goes to out.
func New(m *manifest.Manifest, out io.Writer, opts ...Option) (*Host, error) {
	var cfg config
	for _, opt := range opts {
		opt(&cfg)
	}

	h := &Host{Manifest: m, Timers: &Timers{}}

	if path := m.StorePath(); path != "" {
		st, err := store.Open(path)
		if err != nil {
			return nil, fmt.Errorf("host: %w", err)
		}
		h.Store = st
	}
	h.Library = NewLibrary(m.ScriptDirPaths(), h.Store)

	seed := m.VM.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	h.Registry = vm.NewRegistry()
	err := vm.RegisterStandard(h.Registry, vm.StandardEnv{
		Output:  out,
		Timers:  h.Timers,
		Scripts: h.Library,
		Rand:    rand.New(rand.NewSource(seed)),
	})
	for _, register := range cfg.register {
		if err != nil {
			break
		}
		err = register(h.Registry)
	}
	if err != nil {
		h.Close()
		return nil, fmt.Errorf("host: %w", err)
	}
	h.Registry.Seal()

	h.VM = vm.New(h.Registry, vm.Options{
		DevFunctions: m.VM.DevFunctions,
		MaxThreads:   m.VM.MaxThreads,
		Trace:        m.VM.Trace,
		Logger:       cfg.logger,
		OnBreakpoint: cfg.onBreak,
	})
	log.Debugf("host ready: %d system functions, tick %dms", h.Registry.Len(), m.VM.TickMS)
	return h, nil
}

// Close stops every thread and closes the store.
func (h *Host) Close() error {
	if h.VM != nil {
		h.VM.Shutdown()
	}
	h.Timers.Clear()
	if h.Store != nil {
		return h.Store.Close()
	}
	return nil
}

// Run executes function of the named script and pumps ticks until that
// thread finishes. The thread is stopped when ctx is cancelled or the
// manifest's max-ticks elapse; its Result is still returned alongside the
// error.
func (h *Host) Run(ctx context.Context, script, function string) (vm.Result, error) {
	s, err := h.Library.Script(script)
	if err != nil {
		return vm.Result{}, err
	}

	var result vm.Result
	done := false
	handle := h.VM.Execute(s, function, s.Name, func(r vm.Result) {
		result = r
		done = true
	})
	if handle.IsZero() {
		return vm.Result{}, fmt.Errorf("host: could not start %s.%s", script, function)
	}

	err = h.pump(ctx, func() bool { return done })
	if err != nil && !done {
		h.VM.Stop(handle)
	}
	return result, err
}

// RunAll pumps ticks until no threads remain, for example after Restore.
func (h *Host) RunAll(ctx context.Context) error {
	err := h.pump(ctx, func() bool { return h.VM.ActiveThreadCount() == 0 })
	if err != nil {
		h.VM.Shutdown()
	}
	return err
}

func (h *Host) pump(ctx context.Context, finished func() bool) error {
	var pace <-chan time.Time
	if h.Pace > 0 {
		ticker := time.NewTicker(h.Pace)
		defer ticker.Stop()
		pace = ticker.C
	}

	for ticks := 0; !finished(); ticks++ {
		if limit := h.Manifest.VM.MaxTicks; limit > 0 && ticks >= limit {
			log.Warningf("stopping after %d ticks", ticks)
			return ErrTickLimit
		}
		if pace != nil {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-pace:
			}
		} else if err := ctx.Err(); err != nil {
			return err
		}

		h.Timers.Advance(h.Manifest.VM.TickMS)
		h.VM.Tick()
	}
	return nil
}

// Save snapshots every thread into a new save slot.
func (h *Host) Save(label string) (string, error) {
	if h.Store == nil {
		return "", ErrNoStore
	}
	data, err := h.VM.SaveState()
	if err != nil {
		return "", fmt.Errorf("host: %w", err)
	}
	return h.Store.Save(label, data)
}

// Restore recreates the threads of a save slot. They resume on the next
// tick.
func (h *Host) Restore(id string) ([]vm.ThreadHandle, error) {
	if h.Store == nil {
		return nil, ErrNoStore
	}
	data, err := h.Store.LoadSave(id)
	if err != nil {
		return nil, err
	}
	return h.VM.RestoreState(data, h.Library, nil)
}
