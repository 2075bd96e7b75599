package vm

import (
	"strings"
	"sync"

	"github.com/tliron/commonlog"

	"github.com/chazu/sheep/pkg/bytecode"
)

// Options configures a VM.
type Options struct {
	// DevFunctions enables system functions registered as DevOnly.
	DevFunctions bool

	// MaxThreads caps the number of live threads; 0 means unlimited.
	MaxThreads int

	// Logger receives script and runtime errors. Defaults to "sheep.vm".
	Logger commonlog.Logger

	// Trace logs every decoded instruction at debug level.
	Trace bool

	// OnBreakpoint is invoked by the BREAKPOINT opcode.
	OnBreakpoint func(ThreadInfo)
}

// Result is handed to a thread's finish callback exactly once.
type Result struct {
	ThreadID uint64
	Tag      string

	// Value is the top of the stack when the thread returned, or Void.
	Value Value

	// Cancelled is set when the thread was stopped rather than returning.
	Cancelled bool
}

// VM owns the thread, instance and completion pools for a set of scripts.
// All methods except Completion.Done must be called from one goroutine.
type VM struct {
	registry *Registry
	opts     Options
	log      commonlog.Logger

	threads      []*Thread
	freeThreads  []int32
	liveThreads  int
	nextThreadID uint64

	instances []*Instance
	bindings  map[*bytecode.Script][]*SysFunc

	links     []notifyLink
	freeLinks []int32

	// pending is the only state touched from other goroutines.
	mu      sync.Mutex
	pending []Completion

	ready   []ThreadHandle
	yielded []ThreadHandle

	ticks   uint64
	strings *StringCache
}

// New creates a VM that resolves system functions through registry.
func New(registry *Registry, opts Options) *VM {
	if registry == nil {
		registry = NewRegistry()
	}
	log := opts.Logger
	if log == nil {
		log = commonlog.GetLogger("sheep.vm")
	}
	return &VM{
		registry: registry,
		opts:     opts,
		log:      log,
		strings:  NewStringCache(),
	}
}

// Registry returns the VM's system-function registry.
func (vm *VM) Registry() *Registry { return vm.registry }

// Logger returns the VM's logger.
func (vm *VM) Logger() commonlog.Logger { return vm.log }

// Strings returns the cache that owns text restored from persisted stacks.
func (vm *VM) Strings() *StringCache { return vm.strings }

// Ticks returns the number of Tick calls so far.
func (vm *VM) Ticks() uint64 { return vm.ticks }

// ---------------------------------------------------------------------------
// Starting threads
// ---------------------------------------------------------------------------

// Execute starts function (case-insensitive; empty means the first declared
// function, or offset 0) of script on a new thread and runs it until it
// returns, yields or blocks. finish is called exactly once when the thread
// ends. A missing script or function is logged and finish is called before
// Execute returns the zero handle.
func (vm *VM) Execute(script *bytecode.Script, function, tag string, finish func(Result)) ThreadHandle {
	return vm.start(script, function, tag, finish, nil)
}

// ExecuteFrom is Execute for a thread started by another thread. An empty
// tag inherits the parent's tag.
func (vm *VM) ExecuteFrom(parent ThreadHandle, script *bytecode.Script, function, tag string, finish func(Result)) ThreadHandle {
	if tag == "" {
		if p := vm.lookup(parent); p != nil {
			tag = p.tag
		}
	}
	return vm.start(script, function, tag, finish, nil)
}

func (vm *VM) start(script *bytecode.Script, function, tag string, finish func(Result), seed func([]Value)) ThreadHandle {
	fail := func() ThreadHandle {
		if finish != nil {
			finish(Result{Tag: tag})
		}
		return ThreadHandle{}
	}

	if script == nil {
		vm.log.Errorf("execute %q: no script", function)
		return fail()
	}
	entry, ok := entryPoint(script, function)
	if !ok {
		vm.log.Errorf("execute %s: function %q not found", script.Name, function)
		return fail()
	}
	if vm.opts.MaxThreads > 0 && vm.liveThreads >= vm.opts.MaxThreads {
		vm.log.Errorf("execute %s.%s: thread limit %d reached", script.Name, function, vm.opts.MaxThreads)
		return fail()
	}

	t := vm.acquireThread()
	t.state = ThreadRunning
	t.script = script
	t.function = function
	if function == "" {
		t.function, _ = script.FunctionAt(uint32(entry))
	}
	t.ip = entry
	t.tag = tag
	t.finish = finish
	t.instance = vm.acquireInstance(script)
	if seed != nil {
		seed(vm.instances[t.instance].vars)
	}

	h := t.handle
	vm.run(t)
	return h
}

func entryPoint(script *bytecode.Script, function string) (int, bool) {
	if function == "" {
		if len(script.Functions) > 0 {
			return int(script.Functions[0].Offset), true
		}
		return 0, true
	}
	off, ok := script.FunctionOffset(function)
	return int(off), ok
}

// Evaluate runs script synchronously as a boolean condition. When the first
// one or two variables are ints they are seeded with n and v. The result is
// the truthiness of the value left on top of the stack. A script that yields
// or blocks is stopped and reported as false.
func (vm *VM) Evaluate(script *bytecode.Script, n, v int32) bool {
	var (
		result   Result
		finished bool
	)
	seed := func(vars []Value) {
		if len(script.Variables) > 0 && script.Variables[0].Type == bytecode.TypeInt {
			vars[0] = FromInt(n)
		}
		if len(script.Variables) > 1 && script.Variables[1].Type == bytecode.TypeInt {
			vars[1] = FromInt(v)
		}
	}
	h := vm.start(script, "", "", func(r Result) {
		result = r
		finished = true
	}, seed)

	if !finished {
		name := ""
		if script != nil {
			name = script.Name
		}
		vm.log.Errorf("evaluate %s: condition suspended; stopping it", name)
		if t := vm.lookup(h); t != nil {
			vm.terminate(t, true)
		}
		return false
	}
	return !result.Cancelled && result.Value.Truthy()
}

// ---------------------------------------------------------------------------
// Stopping threads
// ---------------------------------------------------------------------------

// StopByTag terminates every live thread whose tag matches (ignoring case),
// whatever its state. Their outstanding completions are detached and each
// finish callback runs once, with Cancelled set, before StopByTag returns.
// Threads started by those callbacks are not affected. Returns the number of
// threads stopped.
func (vm *VM) StopByTag(tag string) int {
	return vm.stopMatching(func(t *Thread) bool {
		return strings.EqualFold(t.tag, tag)
	})
}

// Stop terminates a single thread. Returns false if h is not live.
func (vm *VM) Stop(h ThreadHandle) bool {
	t := vm.lookup(h)
	if t == nil {
		return false
	}
	vm.terminate(t, true)
	return true
}

// Shutdown stops every thread, drops queued completions and empties the
// instance, binding and link pools. Completions handed out before Shutdown
// stay no-ops. Pools are kept if a finish callback started a new thread.
func (vm *VM) Shutdown() {
	vm.stopMatching(func(*Thread) bool { return true })
	vm.mu.Lock()
	vm.pending = nil
	vm.mu.Unlock()
	vm.ready = nil
	vm.yielded = nil
	vm.bindings = nil

	if vm.liveThreads > 0 {
		return
	}
	vm.instances = nil
	for i := range vm.links {
		if vm.links[i].inUse {
			vm.releaseLink(int32(i))
		}
	}
}

func (vm *VM) stopMatching(match func(*Thread) bool) int {
	var victims []ThreadHandle
	for _, t := range vm.threads {
		if t.state != ThreadFree && t.state != ThreadTerminated && match(t) {
			victims = append(victims, t.handle)
		}
	}
	stopped := 0
	for _, h := range victims {
		if t := vm.lookup(h); t != nil {
			vm.terminate(t, true)
			stopped++
		}
	}
	return stopped
}

// terminate ends t, releases its instance and slot, then calls finish.
func (vm *VM) terminate(t *Thread, cancelled bool) {
	if t.state == ThreadFree || t.state == ThreadTerminated {
		return
	}
	t.state = ThreadTerminated

	res := Result{ThreadID: t.id, Tag: t.tag, Cancelled: cancelled}
	if !cancelled && t.stack.Size() > 0 {
		res.Value = vm.resolve(t, t.stack.Peek(0))
	}
	finish := t.finish

	vm.detachLinks(t.handle)
	vm.releaseInstance(t.instance)
	vm.releaseThread(t)

	if finish != nil {
		finish(res)
	}
}

// ---------------------------------------------------------------------------
// Pumping
// ---------------------------------------------------------------------------

// Tick applies queued completions, resumes threads whose waits finished and
// resumes threads that yielded before this call. A thread that yields while
// being resumed here runs again on the next Tick.
func (vm *VM) Tick() {
	vm.ticks++
	vm.drainCompletions()

	ready := vm.ready
	vm.ready = nil
	for _, h := range ready {
		if t := vm.lookup(h); t != nil && t.state == ThreadBlocked && t.waitCount == 0 {
			vm.resume(t)
		}
	}

	yielded := vm.yielded
	vm.yielded = nil
	for _, h := range yielded {
		if t := vm.lookup(h); t != nil && t.state == ThreadYielded && t.yieldedAt < vm.ticks {
			vm.resume(t)
		}
	}
}

// Resume continues a yielded thread, or a blocked thread whose completions
// have all arrived, immediately instead of waiting for Tick.
func (vm *VM) Resume(h ThreadHandle) bool {
	vm.drainCompletions()
	t := vm.lookup(h)
	if t == nil {
		return false
	}
	switch {
	case t.state == ThreadYielded:
	case t.state == ThreadBlocked && t.waitCount == 0:
	default:
		return false
	}
	vm.resume(t)
	return true
}

func (vm *VM) resume(t *Thread) {
	if t.state == ThreadBlocked {
		t.inWaitBlock = false
	}
	t.state = ThreadRunning
	vm.run(t)
}

// ---------------------------------------------------------------------------
// Inspection
// ---------------------------------------------------------------------------

// Thread returns a snapshot of the thread behind h.
func (vm *VM) Thread(h ThreadHandle) (ThreadInfo, bool) {
	t := vm.lookup(h)
	if t == nil {
		return ThreadInfo{State: ThreadTerminated}, false
	}
	return t.info(), true
}

// Threads returns snapshots of every live thread, in slot order.
func (vm *VM) Threads() []ThreadInfo {
	var out []ThreadInfo
	for _, t := range vm.threads {
		if t.state != ThreadFree && t.state != ThreadTerminated {
			out = append(out, t.info())
		}
	}
	return out
}

// ActiveThreadCount returns the number of live threads.
func (vm *VM) ActiveThreadCount() int { return vm.liveThreads }

// OutstandingCompletions returns the number of completions handed out and
// not yet signalled, including those of stopped threads.
func (vm *VM) OutstandingCompletions() int { return vm.outstandingLinks() }
