package vm

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/zeebo/xxh3"

	"github.com/chazu/sheep/pkg/bytecode"
)

// MaxSysFuncArgs is the largest arity a system function may declare.
const MaxSysFuncArgs = 8

// NativeFunc implements a system function. Arguments arrive already coerced
// to the declared types; the result is coerced to the call-site variant.
type NativeFunc func(call *Call) Value

// SysFunc describes one host function callable from scripts.
type SysFunc struct {
	Name   string
	Return Type
	Args   []Type

	// Waitable functions may complete asynchronously when called inside a
	// wait block. See Call.Notify.
	Waitable bool

	// DevOnly functions are refused unless Options.DevFunctions is set.
	DevOnly bool

	Fn NativeFunc
}

// Signature formats the function as "ret Name(arg, ...)".
func (f *SysFunc) Signature() string {
	return bytecode.Import{Name: f.Name, Return: f.Return, Args: f.Args}.Signature()
}

// Hash returns the structural hash of the function's signature.
func (f *SysFunc) Hash() uint64 {
	return SignatureHash(f.Name, f.Return, f.Args)
}

// SignatureHash hashes a case-folded name together with its return and
// argument types. Two signatures that differ only in name case hash equal.
func SignatureHash(name string, ret Type, args []Type) uint64 {
	h := xxh3.New()
	h.WriteString(strings.ToLower(name))
	buf := make([]byte, 0, 2+len(args))
	buf = append(buf, 0, byte(ret))
	for _, a := range args {
		buf = append(buf, byte(a))
	}
	h.Write(buf)
	return h.Sum64()
}

// ---------------------------------------------------------------------------
// Registry
// ---------------------------------------------------------------------------

// Registry maps system-function names and signatures to implementations.
// Registration happens during setup; after Seal the registry is read-only
// and safe to share between VMs.
type Registry struct {
	mu     sync.RWMutex
	byName map[string]*SysFunc
	byHash map[uint64]*SysFunc
	sealed bool
}

// NewRegistry returns an empty, unsealed registry.
func NewRegistry() *Registry {
	return &Registry{
		byName: make(map[string]*SysFunc),
		byHash: make(map[uint64]*SysFunc),
	}
}

// Register adds a system function. Names are case-insensitive.
func (r *Registry) Register(f SysFunc) error {
	if f.Fn == nil {
		return fmt.Errorf("%w: %s", ErrNoNativeFunc, f.Name)
	}
	if len(f.Args) > MaxSysFuncArgs {
		return fmt.Errorf("%w: %s takes %d", ErrTooManyArgs, f.Name, len(f.Args))
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed {
		return fmt.Errorf("%w: cannot add %s", ErrRegistrySealed, f.Name)
	}
	key := strings.ToLower(f.Name)
	if _, exists := r.byName[key]; exists {
		return fmt.Errorf("%w: %s", ErrDuplicateSysFunc, f.Name)
	}

	fn := f
	fn.Args = append([]Type(nil), f.Args...)
	r.byName[key] = &fn
	r.byHash[fn.Hash()] = &fn
	return nil
}

// MustRegister is Register that panics on error, for static tables.
func (r *Registry) MustRegister(f SysFunc) {
	if err := r.Register(f); err != nil {
		panic(err)
	}
}

// Seal forbids further registration.
func (r *Registry) Seal() {
	r.mu.Lock()
	r.sealed = true
	r.mu.Unlock()
}

// Sealed reports whether Seal has been called.
func (r *Registry) Sealed() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sealed
}

// Lookup finds a system function by name, ignoring case.
func (r *Registry) Lookup(name string) (*SysFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.byName[strings.ToLower(name)]
	return f, ok
}

// LookupImport resolves a script import. The signature must match exactly;
// a name-only match with different types is reported as unresolved.
func (r *Registry) LookupImport(imp bytecode.Import) (*SysFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.byHash[SignatureHash(imp.Name, imp.Return, imp.Args)]
	if !ok || !strings.EqualFold(f.Name, imp.Name) {
		return nil, false
	}
	return f, true
}

// Len returns the number of registered functions.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byName)
}

// All returns the registered functions sorted by name.
func (r *Registry) All() []*SysFunc {
	r.mu.RLock()
	out := make([]*SysFunc, 0, len(r.byName))
	for _, f := range r.byName {
		out = append(out, f)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return strings.ToLower(out[i].Name) < strings.ToLower(out[j].Name)
	})
	return out
}

// ---------------------------------------------------------------------------
// Call context
// ---------------------------------------------------------------------------

// Call is the context handed to a NativeFunc for one invocation.
type Call struct {
	vm     *VM
	fn     *SysFunc
	thread ThreadHandle
	tag    string
	id     uint64
	wait   bool

	errMsg string

	// Args holds the call's arguments in declaration order.
	Args []Value
}

// VM returns the machine running the call.
func (c *Call) VM() *VM { return c.vm }

// Func returns the function being invoked.
func (c *Call) Func() *SysFunc { return c.fn }

// Thread returns the handle of the calling thread.
func (c *Call) Thread() ThreadHandle { return c.thread }

// ThreadID returns the calling thread's monotonic id.
func (c *Call) ThreadID() uint64 { return c.id }

// Tag returns the calling thread's tag.
func (c *Call) Tag() string { return c.tag }

func (c *Call) arg(i int) Value {
	if i < 0 || i >= len(c.Args) {
		return Void
	}
	return c.Args[i]
}

func (c *Call) Int(i int) int32     { return c.arg(i).AsInt() }
func (c *Call) Float(i int) float32 { return c.arg(i).AsFloat() }
func (c *Call) String(i int) string { return c.arg(i).AsString() }

// Waiting reports whether the call may complete asynchronously: the function
// is waitable and the caller is inside a wait block.
func (c *Call) Waiting() bool { return c.wait }

// Notify registers a pending completion against the calling thread and
// returns the handle to complete it with. The thread's wait block will not
// end until every completion it took has been signalled. Outside a wait
// block, or for a non-waitable function, Notify returns a no-op Completion.
func (c *Call) Notify() Completion {
	if !c.wait {
		return Completion{}
	}
	return c.vm.acquireLink(c.thread)
}

// SetExecutionError records a script-visible error for the calling thread.
// The VM logs it with the thread's script and position.
func (c *Call) SetExecutionError(msg string) {
	c.errMsg = msg
}
