package vm

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/fxamacker/cbor/v2"

	"github.com/chazu/sheep/pkg/bytecode"
)

var cborEncMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("vm: failed to create CBOR enc mode: %v", err))
	}
	cborEncMode = em
}

// ---------------------------------------------------------------------------
// String cache
// ---------------------------------------------------------------------------

// StringCache owns the text of strings restored from persisted state, so
// restored values never alias the buffer they were decoded from.
type StringCache struct {
	mu   sync.Mutex
	strs map[string]string
}

// NewStringCache returns an empty cache.
func NewStringCache() *StringCache {
	return &StringCache{strs: make(map[string]string)}
}

// Intern returns the cache's copy of s, adding it if needed.
func (c *StringCache) Intern(s string) string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if v, ok := c.strs[s]; ok {
		return v
	}
	v := strings.Clone(s)
	c.strs[v] = v
	return v
}

// Len returns the number of distinct strings held.
func (c *StringCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.strs)
}

// ---------------------------------------------------------------------------
// Stack state
// ---------------------------------------------------------------------------

// Slot is the persisted form of one Value.
type Slot struct {
	Type   uint8   `cbor:"t"`
	Int    int32   `cbor:"i,omitempty"`
	Float  uint32  `cbor:"f,omitempty"` // IEEE 754 bits, keeps -0
	String string  `cbor:"s,omitempty"`
}

func slotOf(v Value) Slot {
	return Slot{Type: uint8(v.typ), Int: v.i, Float: math.Float32bits(v.f), String: v.s}
}

func (s Slot) value(cache *StringCache) (Value, error) {
	switch Type(s.Type) {
	case TypeVoid:
		return Void, nil
	case TypeInt:
		return FromInt(s.Int), nil
	case TypeFloat:
		return FromFloat(math.Float32frombits(s.Float)), nil
	case TypeString:
		if cache != nil {
			return FromString(cache.Intern(s.String)), nil
		}
		return FromString(strings.Clone(s.String)), nil
	case typeStringOffset:
		return fromStringOffset(uint32(s.Int)), nil
	}
	return Void, fmt.Errorf("vm: unknown value tag %d", s.Type)
}

// StackState is the persisted form of a Stack, bottom first.
type StackState struct {
	Slots []Slot `cbor:"slots"`
}

// Snapshot captures the stack contents.
func (s *Stack) Snapshot() StackState {
	state := StackState{Slots: make([]Slot, len(s.slots))}
	for i, v := range s.slots {
		state.Slots[i] = slotOf(v)
	}
	return state
}

// Restore replaces the stack contents with state. Restored strings are
// interned in cache.
func (s *Stack) Restore(state StackState, cache *StringCache) error {
	if len(state.Slots) > StackCapacity {
		return fmt.Errorf("vm: restore stack: %d slots exceeds capacity %d", len(state.Slots), StackCapacity)
	}
	values := make([]Value, len(state.Slots))
	for i, slot := range state.Slots {
		v, err := slot.value(cache)
		if err != nil {
			return fmt.Errorf("vm: restore stack slot %d: %w", i, err)
		}
		values[i] = v
	}
	s.Clear()
	for _, v := range values {
		s.Push(v)
	}
	return nil
}

// MarshalStack serializes a stack to canonical CBOR.
func MarshalStack(s *Stack) ([]byte, error) {
	return cborEncMode.Marshal(s.Snapshot())
}

// UnmarshalStack decodes data into s, interning strings in cache.
func UnmarshalStack(data []byte, s *Stack, cache *StringCache) error {
	var state StackState
	if err := cbor.Unmarshal(data, &state); err != nil {
		return fmt.Errorf("vm: unmarshal stack: %w", err)
	}
	return s.Restore(state, cache)
}

// SaveStack serializes the operand stack of a live thread.
func (vm *VM) SaveStack(h ThreadHandle) ([]byte, error) {
	t := vm.lookup(h)
	if t == nil {
		return nil, ErrUnknownThread
	}
	return MarshalStack(&t.stack)
}

// LoadStack replaces the operand stack of a live thread.
func (vm *VM) LoadStack(h ThreadHandle, data []byte) error {
	t := vm.lookup(h)
	if t == nil {
		return ErrUnknownThread
	}
	return UnmarshalStack(data, &t.stack, vm.strings)
}

// ---------------------------------------------------------------------------
// Machine state
// ---------------------------------------------------------------------------

// ScriptSource resolves script names to compiled scripts.
type ScriptSource interface {
	Script(name string) (*bytecode.Script, error)
}

// SavedInstance is the persisted form of an Instance.
type SavedInstance struct {
	Script string `cbor:"script"`
	Vars   []Slot `cbor:"vars"`
}

// SavedThread is the persisted form of a suspended Thread.
type SavedThread struct {
	ID       uint64     `cbor:"id"`
	Tag      string     `cbor:"tag"`
	Script   string     `cbor:"script"`
	Function string     `cbor:"fn"`
	IP       int        `cbor:"ip"`
	Instance int        `cbor:"inst"`
	Waiting  bool       `cbor:"waiting,omitempty"`
	Stack    StackState `cbor:"stack"`
}

// State is a snapshot of every suspended thread and the instances they use.
type State struct {
	Ticks     uint64          `cbor:"ticks"`
	Instances []SavedInstance `cbor:"instances"`
	Threads   []SavedThread   `cbor:"threads"`
}

// SaveState serializes every yielded or blocked thread. It must be called
// between Ticks: a thread that is mid-instruction cannot be captured.
// Outstanding completions are not saved; a blocked thread is restored as if
// its wait had finished.
func (vm *VM) SaveState() ([]byte, error) {
	state := State{Ticks: vm.ticks}
	instIndex := make(map[int]int)

	for _, t := range vm.threads {
		switch t.state {
		case ThreadFree, ThreadTerminated:
			continue
		case ThreadRunning:
			return nil, fmt.Errorf("vm: save state: thread %d is running", t.id)
		}

		idx, ok := instIndex[t.instance]
		if !ok {
			inst := vm.instances[t.instance]
			saved := SavedInstance{Script: inst.script.Name, Vars: make([]Slot, len(inst.vars))}
			for i, v := range inst.vars {
				saved.Vars[i] = slotOf(v)
			}
			idx = len(state.Instances)
			state.Instances = append(state.Instances, saved)
			instIndex[t.instance] = idx
		}

		state.Threads = append(state.Threads, SavedThread{
			ID:       t.id,
			Tag:      t.tag,
			Script:   t.script.Name,
			Function: t.function,
			IP:       t.ip,
			Instance: idx,
			Waiting:  t.inWaitBlock && t.state != ThreadBlocked,
			Stack:    t.stack.Snapshot(),
		})
	}
	return cborEncMode.Marshal(state)
}

// RestoreState recreates the threads captured by SaveState as yielded
// threads that resume on the next Tick. Finish callbacks are not persisted;
// onFinish, if non-nil, is installed on every restored thread. The state is
// checked completely before any thread is created, so on error the VM is
// unchanged.
func (vm *VM) RestoreState(data []byte, source ScriptSource, onFinish func(Result)) ([]ThreadHandle, error) {
	var state State
	if err := cbor.Unmarshal(data, &state); err != nil {
		return nil, fmt.Errorf("vm: unmarshal state: %w", err)
	}

	restored := make([]*Instance, len(state.Instances))
	for i, saved := range state.Instances {
		script, err := source.Script(saved.Script)
		if err != nil {
			return nil, fmt.Errorf("vm: restore instance %q: %w", saved.Script, err)
		}
		if len(saved.Vars) != len(script.Variables) {
			return nil, fmt.Errorf("vm: restore instance %q: %d variables saved, script declares %d",
				saved.Script, len(saved.Vars), len(script.Variables))
		}
		vars := make([]Value, len(saved.Vars))
		for j, slot := range saved.Vars {
			v, err := slot.value(vm.strings)
			if err != nil {
				return nil, fmt.Errorf("vm: restore instance %q: %w", saved.Script, err)
			}
			vars[j] = v
		}
		restored[i] = &Instance{script: script, vars: vars}
	}

	stacks := make([]Stack, len(state.Threads))
	for i, saved := range state.Threads {
		if saved.Instance < 0 || saved.Instance >= len(restored) {
			return nil, fmt.Errorf("vm: restore thread %d: bad instance %d", saved.ID, saved.Instance)
		}
		if name := restored[saved.Instance].script.Name; !strings.EqualFold(name, saved.Script) {
			return nil, fmt.Errorf("vm: restore thread %d: script %q does not match instance %q",
				saved.ID, saved.Script, name)
		}
		if err := stacks[i].Restore(saved.Stack, vm.strings); err != nil {
			return nil, fmt.Errorf("vm: restore thread %d: %w", saved.ID, err)
		}
	}

	base := len(vm.instances)
	vm.instances = append(vm.instances, restored...)

	handles := make([]ThreadHandle, 0, len(state.Threads))
	for i, saved := range state.Threads {
		inst := restored[saved.Instance]
		inst.refs++

		t := vm.acquireThread()
		t.script = inst.script
		t.function = saved.Function
		t.ip = saved.IP
		t.tag = saved.Tag
		t.instance = base + saved.Instance
		t.inWaitBlock = saved.Waiting
		t.finish = onFinish
		t.stack = stacks[i]
		t.state = ThreadYielded
		t.yieldedAt = vm.ticks
		vm.yielded = append(vm.yielded, t.handle)
		handles = append(handles, t.handle)
	}
	return handles, nil
}
