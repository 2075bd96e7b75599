package vm

import (
	"fmt"

	"github.com/chazu/sheep/pkg/bytecode"
)

// ThreadState is the scheduling state of a thread.
type ThreadState uint8

const (
	// ThreadFree marks an unused arena slot.
	ThreadFree ThreadState = iota
	ThreadRunning
	// ThreadYielded threads resume on the next Tick.
	ThreadYielded
	// ThreadBlocked threads sit at END_WAIT until their pending completions
	// have all been signalled.
	ThreadBlocked
	ThreadTerminated
)

func (s ThreadState) String() string {
	switch s {
	case ThreadFree:
		return "free"
	case ThreadRunning:
		return "running"
	case ThreadYielded:
		return "yielded"
	case ThreadBlocked:
		return "blocked"
	case ThreadTerminated:
		return "terminated"
	}
	return fmt.Sprintf("ThreadState(%d)", uint8(s))
}

// ThreadHandle is a generation-checked reference to a thread slot. Handles
// to finished threads stay safe to use; lookups through them simply fail.
// The zero handle never refers to a thread.
type ThreadHandle struct {
	index int32
	gen   uint32
}

// IsZero reports whether h is the zero handle.
func (h ThreadHandle) IsZero() bool { return h.gen == 0 }

func (h ThreadHandle) String() string {
	return fmt.Sprintf("thread[%d#%d]", h.index, h.gen)
}

// Thread is one execution of a script function.
type Thread struct {
	handle ThreadHandle
	id     uint64
	state  ThreadState

	script   *bytecode.Script
	function string
	instance int
	ip       int
	stack    Stack
	tag      string

	waitCount   int
	inWaitBlock bool

	// yieldedAt is the tick count when the thread last yielded; Tick only
	// resumes threads that yielded before it started.
	yieldedAt uint64

	finish func(Result)
}

func (t *Thread) reset() {
	t.id = 0
	t.state = ThreadFree
	t.script = nil
	t.function = ""
	t.instance = -1
	t.ip = 0
	t.stack.Clear()
	t.tag = ""
	t.waitCount = 0
	t.inWaitBlock = false
	t.yieldedAt = 0
	t.finish = nil
}

// ThreadInfo is a read-only snapshot of a thread.
type ThreadInfo struct {
	Handle      ThreadHandle
	ID          uint64
	Tag         string
	Script      string
	Function    string
	State       ThreadState
	IP          int
	StackSize   int
	WaitCount   int
	InWaitBlock bool
}

func (t *Thread) info() ThreadInfo {
	info := ThreadInfo{
		Handle:      t.handle,
		ID:          t.id,
		Tag:         t.tag,
		Function:    t.function,
		State:       t.state,
		IP:          t.ip,
		StackSize:   t.stack.Size(),
		WaitCount:   t.waitCount,
		InWaitBlock: t.inWaitBlock,
	}
	if t.script != nil {
		info.Script = t.script.Name
	}
	return info
}

// ---------------------------------------------------------------------------
// Arena
// ---------------------------------------------------------------------------

func (vm *VM) acquireThread() *Thread {
	var t *Thread
	if n := len(vm.freeThreads); n > 0 {
		t = vm.threads[vm.freeThreads[n-1]]
		vm.freeThreads = vm.freeThreads[:n-1]
	} else {
		t = &Thread{handle: ThreadHandle{index: int32(len(vm.threads))}, instance: -1}
		vm.threads = append(vm.threads, t)
	}
	t.handle.gen++
	vm.nextThreadID++
	t.id = vm.nextThreadID
	vm.liveThreads++
	return t
}

func (vm *VM) releaseThread(t *Thread) {
	t.reset()
	vm.freeThreads = append(vm.freeThreads, t.handle.index)
	vm.liveThreads--
}

// lookup returns the live thread behind h, or nil.
func (vm *VM) lookup(h ThreadHandle) *Thread {
	if h.gen == 0 || h.index < 0 || int(h.index) >= len(vm.threads) {
		return nil
	}
	t := vm.threads[h.index]
	if t.handle.gen != h.gen || t.state == ThreadFree {
		return nil
	}
	return t
}

// alive reports whether t still belongs to the execution identified by h.
func alive(t *Thread, h ThreadHandle) bool {
	return t.handle.gen == h.gen && t.state != ThreadFree && t.state != ThreadTerminated
}
