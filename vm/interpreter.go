package vm

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/chazu/sheep/pkg/bytecode"
)

// step tells the decode loop what to do after an instruction.
type step uint8

const (
	stepContinue step = iota
	stepYield
	stepBlock
	stepReturn
	// stepAbort means the thread was stopped (and possibly recycled) while
	// the instruction ran; the loop must not touch it again.
	stepAbort
)

type opHandler func(vm *VM, t *Thread, op bytecode.Opcode) step

// dispatch is filled in init; handlers reach back into run through nested
// Execute calls, which a composite literal would turn into an init cycle.
var dispatch [256]opHandler

func init() {
	dispatch[bytecode.OpSitnSpin] = func(*VM, *Thread, bytecode.Opcode) step { return stepContinue }
	dispatch[bytecode.OpYield] = func(*VM, *Thread, bytecode.Opcode) step { return stepYield }
	dispatch[bytecode.OpReturn] = func(*VM, *Thread, bytecode.Opcode) step { return stepReturn }

	for _, op := range []bytecode.Opcode{bytecode.OpCallSysV, bytecode.OpCallSysI, bytecode.OpCallSysF, bytecode.OpCallSysS} {
		dispatch[op] = opCallSys
	}

	dispatch[bytecode.OpBranch] = opBranch
	dispatch[bytecode.OpBranchGoto] = opBranch
	dispatch[bytecode.OpBranchIfZero] = opBranchIfZero
	dispatch[bytecode.OpBeginWait] = opBeginWait
	dispatch[bytecode.OpEndWait] = opEndWait

	for _, op := range []bytecode.Opcode{bytecode.OpStoreI, bytecode.OpStoreF, bytecode.OpStoreS} {
		dispatch[op] = opStore
	}
	for _, op := range []bytecode.Opcode{bytecode.OpLoadI, bytecode.OpLoadF, bytecode.OpLoadS} {
		dispatch[op] = opLoad
	}

	dispatch[bytecode.OpPushI] = opPushI
	dispatch[bytecode.OpPushF] = opPushF
	dispatch[bytecode.OpPushS] = opPushS
	dispatch[bytecode.OpPop] = opPop
	dispatch[bytecode.OpGetString] = opGetString

	for _, op := range []bytecode.Opcode{bytecode.OpAddI, bytecode.OpSubI, bytecode.OpMulI, bytecode.OpDivI, bytecode.OpMod} {
		dispatch[op] = opArithI
	}
	for _, op := range []bytecode.Opcode{bytecode.OpAddF, bytecode.OpSubF, bytecode.OpMulF, bytecode.OpDivF} {
		dispatch[op] = opArithF
	}
	dispatch[bytecode.OpNegI] = opNegI
	dispatch[bytecode.OpNegF] = opNegF

	for _, op := range []bytecode.Opcode{bytecode.OpEqI, bytecode.OpNeI, bytecode.OpGtI, bytecode.OpLtI, bytecode.OpGeI, bytecode.OpLeI} {
		dispatch[op] = opCompareI
	}
	for _, op := range []bytecode.Opcode{bytecode.OpEqF, bytecode.OpNeF, bytecode.OpGtF, bytecode.OpLtF, bytecode.OpGeF, bytecode.OpLeF} {
		dispatch[op] = opCompareF
	}

	dispatch[bytecode.OpIToF] = opIToF
	dispatch[bytecode.OpFToI] = opFToI
	dispatch[bytecode.OpAnd] = opLogic
	dispatch[bytecode.OpOr] = opLogic
	dispatch[bytecode.OpNot] = opNot
	dispatch[bytecode.OpBreakpoint] = opBreakpoint
}

// run executes t until it returns, yields, blocks or is stopped.
func (vm *VM) run(t *Thread) {
	h := t.handle
	code := t.script.Code

	for alive(t, h) && t.state == ThreadRunning {
		if t.ip < 0 || t.ip >= len(code) {
			// Falling off the end is an implicit return.
			vm.terminate(t, false)
			return
		}

		at := t.ip
		op := bytecode.Opcode(code[at])
		t.ip++

		if vm.opts.Trace {
			text, _ := t.script.DisassembleInstruction(at)
			vm.log.Debugf("%s %04X %-28s stack=%d", t.script.Name, at, text, t.stack.Size())
		}

		handler := dispatch[op]
		if handler == nil {
			vm.scriptErrorAt(t, at, "invalid opcode 0x%02X", byte(op))
			continue
		}

		switch handler(vm, t, op) {
		case stepContinue:
		case stepYield:
			t.state = ThreadYielded
			t.yieldedAt = vm.ticks
			vm.yielded = append(vm.yielded, h)
			return
		case stepBlock:
			t.state = ThreadBlocked
			return
		case stepReturn:
			vm.terminate(t, false)
			return
		case stepAbort:
			return
		}
	}
}

// operand reads the 4-byte operand following the current opcode.
func (t *Thread) operand(op bytecode.Opcode) uint32 {
	code := t.script.Code
	if t.ip+bytecode.OperandSize > len(code) {
		fatalf(op.String(), "truncated operand at %04X in %s", t.ip-1, t.script.Name)
	}
	v := binary.LittleEndian.Uint32(code[t.ip:])
	t.ip += bytecode.OperandSize
	return v
}

// scriptErrorAt logs a recoverable script error with its location.
func (vm *VM) scriptErrorAt(t *Thread, at int, format string, args ...any) {
	msg := fmt.Sprintf(format, args...)
	if line := t.script.GetSourceLine(uint32(at)); line > 0 {
		vm.log.Errorf("%s.%s @%04X (line %d): %s", t.script.Name, t.function, at, line, msg)
		return
	}
	vm.log.Errorf("%s.%s @%04X: %s", t.script.Name, t.function, at, msg)
}

// resolve turns a string-offset marker into the pooled string it names.
func (vm *VM) resolve(t *Thread, v Value) Value {
	if !v.isStringOffset() {
		return v
	}
	s, ok := t.script.StringAt(uint32(v.i))
	if !ok {
		vm.scriptErrorAt(t, t.ip-1, "string offset %d outside pool", v.i)
		return FromString("")
	}
	return FromString(s)
}

// ---------------------------------------------------------------------------
// System calls
// ---------------------------------------------------------------------------

func opCallSys(vm *VM, t *Thread, op bytecode.Opcode) step {
	h := t.handle
	at := t.ip - 1
	idx := t.operand(op)
	ret := op.CallReturnType()

	argc := int(t.stack.PopInt())
	if argc < 0 || argc > MaxSysFuncArgs || argc > t.stack.Size() {
		fatalf(op.String(), "bad argument count %d at %04X in %s", argc, at, t.script.Name)
	}
	raw := make([]Value, argc)
	for i := argc - 1; i >= 0; i-- {
		raw[i] = vm.resolve(t, t.stack.Pop())
	}

	fn := vm.resolveImport(t, at, idx)
	if fn == nil {
		t.stack.Push(callResult(ret, Void))
		return stepContinue
	}
	if fn.DevOnly && !vm.opts.DevFunctions {
		vm.scriptErrorAt(t, at, "%s is a development function", fn.Name)
		t.stack.Push(callResult(ret, Void))
		return stepContinue
	}
	if argc != len(fn.Args) {
		vm.scriptErrorAt(t, at, "%s called with %d arguments, want %d", fn.Name, argc, len(fn.Args))
	}

	args := make([]Value, len(fn.Args))
	for i, typ := range fn.Args {
		if i < argc {
			args[i] = raw[i].As(typ)
		} else {
			args[i] = Zero(typ)
		}
	}

	call := &Call{
		vm:     vm,
		fn:     fn,
		thread: h,
		tag:    t.tag,
		id:     t.id,
		wait:   fn.Waitable && t.inWaitBlock,
		Args:   args,
	}
	script, function := t.script.Name, t.function
	out := fn.Fn(call)

	// The native may have stopped its own thread, which resets t.
	if call.errMsg != "" {
		vm.log.Errorf("%s.%s @%04X: %s: %s", script, function, at, fn.Name, call.errMsg)
	}
	if !alive(t, h) {
		return stepAbort
	}
	t.stack.Push(callResult(ret, vm.resolve(t, out)))
	return stepContinue
}

// callResult converts a native's return value to the call variant's type.
// The void variant pushes an Int 0 placeholder.
func callResult(ret Type, v Value) Value {
	if ret == TypeVoid {
		return FromInt(0)
	}
	return v.As(ret)
}

// resolveImport binds import idx of t's script to a registered function,
// caching the result per script.
func (vm *VM) resolveImport(t *Thread, at int, idx uint32) *SysFunc {
	script := t.script
	if int(idx) >= len(script.Imports) {
		vm.scriptErrorAt(t, at, "system function index %d out of range", idx)
		return nil
	}
	if vm.bindings == nil {
		vm.bindings = make(map[*bytecode.Script][]*SysFunc)
	}
	bound, ok := vm.bindings[script]
	if !ok {
		bound = make([]*SysFunc, len(script.Imports))
		for i, imp := range script.Imports {
			bound[i], _ = vm.registry.LookupImport(imp)
		}
		if vm.registry.Sealed() {
			vm.bindings[script] = bound
		}
	}
	if fn := bound[idx]; fn != nil {
		return fn
	}
	vm.scriptErrorAt(t, at, "unresolved system function %s", script.Imports[idx].Signature())
	return nil
}

// ---------------------------------------------------------------------------
// Control flow
// ---------------------------------------------------------------------------

func opBranch(_ *VM, t *Thread, op bytecode.Opcode) step {
	t.ip = int(t.operand(op))
	return stepContinue
}

func opBranchIfZero(_ *VM, t *Thread, op bytecode.Opcode) step {
	target := t.operand(op)
	if t.stack.PopInt() == 0 {
		t.ip = int(target)
	}
	return stepContinue
}

func opBeginWait(_ *VM, t *Thread, _ bytecode.Opcode) step {
	t.inWaitBlock = true
	return stepContinue
}

func opEndWait(vm *VM, t *Thread, _ bytecode.Opcode) step {
	if t.waitCount > 0 {
		// Completions signalled synchronously during the block are already
		// queued; apply them before deciding to block.
		vm.drainCompletions()
	}
	if t.waitCount > 0 {
		return stepBlock
	}
	t.inWaitBlock = false
	return stepContinue
}

func opBreakpoint(vm *VM, t *Thread, _ bytecode.Opcode) step {
	if vm.opts.OnBreakpoint != nil {
		h := t.handle
		vm.opts.OnBreakpoint(t.info())
		if !alive(t, h) {
			return stepAbort
		}
	}
	return stepContinue
}

// ---------------------------------------------------------------------------
// Variables and constants
// ---------------------------------------------------------------------------

func storeLoadType(op bytecode.Opcode) Type {
	switch op {
	case bytecode.OpStoreI, bytecode.OpLoadI:
		return TypeInt
	case bytecode.OpStoreF, bytecode.OpLoadF:
		return TypeFloat
	}
	return TypeString
}

func (vm *VM) variable(t *Thread, op bytecode.Opcode, idx uint32) *Value {
	vars := vm.instances[t.instance].vars
	if int(idx) >= len(vars) {
		fatalf(op.String(), "variable %d out of range (%d declared) in %s", idx, len(vars), t.script.Name)
	}
	want := storeLoadType(op)
	if got := t.script.Variables[idx].Type; got != want {
		fatalf(op.String(), "variable %q is %s, not %s", t.script.Variables[idx].Name, got, want)
	}
	return &vars[idx]
}

func opStore(vm *VM, t *Thread, op bytecode.Opcode) step {
	slot := vm.variable(t, op, t.operand(op))
	*slot = vm.resolve(t, t.stack.Pop()).As(storeLoadType(op))
	return stepContinue
}

func opLoad(vm *VM, t *Thread, op bytecode.Opcode) step {
	slot := vm.variable(t, op, t.operand(op))
	t.stack.Push(*slot)
	return stepContinue
}

func opPushI(_ *VM, t *Thread, op bytecode.Opcode) step {
	t.stack.PushInt(int32(t.operand(op)))
	return stepContinue
}

func opPushF(_ *VM, t *Thread, op bytecode.Opcode) step {
	t.stack.PushFloat(math.Float32frombits(t.operand(op)))
	return stepContinue
}

func opPushS(_ *VM, t *Thread, op bytecode.Opcode) step {
	t.stack.Push(fromStringOffset(t.operand(op)))
	return stepContinue
}

func opPop(_ *VM, t *Thread, _ bytecode.Opcode) step {
	t.stack.Pop()
	return stepContinue
}

func opGetString(vm *VM, t *Thread, _ bytecode.Opcode) step {
	v := t.stack.Pop()
	if v.isStringOffset() || v.IsString() {
		t.stack.Push(vm.resolve(t, v))
	} else {
		t.stack.Push(FromString(v.AsString()))
	}
	return stepContinue
}

// ---------------------------------------------------------------------------
// Arithmetic and logic
// ---------------------------------------------------------------------------

func opArithI(vm *VM, t *Thread, op bytecode.Opcode) step {
	b := t.stack.PopInt()
	a := t.stack.PopInt()
	var r int32
	switch op {
	case bytecode.OpAddI:
		r = a + b
	case bytecode.OpSubI:
		r = a - b
	case bytecode.OpMulI:
		r = a * b
	case bytecode.OpDivI, bytecode.OpMod:
		if b == 0 {
			vm.scriptErrorAt(t, t.ip-1, "%s by zero", op)
			break
		}
		if op == bytecode.OpDivI {
			r = a / b
		} else {
			r = a % b
		}
	}
	t.stack.PushInt(r)
	return stepContinue
}

func opArithF(vm *VM, t *Thread, op bytecode.Opcode) step {
	b := t.stack.PopFloat()
	a := t.stack.PopFloat()
	var r float32
	switch op {
	case bytecode.OpAddF:
		r = a + b
	case bytecode.OpSubF:
		r = a - b
	case bytecode.OpMulF:
		r = a * b
	case bytecode.OpDivF:
		if b == 0 {
			vm.scriptErrorAt(t, t.ip-1, "%s by zero", op)
			break
		}
		r = a / b
	}
	t.stack.PushFloat(r)
	return stepContinue
}

func opNegI(_ *VM, t *Thread, _ bytecode.Opcode) step {
	p := t.stack.At(0)
	*p = FromInt(-p.AsInt())
	return stepContinue
}

func opNegF(_ *VM, t *Thread, _ bytecode.Opcode) step {
	p := t.stack.At(0)
	*p = FromFloat(-p.AsFloat())
	return stepContinue
}

func opCompareI(_ *VM, t *Thread, op bytecode.Opcode) step {
	b := t.stack.PopInt()
	a := t.stack.PopInt()
	var r bool
	switch op {
	case bytecode.OpEqI:
		r = a == b
	case bytecode.OpNeI:
		r = a != b
	case bytecode.OpGtI:
		r = a > b
	case bytecode.OpLtI:
		r = a < b
	case bytecode.OpGeI:
		r = a >= b
	case bytecode.OpLeI:
		r = a <= b
	}
	t.stack.Push(FromBool(r))
	return stepContinue
}

func opCompareF(_ *VM, t *Thread, op bytecode.Opcode) step {
	b := t.stack.PopFloat()
	a := t.stack.PopFloat()
	eq := floatEqual(a, b)
	var r bool
	switch op {
	case bytecode.OpEqF:
		r = eq
	case bytecode.OpNeF:
		r = !eq
	case bytecode.OpGtF:
		r = a > b && !eq
	case bytecode.OpLtF:
		r = a < b && !eq
	case bytecode.OpGeF:
		r = a > b || eq
	case bytecode.OpLeF:
		r = a < b || eq
	}
	t.stack.Push(FromBool(r))
	return stepContinue
}

func opIToF(_ *VM, t *Thread, op bytecode.Opcode) step {
	p := t.stack.At(int(t.operand(op)))
	*p = FromFloat(float32(p.AsInt()))
	return stepContinue
}

func opFToI(_ *VM, t *Thread, op bytecode.Opcode) step {
	p := t.stack.At(int(t.operand(op)))
	*p = FromInt(p.AsInt())
	return stepContinue
}

func opLogic(_ *VM, t *Thread, op bytecode.Opcode) step {
	b := t.stack.Pop().Truthy()
	a := t.stack.Pop().Truthy()
	if op == bytecode.OpAnd {
		t.stack.Push(FromBool(a && b))
	} else {
		t.stack.Push(FromBool(a || b))
	}
	return stepContinue
}

func opNot(_ *VM, t *Thread, _ bytecode.Opcode) step {
	p := t.stack.At(0)
	*p = FromBool(!p.Truthy())
	return stepContinue
}
