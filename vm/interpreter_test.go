package vm

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/chazu/sheep/pkg/bytecode"
)

// runCode builds a script with build, executes it and returns its result.
func runCode(t *testing.T, h *harness, build func(s *bytecode.Script)) Value {
	t.Helper()
	s := bytecode.NewScript("t")
	build(s)
	s.Emit(bytecode.OpReturn)
	before := h.finishes
	h.run(s, "")
	require.Equal(t, before+1, h.finishes, "script did not finish")
	return h.last().Value
}

func TestIntegerArithmetic(t *testing.T) {
	tests := []struct {
		op   bytecode.Opcode
		a, b int32
		want int32
	}{
		{bytecode.OpAddI, 40, 2, 42},
		{bytecode.OpSubI, 7, 10, -3},
		{bytecode.OpMulI, -6, 7, -42},
		{bytecode.OpDivI, 7, 2, 3},
		{bytecode.OpDivI, -7, 2, -3},
		{bytecode.OpMod, 7, 3, 1},
		{bytecode.OpEqI, 3, 3, 1},
		{bytecode.OpNeI, 3, 3, 0},
		{bytecode.OpGtI, 4, 3, 1},
		{bytecode.OpLtI, 4, 3, 0},
		{bytecode.OpGeI, 3, 3, 1},
		{bytecode.OpLeI, 2, 3, 1},
		{bytecode.OpAnd, 2, 0, 0},
		{bytecode.OpOr, 2, 0, 1},
	}

	h := newHarness(t, Options{}, nil)
	for _, tt := range tests {
		t.Run(tt.op.String(), func(t *testing.T) {
			got := runCode(t, h, func(s *bytecode.Script) {
				s.EmitInt(bytecode.OpPushI, tt.a)
				s.EmitInt(bytecode.OpPushI, tt.b)
				s.Emit(tt.op)
			})
			assert.Equal(t, FromInt(tt.want), got)
		})
	}
}

func TestFloatArithmetic(t *testing.T) {
	tests := []struct {
		op   bytecode.Opcode
		a, b float32
		want float32
	}{
		{bytecode.OpAddF, 1.5, 2.25, 3.75},
		{bytecode.OpSubF, 1.5, 2.25, -0.75},
		{bytecode.OpMulF, 1.5, 2, 3},
		{bytecode.OpDivF, 3, 2, 1.5},
	}

	h := newHarness(t, Options{}, nil)
	for _, tt := range tests {
		t.Run(tt.op.String(), func(t *testing.T) {
			got := runCode(t, h, func(s *bytecode.Script) {
				s.EmitFloat(bytecode.OpPushF, tt.a)
				s.EmitFloat(bytecode.OpPushF, tt.b)
				s.Emit(tt.op)
			})
			require.True(t, got.IsFloat())
			assert.InDelta(t, tt.want, got.AsFloat(), 1e-6)
		})
	}
}

func TestFloatComparisonsUseEpsilon(t *testing.T) {
	tests := []struct {
		op   bytecode.Opcode
		a, b float32
		want int32
	}{
		{bytecode.OpEqF, 1.0, 1.0000001, 1},
		{bytecode.OpNeF, 1.0, 1.0000001, 0},
		{bytecode.OpGtF, 1.0000001, 1.0, 0},
		{bytecode.OpGeF, 1.0, 1.0000001, 1},
		{bytecode.OpLtF, 1.0, 2.0, 1},
		{bytecode.OpLeF, 3.0, 2.0, 0},
	}

	h := newHarness(t, Options{}, nil)
	for _, tt := range tests {
		t.Run(tt.op.String(), func(t *testing.T) {
			got := runCode(t, h, func(s *bytecode.Script) {
				s.EmitFloat(bytecode.OpPushF, tt.a)
				s.EmitFloat(bytecode.OpPushF, tt.b)
				s.Emit(tt.op)
			})
			assert.Equal(t, FromInt(tt.want), got)
		})
	}
}

func TestDivideByZeroPushesZeroAndContinues(t *testing.T) {
	for _, op := range []bytecode.Opcode{bytecode.OpDivI, bytecode.OpMod} {
		t.Run(op.String(), func(t *testing.T) {
			h := newHarness(t, Options{}, nil)
			got := runCode(t, h, func(s *bytecode.Script) {
				s.EmitInt(bytecode.OpPushI, 5)
				s.EmitInt(bytecode.OpPushI, 0)
				s.Emit(op)
				s.EmitInt(bytecode.OpPushI, 9)
				s.Emit(bytecode.OpAddI)
			})
			assert.Equal(t, FromInt(9), got)
			assert.Len(t, *h.errors, 1)
		})
	}

	t.Run("float", func(t *testing.T) {
		h := newHarness(t, Options{}, nil)
		got := runCode(t, h, func(s *bytecode.Script) {
			s.EmitFloat(bytecode.OpPushF, 5)
			s.EmitFloat(bytecode.OpPushF, 0)
			s.Emit(bytecode.OpDivF)
		})
		assert.Equal(t, FromFloat(0), got)
		assert.Len(t, *h.errors, 1)
	})
}

func TestUnaryOperatorsInPlace(t *testing.T) {
	h := newHarness(t, Options{}, nil)

	assert.Equal(t, FromInt(-4), runCode(t, h, func(s *bytecode.Script) {
		s.EmitInt(bytecode.OpPushI, 4)
		s.Emit(bytecode.OpNegI)
	}))
	assert.Equal(t, FromFloat(-1.5), runCode(t, h, func(s *bytecode.Script) {
		s.EmitFloat(bytecode.OpPushF, 1.5)
		s.Emit(bytecode.OpNegF)
	}))
	assert.Equal(t, FromInt(1), runCode(t, h, func(s *bytecode.Script) {
		s.EmitInt(bytecode.OpPushI, 0)
		s.Emit(bytecode.OpNot)
	}))
}

func TestConversionsIndexFromTop(t *testing.T) {
	h := newHarness(t, Options{}, nil)

	// Convert the value one below the top, then add the two floats.
	got := runCode(t, h, func(s *bytecode.Script) {
		s.EmitInt(bytecode.OpPushI, 2)
		s.EmitFloat(bytecode.OpPushF, 0.5)
		s.EmitUint32(bytecode.OpIToF, 1)
		s.Emit(bytecode.OpAddF)
	})
	assert.Equal(t, FromFloat(2.5), got)

	got = runCode(t, h, func(s *bytecode.Script) {
		s.EmitFloat(bytecode.OpPushF, -3.9)
		s.EmitUint32(bytecode.OpFToI, 0)
	})
	assert.Equal(t, FromInt(-3), got)
}

func TestStoreAndLoadVariables(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	s := bytecode.NewScript("vars")
	s.AddVariable(bytecode.Variable{Name: "count", Type: bytecode.TypeInt, Int: 3})
	s.AddVariable(bytecode.Variable{Name: "speed", Type: bytecode.TypeFloat, Float: 1.5})
	s.AddVariable(bytecode.Variable{Name: "name", Type: bytecode.TypeString, String: "Dolly"})

	s.EmitUint32(bytecode.OpLoadI, 0)
	s.EmitInt(bytecode.OpPushI, 1)
	s.Emit(bytecode.OpAddI)
	s.EmitUint32(bytecode.OpStoreI, 0)
	s.EmitInt(bytecode.OpPushI, 2)
	s.EmitUint32(bytecode.OpStoreF, 1)
	s.EmitString("Shaun")
	s.EmitUint32(bytecode.OpStoreS, 2)
	s.EmitUint32(bytecode.OpLoadS, 2)
	s.Emit(bytecode.OpReturn)

	h.run(s, "")

	require.Equal(t, 1, h.finishes)
	assert.Equal(t, FromString("Shaun"), h.last().Value)
	vars, ok := h.vm.Variables(s)
	require.True(t, ok)
	assert.Equal(t, []Value{FromInt(4), FromFloat(2), FromString("Shaun")}, vars)
}

func TestStoreTypeMismatchIsFatal(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	s := bytecode.NewScript("bad")
	s.AddVariable(bytecode.Variable{Name: "name", Type: bytecode.TypeString})
	s.EmitInt(bytecode.OpPushI, 1)
	s.EmitUint32(bytecode.OpStoreI, 0)

	assert.PanicsWithError(t, `sheep: fatal in STORE_I: variable "name" is string, not int`, func() {
		h.run(s, "")
	})
}

func TestPushStringResolvesThroughGetString(t *testing.T) {
	h := newHarness(t, Options{}, nil)

	got := runCode(t, h, func(s *bytecode.Script) { s.EmitString("baa") })
	assert.Equal(t, FromString("baa"), got)

	// A bare PUSH_S still yields text at the end of the thread.
	got = runCode(t, h, func(s *bytecode.Script) {
		s.EmitUint32(bytecode.OpPushS, s.AddString("raw"))
	})
	assert.Equal(t, FromString("raw"), got)
}

func TestBranches(t *testing.T) {
	h := newHarness(t, Options{}, nil)

	for _, op := range []bytecode.Opcode{bytecode.OpBranch, bytecode.OpBranchGoto} {
		got := runCode(t, h, func(s *bytecode.Script) {
			jump := s.EmitJump(op)
			s.EmitInt(bytecode.OpPushI, 1)
			s.Emit(bytecode.OpReturn)
			s.PatchJump(jump)
			s.EmitInt(bytecode.OpPushI, 2)
		})
		assert.Equal(t, FromInt(2), got, op.String())
	}

	for _, cond := range []int32{0, 5} {
		got := runCode(t, h, func(s *bytecode.Script) {
			s.EmitInt(bytecode.OpPushI, cond)
			jump := s.EmitJump(bytecode.OpBranchIfZero)
			s.EmitInt(bytecode.OpPushI, 1)
			s.Emit(bytecode.OpReturn)
			s.PatchJump(jump)
			s.EmitInt(bytecode.OpPushI, 0)
		})
		want := FromInt(1)
		if cond == 0 {
			want = FromInt(0)
		}
		assert.Equal(t, want, got, "cond=%d", cond)
	}
}

func TestCountdownLoop(t *testing.T) {
	var calls []int32
	h := newHarness(t, Options{}, func(reg *Registry) {
		reg.MustRegister(SysFunc{
			Name: "Record", Return: TypeVoid, Args: []Type{TypeInt},
			Fn: func(c *Call) Value {
				calls = append(calls, c.Int(0))
				return Void
			},
		})
	})
	s := bytecode.NewScript("loop")
	s.AddVariable(bytecode.Variable{Name: "n", Type: bytecode.TypeInt, Int: 3})
	rec := s.AddImport(bytecode.Import{Name: "Record", Return: bytecode.TypeVoid, Args: []bytecode.Type{bytecode.TypeInt}})

	top := s.CurrentOffset()
	s.EmitUint32(bytecode.OpLoadI, 0)
	exit := s.EmitJump(bytecode.OpBranchIfZero)
	s.EmitUint32(bytecode.OpLoadI, 0)
	emitCall(s, bytecode.OpCallSysV, rec, 1)
	s.Emit(bytecode.OpPop)
	s.EmitUint32(bytecode.OpLoadI, 0)
	s.EmitInt(bytecode.OpPushI, 1)
	s.Emit(bytecode.OpSubI)
	s.EmitUint32(bytecode.OpStoreI, 0)
	s.EmitUint32(bytecode.OpBranchGoto, uint32(top))
	s.PatchJump(exit)
	s.Emit(bytecode.OpReturn)

	h.run(s, "")

	assert.Equal(t, []int32{3, 2, 1}, calls)
	assert.Equal(t, 1, h.finishes)
}

func TestSystemCallArgumentsAndReturn(t *testing.T) {
	h := newHarness(t, Options{}, func(reg *Registry) {
		reg.MustRegister(SysFunc{
			Name: "Describe", Return: TypeString, Args: []Type{TypeString, TypeInt, TypeFloat},
			Fn: func(c *Call) Value {
				return FromString(c.String(0) + ":" + FromInt(c.Int(1)).AsString() + ":" + FromFloat(c.Float(2)).AsString())
			},
		})
		reg.MustRegister(SysFunc{
			Name: "Half", Return: TypeFloat, Args: []Type{TypeInt},
			Fn: func(c *Call) Value { return FromFloat(float32(c.Int(0)) / 2) },
		})
	})

	got := runCode(t, h, func(s *bytecode.Script) {
		idx := s.AddImport(bytecode.Import{
			Name: "describe", Return: bytecode.TypeString,
			Args: []bytecode.Type{bytecode.TypeString, bytecode.TypeInt, bytecode.TypeFloat},
		})
		s.EmitString("ram")
		s.EmitInt(bytecode.OpPushI, 3)
		s.EmitFloat(bytecode.OpPushF, 0.5)
		emitCall(s, bytecode.OpCallSysS, idx, 3)
	})
	assert.Equal(t, FromString("ram:3:0.5"), got)

	// The call variant decides the pushed type.
	got = runCode(t, h, func(s *bytecode.Script) {
		idx := s.AddImport(bytecode.Import{Name: "Half", Return: bytecode.TypeFloat, Args: []bytecode.Type{bytecode.TypeInt}})
		s.EmitInt(bytecode.OpPushI, 7)
		emitCall(s, bytecode.OpCallSysI, idx, 1)
	})
	assert.Equal(t, FromInt(3), got)
}

func TestUnresolvedSystemCallPushesZero(t *testing.T) {
	h := newHarness(t, Options{}, nil)

	got := runCode(t, h, func(s *bytecode.Script) {
		idx := s.AddImport(bytecode.Import{Name: "Missing", Return: bytecode.TypeInt})
		emitCall(s, bytecode.OpCallSysI, idx, 0)
	})
	assert.Equal(t, FromInt(0), got)
	require.Len(t, *h.errors, 1)
	assert.Contains(t, (*h.errors)[0], "int Missing()")

	got = runCode(t, h, func(s *bytecode.Script) {
		emitCall(s, bytecode.OpCallSysI, 12, 0)
	})
	assert.Equal(t, FromInt(0), got)
	assert.Len(t, *h.errors, 2)
}

func TestVoidCallPushesIntPlaceholder(t *testing.T) {
	h := newHarness(t, Options{}, func(reg *Registry) {
		reg.MustRegister(SysFunc{
			Name: "Bleat", Return: TypeVoid,
			Fn: func(*Call) Value { return FromString("ignored") },
		})
		reg.MustRegister(SysFunc{
			Name: "Shear", Return: TypeVoid, DevOnly: true,
			Fn: func(*Call) Value { return Void },
		})
	})

	for _, name := range []string{"Bleat", "Shear", "Missing"} {
		got := runCode(t, h, func(s *bytecode.Script) {
			idx := s.AddImport(bytecode.Import{Name: name, Return: bytecode.TypeVoid})
			emitCall(s, bytecode.OpCallSysV, idx, 0)
		})
		assert.Equal(t, FromInt(0), got, name)
	}
}

func TestNativeErrorAfterStoppingOwnThread(t *testing.T) {
	h := newHarness(t, Options{}, func(reg *Registry) {
		reg.MustRegister(SysFunc{
			Name: "Quit", Return: TypeVoid,
			Fn: func(c *Call) Value {
				c.SetExecutionError("bail")
				c.VM().StopByTag(c.Tag())
				return Void
			},
		})
	})
	s := bytecode.NewScript("quitter")
	idx := s.AddImport(bytecode.Import{Name: "Quit", Return: bytecode.TypeVoid})
	emitCall(s, bytecode.OpCallSysV, idx, 0)
	s.EmitInt(bytecode.OpPushI, 5)
	s.Emit(bytecode.OpReturn)

	assert.NotPanics(t, func() { h.run(s, "flock") })
	require.Equal(t, 1, h.finishes)
	assert.True(t, h.last().Cancelled)
	assert.Equal(t, 0, h.vm.ActiveThreadCount())
	require.Len(t, *h.errors, 1)
	assert.Contains(t, (*h.errors)[0], "quitter")
	assert.Contains(t, (*h.errors)[0], "bail")
}

func TestDevOnlyFunctions(t *testing.T) {
	register := func(reg *Registry) {
		reg.MustRegister(SysFunc{
			Name: "Cheat", Return: TypeInt, DevOnly: true,
			Fn: func(*Call) Value { return FromInt(99) },
		})
	}
	build := func(s *bytecode.Script) {
		idx := s.AddImport(bytecode.Import{Name: "Cheat", Return: bytecode.TypeInt})
		emitCall(s, bytecode.OpCallSysI, idx, 0)
	}

	h := newHarness(t, Options{}, register)
	assert.Equal(t, FromInt(0), runCode(t, h, build))
	assert.Len(t, *h.errors, 1)

	h = newHarness(t, Options{DevFunctions: true}, register)
	assert.Equal(t, FromInt(99), runCode(t, h, build))
	assert.Empty(t, *h.errors)
}

func TestExecutionErrorIsLogged(t *testing.T) {
	h := newHarness(t, Options{}, func(reg *Registry) {
		reg.MustRegister(SysFunc{
			Name: "Fail", Return: TypeVoid,
			Fn: func(c *Call) Value {
				c.SetExecutionError("no such actor")
				return Void
			},
		})
	})

	runCode(t, h, func(s *bytecode.Script) {
		idx := s.AddImport(bytecode.Import{Name: "Fail", Return: bytecode.TypeVoid})
		emitCall(s, bytecode.OpCallSysV, idx, 0)
	})
	require.Len(t, *h.errors, 1)
	assert.Contains(t, (*h.errors)[0], "no such actor")
}

func TestInvalidOpcodeIsSkipped(t *testing.T) {
	h := newHarness(t, Options{}, nil)
	s := bytecode.NewScript("t")
	s.Code = append(s.Code, 0x0C, 0xFF)
	s.EmitInt(bytecode.OpPushI, 3)
	s.Emit(bytecode.OpReturn)

	h.run(s, "")

	require.Equal(t, 1, h.finishes)
	assert.Equal(t, FromInt(3), h.last().Value)
	assert.Len(t, *h.errors, 2)
}

func TestBreakpointCallback(t *testing.T) {
	var hits []ThreadInfo
	h := newHarness(t, Options{OnBreakpoint: func(info ThreadInfo) { hits = append(hits, info) }}, nil)

	runCode(t, h, func(s *bytecode.Script) {
		s.EmitInt(bytecode.OpPushI, 1)
		s.Emit(bytecode.OpBreakpoint)
	})
	require.Len(t, hits, 1)
	assert.Equal(t, 1, hits[0].StackSize)
	assert.Equal(t, 6, hits[0].IP)
}

func TestTraceLogsAtDebug(t *testing.T) {
	h := newHarness(t, Options{Trace: true}, nil)
	got := runCode(t, h, func(s *bytecode.Script) { s.EmitInt(bytecode.OpPushI, 1) })
	assert.Equal(t, FromInt(1), got)
}
