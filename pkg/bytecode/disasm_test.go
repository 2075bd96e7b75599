package bytecode

import (
	"strings"
	"testing"
)

func TestDisassembleEmpty(t *testing.T) {
	s := NewScript("Empty")

	output := s.Disassemble()

	if !strings.Contains(output, "Sheep Bytecode") {
		t.Error("Disassembly missing header")
	}
	if !strings.Contains(output, "=== Empty ===") {
		t.Error("Disassembly missing name")
	}
}

func TestDisassembleSimple(t *testing.T) {
	s := NewScript("t")
	s.EmitInt(OpPushI, 2)
	s.EmitInt(OpPushI, 3)
	s.Emit(OpAddI)
	s.Emit(OpReturn)

	output := s.Disassemble()

	for _, want := range []string{"PUSH_I 2", "PUSH_I 3", "ADD_I", "RETURN"} {
		if !strings.Contains(output, want) {
			t.Errorf("Missing %q in:\n%s", want, output)
		}
	}
}

func TestDisassembleTables(t *testing.T) {
	s := buildSampleScript()

	output := s.Disassemble()

	checks := []string{
		"Variables:",
		"int n = 7",
		"float ratio = 0.25",
		`string who = "Gabriel"`,
		"Imports:",
		"void PrintString(string)",
		"Strings:",
		`"hi"`,
		"main:",
		`PUSH_S @0 ; "hi"`,
		"CALL_SYS_V 0 ; void PrintString(string)",
		"; line 1",
	}
	for _, want := range checks {
		if !strings.Contains(output, want) {
			t.Errorf("Missing %q in:\n%s", want, output)
		}
	}
}

func TestDisassembleVariableAndBranch(t *testing.T) {
	s := NewScript("t")
	s.AddVariable(Variable{Name: "count", Type: TypeInt})
	s.AddFunction("loop", 0)
	s.EmitUint32(OpLoadI, 0)
	s.EmitUint32(OpBranchIfZero, 0)
	s.EmitFloat(OpPushF, 2.5)
	s.EmitUint32(OpFToI, 0)

	output := s.Disassemble()

	for _, want := range []string{"LOAD_I 0 ; count", "BRANCH_IF_ZERO 0000 ; loop", "PUSH_F 2.5", "FTOI 0"} {
		if !strings.Contains(output, want) {
			t.Errorf("Missing %q in:\n%s", want, output)
		}
	}
}

func TestDisassembleInvalidAndTruncated(t *testing.T) {
	s := NewScript("t")
	s.Code = []byte{0x0C, byte(OpPushI), 1, 2}

	output := s.Disassemble()

	if !strings.Contains(output, "UNKNOWN(0x0C)") {
		t.Error("invalid opcode should be listed as UNKNOWN")
	}
	if !strings.Contains(output, "PUSH_I <truncated>") {
		t.Error("truncated operand should be flagged")
	}
}
