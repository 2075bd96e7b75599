package bytecode

import "fmt"

// Opcode represents a Sheep bytecode instruction.
// The numeric values are part of the compiled-script format and must not change.
type Opcode byte

const (
	// ========================================================================
	// Control (0x00-0x0B)
	// ========================================================================

	OpSitnSpin     Opcode = 0x00 // No operation
	OpYield        Opcode = 0x01 // Suspend decoding until the next tick
	OpCallSysV     Opcode = 0x02 // Call system function, void result: <import:u32>
	OpCallSysI     Opcode = 0x03 // Call system function, int result: <import:u32>
	OpCallSysF     Opcode = 0x04 // Call system function, float result: <import:u32>
	OpCallSysS     Opcode = 0x05 // Call system function, string result: <import:u32>
	OpBranch       Opcode = 0x06 // Jump: <offset:u32>
	OpBranchGoto   Opcode = 0x07 // Jump (goto statement): <offset:u32>
	OpBranchIfZero Opcode = 0x08 // Pop int, jump if zero: <offset:u32>
	OpBeginWait    Opcode = 0x09 // Enter wait block
	OpEndWait      Opcode = 0x0A // Leave wait block, blocking while waits are outstanding
	OpReturn       Opcode = 0x0B // Terminate the thread

	// 0x0C is reserved and decodes as an invalid instruction.

	// ========================================================================
	// Variables (0x0D-0x12)
	// ========================================================================

	OpStoreI Opcode = 0x0D // Pop int into variable: <var:u32>
	OpStoreF Opcode = 0x0E // Pop float into variable: <var:u32>
	OpStoreS Opcode = 0x0F // Pop string into variable: <var:u32>
	OpLoadI  Opcode = 0x10 // Push int variable: <var:u32>
	OpLoadF  Opcode = 0x11 // Push float variable: <var:u32>
	OpLoadS  Opcode = 0x12 // Push string variable: <var:u32>

	// ========================================================================
	// Stack (0x13-0x16)
	// ========================================================================

	OpPushI Opcode = 0x13 // Push int literal: <value:i32>
	OpPushF Opcode = 0x14 // Push float literal: <value:f32>
	OpPushS Opcode = 0x15 // Push string-offset marker: <offset:u32>
	OpPop   Opcode = 0x16 // Discard top of stack

	// ========================================================================
	// Arithmetic (0x17-0x20)
	// ========================================================================

	OpAddI Opcode = 0x17
	OpAddF Opcode = 0x18
	OpSubI Opcode = 0x19 // a - b where b is TOS
	OpSubF Opcode = 0x1A
	OpMulI Opcode = 0x1B
	OpMulF Opcode = 0x1C
	OpDivI Opcode = 0x1D // a / b where b is TOS; b == 0 pushes 0
	OpDivF Opcode = 0x1E
	OpNegI Opcode = 0x1F // Negate TOS in place
	OpNegF Opcode = 0x20

	// ========================================================================
	// Comparison (0x21-0x2C)
	// ========================================================================

	OpEqI Opcode = 0x21
	OpEqF Opcode = 0x22
	OpNeI Opcode = 0x23
	OpNeF Opcode = 0x24
	OpGtI Opcode = 0x25
	OpGtF Opcode = 0x26
	OpLtI Opcode = 0x27
	OpLtF Opcode = 0x28
	OpGeI Opcode = 0x29
	OpGeF Opcode = 0x2A
	OpLeI Opcode = 0x2B
	OpLeF Opcode = 0x2C

	// ========================================================================
	// Conversion and logic (0x2D-0x34)
	// ========================================================================

	OpIToF       Opcode = 0x2D // Convert stack slot to float: <depth:u32>
	OpFToI       Opcode = 0x2E // Convert stack slot to int: <depth:u32>
	OpMod        Opcode = 0x2F
	OpAnd        Opcode = 0x30
	OpOr         Opcode = 0x31
	OpNot        Opcode = 0x32 // Logical NOT of TOS in place
	OpGetString  Opcode = 0x33 // Resolve string-offset marker on TOS
	OpBreakpoint Opcode = 0x34 // Debugger hook
)

// OperandKind describes how an instruction's operand word is interpreted.
type OperandKind uint8

const (
	OperandNone       OperandKind = iota
	OperandImport                 // index into Script.Imports
	OperandOffset                 // absolute code offset
	OperandVariable               // index into Script.Variables
	OperandInt                    // int32 literal
	OperandFloat                  // float32 literal
	OperandString                 // byte offset into Script.Strings
	OperandStackIndex             // depth below top of stack
)

// OperandSize is the width in bytes of every operand word.
const OperandSize = 4

// OpcodeInfo provides metadata about each opcode for debugging and validation.
type OpcodeInfo struct {
	Name      string      // Human-readable name
	Operand   OperandKind // Operand interpretation
	StackPop  int         // How many values popped from stack (-1 = variable)
	StackPush int         // How many values pushed to stack
}

// opcodeInfoTable maps opcodes to their metadata.
var opcodeInfoTable = map[Opcode]OpcodeInfo{
	// Control
	OpSitnSpin:     {"SITNSPIN", OperandNone, 0, 0},
	OpYield:        {"YIELD", OperandNone, 0, 0},
	OpCallSysV:     {"CALL_SYS_V", OperandImport, -1, 1},
	OpCallSysI:     {"CALL_SYS_I", OperandImport, -1, 1},
	OpCallSysF:     {"CALL_SYS_F", OperandImport, -1, 1},
	OpCallSysS:     {"CALL_SYS_S", OperandImport, -1, 1},
	OpBranch:       {"BRANCH", OperandOffset, 0, 0},
	OpBranchGoto:   {"BRANCH_GOTO", OperandOffset, 0, 0},
	OpBranchIfZero: {"BRANCH_IF_ZERO", OperandOffset, 1, 0},
	OpBeginWait:    {"BEGIN_WAIT", OperandNone, 0, 0},
	OpEndWait:      {"END_WAIT", OperandNone, 0, 0},
	OpReturn:       {"RETURN", OperandNone, 0, 0},

	// Variables
	OpStoreI: {"STORE_I", OperandVariable, 1, 0},
	OpStoreF: {"STORE_F", OperandVariable, 1, 0},
	OpStoreS: {"STORE_S", OperandVariable, 1, 0},
	OpLoadI:  {"LOAD_I", OperandVariable, 0, 1},
	OpLoadF:  {"LOAD_F", OperandVariable, 0, 1},
	OpLoadS:  {"LOAD_S", OperandVariable, 0, 1},

	// Stack
	OpPushI: {"PUSH_I", OperandInt, 0, 1},
	OpPushF: {"PUSH_F", OperandFloat, 0, 1},
	OpPushS: {"PUSH_S", OperandString, 0, 1},
	OpPop:   {"POP", OperandNone, 1, 0},

	// Arithmetic
	OpAddI: {"ADD_I", OperandNone, 2, 1},
	OpAddF: {"ADD_F", OperandNone, 2, 1},
	OpSubI: {"SUB_I", OperandNone, 2, 1},
	OpSubF: {"SUB_F", OperandNone, 2, 1},
	OpMulI: {"MUL_I", OperandNone, 2, 1},
	OpMulF: {"MUL_F", OperandNone, 2, 1},
	OpDivI: {"DIV_I", OperandNone, 2, 1},
	OpDivF: {"DIV_F", OperandNone, 2, 1},
	OpNegI: {"NEG_I", OperandNone, 1, 1},
	OpNegF: {"NEG_F", OperandNone, 1, 1},

	// Comparison
	OpEqI: {"EQ_I", OperandNone, 2, 1},
	OpEqF: {"EQ_F", OperandNone, 2, 1},
	OpNeI: {"NE_I", OperandNone, 2, 1},
	OpNeF: {"NE_F", OperandNone, 2, 1},
	OpGtI: {"GT_I", OperandNone, 2, 1},
	OpGtF: {"GT_F", OperandNone, 2, 1},
	OpLtI: {"LT_I", OperandNone, 2, 1},
	OpLtF: {"LT_F", OperandNone, 2, 1},
	OpGeI: {"GE_I", OperandNone, 2, 1},
	OpGeF: {"GE_F", OperandNone, 2, 1},
	OpLeI: {"LE_I", OperandNone, 2, 1},
	OpLeF: {"LE_F", OperandNone, 2, 1},

	// Conversion and logic
	OpIToF:       {"ITOF", OperandStackIndex, 0, 0},
	OpFToI:       {"FTOI", OperandStackIndex, 0, 0},
	OpMod:        {"MOD", OperandNone, 2, 1},
	OpAnd:        {"AND", OperandNone, 2, 1},
	OpOr:         {"OR", OperandNone, 2, 1},
	OpNot:        {"NOT", OperandNone, 1, 1},
	OpGetString:  {"GET_STRING", OperandNone, 1, 1},
	OpBreakpoint: {"BREAKPOINT", OperandNone, 0, 0},
}

// opcodeByName is the reverse of opcodeInfoTable, keyed by Name.
var opcodeByName = func() map[string]Opcode {
	m := make(map[string]Opcode, len(opcodeInfoTable))
	for op, info := range opcodeInfoTable {
		m[info.Name] = op
	}
	return m
}()

// GetOpcodeInfo returns metadata for an opcode.
// Returns a zero OpcodeInfo with name "UNKNOWN" if the opcode is not recognized.
func GetOpcodeInfo(op Opcode) OpcodeInfo {
	if info, ok := opcodeInfoTable[op]; ok {
		return info
	}
	return OpcodeInfo{Name: fmt.Sprintf("UNKNOWN(0x%02X)", byte(op))}
}

// LookupOpcode returns the opcode with the given metadata name.
func LookupOpcode(name string) (Opcode, bool) {
	op, ok := opcodeByName[name]
	return op, ok
}

// String returns the human-readable name of an opcode.
func (op Opcode) String() string {
	return GetOpcodeInfo(op).Name
}

// Valid reports whether op is part of the instruction set.
func (op Opcode) Valid() bool {
	_, ok := opcodeInfoTable[op]
	return ok
}

// OperandLen returns the number of operand bytes for this opcode.
func (op Opcode) OperandLen() int {
	if GetOpcodeInfo(op).Operand == OperandNone {
		return 0
	}
	return OperandSize
}

// InstructionLen returns the total length of an instruction (1 + operand bytes).
func (op Opcode) InstructionLen() int {
	return 1 + op.OperandLen()
}

// IsBranch returns true if this opcode transfers control to an offset.
func (op Opcode) IsBranch() bool {
	return op >= OpBranch && op <= OpBranchIfZero
}

// IsCall returns true if this opcode calls a system function.
func (op Opcode) IsCall() bool {
	return op >= OpCallSysV && op <= OpCallSysS
}

// CallReturnType returns the result type pushed by a call variant.
func (op Opcode) CallReturnType() Type {
	switch op {
	case OpCallSysI:
		return TypeInt
	case OpCallSysF:
		return TypeFloat
	case OpCallSysS:
		return TypeString
	default:
		return TypeVoid
	}
}

// AllOpcodes returns a slice of all defined opcodes.
// Useful for testing that all opcodes have metadata.
func AllOpcodes() []Opcode {
	opcodes := make([]Opcode, 0, len(opcodeInfoTable))
	for op := range opcodeInfoTable {
		opcodes = append(opcodes, op)
	}
	return opcodes
}

// OpcodeCount returns the number of defined opcodes.
func OpcodeCount() int {
	return len(opcodeInfoTable)
}
