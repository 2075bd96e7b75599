package bytecode

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strings"
)

// ScriptVersion is the current compiled-script format version.
// Increment when making incompatible changes to the format.
const ScriptVersion uint16 = 1

// Magic bytes for compiled scripts: "SHPB" (Sheep ByteCode)
var ScriptMagic = []byte{'S', 'H', 'P', 'B'}

// ScriptFlags contains compilation flags for a script.
type ScriptFlags uint16

const (
	// ScriptFlagDebug indicates a source map is present.
	ScriptFlagDebug ScriptFlags = 1 << 0
)

// Type is the tag shared by values, variable declarations and
// system-function signatures.
type Type uint8

const (
	TypeVoid Type = iota
	TypeInt
	TypeFloat
	TypeString
)

// String returns the lower-case name used in script sources.
func (t Type) String() string {
	switch t {
	case TypeVoid:
		return "void"
	case TypeInt:
		return "int"
	case TypeFloat:
		return "float"
	case TypeString:
		return "string"
	default:
		return fmt.Sprintf("Type(%d)", t)
	}
}

// ParseType converts a type name ("void", "int", "float", "string") to a Type.
func ParseType(s string) (Type, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "void", "":
		return TypeVoid, nil
	case "int":
		return TypeInt, nil
	case "float":
		return TypeFloat, nil
	case "string":
		return TypeString, nil
	}
	return TypeVoid, fmt.Errorf("unknown type %q", s)
}

// Variable is a script-level variable declaration with its default value.
// Only the field matching Type is meaningful.
type Variable struct {
	Name   string
	Type   Type
	Int    int32
	Float  float32
	String string
}

// Import is the compiled signature of a system function a script calls.
type Import struct {
	Name   string
	Return Type
	Args   []Type
}

// Signature formats the import as "ret Name(arg, ...)".
func (imp Import) Signature() string {
	args := make([]string, len(imp.Args))
	for i, a := range imp.Args {
		args[i] = a.String()
	}
	return fmt.Sprintf("%s %s(%s)", imp.Return, imp.Name, strings.Join(args, ", "))
}

// Function is a named entry point into the code section.
type Function struct {
	Name   string
	Offset uint32
}

// SourceLocation maps bytecode position to source location for debugging.
type SourceLocation struct {
	Offset uint32 // Offset in code section
	Line   uint32 // Source line number (1-based)
}

// Script is a compiled Sheep script: code plus the tables it references.
type Script struct {
	// Header
	Name    string
	Version uint16
	Flags   ScriptFlags

	Variables []Variable
	Imports   []Import
	Functions []Function

	// Strings is a pool of NUL-terminated strings addressed by byte offset.
	Strings []byte

	// Code section
	Code []byte

	// Debug information (optional, present if ScriptFlagDebug is set)
	SourceMap []SourceLocation
}

// NewScript creates a new empty script with the current version.
func NewScript(name string) *Script {
	return &Script{
		Name:    name,
		Version: ScriptVersion,
		Code:    make([]byte, 0, 64),
	}
}

// AddVariable declares a variable and returns its index.
func (s *Script) AddVariable(v Variable) uint32 {
	s.Variables = append(s.Variables, v)
	return uint32(len(s.Variables) - 1)
}

// VariableIndex returns the index of the named variable (case-insensitive).
func (s *Script) VariableIndex(name string) (uint32, bool) {
	for i, v := range s.Variables {
		if strings.EqualFold(v.Name, name) {
			return uint32(i), true
		}
	}
	return 0, false
}

// AddImport adds a system-function import and returns its index.
// If an identical signature already exists, returns the existing index.
func (s *Script) AddImport(imp Import) uint32 {
	for i, existing := range s.Imports {
		if sameSignature(existing, imp) {
			return uint32(i)
		}
	}
	s.Imports = append(s.Imports, imp)
	return uint32(len(s.Imports) - 1)
}

// ImportIndex returns the index of the first import with the given name.
func (s *Script) ImportIndex(name string) (uint32, bool) {
	for i, imp := range s.Imports {
		if strings.EqualFold(imp.Name, name) {
			return uint32(i), true
		}
	}
	return 0, false
}

func sameSignature(a, b Import) bool {
	if !strings.EqualFold(a.Name, b.Name) || a.Return != b.Return || len(a.Args) != len(b.Args) {
		return false
	}
	for i := range a.Args {
		if a.Args[i] != b.Args[i] {
			return false
		}
	}
	return true
}

// AddString adds a string to the pool and returns its byte offset.
// If the string already exists, returns the existing offset.
func (s *Script) AddString(value string) uint32 {
	offset := 0
	for offset < len(s.Strings) {
		end := bytes.IndexByte(s.Strings[offset:], 0)
		if end < 0 {
			break
		}
		if string(s.Strings[offset:offset+end]) == value {
			return uint32(offset)
		}
		offset += end + 1
	}
	at := uint32(len(s.Strings))
	s.Strings = append(s.Strings, value...)
	s.Strings = append(s.Strings, 0)
	return at
}

// StringAt returns the pooled string starting at offset.
func (s *Script) StringAt(offset uint32) (string, bool) {
	if int(offset) >= len(s.Strings) {
		return "", false
	}
	rest := s.Strings[offset:]
	end := bytes.IndexByte(rest, 0)
	if end < 0 {
		return string(rest), true
	}
	return string(rest[:end]), true
}

// AddFunction records a named entry point at the given code offset.
func (s *Script) AddFunction(name string, offset uint32) {
	s.Functions = append(s.Functions, Function{Name: name, Offset: offset})
}

// FunctionOffset returns the entry offset of the named function (case-insensitive).
func (s *Script) FunctionOffset(name string) (uint32, bool) {
	for _, f := range s.Functions {
		if strings.EqualFold(f.Name, name) {
			return f.Offset, true
		}
	}
	return 0, false
}

// FunctionAt returns the name of the function whose entry is at offset.
func (s *Script) FunctionAt(offset uint32) (string, bool) {
	for _, f := range s.Functions {
		if f.Offset == offset {
			return f.Name, true
		}
	}
	return "", false
}

// Emit appends a single-byte opcode to the code section.
func (s *Script) Emit(op Opcode) int {
	offset := len(s.Code)
	s.Code = append(s.Code, byte(op))
	return offset
}

// EmitUint32 appends an opcode with a 4-byte little-endian operand.
func (s *Script) EmitUint32(op Opcode, operand uint32) int {
	offset := len(s.Code)
	s.Code = append(s.Code, byte(op))
	s.Code = binary.LittleEndian.AppendUint32(s.Code, operand)
	return offset
}

// EmitInt appends an opcode with an int32 operand.
func (s *Script) EmitInt(op Opcode, operand int32) int {
	return s.EmitUint32(op, uint32(operand))
}

// EmitFloat appends an opcode with a float32 operand.
func (s *Script) EmitFloat(op Opcode, operand float32) int {
	return s.EmitUint32(op, math.Float32bits(operand))
}

// EmitString interns value and emits OpPushS followed by OpGetString.
func (s *Script) EmitString(value string) int {
	offset := s.EmitUint32(OpPushS, s.AddString(value))
	s.Emit(OpGetString)
	return offset
}

// EmitJump emits a branch instruction with a placeholder target.
// Returns the offset of the placeholder for later patching.
func (s *Script) EmitJump(op Opcode) int {
	offset := s.EmitUint32(op, 0xFFFFFFFF)
	return offset + 1
}

// PatchJump patches a branch placeholder to jump to the current position.
func (s *Script) PatchJump(placeholderOffset int) {
	s.PatchJumpTo(placeholderOffset, len(s.Code))
}

// PatchJumpTo patches a branch placeholder to jump to target.
func (s *Script) PatchJumpTo(placeholderOffset int, target int) {
	binary.LittleEndian.PutUint32(s.Code[placeholderOffset:], uint32(target))
}

// CurrentOffset returns the current offset in the code section.
func (s *Script) CurrentOffset() int {
	return len(s.Code)
}

// ReadOperand decodes the 4-byte operand following the opcode at offset.
func (s *Script) ReadOperand(offset int) (uint32, bool) {
	if offset+1+OperandSize > len(s.Code) {
		return 0, false
	}
	return binary.LittleEndian.Uint32(s.Code[offset+1:]), true
}

// AddSourceLocation adds a debug source location mapping.
func (s *Script) AddSourceLocation(offset uint32, line uint32) {
	s.Flags |= ScriptFlagDebug
	s.SourceMap = append(s.SourceMap, SourceLocation{Offset: offset, Line: line})
}

// GetSourceLine returns the source line for a bytecode offset.
// Returns 0 if no mapping exists.
func (s *Script) GetSourceLine(offset uint32) uint32 {
	// Find the nearest mapping at or before the offset
	for i := len(s.SourceMap) - 1; i >= 0; i-- {
		if s.SourceMap[i].Offset <= offset {
			return s.SourceMap[i].Line
		}
	}
	return 0
}

// Serialize encodes the script to bytes for storage/transport.
// All integers are little-endian. Format:
//
//	[magic:4] [version:2] [flags:2]
//	[name_len:2] [name:...]
//	[var_count:2] [vars:...]
//	[import_count:2] [imports:...]
//	[func_count:2] [functions:...]
//	[strings_len:4] [strings:...]
//	[code_len:4] [code:...]
//	[debug_present:1] [source_map:...] (if ScriptFlagDebug)
func (s *Script) Serialize() ([]byte, error) {
	buf := make([]byte, 0, 16+len(s.Name)+len(s.Strings)+len(s.Code)+len(s.Variables)*16+len(s.Imports)*24)
	le := binary.LittleEndian

	buf = append(buf, ScriptMagic...)
	buf = le.AppendUint16(buf, s.Version)
	buf = le.AppendUint16(buf, uint16(s.Flags))

	buf = appendString16(buf, s.Name)

	buf = le.AppendUint16(buf, uint16(len(s.Variables)))
	for _, v := range s.Variables {
		buf = appendString8(buf, v.Name)
		buf = append(buf, byte(v.Type))
		switch v.Type {
		case TypeInt:
			buf = le.AppendUint32(buf, uint32(v.Int))
		case TypeFloat:
			buf = le.AppendUint32(buf, math.Float32bits(v.Float))
		case TypeString:
			buf = appendString16(buf, v.String)
		default:
			return nil, fmt.Errorf("variable %q has invalid type %s", v.Name, v.Type)
		}
	}

	buf = le.AppendUint16(buf, uint16(len(s.Imports)))
	for _, imp := range s.Imports {
		if len(imp.Args) > 255 {
			return nil, fmt.Errorf("import %q has too many arguments", imp.Name)
		}
		buf = appendString8(buf, imp.Name)
		buf = append(buf, byte(imp.Return), byte(len(imp.Args)))
		for _, a := range imp.Args {
			buf = append(buf, byte(a))
		}
	}

	buf = le.AppendUint16(buf, uint16(len(s.Functions)))
	for _, f := range s.Functions {
		buf = appendString8(buf, f.Name)
		buf = le.AppendUint32(buf, f.Offset)
	}

	buf = le.AppendUint32(buf, uint32(len(s.Strings)))
	buf = append(buf, s.Strings...)

	buf = le.AppendUint32(buf, uint32(len(s.Code)))
	buf = append(buf, s.Code...)

	if s.Flags&ScriptFlagDebug != 0 {
		buf = append(buf, 1)
		buf = le.AppendUint32(buf, uint32(len(s.SourceMap)))
		for _, loc := range s.SourceMap {
			buf = le.AppendUint32(buf, loc.Offset)
			buf = le.AppendUint32(buf, loc.Line)
		}
	} else {
		buf = append(buf, 0)
	}

	return buf, nil
}

func appendString8(buf []byte, s string) []byte {
	if len(s) > 255 {
		s = s[:255]
	}
	buf = append(buf, byte(len(s)))
	return append(buf, s...)
}

func appendString16(buf []byte, s string) []byte {
	buf = binary.LittleEndian.AppendUint16(buf, uint16(len(s)))
	return append(buf, s...)
}

// decoder reads little-endian fields and remembers the first failure.
type decoder struct {
	data []byte
	pos  int
	err  error
}

func (d *decoder) need(n int, what string) bool {
	if d.err != nil {
		return false
	}
	if d.pos+n > len(d.data) {
		d.err = fmt.Errorf("unexpected end of script reading %s at pos %d", what, d.pos)
		return false
	}
	return true
}

func (d *decoder) u8(what string) uint8 {
	if !d.need(1, what) {
		return 0
	}
	v := d.data[d.pos]
	d.pos++
	return v
}

func (d *decoder) u16(what string) uint16 {
	if !d.need(2, what) {
		return 0
	}
	v := binary.LittleEndian.Uint16(d.data[d.pos:])
	d.pos += 2
	return v
}

func (d *decoder) u32(what string) uint32 {
	if !d.need(4, what) {
		return 0
	}
	v := binary.LittleEndian.Uint32(d.data[d.pos:])
	d.pos += 4
	return v
}

func (d *decoder) bytes(n int, what string) []byte {
	if !d.need(n, what) {
		return nil
	}
	out := make([]byte, n)
	copy(out, d.data[d.pos:d.pos+n])
	d.pos += n
	return out
}

func (d *decoder) string8(what string) string {
	n := d.u8(what + " length")
	return string(d.bytes(int(n), what))
}

func (d *decoder) string16(what string) string {
	n := d.u16(what + " length")
	return string(d.bytes(int(n), what))
}

// Deserialize decodes a script from bytes.
func Deserialize(data []byte) (*Script, error) {
	if len(data) < 8 {
		return nil, fmt.Errorf("script too short: need at least 8 bytes, got %d", len(data))
	}

	// Check magic
	if !bytes.Equal(data[0:4], ScriptMagic) {
		return nil, fmt.Errorf("invalid script magic: expected %q, got %q", ScriptMagic, data[0:4])
	}

	d := &decoder{data: data, pos: 4}
	s := &Script{
		Version: d.u16("version"),
		Flags:   ScriptFlags(d.u16("flags")),
	}

	if s.Version > ScriptVersion {
		return nil, fmt.Errorf("script version %d is newer than supported version %d", s.Version, ScriptVersion)
	}

	s.Name = d.string16("name")

	varCount := d.u16("variable count")
	for i := 0; i < int(varCount) && d.err == nil; i++ {
		v := Variable{
			Name: d.string8(fmt.Sprintf("variable %d name", i)),
			Type: Type(d.u8(fmt.Sprintf("variable %d type", i))),
		}
		switch v.Type {
		case TypeInt:
			v.Int = int32(d.u32("int default"))
		case TypeFloat:
			v.Float = math.Float32frombits(d.u32("float default"))
		case TypeString:
			v.String = d.string16("string default")
		default:
			return nil, fmt.Errorf("variable %d has invalid type %d", i, v.Type)
		}
		s.Variables = append(s.Variables, v)
	}

	importCount := d.u16("import count")
	for i := 0; i < int(importCount) && d.err == nil; i++ {
		imp := Import{
			Name:   d.string8(fmt.Sprintf("import %d name", i)),
			Return: Type(d.u8("import return type")),
		}
		argc := d.u8("import arg count")
		for j := 0; j < int(argc); j++ {
			imp.Args = append(imp.Args, Type(d.u8("import arg type")))
		}
		s.Imports = append(s.Imports, imp)
	}

	funcCount := d.u16("function count")
	for i := 0; i < int(funcCount) && d.err == nil; i++ {
		name := d.string8(fmt.Sprintf("function %d name", i))
		s.Functions = append(s.Functions, Function{Name: name, Offset: d.u32("function offset")})
	}

	s.Strings = d.bytes(int(d.u32("strings length")), "strings")
	s.Code = d.bytes(int(d.u32("code length")), "code")

	if d.u8("debug marker") != 0 {
		count := d.u32("source map count")
		for i := 0; i < int(count) && d.err == nil; i++ {
			loc := SourceLocation{Offset: d.u32("source offset"), Line: d.u32("source line")}
			s.SourceMap = append(s.SourceMap, loc)
		}
	}

	if d.err != nil {
		return nil, d.err
	}
	for _, f := range s.Functions {
		if int(f.Offset) > len(s.Code) {
			return nil, fmt.Errorf("function %q offset %d outside code section (%d bytes)", f.Name, f.Offset, len(s.Code))
		}
	}
	return s, nil
}
