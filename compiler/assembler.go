package compiler

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/tliron/commonlog"
	"gopkg.in/yaml.v3"

	"github.com/chazu/sheep/pkg/bytecode"
)

var log = commonlog.GetLogger("sheep.compiler")

// maxStackIndex bounds ITOF/FTOI depth operands; it matches the VM stack.
const maxStackIndex = 1024

// ---------------------------------------------------------------------------
// Errors
// ---------------------------------------------------------------------------

// Error is a compilation error with its source location.
type Error struct {
	Script   string
	Function string // empty for errors outside function bodies
	Line     int    // 1-based line in the YAML document, 0 if unknown
	Msg      string
}

func (e *Error) Error() string {
	var sb strings.Builder
	sb.WriteString(e.Script)
	if e.Function != "" {
		sb.WriteString(".")
		sb.WriteString(e.Function)
	}
	if e.Line > 0 {
		fmt.Fprintf(&sb, ":%d", e.Line)
	}
	sb.WriteString(": ")
	sb.WriteString(e.Msg)
	return sb.String()
}

// ErrorList is every error found in one document.
type ErrorList []*Error

func (l ErrorList) Error() string {
	switch len(l) {
	case 0:
		return "no errors"
	case 1:
		return l[0].Error()
	}
	msgs := make([]string, len(l))
	for i, e := range l {
		msgs[i] = e.Error()
	}
	return fmt.Sprintf("%d errors:\n%s", len(l), strings.Join(msgs, "\n"))
}

// Unwrap exposes the individual errors to errors.Is and errors.As.
func (l ErrorList) Unwrap() []error {
	errs := make([]error, len(l))
	for i, e := range l {
		errs[i] = e
	}
	return errs
}

// ---------------------------------------------------------------------------
// Source document
// ---------------------------------------------------------------------------

type sourceFile struct {
	Name      string         `yaml:"name"`
	Debug     bool           `yaml:"debug"`
	Variables []variableDecl `yaml:"variables"`
	Imports   []importDecl   `yaml:"imports"`
	Functions yaml.Node      `yaml:"functions"`
}

type variableDecl struct {
	Name    string    `yaml:"name"`
	Type    string    `yaml:"type"`
	Default yaml.Node `yaml:"default"`
}

type importDecl struct {
	Name   string   `yaml:"name"`
	Return string   `yaml:"return"`
	Args   []string `yaml:"args"`
}

// ---------------------------------------------------------------------------
// Mnemonics
// ---------------------------------------------------------------------------

// mnemonic is a resolved instruction name. Call aliases push the argument
// count before the call.
type mnemonic struct {
	op       bytecode.Opcode
	pushArgc bool
}

var aliases = map[string]mnemonic{
	"nop":      {op: bytecode.OpSitnSpin},
	"goto":     {op: bytecode.OpBranchGoto},
	"jmp":      {op: bytecode.OpBranch},
	"branch.z": {op: bytecode.OpBranchIfZero},
	"get.s":    {op: bytecode.OpGetString},
	"call.v":   {op: bytecode.OpCallSysV, pushArgc: true},
	"call.i":   {op: bytecode.OpCallSysI, pushArgc: true},
	"call.f":   {op: bytecode.OpCallSysF, pushArgc: true},
	"call.s":   {op: bytecode.OpCallSysS, pushArgc: true},
}

// lookupMnemonic resolves an instruction name case-insensitively. Both
// "push.i" and "PUSH_I" name the same opcode.
func lookupMnemonic(name string) (mnemonic, bool) {
	lower := strings.ToLower(name)
	if m, ok := aliases[lower]; ok {
		return m, true
	}
	op, ok := bytecode.LookupOpcode(strings.ToUpper(strings.ReplaceAll(lower, ".", "_")))
	return mnemonic{op: op}, ok
}

// ---------------------------------------------------------------------------
// Assembler
// ---------------------------------------------------------------------------

// fixup is a branch operand waiting for its label to be placed.
type fixup struct {
	placeholder int
	label       string
	function    *function
	line        int
}

type function struct {
	name   string
	labels map[string]int
}

// Assembler turns a YAML script document into a bytecode.Script.
type Assembler struct {
	script *bytecode.Script
	errors ErrorList
	debug  bool

	fn         *function
	fixups     []fixup
	lastOp     bytecode.Opcode
	emitted    bool
	labelAtEnd bool
}

// Errors returns accumulated compilation errors.
func (a *Assembler) Errors() ErrorList {
	return a.errors
}

func (a *Assembler) errorf(line int, format string, args ...interface{}) {
	e := &Error{Script: a.script.Name, Line: line, Msg: fmt.Sprintf(format, args...)}
	if a.fn != nil {
		e.Function = a.fn.name
	}
	a.errors = append(a.errors, e)
}

// Compile assembles a YAML script document.
func Compile(src []byte) (*bytecode.Script, error) {
	return compile(src, "")
}

// CompileFile assembles the document at path. A document without a name
// takes the file's base name.
func CompileFile(path string) (*bytecode.Script, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("compile %s: %w", path, err)
	}
	base := filepath.Base(path)
	return compile(src, strings.TrimSuffix(base, filepath.Ext(base)))
}

func compile(src []byte, defaultName string) (*bytecode.Script, error) {
	var doc sourceFile
	if err := yaml.Unmarshal(src, &doc); err != nil {
		name := defaultName
		if name == "" {
			name = "<script>"
		}
		return nil, ErrorList{{Script: name, Msg: err.Error()}}
	}
	if doc.Name == "" {
		doc.Name = defaultName
	}

	a := &Assembler{script: bytecode.NewScript(doc.Name), debug: doc.Debug}
	if doc.Name == "" {
		a.script.Name = "<script>"
		a.errorf(0, "script has no name")
	}

	a.declareVariables(doc.Variables)
	a.declareImports(doc.Imports)
	a.assembleFunctions(&doc.Functions)
	a.resolveFixups()

	if len(a.errors) > 0 {
		return nil, a.errors
	}
	log.Debugf("compiled %s: %d functions, %d bytes of code", a.script.Name, len(a.script.Functions), len(a.script.Code))
	return a.script, nil
}

func (a *Assembler) declareVariables(decls []variableDecl) {
	for _, d := range decls {
		line := d.Default.Line
		if d.Name == "" {
			a.errorf(line, "variable without a name")
			continue
		}
		if _, dup := a.script.VariableIndex(d.Name); dup {
			a.errorf(line, "variable %q declared twice", d.Name)
			continue
		}
		typ, err := bytecode.ParseType(d.Type)
		if err != nil || typ == bytecode.TypeVoid {
			a.errorf(line, "variable %q: bad type %q", d.Name, d.Type)
			continue
		}

		v := bytecode.Variable{Name: d.Name, Type: typ}
		if d.Default.Kind != 0 {
			switch typ {
			case bytecode.TypeInt:
				err = d.Default.Decode(&v.Int)
			case bytecode.TypeFloat:
				err = d.Default.Decode(&v.Float)
			case bytecode.TypeString:
				err = d.Default.Decode(&v.String)
			}
			if err != nil {
				a.errorf(line, "variable %q: bad %s default %q", d.Name, typ, d.Default.Value)
				continue
			}
		}
		a.script.AddVariable(v)
	}
}

func (a *Assembler) declareImports(decls []importDecl) {
	for _, d := range decls {
		if d.Name == "" {
			a.errorf(0, "import without a name")
			continue
		}
		imp := bytecode.Import{Name: d.Name}
		ok := true
		if d.Return != "" {
			t, err := bytecode.ParseType(d.Return)
			if err != nil {
				a.errorf(0, "import %s: %v", d.Name, err)
				ok = false
			}
			imp.Return = t
		}
		for _, arg := range d.Args {
			t, err := bytecode.ParseType(arg)
			if err != nil || t == bytecode.TypeVoid {
				a.errorf(0, "import %s: bad argument type %q", d.Name, arg)
				ok = false
			}
			imp.Args = append(imp.Args, t)
		}
		if ok {
			a.script.AddImport(imp)
		}
	}
}

// assembleFunctions walks the functions mapping in document order. A body
// is either one block scalar of instruction lines or a sequence of lines.
func (a *Assembler) assembleFunctions(node *yaml.Node) {
	if node.Kind == 0 {
		a.errorf(0, "script has no functions")
		return
	}
	if node.Kind != yaml.MappingNode {
		a.errorf(node.Line, "functions must be a mapping of name to body")
		return
	}

	for i := 0; i+1 < len(node.Content); i += 2 {
		key, body := node.Content[i], node.Content[i+1]
		if _, dup := a.script.FunctionOffset(key.Value); dup {
			a.errorf(key.Line, "function %q defined twice", key.Value)
			continue
		}

		a.fn = &function{name: key.Value, labels: make(map[string]int)}
		a.emitted = false
		a.labelAtEnd = false
		a.script.AddFunction(key.Value, uint32(a.script.CurrentOffset()))

		switch body.Kind {
		case yaml.ScalarNode:
			a.assembleBody(body.Value, bodyLine(body))
		case yaml.SequenceNode:
			for _, item := range body.Content {
				if item.Kind != yaml.ScalarNode {
					a.errorf(item.Line, "instruction must be a string")
					continue
				}
				a.assembleBody(item.Value, item.Line)
			}
		default:
			a.errorf(body.Line, "function body must be a string or a list of strings")
		}

		if !a.emitted || a.lastOp != bytecode.OpReturn || a.labelAtEnd {
			a.emit(bytecode.OpReturn, 0)
		}
	}
	a.fn = nil
}

// bodyLine returns the document line of the first line of a scalar's text.
func bodyLine(n *yaml.Node) int {
	if n.Style&(yaml.LiteralStyle|yaml.FoldedStyle) != 0 {
		return n.Line + 1
	}
	return n.Line
}

// assembleBody assembles instruction text whose first line sits at base.
func (a *Assembler) assembleBody(text string, base int) {
	toks := NewLexer(text).Tokens()

	var line []Token
	for _, tok := range toks {
		if tok.Type == TokenNewline || tok.Type == TokenEOF {
			if len(line) > 0 {
				a.assembleLine(line, base+line[0].Pos.Line-1)
			}
			line = line[:0]
			continue
		}
		line = append(line, tok)
	}
}

// assembleLine handles: [label:]... [mnemonic [operand]]
func (a *Assembler) assembleLine(toks []Token, line int) {
	for _, tok := range toks {
		if tok.Type == TokenError {
			a.errorf(line, "%s", tok.Literal)
			return
		}
	}

	for len(toks) > 0 && toks[0].Type == TokenLabel {
		name := strings.ToLower(toks[0].Literal)
		if _, dup := a.fn.labels[name]; dup {
			a.errorf(line, "label %q defined twice", toks[0].Literal)
		} else {
			a.fn.labels[name] = a.script.CurrentOffset()
			a.labelAtEnd = true
		}
		toks = toks[1:]
	}
	if len(toks) == 0 {
		return
	}

	if toks[0].Type != TokenIdentifier {
		a.errorf(line, "expected instruction, got %s", toks[0])
		return
	}
	m, ok := lookupMnemonic(toks[0].Literal)
	if !ok {
		a.errorf(line, "unknown instruction %q", toks[0].Literal)
		return
	}
	operands := toks[1:]

	info := bytecode.GetOpcodeInfo(m.op)
	if info.Operand == bytecode.OperandNone {
		if len(operands) > 0 {
			a.errorf(line, "%s takes no operand", toks[0].Literal)
			return
		}
		a.emit(m.op, line)
		return
	}
	if len(operands) != 1 {
		a.errorf(line, "%s takes exactly one operand", toks[0].Literal)
		return
	}

	operand, ok := a.operand(info.Operand, operands[0], line)
	if !ok {
		return
	}
	if m.pushArgc {
		argc := len(a.script.Imports[operand].Args)
		a.emitOperand(bytecode.OpPushI, uint32(argc), line)
	}
	at := a.emitOperand(m.op, operand, line)
	if info.Operand == bytecode.OperandOffset && operands[0].Type == TokenIdentifier {
		a.fixups = append(a.fixups, fixup{
			placeholder: at + 1,
			label:       strings.ToLower(operands[0].Literal),
			function:    a.fn,
			line:        line,
		})
	}
}

// operand converts the operand token for the given kind. Branch targets
// named by label return a placeholder patched by resolveFixups.
func (a *Assembler) operand(kind bytecode.OperandKind, tok Token, line int) (uint32, bool) {
	switch kind {
	case bytecode.OperandImport:
		if tok.Type == TokenIdentifier {
			if idx, ok := a.script.ImportIndex(tok.Literal); ok {
				return idx, true
			}
			a.errorf(line, "unknown import %q", tok.Literal)
			return 0, false
		}
		return a.index(tok, line, len(a.script.Imports), "import")

	case bytecode.OperandVariable:
		if tok.Type == TokenIdentifier {
			if idx, ok := a.script.VariableIndex(tok.Literal); ok {
				return idx, true
			}
			a.errorf(line, "unknown variable %q", tok.Literal)
			return 0, false
		}
		return a.index(tok, line, len(a.script.Variables), "variable")

	case bytecode.OperandOffset:
		if tok.Type == TokenIdentifier {
			return 0xFFFFFFFF, true
		}
		return a.index(tok, line, -1, "offset")

	case bytecode.OperandInt:
		if tok.Type != TokenInteger {
			a.errorf(line, "expected integer, got %s", tok)
			return 0, false
		}
		n, err := strconv.ParseInt(tok.Literal, 0, 32)
		if err != nil {
			a.errorf(line, "integer %s out of range", tok.Literal)
			return 0, false
		}
		return uint32(int32(n)), true

	case bytecode.OperandFloat:
		if tok.Type != TokenFloat && tok.Type != TokenInteger {
			a.errorf(line, "expected number, got %s", tok)
			return 0, false
		}
		f, err := strconv.ParseFloat(tok.Literal, 32)
		if err != nil {
			a.errorf(line, "bad float %s", tok.Literal)
			return 0, false
		}
		return math.Float32bits(float32(f)), true

	case bytecode.OperandString:
		if tok.Type == TokenString {
			return a.script.AddString(tok.Literal), true
		}
		a.errorf(line, "expected string literal, got %s", tok)
		return 0, false

	case bytecode.OperandStackIndex:
		return a.index(tok, line, maxStackIndex, "stack index")
	}
	a.errorf(line, "unsupported operand")
	return 0, false
}

// index parses a non-negative integer operand below limit (no limit if < 0).
func (a *Assembler) index(tok Token, line int, limit int, what string) (uint32, bool) {
	if tok.Type != TokenInteger {
		a.errorf(line, "expected %s, got %s", what, tok)
		return 0, false
	}
	n, err := strconv.ParseUint(tok.Literal, 0, 32)
	if err != nil || (limit >= 0 && n >= uint64(limit)) {
		a.errorf(line, "%s %s out of range", what, tok.Literal)
		return 0, false
	}
	return uint32(n), true
}

func (a *Assembler) emit(op bytecode.Opcode, line int) int {
	at := a.script.Emit(op)
	a.mark(at, op, line)
	return at
}

func (a *Assembler) emitOperand(op bytecode.Opcode, operand uint32, line int) int {
	at := a.script.EmitUint32(op, operand)
	a.mark(at, op, line)
	return at
}

func (a *Assembler) mark(at int, op bytecode.Opcode, line int) {
	a.lastOp = op
	a.emitted = true
	a.labelAtEnd = false
	if a.debug && line > 0 {
		a.script.AddSourceLocation(uint32(at), uint32(line))
	}
}

// resolveFixups patches label operands. Function-local labels win over
// function names.
func (a *Assembler) resolveFixups() {
	for _, f := range a.fixups {
		if target, ok := f.function.labels[f.label]; ok {
			a.script.PatchJumpTo(f.placeholder, target)
			continue
		}
		if target, ok := a.script.FunctionOffset(f.label); ok {
			a.script.PatchJumpTo(f.placeholder, int(target))
			continue
		}
		a.errors = append(a.errors, &Error{
			Script:   a.script.Name,
			Function: f.function.name,
			Line:     f.line,
			Msg:      fmt.Sprintf("undefined label %q", f.label),
		})
	}
}
