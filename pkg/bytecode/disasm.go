package bytecode

import (
	"fmt"
	"math"
	"strings"
)

// Disassemble returns a human-readable bytecode listing for the script.
func (s *Script) Disassemble() string {
	var sb strings.Builder

	// Header
	sb.WriteString(fmt.Sprintf("; === %s ===\n", s.Name))
	sb.WriteString(fmt.Sprintf("; Sheep Bytecode v%d\n", s.Version))
	sb.WriteString(fmt.Sprintf("; Flags: 0x%04X", s.Flags))
	if s.Flags&ScriptFlagDebug != 0 {
		sb.WriteString(" [DEBUG]")
	}
	sb.WriteString("\n\n")

	if len(s.Variables) > 0 {
		sb.WriteString("; Variables:\n")
		for i, v := range s.Variables {
			var def string
			switch v.Type {
			case TypeInt:
				def = fmt.Sprintf("%d", v.Int)
			case TypeFloat:
				def = fmt.Sprintf("%g", v.Float)
			case TypeString:
				def = fmt.Sprintf("%q", v.String)
			}
			sb.WriteString(fmt.Sprintf(";   [%3d] %s %s = %s\n", i, v.Type, v.Name, def))
		}
		sb.WriteString("\n")
	}

	if len(s.Imports) > 0 {
		sb.WriteString("; Imports:\n")
		for i, imp := range s.Imports {
			sb.WriteString(fmt.Sprintf(";   [%3d] %s\n", i, imp.Signature()))
		}
		sb.WriteString("\n")
	}

	if len(s.Strings) > 0 {
		sb.WriteString("; Strings:\n")
		offset := 0
		for offset < len(s.Strings) {
			str, _ := s.StringAt(uint32(offset))
			display := str
			// Truncate long strings for readability
			if len(display) > 40 {
				display = display[:37] + "..."
			}
			sb.WriteString(fmt.Sprintf(";   @%-4d %q\n", offset, display))
			offset += len(str) + 1
		}
		sb.WriteString("\n")
	}

	// Code section
	sb.WriteString("; Code:\n")
	offset := 0
	for offset < len(s.Code) {
		if name, ok := s.FunctionAt(uint32(offset)); ok {
			sb.WriteString(fmt.Sprintf("%s:\n", name))
		}
		line, instrLen := s.disassembleInstruction(offset)

		// Add source location if available
		if srcLine := s.GetSourceLine(uint32(offset)); s.Flags&ScriptFlagDebug != 0 && srcLine > 0 {
			sb.WriteString(fmt.Sprintf("%04X  %-36s ; line %d\n", offset, line, srcLine))
		} else {
			sb.WriteString(fmt.Sprintf("%04X  %s\n", offset, line))
		}

		offset += instrLen
	}

	return sb.String()
}

// DisassembleInstruction formats the instruction at offset.
// Returns the formatted string and the instruction length.
func (s *Script) DisassembleInstruction(offset int) (string, int) {
	return s.disassembleInstruction(offset)
}

func (s *Script) disassembleInstruction(offset int) (string, int) {
	if offset >= len(s.Code) {
		return "<end of code>", 0
	}

	op := Opcode(s.Code[offset])
	if !op.Valid() {
		return op.String(), 1
	}
	info := GetOpcodeInfo(op)
	if info.Operand == OperandNone {
		return info.Name, 1
	}

	operand, ok := s.ReadOperand(offset)
	if !ok {
		return fmt.Sprintf("%s <truncated>", info.Name), len(s.Code) - offset
	}

	switch info.Operand {
	case OperandImport:
		if int(operand) < len(s.Imports) {
			return fmt.Sprintf("%s %d ; %s", info.Name, operand, s.Imports[operand].Signature()), 5
		}
		return fmt.Sprintf("%s %d ; <bad import>", info.Name, operand), 5

	case OperandOffset:
		if name, ok := s.FunctionAt(operand); ok {
			return fmt.Sprintf("%s %04X ; %s", info.Name, operand, name), 5
		}
		return fmt.Sprintf("%s %04X", info.Name, operand), 5

	case OperandVariable:
		if int(operand) < len(s.Variables) {
			return fmt.Sprintf("%s %d ; %s", info.Name, operand, s.Variables[operand].Name), 5
		}
		return fmt.Sprintf("%s %d ; <bad variable>", info.Name, operand), 5

	case OperandInt:
		return fmt.Sprintf("%s %d", info.Name, int32(operand)), 5

	case OperandFloat:
		return fmt.Sprintf("%s %g", info.Name, math.Float32frombits(operand)), 5

	case OperandString:
		str, ok := s.StringAt(operand)
		if !ok {
			return fmt.Sprintf("%s @%d ; <bad string>", info.Name, operand), 5
		}
		if len(str) > 20 {
			str = str[:17] + "..."
		}
		return fmt.Sprintf("%s @%d ; %q", info.Name, operand, str), 5

	default:
		return fmt.Sprintf("%s %d", info.Name, operand), 5
	}
}
