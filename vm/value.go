package vm

import (
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/chazu/sheep/pkg/bytecode"
)

// Type is the value tag. It shares its numbering with bytecode.Type so
// variable declarations and system-function signatures need no translation.
type Type = bytecode.Type

const (
	TypeVoid   = bytecode.TypeVoid
	TypeInt    = bytecode.TypeInt
	TypeFloat  = bytecode.TypeFloat
	TypeString = bytecode.TypeString

	// typeStringOffset tags the unresolved marker pushed by OpPushS.
	typeStringOffset Type = 0x80
)

// FloatEpsilon is the tolerance for float equality and float truthiness.
const FloatEpsilon = 1e-6

// Value is a tagged union holding at most one of an int, a float or a string.
// The zero Value is Void.
type Value struct {
	typ Type
	i   int32
	f   float32
	s   string
}

// Void is the empty value.
var Void = Value{}

// FromInt creates an Int value.
func FromInt(i int32) Value { return Value{typ: TypeInt, i: i} }

// FromFloat creates a Float value.
func FromFloat(f float32) Value { return Value{typ: TypeFloat, f: f} }

// FromString creates a String value.
func FromString(s string) Value { return Value{typ: TypeString, s: s} }

// FromBool creates an Int value of 1 or 0.
func FromBool(b bool) Value {
	if b {
		return FromInt(1)
	}
	return FromInt(0)
}

func fromStringOffset(offset uint32) Value {
	return Value{typ: typeStringOffset, i: int32(offset)}
}

// Zero returns the zero value of the given type.
func Zero(t Type) Value {
	switch t {
	case TypeInt:
		return FromInt(0)
	case TypeFloat:
		return FromFloat(0)
	case TypeString:
		return FromString("")
	default:
		return Void
	}
}

// ---------------------------------------------------------------------------
// Type checking
// ---------------------------------------------------------------------------

// Type returns the value's tag.
func (v Value) Type() Type { return v.typ }

func (v Value) IsVoid() bool   { return v.typ == TypeVoid }
func (v Value) IsInt() bool    { return v.typ == TypeInt }
func (v Value) IsFloat() bool  { return v.typ == TypeFloat }
func (v Value) IsString() bool { return v.typ == TypeString }

func (v Value) isStringOffset() bool { return v.typ == typeStringOffset }

// ---------------------------------------------------------------------------
// Coercion
// ---------------------------------------------------------------------------

// AsInt converts the value to an int. Floats truncate toward zero and strings
// are parsed; an unparseable string is a fatal conversion error.
func (v Value) AsInt() int32 {
	switch v.typ {
	case TypeInt, typeStringOffset:
		return v.i
	case TypeFloat:
		return int32(v.f)
	case TypeString:
		s := strings.TrimSpace(v.s)
		if n, err := strconv.ParseInt(s, 10, 32); err == nil {
			return int32(n)
		}
		if f, err := strconv.ParseFloat(s, 32); err == nil {
			return int32(f)
		}
		fatalf("AsInt", "cannot convert %q to int", v.s)
	}
	return 0
}

// AsFloat converts the value to a float. Strings are parsed; an unparseable
// string is a fatal conversion error.
func (v Value) AsFloat() float32 {
	switch v.typ {
	case TypeInt, typeStringOffset:
		return float32(v.i)
	case TypeFloat:
		return v.f
	case TypeString:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.s), 32)
		if err != nil {
			fatalf("AsFloat", "cannot convert %q to float", v.s)
		}
		return float32(f)
	}
	return 0
}

// AsString converts the value to text. Numbers are formatted; Void is "".
func (v Value) AsString() string {
	switch v.typ {
	case TypeInt:
		return strconv.FormatInt(int64(v.i), 10)
	case TypeFloat:
		return strconv.FormatFloat(float64(v.f), 'f', -1, 32)
	case TypeString:
		return v.s
	}
	return ""
}

// As converts the value to the given type.
func (v Value) As(t Type) Value {
	switch t {
	case TypeInt:
		return FromInt(v.AsInt())
	case TypeFloat:
		return FromFloat(v.AsFloat())
	case TypeString:
		return FromString(v.AsString())
	}
	return Void
}

// Truthy reports whether the value counts as true: a nonzero int, a float
// further than FloatEpsilon from zero, or a non-empty string.
func (v Value) Truthy() bool {
	switch v.typ {
	case TypeInt:
		return v.i != 0
	case TypeFloat:
		return math.Abs(float64(v.f)) > FloatEpsilon
	case TypeString:
		return v.s != ""
	}
	return false
}

// Equal reports whether two values have the same tag and payload.
// Floats compare with FloatEpsilon tolerance.
func (v Value) Equal(o Value) bool {
	if v.typ != o.typ {
		return false
	}
	switch v.typ {
	case TypeFloat:
		return floatEqual(v.f, o.f)
	case TypeString:
		return v.s == o.s
	case TypeVoid:
		return true
	}
	return v.i == o.i
}

func floatEqual(a, b float32) bool {
	return math.Abs(float64(a)-float64(b)) < FloatEpsilon
}

// String formats the value for logs and debugging.
func (v Value) String() string {
	switch v.typ {
	case TypeInt:
		return strconv.FormatInt(int64(v.i), 10)
	case TypeFloat:
		return strconv.FormatFloat(float64(v.f), 'g', -1, 32) + "f"
	case TypeString:
		return strconv.Quote(v.s)
	case typeStringOffset:
		return fmt.Sprintf("@%d", v.i)
	}
	return "void"
}
