package vm

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by the registration and persistence surfaces.
var (
	ErrRegistrySealed   = errors.New("system-function registry is sealed")
	ErrDuplicateSysFunc = errors.New("system function already registered")
	ErrTooManyArgs      = errors.New("system function has too many arguments")
	ErrNoNativeFunc     = errors.New("system function has no implementation")
	ErrUnknownThread    = errors.New("unknown or terminated thread")
	ErrUnknownScript    = errors.New("unknown script")
)

// FatalError reports a violated interpreter invariant: stack overflow or
// underflow, a store into a variable of another type, a malformed operand.
// These indicate a corrupt script or an interpreter bug and are raised with
// panic rather than returned.
type FatalError struct {
	Op  string
	Msg string
}

func (e *FatalError) Error() string {
	if e.Op == "" {
		return "sheep: fatal: " + e.Msg
	}
	return fmt.Sprintf("sheep: fatal in %s: %s", e.Op, e.Msg)
}

func fatalf(op, format string, args ...any) {
	panic(&FatalError{Op: op, Msg: fmt.Sprintf(format, args...)})
}

// IsFatal reports whether a recovered panic value is a FatalError.
func IsFatal(r any) (*FatalError, bool) {
	fe, ok := r.(*FatalError)
	return fe, ok
}
