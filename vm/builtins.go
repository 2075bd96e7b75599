package vm

import (
	"fmt"
	"io"
	"math/rand"
	"strings"
	"time"
)

// TimerFacility schedules a completion to be signalled after a delay.
type TimerFacility interface {
	After(ms int, c Completion)
}

// StandardEnv supplies the host services the standard functions use.
// Nil fields degrade gracefully: output goes to the VM log, Wait completes
// immediately, and CallSheep fails with an error.
type StandardEnv struct {
	Output  io.Writer
	Timers  TimerFacility
	Scripts ScriptSource
	Rand    *rand.Rand
}

// RegisterStandard registers the built-in system functions on reg.
func RegisterStandard(reg *Registry, env StandardEnv) error {
	rng := env.Rand
	if rng == nil {
		rng = rand.New(rand.NewSource(time.Now().UnixNano()))
	}

	emit := func(c *Call, text string) {
		if env.Output != nil {
			fmt.Fprintln(env.Output, text)
			return
		}
		c.VM().Logger().Infof("[%s] %s", c.Tag(), text)
	}

	funcs := []SysFunc{
		{
			Name: "PrintString", Return: TypeVoid, Args: []Type{TypeString},
			Fn: func(c *Call) Value { emit(c, c.String(0)); return Void },
		},
		{
			Name: "PrintInt", Return: TypeVoid, Args: []Type{TypeInt},
			Fn: func(c *Call) Value { emit(c, FromInt(c.Int(0)).AsString()); return Void },
		},
		{
			Name: "PrintFloat", Return: TypeVoid, Args: []Type{TypeFloat},
			Fn: func(c *Call) Value { emit(c, FromFloat(c.Float(0)).AsString()); return Void },
		},
		{
			Name: "StrCmpI", Return: TypeInt, Args: []Type{TypeString, TypeString},
			Fn: func(c *Call) Value { return FromBool(strings.EqualFold(c.String(0), c.String(1))) },
		},
		{
			Name: "StrLen", Return: TypeInt, Args: []Type{TypeString},
			Fn: func(c *Call) Value { return FromInt(int32(len(c.String(0)))) },
		},
		{
			Name: "Abs", Return: TypeInt, Args: []Type{TypeInt},
			Fn: func(c *Call) Value {
				if n := c.Int(0); n < 0 {
					return FromInt(-n)
				}
				return FromInt(c.Int(0))
			},
		},
		{
			// Random returns a value in [lo, hi].
			Name: "Random", Return: TypeInt, Args: []Type{TypeInt, TypeInt},
			Fn: func(c *Call) Value {
				lo, hi := c.Int(0), c.Int(1)
				if hi < lo {
					lo, hi = hi, lo
				}
				return FromInt(lo + int32(rng.Int63n(int64(hi)-int64(lo)+1)))
			},
		},
		{
			Name: "Wait", Return: TypeVoid, Args: []Type{TypeInt}, Waitable: true,
			Fn: func(c *Call) Value {
				done := c.Notify()
				if ms := int(c.Int(0)); env.Timers != nil && ms > 0 && done.Valid() {
					env.Timers.After(ms, done)
				} else {
					done.Done()
				}
				return Void
			},
		},
		{
			Name: "CallSheep", Return: TypeVoid, Args: []Type{TypeString, TypeString}, Waitable: true,
			Fn: func(c *Call) Value {
				done := c.Notify()
				if env.Scripts == nil {
					c.SetExecutionError("no script source configured")
					done.Done()
					return Void
				}
				script, err := env.Scripts.Script(c.String(0))
				if err != nil {
					c.SetExecutionError(err.Error())
					done.Done()
					return Void
				}
				c.VM().ExecuteFrom(c.Thread(), script, c.String(1), "", func(Result) {
					done.Done()
				})
				return Void
			},
		},
		{
			Name: "StopSheep", Return: TypeInt, Args: []Type{TypeString},
			Fn: func(c *Call) Value { return FromInt(int32(c.VM().StopByTag(c.String(0)))) },
		},
		{
			Name: "SetError", Return: TypeVoid, Args: []Type{TypeString}, DevOnly: true,
			Fn: func(c *Call) Value { c.SetExecutionError(c.String(0)); return Void },
		},
	}

	for _, f := range funcs {
		if err := reg.Register(f); err != nil {
			return fmt.Errorf("register standard functions: %w", err)
		}
	}
	return nil
}
