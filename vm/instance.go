package vm

import "github.com/chazu/sheep/pkg/bytecode"

// Instance holds the variable storage for a running script. Threads running
// the same script concurrently share one instance; once the last of them
// finishes the instance is recycled with fresh defaults on next use.
type Instance struct {
	script *bytecode.Script
	vars   []Value
	refs   int
}

func defaultVars(script *bytecode.Script, into []Value) []Value {
	into = into[:0]
	for _, v := range script.Variables {
		switch v.Type {
		case bytecode.TypeInt:
			into = append(into, FromInt(v.Int))
		case bytecode.TypeFloat:
			into = append(into, FromFloat(v.Float))
		case bytecode.TypeString:
			into = append(into, FromString(v.String))
		default:
			into = append(into, Void)
		}
	}
	return into
}

// acquireInstance returns the index of an instance for script with its
// reference count incremented.
func (vm *VM) acquireInstance(script *bytecode.Script) int {
	for i, inst := range vm.instances {
		if inst.script == script && inst.refs > 0 {
			inst.refs++
			return i
		}
	}
	for i, inst := range vm.instances {
		if inst.refs == 0 {
			inst.script = script
			inst.vars = defaultVars(script, inst.vars)
			inst.refs = 1
			return i
		}
	}
	vm.instances = append(vm.instances, &Instance{
		script: script,
		vars:   defaultVars(script, nil),
		refs:   1,
	})
	return len(vm.instances) - 1
}

func (vm *VM) releaseInstance(idx int) {
	if idx < 0 || idx >= len(vm.instances) {
		return
	}
	if inst := vm.instances[idx]; inst.refs > 0 {
		inst.refs--
	}
}

// Variables returns a copy of the variables of the most recently used
// instance of script. The values stay readable after the script finishes,
// until another script reuses the instance.
func (vm *VM) Variables(script *bytecode.Script) ([]Value, bool) {
	var found *Instance
	for _, inst := range vm.instances {
		if inst.script == script {
			found = inst
			if inst.refs > 0 {
				break
			}
		}
	}
	if found == nil {
		return nil, false
	}
	return append([]Value(nil), found.vars...), true
}
