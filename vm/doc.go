// Package vm implements the Sheep virtual machine.
//
// This package contains:
//   - Tagged Value representation and the bounded operand stack
//   - The system-function registry and native call context
//   - Thread, instance and completion pools with generation-checked handles
//   - The bytecode decode loop and cooperative scheduler
//   - Stack and machine-state persistence
//   - The standard system functions
//
// A VM is driven from a single goroutine: Execute starts scripts, Tick
// applies completions and resumes suspended threads. Completions may be
// signalled from any goroutine.
package vm
