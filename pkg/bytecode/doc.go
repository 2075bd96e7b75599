// Package bytecode defines the compiled form of Sheep scripts: the
// instruction set, the Script container and its binary encoding, and a
// disassembler.
//
// The bytecode format is designed for:
//   - Fast decoding (single-byte opcodes, fixed 4-byte little-endian operands)
//   - Stable opcode values (0x00-0x34) so previously compiled scripts stay loadable
//   - Easy serialization (can be stored in SQLite or shipped as .shp files)
//
// # Architecture Overview
//
//   - Opcodes: stack-based instructions covering system-function calls,
//     branches, wait blocks, typed variable access and int/float arithmetic
//
//   - Script: the compiled unit. Besides the code section it carries the
//     variable declarations with default values, the imported system-function
//     signatures, a NUL-terminated string pool addressed by byte offset, and
//     a table of named entry points. Scripts serialize to the "SHPB" format.
//
//   - Disassembler: human-readable listings for debugging.
//
// # String Constants
//
// String literals are referenced lazily. OpPushS pushes a marker holding a
// byte offset into the string pool and OpGetString resolves it to text, so a
// literal is only materialized when an instruction consumes it.
//
// # System-Function Calls
//
// A script never knows the native function table of the engine that runs it.
// Each call instruction names an entry in Script.Imports, and the runtime
// binds that signature (name, return type, argument types) to a registered
// native function by structural hash when the call executes.
package bytecode
