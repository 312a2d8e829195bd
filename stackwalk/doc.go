// Package stackwalk implements the register-location tracking used while
// walking the call stack of the Loom VM.
//
// This package contains:
//   - RegisterMap: the per-walk callee-saved register location table
//   - Arch: pluggable per-architecture register descriptors
//   - StackChunk: heap-resident continuation stack segments
//   - Walker: the reference frame-walk driver
package stackwalk
