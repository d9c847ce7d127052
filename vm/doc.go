// Package vm implements the runtime helper layer that compiled Java code
// calls into.
//
// This package contains:
//   - Object, class and constant-pool model
//   - Resolve-frame build/restore protocol and stack walking
//   - Fast/slow helper pairs for allocation, casts, monitors, resolution,
//     exceptions and write barriers
//   - The enum-keyed helper table and the trampoline that plays a
//     compiled call site
//   - Reference collaborators (heap, linker, code cache) used by tests
//     and the jitrt command
package vm
