// Package engine defines the primitive surface shared by the CBQN substrates.
//
// A Backend forwards each bqnffi.h primitive to one execution substrate:
//
//	engine/wasi    - CBQN compiled as a WASI reactor, run inside wazero
//	engine/native  - libcbqn linked in-process via cgo (build tag cbqn)
//
// Backends are deliberately thin. They take and return raw Handle values, do
// no ownership tracking and take no locks; the root cbqn package layers the
// global lock, lazy initialization and owned Value wrappers on top.
//
// # Types
//
// Type mirrors the bqn_type tags and ElType mirrors BQNElType:
//
//	Type         ElType
//	──────────────────────────
//	0 array      0 unknown (boxed)
//	1 number     1 i8
//	2 character  2 i16
//	3 function   3 i32
//	4 1-modifier 4 f64
//	5 2-modifier 5 c8
//	6 namespace  6 c16
//	             7 c32
//
// # Bound functions
//
// The engine calls host functions through a fixed C function pointer plus a
// single bound object. Backends that support MakeBoundFn1/2 route those calls
// to the installed Dispatcher. The sandboxed backend has no way to hand a
// native function pointer to the guest and reports errors.KindUnsupported.
package engine
