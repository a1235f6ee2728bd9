// Package native links libcbqn into the process through cgo.
//
// Every file except this one carries the cbqn build tag, so the package is
// empty unless built with -tags cbqn and bqnffi.h/libcbqn are reachable by
// the C toolchain (CGO_CFLAGS / CGO_LDFLAGS).
//
// Host functions bound with MakeBoundFn1/2 reach Go through the exported
// cbqnDispatch1 and cbqnDispatch2 trampolines, which forward to the
// Dispatcher installed with SetDispatcher. CBQN runs callbacks on the calling
// thread, so they re-enter on the goroutine that issued the outer call.
package native
