// Package errors provides structured error types for cbqn-go.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type carries the Go and BQN types involved, a detail message, any engine
// stderr captured while the failing call ran, and a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseDecode, errors.KindTypeMismatch).
//		GoType("float64").
//		Type("character").
//		Detail("value isn't a number").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.TypeMismatch(errors.PhaseDecode, "number", "character")
//	err := errors.Overflow(errors.PhaseEncode, n, "u32")
//
// Errors raised by BQN code itself have KindEngine; use IsEngine to tell them
// apart from host-side misuse such as IsTypeMismatch or IsUnsupported.
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
