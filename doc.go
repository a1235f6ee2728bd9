// Package cbqn embeds the CBQN interpreter for BQN in Go programs.
//
// Values are built from Go data, passed to BQN functions, and converted
// back. The engine runs either as a native library linked through cgo
// (build tag cbqn) or as a WASI reactor module executed by wazero.
//
// # Architecture Overview
//
//	cbqn/                Values, conversions, evaluation, host functions
//	├── engine/          Backend contract shared by both substrates
//	│   ├── native/      libcbqn through cgo (build tag cbqn)
//	│   └── wasi/        cbqn.wasm on wazero
//	├── errors/          Structured error types
//	└── cmd/cbqn/        Command line evaluator and REPL
//
// # Quick Start
//
//	sum, err := cbqn.Eval("+´")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer sum.Free()
//
//	xs, _ := cbqn.FromSlice([]float64{1, 2, 3})
//	defer xs.Free()
//
//	r, err := sum.Call1(xs)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer r.Free()
//	n, _ := r.ToFloat64() // 6
//
// Run combines evaluation and a call:
//
//	r, err := cbqn.Run("⌽≡⊢", "BQN") // 0
//
// # Initialization
//
// The engine starts on first use with DefaultConfig, which reads
// CBQN_CONFIG, CBQN_BACKEND and CBQN_WASM. Call InitWithConfig before any
// other function to choose the configuration explicitly. Only the first
// initialization takes effect. After Shutdown every call fails with
// errors.KindNotInitialized.
//
// # Ownership
//
// Every *Value owns one engine handle and should be released with Free.
// Values dropped without Free are released by a runtime cleanup once the
// garbage collector finds them unreachable. FromValues and FromValueSeq
// move their arguments into the new list; the moved values report
// Released and fail with errors.KindReleased if used again.
//
// # Host Functions
//
// Fn1 and Fn2 turn Go functions into BQN functions:
//
//	upper, err := cbqn.Fn1(func(x *cbqn.Value) (*cbqn.Value, error) {
//	    s, err := x.ToString()
//	    if err != nil {
//	        return nil, err
//	    }
//	    return cbqn.FromString(strings.ToUpper(s))
//	})
//
// Host functions may call back into the engine, including themselves. An
// error or panic in a host function makes the outermost Call1, Call2 or
// Eval return an errors.KindCallback error. Registered functions are never
// unregistered. The WASI backend cannot bind host functions and returns
// errors.KindUnsupported.
//
// # Thread Safety
//
// CBQN is not thread-safe. Every function takes one process-wide lock,
// which the goroutine holding it may take again, so host functions can
// re-enter the engine. Calls from different goroutines are serialized.
package cbqn
