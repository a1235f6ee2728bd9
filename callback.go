package cbqn

import (
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/wippyai/cbqn-go/engine"
	"github.com/wippyai/cbqn-go/errors"
)

// Func1 is a host function BQN can call with one argument.
//
// Arguments are released when the function returns unless one of them is
// returned; Clone an argument to keep it. A nil result is returned to BQN
// as @.
type Func1 func(x *Value) (*Value, error)

// Func2 is a host function BQN can call with two arguments.
type Func2 func(w, x *Value) (*Value, error)

// registry maps keys carried in bound objects to host functions.
// Entries are never removed: a bound function may be stored anywhere in
// the engine heap and called long after the Value that created it is gone.
type registry struct {
	mu   sync.Mutex
	next atomic.Uint64
	fn1  map[uint64]Func1
	fn2  map[uint64]Func2
}

var funcs = &registry{
	fn1: make(map[uint64]Func1),
	fn2: make(map[uint64]Func2),
}

func (r *registry) add1(f Func1) uint64 {
	key := r.next.Add(1)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fn1[key] = f
	return key
}

func (r *registry) add2(f Func2) uint64 {
	key := r.next.Add(1)
	r.mu.Lock()
	defer r.mu.Unlock()
	r.fn2[key] = f
	return key
}

func (r *registry) remove(key uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.fn1, key)
	delete(r.fn2, key)
}

func (r *registry) get1(key uint64) (Func1, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.fn1[key]
	return f, ok
}

func (r *registry) get2(key uint64) (Func2, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	f, ok := r.fn2[key]
	return f, ok
}

// size returns the number of registered host functions.
func (r *registry) size() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.fn1) + len(r.fn2)
}

// Fn1 returns a BQN function that calls f.
// Not every backend supports this; the sandbox returns an
// errors.KindUnsupported error.
func Fn1(f Func1) (*Value, error) {
	if f == nil {
		return nil, errors.InvalidInput(errors.PhaseCallback, "nil function")
	}
	return with(errors.PhaseCallback, func(s *state) (*Value, error) {
		key := funcs.add1(f)
		h, err := s.bind(key, 1, s.backend.MakeBoundFn1)
		if err != nil {
			funcs.remove(key)
			return nil, err
		}
		return s.adopt(h), nil
	})
}

// Fn2 returns a BQN function that calls f with 𝕨 and 𝕩.
func Fn2(f Func2) (*Value, error) {
	if f == nil {
		return nil, errors.InvalidInput(errors.PhaseCallback, "nil function")
	}
	return with(errors.PhaseCallback, func(s *state) (*Value, error) {
		key := funcs.add2(f)
		h, err := s.bind(key, 2, s.backend.MakeBoundFn2)
		if err != nil {
			funcs.remove(key)
			return nil, err
		}
		return s.adopt(h), nil
	})
}

// bind makes the bound function for key. The engine retains its own
// reference to the bound object.
func (s *state) bind(key uint64, arity int, makeFn func(obj engine.Handle) (engine.Handle, error)) (engine.Handle, error) {
	obj, err := s.backend.MakeF64(float64(key))
	if err != nil {
		return 0, err
	}
	h, err := makeFn(obj)
	if ferr := s.backend.Free(obj); err == nil && ferr != nil {
		_ = s.backend.Free(h)
		return 0, ferr
	}
	if err != nil {
		return 0, err
	}
	logger().Debug("bound host function", zap.Uint64("key", key), zap.Int("arity", arity))
	return h, nil
}

// dispatcher receives engine calls of bound functions. It runs on the
// goroutine that entered the engine, which already holds the engine lock.
type dispatcher struct{}

var _ engine.Dispatcher = dispatcher{}

func (dispatcher) Dispatch1(obj, x engine.Handle) engine.Handle {
	return dispatch(obj, []engine.Handle{x}, func(key uint64, args []*Value) (*Value, error) {
		f, ok := funcs.get1(key)
		if !ok {
			return nil, errors.NotFound(errors.PhaseCallback, "host function", fmt.Sprint(key))
		}
		return f(args[0])
	})
}

func (dispatcher) Dispatch2(obj, w, x engine.Handle) engine.Handle {
	return dispatch(obj, []engine.Handle{w, x}, func(key uint64, args []*Value) (*Value, error) {
		f, ok := funcs.get2(key)
		if !ok {
			return nil, errors.NotFound(errors.PhaseCallback, "host function", fmt.Sprint(key))
		}
		return f(args[0], args[1])
	})
}

func dispatch(obj engine.Handle, args []engine.Handle, call func(key uint64, args []*Value) (*Value, error)) engine.Handle {
	lock.Lock()
	defer lock.Unlock()
	s := current
	if s == nil {
		return 0
	}

	vs := make([]*Value, len(args))
	for i, h := range args {
		vs[i] = s.adopt(h)
	}
	defer func() {
		for _, v := range vs {
			_ = v.Free()
		}
	}()

	key, err := s.backend.ReadF64(obj)
	if ferr := s.backend.Free(obj); err == nil {
		err = ferr
	}
	if err != nil {
		return s.fail(0, err)
	}

	r, err := invoke(uint64(key), vs, call)
	if err != nil {
		_ = r.Free()
		return s.fail(uint64(key), err)
	}
	if r == nil {
		h, err := s.backend.MakeChar(0)
		if err != nil {
			return s.fail(uint64(key), err)
		}
		return h
	}
	h, err := s.take(errors.PhaseCallback, r)
	if err != nil {
		return s.fail(uint64(key), err)
	}
	return h
}

// invoke runs a host function, converting a panic into an error.
func invoke(key uint64, vs []*Value, call func(uint64, []*Value) (*Value, error)) (r *Value, err error) {
	defer func() {
		if p := recover(); p != nil {
			r = nil
			err = errors.New(errors.PhaseCallback, errors.KindCallback).
				Value(p).
				Detail("host function panicked: %v", p).
				Build()
		}
	}()
	return call(key, vs)
}

// fail records a host function failure for the entry point that called
// into the engine and hands @ back to the engine. The first failure wins.
func (s *state) fail(key uint64, err error) engine.Handle {
	if s.pending == nil {
		s.pending = err
	}
	s.failures++
	logger().Warn("host function failed", zap.Uint64("key", key), zap.Error(err))

	h, merr := s.backend.MakeChar(0)
	if merr != nil {
		return 0
	}
	return h
}
