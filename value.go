package cbqn

import (
	"runtime"
	"strings"
	"sync/atomic"
	"unicode"

	"go.uber.org/zap"

	"github.com/wippyai/cbqn-go/engine"
	"github.com/wippyai/cbqn-go/errors"
)

// Type is the BQN type of a value.
type Type = engine.Type

const (
	TypeArray     = engine.TypeArray
	TypeNumber    = engine.TypeNumber
	TypeCharacter = engine.TypeCharacter
	TypeFunction  = engine.TypeFunction
	TypeMod1      = engine.TypeMod1
	TypeMod2      = engine.TypeMod2
	TypeNamespace = engine.TypeNamespace
)

// ElType is the direct element type of an array.
type ElType = engine.ElType

// Value owns one BQN value.
//
// A Value is released exactly once, either explicitly with Free or, as a
// safety net, by a runtime cleanup after it becomes unreachable. Using a
// Value after Free, or after it was moved into another value, returns an
// errors.KindReleased error.
type Value struct {
	h        engine.Handle
	gen      uint64
	released atomic.Bool
	cleanup  runtime.Cleanup
}

type orphan struct {
	h   engine.Handle
	gen uint64
}

// adopt wraps a handle the caller owns. The engine lock must be held.
func (s *state) adopt(h engine.Handle) *Value {
	v := &Value{h: h, gen: s.gen}
	v.cleanup = runtime.AddCleanup(v, releaseOrphan, orphan{h: h, gen: s.gen})
	return v
}

// releaseOrphan frees the handle of a Value collected without Free.
func releaseOrphan(o orphan) {
	lock.Lock()
	defer lock.Unlock()
	if current == nil || current.gen != o.gen {
		return
	}
	if err := current.backend.Free(o.h); err != nil {
		logger().Warn("release of collected value failed", zap.Uint64("handle", uint64(o.h)), zap.Error(err))
		return
	}
	logger().Debug("released collected value", zap.Uint64("handle", uint64(o.h)))
}

// handle returns v's handle after checking it is still owned. The engine
// lock must be held.
func (s *state) handle(phase errors.Phase, v *Value) (engine.Handle, error) {
	if v == nil {
		return 0, errors.InvalidInput(phase, "nil value")
	}
	if v.released.Load() {
		return 0, errors.Released(phase)
	}
	if v.gen != s.gen {
		return 0, errors.New(phase, errors.KindReleased).Detail("value belongs to a previous engine").Build()
	}
	return v.h, nil
}

// take moves ownership of v's handle to the caller. v is released.
func (s *state) take(phase errors.Phase, v *Value) (engine.Handle, error) {
	h, err := s.handle(phase, v)
	if err != nil {
		return 0, err
	}
	if !v.released.CompareAndSwap(false, true) {
		return 0, errors.Released(phase)
	}
	v.cleanup.Stop()
	return h, nil
}

// typeOf queries the engine type of h.
func (s *state) typeOf(h engine.Handle) (Type, error) {
	return s.backend.Type(h)
}

// expect fails unless h has type want.
func (s *state) expect(phase errors.Phase, h engine.Handle, want Type, goType string) error {
	t, err := s.typeOf(h)
	if err != nil {
		return err
	}
	if t != want {
		return errors.New(phase, errors.KindTypeMismatch).
			GoType(goType).
			Type(t.String()).
			Detail("expected %s", want).
			Build()
	}
	return nil
}

// Null returns @, the null character.
func Null() (*Value, error) {
	return with(errors.PhaseEncode, func(s *state) (*Value, error) {
		h, err := s.backend.MakeChar(0)
		if err != nil {
			return nil, err
		}
		return s.adopt(h), nil
	})
}

// Free releases the value. Calling Free again is a no-op, as is freeing a
// value whose engine has been shut down: its handle went with the engine.
func (v *Value) Free() error {
	if v == nil || !v.released.CompareAndSwap(false, true) {
		return nil
	}
	v.cleanup.Stop()

	lock.Lock()
	defer lock.Unlock()
	if current == nil || current.gen != v.gen {
		return nil
	}
	return current.backend.Free(v.h)
}

// Released reports whether the value was freed or moved.
func (v *Value) Released() bool {
	return v == nil || v.released.Load()
}

// Clone returns an independent value referring to the same BQN value.
func (v *Value) Clone() (*Value, error) {
	return with(errors.PhaseCall, func(s *state) (*Value, error) {
		h, err := s.handle(errors.PhaseCall, v)
		if err != nil {
			return nil, err
		}
		c, err := s.backend.Copy(h)
		if err != nil {
			return nil, err
		}
		return s.adopt(c), nil
	})
}

// Type returns the BQN type of the value.
func (v *Value) Type() (Type, error) {
	return with(errors.PhaseDecode, func(s *state) (Type, error) {
		h, err := s.handle(errors.PhaseDecode, v)
		if err != nil {
			return 0, err
		}
		return s.typeOf(h)
	})
}

// Bound returns the number of elements of an array.
func (v *Value) Bound() (int, error) {
	return with(errors.PhaseDecode, func(s *state) (int, error) {
		h, err := s.array(v)
		if err != nil {
			return 0, err
		}
		return s.backend.Bound(h)
	})
}

// Rank returns the number of axes of an array.
func (v *Value) Rank() (int, error) {
	return with(errors.PhaseDecode, func(s *state) (int, error) {
		h, err := s.array(v)
		if err != nil {
			return 0, err
		}
		return s.backend.Rank(h)
	})
}

// Shape returns the axis lengths of an array.
func (v *Value) Shape() ([]int, error) {
	return with(errors.PhaseDecode, func(s *state) ([]int, error) {
		h, err := s.array(v)
		if err != nil {
			return nil, err
		}
		rank, err := s.backend.Rank(h)
		if err != nil {
			return nil, err
		}
		shape := make([]int, rank)
		if err := s.backend.Shape(h, shape); err != nil {
			return nil, err
		}
		return shape, nil
	})
}

// ElType returns the direct element type of an array.
func (v *Value) ElType() (ElType, error) {
	return with(errors.PhaseDecode, func(s *state) (ElType, error) {
		h, err := s.array(v)
		if err != nil {
			return 0, err
		}
		return s.backend.DirectArrType(h)
	})
}

func (s *state) array(v *Value) (engine.Handle, error) {
	h, err := s.handle(errors.PhaseDecode, v)
	if err != nil {
		return 0, err
	}
	if err := s.expect(errors.PhaseDecode, h, TypeArray, "array"); err != nil {
		return 0, err
	}
	return h, nil
}

// validFieldName reports whether BQN could expose name as a namespace
// field. Field names are folded to lower case without underscores, so
// names using either can never match.
func validFieldName(name string) bool {
	return name != "" && !strings.ContainsFunc(name, func(r rune) bool {
		return r == '_' || unicode.IsUpper(r)
	})
}

// HasField reports whether a namespace has the field name.
// Names containing an uppercase letter or underscore are never present.
func (v *Value) HasField(name string) (bool, error) {
	if !validFieldName(name) {
		return false, nil
	}
	return with(errors.PhaseField, func(s *state) (bool, error) {
		ns, err := s.namespace(v)
		if err != nil {
			return false, err
		}
		return s.hasField(ns, name)
	})
}

// GetField returns the field name of a namespace, or false if absent.
// Names containing an uppercase letter or underscore are never present.
func (v *Value) GetField(name string) (*Value, bool, error) {
	if !validFieldName(name) {
		return nil, false, nil
	}
	type result struct {
		v  *Value
		ok bool
	}
	r, err := with(errors.PhaseField, func(s *state) (result, error) {
		ns, err := s.namespace(v)
		if err != nil {
			return result{}, err
		}
		key, err := s.backend.MakeUTF8Str(name)
		if err != nil {
			return result{}, err
		}
		defer s.backend.Free(key)

		ok, err := s.backend.HasField(ns, key)
		if err != nil || !ok {
			return result{}, err
		}
		h, err := s.backend.GetField(ns, key)
		if err != nil {
			return result{}, err
		}
		return result{v: s.adopt(h), ok: true}, nil
	})
	return r.v, r.ok, err
}

func (s *state) namespace(v *Value) (engine.Handle, error) {
	h, err := s.handle(errors.PhaseField, v)
	if err != nil {
		return 0, err
	}
	if err := s.expect(errors.PhaseField, h, TypeNamespace, "namespace"); err != nil {
		return 0, err
	}
	return h, nil
}

func (s *state) hasField(ns engine.Handle, name string) (bool, error) {
	key, err := s.backend.MakeUTF8Str(name)
	if err != nil {
		return false, err
	}
	defer s.backend.Free(key)
	return s.backend.HasField(ns, key)
}

// Call1 calls the value monadically with x.
func (v *Value) Call1(x *Value) (*Value, error) {
	return with(errors.PhaseCall, func(s *state) (*Value, error) {
		f, err := s.callable(v)
		if err != nil {
			return nil, err
		}
		xh, err := s.handle(errors.PhaseCall, x)
		if err != nil {
			return nil, err
		}
		r, err := s.foreign(func() (engine.Handle, error) {
			return s.backend.Call1(f, xh)
		})
		if err != nil {
			return nil, err
		}
		return s.adopt(r), nil
	})
}

// Call2 calls the value dyadically with left argument w and right argument x.
func (v *Value) Call2(w, x *Value) (*Value, error) {
	return with(errors.PhaseCall, func(s *state) (*Value, error) {
		f, err := s.callable(v)
		if err != nil {
			return nil, err
		}
		wh, err := s.handle(errors.PhaseCall, w)
		if err != nil {
			return nil, err
		}
		xh, err := s.handle(errors.PhaseCall, x)
		if err != nil {
			return nil, err
		}
		r, err := s.foreign(func() (engine.Handle, error) {
			return s.backend.Call2(f, wh, xh)
		})
		if err != nil {
			return nil, err
		}
		return s.adopt(r), nil
	})
}

func (s *state) callable(v *Value) (engine.Handle, error) {
	h, err := s.handle(errors.PhaseCall, v)
	if err != nil {
		return 0, err
	}
	t, err := s.typeOf(h)
	if err != nil {
		return 0, err
	}
	if !t.Callable() {
		return 0, errors.TypeMismatch(errors.PhaseCall, "function or modifier", t.String())
	}
	return h, nil
}
