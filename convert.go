package cbqn

import (
	"fmt"
	"iter"
	"math"
	"reflect"
	"unicode/utf8"

	"github.com/wippyai/cbqn-go/engine"
	"github.com/wippyai/cbqn-go/errors"
)

// Integer is the set of integer types FromInt accepts.
type Integer interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr
}

// Elem is the set of element types with a direct typed vector constructor.
type Elem interface {
	float64 | int32 | int16 | int8
}

// Char marks a rune that From should convert to a character rather than
// a number.
type Char rune

// FromFloat64 returns a number.
func FromFloat64(f float64) (*Value, error) {
	return with(errors.PhaseEncode, func(s *state) (*Value, error) {
		h, err := s.backend.MakeF64(f)
		if err != nil {
			return nil, err
		}
		return s.adopt(h), nil
	})
}

// FromInt returns a number. BQN numbers are float64, so integers beyond
// 2^53 lose precision.
func FromInt[T Integer](i T) (*Value, error) {
	return FromFloat64(float64(i))
}

// FromRune returns a character. Any code point up to U+10FFFF is accepted,
// including surrogates.
func FromRune(r rune) (*Value, error) {
	if r < 0 || r > utf8.MaxRune {
		return nil, errors.New(errors.PhaseEncode, errors.KindOverflow).
			GoType("rune").
			Value(int32(r)).
			Detail("code point out of range").
			Build()
	}
	return with(errors.PhaseEncode, func(s *state) (*Value, error) {
		h, err := s.backend.MakeChar(uint32(r))
		if err != nil {
			return nil, err
		}
		return s.adopt(h), nil
	})
}

// FromString returns a character list holding the code points of str.
func FromString(str string) (*Value, error) {
	if !utf8.ValidString(str) {
		return nil, errors.InvalidUTF8(errors.PhaseEncode, []byte(str))
	}
	return with(errors.PhaseEncode, func(s *state) (*Value, error) {
		h, err := s.backend.MakeUTF8Str(str)
		if err != nil {
			return nil, err
		}
		return s.adopt(h), nil
	})
}

// FromStrings returns a list of strings.
func FromStrings(strs []string) (*Value, error) {
	for _, str := range strs {
		if !utf8.ValidString(str) {
			return nil, errors.InvalidUTF8(errors.PhaseEncode, []byte(str))
		}
	}
	return with(errors.PhaseEncode, func(s *state) (*Value, error) {
		hs := make([]engine.Handle, 0, len(strs))
		for _, str := range strs {
			h, err := s.backend.MakeUTF8Str(str)
			if err != nil {
				s.freeAll(hs)
				return nil, err
			}
			hs = append(hs, h)
		}
		h, err := s.backend.MakeObjVec(hs)
		if err != nil {
			return nil, err
		}
		return s.adopt(h), nil
	})
}

// FromSlice returns a list with the direct element type matching T.
func FromSlice[T Elem](v []T) (*Value, error) {
	return with(errors.PhaseEncode, func(s *state) (*Value, error) {
		h, err := makeVec(s.backend, v)
		if err != nil {
			return nil, err
		}
		return s.adopt(h), nil
	})
}

// FromSeq collects seq into a list.
func FromSeq[T Elem](seq iter.Seq[T]) (*Value, error) {
	var v []T
	for x := range seq {
		v = append(v, x)
	}
	return FromSlice(v)
}

func makeVec[T Elem](b engine.Backend, v []T) (engine.Handle, error) {
	switch v := any(v).(type) {
	case []float64:
		return b.MakeF64Vec(v)
	case []int32:
		return b.MakeI32Vec(v)
	case []int16:
		return b.MakeI16Vec(v)
	case []int8:
		return b.MakeI8Vec(v)
	}
	panic("unreachable")
}

// FromValues returns a list of vs. Ownership of every element moves into
// the list: vs are released whether or not the call succeeds.
func FromValues(vs ...*Value) (*Value, error) {
	return FromValueSeq(func(yield func(*Value) bool) {
		for _, v := range vs {
			if !yield(v) {
				return
			}
		}
	})
}

// FromValueSeq returns a list of the values produced by seq, taking
// ownership of each one. Every value seq produces is released whether or
// not the call succeeds.
func FromValueSeq(seq iter.Seq[*Value]) (*Value, error) {
	consumed := false
	list, err := with(errors.PhaseEncode, func(s *state) (*Value, error) {
		consumed = true
		var (
			hs       []engine.Handle
			firstErr error
		)
		for v := range seq {
			if firstErr != nil {
				_ = v.Free()
				continue
			}
			h, err := s.take(errors.PhaseEncode, v)
			if err != nil {
				_ = v.Free()
				firstErr = err
				continue
			}
			hs = append(hs, h)
		}
		if firstErr != nil {
			s.freeAll(hs)
			return nil, firstErr
		}
		h, err := s.backend.MakeObjVec(hs)
		if err != nil {
			return nil, err
		}
		return s.adopt(h), nil
	})
	if err != nil && !consumed {
		for v := range seq {
			_ = v.Free()
		}
	}
	return list, err
}

func (s *state) freeAll(hs []engine.Handle) {
	for _, h := range hs {
		_ = s.backend.Free(h)
	}
}

// From converts a Go value.
//
//	float64, float32, integers     number
//	bool                           0 or 1
//	Char                           character
//	string                         character list
//	[]float64 []int32 []int16 []int8, [N]T, iter.Seq[T]   typed list
//	[]int                          i32 list when every element fits, else f64
//	[]string                       list of strings
//	*Value                         a clone
//	[]*Value, []any                list of converted elements
//
// Values passed in are never consumed.
func From(x any) (*Value, error) {
	switch x := x.(type) {
	case *Value:
		return x.Clone()
	case float64:
		return FromFloat64(x)
	case float32:
		return FromFloat64(float64(x))
	case int:
		return FromInt(x)
	case int8:
		return FromInt(x)
	case int16:
		return FromInt(x)
	case int32:
		return FromInt(x)
	case int64:
		return FromInt(x)
	case uint:
		return FromInt(x)
	case uint8:
		return FromInt(x)
	case uint16:
		return FromInt(x)
	case uint32:
		return FromInt(x)
	case uint64:
		return FromInt(x)
	case bool:
		if x {
			return FromFloat64(1)
		}
		return FromFloat64(0)
	case Char:
		return FromRune(rune(x))
	case string:
		return FromString(x)
	case []float64:
		return FromSlice(x)
	case []int32:
		return FromSlice(x)
	case []int16:
		return FromSlice(x)
	case []int8:
		return FromSlice(x)
	case []int:
		return fromInts(x)
	case []string:
		return FromStrings(x)
	case iter.Seq[float64]:
		return FromSeq(x)
	case iter.Seq[int32]:
		return FromSeq(x)
	case iter.Seq[int16]:
		return FromSeq(x)
	case iter.Seq[int8]:
		return FromSeq(x)
	case []*Value:
		return fromEach(len(x), func(i int) (*Value, error) { return x[i].Clone() })
	case []any:
		return fromEach(len(x), func(i int) (*Value, error) { return From(x[i]) })
	case nil:
		return nil, errors.InvalidInput(errors.PhaseEncode, "nil")
	}

	rv := reflect.ValueOf(x)
	if rv.Kind() == reflect.Array {
		sl := reflect.MakeSlice(reflect.SliceOf(rv.Type().Elem()), rv.Len(), rv.Len())
		reflect.Copy(sl, rv)
		return From(sl.Interface())
	}
	return nil, errors.New(errors.PhaseEncode, errors.KindUnsupported).
		GoType(fmt.Sprintf("%T", x)).
		Detail("no conversion").
		Build()
}

func fromInts(v []int) (*Value, error) {
	fits := true
	for _, x := range v {
		if x < math.MinInt32 || x > math.MaxInt32 {
			fits = false
			break
		}
	}
	if fits {
		out := make([]int32, len(v))
		for i, x := range v {
			out[i] = int32(x)
		}
		return FromSlice(out)
	}
	out := make([]float64, len(v))
	for i, x := range v {
		out[i] = float64(x)
	}
	return FromSlice(out)
}

// fromEach builds a list from n converted elements. Elements already built
// are released on failure.
func fromEach(n int, elem func(i int) (*Value, error)) (*Value, error) {
	vs := make([]*Value, 0, n)
	for i := range n {
		v, err := elem(i)
		if err != nil {
			for _, v := range vs {
				_ = v.Free()
			}
			return nil, err
		}
		vs = append(vs, v)
	}
	return FromValues(vs...)
}
