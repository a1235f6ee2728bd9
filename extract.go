package cbqn

import (
	"fmt"
	"unicode/utf8"

	"github.com/wippyai/cbqn-go/engine"
	"github.com/wippyai/cbqn-go/errors"
)

// Number is the set of Go types ToNumbers converts into.
type Number interface {
	~int | ~int8 | ~int16 | ~int32 | ~int64 |
		~uint | ~uint8 | ~uint16 | ~uint32 | ~uint64 | ~uintptr |
		~float32 | ~float64
}

// ToFloat64 returns the value of a number.
func (v *Value) ToFloat64() (float64, error) {
	return with(errors.PhaseDecode, func(s *state) (float64, error) {
		h, err := s.handle(errors.PhaseDecode, v)
		if err != nil {
			return 0, err
		}
		if err := s.expect(errors.PhaseDecode, h, TypeNumber, "float64"); err != nil {
			return 0, err
		}
		return s.backend.ReadF64(h)
	})
}

// ToCodepoint returns the code point of a character.
func (v *Value) ToCodepoint() (uint32, error) {
	return with(errors.PhaseDecode, func(s *state) (uint32, error) {
		h, err := s.handle(errors.PhaseDecode, v)
		if err != nil {
			return 0, err
		}
		if err := s.expect(errors.PhaseDecode, h, TypeCharacter, "uint32"); err != nil {
			return 0, err
		}
		return s.backend.ReadChar(h)
	})
}

// ToRune returns a character as a rune. ok is false when the code point is
// not a Unicode scalar value (a surrogate or beyond U+10FFFF).
func (v *Value) ToRune() (r rune, ok bool, err error) {
	c, err := v.ToCodepoint()
	if err != nil {
		return 0, false, err
	}
	if c > utf8.MaxRune || !utf8.ValidRune(rune(c)) {
		return 0, false, nil
	}
	return rune(c), true, nil
}

// ToFloat64s returns the elements of a numeric array in ravel order.
func (v *Value) ToFloat64s() ([]float64, error) {
	return with(errors.PhaseDecode, func(s *state) ([]float64, error) {
		h, err := s.handle(errors.PhaseDecode, v)
		if err != nil {
			return nil, err
		}
		return s.float64s(h)
	})
}

// ToNumbers converts the elements of a numeric array to T.
// Values outside T's range convert as Go conversions from float64 do.
func ToNumbers[T Number](v *Value) ([]T, error) {
	fs, err := v.ToFloat64s()
	if err != nil {
		return nil, err
	}
	out := make([]T, len(fs))
	for i, f := range fs {
		out[i] = T(f)
	}
	return out, nil
}

// ToCodepoints returns the code points of a character array.
// Every code point is returned, including ones that are not valid runes.
func (v *Value) ToCodepoints() ([]uint32, error) {
	return with(errors.PhaseDecode, func(s *state) ([]uint32, error) {
		h, err := s.handle(errors.PhaseDecode, v)
		if err != nil {
			return nil, err
		}
		return s.codepoints(h)
	})
}

// ToRunes returns a character array as runes. Code points that are not
// Unicode scalar values are dropped.
func (v *Value) ToRunes() ([]rune, error) {
	cps, err := v.ToCodepoints()
	if err != nil {
		return nil, err
	}
	return runes(cps), nil
}

// ToString returns a character array as a string. Code points that are not
// Unicode scalar values are dropped.
func (v *Value) ToString() (string, error) {
	rs, err := v.ToRunes()
	if err != nil {
		return "", err
	}
	return string(rs), nil
}

// ToValues returns the elements of an array in ravel order.
// The caller owns the returned values.
func (v *Value) ToValues() ([]*Value, error) {
	return with(errors.PhaseDecode, func(s *state) ([]*Value, error) {
		h, err := s.handle(errors.PhaseDecode, v)
		if err != nil {
			return nil, err
		}
		if err := s.expect(errors.PhaseDecode, h, TypeArray, "[]*Value"); err != nil {
			return nil, err
		}
		n, err := s.backend.Bound(h)
		if err != nil {
			return nil, err
		}
		hs := make([]engine.Handle, n)
		if err := s.backend.ReadObjArr(h, hs); err != nil {
			return nil, err
		}
		out := make([]*Value, n)
		for i, eh := range hs {
			out[i] = s.adopt(eh)
		}
		return out, nil
	})
}

func runes(cps []uint32) []rune {
	out := make([]rune, 0, len(cps))
	for _, c := range cps {
		if c <= utf8.MaxRune && utf8.ValidRune(rune(c)) {
			out = append(out, rune(c))
		}
	}
	return out
}

// elements checks that h is an array whose elements all have type want and
// returns its bound. The direct element type answers in O(1) when known;
// boxed arrays are scanned element by element.
func (s *state) elements(h engine.Handle, want Type, goType string) (int, error) {
	if err := s.expect(errors.PhaseDecode, h, TypeArray, goType); err != nil {
		return 0, err
	}
	n, err := s.backend.Bound(h)
	if err != nil {
		return 0, err
	}
	el, err := s.backend.DirectArrType(h)
	if err != nil {
		return 0, err
	}

	switch {
	case want == TypeNumber && el.IsNumeric(), want == TypeCharacter && el.IsChar():
		return n, nil
	case el.IsNumeric() || el.IsChar():
		return 0, errors.New(errors.PhaseDecode, errors.KindTypeMismatch).
			GoType(goType).
			Type(fmt.Sprintf("array of %s", el)).
			Detail("expected array of %s", want).
			Build()
	}

	for i := range n {
		e, err := s.backend.Pick(h, i)
		if err != nil {
			return 0, err
		}
		t, err := s.typeOf(e)
		if ferr := s.backend.Free(e); err == nil {
			err = ferr
		}
		if err != nil {
			return 0, err
		}
		if t != want {
			return 0, errors.New(errors.PhaseDecode, errors.KindTypeMismatch).
				GoType(goType).
				Type(t.String()).
				Value(i).
				Detail("element %d: expected %s", i, want).
				Build()
		}
	}
	return n, nil
}

func (s *state) float64s(h engine.Handle) ([]float64, error) {
	n, err := s.elements(h, TypeNumber, "[]float64")
	if err != nil {
		return nil, err
	}
	out := make([]float64, n)
	if err := s.backend.ReadF64Arr(h, out); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *state) codepoints(h engine.Handle) ([]uint32, error) {
	n, err := s.elements(h, TypeCharacter, "[]uint32")
	if err != nil {
		return nil, err
	}
	out := make([]uint32, n)
	if err := s.backend.ReadC32Arr(h, out); err != nil {
		return nil, err
	}
	return out, nil
}

// text reads a character array as a string, dropping invalid code points.
func (s *state) text(h engine.Handle) (string, error) {
	cps, err := s.codepoints(h)
	if err != nil {
		return "", err
	}
	return string(runes(cps)), nil
}
