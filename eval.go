package cbqn

import (
	"unicode/utf8"

	"github.com/wippyai/cbqn-go/engine"
	"github.com/wippyai/cbqn-go/errors"
)

// guardSource evaluates its argument with •BQN and catches engine errors,
// returning ⟨1, result⟩ or ⟨0, message⟩.
const guardSource = "{⟨1, •BQN 𝕩⟩}⎊{⟨0, •CurrentError 𝕩⟩}"

const fmtSource = "•Fmt"

// Eval evaluates BQN source text.
//
// Errors raised by the program are returned as errors.KindEngine errors
// carrying the engine's message; check them with errors.IsEngine. With
// Config.RawEval set, source is passed to the engine's eval primitive
// directly, as EvalRaw does.
func Eval(src string) (*Value, error) {
	if !utf8.ValidString(src) {
		return nil, errors.InvalidUTF8(errors.PhaseEval, []byte(src))
	}
	return with(errors.PhaseEval, func(s *state) (*Value, error) {
		var (
			h   engine.Handle
			err error
		)
		if s.cfg.RawEval {
			h, err = s.evalRaw(src)
		} else {
			h, err = s.evalGuarded(src)
		}
		if err != nil {
			return nil, err
		}
		return s.adopt(h), nil
	})
}

// EvalRaw evaluates source text with the engine's eval primitive.
// How an engine error surfaces depends on the backend: the sandbox reports
// a trap, the native library may abort the process.
func EvalRaw(src string) (*Value, error) {
	if !utf8.ValidString(src) {
		return nil, errors.InvalidUTF8(errors.PhaseEval, []byte(src))
	}
	return with(errors.PhaseEval, func(s *state) (*Value, error) {
		h, err := s.evalRaw(src)
		if err != nil {
			return nil, err
		}
		return s.adopt(h), nil
	})
}

func (s *state) evalRaw(src string) (engine.Handle, error) {
	str, err := s.backend.MakeUTF8Str(src)
	if err != nil {
		return 0, err
	}
	defer s.backend.Free(str)
	return s.foreign(func() (engine.Handle, error) {
		return s.backend.Eval(str)
	})
}

func (s *state) evalGuarded(src string) (engine.Handle, error) {
	g, err := s.cached(&s.guard, guardSource)
	if err != nil {
		return 0, err
	}
	str, err := s.backend.MakeUTF8Str(src)
	if err != nil {
		return 0, err
	}
	defer s.backend.Free(str)

	r, err := s.foreign(func() (engine.Handle, error) {
		return s.backend.Call1(g, str)
	})
	if err != nil {
		return 0, err
	}
	defer s.backend.Free(r)

	status, err := s.pickNumber(r, 0)
	if err != nil {
		return 0, err
	}
	v, err := s.backend.Pick(r, 1)
	if err != nil {
		return 0, err
	}
	if status == 1 {
		return v, nil
	}
	defer s.backend.Free(v)
	return 0, errors.Engine(errors.PhaseEval, s.message(v))
}

func (s *state) pickNumber(h engine.Handle, i int) (float64, error) {
	e, err := s.backend.Pick(h, i)
	if err != nil {
		return 0, err
	}
	defer s.backend.Free(e)
	if err := s.expect(errors.PhaseEval, e, TypeNumber, "float64"); err != nil {
		return 0, err
	}
	return s.backend.ReadF64(e)
}

// message renders an engine error value.
func (s *state) message(h engine.Handle) string {
	if msg, err := s.text(h); err == nil {
		return msg
	}
	if msg, err := s.format(h); err == nil {
		return msg
	}
	return "evaluation failed"
}

// cached evaluates src once per engine and keeps the result in *slot.
func (s *state) cached(slot *engine.Handle, src string) (engine.Handle, error) {
	if *slot != 0 {
		return *slot, nil
	}
	h, err := s.evalRaw(src)
	if err != nil {
		return 0, err
	}
	*slot = h
	return h, nil
}

// Run evaluates code and, given arguments, calls the result with them:
// one argument calls it monadically, two call it dyadically as w, x.
// Arguments that are not *Value are converted with From and released
// afterwards; *Value arguments remain owned by the caller.
func Run(code string, args ...any) (*Value, error) {
	if len(args) > 2 {
		return nil, errors.InvalidInput(errors.PhaseCall, "at most two arguments")
	}
	vs := make([]*Value, len(args))
	for i, a := range args {
		if v, ok := a.(*Value); ok {
			vs[i] = v
			continue
		}
		v, err := From(a)
		if err != nil {
			freeOwned(args[:i], vs[:i])
			return nil, err
		}
		vs[i] = v
	}
	defer freeOwned(args, vs)

	f, err := Eval(code)
	if err != nil {
		return nil, err
	}
	switch len(vs) {
	case 0:
		return f, nil
	case 1:
		defer f.Free()
		return f.Call1(vs[0])
	default:
		defer f.Free()
		return f.Call2(vs[0], vs[1])
	}
}

func freeOwned(args []any, vs []*Value) {
	for i, v := range vs {
		if _, borrowed := args[i].(*Value); !borrowed {
			_ = v.Free()
		}
	}
}
