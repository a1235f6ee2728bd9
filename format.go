package cbqn

import (
	"fmt"

	"github.com/wippyai/cbqn-go/engine"
	"github.com/wippyai/cbqn-go/errors"
)

// Fmt renders the value with the engine's •Fmt.
func (v *Value) Fmt() (string, error) {
	return with(errors.PhaseCall, func(s *state) (string, error) {
		h, err := s.handle(errors.PhaseCall, v)
		if err != nil {
			return "", err
		}
		return s.format(h)
	})
}

func (s *state) format(h engine.Handle) (string, error) {
	f, err := s.cached(&s.fmt, fmtSource)
	if err != nil {
		return "", err
	}
	r, err := s.foreign(func() (engine.Handle, error) {
		return s.backend.Call1(f, h)
	})
	if err != nil {
		return "", err
	}
	defer s.backend.Free(r)
	return s.text(r)
}

// String implements fmt.Stringer through Fmt.
func (v *Value) String() string {
	if v.Released() {
		return "<released>"
	}
	str, err := v.Fmt()
	if err != nil {
		return fmt.Sprintf("<error: %v>", err)
	}
	return str
}
