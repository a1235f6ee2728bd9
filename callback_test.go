package cbqn

import (
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/wippyai/cbqn-go/engine"
	"github.com/wippyai/cbqn-go/errors"
	"github.com/wippyai/cbqn-go/internal/enginetest"
)

// defineCallers registers BQN snippets that call a function argument.
func defineCallers(fk *enginetest.Fake) {
	// {𝕎 𝕩}
	fk.Define("{𝕎 𝕩}", enginetest.Func2("{𝕎 𝕩}", func(fk *enginetest.Fake, w, x *enginetest.Object) (*enginetest.Object, error) {
		return fk.Invoke1(w, x)
	}))
	// {' ' 𝕎¨ 𝕩}
	fk.Define("{' ' 𝕎¨ 𝕩}", enginetest.Func2("{' ' 𝕎¨ 𝕩}", func(fk *enginetest.Fake, w, x *enginetest.Object) (*enginetest.Object, error) {
		out := make([]*enginetest.Object, len(x.Items))
		for i, it := range x.Items {
			r, err := fk.Invoke2(w, enginetest.Char(' '), it)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return enginetest.List(out...), nil
	}))
}

func upper(x *Value) (*Value, error) {
	s, err := x.ToString()
	if err != nil {
		return nil, err
	}
	return FromString(strings.ToUpper(s))
}

func TestUppercaseClosure(t *testing.T) {
	fk := startFake(t)
	defineCallers(fk)

	up, err := Fn1(upper)
	if err != nil {
		t.Fatal(err)
	}

	r, err := Run("{𝕎 𝕩}", up, "hello, world!")
	if err != nil {
		t.Fatal(err)
	}
	s, err := r.ToString()
	if err != nil || s != "HELLO, WORLD!" {
		t.Errorf("result = %q, %v", s, err)
	}
	if up.Released() {
		t.Error("Run consumed a *Value argument")
	}
	free(r, up)
	assertNoLeaks(t, fk)
}

func TestSplitClosure(t *testing.T) {
	fk := startFake(t)
	defineCallers(fk)

	split, err := Fn2(func(w, x *Value) (*Value, error) {
		sep, ok, err := w.ToRune()
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, fmt.Errorf("separator is not a rune")
		}
		s, err := x.ToString()
		if err != nil {
			return nil, err
		}
		return FromStrings(strings.Split(s, string(sep)))
	})
	if err != nil {
		t.Fatal(err)
	}
	defer split.Free()

	r, err := Run("{' ' 𝕎¨ 𝕩}", split, []string{"Hello world!", "Rust BQN"})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Free()

	rows, err := r.ToValues()
	if err != nil {
		t.Fatal(err)
	}
	defer free(rows...)

	var got [][]string
	for _, row := range rows {
		words, err := row.ToValues()
		if err != nil {
			t.Fatal(err)
		}
		var line []string
		for _, w := range words {
			s, err := w.ToString()
			if err != nil {
				t.Fatal(err)
			}
			line = append(line, s)
		}
		free(words...)
		got = append(got, line)
	}

	want := [][]string{{"Hello", "world!"}, {"Rust", "BQN"}}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("result = %q, want %q", got, want)
	}
}

func TestReentrantClosure(t *testing.T) {
	fk := startFake(t)

	var fact *Value
	fact, err := Fn1(func(x *Value) (*Value, error) {
		n, err := x.ToFloat64()
		if err != nil {
			return nil, err
		}
		if n <= 1 {
			return FromFloat64(1)
		}
		m, err := FromFloat64(n - 1)
		if err != nil {
			return nil, err
		}
		defer m.Free()
		r, err := fact.Call1(m)
		if err != nil {
			return nil, err
		}
		defer r.Free()
		p, err := r.ToFloat64()
		if err != nil {
			return nil, err
		}
		return FromFloat64(n * p)
	})
	if err != nil {
		t.Fatal(err)
	}

	five, _ := FromFloat64(5)
	r, err := fact.Call1(five)
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := r.ToFloat64(); n != 120 {
		t.Errorf("5! = %v", n)
	}
	free(five, r, fact)
	assertNoLeaks(t, fk)
}

func TestClosureConcurrentCallers(t *testing.T) {
	fk := startFake(t)
	defineCallers(fk)

	up, err := Fn1(upper)
	if err != nil {
		t.Fatal(err)
	}
	defer up.Free()

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for g := range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range 20 {
				in := fmt.Sprintf("g%d-%d", g, i)
				r, err := Run("{𝕎 𝕩}", up, in)
				if err != nil {
					errs <- err
					return
				}
				s, err := r.ToString()
				_ = r.Free()
				if err != nil || s != strings.ToUpper(in) {
					errs <- fmt.Errorf("%q: got %q, %v", in, s, err)
					return
				}
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
}

func TestClosureErrorPropagates(t *testing.T) {
	fk := startFake(t)

	cause := errors.InvalidInput(errors.PhaseCallback, "boom")
	failing, err := Fn1(func(*Value) (*Value, error) { return nil, cause })
	if err != nil {
		t.Fatal(err)
	}
	x, _ := FromFloat64(1)

	_, err = failing.Call1(x)
	assertKind(t, err, errors.KindCallback)
	if e := err.(*errors.Error); e.Cause != cause {
		t.Errorf("Cause = %v, want %v", e.Cause, cause)
	}

	// the failure does not leak into the next call
	id, _ := Fn1(func(x *Value) (*Value, error) { return x, nil })
	r, err := id.Call1(x)
	if err != nil {
		t.Fatalf("call after failure: %v", err)
	}
	free(r, id, x, failing)
	assertNoLeaks(t, fk)
}

func TestNestedFailureRecovered(t *testing.T) {
	fk := startFake(t)

	bad, err := Fn1(func(*Value) (*Value, error) { return nil, fmt.Errorf("boom") })
	if err != nil {
		t.Fatal(err)
	}
	var inner error
	outer, err := Fn1(func(x *Value) (*Value, error) {
		r, err := bad.Call1(x)
		if err == nil {
			_ = r.Free()
		}
		inner = err
		return FromString("recovered")
	})
	if err != nil {
		t.Fatal(err)
	}
	x, _ := FromFloat64(1)

	r, err := outer.Call1(x)
	if err != nil {
		t.Fatalf("outer call failed after the host function recovered: %v", err)
	}
	assertKind(t, inner, errors.KindCallback)
	if s, err := r.ToString(); err != nil || s != "recovered" {
		t.Errorf("result = %q, %v", s, err)
	}

	// a later failure still reports its own cause
	_, err = bad.Call1(x)
	assertKind(t, err, errors.KindCallback)
	if !strings.Contains(err.Error(), "boom") {
		t.Errorf("error %q lost its cause", err)
	}
	free(r, x, bad, outer)
	assertNoLeaks(t, fk)
}

func TestNestedFailureUnrecovered(t *testing.T) {
	fk := startFake(t)

	bad, _ := Fn1(func(*Value) (*Value, error) { return nil, fmt.Errorf("boom") })
	outer, _ := Fn1(func(x *Value) (*Value, error) {
		if _, err := bad.Call1(x); err != nil {
			return nil, fmt.Errorf("wrapped: %w", err)
		}
		return x, nil
	})
	x, _ := FromFloat64(1)

	_, err := outer.Call1(x)
	assertKind(t, err, errors.KindCallback)
	if !strings.Contains(err.Error(), "wrapped") {
		t.Errorf("error %q is not the enclosing function's failure", err)
	}
	free(x, bad, outer)
	assertNoLeaks(t, fk)
}

func TestCallbackFailureKeepsEngineError(t *testing.T) {
	fk := startFake(t)
	fk.Define("{𝕎 𝕩 ⋄ ⊑⟨⟩}", enginetest.Func2("{𝕎 𝕩 ⋄ ⊑⟨⟩}", func(fk *enginetest.Fake, w, x *enginetest.Object) (*enginetest.Object, error) {
		if _, err := fk.Invoke1(w, x); err != nil {
			return nil, err
		}
		return nil, errors.Trap(errors.PhaseCall, "bqn_call1", "Error: stack overflow", nil)
	}))

	bad, _ := Fn1(func(*Value) (*Value, error) { return nil, fmt.Errorf("boom") })
	defer bad.Free()

	_, err := Run("{𝕎 𝕩 ⋄ ⊑⟨⟩}", bad, 1)
	assertKind(t, err, errors.KindCallback)
	for _, want := range []string{"boom", "stack overflow"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not carry %q", err, want)
		}
	}
}

func TestClosurePanic(t *testing.T) {
	fk := startFake(t)

	p, err := Fn1(func(*Value) (*Value, error) { panic("kaboom") })
	if err != nil {
		t.Fatal(err)
	}
	x, _ := FromFloat64(1)

	_, err = p.Call1(x)
	assertKind(t, err, errors.KindCallback)
	if !strings.Contains(err.Error(), "kaboom") {
		t.Errorf("panic value missing from %q", err)
	}
	free(p, x)
	assertNoLeaks(t, fk)
}

func TestClosureFailureFromBQN(t *testing.T) {
	fk := startFake(t)
	defineCallers(fk)

	bad, _ := Fn1(func(*Value) (*Value, error) { return nil, fmt.Errorf("nope") })
	defer bad.Free()

	_, err := Run("{𝕎 𝕩}", bad, 1)
	assertKind(t, err, errors.KindCallback)
}

func TestClosureResults(t *testing.T) {
	fk := startFake(t)

	var kept *Value
	null, _ := Fn1(func(x *Value) (*Value, error) {
		kept = x
		return nil, nil
	})
	x, _ := FromFloat64(3)

	r, err := null.Call1(x)
	if err != nil {
		t.Fatal(err)
	}
	if c, err := r.ToCodepoint(); err != nil || c != 0 {
		t.Errorf("nil result = %v, %v, want @", c, err)
	}
	if !kept.Released() {
		t.Error("argument not released after the host function returned")
	}

	id, _ := Fn1(func(x *Value) (*Value, error) { return x, nil })
	r2, err := id.Call1(x)
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := r2.ToFloat64(); n != 3 {
		t.Errorf("identity = %v", n)
	}

	free(r, r2, null, id, x)
	assertNoLeaks(t, fk)
}

func TestFnUnsupported(t *testing.T) {
	fk := startFake(t)
	fk.NoBoundFns = true

	before := funcs.size()
	_, err := Fn1(upper)
	assertKind(t, err, errors.KindUnsupported)
	if !errors.IsUnsupported(err) {
		t.Error("IsUnsupported = false")
	}
	_, err = Fn2(func(w, x *Value) (*Value, error) { return nil, nil })
	assertKind(t, err, errors.KindUnsupported)

	if funcs.size() != before {
		t.Error("failed binding left a registry entry")
	}
	assertNoLeaks(t, fk)
}

func TestFnNil(t *testing.T) {
	startFake(t)
	_, err := Fn1(nil)
	assertKind(t, err, errors.KindInvalidInput)
	_, err = Fn2(nil)
	assertKind(t, err, errors.KindInvalidInput)
}

func TestDispatchUnknownKey(t *testing.T) {
	fk := startFake(t)

	obj := fk.Handle(enginetest.Num(1 << 50))
	x := fk.Handle(enginetest.Num(1))

	lock.Lock()
	h := dispatcher{}.Dispatch1(obj, x)
	pending := current.pending
	current.pending = nil
	lock.Unlock()

	o, ok := fk.Object(h)
	if !ok || o.Type != engine.TypeCharacter || o.Char != 0 {
		t.Fatalf("dispatch result = %+v, want @", o)
	}
	_ = fk.Free(h)
	assertKind(t, pending, errors.KindNotFound)
	assertNoLeaks(t, fk)
}
