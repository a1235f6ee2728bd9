// Package e2e runs the embedding against a real CBQN engine.
//
// The engine comes from DefaultConfig: set CBQN_WASM to a CBQN WASI reactor,
// or build with -tags cbqn and libcbqn installed. Without either every test
// is skipped.
package e2e

import (
	"fmt"
	"math"
	"slices"
	"strings"
	"sync"
	"testing"

	cbqn "github.com/wippyai/cbqn-go"
	"github.com/wippyai/cbqn-go/errors"
)

var (
	engineOnce sync.Once
	engineErr  error
)

func requireEngine(tb testing.TB) {
	tb.Helper()
	engineOnce.Do(func() { engineErr = cbqn.Init() })
	if engineErr != nil {
		tb.Skipf("no CBQN engine available: %v", engineErr)
	}
}

func eval(t *testing.T, src string) *cbqn.Value {
	t.Helper()
	v, err := cbqn.Eval(src)
	if err != nil {
		t.Fatalf("Eval(%q): %v", src, err)
	}
	t.Cleanup(func() { _ = v.Free() })
	return v
}

func number(t *testing.T, v *cbqn.Value) float64 {
	t.Helper()
	n, err := v.ToFloat64()
	if err != nil {
		t.Fatal(err)
	}
	return n
}

func TestOnePlusOne(t *testing.T) {
	requireEngine(t)
	if n := number(t, eval(t, "1+1")); n != 2 {
		t.Errorf("1+1 = %v", n)
	}
}

func TestPalindrome(t *testing.T) {
	requireEngine(t)

	r, err := cbqn.Run("⌽≡⊢", "BQN")
	if err != nil {
		t.Fatal(err)
	}
	defer r.Free()
	if n := number(t, r); n != 0 {
		t.Errorf("⌽≡⊢ \"BQN\" = %v, want 0", n)
	}
}

func TestNamespace(t *testing.T) {
	requireEngine(t)
	ns := eval(t, "{a⇐1 ⋄ B⇐{a+𝕩}}")

	a, ok, err := ns.GetField("a")
	if err != nil || !ok {
		t.Fatalf("GetField(a) = %v, %v", ok, err)
	}
	defer a.Free()
	if n := number(t, a); n != 1 {
		t.Errorf("a = %v", n)
	}

	b, ok, err := ns.GetField("b")
	if err != nil || !ok {
		t.Fatalf("GetField(b) = %v, %v", ok, err)
	}
	defer b.Free()
	one, _ := cbqn.FromFloat64(1)
	defer one.Free()
	r, err := b.Call1(one)
	if err != nil {
		t.Fatal(err)
	}
	defer r.Free()
	if n := number(t, r); n != 2 {
		t.Errorf("b 1 = %v", n)
	}

	for _, name := range []string{"A", "B"} {
		if _, ok, err := ns.GetField(name); err != nil || ok {
			t.Errorf("GetField(%q) = %v, %v, want absent", name, ok, err)
		}
	}
}

func TestRankShape(t *testing.T) {
	requireEngine(t)
	v := eval(t, "2‿2⥊5")

	rank, err := v.Rank()
	if err != nil || rank != 2 {
		t.Errorf("Rank = %d, %v", rank, err)
	}
	shape, err := v.Shape()
	if err != nil || !slices.Equal(shape, []int{2, 2}) {
		t.Errorf("Shape = %v, %v", shape, err)
	}
}

func TestRoundTrips(t *testing.T) {
	requireEngine(t)

	t.Run("float64", func(t *testing.T) {
		in := []float64{1.5, -0.25, math.MaxFloat64, 0}
		v, err := cbqn.FromSlice(in)
		if err != nil {
			t.Fatal(err)
		}
		defer v.Free()
		got, err := v.ToFloat64s()
		if err != nil || !slices.Equal(got, in) {
			t.Errorf("ToFloat64s = %v, %v", got, err)
		}
	})
	t.Run("int32", func(t *testing.T) {
		in := []int32{math.MinInt32, 0, math.MaxInt32}
		v, err := cbqn.FromSlice(in)
		if err != nil {
			t.Fatal(err)
		}
		defer v.Free()
		got, err := cbqn.ToNumbers[int32](v)
		if err != nil || !slices.Equal(got, in) {
			t.Errorf("ToNumbers = %v, %v", got, err)
		}
	})
	t.Run("int8 empty", func(t *testing.T) {
		v, err := cbqn.FromSlice([]int8{})
		if err != nil {
			t.Fatal(err)
		}
		defer v.Free()
		got, err := cbqn.ToNumbers[int8](v)
		if err != nil || len(got) != 0 {
			t.Errorf("ToNumbers = %v, %v", got, err)
		}
	})
	t.Run("string", func(t *testing.T) {
		for _, s := range []string{"", "hello", "⌽≡⊢ wörld"} {
			v, err := cbqn.FromString(s)
			if err != nil {
				t.Fatal(err)
			}
			got, err := v.ToString()
			_ = v.Free()
			if err != nil || got != s {
				t.Errorf("ToString = %q, %v, want %q", got, err, s)
			}
		}
	})
}

func TestEngineError(t *testing.T) {
	requireEngine(t)

	_, err := cbqn.Eval("undefinedName")
	if !errors.IsEngine(err) {
		t.Fatalf("Eval of undefined name: %v, want engine error", err)
	}

	v := eval(t, "1")
	_, err = v.ToString()
	if !errors.IsTypeMismatch(err) {
		t.Errorf("ToString on a number: %v, want type mismatch", err)
	}
}

func TestFmt(t *testing.T) {
	requireEngine(t)
	s, err := eval(t, "1‿2‿3").Fmt()
	if err != nil {
		t.Fatal(err)
	}
	if s != "⟨ 1 2 3 ⟩" {
		t.Errorf("Fmt = %q", s)
	}
}

func bindOrSkip(t *testing.T, v *cbqn.Value, err error) *cbqn.Value {
	t.Helper()
	if errors.IsUnsupported(err) {
		t.Skipf("backend cannot bind host functions: %v", err)
	}
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { _ = v.Free() })
	return v
}

func TestUppercaseClosure(t *testing.T) {
	requireEngine(t)
	fn, err := cbqn.Fn1(func(x *cbqn.Value) (*cbqn.Value, error) {
		s, err := x.ToString()
		if err != nil {
			return nil, err
		}
		return cbqn.FromString(strings.ToUpper(s))
	})
	up := bindOrSkip(t, fn, err)

	r, err := cbqn.Run("{𝕎 𝕩}", up, "hello, world!")
	if err != nil {
		t.Fatal(err)
	}
	defer r.Free()
	if s, err := r.ToString(); err != nil || s != "HELLO, WORLD!" {
		t.Errorf("result = %q, %v", s, err)
	}
}

func TestSplitClosure(t *testing.T) {
	requireEngine(t)
	fn, err := cbqn.Fn2(func(w, x *cbqn.Value) (*cbqn.Value, error) {
		sep, _, err := w.ToRune()
		if err != nil {
			return nil, err
		}
		s, err := x.ToString()
		if err != nil {
			return nil, err
		}
		return cbqn.FromStrings(strings.Split(s, string(sep)))
	})
	split := bindOrSkip(t, fn, err)

	r, err := cbqn.Run("{' ' 𝕎¨ 𝕩}", split, []string{"Hello world!", "Rust BQN"})
	if err != nil {
		t.Fatal(err)
	}
	defer r.Free()

	rows, err := r.ToValues()
	if err != nil {
		t.Fatal(err)
	}
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
			_ = w.Free()
		}
		_ = row.Free()
		got = append(got, line)
	}
	want := [][]string{{"Hello", "world!"}, {"Rust", "BQN"}}
	if fmt.Sprint(got) != fmt.Sprint(want) {
		t.Errorf("result = %q, want %q", got, want)
	}
}

func TestClosureError(t *testing.T) {
	requireEngine(t)
	fn, err := cbqn.Fn1(func(*cbqn.Value) (*cbqn.Value, error) {
		return nil, fmt.Errorf("host failure")
	})
	bad := bindOrSkip(t, fn, err)

	_, err = cbqn.Run("{𝕎 𝕩}", bad, 1)
	if errors.KindOf(err) != errors.KindCallback {
		t.Errorf("err = %v, want callback error", err)
	}
}

func BenchmarkEval(b *testing.B) {
	requireEngine(b)
	for b.Loop() {
		v, err := cbqn.Eval("+´↕100")
		if err != nil {
			b.Fatal(err)
		}
		_ = v.Free()
	}
}

func BenchmarkFromSlice(b *testing.B) {
	requireEngine(b)
	data := make([]float64, 4096)
	for i := range data {
		data[i] = float64(i)
	}
	for b.Loop() {
		v, err := cbqn.FromSlice(data)
		if err != nil {
			b.Fatal(err)
		}
		_ = v.Free()
	}
}
