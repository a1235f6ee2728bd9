package cbqn

import (
	"strings"
	"testing"

	"github.com/wippyai/cbqn-go/errors"
	"github.com/wippyai/cbqn-go/internal/enginetest"
)

func definePalindrome(fk *enginetest.Fake) {
	fk.Define("⌽≡⊢", enginetest.Func1("⌽≡⊢", func(_ *enginetest.Fake, x *enginetest.Object) (*enginetest.Object, error) {
		s, ok := x.Text()
		if !ok {
			return nil, errors.Engine(errors.PhaseCall, "𝕩 must be a string")
		}
		rs := []rune(s)
		for i, j := 0, len(rs)-1; i < j; i, j = i+1, j-1 {
			if rs[i] != rs[j] {
				return enginetest.Num(0), nil
			}
		}
		return enginetest.Num(1), nil
	}))
}

func TestGuardSourceMatchesFake(t *testing.T) {
	if guardSource != enginetest.GuardSource {
		t.Fatalf("guard source drifted: %q vs %q", guardSource, enginetest.GuardSource)
	}
}

func TestEvalScenarios(t *testing.T) {
	fk := startFake(t)
	fk.Define("1+1", enginetest.Num(2))
	definePalindrome(fk)

	two, err := Eval("1+1")
	if err != nil {
		t.Fatal(err)
	}
	if n, err := two.ToFloat64(); err != nil || n != 2 {
		t.Errorf("1+1 = %v, %v", n, err)
	}
	_ = two.Free()

	tests := []struct {
		arg  string
		want float64
	}{
		{"BQN", 0},
		{"racecar", 1},
		{"", 1},
	}
	for _, tt := range tests {
		r, err := Run("⌽≡⊢", tt.arg)
		if err != nil {
			t.Fatalf("⌽≡⊢ %q: %v", tt.arg, err)
		}
		if n, _ := r.ToFloat64(); n != tt.want {
			t.Errorf("⌽≡⊢ %q = %v, want %v", tt.arg, n, tt.want)
		}
		_ = r.Free()
	}
	assertNoLeaks(t, fk)
}

func TestEvalEngineError(t *testing.T) {
	fk := startFake(t)
	fk.DefineError("⊑⟨⟩", "⊑: Indexing out-of-bounds")

	tests := []struct {
		src  string
		want string
	}{
		{"undefinedName", "Undefined identifier"},
		{"⊑⟨⟩", "⊑: Indexing out-of-bounds"},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			_, err := Eval(tt.src)
			assertKind(t, err, errors.KindEngine)
			if !errors.IsEngine(err) {
				t.Error("IsEngine = false")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not carry %q", err, tt.want)
			}
		})
	}
	assertNoLeaks(t, fk)
}

func TestEvalGuardIsCached(t *testing.T) {
	fk := startFake(t)
	fk.Define("1", enginetest.Num(1))

	fk.ResetCalls()
	for range 3 {
		v, err := Eval("1")
		if err != nil {
			t.Fatal(err)
		}
		_ = v.Free()
	}
	if n := fk.Calls("Eval"); n != 1 {
		t.Errorf("raw evals = %d, want 1 (the guard)", n)
	}
	if n := fk.Calls("Call1"); n != 3 {
		t.Errorf("guard calls = %d, want 3", n)
	}
}

func TestEvalRaw(t *testing.T) {
	fk := startFake(t)
	fk.Define("1+1", enginetest.Num(2))

	v, err := EvalRaw("1+1")
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := v.ToFloat64(); n != 2 {
		t.Errorf("1+1 = %v", n)
	}
	_ = v.Free()

	setRawEval(true)
	fk.ResetCalls()
	_, err = Eval("nope")
	assertKind(t, err, errors.KindEngine)
	if n := fk.Calls("Call1"); n != 0 {
		t.Errorf("RawEval still used the guard (%d calls)", n)
	}
	assertNoLeaks(t, fk)
}

func TestEvalInvalidUTF8(t *testing.T) {
	startFake(t)
	_, err := Eval("1\xff")
	assertKind(t, err, errors.KindInvalidUTF8)
	_, err = EvalRaw("\xff")
	assertKind(t, err, errors.KindInvalidUTF8)
}

func TestRunArguments(t *testing.T) {
	fk := startFake(t)
	fk.Define("⊢", enginetest.Func1("⊢", func(_ *enginetest.Fake, x *enginetest.Object) (*enginetest.Object, error) {
		return x, nil
	}))
	fk.Define("5", enginetest.Num(5))

	v, err := Run("5")
	if err != nil {
		t.Fatal(err)
	}
	if n, _ := v.ToFloat64(); n != 5 {
		t.Errorf("Run(5) = %v", n)
	}
	_ = v.Free()

	_, err = Run("⊢", 1, 2, 3)
	assertKind(t, err, errors.KindInvalidInput)

	_, err = Run("⊢", 1, map[int]int{})
	assertKind(t, err, errors.KindUnsupported)

	arg, _ := FromFloat64(8)
	r, err := Run("⊢", arg)
	if err != nil {
		t.Fatal(err)
	}
	if arg.Released() {
		t.Error("Run released a caller-owned argument")
	}
	free(arg, r)

	_, err = Run("undefined", 1)
	assertKind(t, err, errors.KindEngine)
	assertNoLeaks(t, fk)
}
