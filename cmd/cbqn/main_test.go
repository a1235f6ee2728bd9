package main

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"strings"
	"testing"

	cbqn "github.com/wippyai/cbqn-go"
	"github.com/wippyai/cbqn-go/engine"
	"github.com/wippyai/cbqn-go/errors"
	"github.com/wippyai/cbqn-go/internal/enginetest"
)

var fake = enginetest.New()

func TestMain(m *testing.M) {
	fake.Define("1+1", enginetest.Num(2))
	fake.Define("↕3", enginetest.Nums(engine.ElI8, 0, 1, 2))
	fake.Define("∾", enginetest.Func2("∾", func(_ *enginetest.Fake, w, x *enginetest.Object) (*enginetest.Object, error) {
		a, _ := w.Text()
		b, _ := x.Text()
		return enginetest.Str(a + b), nil
	}))
	fake.DefineError("⊑⟨⟩", "⊑: Indexing out-of-bounds")

	if err := cbqn.InitWithBackend(fake); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	code := m.Run()
	_ = cbqn.Shutdown(context.Background())
	os.Exit(code)
}

func TestEvaluate(t *testing.T) {
	tests := []struct {
		src  string
		args []any
		want string
	}{
		{"1+1", nil, "2"},
		{"↕3", nil, "⟨ 0 1 2 ⟩"},
		{"∾", []any{"foo", "bar"}, `"foobar"`},
	}
	for _, tt := range tests {
		t.Run(tt.src, func(t *testing.T) {
			got, err := evaluate(tt.src, tt.args...)
			if err != nil {
				t.Fatal(err)
			}
			if got != tt.want {
				t.Errorf("evaluate = %q, want %q", got, tt.want)
			}
		})
	}
}

func TestRunLines(t *testing.T) {
	in := strings.NewReader("1+1\n\n   \n↕3\n⊑⟨⟩\n")
	var out, errOut bytes.Buffer

	err := runLines(in, &out, &errOut)
	if err == nil || !strings.Contains(err.Error(), "1 of 3 lines failed") {
		t.Errorf("runLines error = %v", err)
	}
	if got := out.String(); got != "2\n⟨ 0 1 2 ⟩\n" {
		t.Errorf("stdout = %q", got)
	}
	if !strings.Contains(errOut.String(), "Indexing out-of-bounds") {
		t.Errorf("stderr = %q", errOut.String())
	}
}

func TestCallArgs(t *testing.T) {
	*xFlag, *wFlag = "x", "w"
	t.Cleanup(func() { *xFlag, *wFlag = "", "" })

	tests := []struct {
		name string
		set  map[string]bool
		want []any
		kind errors.Kind
	}{
		{"none", map[string]bool{}, nil, ""},
		{"monadic", map[string]bool{"x": true}, []any{"x"}, ""},
		{"dyadic", map[string]bool{"x": true, "w": true}, []any{"w", "x"}, ""},
		{"w alone", map[string]bool{"w": true}, nil, errors.KindInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := callArgs(tt.set)
			if errors.KindOf(err) != tt.kind {
				t.Fatalf("err = %v, want kind %q", err, tt.kind)
			}
			if fmt.Sprint(got) != fmt.Sprint(tt.want) {
				t.Errorf("callArgs = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestRenderResultStyles(t *testing.T) {
	_, engineErr := evaluate("⊑⟨⟩")
	if !errors.IsEngine(engineErr) {
		t.Fatalf("expected an engine error, got %v", engineErr)
	}

	tests := []struct {
		name string
		e    entry
		want string
	}{
		{"result", entry{result: "2"}, resultStyle.Render("2")},
		{"engine", entry{err: engineErr}, engineErrorStyle.Render(engineErr.Error())},
		{"callback", entry{err: errors.Callback(fmt.Errorf("boom"))}, errorStyle.Render("host function: " + errors.Callback(fmt.Errorf("boom")).Error())},
		{"host", entry{err: fmt.Errorf("disk full")}, errorStyle.Render("Error: disk full")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := renderResult(tt.e); got != tt.want {
				t.Errorf("renderResult = %q, want %q", got, tt.want)
			}
		})
	}
}
