package cbqn

import (
	"context"
	"sync"
	"testing"

	"github.com/wippyai/cbqn-go/errors"
	"github.com/wippyai/cbqn-go/internal/enginetest"
)

// resetEngine forgets the running engine so a test can initialize anew.
func resetEngine() {
	lock.Lock()
	defer lock.Unlock()
	initOnce = sync.Once{}
	initErr = nil
	current = nil
}

// startFake initializes the engine on a fresh fake and shuts it down when
// the test ends.
func startFake(t *testing.T) *enginetest.Fake {
	t.Helper()
	fk := enginetest.New()
	resetEngine()
	if err := InitWithBackend(fk); err != nil {
		t.Fatalf("InitWithBackend: %v", err)
	}
	t.Cleanup(func() {
		if err := Shutdown(context.Background()); err != nil {
			t.Errorf("Shutdown: %v", err)
		}
		if bad := fk.BadFrees(); len(bad) > 0 {
			t.Errorf("bad frees: %v", bad)
		}
		resetEngine()
	})
	return fk
}

// setRawEval toggles Config.RawEval on the running engine.
func setRawEval(raw bool) {
	lock.Lock()
	defer lock.Unlock()
	current.cfg.RawEval = raw
}

// leaked returns the live handles not held by the engine's cached helpers.
func leaked(fk *enginetest.Fake) int {
	lock.Lock()
	defer lock.Unlock()
	n := fk.Live()
	if current != nil {
		if current.guard != 0 {
			n--
		}
		if current.fmt != 0 {
			n--
		}
	}
	return n
}

func assertNoLeaks(t *testing.T, fk *enginetest.Fake) {
	t.Helper()
	if n := leaked(fk); n != 0 {
		t.Errorf("%d handles leaked (live: %v)", n, fk.LiveObjects())
	}
}

func assertKind(t *testing.T, err error, want errors.Kind) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s error, got nil", want)
	}
	if got := errors.KindOf(err); got != want {
		t.Fatalf("error kind = %q, want %q (%v)", got, want, err)
	}
}

func eval(t *testing.T, src string) *Value {
	t.Helper()
	v, err := Eval(src)
	if err != nil {
		t.Fatalf("Eval(%q): %v", src, err)
	}
	t.Cleanup(func() { _ = v.Free() })
	return v
}

func free(vs ...*Value) {
	for _, v := range vs {
		_ = v.Free()
	}
}
