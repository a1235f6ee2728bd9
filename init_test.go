package cbqn

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/wippyai/cbqn-go/errors"
	"github.com/wippyai/cbqn-go/internal/enginetest"
)

func TestInitOnce(t *testing.T) {
	fk := startFake(t)

	other := enginetest.New()
	if err := InitWithBackend(other); err != nil {
		t.Fatal(err)
	}
	if other.Inits() != 0 {
		t.Error("second backend was initialized")
	}
	if err := Init(); err != nil {
		t.Fatal(err)
	}
	if fk.Inits() != 1 {
		t.Errorf("Inits = %d, want 1", fk.Inits())
	}
	name, err := BackendName()
	if err != nil || name != "fake" {
		t.Errorf("BackendName = %q, %v", name, err)
	}
}

func TestInitFailureIsSticky(t *testing.T) {
	resetEngine()
	t.Cleanup(resetEngine)

	fk := enginetest.New()
	fk.FailNext("Init", errors.Trap(errors.PhaseInit, "bqn_init", "heap exhausted", nil))

	err := InitWithBackend(fk)
	assertKind(t, err, errors.KindEngine)

	_, err = FromFloat64(1)
	assertKind(t, err, errors.KindEngine)

	// the failed backend was closed
	if _, err := fk.MakeF64(1); errors.KindOf(err) != errors.KindNotInitialized {
		t.Errorf("backend still open after failed init: %v", err)
	}
}

func TestInitWithConfigErrors(t *testing.T) {
	tests := []struct {
		name string
		cfg  Config
		want errors.Kind
	}{
		{"unknown backend", Config{Backend: "jit"}, errors.KindInvalidInput},
		{"wasi without path", Config{Backend: "wasi"}, errors.KindInvalidInput},
		{"missing module", Config{Backend: "wasi", WasmPath: filepath.Join(t.TempDir(), "missing.wasm")}, errors.KindInvalidData},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resetEngine()
			t.Cleanup(resetEngine)
			assertKind(t, InitWithConfig(tt.cfg), tt.want)
		})
	}
}

func TestShutdown(t *testing.T) {
	fk := startFake(t)
	fk.Define("1", enginetest.Num(1))

	v, err := Eval("1")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := v.Fmt(); err != nil {
		t.Fatal(err)
	}
	_ = v.Free()

	if err := Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	if n := fk.Live(); n != 0 {
		t.Errorf("live after Shutdown = %d (%v)", n, fk.LiveObjects())
	}

	_, err = FromFloat64(1)
	assertKind(t, err, errors.KindNotInitialized)
	_, err = Eval("1")
	assertKind(t, err, errors.KindNotInitialized)
	_, err = BackendName()
	assertKind(t, err, errors.KindNotInitialized)

	if err := Shutdown(context.Background()); err != nil {
		t.Errorf("second Shutdown: %v", err)
	}
}

func TestShutdownBeforeInit(t *testing.T) {
	resetEngine()
	t.Cleanup(resetEngine)

	if err := Shutdown(context.Background()); err != nil {
		t.Fatal(err)
	}
	_, err := Null()
	assertKind(t, err, errors.KindNotInitialized)
}

func TestReentrantMutex(t *testing.T) {
	m := newReentrantMutex()

	m.Lock()
	m.Lock()
	if !m.held() {
		t.Fatal("held = false while locked")
	}
	m.Unlock()
	if !m.held() {
		t.Fatal("released after one of two unlocks")
	}

	acquired := make(chan struct{})
	go func() {
		m.Lock()
		close(acquired)
		m.Unlock()
	}()

	select {
	case <-acquired:
		t.Fatal("another goroutine entered a held lock")
	case <-time.After(50 * time.Millisecond):
	}

	m.Unlock()
	select {
	case <-acquired:
	case <-time.After(5 * time.Second):
		t.Fatal("waiter never acquired the lock")
	}
	if m.held() {
		t.Error("held = true after final unlock")
	}
}

func TestReentrantMutexUnlockNotHeld(t *testing.T) {
	m := newReentrantMutex()
	defer func() {
		if recover() == nil {
			t.Error("Unlock of an unheld lock did not panic")
		}
	}()
	m.Unlock()
}
