package cbqn

import (
	"context"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/cbqn-go/engine"
	"github.com/wippyai/cbqn-go/engine/wasi"
	"github.com/wippyai/cbqn-go/errors"
)

// factory builds a backend from configuration.
type factory func(ctx context.Context, cfg Config) (engine.Backend, error)

var (
	backends = map[string]factory{
		"wasi": newWasiBackend,
	}
	defaultBackend = "wasi"
)

func newWasiBackend(ctx context.Context, cfg Config) (engine.Backend, error) {
	return wasi.New(ctx, wasi.Config{
		Path:             cfg.WasmPath,
		Mounts:           cfg.Mounts,
		MemoryLimitPages: cfg.MemoryLimitPages,
		CacheDir:         cfg.CacheDir,
	})
}

// state is the live engine. Every field is guarded by lock.
type state struct {
	backend engine.Backend
	cfg     Config
	gen     uint64

	guard engine.Handle
	fmt   engine.Handle

	depth    int
	pending  error
	failures uint64
}

var (
	lock     = newReentrantMutex()
	initOnce sync.Once
	initErr  error
	current  *state
	gens     uint64
)

// Init starts the engine with DefaultConfig. Only the first initialization
// in a process takes effect; later calls return its result.
func Init() error {
	initOnce.Do(func() {
		cfg, err := DefaultConfig()
		if err != nil {
			initErr = err
			return
		}
		initErr = startConfig(cfg)
	})
	return initErr
}

// InitWithConfig starts the engine with cfg unless it is already running.
func InitWithConfig(cfg Config) error {
	initOnce.Do(func() {
		initErr = startConfig(cfg)
	})
	return initErr
}

// InitWithBackend starts the engine on an already constructed backend.
func InitWithBackend(b engine.Backend) error {
	initOnce.Do(func() {
		initErr = start(b, Config{Backend: b.Name()})
	})
	return initErr
}

func startConfig(cfg Config) error {
	if cfg.Backend == "" {
		cfg.Backend = defaultBackend
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	logger().Debug("selecting backend", zap.String("backend", cfg.Backend), zap.String("wasm_path", cfg.WasmPath))

	b, err := backends[cfg.Backend](context.Background(), cfg)
	if err != nil {
		return err
	}
	return start(b, cfg)
}

func start(b engine.Backend, cfg Config) error {
	lock.Lock()
	defer lock.Unlock()

	if err := b.Init(); err != nil {
		return multierr.Append(
			errors.Wrap(errors.PhaseInit, errors.KindEngine, err, "bqn_init"),
			b.Close(context.Background()))
	}
	b.SetDispatcher(dispatcher{})

	gens++
	current = &state{backend: b, cfg: cfg, gen: gens}
	logger().Info("engine initialized", zap.String("backend", b.Name()), zap.Bool("raw_eval", cfg.RawEval))
	return nil
}

// Shutdown closes the backend. Every later operation fails with
// errors.KindNotInitialized and values still alive are never released.
func Shutdown(ctx context.Context) error {
	initOnce.Do(func() {
		initErr = errors.NotInitialized(errors.PhaseInit, "engine")
	})

	lock.Lock()
	defer lock.Unlock()

	s := current
	if s == nil {
		return nil
	}
	current = nil

	var err error
	for _, h := range []engine.Handle{s.guard, s.fmt} {
		if h != 0 {
			err = multierr.Append(err, s.backend.Free(h))
		}
	}
	s.backend.SetDispatcher(nil)
	err = multierr.Append(err, s.backend.Close(ctx))
	logger().Info("engine shut down", zap.String("backend", s.backend.Name()), zap.Error(err))
	return err
}

// BackendName returns the name of the running backend.
func BackendName() (string, error) {
	return with(errors.PhaseInit, func(s *state) (string, error) {
		return s.backend.Name(), nil
	})
}

// acquire initializes the engine if needed and takes the engine lock.
// The caller must unlock when acquire succeeds.
func acquire(phase errors.Phase) (*state, error) {
	if err := Init(); err != nil {
		return nil, err
	}
	lock.Lock()
	if current == nil {
		lock.Unlock()
		return nil, errors.NotInitialized(phase, "engine")
	}
	return current, nil
}

// with runs fn on the engine under the engine lock.
func with[T any](phase errors.Phase, fn func(s *state) (T, error)) (T, error) {
	s, err := acquire(phase)
	if err != nil {
		var zero T
		return zero, err
	}
	defer lock.Unlock()
	return fn(s)
}

// foreign runs an engine call that may invoke bound host functions and
// converts any failure raised by those functions into a callback error.
// Each call collects only the failures raised beneath it; once reported
// they are not seen again by enclosing calls.
func (s *state) foreign(call func() (engine.Handle, error)) (engine.Handle, error) {
	mark, outer := s.failures, s.pending
	s.pending = nil
	s.depth++
	h, err := call()
	s.depth--

	cause := s.pending
	s.pending = outer
	if s.failures == mark {
		return h, err
	}
	s.failures = mark
	if err != nil {
		return 0, multierr.Append(errors.Callback(cause), err)
	}
	_ = s.backend.Free(h)
	return 0, errors.Callback(cause)
}
