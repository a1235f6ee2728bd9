package wasi

import (
	"context"
	"crypto/rand"
	"io"
	"os"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/cbqn-go/engine"
	"github.com/wippyai/cbqn-go/errors"
)

// ModuleName is the instance name given to the CBQN reactor.
const ModuleName = "cbqn"

// Mount maps a host directory into the guest filesystem.
type Mount struct {
	Host     string `yaml:"host"`
	Guest    string `yaml:"guest"`
	ReadOnly bool   `yaml:"read_only"`
}

// Config holds configuration for the sandboxed backend
type Config struct {
	// Path of the CBQN WASI reactor (BQN.wasm). Ignored when Wasm is set.
	Path string

	// Wasm is the module binary, for callers that embed it.
	Wasm []byte

	// Mounts are the preopened directories. nil mounts the host root at "/".
	Mounts []Mount

	// MemoryLimitPages caps guest memory in 64KB pages. 0 means the wazero default.
	MemoryLimitPages uint32

	// CacheDir enables the on-disk compilation cache when non-empty.
	CacheDir string

	// Stdout receives guest stdout (•Out, •Show). nil means os.Stdout.
	Stdout io.Writer
}

// DefaultMounts preopens the whole host filesystem, matching a native build.
func DefaultMounts() []Mount {
	return []Mount{{Host: "/", Guest: "/"}}
}

// New compiles and instantiates the CBQN reactor.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	wasmBytes := cfg.Wasm
	if len(wasmBytes) == 0 {
		if cfg.Path == "" {
			return nil, errors.InvalidInput(errors.PhaseLoad, "no wasm path configured")
		}
		data, err := os.ReadFile(cfg.Path)
		if err != nil {
			return nil, errors.Load("read "+cfg.Path, err)
		}
		wasmBytes = data
	}

	runtimeCfg := wazero.NewRuntimeConfig()
	if cfg.MemoryLimitPages > 0 {
		runtimeCfg = runtimeCfg.WithMemoryLimitPages(cfg.MemoryLimitPages)
	}
	var cache wazero.CompilationCache
	if cfg.CacheDir != "" {
		c, err := wazero.NewCompilationCacheWithDir(cfg.CacheDir)
		if err != nil {
			return nil, errors.Load("open compilation cache "+cfg.CacheDir, err)
		}
		cache = c
		runtimeCfg = runtimeCfg.WithCompilationCache(cache)
	}

	r := wazero.NewRuntimeWithConfig(ctx, runtimeCfg)
	closeAll := func(err error) error {
		err = multierr.Append(err, r.Close(ctx))
		if cache != nil {
			err = multierr.Append(err, cache.Close(ctx))
		}
		return err
	}

	if _, err := instantiateWASI(ctx, r); err != nil {
		return nil, closeAll(errors.Load("instantiate wasi_snapshot_preview1", err))
	}

	compiled, err := r.CompileModule(ctx, wasmBytes)
	if err != nil {
		return nil, closeAll(errors.Load("compile failed", err))
	}
	if err := checkExports(compiled.ExportedFunctions(), compiled.ExportedMemories()); err != nil {
		return nil, closeAll(err)
	}

	stderr := &Pipe{}
	modCfg := moduleConfig(cfg, stderr)

	mod, err := r.InstantiateModule(ctx, compiled, modCfg)
	if err != nil {
		return nil, closeAll(errors.New(errors.PhaseLoad, errors.KindTrap).
			Detail("instantiate reactor").
			Stderr(stderr.Drain()).
			Cause(err).
			Build())
	}

	fns, err := resolveExports(mod)
	if err != nil {
		return nil, closeAll(multierr.Append(err, mod.Close(ctx)))
	}

	b := newBackend(ctx, fns, wrapMemory(mod.Memory()), stderr)
	b.runtime = r
	b.module = mod
	b.cache = cache

	engine.Logger().Debug("wasi backend ready",
		zap.String("path", cfg.Path),
		zap.Int("size", len(wasmBytes)),
		zap.Uint32("memory_limit_pages", cfg.MemoryLimitPages),
		zap.Bool("cached", cache != nil))
	return b, nil
}

// instantiateWASI registers wasi_snapshot_preview1 host functions.
func instantiateWASI(ctx context.Context, r wazero.Runtime) (api.Module, error) {
	builder := r.NewHostModuleBuilder(wasi_snapshot_preview1.ModuleName)
	wasi_snapshot_preview1.NewFunctionExporter().ExportFunctions(builder)
	return builder.Instantiate(ctx)
}

func moduleConfig(cfg Config, stderr io.Writer) wazero.ModuleConfig {
	mounts := cfg.Mounts
	if mounts == nil {
		mounts = DefaultMounts()
	}
	fsCfg := wazero.NewFSConfig()
	for _, m := range mounts {
		if m.ReadOnly {
			fsCfg = fsCfg.WithReadOnlyDirMount(m.Host, m.Guest)
		} else {
			fsCfg = fsCfg.WithDirMount(m.Host, m.Guest)
		}
	}

	stdout := cfg.Stdout
	if stdout == nil {
		stdout = os.Stdout
	}

	return wazero.NewModuleConfig().
		WithName(ModuleName).
		WithArgs(ModuleName).
		WithStdout(stdout).
		WithStderr(stderr).
		WithFSConfig(fsCfg).
		WithSysWalltime().
		WithSysNanotime().
		WithSysNanosleep().
		WithRandSource(rand.Reader).
		WithStartFunctions("_initialize")
}
