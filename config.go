package cbqn

import (
	"fmt"
	"os"
	"slices"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/wippyai/cbqn-go/engine/wasi"
	"github.com/wippyai/cbqn-go/errors"
)

// Environment variables read by DefaultConfig.
const (
	EnvConfig     = "CBQN_CONFIG"
	EnvBackend    = "CBQN_BACKEND"
	EnvWasm       = "CBQN_WASM"
	EnvWasmLegacy = "BQN_WASM"
	EnvCacheDir   = "CBQN_CACHE_DIR"
)

// Config selects and configures the engine backend.
type Config struct {
	// Backend is "wasi" or "native". Empty picks the build default.
	Backend string `yaml:"backend,omitempty"`

	// WasmPath locates the CBQN WASI reactor for the wasi backend.
	WasmPath string `yaml:"wasm_path,omitempty"`

	// Mounts are the directories preopened for the wasi backend.
	// Empty mounts the host root at "/".
	Mounts []wasi.Mount `yaml:"mounts,omitempty"`

	// MemoryLimitPages caps sandbox memory in 64KB pages.
	MemoryLimitPages uint32 `yaml:"memory_limit_pages,omitempty"`

	// CacheDir holds compiled sandbox code between runs.
	CacheDir string `yaml:"cache_dir,omitempty"`

	// RawEval makes Eval call bqn_eval directly instead of through the
	// error-catching wrapper. Engine errors then abort or trap.
	RawEval bool `yaml:"raw_eval,omitempty"`
}

// DefaultConfig returns the configuration used by implicit initialization:
// the file named by CBQN_CONFIG if set, overlaid with CBQN_BACKEND,
// CBQN_WASM (or BQN_WASM) and CBQN_CACHE_DIR.
func DefaultConfig() (Config, error) {
	var cfg Config
	if path := os.Getenv(EnvConfig); path != "" {
		loaded, err := LoadConfig(path)
		if err != nil {
			return Config{}, err
		}
		cfg = *loaded
	}
	cfg.applyEnv()
	if cfg.Backend == "" {
		cfg.Backend = defaultBackend
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	if v := os.Getenv(EnvBackend); v != "" {
		c.Backend = v
	}
	if v := os.Getenv(EnvWasm); v != "" {
		c.WasmPath = v
	} else if v := os.Getenv(EnvWasmLegacy); v != "" && c.WasmPath == "" {
		c.WasmPath = v
	}
	if v := os.Getenv(EnvCacheDir); v != "" {
		c.CacheDir = v
	}
}

// LoadConfig reads and parses a YAML configuration file.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindNotFound, err, "reading config "+path)
	}
	return ParseConfig(data, path)
}

// ParseConfig parses YAML configuration from bytes.
// The path argument is used only for error messages.
func ParseConfig(data []byte, path string) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, errors.Wrap(errors.PhaseConfig, errors.KindInvalidData, err, "parsing "+path)
	}
	if cfg.Backend != "" {
		if err := cfg.Validate(); err != nil {
			return nil, err
		}
	}
	return &cfg, nil
}

// Validate checks the configuration for semantic errors.
func (c Config) Validate() error {
	name := c.Backend
	if name == "" {
		name = defaultBackend
	}
	if _, ok := backends[name]; !ok {
		return errors.InvalidInput(errors.PhaseConfig,
			fmt.Sprintf("unknown backend %q (available: %s)", name, strings.Join(Backends(), ", ")))
	}
	if name == "wasi" && c.WasmPath == "" {
		return errors.InvalidInput(errors.PhaseConfig,
			fmt.Sprintf("wasi backend needs a wasm path (set wasm_path or %s)", EnvWasm))
	}
	for i, m := range c.Mounts {
		if m.Host == "" || m.Guest == "" {
			return errors.InvalidInput(errors.PhaseConfig, fmt.Sprintf("mounts[%d]: host and guest are required", i))
		}
	}
	return nil
}

// Backends lists the registered backend names.
func Backends() []string {
	names := make([]string, 0, len(backends))
	for name := range backends {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}
