package engine

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-scripting/errors"
)

// Mode selects how wazero executes guest code.
type Mode string

const (
	ModeAuto        Mode = "auto"
	ModeCompiler    Mode = "compiler"
	ModeInterpreter Mode = "interpreter"
)

// Config holds configuration for engine creation
type Config struct {
	// Mode selects the compiler or the interpreter. Empty means ModeAuto.
	Mode Mode `yaml:"mode"`

	// CacheDir persists compiled code across runs. Empty keeps the cache in memory.
	CacheDir string `yaml:"cache_dir"`

	// MemoryLimitPages sets the maximum memory per instance in pages (64KB each).
	// 0 means default (65536 pages = 4GB).
	MemoryLimitPages uint32 `yaml:"memory_limit_pages"`

	// MemoryBudget caps the linear memory bytes all instances may grow to.
	// 0 means unlimited.
	MemoryBudget uint64 `yaml:"memory_budget"`

	// WASI pre-links wasi_snapshot_preview1 into every store.
	WASI bool `yaml:"wasi"`
}

// Engine is the process-wide execution engine. It owns compiled code through
// the compilation cache and accounts for every linear memory created by the
// stores bound to it.
type Engine struct {
	cache      wazero.CompilationCache
	runtimeCfg wazero.RuntimeConfig
	alloc      *Accountant
	stores     map[*Store]struct{}
	cfg        Config
	liveStores atomic.Int32
	built      bool
}

// New creates an engine that is not yet built.
func New(cfg Config) *Engine {
	if cfg.Mode == "" {
		cfg.Mode = ModeAuto
	}
	return &Engine{
		cfg:    cfg,
		alloc:  NewAccountant(cfg.MemoryBudget),
		stores: make(map[*Store]struct{}),
	}
}

// Build allocates the compilation cache and runtime configuration.
// Calling Build on a built engine is a no-op.
func (e *Engine) Build(ctx context.Context) error {
	if e.built {
		return nil
	}

	var cache wazero.CompilationCache
	if e.cfg.CacheDir != "" {
		c, err := wazero.NewCompilationCacheWithDir(e.cfg.CacheDir)
		if err != nil {
			return errors.Wrap(errors.PhaseEngine, errors.KindAllocation, err, "create compilation cache")
		}
		cache = c
	} else {
		cache = wazero.NewCompilationCache()
	}

	var rc wazero.RuntimeConfig
	switch e.cfg.Mode {
	case ModeCompiler:
		rc = wazero.NewRuntimeConfigCompiler()
	case ModeInterpreter:
		rc = wazero.NewRuntimeConfigInterpreter()
	case ModeAuto:
		rc = wazero.NewRuntimeConfig()
	default:
		_ = cache.Close(ctx)
		return errors.InvalidInput(errors.PhaseEngine, fmt.Sprintf("unknown engine mode %q", e.cfg.Mode))
	}
	rc = rc.WithCompilationCache(cache)
	if e.cfg.MemoryLimitPages > 0 {
		rc = rc.WithMemoryLimitPages(e.cfg.MemoryLimitPages)
	}

	e.cache = cache
	e.runtimeCfg = rc
	e.built = true

	Logger().Debug("engine built",
		zap.String("mode", string(e.cfg.Mode)),
		zap.String("cache_dir", e.cfg.CacheDir),
		zap.Uint32("memory_limit_pages", e.cfg.MemoryLimitPages),
		zap.Uint64("memory_budget", e.cfg.MemoryBudget))
	return nil
}

// Built reports whether Build succeeded and Destroy has not been called.
func (e *Engine) Built() bool {
	return e != nil && e.built
}

// Destroy releases the compilation cache. Every store built on this engine
// must be destroyed first.
func (e *Engine) Destroy(ctx context.Context) error {
	if !e.built {
		return nil
	}
	if n := len(e.stores); n > 0 {
		return errors.New(errors.PhaseEngine, errors.KindBusy).
			Detail("%d store(s) still alive", n).
			Build()
	}
	e.built = false
	err := e.cache.Close(ctx)
	e.cache = nil
	e.runtimeCfg = nil
	if err != nil {
		return errors.Wrap(errors.PhaseEngine, errors.KindInvalidData, err, "close compilation cache")
	}
	Logger().Debug("engine destroyed")
	return nil
}

// Config returns the configuration the engine was created with.
func (e *Engine) Config() Config {
	return e.cfg
}

// Allocator returns the accounting memory allocator.
func (e *Engine) Allocator() *Accountant {
	return e.alloc
}

// Stats returns memory accounting counters.
func (e *Engine) Stats() Stats {
	return e.alloc.Stats()
}

// LiveStores returns the number of built stores.
func (e *Engine) LiveStores() int {
	return int(e.liveStores.Load())
}

func (e *Engine) attach(s *Store) {
	e.stores[s] = struct{}{}
	e.liveStores.Store(int32(len(e.stores)))
}

func (e *Engine) detach(s *Store) {
	delete(e.stores, s)
	e.liveStores.Store(int32(len(e.stores)))
}
