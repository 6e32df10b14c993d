package engine

import (
	"context"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/experimental"
	"github.com/tetratelabs/wazero/imports/wasi_snapshot_preview1"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-scripting/errors"
)

// WASIModuleName is the namespace pre-linked when Config.WASI is set.
const WASIModuleName = wasi_snapshot_preview1.ModuleName

// Store is an isolated resource arena bound to one engine. All modules loaded
// by one context live in its store.
type Store struct {
	engine  *Engine
	runtime wazero.Runtime
}

// NewStore creates an unbuilt store.
func NewStore() *Store {
	return &Store{}
}

// Build binds the store to e. Without a built engine this is a silent no-op
// and the store stays unbuilt: loading is disabled but nothing fails.
func (s *Store) Build(ctx context.Context, e *Engine) error {
	if s.runtime != nil {
		return nil
	}
	if !e.Built() {
		Logger().Debug("store not built: no engine")
		return nil
	}

	r := wazero.NewRuntimeWithConfig(ctx, e.runtimeCfg)
	if e.cfg.WASI {
		if _, err := instantiateWASI(ctx, r); err != nil {
			_ = r.Close(ctx)
			return errors.Wrap(errors.PhaseEngine, errors.KindInvalidData, err, "pre-link "+WASIModuleName)
		}
	}

	s.engine = e
	s.runtime = r
	e.attach(s)
	Logger().Debug("store built", zap.Int("live_stores", e.LiveStores()))
	return nil
}

// Built reports whether the store has a live runtime.
func (s *Store) Built() bool {
	return s != nil && s.runtime != nil
}

// Destroy releases the arena and every module in it. Safe to call repeatedly.
func (s *Store) Destroy(ctx context.Context) error {
	if s.runtime == nil {
		return nil
	}
	err := s.runtime.Close(ctx)
	s.engine.detach(s)
	s.runtime = nil
	s.engine = nil
	if err != nil {
		return errors.Wrap(errors.PhaseEngine, errors.KindInvalidData, err, "close store")
	}
	return nil
}

// Engine returns the engine the store is bound to, or nil.
func (s *Store) Engine() *Engine {
	return s.engine
}

// Runtime returns the underlying wazero runtime, or nil when unbuilt.
func (s *Store) Runtime() wazero.Runtime {
	return s.runtime
}

// Module returns an instantiated module by name.
func (s *Store) Module(name string) api.Module {
	if s.runtime == nil {
		return nil
	}
	return s.runtime.Module(name)
}

// Compile compiles and validates a module binary.
func (s *Store) Compile(ctx context.Context, b []byte) (wazero.CompiledModule, error) {
	if s.runtime == nil {
		return nil, errors.NotInitialized(errors.PhaseEngine, "store")
	}
	return s.runtime.CompileModule(ctx, b)
}

// Instantiate instantiates a compiled module with the engine's allocator.
func (s *Store) Instantiate(ctx context.Context, compiled wazero.CompiledModule, cfg wazero.ModuleConfig) (api.Module, error) {
	if s.runtime == nil {
		return nil, errors.NotInitialized(errors.PhaseEngine, "store")
	}
	return s.runtime.InstantiateModule(s.withAllocator(ctx), compiled, cfg)
}

// NewHostModuleBuilder starts a host module in this store.
func (s *Store) NewHostModuleBuilder(name string) wazero.HostModuleBuilder {
	return s.runtime.NewHostModuleBuilder(name)
}

func (s *Store) withAllocator(ctx context.Context) context.Context {
	return experimental.WithMemoryAllocator(ctx, s.engine.alloc)
}

// instantiateWASI pre-links preview1 into r.
func instantiateWASI(ctx context.Context, r wazero.Runtime) (api.Module, error) {
	builder := r.NewHostModuleBuilder(WASIModuleName)
	wasi_snapshot_preview1.NewFunctionExporter().ExportFunctions(builder)
	return builder.Instantiate(ctx)
}
