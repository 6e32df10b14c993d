package runtime

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/bytecodealliance/wasmtime-go/v14"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-scripting/engine"
	"github.com/wippyai/wasm-scripting/errors"
	"github.com/wippyai/wasm-scripting/linker"
)

// Host owns the engine, the native registry and one Context per resource.
type Host struct {
	cfg        Config
	engine     *engine.Engine
	registry   *linker.Registry
	contexts   map[string]*linker.Context
	order      []string
	metrics    *metrics
	logger     *zap.Logger
	registerer prometheus.Registerer
	stdout     io.Writer
	stderr     io.Writer
}

// New builds the engine unless cfg.Engine.Disabled is set, in which case the
// host runs degraded: contexts are created but every load fails.
func New(ctx context.Context, cfg Config, opts ...Option) (*Host, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	h := &Host{
		cfg:      cfg,
		registry: linker.NewRegistry(),
		contexts: make(map[string]*linker.Context),
	}
	for _, opt := range opts {
		opt(h)
	}
	if h.logger != nil {
		SetLogger(h.logger)
		engine.SetLogger(h.logger.Named("engine"))
		linker.SetLogger(h.logger.Named("linker"))
	}
	h.metrics = newMetrics(h)

	if !cfg.Engine.Disabled {
		e := engine.New(cfg.Engine.Config)
		if err := e.Build(ctx); err != nil {
			return nil, err
		}
		h.engine = e
	} else {
		Logger().Warn("engine disabled, scripts will not load")
	}

	if h.registerer != nil {
		collectors := h.metrics.collectors()
		if h.engine != nil {
			collectors = append(collectors, h.engine.Collectors()...)
		}
		for _, c := range collectors {
			if err := h.registerer.Register(c); err != nil {
				_ = h.Close(ctx)
				return nil, errors.Wrap(errors.PhaseEngine, errors.KindRegistration, err, "register metrics")
			}
		}
	}
	return h, nil
}

func (h *Host) Config() Config             { return h.cfg }
func (h *Host) Engine() *engine.Engine     { return h.engine }
func (h *Host) Registry() *linker.Registry { return h.registry }

// NewContext creates the Context of a resource.
func (h *Host) NewContext(ctx context.Context, resource string) (*linker.Context, error) {
	if _, exists := h.contexts[resource]; exists {
		return nil, errors.New(errors.PhaseEngine, errors.KindInvalidInput).
			Resource(resource, "").
			Detail("resource %q already has a context", resource).
			Build()
	}
	c, err := linker.NewContext(ctx, resource, h.engine, h.registry, linker.Options{
		APINamespace: h.cfg.APINamespace,
		Stdout:       h.stdout,
		Stderr:       h.stderr,
		Observer:     h.metrics,
	})
	if err != nil {
		return nil, err
	}
	h.contexts[resource] = c
	h.order = append(h.order, resource)
	return c, nil
}

// Context returns the Context of a resource, or nil.
func (h *Host) Context(resource string) *linker.Context {
	return h.contexts[resource]
}

// Resources returns resource names in creation order.
func (h *Host) Resources() []string {
	return append([]string(nil), h.order...)
}

// LoadResource loads files in order into the resource's Context, creating it
// when needed. Every file is attempted; the returned error combines the
// failures. Files ending in .wat are compiled from text first.
func (h *Host) LoadResource(ctx context.Context, resource string, files []string, executeEntryPoint bool) ([]*linker.Script, error) {
	c := h.contexts[resource]
	if c == nil {
		var err error
		if c, err = h.NewContext(ctx, resource); err != nil {
			return nil, err
		}
	}

	var (
		scripts []*linker.Script
		errs    error
	)
	for _, file := range files {
		bin, err := readModule(file)
		if err != nil {
			errs = multierr.Append(errs, errors.Wrap(errors.PhaseFormat, errors.KindInvalidData, err, "read module").
				Attribute(resource, filepath.Base(file)))
			continue
		}
		s := c.CreateScript()
		if c.LoadScriptBinary(ctx, s, bin, filepath.Base(file), executeEntryPoint) != linker.LoadSucceed {
			errs = multierr.Append(errs, s.Err())
			continue
		}
		scripts = append(scripts, s)
	}

	Logger().Info("resource loaded",
		zap.String("resource", resource),
		zap.Int("scripts", len(scripts)),
		zap.Int("failed", len(multierr.Errors(errs))),
		zap.Int("shared_functions", len(c.GlobalFunctionNames())))
	return scripts, errs
}

// LoadConfigured loads every resource listed in the configuration.
func (h *Host) LoadConfigured(ctx context.Context) error {
	var errs error
	for _, r := range h.cfg.Resources {
		files := make([]string, len(r.Scripts))
		for i, s := range r.Scripts {
			if r.Dir != "" && !filepath.IsAbs(s) {
				s = filepath.Join(r.Dir, s)
			}
			files[i] = s
		}
		_, err := h.LoadResource(ctx, r.Name, files, !r.NoMain)
		errs = multierr.Append(errs, err)
	}
	return errs
}

// UnloadResource destroys a resource's Context.
func (h *Host) UnloadResource(ctx context.Context, resource string) error {
	c := h.contexts[resource]
	if c == nil {
		return errors.NotFound(errors.PhaseEngine, "resource", resource)
	}
	delete(h.contexts, resource)
	for i, name := range h.order {
		if name == resource {
			h.order = append(h.order[:i], h.order[i+1:]...)
			break
		}
	}
	return c.Destroy(ctx)
}

// Close destroys every Context, then the engine.
func (h *Host) Close(ctx context.Context) error {
	var errs error
	for _, resource := range h.Resources() {
		errs = multierr.Append(errs, h.UnloadResource(ctx, resource))
	}
	if h.engine != nil {
		errs = multierr.Append(errs, h.engine.Destroy(ctx))
		h.engine = nil
	}
	return errs
}

func readModule(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if strings.EqualFold(filepath.Ext(path), ".wat") {
		return wasmtime.Wat2Wasm(string(b))
	}
	return b, nil
}
