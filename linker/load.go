package linker

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-scripting/errors"
	"github.com/wippyai/wasm-scripting/linker/internal/wasm"
)

// slotExportPrefix names the synthetic exports giving access to internal
// table slots. They are excluded from export checks and the export map.
const slotExportPrefix = "__slot#"

func slotExportName(slot uint32) string {
	return fmt.Sprintf("%s%d", slotExportPrefix, slot)
}

// loadScope owns everything acquired during one load until it commits.
type loadScope struct {
	ctx      context.Context
	compiled wazero.CompiledModule
	modules  []api.Module
}

func (l *loadScope) release() {
	for i := len(l.modules) - 1; i >= 0; i-- {
		_ = l.modules[i].Close(l.ctx)
	}
	l.modules = nil
	if l.compiled != nil {
		_ = l.compiled.Close(l.ctx)
		l.compiled = nil
	}
}

// importPlan is the per-import outcome of resolution.
type importPlan struct {
	modules   []string
	host      map[string]*FunctionBinding
	hostOrder []string
	stubs     map[string]*wasm.StubModuleBuilder
	stubOrder []string
}

func (p *importPlan) stub(name string) *wasm.StubModuleBuilder {
	b, ok := p.stubs[name]
	if !ok {
		b = wasm.NewStubModuleBuilder()
		p.stubs[name] = b
		p.stubOrder = append(p.stubOrder, name)
	}
	return b
}

// LoadBinary validates, links and instantiates a module. A Script that is
// already loaded is unloaded first. On failure every partially acquired
// resource is released and Err describes the cause.
func (s *Script) LoadBinary(ctx context.Context, b []byte, fileName string) LoadState {
	if s.state != StateUnloaded && s.state != StateFailed {
		s.Unload(ctx)
	}
	s.fileName = fileName
	s.err = nil
	s.state = StateValidating

	if len(b) == 0 {
		return s.fail(errors.New(errors.PhaseFormat, errors.KindEmpty).Detail("empty module").Build(), nil)
	}
	if !wasm.HasMagic(b) {
		return s.fail(errors.New(errors.PhaseFormat, errors.KindBadMagic).
			Detail("invalid wasm file, magic value not found").Build(), nil)
	}
	store := s.context.store
	if !store.Built() {
		return s.fail(errors.NotInitialized(errors.PhaseEngine, "store"), nil)
	}
	mod, err := wasm.ParseModule(b)
	if err != nil {
		return s.fail(errors.Wrap(errors.PhaseValidate, errors.KindInvalidData, err, "wasm validation failed"), nil)
	}

	s.bindNatives()

	s.state = StateResolvingImports
	plan, lerr := s.resolveImports(mod)
	if lerr != nil {
		return s.fail(lerr, nil)
	}

	slots := internalSlots(mod)
	replace := make(map[byte][]byte)
	if len(mod.Imports) > 0 {
		replace[wasm.SectionImport] = wasm.ImportSection(mod.Imports, func(i int, _ wasm.Import) string {
			return plan.modules[i]
		})
	}
	if len(slots) > 0 {
		exports := append([]wasm.Export(nil), mod.Exports...)
		for _, slot := range sortedSlots(slots) {
			exports = append(exports, wasm.Export{Name: slotExportName(slot), Kind: wasm.ExternFunc, Index: slots[slot]})
		}
		replace[wasm.SectionExport] = wasm.ExportSection(exports)
	}
	linked := b
	if len(replace) > 0 {
		linked = wasm.Rebuild(b, mod, replace)
	}

	scope := &loadScope{ctx: ctx}
	scope.compiled, err = store.Compile(ctx, linked)
	if err != nil {
		return s.fail(errors.Wrap(errors.PhaseValidate, errors.KindInvalidData, err, "wasm validation failed"), scope)
	}

	s.state = StateInstantiating
	if lerr := s.instantiateImports(ctx, plan, scope); lerr != nil {
		return s.fail(lerr, scope)
	}
	instance, err := store.Instantiate(ctx, scope.compiled, wazero.NewModuleConfig().
		WithName(fmt.Sprintf("%s#%d", fileName, s.id)).
		WithStartFunctions().
		WithStdout(s.context.opts.stdout()).
		WithStderr(s.context.opts.stderr()))
	if err != nil {
		trap := errors.Trap(errors.PhaseInstantiate, fileName, err)
		trap.Detail = "creating new wasm module instance failed"
		return s.fail(trap, scope)
	}
	scope.modules = append(scope.modules, instance)

	s.state = StateExporting
	if lerr := checkExports(mod, instance); lerr != nil {
		return s.fail(lerr, scope)
	}
	s.classifyExports(mod, instance, slots)

	s.compiled = scope.compiled
	s.instance = instance
	s.hostModules = scope.modules[:len(scope.modules)-1]
	s.context.publish(s)
	s.state = StateReady

	Logger().Debug("script loaded", append(scriptFields(s),
		zap.Int("imports", len(mod.Imports)),
		zap.Int("exports", len(s.order)),
		zap.Int("placeholders", s.placeholderCount()))...)
	s.notifyLoaded(LoadSucceed)
	return LoadSucceed
}

// bindNatives gives the Script its own copy of every registered native.
func (s *Script) bindNatives() {
	reg := s.context.registry
	if reg == nil {
		return
	}
	for _, name := range reg.Names() {
		nf, _ := reg.Lookup(name)
		s.apiFunctions[name] = newNativeBinding(name, nf.Signature, nf.Impl, Environment{Script: s, Name: name})
	}
}

func (s *Script) resolveImports(mod *wasm.Module) (importPlan, *errors.Error) {
	plan := importPlan{
		modules: make([]string, len(mod.Imports)),
		host:    make(map[string]*FunctionBinding),
		stubs:   make(map[string]*wasm.StubModuleBuilder),
	}
	apiNS := s.context.opts.apiNamespace()
	hostName := fmt.Sprintf("%s#%d", apiNS, s.id)

	for i, imp := range mod.Imports {
		if s.prelinked(imp) {
			plan.modules[i] = imp.Module
			continue
		}

		if imp.Module == apiNS && imp.Kind == wasm.ExternFunc {
			ft, ok := mod.ImportFuncType(imp)
			if !ok {
				return plan, importError(errors.KindInvalidData, imp.Module, imp.Name, "import type index out of range", nil)
			}
			declared, err := SignatureOf(ft.Params, ft.Results)
			if err != nil {
				return plan, importError(errors.KindTypeMismatch, imp.Module, imp.Name, "import uses unsupported value types", err)
			}
			fn, lerr := s.resolveAPIImport(imp.Name, declared)
			if lerr != nil {
				return plan, lerr
			}
			if _, seen := plan.host[imp.Name]; !seen {
				plan.host[imp.Name] = fn
				plan.hostOrder = append(plan.hostOrder, imp.Name)
			}
			plan.modules[i] = hostName
			continue
		}

		stubName := fmt.Sprintf("%s#%d", imp.Module, s.id)
		if imp.Module == apiNS {
			stubName += ".stub"
		}
		if err := plan.stub(stubName).Add(imp, mod); err != nil {
			return plan, importError(errors.KindInvalidData, imp.Module, imp.Name, "cannot stub import", err)
		}
		Logger().Debug("stubbing unlinked import", append(scriptFields(s),
			zap.String("module", imp.Module),
			zap.String("name", imp.Name),
			zap.Stringer("kind", imp.Kind))...)
		plan.modules[i] = stubName
	}
	return plan, nil
}

// prelinked reports whether the Store already provides imp, e.g. WASI.
// Per-script module names are never treated as pre-linked.
func (s *Script) prelinked(imp wasm.Import) bool {
	if strings.Contains(imp.Module, "#") {
		return false
	}
	m := s.context.store.Module(imp.Module)
	if m == nil {
		return false
	}
	// Host modules such as WASI panic on ExportedFunction; the definition
	// maps work for both host and guest modules.
	switch imp.Kind {
	case wasm.ExternFunc:
		_, ok := m.ExportedFunctionDefinitions()[imp.Name]
		return ok
	case wasm.ExternMemory:
		_, ok := m.ExportedMemoryDefinitions()[imp.Name]
		return ok
	case wasm.ExternGlobal:
		return m.ExportedGlobal(imp.Name) != nil
	}
	return false
}

// resolveAPIImport binds an API namespace function import: a matching native
// first, then a matching shared function, else a placeholder.
func (s *Script) resolveAPIImport(name string, declared Signature) (*FunctionBinding, *errors.Error) {
	native, hasNative := s.apiFunctions[name]
	if hasNative {
		if native.sig.Compatible(declared) {
			return native, nil
		}
		Logger().Warn("wrong function structure on import against native definition", append(scriptFields(s),
			zap.String("function", name),
			zap.String("defined", native.sig.String()),
			zap.String("declared", declared.String()))...)
	}

	if shared := s.context.globals[name]; shared != nil {
		if !shared.sig.Compatible(declared) {
			return nil, errors.SignatureMismatch(name, shared.sig.String(), declared.String())
		}
		fn := newForwardBinding(shared, Environment{Script: s, Name: name})
		s.globalFunctions[name] = fn
		return fn, nil
	}

	if hasNative {
		return nil, errors.SignatureMismatch(name, native.sig.String(), declared.String())
	}

	Logger().Debug("import not resolved, binding placeholder", append(scriptFields(s), zap.String("function", name))...)
	fn := newPlaceholderBinding(name, declared, Environment{Script: s, Name: name})
	s.globalFunctions[name] = fn
	return fn, nil
}

func (s *Script) instantiateImports(ctx context.Context, plan importPlan, scope *loadScope) *errors.Error {
	store := s.context.store
	if len(plan.hostOrder) > 0 {
		hostName := fmt.Sprintf("%s#%d", s.context.opts.apiNamespace(), s.id)
		builder := store.NewHostModuleBuilder(hostName)
		for _, name := range plan.hostOrder {
			fn := plan.host[name]
			builder = builder.NewFunctionBuilder().
				WithGoModuleFunction(fn.hostFunc(), fn.sig.ParamTypes(), fn.sig.ResultTypes()).
				WithName(name).
				Export(name)
		}
		m, err := builder.Instantiate(ctx)
		if err != nil {
			return errors.Wrap(errors.PhaseInstantiate, errors.KindInvalidData, err, "instantiate host functions")
		}
		scope.modules = append(scope.modules, m)
	}

	for _, name := range plan.stubOrder {
		compiled, err := store.Compile(ctx, plan.stubs[name].Build())
		if err != nil {
			return errors.Wrap(errors.PhaseInstantiate, errors.KindInvalidData, err, "compile stub module "+name)
		}
		m, err := store.Instantiate(ctx, compiled, wazero.NewModuleConfig().WithName(name).WithStartFunctions())
		_ = compiled.Close(ctx)
		if err != nil {
			return errors.Wrap(errors.PhaseInstantiate, errors.KindInvalidData, err, "instantiate stub module "+name)
		}
		scope.modules = append(scope.modules, m)
	}
	return nil
}

// internalSlots maps internal table slots to function indices from the
// active element segments targeting the exported internal table.
func internalSlots(mod *wasm.Module) map[uint32]uint32 {
	table, ok := mod.Export(InternalTableName)
	if !ok || table.Kind != wasm.ExternTable {
		return nil
	}
	total := uint32(mod.ImportedFuncs + len(mod.Functions))
	slots := make(map[uint32]uint32)
	for _, seg := range mod.Elements {
		if seg.Table != table.Index {
			continue
		}
		for j, f := range seg.Funcs {
			slot := seg.Offset + uint32(j)
			if f < 0 || uint32(f) >= total {
				delete(slots, slot)
				continue
			}
			slots[slot] = uint32(f)
		}
	}
	return slots
}

func sortedSlots(slots map[uint32]uint32) []uint32 {
	out := make([]uint32, 0, len(slots))
	for slot := range slots {
		out = append(out, slot)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// checkExports compares the function and memory exports declared in the
// binary with those of the live instance.
func checkExports(mod *wasm.Module, instance api.Module) *errors.Error {
	declared := make(map[string]bool)
	for _, e := range mod.Exports {
		if e.Kind == wasm.ExternFunc || e.Kind == wasm.ExternMemory {
			declared[e.Name] = true
		}
	}

	live := make(map[string]bool)
	for name := range instance.ExportedFunctionDefinitions() {
		if !strings.HasPrefix(name, slotExportPrefix) {
			live[name] = true
		}
	}
	for name := range instance.ExportedMemoryDefinitions() {
		live[name] = true
	}

	if len(declared) != len(live) {
		return errors.New(errors.PhaseExport, errors.KindExportMismatch).
			Detail("module declares %d function and memory exports, instance has %d", len(declared), len(live)).
			Build()
	}
	for name := range declared {
		if !live[name] {
			return errors.New(errors.PhaseExport, errors.KindExportMismatch).
				Name(name).
				Detail("declared export %q missing from instance", name).
				Build()
		}
	}
	return nil
}

func (s *Script) classifyExports(mod *wasm.Module, instance api.Module, slots map[uint32]uint32) {
	for _, e := range mod.Exports {
		ext := Extern{Name: e.Name}
		switch e.Kind {
		case wasm.ExternFunc:
			fn := instance.ExportedFunction(e.Name)
			if fn == nil {
				continue
			}
			sig, err := SignatureOf(fn.Definition().ParamTypes(), fn.Definition().ResultTypes())
			if err != nil {
				Logger().Debug("export not callable through bindings", append(scriptFields(s),
					zap.String("export", e.Name), zap.Error(err))...)
				continue
			}
			binding := newGuestBinding(e.Name, sig, fn, Environment{Script: s, Name: e.Name})
			s.exportedFunctions[e.Name] = binding
			ext.Kind = ExternFunction
			ext.Function = binding
		case wasm.ExternMemory:
			mem := instance.ExportedMemory(e.Name)
			ext.Kind = ExternMemory
			ext.Memory = mem
			if s.memory == nil && mem != nil {
				s.memory = newMemoryView(s, mem, instance)
			}
		case wasm.ExternTable:
			ext.Kind = ExternTable
			ext.TableIndex = e.Index
		case wasm.ExternGlobal:
			ext.Kind = ExternGlobal
			ext.Global = instance.ExportedGlobal(e.Name)
		default:
			continue
		}
		s.exports[e.Name] = ext
		s.order = append(s.order, e.Name)
	}

	if len(slots) == 0 {
		return
	}
	ordered := sortedSlots(slots)
	s.internalFunctions = make([]*FunctionBinding, ordered[len(ordered)-1]+1)
	for _, slot := range ordered {
		fn := instance.ExportedFunction(slotExportName(slot))
		if fn == nil {
			continue
		}
		sig, err := SignatureOf(fn.Definition().ParamTypes(), fn.Definition().ResultTypes())
		if err != nil {
			continue
		}
		name := fmt.Sprintf("%s[%d]", InternalTableName, slot)
		s.internalFunctions[slot] = newGuestBinding(name, sig, fn, Environment{Script: s, Name: name})
	}
}

func (s *Script) placeholderCount() int {
	n := 0
	for _, f := range s.globalFunctions {
		if f.IsPlaceholder() {
			n++
		}
	}
	return n
}
