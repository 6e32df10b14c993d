package linker

import (
	"context"
	stderrors "errors"
	"fmt"
	"sort"
	"sync/atomic"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"
	"github.com/tetratelabs/wazero/sys"
	"go.uber.org/zap"

	wasmscripting "github.com/wippyai/wasm-scripting"
	"github.com/wippyai/wasm-scripting/errors"
)

// Reserved names.
const (
	MainName            = "main"
	InternalTableName   = "__indirect_function_table"
	DefaultAPINamespace = "env"
)

// LoadState is the outcome of a load.
type LoadState int

const (
	LoadFailed LoadState = iota
	LoadSucceed
)

func (s LoadState) String() string {
	if s == LoadSucceed {
		return "succeed"
	}
	return "failed"
}

// State is a Script's position in the load state machine.
type State int

const (
	StateUnloaded State = iota
	StateValidating
	StateResolvingImports
	StateInstantiating
	StateExporting
	StateReady
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateUnloaded:
		return "unloaded"
	case StateValidating:
		return "validating"
	case StateResolvingImports:
		return "resolving_imports"
	case StateInstantiating:
		return "instantiating"
	case StateExporting:
		return "exporting"
	case StateReady:
		return "ready"
	case StateFailed:
		return "failed"
	}
	return fmt.Sprintf("state(%d)", int(s))
}

var scriptIDs atomic.Uint64

// Script is one loaded module inside a Context.
type Script struct {
	id       uint64
	context  *Context
	fileName string
	state    State
	err      error

	compiled    wazero.CompiledModule
	instance    api.Module
	hostModules []api.Module

	memory  *MemoryView
	exports map[string]Extern
	order   []string

	apiFunctions      map[string]*FunctionBinding
	globalFunctions   map[string]*FunctionBinding
	exportedFunctions map[string]*FunctionBinding
	internalFunctions []*FunctionBinding
}

func newScript(c *Context) *Script {
	s := &Script{id: scriptIDs.Add(1), context: c}
	s.resetTables()
	return s
}

func (s *Script) resetTables() {
	s.exports = make(map[string]Extern)
	s.order = nil
	s.apiFunctions = make(map[string]*FunctionBinding)
	s.globalFunctions = make(map[string]*FunctionBinding)
	s.exportedFunctions = make(map[string]*FunctionBinding)
	s.internalFunctions = nil
}

func (s *Script) ID() uint64          { return s.id }
func (s *Script) Context() *Context   { return s.context }
func (s *Script) FileName() string    { return s.fileName }
func (s *Script) State() State        { return s.state }
func (s *Script) Ready() bool         { return s.state == StateReady }
func (s *Script) Memory() *MemoryView { return s.memory }

// Err returns the error of the last failed load.
func (s *Script) Err() error { return s.err }

// Module returns the live guest instance, nil unless Ready.
func (s *Script) Module() api.Module { return s.instance }

func (s *Script) resource() string {
	if s.context == nil {
		return ""
	}
	return s.context.resource
}

// ResourcePath returns "<resource>/<file>" for diagnostics.
func (s *Script) ResourcePath() string {
	return s.resource() + "/" + s.fileName
}

// Export returns the export named name.
func (s *Script) Export(name string) (Extern, bool) {
	e, ok := s.exports[name]
	return e, ok
}

// Exports returns the exports in declaration order.
func (s *Script) Exports() []Extern {
	out := make([]Extern, 0, len(s.order))
	for _, name := range s.order {
		out = append(out, s.exports[name])
	}
	return out
}

// ExportedFunction returns the binding of an exported function.
func (s *Script) ExportedFunction(name string) *FunctionBinding {
	return s.exportedFunctions[name]
}

// APIFunction returns this Script's copy of a native.
func (s *Script) APIFunction(name string) *FunctionBinding {
	return s.apiFunctions[name]
}

// GlobalFunction returns this Script's forwarding copy of a shared function,
// or the placeholder bound for an unresolved import.
func (s *Script) GlobalFunction(name string) *FunctionBinding {
	return s.globalFunctions[name]
}

// GlobalFunctionNames returns the names bound in the Script's global table.
func (s *Script) GlobalFunctionNames() []string {
	names := make([]string, 0, len(s.globalFunctions))
	for name := range s.globalFunctions {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// InternalFunctions returns the internal function table by slot. Slots
// without a function are nil.
func (s *Script) InternalFunctions() []*FunctionBinding {
	return s.internalFunctions
}

// InternalFunction returns the function at a table slot.
func (s *Script) InternalFunction(index uint32) *FunctionBinding {
	if int(index) >= len(s.internalFunctions) {
		return nil
	}
	return s.internalFunctions[index]
}

// Call invokes an exported function by name.
func (s *Script) Call(ctx context.Context, name string, args ...Value) ([]Value, error) {
	fn := s.exportedFunctions[name]
	if fn == nil {
		return nil, errors.NotFound(errors.PhaseCall, "exported function", name).Attribute(s.resource(), s.fileName)
	}
	return fn.Call(ctx, args...)
}

// CallInternalFunction invokes the function stored at a slot of the internal
// function table.
func (s *Script) CallInternalFunction(ctx context.Context, index uint32, args ...Value) ([]Value, error) {
	fn := s.InternalFunction(index)
	if fn == nil {
		return nil, errors.New(errors.PhaseCall, errors.KindNotFound).
			Resource(s.resource(), s.fileName).
			Name(fmt.Sprintf("%s[%d]", InternalTableName, index)).
			Value(index).
			Detail("no function at slot %d", index).
			Build()
	}
	return fn.Call(ctx, args...)
}

// CallMain runs the entry point with argv marshaled into guest memory. An
// entry point taking no parameters is called without arguments. The guest
// strings and array are freed on every path. A non-zero exit code is logged,
// not returned as an error.
func (s *Script) CallMain(ctx context.Context, argv []string) (int32, error) {
	main := s.exportedFunctions[MainName]
	if main == nil {
		err := errors.NotFound(errors.PhaseCall, "entry point", MainName).Attribute(s.resource(), s.fileName)
		Logger().Error("could not call entry point", append(scriptFields(s), zap.Error(err))...)
		return 0, err
	}

	var args []Value
	switch sig := main.Signature(); {
	case len(sig.Params) == 0:
	case len(sig.Params) == 2 && sig.Params[0].SameWire(KindInt32) && sig.Params[1].SameWire(KindInt32):
		argc, argvAddr, cleanup, err := s.marshalArgv(ctx, argv)
		defer cleanup()
		if err != nil {
			Logger().Error("could not pass entry point arguments", append(scriptFields(s), zap.Error(err))...)
			return 0, err
		}
		args = []Value{Int32(argc), Pointer(argvAddr)}
	default:
		err := errors.New(errors.PhaseCall, errors.KindSignatureMismatch).
			Resource(s.resource(), s.fileName).
			Name(MainName).
			Detail("unsupported entry point signature %s", sig.Describe()).
			Build()
		Logger().Error("could not call entry point", append(scriptFields(s), zap.Error(err))...)
		return 0, err
	}

	results, err := main.Call(ctx, args...)
	if err != nil {
		var exit *sys.ExitError
		if stderrors.As(err, &exit) {
			code := int32(exit.ExitCode())
			if code != 0 {
				Logger().Warn("entry point exited abnormally", append(scriptFields(s), zap.Int32("code", code))...)
			}
			return code, nil
		}
		Logger().Error("entry point trapped", append(scriptFields(s), zap.Error(err))...)
		return 0, err
	}

	var code int32
	if len(results) > 0 {
		code = results[0].Int32()
	}
	if code != 0 {
		Logger().Warn("entry point exited abnormally", append(scriptFields(s), zap.Int32("code", code))...)
	}
	return code, nil
}

func (s *Script) marshalArgv(ctx context.Context, argv []string) (int32, wasmscripting.GuestAddress, func(), error) {
	mem := s.memory
	if mem == nil {
		return 0, 0, func() {}, errors.NotInitialized(errors.PhaseMemory, "script memory").Attribute(s.resource(), s.fileName)
	}

	var strs []wasmscripting.GuestAddress
	var array wasmscripting.GuestAddress
	cleanup := func() {
		for _, addr := range strs {
			mem.Free(ctx, addr)
		}
		mem.Free(ctx, array)
	}

	if len(argv) == 0 {
		return 0, wasmscripting.NullAddress, cleanup, nil
	}

	array = mem.Malloc(ctx, uint32(4*len(argv)))
	if array.IsNull() {
		return 0, 0, cleanup, errors.AllocationFailed(uint32(4*len(argv)), nil).Attribute(s.resource(), s.fileName)
	}
	for i, arg := range argv {
		addr := mem.StringToGuest(ctx, arg)
		if addr.IsNull() && arg != "" {
			return 0, 0, cleanup, errors.AllocationFailed(uint32(len(arg)+1), nil).Attribute(s.resource(), s.fileName)
		}
		strs = append(strs, addr)
		if err := mem.WriteUint32(array+wasmscripting.GuestAddress(4*i), uint32(addr)); err != nil {
			return 0, 0, cleanup, err
		}
	}
	return int32(len(argv)), array, cleanup, nil
}

// Unload withdraws the Script's shared functions from its Context, releases
// every binding and closes the instance and its host modules.
func (s *Script) Unload(ctx context.Context) {
	if s.context != nil {
		s.context.purgeGlobals(s)
	}
	s.releaseFunctions()
	s.memory = nil

	if s.instance != nil {
		if err := s.instance.Close(ctx); err != nil {
			Logger().Debug("close instance", append(scriptFields(s), zap.Error(err))...)
		}
		s.instance = nil
	}
	for i := len(s.hostModules) - 1; i >= 0; i-- {
		if err := s.hostModules[i].Close(ctx); err != nil {
			Logger().Debug("close host module", append(scriptFields(s), zap.Error(err))...)
		}
	}
	s.hostModules = nil
	if s.compiled != nil {
		_ = s.compiled.Close(ctx)
		s.compiled = nil
	}
	s.state = StateUnloaded
}

func (s *Script) releaseFunctions() {
	for _, table := range []map[string]*FunctionBinding{s.apiFunctions, s.globalFunctions, s.exportedFunctions} {
		for _, f := range table {
			f.release()
		}
	}
	for _, f := range s.internalFunctions {
		if f != nil {
			f.release()
		}
	}
	s.resetTables()
}

func (s *Script) unresolvedCall(name string) {
	if s.context != nil && s.context.opts.Observer != nil {
		s.context.opts.Observer.UnresolvedCall(s, name)
	}
}

func (s *Script) notifyLoaded(state LoadState) {
	if s.context != nil && s.context.opts.Observer != nil {
		s.context.opts.Observer.ScriptLoaded(s, state)
	}
}
