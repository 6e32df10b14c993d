package linker

import (
	"context"
	"io"
	"os"
	"sort"
	"strconv"

	"go.uber.org/zap"

	wasmscripting "github.com/wippyai/wasm-scripting"
	"github.com/wippyai/wasm-scripting/engine"
)

// Observer receives load and call events of a Context.
type Observer interface {
	ScriptLoaded(s *Script, state LoadState)
	UnresolvedCall(s *Script, name string)
}

// Options configures a Context.
type Options struct {
	// APINamespace is the import module name natives are resolved under.
	// Defaults to "env".
	APINamespace string
	Stdout       io.Writer
	Stderr       io.Writer
	Observer     Observer
}

func (o Options) apiNamespace() string {
	if o.APINamespace == "" {
		return DefaultAPINamespace
	}
	return o.APINamespace
}

func (o Options) stdout() io.Writer {
	if o.Stdout == nil {
		return os.Stdout
	}
	return o.Stdout
}

func (o Options) stderr() io.Writer {
	if o.Stderr == nil {
		return os.Stderr
	}
	return o.Stderr
}

// Context is the script set of one resource. Scripts in the same Context
// share exported functions through the global function map, which holds
// non-owning references into the exporting Scripts.
type Context struct {
	resource string
	store    *engine.Store
	registry *Registry
	opts     Options

	loaded  []*Script
	scripts []*Script
	globals map[string]*FunctionBinding
}

// NewContext creates a Context with its own Store. When eng is nil or not
// built the Store stays unbuilt and every load fails.
func NewContext(ctx context.Context, resource string, eng *engine.Engine, registry *Registry, opts Options) (*Context, error) {
	store := engine.NewStore()
	if eng != nil {
		if err := store.Build(ctx, eng); err != nil {
			return nil, err
		}
	}
	if !store.Built() {
		Logger().Warn("no execution engine, scripts cannot be loaded", zap.String("resource", resource))
	}
	return &Context{
		resource: resource,
		store:    store,
		registry: registry,
		opts:     opts,
		globals:  make(map[string]*FunctionBinding),
	}, nil
}

func (c *Context) Resource() string     { return c.resource }
func (c *Context) Store() *engine.Store { return c.store }
func (c *Context) Registry() *Registry  { return c.registry }

// Degraded reports whether the Context has no usable Store.
func (c *Context) Degraded() bool { return !c.store.Built() }

// CreateScript returns a new unloaded Script owned by the Context.
func (c *Context) CreateScript() *Script {
	s := newScript(c)
	c.scripts = append(c.scripts, s)
	return s
}

// LoadScriptBinary loads b into script. With executeEntryPoint the Script
// joins the loaded list and its entry point runs with argv
// [resource, fileName, ordinal], the ordinal being its 1-based position in
// the loaded list.
func (c *Context) LoadScriptBinary(ctx context.Context, script *Script, b []byte, fileName string, executeEntryPoint bool) LoadState {
	if script == nil || script.context != c {
		Logger().Error("script does not belong to context", zap.String("resource", c.resource), zap.String("file", fileName))
		return LoadFailed
	}
	state := script.LoadBinary(ctx, b, fileName)
	if state != LoadSucceed {
		// a failed reload leaves no entry behind
		c.loaded = remove(c.loaded, script)
		return state
	}
	if !executeEntryPoint {
		return state
	}

	ordinal := c.loadedIndex(script) + 1
	if ordinal == 0 {
		c.loaded = append(c.loaded, script)
		ordinal = len(c.loaded)
	}
	_, _ = script.CallMain(ctx, []string{c.resource, fileName, strconv.Itoa(ordinal)})
	return state
}

func (c *Context) loadedIndex(s *Script) int {
	for i, l := range c.loaded {
		if l == s {
			return i
		}
	}
	return -1
}

// Scripts returns the Scripts loaded with their entry point, in load order.
func (c *Context) Scripts() []*Script {
	return append([]*Script(nil), c.loaded...)
}

// AllScripts returns every Script created in the Context.
func (c *Context) AllScripts() []*Script {
	return append([]*Script(nil), c.scripts...)
}

// GlobalFunction returns the shared function published under name.
func (c *Context) GlobalFunction(name string) *FunctionBinding {
	return c.globals[name]
}

// GlobalFunctionNames returns the names of all shared functions, sorted.
func (c *Context) GlobalFunctionNames() []string {
	names := make([]string, 0, len(c.globals))
	for name := range c.globals {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// publish adds a ready Script's exported functions to the shared map.
// Entry point and allocator exports stay private. A later publisher
// replaces an earlier one.
func (c *Context) publish(s *Script) {
	for _, name := range s.order {
		fn := s.exportedFunctions[name]
		if fn == nil || isPrivateExport(name) {
			continue
		}
		if prev := c.globals[name]; prev != nil && prev.Owner() != s {
			Logger().Warn("shared function overridden", append(scriptFields(s),
				zap.String("function", name),
				zap.String("previous", prev.Owner().ResourcePath()))...)
		}
		c.globals[name] = fn
	}
}

func isPrivateExport(name string) bool {
	return name == MainName || name == MallocName || name == FreeName
}

// purgeGlobals removes every shared entry owned by s.
func (c *Context) purgeGlobals(s *Script) {
	for name, fn := range c.globals {
		if fn.Owner() == s {
			delete(c.globals, name)
		}
	}
}

// FindOwningScript returns the Script whose memory contains ptr.
func (c *Context) FindOwningScript(ptr wasmscripting.HostPointer) *Script {
	if ptr == 0 {
		return nil
	}
	for _, s := range c.scripts {
		if s.memory != nil && s.memory.BelongsTo(ptr) {
			return s
		}
	}
	return nil
}

// ContainsPointer reports whether ptr lies in the memory of any Script.
func (c *Context) ContainsPointer(ptr wasmscripting.HostPointer) bool {
	return c.FindOwningScript(ptr) != nil
}

// UnloadScript unloads s and forgets it.
func (c *Context) UnloadScript(ctx context.Context, s *Script) {
	if s == nil || s.context != c {
		return
	}
	s.Unload(ctx)
	c.loaded = remove(c.loaded, s)
	c.scripts = remove(c.scripts, s)
}

// UnloadAll unloads every Script and clears the shared map.
func (c *Context) UnloadAll(ctx context.Context) {
	for _, s := range c.scripts {
		s.Unload(ctx)
	}
	c.loaded = nil
	c.scripts = nil
	c.globals = make(map[string]*FunctionBinding)
}

// Destroy unloads every Script and destroys the Store.
func (c *Context) Destroy(ctx context.Context) error {
	c.UnloadAll(ctx)
	return c.store.Destroy(ctx)
}

func remove(list []*Script, s *Script) []*Script {
	out := list[:0]
	for _, l := range list {
		if l != s {
			out = append(out, l)
		}
	}
	return out
}
