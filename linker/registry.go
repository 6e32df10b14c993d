package linker

import (
	"fmt"
	"sort"

	"github.com/wippyai/wasm-scripting/errors"
)

// NativeFunction is one entry of the native catalogue.
type NativeFunction struct {
	Name      string
	Signature Signature
	Impl      NativeFunc
}

// Registry holds the native catalogue exposed to every Script under the API
// namespace. Each Script binds its own copies at load time, so changes only
// affect later loads.
type Registry struct {
	funcs map[string]NativeFunction
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{funcs: make(map[string]NativeFunction)}
}

// Register adds a native with a signature string such as "beiii".
func (r *Registry) Register(name, signature string, impl NativeFunc) error {
	sig, err := ParseSignature(signature)
	if err != nil {
		return errors.Registration(name, err)
	}
	return r.RegisterSignature(name, sig, impl)
}

// MustRegister is Register that panics on error.
func (r *Registry) MustRegister(name, signature string, impl NativeFunc) {
	if err := r.Register(name, signature, impl); err != nil {
		panic(err)
	}
}

// RegisterSignature adds a native with an already parsed signature.
func (r *Registry) RegisterSignature(name string, sig Signature, impl NativeFunc) error {
	switch {
	case name == "":
		return errors.Registration(name, fmt.Errorf("empty name"))
	case impl == nil:
		return errors.Registration(name, fmt.Errorf("nil implementation"))
	}
	if _, exists := r.funcs[name]; exists {
		return errors.Registration(name, fmt.Errorf("already registered"))
	}
	r.funcs[name] = NativeFunction{Name: name, Signature: sig, Impl: impl}
	return nil
}

// Unregister removes a native. Scripts already loaded keep their copies.
func (r *Registry) Unregister(name string) bool {
	if _, ok := r.funcs[name]; !ok {
		return false
	}
	delete(r.funcs, name)
	return true
}

// Lookup returns the native registered under name.
func (r *Registry) Lookup(name string) (NativeFunction, bool) {
	f, ok := r.funcs[name]
	return f, ok
}

// Names returns the registered names, sorted.
func (r *Registry) Names() []string {
	names := make([]string, 0, len(r.funcs))
	for name := range r.funcs {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (r *Registry) Len() int {
	return len(r.funcs)
}
