package linker

import (
	"context"
	"fmt"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	"github.com/wippyai/wasm-scripting/errors"
)

// Environment identifies who a binding belongs to: the Script holding it and
// the name it was bound under.
type Environment struct {
	Script *Script
	Name   string
}

// NativeFunc implements a host function. Arguments are read from args and
// results written back to it; failure is reported with args.ReturnNull.
type NativeFunc func(ctx context.Context, env Environment, args *ArgumentStream)

type target int

const (
	targetNative target = iota
	targetGuest
	targetForward
	targetPlaceholder
)

// FunctionBinding is a typed, callable reference to a native, a guest export,
// a forwarder to another Script's export, or an unresolved placeholder.
type FunctionBinding struct {
	name     string
	sig      Signature
	env      Environment
	target   target
	native   NativeFunc
	guest    api.Function
	forward  *FunctionBinding
	released bool
}

func newNativeBinding(name string, sig Signature, impl NativeFunc, env Environment) *FunctionBinding {
	return &FunctionBinding{name: name, sig: sig, env: env, target: targetNative, native: impl}
}

func newGuestBinding(name string, sig Signature, fn api.Function, env Environment) *FunctionBinding {
	return &FunctionBinding{name: name, sig: sig, env: env, target: targetGuest, guest: fn}
}

func newForwardBinding(to *FunctionBinding, env Environment) *FunctionBinding {
	return &FunctionBinding{name: to.name, sig: to.sig, env: env, target: targetForward, forward: to}
}

func newPlaceholderBinding(name string, sig Signature, env Environment) *FunctionBinding {
	return &FunctionBinding{name: name, sig: sig, env: env, target: targetPlaceholder}
}

func (f *FunctionBinding) Name() string             { return f.name }
func (f *FunctionBinding) Signature() Signature     { return f.sig }
func (f *FunctionBinding) Environment() Environment { return f.env }

// Owner returns the Script holding this binding.
func (f *FunctionBinding) Owner() *Script { return f.env.Script }

func (f *FunctionBinding) IsNative() bool      { return f.target == targetNative }
func (f *FunctionBinding) IsGuest() bool       { return f.target == targetGuest }
func (f *FunctionBinding) IsForwarder() bool   { return f.target == targetForward }
func (f *FunctionBinding) IsPlaceholder() bool { return f.target == targetPlaceholder }

// Released reports whether the owning Script unloaded this binding.
func (f *FunctionBinding) Released() bool { return f.released }

func (f *FunctionBinding) release() {
	f.released = true
	f.guest = nil
	f.native = nil
}

// Call invokes the binding. Missing trailing arguments take defaults: natives
// see them as omitted, guest functions receive zero. Supplied arguments must
// match the declared wire kinds.
func (f *FunctionBinding) Call(ctx context.Context, args ...Value) ([]Value, error) {
	if f.released {
		return nil, errors.Released(f.name)
	}
	if len(args) > len(f.sig.Params) {
		return nil, errors.New(errors.PhaseCall, errors.KindInvalidInput).
			Name(f.name).
			Detail("%d arguments supplied, signature %s takes %d", len(args), f.sig, len(f.sig.Params)).
			Build()
	}
	for i, a := range args {
		if !a.Kind.SameWire(f.sig.Params[i]) {
			err := errors.TypeMismatch(errors.PhaseCall, i, f.sig.Params[i].String(), a.Kind.String())
			err.Name = f.name
			return nil, err
		}
	}

	switch f.target {
	case targetNative:
		return f.callNative(ctx, args)
	case targetGuest:
		return f.callGuest(ctx, args)
	case targetForward:
		results, err := f.forward.Call(ctx, args...)
		if err != nil {
			return f.zeroResults(), err
		}
		return results, nil
	default:
		return f.zeroResults(), errors.New(errors.PhaseCall, errors.KindNotFound).
			Name(f.name).
			Detail("function %q was not resolved at load time", f.name).
			Build()
	}
}

func (f *FunctionBinding) callNative(ctx context.Context, args []Value) ([]Value, error) {
	stream := newArgumentStream(ctx, f.env, f.sig, args)
	f.native(ctx, f.env, stream)
	if err := stream.Err(); err != nil {
		return f.zeroResults(), err
	}
	if failed, msg := stream.Failed(); failed {
		return f.zeroResults(), errors.NativeFailure(f.name, msg)
	}
	results := stream.Results()
	if len(results) > len(f.sig.Results) {
		return f.zeroResults(), errors.New(errors.PhaseCall, errors.KindTypeMismatch).
			Name(f.name).
			Detail("%d results returned, signature %s declares %d", len(results), f.sig, len(f.sig.Results)).
			Build()
	}
	out := f.zeroResults()
	for i, r := range results {
		if !r.Kind.SameWire(f.sig.Results[i]) {
			return f.zeroResults(), errors.New(errors.PhaseCall, errors.KindTypeMismatch).
				Name(f.name).
				Detail("result %d: expected %s, got %s", i, f.sig.Results[i], r.Kind).
				Build()
		}
		out[i] = ValueOf(f.sig.Results[i], r.Bits)
	}
	return out, nil
}

func (f *FunctionBinding) callGuest(ctx context.Context, args []Value) ([]Value, error) {
	raw := make([]uint64, len(f.sig.Params))
	for i, a := range args {
		raw[i] = a.Bits
	}
	res, err := f.guest.Call(ctx, raw...)
	if err != nil {
		return nil, errors.Trap(errors.PhaseCall, f.name, err)
	}
	out := make([]Value, len(f.sig.Results))
	for i, k := range f.sig.Results {
		if i < len(res) {
			out[i] = ValueOf(k, res[i])
		} else {
			out[i] = Zero(k)
		}
	}
	return out, nil
}

func (f *FunctionBinding) zeroResults() []Value {
	out := make([]Value, len(f.sig.Results))
	for i, k := range f.sig.Results {
		out[i] = Zero(k)
	}
	return out
}

// hostFunc adapts the binding to an engine host function. Failures never
// trap the calling guest: they are logged and the guest sees zero results.
func (f *FunctionBinding) hostFunc() api.GoModuleFunc {
	return func(ctx context.Context, _ api.Module, stack []uint64) {
		args := make([]Value, len(f.sig.Params))
		for i, k := range f.sig.Params {
			args[i] = ValueOf(k, stack[i])
		}
		results, err := f.Call(ctx, args...)
		if err != nil {
			Logger().Warn("could not call function",
				append(scriptFields(f.env.Script), zap.String("function", f.name), zap.Error(err))...)
			if f.target == targetPlaceholder && f.env.Script != nil {
				f.env.Script.unresolvedCall(f.name)
			}
		}
		for i := range f.sig.Results {
			if i < len(results) {
				stack[i] = results[i].Bits
			} else {
				stack[i] = 0
			}
		}
	}
}

func (f *FunctionBinding) String() string {
	return fmt.Sprintf("%s%s", f.name, f.sig.Describe())
}
