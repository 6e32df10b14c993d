package linker

import (
	"context"

	wasmscripting "github.com/wippyai/wasm-scripting"
	"github.com/wippyai/wasm-scripting/errors"
)

// ArgumentStream is the sequential reader over a call's arguments and the
// writer for its results. Reads past the supplied arguments return the
// caller's default; a supplied value of a different wire kind records an
// error and also yields the default.
type ArgumentStream struct {
	ctx     context.Context
	env     Environment
	sig     Signature
	args    []Value
	pos     int
	results []Value
	failed  bool
	message string
	err     error
}

func newArgumentStream(ctx context.Context, env Environment, sig Signature, args []Value) *ArgumentStream {
	return &ArgumentStream{ctx: ctx, env: env, sig: sig, args: args}
}

func (a *ArgumentStream) Context() context.Context { return a.ctx }
func (a *ArgumentStream) Environment() Environment { return a.env }
func (a *ArgumentStream) Signature() Signature     { return a.sig }

// Script returns the Script the called binding belongs to.
func (a *ArgumentStream) Script() *Script { return a.env.Script }

// Len returns the number of supplied arguments.
func (a *ArgumentStream) Len() int { return len(a.args) }

// Remaining returns the number of supplied arguments not yet read.
func (a *ArgumentStream) Remaining() int {
	if a.pos >= len(a.args) {
		return 0
	}
	return len(a.args) - a.pos
}

func (a *ArgumentStream) next(want Kind) (Value, bool) {
	i := a.pos
	a.pos++
	if i >= len(a.sig.Params) {
		a.fail(errors.New(errors.PhaseCall, errors.KindInvalidInput).
			Name(a.env.Name).
			Detail("read of %s past the %d declared parameters", want, len(a.sig.Params)).
			Build())
		return Value{}, false
	}
	if !want.SameWire(a.sig.Params[i]) {
		a.fail(errors.TypeMismatch(errors.PhaseCall, i, a.sig.Params[i].String(), want.String()))
		return Value{}, false
	}
	if i >= len(a.args) {
		return Value{}, false
	}
	v := a.args[i]
	if !v.Kind.SameWire(want) {
		a.fail(errors.TypeMismatch(errors.PhaseCall, i, want.String(), v.Kind.String()))
		return Value{}, false
	}
	return v, true
}

func (a *ArgumentStream) fail(err *errors.Error) {
	if a.err == nil {
		if err.Name == "" {
			err.Name = a.env.Name
		}
		a.err = err
	}
}

func (a *ArgumentStream) ReadInt32(def int32) int32 {
	if v, ok := a.next(KindInt32); ok {
		return v.Int32()
	}
	return def
}

func (a *ArgumentStream) ReadUint32(def uint32) uint32 {
	if v, ok := a.next(KindInt32); ok {
		return v.Uint32()
	}
	return def
}

func (a *ArgumentStream) ReadInt64(def int64) int64 {
	if v, ok := a.next(KindInt64); ok {
		return v.Int64()
	}
	return def
}

func (a *ArgumentStream) ReadFloat32(def float32) float32 {
	if v, ok := a.next(KindFloat32); ok {
		return v.Float32()
	}
	return def
}

func (a *ArgumentStream) ReadFloat64(def float64) float64 {
	if v, ok := a.next(KindFloat64); ok {
		return v.Float64()
	}
	return def
}

func (a *ArgumentStream) ReadBool(def bool) bool {
	if v, ok := a.next(KindBool); ok {
		return v.Bool()
	}
	return def
}

func (a *ArgumentStream) ReadSize(def uint32) uint32 {
	if v, ok := a.next(KindSize); ok {
		return v.Uint32()
	}
	return def
}

func (a *ArgumentStream) ReadElement(def uint32) uint32 {
	if v, ok := a.next(KindElement); ok {
		return v.Uint32()
	}
	return def
}

func (a *ArgumentStream) ReadUserData(def uint32) uint32 {
	if v, ok := a.next(KindUserData); ok {
		return v.Uint32()
	}
	return def
}

func (a *ArgumentStream) ReadPointer(def wasmscripting.GuestAddress) wasmscripting.GuestAddress {
	if v, ok := a.next(KindPointer); ok {
		return v.Pointer()
	}
	return def
}

// ReadString reads a NUL-terminated string from the calling Script's memory.
// A null pointer or a Script without memory yields def.
func (a *ArgumentStream) ReadString(def string) string {
	v, ok := a.next(KindString)
	if !ok || v.Pointer().IsNull() {
		return def
	}
	mem := a.memory()
	if mem == nil {
		return def
	}
	return mem.GuestToString(v.Pointer(), -1)
}

func (a *ArgumentStream) memory() *MemoryView {
	if a.env.Script == nil {
		return nil
	}
	return a.env.Script.Memory()
}

// Return sets the results of the call.
func (a *ArgumentStream) Return(vals ...Value) {
	a.results = append(a.results[:0], vals...)
}

func (a *ArgumentStream) ReturnInt32(v int32)     { a.Return(Int32(v)) }
func (a *ArgumentStream) ReturnUint32(v uint32)   { a.Return(Uint32(v)) }
func (a *ArgumentStream) ReturnInt64(v int64)     { a.Return(Int64(v)) }
func (a *ArgumentStream) ReturnFloat32(v float32) { a.Return(Float32(v)) }
func (a *ArgumentStream) ReturnFloat64(v float64) { a.Return(Float64(v)) }
func (a *ArgumentStream) ReturnBool(v bool)       { a.Return(Bool(v)) }
func (a *ArgumentStream) ReturnSize(v uint32)     { a.Return(Size(v)) }

func (a *ArgumentStream) ReturnPointer(addr wasmscripting.GuestAddress) {
	a.Return(Pointer(addr))
}

// ReturnNull marks the call as failed with msg. The caller receives zero
// results.
func (a *ArgumentStream) ReturnNull(msg string) {
	a.failed = true
	a.message = msg
	a.results = a.results[:0]
}

// WritePointer copies data into the calling Script's memory at addr.
func (a *ArgumentStream) WritePointer(addr wasmscripting.GuestAddress, data []byte) bool {
	mem := a.memory()
	if mem == nil || addr.IsNull() {
		return false
	}
	return mem.Write(addr, data) == nil
}

// Failed reports whether ReturnNull was called and its message.
func (a *ArgumentStream) Failed() (bool, string) { return a.failed, a.message }

// Results returns the values set by Return.
func (a *ArgumentStream) Results() []Value { return a.results }

// Err returns the first read error.
func (a *ArgumentStream) Err() error {
	if a.err == nil {
		return nil
	}
	return a.err
}
