package linker

import (
	"fmt"
	"math"

	"github.com/tetratelabs/wazero/api"

	wasmscripting "github.com/wippyai/wasm-scripting"
)

// Value is one argument or result crossing the call boundary. Bits holds the
// wire encoding used by the engine.
type Value struct {
	Kind Kind
	Bits uint64
}

// ValueOf wraps a raw wire value with a kind.
func ValueOf(kind Kind, bits uint64) Value {
	return Value{Kind: kind, Bits: bits}
}

func Int32(v int32) Value     { return Value{Kind: KindInt32, Bits: api.EncodeI32(v)} }
func Uint32(v uint32) Value   { return Value{Kind: KindInt32, Bits: api.EncodeU32(v)} }
func Int64(v int64) Value     { return Value{Kind: KindInt64, Bits: api.EncodeI64(v)} }
func Float32(v float32) Value { return Value{Kind: KindFloat32, Bits: api.EncodeF32(v)} }
func Float64(v float64) Value { return Value{Kind: KindFloat64, Bits: api.EncodeF64(v)} }
func Size(v uint32) Value     { return Value{Kind: KindSize, Bits: api.EncodeU32(v)} }
func Element(h uint32) Value  { return Value{Kind: KindElement, Bits: api.EncodeU32(h)} }
func UserData(h uint32) Value { return Value{Kind: KindUserData, Bits: api.EncodeU32(h)} }

func Bool(v bool) Value {
	if v {
		return Value{Kind: KindBool, Bits: 1}
	}
	return Value{Kind: KindBool}
}

func Pointer(addr wasmscripting.GuestAddress) Value {
	return Value{Kind: KindPointer, Bits: api.EncodeU32(uint32(addr))}
}

// Zero returns the zero value of kind.
func Zero(kind Kind) Value {
	return Value{Kind: kind}
}

func (v Value) Int32() int32     { return api.DecodeI32(v.Bits) }
func (v Value) Uint32() uint32   { return api.DecodeU32(v.Bits) }
func (v Value) Int64() int64     { return int64(v.Bits) }
func (v Value) Float32() float32 { return api.DecodeF32(v.Bits) }
func (v Value) Float64() float64 { return api.DecodeF64(v.Bits) }
func (v Value) Bool() bool       { return uint32(v.Bits) != 0 }

func (v Value) Pointer() wasmscripting.GuestAddress {
	return wasmscripting.GuestAddress(uint32(v.Bits))
}

func (v Value) String() string {
	switch v.Kind {
	case KindInt64:
		return fmt.Sprintf("%d", v.Int64())
	case KindFloat32:
		return fmt.Sprintf("%g", v.Float32())
	case KindFloat64:
		return fmt.Sprintf("%g", v.Float64())
	case KindBool:
		return fmt.Sprintf("%t", v.Bool())
	case KindPointer, KindString:
		return fmt.Sprintf("0x%x", v.Uint32())
	case KindSize, KindElement, KindUserData:
		return fmt.Sprintf("%d", v.Uint32())
	default:
		return fmt.Sprintf("%d", v.Int32())
	}
}

// ParseValue parses text as a value of kind. Used by interactive callers.
func ParseValue(kind Kind, text string) (Value, error) {
	var (
		v   Value
		err error
	)
	switch kind {
	case KindInt64:
		var n int64
		_, err = fmt.Sscan(text, &n)
		v = Int64(n)
	case KindFloat32:
		var f float64
		_, err = fmt.Sscan(text, &f)
		if err == nil && math.Abs(f) > math.MaxFloat32 && !math.IsInf(f, 0) {
			err = fmt.Errorf("%s overflows float32", text)
		}
		v = Float32(float32(f))
	case KindFloat64:
		var f float64
		_, err = fmt.Sscan(text, &f)
		v = Float64(f)
	case KindBool:
		var b bool
		_, err = fmt.Sscan(text, &b)
		v = Bool(b)
	case KindInt32:
		var n int32
		_, err = fmt.Sscan(text, &n)
		v = Int32(n)
	default:
		var n uint32
		_, err = fmt.Sscan(text, &n)
		v = ValueOf(kind, api.EncodeU32(n))
	}
	if err != nil {
		return Value{}, fmt.Errorf("parse %s %q: %w", kind, text, err)
	}
	return v, nil
}
