package linker

import (
	"context"
	"testing"

	wasmscripting "github.com/wippyai/wasm-scripting"
	werrors "github.com/wippyai/wasm-scripting/errors"
)

func TestArgumentStream_Defaults(t *testing.T) {
	sig := MustParseSignature("vilfdb*eu")
	a := newArgumentStream(context.Background(), Environment{Name: "f"}, sig, []Value{Int32(7)})

	if got := a.ReadInt32(-1); got != 7 {
		t.Errorf("ReadInt32 = %d, want 7", got)
	}
	if got := a.ReadInt64(-2); got != -2 {
		t.Errorf("ReadInt64 = %d, want default", got)
	}
	if got := a.ReadFloat32(1.5); got != 1.5 {
		t.Errorf("ReadFloat32 = %v, want default", got)
	}
	if got := a.ReadFloat64(2.5); got != 2.5 {
		t.Errorf("ReadFloat64 = %v, want default", got)
	}
	if got := a.ReadBool(true); !got {
		t.Error("ReadBool should return default")
	}
	if got := a.ReadPointer(wasmscripting.GuestAddress(9)); got != 9 {
		t.Errorf("ReadPointer = %d, want default", got)
	}
	if got := a.ReadElement(3); got != 3 {
		t.Errorf("ReadElement = %d, want default", got)
	}
	if got := a.ReadUserData(4); got != 4 {
		t.Errorf("ReadUserData = %d, want default", got)
	}
	if err := a.Err(); err != nil {
		t.Errorf("omitted arguments are not errors: %v", err)
	}
}

func TestArgumentStream_TypeMismatch(t *testing.T) {
	sig := MustParseSignature("vil")
	a := newArgumentStream(context.Background(), Environment{Name: "f"}, sig, []Value{Int32(1), Int32(2)})

	if got := a.ReadInt32(0); got != 1 {
		t.Errorf("ReadInt32 = %d", got)
	}
	// declared int64, supplied int32
	if got := a.ReadInt64(-1); got != -1 {
		t.Errorf("mismatched read = %d, want default", got)
	}
	if err := a.Err(); err == nil || !isKind(err, werrors.PhaseCall, werrors.KindTypeMismatch) {
		t.Errorf("Err() = %v", err)
	}
}

func TestArgumentStream_ReadKindAgainstDeclaration(t *testing.T) {
	a := newArgumentStream(context.Background(), Environment{}, MustParseSignature("vd"), []Value{Float64(1)})
	if got := a.ReadInt32(5); got != 5 {
		t.Errorf("ReadInt32 of a double parameter = %d, want default", got)
	}
	if a.Err() == nil {
		t.Error("reading the wrong kind should be recorded")
	}

	past := newArgumentStream(context.Background(), Environment{}, MustParseSignature("v"), nil)
	past.ReadInt32(0)
	if past.Err() == nil {
		t.Error("reading past the declared parameters should be recorded")
	}
}

func TestArgumentStream_Results(t *testing.T) {
	a := newArgumentStream(context.Background(), Environment{}, MustParseSignature("b"), nil)
	a.ReturnBool(true)
	if r := a.Results(); len(r) != 1 || !r[0].Bool() {
		t.Errorf("Results() = %v", r)
	}
	a.ReturnNull("player not found")
	failed, msg := a.Failed()
	if !failed || msg != "player not found" || len(a.Results()) != 0 {
		t.Errorf("ReturnNull: failed=%v msg=%q results=%v", failed, msg, a.Results())
	}
}

func TestFunctionBinding_NativeCall(t *testing.T) {
	failing := newNativeBinding("find", MustParseSignature("ii"), func(_ context.Context, _ Environment, args *ArgumentStream) {
		args.ReturnNull("no such player")
	}, Environment{Name: "find"})

	res, err := failing.Call(context.Background(), Int32(1))
	if !isKind(err, werrors.PhaseCall, werrors.KindNativeFailure) {
		t.Errorf("err = %v, want native failure", err)
	}
	if len(res) != 1 || res[0].Int32() != 0 {
		t.Errorf("results = %v, want one zero", res)
	}

	echo := newNativeBinding("echo", MustParseSignature("ll"), func(_ context.Context, _ Environment, args *ArgumentStream) {
		args.ReturnInt64(args.ReadInt64(0))
	}, Environment{Name: "echo"})

	if _, err := echo.Call(context.Background(), Int32(1)); !isKind(err, werrors.PhaseCall, werrors.KindTypeMismatch) {
		t.Errorf("wrong argument kind: %v", err)
	}
	if _, err := echo.Call(context.Background(), Int64(1), Int64(2)); err == nil {
		t.Error("too many arguments should fail")
	}
	res, err = echo.Call(context.Background(), Int64(1<<40))
	if err != nil || res[0].Int64() != 1<<40 {
		t.Errorf("echo = %v, %v", res, err)
	}

	wrong := newNativeBinding("wrong", MustParseSignature("i"), func(_ context.Context, _ Environment, args *ArgumentStream) {
		args.ReturnFloat64(1)
	}, Environment{Name: "wrong"})
	if _, err := wrong.Call(context.Background()); !isKind(err, werrors.PhaseCall, werrors.KindTypeMismatch) {
		t.Errorf("wrong result kind: %v", err)
	}
}

func TestFunctionBinding_NativeFailureSeenByGuest(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister("lookup", "*s", func(_ context.Context, _ Environment, args *ArgumentStream) {
		args.ReadString("")
		args.ReturnNull("not found")
	})
	c := newTestContext(t, reg, Options{})
	s := load(t, c, wat(t,
		`(import "env" "lookup" (func $lookup (param i32) (result i32)))`,
		allocatorWAT,
		`(func (export "run") (result i32) i32.const 0 call $lookup)`,
	), "lookup.wasm")
	if got := callI32(t, s, "run"); got != 0 {
		t.Errorf("run() = %d, want 0", got)
	}
}

func TestArgumentStream_StringsThroughScriptMemory(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister("name_length", "xs", func(_ context.Context, _ Environment, args *ArgumentStream) {
		args.ReturnSize(uint32(len(args.ReadString(""))))
	})
	reg.MustRegister("fill", "b*x", func(_ context.Context, _ Environment, args *ArgumentStream) {
		addr := args.ReadPointer(wasmscripting.NullAddress)
		n := args.ReadSize(0)
		args.ReturnBool(args.WritePointer(addr, make([]byte, n)))
	})
	c := newTestContext(t, reg, Options{})
	s := load(t, c, wat(t,
		`(import "env" "name_length" (func $len (param i32) (result i32)))`,
		`(import "env" "fill" (func $fill (param i32 i32) (result i32)))`,
		allocatorWAT,
		`(data (i32.const 256) "lap-record\00")`,
		`(func (export "run") (result i32) i32.const 256 call $len)`,
		`(func (export "overflow") (result i32) i32.const 65530 i32.const 100 call $fill)`,
	), "strings.wasm")

	if got := callI32(t, s, "run"); got != 10 {
		t.Errorf("run() = %d, want 10", got)
	}
	if got := callI32(t, s, "overflow"); got != 0 {
		t.Errorf("overflow() = %d, want false", got)
	}
}
