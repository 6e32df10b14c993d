package hostapi

import (
	"bytes"
	"context"
	"testing"
	"time"

	"github.com/bytecodealliance/wasmtime-go/v14"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wippyai/wasm-scripting/engine"
	"github.com/wippyai/wasm-scripting/linker"
)

const allocator = `
  (memory (export "memory") 1)
  (global $heap (mut i32) (i32.const 4096))
  (func (export "malloc") (param $n i32) (result i32)
    (local $p i32)
    (local.set $p (global.get $heap))
    (global.set $heap (i32.add (global.get $heap) (local.get $n)))
    (local.get $p))
  (func (export "free") (param i32))
`

type fixture struct {
	ctx    *linker.Context
	out    *bytes.Buffer
	clock  time.Time
	script *linker.Script
}

func setup(t *testing.T, body string) *fixture {
	t.Helper()
	f := &fixture{out: &bytes.Buffer{}, clock: time.Unix(1000, 0)}

	reg := linker.NewRegistry()
	err := Register(reg, Options{Output: f.out, Now: func() time.Time { return f.clock }})
	if err != nil {
		t.Fatalf("Register: %v", err)
	}

	e := engine.New(engine.Config{Mode: engine.ModeInterpreter})
	if err := e.Build(context.Background()); err != nil {
		t.Fatalf("engine Build: %v", err)
	}
	f.ctx, err = linker.NewContext(context.Background(), "race", e, reg, linker.Options{})
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	t.Cleanup(func() {
		_ = f.ctx.Destroy(context.Background())
		_ = e.Destroy(context.Background())
	})

	src := `(module
  (import "env" "print" (func $print (param i32)))
  (import "env" "log_message" (func $log (param i32 i32)))
  (import "env" "get_tick_count" (func $ticks (result i64)))
  (import "env" "get_resource_name" (func $resource (param i32 i32) (result i32)))
  (import "env" "copy_string" (func $copy (param i32) (result i32)))
  (import "env" "call_internal" (func $internal (param i32 i32) (result i32)))
` + allocator + body + `)`
	bin, err := wasmtime.Wat2Wasm(src)
	if err != nil {
		t.Fatalf("Wat2Wasm: %v", err)
	}
	f.script = f.ctx.CreateScript()
	if f.ctx.LoadScriptBinary(context.Background(), f.script, bin, "client.wasm", false) != linker.LoadSucceed {
		t.Fatalf("load: %v", f.script.Err())
	}
	for _, name := range []string{"print", "log_message", "get_tick_count", "get_resource_name", "copy_string", "call_internal"} {
		if fn := f.script.APIFunction(name); fn == nil || !fn.IsNative() {
			t.Fatalf("%s not bound to a native", name)
		}
	}
	return f
}

func (f *fixture) call(t *testing.T, name string) []linker.Value {
	t.Helper()
	res, err := f.script.Call(context.Background(), name)
	if err != nil {
		t.Fatalf("%s: %v", name, err)
	}
	return res
}

func TestRegister(t *testing.T) {
	reg := linker.NewRegistry()
	if err := Register(reg, Options{}); err != nil {
		t.Fatalf("Register: %v", err)
	}
	want := map[string]string{
		"print":             "vs",
		"log_message":       "vis",
		"get_tick_count":    "l",
		"get_resource_name": "x*x",
		"copy_string":       "*s",
		"call_internal":     "iii",
	}
	if reg.Len() != len(want) {
		t.Errorf("registered %d natives, want %d", reg.Len(), len(want))
	}
	for name, sig := range want {
		f, ok := reg.Lookup(name)
		if !ok || f.Signature.String() != sig {
			t.Errorf("%s = %v, want signature %s", name, f.Signature, sig)
		}
	}
	if err := Register(reg, Options{}); err == nil {
		t.Error("registering twice should fail")
	}
}

func TestPrint(t *testing.T) {
	f := setup(t, `
  (data (i32.const 256) "green flag\00")
  (func (export "run") i32.const 256 call $print)`)
	f.call(t, "run")
	if got := f.out.String(); got != "green flag\n" {
		t.Errorf("output = %q", got)
	}
}

func TestLogMessage(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	SetLogger(zap.New(core))
	t.Cleanup(func() { SetLogger(zap.NewNop()) })

	f := setup(t, `
  (data (i32.const 256) "pit stop\00")
  (func (export "run") i32.const 1 i32.const 256 call $log)`)
	f.call(t, "run")

	entries := logs.FilterMessage("pit stop").All()
	if len(entries) != 1 {
		t.Fatalf("logged %d entries", len(entries))
	}
	if entries[0].Level != zapcore.WarnLevel {
		t.Errorf("level = %s, want warn", entries[0].Level)
	}
	if entries[0].ContextMap()["resource"] != "race" || entries[0].ContextMap()["file"] != "client.wasm" {
		t.Errorf("fields = %v", entries[0].ContextMap())
	}
}

func TestGetTickCount(t *testing.T) {
	f := setup(t, `(func (export "run") (result i64) call $ticks)`)
	f.clock = f.clock.Add(1500 * time.Millisecond)
	if got := f.call(t, "run")[0].Int64(); got != 1500 {
		t.Errorf("ticks = %d, want 1500", got)
	}
}

func TestGetResourceName(t *testing.T) {
	f := setup(t, `
  (func (export "full") (result i32) i32.const 512 i32.const 64 call $resource)
  (func (export "short") (result i32) i32.const 600 i32.const 3 call $resource)
  (func (export "outside") (result i32) i32.const 65535 i32.const 64 call $resource)
  (func (export "straddle") (result i32) i32.const 65534 i32.const 3 call $resource)`)
	mem := f.script.Memory()

	if got := f.call(t, "full")[0].Uint32(); got != 4 {
		t.Errorf("length = %d, want 4", got)
	}
	if got := mem.GuestToString(512, -1); got != "race" {
		t.Errorf("buffer = %q", got)
	}
	if got := f.call(t, "short")[0].Uint32(); got != 4 {
		t.Errorf("truncated call length = %d, want 4", got)
	}
	if got := mem.GuestToString(600, -1); got != "ra" {
		t.Errorf("truncated buffer = %q", got)
	}
	if got := f.call(t, "outside")[0].Uint32(); got != 0 {
		t.Errorf("out of bounds buffer should fail, got %d", got)
	}
	if got := f.call(t, "straddle")[0].Uint32(); got != 0 {
		t.Errorf("buffer crossing the end of memory should fail, got %d", got)
	}
	if got, err := mem.Bytes(65534, 2); err != nil || got[0] != 0 || got[1] != 0 {
		t.Errorf("rejected buffer was written: %v, %v", got, err)
	}
}

func TestCopyString(t *testing.T) {
	f := setup(t, `
  (data (i32.const 256) "checkpoint\00")
  (func (export "run") (result i32) i32.const 256 call $copy)`)
	addr := f.call(t, "run")[0].Pointer()
	if addr.IsNull() || addr == 256 {
		t.Fatalf("copy address = %d", addr)
	}
	if got := f.script.Memory().GuestToString(addr, -1); got != "checkpoint" {
		t.Errorf("copy = %q", got)
	}
}

func TestCallInternal(t *testing.T) {
	f := setup(t, `
  (table (export "__indirect_function_table") 2 funcref)
  (func $square (param i32) (result i32) local.get 0 local.get 0 i32.mul)
  (elem (i32.const 1) $square)
  (func (export "run") (result i32) i32.const 1 i32.const 9 call $internal)
  (func (export "missing") (result i32) i32.const 0 i32.const 9 call $internal)`)
	if got := f.call(t, "run")[0].Int32(); got != 81 {
		t.Errorf("square(9) = %d, want 81", got)
	}
	if got := f.call(t, "missing")[0].Int32(); got != 0 {
		t.Errorf("empty slot = %d, want 0", got)
	}
}
