package linker

import (
	"context"
	"fmt"
	"testing"

	"github.com/bytecodealliance/wasmtime-go/v14"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/wippyai/wasm-scripting/engine"
)

// allocatorWAT gives a module a one-page memory, a bump allocator and a free
// counter exported as the global "frees".
const allocatorWAT = `
  (memory (export "memory") 1)
  (global $heap (mut i32) (i32.const 1024))
  (global $frees (export "frees") (mut i32) (i32.const 0))
  (func (export "malloc") (param $n i32) (result i32)
    (local $p i32)
    (local.set $p (global.get $heap))
    (global.set $heap
      (i32.and (i32.add (i32.add (global.get $heap) (local.get $n)) (i32.const 7)) (i32.const -8)))
    (local.get $p))
  (func (export "free") (param i32)
    (global.set $frees (i32.add (global.get $frees) (i32.const 1))))
`

func wat(t *testing.T, parts ...string) []byte {
	t.Helper()
	src := "(module"
	for _, p := range parts {
		src += "\n" + p
	}
	src += "\n)"
	b, err := wasmtime.Wat2Wasm(src)
	if err != nil {
		t.Fatalf("Wat2Wasm: %v\n%s", err, src)
	}
	return b
}

func newEngine(t *testing.T, cfg engine.Config) *engine.Engine {
	t.Helper()
	if cfg.Mode == "" {
		cfg.Mode = engine.ModeInterpreter
	}
	e := engine.New(cfg)
	if err := e.Build(context.Background()); err != nil {
		t.Fatalf("engine Build: %v", err)
	}
	t.Cleanup(func() { _ = e.Destroy(context.Background()) })
	return e
}

func newTestContext(t *testing.T, reg *Registry, opts Options) *Context {
	t.Helper()
	return newTestContextWith(t, newEngine(t, engine.Config{}), reg, opts)
}

func newTestContextWith(t *testing.T, e *engine.Engine, reg *Registry, opts Options) *Context {
	t.Helper()
	if reg == nil {
		reg = NewRegistry()
	}
	c, err := NewContext(context.Background(), "race", e, reg, opts)
	if err != nil {
		t.Fatalf("NewContext: %v", err)
	}
	t.Cleanup(func() { _ = c.Destroy(context.Background()) })
	return c
}

// load loads b as a new script and fails the test unless it succeeds.
func load(t *testing.T, c *Context, b []byte, file string) *Script {
	t.Helper()
	s := c.CreateScript()
	if state := c.LoadScriptBinary(context.Background(), s, b, file, false); state != LoadSucceed {
		t.Fatalf("load %s: %v", file, s.Err())
	}
	return s
}

func observeLogs(t *testing.T) *observer.ObservedLogs {
	t.Helper()
	core, logs := observer.New(zapcore.DebugLevel)
	SetLogger(zap.New(core))
	t.Cleanup(func() { SetLogger(zap.NewNop()) })
	return logs
}

type recordingObserver struct {
	loaded     map[LoadState]int
	unresolved []string
}

func newRecordingObserver() *recordingObserver {
	return &recordingObserver{loaded: make(map[LoadState]int)}
}

func (r *recordingObserver) ScriptLoaded(_ *Script, state LoadState) { r.loaded[state]++ }

func (r *recordingObserver) UnresolvedCall(s *Script, name string) {
	r.unresolved = append(r.unresolved, fmt.Sprintf("%s:%s", s.FileName(), name))
}

func callI32(t *testing.T, s *Script, name string, args ...Value) int32 {
	t.Helper()
	res, err := s.Call(context.Background(), name, args...)
	if err != nil {
		t.Fatalf("Call %s: %v", name, err)
	}
	if len(res) != 1 {
		t.Fatalf("Call %s: %d results", name, len(res))
	}
	return res[0].Int32()
}
