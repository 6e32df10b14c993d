package linker

import (
	"context"
	"testing"

	werrors "github.com/wippyai/wasm-scripting/errors"
)

// exporterWAT exports f(x) = x + 1 plus the reserved entry point and
// allocator names.
func exporterWAT(t *testing.T) []byte {
	return wat(t, allocatorWAT,
		`(func (export "f") (param i32) (result i32) local.get 0 i32.const 1 i32.add)`,
		`(func (export "main") (param i32 i32) (result i32) i32.const 0)`,
	)
}

// importerWAT imports env.f with the given type and exports g calling it.
func importerWAT(t *testing.T, params, results string) []byte {
	return wat(t,
		`(import "env" "f" (func $f (param `+params+`) (result `+results+`)))`,
		`(func (export "g") (param `+params+`) (result `+results+`) local.get 0 call $f)`,
	)
}

func TestContext_PublishExcludesReserved(t *testing.T) {
	c := newTestContext(t, nil, Options{})
	a := load(t, c, exporterWAT(t), "a.wasm")

	names := c.GlobalFunctionNames()
	if len(names) != 1 || names[0] != "f" {
		t.Fatalf("shared functions = %v, want [f]", names)
	}
	if c.GlobalFunction("f") != a.ExportedFunction("f") {
		t.Error("shared entry should reference the exporter's binding")
	}
	if c.GlobalFunction("f").Owner() != a {
		t.Error("owner should be the exporting script")
	}
}

func TestContext_SharedFunctionForwarding(t *testing.T) {
	c := newTestContext(t, nil, Options{})
	a := load(t, c, exporterWAT(t), "a.wasm")
	b := load(t, c, importerWAT(t, "i32", "i32"), "b.wasm")

	if got := callI32(t, b, "g", Int32(1)); got != 2 {
		t.Errorf("g(1) = %d, want 2", got)
	}

	fwd := b.GlobalFunction("f")
	if fwd == nil || !fwd.IsForwarder() {
		t.Fatalf("b should hold a forwarding copy, got %v", fwd)
	}
	if fwd == a.ExportedFunction("f") || fwd.Owner() != b {
		t.Error("forwarding copy must be private to the importer")
	}
	if !fwd.Signature().Compatible(a.ExportedFunction("f").Signature()) {
		t.Error("forwarding copy should keep the shared signature")
	}
}

func TestContext_SharedSignatureMismatch(t *testing.T) {
	c := newTestContext(t, nil, Options{})
	load(t, c, exporterWAT(t), "a.wasm")

	s := c.CreateScript()
	if c.LoadScriptBinary(context.Background(), s, importerWAT(t, "i64", "i32"), "b.wasm", false) != LoadFailed {
		t.Fatal("mismatched shared import should fail")
	}
	if !isKind(s.Err(), werrors.PhaseLink, werrors.KindSignatureMismatch) {
		t.Errorf("Err() = %v", s.Err())
	}
	if c.GlobalFunction("g") != nil {
		t.Error("failed script must not publish")
	}
}

func TestContext_NativeTakesPrecedence(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister("f", "ii", func(_ context.Context, _ Environment, args *ArgumentStream) {
		args.ReturnInt32(args.ReadInt32(0) * 100)
	})
	c := newTestContext(t, reg, Options{})
	load(t, c, exporterWAT(t), "a.wasm")
	b := load(t, c, importerWAT(t, "i32", "i32"), "b.wasm")

	if got := callI32(t, b, "g", Int32(3)); got != 300 {
		t.Errorf("g(3) = %d, want native result 300", got)
	}
	if b.GlobalFunction("f") != nil {
		t.Error("no shared copy expected when a native matches")
	}
}

func TestContext_NativeMismatchFallsBackToShared(t *testing.T) {
	logs := observeLogs(t)
	reg := NewRegistry()
	reg.MustRegister("f", "l", nop)
	c := newTestContext(t, reg, Options{})
	load(t, c, exporterWAT(t), "a.wasm")
	b := load(t, c, importerWAT(t, "i32", "i32"), "b.wasm")

	if got := callI32(t, b, "g", Int32(3)); got != 4 {
		t.Errorf("g(3) = %d, want shared result 4", got)
	}
	if logs.FilterMessage("wrong function structure on import against native definition").Len() != 1 {
		t.Error("native mismatch should be logged")
	}
}

func TestContext_Placeholder(t *testing.T) {
	logs := observeLogs(t)
	obs := newRecordingObserver()
	c := newTestContext(t, nil, Options{Observer: obs})
	b := load(t, c, importerWAT(t, "i32", "i32"), "b.wasm")

	p := b.GlobalFunction("f")
	if p == nil || !p.IsPlaceholder() {
		t.Fatalf("expected placeholder, got %v", p)
	}
	if got := callI32(t, b, "g", Int32(5)); got != 0 {
		t.Errorf("g(5) = %d, want 0 from placeholder", got)
	}
	if logs.FilterMessage("could not call function").Len() != 1 {
		t.Error("placeholder call should be logged")
	}
	if len(obs.unresolved) != 1 || obs.unresolved[0] != "b.wasm:f" {
		t.Errorf("observer unresolved = %v", obs.unresolved)
	}

	// a later exporter does not rebind an already loaded importer
	load(t, c, exporterWAT(t), "a.wasm")
	if got := callI32(t, b, "g", Int32(5)); got != 0 {
		t.Errorf("g(5) after late export = %d, want 0", got)
	}
}

func TestContext_DuplicateExportLatestWins(t *testing.T) {
	logs := observeLogs(t)
	c := newTestContext(t, nil, Options{})
	load(t, c, exporterWAT(t), "a.wasm")
	second := load(t, c, exporterWAT(t), "b.wasm")

	if c.GlobalFunction("f").Owner() != second {
		t.Error("latest publisher should own the shared entry")
	}
	if logs.FilterMessage("shared function overridden").Len() != 1 {
		t.Error("override should be logged")
	}
}

func TestContext_UnloadPurgesShared(t *testing.T) {
	c := newTestContext(t, nil, Options{})
	a := load(t, c, exporterWAT(t), "a.wasm")
	b := load(t, c, importerWAT(t, "i32", "i32"), "b.wasm")

	c.UnloadScript(context.Background(), a)
	if c.GlobalFunction("f") != nil {
		t.Fatal("shared entry should be purged with its owner")
	}
	if len(c.AllScripts()) != 1 {
		t.Errorf("scripts = %d, want 1", len(c.AllScripts()))
	}

	// the importer survives; its forwarder now reports the call failure
	if got := callI32(t, b, "g", Int32(1)); got != 0 {
		t.Errorf("g(1) after owner unload = %d, want 0", got)
	}
	if _, err := b.GlobalFunction("f").Call(context.Background(), Int32(1)); !isKind(err, werrors.PhaseCall, werrors.KindReleased) {
		t.Errorf("forwarder call after unload: %v", err)
	}
}

func TestContext_UnloadAll(t *testing.T) {
	c := newTestContext(t, nil, Options{})
	a := load(t, c, exporterWAT(t), "a.wasm")
	b := load(t, c, importerWAT(t, "i32", "i32"), "b.wasm")

	c.UnloadAll(context.Background())
	if len(c.GlobalFunctionNames()) != 0 || len(c.Scripts()) != 0 || len(c.AllScripts()) != 0 {
		t.Error("UnloadAll should clear the context")
	}
	if a.State() != StateUnloaded || b.State() != StateUnloaded {
		t.Error("scripts should be unloaded")
	}
	// the store is reusable
	load(t, c, exporterWAT(t), "a.wasm")
}

func TestContext_FailedReloadLeavesLoadedList(t *testing.T) {
	c := newTestContext(t, nil, Options{})
	ctx := context.Background()
	keep := c.CreateScript()
	if c.LoadScriptBinary(ctx, keep, exporterWAT(t), "keep.wasm", true) != LoadSucceed {
		t.Fatal(keep.Err())
	}
	s := c.CreateScript()
	if c.LoadScriptBinary(ctx, s, wat(t, allocatorWAT, `(func (export "main") (param i32 i32) (result i32) i32.const 0)`), "b.wasm", true) != LoadSucceed {
		t.Fatal(s.Err())
	}
	if len(c.Scripts()) != 2 {
		t.Fatalf("loaded = %d, want 2", len(c.Scripts()))
	}

	if c.LoadScriptBinary(ctx, s, []byte("garbage"), "b.wasm", true) != LoadFailed {
		t.Fatal("reload with garbage should fail")
	}
	if s.State() != StateFailed {
		t.Errorf("state = %v, want failed", s.State())
	}
	if got := c.Scripts(); len(got) != 1 || got[0] != keep {
		t.Errorf("loaded after failed reload = %v, want only keep.wasm", got)
	}
}

func TestContext_ForeignScript(t *testing.T) {
	c1 := newTestContext(t, nil, Options{})
	c2 := newTestContext(t, nil, Options{})
	s := c1.CreateScript()
	if c2.LoadScriptBinary(context.Background(), s, exporterWAT(t), "a.wasm", false) != LoadFailed {
		t.Error("loading a script of another context should fail")
	}
}

func TestContext_CustomAPINamespace(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister("seven", "i", func(_ context.Context, _ Environment, args *ArgumentStream) {
		args.ReturnInt32(7)
	})
	c := newTestContext(t, reg, Options{APINamespace: "game"})
	s := load(t, c, wat(t,
		`(import "game" "seven" (func $seven (result i32)))`,
		`(func (export "run") (result i32) call $seven)`,
	), "ns.wasm")
	if got := callI32(t, s, "run"); got != 7 {
		t.Errorf("run() = %d, want 7", got)
	}
}
