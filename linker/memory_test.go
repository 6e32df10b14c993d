package linker

import (
	"context"
	"testing"

	wasmscripting "github.com/wippyai/wasm-scripting"
)

func TestMemoryView_StringRoundTrip(t *testing.T) {
	c := newTestContext(t, nil, Options{})
	s := load(t, c, wat(t, allocatorWAT), "mem.wasm")
	mem := s.Memory()
	ctx := context.Background()

	for _, text := range []string{"a", "hello world", "разгон", "with\ttab"} {
		addr := mem.StringToGuest(ctx, text)
		if addr.IsNull() {
			t.Fatalf("StringToGuest(%q) returned null", text)
		}
		if got := mem.GuestToString(addr, len(text)); got != text {
			t.Errorf("GuestToString(len) = %q, want %q", got, text)
		}
		if got := mem.GuestToString(addr, -1); got != text {
			t.Errorf("GuestToString(-1) = %q, want %q", got, text)
		}
	}

	if !mem.StringToGuest(ctx, "").IsNull() {
		t.Error("empty string should map to null")
	}
	if mem.GuestToString(wasmscripting.NullAddress, -1) != "" {
		t.Error("null address should read as empty")
	}
	if mem.GuestToString(wasmscripting.GuestAddress(mem.Size()+10), -1) != "" {
		t.Error("out of range address should read as empty")
	}
}

func TestMemoryView_Malloc(t *testing.T) {
	c := newTestContext(t, nil, Options{})
	s := load(t, c, wat(t, allocatorWAT), "mem.wasm")
	mem := s.Memory()
	ctx := context.Background()

	if !mem.Malloc(ctx, 0).IsNull() {
		t.Error("Malloc(0) should return null")
	}
	a, b := mem.Malloc(ctx, 10), mem.Malloc(ctx, 10)
	if a.IsNull() || b.IsNull() || a == b {
		t.Errorf("Malloc returned %d and %d", a, b)
	}

	mem.Free(ctx, wasmscripting.NullAddress)
	mem.Free(ctx, a)
	frees, _ := s.Export("frees")
	if got := frees.Global.Get(); got != 1 {
		t.Errorf("free calls = %d, want 1 (null is not forwarded)", got)
	}
}

func TestMemoryView_NoAllocator(t *testing.T) {
	logs := observeLogs(t)
	c := newTestContext(t, nil, Options{})
	s := load(t, c, wat(t, `(memory (export "memory") 1)`), "bare.wasm")
	mem := s.Memory()

	if !mem.Malloc(context.Background(), 16).IsNull() {
		t.Error("Malloc without allocator should return null")
	}
	if !mem.StringToGuest(context.Background(), "x").IsNull() {
		t.Error("StringToGuest without allocator should return null")
	}
	entries := logs.FilterMessage("couldn't find module function").All()
	if len(entries) != 2 {
		t.Fatalf("logged %d times, want 2", len(entries))
	}
	if entries[0].ContextMap()["file"] != "bare.wasm" || entries[0].ContextMap()["resource"] != "race" {
		t.Errorf("log not attributed: %v", entries[0].ContextMap())
	}
}

func TestMemoryView_ImportedMemory(t *testing.T) {
	c := newTestContext(t, nil, Options{})
	s := load(t, c, wat(t,
		`(import "env" "heap" (memory 2))`,
		`(export "heap" (memory 0))`,
	), "mem.wasm")
	if s.Memory() == nil {
		t.Fatal("memory view missing")
	}
	if s.Memory().Size() != 2*65536 {
		t.Errorf("Size() = %d, want two pages", s.Memory().Size())
	}
}

func TestMemoryView_Accessors(t *testing.T) {
	c := newTestContext(t, nil, Options{})
	s := load(t, c, wat(t, allocatorWAT), "mem.wasm")
	mem := s.Memory()

	if err := mem.WriteUint32(64, 0xdeadbeef); err != nil {
		t.Fatalf("WriteUint32: %v", err)
	}
	if v, err := mem.ReadUint32(64); err != nil || v != 0xdeadbeef {
		t.Errorf("ReadUint32 = %x, %v", v, err)
	}
	if err := mem.Write(128, []byte("abc")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	b, err := mem.Bytes(128, 3)
	if err != nil || string(b) != "abc" {
		t.Errorf("Bytes = %q, %v", b, err)
	}
	if _, err := mem.Read(wasmscripting.GuestAddress(mem.Size()-1), 2); err == nil {
		t.Error("read past the end should fail")
	}
	if err := mem.WriteUint32(wasmscripting.GuestAddress(mem.Size()), 1); err == nil {
		t.Error("write past the end should fail")
	}
}

func TestMemoryView_TranslateAndOwnership(t *testing.T) {
	c := newTestContext(t, nil, Options{})
	a := load(t, c, wat(t, allocatorWAT), "a.wasm")
	b := load(t, c, wat(t, allocatorWAT), "b.wasm")

	pa, err := a.Memory().Translate(16)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}
	pb, err := b.Memory().Translate(16)
	if err != nil {
		t.Fatalf("Translate: %v", err)
	}

	if !a.Memory().BelongsTo(pa) || a.Memory().BelongsTo(pb) {
		t.Error("BelongsTo should distinguish memories")
	}
	if c.FindOwningScript(pa) != a || c.FindOwningScript(pb) != b {
		t.Error("FindOwningScript returned the wrong script")
	}
	if c.FindOwningScript(0) != nil || c.ContainsPointer(0) {
		t.Error("null pointer belongs to no script")
	}
	if !c.ContainsPointer(pa) {
		t.Error("ContainsPointer should find a")
	}

	// the end of memory is inclusive
	end := wasmscripting.HostPointer(uintptr(pa) - 16 + uintptr(a.Memory().Size()))
	if !a.Memory().BelongsTo(end) {
		t.Error("end pointer should belong to the memory")
	}

	if _, err := a.Memory().Translate(wasmscripting.NullAddress); err == nil {
		t.Error("Translate(null) should fail")
	}
	if _, err := a.Memory().Translate(wasmscripting.GuestAddress(a.Memory().Size())); err == nil {
		t.Error("Translate past the end should fail")
	}

	c.UnloadScript(context.Background(), a)
	if c.FindOwningScript(pa) == a {
		t.Error("unloaded script should not own pointers")
	}
}
