package linker

import (
	"context"
	"errors"
	"testing"

	werrors "github.com/wippyai/wasm-scripting/errors"
)

func nop(context.Context, Environment, *ArgumentStream) {}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()
	if err := r.Register("get_tick_count", "l", nop); err != nil {
		t.Fatalf("Register: %v", err)
	}
	if err := r.Register("is_player_admin", "beu", nop); err != nil {
		t.Fatalf("Register: %v", err)
	}

	f, ok := r.Lookup("is_player_admin")
	if !ok {
		t.Fatal("Lookup failed")
	}
	if f.Signature.String() != "beu" {
		t.Errorf("signature = %q", f.Signature)
	}
	if names := r.Names(); len(names) != 2 || names[0] != "get_tick_count" {
		t.Errorf("Names() = %v", names)
	}
	if !r.Unregister("get_tick_count") || r.Unregister("get_tick_count") {
		t.Error("Unregister should succeed once")
	}
	if r.Len() != 1 {
		t.Errorf("Len() = %d, want 1", r.Len())
	}
}

func TestRegistry_RegisterErrors(t *testing.T) {
	r := NewRegistry()
	r.MustRegister("print", "vs", nop)

	tests := map[string]func() error{
		"duplicate":     func() error { return r.Register("print", "vs", nop) },
		"empty name":    func() error { return r.Register("", "v", nop) },
		"nil impl":      func() error { return r.Register("x", "v", nil) },
		"bad signature": func() error { return r.Register("y", "iz", nop) },
	}
	for name, fn := range tests {
		err := fn()
		if err == nil {
			t.Errorf("%s: expected error", name)
			continue
		}
		if !errors.Is(err, &werrors.Error{Phase: werrors.PhaseRegister, Kind: werrors.KindRegistration}) {
			t.Errorf("%s: error = %v", name, err)
		}
	}
}

func TestRegistry_RegisterWIT(t *testing.T) {
	const decl = `
interface natives {
	get-player-money: func(player: u32) -> s64;
	set-player-name: func(player: u32, name: string) -> bool;
	distance: func(x: f32, y: f32) -> f64;
	tick: func();
}
`
	r := NewRegistry()
	err := r.RegisterWIT(decl, map[string]NativeFunc{
		"get_player_money": nop,
		"set_player_name":  nop,
		"distance":         nop,
		"tick":             nop,
	})
	if err != nil {
		t.Fatalf("RegisterWIT: %v", err)
	}

	want := map[string]string{
		"get_player_money": "li",
		"set_player_name":  "bis",
		"distance":         "dff",
		"tick":             "v",
	}
	for name, sig := range want {
		f, ok := r.Lookup(name)
		if !ok {
			t.Errorf("%s not registered", name)
			continue
		}
		if f.Signature.String() != sig {
			t.Errorf("%s signature = %q, want %q", name, f.Signature, sig)
		}
	}
}

func TestRegistry_RegisterWITErrors(t *testing.T) {
	r := NewRegistry()
	if err := r.RegisterWIT("interface empty {}", nil); err == nil {
		t.Error("WIT without functions should fail")
	}
	if err := r.RegisterWIT("f: func(a: u32);", map[string]NativeFunc{}); err == nil {
		t.Error("missing implementation should fail")
	}
	if err := r.RegisterWIT("g: func(a: list<u8>);", map[string]NativeFunc{"g": nop}); err == nil {
		t.Error("unsupported type should fail")
	}
}
