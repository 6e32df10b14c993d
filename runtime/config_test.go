package runtime

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/wippyai/wasm-scripting/engine"
)

func TestParseConfig(t *testing.T) {
	cfg, err := ParseConfig([]byte(`
engine:
  mode: interpreter
  memory_limit_pages: 16
  wasi: false
api_namespace: game
resources:
  - name: race
    dir: scripts/race
    scripts: [rules.wasm, hud.wat]
  - name: lobby
    scripts: [lobby.wasm]
    no_main: true
`))
	if err != nil {
		t.Fatalf("ParseConfig: %v", err)
	}
	if cfg.Engine.Mode != engine.ModeInterpreter || cfg.Engine.MemoryLimitPages != 16 || cfg.Engine.WASI {
		t.Errorf("engine = %+v", cfg.Engine)
	}
	if cfg.APINamespace != "game" {
		t.Errorf("APINamespace = %q", cfg.APINamespace)
	}
	if len(cfg.Resources) != 2 {
		t.Fatalf("resources = %+v", cfg.Resources)
	}
	if r := cfg.Resources[0]; r.Dir != "scripts/race" || len(r.Scripts) != 2 || r.NoMain {
		t.Errorf("race = %+v", r)
	}
	if !cfg.Resources[1].NoMain {
		t.Error("lobby should skip main")
	}
}

func TestParseConfig_Defaults(t *testing.T) {
	cfg, err := ParseConfig([]byte("resources: []\n"))
	if err != nil {
		t.Fatal(err)
	}
	if cfg.APINamespace != "env" || cfg.Engine.Mode != engine.ModeAuto || !cfg.Engine.WASI {
		t.Errorf("defaults not applied: %+v", cfg)
	}
}

func TestParseConfig_Invalid(t *testing.T) {
	tests := map[string]string{
		"unknown field":  "engine:\n  turbo: true\n",
		"bad mode":       "engine:\n  mode: jit\n",
		"unnamed":        "resources:\n  - scripts: [a.wasm]\n",
		"duplicate":      "resources:\n  - name: a\n  - name: a\n",
		"malformed yaml": "engine: [",
	}
	for name, src := range tests {
		if _, err := ParseConfig([]byte(src)); err == nil {
			t.Errorf("%s: expected error", name)
		}
	}
}

func TestLoadConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "host.yaml")
	if err := os.WriteFile(path, []byte("api_namespace: natives\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := LoadConfig(path)
	if err != nil {
		t.Fatalf("LoadConfig: %v", err)
	}
	if cfg.APINamespace != "natives" {
		t.Errorf("APINamespace = %q", cfg.APINamespace)
	}
	if _, err := LoadConfig(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("missing file should fail")
	}
}
