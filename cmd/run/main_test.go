package main

import (
	"testing"

	"github.com/wippyai/wasm-scripting/linker"
)

func TestParseArgs(t *testing.T) {
	sig := linker.MustParseSignature("iif")
	args, err := parseArgs(sig, []string{"7", " 2.5"})
	if err != nil {
		t.Fatalf("parseArgs: %v", err)
	}
	if len(args) != 2 || args[0].Int32() != 7 || args[1].Float32() != 2.5 {
		t.Errorf("args = %v", args)
	}

	if _, err := parseArgs(sig, []string{"1", "2", "3"}); err == nil {
		t.Error("extra argument should fail")
	}
	if _, err := parseArgs(sig, []string{"seven"}); err == nil {
		t.Error("non-numeric int32 should fail")
	}
}

func TestFormatResults(t *testing.T) {
	if got := formatResults(nil); got != "()" {
		t.Errorf("empty = %q", got)
	}
	if got := formatResults([]linker.Value{linker.Int32(4), linker.Int32(-1)}); got != "4, -1" {
		t.Errorf("results = %q", got)
	}
}
