// Package wasmscripting hosts WebAssembly scripts for a multiplayer game server.
//
// Extensions (game resources) load compiled modules into a per-extension
// context. Modules import host-native functions from a reserved namespace,
// export functions that other modules of the same extension can import, and
// exchange data through their own linear memory.
//
// # Architecture Overview
//
//	wasmscripting/       Root package with address types and memory interfaces
//	├── runtime/         Composition root: engine, native registry, contexts per resource
//	├── engine/          Execution engine and per-context stores on top of wazero
//	├── linker/          Scripts, contexts, function bindings, import resolution
//	├── hostapi/         Demonstration native catalogue
//	├── errors/          Structured error types
//	└── cmd/run/         Command line runner with an interactive mode
//
// # Quick Start
//
//	host, err := runtime.New(ctx, runtime.DefaultConfig())
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer host.Close(ctx)
//
//	hostapi.Register(host.Registry(), hostapi.Options{})
//
//	rctx, err := host.NewContext(ctx, "race")
//	if err != nil {
//	    log.Fatal(err)
//	}
//	script := rctx.CreateScript()
//	state := rctx.LoadScriptBinary(ctx, script, wasmBytes, "client.wasm", true)
//
// # Addresses
//
// A GuestAddress is only meaningful inside the script that produced it. It
// turns into a HostPointer exclusively through the owning script's memory
// view, which checks bounds first.
package wasmscripting
