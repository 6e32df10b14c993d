// Package linker loads WebAssembly modules as scripts and links them to host
// natives and to each other.
//
// # Main Types
//
//   - Context: the scripts of one resource and their shared functions
//   - Script: one module, loaded through a validate, resolve, instantiate,
//     export state machine
//   - FunctionBinding: callable reference to a native, a guest export, a
//     forwarder or an unresolved placeholder
//   - Registry: the native catalogue, declared with signature strings or WIT
//   - ArgumentStream: typed argument reader and result writer for natives
//   - MemoryView: a script's linear memory and its malloc/free exports
//
// # Import Resolution Order
//
//  1. Module already instantiated in the Store (e.g. WASI)
//  2. API namespace ("env"): native with a matching signature
//  3. API namespace: function exported by another script of the Context
//  4. API namespace: placeholder that logs and returns zero when called
//  5. Anything else: stub that traps
//
// A signature mismatch against a shared function, or against a native with
// no matching shared function, fails the load.
//
// # Thread Safety
//
// A Context and its Scripts must be used from one goroutine.
//
// # Example
//
//	rctx, _ := linker.NewContext(ctx, "race", eng, registry, linker.Options{})
//	script := rctx.CreateScript()
//	if rctx.LoadScriptBinary(ctx, script, bin, "client.wasm", true) != linker.LoadSucceed {
//		return script.Err()
//	}
//	results, err := script.Call(ctx, "get_lap", linker.Int32(2))
package linker
