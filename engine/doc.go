// Package engine wraps wazero as the execution engine and per-context stores.
//
// # Lifecycle
//
//	eng := engine.New(engine.Config{Mode: engine.ModeCompiler})
//	if err := eng.Build(ctx); err != nil { ... }
//
//	store := engine.NewStore()
//	_ = store.Build(ctx, eng) // no-op when eng is nil or unbuilt
//	defer store.Destroy(ctx)
//
//	defer eng.Destroy(ctx) // fails while stores are alive
//
// The engine owns the compilation cache shared by every store, so a module
// loaded by several extensions is compiled once.
//
// # Memory Accounting
//
// Every linear memory is allocated through Accountant, which implements
// experimental.MemoryAllocator. It tracks live and peak bytes and, when
// Config.MemoryBudget is set, refuses growth past the budget; the guest then
// observes memory.grow returning -1.
//
// # Thread Safety
//
// Engine and Store are used from a single logic goroutine. Only the
// accounting counters are atomic because metrics may be scraped concurrently.
package engine
