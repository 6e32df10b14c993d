// Package wasm provides low-level WebAssembly binary parsing and rewriting
// utilities for the linker.
//
// # Parsing
//
// ParseModule walks the section list and decodes the parts the linker needs:
// types, imports, defined functions, tables, memories, exports and active
// element segments.
//
// # Rewriting
//
// Rebuild replaces or inserts sections while preserving the canonical order.
// ImportSection re-encodes the import list with new module names, which is how
// each script gets its own host namespace inside a shared store.
//
// # Stub Modules
//
// StubModuleBuilder synthesizes a module that exports inert definitions
// matching a set of imports: trapping functions, zeroed globals and fresh
// memories and tables.
//
// This package is internal to the linker and should not be used directly.
package wasm
