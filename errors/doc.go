// Package errors provides structured error types for the scripting host.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error
// category). The Error type carries the owning resource and file so that load
// and call failures can be attributed to the extension that caused them.
//
// Use the Builder for structured construction:
//
//	err := errors.New(errors.PhaseLink, errors.KindSignatureMismatch).
//		Resource("race", "client.wasm").
//		Name("get_player_money").
//		Detail("expected %q", "ie").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.SignatureMismatch("f", "ii", "il")
//	err := errors.OutOfBounds(addr, n, size)
//
// All errors implement the standard error interface and support errors.Is/As.
package errors
