package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseEngine      Phase = "engine"      // engine and store lifecycle
	PhaseFormat      Phase = "format"      // magic/version check
	PhaseValidate    Phase = "validate"    // structural validation
	PhaseLink        Phase = "link"        // import resolution
	PhaseInstantiate Phase = "instantiate" // module instantiation
	PhaseExport      Phase = "export"      // export classification
	PhaseCall        Phase = "call"        // guest or native calls
	PhaseMemory      Phase = "memory"      // linear memory access
	PhaseRegister    Phase = "register"    // native registration
	PhaseParse       Phase = "parse"       // signature/WIT parsing
)

// Kind categorizes the error
type Kind string

const (
	KindEmpty             Kind = "empty"
	KindBadMagic          Kind = "bad_magic"
	KindInvalidData       Kind = "invalid_data"
	KindSignatureMismatch Kind = "signature_mismatch"
	KindTrap              Kind = "trap"
	KindExportMismatch    Kind = "export_mismatch"
	KindNotFound          Kind = "not_found"
	KindNotInitialized    Kind = "not_initialized"
	KindOutOfBounds       Kind = "out_of_bounds"
	KindAllocation        Kind = "allocation"
	KindTypeMismatch      Kind = "type_mismatch"
	KindInvalidInput      Kind = "invalid_input"
	KindRegistration      Kind = "registration"
	KindReleased          Kind = "released"
	KindNativeFailure     Kind = "native_failure"
	KindBusy              Kind = "busy"
)

// Error is the structured error type used throughout the module
type Error struct {
	Value    any
	Cause    error
	Phase    Phase
	Kind     Kind
	Resource string
	File     string
	Name     string
	Detail   string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Resource != "" || e.File != "" {
		b.WriteString(" in ")
		switch {
		case e.Resource != "" && e.File != "":
			b.WriteString(e.Resource)
			b.WriteByte('/')
			b.WriteString(e.File)
		case e.Resource != "":
			b.WriteString(e.Resource)
		default:
			b.WriteString(e.File)
		}
	}

	if e.Name != "" {
		b.WriteString(" at ")
		b.WriteString(e.Name)
	}

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Attribute returns a copy of e carrying the owning resource and file.
func (e *Error) Attribute(resource, file string) *Error {
	c := *e
	c.Resource = resource
	c.File = file
	return &c
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Resource sets the owning resource and file
func (b *Builder) Resource(resource, file string) *Builder {
	b.err.Resource = resource
	b.err.File = file
	return b
}

// Name sets the function, import or export name
func (b *Builder) Name(name string) *Builder {
	b.err.Name = name
	return b
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common error patterns

// SignatureMismatch reports an import whose declared signature differs from
// an existing same-named binding.
func SignatureMismatch(name, expected, declared string) *Error {
	return &Error{
		Phase:  PhaseLink,
		Kind:   KindSignatureMismatch,
		Name:   name,
		Detail: fmt.Sprintf("wrong function structure on import, defined structure is %q, module declares %q", expected, declared),
	}
}

// Trap wraps an engine trap raised during the given phase.
func Trap(phase Phase, name string, cause error) *Error {
	return &Error{
		Phase: phase,
		Kind:  KindTrap,
		Name:  name,
		Cause: cause,
	}
}

// OutOfBounds creates an out-of-bounds memory access error
func OutOfBounds(address, length, size uint64) *Error {
	return &Error{
		Phase:  PhaseMemory,
		Kind:   KindOutOfBounds,
		Detail: fmt.Sprintf("range [%d, %d) outside memory of %d bytes", address, address+length, size),
		Value:  address,
	}
}

// AllocationFailed creates an allocation failure error
func AllocationFailed(size uint32, cause error) *Error {
	return &Error{
		Phase:  PhaseMemory,
		Kind:   KindAllocation,
		Detail: fmt.Sprintf("failed to allocate %d bytes", size),
		Cause:  cause,
	}
}

// TypeMismatch creates an argument kind mismatch error
func TypeMismatch(phase Phase, index int, expected, got string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindTypeMismatch,
		Detail: fmt.Sprintf("argument %d: expected %s, got %s", index, expected, got),
		Value:  index,
	}
}

// Wrap wraps an existing error with additional context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// NotInitialized creates a not-initialized error
func NotInitialized(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotInitialized,
		Detail: fmt.Sprintf("%s not initialized", what),
	}
}

// NotFound creates a not-found error
func NotFound(phase Phase, what, name string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Name:   name,
		Detail: fmt.Sprintf("%s %q not found", what, name),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Registration creates a registration error
func Registration(name string, cause error) *Error {
	return &Error{
		Phase:  PhaseRegister,
		Kind:   KindRegistration,
		Name:   name,
		Detail: fmt.Sprintf("register %s", name),
		Cause:  cause,
	}
}

// Released reports a call through a binding whose owner was unloaded.
func Released(name string) *Error {
	return &Error{
		Phase:  PhaseCall,
		Kind:   KindReleased,
		Name:   name,
		Detail: "function owner was unloaded",
	}
}

// NativeFailure reports a native function that returned failure.
func NativeFailure(name, msg string) *Error {
	return &Error{
		Phase:  PhaseCall,
		Kind:   KindNativeFailure,
		Name:   name,
		Detail: msg,
	}
}
