package linker

import (
	"fmt"
	"strings"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/wasm-scripting/errors"
)

// Kind is one parameter or result kind of a signature, encoded as a single
// character in signature strings.
type Kind byte

const (
	KindInt32    Kind = 'i'
	KindInt64    Kind = 'l'
	KindFloat32  Kind = 'f'
	KindFloat64  Kind = 'd'
	KindBool     Kind = 'b'
	KindPointer  Kind = '*'
	KindString   Kind = 's'
	KindSize     Kind = 'x'
	KindElement  Kind = 'e'
	KindUserData Kind = 'u'
)

// noResult marks a signature string without a result.
const noResult = 'v'

// Valid reports whether k is a known kind.
func (k Kind) Valid() bool {
	switch k {
	case KindInt32, KindInt64, KindFloat32, KindFloat64, KindBool,
		KindPointer, KindString, KindSize, KindElement, KindUserData:
		return true
	}
	return false
}

// ValueType returns the wire type of k.
func (k Kind) ValueType() api.ValueType {
	switch k {
	case KindInt64:
		return api.ValueTypeI64
	case KindFloat32:
		return api.ValueTypeF32
	case KindFloat64:
		return api.ValueTypeF64
	default:
		return api.ValueTypeI32
	}
}

// SameWire reports whether k and o travel as the same wire type.
func (k Kind) SameWire(o Kind) bool {
	return k.ValueType() == o.ValueType()
}

func (k Kind) String() string {
	switch k {
	case KindInt32:
		return "int32"
	case KindInt64:
		return "int64"
	case KindFloat32:
		return "float32"
	case KindFloat64:
		return "float64"
	case KindBool:
		return "bool"
	case KindPointer:
		return "pointer"
	case KindString:
		return "string"
	case KindSize:
		return "size"
	case KindElement:
		return "element"
	case KindUserData:
		return "userdata"
	}
	return fmt.Sprintf("kind(%q)", byte(k))
}

// KindOf maps a numeric wire type to its plain kind.
func KindOf(t api.ValueType) (Kind, bool) {
	switch t {
	case api.ValueTypeI32:
		return KindInt32, true
	case api.ValueTypeI64:
		return KindInt64, true
	case api.ValueTypeF32:
		return KindFloat32, true
	case api.ValueTypeF64:
		return KindFloat64, true
	}
	return 0, false
}

// Signature is an ordered list of parameter kinds and result kinds.
type Signature struct {
	Params  []Kind
	Results []Kind
}

// ParseSignature decodes a signature string. The first character is the
// result kind ('v' for none) and the rest are parameters, so "beiii" is
// (element, int32, int32, int32) -> bool. Multiple results are written in
// parentheses: "(ii)l". The empty string is () -> ().
func ParseSignature(s string) (Signature, error) {
	var sig Signature
	if s == "" {
		return sig, nil
	}

	rest := s
	switch {
	case rest[0] == '(':
		end := strings.IndexByte(rest, ')')
		if end < 0 {
			return Signature{}, errors.InvalidInput(errors.PhaseParse, fmt.Sprintf("signature %q: unterminated result list", s))
		}
		for i := 1; i < end; i++ {
			sig.Results = append(sig.Results, Kind(rest[i]))
		}
		rest = rest[end+1:]
	case rest[0] == noResult:
		rest = rest[1:]
	default:
		sig.Results = []Kind{Kind(rest[0])}
		rest = rest[1:]
	}
	for i := 0; i < len(rest); i++ {
		sig.Params = append(sig.Params, Kind(rest[i]))
	}

	for _, k := range append(append([]Kind{}, sig.Results...), sig.Params...) {
		if !k.Valid() {
			return Signature{}, errors.New(errors.PhaseParse, errors.KindInvalidInput).
				Value(s).
				Detail("signature %q: unknown kind %q", s, byte(k)).
				Build()
		}
	}
	return sig, nil
}

// MustParseSignature is ParseSignature that panics on error.
func MustParseSignature(s string) Signature {
	sig, err := ParseSignature(s)
	if err != nil {
		panic(err)
	}
	return sig
}

// SignatureOf builds a signature from engine value types.
func SignatureOf(params, results []api.ValueType) (Signature, error) {
	var sig Signature
	for _, t := range params {
		k, ok := KindOf(t)
		if !ok {
			return Signature{}, errors.InvalidInput(errors.PhaseLink, fmt.Sprintf("unsupported parameter type %s", api.ValueTypeName(t)))
		}
		sig.Params = append(sig.Params, k)
	}
	for _, t := range results {
		k, ok := KindOf(t)
		if !ok {
			return Signature{}, errors.InvalidInput(errors.PhaseLink, fmt.Sprintf("unsupported result type %s", api.ValueTypeName(t)))
		}
		sig.Results = append(sig.Results, k)
	}
	return sig, nil
}

// Compatible reports whether both signatures have the same wire types in
// the same order.
func (s Signature) Compatible(o Signature) bool {
	if len(s.Params) != len(o.Params) || len(s.Results) != len(o.Results) {
		return false
	}
	for i := range s.Params {
		if !s.Params[i].SameWire(o.Params[i]) {
			return false
		}
	}
	for i := range s.Results {
		if !s.Results[i].SameWire(o.Results[i]) {
			return false
		}
	}
	return true
}

// ParamTypes returns the wire types of the parameters.
func (s Signature) ParamTypes() []api.ValueType {
	return valueTypes(s.Params)
}

// ResultTypes returns the wire types of the results.
func (s Signature) ResultTypes() []api.ValueType {
	return valueTypes(s.Results)
}

func valueTypes(kinds []Kind) []api.ValueType {
	if len(kinds) == 0 {
		return nil
	}
	out := make([]api.ValueType, len(kinds))
	for i, k := range kinds {
		out[i] = k.ValueType()
	}
	return out
}

// String returns the signature string form accepted by ParseSignature.
func (s Signature) String() string {
	var b strings.Builder
	switch len(s.Results) {
	case 0:
		b.WriteByte(noResult)
	case 1:
		b.WriteByte(byte(s.Results[0]))
	default:
		b.WriteByte('(')
		for _, k := range s.Results {
			b.WriteByte(byte(k))
		}
		b.WriteByte(')')
	}
	for _, k := range s.Params {
		b.WriteByte(byte(k))
	}
	return b.String()
}

// Describe renders the signature for diagnostics, e.g. "(int32, pointer) -> (bool)".
func (s Signature) Describe() string {
	join := func(kinds []Kind) string {
		parts := make([]string, len(kinds))
		for i, k := range kinds {
			parts[i] = k.String()
		}
		return "(" + strings.Join(parts, ", ") + ")"
	}
	return join(s.Params) + " -> " + join(s.Results)
}
