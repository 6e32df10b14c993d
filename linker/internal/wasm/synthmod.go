package wasm

import (
	"fmt"

	"github.com/tetratelabs/wazero/api"
)

// StubModuleBuilder builds a module exporting inert definitions that satisfy
// a set of imports: functions that trap, fresh tables and memories with the
// imported limits, and globals initialized to zero.
type StubModuleBuilder struct {
	names    map[string]bool
	funcs    []stubFunc
	tables   []stubDef
	memories []stubDef
	globals  []stubDef
}

type stubFunc struct {
	name string
	typ  FuncType
}

type stubDef struct {
	name string
	desc []byte
}

// NewStubModuleBuilder creates an empty builder.
func NewStubModuleBuilder() *StubModuleBuilder {
	return &StubModuleBuilder{names: make(map[string]bool)}
}

// Add registers a stub for imp. Imports repeating an already added name are
// ignored; the engine reports any type conflict at instantiation.
func (b *StubModuleBuilder) Add(imp Import, m *Module) error {
	if b.names[imp.Name] {
		return nil
	}
	switch imp.Kind {
	case ExternFunc:
		ft, ok := m.ImportFuncType(imp)
		if !ok {
			return fmt.Errorf("import %s.%s: type index %d out of range", imp.Module, imp.Name, imp.TypeIndex)
		}
		b.funcs = append(b.funcs, stubFunc{name: imp.Name, typ: ft})
	case ExternTable:
		b.tables = append(b.tables, stubDef{name: imp.Name, desc: imp.Desc})
	case ExternMemory:
		b.memories = append(b.memories, stubDef{name: imp.Name, desc: imp.Desc})
	case ExternGlobal:
		if _, ok := zeroInit(imp.Desc[0]); !ok {
			return fmt.Errorf("import %s.%s: unsupported global type 0x%02x", imp.Module, imp.Name, imp.Desc[0])
		}
		b.globals = append(b.globals, stubDef{name: imp.Name, desc: imp.Desc})
	default:
		return fmt.Errorf("import %s.%s: cannot stub %s", imp.Module, imp.Name, imp.Kind)
	}
	b.names[imp.Name] = true
	return nil
}

// Empty reports whether nothing was added.
func (b *StubModuleBuilder) Empty() bool {
	return len(b.names) == 0
}

// Build generates the module bytes.
func (b *StubModuleBuilder) Build() []byte {
	wasm := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

	if len(b.funcs) > 0 {
		types := EncodeULEB128(uint32(len(b.funcs)))
		funcs := EncodeULEB128(uint32(len(b.funcs)))
		for i, f := range b.funcs {
			types = append(types, 0x60)
			types = appendValTypes(types, f.typ.Params)
			types = appendValTypes(types, f.typ.Results)
			funcs = append(funcs, EncodeULEB128(uint32(i))...)
		}
		wasm = appendSection(wasm, SectionType, types)
		wasm = appendSection(wasm, SectionFunction, funcs)
	}
	if len(b.tables) > 0 {
		wasm = appendSection(wasm, SectionTable, defs(b.tables, nil))
	}
	if len(b.memories) > 0 {
		wasm = appendSection(wasm, SectionMemory, defs(b.memories, nil))
	}
	if len(b.globals) > 0 {
		wasm = appendSection(wasm, SectionGlobal, defs(b.globals, func(d stubDef) []byte {
			init, _ := zeroInit(d.desc[0])
			return append(init, 0x0b)
		}))
	}

	var exports []Export
	for i, f := range b.funcs {
		exports = append(exports, Export{Name: f.name, Kind: ExternFunc, Index: uint32(i)})
	}
	for i, d := range b.tables {
		exports = append(exports, Export{Name: d.name, Kind: ExternTable, Index: uint32(i)})
	}
	for i, d := range b.memories {
		exports = append(exports, Export{Name: d.name, Kind: ExternMemory, Index: uint32(i)})
	}
	for i, d := range b.globals {
		exports = append(exports, Export{Name: d.name, Kind: ExternGlobal, Index: uint32(i)})
	}
	wasm = appendSection(wasm, SectionExport, ExportSection(exports))

	if len(b.funcs) > 0 {
		code := EncodeULEB128(uint32(len(b.funcs)))
		for range b.funcs {
			// no locals, unreachable, end
			code = append(code, 0x03, 0x00, 0x00, 0x0b)
		}
		wasm = appendSection(wasm, SectionCode, code)
	}
	return wasm
}

func defs(ds []stubDef, suffix func(stubDef) []byte) []byte {
	out := EncodeULEB128(uint32(len(ds)))
	for _, d := range ds {
		out = append(out, d.desc...)
		if suffix != nil {
			out = append(out, suffix(d)...)
		}
	}
	return out
}

func appendValTypes(out []byte, ts []api.ValueType) []byte {
	out = append(out, EncodeULEB128(uint32(len(ts)))...)
	return append(out, ts...)
}

// zeroInit returns the constant expression (without end) producing the zero
// value of t.
func zeroInit(t api.ValueType) ([]byte, bool) {
	switch t {
	case api.ValueTypeI32:
		return []byte{0x41, 0x00}, true
	case api.ValueTypeI64:
		return []byte{0x42, 0x00}, true
	case api.ValueTypeF32:
		return []byte{0x43, 0, 0, 0, 0}, true
	case api.ValueTypeF64:
		return []byte{0x44, 0, 0, 0, 0, 0, 0, 0, 0}, true
	case api.ValueTypeExternref, 0x70:
		return []byte{0xd0, t}, true
	}
	return nil, false
}
