package wasm

import (
	"errors"
	"fmt"
	"unicode/utf8"

	"github.com/tetratelabs/wazero/api"
)

// Section IDs used by the parser.
const (
	SectionCustom    byte = 0x00
	SectionType      byte = 0x01
	SectionImport    byte = 0x02
	SectionFunction  byte = 0x03
	SectionTable     byte = 0x04
	SectionMemory    byte = 0x05
	SectionGlobal    byte = 0x06
	SectionExport    byte = 0x07
	SectionStart     byte = 0x08
	SectionElement   byte = 0x09
	SectionCode      byte = 0x0a
	SectionData      byte = 0x0b
	SectionDataCount byte = 0x0c
	SectionTag       byte = 0x0d
)

// ExternKind is the import/export descriptor kind.
type ExternKind byte

const (
	ExternFunc   ExternKind = 0x00
	ExternTable  ExternKind = 0x01
	ExternMemory ExternKind = 0x02
	ExternGlobal ExternKind = 0x03
	ExternTag    ExternKind = 0x04
)

func (k ExternKind) String() string {
	switch k {
	case ExternFunc:
		return "func"
	case ExternTable:
		return "table"
	case ExternMemory:
		return "memory"
	case ExternGlobal:
		return "global"
	case ExternTag:
		return "tag"
	}
	return fmt.Sprintf("kind(%d)", byte(k))
}

var errTruncated = errors.New("unexpected end of module")

// FuncType is a function signature from the type section.
type FuncType struct {
	Params  []api.ValueType
	Results []api.ValueType
}

// Import is one entry of the import section. Desc holds the raw descriptor
// bytes following the kind byte so the entry can be re-encoded unchanged.
type Import struct {
	Module    string
	Name      string
	Desc      []byte
	TypeIndex uint32
	Kind      ExternKind
}

// GlobalType returns the value type and mutability of a global import.
func (i Import) GlobalType() (api.ValueType, bool) {
	if i.Kind != ExternGlobal || len(i.Desc) < 2 {
		return 0, false
	}
	return i.Desc[0], i.Desc[1] == 0x01
}

// Export is one entry of the export section.
type Export struct {
	Name  string
	Index uint32
	Kind  ExternKind
}

// ElementSegment is an active element segment with a constant offset.
// Null entries are recorded as -1.
type ElementSegment struct {
	Funcs  []int64
	Table  uint32
	Offset uint32
}

// Section records the content range of one section.
type Section struct {
	Start int
	End   int
	ID    byte
}

// Module is the subset of a decoded module the linker works with.
type Module struct {
	Types      []FuncType
	Imports    []Import
	Functions  []uint32
	Exports    []Export
	Elements   []ElementSegment
	Sections   []Section
	TableCount int
	// ImportedFuncs counts function imports, which precede defined functions
	// in the function index space.
	ImportedFuncs   int
	ImportedTables  int
	MemoryCount     int
	SkippedElements int
}

// FuncTypeOf returns the signature of the function at index idx.
func (m *Module) FuncTypeOf(idx uint32) (FuncType, bool) {
	var typeIdx uint32
	if int(idx) < m.ImportedFuncs {
		n := 0
		for _, imp := range m.Imports {
			if imp.Kind != ExternFunc {
				continue
			}
			if n == int(idx) {
				typeIdx = imp.TypeIndex
				break
			}
			n++
		}
	} else {
		local := int(idx) - m.ImportedFuncs
		if local >= len(m.Functions) {
			return FuncType{}, false
		}
		typeIdx = m.Functions[local]
	}
	if int(typeIdx) >= len(m.Types) {
		return FuncType{}, false
	}
	return m.Types[typeIdx], true
}

// ImportFuncType returns the declared signature of a function import.
func (m *Module) ImportFuncType(imp Import) (FuncType, bool) {
	if imp.Kind != ExternFunc || int(imp.TypeIndex) >= len(m.Types) {
		return FuncType{}, false
	}
	return m.Types[imp.TypeIndex], true
}

// Export returns the export with the given name.
func (m *Module) Export(name string) (Export, bool) {
	for _, e := range m.Exports {
		if e.Name == name {
			return e, true
		}
	}
	return Export{}, false
}

// Section returns the content range of the first section with the given id.
func (m *Module) Section(id byte) (Section, bool) {
	for _, s := range m.Sections {
		if s.ID == id {
			return s, true
		}
	}
	return Section{}, false
}

type reader struct {
	err error
	b   []byte
	pos int
}

func (r *reader) fail(err error) {
	if r.err == nil {
		r.err = err
	}
}

func (r *reader) done() bool {
	return r.err != nil || r.pos >= len(r.b)
}

func (r *reader) byte() byte {
	if r.err != nil {
		return 0
	}
	if r.pos >= len(r.b) {
		r.fail(errTruncated)
		return 0
	}
	v := r.b[r.pos]
	r.pos++
	return v
}

func (r *reader) u64() uint64 {
	if r.err != nil {
		return 0
	}
	v, n := DecodeULEB128(r.b[r.pos:])
	if n == 0 {
		r.fail(errTruncated)
		return 0
	}
	r.pos += n
	return v
}

func (r *reader) u32() uint32 {
	v := r.u64()
	if v > 0xffffffff {
		r.fail(fmt.Errorf("integer %d overflows u32 at offset %d", v, r.pos))
		return 0
	}
	return uint32(v)
}

func (r *reader) s64() int64 {
	if r.err != nil {
		return 0
	}
	v, n := DecodeSLEB128(r.b[r.pos:])
	if n == 0 {
		r.fail(errTruncated)
		return 0
	}
	r.pos += n
	return v
}

func (r *reader) bytes(n uint32) []byte {
	if r.err != nil {
		return nil
	}
	if uint64(r.pos)+uint64(n) > uint64(len(r.b)) {
		r.fail(errTruncated)
		return nil
	}
	v := r.b[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return v
}

func (r *reader) name() string {
	raw := r.bytes(r.u32())
	if r.err == nil && !utf8.Valid(raw) {
		r.fail(fmt.Errorf("invalid UTF-8 name at offset %d", r.pos))
	}
	return string(raw)
}

func (r *reader) limits() {
	flags := r.byte()
	if flags&0x04 != 0 {
		r.u64()
		if flags&0x01 != 0 {
			r.u64()
		}
		return
	}
	r.u32()
	if flags&0x01 != 0 {
		r.u32()
	}
}

// constExpr decodes a constant expression. ok is false when the expression
// is not a single i32.const, ref.func or ref.null.
func (r *reader) constExpr() (value int64, ok bool) {
	count := 0
	for !r.done() {
		op := r.byte()
		switch op {
		case 0x0b:
			return value, ok && count == 1
		case 0x41, 0x42:
			value, ok = r.s64(), op == 0x41
		case 0x43:
			r.bytes(4)
			ok = false
		case 0x44:
			r.bytes(8)
			ok = false
		case 0x23:
			r.u32()
			ok = false
		case 0xd2:
			value, ok = int64(r.u32()), true
		case 0xd0:
			r.byte()
			value, ok = -1, true
		case 0x6a, 0x6b, 0x6c, 0x7c, 0x7d, 0x7e:
			ok = false
		case 0xfd:
			// v128.const
			r.u32()
			r.bytes(16)
			ok = false
		default:
			r.fail(fmt.Errorf("unsupported opcode 0x%02x in constant expression", op))
		}
		count++
	}
	r.fail(errTruncated)
	return 0, false
}

// ParseModule decodes the sections of a module binary. It checks structure
// only; full validation is left to the engine.
func ParseModule(b []byte) (*Module, error) {
	if !HasMagic(b) || len(b) < 8 {
		return nil, errors.New("missing magic or version")
	}

	m := &Module{}
	r := &reader{b: b, pos: 8}
	lastID := byte(0)
	for !r.done() {
		id := r.byte()
		size := r.u32()
		start := r.pos
		content := r.bytes(size)
		if r.err != nil {
			break
		}
		if id != SectionCustom {
			if id > SectionTag {
				return nil, fmt.Errorf("unknown section id %d", id)
			}
			if sectionRank(id) <= sectionRank(lastID) {
				return nil, fmt.Errorf("section %d out of order", id)
			}
			lastID = id
		}
		m.Sections = append(m.Sections, Section{ID: id, Start: start, End: start + int(size)})

		sr := &reader{b: content}
		switch id {
		case SectionType:
			parseTypes(sr, m)
		case SectionImport:
			parseImports(sr, m)
		case SectionFunction:
			for n := sr.u32(); n > 0 && sr.err == nil; n-- {
				m.Functions = append(m.Functions, sr.u32())
			}
		case SectionTable:
			n := sr.u32()
			for i := uint32(0); i < n && sr.err == nil; i++ {
				sr.byte()
				sr.limits()
			}
			m.TableCount += int(n)
		case SectionMemory:
			n := sr.u32()
			for i := uint32(0); i < n && sr.err == nil; i++ {
				sr.limits()
			}
			m.MemoryCount += int(n)
		case SectionExport:
			parseExports(sr, m)
		case SectionElement:
			parseElements(sr, m)
		default:
			continue
		}
		if sr.err != nil {
			return nil, fmt.Errorf("section %d: %w", id, sr.err)
		}
		if !sr.done() {
			return nil, fmt.Errorf("section %d: %d trailing bytes", id, len(content)-sr.pos)
		}
	}
	if r.err != nil {
		return nil, r.err
	}
	return m, nil
}

func parseTypes(r *reader, m *Module) {
	for n := r.u32(); n > 0 && r.err == nil; n-- {
		if form := r.byte(); form != 0x60 {
			r.fail(fmt.Errorf("unsupported type form 0x%02x", form))
			return
		}
		var ft FuncType
		for p := r.u32(); p > 0 && r.err == nil; p-- {
			ft.Params = append(ft.Params, r.byte())
		}
		for p := r.u32(); p > 0 && r.err == nil; p-- {
			ft.Results = append(ft.Results, r.byte())
		}
		m.Types = append(m.Types, ft)
	}
}

func parseImports(r *reader, m *Module) {
	for n := r.u32(); n > 0 && r.err == nil; n-- {
		imp := Import{Module: r.name(), Name: r.name()}
		imp.Kind = ExternKind(r.byte())
		descStart := r.pos
		switch imp.Kind {
		case ExternFunc:
			imp.TypeIndex = r.u32()
			m.ImportedFuncs++
		case ExternTable:
			r.byte()
			r.limits()
			m.ImportedTables++
			m.TableCount++
		case ExternMemory:
			r.limits()
			m.MemoryCount++
		case ExternGlobal:
			r.byte()
			r.byte()
		case ExternTag:
			r.byte()
			r.u32()
		default:
			r.fail(fmt.Errorf("unknown import kind %d", imp.Kind))
			return
		}
		if r.err == nil {
			imp.Desc = r.b[descStart:r.pos]
		}
		m.Imports = append(m.Imports, imp)
	}
}

func parseExports(r *reader, m *Module) {
	for n := r.u32(); n > 0 && r.err == nil; n-- {
		e := Export{Name: r.name()}
		e.Kind = ExternKind(r.byte())
		e.Index = r.u32()
		m.Exports = append(m.Exports, e)
	}
}

func parseElements(r *reader, m *Module) {
	for n := r.u32(); n > 0 && r.err == nil; n-- {
		flags := r.u32()
		if flags > 7 {
			r.fail(fmt.Errorf("unknown element segment flags %d", flags))
			return
		}
		active := flags&0x01 == 0
		var table uint32
		if flags&0x02 != 0 && active {
			table = r.u32()
		}
		var offset int64
		offsetOK := false
		if active {
			offset, offsetOK = r.constExpr()
		}
		// elemkind or reftype byte is present unless flags is 0 or 4
		if flags&0x03 != 0 {
			r.byte()
		}

		count := r.u32()
		seg := ElementSegment{Table: table, Offset: uint32(offset)}
		for i := uint32(0); i < count && r.err == nil; i++ {
			if flags&0x04 != 0 {
				v, ok := r.constExpr()
				if !ok {
					v = -1
				}
				seg.Funcs = append(seg.Funcs, v)
			} else {
				seg.Funcs = append(seg.Funcs, int64(r.u32()))
			}
		}
		if !active {
			continue
		}
		if !offsetOK || offset < 0 {
			m.SkippedElements++
			continue
		}
		m.Elements = append(m.Elements, seg)
	}
}

// sectionRank orders non-custom sections as the binary format requires.
func sectionRank(id byte) int {
	switch id {
	case SectionType:
		return 1
	case SectionImport:
		return 2
	case SectionFunction:
		return 3
	case SectionTable:
		return 4
	case SectionMemory:
		return 5
	case SectionTag:
		return 6
	case SectionGlobal:
		return 7
	case SectionExport:
		return 8
	case SectionStart:
		return 9
	case SectionElement:
		return 10
	case SectionDataCount:
		return 11
	case SectionCode:
		return 12
	case SectionData:
		return 13
	}
	return 0
}
