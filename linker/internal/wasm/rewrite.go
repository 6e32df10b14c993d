package wasm

import "sort"

// Rebuild re-emits the module with the given section contents replaced.
// Sections absent from the original are inserted at their canonical
// position. Custom sections are kept where they were.
func Rebuild(b []byte, m *Module, replace map[byte][]byte) []byte {
	pending := make(map[byte][]byte, len(replace))
	for id, content := range replace {
		pending[id] = content
	}

	out := make([]byte, 0, len(b)+64)
	out = append(out, b[:8]...)

	flush := func(before int) {
		ids := make([]byte, 0, len(pending))
		for id := range pending {
			if sectionRank(id) < before {
				ids = append(ids, id)
			}
		}
		sort.Slice(ids, func(i, j int) bool { return sectionRank(ids[i]) < sectionRank(ids[j]) })
		for _, id := range ids {
			out = appendSection(out, id, pending[id])
			delete(pending, id)
		}
	}

	for _, s := range m.Sections {
		if s.ID != SectionCustom {
			flush(sectionRank(s.ID))
		}
		if content, ok := pending[s.ID]; ok && s.ID != SectionCustom {
			out = appendSection(out, s.ID, content)
			delete(pending, s.ID)
			continue
		}
		out = appendSection(out, s.ID, b[s.Start:s.End])
	}
	flush(int(^uint(0) >> 1))
	return out
}

func appendSection(out []byte, id byte, content []byte) []byte {
	out = append(out, id)
	out = append(out, EncodeULEB128(uint32(len(content)))...)
	return append(out, content...)
}

// ImportSection encodes imports, taking each module name from rename.
func ImportSection(imports []Import, rename func(i int, imp Import) string) []byte {
	section := EncodeULEB128(uint32(len(imports)))
	for i, imp := range imports {
		section = append(section, EncodeName(rename(i, imp))...)
		section = append(section, EncodeName(imp.Name)...)
		section = append(section, byte(imp.Kind))
		section = append(section, imp.Desc...)
	}
	return section
}

// ExportSection encodes exports in order.
func ExportSection(exports []Export) []byte {
	section := EncodeULEB128(uint32(len(exports)))
	for _, e := range exports {
		section = append(section, EncodeName(e.Name)...)
		section = append(section, byte(e.Kind))
		section = append(section, EncodeULEB128(e.Index)...)
	}
	return section
}
