package linker

import "github.com/tetratelabs/wazero/api"

// ExternKind tags the variant held by an Extern.
type ExternKind int

const (
	ExternFunction ExternKind = iota
	ExternMemory
	ExternTable
	ExternGlobal
)

func (k ExternKind) String() string {
	switch k {
	case ExternFunction:
		return "function"
	case ExternMemory:
		return "memory"
	case ExternTable:
		return "table"
	case ExternGlobal:
		return "global"
	}
	return "unknown"
}

// Extern is one export of a loaded Script. Exactly one of Function, Memory,
// Global is set for the matching kind; tables carry only their index.
type Extern struct {
	Kind       ExternKind
	Name       string
	Function   *FunctionBinding
	Memory     api.Memory
	Global     api.Global
	TableIndex uint32
}
