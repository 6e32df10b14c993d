package wasmscripting

import "context"

// GuestAddress is a 32-bit offset into one script's linear memory.
// It is meaningless outside the script that produced it.
type GuestAddress uint32

// NullAddress is the canonical null guest address.
const NullAddress GuestAddress = 0

// IsNull reports whether a is the null address.
func (a GuestAddress) IsNull() bool {
	return a == NullAddress
}

// HostPointer is a host address obtained by translating a GuestAddress
// through the owning script's memory view.
type HostPointer uintptr

// Memory represents guest linear memory addressed by GuestAddress
type Memory interface {
	Read(addr GuestAddress, length uint32) ([]byte, error)
	Write(addr GuestAddress, data []byte) error
	ReadUint32(addr GuestAddress) (uint32, error)
	WriteUint32(addr GuestAddress, value uint32) error
	Size() uint32
}

// Allocator allocates guest memory through the guest's own allocator
type Allocator interface {
	Malloc(ctx context.Context, size uint32) GuestAddress
	Free(ctx context.Context, addr GuestAddress)
}

// StringTransfer moves NUL-terminated UTF-8 strings across the boundary
type StringTransfer interface {
	StringToGuest(ctx context.Context, text string) GuestAddress
	GuestToString(addr GuestAddress, length int) string
}
