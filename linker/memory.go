package linker

import (
	"bytes"
	"context"
	"unsafe"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/zap"

	wasmscripting "github.com/wippyai/wasm-scripting"
	"github.com/wippyai/wasm-scripting/errors"
)

// Reserved export names of the guest allocator.
const (
	MallocName = "malloc"
	FreeName   = "free"
)

var (
	_ wasmscripting.Memory         = (*MemoryView)(nil)
	_ wasmscripting.Allocator      = (*MemoryView)(nil)
	_ wasmscripting.StringTransfer = (*MemoryView)(nil)
)

// MemoryView wraps the first exported memory of a Script together with the
// Script's own malloc and free exports.
type MemoryView struct {
	script *Script
	mem    api.Memory
	malloc api.Function
	free   api.Function
}

func newMemoryView(s *Script, mem api.Memory, mod api.Module) *MemoryView {
	return &MemoryView{
		script: s,
		mem:    mem,
		malloc: mod.ExportedFunction(MallocName),
		free:   mod.ExportedFunction(FreeName),
	}
}

// Size returns the current memory size in bytes.
func (m *MemoryView) Size() uint32 {
	return m.mem.Size()
}

// Malloc allocates size bytes with the guest allocator. It returns null when
// size is zero, the guest exports no allocator, or the allocator fails.
func (m *MemoryView) Malloc(ctx context.Context, size uint32) wasmscripting.GuestAddress {
	if size == 0 {
		return wasmscripting.NullAddress
	}
	if m.malloc == nil {
		Logger().Warn("couldn't find module function", m.fields(zap.String("function", MallocName))...)
		return wasmscripting.NullAddress
	}
	res, err := m.malloc.Call(ctx, api.EncodeU32(size))
	if err != nil {
		Logger().Warn("guest allocation failed",
			m.fields(zap.Uint32("size", size), zap.Error(errors.AllocationFailed(size, err)))...)
		return wasmscripting.NullAddress
	}
	if len(res) == 0 {
		Logger().Warn("guest allocator returned no result", m.fields(zap.Uint32("size", size))...)
		return wasmscripting.NullAddress
	}
	return wasmscripting.GuestAddress(api.DecodeU32(res[0]))
}

// Free releases addr with the guest deallocator. Null is a no-op.
func (m *MemoryView) Free(ctx context.Context, addr wasmscripting.GuestAddress) {
	if addr.IsNull() {
		return
	}
	if m.free == nil {
		Logger().Warn("couldn't find module function", m.fields(zap.String("function", FreeName))...)
		return
	}
	if _, err := m.free.Call(ctx, api.EncodeU32(uint32(addr))); err != nil {
		Logger().Warn("guest free failed", m.fields(zap.Uint32("address", uint32(addr)), zap.Error(err))...)
	}
}

// StringToGuest copies text plus a NUL terminator into freshly allocated
// guest memory. Empty text or a failed allocation yields null.
func (m *MemoryView) StringToGuest(ctx context.Context, text string) wasmscripting.GuestAddress {
	if text == "" {
		return wasmscripting.NullAddress
	}
	n := uint32(len(text)) + 1
	addr := m.Malloc(ctx, n)
	if addr.IsNull() {
		return wasmscripting.NullAddress
	}
	buf := make([]byte, n)
	copy(buf, text)
	if !m.mem.Write(uint32(addr), buf) {
		Logger().Warn("guest allocator returned an address outside memory",
			m.fields(zap.Uint32("address", uint32(addr)), zap.Uint32("size", n))...)
		m.Free(ctx, addr)
		return wasmscripting.NullAddress
	}
	return addr
}

// GuestToString reads a string at addr. A length of -1 reads up to the first
// NUL or the end of memory. Null, zero length or out-of-range reads yield "".
func (m *MemoryView) GuestToString(addr wasmscripting.GuestAddress, length int) string {
	if addr.IsNull() || length == 0 {
		return ""
	}
	size := m.mem.Size()
	if uint32(addr) >= size {
		return ""
	}
	if length < 0 {
		rest, ok := m.mem.Read(uint32(addr), size-uint32(addr))
		if !ok {
			return ""
		}
		if i := bytes.IndexByte(rest, 0); i >= 0 {
			rest = rest[:i]
		}
		return string(rest)
	}
	b, ok := m.mem.Read(uint32(addr), uint32(length))
	if !ok {
		return ""
	}
	return string(b)
}

// Read returns a view of length bytes at addr. The view aliases guest
// memory and is invalidated by memory growth.
func (m *MemoryView) Read(addr wasmscripting.GuestAddress, length uint32) ([]byte, error) {
	b, ok := m.mem.Read(uint32(addr), length)
	if !ok {
		return nil, errors.OutOfBounds(uint64(addr), uint64(length), uint64(m.mem.Size()))
	}
	return b, nil
}

// Bytes returns a copy of length bytes at addr.
func (m *MemoryView) Bytes(addr wasmscripting.GuestAddress, length uint32) ([]byte, error) {
	b, err := m.Read(addr, length)
	if err != nil {
		return nil, err
	}
	return bytes.Clone(b), nil
}

func (m *MemoryView) Write(addr wasmscripting.GuestAddress, data []byte) error {
	if !m.mem.Write(uint32(addr), data) {
		return errors.OutOfBounds(uint64(addr), uint64(len(data)), uint64(m.mem.Size()))
	}
	return nil
}

func (m *MemoryView) ReadUint32(addr wasmscripting.GuestAddress) (uint32, error) {
	v, ok := m.mem.ReadUint32Le(uint32(addr))
	if !ok {
		return 0, errors.OutOfBounds(uint64(addr), 4, uint64(m.mem.Size()))
	}
	return v, nil
}

func (m *MemoryView) WriteUint32(addr wasmscripting.GuestAddress, value uint32) error {
	if !m.mem.WriteUint32Le(uint32(addr), value) {
		return errors.OutOfBounds(uint64(addr), 4, uint64(m.mem.Size()))
	}
	return nil
}

// base returns the host address of offset zero, or 0 for an empty memory.
func (m *MemoryView) base() uintptr {
	size := m.mem.Size()
	if size == 0 {
		return 0
	}
	b, ok := m.mem.Read(0, size)
	if !ok || len(b) == 0 {
		return 0
	}
	return uintptr(unsafe.Pointer(unsafe.SliceData(b)))
}

// Translate converts addr into a host pointer. Null and addresses outside
// the current memory are rejected. The result is invalidated by memory
// growth.
func (m *MemoryView) Translate(addr wasmscripting.GuestAddress) (wasmscripting.HostPointer, error) {
	if addr.IsNull() {
		return 0, errors.New(errors.PhaseMemory, errors.KindInvalidInput).Detail("null address").Build()
	}
	if uint32(addr) >= m.mem.Size() {
		return 0, errors.OutOfBounds(uint64(addr), 1, uint64(m.mem.Size()))
	}
	return wasmscripting.HostPointer(m.base() + uintptr(addr)), nil
}

// BelongsTo reports whether ptr lies within this memory, end inclusive.
func (m *MemoryView) BelongsTo(ptr wasmscripting.HostPointer) bool {
	if ptr == 0 {
		return false
	}
	base := m.base()
	if base == 0 {
		return false
	}
	p := uintptr(ptr)
	return p >= base && p <= base+uintptr(m.mem.Size())
}

func (m *MemoryView) fields(extra ...zap.Field) []zap.Field {
	return append(scriptFields(m.script), extra...)
}
