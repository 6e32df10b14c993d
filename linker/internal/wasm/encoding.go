package wasm

import (
	"github.com/tetratelabs/wazero/api"
)

// Magic is the module preamble: "\0asm" followed by version 1.
var Magic = []byte{0x00, 0x61, 0x73, 0x6d, 0x01}

// HasMagic reports whether b starts with the magic bytes and version 1.
func HasMagic(b []byte) bool {
	if len(b) < len(Magic) {
		return false
	}
	for i, m := range Magic {
		if b[i] != m {
			return false
		}
	}
	return true
}

// EncodeULEB128 encodes an unsigned value in LEB128 format.
func EncodeULEB128(v uint32) []byte {
	var result []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		result = append(result, b)
		if v == 0 {
			break
		}
	}
	return result
}

// EncodeSLEB128 encodes a signed value in LEB128 format.
func EncodeSLEB128[T int32 | int64](v T) []byte {
	var result []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			result = append(result, b)
			break
		}
		result = append(result, b|0x80)
	}
	return result
}

// DecodeULEB128 decodes an unsigned LEB128 value. The second result is the
// number of bytes consumed, 0 when data ends before the value does.
func DecodeULEB128(data []byte) (uint64, int) {
	var result uint64
	var shift uint
	for i, b := range data {
		if shift >= 64 {
			return 0, 0
		}
		result |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return result, i + 1
		}
		shift += 7
	}
	return 0, 0
}

// DecodeSLEB128 decodes a signed LEB128 value.
func DecodeSLEB128(data []byte) (int64, int) {
	var result int64
	var shift uint
	for i, b := range data {
		if shift >= 64 {
			return 0, 0
		}
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			if shift < 64 && b&0x40 != 0 {
				result |= -1 << shift
			}
			return result, i + 1
		}
	}
	return 0, 0
}

// EncodeName encodes a length-prefixed UTF-8 name.
func EncodeName(s string) []byte {
	out := EncodeULEB128(uint32(len(s)))
	return append(out, s...)
}

// IsNumeric reports whether t is one of the four numeric value types.
func IsNumeric(t api.ValueType) bool {
	switch t {
	case api.ValueTypeI32, api.ValueTypeI64, api.ValueTypeF32, api.ValueTypeF64:
		return true
	}
	return false
}
