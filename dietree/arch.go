package dietree

import "encoding/binary"

// Endianness selects the byte order used for every multi-byte field the
// encoder writes.
type Endianness int

const (
	LittleEndian Endianness = iota
	BigEndian
)

// Arch is the target architecture descriptor required by §6: word size,
// endianness, and the integer-packing operation every fixed-width field
// in the output sections is built from.
type Arch struct {
	// WordSize is the target address width in bytes: 4 or 8.
	WordSize int
	Endian   Endianness
}

// ByteOrder returns the encoding/binary.ByteOrder matching Endian, the
// same pattern the teacher's unwind.go threads through as d.order for
// every binary.Read call.
func (a Arch) ByteOrder() binary.ByteOrder {
	if a.Endian == BigEndian {
		return binary.BigEndian
	}
	return binary.LittleEndian
}

// PutAddr writes a target-word address into dst, which must be at least
// WordSize bytes long.
func (a Arch) PutAddr(dst []byte, v uint64) {
	a.PutInt(dst, a.WordSize, false, int64(v))
}

// PutInt is the architecture descriptor's required pack_int operation: it
// writes the low size bytes of value into dst in the target's byte
// order. The signed flag does not change the bit pattern written (two's
// complement is identical either way); it exists so callers can express
// intent and so future forms that do need to distinguish can do so.
func (a Arch) PutInt(dst []byte, size int, signed bool, value int64) {
	_ = signed
	bo := a.ByteOrder()
	switch size {
	case 1:
		dst[0] = byte(value)
	case 2:
		bo.PutUint16(dst, uint16(value))
	case 4:
		bo.PutUint32(dst, uint32(value))
	case 8:
		bo.PutUint64(dst, uint64(value))
	default:
		panic("dietree: unsupported integer width")
	}
}
