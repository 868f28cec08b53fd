// Package leb128 implements the unsigned and signed LEB128 variable-length
// integer encodings used throughout DWARF.
//
// The decoders exist only to let tests verify the round-trip property
// (encode then decode yields the original value); production callers never
// need to parse DWARF back out of bytes, so nothing else in this module
// imports the decode side.
package leb128

import (
	"bytes"
	"errors"
	"io"
)

// AppendUnsigned appends the ULEB128 encoding of v to dst and returns the
// extended slice.
func AppendUnsigned(dst []byte, v uint64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			b |= 0x80
		}
		dst = append(dst, b)
		if v == 0 {
			break
		}
	}
	return dst
}

// AppendSigned appends the SLEB128 encoding of v to dst and returns the
// extended slice. Termination follows the standard rule: stop once the
// remaining value is 0 with the sign bit of the last group clear, or -1
// with the sign bit set; shifts are arithmetic (sign-extending), matching
// the bit-twiddling in the teacher's decoder (ConradIrwin/go-dwarf's
// parseSignedLEB128) run in reverse.
func AppendSigned(dst []byte, v int64) []byte {
	more := true
	for more {
		b := byte(v & 0x7f)
		v >>= 7
		signBitSet := b&0x40 != 0
		if (v == 0 && !signBitSet) || (v == -1 && signBitSet) {
			more = false
		} else {
			b |= 0x80
		}
		dst = append(dst, b)
	}
	return dst
}

// DecodeUnsigned reads a ULEB128 value from r. Test-only.
func DecodeUnsigned(r io.ByteReader) (uint64, error) {
	var result uint64
	var shift uint
	for {
		b, err := r.ReadByte()
		if err != nil {
			return 0, err
		}
		if shift >= 64 {
			return 0, errors.New("leb128: unsigned value overflows 64 bits")
		}
		result |= uint64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
	}
	return result, nil
}

// DecodeSigned reads a SLEB128 value from r. Test-only.
func DecodeSigned(r io.ByteReader) (int64, error) {
	var result int64
	var shift uint
	var b byte
	var err error
	for {
		b, err = r.ReadByte()
		if err != nil {
			return 0, err
		}
		if shift >= 64 {
			return 0, errors.New("leb128: signed value overflows 64 bits")
		}
		result |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
	}
	if shift < 64 && b&0x40 != 0 {
		result |= -1 << shift
	}
	return result, nil
}

// DecodeUnsignedBytes is a convenience wrapper for tests that have a byte
// slice rather than an io.ByteReader.
func DecodeUnsignedBytes(b []byte) (uint64, int, error) {
	r := bytes.NewReader(b)
	v, err := DecodeUnsigned(r)
	if err != nil {
		return 0, 0, err
	}
	return v, len(b) - r.Len(), nil
}

// DecodeSignedBytes is the signed counterpart of DecodeUnsignedBytes.
func DecodeSignedBytes(b []byte) (int64, int, error) {
	r := bytes.NewReader(b)
	v, err := DecodeSigned(r)
	if err != nil {
		return 0, 0, err
	}
	return v, len(b) - r.Len(), nil
}
