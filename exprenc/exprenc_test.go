package exprenc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/conradirwin/dwarfenc/dietree"
)

func arch64() dietree.Arch {
	return dietree.Arch{WordSize: 8, Endian: dietree.LittleEndian}
}

func TestEncodeNoArgOps(t *testing.T) {
	s := New(arch64())
	out, err := s.Encode(dietree.Expr{{Opcode: OpCallFrameCfa}})
	require.NoError(t, err)
	require.Equal(t, []byte{OpCallFrameCfa}, out)
}

func TestEncodeLitAndReg(t *testing.T) {
	s := New(arch64())
	out, err := s.Encode(dietree.Expr{
		{Opcode: OpLit0 + 5},
		{Opcode: OpReg0 + 3},
	})
	require.NoError(t, err)
	require.Equal(t, []byte{OpLit0 + 5, OpReg0 + 3}, out)
}

func TestEncodeBreg(t *testing.T) {
	s := New(arch64())
	out, err := s.Encode(dietree.Expr{{Opcode: OpBreg0 + 6, Args: []int64{-8}}})
	require.NoError(t, err)
	require.Equal(t, []byte{OpBreg0 + 6, 0x78}, out)
}

func TestEncodeAddr(t *testing.T) {
	s := New(arch64())
	out, err := s.Encode(dietree.Expr{{Opcode: OpAddr, Args: []int64{0x1000}}})
	require.NoError(t, err)
	require.Equal(t, []byte{OpAddr, 0x00, 0x10, 0, 0, 0, 0, 0, 0}, out)
}

func TestEncodeAddrBigEndian32(t *testing.T) {
	s := New(dietree.Arch{WordSize: 4, Endian: dietree.BigEndian})
	out, err := s.Encode(dietree.Expr{{Opcode: OpAddr, Args: []int64{0x1000}}})
	require.NoError(t, err)
	require.Equal(t, []byte{OpAddr, 0, 0, 0x10, 0x00}, out)
}

func TestEncodeFbreg(t *testing.T) {
	s := New(arch64())
	out, err := s.Encode(dietree.Expr{{Opcode: OpFbreg, Args: []int64{-16}}})
	require.NoError(t, err)
	require.Equal(t, []byte{OpFbreg, 0x70}, out)
}

func TestEncodeBregx(t *testing.T) {
	s := New(arch64())
	out, err := s.Encode(dietree.Expr{{Opcode: OpBregx, Args: []int64{5, -1}}})
	require.NoError(t, err)
	require.Equal(t, []byte{OpBregx, 0x05, 0x7f}, out)
}

func TestEncodePieceAndBitPiece(t *testing.T) {
	s := New(arch64())
	out, err := s.Encode(dietree.Expr{{Opcode: OpPiece, Args: []int64{4}}})
	require.NoError(t, err)
	require.Equal(t, []byte{OpPiece, 4}, out)

	out, err = s.Encode(dietree.Expr{{Opcode: OpBitPiece, Args: []int64{8, 2}}})
	require.NoError(t, err)
	require.Equal(t, []byte{OpBitPiece, 8, 2}, out)
}

func TestEncodeImplicitValue(t *testing.T) {
	s := New(arch64())
	out, err := s.Encode(dietree.Expr{{Opcode: OpImplicitValue, Blob: []byte{1, 2, 3}}})
	require.NoError(t, err)
	require.Equal(t, []byte{OpImplicitValue, 3, 1, 2, 3}, out)
}

func TestEncodeGNUConstType(t *testing.T) {
	s := New(arch64())
	out, err := s.Encode(dietree.Expr{{Opcode: OpGNUConstType, Args: []int64{0x42}, Blob: []byte{7, 0, 0, 0}}})
	require.NoError(t, err)
	require.Equal(t, []byte{OpGNUConstType, 0x42, 4, 7, 0, 0, 0}, out)
}

func TestEncodeGNUEntryValueRecursesNested(t *testing.T) {
	s := New(arch64())
	nested := dietree.Expr{{Opcode: OpReg0 + 1}}
	out, err := s.Encode(dietree.Expr{{Opcode: OpGNUEntryValue, Nested: nested}})
	require.NoError(t, err)
	require.Equal(t, []byte{OpGNUEntryValue, 1, OpReg0 + 1}, out)
}

func TestEncodeUnsupportedOpcode(t *testing.T) {
	s := New(arch64())
	_, err := s.Encode(dietree.Expr{{Opcode: 0xff}})
	require.Error(t, err)
}

func TestEncodeMissingOperandErrors(t *testing.T) {
	s := New(arch64())
	_, err := s.Encode(dietree.Expr{{Opcode: OpConstu}})
	require.Error(t, err)
}
