package leb128

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestUnsignedRoundTrip(t *testing.T) {
	cases := []uint64{0, 1, 0x7f, 0x80, 0x3fff, 0x4000, math.MaxUint32, math.MaxUint64}
	for _, v := range cases {
		enc := AppendUnsigned(nil, v)
		got, n, err := DecodeUnsignedBytes(enc)
		require.NoError(t, err)
		require.Equal(t, len(enc), n)
		require.Equal(t, v, got)
	}
}

func TestUnsignedZeroIsSingleByte(t *testing.T) {
	require.Equal(t, []byte{0x00}, AppendUnsigned(nil, 0))
}

func TestSignedRoundTrip(t *testing.T) {
	cases := []int64{0, 1, -1, 63, -64, 64, -65, math.MaxInt32, math.MinInt32, math.MaxInt64, math.MinInt64}
	for _, v := range cases {
		enc := AppendSigned(nil, v)
		got, n, err := DecodeSignedBytes(enc)
		require.NoError(t, err)
		require.Equal(t, len(enc), n)
		require.Equal(t, v, got)
	}
}

func TestSignedKnownEncodings(t *testing.T) {
	// Values taken from the DWARF spec's own LEB128 worked examples.
	require.Equal(t, []byte{0x02}, AppendSigned(nil, 2))
	require.Equal(t, []byte{0x7e}, AppendSigned(nil, -2))
	require.Equal(t, []byte{0xff, 0x00}, AppendSigned(nil, 127))
	require.Equal(t, []byte{0x81, 0x7f}, AppendSigned(nil, -127))
	require.Equal(t, []byte{0x80, 0x01}, AppendSigned(nil, 128))
	require.Equal(t, []byte{0x80, 0x7f}, AppendSigned(nil, -128))
}

func TestAppendPreservesExistingPrefix(t *testing.T) {
	dst := []byte{0xaa, 0xbb}
	out := AppendUnsigned(dst, 300)
	require.Equal(t, []byte{0xaa, 0xbb}, dst[:2])
	require.True(t, len(out) > len(dst))
}
