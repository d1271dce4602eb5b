package pixfmt

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestLookupKnownPair(t *testing.T) {
	f, ok := Lookup(YUV422P10LE, RFC4175PG2BE10)
	require.True(t, ok)
	require.NotNil(t, f)
}

func TestLookupUnknownPairMisses(t *testing.T) {
	_, ok := Lookup(RFC4175PG2BE10, YUV422P10LE)
	require.False(t, ok)
}

func TestConvertRoundTripsSampleValues(t *testing.T) {
	const w, h = 2, 1
	src := make([]byte, w*h*2+2*(w/2)*h*2)
	putLE10 := func(buf []byte, idx int, v uint16) {
		buf[idx*2] = byte(v)
		buf[idx*2+1] = byte(v >> 8)
	}
	putLE10(src[:w*h*2], 0, 0x100)
	putLE10(src[:w*h*2], 1, 0x200)
	cbOff := w * h * 2
	crOff := cbOff + (w/2)*h*2
	putLE10(src[cbOff:crOff], 0, 0x050)
	putLE10(src[crOff:], 0, 0x0a0)

	dst := make([]byte, 5)
	f, ok := Lookup(YUV422P10LE, RFC4175PG2BE10)
	require.True(t, ok)
	require.NoError(t, f(dst, src, w, h))

	bits := uint64(dst[0])<<32 | uint64(dst[1])<<24 | uint64(dst[2])<<16 | uint64(dst[3])<<8 | uint64(dst[4])
	cb := uint16(bits>>30) & 0x3ff
	y0 := uint16(bits>>20) & 0x3ff
	cr := uint16(bits>>10) & 0x3ff
	y1 := uint16(bits) & 0x3ff
	require.Equal(t, uint16(0x050), cb)
	require.Equal(t, uint16(0x100), y0)
	require.Equal(t, uint16(0x0a0), cr)
	require.Equal(t, uint16(0x200), y1)
}

func TestConvertRejectsOddWidth(t *testing.T) {
	f, _ := Lookup(YUV422P10LE, RFC4175PG2BE10)
	err := f(make([]byte, 100), make([]byte, 100), 3, 1)
	require.Error(t, err)
}
