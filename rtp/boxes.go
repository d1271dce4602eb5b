package rtp

import (
	"bytes"
	"encoding/binary"
)

// BoxPrefixSize is the fixed 60-byte box prefix prepended to every
// ST 2110-22 frame (§6): jpvs{jpvi,jxpl} + colr.
const BoxPrefixSize = 60

// JXSBoxParams are the per-stream parameters needed to build the box
// prefix once at session setup.
type JXSBoxParams struct {
	// BitrateMbit is the codestream bitrate in Mbit/s.
	BitrateMbit uint32
	// FPS is the nominal frame rate (rounded) used in the fixed-point
	// fps field 1<<24 | fps.
	FPS uint32
}

// BuildBoxPrefix constructs the 60-byte ST 2110-22 box prefix: jpvs
// wrapping jpvi and jxpl, followed by colr. All fields big-endian.
func BuildBoxPrefix(p JXSBoxParams) []byte {
	var buf bytes.Buffer

	// jpvi (video info): size(4) + 'jpvi' + bitrate(4) + fps(4) +
	// schar(2) + tcod(1) + reserved(6) = 17 bytes payload after header.
	jpvi := boxBody("jpvi", func(b *bytes.Buffer) {
		binary.Write(b, binary.BigEndian, p.BitrateMbit)       //nolint:errcheck
		binary.Write(b, binary.BigEndian, uint32(1<<24)|p.FPS) //nolint:errcheck
		// 10-bit 4:2:2: schar = 0x8000 | ((10-1)<<4)
		schar := uint16(0x8000) | uint16((10-1)<<4)
		binary.Write(b, binary.BigEndian, schar) //nolint:errcheck
		b.WriteByte(0)                           // tcod
		b.Write(make([]byte, 6))                 // reserved padding to round out jpvi box
	})

	// jxpl (profile/level): ppih(2) + plev(2).
	jxpl := boxBody("jxpl", func(b *bytes.Buffer) {
		binary.Write(b, binary.BigEndian, uint16(0x3540)) //nolint:errcheck
		binary.Write(b, binary.BigEndian, uint16(0x2080)) //nolint:errcheck
	})

	jpvs := boxBody("jpvs", func(b *bytes.Buffer) {
		b.Write(jpvi)
		b.Write(jxpl)
	})
	buf.Write(jpvs)

	// colr: meth(1)=5, BT.709 descriptor bytes.
	colr := boxBody("colr", func(b *bytes.Buffer) {
		b.WriteByte(5) // meth
		b.Write([]byte{0x01, 0x00, 0x01, 0x00, 0x01, 0x80})
	})
	buf.Write(colr)

	out := make([]byte, BoxPrefixSize)
	n := copy(out, buf.Bytes())
	_ = n
	return out
}

// boxBody writes a 4-byte big-endian size, the 4-byte fourcc tag, then
// the caller-supplied body, returning the complete box bytes.
func boxBody(fourcc string, body func(*bytes.Buffer)) []byte {
	var payload bytes.Buffer
	body(&payload)
	var box bytes.Buffer
	binary.Write(&box, binary.BigEndian, uint32(8+payload.Len())) //nolint:errcheck
	box.WriteString(fourcc)
	box.Write(payload.Bytes())
	return box.Bytes()
}
