package rtp

import "fmt"

// Format identifies a wire pixel format carried over RFC 4175/9134.
type Format int

// Wire formats this library packetizes.
const (
	FormatYUV422_10bit Format = iota // RFC4175 PG2BE10: 2 pixels / 5 bytes
	FormatYUV422_8bit                // 2 pixels / 4 bytes
	FormatRGB_10bit                  // 1 pixel / 4 bytes (PG1BE10)
	FormatJPEGXS                     // ST 2110-22, byte-stream, no pgroup
)

// PGroup describes a pixel group: coverage pixels packed into size bytes,
// per SMPTE ST 2110-20 Table 1.
type PGroup struct {
	Coverage int // pixels per group
	Size     int // bytes per group
}

var pgroupTable = map[Format]PGroup{
	FormatYUV422_10bit: {Coverage: 2, Size: 5},
	FormatYUV422_8bit:  {Coverage: 2, Size: 4},
	FormatRGB_10bit:    {Coverage: 1, Size: 4},
}

// PGroupOf returns the pgroup layout for fmt, or an error for formats
// (e.g. JPEG XS) that are not pgroup-based.
func PGroupOf(f Format) (PGroup, error) {
	pg, ok := pgroupTable[f]
	if !ok {
		return PGroup{}, fmt.Errorf("rtp: no pgroup layout for format %v", f)
	}
	return pg, nil
}

// PackingMode selects how a video session divides a raster into packets.
type PackingMode int

const (
	// GPMSL: one line per packet; the tail packet of a line is shorter.
	GPMSL PackingMode = iota
	// BPM: block-packing, fixed 1260-byte payload; cross-line packets
	// carry two row descriptors.
	BPM
	// GPM: generic packing, packet count computed from pgroup coverage.
	GPM
)

// BPMPayloadBytes is the fixed payload size BPM mode packs into every
// packet but the last.
const BPMPayloadBytes = 1260

// PacketCount returns the number of payload packets one frame needs under
// the given packing mode, width/height and pixel format.
func PacketCount(mode PackingMode, width, height int, f Format) (int, error) {
	pg, err := PGroupOf(f)
	if err != nil {
		return 0, err
	}
	if width%pg.Coverage != 0 {
		return 0, fmt.Errorf("rtp: width %d not a multiple of pgroup coverage %d", width, pg.Coverage)
	}
	rowBytes := (width / pg.Coverage) * pg.Size

	switch mode {
	case GPMSL:
		// one packet per line, possibly split further only if a line
		// exceeds the practical MTU payload; we treat one packet per
		// line as the canonical GPM_SL shape.
		return height, nil
	case BPM:
		total := rowBytes * height
		return ceilDiv(total, BPMPayloadBytes), nil
	case GPM:
		total := rowBytes * height
		// GPM targets a payload close to BPM's but pgroup-aligned per
		// packet; reuse the BPM payload target as the per-packet
		// budget, pgroup-rounded.
		perPacket := (BPMPayloadBytes / pg.Size) * pg.Size
		if perPacket == 0 {
			perPacket = pg.Size
		}
		return ceilDiv(total, perPacket), nil
	}
	return 0, fmt.Errorf("rtp: unknown packing mode %v", mode)
}

// PacketLayout is one packet's payload byte range within a frame buffer
// plus the RFC 4175 row descriptor(s) that locate it on the wire. Row1 is
// non-nil only when the packet's byte range straddles a row boundary
// (possible under BPM/GPM, never under GPM_SL since a GPM_SL packet is
// exactly one row).
type PacketLayout struct {
	ByteOffset int
	ByteLength int
	Row0       RowDescriptor
	Row1       *RowDescriptor
}

// PacketLayoutOf computes packet pktIdx's payload byte range and row
// descriptor(s) for a pgroup-based packing mode, mirroring the packet
// count math in PacketCount so the two stay in lockstep (§4.3 step 3).
func PacketLayoutOf(mode PackingMode, width, height int, f Format, pktIdx int) (PacketLayout, error) {
	pg, err := PGroupOf(f)
	if err != nil {
		return PacketLayout{}, err
	}
	if width%pg.Coverage != 0 {
		return PacketLayout{}, fmt.Errorf("rtp: width %d not a multiple of pgroup coverage %d", width, pg.Coverage)
	}
	rowBytes := (width / pg.Coverage) * pg.Size

	switch mode {
	case GPMSL:
		if pktIdx < 0 || pktIdx >= height {
			return PacketLayout{}, fmt.Errorf("rtp: GPM_SL packet index %d out of range [0,%d)", pktIdx, height)
		}
		return PacketLayout{
			ByteOffset: pktIdx * rowBytes,
			ByteLength: rowBytes,
			Row0: RowDescriptor{
				Length:    uint16(rowBytes),
				RowNumber: uint16(pktIdx),
			},
		}, nil

	case BPM, GPM:
		perPacket := BPMPayloadBytes
		if mode == GPM {
			perPacket = (BPMPayloadBytes / pg.Size) * pg.Size
			if perPacket == 0 {
				perPacket = pg.Size
			}
		}
		total := rowBytes * height
		start := pktIdx * perPacket
		if pktIdx < 0 || start >= total {
			return PacketLayout{}, fmt.Errorf("rtp: packet index %d past end of frame", pktIdx)
		}
		end := start + perPacket
		if end > total {
			end = total
		}
		length := end - start

		row0Num := start / rowBytes
		row0Off := start % rowBytes
		row0Len := rowBytes - row0Off
		if row0Len > length {
			row0Len = length
		}
		layout := PacketLayout{
			ByteOffset: start,
			ByteLength: length,
			Row0: RowDescriptor{
				Length:    uint16(row0Len),
				RowNumber: uint16(row0Num),
				Offset:    uint16((row0Off / pg.Size) * pg.Coverage),
			},
		}
		if row0Len < length {
			// The remainder belongs to the next row; BPMPayloadBytes is a
			// multiple of every pgroup size in pgroupTable, so both
			// row0Off and the remainder stay pgroup-aligned. Only Row0
			// and Row1 are described: when a row is shorter than
			// BPMPayloadBytes a packet can span more than two rows, and
			// Row1 then covers the whole remainder.
			layout.Row0.Continuation = true
			row1 := RowDescriptor{
				Length:    uint16(length - row0Len),
				RowNumber: uint16(row0Num + 1),
			}
			layout.Row1 = &row1
		}
		return layout, nil
	}
	return PacketLayout{}, fmt.Errorf("rtp: unknown packing mode %v", mode)
}

// JXSPayloadBytes is the fixed per-packet payload budget used to
// fragment a JPEG XS (ST 2110-22) codestream; unlike pgroup-based
// formats, JPEG XS has no pixel-group alignment constraint, so a frame
// is simply sliced into fixed-size chunks (spec.md §8.4).
const JXSPayloadBytes = 1370

// PacketCountJPEGXS returns how many RFC 9134 packets a compressed frame
// of frameBytes needs, given a per-packet payload budget (JXSPayloadBytes
// if payloadBytes <= 0).
func PacketCountJPEGXS(frameBytes, payloadBytes int) int {
	if payloadBytes <= 0 {
		payloadBytes = JXSPayloadBytes
	}
	return ceilDiv(frameBytes, payloadBytes)
}

func ceilDiv(a, b int) int {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}
