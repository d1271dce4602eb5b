/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package pixfmt treats format conversion as a pure lookup from
// (source, dest) to a conversion function (§1, §6): applications own
// their frame buffer's native layout, and this library only needs to
// repack it into the RFC 4175 wire pixel group the RTP packetizer reads
// from.
package pixfmt

import "fmt"

// Format identifies a frame buffer's pixel layout, either an
// application-native planar format or an RFC 4175/9134 wire pixel group.
type Format int

const (
	// YUV422P10LE is a planar 4:2:2 10-bit little-endian layout, one of
	// the common application-side frame buffer formats.
	YUV422P10LE Format = iota
	// RFC4175PG2BE10 is the RFC 4175 big-endian 2-pixel group used on the
	// wire for 10-bit 4:2:2 (5 bytes per 2 pixels, rtp.FormatYUV422_10bit).
	RFC4175PG2BE10
)

// ConvertFunc repacks width*height pixels from src (in the pair's source
// layout) into dst (in the pair's dest layout).
type ConvertFunc func(dst, src []byte, width, height int) error

type key [2]Format

var registry = map[key]ConvertFunc{
	{YUV422P10LE, RFC4175PG2BE10}: convertYUV422P10LEtoRFC4175PG2BE10,
}

// Lookup returns the conversion function from src to dst, or false if no
// conversion is registered for that pair.
func Lookup(src, dst Format) (ConvertFunc, bool) {
	f, ok := registry[key{src, dst}]
	return f, ok
}

// Register adds (or replaces) a conversion function for a (src, dst)
// pair, letting an application extend the lookup table at init time.
func Register(src, dst Format, f ConvertFunc) {
	registry[key{src, dst}] = f
}

// convertYUV422P10LEtoRFC4175PG2BE10 repacks a planar 4:2:2 10-bit
// little-endian frame (three planes: Y full-res, Cb/Cr half horizontal
// res, each sample in the low 10 bits of a little-endian uint16) into
// the RFC 4175 big-endian 2-pixel group: Cb0 Y0 Cr0 Y1 packed as
// 5 bytes / 2 pixels, 10 bits each, big-endian bit order (spec.md §8.5).
func convertYUV422P10LEtoRFC4175PG2BE10(dst, src []byte, width, height int) error {
	if width%2 != 0 {
		return fmt.Errorf("pixfmt: width %d must be even for 4:2:2 pixel groups", width)
	}
	ySize := width * height * 2
	cSize := (width / 2) * height * 2
	wantSrc := ySize + 2*cSize
	if len(src) < wantSrc {
		return fmt.Errorf("pixfmt: source buffer too small: have %d, want %d", len(src), wantSrc)
	}
	pgroups := (width / 2) * height
	wantDst := pgroups * 5
	if len(dst) < wantDst {
		return fmt.Errorf("pixfmt: dest buffer too small: have %d, want %d", len(dst), wantDst)
	}

	yPlane := src[:ySize]
	cbPlane := src[ySize : ySize+cSize]
	crPlane := src[ySize+cSize : ySize+2*cSize]

	readSample := func(plane []byte, idx int) uint16 {
		off := idx * 2
		return (uint16(plane[off+1])<<8 | uint16(plane[off])) & 0x03ff
	}

	for row := 0; row < height; row++ {
		for col2 := 0; col2 < width/2; col2++ {
			y0 := readSample(yPlane, row*width+2*col2)
			y1 := readSample(yPlane, row*width+2*col2+1)
			cb := readSample(cbPlane, row*(width/2)+col2)
			cr := readSample(crPlane, row*(width/2)+col2)

			d := dst[(row*(width/2)+col2)*5:]
			packPG2BE10(d[:5], cb, y0, cr, y1)
		}
	}
	return nil
}

// packPG2BE10 packs four 10-bit samples big-endian into 5 bytes, the
// RFC 4175 2-pixel group layout: Cb(10) Y0(10) Cr(10) Y1(10) = 40 bits.
func packPG2BE10(dst []byte, cb, y0, cr, y1 uint16) {
	bits := uint64(cb&0x3ff)<<30 | uint64(y0&0x3ff)<<20 | uint64(cr&0x3ff)<<10 | uint64(y1&0x3ff)
	dst[0] = byte(bits >> 32)
	dst[1] = byte(bits >> 24)
	dst[2] = byte(bits >> 16)
	dst[3] = byte(bits >> 8)
	dst[4] = byte(bits)
}
