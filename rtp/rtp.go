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

// Package rtp implements the RTP header plus the RFC 4175 (ST 2110-20
// uncompressed video) and RFC 9134 (ST 2110-22 JPEG XS) payload headers,
// and the packet-buffer type shared between the build and transmit
// pipelines. Header field layout follows github.com/pion/rtp's struct
// shape (seen in other_examples/camsRelay-pacer.go), reimplemented here
// against this library's own PacketBuf rather than imported, since the
// refcounted buffer lifecycle (§5) needs a type this package owns.
package rtp

import (
	"encoding/binary"
	"fmt"
	"sync/atomic"
)

// HeaderSize is the fixed RTP header size this library emits (no CSRC,
// no extension beyond the payload-specific header that follows).
const HeaderSize = 12

const (
	version = 2
)

// Header is the fixed 12-byte RTP header (RFC 3550 §5.1).
type Header struct {
	Marker         bool
	PayloadType    uint8
	SequenceNumber uint16
	Timestamp      uint32
	SSRC           uint32
}

// Marshal writes the 12-byte RTP header to dst, which must be at least
// HeaderSize bytes.
func (h Header) Marshal(dst []byte) error {
	if len(dst) < HeaderSize {
		return fmt.Errorf("rtp: header buffer too small: %d", len(dst))
	}
	dst[0] = version << 6
	pt := h.PayloadType & 0x7f
	if h.Marker {
		pt |= 0x80
	}
	dst[1] = pt
	binary.BigEndian.PutUint16(dst[2:4], h.SequenceNumber)
	binary.BigEndian.PutUint32(dst[4:8], h.Timestamp)
	binary.BigEndian.PutUint32(dst[8:12], h.SSRC)
	return nil
}

// Unmarshal parses the 12-byte RTP header from src.
func (h *Header) Unmarshal(src []byte) error {
	if len(src) < HeaderSize {
		return fmt.Errorf("rtp: packet too short for header: %d", len(src))
	}
	h.Marker = src[1]&0x80 != 0
	h.PayloadType = src[1] & 0x7f
	h.SequenceNumber = binary.BigEndian.Uint16(src[2:4])
	h.Timestamp = binary.BigEndian.Uint32(src[4:8])
	h.SSRC = binary.BigEndian.Uint32(src[8:12])
	return nil
}

// RowDescriptor is one RFC 4175 row descriptor (6 bytes): length, row
// number with second-field bit, offset with continuation bit.
type RowDescriptor struct {
	Length       uint16
	RowNumber    uint16 // bits 0-14; bit 15 is SecondField
	SecondField  bool
	Offset       uint16 // bits 0-14; bit 15 is Continuation
	Continuation bool
}

// VideoHeaderSize is the RFC 4175 extension: 2-byte ext sequence number
// plus one row descriptor (6 bytes); a second descriptor (straddled line)
// adds 6 more bytes.
const VideoHeaderSize = 2 + 6

// VideoHeader is the RFC 4175 payload header following the RTP header.
type VideoHeader struct {
	ExtSeqNum uint16
	Row0      RowDescriptor
	Row1      *RowDescriptor // non-nil when the packet straddles a line
}

// Marshal writes the RFC 4175 header to dst.
func (v VideoHeader) Marshal(dst []byte) (int, error) {
	need := VideoHeaderSize
	if v.Row1 != nil {
		need += 6
	}
	if len(dst) < need {
		return 0, fmt.Errorf("rtp: video header buffer too small: %d", len(dst))
	}
	binary.BigEndian.PutUint16(dst[0:2], v.ExtSeqNum)
	marshalRow(dst[2:8], v.Row0)
	if v.Row1 != nil {
		marshalRow(dst[8:14], *v.Row1)
	}
	return need, nil
}

func marshalRow(dst []byte, r RowDescriptor) {
	binary.BigEndian.PutUint16(dst[0:2], r.Length)
	rn := r.RowNumber & 0x7fff
	if r.SecondField {
		rn |= 0x8000
	}
	binary.BigEndian.PutUint16(dst[2:4], rn)
	off := r.Offset & 0x7fff
	if r.Continuation {
		off |= 0x8000
	}
	binary.BigEndian.PutUint16(dst[4:6], off)
}

// Unmarshal parses the RFC 4175 header from src, returning the number of
// bytes consumed.
func (v *VideoHeader) Unmarshal(src []byte) (int, error) {
	if len(src) < VideoHeaderSize {
		return 0, fmt.Errorf("rtp: video header too short: %d", len(src))
	}
	v.ExtSeqNum = binary.BigEndian.Uint16(src[0:2])
	v.Row0 = unmarshalRow(src[2:8])
	n := VideoHeaderSize
	if v.Row0.Continuation {
		if len(src) < n+6 {
			return 0, fmt.Errorf("rtp: missing second row descriptor")
		}
		row1 := unmarshalRow(src[n : n+6])
		v.Row1 = &row1
		n += 6
	}
	return n, nil
}

func unmarshalRow(src []byte) RowDescriptor {
	length := binary.BigEndian.Uint16(src[0:2])
	rnRaw := binary.BigEndian.Uint16(src[2:4])
	offRaw := binary.BigEndian.Uint16(src[4:6])
	return RowDescriptor{
		Length:       length,
		RowNumber:    rnRaw & 0x7fff,
		SecondField:  rnRaw&0x8000 != 0,
		Offset:       offRaw & 0x7fff,
		Continuation: offRaw&0x8000 != 0,
	}
}

// JXSHeaderSize is the fixed RFC 9134 payload header size: 2-byte ext seq,
// 1 flags byte, 3 packed counter bytes.
const JXSHeaderSize = 2 + 1 + 3

// JXSHeader is the RFC 9134 payload header for ST 2110-22.
type JXSHeader struct {
	ExtSeqNum  uint16
	TransOrder uint8 // 1 bit
	Kmode      uint8 // 2 bits
	LastPacket bool
	FCounter   uint8  // 5 bits, mod 32
	SepCounter uint16 // 11 bits
	PCounter   uint16 // 11 bits
}

// Marshal writes the RFC 9134 header to dst.
func (j JXSHeader) Marshal(dst []byte) error {
	if len(dst) < JXSHeaderSize {
		return fmt.Errorf("rtp: jxs header buffer too small: %d", len(dst))
	}
	binary.BigEndian.PutUint16(dst[0:2], j.ExtSeqNum)
	flags := (j.TransOrder & 0x1 << 7) | (j.Kmode & 0x3 << 5)
	if j.LastPacket {
		flags |= 1 << 4
	}
	dst[2] = flags
	packed := uint32(j.FCounter&0x1f)<<22 | uint32(j.SepCounter&0x7ff)<<11 | uint32(j.PCounter&0x7ff)
	dst[3] = byte(packed >> 16)
	dst[4] = byte(packed >> 8)
	dst[5] = byte(packed)
	return nil
}

// Unmarshal parses the RFC 9134 header from src.
func (j *JXSHeader) Unmarshal(src []byte) error {
	if len(src) < JXSHeaderSize {
		return fmt.Errorf("rtp: jxs header too short: %d", len(src))
	}
	j.ExtSeqNum = binary.BigEndian.Uint16(src[0:2])
	flags := src[2]
	j.TransOrder = (flags >> 7) & 0x1
	j.Kmode = (flags >> 5) & 0x3
	j.LastPacket = flags&(1<<4) != 0
	packed := uint32(src[3])<<16 | uint32(src[4])<<8 | uint32(src[5])
	j.FCounter = uint8((packed >> 22) & 0x1f)
	j.SepCounter = uint16((packed >> 11) & 0x7ff)
	j.PCounter = uint16(packed & 0x7ff)
	return nil
}

// PacketBuf is a reference-counted packet buffer: header bytes plus
// payload bytes, the Go-native analogue of a DPDK rte_mbuf with an
// externally attached payload buffer. The refcount must reach zero
// before the backing frame buffer (if any) may return to FREE (§5).
type PacketBuf struct {
	Header  []byte
	Payload []byte
	// TxTSC is the absolute nanosecond time the transmitter must hand
	// this packet to the NIC.
	TxTSC int64
	// Port is the destination port index (0 or 1) this packet targets.
	Port int

	refcnt   atomic.Int32
	onZero   func(*PacketBuf)
}

// NewPacketBuf creates a PacketBuf with refcount 1.
func NewPacketBuf(header, payload []byte, onZero func(*PacketBuf)) *PacketBuf {
	p := &PacketBuf{Header: header, Payload: payload, onZero: onZero}
	p.refcnt.Store(1)
	return p
}

// Ref increments the refcount (called when a packet mbuf references a
// frame buffer's payload via an externally attached buffer).
func (p *PacketBuf) Ref() { p.refcnt.Add(1) }

// Release decrements the refcount; at zero it invokes the registered
// free callback, mirroring the driver's mbuf-free path.
func (p *PacketBuf) Release() {
	if p.refcnt.Add(-1) == 0 && p.onZero != nil {
		p.onZero(p)
	}
}
