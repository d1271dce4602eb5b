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

// Package protocol implements the subset of IEEE 1588-2019 (PTPv2) wire
// types and message bodies that the media transport library's PTP client
// needs to discipline a NIC clock for RTP pacing: ANNOUNCE, SYNC,
// FOLLOW_UP, DELAY_REQ, DELAY_RESP. Signaling, Management, and Peer-Delay
// messages are not part of this client's state machine and are omitted.
package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
	"time"
)

// Version is the PTP protocol version this package implements.
const Version uint8 = 2

// UDP port numbers for PTP event (timestamped) and general messages.
const (
	PortEvent   = 319
	PortGeneral = 320
)

// EtherType88F7 is the Ethertype used for PTP-over-802.3 (L2 mode).
const EtherType88F7 = 0x88F7

// MessageType is the PTP messageType field (Table 36).
type MessageType uint8

// Message types this client speaks.
const (
	MessageSync       MessageType = 0x0
	MessageDelayReq   MessageType = 0x1
	MessageFollowUp   MessageType = 0x8
	MessageDelayResp  MessageType = 0x9
	MessageAnnounce   MessageType = 0xB
	MessageSignaling  MessageType = 0xC
	MessageManagement MessageType = 0xD
)

var messageTypeNames = map[MessageType]string{
	MessageSync:       "SYNC",
	MessageDelayReq:   "DELAY_REQ",
	MessageFollowUp:   "FOLLOW_UP",
	MessageDelayResp:  "DELAY_RESP",
	MessageAnnounce:   "ANNOUNCE",
	MessageSignaling:  "SIGNALING",
	MessageManagement: "MANAGEMENT",
}

func (m MessageType) String() string {
	if s, ok := messageTypeNames[m]; ok {
		return s
	}
	return "UNKNOWN"
}

// SdoIDAndMsgType packs a 4-bit SdoId and a 4-bit MessageType into one byte.
type SdoIDAndMsgType uint8

// MsgType extracts the MessageType.
func (m SdoIDAndMsgType) MsgType() MessageType { return MessageType(m & 0xf) }

// NewSdoIDAndMsgType builds a SdoIDAndMsgType from a MessageType and SdoId.
func NewSdoIDAndMsgType(msgType MessageType, sdoID uint8) SdoIDAndMsgType {
	return SdoIDAndMsgType(sdoID<<4 | uint8(msgType))
}

// ProbeMsgType reads the first byte of a raw PTP datagram to determine its
// MessageType without a full decode.
func ProbeMsgType(data []byte) (MessageType, error) {
	if len(data) < 1 {
		return 0, fmt.Errorf("not enough data to probe message type")
	}
	return SdoIDAndMsgType(data[0]).MsgType(), nil
}

// flags used in Header.FlagField, Table 37.
const (
	FlagAlternateMaster uint16 = 1 << (8 + 0)
	FlagTwoStep         uint16 = 1 << (8 + 1)
	FlagUnicast         uint16 = 1 << (8 + 2)
	FlagPTPTimescale    uint16 = 1 << 3
)

// ClockIdentity uniquely identifies a PTP instance, typically derived from
// a MAC address.
type ClockIdentity uint64

func (c ClockIdentity) String() string {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, uint64(c))
	return fmt.Sprintf("%02x%02x%02x.%02x%02x.%02x%02x%02x",
		b[0], b[1], b[2], b[3], b[4], b[5], b[6], b[7])
}

// NewClockIdentity derives a ClockIdentity from an EUI-48 or EUI-64 MAC
// address (the EUI-48 -> EUI-64 mapping inserts 0xFFFE per IEEE 1588).
func NewClockIdentity(mac net.HardwareAddr) (ClockIdentity, error) {
	var b [8]byte
	switch len(mac) {
	case 6:
		b[0], b[1], b[2] = mac[0], mac[1], mac[2]
		b[3], b[4] = 0xFF, 0xFE
		b[5], b[6], b[7] = mac[3], mac[4], mac[5]
	case 8:
		copy(b[:], mac)
	default:
		return 0, fmt.Errorf("unsupported MAC %v: must be EUI-48 or EUI-64", mac)
	}
	return ClockIdentity(binary.BigEndian.Uint64(b[:])), nil
}

// PortIdentity identifies a PTP port: a ClockIdentity plus a port number.
type PortIdentity struct {
	ClockIdentity ClockIdentity
	PortNumber    uint16
}

func (p PortIdentity) String() string {
	return fmt.Sprintf("%s-%d", p.ClockIdentity, p.PortNumber)
}

// PTPSeconds is a 48-bit big-endian seconds-since-epoch field.
type PTPSeconds [6]uint8

// Seconds returns the value as a uint64.
func (s PTPSeconds) Seconds() uint64 {
	return uint64(s[5]) | uint64(s[4])<<8 | uint64(s[3])<<16 |
		uint64(s[2])<<24 | uint64(s[1])<<32 | uint64(s[0])<<40
}

// NewPTPSeconds encodes a Unix second count into a PTPSeconds field.
func NewPTPSeconds(v uint64) PTPSeconds {
	var s PTPSeconds
	s[0] = byte(v >> 40)
	s[1] = byte(v >> 32)
	s[2] = byte(v >> 24)
	s[3] = byte(v >> 16)
	s[4] = byte(v >> 8)
	s[5] = byte(v)
	return s
}

// Timestamp is a PTP Timestamp field: seconds plus nanoseconds-of-second.
type Timestamp struct {
	Seconds     PTPSeconds
	Nanoseconds uint32
}

// Time converts a Timestamp to time.Time (UTC, seconds since Unix epoch).
func (t Timestamp) Time() time.Time {
	return time.Unix(int64(t.Seconds.Seconds()), int64(t.Nanoseconds)).UTC()
}

// NewTimestamp builds a Timestamp from a time.Time.
func NewTimestamp(t time.Time) Timestamp {
	return Timestamp{
		Seconds:     NewPTPSeconds(uint64(t.Unix())),
		Nanoseconds: uint32(t.Nanosecond()),
	}
}

// ClockQuality describes a PTP clock's class/accuracy/variance, as carried
// in ANNOUNCE messages for best-master comparisons.
type ClockQuality struct {
	ClockClass              uint8
	ClockAccuracy           uint8
	OffsetScaledLogVariance uint16
}

// TimeSource identifies the origin of a grandmaster's time (Table 6).
type TimeSource uint8

// Common TimeSource values.
const (
	TimeSourceGPS         TimeSource = 0x20
	TimeSourcePTP         TimeSource = 0x40
	TimeSourceInternalOsc TimeSource = 0xA0
)

// LogInterval is a signed power-of-two logarithmic message interval.
type LogInterval int8

// Duration converts a LogInterval to a time.Duration.
func (l LogInterval) Duration() time.Duration {
	if l >= 0 {
		return time.Second << uint(l)
	}
	return time.Second >> uint(-l)
}

// Correction is the PTP correctionField: nanoseconds scaled by 2^16.
type Correction int64

// Duration converts Correction to a time.Duration, dropping sub-ns
// fractions.
func (c Correction) Duration() time.Duration {
	return time.Duration(int64(c) >> 16)
}

// Bytes serializes a fixed-layout PTP struct to its big-endian wire form.
func Bytes(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := binary.Write(&buf, binary.BigEndian, v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// FromBytes parses a big-endian wire buffer into a fixed-layout PTP struct.
func FromBytes(raw []byte, v any) error {
	return binary.Read(bytes.NewReader(raw), binary.BigEndian, v)
}
