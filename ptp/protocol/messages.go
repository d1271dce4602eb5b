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

package protocol

import "fmt"

// Header is the common PTP message header (Table 35).
type Header struct {
	SdoIDAndMsgType     SdoIDAndMsgType
	Version             uint8
	MessageLength       uint16
	DomainNumber        uint8
	MinorSdoID          uint8
	FlagField           uint16
	CorrectionField     Correction
	MessageTypeSpecific uint32
	SourcePortIdentity  PortIdentity
	SequenceID          uint16
	ControlField        uint8
	LogMessageInterval  LogInterval
}

// MessageType returns the message type carried in the header.
func (h *Header) MessageType() MessageType { return h.SdoIDAndMsgType.MsgType() }

// SetSequence sets the header's sequence number.
func (h *Header) SetSequence(seq uint16) { h.SequenceID = seq }

// AnnounceBody carries the fields of an ANNOUNCE message (Table 43).
type AnnounceBody struct {
	OriginTimestamp         Timestamp
	CurrentUTCOffset        int16
	Reserved                uint8
	GrandmasterPriority1    uint8
	GrandmasterClockQuality ClockQuality
	GrandmasterPriority2    uint8
	GrandmasterIdentity     ClockIdentity
	StepsRemoved            uint16
	TimeSource              TimeSource
}

// Announce is a complete ANNOUNCE packet.
type Announce struct {
	Header
	AnnounceBody
}

// SyncDelayReqBody carries the shared SYNC / DELAY_REQ body (Table 44).
type SyncDelayReqBody struct {
	OriginTimestamp Timestamp
}

// SyncDelayReq is a complete SYNC or DELAY_REQ packet (they share a body
// layout and are distinguished by Header.MessageType()).
type SyncDelayReq struct {
	Header
	SyncDelayReqBody
}

// FollowUpBody carries the FOLLOW_UP body (Table 45).
type FollowUpBody struct {
	PreciseOriginTimestamp Timestamp
}

// FollowUp is a complete FOLLOW_UP packet.
type FollowUp struct {
	Header
	FollowUpBody
}

// DelayRespBody carries the DELAY_RESP body (Table 46).
type DelayRespBody struct {
	ReceiveTimestamp       Timestamp
	RequestingPortIdentity PortIdentity
}

// DelayResp is a complete DELAY_RESP packet.
type DelayResp struct {
	Header
	DelayRespBody
}

// Packet abstracts over all message types this package decodes.
type Packet interface {
	MessageType() MessageType
	SetSequence(uint16)
}

// DecodePacket decodes a raw PTP datagram into the concrete Packet its
// header MessageType identifies. Unsupported message types (Signaling,
// Management, the Peer-Delay family) return an error: this client's state
// machine never issues or expects them.
func DecodePacket(b []byte) (Packet, error) {
	msgType, err := ProbeMsgType(b)
	if err != nil {
		return nil, err
	}
	var p Packet
	switch msgType {
	case MessageSync, MessageDelayReq:
		p = &SyncDelayReq{}
	case MessageFollowUp:
		p = &FollowUp{}
	case MessageDelayResp:
		p = &DelayResp{}
	case MessageAnnounce:
		p = &Announce{}
	default:
		return nil, fmt.Errorf("unsupported PTP message type %s", msgType)
	}
	if err := FromBytes(b, p); err != nil {
		return nil, err
	}
	return p, nil
}

// NewHeader builds a Header for the given message type; domain, flags,
// sequence ID and message length come from the caller, and
// LogMessageInterval is fixed at 0x7F.
func NewHeader(msgType MessageType, domain uint8, source PortIdentity, seq uint16, flags uint16, length uint16) Header {
	return Header{
		SdoIDAndMsgType:    NewSdoIDAndMsgType(msgType, 0),
		Version:            Version,
		MessageLength:      length,
		DomainNumber:       domain,
		FlagField:          flags,
		SourcePortIdentity: source,
		SequenceID:         seq,
		LogMessageInterval: 0x7F,
	}
}
