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

// Package session implements the frame buffer lifecycle state machines
// (transmit and receive), reassembly slots, and the TX/RX video session
// build and receive tasklets.
package session

import (
	"sync/atomic"

	"github.com/OpenVisualCloud/mtl-go/mtlerr"
)

// TXState is a transmit frame buffer's lifecycle state.
type TXState int32

const (
	TXFree TXState = iota
	TXAppOwned
	TXReady
	TXTransmitting
)

func (s TXState) String() string {
	switch s {
	case TXFree:
		return "FREE"
	case TXAppOwned:
		return "APP_OWNED"
	case TXReady:
		return "READY"
	case TXTransmitting:
		return "TRANSMITTING"
	}
	return "UNKNOWN"
}

// TXFrameBuffer is one entry of a transmit session's frame pool.
// Transitions: FREE->APP_OWNED under CAS in Get; APP_OWNED->READY in Put;
// READY->TRANSMITTING when the build tasklet claims it;
// TRANSMITTING->FREE when the transmitter acknowledges the final packet.
// An external refcount guards against returning to FREE while packet
// mbufs still reference the buffer (§5).
type TXFrameBuffer struct {
	Index int
	Data  []byte
	Meta  FrameMeta

	state  atomic.Int32
	refcnt atomic.Int32
}

// NewTXFrameBuffer allocates a FREE buffer of the given transport-format
// size.
func NewTXFrameBuffer(index, size int) *TXFrameBuffer {
	b := &TXFrameBuffer{Index: index, Data: make([]byte, size)}
	b.state.Store(int32(TXFree))
	return b
}

// State returns the buffer's current lifecycle state.
func (b *TXFrameBuffer) State() TXState { return TXState(b.state.Load()) }

// Get CAS-claims a FREE buffer into APP_OWNED; returns WouldBlock-style
// failure via ok=false if another owner got there first.
func (b *TXFrameBuffer) Get() (ok bool) {
	return b.state.CompareAndSwap(int32(TXFree), int32(TXAppOwned))
}

// Put transitions APP_OWNED->READY, recording meta.
func (b *TXFrameBuffer) Put(meta FrameMeta) error {
	if !b.state.CompareAndSwap(int32(TXAppOwned), int32(TXReady)) {
		return mtlerr.New(mtlerr.InvalidState, "TXFrameBuffer.Put")
	}
	b.Meta = meta
	return nil
}

// ClaimForBuild transitions READY->TRANSMITTING when the build tasklet
// picks this buffer as the frame currently being built.
func (b *TXFrameBuffer) ClaimForBuild() bool {
	return b.state.CompareAndSwap(int32(TXReady), int32(TXTransmitting))
}

// Ref/Unref track in-flight packet mbuf references to this buffer's
// payload (externally attached buffers, §5's refcount rule).
func (b *TXFrameBuffer) Ref()   { b.refcnt.Add(1) }
func (b *TXFrameBuffer) Unref() int32 { return b.refcnt.Add(-1) }

// Release transitions TRANSMITTING->FREE once the transmitter has
// acknowledged completion of the final packet and the refcount has
// reached zero.
func (b *TXFrameBuffer) Release() error {
	if b.refcnt.Load() != 0 {
		return mtlerr.New(mtlerr.InvalidState, "TXFrameBuffer.Release: refcount nonzero")
	}
	if !b.state.CompareAndSwap(int32(TXTransmitting), int32(TXFree)) {
		return mtlerr.New(mtlerr.InvalidState, "TXFrameBuffer.Release")
	}
	return nil
}

// RXState is a receive frame buffer's lifecycle state.
type RXState int32

const (
	RXFree RXState = iota
	RXAssignedToSlot
	RXFilling
	RXDelivered
)

func (s RXState) String() string {
	switch s {
	case RXFree:
		return "FREE"
	case RXAssignedToSlot:
		return "ASSIGNED_TO_SLOT"
	case RXFilling:
		return "FILLING"
	case RXDelivered:
		return "DELIVERED"
	}
	return "UNKNOWN"
}

// FrameStatus reports how a delivered frame completed.
type FrameStatus int

const (
	FrameOK FrameStatus = iota
	FrameIncomplete
	FrameError
)

// FrameMeta carries the metadata block recorded alongside a frame buffer
// (§3 Data Model, expanded per SPEC_FULL §3).
type FrameMeta struct {
	Width, Height int
	Packing       int
	FirstPktTSNs  int64
	TaiFmt        bool // true = TAI, false = UTC
	RTPTimestamp  uint32
	PktsTotal     uint32
	PktsRecv      [2]uint32
	SecondField   bool
	Status        FrameStatus
	UserMeta      []byte
}

// RXFrameBuffer is one entry of a receive session's frame pool.
// Transitions: FREE->ASSIGNED_TO_SLOT when a slot binds it;
// ASSIGNED_TO_SLOT->FILLING on first payload write; FILLING->DELIVERED on
// slot completion; DELIVERED->FREE when the application returns it.
type RXFrameBuffer struct {
	Index int
	Data  []byte
	Meta  FrameMeta

	state atomic.Int32
}

// NewRXFrameBuffer allocates a FREE buffer sized to one full raster frame.
func NewRXFrameBuffer(index, size int) *RXFrameBuffer {
	b := &RXFrameBuffer{Index: index, Data: make([]byte, size)}
	b.state.Store(int32(RXFree))
	return b
}

func (b *RXFrameBuffer) State() RXState { return RXState(b.state.Load()) }

// AssignToSlot transitions FREE->ASSIGNED_TO_SLOT.
func (b *RXFrameBuffer) AssignToSlot() bool {
	return b.state.CompareAndSwap(int32(RXFree), int32(RXAssignedToSlot))
}

// BeginFilling transitions ASSIGNED_TO_SLOT->FILLING on the first payload
// write.
func (b *RXFrameBuffer) BeginFilling() {
	b.state.CompareAndSwap(int32(RXAssignedToSlot), int32(RXFilling))
}

// Deliver transitions FILLING->DELIVERED.
func (b *RXFrameBuffer) Deliver() bool {
	return b.state.CompareAndSwap(int32(RXFilling), int32(RXDelivered))
}

// PutBack transitions DELIVERED->FREE when the application returns the
// buffer via buffer_put.
func (b *RXFrameBuffer) PutBack() error {
	if !b.state.CompareAndSwap(int32(RXDelivered), int32(RXFree)) {
		return mtlerr.New(mtlerr.InvalidState, "RXFrameBuffer.PutBack")
	}
	return nil
}
