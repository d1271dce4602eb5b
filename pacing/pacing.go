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

// Package pacing computes the absolute time at which each packet of a
// frame must be handed to the transmitter so its wire arrival satisfies
// ST 2110-21 Cmax/VRX envelopes, under one of three pacing strategies:
// NIC rate-limiter offload, TSC-based software pacing, or external user
// pacing.
package pacing

import (
	"math"

	"github.com/cespare/xxhash/v2"
)

// NsPerSec is nanoseconds per second, used throughout the frame-time math.
const NsPerSec = 1_000_000_000

// Mode selects the pacing strategy for a port.
type Mode int

const (
	Auto Mode = iota
	RateLimit
	TSC
	User
)

func (m Mode) String() string {
	switch m {
	case Auto:
		return "auto"
	case RateLimit:
		return "rate-limit"
	case TSC:
		return "tsc"
	case User:
		return "user"
	}
	return "unknown"
}

// Raster describes the video raster shape needed to derive TR-offset,
// Trs, and VRX.
type Raster struct {
	Height      int
	Interlaced  bool
	Compressed  bool // ST 2110-22: forces warm_pkts=0, vrx_narrow=0
	FpsMul      uint32
	FpsDen      uint32
	PacketCount int // packets per frame (or per field, if interlaced)
}

// FrameTimeNs returns NS_PER_S * fps_den / fps_mul.
func (r Raster) FrameTimeNs() int64 {
	return int64(NsPerSec) * int64(r.FpsDen) / int64(r.FpsMul)
}

// FrameTimeSampling returns the 90kHz media-clock ticks per frame:
// 90000 * fps_den / fps_mul.
func (r Raster) FrameTimeSampling() uint32 {
	return uint32(90000 * uint64(r.FpsDen) / uint64(r.FpsMul))
}

// TROffsetNs computes the nominal delay from the epoch boundary to the
// first active-picture packet, per the SMPTE ST 2110-21 table. The
// tables are encoded exactly as specified.
func (r Raster) TROffsetNs() int64 {
	ft := r.FrameTimeNs()
	switch {
	case r.Compressed:
		return 0
	case !r.Interlaced && r.Height >= 1080:
		return ft * 43 / 1125
	case !r.Interlaced && r.Height < 1080:
		return ft * 28 / 750
	case r.Interlaced && r.Height == 480:
		return ft * 20 / 525 * 2
	case r.Interlaced && r.Height == 576:
		return ft * 26 / 625 * 2
	case r.Interlaced && r.Height >= 1080:
		return ft * 22 / 1125 * 2
	}
	return ft * 28 / 750
}

// activeRatio gives the active-picture ratio used to derive Trs:
// 1080/1125 for progressive HD; interlaced sub-HD variants use their own
// ratios (mirroring the TR-offset table's per-raster shape).
func (r Raster) activeRatio() (num, den int64) {
	switch {
	case !r.Interlaced:
		return 1080, 1125
	case r.Height == 480:
		return 487, 525
	case r.Height == 576:
		return 576, 625
	default:
		return 1080, 1125
	}
}

// TrsNs computes the nominal inter-packet gap of active-picture packets:
// frame_time * active_ratio / packets_per_frame.
func (r Raster) TrsNs() int64 {
	if r.PacketCount <= 0 {
		return 0
	}
	num, den := r.activeRatio()
	return r.FrameTimeNs() * num / den / int64(r.PacketCount)
}

// WarmPkts returns the warm-up padding packet count: 80% of
// floor(tr_offset/trs), capped at 128; forced to 0 for compressed video.
func (r Raster) WarmPkts() int {
	if r.Compressed {
		return 0
	}
	trs := r.TrsNs()
	if trs <= 0 {
		return 0
	}
	w := (r.TROffsetNs() / trs) * 80 / 100
	if w > 128 {
		w = 128
	}
	if w < 0 {
		w = 0
	}
	return int(w)
}

// VRXNarrow and VRXWide compute the narrow/wide virtual-receiver-buffer
// targets; narrow is augmented by warm_pkts+4 (burst rounding + deviation
// tolerance) and forced to 0 for compressed video.
func (r Raster) VRXNarrow() int {
	if r.Compressed {
		return 0
	}
	frameTimeS := float64(r.FrameTimeNs()) / float64(NsPerSec)
	base := int(math.Max(8, float64(r.PacketCount)/(27000*frameTimeS)))
	return base + r.WarmPkts() + 4
}

func (r Raster) VRXWide() int {
	frameTimeS := float64(r.FrameTimeNs()) / float64(NsPerSec)
	return int(math.Max(720, float64(r.PacketCount)/(300*frameTimeS)))
}

// TSCClock is the Go-native replacement for reading a raw TSC register:
// Now returns the current time in nanoseconds on whatever clock backs
// pacing (the PTP-derived media clock in production, a fake monotonic
// source in tests).
type TSCClock interface {
	Now() int64
}

// State holds the per-session-per-port pacing fields (§3 Data Model).
type State struct {
	Raster    Raster
	ModeVal   Mode
	Clock     TSCClock
	curEpoch  int64
	padInterval int

	StatEpochDrop uint64
}

// NewState creates pacing state for one port.
func NewState(r Raster, mode Mode, clock TSCClock) *State {
	return &State{Raster: r, ModeVal: mode, Clock: clock, curEpoch: -1}
}

// FrameSchedule is the result of Sync: the derived RTP timestamp and the
// per-packet TSC schedule for a frame.
type FrameSchedule struct {
	Epoch         int64
	RTPTimestamp  uint32
	Packet0TSC    int64
	Trs           int64
}

// PacketTSC returns the absolute TSC for packet index k within the
// scheduled frame.
func (fs FrameSchedule) PacketTSC(k int) int64 {
	return fs.Packet0TSC + int64(k)*fs.Trs
}

// Sync computes the schedule for the next frame: current_epoch from the
// PTP clock (or the caller-supplied TAI/RTP timestamp), epoch advance
// logic, RTP timestamp derivation, and the packet0 TSC.
func (s *State) Sync(requiredTAI int64, userRTP *uint32) FrameSchedule {
	ft := s.Raster.FrameTimeNs()
	var currentEpoch int64
	if requiredTAI > 0 {
		currentEpoch = requiredTAI / ft
	} else {
		currentEpoch = s.Clock.Now() / ft
	}

	target := currentEpoch
	if s.curEpoch >= 0 && s.curEpoch+1 > target {
		target = s.curEpoch + 1
	}

	trOffset := s.Raster.TROffsetNs()
	trs := s.Raster.TrsNs()
	warm := int64(s.Raster.WarmPkts())

	epochNs := target * ft
	deadline := epochNs + trOffset - warm*trs
	if s.Clock.Now() > deadline {
		target++
		s.StatEpochDrop++
		epochNs = target * ft
		deadline = epochNs + trOffset - warm*trs
	}
	s.curEpoch = target

	var rtpTS uint32
	if userRTP != nil {
		rtpTS = *userRTP
	} else {
		// Computed from the exact rational 90000*fps_den/fps_mul rather
		// than FrameTimeSampling()'s per-frame truncation, so successive
		// frames step by 1501 or 1502 (alternating to track the true
		// 60000/1001 mean) instead of drifting at a constantly-truncated
		// rate.
		num := uint64(target) * 90000 * uint64(s.Raster.FpsDen)
		rtpTS = uint32((num / uint64(s.Raster.FpsMul)) % (1 << 32))
	}

	return FrameSchedule{
		Epoch:        target,
		RTPTimestamp: rtpTS,
		Packet0TSC:   deadline,
		Trs:          trs,
	}
}

// cacheKey returns the xxhash of (port, target-bps), the teacher idiom of
// content-addressed caching via xxhash for the rate-limiter training
// cache.
func cacheKey(port int, targetBps uint64) uint64 {
	var buf [16]byte
	buf[0] = byte(port)
	for i := 0; i < 8; i++ {
		buf[8+i] = byte(targetBps >> (8 * i))
	}
	return xxhash.Sum64(buf[:])
}
