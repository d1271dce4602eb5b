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

// Package ptpclock derives the media clock used by the pacing engine from
// a PTP client's delta samples: phase correction via the teacher's PI
// servo (facebook-time/servo.PiServo), retargeted from "discipline a PHC
// device" to "discipline the pacing engine's TSC-clock skew estimate",
// plus a ptp_get_time fallback to the system realtime clock when no
// master has been seen recently (§4.6).
package ptpclock

import (
	"sync"
	"time"

	"github.com/OpenVisualCloud/mtl-go/ptp/client"
	"github.com/OpenVisualCloud/mtl-go/servo"
)

// Clock derives wall-clock-equivalent nanosecond time disciplined by a
// stream of PTP delay-exchange samples. It satisfies pacing.TSCClock.
type Clock struct {
	mu         sync.Mutex
	pi         *servo.PiServo
	skewPPB    float64
	lastSample time.Time
	haveMaster bool

	realNow func() time.Time
}

// defaultSyncIntervalSec is the nominal cadence ApplySample is driven at.
// servo.PiServoCfg's exponents default to zero, so the exact value barely
// matters as long as it is set once: kp/ki come straight from the
// configured gain scales regardless of the interval's magnitude.
const defaultSyncIntervalSec = 1.0

// NewClock creates a Clock with the teacher's default PI servo
// configuration, driving phase correction off offset samples.
func NewClock() *Clock {
	base := servo.DefaultServoConfig()
	cfg := servo.DefaultPiServoCfg()
	pi := servo.NewPiServo(base, cfg, 0)
	pi.InitLastFreq(0)
	pi.SyncInterval(defaultSyncIntervalSec)
	return &Clock{pi: pi, realNow: time.Now}
}

// ApplySample feeds one PTP delay-exchange delta into the servo as
// timesync_adjust_time(delta): the servo's Sample returns a frequency
// correction (ppb) we track as the pacing clock's current skew estimate.
func (c *Clock) ApplySample(s client.Sample) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if s.Excursion {
		return
	}
	localTS := uint64(c.realNow().UnixNano())
	ppb, _ := c.pi.Sample(int64(s.Delta), localTS)
	c.skewPPB = ppb
	c.lastSample = c.realNow()
	c.haveMaster = true
}

// Now returns the PTP-disciplined time in nanoseconds: the system
// realtime clock adjusted by the servo's accumulated skew estimate. If no
// master has been seen within client.NoMasterTimeout, ptp_get_time falls
// back to the bare system realtime clock (§4.6 failure modes).
func (c *Clock) Now() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.realNow()
	if !c.haveMaster || now.Sub(c.lastSample) > client.NoMasterTimeout {
		return now.UnixNano()
	}
	elapsed := now.Sub(c.lastSample).Seconds()
	correctionNs := c.skewPPB * elapsed
	return now.UnixNano() + int64(correctionNs)
}

// HasMaster reports whether the clock is currently disciplined by a live
// PTP master (within NoMasterTimeout of the last sample).
func (c *Clock) HasMaster() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.haveMaster && c.realNow().Sub(c.lastSample) <= client.NoMasterTimeout
}

// RTPTimestamp derives the 32-bit media-clock timestamp for a given
// epoch and frame_time_sampling (ticks per frame), matching the pacing
// engine's own derivation so both agree.
func RTPTimestamp(epoch int64, frameTimeSampling uint32) uint32 {
	return uint32((uint64(epoch) * uint64(frameTimeSampling)) % (1 << 32))
}
