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

package servo

import (
	"math"

	log "github.com/sirupsen/logrus"
)

const (
	// kp and ki scale applied once SyncInterval establishes the servo's
	// correction cadence.
	kpScale = 0.7
	kiScale = 0.3

	maxKpNormMax = 1.0
	maxKiNormMax = 2.0

	freqEstMargin = 0.001
)

// PiServoCfg is a PI servo's tunable gains.
type PiServoCfg struct {
	PiKpScale    float64
	PiKpExponent float64
	PiKpNormMax  float64
	PiKiScale    float64
	PiKiExponent float64
	PiKiNormMax  float64
}

// PiServo tracks the frequency correction (ppb) needed to drive a stream
// of offset samples to zero.
type PiServo struct {
	Servo
	offset       [2]int64
	local        [2]uint64
	drift        float64
	kp           float64
	ki           float64
	lastFreq     float64
	syncInterval float64
	count        int
	cfg          *PiServoCfg
}

// InitLastFreq resets the servo's last-known frequency and drift, the
// starting point a fresh Clock hands it before the first sample arrives.
func (s *PiServo) InitLastFreq(freq float64) {
	s.lastFreq = freq
	s.drift = freq
}

// Sample feeds one (offset, local_timestamp) pair into the PI servo and
// returns the frequency correction (ppb) to apply, plus how the sample
// was classified:
//
//   - sample 0 seeds the servo and returns the prior frequency unchanged
//   - sample 1 estimates drift from the two samples' slope, and reports
//     StateJump if the offset exceeds the configured step threshold
//   - every sample after that runs the steady-state PI correction
func (s *PiServo) Sample(offset int64, localTs uint64) (float64, State) {
	var kiTerm, freqEstInterval, localDiff float64
	state := StateInit
	ppb := s.lastFreq
	sOffset := offset
	if sOffset < 0 {
		sOffset = -sOffset
	}

	switch s.count {
	case 0:
		s.offset[0] = offset
		s.local[0] = localTs
		s.count = 1
	case 1:
		s.offset[1] = offset
		s.local[1] = localTs

		if s.local[0] >= s.local[1] {
			s.count = 0
			break
		}

		localDiff = float64(s.local[1]-s.local[0]) / math.Pow10(9)
		localDiff += localDiff * freqEstMargin
		freqEstInterval = 0.016 / s.ki
		if freqEstInterval > 1000.0 {
			freqEstInterval = 1000.0
		}
		if localDiff < freqEstInterval {
			log.Warning("servo Sample is called too often, not enough time passed since first sample")
			break
		}

		// Adjust drift by the measured frequency offset.
		s.drift += (math.Pow10(9) - s.drift) * float64(s.offset[1]-s.offset[0]) /
			float64(s.local[1]-s.local[0])

		if s.drift < -s.maxFreq {
			s.drift = -s.maxFreq
		} else if s.drift > s.maxFreq {
			s.drift = s.maxFreq
		}

		if (s.FirstUpdate && s.FirstStepThreshold > 0 &&
			s.FirstStepThreshold < sOffset) ||
			(s.StepThreshold > 0 && s.StepThreshold < sOffset) {
			state = StateJump
		} else {
			state = StateLocked
		}
		ppb = s.drift
		s.count = 2
	case 2:
		// Reset the servo when the offset exceeds the step threshold:
		// the caller is expected to step the clock directly rather than
		// have Sample try to converge a correction this large.
		if s.StepThreshold != 0 && s.StepThreshold < sOffset {
			s.count = 0
			state = StateInit
			break
		}
		state = StateLocked
		kiTerm = s.ki * float64(offset)
		ppb = s.kp*float64(offset) + s.drift + kiTerm
		if ppb < -s.maxFreq {
			ppb = -s.maxFreq
		} else if ppb > s.maxFreq {
			ppb = s.maxFreq
		} else {
			s.drift += kiTerm
		}
	}
	s.lastFreq = ppb
	return ppb, state
}

func (s *PiServo) resyncInterval() {
	if s.syncInterval == 0 {
		return
	}
	s.kp = s.cfg.PiKpScale * math.Pow(s.syncInterval, s.cfg.PiKpExponent)
	if s.kp > s.cfg.PiKpNormMax/s.syncInterval {
		s.kp = s.cfg.PiKpNormMax / s.syncInterval
	}

	s.ki = s.cfg.PiKiScale * math.Pow(s.syncInterval, s.cfg.PiKiExponent)
	if s.ki > s.cfg.PiKiNormMax/s.syncInterval {
		s.ki = s.cfg.PiKiNormMax / s.syncInterval
	}
}

// SyncInterval informs the servo of the sample cadence in seconds, which
// sets its kp/ki gains; must be called at least once before Sample's
// count==2 branch produces a non-zero correction.
func (s *PiServo) SyncInterval(interval float64) {
	s.syncInterval = interval
	s.resyncInterval()
}

func (cfg *PiServoCfg) makePiFast() {
	cfg.PiKpScale = kpScale
	cfg.PiKiScale = kiScale
}

// NewPiServo creates a PI servo seeded with freq as both its last known
// frequency and its initial drift estimate.
func NewPiServo(s Servo, cfg *PiServoCfg, freq float64) *PiServo {
	var pi PiServo
	pi.Servo = s
	pi.cfg = cfg
	pi.lastFreq = freq
	pi.drift = freq
	return &pi
}

// DefaultPiServoCfg returns gain-scale config with exponents left at
// zero, so SyncInterval's kp/ki come straight from the scale constants
// regardless of the interval's magnitude.
func DefaultPiServoCfg() *PiServoCfg {
	cfg := PiServoCfg{
		PiKpExponent: 0.0,
		PiKpNormMax:  maxKpNormMax,
		PiKiExponent: 0.0,
		PiKiNormMax:  maxKiNormMax,
	}
	cfg.makePiFast()
	return &cfg
}
