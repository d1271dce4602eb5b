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

// Package ebu computes the ST 2110-21 EBU timing-parser metrics on the RX
// path: FPT, latency, VRX(t), Cinst, RTP offset, RTP timestamp delta, and
// inter-packet time, with a periodic pass/wide/fail conformance verdict
// every 300 samples (§4.7). Rolling mean/variance is kept with the
// teacher's own dependency, github.com/eclesh/welford (facebook-time's
// fbclock/daemon and ptp/c4u/clock import it for the same online-moments
// purpose).
package ebu

import (
	"fmt"
	"io"

	"github.com/eclesh/welford"
	"github.com/olekukonko/tablewriter"
)

// SampleWindow is how many packets are accumulated before a conformance
// verdict is evaluated and the rolling statistics reset (§4.7).
const SampleWindow = 300

// CinstDrainFactor scales the expected per-trs drain rate in the Cinst
// formula.
const CinstDrainFactor = 1.0

// Verdict is the periodic conformance classification.
type Verdict string

const (
	VerdictPass Verdict = "pass"
	VerdictWide Verdict = "wide"
	VerdictFail Verdict = "fail"
)

// PassBand names the narrow/wide envelope pair for one metric, matching
// ST 2110-21's two compliance classes.
type PassBand struct {
	Narrow float64
	Wide   float64
}

// PassBands bundles the envelopes the analyzer checks against. Defaults
// mirror the narrow/wide VRX formulas already used by the pacing engine
// (pacing.Raster.VRXNarrow/VRXWide) so a conformant sender/receiver pair
// sharing the same raster agree on what "narrow" means; FPT uses the
// raster's tr_offset as its own narrow bound, doubled for wide.
type PassBands struct {
	Cinst PassBand
	VRX   PassBand
	FPT   PassBand
}

// DefaultPassBands builds pass bands from a raster's own VRX/TROffset
// derivation, per §3.3/§4.7.
func DefaultPassBands(vrxNarrow, vrxWide int, trOffsetNs int64) PassBands {
	return PassBands{
		Cinst: PassBand{Narrow: float64(vrxNarrow), Wide: float64(vrxWide)},
		VRX:   PassBand{Narrow: float64(vrxNarrow), Wide: float64(vrxWide)},
		FPT:   PassBand{Narrow: float64(trOffsetNs), Wide: float64(2 * trOffsetNs)},
	}
}

// stat tracks rolling min/max/mean/variance for one metric over the
// current SampleWindow via welford's online algorithm.
type stat struct {
	w        *welford.Stats
	min, max float64
	n        int
}

func newStat() *stat {
	return &stat{w: welford.New(), min: 0, max: 0}
}

func (s *stat) add(v float64) {
	if s.n == 0 || v < s.min {
		s.min = v
	}
	if s.n == 0 || v > s.max {
		s.max = v
	}
	s.w.Add(v)
	s.n++
}

func (s *stat) reset() {
	*s = *newStat()
}

// Analyzer computes per-packet EBU timing metrics for one RX session and
// emits a conformance Verdict every SampleWindow samples.
type Analyzer struct {
	Bands PassBands

	FrameTimeSampling uint32
	TrOffsetNs        int64
	Trs               int64

	epochNs int64

	vrxPrev       int64
	frameFirstTSC int64
	lastRTPTS     uint32
	havePrevTS    bool
	lastPktTSC    int64
	havePrevTSC   bool

	fpt     *stat
	latency *stat
	vrx     *stat
	cinst   *stat
	rtpOff  *stat
	rtpDlt  *stat
	ipt     *stat

	OnVerdict func(metric string, v Verdict)
}

// NewAnalyzer creates an Analyzer bound to one raster's timing constants.
func NewAnalyzer(bands PassBands, frameTimeSampling uint32, trOffsetNs, trs int64) *Analyzer {
	return &Analyzer{
		Bands:             bands,
		FrameTimeSampling: frameTimeSampling,
		TrOffsetNs:        trOffsetNs,
		Trs:               trs,
		fpt:               newStat(),
		latency:           newStat(),
		vrx:               newStat(),
		cinst:             newStat(),
		rtpOff:            newStat(),
		rtpDlt:            newStat(),
		ipt:               newStat(),
	}
}

// BeginFrame marks the epoch and RTP timestamp of a newly-arriving frame,
// and the hardware RX timestamp of its first packet.
func (a *Analyzer) BeginFrame(epochNs int64, rtpTimestamp uint32, firstPktRXns int64) {
	a.epochNs = epochNs
	a.frameFirstTSC = firstPktRXns

	fpt := firstPktRXns - epochNs
	a.fpt.add(float64(fpt))

	trDerived := epochNs + a.TrOffsetNs
	a.latency.add(float64(firstPktRXns - trDerived))

	off := int64(rtpTimestamp) - int64(uint32(int64(epochNs)/1e9*int64(a.FrameTimeSampling)))
	a.rtpOff.add(float64(uint32(off)))

	if a.havePrevTS {
		delta := int32(rtpTimestamp - a.lastRTPTS)
		a.rtpDlt.add(float64(delta))
	}
	a.lastRTPTS = rtpTimestamp
	a.havePrevTS = true
	a.vrxPrev = 0
}

// Packet records one packet's arrival (index k within the frame, at
// hardware RX timestamp pktTSCns) and computes VRX(t) and Cinst.
func (a *Analyzer) Packet(k int, pktTSCns int64) {
	tvd := a.epochNs + a.TrOffsetNs
	drained := int64(0)
	if a.Trs > 0 {
		drained = (pktTSCns-tvd)/a.Trs + 1
	}
	vrx := a.vrxPrev + 1 - drained
	a.vrx.add(float64(vrx))
	a.vrxPrev = vrx

	cinst := int64(0)
	if a.Trs > 0 {
		drain := int64(float64((pktTSCns-a.frameFirstTSC)/a.Trs) * CinstDrainFactor)
		cinst = int64(k) - drain
	}
	if cinst < 0 {
		cinst = 0
	}
	a.cinst.add(float64(cinst))

	if a.havePrevTSC {
		a.ipt.add(float64(pktTSCns - a.lastPktTSC))
	}
	a.lastPktTSC = pktTSCns
	a.havePrevTSC = true

	if a.vrx.n >= SampleWindow {
		a.evaluate()
	}
}

func (a *Analyzer) evaluate() {
	a.classify("cinst", a.cinst, a.Bands.Cinst)
	a.classify("vrx", a.vrx, a.Bands.VRX)
	a.classify("fpt", a.fpt, a.Bands.FPT)

	a.fpt.reset()
	a.latency.reset()
	a.vrx.reset()
	a.cinst.reset()
	a.rtpOff.reset()
	a.rtpDlt.reset()
	a.ipt.reset()
}

func (a *Analyzer) classify(name string, s *stat, band PassBand) {
	v := VerdictFail
	switch {
	case s.max <= band.Narrow:
		v = VerdictPass
	case s.max <= band.Wide:
		v = VerdictWide
	}
	if a.OnVerdict != nil {
		a.OnVerdict(name, v)
	}
}

// Snapshot reports the current (pre-reset) rolling statistics, primarily
// for tests and diagnostic dumps.
type Snapshot struct {
	FPTMean, FPTMin, FPTMax         float64
	LatencyMean                     float64
	VRXMean, VRXMin, VRXMax         float64
	CinstMean, CinstMin, CinstMax   float64
	RTPOffsetMean                   float64
	RTPDeltaMean                    float64
	InterPacketTimeMean             float64
	Samples                         int
}

// Snapshot returns the analyzer's current rolling statistics.
func (a *Analyzer) Snapshot() Snapshot {
	return Snapshot{
		FPTMean: a.fpt.w.Mean(), FPTMin: a.fpt.min, FPTMax: a.fpt.max,
		LatencyMean: a.latency.w.Mean(),
		VRXMean:     a.vrx.w.Mean(), VRXMin: a.vrx.min, VRXMax: a.vrx.max,
		CinstMean: a.cinst.w.Mean(), CinstMin: a.cinst.min, CinstMax: a.cinst.max,
		RTPOffsetMean:       a.rtpOff.w.Mean(),
		RTPDeltaMean:        a.rtpDlt.w.Mean(),
		InterPacketTimeMean: a.ipt.w.Mean(),
		Samples:             a.vrx.n,
	}
}

func (v Verdict) String() string { return string(v) }

// String renders a snapshot for log/CLI output.
func (s Snapshot) String() string {
	return fmt.Sprintf("fpt=%.0f(%.0f..%.0f) vrx=%.1f(%.0f..%.0f) cinst=%.1f(%.0f..%.0f) n=%d",
		s.FPTMean, s.FPTMin, s.FPTMax, s.VRXMean, s.VRXMin, s.VRXMax, s.CinstMean, s.CinstMin, s.CinstMax, s.Samples)
}

// WriteTable renders a snapshot as an aligned table, the mtlstat CLI's
// verbose dump format for a single session's conformance metrics.
func (s Snapshot) WriteTable(w io.Writer) {
	tw := tablewriter.NewWriter(w)
	tw.Header([]string{"metric", "mean", "min", "max"})
	_ = tw.Append([]string{"fpt (ns)", fmt.Sprintf("%.0f", s.FPTMean), fmt.Sprintf("%.0f", s.FPTMin), fmt.Sprintf("%.0f", s.FPTMax)})
	_ = tw.Append([]string{"vrx (pkts)", fmt.Sprintf("%.1f", s.VRXMean), fmt.Sprintf("%.0f", s.VRXMin), fmt.Sprintf("%.0f", s.VRXMax)})
	_ = tw.Append([]string{"cinst (pkts)", fmt.Sprintf("%.1f", s.CinstMean), fmt.Sprintf("%.0f", s.CinstMin), fmt.Sprintf("%.0f", s.CinstMax)})
	_ = tw.Append([]string{"latency (ns)", fmt.Sprintf("%.0f", s.LatencyMean), "-", "-"})
	_ = tw.Append([]string{"rtp offset", fmt.Sprintf("%.1f", s.RTPOffsetMean), "-", "-"})
	_ = tw.Append([]string{"rtp ts delta", fmt.Sprintf("%.1f", s.RTPDeltaMean), "-", "-"})
	_ = tw.Append([]string{"inter-pkt time (ns)", fmt.Sprintf("%.0f", s.InterPacketTimeMean), "-", "-"})
	_ = tw.Render()
}
