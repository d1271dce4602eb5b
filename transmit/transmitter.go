package transmit

import (
	"time"

	"github.com/OpenVisualCloud/mtl-go/rtp"
	"github.com/OpenVisualCloud/mtl-go/sched"
	"github.com/sirupsen/logrus"
)

// PadPacket is a static pre-built mbuf of configurable size, refcount
// bumped before each burst; the driver returns it to the pool (§4.4).
type PadPacket struct {
	buf *rtp.PacketBuf
}

// NewPadPacket builds a pad packet of size bytes.
func NewPadPacket(size int) *PadPacket {
	return &PadPacket{buf: rtp.NewPacketBuf(make([]byte, 0), make([]byte, size), nil)}
}

// Next returns the pad packet bumped for one more in-flight reference.
func (p *PadPacket) Next() *rtp.PacketBuf {
	p.buf.Ref()
	return p.buf
}

// VideoTransmitter drains tx_ring[port] into a PacketSink under pacing
// constraints: the rate-limit path (pad_interval insertion) or the TSC
// path (per-packet target TSC).
type VideoTransmitter struct {
	Ring *sched.Ring[*rtp.PacketBuf]
	Sink PacketSink
	Mode TransmitMode
	Now  func() int64 // nanoseconds, injectable for tests

	PadInterval int
	Pad         *PadPacket
	WarmPkts    int

	inflight []*rtp.PacketBuf
	pktIdx   uint64
	newFrame bool

	StatRejects  uint64
	StatDesync   uint64
	log          *logrus.Entry
}

// TransmitMode selects which pacing discipline the send tasklet applies.
type TransmitMode int

const (
	ModeRateLimit TransmitMode = iota
	ModeTSC
)

// DesyncThreshold is the overshoot beyond which the TSC path logs a
// pacing-desync error (§4.4).
const DesyncThreshold = time.Second

// NewVideoTransmitter creates a transmitter draining ring into sink.
func NewVideoTransmitter(ring *sched.Ring[*rtp.PacketBuf], sink PacketSink, mode TransmitMode, now func() int64, log *logrus.Entry) *VideoTransmitter {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &VideoTransmitter{Ring: ring, Sink: sink, Mode: mode, Now: now, log: log, newFrame: true}
}

// Handle runs one scheduler round of the send tasklet.
func (v *VideoTransmitter) Handle() sched.Result {
	if len(v.inflight) > 0 {
		if v.Mode == ModeTSC && v.Now() < v.inflight[0].TxTSC {
			return sched.AllDone
		}
		sent, err := v.Sink.Burst(v.inflight)
		if err != nil {
			v.log.WithError(err).Warn("burst failed")
		}
		v.inflight = v.inflight[sent:]
		if len(v.inflight) > 0 {
			return sched.HasPending
		}
	}

	switch v.Mode {
	case ModeRateLimit:
		return v.handleRateLimit()
	default:
		return v.handleTSC()
	}
}

func (v *VideoTransmitter) handleRateLimit() sched.Result {
	if v.newFrame && v.Pad != nil {
		for i := 0; i < v.WarmPkts; i++ {
			if _, err := v.Sink.Burst([]*rtp.PacketBuf{v.Pad.Next()}); err != nil {
				v.StatRejects++
			}
		}
		v.newFrame = false
	}

	bulk := make([]*rtp.PacketBuf, 4)
	n := v.Ring.DequeueBulk(bulk)
	if n == 0 {
		return sched.AllDone
	}
	bulk = bulk[:n]

	sent, err := v.Sink.Burst(bulk)
	if err != nil {
		v.log.WithError(err).Warn("burst failed")
	}
	if sent < len(bulk) {
		v.inflight = append(v.inflight, bulk[sent:]...)
	}
	v.pktIdx += uint64(sent)

	if v.PadInterval > 0 && int(v.pktIdx+1)%v.PadInterval < 4 && v.Pad != nil {
		if _, err := v.Sink.Burst([]*rtp.PacketBuf{v.Pad.Next()}); err != nil {
			v.StatRejects++
		}
	}

	return sched.HasPending
}

func (v *VideoTransmitter) handleTSC() sched.Result {
	bulk := make([]*rtp.PacketBuf, 1)
	n := v.Ring.DequeueBulk(bulk)
	if n == 0 {
		return sched.AllDone
	}
	pkt := bulk[0]

	now := v.Now()
	if now < pkt.TxTSC {
		delta := pkt.TxTSC - now
		if delta < int64(DesyncThreshold) {
			// put it back conceptually: requeue by re-enqueueing;
			// since this is SPSC from build->send, we stash it as
			// inflight for the next round instead of a destructive
			// re-push.
			v.inflight = append(v.inflight, pkt)
			return sched.AllDone
		}
		v.StatDesync++
		v.log.Error("pacing desync: TSC target far in the future")
	}

	sent, err := v.Sink.Burst([]*rtp.PacketBuf{pkt})
	if err != nil {
		v.log.WithError(err).Warn("burst failed")
	}
	if sent == 0 {
		v.inflight = append(v.inflight, pkt)
	}
	return sched.HasPending
}

func (v *VideoTransmitter) PreStart() error { return nil }
func (v *VideoTransmitter) Start() error    { return nil }
func (v *VideoTransmitter) Stop()           {}
func (v *VideoTransmitter) AdviceSleep() time.Duration { return 0 }

var _ sched.Tasklet = (*VideoTransmitter)(nil)
