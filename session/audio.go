package session

import (
	"github.com/OpenVisualCloud/mtl-go/mtlerr"
	"github.com/OpenVisualCloud/mtl-go/pacing"
	"github.com/OpenVisualCloud/mtl-go/rtp"
	"github.com/OpenVisualCloud/mtl-go/sched"
)

// AudioPacketTime names the ST 2110-30 packet time options.
type AudioPacketTime int

const (
	PacketTime1ms AudioPacketTime = iota
	PacketTime125us
)

// NsPerPacket returns the nominal inter-packet gap for the packet time.
func (t AudioPacketTime) NsPerPacket() int64 {
	if t == PacketTime125us {
		return 125_000
	}
	return 1_000_000
}

// TXAudioSession holds the frame pool and TX ring for ST 2110-30 PCM
// audio, with each pool buffer sized by BytesPerPacket for the
// configured packet time. It builds no packets and has no tasklet
// methods; the pacing.State passed to NewTXAudioSession is not kept.
type TXAudioSession struct {
	Pool        []*TXFrameBuffer
	SampleRate  int
	Channels    int
	BitDepth    int
	PacketTime  AudioPacketTime
	Ring        *sched.Ring[*rtp.PacketBuf]

	curIdx  int
	seq     uint16
}

// BytesPerPacket returns the fixed PCM payload size for one packet time.
func (s *TXAudioSession) BytesPerPacket() int {
	samplesPerPacket := int64(s.SampleRate) * s.PacketTime.NsPerPacket() / 1_000_000_000
	return int(samplesPerPacket) * s.Channels * (s.BitDepth / 8)
}

// NewTXAudioSession allocates an audio frame pool sized to one packet's
// payload each (audio frames are per-packet in this simplified model).
func NewTXAudioSession(framebuffCnt, sampleRate, channels, bitDepth int, pt AudioPacketTime, p *pacing.State) (*TXAudioSession, error) {
	if framebuffCnt < 2 {
		return nil, mtlerr.New(mtlerr.InvalidArgument, "NewTXAudioSession: framebuff_cnt must be >= 2")
	}
	s := &TXAudioSession{SampleRate: sampleRate, Channels: channels, BitDepth: bitDepth, PacketTime: pt}
	sz := s.BytesPerPacket()
	for i := 0; i < framebuffCnt; i++ {
		s.Pool = append(s.Pool, NewTXFrameBuffer(i, sz))
	}
	s.Ring = sched.NewRing[*rtp.PacketBuf](sched.TXRingSize)
	return s, nil
}

// ANCPacket models one SMPTE 291 ancillary data packet: DID/SDID,
// user-data-words, and checksum.
type ANCPacket struct {
	DID, SDID uint8
	UserWords []uint16
}

// Checksum computes the SMPTE 291 9-bit checksum over DID/SDID/DC/UDW.
func (p ANCPacket) Checksum() uint16 {
	var sum uint16
	sum += uint16(p.DID)
	sum += uint16(p.SDID)
	sum += uint16(len(p.UserWords))
	for _, w := range p.UserWords {
		sum += w & 0x1ff
	}
	return sum & 0x1ff
}

// TXAncillarySession holds the frame pool and TX ring for ST 2110-40
// ancillary data. It does not packetize ANCPacket values and has no
// tasklet methods.
type TXAncillarySession struct {
	Pool []*TXFrameBuffer
	Ring *sched.Ring[*rtp.PacketBuf]
}

// NewTXAncillarySession allocates an ancillary frame pool.
func NewTXAncillarySession(framebuffCnt, maxPacketSize int) (*TXAncillarySession, error) {
	if framebuffCnt < 2 {
		return nil, mtlerr.New(mtlerr.InvalidArgument, "NewTXAncillarySession: framebuff_cnt must be >= 2")
	}
	s := &TXAncillarySession{}
	for i := 0; i < framebuffCnt; i++ {
		s.Pool = append(s.Pool, NewTXFrameBuffer(i, maxPacketSize))
	}
	s.Ring = sched.NewRing[*rtp.PacketBuf](sched.TXRingSize)
	return s, nil
}
