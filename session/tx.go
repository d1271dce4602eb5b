package session

import (
	"time"

	"github.com/OpenVisualCloud/mtl-go/mtlerr"
	"github.com/OpenVisualCloud/mtl-go/pacing"
	"github.com/OpenVisualCloud/mtl-go/rtp"
	"github.com/OpenVisualCloud/mtl-go/sched"
)

// Bulk is the tasklet's per-round batch size (§5).
const Bulk = 4

// GetNextFrameFunc borrows a frame from the application; returning
// ok=false signals EAGAIN (no frame ready yet).
type GetNextFrameFunc func() (idx int, meta FrameMeta, ok bool)

// NotifyFrameDoneFunc is called by the build tasklet once a frame
// buffer's final packet has been built and handed to the TX ring; it
// does not wait for that packet to be sent or acknowledged.
type NotifyFrameDoneFunc func(idx int, meta FrameMeta)

// QueryFrameLinesReadyFunc reports how many leading lines of the frame
// currently claimed for build (buffer idx) are safe to packetize; it
// lets a producer hand a partially-filled frame to the session and have
// it stream out lines as they land (slice mode), rather than waiting for
// buffer_put. Only meaningful under GPMSL, where packet index == row
// number. Nil means the whole frame is ready as soon as it is claimed.
type QueryFrameLinesReadyFunc func(idx int) (linesReady int)

// DestInfo is the cached L2/L3/L4 header material a session transmits
// with, rewritable via UpdateDestination for multicast retargeting.
type DestInfo struct {
	DstMAC  [6]byte
	DstIP   [4]byte
	DstPort uint16
	SrcPort uint16
	SSRC    uint32
}

// TXVideoSession owns a frame pool, pacing state, and the per-port ring
// to the transmitter. Implements the build tasklet (§4.3).
type TXVideoSession struct {
	Pool     []*TXFrameBuffer
	Pacing   *pacing.State
	Ring     [2]*sched.Ring[*rtp.PacketBuf]
	Dest     [2]DestInfo
	NumPorts int

	Width, Height int
	Format        rtp.Format
	PackingMode   rtp.PackingMode
	PayloadType   uint8
	Compressed    bool

	GetNextFrame     GetNextFrameFunc
	NotifyDone       NotifyFrameDoneFunc
	QueryLinesReady  QueryFrameLinesReadyFunc

	curIdx      int
	pktIdx      int
	totalPkts   int
	schedule    pacing.FrameSchedule
	waitFrame   bool
	inflight    [2][]*rtp.PacketBuf
	seq         uint16
	frameCount  uint64
	lateCount   uint64

	StatEpochDrop uint64
}

// NewTXVideoSession creates a TX session with a framebuff_cnt-sized pool.
func NewTXVideoSession(framebuffCnt, frameSize int, p *pacing.State, numPorts int) (*TXVideoSession, error) {
	if framebuffCnt < 2 {
		return nil, mtlerr.New(mtlerr.InvalidArgument, "NewTXVideoSession: framebuff_cnt must be >= 2")
	}
	s := &TXVideoSession{Pacing: p, NumPorts: numPorts, waitFrame: true}
	for i := 0; i < framebuffCnt; i++ {
		s.Pool = append(s.Pool, NewTXFrameBuffer(i, frameSize))
	}
	for i := 0; i < numPorts; i++ {
		s.Ring[i] = sched.NewRing[*rtp.PacketBuf](sched.TXRingSize)
	}
	return s, nil
}

// GetBuffer CAS-claims a FREE buffer, the public buffer_get operation.
func (s *TXVideoSession) GetBuffer() (*TXFrameBuffer, error) {
	for _, b := range s.Pool {
		if b.State() == TXFree && b.Get() {
			return b, nil
		}
	}
	return nil, mtlerr.New(mtlerr.WouldBlock, "TXVideoSession.GetBuffer")
}

// PutBuffer transitions APP_OWNED->READY and records metadata.
func (s *TXVideoSession) PutBuffer(b *TXFrameBuffer, meta FrameMeta) error {
	return b.Put(meta)
}

// UpdateDestination rewrites the cached headers for port.
func (s *TXVideoSession) UpdateDestination(port int, d DestInfo) error {
	if port < 0 || port >= s.NumPorts {
		return mtlerr.New(mtlerr.InvalidArgument, "UpdateDestination")
	}
	s.Dest[port] = d
	return nil
}

// Handle runs one scheduler round of the build tasklet (§4.3 numbered
// steps).
func (s *TXVideoSession) Handle() sched.Result {
	// Step 1: retry any inflight enqueue left over from a full ring.
	pending := false
	for port := 0; port < s.NumPorts; port++ {
		if len(s.inflight[port]) > 0 {
			n := s.Ring[port].EnqueueBulk(s.inflight[port])
			s.inflight[port] = s.inflight[port][n:]
			if len(s.inflight[port]) > 0 {
				pending = true
			}
		}
	}
	if pending {
		return sched.HasPending
	}

	// Step 2: claim a new frame if none is in flight.
	if s.waitFrame {
		idx, meta, ok := s.GetNextFrame()
		if !ok {
			return sched.AllDone
		}
		buf := s.Pool[idx]
		if !buf.ClaimForBuild() {
			return sched.AllDone
		}
		s.curIdx = idx
		s.pktIdx = 0
		var userRTP *uint32
		if meta.RTPTimestamp != 0 {
			userRTP = &meta.RTPTimestamp
		}
		s.schedule = s.Pacing.Sync(0, userRTP)
		var total int
		if s.Compressed {
			total = rtp.PacketCountJPEGXS(len(buf.Data), 0)
		} else {
			t, err := rtp.PacketCount(s.PackingMode, s.Width, s.Height, s.Format)
			if err != nil {
				t = 1
			}
			total = t
		}
		s.totalPkts = total
		buf.Meta = meta
		buf.Meta.RTPTimestamp = s.schedule.RTPTimestamp
		buf.Meta.PktsTotal = uint32(total)
		s.waitFrame = false
	}

	// Step 3/4: build up to Bulk packets, tag with scheduled TSC,
	// enqueue per port.
	built := make([]*rtp.PacketBuf, 0, Bulk)
	buf := s.Pool[s.curIdx]
	for i := 0; i < Bulk && s.pktIdx < s.totalPkts; i++ {
		// Slice mode (§4.3 step 3a): under GPMSL, packet index is row
		// number, so a producer can stream a frame out line-by-line via
		// QueryLinesReady instead of waiting for the whole frame to
		// land in the buffer before calling buffer_put.
		if s.PackingMode == rtp.GPMSL && s.QueryLinesReady != nil {
			if s.pktIdx >= s.QueryLinesReady(s.curIdx) {
				break
			}
		}
		marker := s.pktIdx == s.totalPkts-1
		rtpHdr := rtp.Header{
			Marker:         marker,
			PayloadType:    s.PayloadType,
			SequenceNumber: s.seq,
			Timestamp:      s.schedule.RTPTimestamp,
			SSRC:           s.Dest[0].SSRC,
		}

		var hdr, payload []byte
		if s.Compressed {
			start := s.pktIdx * rtp.JXSPayloadBytes
			end := start + rtp.JXSPayloadBytes
			if end > len(buf.Data) {
				end = len(buf.Data)
			}
			payload = buf.Data[start:end]

			hdr = make([]byte, rtp.HeaderSize+rtp.JXSHeaderSize)
			_ = rtpHdr.Marshal(hdr[:rtp.HeaderSize])
			jh := rtp.JXSHeader{
				ExtSeqNum:  uint16(uint32(s.seq) >> 16),
				LastPacket: marker,
				PCounter:   uint16(s.pktIdx),
			}
			_ = jh.Marshal(hdr[rtp.HeaderSize:])
		} else {
			layout, err := rtp.PacketLayoutOf(s.PackingMode, s.Width, s.Height, s.Format, s.pktIdx)
			if err != nil {
				layout = rtp.PacketLayout{Row0: rtp.RowDescriptor{RowNumber: uint16(s.pktIdx)}}
			}
			payload = buf.Data[layout.ByteOffset : layout.ByteOffset+layout.ByteLength]
			layout.Row0.SecondField = buf.Meta.SecondField
			if layout.Row1 != nil {
				layout.Row1.SecondField = buf.Meta.SecondField
			}

			hdr = make([]byte, rtp.HeaderSize+rtp.VideoHeaderSize+6)
			_ = rtpHdr.Marshal(hdr[:rtp.HeaderSize])
			vh := rtp.VideoHeader{
				ExtSeqNum: uint16(uint32(s.seq) >> 16),
				Row0:      layout.Row0,
				Row1:      layout.Row1,
			}
			n, _ := vh.Marshal(hdr[rtp.HeaderSize:])
			hdr = hdr[:rtp.HeaderSize+n]
		}

		pkt := rtp.NewPacketBuf(hdr, payload, func(p *rtp.PacketBuf) { buf.Unref() })
		pkt.TxTSC = s.schedule.PacketTSC(s.pktIdx)
		buf.Ref()
		built = append(built, pkt)
		s.seq++
		s.pktIdx++
	}

	for port := 0; port < s.NumPorts; port++ {
		n := s.Ring[port].EnqueueBulk(built)
		if n < len(built) {
			s.inflight[port] = append(s.inflight[port], built[n:]...)
		}
	}

	if s.pktIdx >= s.totalPkts {
		s.endOfFrame(buf)
	}

	if len(s.inflight[0]) > 0 || (s.NumPorts > 1 && len(s.inflight[1]) > 0) {
		return sched.HasPending
	}
	if s.pktIdx < s.totalPkts {
		return sched.HasPending
	}
	return sched.AllDone
}

func (s *TXVideoSession) endOfFrame(buf *TXFrameBuffer) {
	s.waitFrame = true
	s.frameCount++
	deadline := s.schedule.Packet0TSC + int64(s.totalPkts)*s.schedule.Trs
	if s.Pacing.Clock.Now() > deadline {
		s.lateCount++
	}
	if s.NotifyDone != nil {
		s.NotifyDone(buf.Index, buf.Meta)
	}
}

func (s *TXVideoSession) PreStart() error { return nil }
func (s *TXVideoSession) Start() error    { return nil }
func (s *TXVideoSession) Stop()           {}
func (s *TXVideoSession) AdviceSleep() time.Duration { return 0 }

var _ sched.Tasklet = (*TXVideoSession)(nil)
