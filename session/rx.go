package session

import (
	"time"

	"github.com/OpenVisualCloud/mtl-go/mtlerr"
	"github.com/OpenVisualCloud/mtl-go/rtp"
	"github.com/OpenVisualCloud/mtl-go/sched"
	"github.com/sirupsen/logrus"
)

// NSlots is the recommended reassembly slot count (§5).
const NSlots = 4

// NotifyFrameReadyFunc delivers a completed frame to the application; a
// non-zero/true return means the application wants the frame returned to
// the pool immediately rather than retained.
type NotifyFrameReadyFunc func(buf *RXFrameBuffer, meta FrameMeta) (releaseNow bool)

// RXVideoSession classifies incoming packets into reassembly slots by
// RTP timestamp and detects frame completion (§4.5).
type RXVideoSession struct {
	Pool   []*RXFrameBuffer
	Slots  *SlotTable

	Width, Height        int
	Format               rtp.Format
	RowPitch             int // 0 = tight-packed
	ReceiveIncomplete    bool
	PktsExpected         int

	NotifyReady NotifyFrameReadyFunc

	Port int // 0 or 1, for pkts_recv[port] accounting

	Now func() time.Time

	StatDropped  uint64
	StatDup      uint64
	log          *logrus.Entry
}

// NewRXVideoSession creates an RX session with a framebuff_cnt-sized pool
// and an NSlots-sized reassembly slot table.
func NewRXVideoSession(framebuffCnt, frameSize int, log *logrus.Entry) *RXVideoSession {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	s := &RXVideoSession{Slots: NewSlotTable(NSlots), Now: time.Now, log: log}
	for i := 0; i < framebuffCnt; i++ {
		s.Pool = append(s.Pool, NewRXFrameBuffer(i, frameSize))
	}
	return s
}

func (s *RXVideoSession) freeBuffer() *RXFrameBuffer {
	for _, b := range s.Pool {
		if b.State() == RXFree && b.AssignToSlot() {
			return b
		}
	}
	return nil
}

// HandlePacket processes one received RFC 4175 packet (header already
// parsed), returning an error for malformed input and a NoBuffer error
// when no free frame buffer is left for a new frame (that packet is also
// counted in StatDropped); other drops and duplicates are counted, not
// surfaced (§7: Dropped is always counted, never a per-call error).
func (s *RXVideoSession) HandlePacket(rtpHdr rtp.Header, vh rtp.VideoHeader, payload []byte) error {
	extSeq := uint32(vh.ExtSeqNum)<<16 | uint32(rtpHdr.SequenceNumber)
	ts := rtpHdr.Timestamp
	now := s.Now()

	slot := s.Slots.Find(ts)
	if slot == nil {
		if vh.Row0.RowNumber != 0 || vh.Row0.Offset != 0 {
			if !s.ReceiveIncomplete {
				s.StatDropped++
				return nil
			}
		}
		buf := s.freeBuffer()
		if buf == nil {
			s.StatDropped++
			return mtlerr.New(mtlerr.NoBuffer, "RXVideoSession.HandlePacket")
		}
		pgSize, pgCov := pgroupSizeCoverage(s.Format)
		rowPitch := s.RowPitch
		if rowPitch == 0 {
			rowPitch = (s.Width / pgCov) * pgSize
		}
		var evicted *ReassemblySlot
		slot, evicted = s.Slots.Assign(ts, buf, s.PktsExpected, s.Width*s.Height, rowPitch, now)
		if evicted != nil {
			s.deliverEvicted(evicted)
		}
		slot.SeqIDBase = extSeq
	}

	slot.LastActivity = now
	pktIdx := int((extSeq - slot.SeqIDBase))

	if slot.Bitmap.TestAndSet(pktIdx) {
		s.StatDup++
		return nil
	}

	slot.Buffer.BeginFilling()

	pgSize, pgCov := pgroupSizeCoverage(s.Format)
	if err := s.writePayload(slot, vh, payload, pgSize, pgCov); err != nil {
		return err
	}

	slot.Buffer.Meta.PktsRecv[s.Port]++

	complete := slot.Bitmap.Popcount() >= s.PktsExpected || (rtpHdr.Marker && s.Format == rtp.FormatJPEGXS)
	if complete {
		slot.Buffer.Meta.Status = FrameOK
		slot.Buffer.Meta.RTPTimestamp = ts
		s.deliver(slot)
	}
	return nil
}

func (s *RXVideoSession) deliver(slot *ReassemblySlot) {
	buf := slot.Buffer
	if !buf.Deliver() {
		return
	}
	release := true
	if s.NotifyReady != nil {
		release = s.NotifyReady(buf, buf.Meta)
	}
	if release {
		_ = buf.PutBack()
	}
	s.Slots.Release(slot)
}

func (s *RXVideoSession) deliverEvicted(slot *ReassemblySlot) {
	if slot.Buffer == nil {
		return
	}
	slot.Buffer.BeginFilling()
	if s.ReceiveIncomplete {
		slot.Buffer.Meta.Status = FrameIncomplete
		s.deliver(slot)
		return
	}
	_ = slot.Buffer.PutBack()
}

// writePayload copies payload into the frame buffer at the row/offset
// described by vh. When vh.Row1 is set the packet straddles a line: the
// first Row0.Length bytes land at Row0's offset and the remainder at
// Row1's (§4.3, BPM/GPM cross-line straddling).
func (s *RXVideoSession) writePayload(slot *ReassemblySlot, vh rtp.VideoHeader, payload []byte, pgSize, pgCov int) error {
	data := slot.Buffer.Data
	if vh.Row1 == nil {
		off, err := PayloadOffset(int(vh.Row0.RowNumber), int(vh.Row0.Offset), pgCov, pgSize, slot.RowPitch)
		if err != nil {
			return err
		}
		if off >= 0 && off+len(payload) <= len(data) {
			copy(data[off:], payload)
		}
		return nil
	}

	split := int(vh.Row0.Length)
	if split > len(payload) {
		split = len(payload)
	}
	off0, err := PayloadOffset(int(vh.Row0.RowNumber), int(vh.Row0.Offset), pgCov, pgSize, slot.RowPitch)
	if err != nil {
		return err
	}
	if off0 >= 0 && off0+split <= len(data) {
		copy(data[off0:], payload[:split])
	}
	off1, err := PayloadOffset(int(vh.Row1.RowNumber), int(vh.Row1.Offset), pgCov, pgSize, slot.RowPitch)
	if err != nil {
		return err
	}
	rem := payload[split:]
	if off1 >= 0 && off1+len(rem) <= len(data) {
		copy(data[off1:], rem)
	}
	return nil
}

func pgroupSizeCoverage(f rtp.Format) (size, coverage int) {
	pg, err := rtp.PGroupOf(f)
	if err != nil {
		return 1, 1
	}
	return pg.Size, pg.Coverage
}

func (s *RXVideoSession) PreStart() error { return nil }
func (s *RXVideoSession) Start() error    { return nil }
func (s *RXVideoSession) Stop()           {}
func (s *RXVideoSession) Handle() sched.Result { return sched.AllDone }
func (s *RXVideoSession) AdviceSleep() time.Duration { return 0 }

var _ sched.Tasklet = (*RXVideoSession)(nil)
