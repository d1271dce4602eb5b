package session

import (
	"time"

	"github.com/OpenVisualCloud/mtl-go/mtlerr"
)

// ReassemblySlot binds a (RTP timestamp -> frame buffer) assignment, the
// seq_id_base of the first packet observed for that timestamp, and the
// completion bitmap (§3).
type ReassemblySlot struct {
	Bound        bool
	Timestamp    uint32
	Buffer       *RXFrameBuffer
	SeqIDBase    uint32
	Bitmap       *Bitmap
	LastActivity time.Time
	FrameSize    int
	RowPitch     int
}

// SlotTable manages N_SLOTS concurrent reassembly slots, evicting the
// least-recently-active slot when a new RTP timestamp arrives and no free
// slot exists (§3, §4.5 out-of-order tolerance).
type SlotTable struct {
	slots []*ReassemblySlot
}

// NewSlotTable creates a table of n empty slots (recommended n=4).
func NewSlotTable(n int) *SlotTable {
	slots := make([]*ReassemblySlot, n)
	for i := range slots {
		slots[i] = &ReassemblySlot{}
	}
	return &SlotTable{slots: slots}
}

// Find returns the slot bound to ts, or nil.
func (t *SlotTable) Find(ts uint32) *ReassemblySlot {
	for _, s := range t.slots {
		if s.Bound && s.Timestamp == ts {
			return s
		}
	}
	return nil
}

// Assign binds a new slot to ts. If every slot is occupied, the slot
// whose LastActivity is oldest is evicted and returned as evicted (nil if
// no eviction occurred).
func (t *SlotTable) Assign(ts uint32, buf *RXFrameBuffer, bitmapSize, frameSize, rowPitch int, now time.Time) (slot *ReassemblySlot, evicted *ReassemblySlot) {
	for _, s := range t.slots {
		if !s.Bound {
			t.bind(s, ts, buf, bitmapSize, frameSize, rowPitch, now)
			return s, nil
		}
	}

	oldest := t.slots[0]
	for _, s := range t.slots[1:] {
		if s.LastActivity.Before(oldest.LastActivity) {
			oldest = s
		}
	}
	evicted = &ReassemblySlot{
		Bound: true, Timestamp: oldest.Timestamp, Buffer: oldest.Buffer,
		SeqIDBase: oldest.SeqIDBase, Bitmap: oldest.Bitmap,
		FrameSize: oldest.FrameSize, RowPitch: oldest.RowPitch,
	}
	t.bind(oldest, ts, buf, bitmapSize, frameSize, rowPitch, now)
	return oldest, evicted
}

func (t *SlotTable) bind(s *ReassemblySlot, ts uint32, buf *RXFrameBuffer, bitmapSize, frameSize, rowPitch int, now time.Time) {
	s.Bound = true
	s.Timestamp = ts
	s.Buffer = buf
	s.Bitmap = NewBitmap(bitmapSize)
	s.FrameSize = frameSize
	s.RowPitch = rowPitch
	s.LastActivity = now
}

// Release unbinds a slot, making it available for Assign again.
func (t *SlotTable) Release(s *ReassemblySlot) {
	s.Bound = false
	s.Buffer = nil
	s.Bitmap = nil
}

// PayloadOffset computes the byte offset into the frame buffer for a
// packet at the given row/column, honoring an application-supplied stride
// (row_pitch may exceed the tight-packed width), per §4.5.
func PayloadOffset(row, col, pgroupCoverage, pgroupSize, rowPitch int) (int, error) {
	if pgroupCoverage <= 0 || pgroupSize <= 0 {
		return 0, mtlerr.New(mtlerr.InvalidArgument, "PayloadOffset")
	}
	return row*rowPitch + (col/pgroupCoverage)*pgroupSize, nil
}
