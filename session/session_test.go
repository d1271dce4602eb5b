package session

import (
	"testing"
	"time"

	"github.com/OpenVisualCloud/mtl-go/pacing"
	"github.com/OpenVisualCloud/mtl-go/rtp"
	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now int64 }

func (f *fakeClock) Now() int64 { return f.now }

func TestTXFrameBufferLifecycle(t *testing.T) {
	b := NewTXFrameBuffer(0, 16)
	require.Equal(t, TXFree, b.State())
	require.True(t, b.Get())
	require.Equal(t, TXAppOwned, b.State())
	require.False(t, b.Get(), "second Get on an APP_OWNED buffer must fail")

	require.NoError(t, b.Put(FrameMeta{}))
	require.Equal(t, TXReady, b.State())

	require.True(t, b.ClaimForBuild())
	require.Equal(t, TXTransmitting, b.State())

	b.Ref()
	require.Error(t, b.Release(), "release must fail while refcount is nonzero")
	b.Unref()
	require.NoError(t, b.Release())
	require.Equal(t, TXFree, b.State())
}

func TestRXFrameBufferLifecycle(t *testing.T) {
	b := NewRXFrameBuffer(0, 16)
	require.True(t, b.AssignToSlot())
	b.BeginFilling()
	require.Equal(t, RXFilling, b.State())
	require.True(t, b.Deliver())
	require.NoError(t, b.PutBack())
	require.Equal(t, RXFree, b.State())
}

func TestBitmapDuplicateDetection(t *testing.T) {
	bm := NewBitmap(8)
	require.False(t, bm.TestAndSet(3))
	require.True(t, bm.TestAndSet(3), "setting an already-set bit reports duplicate")
	require.Equal(t, 1, bm.Popcount())
}

func TestBitmapFullCoversRange(t *testing.T) {
	bm := NewBitmap(4)
	for i := 0; i < 4; i++ {
		bm.TestAndSet(i)
	}
	require.True(t, bm.Full())
}

func TestSlotTableEvictsOldest(t *testing.T) {
	table := NewSlotTable(2)
	now := time.Now()
	buf1 := NewRXFrameBuffer(0, 16)
	buf2 := NewRXFrameBuffer(1, 16)
	buf3 := NewRXFrameBuffer(2, 16)

	_, evicted := table.Assign(100, buf1, 4, 16, 4, now)
	require.Nil(t, evicted)
	_, evicted = table.Assign(200, buf2, 4, 16, 4, now.Add(time.Millisecond))
	require.Nil(t, evicted)

	_, evicted = table.Assign(300, buf3, 4, 16, 4, now.Add(2*time.Millisecond))
	require.NotNil(t, evicted)
	require.Equal(t, uint32(100), evicted.Timestamp, "oldest-activity slot must be evicted")
}

func TestPayloadOffsetHonorsStride(t *testing.T) {
	off, err := PayloadOffset(2, 4, 2, 5, 128)
	require.NoError(t, err)
	require.Equal(t, 2*128+(4/2)*5, off)
}

func TestTXVideoSessionSinglePacketFrame(t *testing.T) {
	clock := &fakeClock{now: 0}
	raster := pacing.Raster{Height: 1, FpsMul: 1, FpsDen: 1, PacketCount: 1}
	ps := pacing.NewState(raster, pacing.TSC, clock)

	sess, err := NewTXVideoSession(2, 16, ps, 1)
	require.NoError(t, err)
	sess.Width, sess.Height = 1, 1
	sess.Format = rtp.FormatYUV422_10bit
	sess.PackingMode = rtp.GPMSL

	delivered := false
	sess.NotifyDone = func(idx int, meta FrameMeta) { delivered = true }

	called := false
	sess.GetNextFrame = func() (int, FrameMeta, bool) {
		if called {
			return 0, FrameMeta{}, false
		}
		called = true
		b, err := sess.GetBuffer()
		require.NoError(t, err)
		require.NoError(t, sess.PutBuffer(b, FrameMeta{}))
		return b.Index, FrameMeta{}, true
	}

	for i := 0; i < 5 && !delivered; i++ {
		sess.Handle()
	}
	require.True(t, delivered)

	out := make([]*rtp.PacketBuf, 4)
	n := sess.Ring[0].DequeueBulk(out)
	require.GreaterOrEqual(t, n, 1)
	var hdr rtp.Header
	require.NoError(t, hdr.Unmarshal(out[0].Header))
	require.True(t, hdr.Marker, "a single-packet frame must produce a marker=1 packet")
}
