package pacing

import (
	"testing"

	"github.com/stretchr/testify/require"
)

type fakeClock struct{ now int64 }

func (f *fakeClock) Now() int64 { return f.now }

func TestTROffsetProgressive1080(t *testing.T) {
	r := Raster{Height: 1080, FpsMul: 60000, FpsDen: 1001, PacketCount: 4320}
	require.Equal(t, r.FrameTimeNs()*43/1125, r.TROffsetNs())
}

func TestTROffsetProgressiveSubHD(t *testing.T) {
	r := Raster{Height: 720, FpsMul: 60, FpsDen: 1, PacketCount: 3600}
	require.Equal(t, r.FrameTimeNs()*28/750, r.TROffsetNs())
}

func TestTROffsetInterlaced480(t *testing.T) {
	r := Raster{Height: 480, Interlaced: true, FpsMul: 30000, FpsDen: 1001, PacketCount: 240}
	require.Equal(t, r.FrameTimeNs()*20/525*2, r.TROffsetNs())
}

func TestTROffsetInterlaced576(t *testing.T) {
	r := Raster{Height: 576, Interlaced: true, FpsMul: 25, FpsDen: 1, PacketCount: 288}
	require.Equal(t, r.FrameTimeNs()*26/625*2, r.TROffsetNs())
}

func TestTROffsetInterlaced1080(t *testing.T) {
	r := Raster{Height: 1080, Interlaced: true, FpsMul: 30000, FpsDen: 1001, PacketCount: 2160}
	require.Equal(t, r.FrameTimeNs()*22/1125*2, r.TROffsetNs())
}

func TestCompressedForcesZero(t *testing.T) {
	r := Raster{Height: 1080, Compressed: true, FpsMul: 60, FpsDen: 1, PacketCount: 1000}
	require.Equal(t, int64(0), r.TROffsetNs())
	require.Equal(t, 0, r.WarmPkts())
	require.Equal(t, 0, r.VRXNarrow())
}

func TestWarmPktsCapped(t *testing.T) {
	r := Raster{Height: 1080, FpsMul: 1, FpsDen: 1, PacketCount: 4320}
	require.LessOrEqual(t, r.WarmPkts(), 128)
}

func TestSyncEpochMonotonic(t *testing.T) {
	clock := &fakeClock{now: 0}
	r := Raster{Height: 1080, FpsMul: 60000, FpsDen: 1001, PacketCount: 4320}
	s := NewState(r, TSC, clock)

	sched1 := s.Sync(0, nil)
	clock.now = sched1.Epoch*r.FrameTimeNs() + r.FrameTimeNs()
	sched2 := s.Sync(0, nil)

	require.Greater(t, sched2.Epoch, sched1.Epoch)
	require.Greater(t, sched2.PacketTSC(0), sched1.PacketTSC(0))
}

func TestTrainIdempotent(t *testing.T) {
	calls := 0
	burst := func() (float64, error) {
		calls++
		return 1_000_000, nil
	}
	p1, err := Train(0, 100_000_000, 8000, burst)
	require.NoError(t, err)
	callsAfterFirst := calls

	p2, err := Train(0, 100_000_000, 8000, burst)
	require.NoError(t, err)
	require.Equal(t, p1, p2)
	require.Equal(t, callsAfterFirst, calls, "second call must not re-invoke burst")
}

func TestReconcilePortModes(t *testing.T) {
	a, b := ReconcilePortModes(RateLimit, TSC)
	require.Equal(t, TSC, a)
	require.Equal(t, TSC, b)

	a, b = ReconcilePortModes(TSC, TSC)
	require.Equal(t, TSC, a)
	require.Equal(t, TSC, b)
}
