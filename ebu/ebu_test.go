package ebu

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCinstNeverNegative(t *testing.T) {
	bands := DefaultPassBands(8, 720, 1_000_000)
	a := NewAnalyzer(bands, 90000, 1_000_000, 10_000)
	a.BeginFrame(0, 0, 1_000_000)
	a.Packet(0, 1_000_000)
	snap := a.Snapshot()
	require.GreaterOrEqual(t, snap.CinstMin, 0.0)
}

func TestVRXTracksDrain(t *testing.T) {
	bands := DefaultPassBands(8, 720, 1_000_000)
	a := NewAnalyzer(bands, 90000, 1_000_000, 10_000)
	a.BeginFrame(0, 0, 1_000_000)
	for k := 0; k < 5; k++ {
		a.Packet(k, int64(k)*10_000)
	}
	snap := a.Snapshot()
	require.Equal(t, 5, snap.Samples)
}

func TestConformanceVerdictFiresEveryWindow(t *testing.T) {
	bands := DefaultPassBands(8, 720, 1_000_000)
	a := NewAnalyzer(bands, 90000, 1_000_000, 10_000)
	var verdicts int
	a.OnVerdict = func(metric string, v Verdict) { verdicts++ }

	a.BeginFrame(0, 0, 1_000_000)
	for k := 0; k < SampleWindow; k++ {
		a.Packet(k, int64(k)*10_000)
	}
	require.Equal(t, 3, verdicts, "one verdict per tracked metric (cinst, vrx, fpt) on window completion")
	require.Equal(t, 0, a.vrx.n, "stats reset after evaluation")
}

func TestRTPDeltaAcrossFrames(t *testing.T) {
	bands := DefaultPassBands(8, 720, 1_000_000)
	a := NewAnalyzer(bands, 90000, 1_000_000, 10_000)
	a.BeginFrame(0, 0, 1_000_000)
	a.BeginFrame(int64(1_000_000_000)/60, 1501, 1_000_000+int64(1_000_000_000)/60)
	snap := a.Snapshot()
	require.InDelta(t, 1501, snap.RTPDeltaMean, 0.01)
}

func TestSnapshotWriteTable(t *testing.T) {
	bands := DefaultPassBands(8, 720, 1_000_000)
	a := NewAnalyzer(bands, 90000, 1_000_000, 10_000)
	a.BeginFrame(0, 0, 1_000_000)
	a.Packet(0, 1_000_000)
	snap := a.Snapshot()

	var buf strings.Builder
	snap.WriteTable(&buf)
	require.Contains(t, buf.String(), "fpt")
	require.Contains(t, buf.String(), "vrx")
}
