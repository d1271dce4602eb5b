package transmit

import (
	"testing"

	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/OpenVisualCloud/mtl-go/rtp"
	"github.com/OpenVisualCloud/mtl-go/sched"
)

func TestVideoTransmitterTSCWaitsForTargetTSC(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	sink := NewMockPacketSink(ctrl)

	ring := sched.NewRing[*rtp.PacketBuf](8)
	pkt := rtp.NewPacketBuf(make([]byte, rtp.HeaderSize), nil, nil)
	pkt.TxTSC = 1_000_000
	ring.EnqueueBulk([]*rtp.PacketBuf{pkt})

	now := int64(0)
	v := NewVideoTransmitter(ring, sink, ModeTSC, func() int64 { return now }, nil)

	// Burst must not be called before the scheduled TSC arrives.
	sink.EXPECT().Burst(gomock.Any()).Times(0)
	require.Equal(t, sched.AllDone, v.Handle())

	ctrl.Finish()
}

func TestVideoTransmitterTSCBurstsOncePastTarget(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()
	sink := NewMockPacketSink(ctrl)

	ring := sched.NewRing[*rtp.PacketBuf](8)
	pkt := rtp.NewPacketBuf(make([]byte, rtp.HeaderSize), nil, nil)
	pkt.TxTSC = 1_000_000
	ring.EnqueueBulk([]*rtp.PacketBuf{pkt})

	now := int64(2_000_000)
	v := NewVideoTransmitter(ring, sink, ModeTSC, func() int64 { return now }, nil)

	sink.EXPECT().Burst(gomock.Any()).Return(1, nil).Times(1)
	require.Equal(t, sched.HasPending, v.Handle())
}
