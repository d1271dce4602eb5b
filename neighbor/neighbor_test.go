package neighbor

import (
	"context"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/require"
)

type fakeWriter struct {
	mu  sync.Mutex
	pkt [][]byte
}

func (w *fakeWriter) WritePacketData(data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	cp := make([]byte, len(data))
	copy(cp, data)
	w.pkt = append(w.pkt, cp)
	return nil
}

func TestMulticastMACMapping(t *testing.T) {
	mac, ok := MulticastMAC(net.IPv4(239, 1, 2, 3))
	require.True(t, ok)
	require.Equal(t, net.HardwareAddr{0x01, 0x00, 0x5e, 0x01, 0x02, 0x03}, mac)

	_, ok = MulticastMAC(net.IPv4(10, 0, 0, 1))
	require.False(t, ok)
}

func TestResolverSkipsARPForMulticast(t *testing.T) {
	w := &fakeWriter{}
	r := NewResolver(net.HardwareAddr{1, 2, 3, 4, 5, 6}, net.IPv4(10, 0, 0, 1), w, nil)
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	mac, err := r.Resolve(ctx, net.IPv4(239, 0, 0, 1))
	require.NoError(t, err)
	require.NotNil(t, mac)
	require.Empty(t, w.pkt, "multicast destinations never trigger an ARP request")
}

func TestResolverCompletesOnReply(t *testing.T) {
	w := &fakeWriter{}
	r := NewResolver(net.HardwareAddr{1, 2, 3, 4, 5, 6}, net.IPv4(10, 0, 0, 1), w, nil)

	done := make(chan net.HardwareAddr, 1)
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		mac, err := r.Resolve(ctx, net.IPv4(10, 0, 0, 2))
		require.NoError(t, err)
		done <- mac
	}()

	require.Eventually(t, func() bool {
		w.mu.Lock()
		defer w.mu.Unlock()
		return len(w.pkt) > 0
	}, time.Second, time.Millisecond)

	reply := &layers.ARP{
		Operation:         layers.ARPReply,
		SourceHwAddress:   net.HardwareAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff},
		SourceProtAddress: net.IPv4(10, 0, 0, 2).To4(),
	}
	r.HandleReply(reply)

	select {
	case mac := <-done:
		require.Equal(t, net.HardwareAddr{0xaa, 0xbb, 0xcc, 0xdd, 0xee, 0xff}, mac)
	case <-time.After(2 * time.Second):
		t.Fatal("resolver did not complete after ARP reply")
	}
}

func TestIGMPReporterSendsOnJoin(t *testing.T) {
	w := &fakeWriter{}
	r := NewIGMPv3Reporter(net.HardwareAddr{1, 2, 3, 4, 5, 6}, net.IPv4(10, 0, 0, 1), w)
	r.Join(net.IPv4(239, 1, 1, 1))
	require.NoError(t, r.sendReport())
	require.Len(t, w.pkt, 1)

	pkt := gopacket.NewPacket(w.pkt[0], layers.LayerTypeEthernet, gopacket.DecodeOptions{})
	require.NotNil(t, pkt.Layer(layers.LayerTypeIPv4))
}
