package client

import (
	"net"
	"testing"
	"time"

	ptp "github.com/OpenVisualCloud/mtl-go/ptp/protocol"
	"github.com/stretchr/testify/require"
)

type nullConn struct{}

func (nullConn) ReadFromUDP(b []byte) (int, *net.UDPAddr, error) { select {} }
func (nullConn) WriteTo(b []byte, addr net.Addr) (int, error)    { return len(b), nil }
func (nullConn) Close() error                                    { return nil }

type nullConnTS struct{ nullConn }

func (nullConnTS) WriteToWithTS(b []byte, addr net.Addr) (int, time.Time, error) {
	return len(b), time.Now(), nil
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	ifaces, err := net.Interfaces()
	require.NoError(t, err)
	require.NotEmpty(t, ifaces)
	c, err := New(&Config{
		Iface:     ifaces[0].Name,
		GenConn:   nullConn{},
		EventConn: nullConnTS{},
		Domain:    0,
	}, nil)
	require.NoError(t, err)
	return c
}

func TestOnAnnounceTracksFirstMaster(t *testing.T) {
	c := newTestClient(t)
	src := ptp.PortIdentity{ClockIdentity: 0xaabbccdd, PortNumber: 1}
	a := &ptp.Announce{Header: ptp.NewHeader(ptp.MessageAnnounce, 0, src, 1, 0, 64)}
	c.onAnnounce(a)
	require.Equal(t, src, c.masterPortID)
	require.Equal(t, legWaitSync, c.leg)
}

func TestDelayExchangeComputesDelta(t *testing.T) {
	c := newTestClient(t)
	c.leg = legWaitDelayResp
	c.t1 = time.Unix(1000, 0)
	c.t2 = time.Unix(1000, 500)
	c.t3 = time.Unix(1000, 1000)
	c.t4 = time.Unix(1000, 1600)

	var got Sample
	c.Callback = func(s Sample) { got = s }

	self := ptp.PortIdentity{ClockIdentity: c.clockID, PortNumber: 1}
	resp := &ptp.DelayResp{
		Header:        ptp.NewHeader(ptp.MessageDelayResp, 0, ptp.PortIdentity{}, 1, 0, 64),
		DelayRespBody: ptp.DelayRespBody{ReceiveTimestamp: ptp.NewTimestamp(c.t4), RequestingPortIdentity: self},
	}
	c.onDelayResp(resp)

	require.NotZero(t, got.T1)
	require.Equal(t, 50*time.Nanosecond, got.Delta, "((t4-t3)-(t2-t1))/2 = (600ns-500ns)/2")
	require.Equal(t, legWaitAnnounce, c.leg, "a completed exchange resets to wait for the next ANNOUNCE cycle")
}

func TestExcursionRejection(t *testing.T) {
	c := newTestClient(t)
	c.haveMean = true
	c.runningMean = 100 * time.Nanosecond
	c.leg = legWaitDelayResp
	c.t1 = time.Unix(1000, 0)
	c.t2 = time.Unix(1000, 0)
	c.t3 = time.Unix(1000, 0)
	c.t4 = time.Unix(1000, 0).Add(10000 * time.Nanosecond)

	var got Sample
	c.Callback = func(s Sample) { got = s }
	self := ptp.PortIdentity{ClockIdentity: c.clockID, PortNumber: 1}
	resp := &ptp.DelayResp{
		Header:        ptp.NewHeader(ptp.MessageDelayResp, 0, ptp.PortIdentity{}, 1, 0, 64),
		DelayRespBody: ptp.DelayRespBody{ReceiveTimestamp: ptp.NewTimestamp(c.t4), RequestingPortIdentity: self},
	}
	c.onDelayResp(resp)
	require.True(t, got.Excursion)
}
