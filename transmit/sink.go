/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

// Package transmit drains a per-port ring of built packets into a NIC TX
// queue under pacing constraints (rate-limit or TSC path), the Go-native
// stand-in for a kernel-bypass burst loop.
package transmit

import (
	"net"

	"golang.org/x/net/ipv4"
	"golang.org/x/sys/unix"

	"github.com/OpenVisualCloud/mtl-go/rtp"
	"github.com/OpenVisualCloud/mtl-go/timestamp"
)

// PacketSink is the NIC TX queue abstraction: Burst hands a batch of
// packets to the driver, returning how many were accepted.
type PacketSink interface {
	Burst(pkts []*rtp.PacketBuf) (sent int, err error)
	Close() error
}

// PacketSource is the NIC RX queue abstraction.
type PacketSource interface {
	Recv(buf []byte) (n int, from net.Addr, err error)
	Close() error
}

// UDPPacketConn backs PacketSink/PacketSource with net.ListenPacket/
// net.DialUDP, the ordinary-socket analogue of a kernel-bypass NIC queue.
type UDPPacketConn struct {
	conn *net.UDPConn
	dst  *net.UDPAddr
}

// NewUDPSink dials a UDP socket for transmit to dst.
func NewUDPSink(laddr *net.UDPAddr, dst *net.UDPAddr) (*UDPPacketConn, error) {
	conn, err := net.DialUDP("udp", laddr, dst)
	if err != nil {
		return nil, err
	}
	return &UDPPacketConn{conn: conn, dst: dst}, nil
}

// NewUDPSource listens for RX on laddr. If iface is non-nil, the socket
// joins laddr's multicast group specifically on that interface (rather
// than every multicast-capable interface, net.ListenMulticastUDP's
// behavior) via golang.org/x/net/ipv4, the control needed on a multi-homed
// ST 2110 receive host with one NIC per redundant port.
func NewUDPSource(laddr *net.UDPAddr, iface *net.Interface) (*UDPPacketConn, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{Port: laddr.Port})
	if err != nil {
		return nil, err
	}
	if laddr.IP != nil && laddr.IP.IsMulticast() {
		pc := ipv4.NewPacketConn(conn)
		if err := pc.JoinGroup(iface, &net.UDPAddr{IP: laddr.IP}); err != nil {
			conn.Close()
			return nil, err
		}
	}
	return &UDPPacketConn{conn: conn}, nil
}

// Burst writes each packet's header+payload as one UDP datagram.
func (u *UDPPacketConn) Burst(pkts []*rtp.PacketBuf) (int, error) {
	sent := 0
	for _, p := range pkts {
		buf := make([]byte, 0, len(p.Header)+len(p.Payload))
		buf = append(buf, p.Header...)
		buf = append(buf, p.Payload...)
		if _, err := u.conn.Write(buf); err != nil {
			return sent, err
		}
		sent++
	}
	return sent, nil
}

// Recv reads one datagram.
func (u *UDPPacketConn) Recv(buf []byte) (int, net.Addr, error) {
	return u.conn.ReadFromUDP(buf)
}

// SetDSCP marks the socket's outgoing traffic class (ST 2110-21 §6
// recommends DSCP 34/AF41 for PTP-synced essence streams); works for
// either address family since the DSCP byte is carried in IPv4 TOS and
// the high six bits of the IPv6 traffic class field.
func (u *UDPPacketConn) SetDSCP(localAddr net.IP, dscp int) error {
	fd, err := timestamp.ConnFd(u.conn)
	if err != nil {
		return err
	}
	if localAddr.To4() == nil {
		return unix.SetsockoptInt(fd, unix.IPPROTO_IPV6, unix.IPV6_TCLASS, dscp<<2)
	}
	return unix.SetsockoptInt(fd, unix.IPPROTO_IP, unix.IP_TOS, dscp<<2)
}

// Close closes the backing socket.
func (u *UDPPacketConn) Close() error { return u.conn.Close() }

// LoopbackSink is an in-memory, channel-backed PacketSink fake for tests
// (no kernel socket required), matching the teacher's table-driven unit
// test style rather than requiring a live network stack. There is no
// in-memory PacketSource counterpart.
type LoopbackSink struct {
	Delivered chan []byte
}

// NewLoopbackSink creates a sink that copies each burst packet's bytes
// into Delivered.
func NewLoopbackSink(buffered int) *LoopbackSink {
	return &LoopbackSink{Delivered: make(chan []byte, buffered)}
}

func (l *LoopbackSink) Burst(pkts []*rtp.PacketBuf) (int, error) {
	sent := 0
	for _, p := range pkts {
		buf := make([]byte, 0, len(p.Header)+len(p.Payload))
		buf = append(buf, p.Header...)
		buf = append(buf, p.Payload...)
		select {
		case l.Delivered <- buf:
			sent++
		default:
			return sent, nil
		}
	}
	return sent, nil
}

func (l *LoopbackSink) Close() error { close(l.Delivered); return nil }
