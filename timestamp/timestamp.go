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

// Package timestamp captures wire-accurate send/receive timestamps off a
// UDP socket: hardware timestamps when the NIC driver supports them,
// software timestamps otherwise. Two packages in this library import it:
// the PTP client (§4.6, t1..t4 four-timestamp exchange) and transmit's
// UDP sink. The EBU timing-parser (§4.7) does not use it.
package timestamp

import (
	"fmt"
	"net"
	"net/netip"
	"time"

	"golang.org/x/sys/unix"
)

const (
	// ControlSizeBytes bounds a socket control message carrying a
	// TX/RX timestamp.
	ControlSizeBytes = 128
	// PayloadSizeBytes bounds a PTP event-message datagram.
	PayloadSizeBytes = 128
	defaultTXTS      = 100
)

// Timestamp names the kind of timestamp a socket is configured to deliver.
type Timestamp int

// Supported timestamp kinds.
const (
	SW Timestamp = iota
	HW
)

func (t Timestamp) String() string {
	if t == HW {
		return "hardware"
	}
	return "software"
}

// AttemptsTXTS is how many times ReadTXtimestamp polls the error queue
// before giving up.
var AttemptsTXTS = defaultTXTS

// TimeoutTXTS bounds each poll() call while waiting for a TX timestamp.
var TimeoutTXTS = time.Millisecond

// ConnFd extracts the raw file descriptor backing a *net.UDPConn so ioctls
// and MSG_ERRQUEUE reads can be issued directly against it.
func ConnFd(conn *net.UDPConn) (int, error) {
	sc, err := conn.SyscallConn()
	if err != nil {
		return -1, err
	}
	var fd int
	if err := sc.Control(func(p uintptr) { fd = int(p) }); err != nil {
		return -1, err
	}
	return fd, nil
}

// ReadPacketWithRXTimestamp reads one datagram plus its RX timestamp
// (hardware if the socket has HW timestamping enabled, software
// otherwise).
func ReadPacketWithRXTimestamp(connFd int) ([]byte, unix.Sockaddr, time.Time, error) {
	buf := make([]byte, PayloadSizeBytes)
	oob := make([]byte, ControlSizeBytes)
	n, boob, _, saddr, err := unix.Recvmsg(connFd, buf, oob, 0)
	if err != nil {
		return nil, nil, time.Time{}, fmt.Errorf("recvmsg: %w", err)
	}
	ts, err := socketControlMessageTimestamp(oob, boob)
	return buf[:n], saddr, ts, err
}

// IPToSockaddr converts an IP+port into a unix.Sockaddr.
func IPToSockaddr(ip net.IP, port int) unix.Sockaddr {
	if v4 := ip.To4(); v4 != nil {
		sa := &unix.SockaddrInet4{Port: port}
		copy(sa.Addr[:], v4)
		return sa
	}
	sa := &unix.SockaddrInet6{Port: port}
	copy(sa.Addr[:], ip.To16())
	return sa
}

// AddrToSockaddr converts a netip.Addr+port into a unix.Sockaddr.
func AddrToSockaddr(ip netip.Addr, port int) unix.Sockaddr {
	if ip.Is4() {
		return &unix.SockaddrInet4{Port: port, Addr: ip.As4()}
	}
	return &unix.SockaddrInet6{Port: port, Addr: ip.As16()}
}

// SockaddrToIP converts a unix.Sockaddr back into a net.IP.
func SockaddrToIP(sa unix.Sockaddr) net.IP {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		return net.IP(sa.Addr[:])
	case *unix.SockaddrInet6:
		return net.IP(sa.Addr[:])
	}
	return nil
}
