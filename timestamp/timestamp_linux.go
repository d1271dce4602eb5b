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

package timestamp

import (
	"errors"
	"fmt"
	"net"
	"syscall"
	"time"
	"unsafe"

	"golang.org/x/sys/unix"
)

var socketControlMessageHeaderOffset = int(unsafe.Sizeof(unix.Cmsghdr{}))

var timestamping = unix.SO_TIMESTAMPING_NEW

var errNoTimestamp = errors.New("failed to find timestamp in socket control message")

func init() {
	var uname unix.Utsname
	if err := unix.Uname(&uname); err == nil {
		if uname.Release[0] < '5' {
			// pre-5.x kernels don't support the _NEW cmsg types.
			timestamping = unix.SO_TIMESTAMPING
		}
	}
}

// scmDataToTime parses a SocketControlMessage Data field. Up to three
// timestamps can be present; hardware timestamps land in the third slot,
// software in the first.
func scmDataToTime(data []byte) (time.Time, error) {
	size := 16
	ts, err := byteToTime(data[size*2 : size*3])
	if err != nil {
		return ts, err
	}
	if ts.UnixNano() == 0 {
		ts, err = byteToTime(data[0:size])
		if err != nil {
			return ts, err
		}
		if ts.UnixNano() == 0 {
			return ts, fmt.Errorf("got zero timestamp")
		}
	}
	return ts, nil
}

func byteToTime(data []byte) (time.Time, error) {
	sec := *(*int64)(unsafe.Pointer(&data[0]))
	nsec := *(*int64)(unsafe.Pointer(&data[8]))
	return time.Unix(sec, nsec), nil
}

func ioctlHWTimestampCaps(fd int, ifname string) (rxFilter int32, err error) {
	hw, err := unix.IoctlGetEthtoolTsInfo(fd, ifname)
	if err != nil {
		return 0, fmt.Errorf("SIOCETHTOOL: %w", err)
	}
	switch {
	case hw.Rx_filters&(1<<unix.HWTSTAMP_FILTER_PTP_V2_L4_EVENT) > 0:
		rxFilter = unix.HWTSTAMP_FILTER_PTP_V2_L4_EVENT
	case hw.Rx_filters&(1<<unix.HWTSTAMP_FILTER_PTP_V2_EVENT) > 0:
		rxFilter = unix.HWTSTAMP_FILTER_PTP_V2_EVENT
	case hw.Rx_filters&(1<<unix.HWTSTAMP_FILTER_ALL) > 0:
		rxFilter = unix.HWTSTAMP_FILTER_ALL
	}
	if hw.Tx_types&(1<<unix.HWTSTAMP_TX_ON) == 0 || rxFilter == 0 {
		return rxFilter, fmt.Errorf("hardware timestamping unsupported on %s", ifname)
	}
	return rxFilter, nil
}

func ioctlTimestamp(fd int, ifname string, filter int32) error {
	hw, err := unix.IoctlGetHwTstamp(fd, ifname)
	if errors.Is(err, unix.ENOTSUP) {
		hw = &unix.HwTstampConfig{} // loopback
	} else if err != nil {
		return fmt.Errorf("SIOCGHWTSTAMP: %w", err)
	}
	if hw.Tx_type == unix.HWTSTAMP_TX_ON && hw.Rx_filter == filter {
		return nil
	}
	hw.Tx_type = unix.HWTSTAMP_TX_ON
	hw.Rx_filter = filter
	if err := unix.IoctlSetHwTstamp(fd, ifname, hw); err != nil {
		return fmt.Errorf("SIOCSHWTSTAMP: %w", err)
	}
	return nil
}

// EnableSWTimestamps turns on software TX+RX timestamp delivery.
func EnableSWTimestamps(connFd int) error {
	flags := unix.SOF_TIMESTAMPING_TX_SOFTWARE |
		unix.SOF_TIMESTAMPING_RX_SOFTWARE |
		unix.SOF_TIMESTAMPING_SOFTWARE |
		unix.SOF_TIMESTAMPING_OPT_TSONLY
	if err := unix.SetsockoptInt(connFd, unix.SOL_SOCKET, timestamping, flags); err != nil {
		return err
	}
	return unix.SetsockoptInt(connFd, unix.SOL_SOCKET, unix.SO_SELECT_ERR_QUEUE, 1)
}

// EnableHWTimestamps turns on hardware TX+RX timestamp delivery for iface,
// so that the NIC's clock stamps the socket's sent and received packets.
func EnableHWTimestamps(connFd int, iface *net.Interface) error {
	rxFilter, err := ioctlHWTimestampCaps(connFd, iface.Name)
	if err != nil {
		return err
	}
	if err := ioctlTimestamp(connFd, iface.Name, rxFilter); err != nil {
		return err
	}
	flags := unix.SOF_TIMESTAMPING_TX_HARDWARE |
		unix.SOF_TIMESTAMPING_RX_HARDWARE |
		unix.SOF_TIMESTAMPING_RAW_HARDWARE |
		unix.SOF_TIMESTAMPING_OPT_ID |
		unix.SOF_TIMESTAMPING_OPT_TSONLY
	if err := unix.SetsockoptInt(connFd, unix.SOL_SOCKET, timestamping, flags); err != nil {
		return err
	}
	_ = unix.SetsockoptInt(connFd, unix.SOL_SOCKET, unix.SO_BINDTODEVICE, iface.Index)
	return unix.SetsockoptInt(connFd, unix.SOL_SOCKET, unix.SO_SELECT_ERR_QUEUE, 1)
}

func waitForHWTS(connFd int) error {
	fds := []unix.PollFd{{Fd: int32(connFd), Events: unix.POLLERR}}
	for {
		n, err := unix.Poll(fds, int(TimeoutTXTS.Milliseconds()))
		if !errors.Is(err, syscall.EINTR) {
			return err
		}
		if n == 0 {
			return syscall.ETIMEDOUT
		}
	}
}

// recvoob reads only the out-of-band control message from MSG_ERRQUEUE,
// where the kernel delivers TX timestamps.
func recvoob(connFd int, oob []byte) (int, error) {
	var msg unix.Msghdr
	msg.Control = &oob[0]
	msg.SetControllen(len(oob))
	_, _, errno := unix.Syscall(unix.SYS_RECVMSG, uintptr(connFd), uintptr(unsafe.Pointer(&msg)), uintptr(unix.MSG_ERRQUEUE))
	if errno != 0 {
		return 0, errno
	}
	return int(msg.Controllen), nil
}

// socketControlMessageTimestamp parses only the timestamp cmsg out of a
// control message buffer.
func socketControlMessageTimestamp(b []byte, boob int) (time.Time, error) {
	mlen := 0
	for i := 0; i < boob; i += unix.CmsgSpace(mlen - unix.SizeofCmsghdr) {
		h := (*unix.Cmsghdr)(unsafe.Pointer(&b[i]))
		mlen = int(h.Len) //#nosec G115
		if mlen == 0 {
			break
		}
		if h.Level == unix.SOL_SOCKET && (int(h.Type) == unix.SO_TIMESTAMPING_NEW || int(h.Type) == unix.SO_TIMESTAMPING) {
			return scmDataToTime(b[i+socketControlMessageHeaderOffset : i+mlen])
		}
	}
	return time.Time{}, errNoTimestamp
}

// ReadTXtimestamp polls the socket error queue for the TX timestamp of the
// most recently sent datagram (§4.6: t3 for DELAY_REQ, and the FOLLOW_UP
// two-step correction's own TX capture).
func ReadTXtimestamp(connFd int) (time.Time, int, error) {
	oob := make([]byte, ControlSizeBytes)
	toob := make([]byte, ControlSizeBytes)
	var boob int
	found := false
	start := time.Now()
	attempts := 0
	for ; attempts < AttemptsTXTS; attempts++ {
		if !found {
			_ = waitForHWTS(connFd)
		}
		tboob, err := recvoob(connFd, toob)
		if err != nil {
			if found {
				break
			}
			continue
		}
		found = true
		boob = tboob
		copy(oob, toob)
	}
	if !found {
		return time.Time{}, attempts, fmt.Errorf("no TX timestamp after %d tries (%s)", AttemptsTXTS, time.Since(start))
	}
	ts, err := socketControlMessageTimestamp(oob, boob)
	return ts, attempts, err
}
