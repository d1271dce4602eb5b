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

// Package neighbor implements the ARP resolution contract and IGMPv3
// unsolicited report cadence a session depends on before it can transmit
// to a given destination (§6): a broadcast ARP REQUEST retried every
// 100ms (logging every 5s while unresolved) for unicast destinations,
// and the standard multicast MAC derivation for multicast destinations.
// Packet construction follows the gopacket idiom already used elsewhere
// in this tree (facebook-time's ziffy/node, which builds and sends raw
// layers via gopacket/pcap).
package neighbor

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/sirupsen/logrus"
)

// RetryInterval is how often an unanswered ARP REQUEST is re-sent.
const RetryInterval = 100 * time.Millisecond

// LogInterval is how often a still-unresolved resolution logs a warning.
const LogInterval = 5 * time.Second

// PacketWriter is the raw-frame transmit side an ARP resolver needs; a
// thin interface so tests can substitute a channel-backed fake instead of
// an AF_PACKET or pcap handle.
type PacketWriter interface {
	WritePacketData(data []byte) error
}

// Resolver resolves a next-hop IPv4 address to an Ethernet MAC via ARP,
// blocking session setup until a REPLY arrives (§6).
type Resolver struct {
	SrcMAC net.HardwareAddr
	SrcIP  net.IP
	Writer PacketWriter
	Log    *logrus.Entry

	mu      sync.Mutex
	pending map[string]chan net.HardwareAddr
	cache   map[string]net.HardwareAddr
}

// NewResolver creates a Resolver bound to one interface's MAC/IP.
func NewResolver(srcMAC net.HardwareAddr, srcIP net.IP, w PacketWriter, log *logrus.Entry) *Resolver {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Resolver{
		SrcMAC:  srcMAC,
		SrcIP:   srcIP,
		Writer:  w,
		Log:     log,
		pending: make(map[string]chan net.HardwareAddr),
		cache:   make(map[string]net.HardwareAddr),
	}
}

// Resolve returns dst's MAC address, either from cache, or by blocking on
// the ARP REQUEST/REPLY exchange (retried every RetryInterval, logging
// every LogInterval while unresolved) until ctx is cancelled.
func (r *Resolver) Resolve(ctx context.Context, dst net.IP) (net.HardwareAddr, error) {
	if mc, ok := MulticastMAC(dst); ok {
		return mc, nil
	}

	key := dst.String()
	r.mu.Lock()
	if mac, ok := r.cache[key]; ok {
		r.mu.Unlock()
		return mac, nil
	}
	ch, inflight := r.pending[key]
	if !inflight {
		ch = make(chan net.HardwareAddr, 1)
		r.pending[key] = ch
	}
	r.mu.Unlock()

	if !inflight {
		if err := r.sendRequest(dst); err != nil {
			return nil, err
		}
	}

	retry := time.NewTicker(RetryInterval)
	defer retry.Stop()
	logTick := time.NewTicker(LogInterval)
	defer logTick.Stop()

	for {
		select {
		case mac := <-ch:
			r.mu.Lock()
			r.cache[key] = mac
			delete(r.pending, key)
			r.mu.Unlock()
			return mac, nil
		case <-retry.C:
			if err := r.sendRequest(dst); err != nil {
				return nil, err
			}
		case <-logTick.C:
			r.Log.Warnf("still waiting for ARP reply from %s", dst)
		case <-ctx.Done():
			r.mu.Lock()
			delete(r.pending, key)
			r.mu.Unlock()
			return nil, ctx.Err()
		}
	}
}

// HandleReply feeds a received ARP packet to any resolution waiting on
// its sender address.
func (r *Resolver) HandleReply(arp *layers.ARP) {
	if arp.Operation != layers.ARPReply {
		return
	}
	ip := net.IP(arp.SourceProtAddress)
	r.mu.Lock()
	ch, ok := r.pending[ip.String()]
	r.mu.Unlock()
	if ok {
		select {
		case ch <- net.HardwareAddr(arp.SourceHwAddress):
		default:
		}
	}
}

func (r *Resolver) sendRequest(dst net.IP) error {
	eth := &layers.Ethernet{
		SrcMAC:       r.SrcMAC,
		DstMAC:       net.HardwareAddr{0xff, 0xff, 0xff, 0xff, 0xff, 0xff},
		EthernetType: layers.EthernetTypeARP,
	}
	arp := &layers.ARP{
		AddrType:          layers.LinkTypeEthernet,
		Protocol:          layers.EthernetTypeIPv4,
		HwAddressSize:     6,
		ProtAddressSize:   4,
		Operation:         layers.ARPRequest,
		SourceHwAddress:   r.SrcMAC,
		SourceProtAddress: r.SrcIP.To4(),
		DstHwAddress:      net.HardwareAddr{0, 0, 0, 0, 0, 0},
		DstProtAddress:    dst.To4(),
	}
	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, arp); err != nil {
		return fmt.Errorf("serialize ARP request: %w", err)
	}
	return r.Writer.WritePacketData(buf.Bytes())
}

// MulticastMAC derives the standard 01:00:5E:xx:xx:xx Ethernet multicast
// address from the low 23 bits of an IPv4 multicast group address (§6).
// ok is false if ip is not in the multicast range 224.0.0.0/4.
func MulticastMAC(ip net.IP) (net.HardwareAddr, bool) {
	v4 := ip.To4()
	if v4 == nil || v4[0] < 224 || v4[0] > 239 {
		return nil, false
	}
	mac := net.HardwareAddr{0x01, 0x00, 0x5e, v4[1] & 0x7f, v4[2], v4[3]}
	return mac, true
}
