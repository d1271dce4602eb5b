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

package neighbor

import (
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
)

// IGMPReportInterval is how often an unsolicited MODE_IS_EXCLUDE report
// is (re-)sent for every joined group (§4: "the multicast join
// bookkeeping ... is out of scope", but the report cadence itself is
// named in §6 as part of the contract a session relies on).
const IGMPReportInterval = 10 * time.Second

// IGMPDSCP is the DSCP codepoint IGMP frames must carry (§6).
const IGMPDSCP = 0xC0

// IGMPv3Reporter periodically emits an unsolicited IGMPv3 MODE_IS_EXCLUDE
// membership report for every group a session has joined.
type IGMPv3Reporter struct {
	SrcMAC net.HardwareAddr
	SrcIP  net.IP
	Writer PacketWriter

	mu     sync.Mutex
	groups map[string]net.IP

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewIGMPv3Reporter creates a reporter bound to one interface.
func NewIGMPv3Reporter(srcMAC net.HardwareAddr, srcIP net.IP, w PacketWriter) *IGMPv3Reporter {
	return &IGMPv3Reporter{
		SrcMAC: srcMAC,
		SrcIP:  srcIP,
		Writer: w,
		groups: make(map[string]net.IP),
	}
}

// Join registers group as one this reporter advertises membership in.
func (r *IGMPv3Reporter) Join(group net.IP) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.groups[group.String()] = group
}

// Leave unregisters group.
func (r *IGMPv3Reporter) Leave(group net.IP) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.groups, group.String())
}

// Start runs the unsolicited-report loop until Stop is called.
func (r *IGMPv3Reporter) Start() {
	r.stopCh = make(chan struct{})
	r.doneCh = make(chan struct{})
	go func() {
		defer close(r.doneCh)
		ticker := time.NewTicker(IGMPReportInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				_ = r.sendReport()
			case <-r.stopCh:
				return
			}
		}
	}()
}

// Stop halts the unsolicited-report loop.
func (r *IGMPv3Reporter) Stop() {
	if r.stopCh == nil {
		return
	}
	close(r.stopCh)
	<-r.doneCh
}

func (r *IGMPv3Reporter) sendReport() error {
	r.mu.Lock()
	records := make([]layers.IGMPv3GroupRecord, 0, len(r.groups))
	for _, g := range r.groups {
		records = append(records, layers.IGMPv3GroupRecord{
			Type:             layers.IGMPIsEx,
			MulticastAddress: g,
		})
	}
	r.mu.Unlock()
	if len(records) == 0 {
		return nil
	}

	reportMAC, _ := MulticastMAC(net.IPv4(224, 0, 0, 22))
	eth := &layers.Ethernet{
		SrcMAC:       r.SrcMAC,
		DstMAC:       reportMAC,
		EthernetType: layers.EthernetTypeIPv4,
	}
	ip := &layers.IPv4{
		Version:  4,
		TOS:      IGMPDSCP,
		TTL:      1,
		Protocol: layers.IPProtocolIGMP,
		SrcIP:    r.SrcIP,
		DstIP:    net.IPv4(224, 0, 0, 22),
	}
	igmp := &layers.IGMPv3MembershipReport{
		Type:                 layers.IGMPMembershipReportV3,
		NumberOfGroupRecords: uint16(len(records)),
		GroupRecords:         records,
	}

	buf := gopacket.NewSerializeBuffer()
	opts := gopacket.SerializeOptions{FixLengths: true, ComputeChecksums: true}
	if err := gopacket.SerializeLayers(buf, opts, eth, ip, igmp); err != nil {
		return fmt.Errorf("serialize IGMPv3 report: %w", err)
	}
	return r.Writer.WritePacketData(buf.Bytes())
}
