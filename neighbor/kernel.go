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

	"github.com/jsimonetti/rtnetlink"
)

// nudPermanent/nudReachable/nudStale mirror the kernel's NUD_PERMANENT/
// NUD_REACHABLE/NUD_STALE states: any of these carry an LLAddr worth trusting as a
// resolution, sparing a session its own ARP REQUEST/REPLY round trip.
const (
	nudPermanent = 0x80
	nudReachable = 0x02
	nudStale     = 0x04
)

// SeedFromKernel pre-populates the resolver's cache from the kernel's own
// neighbor table on the given interface, the same table `ip neigh show`
// reads: an address ARP or NDP has already resolved this boot needs no
// fresh REQUEST/REPLY exchange (§6).
func (r *Resolver) SeedFromKernel(ifaceIndex int) (int, error) {
	conn, err := rtnetlink.Dial(nil)
	if err != nil {
		return 0, fmt.Errorf("neighbor: dial rtnetlink: %w", err)
	}
	defer conn.Close()

	neighs, err := conn.Neigh.List()
	if err != nil {
		return 0, fmt.Errorf("neighbor: list neigh table: %w", err)
	}

	seeded := 0
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, n := range neighs {
		if int(n.Index) != ifaceIndex || n.Attributes == nil {
			continue
		}
		if n.Attributes.Address == nil || len(n.Attributes.LLAddr) != 6 {
			continue
		}
		switch n.Attributes.State {
		case nudPermanent, nudReachable, nudStale:
		default:
			continue
		}
		r.cache[n.Attributes.Address.String()] = net.HardwareAddr(n.Attributes.LLAddr)
		seeded++
	}
	return seeded, nil
}
