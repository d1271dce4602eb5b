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

// Package redundancy implements 1+1 seamless redundancy: a per-timestamp
// rendezvous where the first port to deliver a complete frame for a given
// RTP timestamp wins, and the other port's late/incomplete frame is
// dropped (§4.5).
package redundancy

import (
	"sync"
	"time"

	"github.com/OpenVisualCloud/mtl-go/session"
)

type pending struct {
	deadline time.Time
	delivered bool
}

// Merger rendezvous-merges frames from two redundant ports by RTP
// timestamp equivalence.
type Merger struct {
	mu             sync.Mutex
	byTimestamp    map[uint32]*pending
	interFrameWait time.Duration
	Deliver        func(buf *session.RXFrameBuffer, meta session.FrameMeta)
	Now            func() time.Time
}

// NewMerger creates a merger that waits at most interFrameWait (one
// inter-frame interval) before giving up on the slower port.
func NewMerger(interFrameWait time.Duration) *Merger {
	return &Merger{
		byTimestamp:    make(map[uint32]*pending),
		interFrameWait: interFrameWait,
		Now:            time.Now,
	}
}

// Submit offers a completed (or evicted-incomplete) frame from one port.
// The first port to submit a COMPLETE frame for a timestamp wins and is
// delivered immediately; a later submission for the same timestamp is
// dropped. An incomplete frame is held (not delivered) until the other
// port's frame arrives or interFrameWait elapses.
func (m *Merger) Submit(buf *session.RXFrameBuffer, meta session.FrameMeta) {
	m.mu.Lock()
	defer m.mu.Unlock()

	ts := meta.RTPTimestamp
	p, ok := m.byTimestamp[ts]
	if ok && p.delivered {
		// Already won by the other port: drop this one.
		return
	}

	if meta.Status == session.FrameOK {
		m.byTimestamp[ts] = &pending{delivered: true}
		if m.Deliver != nil {
			m.Deliver(buf, meta)
		}
		return
	}

	// Incomplete: hold, waiting for the other port.
	if !ok {
		m.byTimestamp[ts] = &pending{deadline: m.Now().Add(m.interFrameWait)}
	}
}

// Expire should be called periodically; any held incomplete timestamp
// whose deadline has passed without the other port completing is
// dropped (never delivered, per §4.5: "an incomplete frame on one port
// is never delivered to the application if the other port is still
// filling the same timestamp").
func (m *Merger) Expire() {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.Now()
	for ts, p := range m.byTimestamp {
		if !p.delivered && now.After(p.deadline) {
			delete(m.byTimestamp, ts)
		}
	}
}
