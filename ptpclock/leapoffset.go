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

package ptpclock

import (
	"sync"
	"time"

	"github.com/OpenVisualCloud/mtl-go/leapsectz"
)

// leapOffset caches the current TAI-UTC offset (whole seconds) read from
// the system leap-second table. PTP epoch time, and hence Clock.Now(), is
// TAI; a frame's RTP timestamp may need reporting against UTC wall-clock
// when FrameMeta.TaiFmt is false (ebu conformance logs, stats dumps).
var leapOffset struct {
	sync.Once
	seconds int64
}

// taiUTCOffset returns how many seconds TAI is currently ahead of UTC,
// parsed once from /usr/share/zoneinfo/right/UTC. Falls back to 0
// (treat TAI and UTC as equal) if the system has no leap-second database,
// rather than failing clock derivation over a missing tzdata package.
func taiUTCOffset() int64 {
	leapOffset.Do(func() {
		leaps, err := leapsectz.Parse()
		if err != nil || len(leaps) == 0 {
			return
		}
		last := leaps[len(leaps)-1]
		// Nleap counts leap seconds inserted since 1972; TAI was already
		// 10 s ahead of UTC before the first of them.
		leapOffset.seconds = 10 + int64(last.Nleap)
	})
	return leapOffset.seconds
}

// TAIToUTC converts a TAI nanosecond timestamp (as returned by Clock.Now)
// to its UTC equivalent, per the current leap-second offset.
func TAIToUTC(taiNs int64) int64 {
	return taiNs - taiUTCOffset()*int64(time.Second)
}

// UTCNow returns the clock's current time as UTC nanoseconds, the
// counterpart to Now (TAI) used wherever FrameMeta.TaiFmt is false.
func (c *Clock) UTCNow() int64 {
	return TAIToUTC(c.Now())
}
