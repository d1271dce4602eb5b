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

package stats

import (
	"github.com/shirou/gopsutil/cpu"
	"github.com/shirou/gopsutil/mem"
)

// RegisterHostMetrics adds host.cpu_percent and host.mem_percent sources:
// a pacing deadline miss is frequently a symptom of host contention
// rather than a session bug, so the same dump period that reports
// sched/session counters also samples the box it runs on.
func (c *Collector) RegisterHostMetrics() {
	c.Register("host.cpu_percent", func() float64 {
		pct, err := cpu.Percent(0, false)
		if err != nil || len(pct) == 0 {
			return 0
		}
		return pct[0]
	})
	c.Register("host.mem_percent", func() float64 {
		vm, err := mem.VirtualMemory()
		if err != nil {
			return 0
		}
		return vm.UsedPercent
	})
}
