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

// Package stats implements the periodic stats callback (every
// dump_period_s, default 10s, §7) and exports the same counters as
// Prometheus gauges, following facebook-time's ptp/sptp/stats exporter
// (a prometheus.Registry scraped on an interval and served over
// promhttp) generalized from "scrape an HTTP counters endpoint" to
// "read counters directly off sched/session/ebu in-process".
package stats

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

// DefaultDumpPeriod is dump_period_s's default (§7).
const DefaultDumpPeriod = 10 * time.Second

// Source supplies the current value of one named counter or gauge;
// registered once per metric name via Collector.Register.
type Source func() float64

// Collector accumulates named metric sources and periodically (every
// dump_period_s) snapshots them into both a structured log callback and
// a Prometheus registry.
type Collector struct {
	mu       sync.Mutex
	sources  map[string]Source
	gauges   map[string]prometheus.Gauge
	registry *prometheus.Registry

	DumpPeriod time.Duration
	OnDump     func(snapshot map[string]float64)
	log        *logrus.Entry

	stopCh chan struct{}
	doneCh chan struct{}
}

// NewCollector creates a Collector with its own Prometheus registry.
func NewCollector(log *logrus.Entry) *Collector {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Collector{
		sources:    make(map[string]Source),
		gauges:     make(map[string]prometheus.Gauge),
		registry:   prometheus.NewRegistry(),
		DumpPeriod: DefaultDumpPeriod,
		log:        log,
	}
}

// Register binds name to a Source read on every dump tick; calling it
// again for an existing name replaces the source (e.g. a session
// restarting its counters).
func (c *Collector) Register(name string, src Source) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sources[name] = src
	if _, ok := c.gauges[name]; !ok {
		g := prometheus.NewGauge(prometheus.GaugeOpts{Name: flattenKey(name), Help: name})
		if err := c.registry.Register(g); err != nil {
			c.log.WithError(err).Warnf("failed to register metric %s", name)
			return
		}
		c.gauges[name] = g
	}
}

// Start runs the dump loop until Stop is called.
func (c *Collector) Start() {
	c.stopCh = make(chan struct{})
	c.doneCh = make(chan struct{})
	go func() {
		defer close(c.doneCh)
		ticker := time.NewTicker(c.DumpPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				c.dump()
			case <-c.stopCh:
				return
			}
		}
	}()
}

// Stop halts the dump loop.
func (c *Collector) Stop() {
	if c.stopCh == nil {
		return
	}
	close(c.stopCh)
	<-c.doneCh
}

func (c *Collector) dump() {
	c.mu.Lock()
	snapshot := make(map[string]float64, len(c.sources))
	for name, src := range c.sources {
		v := src()
		snapshot[name] = v
		if g, ok := c.gauges[name]; ok {
			g.Set(v)
		}
	}
	c.mu.Unlock()

	if c.OnDump != nil {
		c.OnDump(snapshot)
	}
}

// ServeHTTP exposes the registry's metrics at /metrics on the given
// address, blocking like log.Fatal(http.ListenAndServe(...)) in the
// teacher's exporter.
func (c *Collector) ServeHTTP(addr string) error {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{EnableOpenMetrics: true}))
	return http.ListenAndServe(addr, mux)
}

func flattenKey(key string) string {
	r := strings.NewReplacer(" ", "_", ".", "_", "-", "_", "=", "_", "/", "_")
	return r.Replace(key)
}
