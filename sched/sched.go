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

// Package sched runs cooperative tasklets round-robin on a single worker
// goroutine, the Go-native stand-in for a pinned lcore. Scheduler, Tasklet,
// and the resource caps below mirror the teacher's preference for small
// atomic state fields over mutexes in hot paths (see phc/pps_source.go).
package sched

import (
	"context"
	"sync"
	"time"

	"github.com/OpenVisualCloud/mtl-go/mtlerr"
	"github.com/sirupsen/logrus"
)

// Resource caps, static per-process/per-scheduler.
const (
	MaxSchedulers           = 256
	MaxTaskletsPerScheduler = 128
	MaxSessionsPerScheduler = 60

	// DefaultSleep is the scheduler's idle-sleep ceiling when every
	// tasklet reports ALL_DONE in a round.
	DefaultSleep = 100 * time.Microsecond
	// ZeroSleepThreshold: below this, a round yields instead of arming
	// a timer.
	ZeroSleepThreshold = 5 * time.Microsecond
)

// Result is a tasklet's per-round report.
type Result int

const (
	// AllDone reports the tasklet had nothing to do this round.
	AllDone Result = iota
	// HasPending reports the tasklet has unfinished work and wants
	// another round immediately.
	HasPending
)

// Tasklet is a cooperative unit of work scheduled by a Scheduler's worker.
type Tasklet interface {
	PreStart() error
	Start() error
	Stop()
	Handle() Result
	// AdviceSleep optionally bounds how long the scheduler may sleep
	// after an ALL_DONE round; return 0 for no advice.
	AdviceSleep() time.Duration
}

// Type tags a scheduler's composition: a Default scheduler carries any
// tasklet type; a RxVideoOnly scheduler only ever hosts RX-video sessions
// once promoted.
type Type int

const (
	Default Type = iota
	RxVideoOnly
)

type taskletStats struct {
	min, max, sum time.Duration
	count         uint64
}

type taskletSlot struct {
	t        Tasklet
	name     string
	stats    taskletStats
	started  bool
}

// Scheduler owns one worker goroutine running registered tasklets
// round-robin, the analogue of "one lcore or a thread".
type Scheduler struct {
	mu       sync.Mutex
	slots    []*taskletSlot
	typ      Type
	typeSet  bool
	quotaMbs float64
	quotaCap float64
	sessions int

	running  bool
	stopCh   chan struct{}
	doneCh   chan struct{}
	measure  bool

	log *logrus.Entry
}

// NewScheduler creates an idle scheduler with the given quota cap (Mbps,
// 0 = unlimited) and optional per-tasklet timing measurement.
func NewScheduler(quotaCapMbps float64, measure bool, log *logrus.Entry) *Scheduler {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Scheduler{
		quotaCap: quotaCapMbps,
		measure:  measure,
		log:      log,
	}
}

// RegisterTasklet adds a tasklet; if the scheduler is already running,
// PreStart/Start are invoked before the next round.
func (s *Scheduler) RegisterTasklet(name string, t Tasklet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.slots) >= MaxTaskletsPerScheduler {
		return mtlerr.New(mtlerr.Capacity, "RegisterTasklet")
	}
	slot := &taskletSlot{t: t, name: name}
	if s.running {
		if err := t.PreStart(); err != nil {
			return mtlerr.Wrap(mtlerr.InvalidState, "RegisterTasklet.PreStart", err)
		}
		if err := t.Start(); err != nil {
			return mtlerr.Wrap(mtlerr.InvalidState, "RegisterTasklet.Start", err)
		}
		slot.started = true
	}
	s.slots = append(s.slots, slot)
	return nil
}

// UnregisterTasklet removes a tasklet; valid only while stopped.
func (s *Scheduler) UnregisterTasklet(t Tasklet) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return mtlerr.New(mtlerr.InvalidState, "UnregisterTasklet")
	}
	for i, slot := range s.slots {
		if slot.t == t {
			s.slots = append(s.slots[:i], s.slots[i+1:]...)
			return nil
		}
	}
	return mtlerr.New(mtlerr.InvalidArgument, "UnregisterTasklet")
}

// AddQuota attempts to reserve mbps of the scheduler's budget for a new
// session of the given type; promotes an empty Default scheduler to
// RxVideoOnly on first RX-video attach.
func (s *Scheduler) AddQuota(mbps float64, typ Type) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sessions >= MaxSessionsPerScheduler {
		return mtlerr.New(mtlerr.Capacity, "AddQuota")
	}
	if !s.typeSet {
		s.typ = typ
		s.typeSet = true
	} else if s.typ != typ {
		if s.typ == Default && s.quotaMbs == 0 && typ == RxVideoOnly {
			s.typ = RxVideoOnly
		} else {
			return mtlerr.New(mtlerr.InvalidState, "AddQuota: type mismatch")
		}
	}
	if s.quotaCap > 0 && s.quotaMbs+mbps > s.quotaCap {
		return mtlerr.New(mtlerr.Capacity, "AddQuota: over budget")
	}
	s.quotaMbs += mbps
	s.sessions++
	return nil
}

// FreeQuota releases mbps previously reserved by AddQuota.
func (s *Scheduler) FreeQuota(mbps float64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.quotaMbs -= mbps
	if s.quotaMbs < 0 {
		s.quotaMbs = 0
	}
	if s.sessions > 0 {
		s.sessions--
	}
}

// Start launches the worker goroutine.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return mtlerr.New(mtlerr.AlreadyRunning, "Start")
	}
	s.running = true
	s.stopCh = make(chan struct{})
	s.doneCh = make(chan struct{})
	for _, slot := range s.slots {
		if !slot.started {
			if err := slot.t.PreStart(); err != nil {
				s.running = false
				s.mu.Unlock()
				return mtlerr.Wrap(mtlerr.InvalidState, "Start.PreStart", err)
			}
			if err := slot.t.Start(); err != nil {
				s.running = false
				s.mu.Unlock()
				return mtlerr.Wrap(mtlerr.InvalidState, "Start.Start", err)
			}
			slot.started = true
		}
	}
	s.mu.Unlock()

	go s.run(ctx)
	return nil
}

// Stop sets the cooperative stop flag and waits for the worker to exit.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	close(s.stopCh)
	s.mu.Unlock()

	<-s.doneCh

	s.mu.Lock()
	for _, slot := range s.slots {
		slot.t.Stop()
		slot.started = false
	}
	s.running = false
	s.mu.Unlock()
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.doneCh)
	for {
		select {
		case <-s.stopCh:
			return
		case <-ctx.Done():
			return
		default:
		}

		overall := AllDone
		s.mu.Lock()
		slots := s.slots
		s.mu.Unlock()

		minAdvice := time.Duration(-1)
		for _, slot := range slots {
			var start time.Time
			if s.measure {
				start = time.Now()
			}
			r := slot.t.Handle()
			if s.measure {
				s.recordStat(slot, time.Since(start))
			}
			if r == HasPending {
				overall = HasPending
			}
			if adv := slot.t.AdviceSleep(); adv > 0 && (minAdvice < 0 || adv < minAdvice) {
				minAdvice = adv
			}
		}

		if overall == AllDone {
			sleep := DefaultSleep
			if minAdvice >= 0 && minAdvice < sleep {
				sleep = minAdvice
			}
			if sleep < ZeroSleepThreshold {
				continue
			}
			t := time.NewTimer(sleep)
			select {
			case <-s.stopCh:
				t.Stop()
				return
			case <-ctx.Done():
				t.Stop()
				return
			case <-t.C:
			}
		}
	}
}

func (s *Scheduler) recordStat(slot *taskletSlot, d time.Duration) {
	st := &slot.stats
	if st.count == 0 || d < st.min {
		st.min = d
	}
	if d > st.max {
		st.max = d
	}
	st.sum += d
	st.count++
}
