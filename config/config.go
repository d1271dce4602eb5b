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

// Package config holds the YAML-driven session/scheduler tunables
// applications load at start-up, following facebook-time's
// ptp/sptp/client config (DefaultConfig + Validate + ReadConfig via
// gopkg.in/yaml.v2) generalized from "PTP client settings" to "this
// transport library's per-session and per-scheduler defaults".
package config

import (
	"fmt"
	"os"
	"time"

	yaml "gopkg.in/yaml.v2"
)

// SchedulerConfig tunes the cooperative scheduler (§5).
type SchedulerConfig struct {
	MaxSchedulers           int           `yaml:"max_schedulers"`
	MaxTaskletsPerScheduler int           `yaml:"max_tasklets_per_scheduler"`
	MaxSessionsPerScheduler int           `yaml:"max_sessions_per_scheduler"`
	DefaultSleep            time.Duration `yaml:"default_sleep"`
}

// Validate checks SchedulerConfig is sane.
func (c *SchedulerConfig) Validate() error {
	if c.MaxSchedulers <= 0 {
		return fmt.Errorf("max_schedulers must be positive")
	}
	if c.MaxTaskletsPerScheduler <= 0 {
		return fmt.Errorf("max_tasklets_per_scheduler must be positive")
	}
	if c.MaxSessionsPerScheduler <= 0 {
		return fmt.Errorf("max_sessions_per_scheduler must be positive")
	}
	if c.DefaultSleep <= 0 {
		return fmt.Errorf("default_sleep must be positive")
	}
	return nil
}

// SessionConfig tunes one TX or RX session's buffer pool and ring sizes
// (§5: framebuff_cnt, N_SLOTS, bulk, TX ring).
type SessionConfig struct {
	FramebuffCnt int `yaml:"framebuff_cnt"`
	NSlots       int `yaml:"n_slots"`
	Bulk         int `yaml:"bulk"`
	TXRingSize   int `yaml:"tx_ring_size"`
}

// Validate checks SessionConfig is sane.
func (c *SessionConfig) Validate() error {
	if c.FramebuffCnt < 2 {
		return fmt.Errorf("framebuff_cnt must be at least 2")
	}
	if c.NSlots <= 0 {
		return fmt.Errorf("n_slots must be positive")
	}
	if c.Bulk <= 0 {
		return fmt.Errorf("bulk must be positive")
	}
	if c.TXRingSize <= 0 || c.TXRingSize&(c.TXRingSize-1) != 0 {
		return fmt.Errorf("tx_ring_size must be a positive power of two")
	}
	return nil
}

// PTPConfig tunes the PTP client (§4.6).
type PTPConfig struct {
	Domain            uint8         `yaml:"domain"`
	DelayReqDelay     time.Duration `yaml:"delay_req_delay"`
	NoMasterTimeout   time.Duration `yaml:"no_master_timeout"`
	ExcursionFactor   float64       `yaml:"excursion_factor"`
}

// Validate checks PTPConfig is sane.
func (c *PTPConfig) Validate() error {
	if c.DelayReqDelay <= 0 {
		return fmt.Errorf("delay_req_delay must be positive")
	}
	if c.NoMasterTimeout <= 0 {
		return fmt.Errorf("no_master_timeout must be positive")
	}
	if c.ExcursionFactor <= 1 {
		return fmt.Errorf("excursion_factor must be greater than 1")
	}
	return nil
}

// Config is the top-level, on-disk configuration.
type Config struct {
	Scheduler    SchedulerConfig `yaml:"scheduler"`
	Session      SessionConfig   `yaml:"session"`
	PTP          PTPConfig       `yaml:"ptp"`
	DumpPeriod   time.Duration   `yaml:"dump_period_s"`
}

// DefaultConfig returns Config initialized with the resource caps and
// defaults named throughout §5 and §4.6.
func DefaultConfig() *Config {
	return &Config{
		Scheduler: SchedulerConfig{
			MaxSchedulers:           256,
			MaxTaskletsPerScheduler: 128,
			MaxSessionsPerScheduler: 60,
			DefaultSleep:            100 * time.Microsecond,
		},
		Session: SessionConfig{
			FramebuffCnt: 4,
			NSlots:       4,
			Bulk:         4,
			TXRingSize:   128,
		},
		PTP: PTPConfig{
			Domain:          0,
			DelayReqDelay:   50 * time.Microsecond,
			NoMasterTimeout: 10 * time.Second,
			ExcursionFactor: 2.0,
		},
		DumpPeriod: 10 * time.Second,
	}
}

// Validate checks the whole Config is sane.
func (c *Config) Validate() error {
	if err := c.Scheduler.Validate(); err != nil {
		return fmt.Errorf("invalid scheduler config: %w", err)
	}
	if err := c.Session.Validate(); err != nil {
		return fmt.Errorf("invalid session config: %w", err)
	}
	if err := c.PTP.Validate(); err != nil {
		return fmt.Errorf("invalid ptp config: %w", err)
	}
	if c.DumpPeriod <= 0 {
		return fmt.Errorf("dump_period_s must be positive")
	}
	return nil
}

// ReadConfig reads Config from a YAML file, starting from defaults so an
// on-disk file only needs to override what it cares about.
func ReadConfig(path string) (*Config, error) {
	c := DefaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return nil, err
	}
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return c, nil
}
