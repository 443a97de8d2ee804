// Copyright 2026 kstress project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package config holds the run configuration shared by all exercisers and
// the JSON config file loader. Config files may contain lines starting
// with # which are treated as comments.
package config

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"time"
)

// Timer frequency bounds for the timerfd exerciser, in Hz.
const (
	MinTimerFreq     = 1
	MaxTimerFreq     = 100000000
	DefaultTimerFreq = 1048576
)

// Config is the run configuration. The zero value is not usable, start from
// Default. All durations are tuning parameters, not semantic constants.
type Config struct {
	// Stressors to run; empty means all registered.
	Stressors []string `json:"stressors,omitempty"`
	// Total run duration, e.g. "10s".
	Duration Duration `json:"duration,omitempty"`
	// Timerfd expiration frequency in Hz, [MinTimerFreq, MaxTimerFreq].
	TimerFreq uint64 `json:"timerfd_freq,omitempty"`
	// RandomRate mixes random variation into the timer rate.
	RandomRate bool `json:"timerfd_rand,omitempty"`
	// Maximize/Minimize push tunables to their extreme values.
	Maximize bool `json:"maximize,omitempty"`
	Minimize bool `json:"minimize,omitempty"`
	// Verify enables strict verification of read results.
	Verify bool `json:"verify,omitempty"`
	// Oomable ends the run cleanly if a stress child is OOM-killed
	// instead of restarting it.
	Oomable bool `json:"oomable,omitempty"`

	// Watchdog interval for fault trial children.
	Watchdog Duration `json:"watchdog,omitempty"`
	// Wall-clock budget for probing one sysfs file.
	ProbeBudget Duration `json:"probe_budget,omitempty"`
}

func Default() *Config {
	return &Config{
		Duration:    Duration(10 * time.Second),
		TimerFreq:   DefaultTimerFreq,
		Watchdog:    Duration(100 * time.Millisecond),
		ProbeBudget: Duration(200 * time.Millisecond),
	}
}

func (cfg *Config) Validate() error {
	if err := CheckRange("timerfd_freq", cfg.TimerFreq, MinTimerFreq, MaxTimerFreq); err != nil {
		return err
	}
	if cfg.Duration <= 0 {
		return fmt.Errorf("duration must be positive")
	}
	if cfg.Maximize && cfg.Minimize {
		return fmt.Errorf("maximize and minimize are mutually exclusive")
	}
	return nil
}

// CheckRange verifies that an option value lies in [min, max].
func CheckRange(name string, v, min, max uint64) error {
	if v < min || v > max {
		return fmt.Errorf("%v value %v out of range [%v, %v]", name, v, min, max)
	}
	return nil
}

// Duration marshals to/from JSON as a string like "1m30s".
type Duration time.Duration

func (d Duration) D() time.Duration {
	return time.Duration(d)
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(time.Duration(d).String())
}

func (d *Duration) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	*d = Duration(v)
	return nil
}

func LoadFile(filename string, cfg *Config) error {
	if filename == "" {
		return fmt.Errorf("no config file specified")
	}
	data, err := os.ReadFile(filename)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	return LoadData(data, cfg)
}

func LoadData(data []byte, cfg *Config) error {
	// Remove comment lines starting with #.
	data = regexp.MustCompile(`(^|\n)\s*#[^\n]*`).ReplaceAll(data, nil)
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(cfg); err != nil {
		return fmt.Errorf("failed to parse config file: %w", err)
	}
	return cfg.Validate()
}
