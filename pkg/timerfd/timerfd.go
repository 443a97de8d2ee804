// Copyright 2026 kstress project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

//go:build linux

// Package timerfd drives a timer file descriptor at a configurable,
// optionally jittered rate and accounts every expiry.
package timerfd

import (
	"context"
	"encoding/binary"
	"fmt"
	"math/rand"
	"os"
	"time"

	"github.com/kstress/kstress/pkg/config"
	"github.com/kstress/kstress/pkg/log"
	"golang.org/x/sys/unix"
)

const (
	selectTimeout = 500 * time.Millisecond
	// Period between /proc/self/fdinfo reads, in expiries.
	fdinfoEvery = 256
)

type Config struct {
	// Timer frequency in Hz, clamped to [config.MinTimerFreq,
	// config.MaxTimerFreq]; config.DefaultTimerFreq if zero.
	Freq int
	// RandomRate applies a fresh ±12.5% jitter to the period on every
	// expiry.
	RandomRate bool
	// Maximize/Minimize pin the frequency to the allowed extreme.
	Maximize bool
	Minimize bool
	// Run duration, unbounded if zero (the context bounds it).
	Duration time.Duration
	Seed     int64
}

// period converts the configured frequency into a timer period,
// applying bounds, extremes and jitter.
func (cfg *Config) period(rnd *rand.Rand) time.Duration {
	freq := cfg.Freq
	if freq == 0 {
		freq = config.DefaultTimerFreq
	}
	if freq < config.MinTimerFreq {
		freq = config.MinTimerFreq
	}
	if freq > config.MaxTimerFreq {
		freq = config.MaxTimerFreq
	}
	if cfg.Maximize {
		freq = config.MaxTimerFreq
	}
	if cfg.Minimize {
		freq = config.MinTimerFreq
	}
	ns := int64(time.Second) / int64(freq)
	if cfg.RandomRate {
		// ±12.5% of the nominal period.
		ns += ns * int64(rnd.Int31n(10000)-5000) / 40000
	}
	if ns < 1 {
		ns = 1
	}
	return time.Duration(ns)
}

// Run arms a CLOCK_REALTIME timer fd and consumes expiries until the
// duration or context ends. Returns the number of expiries seen.
func Run(ctx context.Context, cfg Config) (int, error) {
	if cfg.Seed == 0 {
		cfg.Seed = time.Now().UnixNano()
	}
	rnd := rand.New(rand.NewSource(cfg.Seed))
	fd, err := unix.TimerfdCreate(unix.CLOCK_REALTIME, unix.TFD_CLOEXEC)
	if err != nil {
		return 0, fmt.Errorf("timerfd_create failed: %w", err)
	}
	defer unix.Close(fd)
	if err := arm(fd, cfg.period(rnd)); err != nil {
		return 0, err
	}
	deadline := time.Time{}
	if cfg.Duration != 0 {
		deadline = time.Now().Add(cfg.Duration)
	}
	expiries := 0
	var buf [8]byte
	for ctx.Err() == nil && (deadline.IsZero() || time.Now().Before(deadline)) {
		var rfds unix.FdSet
		rfds.Zero()
		rfds.Set(fd)
		tv := unix.NsecToTimeval(selectTimeout.Nanoseconds())
		n, err := unix.Select(fd+1, &rfds, nil, nil, &tv)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return expiries, fmt.Errorf("select on timer fd failed: %w", err)
		}
		if n < 1 || !rfds.IsSet(fd) {
			continue
		}
		if _, err := unix.Read(fd, buf[:]); err != nil {
			return expiries, fmt.Errorf("timer fd read failed: %w", err)
		}
		prev := expiries
		expiries += int(binary.NativeEndian.Uint64(buf[:]))
		var cur unix.ItimerSpec
		unix.TimerfdGettime(fd, &cur)
		if prev/fdinfoEvery != expiries/fdinfoEvery {
			// Exercises the kernel's fdinfo formatting for timer fds.
			os.ReadFile(fmt.Sprintf("/proc/self/fdinfo/%v", fd))
		}
		if cfg.RandomRate {
			if err := arm(fd, cfg.period(rnd)); err != nil {
				return expiries, err
			}
		}
	}
	log.Logf(2, "timerfd: %v expiries", expiries)
	return expiries, nil
}

func arm(fd int, period time.Duration) error {
	ts := unix.NsecToTimespec(period.Nanoseconds())
	spec := unix.ItimerSpec{Interval: ts, Value: ts}
	if err := unix.TimerfdSettime(fd, 0, &spec, nil); err != nil {
		return fmt.Errorf("timerfd_settime failed: %w", err)
	}
	return nil
}
