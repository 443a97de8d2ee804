// Copyright 2026 kstress project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

//go:build linux

package timerfd

import (
	"context"
	"math/rand"
	"testing"
	"time"

	"github.com/kstress/kstress/pkg/config"
	"github.com/kstress/kstress/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeriod(t *testing.T) {
	rnd := rand.New(rand.NewSource(1))
	tests := []struct {
		name string
		cfg  Config
		want time.Duration
	}{
		{"default", Config{}, time.Second / config.DefaultTimerFreq},
		{"exact", Config{Freq: 1000}, time.Millisecond},
		{"below-min", Config{Freq: -5}, time.Second / config.MinTimerFreq},
		{"above-max", Config{Freq: config.MaxTimerFreq * 10}, time.Second / config.MaxTimerFreq},
		{"maximize", Config{Freq: 1000, Maximize: true}, time.Second / config.MaxTimerFreq},
		{"minimize", Config{Freq: 1000, Minimize: true}, time.Second / config.MinTimerFreq},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.want, test.cfg.period(rnd))
		})
	}
}

func TestPeriodJitter(t *testing.T) {
	rnd := rand.New(testutil.RandSource(t))
	cfg := Config{Freq: 1000, RandomRate: true}
	nominal := time.Millisecond
	lo, hi := nominal, nominal
	iters := testutil.IterCount()
	if iters < 200 {
		iters = 200 // enough draws to see both tails of the jitter
	}
	for i := 0; i < iters; i++ {
		p := cfg.period(rnd)
		assert.GreaterOrEqual(t, p, nominal-nominal/8)
		assert.LessOrEqual(t, p, nominal+nominal/8)
		if p < lo {
			lo = p
		}
		if p > hi {
			hi = p
		}
	}
	// The jitter must actually spread the period in both directions.
	assert.Less(t, lo, nominal-nominal/16)
	assert.Greater(t, hi, nominal+nominal/16)
}

func TestRun(t *testing.T) {
	expiries, err := Run(context.Background(), Config{
		Freq:     1000,
		Duration: 300 * time.Millisecond,
		Seed:     1,
	})
	require.NoError(t, err)
	assert.Greater(t, expiries, 0)
}

func TestRunRandomRate(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 300*time.Millisecond)
	defer cancel()
	expiries, err := Run(ctx, Config{Freq: 10000, RandomRate: true, Seed: 1})
	require.NoError(t, err)
	assert.Greater(t, expiries, 0)
}
