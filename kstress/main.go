// Copyright 2026 kstress project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// kstress deliberately drives kernel entry points (syscalls, /sys files,
// timer fds) with adversarial inputs to find crashes, hangs and leaks,
// while surviving the faults it provokes.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/kstress/kstress/pkg/badaddr"
	"github.com/kstress/kstress/pkg/config"
	"github.com/kstress/kstress/pkg/log"
	"github.com/kstress/kstress/pkg/osutil"
	"github.com/kstress/kstress/pkg/sheap"
	"github.com/kstress/kstress/pkg/stat"
	"github.com/kstress/kstress/pkg/stressor"
	"github.com/kstress/kstress/pkg/syswalk"
	"github.com/kstress/kstress/pkg/timerfd"
	"github.com/kstress/kstress/pkg/tool"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	flagConfig    = flag.String("config", "", "configuration file")
	flagStressors = flag.String("stressors", "", "comma-separated list of stressors to run (all if empty)")
	flagDuration  = flag.Duration("duration", 0, "run duration (overrides config)")
	flagFreq      = flag.Uint64("timerfd-freq", 0, "timerfd frequency in Hz (overrides config)")
	flagRand      = flag.Bool("timerfd-rand", false, "randomize the timerfd rate")
	flagMaximize  = flag.Bool("maximize", false, "push tunables to their maximum")
	flagMinimize  = flag.Bool("minimize", false, "push tunables to their minimum")
	flagVerify    = flag.Bool("verify", false, "strictly verify read results")
	flagOomable   = flag.Bool("oomable", false, "end cleanly if a stress child is OOM-killed")
	flagList      = flag.Bool("list", false, "list available stressors and exit")
	flagHTTP      = flag.String("http", "", "serve prometheus metrics on this address")
)

func main() {
	// Children re-exec this binary; divert them before anything else.
	badaddr.HandleChildMode()
	flag.Parse()
	registerStressors()
	if *flagList {
		for _, s := range stressor.List() {
			fmt.Printf("%-12v %v\n", s.Name, s.Description)
		}
		return
	}
	cfg := config.Default()
	if *flagConfig != "" {
		if err := config.LoadFile(*flagConfig, cfg); err != nil {
			tool.Failf("%v", err)
		}
	}
	applyFlags(cfg)
	if err := cfg.Validate(); err != nil {
		tool.Failf("%v", err)
	}
	log.EnableLogCaching(1000)

	heap, err := sheap.Init()
	if err != nil {
		tool.Fail(fmt.Errorf("%w: shared heap: %v", tool.ErrNoResource, err))
	}
	defer heap.Close()

	stressors, err := stressor.Select(cfg.Stressors)
	if err != nil {
		tool.Failf("%v", err)
	}
	exe, err := os.Executable()
	if err != nil {
		tool.Failf("cannot find own binary: %v", err)
	}
	env := &stressor.Env{
		Config:     cfg,
		Heap:       heap,
		Executable: exe,
	}

	if *flagHTTP != "" {
		go func() {
			http.Handle("/metrics", promhttp.Handler())
			if err := http.ListenAndServe(*flagHTTP, nil); err != nil {
				log.Logf(0, "failed to serve metrics: %v", err)
			}
		}()
	}

	ctx, cancel := context.WithCancel(context.Background())
	shutdown := make(chan struct{})
	osutil.HandleInterrupts(shutdown)
	go func() {
		<-shutdown
		cancel()
	}()

	log.Logf(0, "running %v stressor(s) for %v", len(stressors), cfg.Duration.D())
	runErr := stressor.Run(ctx, stressors, env)
	for _, ui := range stat.Collect() {
		log.Logf(0, "%v: %v", ui.Name, ui.Value)
	}
	if runErr != nil {
		tool.Fail(runErr)
	}
}

func applyFlags(cfg *config.Config) {
	if *flagStressors != "" {
		cfg.Stressors = strings.Split(*flagStressors, ",")
	}
	if *flagDuration != 0 {
		cfg.Duration = config.Duration(*flagDuration)
	}
	if *flagFreq != 0 {
		cfg.TimerFreq = *flagFreq
	}
	if *flagRand {
		cfg.RandomRate = true
	}
	if *flagMaximize {
		cfg.Maximize = true
	}
	if *flagMinimize {
		cfg.Minimize = true
	}
	if *flagVerify {
		cfg.Verify = true
	}
	if *flagOomable {
		cfg.Oomable = true
	}
}

func registerStressors() {
	stressor.Register(&stressor.Stressor{
		Name:        "sysbadaddr",
		Description: "syscalls with bad addresses in disposable children",
		Entry: func(ctx context.Context, env *stressor.Env) (int, error) {
			cfg := &badaddr.Config{
				Executable: env.Executable,
				Duration:   env.Config.Duration.D(),
				Watchdog:   env.Config.Watchdog.D(),
				Oomable:    env.Config.Oomable,
				Heap:       env.Heap,
			}
			counter := cfg.Counter()
			err := badaddr.Run(ctx, cfg)
			ops := 0
			if counter != nil {
				ops = counter()
			}
			return ops, err
		},
	})
	stressor.Register(&stressor.Stressor{
		Name:        "sysfs",
		Description: "walks /sys probing every readable file",
		Entry: func(ctx context.Context, env *stressor.Env) (int, error) {
			w := syswalk.New(syswalk.Config{
				ProbeBudget: env.Config.ProbeBudget.D(),
				Duration:    env.Config.Duration.D(),
				Verify:      env.Config.Verify,
			})
			err := w.Run(ctx)
			return w.Visited(), err
		},
	})
	stressor.Register(&stressor.Stressor{
		Name:        "timerfd",
		Description: "drives a timer fd at a configurable rate",
		Entry: func(ctx context.Context, env *stressor.Env) (int, error) {
			return timerfd.Run(ctx, timerfd.Config{
				Freq:       int(env.Config.TimerFreq),
				RandomRate: env.Config.RandomRate,
				Maximize:   env.Config.Maximize,
				Minimize:   env.Config.Minimize,
				Duration:   env.Config.Duration.D(),
			})
		},
	})
}
