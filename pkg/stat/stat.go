// Copyright 2026 kstress project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package stat provides prometheus/streamz style metrics (Val type) for
// instrumenting the stress loops, and a registry for such metrics.
//
// Simple use:
//
//	statOps := stat.New("sysfs files", "Files visited by the sysfs walker")
//	statOps.Add(1)
package stat

import (
	"fmt"
	"sort"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/VividCortex/gohistogram"
	"github.com/prometheus/client_golang/prometheus"
)

// UI is a snapshot of one metric for reporting.
type UI struct {
	Name  string
	Desc  string
	Value string
	V     int
}

func New(name, desc string, opts ...any) *Val {
	return global.New(name, desc, opts...)
}

func Collect() []UI {
	return global.Collect()
}

var global = &set{
	vals:  make(map[string]*Val),
	start: time.Now(),
}

type set struct {
	mu    sync.Mutex
	vals  map[string]*Val
	start time.Time
}

// Additional options for Val metrics.

// Rate says to report the metric rate per second rather than the total value.
type Rate struct{}

// Distribution says to collect a histogram of individual samples.
type Distribution struct{}

// Prometheus exports the metric to Prometheus under the given name.
type Prometheus string

// A custom 'func() int' option reads the metric value from the function.

func (s *set) New(name, desc string, opts ...any) *Val {
	v := &Val{
		name:  name,
		desc:  desc,
		start: s.start,
		fmt:   func(v int, period time.Duration) string { return strconv.Itoa(v) },
	}
	for _, o := range opts {
		switch opt := o.(type) {
		case Rate:
			v.rate = true
			v.fmt = formatRate
		case Distribution:
			v.hist = gohistogram.NewHistogram(histogramBuckets)
		case func() int:
			v.ext = opt
		case Prometheus:
			prometheus.Register(prometheus.NewGaugeFunc(prometheus.GaugeOpts{
				Name: string(opt),
				Help: desc,
			},
				func() float64 { return float64(v.Val()) },
			))
		default:
			panic(fmt.Sprintf("unknown stat option %#v", o))
		}
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.vals[name] = v
	return v
}

func (s *set) Collect() []UI {
	s.mu.Lock()
	defer s.mu.Unlock()
	period := time.Since(s.start)
	if period < time.Second {
		period = time.Second
	}
	var res []UI
	for _, v := range s.vals {
		val := v.Val()
		res = append(res, UI{
			Name:  v.name,
			Desc:  v.desc,
			Value: v.fmt(val, period),
			V:     val,
		})
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res
}

const histogramBuckets = 255

type Val struct {
	name  string
	desc  string
	start time.Time
	val   atomic.Uint64
	ext   func() int
	rate  bool
	fmt   func(int, time.Duration) string

	histMu sync.Mutex
	hist   *gohistogram.NumericHistogram
}

func (v *Val) Name() string {
	return v.name
}

func (v *Val) Add(val int) {
	if v.ext != nil {
		panic(fmt.Sprintf("stat %v is in external mode", v.name))
	}
	v.val.Add(uint64(val))
	if v.hist != nil {
		v.histMu.Lock()
		v.hist.Add(float64(val))
		v.histMu.Unlock()
	}
}

func (v *Val) Val() int {
	if v.ext != nil {
		return v.ext()
	}
	return int(v.val.Load())
}

// Quantile returns the q-th quantile of a Distribution metric.
func (v *Val) Quantile(q float64) float64 {
	if v.hist == nil {
		return 0
	}
	v.histMu.Lock()
	defer v.histMu.Unlock()
	return v.hist.Quantile(q)
}

func formatRate(v int, period time.Duration) string {
	secs := int(period.Seconds())
	if x := v / secs; x >= 10 {
		return fmt.Sprintf("%v (%v/sec)", v, x)
	}
	if x := v * 60 / secs; x >= 10 {
		return fmt.Sprintf("%v (%v/min)", v, x)
	}
	x := v * 60 * 60 / secs
	return fmt.Sprintf("%v (%v/hour)", v, x)
}
