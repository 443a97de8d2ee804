// Copyright 2026 kstress project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

// Package stressor is the registry of named exercisers and the loop that
// runs a selection of them for a bounded duration.
package stressor

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/kstress/kstress/pkg/config"
	"github.com/kstress/kstress/pkg/log"
	"github.com/kstress/kstress/pkg/sheap"
	"github.com/kstress/kstress/pkg/stat"
	"golang.org/x/sync/errgroup"
)

// Env is what a stressor gets to work with.
type Env struct {
	Config *config.Config
	// Heap is the cross-process string arena, may be nil.
	Heap *sheap.Heap
	// Executable to re-exec for stressors that spawn child processes.
	Executable string
}

// RunFunc runs one stressor until ctx or the configured duration ends and
// returns the number of completed operations. Only infrastructure failures
// are errors; provoked faults are counted, not returned.
type RunFunc func(ctx context.Context, env *Env) (int, error)

type Stressor struct {
	Name        string
	Description string
	Entry       RunFunc
}

// Describe returns the description, backed by the shared arena when one
// is available so every process holds a single copy.
func (s *Stressor) Describe(heap *sheap.Heap) string {
	if heap == nil {
		return s.Description
	}
	content := heap.Intern(s.Description)
	if content == nil {
		// Arena exhausted, fall back to our own copy.
		return s.Description
	}
	return string(content)
}

var (
	mu       sync.Mutex
	registry = make(map[string]*Stressor)
)

// Register adds a stressor to the registry, panics on duplicate names.
func Register(s *Stressor) {
	mu.Lock()
	defer mu.Unlock()
	if registry[s.Name] != nil {
		panic(fmt.Sprintf("duplicate stressor %v", s.Name))
	}
	registry[s.Name] = s
}

// List returns all registered stressors sorted by name.
func List() []*Stressor {
	mu.Lock()
	defer mu.Unlock()
	res := make([]*Stressor, 0, len(registry))
	for _, s := range registry {
		res = append(res, s)
	}
	sort.Slice(res, func(i, j int) bool { return res[i].Name < res[j].Name })
	return res
}

// Select resolves a list of stressor names, empty selects all.
func Select(names []string) ([]*Stressor, error) {
	if len(names) == 0 {
		return List(), nil
	}
	mu.Lock()
	defer mu.Unlock()
	res := make([]*Stressor, 0, len(names))
	for _, name := range names {
		s := registry[name]
		if s == nil {
			return nil, fmt.Errorf("unknown stressor %q, have: %v",
				name, strings.Join(registeredNames(), ", "))
		}
		res = append(res, s)
	}
	return res, nil
}

func registeredNames() []string {
	names := make([]string, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Run runs the stressors concurrently until each finishes its configured
// duration, accumulating per-stressor completed-op counters.
func Run(ctx context.Context, stressors []*Stressor, env *Env) error {
	g, ctx := errgroup.WithContext(ctx)
	for _, s := range stressors {
		s := s
		val := stat.New(s.Name+" ops", s.Describe(env.Heap),
			stat.Rate{}, stat.Prometheus(promName(s.Name)))
		g.Go(func() error {
			log.Logf(1, "%v: starting", s.Name)
			ops, err := s.Entry(ctx, env)
			val.Add(ops)
			log.Logf(1, "%v: done, %v ops", s.Name, ops)
			return err
		})
	}
	return g.Wait()
}

func promName(name string) string {
	return "kstress_" + strings.ReplaceAll(name, "-", "_") + "_ops"
}
