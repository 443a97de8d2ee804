// Copyright 2026 kstress project authors. All rights reserved.
// Use of this source code is governed by Apache 2 LICENSE that can be found in the LICENSE file.

//go:build linux

package stressor

import (
	"context"
	"testing"

	"github.com/kstress/kstress/pkg/config"
	"github.com/kstress/kstress/pkg/sheap"
	"github.com/kstress/kstress/pkg/stat"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry(t *testing.T) {
	s := &Stressor{
		Name:        "test-noop",
		Description: "does nothing, quickly",
		Entry: func(ctx context.Context, env *Env) (int, error) {
			return 42, nil
		},
	}
	Register(s)
	assert.Panics(t, func() { Register(s) })

	got, err := Select([]string{"test-noop"})
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Same(t, s, got[0])

	_, err = Select([]string{"no-such-stressor"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "test-noop")

	all, err := Select(nil)
	require.NoError(t, err)
	assert.NotEmpty(t, all)
}

func TestRun(t *testing.T) {
	s := &Stressor{
		Name:        "test-counting",
		Description: "counts a fixed number of ops",
		Entry: func(ctx context.Context, env *Env) (int, error) {
			return 7, nil
		},
	}
	Register(s)
	env := &Env{Config: config.Default()}
	require.NoError(t, Run(context.Background(), []*Stressor{s}, env))
	for _, ui := range stat.Collect() {
		if ui.Name == "test-counting ops" {
			assert.Equal(t, 7, ui.V)
			return
		}
	}
	t.Fatalf("counter for the stressor was not collected")
}

func TestDescribe(t *testing.T) {
	heap, err := sheap.Init()
	require.NoError(t, err)
	defer heap.Close()
	s := &Stressor{Name: "test-desc", Description: "shared description"}
	assert.Equal(t, s.Description, s.Describe(nil))
	assert.Equal(t, s.Description, s.Describe(heap))
	used, _ := heap.Usage()
	assert.Equal(t, s.Description, s.Describe(heap))
	used2, _ := heap.Usage()
	assert.Equal(t, used, used2, "second Describe must reuse the interned copy")
}
