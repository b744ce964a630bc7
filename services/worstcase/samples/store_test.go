// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package samples

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/worstcase/services/worstcase/fitting"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := OpenInMemory()
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestStore_PutKeepsWorstCost(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	updated, err := s.Put(ctx, "Sort.run", fitting.Sample{X: 4, Y: 10})
	require.NoError(t, err)
	assert.True(t, updated)

	updated, err = s.Put(ctx, "Sort.run", fitting.Sample{X: 4, Y: 7})
	require.NoError(t, err)
	assert.False(t, updated)

	updated, err = s.Put(ctx, "Sort.run", fitting.Sample{X: 4, Y: 10})
	require.NoError(t, err)
	assert.False(t, updated, "equal cost does not rewrite")

	updated, err = s.Put(ctx, "Sort.run", fitting.Sample{X: 4, Y: 12})
	require.NoError(t, err)
	assert.True(t, updated)

	got, err := s.Load(ctx, "Sort.run")
	require.NoError(t, err)
	assert.Equal(t, fitting.SampleSet{{X: 4, Y: 12}}, got)
}

func TestStore_LoadSortsByX(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	for _, x := range []float64{10, -2.5, 3, 0, 100, -0.0, 1e-3} {
		_, err := s.Put(ctx, "t", fitting.Sample{X: x, Y: x * 2})
		require.NoError(t, err)
	}

	got, err := s.Load(ctx, "t")
	require.NoError(t, err)
	var xs []float64
	for _, p := range got {
		xs = append(xs, p.X)
	}
	assert.Equal(t, []float64{-2.5, 0, 1e-3, 3, 10, 100}, xs)
}

func TestStore_Targets(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	targets, err := s.Targets(ctx)
	require.NoError(t, err)
	assert.Empty(t, targets)

	for _, target := range []string{"Sort.run", "A", "AB", "Sort.run"} {
		_, err := s.Put(ctx, target, fitting.Sample{X: 1, Y: 1})
		require.NoError(t, err)
		_, err = s.Put(ctx, target, fitting.Sample{X: 2, Y: 1})
		require.NoError(t, err)
	}

	targets, err = s.Targets(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"A", "AB", "Sort.run"}, targets)

	// Prefix isolation: "A" must not see "AB".
	a, err := s.Load(ctx, "A")
	require.NoError(t, err)
	assert.Len(t, a, 2)

	require.NoError(t, s.Delete(ctx, "A"))
	targets, err = s.Targets(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"AB", "Sort.run"}, targets)

	missing, err := s.Load(ctx, "A")
	require.NoError(t, err)
	assert.Empty(t, missing)
}

func TestStore_Errors(t *testing.T) {
	ctx := context.Background()
	s := openTestStore(t)

	_, err := s.Put(ctx, "", fitting.Sample{X: 1, Y: 1})
	require.ErrorIs(t, err, ErrInvalidTarget)

	_, err = s.Put(ctx, "bad\x00name", fitting.Sample{X: 1, Y: 1})
	require.ErrorIs(t, err, ErrInvalidTarget)

	_, err = s.Put(ctx, "t", fitting.Sample{X: math.NaN(), Y: 1})
	require.ErrorIs(t, err, ErrInvalidSample)

	_, err = s.Put(ctx, "t", fitting.Sample{X: 1, Y: math.Inf(1)})
	require.ErrorIs(t, err, ErrInvalidSample)

	cancelled, cancel := context.WithCancel(ctx)
	cancel()
	_, err = s.Load(cancelled, "t")
	require.ErrorIs(t, err, context.Canceled)

	_, err = Open(Config{})
	require.Error(t, err)
}

func TestStore_Persistent(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	s, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	assert.Equal(t, dir, s.Path())
	_, err = s.Put(ctx, "Sort.run", fitting.Sample{X: 8, Y: 64})
	require.NoError(t, err)
	require.NoError(t, s.Close())

	_, err = s.Load(ctx, "Sort.run")
	require.ErrorIs(t, err, ErrClosed)

	reopened, err := Open(DefaultConfig(dir))
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.Load(ctx, "Sort.run")
	require.NoError(t, err)
	assert.Equal(t, fitting.SampleSet{{X: 8, Y: 64}}, got)
}

func TestEncodeX_Order(t *testing.T) {
	values := []float64{math.Inf(-1), -1e9, -1, -1e-9, 0, 1e-9, 1, 1e9, math.Inf(1)}
	for i := 1; i < len(values); i++ {
		a, b := encodeX(values[i-1]), encodeX(values[i])
		assert.Less(t, string(a), string(b), "%g < %g", values[i-1], values[i])
	}
	for _, v := range values {
		assert.Equal(t, v, decodeX(encodeX(v)))
	}
}
