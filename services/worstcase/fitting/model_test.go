// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package fitting

import (
	"math"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleFn(xs []float64, f func(float64) float64) []float64 {
	ys := make([]float64, len(xs))
	for i, x := range xs {
		ys[i] = f(x)
	}
	return ys
}

func TestModel_PolyExactFit(t *testing.T) {
	xs := []float64{1, 2, 3, 4, 5}
	ys := []float64{1, 4, 9, 16, 25}

	m := NewModel(Poly2)
	require.NoError(t, m.Fit(xs, ys))
	assert.InDelta(t, 1.0, m.RSquared(), 1e-12)
	assert.Equal(t, 5, m.Samples())

	for _, x := range []float64{6, 7} {
		y, err := m.Predict(x)
		require.NoError(t, err)
		assert.InDelta(t, x*x, y, 1e-6)
	}
	assert.Equal(t, "1.00x^2", m.Function())
}

func TestModel_Function(t *testing.T) {
	xs := []float64{1, 2, 3, 4, 5, 6}
	tests := []struct {
		kind Kind
		f    func(float64) float64
		want string
	}{
		{Poly1, func(x float64) float64 { return 3 - 2*x }, "3.00 - 2.00x"},
		{Poly2, func(x float64) float64 { return 1 + 2*x + 3*x*x }, "1.00 + 2.00x + 3.00x^2"},
		{Poly3, func(x float64) float64 { return 0.5*x*x*x - x }, "-1.00x + 0.50x^3"},
		{Exp, func(x float64) float64 { return 2 * math.Exp(0.5*x) }, "2.00*e^(0.50x)"},
		{Pow, func(x float64) float64 { return 2 * math.Pow(x, 1.5) }, "2.00*x^1.50"},
		{Log, func(x float64) float64 { return 1 + 2*math.Log(x) }, "1.00 + 2.00*log(x)"},
		{NLog, func(x float64) float64 { return 1 + 2*x + 3*x*math.Log(x) }, "1.00 + 2.00x + 3.00x*log(x)"},
	}
	for _, tt := range tests {
		t.Run(tt.kind.String(), func(t *testing.T) {
			m := NewModel(tt.kind)
			require.NoError(t, m.Fit(xs, sampleFn(xs, tt.f)))
			assert.Equal(t, tt.want, m.Function())
			assert.InDelta(t, 1.0, m.RSquared(), 1e-9)
			assert.Equal(t, tt.kind.String()+": "+tt.want, m.String())
		})
	}
}

func TestModel_Errors(t *testing.T) {
	t.Run("non-positive sample on log scale", func(t *testing.T) {
		for _, k := range []Kind{Exp, Pow} {
			m := NewModel(k)
			err := m.Fit([]float64{1, 2, 3}, []float64{1, 0, 3})
			require.ErrorIs(t, err, ErrNonPositiveSample)
			assert.False(t, m.Fitted())
		}
	})

	t.Run("log y ignores rows outside the domain", func(t *testing.T) {
		m := NewModel(Pow)
		require.NoError(t, m.Fit([]float64{0, 1, 2, 3}, []float64{-1, 1, 2, 3}))
		assert.Equal(t, 3, m.Samples())
	})

	t.Run("identical abscissae", func(t *testing.T) {
		m := NewModel(Poly2)
		err := m.Fit([]float64{2, 2, 2, 2}, []float64{1, 2, 3, 4})
		require.ErrorIs(t, err, ErrRankDeficient)
	})

	t.Run("too few samples", func(t *testing.T) {
		m := NewModel(Poly3)
		err := m.Fit([]float64{1, 2}, []float64{1, 2})
		require.ErrorIs(t, err, ErrRankDeficient)
	})

	t.Run("no samples in domain", func(t *testing.T) {
		m := NewModel(Log)
		err := m.Fit([]float64{-1, 0}, []float64{1, 2})
		require.ErrorIs(t, err, ErrRankDeficient)
	})

	t.Run("length mismatch", func(t *testing.T) {
		err := NewModel(Poly1).Fit([]float64{1, 2}, []float64{1})
		require.ErrorIs(t, err, ErrSampleMismatch)
	})

	t.Run("predict before fit", func(t *testing.T) {
		_, err := NewModel(Poly1).Predict(1)
		require.ErrorIs(t, err, ErrNotFitted)
		assert.Equal(t, "unfitted", NewModel(Poly1).Function())
	})

	t.Run("predict outside domain", func(t *testing.T) {
		m := NewModel(Log)
		require.NoError(t, m.Fit([]float64{1, 2, 3}, []float64{0, 1, 2}))
		_, err := m.Predict(0)
		require.ErrorIs(t, err, ErrOutsideDomain)
	})
}

func TestModel_ConstantTarget(t *testing.T) {
	m := NewModel(Poly1)
	require.NoError(t, m.Fit([]float64{1, 2, 3}, []float64{5, 5, 5}))
	assert.Equal(t, 1.0, m.RSquared())
}

func TestModel_RSquaredBoundsOnPositiveSamples(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for trial := 0; trial < 50; trial++ {
		xs := make([]float64, 8)
		ys := make([]float64, 8)
		for i := range xs {
			xs[i] = 0.5 + float64(i)*2 + rng.Float64()
			ys[i] = 0.1 + rng.Float64()*1000
		}
		for _, k := range Family() {
			m := NewModel(k)
			if err := m.Fit(xs, ys); err != nil {
				require.ErrorIs(t, err, ErrRankDeficient, "trial %d %s", trial, k)
				continue
			}
			r2 := m.RSquared()
			assert.GreaterOrEqual(t, r2, 0.0, "trial %d %s", trial, k)
			assert.LessOrEqual(t, r2, 1.0, "trial %d %s", trial, k)
			for _, x := range xs {
				y, err := m.Predict(x)
				require.NoError(t, err)
				assert.False(t, math.IsNaN(y) || math.IsInf(y, 0), "trial %d %s x=%g", trial, k, x)
			}
		}
	}
}

func TestKind(t *testing.T) {
	assert.Len(t, Family(), 7)
	for _, k := range Family() {
		got, err := ParseKind(k.String())
		require.NoError(t, err)
		assert.Equal(t, k, got)
	}
	_, err := ParseKind("quartic")
	require.ErrorIs(t, err, ErrUnknownModel)

	assert.Equal(t, "2nd poly", Poly2.Description())
	assert.Equal(t, "kind(42)", Kind(42).String())

	assert.True(t, Exp.Domain(0))
	assert.False(t, Pow.Domain(0))
	assert.False(t, NLog.Domain(-1))
	assert.True(t, Poly1.Domain(-3))

	assert.False(t, Exp.Range(0))
	assert.True(t, Log.Range(-2))
	assert.True(t, Pow.LogY())
	assert.False(t, NLog.LogY())
}
