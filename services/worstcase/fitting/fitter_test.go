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
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"
)

func squares() SampleSet {
	return SampleSet{{1, 1}, {2, 4}, {3, 9}, {4, 16}, {5, 25}}
}

func modelSeries(t *testing.T, r *Result, k Kind) ModelSeries {
	t.Helper()
	for _, m := range r.Models {
		if m.Model.Kind() == k {
			return m
		}
	}
	t.Fatalf("model %s not in result", k)
	return ModelSeries{}
}

func xsOf(points []Sample) []float64 {
	out := make([]float64, len(points))
	for i, p := range points {
		out[i] = p.X
	}
	return out
}

func TestFitter_PurePolyFit(t *testing.T) {
	r, err := NewFitter(nil).Fit(context.Background(), squares(), 7)
	require.NoError(t, err)

	assert.Equal(t, RawSeriesName, r.Raw.Name)
	assert.Equal(t, []Sample(squares()), r.Raw.Points)
	require.Len(t, r.Models, len(Family()))

	poly2 := modelSeries(t, r, Poly2)
	assert.InDelta(t, 1.0, poly2.Model.RSquared(), 1e-12)
	assert.Equal(t, "2nd poly: 1.00x^2 (r^2=1.0000)", poly2.Name)
	require.Len(t, poly2.Points, 7)
	assert.InDelta(t, 36, poly2.Points[5].Y, 1e-6)
	assert.InDelta(t, 49, poly2.Points[6].Y, 1e-6)
	assert.Equal(t, []float64{1, 2, 3, 4, 5, 6, 7}, xsOf(poly2.Points))

	best, ok := r.Best()
	require.True(t, ok)
	for _, m := range r.Models {
		assert.GreaterOrEqual(t, best.Model.RSquared(), m.Model.RSquared())
	}
	assert.Len(t, r.Series(), len(Family())+1)
}

func TestFitter_DomainRestrictedModels(t *testing.T) {
	samples := SampleSet{{0, 1}, {1, 2}, {2, 5}, {3, 10}, {4, 17}}
	r, err := NewFitter(nil).Fit(context.Background(), samples, 6)
	require.NoError(t, err)

	for _, k := range []Kind{Log, Pow, NLog} {
		s := modelSeries(t, r, k)
		assert.Equal(t, []float64{1, 2, 3, 4, 5}, xsOf(s.Points), k.String())
	}
	for _, k := range []Kind{Poly1, Poly2, Poly3, Exp} {
		s := modelSeries(t, r, k)
		assert.Equal(t, []float64{0, 1, 2, 3, 4, 5}, xsOf(s.Points), k.String())
	}
}

func TestFitter_DropsFailedModels(t *testing.T) {
	samples := SampleSet{{1, 0}, {2, 3}, {3, 5}, {4, 8}}
	r, err := NewFitter(nil).Fit(context.Background(), samples, 4)
	require.NoError(t, err)

	var kinds []Kind
	for _, m := range r.Models {
		kinds = append(kinds, m.Model.Kind())
	}
	assert.Equal(t, []Kind{Poly1, Poly2, Poly3, Log, NLog}, kinds)
}

func TestFitter_InputErrors(t *testing.T) {
	f := NewFitter(nil)
	_, err := f.Fit(context.Background(), nil, 3)
	require.ErrorIs(t, err, ErrNoSamples)

	_, err = f.Fit(context.Background(), squares(), 4)
	require.ErrorIs(t, err, ErrHorizonTooSmall)
}

func TestFitter_SubsetOfKinds(t *testing.T) {
	f := NewFitter(nil, Poly1, Log)
	assert.Equal(t, []Kind{Poly1, Log}, f.Kinds())

	r, err := f.Fit(context.Background(), squares(), 5)
	require.NoError(t, err)
	require.Len(t, r.Models, 2)
	assert.True(t, strings.HasPrefix(r.Models[0].Name, "1st poly: "))
	assert.True(t, strings.HasPrefix(r.Models[1].Name, "log: "))
}

func TestFitter_FitAll(t *testing.T) {
	sets := map[string]SampleSet{
		"Sort.run":  squares(),
		"Heap.push": {{1, 2}, {2, 4}, {3, 6}},
	}
	f := NewFitter(nil, Poly1, Log)
	results, err := f.FitAll(context.Background(), sets, 5)
	require.NoError(t, err)
	require.Len(t, results, 2)

	best, ok := results["Heap.push"].Best()
	require.True(t, ok)
	assert.Equal(t, Poly1, best.Model.Kind())

	sets["empty"] = nil
	_, err = f.FitAll(context.Background(), sets, 5)
	require.ErrorIs(t, err, ErrNoSamples)
	assert.Contains(t, err.Error(), "fitting empty")
}

func TestFitter_Span(t *testing.T) {
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { otel.SetTracerProvider(prev) })

	_, err := NewFitter(nil).Fit(context.Background(), squares(), 5)
	require.NoError(t, err)

	var names []string
	for _, s := range recorder.Ended() {
		names = append(names, s.Name())
	}
	assert.Contains(t, names, "fitting.Fit")
}

func TestResult_BestEmpty(t *testing.T) {
	_, ok := (&Result{}).Best()
	assert.False(t, ok)
}

func TestCSV(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteCSV(&buf, []Sample{{1, 1}, {2.5, 6.25}}))
	assert.Equal(t, "x,y\n1,1\n2.5,6.25\n", buf.String())

	got, err := ReadSamplesCSV(&buf)
	require.NoError(t, err)
	assert.Equal(t, SampleSet{{1, 1}, {2.5, 6.25}}, got)

	got, err = ReadSamplesCSV(strings.NewReader("3, 9\n\n4,16\n"))
	require.NoError(t, err)
	assert.Equal(t, SampleSet{{3, 9}, {4, 16}}, got)

	for _, bad := range []string{"x,y\n1\n", "x,y\n1,a\n", "b,2\n"} {
		_, err := ReadSamplesCSV(strings.NewReader(bad))
		require.ErrorIs(t, err, ErrInvalidCSV, bad)
	}
}

func TestWriteResultCSV(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "viz")
	r, err := NewFitter(nil, Poly2, Log).Fit(context.Background(), squares(), 6)
	require.NoError(t, err)

	paths, err := WriteResultCSV(dir, r)
	require.NoError(t, err)
	assert.Equal(t, []string{
		filepath.Join(dir, "raw.csv"),
		filepath.Join(dir, "poly2.csv"),
		filepath.Join(dir, "log.csv"),
	}, paths)

	raw, err := ReadSamplesFile(paths[0])
	require.NoError(t, err)
	assert.Equal(t, squares(), raw)

	data, err := os.ReadFile(paths[1])
	require.NoError(t, err)
	assert.Equal(t, 7, strings.Count(string(data), "\n"))
}
