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
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

var (
	// ErrNoSamples indicates an empty sample set.
	ErrNoSamples = errors.New("no samples")

	// ErrHorizonTooSmall indicates a horizon below the sample count.
	ErrHorizonTooSmall = errors.New("prediction horizon smaller than sample count")
)

// RawSeriesName names the series echoing the input samples.
const RawSeriesName = "Raw"

var fitTracer = otel.Tracer("worstcase.fitting")

var (
	fitFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wca_fit_failures_total",
		Help: "Total trend model fits that failed and were dropped",
	}, []string{"model"})

	fitsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "wca_fits_total",
		Help: "Total sample sets fitted",
	})
)

// Fitter fits every model of its family to a sample set and produces
// extrapolated prediction series.
//
// # Thread Safety
//
// A Fitter holds no per-fit state and is safe for concurrent use.
type Fitter struct {
	kinds  []Kind
	logger *slog.Logger
}

// NewFitter creates a fitter over kinds, or the whole family when none are
// given.
func NewFitter(logger *slog.Logger, kinds ...Kind) *Fitter {
	if logger == nil {
		logger = slog.Default()
	}
	if len(kinds) == 0 {
		kinds = Family()
	}
	return &Fitter{
		kinds:  append([]Kind(nil), kinds...),
		logger: logger.With(slog.String("component", "fitter")),
	}
}

// Kinds returns the models this fitter tries, in order.
func (f *Fitter) Kinds() []Kind {
	return append([]Kind(nil), f.kinds...)
}

// Fit fits the family to samples and predicts up to horizon points.
//
// # Description
//
// The abscissa is the sample x values in input order followed by unit
// increments from the last sample until horizon points exist. Each model
// emits a prediction only where its domain admits x. A model that fails to
// fit is logged at Warn and dropped.
//
// # Inputs
//
//   - ctx: Context for tracing.
//   - samples: Non-empty sample set.
//   - horizon: Total abscissa points, at least len(samples).
//
// # Outputs
//
//   - *Result: Raw series plus one series per fitted model.
//   - error: ErrNoSamples or ErrHorizonTooSmall.
func (f *Fitter) Fit(ctx context.Context, samples SampleSet, horizon int) (*Result, error) {
	ctx, span := fitTracer.Start(ctx, "fitting.Fit",
		trace.WithAttributes(
			attribute.Int("wca.fit.samples", len(samples)),
			attribute.Int("wca.fit.horizon", horizon),
		),
	)
	defer span.End()

	if len(samples) == 0 {
		span.SetStatus(codes.Error, ErrNoSamples.Error())
		return nil, ErrNoSamples
	}
	if horizon < len(samples) {
		err := fmt.Errorf("horizon %d < %d samples: %w", horizon, len(samples), ErrHorizonTooSmall)
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	fitsTotal.Inc()

	xs, ys := samples.XY()
	abscissa := predictionAbscissa(xs, horizon)

	result := &Result{
		Raw: Series{Name: RawSeriesName, Points: append([]Sample(nil), samples...)},
	}
	for _, k := range f.kinds {
		m := NewModel(k)
		if err := m.Fit(xs, ys); err != nil {
			fitFailuresTotal.WithLabelValues(k.String()).Inc()
			f.logger.WarnContext(ctx, "model fit failed",
				slog.String("model", k.String()),
				slog.String("error", err.Error()),
			)
			continue
		}

		points := make([]Sample, 0, len(abscissa))
		for _, x := range abscissa {
			if !m.Domain(x) {
				continue
			}
			y, err := m.Predict(x)
			if err != nil {
				continue
			}
			points = append(points, Sample{X: x, Y: y})
		}
		result.Models = append(result.Models, ModelSeries{
			Series: Series{Name: Label(m), Points: points},
			Model:  m,
		})
		f.logger.DebugContext(ctx, "model fitted",
			slog.String("model", k.String()),
			slog.String("function", m.Function()),
			slog.Float64("r2", m.RSquared()),
		)
	}

	span.SetAttributes(attribute.Int("wca.fit.models", len(result.Models)))
	span.SetStatus(codes.Ok, "")
	return result, nil
}

// FitAll fits several named sample sets concurrently. The first error
// cancels the remaining fits.
func (f *Fitter) FitAll(ctx context.Context, sets map[string]SampleSet, horizon int) (map[string]*Result, error) {
	names := make([]string, 0, len(sets))
	for name := range sets {
		names = append(names, name)
	}
	sort.Strings(names)

	var mu sync.Mutex
	results := make(map[string]*Result, len(sets))

	g, gctx := errgroup.WithContext(ctx)
	for _, name := range names {
		samples := sets[name]
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			r, err := f.Fit(gctx, samples, horizon)
			if err != nil {
				return fmt.Errorf("fitting %s: %w", name, err)
			}
			mu.Lock()
			results[name] = r
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return results, nil
}

// Label renders "<desc>: <function> (r^2=<R²>)".
func Label(m *Model) string {
	return fmt.Sprintf("%s: %s (r^2=%.4f)", m.Kind().Description(), m.Function(), m.RSquared())
}

func predictionAbscissa(xs []float64, horizon int) []float64 {
	out := make([]float64, 0, horizon)
	out = append(out, xs...)
	next := xs[len(xs)-1]
	for len(out) < horizon {
		next++
		out = append(out, next)
	}
	return out
}
