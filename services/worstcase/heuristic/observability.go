// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package heuristic

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const heuristicTracerName = "worstcase.heuristic"

const (
	modeRecord = "record"
	modeGuided = "guided"
)

var (
	// resolutionsTotal counts resolutions by kind and whether the state was ignored
	resolutionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wca_resolutions_total",
		Help: "Total choice resolutions by kind and outcome",
	}, []string{"kind", "ignored"})

	// worstCasesTotal counts new worst-case paths
	worstCasesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wca_worst_cases_total",
		Help: "Total new worst-case paths by observer mode",
	}, []string{"mode"})

	// pathsTotal counts completed paths
	pathsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wca_paths_total",
		Help: "Total completed paths by observer mode",
	}, []string{"mode"})

	// eventErrorsTotal counts per-event errors that were logged and skipped
	eventErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wca_event_errors_total",
		Help: "Total per-event observer errors by mode",
	}, []string{"mode"})

	// runDuration tracks exploration wall-clock time
	runDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wca_run_duration_seconds",
		Help:    "Exploration duration in seconds",
		Buckets: prometheus.ExponentialBuckets(0.001, 4, 10),
	}, []string{"mode"})
)

// runTrace holds the span and identity of one exploration.
type runTrace struct {
	id     string
	mode   string
	start  time.Time
	span   trace.Span
	logger *slog.Logger
}

// startRun opens the span of an exploration and returns a logger carrying
// the run id and trace context.
func startRun(ctx context.Context, logger *slog.Logger, mode string, attrs ...attribute.KeyValue) *runTrace {
	if ctx == nil {
		ctx = context.Background()
	}
	id := uuid.NewString()
	attrs = append(attrs,
		attribute.String("wca.run_id", id),
		attribute.String("wca.mode", mode),
	)
	ctx, span := otel.Tracer(heuristicTracerName).Start(ctx, "heuristic.run",
		trace.WithAttributes(attrs...),
		trace.WithSpanKind(trace.SpanKindInternal),
	)

	l := logger.With(slog.String("run_id", id), slog.String("mode", mode))
	if sc := span.SpanContext(); sc.IsValid() {
		l = l.With(slog.String("trace_id", sc.TraceID().String()))
	}
	l.InfoContext(ctx, "exploration started")

	return &runTrace{id: id, mode: mode, start: time.Now(), span: span, logger: l}
}

// withSpan returns ctx carrying the run span.
func (r *runTrace) withSpan(ctx context.Context) context.Context {
	return trace.ContextWithSpan(ctx, r.span)
}

// end closes the span with the final statistics.
func (r *runTrace) end(stats Statistics, err error) {
	elapsed := time.Since(r.start)
	runDuration.WithLabelValues(r.mode).Observe(elapsed.Seconds())

	r.span.SetAttributes(
		attribute.Int64("wca.result.paths", stats.Paths),
		attribute.Int64("wca.result.worst_cases", stats.WorstCases),
		attribute.Int64("wca.result.ignored", stats.Ignored),
		attribute.String("wca.result.elapsed", elapsed.String()),
	)
	if err != nil {
		r.span.RecordError(err)
		r.span.SetStatus(codes.Error, err.Error())
	} else {
		r.span.SetStatus(codes.Ok, "")
	}
	r.span.End()

	r.logger.Info("exploration finished",
		slog.Any("statistics", stats),
		slog.Duration("elapsed", elapsed),
	)
}

func recordResolution(kind string, ignored bool) {
	label := "false"
	if ignored {
		label = "true"
	}
	resolutionsTotal.WithLabelValues(kind, label).Inc()
}
