// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package policy

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/errgroup"
)

// UnifyFiles merges the policies stored in inputs and writes the result to
// output.
//
// # Description
//
// Inputs are decoded concurrently, then folded in argument order. Because
// unification is commutative and associative the order does not change the
// result. The output file is written atomically and may be one of the
// inputs.
//
// # Inputs
//
//   - ctx: Context for cancellation of the decode phase.
//   - inputs: Paths of .pol files. At least one is required.
//   - output: Path of the unified policy.
//   - logger: Logger (nil uses slog.Default()).
//
// # Outputs
//
//   - *Policy: The unified policy.
//   - error: ErrEmptyInput, ErrIO, ErrCorruptPolicy or ErrIncompatible.
func UnifyFiles(ctx context.Context, inputs []string, output string, logger *slog.Logger) (*Policy, error) {
	if logger == nil {
		logger = slog.Default()
	}
	ctx, span := storeTracer.Start(ctx, "policy.UnifyFiles",
		trace.WithAttributes(
			attribute.Int("policy.inputs", len(inputs)),
			attribute.String("policy.output", output),
		),
	)
	defer span.End()

	fail := func(err error) (*Policy, error) {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		storeOperationsTotal.WithLabelValues("unify", "error").Inc()
		return nil, err
	}

	if len(inputs) == 0 {
		return fail(fmt.Errorf("unify into %s: %w", output, ErrEmptyInput))
	}

	decoded := make([]*Policy, len(inputs))
	g, gctx := errgroup.WithContext(ctx)
	for i, in := range inputs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			p, err := ReadFile(in)
			if err != nil {
				return err
			}
			decoded[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return fail(err)
	}

	logger = loggerWithTrace(ctx, logger)
	out := decoded[0].Clone()
	for i, p := range decoded[1:] {
		if err := out.Merge(p); err != nil {
			return fail(fmt.Errorf("unify %s: %w", inputs[i+1], err))
		}
	}

	if err := WriteFile(output, out); err != nil {
		return fail(err)
	}

	storeOperationsTotal.WithLabelValues("unify", "success").Inc()
	span.SetStatus(codes.Ok, "")
	logger.Info("unified policies",
		slog.Int("inputs", len(inputs)),
		slog.String("output", output),
		slog.String("policy", out.String()),
	)
	return out, nil
}
