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
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/worstcase/services/worstcase/path"
	"github.com/AleutianAI/worstcase/services/worstcase/policy"
)

// GeneratorConfig configures a PolicyGenerator.
type GeneratorConfig struct {
	// MeasuredMethods names the code the learned policy applies to.
	MeasuredMethods []string

	// HistorySize is the history bound K of the learned policy.
	HistorySize int

	// Store persists the policy at SearchFinished. Nil disables persistence.
	Store *policy.Store

	// Unify merges with a stored policy for the same methods instead of
	// overwriting it.
	Unify bool

	// Logger for structured logging (nil uses slog.Default()).
	Logger *slog.Logger
}

// PolicyGenerator records the decisions of worst-case paths into a policy.
//
// # Description
//
// Every path-condition choice the host advances is registered in the
// policy and appended to the current path history. The generator keeps the
// paths whose cost equals the highest cost seen; a strictly costlier path
// replaces them all. At the end of the search every decision of the kept
// paths is recorded together with the history that preceded it, and the
// policy is validated and saved.
//
// # Thread Safety
//
// NOT safe for concurrent use.
type PolicyGenerator struct {
	config  GeneratorConfig
	policy  *policy.Policy
	tracker *pathTracker
	worst   worstCase
	pending []*path.History
	stats   Statistics
	logger  *slog.Logger
	run     *runTrace

	savedPath string
	err       error
}

// NewPolicyGenerator creates a recording observer with an empty policy.
func NewPolicyGenerator(config GeneratorConfig) *PolicyGenerator {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &PolicyGenerator{
		config:  config,
		policy:  policy.New(config.MeasuredMethods, config.HistorySize),
		tracker: newPathTracker(),
		logger:  logger.With(slog.String("component", "policy_generator")),
	}
}

// Policy returns the learned policy. Worst-case paths are added to it at
// SearchFinished.
func (g *PolicyGenerator) Policy() *policy.Policy {
	return g.policy
}

// Statistics returns the counters of the current exploration.
func (g *PolicyGenerator) Statistics() Statistics {
	return g.stats
}

// Worst returns the highest-cost path result seen, if any.
func (g *PolicyGenerator) Worst() (PathResult, bool) {
	return g.worst.result, g.worst.seen
}

// SavedPath returns the file the policy was saved to, or "".
func (g *PolicyGenerator) SavedPath() string {
	return g.savedPath
}

// Err returns the persistence error of the last SearchFinished, if any.
func (g *PolicyGenerator) Err() error {
	return g.err
}

// SearchStarted implements Listener.
func (g *PolicyGenerator) SearchStarted(ctx context.Context, _ Search) {
	g.tracker.reset()
	g.run = startRun(ctx, g.logger, modeRecord,
		attribute.StringSlice("wca.measured_methods", g.policy.MeasuredMethods()),
		attribute.Int("wca.history_size", g.policy.K()),
	)
}

// ChoiceAdvanced implements Listener.
func (g *PolicyGenerator) ChoiceAdvanced(search Search, cp ChoicePoint) {
	if !cp.PathCondition {
		return
	}
	g.policy.Register(cp.Site)
	g.tracker.push(search.Depth(), path.Decision{SiteID: cp.Site.ID, Outcome: cp.Choice})
}

// StateAdvanced implements Listener.
func (g *PolicyGenerator) StateAdvanced(Search) {}

// StateBacktracked implements Listener.
func (g *PolicyGenerator) StateBacktracked(search Search) {
	g.tracker.rewind(search.Depth())
}

// StatePurged implements Listener.
func (g *PolicyGenerator) StatePurged(search Search) {
	g.tracker.rewind(search.Depth())
}

// ExceptionThrown implements Listener.
func (g *PolicyGenerator) ExceptionThrown(_ Search, err error) {
	g.stats.Exceptions++
	g.logger.Debug("exception on path", slog.String("error", errString(err)))
}

// SearchConstraintHit implements Listener.
func (g *PolicyGenerator) SearchConstraintHit(_ Search, constraint string) {
	g.stats.ConstraintsHit++
	g.logger.Debug("search constraint hit", slog.String("constraint", constraint))
}

// EndState implements Listener.
func (g *PolicyGenerator) EndState(_ Search, result PathResult) {
	g.stats.Paths++
	pathsTotal.WithLabelValues(modeRecord).Inc()
	worst, raised := g.worst.observe(result)
	if !worst {
		return
	}
	g.stats.WorstCases++
	worstCasesTotal.WithLabelValues(modeRecord).Inc()
	if raised {
		g.pending = g.pending[:0]
	}
	g.pending = append(g.pending, g.tracker.history.Clone())
}

// recordPending contributes every decision of the kept worst-case paths to
// the policy.
func (g *PolicyGenerator) recordPending(logger *slog.Logger) {
	for _, h := range g.pending {
		for i := 0; i < h.Len(); i++ {
			d := h.At(i)
			if err := g.policy.Record(d.SiteID, h.Prefix(i), d.Outcome); err != nil {
				eventErrorsTotal.WithLabelValues(modeRecord).Inc()
				logger.Warn("failed to record decision",
					slog.String("decision", d.String()),
					slog.String("error", err.Error()),
				)
			}
		}
	}
	if len(g.pending) > 0 {
		logger.Debug("recorded worst-case paths",
			slog.Int("paths", len(g.pending)),
			slog.Float64("cost", g.worst.result.Cost),
		)
	}
	g.pending = nil
}

// SearchFinished implements Listener.
//
// The kept worst-case paths are recorded first. The policy is saved only if
// it passes Validate. Errors are logged and kept for Err; they never panic.
func (g *PolicyGenerator) SearchFinished(ctx context.Context, _ Search) {
	if g.run == nil {
		g.SearchStarted(ctx, nil)
	}
	g.recordPending(g.run.logger)
	g.err = g.persist(g.run.withSpan(ctx))
	g.run.end(g.stats, g.err)
}

func (g *PolicyGenerator) persist(ctx context.Context) error {
	if g.config.Store == nil {
		g.run.logger.Info("policy persistence disabled", slog.String("policy", g.policy.String()))
		return nil
	}
	if err := g.policy.Validate(); err != nil {
		g.run.logger.Error("refusing to persist invalid policy", slog.String("error", err.Error()))
		return fmt.Errorf("persist policy: %w", err)
	}
	file, err := g.config.Store.Save(ctx, g.policy, g.config.Unify)
	if err != nil {
		g.run.logger.Error("failed to persist policy", slog.String("error", err.Error()))
		return fmt.Errorf("persist policy: %w", err)
	}
	g.savedPath = file
	return nil
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}

var _ Listener = (*PolicyGenerator)(nil)
