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
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/AleutianAI/worstcase/services/worstcase/path"
	"github.com/AleutianAI/worstcase/services/worstcase/policy"
)

// ObserverConfig configures a HeuristicObserver.
type ObserverConfig struct {
	// EnablePolicies turns policy guidance on. When false every choice
	// resolves to NEW_CHOICE and the host explores unguided.
	EnablePolicies bool

	// Termination decides when to stop (nil means Never).
	Termination Termination

	// Logger for structured logging (nil uses slog.Default()).
	Logger *slog.Logger
}

// HeuristicObserver guides a search with a policy.
//
// # Description
//
// At each path-condition choice the policy is asked to resolve the site
// under the current history. A resolved verdict that disagrees with the
// host's tentative choice marks the state ignored, which prunes it; an
// agreeing verdict lets it proceed. NEW_CHOICE and UNRESOLVED never prune.
// After every completed path, exception and constraint hit the termination
// strategy is consulted.
//
// # Thread Safety
//
// NOT safe for concurrent use.
type HeuristicObserver struct {
	resolver    policy.Resolver
	enabled     bool
	termination Termination
	tracker     *pathTracker
	worst       worstCase
	stats       Statistics
	terminated  bool
	logger      *slog.Logger
	run         *runTrace
}

// NewHeuristicObserver creates a guided observer around an in-memory
// resolver. A nil resolver disables guidance.
func NewHeuristicObserver(resolver policy.Resolver, config ObserverConfig) *HeuristicObserver {
	logger := config.Logger
	if logger == nil {
		logger = slog.Default()
	}
	term := config.Termination
	if term == nil {
		term = Never{}
	}
	return &HeuristicObserver{
		resolver:    resolver,
		enabled:     config.EnablePolicies && resolver != nil,
		termination: term,
		tracker:     newPathTracker(),
		logger:      logger.With(slog.String("component", "heuristic_observer")),
	}
}

// LoadHeuristicObserver creates a guided observer with the policy stored
// for methods.
//
// # Description
//
// When policies are disabled nothing is loaded. The loaded policy is
// wrapped in a policy.Online so accepted choices are counted. Any load
// failure is returned; the exploration must not start without its policy.
//
// # Outputs
//
//   - *HeuristicObserver: Ready observer.
//   - error: policy.ErrNotFound, ErrAmbiguous, ErrIO or ErrCorruptPolicy.
func LoadHeuristicObserver(ctx context.Context, store *policy.Store, methods []string, config ObserverConfig) (*HeuristicObserver, error) {
	if !config.EnablePolicies {
		return NewHeuristicObserver(nil, config), nil
	}
	if store == nil {
		return nil, fmt.Errorf("load heuristic policy: no store: %w", policy.ErrIO)
	}
	p, err := store.Load(ctx, methods)
	if err != nil {
		return nil, fmt.Errorf("load heuristic policy: %w", err)
	}
	return NewHeuristicObserver(policy.NewOnline(p), config), nil
}

// Resolver returns the resolver consulted at each choice, or nil.
func (o *HeuristicObserver) Resolver() policy.Resolver {
	return o.resolver
}

// Statistics returns the counters of the current exploration.
func (o *HeuristicObserver) Statistics() Statistics {
	return o.stats
}

// Worst returns the highest-cost path result seen, if any.
func (o *HeuristicObserver) Worst() (PathResult, bool) {
	return o.worst.result, o.worst.seen
}

// Terminated reports whether the termination strategy stopped the search.
func (o *HeuristicObserver) Terminated() bool {
	return o.terminated
}

// SearchStarted implements Listener.
func (o *HeuristicObserver) SearchStarted(ctx context.Context, _ Search) {
	o.tracker.reset()
	o.termination.Start(time.Now())
	o.run = startRun(ctx, o.logger, modeGuided,
		attribute.Bool("wca.policies_enabled", o.enabled),
		attribute.String("wca.termination", o.termination.String()),
	)
}

// ChoiceAdvanced implements Listener.
func (o *HeuristicObserver) ChoiceAdvanced(search Search, cp ChoicePoint) {
	if !cp.PathCondition {
		return
	}
	depth := search.Depth()
	o.tracker.rewind(depth)

	res := policy.Resolution{Kind: policy.NewChoice}
	if o.enabled {
		res = o.resolver.Resolve(cp.Site.ID, o.tracker.history)
	}

	ignore := false
	if res.Kind.Resolved() {
		ignore = cp.Choice != res.Outcome
		if ignore {
			search.SetIgnored(true)
		}
	}
	o.stats.count(res.Kind, ignore)
	recordResolution(res.Kind.String(), ignore)

	if ignore {
		o.logger.Debug("ignoring off-policy state",
			slog.String("site", cp.Site.String()),
			slog.Int("choice", cp.Choice),
			slog.String("resolution", res.String()),
		)
	} else if co, ok := o.resolver.(policy.ChoiceObserver); ok && o.enabled {
		co.ChoiceMade(cp.Site, cp.Choice)
	}

	o.tracker.push(depth, path.Decision{SiteID: cp.Site.ID, Outcome: cp.Choice})
}

// StateAdvanced implements Listener.
func (o *HeuristicObserver) StateAdvanced(search Search) {
	if search.IsEndState() {
		o.checkTermination(search)
	}
}

// StateBacktracked implements Listener.
func (o *HeuristicObserver) StateBacktracked(search Search) {
	o.tracker.rewind(search.Depth())
}

// StatePurged implements Listener.
func (o *HeuristicObserver) StatePurged(search Search) {
	o.tracker.rewind(search.Depth())
}

// ExceptionThrown implements Listener.
func (o *HeuristicObserver) ExceptionThrown(search Search, err error) {
	o.stats.Exceptions++
	o.logger.Debug("exception on path", slog.String("error", errString(err)))
	o.checkTermination(search)
}

// SearchConstraintHit implements Listener.
func (o *HeuristicObserver) SearchConstraintHit(search Search, constraint string) {
	o.stats.ConstraintsHit++
	o.logger.Debug("search constraint hit", slog.String("constraint", constraint))
	o.checkTermination(search)
}

// EndState implements Listener.
func (o *HeuristicObserver) EndState(_ Search, result PathResult) {
	o.stats.Paths++
	pathsTotal.WithLabelValues(modeGuided).Inc()
	if worst, _ := o.worst.observe(result); worst {
		o.stats.WorstCases++
		worstCasesTotal.WithLabelValues(modeGuided).Inc()
	}
}

// SearchFinished implements Listener.
func (o *HeuristicObserver) SearchFinished(ctx context.Context, _ Search) {
	if o.run == nil {
		o.SearchStarted(ctx, nil)
	}
	o.run.end(o.stats, nil)
}

func (o *HeuristicObserver) checkTermination(search Search) {
	if o.terminated || !o.termination.Terminate(o.stats) {
		return
	}
	o.terminated = true
	o.logger.Info("termination strategy stopped the search",
		slog.String("strategy", o.termination.String()),
		slog.Int64("worst_cases", o.stats.WorstCases),
	)
	search.Terminate()
}

var _ Listener = (*HeuristicObserver)(nil)
