// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package heuristic observes a state-space search host and either learns a
// branch policy from its worst-case paths (PolicyGenerator) or uses a policy
// to prune the search toward them (HeuristicObserver).
//
// Both observers are driven synchronously by the host through the Listener
// interface. They never choose an outcome themselves; the only lever they
// pull is Search.SetIgnored on states that disagree with the policy.
//
// # Thread Safety
//
// Observers are NOT safe for concurrent use. A host must deliver all events
// of one exploration from a single goroutine, in order.
package heuristic

import (
	"context"

	"github.com/AleutianAI/worstcase/services/worstcase/path"
)

// ChoicePoint describes one choice the host has just advanced.
//
// Choice is the host's tentative next outcome at Site. Only path-condition
// choices (the branches of conditionals on symbolic data) are of interest
// to the observers; scheduling or data choices set PathCondition to false
// and are ignored.
type ChoicePoint struct {
	Site          path.Site
	Choice        int
	PathCondition bool
}

// PathResult is the cost observed at a completed path.
type PathResult struct {
	InputSize float64 `json:"input_size"`
	Cost      float64 `json:"cost"`
}

// Search is the control surface the host exposes to observers.
type Search interface {
	// Depth returns the depth of the current state; the initial state is 0.
	Depth() int

	// IsEndState reports whether the current state completes a path.
	IsEndState() bool

	// SetIgnored marks the current state so the host skips its subtree.
	SetIgnored(ignored bool)

	// Terminate asks the host to stop after the current event.
	Terminate()
}

// Listener receives the host's search events.
//
// # Description
//
// For a state s entered by a choice, the host raises ChoiceAdvanced while
// still at the depth of the parent, then either purges s (when it was
// ignored) or advances into it. A state that completes a path raises
// EndState before StateAdvanced. Leaving a state raises StateBacktracked
// with Depth already reduced.
type Listener interface {
	SearchStarted(ctx context.Context, search Search)
	ChoiceAdvanced(search Search, cp ChoicePoint)
	StateAdvanced(search Search)
	StateBacktracked(search Search)
	StatePurged(search Search)
	ExceptionThrown(search Search, err error)
	SearchConstraintHit(search Search, constraint string)
	EndState(search Search, result PathResult)
	SearchFinished(ctx context.Context, search Search)
}

// NopListener implements Listener with no-ops. Embed it to handle only
// some events.
type NopListener struct{}

func (NopListener) SearchStarted(context.Context, Search) {}
func (NopListener) ChoiceAdvanced(Search, ChoicePoint) {}
func (NopListener) StateAdvanced(Search) {}
func (NopListener) StateBacktracked(Search) {}
func (NopListener) StatePurged(Search) {}
func (NopListener) ExceptionThrown(Search, error) {}
func (NopListener) SearchConstraintHit(Search, string) {}
func (NopListener) EndState(Search, PathResult) {}
func (NopListener) SearchFinished(context.Context, Search) {}

var _ Listener = NopListener{}
