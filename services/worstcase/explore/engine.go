// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package explore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/AleutianAI/worstcase/services/worstcase/heuristic"
	"github.com/AleutianAI/worstcase/services/worstcase/path"
)

// DepthConstraint is reported when a state exceeds Program.MaxDepth.
const DepthConstraint = "depth"

// ErrProgramException wraps exceptions raised by exception leaves.
var ErrProgramException = errors.New("program exception")

// Counters summarises one run of the engine.
type Counters struct {
	States      int `json:"states"`
	EndStates   int `json:"end_states"`
	Purged      int `json:"purged"`
	Exceptions  int `json:"exceptions"`
	Constraints int `json:"constraints"`
}

// Engine is a depth-first host over a Program.
//
// # Description
//
// The engine fires ChoiceAdvanced at the parent depth before entering a
// child. If the listener marks the state ignored, StatePurged fires at the
// parent depth and the subtree is skipped. Otherwise the depth increments
// and the child is entered: leaves fire EndState then StateAdvanced with
// IsEndState true; exception and constraint leaves fire StateAdvanced then
// the matching event. Leaving a child decrements the depth and fires
// StateBacktracked.
//
// # Thread Safety
//
// Not safe for concurrent use. One engine runs one exploration.
type Engine struct {
	program    *Program
	listener   heuristic.Listener
	logger     *slog.Logger
	depth      int
	end        bool
	ignored    bool
	terminated bool
	counters   Counters
}

var _ heuristic.Search = (*Engine)(nil)

// NewEngine creates an engine for program reporting to listener.
func NewEngine(program *Program, listener heuristic.Listener, logger *slog.Logger) *Engine {
	if listener == nil {
		listener = heuristic.NopListener{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{
		program:  program,
		listener: listener,
		logger:   logger.With(slog.String("component", "explore"), slog.String("program", program.Name)),
	}
}

// Depth implements heuristic.Search.
func (e *Engine) Depth() int { return e.depth }

// IsEndState implements heuristic.Search.
func (e *Engine) IsEndState() bool { return e.end }

// SetIgnored implements heuristic.Search.
func (e *Engine) SetIgnored(ignored bool) { e.ignored = ignored }

// Terminate implements heuristic.Search. The current event completes
// before the engine stops.
func (e *Engine) Terminate() { e.terminated = true }

// Terminated reports whether the listener stopped the run.
func (e *Engine) Terminated() bool { return e.terminated }

// Counters returns the run counters.
func (e *Engine) Counters() Counters { return e.counters }

// Run explores the whole program.
//
// # Outputs
//
//   - error: ctx.Err() if the context ended the run early. Termination
//     requested by the listener is not an error.
func (e *Engine) Run(ctx context.Context) error {
	e.depth, e.end, e.ignored, e.terminated = 0, false, false, false
	e.counters = Counters{}

	e.logger.DebugContext(ctx, "exploration starting", slog.Int("leaves", e.program.Leaves()))
	e.listener.SearchStarted(ctx, e)
	err := e.visit(ctx, e.program.Root)
	e.listener.SearchFinished(ctx, e)

	e.logger.DebugContext(ctx, "exploration done",
		slog.Int("states", e.counters.States),
		slog.Int("end_states", e.counters.EndStates),
		slog.Int("purged", e.counters.Purged),
		slog.Bool("terminated", e.terminated),
	)
	return err
}

// visit handles the state n the engine has just entered.
func (e *Engine) visit(ctx context.Context, n *Node) error {
	e.counters.States++

	switch {
	case e.program.MaxDepth > 0 && e.depth > e.program.MaxDepth:
		e.listener.StateAdvanced(e)
		e.counters.Constraints++
		e.listener.SearchConstraintHit(e, DepthConstraint)
		return nil
	case n.Exception != "":
		e.listener.StateAdvanced(e)
		e.counters.Exceptions++
		e.listener.ExceptionThrown(e, fmt.Errorf("%s: %w", n.Exception, ErrProgramException))
		return nil
	case n.Constraint != "":
		e.listener.StateAdvanced(e)
		e.counters.Constraints++
		e.listener.SearchConstraintHit(e, n.Constraint)
		return nil
	case n.Leaf():
		e.counters.EndStates++
		e.end = true
		e.listener.EndState(e, heuristic.PathResult{InputSize: e.inputSize(n), Cost: n.Cost})
		e.listener.StateAdvanced(e)
		e.end = false
		return nil
	}

	e.listener.StateAdvanced(e)
	site := path.Site{ID: n.Site, Arity: n.arity()}
	for i, child := range n.Children {
		if e.terminated {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		e.listener.ChoiceAdvanced(e, heuristic.ChoicePoint{
			Site:          site,
			Choice:        i,
			PathCondition: n.pathCondition(),
		})
		if e.ignored {
			e.ignored = false
			e.counters.Purged++
			e.listener.StatePurged(e)
			continue
		}

		e.depth++
		err := e.visit(ctx, child)
		e.depth--
		e.listener.StateBacktracked(e)
		if err != nil {
			return err
		}
	}
	return nil
}

func (e *Engine) inputSize(n *Node) float64 {
	if n.InputSize != nil {
		return *n.InputSize
	}
	return e.program.InputSize
}
