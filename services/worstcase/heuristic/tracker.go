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
	"github.com/AleutianAI/worstcase/services/worstcase/path"
)

// pathTracker keeps the decision history of the current path in step with
// the host's depth.
//
// Each decision is tagged with the depth of the state it was taken at.
// Whenever the host reports depth d, decisions taken at depth d or deeper
// belong to states that have been left and are dropped.
type pathTracker struct {
	history *path.History
	depths  []int
}

func newPathTracker() *pathTracker {
	return &pathTracker{history: path.NewHistory()}
}

// rewind drops every decision taken at depth or deeper.
func (t *pathTracker) rewind(depth int) {
	n := len(t.depths)
	for n > 0 && t.depths[n-1] >= depth {
		n--
	}
	t.depths = t.depths[:n]
	t.history.Truncate(n)
}

// push records a decision taken at depth.
func (t *pathTracker) push(depth int, d path.Decision) {
	t.rewind(depth)
	t.history.Append(d)
	t.depths = append(t.depths, depth)
}

func (t *pathTracker) reset() {
	t.history.Truncate(0)
	t.depths = t.depths[:0]
}

// worstCase tracks the highest path cost seen.
type worstCase struct {
	seen   bool
	result PathResult
}

// observe compares r with the paths seen before. worst reports whether its
// cost is at least every earlier cost, so ties count as worst cases. raised
// reports whether it is the first path or strictly costlier than all others.
func (w *worstCase) observe(r PathResult) (worst, raised bool) {
	if w.seen && r.Cost < w.result.Cost {
		return false, false
	}
	raised = !w.seen || r.Cost > w.result.Cost
	w.seen = true
	w.result = r
	return true, raised
}
