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

// scriptedSearch is a hand-driven host for replaying event sequences.
type scriptedSearch struct {
	depth      int
	end        bool
	ignored    bool
	terminated bool
	l          Listener
}

func newScriptedSearch(l Listener) *scriptedSearch {
	return &scriptedSearch{l: l}
}

func (s *scriptedSearch) Depth() int { return s.depth }
func (s *scriptedSearch) IsEndState() bool { return s.end }
func (s *scriptedSearch) SetIgnored(ignored bool) { s.ignored = ignored }
func (s *scriptedSearch) Terminate() { s.terminated = true }

// choose advances choice at site and enters the child state unless the
// listener ignored it. It reports whether the child was entered.
func (s *scriptedSearch) choose(site path.Site, choice int) bool {
	s.l.ChoiceAdvanced(s, ChoicePoint{Site: site, Choice: choice, PathCondition: true})
	if s.ignored {
		s.ignored = false
		s.l.StatePurged(s)
		return false
	}
	s.depth++
	s.l.StateAdvanced(s)
	return true
}

// chooseLeaf is choose for a child that completes the path with result.
func (s *scriptedSearch) chooseLeaf(site path.Site, choice int, result PathResult) bool {
	s.l.ChoiceAdvanced(s, ChoicePoint{Site: site, Choice: choice, PathCondition: true})
	if s.ignored {
		s.ignored = false
		s.l.StatePurged(s)
		return false
	}
	s.depth++
	s.end = true
	s.l.EndState(s, result)
	s.l.StateAdvanced(s)
	s.end = false
	return true
}

func (s *scriptedSearch) backtrack() {
	s.depth--
	s.l.StateBacktracked(s)
}
