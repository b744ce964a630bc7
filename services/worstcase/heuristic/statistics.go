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
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/worstcase/services/worstcase/policy"
)

// Statistics counts what an observer saw during one exploration.
//
// The resolved variants (Perfect, History, Invariant) count only choices
// that caused a state to be ignored; a resolution that agreed with the host
// is not counted. NewChoices and Unresolved count every occurrence.
type Statistics struct {
	NewChoices     int64 `json:"new_choices"`
	Unresolved     int64 `json:"unresolved"`
	Perfect        int64 `json:"perfect"`
	History        int64 `json:"history"`
	Invariant      int64 `json:"invariant"`
	Ignored        int64 `json:"ignored"`
	WorstCases     int64 `json:"worst_cases"`
	Paths          int64 `json:"paths"`
	Exceptions     int64 `json:"exceptions"`
	ConstraintsHit int64 `json:"constraints_hit"`
}

// count tallies one resolution.
func (s *Statistics) count(kind policy.ResolutionKind, ignored bool) {
	if ignored {
		s.Ignored++
	}
	switch kind {
	case policy.NewChoice:
		s.NewChoices++
	case policy.Unresolved:
		s.Unresolved++
	case policy.Perfect:
		if ignored {
			s.Perfect++
		}
	case policy.History:
		if ignored {
			s.History++
		}
	case policy.Invariant:
		if ignored {
			s.Invariant++
		}
	}
}

// String renders the statistics block printed at the end of a run.
func (s Statistics) String() string {
	var sb strings.Builder
	sb.WriteString("Heuristic statistics:\n")
	fmt.Fprintf(&sb, "  NEW_CHOICE:       %d\n", s.NewChoices)
	fmt.Fprintf(&sb, "  UNRESOLVED:       %d\n", s.Unresolved)
	fmt.Fprintf(&sb, "  PERFECT:          %d\n", s.Perfect)
	fmt.Fprintf(&sb, "  HISTORY:          %d\n", s.History)
	fmt.Fprintf(&sb, "  INVARIANT:        %d\n", s.Invariant)
	fmt.Fprintf(&sb, "  ignored states:   %d\n", s.Ignored)
	fmt.Fprintf(&sb, "  worst cases:      %d\n", s.WorstCases)
	fmt.Fprintf(&sb, "  paths:            %d\n", s.Paths)
	fmt.Fprintf(&sb, "  exceptions:       %d\n", s.Exceptions)
	fmt.Fprintf(&sb, "  constraints hit:  %d\n", s.ConstraintsHit)
	return sb.String()
}

// LogValue implements slog.LogValuer.
func (s Statistics) LogValue() slog.Value {
	return slog.GroupValue(
		slog.Int64("new_choices", s.NewChoices),
		slog.Int64("unresolved", s.Unresolved),
		slog.Int64("perfect", s.Perfect),
		slog.Int64("history", s.History),
		slog.Int64("invariant", s.Invariant),
		slog.Int64("ignored", s.Ignored),
		slog.Int64("worst_cases", s.WorstCases),
		slog.Int64("paths", s.Paths),
		slog.Int64("exceptions", s.Exceptions),
		slog.Int64("constraints_hit", s.ConstraintsHit),
	)
}
