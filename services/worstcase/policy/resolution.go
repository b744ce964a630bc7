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
	"fmt"

	"github.com/AleutianAI/worstcase/services/worstcase/path"
)

// ResolutionKind tags the verdict of a policy for one choice point.
type ResolutionKind int

const (
	// NewChoice means the policy has no information about the site.
	NewChoice ResolutionKind = iota

	// Unresolved means the site is known but nothing constrains this history.
	Unresolved

	// Perfect means the history entry admits exactly one outcome.
	Perfect

	// History means the history entry admits several outcomes and the most
	// frequent one was picked.
	History

	// Invariant means no history entry matched and the site-wide fallback
	// picked the dominant outcome.
	Invariant
)

// String returns the upper-case name of the kind.
func (k ResolutionKind) String() string {
	switch k {
	case NewChoice:
		return "NEW_CHOICE"
	case Unresolved:
		return "UNRESOLVED"
	case Perfect:
		return "PERFECT"
	case History:
		return "HISTORY"
	case Invariant:
		return "INVARIANT"
	default:
		return "UNKNOWN"
	}
}

// Resolved reports whether the kind carries an outcome the host must follow.
func (k ResolutionKind) Resolved() bool {
	return k == Perfect || k == History || k == Invariant
}

// Resolution is the verdict returned per choice point.
//
// Outcome is meaningful only when Kind.Resolved() is true. Total is the
// total count of the multiset the verdict was taken from.
type Resolution struct {
	Kind    ResolutionKind `json:"kind"`
	Outcome int            `json:"outcome"`
	Total   int64          `json:"total"`
}

// String renders the resolution for logs.
func (r Resolution) String() string {
	if !r.Kind.Resolved() {
		return r.Kind.String()
	}
	return fmt.Sprintf("%s(%d/%d)", r.Kind, r.Outcome, r.Total)
}

// Resolver is anything that can resolve a choice point.
//
// *Policy implements it. The guided observer only depends on this interface.
type Resolver interface {
	Resolve(siteID string, history *path.History) Resolution
}

// ChoiceObserver is an optional interest of a Resolver. When implemented, the
// guided observer reports every outcome the host was allowed to take.
type ChoiceObserver interface {
	ChoiceMade(site path.Site, outcome int)
}
