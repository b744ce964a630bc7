// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package path models branch sites and the decision history of the path
// currently being explored.
//
// A History only ever grows at its tail and shrinks from its tail, mirroring
// the depth-first discipline of the host search. Policies key their entries
// on the last k decisions, see History.Suffix and SuffixKey.
package path

import (
	"fmt"
	"strconv"
	"strings"
)

// Site identifies a conditional program point.
//
// ID is the host's stable instruction identifier. The legal outcomes of the
// site are the choice indices 0..Arity-1.
type Site struct {
	ID    string `json:"id" yaml:"id"`
	Arity int    `json:"arity" yaml:"arity"`
}

// Legal reports whether outcome is a choice index the site can produce.
func (s Site) Legal(outcome int) bool {
	return outcome >= 0 && outcome < s.Arity
}

// String returns "id/arity".
func (s Site) String() string {
	return s.ID + "/" + strconv.Itoa(s.Arity)
}

// Decision is one (site, outcome) pair taken on a path.
type Decision struct {
	SiteID  string `json:"site_id"`
	Outcome int    `json:"outcome"`
}

// String returns "site#outcome".
func (d Decision) String() string {
	return d.SiteID + "#" + strconv.Itoa(d.Outcome)
}

// History is the ordered sequence of decisions on the current path.
//
// # Description
//
// Supports append-at-tail, pop-at-tail (on backtrack) and reading the
// last k decisions. The zero value is an empty, ready-to-use history.
//
// # Thread Safety
//
// NOT safe for concurrent use; the host delivers events from one goroutine.
type History struct {
	decisions []Decision
}

// NewHistory creates a history holding the given decisions in order.
func NewHistory(decisions ...Decision) *History {
	h := &History{}
	h.decisions = append(h.decisions, decisions...)
	return h
}

// Append adds a decision at the tail.
func (h *History) Append(d Decision) {
	h.decisions = append(h.decisions, d)
}

// Pop removes and returns the tail decision.
//
// # Outputs
//
//   - Decision: The removed decision.
//   - bool: False if the history was empty.
func (h *History) Pop() (Decision, bool) {
	if len(h.decisions) == 0 {
		return Decision{}, false
	}
	last := h.decisions[len(h.decisions)-1]
	h.decisions = h.decisions[:len(h.decisions)-1]
	return last, true
}

// Truncate drops tail decisions until at most n remain.
func (h *History) Truncate(n int) {
	if n < 0 {
		n = 0
	}
	for len(h.decisions) > n {
		h.Pop()
	}
}

// Len returns the number of decisions.
func (h *History) Len() int {
	if h == nil {
		return 0
	}
	return len(h.decisions)
}

// At returns the i-th decision from the head.
func (h *History) At(i int) Decision {
	return h.decisions[i]
}

// Decisions returns a copy of all decisions from head to tail.
func (h *History) Decisions() []Decision {
	out := make([]Decision, len(h.decisions))
	copy(out, h.decisions)
	return out
}

// Prefix returns a new history holding the first n decisions.
func (h *History) Prefix(n int) *History {
	if n > len(h.decisions) {
		n = len(h.decisions)
	}
	return NewHistory(h.decisions[:n]...)
}

// Suffix returns a copy of the last min(k, Len()) decisions.
func (h *History) Suffix(k int) []Decision {
	if h == nil || k <= 0 {
		return []Decision{}
	}
	start := len(h.decisions) - k
	if start < 0 {
		start = 0
	}
	out := make([]Decision, len(h.decisions)-start)
	copy(out, h.decisions[start:])
	return out
}

// EqualSuffix reports whether the last k decisions of h and other are
// identical, including the site sequence.
//
// Histories shorter than k are equal only if they are entirely equal.
func (h *History) EqualSuffix(other *History, k int) bool {
	a, b := h.Suffix(k), other.Suffix(k)
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// Clone returns an independent copy.
func (h *History) Clone() *History {
	return NewHistory(h.decisions...)
}

// String renders the history as "[a#0 b#1]".
func (h *History) String() string {
	return fmt.Sprint(h.decisions)
}

// SuffixKey returns the canonical map key of a decision sequence.
//
// Site identifiers are length-prefixed so that no choice of identifier can
// make two different sequences collide.
func SuffixKey(decisions []Decision) string {
	var sb strings.Builder
	for _, d := range decisions {
		sb.WriteString(strconv.Itoa(len(d.SiteID)))
		sb.WriteByte(':')
		sb.WriteString(d.SiteID)
		sb.WriteByte('#')
		sb.WriteString(strconv.Itoa(d.Outcome))
		sb.WriteByte(';')
	}
	return sb.String()
}
