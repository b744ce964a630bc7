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
	"sort"
)

// Multiset counts how often each outcome occurred on high-cost completions.
//
// Only positive counts are stored; an outcome with count zero is absent.
type Multiset map[int]int64

// Add increments the count of outcome by n. Non-positive n is ignored.
func (m Multiset) Add(outcome int, n int64) {
	if n <= 0 {
		return
	}
	m[outcome] += n
}

// Count returns the count of outcome.
func (m Multiset) Count(outcome int) int64 {
	return m[outcome]
}

// Total returns the sum of all counts.
func (m Multiset) Total() int64 {
	var total int64
	for _, c := range m {
		total += c
	}
	return total
}

// Outcomes returns the distinct outcomes in ascending order.
func (m Multiset) Outcomes() []int {
	out := make([]int, 0, len(m))
	for o := range m {
		out = append(out, o)
	}
	sort.Ints(out)
	return out
}

// Argmax returns the outcome with the highest count, lowest index on ties.
//
// # Outputs
//
//   - int: The dominant outcome.
//   - bool: False if the multiset is empty.
func (m Multiset) Argmax() (int, bool) {
	best, bestCount, found := 0, int64(0), false
	for _, o := range m.Outcomes() {
		c := m[o]
		if !found || c > bestCount {
			best, bestCount, found = o, c, true
		}
	}
	return best, found
}

// Merge adds every count of other into m.
func (m Multiset) Merge(other Multiset) {
	for o, c := range other {
		m.Add(o, c)
	}
}

// Clone returns an independent copy.
func (m Multiset) Clone() Multiset {
	out := make(Multiset, len(m))
	for o, c := range m {
		out[o] = c
	}
	return out
}
