// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package policy learns, stores and resolves branch policies.
//
// A Policy maps each branch site to the outcomes observed on high-cost
// paths, keyed by the last K decisions that led to the site. Policies from
// independent runs over the same measured methods and K unify by adding
// counts, so several explorations compose into stronger guidance.
//
// # Thread Safety
//
// Policy is NOT safe for concurrent mutation. Concurrent Resolve calls on a
// policy nobody mutates are safe.
package policy

import (
	"fmt"
	"slices"
	"sort"
	"strings"

	"github.com/AleutianAI/worstcase/services/worstcase/path"
)

// HistoryEntry holds the outcome counts recorded under one history suffix.
type HistoryEntry struct {
	Suffix []path.Decision
	Counts Multiset
}

// BranchPolicy is the policy of one branch site.
type BranchPolicy struct {
	Site      path.Site
	Fallback  Multiset
	Histories map[string]*HistoryEntry
}

func newBranchPolicy(site path.Site) *BranchPolicy {
	return &BranchPolicy{
		Site:      site,
		Fallback:  Multiset{},
		Histories: make(map[string]*HistoryEntry),
	}
}

// HistoryKeys returns the history keys in canonical (sorted) order.
func (b *BranchPolicy) HistoryKeys() []string {
	keys := make([]string, 0, len(b.Histories))
	for k := range b.Histories {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func (b *BranchPolicy) record(suffix []path.Decision, withHistory bool, outcome int) {
	b.Fallback.Add(outcome, 1)
	if !withHistory {
		return
	}
	key := path.SuffixKey(suffix)
	entry, ok := b.Histories[key]
	if !ok {
		entry = &HistoryEntry{Suffix: suffix, Counts: Multiset{}}
		b.Histories[key] = entry
	}
	entry.Counts.Add(outcome, 1)
}

func (b *BranchPolicy) merge(other *BranchPolicy) {
	if other.Site.Arity > b.Site.Arity {
		b.Site.Arity = other.Site.Arity
	}
	b.Fallback.Merge(other.Fallback)
	for key, oe := range other.Histories {
		entry, ok := b.Histories[key]
		if !ok {
			entry = &HistoryEntry{Suffix: slices.Clone(oe.Suffix), Counts: Multiset{}}
			b.Histories[key] = entry
		}
		entry.Counts.Merge(oe.Counts)
	}
}

func (b *BranchPolicy) clone() *BranchPolicy {
	out := newBranchPolicy(b.Site)
	out.merge(b)
	return out
}

// Policy maps branch sites to branch policies for a set of measured methods.
type Policy struct {
	methods []string
	k       int
	sites   map[string]*BranchPolicy
}

// New creates an empty policy.
//
// # Inputs
//
//   - methods: Measured method names. Sorted and de-duplicated.
//   - k: History bound; negative values are treated as 0.
//
// # Outputs
//
//   - *Policy: Empty policy ready for Register/Record.
func New(methods []string, k int) *Policy {
	if k < 0 {
		k = 0
	}
	ms := slices.Clone(methods)
	sort.Strings(ms)
	ms = slices.Compact(ms)
	return &Policy{
		methods: ms,
		k:       k,
		sites:   make(map[string]*BranchPolicy),
	}
}

// MeasuredMethods returns a copy of the sorted measured-method set.
func (p *Policy) MeasuredMethods() []string {
	return slices.Clone(p.methods)
}

// K returns the history bound.
func (p *Policy) K() int {
	return p.k
}

// Key returns the deterministic concatenation of the measured methods.
func (p *Policy) Key() string {
	return strings.Join(p.methods, "")
}

// Matches reports whether the policy applies to exactly the given methods.
func (p *Policy) Matches(methods []string) bool {
	return slices.Equal(p.methods, New(methods, 0).methods)
}

// Compatible reports whether p and other may be unified.
func (p *Policy) Compatible(other *Policy) bool {
	return p.k == other.k && slices.Equal(p.methods, other.methods)
}

// Register declares a branch site.
//
// Registering a known site again widens its arity to the larger value.
func (p *Policy) Register(site path.Site) {
	if site.Arity < 1 {
		site.Arity = 1
	}
	if b, ok := p.sites[site.ID]; ok {
		if site.Arity > b.Site.Arity {
			b.Site.Arity = site.Arity
		}
		return
	}
	p.sites[site.ID] = newBranchPolicy(site)
}

// Site returns the branch policy of a site, or nil.
func (p *Policy) Site(id string) *BranchPolicy {
	return p.sites[id]
}

// SiteIDs returns the registered site ids in sorted order.
func (p *Policy) SiteIDs() []string {
	ids := make([]string, 0, len(p.sites))
	for id := range p.sites {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// NumSites returns the number of registered sites.
func (p *Policy) NumSites() int {
	return len(p.sites)
}

// NumHistories returns the number of history entries across all sites.
func (p *Policy) NumHistories() int {
	n := 0
	for _, b := range p.sites {
		n += len(b.Histories)
	}
	return n
}

// Record counts outcome at siteID under the current history.
//
// # Description
//
// The site-wide fallback is always incremented. The entry for the last K
// decisions is incremented only when the history holds at least K
// decisions, so a shorter history never produces a history match later.
// Outcomes outside the site's legal range are clamped into it.
//
// # Outputs
//
//   - error: ErrUnknownSite if the site was never registered.
func (p *Policy) Record(siteID string, history *path.History, outcome int) error {
	b, ok := p.sites[siteID]
	if !ok {
		return fmt.Errorf("record %q: %w", siteID, ErrUnknownSite)
	}
	outcome = clamp(outcome, b.Site.Arity)
	full := history.Len() >= p.k
	b.record(history.Suffix(p.k), full, outcome)
	return nil
}

// Resolve returns the policy's verdict for siteID under the current history.
func (p *Policy) Resolve(siteID string, history *path.History) Resolution {
	b, ok := p.sites[siteID]
	if !ok {
		return Resolution{Kind: NewChoice}
	}

	if history.Len() >= p.k {
		if entry, ok := b.Histories[path.SuffixKey(history.Suffix(p.k))]; ok && len(entry.Counts) > 0 {
			outcome, _ := entry.Counts.Argmax()
			kind := History
			if len(entry.Counts) == 1 {
				kind = Perfect
			}
			return Resolution{Kind: kind, Outcome: outcome, Total: entry.Counts.Total()}
		}
	}

	if outcome, ok := b.Fallback.Argmax(); ok {
		return Resolution{Kind: Invariant, Outcome: outcome, Total: b.Fallback.Total()}
	}
	return Resolution{Kind: Unresolved}
}

// Merge adds every count of other into p.
//
// # Outputs
//
//   - error: ErrIncompatible if the policies differ in methods or K.
func (p *Policy) Merge(other *Policy) error {
	if !p.Compatible(other) {
		return fmt.Errorf("merge k=%d %v with k=%d %v: %w",
			p.k, p.methods, other.k, other.methods, ErrIncompatible)
	}
	for id, ob := range other.sites {
		b, ok := p.sites[id]
		if !ok {
			p.sites[id] = ob.clone()
			continue
		}
		b.merge(ob)
	}
	return nil
}

// Clone returns a deep copy.
func (p *Policy) Clone() *Policy {
	out := New(p.methods, p.k)
	for id, b := range p.sites {
		out.sites[id] = b.clone()
	}
	return out
}

// Unify returns a new policy holding the pointwise sum of p and q.
//
// Neither input is modified. Unify is commutative and associative.
func Unify(p, q *Policy) (*Policy, error) {
	out := p.Clone()
	if err := out.Merge(q); err != nil {
		return nil, err
	}
	return out, nil
}

// Validate checks the internal invariants.
//
// # Description
//
// Every count is positive, every outcome is legal for its site, every
// history suffix has exactly K decisions, and the fallback of a site counts
// each outcome at least as often as any single history entry does.
//
// # Outputs
//
//   - error: ErrInvalidPolicy describing the first violation.
func (p *Policy) Validate() error {
	for _, id := range p.SiteIDs() {
		b := p.sites[id]
		if b.Site.ID != id {
			return fmt.Errorf("site %q stored under %q: %w", b.Site.ID, id, ErrInvalidPolicy)
		}
		if err := validateMultiset(b.Site, b.Fallback); err != nil {
			return fmt.Errorf("site %q fallback: %w", id, err)
		}
		for _, key := range b.HistoryKeys() {
			entry := b.Histories[key]
			if len(entry.Suffix) != p.k {
				return fmt.Errorf("site %q history of length %d, want %d: %w",
					id, len(entry.Suffix), p.k, ErrInvalidPolicy)
			}
			if path.SuffixKey(entry.Suffix) != key {
				return fmt.Errorf("site %q history key mismatch: %w", id, ErrInvalidPolicy)
			}
			if err := validateMultiset(b.Site, entry.Counts); err != nil {
				return fmt.Errorf("site %q history: %w", id, err)
			}
			for o, c := range entry.Counts {
				if b.Fallback.Count(o) < c {
					return fmt.Errorf("site %q outcome %d: history count %d exceeds fallback %d: %w",
						id, o, c, b.Fallback.Count(o), ErrInvalidPolicy)
				}
			}
		}
	}
	return nil
}

// String summarises the policy for logs.
func (p *Policy) String() string {
	return fmt.Sprintf("policy{methods=%v k=%d sites=%d histories=%d}",
		p.methods, p.k, p.NumSites(), p.NumHistories())
}

func validateMultiset(site path.Site, m Multiset) error {
	for o, c := range m {
		if !site.Legal(o) {
			return fmt.Errorf("illegal outcome %d for arity %d: %w", o, site.Arity, ErrInvalidPolicy)
		}
		if c <= 0 {
			return fmt.Errorf("non-positive count %d for outcome %d: %w", c, o, ErrInvalidPolicy)
		}
	}
	return nil
}

// setHistory installs counts under suffix at a registered site, replacing any
// previous entry. The fallback is left untouched.
func (p *Policy) setHistory(siteID string, suffix []path.Decision, counts Multiset) {
	b := p.sites[siteID]
	b.Histories[path.SuffixKey(suffix)] = &HistoryEntry{Suffix: slices.Clone(suffix), Counts: counts}
}

func clamp(outcome, arity int) int {
	if outcome < 0 || arity <= 0 {
		return 0
	}
	if outcome >= arity {
		return arity - 1
	}
	return outcome
}
