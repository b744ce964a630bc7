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

	"github.com/AleutianAI/worstcase/services/worstcase/path"
)

// Online wraps a policy and counts the outcomes a guided search accepted.
//
// It implements Resolver and ChoiceObserver. The counts show which parts
// of the policy the host actually followed and can seed a refined policy.
type Online struct {
	*Policy
	accepted map[string]Multiset
}

// NewOnline wraps p.
func NewOnline(p *Policy) *Online {
	return &Online{Policy: p, accepted: make(map[string]Multiset)}
}

// ChoiceMade counts an accepted outcome.
func (o *Online) ChoiceMade(site path.Site, outcome int) {
	m, ok := o.accepted[site.ID]
	if !ok {
		m = Multiset{}
		o.accepted[site.ID] = m
	}
	m.Add(outcome, 1)
}

// Accepted returns the accepted outcome counts at a site.
func (o *Online) Accepted(siteID string) Multiset {
	return o.accepted[siteID].Clone()
}

// AcceptedSites returns the sites with accepted outcomes in sorted order.
func (o *Online) AcceptedSites() []string {
	ids := make([]string, 0, len(o.accepted))
	for id := range o.accepted {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

var (
	_ Resolver       = (*Online)(nil)
	_ ChoiceObserver = (*Online)(nil)
)
