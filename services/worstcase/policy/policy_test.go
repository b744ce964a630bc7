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
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/worstcase/services/worstcase/path"
)

func d(site string, outcome int) path.Decision {
	return path.Decision{SiteID: site, Outcome: outcome}
}

func TestMultiset_Argmax(t *testing.T) {
	tests := []struct {
		name    string
		m       Multiset
		want    int
		wantOK  bool
		wantTot int64
	}{
		{name: "empty", m: Multiset{}, wantOK: false},
		{name: "single", m: Multiset{2: 4}, want: 2, wantOK: true, wantTot: 4},
		{name: "clear winner", m: Multiset{0: 2, 1: 10}, want: 1, wantOK: true, wantTot: 12},
		{name: "tie picks lowest", m: Multiset{3: 3, 1: 3, 2: 1}, want: 1, wantOK: true, wantTot: 7},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, ok := tt.m.Argmax()
			assert.Equal(t, tt.wantOK, ok)
			if ok {
				assert.Equal(t, tt.want, got)
			}
			assert.Equal(t, tt.wantTot, tt.m.Total())
		})
	}
}

func TestMultiset_AddIgnoresNonPositive(t *testing.T) {
	m := Multiset{}
	m.Add(1, 0)
	m.Add(2, -3)
	assert.Empty(t, m)

	m.Add(1, 2)
	m.Merge(Multiset{1: 1, 4: 5})
	assert.Equal(t, Multiset{1: 3, 4: 5}, m)
	assert.Equal(t, []int{1, 4}, m.Outcomes())

	c := m.Clone()
	c.Add(1, 1)
	assert.Equal(t, int64(3), m.Count(1))
}

func TestNew_NormalizesMethods(t *testing.T) {
	p := New([]string{"b.run", "a.sort", "b.run"}, -1)
	assert.Equal(t, []string{"a.sort", "b.run"}, p.MeasuredMethods())
	assert.Equal(t, 0, p.K())
	assert.Equal(t, "a.sortb.run", p.Key())
	assert.True(t, p.Matches([]string{"b.run", "a.sort"}))
	assert.False(t, p.Matches([]string{"a.sort"}))
}

func TestRegister_WidensArity(t *testing.T) {
	p := New([]string{"m"}, 1)
	p.Register(path.Site{ID: "A", Arity: 2})
	p.Register(path.Site{ID: "A", Arity: 4})
	p.Register(path.Site{ID: "A", Arity: 3})
	p.Register(path.Site{ID: "Z", Arity: 0})

	assert.Equal(t, 4, p.Site("A").Site.Arity)
	assert.Equal(t, 1, p.Site("Z").Site.Arity)
	assert.Equal(t, []string{"A", "Z"}, p.SiteIDs())
}

func TestRecord(t *testing.T) {
	t.Run("unknown site", func(t *testing.T) {
		p := New([]string{"m"}, 1)
		err := p.Record("A", path.NewHistory(), 0)
		require.ErrorIs(t, err, ErrUnknownSite)
	})

	t.Run("full history updates entry and fallback", func(t *testing.T) {
		p := New([]string{"m"}, 2)
		p.Register(path.Site{ID: "A", Arity: 2})
		h := path.NewHistory(d("X", 1), d("B", 0), d("C", 1))

		require.NoError(t, p.Record("A", h, 1))
		require.NoError(t, p.Record("A", h, 1))

		b := p.Site("A")
		assert.Equal(t, Multiset{1: 2}, b.Fallback)
		entry := b.Histories[path.SuffixKey([]path.Decision{d("B", 0), d("C", 1)})]
		require.NotNil(t, entry)
		assert.Equal(t, Multiset{1: 2}, entry.Counts)
		require.NoError(t, p.Validate())
	})

	t.Run("short history only updates fallback", func(t *testing.T) {
		p := New([]string{"m"}, 3)
		p.Register(path.Site{ID: "A", Arity: 2})
		require.NoError(t, p.Record("A", path.NewHistory(d("B", 0)), 0))

		assert.Equal(t, Multiset{0: 1}, p.Site("A").Fallback)
		assert.Empty(t, p.Site("A").Histories)
	})

	t.Run("illegal outcomes are clamped", func(t *testing.T) {
		p := New([]string{"m"}, 0)
		p.Register(path.Site{ID: "A", Arity: 3})
		require.NoError(t, p.Record("A", path.NewHistory(), 7))
		require.NoError(t, p.Record("A", path.NewHistory(), -2))

		assert.Equal(t, Multiset{0: 1, 2: 1}, p.Site("A").Fallback)
		require.NoError(t, p.Validate())
	})
}

func TestResolve_Scenarios(t *testing.T) {
	bc := []path.Decision{d("B", 0), d("C", 1)}

	t.Run("unknown site is a new choice", func(t *testing.T) {
		p := New([]string{"m"}, 2)
		r := p.Resolve("A", path.NewHistory(bc...))
		assert.Equal(t, NewChoice, r.Kind)
		assert.Zero(t, r.Total)
	})

	t.Run("perfect resolution", func(t *testing.T) {
		p := New([]string{"m"}, 2)
		p.Register(path.Site{ID: "A", Arity: 2})
		p.setHistory("A", bc, Multiset{0: 5})

		r := p.Resolve("A", path.NewHistory(bc...))
		assert.Equal(t, Perfect, r.Kind)
		assert.Equal(t, 0, r.Outcome)
		assert.Equal(t, int64(5), r.Total)
	})

	t.Run("history tie picks lowest index", func(t *testing.T) {
		p := New([]string{"m"}, 2)
		p.Register(path.Site{ID: "A", Arity: 2})
		p.setHistory("A", bc, Multiset{0: 3, 1: 3})

		r := p.Resolve("A", path.NewHistory(bc...))
		assert.Equal(t, History, r.Kind)
		assert.Equal(t, 0, r.Outcome)
		assert.Equal(t, int64(6), r.Total)
	})

	t.Run("invariant fallback", func(t *testing.T) {
		p := New([]string{"m"}, 2)
		p.Register(path.Site{ID: "A", Arity: 2})
		p.Site("A").Fallback = Multiset{1: 10, 0: 2}

		r := p.Resolve("A", path.NewHistory(d("Q", 0), d("R", 0)))
		assert.Equal(t, Invariant, r.Kind)
		assert.Equal(t, 1, r.Outcome)
		assert.Equal(t, int64(12), r.Total)
	})

	t.Run("known site without counts is unresolved", func(t *testing.T) {
		p := New([]string{"m"}, 2)
		p.Register(path.Site{ID: "A", Arity: 2})
		r := p.Resolve("A", path.NewHistory(bc...))
		assert.Equal(t, Unresolved, r.Kind)
	})
}

func TestResolve_ShortHistoryFallsThrough(t *testing.T) {
	p := New([]string{"m"}, 2)
	p.Register(path.Site{ID: "A", Arity: 2})
	// An entry whose key equals the suffix of a short history must not match.
	p.setHistory("A", []path.Decision{d("C", 1)}, Multiset{0: 9})

	short := path.NewHistory(d("C", 1))
	assert.Equal(t, Unresolved, p.Resolve("A", short).Kind)

	p.Site("A").Fallback.Add(1, 1)
	r := p.Resolve("A", short)
	assert.Equal(t, Invariant, r.Kind)
	assert.Equal(t, 1, r.Outcome)
}

func TestResolve_NeverIllegal(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	sites := []path.Site{{ID: "A", Arity: 2}, {ID: "B", Arity: 3}, {ID: "C", Arity: 1}}

	for k := 0; k <= 3; k++ {
		p := New([]string{"m"}, k)
		for _, s := range sites {
			p.Register(s)
		}
		h := path.NewHistory()
		for i := 0; i < 300; i++ {
			s := sites[rng.Intn(len(sites))]
			require.NoError(t, p.Record(s.ID, h, rng.Intn(5)-1))
			h.Append(d(s.ID, rng.Intn(s.Arity)))
			if rng.Intn(4) == 0 {
				h.Truncate(rng.Intn(h.Len() + 1))
			}
		}
		require.NoError(t, p.Validate())

		for i := 0; i < 300; i++ {
			s := sites[rng.Intn(len(sites))]
			r := p.Resolve(s.ID, h)
			if r.Kind.Resolved() {
				assert.True(t, s.Legal(r.Outcome), "k=%d site %s outcome %d", k, s, r.Outcome)
			}
			h.Append(d(s.ID, rng.Intn(s.Arity)))
		}
	}
}

func recorded(t *testing.T, seed int64) *Policy {
	t.Helper()
	rng := rand.New(rand.NewSource(seed))
	p := New([]string{"Sort.run", "Sort.partition"}, 2)
	ids := []string{"A", "B", "C", "D"}
	for i, id := range ids {
		p.Register(path.Site{ID: id, Arity: 2 + i%2})
	}
	for run := 0; run < 20; run++ {
		h := path.NewHistory()
		for step := 0; step < 6; step++ {
			id := ids[rng.Intn(len(ids))]
			o := rng.Intn(p.Site(id).Site.Arity)
			require.NoError(t, p.Record(id, h, o))
			h.Append(d(id, o))
		}
	}
	return p
}

func TestUnify_Commutative(t *testing.T) {
	p, q := recorded(t, 1), recorded(t, 2)

	pq, err := Unify(p, q)
	require.NoError(t, err)
	qp, err := Unify(q, p)
	require.NoError(t, err)

	assert.Equal(t, Marshal(pq), Marshal(qp))
	for _, id := range pq.SiteIDs() {
		assert.Equal(t, pq.Site(id).Fallback, qp.Site(id).Fallback)
		assert.Equal(t,
			p.Site(id).Fallback.Total()+q.Site(id).Fallback.Total(),
			pq.Site(id).Fallback.Total())
	}
	require.NoError(t, pq.Validate())
}

func TestUnify_Associative(t *testing.T) {
	p, q, r := recorded(t, 3), recorded(t, 4), recorded(t, 5)

	left, err := Unify(p, q)
	require.NoError(t, err)
	left, err = Unify(left, r)
	require.NoError(t, err)

	right, err := Unify(q, r)
	require.NoError(t, err)
	right, err = Unify(p, right)
	require.NoError(t, err)

	assert.Equal(t, Marshal(left), Marshal(right))
}

func TestUnify_DoesNotMutateInputs(t *testing.T) {
	p, q := recorded(t, 6), recorded(t, 7)
	before := Marshal(p)
	_, err := Unify(p, q)
	require.NoError(t, err)
	assert.Equal(t, before, Marshal(p))
}

func TestUnify_Incompatible(t *testing.T) {
	tests := []struct {
		name string
		q    *Policy
	}{
		{name: "different k", q: New([]string{"m"}, 3)},
		{name: "different methods", q: New([]string{"n"}, 2)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Unify(New([]string{"m"}, 2), tt.q)
			require.ErrorIs(t, err, ErrIncompatible)
		})
	}
}

func TestMerge_WidensArity(t *testing.T) {
	p := New([]string{"m"}, 0)
	p.Register(path.Site{ID: "A", Arity: 2})
	q := New([]string{"m"}, 0)
	q.Register(path.Site{ID: "A", Arity: 3})
	require.NoError(t, q.Record("A", path.NewHistory(), 2))

	require.NoError(t, p.Merge(q))
	assert.Equal(t, 3, p.Site("A").Site.Arity)
	assert.Equal(t, Multiset{2: 1}, p.Site("A").Fallback)
	require.NoError(t, p.Validate())
}

func TestValidate_Violations(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(p *Policy)
	}{
		{
			name:   "illegal fallback outcome",
			mutate: func(p *Policy) { p.Site("A").Fallback[5] = 1 },
		},
		{
			name:   "zero count",
			mutate: func(p *Policy) { p.Site("A").Fallback[0] = 0 },
		},
		{
			name:   "suffix length differs from k",
			mutate: func(p *Policy) { p.setHistory("A", []path.Decision{d("B", 0)}, Multiset{0: 1}) },
		},
		{
			name: "history exceeds fallback",
			mutate: func(p *Policy) {
				p.setHistory("A", []path.Decision{d("B", 0), d("C", 0)}, Multiset{1: 99})
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := New([]string{"m"}, 2)
			p.Register(path.Site{ID: "A", Arity: 2})
			require.NoError(t, p.Record("A", path.NewHistory(d("B", 0), d("C", 0)), 1))
			require.NoError(t, p.Validate())

			tt.mutate(p)
			require.ErrorIs(t, p.Validate(), ErrInvalidPolicy)
		})
	}
}

func TestResolution_String(t *testing.T) {
	assert.Equal(t, "NEW_CHOICE", Resolution{Kind: NewChoice}.String())
	assert.Equal(t, "HISTORY(1/6)", Resolution{Kind: History, Outcome: 1, Total: 6}.String())
	assert.True(t, Invariant.Resolved())
	assert.False(t, Unresolved.Resolved())
}
