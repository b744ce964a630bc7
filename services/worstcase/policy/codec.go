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
	"bytes"
	"errors"
	"fmt"
	"io"
	"math"

	"google.golang.org/protobuf/encoding/protowire"

	"github.com/AleutianAI/worstcase/services/worstcase/path"
)

// =============================================================================
// Wire Format
// =============================================================================
//
// A policy file is the magic bytes followed by one protobuf-wire message.
// Every field is tagged, so readers can skip fields they do not know.
//
//	policy    = 1:version 2:k 3:method* 4:num_sites 5:site*
//	site      = 1:id 2:arity 3:fallback(multiset) 4:num_histories 5:history*
//	history   = 1:decision* 2:counts(multiset)
//	decision  = 1:site_id 2:outcome
//	multiset  = 1:num_pairs 2:pair*
//	pair      = 1:outcome 2:count
//
// The encoding is canonical: methods, sites, histories and pairs are
// written in sorted order and every field is always present.

// Magic prefixes every encoded policy.
const Magic = "WCAPOL"

// FormatVersion is the version written by Marshal.
const FormatVersion = 1

// maxCollection bounds declared element counts so a corrupt header cannot
// request an absurd allocation.
const maxCollection = 1 << 24

// Marshal returns the canonical encoding of p.
func Marshal(p *Policy) []byte {
	b := []byte(Magic)
	b = appendVarintField(b, 1, FormatVersion)
	b = appendVarintField(b, 2, uint64(p.k))
	for _, m := range p.methods {
		b = protowire.AppendTag(b, 3, protowire.BytesType)
		b = protowire.AppendString(b, m)
	}
	ids := p.SiteIDs()
	b = appendVarintField(b, 4, uint64(len(ids)))
	for _, id := range ids {
		b = protowire.AppendTag(b, 5, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalSite(p.sites[id]))
	}
	return b
}

// Encode writes the canonical encoding of p to w.
func Encode(w io.Writer, p *Policy) error {
	if _, err := w.Write(Marshal(p)); err != nil {
		return fmt.Errorf("write policy: %w", errors.Join(ErrIO, err))
	}
	return nil
}

func marshalSite(site *BranchPolicy) []byte {
	var b []byte
	b = protowire.AppendTag(b, 1, protowire.BytesType)
	b = protowire.AppendString(b, site.Site.ID)
	b = appendVarintField(b, 2, uint64(site.Site.Arity))
	b = protowire.AppendTag(b, 3, protowire.BytesType)
	b = protowire.AppendBytes(b, marshalMultiset(site.Fallback))
	keys := site.HistoryKeys()
	b = appendVarintField(b, 4, uint64(len(keys)))
	for _, key := range keys {
		b = protowire.AppendTag(b, 5, protowire.BytesType)
		b = protowire.AppendBytes(b, marshalHistory(site.Histories[key]))
	}
	return b
}

func marshalHistory(entry *HistoryEntry) []byte {
	var b []byte
	for _, d := range entry.Suffix {
		var db []byte
		db = protowire.AppendTag(db, 1, protowire.BytesType)
		db = protowire.AppendString(db, d.SiteID)
		db = appendVarintField(db, 2, uint64(d.Outcome))
		b = protowire.AppendTag(b, 1, protowire.BytesType)
		b = protowire.AppendBytes(b, db)
	}
	b = protowire.AppendTag(b, 2, protowire.BytesType)
	b = protowire.AppendBytes(b, marshalMultiset(entry.Counts))
	return b
}

func marshalMultiset(m Multiset) []byte {
	outcomes := m.Outcomes()
	b := appendVarintField(nil, 1, uint64(len(outcomes)))
	for _, o := range outcomes {
		var pb []byte
		pb = appendVarintField(pb, 1, uint64(o))
		pb = appendVarintField(pb, 2, uint64(m[o]))
		b = protowire.AppendTag(b, 2, protowire.BytesType)
		b = protowire.AppendBytes(b, pb)
	}
	return b
}

func appendVarintField(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// =============================================================================
// Decoding
// =============================================================================

// Unmarshal decodes a policy and checks its invariants.
//
// # Outputs
//
//   - *Policy: The decoded policy.
//   - error: ErrCorruptPolicy if the bytes are malformed, of an unknown
//     version, or describe a policy that fails Validate.
func Unmarshal(data []byte) (*Policy, error) {
	if !bytes.HasPrefix(data, []byte(Magic)) {
		return nil, fmt.Errorf("missing magic header: %w", ErrCorruptPolicy)
	}

	var (
		version  uint64
		k        uint64
		methods  []string
		numSites uint64
		sites    []*BranchPolicy
	)
	err := walkFields(data[len(Magic):], func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == 1 && typ == protowire.VarintType:
			return consumeVarint(b, &version)
		case num == 2 && typ == protowire.VarintType:
			return consumeVarint(b, &k)
		case num == 3 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			methods = append(methods, v)
			return n, nil
		case num == 4 && typ == protowire.VarintType:
			return consumeVarint(b, &numSites)
		case num == 5 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			site, err := unmarshalSite(v)
			if err != nil {
				return 0, err
			}
			sites = append(sites, site)
			return n, nil
		}
		return skipField(num, typ, b)
	})
	if err != nil {
		return nil, corrupt(err)
	}

	if version != FormatVersion {
		return nil, fmt.Errorf("unsupported version %d: %w", version, ErrCorruptPolicy)
	}
	if k > math.MaxInt32 {
		return nil, fmt.Errorf("history bound %d out of range: %w", k, ErrCorruptPolicy)
	}
	if numSites != uint64(len(sites)) {
		return nil, fmt.Errorf("declared %d sites, found %d: %w", numSites, len(sites), ErrCorruptPolicy)
	}

	p := New(methods, int(k))
	for _, site := range sites {
		if _, dup := p.sites[site.Site.ID]; dup {
			return nil, fmt.Errorf("duplicate site %q: %w", site.Site.ID, ErrCorruptPolicy)
		}
		p.sites[site.Site.ID] = site
	}
	if err := p.Validate(); err != nil {
		return nil, fmt.Errorf("%v: %w", err, ErrCorruptPolicy)
	}
	return p, nil
}

// Decode reads a whole policy from r.
func Decode(r io.Reader) (*Policy, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("read policy: %w", errors.Join(ErrIO, err))
	}
	return Unmarshal(data)
}

func unmarshalSite(data []byte) (*BranchPolicy, error) {
	var (
		id       string
		arity    uint64
		fallback Multiset
		numHist  uint64
		entries  []*HistoryEntry
	)
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			id = v
			return n, nil
		case num == 2 && typ == protowire.VarintType:
			return consumeVarint(b, &arity)
		case num == 3 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			m, err := unmarshalMultiset(v)
			if err != nil {
				return 0, err
			}
			fallback = m
			return n, nil
		case num == 4 && typ == protowire.VarintType:
			return consumeVarint(b, &numHist)
		case num == 5 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			entry, err := unmarshalHistory(v)
			if err != nil {
				return 0, err
			}
			entries = append(entries, entry)
			return n, nil
		}
		return skipField(num, typ, b)
	})
	if err != nil {
		return nil, err
	}
	if arity < 1 || arity > maxCollection {
		return nil, fmt.Errorf("site %q arity %d out of range", id, arity)
	}
	if numHist != uint64(len(entries)) {
		return nil, fmt.Errorf("site %q declared %d histories, found %d", id, numHist, len(entries))
	}
	if fallback == nil {
		fallback = Multiset{}
	}

	site := newBranchPolicy(path.Site{ID: id, Arity: int(arity)})
	site.Fallback = fallback
	for _, entry := range entries {
		key := path.SuffixKey(entry.Suffix)
		if _, dup := site.Histories[key]; dup {
			return nil, fmt.Errorf("site %q duplicate history %s", id, key)
		}
		site.Histories[key] = entry
	}
	return site, nil
}

func unmarshalHistory(data []byte) (*HistoryEntry, error) {
	entry := &HistoryEntry{Suffix: []path.Decision{}}
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			d, err := unmarshalDecision(v)
			if err != nil {
				return 0, err
			}
			entry.Suffix = append(entry.Suffix, d)
			return n, nil
		case num == 2 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			m, err := unmarshalMultiset(v)
			if err != nil {
				return 0, err
			}
			entry.Counts = m
			return n, nil
		}
		return skipField(num, typ, b)
	})
	if err != nil {
		return nil, err
	}
	if entry.Counts == nil {
		entry.Counts = Multiset{}
	}
	return entry, nil
}

func unmarshalDecision(data []byte) (path.Decision, error) {
	var (
		d       path.Decision
		outcome uint64
	)
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == 1 && typ == protowire.BytesType:
			v, n := protowire.ConsumeString(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			d.SiteID = v
			return n, nil
		case num == 2 && typ == protowire.VarintType:
			return consumeVarint(b, &outcome)
		}
		return skipField(num, typ, b)
	})
	if err != nil {
		return d, err
	}
	if outcome > maxCollection {
		return d, fmt.Errorf("decision outcome %d out of range", outcome)
	}
	d.Outcome = int(outcome)
	return d, nil
}

func unmarshalMultiset(data []byte) (Multiset, error) {
	var numPairs uint64
	m := Multiset{}
	pairs := 0
	err := walkFields(data, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == 1 && typ == protowire.VarintType:
			return consumeVarint(b, &numPairs)
		case num == 2 && typ == protowire.BytesType:
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, protowire.ParseError(n)
			}
			var outcome, count uint64
			err := walkFields(v, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
				switch {
				case num == 1 && typ == protowire.VarintType:
					return consumeVarint(b, &outcome)
				case num == 2 && typ == protowire.VarintType:
					return consumeVarint(b, &count)
				}
				return skipField(num, typ, b)
			})
			if err != nil {
				return 0, err
			}
			if outcome > maxCollection || count == 0 || count > math.MaxInt64 {
				return 0, fmt.Errorf("pair (%d, %d) out of range", outcome, count)
			}
			if _, dup := m[int(outcome)]; dup {
				return 0, fmt.Errorf("duplicate outcome %d", outcome)
			}
			m[int(outcome)] = int64(count)
			pairs++
			return n, nil
		}
		return skipField(num, typ, b)
	})
	if err != nil {
		return nil, err
	}
	if numPairs != uint64(pairs) {
		return nil, fmt.Errorf("declared %d pairs, found %d", numPairs, pairs)
	}
	return m, nil
}

// walkFields calls fn for every field of a message. fn consumes the field
// value and returns its length.
func walkFields(b []byte, fn func(num protowire.Number, typ protowire.Type, b []byte) (int, error)) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		m, err := fn(num, typ, b)
		if err != nil {
			return err
		}
		b = b[m:]
	}
	return nil
}

func consumeVarint(b []byte, dst *uint64) (int, error) {
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	*dst = v
	return n, nil
}

func skipField(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
	n := protowire.ConsumeFieldValue(num, typ, b)
	if n < 0 {
		return 0, protowire.ParseError(n)
	}
	return n, nil
}

func corrupt(err error) error {
	return fmt.Errorf("%v: %w", err, ErrCorruptPolicy)
}
