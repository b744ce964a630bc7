// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/worstcase/services/worstcase/path"
	"github.com/AleutianAI/worstcase/services/worstcase/policy"
)

// PolicySummary is the inspect output for one policy file.
type PolicySummary struct {
	File            string        `json:"file"`
	MeasuredMethods []string      `json:"measured_methods"`
	K               int           `json:"k"`
	Valid           bool          `json:"valid"`
	Problem         string        `json:"problem,omitempty"`
	Histories       int           `json:"histories"`
	Sites           []SiteSummary `json:"sites"`
}

// SiteSummary describes one branch site of a policy.
type SiteSummary struct {
	ID        string           `json:"id"`
	Arity     int              `json:"arity"`
	Fallback  policy.Multiset  `json:"fallback"`
	Dominant  *int             `json:"dominant,omitempty"`
	Histories []HistorySummary `json:"histories,omitempty"`
}

// HistorySummary is one history entry of a site.
type HistorySummary struct {
	Suffix []path.Decision `json:"suffix"`
	Counts policy.Multiset `json:"counts"`
}

func newPolicyCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "policy",
		Short: "Work with policy files",
	}

	var verbose bool
	inspect := &cobra.Command{
		Use:   "inspect <file.pol>",
		Short: "Summarise a policy file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			start := time.Now()
			p, err := policy.ReadFile(args[0])
			if err != nil {
				return commandError("policy inspect", err)
			}
			summary := summarizePolicy(args[0], p)
			if a.jsonOutput {
				return OutputResult(a.stdout, true, "policy inspect", start, summary)
			}
			printPolicySummary(a, summary, verbose)
			return nil
		},
	}
	inspect.Flags().BoolVarP(&verbose, "verbose", "v", false, "list history entries")

	cmd.AddCommand(inspect)
	return cmd
}

func summarizePolicy(file string, p *policy.Policy) PolicySummary {
	s := PolicySummary{
		File:            file,
		MeasuredMethods: p.MeasuredMethods(),
		K:               p.K(),
		Valid:           true,
		Histories:       p.NumHistories(),
		Sites:           make([]SiteSummary, 0, p.NumSites()),
	}
	if err := p.Validate(); err != nil {
		s.Valid = false
		s.Problem = err.Error()
	}
	for _, id := range p.SiteIDs() {
		b := p.Site(id)
		site := SiteSummary{ID: id, Arity: b.Site.Arity, Fallback: b.Fallback}
		if o, ok := b.Fallback.Argmax(); ok {
			site.Dominant = &o
		}
		for _, key := range b.HistoryKeys() {
			e := b.Histories[key]
			site.Histories = append(site.Histories, HistorySummary{Suffix: e.Suffix, Counts: e.Counts})
		}
		s.Sites = append(s.Sites, site)
	}
	return s
}

func printPolicySummary(a *app, s PolicySummary, verbose bool) {
	fmt.Fprintf(a.stdout, "%s\n", s.File)
	fmt.Fprintf(a.stdout, "  measured methods: %v\n", s.MeasuredMethods)
	fmt.Fprintf(a.stdout, "  history size:     %d\n", s.K)
	fmt.Fprintf(a.stdout, "  sites:            %d\n", len(s.Sites))
	fmt.Fprintf(a.stdout, "  histories:        %d\n", s.Histories)
	if !s.Valid {
		fmt.Fprintf(a.stdout, "  INVALID: %s\n", s.Problem)
	}
	for _, site := range s.Sites {
		dominant := "-"
		if site.Dominant != nil {
			dominant = fmt.Sprint(*site.Dominant)
		}
		fmt.Fprintf(a.stdout, "  %s/%d fallback=%s dominant=%s histories=%d\n",
			site.ID, site.Arity, formatMultiset(site.Fallback), dominant, len(site.Histories))
		if !verbose {
			continue
		}
		for _, h := range site.Histories {
			fmt.Fprintf(a.stdout, "    %v -> %s\n", h.Suffix, formatMultiset(h.Counts))
		}
	}
}

func formatMultiset(m policy.Multiset) string {
	out := "{"
	for i, o := range m.Outcomes() {
		if i > 0 {
			out += " "
		}
		out += fmt.Sprintf("%d:%d", o, m.Count(o))
	}
	return out + "}"
}
