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

	"github.com/AleutianAI/worstcase/services/worstcase/policy"
)

type unifyResult struct {
	Output          string   `json:"output"`
	Inputs          []string `json:"inputs"`
	MeasuredMethods []string `json:"measured_methods"`
	K               int      `json:"k"`
	Sites           int      `json:"sites"`
	Histories       int      `json:"histories"`
}

func newUnifyCmd(a *app) *cobra.Command {
	var output string
	cmd := &cobra.Command{
		Use:   "unify -o <output.pol> <input.pol>...",
		Short: "Merge policy files learned from separate explorations",
		Long: `Merge policy files by summing their outcome counts.

All inputs must have the same measured methods and history size. The
output may be one of the inputs; it is replaced atomically.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			start := time.Now()
			p, err := policy.UnifyFiles(cmd.Context(), args, output, a.slogger())
			if err != nil {
				return commandError("unify", err)
			}

			result := unifyResult{
				Output:          output,
				Inputs:          args,
				MeasuredMethods: p.MeasuredMethods(),
				K:               p.K(),
				Sites:           p.NumSites(),
				Histories:       p.NumHistories(),
			}
			if a.jsonOutput {
				return OutputResult(a.stdout, true, "unify", start, result)
			}
			fmt.Fprintf(a.stdout, "Unified %d policies into %s (%d sites, %d histories)\n",
				len(args), output, result.Sites, result.Histories)
			return nil
		},
	}
	cmd.Flags().StringVarP(&output, "output", "o", "", "unified policy file")
	_ = cmd.MarkFlagRequired("output")
	return cmd
}
