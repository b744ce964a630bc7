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

	"github.com/AleutianAI/worstcase/services/worstcase/fitting"
)

type importResult struct {
	Target  string `json:"target"`
	Read    int    `json:"read"`
	Updated int    `json:"updated"`
}

func newSamplesCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "samples",
		Short: "Manage the worst-case cost sample store",
		Long: `Manage the sample store at samples_path.

The store keeps, per target, the highest cost observed for each input
size. Explorations add to it; fit --target reads from it.`,
	}
	cmd.AddCommand(
		newSamplesListCmd(a),
		newSamplesShowCmd(a),
		newSamplesImportCmd(a),
		newSamplesDeleteCmd(a),
	)
	return cmd
}

func newSamplesListCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List sample targets",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			start := time.Now()
			store, err := a.openSamples()
			if err != nil {
				return commandError("samples list", err)
			}
			defer store.Close()

			targets, err := store.Targets(cmd.Context())
			if err != nil {
				return commandError("samples list", err)
			}
			if a.jsonOutput {
				return OutputResult(a.stdout, true, "samples list", start, targets)
			}
			for _, t := range targets {
				fmt.Fprintln(a.stdout, t)
			}
			return nil
		},
	}
}

func newSamplesShowCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "show <target>",
		Short: "Print the samples of a target as CSV",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			start := time.Now()
			store, err := a.openSamples()
			if err != nil {
				return commandError("samples show", err)
			}
			defer store.Close()

			set, err := store.Load(cmd.Context(), args[0])
			if err != nil {
				return commandError("samples show", err)
			}
			if a.jsonOutput {
				return OutputResult(a.stdout, true, "samples show", start, set)
			}
			return fitting.WriteCSV(a.stdout, set)
		},
	}
}

func newSamplesImportCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "import <target> <file.csv>",
		Short: "Add samples from a CSV file, keeping the worst cost per input size",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			start := time.Now()
			set, err := fitting.ReadSamplesFile(args[1])
			if err != nil {
				return commandError("samples import", err)
			}
			store, err := a.openSamples()
			if err != nil {
				return commandError("samples import", err)
			}
			defer store.Close()

			result := importResult{Target: args[0], Read: len(set)}
			for _, s := range set {
				updated, err := store.Put(cmd.Context(), args[0], s)
				if err != nil {
					return commandError("samples import", err)
				}
				if updated {
					result.Updated++
				}
			}
			if a.jsonOutput {
				return OutputResult(a.stdout, true, "samples import", start, result)
			}
			fmt.Fprintf(a.stdout, "Imported %d samples into %s (%d updated)\n",
				result.Read, result.Target, result.Updated)
			return nil
		},
	}
}

func newSamplesDeleteCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "delete <target>",
		Short: "Delete every sample of a target",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			store, err := a.openSamples()
			if err != nil {
				return commandError("samples delete", err)
			}
			defer store.Close()

			if err := store.Delete(cmd.Context(), args[0]); err != nil {
				return commandError("samples delete", err)
			}
			if !a.jsonOutput {
				fmt.Fprintf(a.stdout, "Deleted samples of %s\n", args[0])
			}
			return nil
		},
	}
}
