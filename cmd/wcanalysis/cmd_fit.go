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
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sort"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/worstcase/services/worstcase/fitting"
)

type fitModelSummary struct {
	Kind         string    `json:"kind"`
	Function     string    `json:"function"`
	RSquared     float64   `json:"r_squared"`
	Coefficients []float64 `json:"coefficients"`
}

type fitSummary struct {
	Name    string            `json:"name"`
	Samples int               `json:"samples"`
	Models  []fitModelSummary `json:"models"`
	Best    string            `json:"best,omitempty"`
	Files   []string          `json:"files"`
}

type fitOptions struct {
	csvPath string
	target  string
	all     bool
	horizon int
	outDir  string
	models  []string
}

func newFitCmd(a *app) *cobra.Command {
	var opts fitOptions
	cmd := &cobra.Command{
		Use:   "fit (--csv <file> | --target <name> | --all)",
		Short: "Fit trend models to worst-case cost samples",
		Long: `Fit the trend-model family to (input size, cost) samples.

Samples come from a CSV file with an "x,y" header or from the sample
store. Each fitted model is extrapolated to prediction_horizon points and
written as CSV under visualization_output_path, one file per model plus
raw.csv. Models that cannot be fitted to the data are skipped.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			start := time.Now()
			summaries, err := a.fit(cmd.Context(), opts)
			if err != nil {
				return commandError("fit", err)
			}
			if a.jsonOutput {
				return OutputResult(a.stdout, true, "fit", start, summaries)
			}
			for _, s := range summaries {
				printFitSummary(a, s)
			}
			return nil
		},
	}
	flags := cmd.Flags()
	flags.StringVar(&opts.csvPath, "csv", "", "CSV file of samples")
	flags.StringVar(&opts.target, "target", "", "sample store target to fit")
	flags.BoolVar(&opts.all, "all", false, "fit every target in the sample store")
	flags.IntVar(&opts.horizon, "horizon", 0, "number of predicted points (default prediction_horizon)")
	flags.StringVar(&opts.outDir, "out", "", "output directory (default visualization_output_path)")
	flags.StringSliceVar(&opts.models, "models", nil, "models to fit, e.g. poly1,log (default all)")
	cmd.MarkFlagsMutuallyExclusive("csv", "target", "all")
	cmd.MarkFlagsOneRequired("csv", "target", "all")
	return cmd
}

func (a *app) fit(ctx context.Context, opts fitOptions) ([]fitSummary, error) {
	kinds := make([]fitting.Kind, 0, len(opts.models))
	for _, name := range opts.models {
		k, err := fitting.ParseKind(name)
		if err != nil {
			return nil, err
		}
		kinds = append(kinds, k)
	}
	horizon := opts.horizon
	if horizon == 0 {
		horizon = a.cfg.PredictionHorizon
	}
	outDir := opts.outDir
	if outDir == "" {
		outDir = a.cfg.VisualizationOutputPath
	}

	sets, err := a.fitInputs(ctx, opts)
	if err != nil {
		return nil, err
	}

	fitter := fitting.NewFitter(a.slogger(), kinds...)
	results, err := fitter.FitAll(ctx, sets, horizon)
	if err != nil {
		return nil, err
	}

	names := make([]string, 0, len(results))
	for name := range results {
		names = append(names, name)
	}
	sort.Strings(names)

	summaries := make([]fitSummary, 0, len(names))
	for _, name := range names {
		r := results[name]
		dir := outDir
		if len(names) > 1 || opts.all {
			dir = filepath.Join(outDir, name)
		}
		files, err := fitting.WriteResultCSV(dir, r)
		if err != nil {
			return nil, err
		}
		s := fitSummary{Name: name, Samples: len(r.Raw.Points), Files: files}
		for _, ms := range r.Models {
			s.Models = append(s.Models, fitModelSummary{
				Kind:         ms.Model.Kind().String(),
				Function:     ms.Model.Function(),
				RSquared:     ms.Model.RSquared(),
				Coefficients: ms.Model.Coefficients(),
			})
		}
		if best, ok := r.Best(); ok {
			s.Best = best.Name
		}
		summaries = append(summaries, s)
	}
	return summaries, nil
}

// fitInputs collects the named sample sets selected by opts.
func (a *app) fitInputs(ctx context.Context, opts fitOptions) (map[string]fitting.SampleSet, error) {
	if opts.csvPath != "" {
		set, err := fitting.ReadSamplesFile(opts.csvPath)
		if err != nil {
			return nil, err
		}
		name := filepath.Base(opts.csvPath)
		name = name[:len(name)-len(filepath.Ext(name))]
		return map[string]fitting.SampleSet{name: set}, nil
	}

	store, err := a.openSamples()
	if err != nil {
		return nil, err
	}
	defer store.Close()

	targets := []string{opts.target}
	if opts.all {
		if targets, err = store.Targets(ctx); err != nil {
			return nil, err
		}
		if len(targets) == 0 {
			return nil, errors.New("sample store is empty")
		}
	}

	sets := make(map[string]fitting.SampleSet, len(targets))
	for _, t := range targets {
		set, err := store.Load(ctx, t)
		if err != nil {
			return nil, err
		}
		sets[t] = set
	}
	return sets, nil
}

func printFitSummary(a *app, s fitSummary) {
	fmt.Fprintf(a.stdout, "%s (%d samples)\n", s.Name, s.Samples)
	for _, m := range s.Models {
		fmt.Fprintf(a.stdout, "  %-6s %s (r^2=%.4f)\n", m.Kind, m.Function, m.RSquared)
	}
	if s.Best != "" {
		fmt.Fprintf(a.stdout, "  best: %s\n", s.Best)
	}
	if len(s.Files) > 0 {
		fmt.Fprintf(a.stdout, "  series written to %s\n", filepath.Dir(s.Files[0]))
	}
}
