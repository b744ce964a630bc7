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
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/AleutianAI/worstcase/services/worstcase/explore"
	"github.com/AleutianAI/worstcase/services/worstcase/fitting"
	"github.com/AleutianAI/worstcase/services/worstcase/heuristic"
	"github.com/AleutianAI/worstcase/services/worstcase/policy"
	"github.com/AleutianAI/worstcase/services/worstcase/samples"
)

const (
	modeRecord = "record"
	modeGuided = "guided"
)

type exploreResult struct {
	Program    string               `json:"program"`
	Mode       string               `json:"mode"`
	Target     string               `json:"target"`
	Statistics heuristic.Statistics `json:"statistics"`
	Counters   explore.Counters     `json:"counters"`
	Terminated bool                 `json:"terminated"`
	Worst      *fitting.Sample      `json:"worst,omitempty"`
	PolicyFile string               `json:"policy_file,omitempty"`

	// Accepted counts the outcomes a guided run followed, per site.
	Accepted map[string]policy.Multiset `json:"accepted,omitempty"`
}

// observer is what both exploration modes hand to the engine.
type observer interface {
	heuristic.Listener
	Statistics() heuristic.Statistics
	Worst() (heuristic.PathResult, bool)
}

func newExploreCmd(a *app) *cobra.Command {
	var (
		mode         string
		recordSample bool
	)
	cmd := &cobra.Command{
		Use:   "explore <program.yaml>",
		Short: "Explore a scripted program in record or guided mode",
		Long: `Explore every path of a scripted decision tree.

In record mode the decisions of worst-case paths are learned into a policy
saved under policy_output_path. In guided mode the policy found under
policy_input_path prunes choices that disagree with it, and the
termination strategy decides when to stop.

The worst (input size, cost) pair is stored in the sample store under the
measured methods joined by "+", unless --record-sample=false.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			start := time.Now()
			result, err := a.explore(cmd.Context(), args[0], mode, recordSample)
			if result != nil && !a.jsonOutput {
				// Statistics are printed even when the run failed.
				fmt.Fprint(a.stdout, result.Statistics.String())
			}
			if err != nil {
				if result != nil {
					return &CommandError{Command: "explore", Wrapped: err, Data: result}
				}
				return commandError("explore", err)
			}
			if a.jsonOutput {
				return OutputResult(a.stdout, true, "explore", start, result)
			}
			printExploreSummary(a, result)
			return nil
		},
	}
	cmd.Flags().StringVar(&mode, "mode", modeRecord, "exploration mode: record or guided")
	cmd.Flags().BoolVar(&recordSample, "record-sample", true, "store the worst path's cost in the sample store")
	return cmd
}

// explore runs one exploration. The result is non-nil once the engine has
// run, even if persisting its outcome failed.
func (a *app) explore(ctx context.Context, programPath, mode string, recordSample bool) (*exploreResult, error) {
	program, err := explore.LoadProgram(programPath)
	if err != nil {
		return nil, err
	}
	methods := program.MeasuredMethods
	if len(a.cfg.MeasuredMethods) > 0 {
		methods = a.cfg.MeasuredMethods
	}
	logger := a.slogger().With(slog.String("program", program.Name), slog.String("mode", mode))

	var (
		obs    observer
		gen    *heuristic.PolicyGenerator
		online *policy.Online
	)
	switch mode {
	case modeRecord:
		if err := a.cfg.EnsureOutputDirs(); err != nil {
			return nil, err
		}
		gen = heuristic.NewPolicyGenerator(heuristic.GeneratorConfig{
			MeasuredMethods: methods,
			HistorySize:     a.cfg.HistorySize,
			Store:           policy.NewStore(a.cfg.PolicyOutputPath, logger),
			Unify:           a.cfg.UnifyPolicies,
			Logger:          logger,
		})
		obs = gen
	case modeGuided:
		term, err := a.cfg.Termination()
		if err != nil {
			return nil, err
		}
		guided, err := heuristic.LoadHeuristicObserver(ctx,
			policy.NewStore(a.cfg.PolicyInput(), logger), methods,
			heuristic.ObserverConfig{
				EnablePolicies: a.cfg.EnablePolicies,
				Termination:    term,
				Logger:         logger,
			})
		if err != nil {
			return nil, err
		}
		online, _ = guided.Resolver().(*policy.Online)
		obs = guided
	default:
		return nil, fmt.Errorf("unknown mode %q (want %s or %s)", mode, modeRecord, modeGuided)
	}

	engine := explore.NewEngine(program, obs, logger)
	runErr := engine.Run(ctx)

	result := &exploreResult{
		Program:    programPath,
		Mode:       mode,
		Target:     sampleTarget(methods),
		Statistics: obs.Statistics(),
		Counters:   engine.Counters(),
		Terminated: engine.Terminated(),
	}
	if online != nil {
		result.Accepted = make(map[string]policy.Multiset)
		for _, id := range online.AcceptedSites() {
			result.Accepted[id] = online.Accepted(id)
		}
	}
	if gen != nil {
		result.PolicyFile = gen.SavedPath()
		if err := gen.Err(); err != nil && runErr == nil {
			runErr = err
		}
	}
	if runErr != nil {
		return result, runErr
	}

	if worst, ok := obs.Worst(); ok {
		sample := fitting.Sample{X: worst.InputSize, Y: worst.Cost}
		result.Worst = &sample
		if recordSample {
			if err := a.storeSample(ctx, result.Target, sample); err != nil {
				return result, err
			}
		}
	}
	return result, nil
}

func (a *app) storeSample(ctx context.Context, target string, sample fitting.Sample) error {
	store, err := a.openSamples()
	if err != nil {
		return err
	}
	defer store.Close()
	_, err = store.Put(ctx, target, sample)
	return err
}

func (a *app) openSamples() (*samples.Store, error) {
	cfg := samples.DefaultConfig(a.cfg.SamplesPath)
	cfg.Logger = a.slogger()
	return samples.Open(cfg)
}

// sampleTarget names the sample series of a measured-method set.
func sampleTarget(methods []string) string {
	return strings.Join(methods, "+")
}

func printExploreSummary(a *app, r *exploreResult) {
	fmt.Fprintf(a.stdout, "Explored %s (%s): %d states, %d end states, %d purged\n",
		r.Program, r.Mode, r.Counters.States, r.Counters.EndStates, r.Counters.Purged)
	if r.Terminated {
		fmt.Fprintln(a.stdout, "Terminated early by the termination strategy")
	}
	if r.Worst != nil {
		fmt.Fprintf(a.stdout, "Worst case: input size %g, cost %g\n", r.Worst.X, r.Worst.Y)
	}
	if r.PolicyFile != "" {
		fmt.Fprintf(a.stdout, "Policy written to %s\n", r.PolicyFile)
	}
	if len(r.Accepted) > 0 {
		fmt.Fprintln(a.stdout, "Accepted outcomes:")
		ids := make([]string, 0, len(r.Accepted))
		for id := range r.Accepted {
			ids = append(ids, id)
		}
		sort.Strings(ids)
		for _, id := range ids {
			fmt.Fprintf(a.stdout, "  %s %s\n", id, formatMultiset(r.Accepted[id]))
		}
	}
}
