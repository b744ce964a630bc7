// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package fitting

// Sample is one observed (input size, cost) pair.
type Sample struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// SampleSet is an ordered collection of samples.
type SampleSet []Sample

// XY splits the set into parallel slices.
func (s SampleSet) XY() (xs, ys []float64) {
	xs = make([]float64, len(s))
	ys = make([]float64, len(s))
	for i, p := range s {
		xs[i] = p.X
		ys[i] = p.Y
	}
	return xs, ys
}

// Series is a named list of points, either raw samples or predictions.
type Series struct {
	Name   string   `json:"name"`
	Points []Sample `json:"points"`
}

// ModelSeries pairs a fitted model with its prediction series.
type ModelSeries struct {
	Series
	Model *Model `json:"-"`
}

// Result is the output of one fit: the raw samples followed by one series
// per successfully fitted model, in family order.
type Result struct {
	Raw    Series        `json:"raw"`
	Models []ModelSeries `json:"models"`
}

// Best returns the fitted model with the highest R². Ties keep the model
// earlier in family order.
func (r *Result) Best() (ModelSeries, bool) {
	var best ModelSeries
	found := false
	for _, m := range r.Models {
		if !found || m.Model.RSquared() > best.Model.RSquared() {
			best = m
			found = true
		}
	}
	return best, found
}

// Series returns every series, raw first.
func (r *Result) Series() []Series {
	out := make([]Series, 0, len(r.Models)+1)
	out = append(out, r.Raw)
	for _, m := range r.Models {
		out = append(out, m.Series)
	}
	return out
}
