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

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"
	"strings"
)

// ErrInvalidCSV indicates a malformed sample CSV.
var ErrInvalidCSV = errors.New("invalid sample csv")

var csvHeader = []string{"x", "y"}

// WriteCSV writes points as "x,y" rows under an "x,y" header.
func WriteCSV(w io.Writer, points []Sample) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, p := range points {
		row := []string{
			strconv.FormatFloat(p.X, 'g', -1, 64),
			strconv.FormatFloat(p.Y, 'g', -1, 64),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// ReadSamplesCSV parses samples written by WriteCSV. The header row is
// optional; blank lines are skipped.
func ReadSamplesCSV(r io.Reader) (SampleSet, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = 2
	cr.TrimLeadingSpace = true

	var out SampleSet
	for line := 1; ; line++ {
		rec, err := cr.Read()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%v: %w", err, ErrInvalidCSV)
		}
		if line == 1 && strings.EqualFold(rec[0], "x") && strings.EqualFold(rec[1], "y") {
			continue
		}
		x, err := strconv.ParseFloat(rec[0], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: x %q: %w", line, rec[0], ErrInvalidCSV)
		}
		y, err := strconv.ParseFloat(rec[1], 64)
		if err != nil {
			return nil, fmt.Errorf("line %d: y %q: %w", line, rec[1], ErrInvalidCSV)
		}
		out = append(out, Sample{X: x, Y: y})
	}
	return out, nil
}

// ReadSamplesFile opens path and parses it with ReadSamplesCSV.
func ReadSamplesFile(path string) (SampleSet, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return ReadSamplesCSV(f)
}

// WriteResultCSV writes one CSV per series into dir: raw.csv for the
// samples and <kind>.csv for each fitted model. It returns the written
// paths in series order.
func WriteResultCSV(dir string, result *Result) ([]string, error) {
	if err := os.MkdirAll(dir, 0750); err != nil {
		return nil, fmt.Errorf("creating visualization dir: %w", err)
	}

	paths := make([]string, 0, len(result.Models)+1)
	write := func(name string, points []Sample) error {
		p := filepath.Join(dir, name+".csv")
		f, err := os.Create(p)
		if err != nil {
			return err
		}
		if err := WriteCSV(f, points); err != nil {
			f.Close()
			return fmt.Errorf("writing %s: %w", p, err)
		}
		if err := f.Close(); err != nil {
			return err
		}
		paths = append(paths, p)
		return nil
	}

	if err := write("raw", result.Raw.Points); err != nil {
		return paths, err
	}
	for _, m := range result.Models {
		if err := write(m.Model.Kind().String(), m.Points); err != nil {
			return paths, err
		}
	}
	return paths, nil
}
