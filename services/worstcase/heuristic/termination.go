// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package heuristic

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// ErrInvalidTermination indicates a termination strategy that cannot be parsed.
var ErrInvalidTermination = errors.New("invalid termination strategy")

// Termination decides when a guided exploration should stop.
//
// The set of strategies is closed: Never, FixedCount, *Timeout and AnyOf.
type Termination interface {
	// Start marks the beginning of the exploration.
	Start(now time.Time)

	// Terminate reports whether the exploration should stop now.
	Terminate(stats Statistics) bool

	String() string

	isTermination()
}

// =============================================================================
// Never
// =============================================================================

// Never never stops the exploration early. It is the default.
type Never struct{}

func (Never) Start(time.Time) {}
func (Never) Terminate(Statistics) bool { return false }
func (Never) String() string { return "never" }
func (Never) isTermination() {}

// =============================================================================
// FixedCount
// =============================================================================

// FixedCount stops after N new worst cases were observed.
type FixedCount struct {
	N int64
}

func (FixedCount) Start(time.Time) {}

// Terminate reports whether at least N worst cases were seen.
func (f FixedCount) Terminate(stats Statistics) bool {
	return stats.WorstCases >= f.N
}

func (f FixedCount) String() string { return "fixed:" + strconv.FormatInt(f.N, 10) }
func (FixedCount) isTermination() {}

// =============================================================================
// Timeout
// =============================================================================

// Timeout stops once Limit of wall-clock time has passed since Start.
type Timeout struct {
	Limit time.Duration

	start time.Time
	now   func() time.Time
}

// NewTimeout creates a timeout that starts counting now.
func NewTimeout(limit time.Duration) *Timeout {
	return &Timeout{Limit: limit, start: time.Now(), now: time.Now}
}

// Start resets the reference time.
func (t *Timeout) Start(now time.Time) {
	t.start = now
}

// Terminate reports whether the limit has elapsed.
func (t *Timeout) Terminate(Statistics) bool {
	if t.start.IsZero() {
		t.start = t.clock()
	}
	return t.Elapsed() >= t.Limit
}

// Elapsed returns the time since Start.
func (t *Timeout) Elapsed() time.Duration {
	return t.clock().Sub(t.start)
}

func (t *Timeout) clock() time.Time {
	if t.now != nil {
		return t.now()
	}
	return time.Now()
}

func (t *Timeout) String() string { return "timeout:" + t.Limit.String() }
func (*Timeout) isTermination() {}

// =============================================================================
// AnyOf
// =============================================================================

// AnyOf stops when any child strategy stops.
type AnyOf struct {
	Children []Termination
}

// Start starts every child.
func (a AnyOf) Start(now time.Time) {
	for _, c := range a.Children {
		c.Start(now)
	}
}

// Terminate evaluates every child; children are not short-circuited so that
// stateful children observe each call.
func (a AnyOf) Terminate(stats Statistics) bool {
	stop := false
	for _, c := range a.Children {
		if c.Terminate(stats) {
			stop = true
		}
	}
	return stop
}

func (a AnyOf) String() string {
	parts := make([]string, len(a.Children))
	for i, c := range a.Children {
		parts[i] = c.String()
	}
	return "any(" + strings.Join(parts, ",") + ")"
}

func (AnyOf) isTermination() {}

// =============================================================================
// Parsing
// =============================================================================

// ParseTermination parses a termination strategy.
//
// # Description
//
// Accepted forms (case-insensitive names):
//
//	never
//	fixed:<n>
//	timeout:<milliseconds> | timeout:<go duration>
//	any(<strategy>,<strategy>,...)
//
// Qualified names such as "heuristic.NeverTerminate" or
// "wcanalysis.heuristic.FixedCount:10" are accepted by their last dotted
// segment. The empty string parses to Never.
//
// # Outputs
//
//   - Termination: The parsed strategy.
//   - error: ErrInvalidTermination describing the problem.
func ParseTermination(spec string) (Termination, error) {
	spec = strings.TrimSpace(spec)
	if spec == "" {
		return Never{}, nil
	}

	name, arg, hasArg := spec, "", false
	if i := strings.IndexAny(spec, ":("); i >= 0 {
		name, arg, hasArg = spec[:i], spec[i:], true
	}
	if j := strings.LastIndex(name, "."); j >= 0 {
		name = name[j+1:]
	}
	name = strings.ToLower(strings.TrimSpace(name))

	switch name {
	case "never", "neverterminate":
		if hasArg {
			return nil, fmt.Errorf("%q takes no argument: %w", spec, ErrInvalidTermination)
		}
		return Never{}, nil

	case "fixed", "fixedcount":
		v, err := colonArg(spec, arg)
		if err != nil {
			return nil, err
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 1 {
			return nil, fmt.Errorf("%q: count must be a positive integer: %w", spec, ErrInvalidTermination)
		}
		return FixedCount{N: n}, nil

	case "timeout":
		v, err := colonArg(spec, arg)
		if err != nil {
			return nil, err
		}
		d, err := parseLimit(v)
		if err != nil {
			return nil, fmt.Errorf("%q: %v: %w", spec, err, ErrInvalidTermination)
		}
		return NewTimeout(d), nil

	case "any", "anyof":
		if !strings.HasPrefix(arg, "(") || !strings.HasSuffix(arg, ")") {
			return nil, fmt.Errorf("%q: expected any(...): %w", spec, ErrInvalidTermination)
		}
		parts, err := splitTopLevel(arg[1 : len(arg)-1])
		if err != nil {
			return nil, fmt.Errorf("%q: %v: %w", spec, err, ErrInvalidTermination)
		}
		children := make([]Termination, 0, len(parts))
		for _, p := range parts {
			c, err := ParseTermination(p)
			if err != nil {
				return nil, err
			}
			children = append(children, c)
		}
		if len(children) == 0 {
			return nil, fmt.Errorf("%q: no strategies: %w", spec, ErrInvalidTermination)
		}
		return AnyOf{Children: children}, nil
	}
	return nil, fmt.Errorf("unknown strategy %q: %w", spec, ErrInvalidTermination)
}

func colonArg(spec, arg string) (string, error) {
	if !strings.HasPrefix(arg, ":") || len(arg) == 1 {
		return "", fmt.Errorf("%q: missing argument: %w", spec, ErrInvalidTermination)
	}
	return strings.TrimSpace(arg[1:]), nil
}

// parseLimit accepts a bare millisecond count or a Go duration.
func parseLimit(v string) (time.Duration, error) {
	if ms, err := strconv.ParseInt(v, 10, 64); err == nil {
		if ms <= 0 {
			return 0, fmt.Errorf("timeout must be positive")
		}
		return time.Duration(ms) * time.Millisecond, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, err
	}
	if d <= 0 {
		return 0, fmt.Errorf("timeout must be positive")
	}
	return d, nil
}

// splitTopLevel splits s at commas outside parentheses.
func splitTopLevel(s string) ([]string, error) {
	var (
		parts []string
		depth int
		start int
	)
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return nil, fmt.Errorf("unbalanced parentheses")
			}
		case ',':
			if depth == 0 {
				parts = append(parts, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	if depth != 0 {
		return nil, fmt.Errorf("unbalanced parentheses")
	}
	if last := strings.TrimSpace(s[start:]); last != "" || len(parts) > 0 {
		parts = append(parts, last)
	}
	for _, p := range parts {
		if p == "" {
			return nil, fmt.Errorf("empty strategy")
		}
	}
	return parts, nil
}
