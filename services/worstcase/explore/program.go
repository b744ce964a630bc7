// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package explore is a scripted exploration host. It walks a decision tree
// described in YAML depth-first and drives a heuristic.Listener with the
// same events a symbolic executor would emit.
//
// A program looks like:
//
//	name: insertion-sort
//	measured_methods: [Sort.run]
//	input_size: 3
//	root:
//	  site: cmp0
//	  children:
//	    - cost: 2
//	    - site: cmp1
//	      children:
//	        - cost: 3
//	        - exception: "index out of range"
//
// Inner nodes name the branch site whose outcome selects a child; the child
// index is the outcome. Leaves carry the path cost.
package explore

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"
)

// ErrInvalidProgram indicates a program that fails validation.
var ErrInvalidProgram = errors.New("invalid exploration program")

// Node is one state of the decision tree.
type Node struct {
	// Site is the branch site deciding between Children.
	Site string `yaml:"site" validate:"required_with=Children"`

	// Arity defaults to len(Children); it may be larger when some
	// outcomes are infeasible.
	Arity int `yaml:"arity" validate:"gte=0"`

	// PathCondition marks the choice as a path-condition branch. Defaults
	// to true.
	PathCondition *bool `yaml:"path_condition"`

	// Children are the successor states, indexed by outcome.
	Children []*Node `yaml:"children" validate:"omitempty,dive,required"`

	// Cost is the path cost at a leaf.
	Cost float64 `yaml:"cost" validate:"gte=0"`

	// InputSize overrides Program.InputSize at a leaf.
	InputSize *float64 `yaml:"input_size"`

	// Exception terminates the path with an exception event.
	Exception string `yaml:"exception" validate:"excluded_with=Children"`

	// Constraint terminates the path with a constraint-hit event.
	Constraint string `yaml:"constraint" validate:"excluded_with=Children"`
}

// Leaf reports whether the node ends a path.
func (n *Node) Leaf() bool {
	return len(n.Children) == 0
}

func (n *Node) arity() int {
	if n.Arity > len(n.Children) {
		return n.Arity
	}
	return len(n.Children)
}

func (n *Node) pathCondition() bool {
	return n.PathCondition == nil || *n.PathCondition
}

// Program is a scripted exploration.
type Program struct {
	Name            string   `yaml:"name"`
	MeasuredMethods []string `yaml:"measured_methods" validate:"required,min=1,dive,required"`
	InputSize       float64  `yaml:"input_size" validate:"gte=0"`

	// MaxDepth bounds the search; deeper states hit a "depth" constraint.
	// Zero disables the bound.
	MaxDepth int `yaml:"max_depth" validate:"gte=0"`

	Root *Node `yaml:"root" validate:"required"`
}

var programValidator = validator.New()

// Validate checks the program structure.
func (p *Program) Validate() error {
	if err := programValidator.Struct(p); err != nil {
		return fmt.Errorf("%v: %w", err, ErrInvalidProgram)
	}
	return p.Root.walk("root", func(where string, n *Node) error {
		if n.Arity != 0 && n.Arity < len(n.Children) {
			return fmt.Errorf("%s: arity %d < %d children: %w", where, n.Arity, len(n.Children), ErrInvalidProgram)
		}
		if n.Leaf() && n.Exception != "" && n.Constraint != "" {
			return fmt.Errorf("%s: both exception and constraint: %w", where, ErrInvalidProgram)
		}
		return nil
	})
}

func (n *Node) walk(where string, fn func(string, *Node) error) error {
	if err := fn(where, n); err != nil {
		return err
	}
	for i, c := range n.Children {
		if err := c.walk(fmt.Sprintf("%s/%s#%d", where, n.Site, i), fn); err != nil {
			return err
		}
	}
	return nil
}

// Leaves returns the number of leaves in the tree.
func (p *Program) Leaves() int {
	count := 0
	_ = p.Root.walk("root", func(_ string, n *Node) error {
		if n.Leaf() {
			count++
		}
		return nil
	})
	return count
}

// ParseProgram decodes and validates a YAML program.
func ParseProgram(r io.Reader) (*Program, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)

	var p Program
	if err := dec.Decode(&p); err != nil {
		return nil, fmt.Errorf("decoding program: %v: %w", err, ErrInvalidProgram)
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// LoadProgram reads and parses the program at path.
func LoadProgram(path string) (*Program, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening program: %w", err)
	}
	defer f.Close()
	return ParseProgram(f)
}
