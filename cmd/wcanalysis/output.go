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
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"
)

// Exit codes for CLI commands.
const (
	CLIExitSuccess = 0 // Operation completed successfully
	CLIExitError   = 2 // Operation failed
)

// CommandResult wraps command output with metadata in --json mode.
type CommandResult struct {
	APIVersion string    `json:"api_version"`
	Command    string    `json:"command"`
	Timestamp  time.Time `json:"timestamp"`
	DurationMs int64     `json:"duration_ms"`
	Success    bool      `json:"success"`
	Data       any       `json:"data,omitempty"`
	Error      string    `json:"error,omitempty"`
}

// CommandError carries the failing command name alongside the cause. Data,
// when set, is the partial result reported with the error in JSON mode.
//
// # Example
//
//	err := &CommandError{Command: "unify", Wrapped: policy.ErrIncompatible}
//	fmt.Println(err) // "unify: policy: incompatible policies"
type CommandError struct {
	Command string
	Wrapped error
	Data    any
}

func (e *CommandError) Error() string {
	return fmt.Sprintf("%s: %v", e.Command, e.Wrapped)
}

// Unwrap enables errors.Is() and errors.As() through the chain.
func (e *CommandError) Unwrap() error {
	return e.Wrapped
}

func commandError(command string, err error) error {
	if err == nil {
		return nil
	}
	return &CommandError{Command: command, Wrapped: err}
}

// OutputJSON writes data as JSON.
//
// # Inputs
//
//   - w: Destination, normally stdout.
//   - data: The data to encode. Must be JSON-serializable.
//   - compact: If true, output without indentation.
//
// # Outputs
//
//   - error: Non-nil if encoding fails.
func OutputJSON(w io.Writer, data any, compact bool) error {
	encoder := json.NewEncoder(w)
	if !compact {
		encoder.SetIndent("", "  ")
	}
	return encoder.Encode(data)
}

// OutputResult writes a successful command's data in JSON mode. In text
// mode commands print for themselves and nothing is written here.
func OutputResult(w io.Writer, jsonMode bool, command string, start time.Time, data any) error {
	if !jsonMode {
		return nil
	}
	return OutputJSON(w, CommandResult{
		APIVersion: "1.0",
		Command:    command,
		Timestamp:  time.Now(),
		DurationMs: time.Since(start).Milliseconds(),
		Success:    true,
		Data:       data,
	}, false)
}

// OutputError writes err to stdout as a JSON result in JSON mode, or as
// a one-line diagnostic to stderr otherwise. It returns the exit code.
func OutputError(stdout, stderr io.Writer, jsonMode bool, err error) int {
	var (
		command string
		data    any
	)
	var cmdErr *CommandError
	if errors.As(err, &cmdErr) {
		command = cmdErr.Command
		data = cmdErr.Data
	}
	if jsonMode {
		_ = OutputJSON(stdout, CommandResult{
			APIVersion: "1.0",
			Command:    command,
			Timestamp:  time.Now(),
			Success:    false,
			Data:       data,
			Error:      err.Error(),
		}, false)
		return CLIExitError
	}
	fmt.Fprintf(stderr, "Error: %v\n", err)
	return CLIExitError
}
