// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides input validation for names that end up in
// file paths.
//
// Measured-method names come from the analysed program and routinely contain
// characters such as '/', '(' and ';' (JVM-style descriptors). They are
// concatenated into policy file names, so they must be checked and made
// filesystem-safe before use.
package validation

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// MaxFileStem is the longest file stem kept before an extension is added.
const MaxFileStem = 251

// truncatedStem is the stem length used once a name exceeds MaxFileStem.
const truncatedStem = 250

// ValidateMeasuredMethod checks a single measured-method name.
//
// Valid names are non-empty, valid UTF-8, and contain no control characters.
//
// Example:
//
//	if err := validation.ValidateMeasuredMethod(m); err != nil {
//	    return fmt.Errorf("invalid measured method: %w", err)
//	}
func ValidateMeasuredMethod(name string) error {
	if strings.TrimSpace(name) == "" {
		return fmt.Errorf("measured method cannot be empty")
	}
	if !utf8.ValidString(name) {
		return fmt.Errorf("measured method %q is not valid UTF-8", name)
	}
	for _, r := range name {
		if r < 0x20 || r == 0x7f {
			return fmt.Errorf("measured method %q contains control character %U", name, r)
		}
	}
	return nil
}

// ValidateMeasuredMethods validates every name and rejects an empty list.
// Returns an error listing all invalid names if any fail validation.
func ValidateMeasuredMethods(names []string) error {
	if len(names) == 0 {
		return fmt.Errorf("at least one measured method is required")
	}
	var invalid []string
	for _, n := range names {
		if err := ValidateMeasuredMethod(n); err != nil {
			invalid = append(invalid, n)
		}
	}
	if len(invalid) > 0 {
		return fmt.Errorf("invalid measured methods: %q", invalid)
	}
	return nil
}

// SafeFileStem turns an arbitrary key into a file stem.
//
// Path separators, NUL and other characters rejected by common filesystems
// are replaced with '_'. Stems longer than MaxFileStem bytes are cut to 250
// bytes on a rune boundary. An empty key becomes "_".
//
// Example:
//
//	stem := validation.SafeFileStem("Sort.sort([I)V")  // "Sort.sort([I)V"
//	stem  = validation.SafeFileStem("a/b:c")          // "a_b_c"
func SafeFileStem(key string) string {
	var sb strings.Builder
	for _, r := range key {
		switch {
		case r == utf8.RuneError, r < 0x20, r == 0x7f:
			sb.WriteByte('_')
		case strings.ContainsRune(`/\:*?"<>|`, r):
			sb.WriteByte('_')
		default:
			sb.WriteRune(r)
		}
	}
	stem := sb.String()
	if stem == "" || stem == "." || stem == ".." {
		return "_"
	}
	if len(stem) > MaxFileStem {
		cut := truncatedStem
		for cut > 0 && !utf8.RuneStart(stem[cut]) {
			cut--
		}
		stem = stem[:cut]
	}
	return stem
}
