// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package policy

import "errors"

var (
	// ErrNotFound indicates no stored policy matches the measured methods.
	ErrNotFound = errors.New("policy not found")

	// ErrAmbiguous indicates more than one stored policy matches.
	ErrAmbiguous = errors.New("multiple policies match")

	// ErrIncompatible indicates a merge of policies with different
	// measured methods or history bounds.
	ErrIncompatible = errors.New("incompatible policies")

	// ErrUnknownSite indicates a record for a site that was never registered.
	ErrUnknownSite = errors.New("unknown branch site")

	// ErrIO wraps filesystem failures of the store.
	ErrIO = errors.New("policy io failure")

	// ErrCorruptPolicy indicates bytes that do not decode to a valid policy.
	ErrCorruptPolicy = errors.New("corrupt policy")

	// ErrEmptyInput indicates an offline unify without input files.
	ErrEmptyInput = errors.New("no input policies")

	// ErrInvalidPolicy indicates a policy that violates an internal invariant.
	ErrInvalidPolicy = errors.New("policy invariant violated")
)
