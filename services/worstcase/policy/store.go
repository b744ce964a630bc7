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

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/AleutianAI/worstcase/pkg/validation"
)

// Extension is the file extension of stored policies.
const Extension = ".pol"

// -----------------------------------------------------------------------------
// Metrics
// -----------------------------------------------------------------------------

var (
	storeOperationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "wca_policy_store_operations_total",
		Help: "Total policy store operations by type and status",
	}, []string{"operation", "status"})

	storeDurationHistogram = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "wca_policy_store_duration_seconds",
		Help:    "Time spent in policy store operations",
		Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
	}, []string{"operation"})

	storeBytesGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "wca_policy_store_last_write_bytes",
		Help: "Size of the most recently written policy file",
	})
)

var storeTracer = otel.Tracer("worstcase.policy.store")

// loggerWithTrace returns a logger with trace context attached.
func loggerWithTrace(ctx context.Context, logger *slog.Logger) *slog.Logger {
	spanCtx := trace.SpanContextFromContext(ctx)
	if !spanCtx.IsValid() {
		return logger
	}
	return logger.With(
		slog.String("trace_id", spanCtx.TraceID().String()),
		slog.String("span_id", spanCtx.SpanID().String()),
	)
}

// -----------------------------------------------------------------------------
// Store
// -----------------------------------------------------------------------------

// Store is a directory of policy files, one per measured-method set.
//
// # Description
//
// The file of a policy is named after the concatenation of its sorted
// measured methods, made filesystem-safe and truncated (see
// validation.SafeFileStem), plus Extension. Writes go to a temp file in the
// same directory which is fsynced and renamed over the target, so a crash
// never leaves a half-written policy behind.
//
// # Thread Safety
//
// Safe for concurrent use in the sense that every file replacement is
// atomic. Two concurrent Save calls with unify enabled may lose one update;
// use UnifyFiles for durable offline merges.
type Store struct {
	baseDir string
	logger  *slog.Logger
}

// NewStore creates a store rooted at baseDir.
//
// # Inputs
//
//   - baseDir: Directory holding the policy files. Created on first Save.
//   - logger: Logger for structured logging (nil uses slog.Default()).
//
// # Outputs
//
//   - *Store: Ready-to-use store.
func NewStore(baseDir string, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{baseDir: baseDir, logger: logger.With(slog.String("component", "policy_store"))}
}

// BaseDir returns the store directory.
func (s *Store) BaseDir() string {
	return s.baseDir
}

// FileName returns the file name used for a measured-method set.
func FileName(methods []string) string {
	return validation.SafeFileStem(New(methods, 0).Key()) + Extension
}

// PathFor returns the full path of the file for a measured-method set.
func (s *Store) PathFor(methods []string) string {
	return filepath.Join(s.baseDir, FileName(methods))
}

// Save persists p under its measured methods.
//
// # Description
//
// When unifyWithExisting is set and a file for the same methods exists, the
// stored policy is loaded and unified with p before writing. Otherwise the
// file is overwritten. p is never modified.
//
// # Outputs
//
//   - string: Path of the written file.
//   - error: ErrIO, ErrCorruptPolicy (existing file unreadable), or
//     ErrIncompatible (existing file has a different K or method set).
func (s *Store) Save(ctx context.Context, p *Policy, unifyWithExisting bool) (string, error) {
	start := time.Now()
	target := s.PathFor(p.MeasuredMethods())
	ctx, span := storeTracer.Start(ctx, "policy.Store.Save",
		trace.WithAttributes(
			attribute.String("policy.file", filepath.Base(target)),
			attribute.Bool("policy.unify", unifyWithExisting),
			attribute.Int("policy.sites", p.NumSites()),
		),
	)
	defer span.End()
	defer func() {
		storeDurationHistogram.WithLabelValues("save").Observe(time.Since(start).Seconds())
	}()

	logger := loggerWithTrace(ctx, s.logger).With(slog.String("file", target))

	out := p
	if unifyWithExisting {
		existing, err := ReadFile(target)
		switch {
		case err == nil:
			logger.Info("unifying with stored policy", slog.String("stored", existing.String()))
			if out, err = Unify(p, existing); err != nil {
				return "", s.fail(span, "save", fmt.Errorf("unify with %s: %w", target, err))
			}
		case errors.Is(err, fs.ErrNotExist):
		default:
			return "", s.fail(span, "save", err)
		}
	}

	if err := WriteFile(target, out); err != nil {
		return "", s.fail(span, "save", err)
	}

	storeOperationsTotal.WithLabelValues("save", "success").Inc()
	span.SetStatus(codes.Ok, "")
	logger.Info("saved policy", slog.String("policy", out.String()))
	return target, nil
}

// Load returns the unique stored policy for the given measured methods.
//
// # Description
//
// Every file with Extension in the store directory is decoded; the policy
// whose measured-method set equals methods is returned.
//
// # Outputs
//
//   - *Policy: The matching policy.
//   - error: ErrNotFound if none matches, ErrAmbiguous if several do,
//     ErrIO if the directory cannot be read, ErrCorruptPolicy if a file
//     cannot be decoded.
func (s *Store) Load(ctx context.Context, methods []string) (*Policy, error) {
	start := time.Now()
	ctx, span := storeTracer.Start(ctx, "policy.Store.Load",
		trace.WithAttributes(attribute.StringSlice("policy.methods", methods)),
	)
	defer span.End()
	defer func() {
		storeDurationHistogram.WithLabelValues("load").Observe(time.Since(start).Seconds())
	}()

	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, s.fail(span, "load", fmt.Errorf("read policy dir %s: %v: %w", s.baseDir, err, ErrIO))
	}

	var (
		matches []*Policy
		files   []string
	)
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), Extension) {
			continue
		}
		file := filepath.Join(s.baseDir, e.Name())
		p, err := ReadFile(file)
		if err != nil {
			return nil, s.fail(span, "load", err)
		}
		if p.Matches(methods) {
			matches = append(matches, p)
			files = append(files, e.Name())
		}
	}

	key := New(methods, 0).Key()
	switch len(matches) {
	case 0:
		return nil, s.fail(span, "load", fmt.Errorf("measured methods %q in %s: %w", key, s.baseDir, ErrNotFound))
	case 1:
		storeOperationsTotal.WithLabelValues("load", "success").Inc()
		span.SetStatus(codes.Ok, "")
		loggerWithTrace(ctx, s.logger).Info("loaded policy",
			slog.String("file", files[0]),
			slog.String("policy", matches[0].String()),
		)
		return matches[0], nil
	default:
		sort.Strings(files)
		return nil, s.fail(span, "load", fmt.Errorf("measured methods %q match %v: %w", key, files, ErrAmbiguous))
	}
}

func (s *Store) fail(span trace.Span, op string, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	storeOperationsTotal.WithLabelValues(op, "error").Inc()
	s.logger.Warn("policy store operation failed",
		slog.String("operation", op),
		slog.String("error", err.Error()),
	)
	return err
}

// -----------------------------------------------------------------------------
// File helpers
// -----------------------------------------------------------------------------

// ReadFile decodes the policy stored at path.
//
// A missing file yields an error matching both ErrIO and fs.ErrNotExist.
func ReadFile(path string) (*Policy, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", path, errors.Join(ErrIO, err))
	}
	defer f.Close()

	p, err := Decode(f)
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	return p, nil
}

// WriteFile atomically replaces path with the encoding of p.
//
// # Description
//
// The policy is validated first; a policy violating its invariants is never
// written. The bytes go to a temp file in the target directory, which is
// synced, renamed over path, and followed by a directory sync.
//
// # Outputs
//
//   - error: ErrInvalidPolicy or ErrIO.
func WriteFile(path string, p *Policy) error {
	if err := p.Validate(); err != nil {
		return fmt.Errorf("refusing to write %s: %w", path, err)
	}
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0750); err != nil {
		return fmt.Errorf("create policy dir: %v: %w", err, ErrIO)
	}

	tmpFile, err := os.CreateTemp(dir, filepath.Base(path)+".*.tmp")
	if err != nil {
		return fmt.Errorf("create temp file: %v: %w", err, ErrIO)
	}
	tmpPath := tmpFile.Name()

	// Cleanup on any error
	cleanupTmp := true
	defer func() {
		if cleanupTmp {
			tmpFile.Close()
			os.Remove(tmpPath)
		}
	}()

	if err := Encode(tmpFile, p); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		return fmt.Errorf("sync: %v: %w", err, ErrIO)
	}
	var size int64
	if info, err := tmpFile.Stat(); err == nil {
		size = info.Size()
	}
	if err := tmpFile.Close(); err != nil {
		return fmt.Errorf("close temp file: %v: %w", err, ErrIO)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		return fmt.Errorf("atomic rename: %v: %w", err, ErrIO)
	}
	cleanupTmp = false

	// The rename already happened; a failed directory sync only weakens
	// durability on some filesystems.
	_ = syncDir(dir)

	storeBytesGauge.Set(float64(size))
	return nil
}

// syncDir syncs a directory so a preceding rename survives a crash.
func syncDir(dirPath string) error {
	dir, err := os.Open(dirPath)
	if err != nil {
		return fmt.Errorf("open dir for sync: %w", err)
	}
	defer dir.Close()

	if err := dir.Sync(); err != nil {
		return fmt.Errorf("sync dir: %w", err)
	}
	return nil
}
