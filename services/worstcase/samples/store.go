// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package samples persists worst-case (input size, cost) observations per
// measured target in an embedded BadgerDB.
//
// Each guided exploration contributes the cost of its worst path for the
// input size it explored. The store keeps the maximum cost seen per input
// size, so repeated runs only ever raise a sample. Loaded sample sets feed
// the function fitter directly.
//
// Key layout:
//
//	s/<target>\x00<x as order-preserving uint64> → <y as float64 bits>
//
// Iterating a target prefix therefore yields samples sorted by x.
//
// License: BadgerDB is Apache 2.0 licensed (github.com/dgraph-io/badger).
package samples

import (
	"bytes"
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"os"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/AleutianAI/worstcase/pkg/validation"
	"github.com/AleutianAI/worstcase/services/worstcase/fitting"
)

var (
	// ErrInvalidTarget indicates a target name that cannot be used as a key.
	ErrInvalidTarget = errors.New("invalid sample target")

	// ErrInvalidSample indicates a non-finite sample.
	ErrInvalidSample = errors.New("invalid sample")

	// ErrClosed indicates use of a closed store.
	ErrClosed = errors.New("sample store closed")
)

var samplesWrittenTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "wca_samples_written_total",
	Help: "Total sample puts by whether they raised the stored cost",
}, []string{"updated"})

const keyPrefix = "s/"

// Config holds configuration for a sample store.
type Config struct {
	// Path is the directory for BadgerDB files.
	// Ignored when InMemory is true.
	Path string

	// InMemory enables in-memory mode (no disk persistence).
	InMemory bool

	// SyncWrites enables synchronous writes for durability.
	SyncWrites bool

	// Logger receives store and BadgerDB messages.
	// If nil, BadgerDB's internal logging is disabled.
	Logger *slog.Logger
}

// DefaultConfig returns a durable configuration rooted at path.
func DefaultConfig(path string) Config {
	return Config{Path: path, SyncWrites: true}
}

// InMemoryConfig returns a configuration for tests.
func InMemoryConfig() Config {
	return Config{InMemory: true}
}

// badgerLogger adapts slog.Logger to BadgerDB's Logger interface.
type badgerLogger struct {
	logger *slog.Logger
}

func (l *badgerLogger) Errorf(format string, args ...interface{}) {
	l.logger.Error(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Warningf(format string, args ...interface{}) {
	l.logger.Warn(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Infof(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

func (l *badgerLogger) Debugf(format string, args ...interface{}) {
	l.logger.Debug(strings.TrimSpace(fmt.Sprintf(format, args...)))
}

// Store is a BadgerDB-backed sample store.
//
// # Thread Safety
//
// Safe for concurrent use. Put is a read-modify-write inside one
// transaction; conflicting writers retry once on badger.ErrConflict.
type Store struct {
	db     *badger.DB
	path   string
	logger *slog.Logger
}

// Open opens the sample store described by cfg.
//
// # Inputs
//
//   - cfg: Store configuration. Path is required unless InMemory is true.
//
// # Outputs
//
//   - *Store: The opened store. Caller must call Close when done.
//   - error: Non-nil if the path is missing or the database cannot open.
func Open(cfg Config) (*Store, error) {
	if !cfg.InMemory && cfg.Path == "" {
		return nil, errors.New("path is required for persistent sample store")
	}

	var opts badger.Options
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		if err := os.MkdirAll(cfg.Path, 0750); err != nil {
			return nil, fmt.Errorf("create sample store directory %s: %w", cfg.Path, err)
		}
		opts = badger.DefaultOptions(cfg.Path)
	}
	opts = opts.WithSyncWrites(cfg.SyncWrites).WithNumVersionsToKeep(1)

	logger := cfg.Logger
	if logger != nil {
		opts = opts.WithLogger(&badgerLogger{logger: logger.With(slog.String("component", "badger"))})
	} else {
		opts = opts.WithLogger(nil)
		logger = slog.Default()
	}

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("open sample store: %w", err)
	}
	return &Store{
		db:     db,
		path:   cfg.Path,
		logger: logger.With(slog.String("component", "sample_store")),
	}, nil
}

// OpenInMemory opens an in-memory store. Data is lost on Close.
func OpenInMemory() (*Store, error) {
	return Open(InMemoryConfig())
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Path returns the database path, or "" for in-memory stores.
func (s *Store) Path() string {
	return s.path
}

// Put stores sample for target unless a cost at least as high is already
// stored for the same input size.
//
// # Outputs
//
//   - bool: True when the stored cost was created or raised.
//   - error: ErrInvalidTarget, ErrInvalidSample, or a database error.
func (s *Store) Put(ctx context.Context, target string, sample fitting.Sample) (bool, error) {
	if err := checkTarget(target); err != nil {
		return false, err
	}
	if !finite(sample.X) || !finite(sample.Y) {
		return false, fmt.Errorf("(%g, %g): %w", sample.X, sample.Y, ErrInvalidSample)
	}

	var updated bool
	put := func(txn *badger.Txn) error {
		updated = false
		key := sampleKey(target, sample.X)
		item, err := txn.Get(key)
		switch {
		case errors.Is(err, badger.ErrKeyNotFound):
		case err != nil:
			return err
		default:
			var current float64
			if err := item.Value(func(val []byte) error {
				current, err = decodeCost(val)
				return err
			}); err != nil {
				return err
			}
			if current >= sample.Y {
				return nil
			}
		}
		updated = true
		return txn.Set(key, encodeCost(sample.Y))
	}

	err := s.withTxn(ctx, put)
	if errors.Is(err, badger.ErrConflict) {
		err = s.withTxn(ctx, put)
	}
	if err != nil {
		return false, fmt.Errorf("put sample for %s: %w", target, err)
	}

	samplesWrittenTotal.WithLabelValues(fmt.Sprint(updated)).Inc()
	s.logger.DebugContext(ctx, "sample stored",
		slog.String("target", target),
		slog.Float64("x", sample.X),
		slog.Float64("y", sample.Y),
		slog.Bool("updated", updated),
	)
	return updated, nil
}

// Load returns the samples of target sorted by x. An unknown target
// yields an empty set.
func (s *Store) Load(ctx context.Context, target string) (fitting.SampleSet, error) {
	if err := checkTarget(target); err != nil {
		return nil, err
	}
	prefix := targetPrefix(target)

	var out fitting.SampleSet
	err := s.withReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			item := it.Item()
			key := item.Key()
			if len(key) != len(prefix)+8 {
				return fmt.Errorf("malformed sample key %q", key)
			}
			x := decodeX(key[len(prefix):])
			var y float64
			if err := item.Value(func(val []byte) error {
				var err error
				y, err = decodeCost(val)
				return err
			}); err != nil {
				return err
			}
			out = append(out, fitting.Sample{X: x, Y: y})
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("load samples for %s: %w", target, err)
	}
	return out, nil
}

// Targets returns every target with at least one sample, sorted.
func (s *Store) Targets(ctx context.Context) ([]string, error) {
	var out []string
	err := s.withReadTxn(ctx, func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(keyPrefix)
		opts.PrefetchValues = false
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			key := it.Item().Key()[len(keyPrefix):]
			end := bytes.IndexByte(key, 0)
			if end < 0 {
				continue
			}
			target := string(key[:end])
			if len(out) == 0 || out[len(out)-1] != target {
				out = append(out, target)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("list sample targets: %w", err)
	}
	return out, nil
}

// Delete removes every sample of target.
func (s *Store) Delete(ctx context.Context, target string) error {
	if err := checkTarget(target); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	if err := s.db.DropPrefix(targetPrefix(target)); err != nil {
		return fmt.Errorf("delete samples for %s: %w", target, err)
	}
	return nil
}

func (s *Store) withTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	if s.db.IsClosed() {
		return ErrClosed
	}
	txn := s.db.NewTransaction(true)
	defer txn.Discard()

	if err := fn(txn); err != nil {
		return err
	}
	return txn.Commit()
}

func (s *Store) withReadTxn(ctx context.Context, fn func(txn *badger.Txn) error) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("context cancelled: %w", err)
	}
	if s.db.IsClosed() {
		return ErrClosed
	}
	txn := s.db.NewTransaction(false)
	defer txn.Discard()
	return fn(txn)
}

func checkTarget(target string) error {
	if err := validation.ValidateMeasuredMethod(target); err != nil {
		return fmt.Errorf("%v: %w", err, ErrInvalidTarget)
	}
	return nil
}

func finite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}

func targetPrefix(target string) []byte {
	b := make([]byte, 0, len(keyPrefix)+len(target)+1)
	b = append(b, keyPrefix...)
	b = append(b, target...)
	return append(b, 0)
}

func sampleKey(target string, x float64) []byte {
	return append(targetPrefix(target), encodeX(x)...)
}

// encodeX maps x to 8 bytes whose lexical order matches numeric order.
func encodeX(x float64) []byte {
	if x == 0 {
		x = 0 // fold -0
	}
	bits := math.Float64bits(x)
	if bits&(1<<63) != 0 {
		bits = ^bits
	} else {
		bits |= 1 << 63
	}
	return binary.BigEndian.AppendUint64(nil, bits)
}

func decodeX(b []byte) float64 {
	bits := binary.BigEndian.Uint64(b)
	if bits&(1<<63) != 0 {
		bits &^= 1 << 63
	} else {
		bits = ^bits
	}
	return math.Float64frombits(bits)
}

func encodeCost(y float64) []byte {
	return binary.BigEndian.AppendUint64(nil, math.Float64bits(y))
}

func decodeCost(b []byte) (float64, error) {
	if len(b) != 8 {
		return 0, fmt.Errorf("malformed sample value of %d bytes", len(b))
	}
	return math.Float64frombits(binary.BigEndian.Uint64(b)), nil
}
