// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package fitting fits a closed family of trend models to (input size,
// cost) samples and extrapolates them to larger inputs.
//
// Every model is ordinary least squares over a fixed feature expansion of
// x, optionally against log y. The family is a constant list, so choosing
// a model is a matter of comparing fitted R² values.
package fitting

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"
)

var (
	// ErrNonPositiveSample indicates y <= 0 for a model fitted on log y.
	ErrNonPositiveSample = errors.New("non-positive sample for log-transformed model")

	// ErrRankDeficient indicates a singular or ill-conditioned normal matrix.
	ErrRankDeficient = errors.New("rank-deficient design matrix")

	// ErrOutsideDomain indicates a prediction outside the model's x-domain.
	ErrOutsideDomain = errors.New("x outside model domain")

	// ErrNotFitted indicates a prediction before a successful fit.
	ErrNotFitted = errors.New("model not fitted")

	// ErrSampleMismatch indicates x and y slices of different length.
	ErrSampleMismatch = errors.New("x and y sample counts differ")

	// ErrUnknownModel indicates a model name outside the family.
	ErrUnknownModel = errors.New("unknown trend model")
)

// maxCondition bounds the condition number of the column-scaled normal
// matrix. Beyond it the coefficients are numerically meaningless.
const maxCondition = 1e12

// Kind identifies one model of the family.
type Kind int

const (
	Poly1 Kind = iota
	Poly2
	Poly3
	Exp
	Pow
	Log
	NLog
)

var kindNames = [...]string{"poly1", "poly2", "poly3", "exp", "pow", "log", "nlog"}

var kindDescriptions = [...]string{"1st poly", "2nd poly", "3rd poly", "exp", "pow", "log", "nlog"}

// Family returns every model kind in canonical order.
func Family() []Kind {
	return []Kind{Poly1, Poly2, Poly3, Exp, Pow, Log, NLog}
}

// ParseKind returns the kind named s (as printed by Kind.String).
func ParseKind(s string) (Kind, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, name := range kindNames {
		if name == s {
			return Kind(i), nil
		}
	}
	return 0, fmt.Errorf("%q: %w", s, ErrUnknownModel)
}

func (k Kind) valid() bool {
	return k >= Poly1 && k <= NLog
}

// String returns the short name, e.g. "poly2".
func (k Kind) String() string {
	if !k.valid() {
		return fmt.Sprintf("kind(%d)", int(k))
	}
	return kindNames[k]
}

// Description returns the label used in series names, e.g. "2nd poly".
func (k Kind) Description() string {
	if !k.valid() {
		return k.String()
	}
	return kindDescriptions[k]
}

// LogY reports whether the model is fitted against log y.
func (k Kind) LogY() bool {
	return k == Exp || k == Pow
}

// Domain reports whether the model is defined at x.
func (k Kind) Domain(x float64) bool {
	switch k {
	case Pow, Log, NLog:
		return x > 0
	default:
		return !math.IsNaN(x) && !math.IsInf(x, 0)
	}
}

// Range reports whether y is a value the model can be fitted to.
func (k Kind) Range(y float64) bool {
	if k.LogY() {
		return y > 0
	}
	return !math.IsNaN(y) && !math.IsInf(y, 0)
}

// features returns φ(x).
func (k Kind) features(x float64) []float64 {
	switch k {
	case Poly1, Exp:
		return []float64{1, x}
	case Poly2:
		return []float64{1, x, x * x}
	case Poly3:
		return []float64{1, x, x * x, x * x * x}
	case Pow, Log:
		return []float64{1, math.Log(x)}
	case NLog:
		return []float64{1, x, x * math.Log(x)}
	}
	return nil
}

// Model is one fitted member of the family.
//
// # Thread Safety
//
// Fit mutates the model; a fitted model is safe for concurrent Predict.
type Model struct {
	kind   Kind
	coef   []float64
	r2     float64
	n      int
	fitted bool
}

// NewModel creates an unfitted model of kind k.
func NewModel(k Kind) *Model {
	return &Model{kind: k}
}

// Kind returns the model kind.
func (m *Model) Kind() Kind {
	return m.kind
}

// Domain reports whether the model is defined at x.
func (m *Model) Domain(x float64) bool {
	return m.kind.Domain(x)
}

// Range reports whether y is admissible for the model.
func (m *Model) Range(y float64) bool {
	return m.kind.Range(y)
}

// Fitted reports whether the last Fit succeeded.
func (m *Model) Fitted() bool {
	return m.fitted
}

// Coefficients returns a copy of β.
func (m *Model) Coefficients() []float64 {
	return append([]float64(nil), m.coef...)
}

// RSquared returns the coefficient of determination on the fitted scale.
func (m *Model) RSquared() float64 {
	return m.r2
}

// Samples returns how many samples the last fit used.
func (m *Model) Samples() int {
	return m.n
}

// Fit solves the least-squares problem for the samples.
//
// # Description
//
// Samples outside the model's x-domain are skipped. For log-y models every
// remaining y must be positive. The normal equations ΦᵀΦβ = Φᵀy' are solved
// by Cholesky factorisation on column-scaled features. R² is computed on
// the transformed scale and clamped to [0, 1].
//
// # Inputs
//
//   - xs: Input sizes.
//   - ys: Observed costs, same length as xs.
//
// # Outputs
//
//   - error: ErrSampleMismatch, ErrNonPositiveSample or ErrRankDeficient.
//     On error the model is left unfitted.
func (m *Model) Fit(xs, ys []float64) error {
	m.fitted = false
	if len(xs) != len(ys) {
		return fmt.Errorf("%s: %d xs, %d ys: %w", m.kind, len(xs), len(ys), ErrSampleMismatch)
	}

	var rowsX, rowsY []float64
	for i, x := range xs {
		if !m.kind.Domain(x) {
			continue
		}
		y := ys[i]
		if m.kind.LogY() {
			if y <= 0 {
				return fmt.Errorf("%s: y=%g at x=%g: %w", m.kind, y, x, ErrNonPositiveSample)
			}
			y = math.Log(y)
		}
		rowsX = append(rowsX, x)
		rowsY = append(rowsY, y)
	}

	p := len(m.kind.features(1))
	n := len(rowsX)
	if n < p {
		return fmt.Errorf("%s: %d usable samples for %d coefficients: %w", m.kind, n, p, ErrRankDeficient)
	}

	phi := mat.NewDense(n, p, nil)
	for i, x := range rowsX {
		phi.SetRow(i, m.kind.features(x))
	}

	// Scale columns to unit max-norm to keep the normal matrix conditioned.
	scale := make([]float64, p)
	for j := 0; j < p; j++ {
		s := mat.Norm(phi.ColView(j), math.Inf(1))
		if s == 0 {
			s = 1
		}
		scale[j] = s
		for i := 0; i < n; i++ {
			phi.Set(i, j, phi.At(i, j)/s)
		}
	}

	y := mat.NewVecDense(n, rowsY)

	var ata mat.SymDense
	ata.SymOuterK(1, phi.T())
	var aty mat.VecDense
	aty.MulVec(phi.T(), y)

	var chol mat.Cholesky
	if ok := chol.Factorize(&ata); !ok {
		return fmt.Errorf("%s: normal matrix not positive definite: %w", m.kind, ErrRankDeficient)
	}
	if c := chol.Cond(); math.IsInf(c, 0) || math.IsNaN(c) || c > maxCondition {
		return fmt.Errorf("%s: condition number %.3g: %w", m.kind, c, ErrRankDeficient)
	}
	var beta mat.VecDense
	if err := chol.SolveVecTo(&beta, &aty); err != nil {
		return fmt.Errorf("%s: %v: %w", m.kind, err, ErrRankDeficient)
	}

	coef := make([]float64, p)
	for j := range coef {
		coef[j] = beta.AtVec(j) / scale[j]
	}

	m.coef = coef
	m.n = n
	m.r2 = rSquared(rowsX, rowsY, func(x float64) float64 { return dot(m.kind.features(x), coef) })
	m.fitted = true
	return nil
}

// Predict evaluates the fitted model at x.
//
// # Outputs
//
//   - float64: Predicted cost, back-transformed for log-y models.
//   - error: ErrNotFitted or ErrOutsideDomain.
func (m *Model) Predict(x float64) (float64, error) {
	if !m.fitted {
		return 0, fmt.Errorf("%s: %w", m.kind, ErrNotFitted)
	}
	if !m.kind.Domain(x) {
		return 0, fmt.Errorf("%s at x=%g: %w", m.kind, x, ErrOutsideDomain)
	}
	v := dot(m.kind.features(x), m.coef)
	if m.kind.LogY() {
		v = math.Exp(v)
	}
	return v, nil
}

// Function renders the learned function with two decimals.
func (m *Model) Function() string {
	if !m.fitted {
		return "unfitted"
	}
	c := m.coef
	switch m.kind {
	case Poly1:
		return joinTerms(c, []string{"", "x"})
	case Poly2:
		return joinTerms(c, []string{"", "x", "x^2"})
	case Poly3:
		return joinTerms(c, []string{"", "x", "x^2", "x^3"})
	case Exp:
		return fmt.Sprintf("%.2f*e^(%.2fx)", math.Exp(c[0]), c[1])
	case Pow:
		return fmt.Sprintf("%.2f*x^%.2f", math.Exp(c[0]), c[1])
	case Log:
		return joinTerms(c, []string{"", "*log(x)"})
	case NLog:
		return joinTerms(c, []string{"", "x", "x*log(x)"})
	}
	return m.kind.String()
}

// String is "<kind>: <function>".
func (m *Model) String() string {
	return m.kind.String() + ": " + m.Function()
}

// joinTerms renders Σ cᵢ·termᵢ, skipping coefficients that print as zero.
func joinTerms(coef []float64, terms []string) string {
	var sb strings.Builder
	for i, c := range coef {
		if math.Abs(c) < 0.005 {
			continue
		}
		v := c
		if sb.Len() > 0 {
			if c < 0 {
				sb.WriteString(" - ")
				v = -c
			} else {
				sb.WriteString(" + ")
			}
		}
		fmt.Fprintf(&sb, "%.2f%s", v, terms[i])
	}
	if sb.Len() == 0 {
		return "0.00"
	}
	return sb.String()
}

func dot(a, b []float64) float64 {
	var s float64
	for i := range a {
		s += a[i] * b[i]
	}
	return s
}

// rSquared computes 1 - SSres/SStot clamped to [0, 1]. A constant target
// scores 1 when it is reproduced exactly and 0 otherwise.
func rSquared(xs, ys []float64, predict func(float64) float64) float64 {
	var mean float64
	for _, y := range ys {
		mean += y
	}
	mean /= float64(len(ys))

	var ssRes, ssTot, ssY float64
	for i, x := range xs {
		r := ys[i] - predict(x)
		ssRes += r * r
		d := ys[i] - mean
		ssTot += d * d
		ssY += ys[i] * ys[i]
	}

	scale := math.Max(1, ssY)
	if ssTot <= 1e-12*scale {
		if ssRes <= 1e-9*scale {
			return 1
		}
		return 0
	}
	r2 := 1 - ssRes/ssTot
	switch {
	case math.IsNaN(r2):
		return 0
	case r2 < 0:
		return 0
	case r2 > 1:
		return 1
	}
	return r2
}
