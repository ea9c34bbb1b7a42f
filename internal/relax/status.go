package relax

import (
	"errors"
	"fmt"

	"github.com/banshee-data/nlfff/internal/quality"
)

// Status is the state of an optimizer run.
type Status string

const (
	StatusInitializing  Status = "initializing"
	StatusIterating     Status = "iterating"
	StatusConverged     Status = "converged"
	StatusMaxIterations Status = "max_iterations"
	StatusStalled       Status = "stalled"
	StatusAborted       Status = "aborted"
)

// Terminal reports whether s ends a run.
func (s Status) Terminal() bool {
	switch s {
	case StatusConverged, StatusMaxIterations, StatusStalled, StatusAborted:
		return true
	}
	return false
}

// Converged reports whether the quality thresholds were met.
func (s Status) Converged() bool { return s == StatusConverged }

// ErrNumericalDivergence marks a run whose field or metrics became
// non-finite.
var ErrNumericalDivergence = errors.New("numerical divergence")

// DivergenceError carries the context of an aborted run.
type DivergenceError struct {
	Iteration int
	// Component is "Bx", "By" or "Bz", or empty when the field stayed
	// finite but the functional or metrics overflowed.
	Component string
	I, J, K   int
	// LastGood is the most recent finite metrics record, nil when the
	// initial field was already non-finite.
	LastGood *quality.Metrics
}

func (e *DivergenceError) Error() string {
	msg := fmt.Sprintf("%v at iteration %d", ErrNumericalDivergence, e.Iteration)
	if e.Component != "" {
		msg += fmt.Sprintf(": %s non-finite at voxel (%d,%d,%d)", e.Component, e.I, e.J, e.K)
	}
	if e.LastGood != nil {
		msg += fmt.Sprintf(" (last good iteration %d: cwsin=%.4g div_mean=%.4g L=%.6g)",
			e.LastGood.Iteration, e.LastGood.CWsin, e.LastGood.DivMean, e.LastGood.L)
	}
	return msg
}

func (e *DivergenceError) Unwrap() error { return ErrNumericalDivergence }
