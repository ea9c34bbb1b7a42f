package relax

import (
	"math"

	"github.com/banshee-data/nlfff/internal/field"
	"github.com/banshee-data/nlfff/internal/quality"
)

// Default thresholds. A CWsin of sin(10°) is a well relaxed field.
const (
	DefaultMaxIterations    = 10000
	DefaultStableWindow     = 10
	DefaultCWsinThreshold   = 0.1736
	DefaultDivMeanThreshold = 1e-3
	DefaultDivMaxThreshold  = 1e-1
	DefaultEpsilonFraction  = 1e-6
	DefaultMinStep          = 1e-8
	DefaultStepGrowth       = 1.01
	DefaultStepShrink       = 0.5
)

// Options controls one relaxation.
type Options struct {
	// Executor runs the sweeps. Nil runs serially.
	Executor Executor
	// Kernel builds the per-iteration kernel. Nil selects NewStencilKernel.
	Kernel KernelFactory

	MaxIterations int
	// StableWindow is the number of consecutive evaluations, counting the
	// initial one, that must meet every threshold.
	StableWindow     int
	CWsinThreshold   float64
	DivMeanThreshold float64
	DivMaxThreshold  float64

	ForceFreeWeight  float64
	DivergenceWeight float64
	// EpsilonFraction scales the mean |B|² of the initial field into the
	// floor added to |B|² in the force-free term.
	EpsilonFraction float64

	// InitialStep overrides the grid's mu when positive.
	InitialStep float64
	MinStep     float64
	StepGrowth  float64
	StepShrink  float64

	Lateral string

	// MaxMemoryBytes rejects grids whose working set exceeds it. Zero
	// disables the check.
	MaxMemoryBytes int64

	// LogEvery logs progress every n iterations. Zero disables it.
	LogEvery int
	// Observe is called with every metrics record, including iteration 0.
	Observe func(quality.Metrics)
}

// DefaultOptions returns options with every threshold and step control set.
func DefaultOptions() Options {
	return Options{
		MaxIterations:    DefaultMaxIterations,
		StableWindow:     DefaultStableWindow,
		CWsinThreshold:   DefaultCWsinThreshold,
		DivMeanThreshold: DefaultDivMeanThreshold,
		DivMaxThreshold:  DefaultDivMaxThreshold,
		ForceFreeWeight:  1,
		DivergenceWeight: 1,
		EpsilonFraction:  DefaultEpsilonFraction,
		MinStep:          DefaultMinStep,
		StepGrowth:       DefaultStepGrowth,
		StepShrink:       DefaultStepShrink,
		Lateral:          LateralOpen,
	}
}

// Validate checks that the options describe a runnable relaxation.
func (o Options) Validate() error {
	if o.MaxIterations < 0 {
		return field.Invalid("max_iterations must be non-negative, got %d", o.MaxIterations)
	}
	if o.StableWindow < 1 {
		return field.Invalid("stable_window must be at least 1, got %d", o.StableWindow)
	}
	for _, v := range []struct {
		name string
		x    float64
	}{
		{"cwsin_threshold", o.CWsinThreshold},
		{"div_mean_threshold", o.DivMeanThreshold},
		{"div_max_threshold", o.DivMaxThreshold},
		{"force_free_weight", o.ForceFreeWeight},
		{"divergence_weight", o.DivergenceWeight},
		{"epsilon_fraction", o.EpsilonFraction},
		{"initial_step", o.InitialStep},
		{"min_step", o.MinStep},
	} {
		if math.IsNaN(v.x) || math.IsInf(v.x, 0) || v.x < 0 {
			return field.Invalid("%s must be non-negative and finite, got %g", v.name, v.x)
		}
	}
	if o.ForceFreeWeight == 0 && o.DivergenceWeight == 0 {
		return field.Invalid("force_free_weight and divergence_weight cannot both be zero")
	}
	if !(o.StepGrowth >= 1) || math.IsInf(o.StepGrowth, 0) {
		return field.Invalid("step_growth must be at least 1, got %g", o.StepGrowth)
	}
	if !(o.StepShrink > 0 && o.StepShrink < 1) {
		return field.Invalid("step_shrink must be in (0, 1), got %g", o.StepShrink)
	}
	if o.LogEvery < 0 {
		return field.Invalid("log_every must be non-negative, got %d", o.LogEvery)
	}
	return ValidateLateral(o.Lateral)
}

// meets reports whether m satisfies every convergence threshold.
func (o Options) meets(m quality.Metrics) bool {
	return m.CWsin <= o.CWsinThreshold && m.DivMean <= o.DivMeanThreshold && m.DivMax <= o.DivMaxThreshold
}
