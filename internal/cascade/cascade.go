// Package cascade runs the optimizer over a sequence of grid levels,
// seeding each level from the upsampled result of the previous one.
package cascade

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/banshee-data/nlfff/internal/field"
	"github.com/banshee-data/nlfff/internal/fsutil"
	"github.com/banshee-data/nlfff/internal/monitoring"
	"github.com/banshee-data/nlfff/internal/potential"
	"github.com/banshee-data/nlfff/internal/project"
	"github.com/banshee-data/nlfff/internal/quality"
	"github.com/banshee-data/nlfff/internal/relax"
)

// ErrNotConverged is returned when a level ends without converging and the
// cascade is configured to stop there.
var ErrNotConverged = errors.New("level did not converge")

// Seed sources.
const (
	SeedPotential = "potential"
	SeedUpsampled = "upsampled"
)

// Recorder receives the lifecycle of every level. Implementations persist
// it; a failing recorder is logged and does not stop the run.
type Recorder interface {
	BeginLevel(level int, d field.Dims) error
	RecordIteration(level int, m quality.Metrics) error
	EndLevel(s project.Summary) error
}

// Options configures a cascade.
type Options struct {
	Relax     relax.Options
	Potential potential.Options
	// ContinueOnNonConvergence moves on to the next level when a level
	// ends in max_iterations or stalled.
	ContinueOnNonConvergence bool

	Recorder Recorder
	Progress *monitoring.Progress
}

// LevelResult summarizes one finished level.
type LevelResult struct {
	Level      int
	Grid       field.Grid
	Seed       string
	Status     relax.Status
	Iterations int
	Accepted   int
	Rejected   int
	Final      quality.Metrics
	Epsilon    float64
	Elapsed    time.Duration
}

// Result is the outcome of a cascade.
type Result struct {
	Levels []LevelResult
	// Field is the result of the last level that ran.
	Field *field.Volume
}

// Converged reports whether every level converged.
func (r *Result) Converged() bool {
	for _, l := range r.Levels {
		if !l.Status.Converged() {
			return false
		}
	}
	return len(r.Levels) > 0
}

// Runner executes cascades against one project.
type Runner struct {
	Project *project.Project
	Options Options
}

// NewRunner returns a runner for p.
func NewRunner(p *project.Project, opts Options) *Runner {
	return &Runner{Project: p, Options: opts}
}

// Potential computes the potential field of level and writes it to
// B0.bin.
func (r *Runner) Potential(ctx context.Context, level int) (*field.Volume, error) {
	lvl, err := r.Project.LoadLevel(level)
	if err != nil {
		return nil, err
	}
	if err := r.ensureSpace(lvl.Grid.Dims, lvl.Grid.Dims.Bytes()); err != nil {
		return nil, err
	}
	return r.potential(ctx, lvl)
}

func (r *Runner) potential(ctx context.Context, lvl *project.Level) (*field.Volume, error) {
	start := time.Now()
	b0, err := potential.Compute(ctx, lvl.Grid.Dims, lvl.Boundary, lvl.Mask, r.Options.Potential)
	if err != nil {
		return nil, fmt.Errorf("potential field of level %d: %w", lvl.Number, err)
	}
	if err := r.Project.WriteVolume(project.PotentialFile, b0); err != nil {
		return nil, err
	}
	monitoring.Logf("cascade level=%d potential %s written in %s", lvl.Number, lvl.Grid.Dims, time.Since(start).Round(time.Millisecond))
	return b0, nil
}

// Run relaxes levels in order. Every level's inputs are validated before
// any numerical work starts. On a validation, resource or numerical error
// the cascade stops and returns the levels finished so far.
func (r *Runner) Run(ctx context.Context, levels []int) (*Result, error) {
	if len(levels) == 0 {
		return nil, field.Invalid("no grid levels given")
	}
	inputs := make([]*project.Level, len(levels))
	for i, n := range levels {
		lvl, err := r.Project.LoadLevel(n)
		if err != nil {
			return nil, fmt.Errorf("level %d: %w", n, err)
		}
		if limit := r.Options.Relax.MaxMemoryBytes; limit > 0 {
			if need := relax.WorkingSetBytes(lvl.Grid.Dims); need > limit {
				return nil, fmt.Errorf("level %d: %w", n, &field.ResourceError{Dims: lvl.Grid.Dims, What: "memory", Need: need, Limit: limit})
			}
		}
		inputs[i] = lvl
	}

	res := &Result{}
	var seed *field.Volume
	for i, lvl := range inputs {
		if err := ctx.Err(); err != nil {
			return res, fmt.Errorf("cascade stopped before level %d: %w", lvl.Number, err)
		}
		last := i == len(inputs)-1

		need := lvl.Grid.Dims.Bytes()
		if seed == nil {
			need += lvl.Grid.Dims.Bytes()
		}
		if last {
			need += lvl.Grid.Dims.Bytes()
		}
		if err := r.ensureSpace(lvl.Grid.Dims, need); err != nil {
			return res, fmt.Errorf("level %d: %w", lvl.Number, err)
		}

		source := SeedUpsampled
		if seed == nil {
			b0, err := r.potential(ctx, lvl)
			if err != nil {
				return res, err
			}
			seed, source = b0, SeedPotential
		} else {
			seed = field.Resample(seed, lvl.Grid.Dims)
		}

		lr, out, err := r.level(ctx, lvl, seed, source)
		if err != nil {
			return res, fmt.Errorf("level %d: %w", lvl.Number, err)
		}
		res.Levels = append(res.Levels, *lr)
		res.Field = out
		seed = out

		if !lr.Status.Converged() && !r.Options.ContinueOnNonConvergence {
			return res, fmt.Errorf("%w: level %d ended %s after %d iterations", ErrNotConverged, lvl.Number, lr.Status, lr.Iterations)
		}
	}

	if err := r.Project.WriteVolume(project.FinalFile, res.Field); err != nil {
		return res, err
	}
	monitoring.Logf("cascade finished levels=%d converged=%t", len(res.Levels), res.Converged())
	return res, nil
}

// level relaxes one level from seed and persists its outputs.
func (r *Runner) level(ctx context.Context, lvl *project.Level, seed *field.Volume, source string) (*LevelResult, *field.Volume, error) {
	d := lvl.Grid.Dims
	monitoring.Logf("cascade level=%d grid=%s seed=%s mu=%g nu=%g nd=%d", lvl.Number, d, source, lvl.Grid.Mu, lvl.Grid.Nu, lvl.Grid.ND)
	r.record("begin", lvl.Number, func(rec Recorder) error { return rec.BeginLevel(lvl.Number, d) })

	opts := r.Options.Relax
	observe := opts.Observe
	opts.Observe = func(m quality.Metrics) {
		r.progress(lvl.Number, d, relax.StatusIterating, m)
		r.record("iteration", lvl.Number, func(rec Recorder) error { return rec.RecordIteration(lvl.Number, m) })
		if observe != nil {
			observe(m)
		}
	}

	start := time.Now()
	opt, err := relax.New(lvl.Grid, lvl.Boundary, lvl.Mask, seed, opts)
	if err != nil {
		return nil, nil, err
	}
	res, err := opt.Run(ctx)
	if err != nil {
		var de *relax.DivergenceError
		if errors.As(err, &de) {
			s := project.Summary{Level: lvl.Number, Dims: d, Status: string(relax.StatusAborted), Iterations: de.Iteration, Epsilon: opt.Epsilon()}
			if de.LastGood != nil {
				s.Final = *de.LastGood
			}
			r.progress(lvl.Number, d, relax.StatusAborted, s.Final)
			r.record("end", lvl.Number, func(rec Recorder) error { return rec.EndLevel(s) })
		}
		return nil, nil, err
	}

	s := project.Summary{
		Level:      lvl.Number,
		Dims:       d,
		Status:     string(res.Status),
		Converged:  res.Status.Converged(),
		Iterations: res.Iterations,
		Accepted:   res.Accepted,
		Rejected:   res.Rejected,
		Final:      res.Final,
		Epsilon:    res.Epsilon,
	}
	if err := r.Project.WriteVolume(project.LevelOutputFile(lvl.Number), res.Field); err != nil {
		return nil, nil, err
	}
	if err := r.Project.WriteQualityLog(res.History, s); err != nil {
		return nil, nil, err
	}
	r.progress(lvl.Number, d, res.Status, res.Final)
	r.record("end", lvl.Number, func(rec Recorder) error { return rec.EndLevel(s) })

	lr := &LevelResult{
		Level:      lvl.Number,
		Grid:       lvl.Grid,
		Seed:       source,
		Status:     res.Status,
		Iterations: res.Iterations,
		Accepted:   res.Accepted,
		Rejected:   res.Rejected,
		Final:      res.Final,
		Epsilon:    res.Epsilon,
		Elapsed:    time.Since(start),
	}
	monitoring.Logf("cascade level=%d status=%s iterations=%d cwsin=%.4g (%.2f deg) div_mean=%.3g energy=%.6g in %s",
		lvl.Number, res.Status, res.Iterations, res.Final.CWsin, res.Final.Angle(), res.Final.DivMean, res.Final.Energy,
		lr.Elapsed.Round(time.Millisecond))
	return lr, res.Field, nil
}

func (r *Runner) ensureSpace(d field.Dims, need int64) error {
	free, err := fsutil.EnsureSpace(r.Project.FS, r.Project.Dir, need)
	if errors.Is(err, fsutil.ErrInsufficientSpace) {
		return &field.ResourceError{Dims: d, What: "storage", Need: need, Limit: free}
	}
	return err
}

func (r *Runner) progress(level int, d field.Dims, s relax.Status, m quality.Metrics) {
	if r.Options.Progress == nil {
		return
	}
	r.Options.Progress.Level(monitoring.LevelProgress{
		Level:      level,
		Dims:       d.String(),
		Status:     string(s),
		Iteration:  m.Iteration,
		CWsin:      m.CWsin,
		DivMean:    m.DivMean,
		DivMax:     m.DivMax,
		Functional: m.L,
		Step:       m.Step,
	})
}

func (r *Runner) record(what string, level int, fn func(Recorder) error) {
	if r.Options.Recorder == nil {
		return
	}
	if err := fn(r.Options.Recorder); err != nil {
		monitoring.Logf("cascade level=%d ledger %s failed: %v", level, what, err)
	}
}
