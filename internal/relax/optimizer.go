// Package relax relaxes a magnetic field towards a force-free and
// divergence-free state by projected steepest descent on
//
//	L = Wf Σ w |J×B|²/(|B|²+ε) + Wd Σ w (∇·B)² + ν Σ_bottom m |B⊥-B⊥obs|²
//
// Bz on the photosphere is pinned to the measurement. The transverse
// photospheric field is (1-m)·relaxed + m·measured, where relaxed is a free
// 2D field. Side and top faces follow the lateral boundary mode.
package relax

import (
	"context"
	"fmt"
	"math"

	"github.com/banshee-data/nlfff/internal/field"
	"github.com/banshee-data/nlfff/internal/monitoring"
	"github.com/banshee-data/nlfff/internal/quality"
)

// Result is the outcome of a run that did not abort.
type Result struct {
	// Field is the final field. It aliases the optimizer's buffer.
	Field      *field.Volume
	Status     Status
	Iterations int
	Accepted   int
	Rejected   int
	Final      quality.Metrics
	History    []quality.Metrics
	Epsilon    float64
}

// Optimizer owns the buffers and iteration state of one relaxation. It is
// single use: Run may be called once.
type Optimizer struct {
	grid   field.Grid
	opts   Options
	exec   Executor
	kernel Kernel
	engine quality.Engine

	cur, next   *State
	gCur, gNext *Direction

	status    Status
	iteration int
	dt        float64
	epsilon   float64
	history   []quality.Metrics
}

// New prepares a relaxation of initial on grid g. initial is copied; the
// caller keeps ownership. A nil mask pins the transverse field everywhere.
func New(g field.Grid, b *field.Boundary, m *field.Mask, initial *field.Volume, opts Options) (*Optimizer, error) {
	if err := g.Validate(); err != nil {
		return nil, err
	}
	if err := opts.Validate(); err != nil {
		return nil, err
	}
	if b == nil {
		return nil, field.Invalid("relaxation needs a boundary")
	}
	if err := b.Validate(g.Dims); err != nil {
		return nil, err
	}
	if m == nil {
		m = field.UniformMask(g.NX, g.NY, 1)
	}
	if err := m.Validate(g.Dims); err != nil {
		return nil, err
	}
	if initial == nil || initial.Dims != g.Dims {
		return nil, field.Invalid("initial field does not match grid %s", g.Dims)
	}
	if opts.MaxMemoryBytes > 0 {
		if need := WorkingSetBytes(g.Dims); need > opts.MaxMemoryBytes {
			return nil, &field.ResourceError{Dims: g.Dims, What: "memory", Need: need, Limit: opts.MaxMemoryBytes}
		}
	}

	exec := opts.Executor
	if exec == nil {
		exec = serialExecutor{}
	}
	o := &Optimizer{
		grid:   g,
		opts:   opts,
		exec:   exec,
		engine: quality.Engine{ND: g.ND, Runner: exec},
		cur:    newState(g.Dims),
		next:   newState(g.Dims),
		gCur:   newDirection(g.Dims),
		gNext:  newDirection(g.Dims),
		status: StatusInitializing,
		dt:     g.Mu,
	}
	if opts.InitialStep > 0 {
		o.dt = opts.InitialStep
	}

	o.cur.B.CopyFrom(initial)
	np := g.Pixels()
	copy(o.cur.Relaxed[0], initial.X[:np])
	copy(o.cur.Relaxed[1], initial.Y[:np])

	var b2 float64
	for n := range initial.X {
		b2 += initial.X[n]*initial.X[n] + initial.Y[n]*initial.Y[n] + initial.Z[n]*initial.Z[n]
	}
	o.epsilon = math.Max(opts.EpsilonFraction*b2/float64(g.Voxels()), 1e-30)

	p := Problem{
		Grid:     g,
		Boundary: b,
		Mask:     m,
		Lateral:  opts.Lateral,
		Weights: quality.Weights{
			Wf:      opts.ForceFreeWeight,
			Wd:      opts.DivergenceWeight,
			Nu:      g.Nu,
			Epsilon: o.epsilon,
			ND:      g.ND,
		},
	}
	if p.Lateral == "" {
		p.Lateral = LateralOpen
	}
	factory := opts.Kernel
	if factory == nil {
		factory = NewStencilKernel
	}
	o.kernel = factory(p, exec)
	return o, nil
}

// Status returns the current state of the run.
func (o *Optimizer) Status() Status { return o.status }

// Epsilon returns the |B|² floor used by the force-free term.
func (o *Optimizer) Epsilon() float64 { return o.epsilon }

// Run iterates until a terminal state. ctx is checked between iterations.
// Non-convergence is reported through Result.Status, not as an error.
func (o *Optimizer) Run(ctx context.Context) (*Result, error) {
	if o.status != StatusInitializing {
		return nil, fmt.Errorf("optimizer already ran (status %s)", o.status)
	}
	if c, n, bad := o.cur.B.NonFinite(); bad {
		return nil, o.abort(o.cur.B, c, n, nil)
	}

	o.kernel.Constrain(o.cur)
	o.status = StatusIterating
	fl := o.kernel.Evaluate(o.cur, o.gCur)
	if !finite(fl.L) {
		return nil, o.abort(o.cur.B, -1, 0, nil)
	}
	m := o.measure(fl)
	if !m.Finite() {
		return nil, o.abort(o.cur.B, -1, 0, nil)
	}
	o.record(m)
	window := 0
	if o.opts.meets(m) {
		window = 1
	}

	var accepted, rejected int
	for o.status == StatusIterating {
		if window >= o.opts.StableWindow {
			o.status = StatusConverged
			break
		}
		if o.iteration >= o.opts.MaxIterations {
			o.status = StatusMaxIterations
			break
		}
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("relaxation stopped at iteration %d: %w", o.iteration, err)
		}
		o.iteration++

		dt := o.dt
		o.kernel.Advance(o.cur, o.gCur, dt, o.next)
		trial := o.kernel.Evaluate(o.next, o.gNext)
		if !finite(trial.L) {
			c, n, bad := o.next.B.NonFinite()
			if !bad {
				c = -1
			}
			return nil, o.abort(o.next.B, c, n, &m)
		}

		if trial.L <= fl.L {
			o.cur, o.next = o.next, o.cur
			o.gCur, o.gNext = o.gNext, o.gCur
			fl = trial
			o.dt *= o.opts.StepGrowth
			accepted++
			last := m
			m = o.measure(fl)
			if !m.Finite() {
				return nil, o.abort(o.cur.B, -1, 0, &last)
			}
		} else {
			o.dt *= o.opts.StepShrink
			rejected++
			m.Iteration = o.iteration
		}
		m.Step = dt
		o.record(m)

		if o.opts.meets(m) {
			window++
		} else {
			window = 0
		}
		if o.opts.LogEvery > 0 && o.iteration%o.opts.LogEvery == 0 {
			monitoring.Logf("relax %s iteration=%d L=%.6g cwsin=%.4g div_mean=%.3g div_max=%.3g step=%.3g",
				o.grid.Dims, o.iteration, m.L, m.CWsin, m.DivMean, m.DivMax, dt)
		}
		if window < o.opts.StableWindow && o.dt < o.opts.MinStep {
			o.status = StatusStalled
		}
	}

	monitoring.Logf("relax %s finished status=%s iterations=%d accepted=%d rejected=%d cwsin=%.4g L=%.6g",
		o.grid.Dims, o.status, o.iteration, accepted, rejected, m.CWsin, m.L)
	return &Result{
		Field:      o.cur.B,
		Status:     o.status,
		Iterations: o.iteration,
		Accepted:   accepted,
		Rejected:   rejected,
		Final:      m,
		History:    o.history,
		Epsilon:    o.epsilon,
	}, nil
}

// measure evaluates the quality metrics of the current state.
func (o *Optimizer) measure(fl Functional) quality.Metrics {
	m := o.engine.Evaluate(o.cur.B)
	m.Iteration = o.iteration
	m.L, m.Lf, m.Ld, m.Lphoto = fl.L, fl.Lf, fl.Ld, fl.Lphoto
	m.Step = o.dt
	return m
}

func (o *Optimizer) record(m quality.Metrics) {
	o.history = append(o.history, m)
	if o.opts.Observe != nil {
		o.opts.Observe(m)
	}
}

// abort moves to StatusAborted. comp < 0 means the field itself is finite.
func (o *Optimizer) abort(v *field.Volume, comp, n int, last *quality.Metrics) error {
	o.status = StatusAborted
	e := &DivergenceError{Iteration: o.iteration, LastGood: last}
	if comp >= 0 {
		e.Component = field.ComponentName(comp)
		e.I, e.J, e.K = v.Coords(n)
	}
	monitoring.Logf("relax %s aborted: %v", o.grid.Dims, e)
	return e
}

func finite(x float64) bool { return !math.IsNaN(x) && !math.IsInf(x, 0) }
