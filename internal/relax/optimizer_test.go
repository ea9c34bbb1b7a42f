package relax

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/nlfff/internal/field"
	"github.com/banshee-data/nlfff/internal/monitoring"
	"github.com/banshee-data/nlfff/internal/quality"
)

func quiet(t *testing.T) {
	t.Helper()
	orig := monitoring.Logf
	monitoring.SetLogger(nil)
	t.Cleanup(func() { monitoring.Logf = orig })
}

// neverConverge keeps every run going to its iteration budget.
func neverConverge(o Options) Options {
	o.CWsinThreshold, o.DivMeanThreshold, o.DivMaxThreshold = 0, 0, 0
	return o
}

func TestRunZeroFieldConverges(t *testing.T) {
	quiet(t)
	d := field.Dims{NX: 8, NY: 8, NZ: 4}
	g := field.Grid{Dims: d, Mu: field.DefaultMu, Nu: field.DefaultNu}
	opt, err := New(g, field.NewBoundary(8, 8), field.UniformMask(8, 8, 0), field.NewVolume(d), DefaultOptions())
	require.NoError(t, err)
	assert.Equal(t, StatusInitializing, opt.Status())

	res, err := opt.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusConverged, res.Status)
	assert.True(t, res.Status.Converged())
	assert.Equal(t, DefaultStableWindow-1, res.Iterations)
	assert.Len(t, res.History, DefaultStableWindow)
	assert.Equal(t, 0.0, res.Final.CWsin)
	assert.Equal(t, 0.0, res.Final.DivMax)
	assert.Equal(t, 0.0, res.Final.Energy)
	assert.Equal(t, 1e-30, res.Epsilon)
	_, _, bad := res.Field.NonFinite()
	assert.False(t, bad)
}

func TestRunDescends(t *testing.T) {
	quiet(t)
	d := field.Dims{NX: 12, NY: 12, NZ: 6}
	b, m, seed := shearedBipole(d)
	g := field.Grid{Dims: d, Mu: 0.1, Nu: field.DefaultNu, ND: 2}
	opts := neverConverge(DefaultOptions())
	opts.MaxIterations = 60

	var observed int
	opts.Observe = func(quality.Metrics) { observed++ }
	orig := seed.Clone()
	opt, err := New(g, b, m, seed, opts)
	require.NoError(t, err)
	res, err := opt.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, StatusMaxIterations, res.Status)
	assert.Equal(t, 60, res.Iterations)
	assert.Equal(t, 60, res.Accepted+res.Rejected)
	assert.Equal(t, 61, observed)
	require.Len(t, res.History, 61)
	for i := 1; i < len(res.History); i++ {
		if res.History[i].L > res.History[i-1].L {
			t.Fatalf("L rose at iteration %d: %g -> %g", i, res.History[i-1].L, res.History[i].L)
		}
		assert.Equal(t, i, res.History[i].Iteration)
	}
	assert.Less(t, res.Final.L, 0.5*res.History[0].L)
	assert.Greater(t, res.Accepted, res.Rejected)

	// The photosphere stays pinned where the mask trusts the measurement.
	for p, w := range m.W {
		require.Equal(t, b.Z[p], res.Field.Z[p])
		if w == 1 {
			require.Equal(t, b.X[p], res.Field.X[p])
			require.Equal(t, b.Y[p], res.Field.Y[p])
		}
	}
	// The caller's seed is not modified.
	assert.Equal(t, orig, seed)
}

func TestRunSerialAndPoolAgree(t *testing.T) {
	quiet(t)
	d := field.Dims{NX: 12, NY: 8, NZ: 6}
	b, m, seed := shearedBipole(d)
	g := field.Grid{Dims: d, Mu: 0.1, Nu: 0.01, ND: 1}

	run := func(backend string, threads int) *Result {
		exec, err := NewExecutor(backend, threads)
		require.NoError(t, err)
		opts := neverConverge(DefaultOptions())
		opts.MaxIterations = 15
		opts.Executor = exec
		opt, err := New(g, b, m, seed, opts)
		require.NoError(t, err)
		res, err := opt.Run(context.Background())
		require.NoError(t, err)
		return res
	}
	serial := run(BackendSerial, 0)
	pool := run(BackendCPU, 4)
	assert.Equal(t, serial.History, pool.History)
	assert.Equal(t, serial.Field, pool.Field)
}

func TestRunNonFiniteSeedAborts(t *testing.T) {
	quiet(t)
	d := field.Dims{NX: 8, NY: 8, NZ: 4}
	seed := field.NewVolume(d)
	seed.Y[d.Index(2, 3, 1)] = math.NaN()
	opt, err := New(field.Grid{Dims: d, Mu: 0.1}, field.NewBoundary(8, 8), nil, seed, DefaultOptions())
	require.NoError(t, err)

	_, err = opt.Run(context.Background())
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrNumericalDivergence))
	var de *DivergenceError
	require.True(t, errors.As(err, &de))
	assert.Equal(t, 0, de.Iteration)
	assert.Equal(t, "By", de.Component)
	assert.Equal(t, [3]int{2, 3, 1}, [3]int{de.I, de.J, de.K})
	assert.Nil(t, de.LastGood)
	assert.Equal(t, StatusAborted, opt.Status())
}

// poisoned wraps a kernel and writes an Inf into the trial state on a given
// Advance call.
type poisoned struct {
	Kernel
	at, calls int
}

func (p *poisoned) Advance(cur *State, dir *Direction, dt float64, next *State) {
	p.Kernel.Advance(cur, dir, dt, next)
	p.calls++
	if p.calls == p.at {
		next.B.Z[next.B.Index(3, 4, 2)] = math.Inf(1)
	}
}

func TestRunDivergenceMidRun(t *testing.T) {
	quiet(t)
	d := field.Dims{NX: 12, NY: 12, NZ: 6}
	b, m, seed := shearedBipole(d)
	opts := neverConverge(DefaultOptions())
	opts.MaxIterations = 20
	opts.Kernel = func(p Problem, exec Executor) Kernel {
		return &poisoned{Kernel: NewStencilKernel(p, exec), at: 4}
	}
	opt, err := New(field.Grid{Dims: d, Mu: 0.1}, b, m, seed, opts)
	require.NoError(t, err)

	_, err = opt.Run(context.Background())
	var de *DivergenceError
	require.ErrorAs(t, err, &de)
	assert.Equal(t, 4, de.Iteration)
	assert.Equal(t, "Bz", de.Component)
	assert.Equal(t, [3]int{3, 4, 2}, [3]int{de.I, de.J, de.K})
	require.NotNil(t, de.LastGood)
	assert.Equal(t, 3, de.LastGood.Iteration)
	assert.Contains(t, err.Error(), "voxel (3,4,2)")
}

func TestRunStalls(t *testing.T) {
	quiet(t)
	d := field.Dims{NX: 8, NY: 8, NZ: 4}
	b, m, seed := shearedBipole(d)
	opts := neverConverge(DefaultOptions())
	opts.MinStep = 1
	opt, err := New(field.Grid{Dims: d, Mu: 0.1}, b, m, seed, opts)
	require.NoError(t, err)
	res, err := opt.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, StatusStalled, res.Status)
	assert.Equal(t, 1, res.Iterations)
	assert.True(t, res.Status.Terminal())
}

func TestRunCancelled(t *testing.T) {
	quiet(t)
	d := field.Dims{NX: 8, NY: 8, NZ: 4}
	b, m, seed := shearedBipole(d)
	opt, err := New(field.Grid{Dims: d, Mu: 0.1}, b, m, seed, neverConverge(DefaultOptions()))
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = opt.Run(ctx)
	assert.ErrorIs(t, err, context.Canceled)

	_, err = opt.Run(context.Background())
	assert.Error(t, err, "second run must fail")
}

func TestNewValidates(t *testing.T) {
	d := field.Dims{NX: 8, NY: 8, NZ: 4}
	g := field.Grid{Dims: d, Mu: 0.1}
	b := field.NewBoundary(8, 8)
	v := field.NewVolume(d)

	_, err := New(g, b, nil, field.NewVolume(field.Dims{NX: 8, NY: 8, NZ: 5}), DefaultOptions())
	assert.ErrorIs(t, err, field.ErrValidation)

	opts := DefaultOptions()
	opts.Lateral = "reflecting"
	_, err = New(g, b, nil, v, opts)
	assert.ErrorIs(t, err, field.ErrValidation)

	opts = DefaultOptions()
	opts.StepShrink = 1
	_, err = New(g, b, nil, v, opts)
	assert.ErrorIs(t, err, field.ErrValidation)

	opts = DefaultOptions()
	opts.MaxMemoryBytes = 1024
	_, err = New(g, b, nil, v, opts)
	var re *field.ResourceError
	require.ErrorAs(t, err, &re)
	assert.Equal(t, d, re.Dims)
	assert.ErrorIs(t, err, field.ErrResource)
}

func TestNewExecutor(t *testing.T) {
	_, err := NewExecutor(BackendGPU, 0)
	assert.ErrorIs(t, err, field.ErrValidation)
	_, err = NewExecutor("tpu", 0)
	assert.ErrorIs(t, err, field.ErrValidation)

	e, err := NewExecutor(BackendCPU, 3)
	require.NoError(t, err)
	assert.Equal(t, 3, e.Workers())

	e, err = NewExecutor(BackendSerial, 8)
	require.NoError(t, err)
	assert.Equal(t, 1, e.Workers())

	// Every index is visited exactly once.
	pool := &poolExecutor{workers: 4}
	seen := make([]int, 10)
	pool.Run(len(seen), func(lo, hi int) {
		for i := lo; i < hi; i++ {
			seen[i]++
		}
	})
	for i, n := range seen {
		assert.Equal(t, 1, n, "index %d", i)
	}
}

func TestDeepTaperStillMeasuresField(t *testing.T) {
	quiet(t)
	d := field.Dims{NX: 8, NY: 8, NZ: 8}
	b, m, s := randomProblem(d, 7)

	g := field.Grid{Dims: d, Mu: field.DefaultMu, Nu: field.DefaultNu, ND: 4}
	_, err := New(g, b, m, s.B, DefaultOptions())
	require.ErrorIs(t, err, field.ErrValidation)

	g.ND = 3
	opts := DefaultOptions()
	opts.MaxIterations = 3
	opt, err := New(g, b, m, s.B, opts)
	require.NoError(t, err)
	res, err := opt.Run(context.Background())
	require.NoError(t, err)
	assert.NotEqual(t, StatusConverged, res.Status)
	assert.Greater(t, res.History[0].CWsin, 0.0)
	assert.Greater(t, res.History[0].DivMean, 0.0)
}
