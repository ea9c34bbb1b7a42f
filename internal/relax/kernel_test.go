package relax

import (
	"fmt"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/nlfff/internal/field"
	"github.com/banshee-data/nlfff/internal/quality"
)

func TestGradientMatchesFiniteDifferences(t *testing.T) {
	d := field.Dims{NX: 8, NY: 8, NZ: 6}
	for _, mode := range []string{LateralOpen, LateralExtrapolated, LateralFixed} {
		for _, nd := range []int{0, 2} {
			t.Run(fmt.Sprintf("%s/nd=%d", mode, nd), func(t *testing.T) {
				b, m, s := randomProblem(d, 11)
				p := Problem{
					Grid:     field.Grid{Dims: d, Mu: 0.1, Nu: 0.05, ND: nd},
					Boundary: b,
					Mask:     m,
					Lateral:  mode,
					Weights:  quality.Weights{Wf: 1, Wd: 0.7, Nu: 0.05, Epsilon: 0.01, ND: nd},
				}
				kn := NewStencilKernel(p, serialExecutor{})
				kn.Constrain(s)
				dir := newDirection(d)
				kn.Evaluate(s, dir)

				loss := func(perturb func(*State)) float64 {
					c := cloneState(s)
					perturb(c)
					kn.Constrain(c)
					return kn.Evaluate(c, newDirection(d)).L
				}
				const h = 1e-6
				check := func(name string, got float64, at func(*State) *float64) {
					t.Helper()
					lp := loss(func(c *State) { *at(c) += h })
					lm := loss(func(c *State) { *at(c) -= h })
					fd := (lp - lm) / (2 * h)
					if math.Abs(fd-got) > 1e-5+1e-5*math.Abs(fd) {
						t.Errorf("%s: gradient %.10g, finite difference %.10g", name, got, fd)
					}
				}

				for k := 1; k < d.NZ-1; k++ {
					for j := 1; j < d.NY-1; j += 2 {
						for i := 1; i < d.NX-1; i += 3 {
							n := d.Index(i, j, k)
							for c := 0; c < 3; c++ {
								check(fmt.Sprintf("%s(%d,%d,%d)", field.ComponentName(c), i, j, k),
									dir.G.Component(c)[n],
									func(st *State) *float64 { return &st.B.Component(c)[n] })
							}
						}
					}
				}
				for px := 0; px < d.Pixels(); px += 5 {
					for c := 0; c < 2; c++ {
						check(fmt.Sprintf("relaxed[%d][%d]", c, px), dir.GU[c][px],
							func(st *State) *float64 { return &st.Relaxed[c][px] })
					}
				}

				// Derived voxels carry no gradient.
				top := d.Index(3, 3, d.NZ-1)
				side := d.Index(0, 3, 2)
				for c := 0; c < 3; c++ {
					assert.Equal(t, 0.0, dir.G.Component(c)[top])
					assert.Equal(t, 0.0, dir.G.Component(c)[side])
					assert.Equal(t, 0.0, dir.G.Component(c)[d.Index(4, 4, 0)])
				}
			})
		}
	}
}

func TestEvaluateMatchesQualityFunctional(t *testing.T) {
	d := field.Dims{NX: 8, NY: 12, NZ: 5}
	b, m, s := randomProblem(d, 3)
	w := quality.Weights{Wf: 0.8, Wd: 1.3, Nu: 0.2, Epsilon: 1e-3, ND: 1}
	kn := NewStencilKernel(Problem{
		Grid:     field.Grid{Dims: d, Mu: 0.1, Nu: w.Nu, ND: w.ND},
		Boundary: b,
		Mask:     m,
		Lateral:  LateralOpen,
		Weights:  w,
	}, serialExecutor{})
	kn.Constrain(s)
	got := kn.Evaluate(s, newDirection(d))

	l, lf, ld, lphoto := quality.Functional(s.B, b, m, w)
	assert.InEpsilon(t, l, got.L, 1e-12)
	assert.InEpsilon(t, lf, got.Lf, 1e-12)
	assert.InEpsilon(t, ld, got.Ld, 1e-12)
	assert.InEpsilon(t, lphoto, got.Lphoto, 1e-12)
}

func TestConstrainPinsPhotosphere(t *testing.T) {
	d := field.Dims{NX: 8, NY: 8, NZ: 4}
	b, m, s := randomProblem(d, 5)
	kn := NewStencilKernel(Problem{Grid: field.Grid{Dims: d, Mu: 0.1}, Boundary: b, Mask: m, Lateral: LateralOpen}, serialExecutor{})
	kn.Constrain(s)
	for p, w := range m.W {
		require.Equal(t, b.Z[p], s.B.Z[p])
		assert.InDelta(t, (1-w)*s.Relaxed[0][p]+w*b.X[p], s.B.X[p], 1e-15)
	}
	// Open faces copy the adjacent interior layer.
	assert.Equal(t, s.B.At(1, 3, 2), s.B.At(0, 3, 2))
	assert.Equal(t, s.B.At(5, 5, d.NZ-2), s.B.At(5, 5, d.NZ-1))
}

func TestWorkingSetBytes(t *testing.T) {
	d := field.Dims{NX: 8, NY: 8, NZ: 4}
	assert.Equal(t, int64(8*(16*256+8*64)), WorkingSetBytes(d))
}
