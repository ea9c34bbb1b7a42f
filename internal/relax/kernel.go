package relax

import (
	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/nlfff/internal/field"
	"github.com/banshee-data/nlfff/internal/quality"
)

// State is one point in parameter space: the full field plus the free
// transverse field that the photospheric layer is blended from.
type State struct {
	B       *field.Volume
	Relaxed [2][]float64
}

func newState(d field.Dims) *State {
	return &State{
		B:       field.NewVolume(d),
		Relaxed: [2][]float64{make([]float64, d.Pixels()), make([]float64, d.Pixels())},
	}
}

// Direction is the gradient of the functional with respect to a State.
// G is zero on every voxel that is not a free parameter.
type Direction struct {
	G  *field.Volume
	GU [2][]float64
}

func newDirection(d field.Dims) *Direction {
	return &Direction{
		G:  field.NewVolume(d),
		GU: [2][]float64{make([]float64, d.Pixels()), make([]float64, d.Pixels())},
	}
}

// Functional is the value of the relaxation functional and its parts.
type Functional struct {
	L, Lf, Ld, Lphoto float64
}

// Problem is everything a kernel needs besides the state.
type Problem struct {
	Grid     field.Grid
	Boundary *field.Boundary
	Mask     *field.Mask
	Weights  quality.Weights
	Lateral  string
}

// Kernel is the per-iteration contract an execution backend implements.
// A Kernel owns scratch buffers and is not safe for concurrent use.
type Kernel interface {
	// Constrain rewrites the derived voxels of s from its free parameters.
	Constrain(s *State)
	// Evaluate returns the functional at s and writes its gradient to dir.
	Evaluate(s *State, dir *Direction) Functional
	// Advance writes cur - dt·dir into next and constrains it.
	Advance(cur *State, dir *Direction, dt float64, next *State)
}

// KernelFactory builds a kernel for a problem.
type KernelFactory func(p Problem, exec Executor) Kernel

// stencilKernel evaluates the functional with centred differences in three
// sweeps: local terms on interior voxels, the adjoint stencil on every voxel,
// then a serial fold of the derived faces.
type stencilKernel struct {
	p    Problem
	exec Executor
	bc   constraints

	q  *field.Volume
	r  []float64
	lf []float64
	ld []float64
}

// NewStencilKernel returns the CPU stencil kernel.
func NewStencilKernel(p Problem, exec Executor) Kernel {
	d := p.Grid.Dims
	return &stencilKernel{
		p:    p,
		exec: exec,
		bc:   constraints{d: d, mode: p.Lateral, obs: p.Boundary, mask: p.Mask},
		q:    field.NewVolume(d),
		r:    make([]float64, d.Voxels()),
		lf:   make([]float64, d.NZ),
		ld:   make([]float64, d.NZ),
	}
}

// WorkingSetBytes estimates the memory held by one optimizer over d: two
// states, two directions and the kernel's adjoint buffers.
func WorkingSetBytes(d field.Dims) int64 {
	const perVoxel = 2*3 + 2*3 + 3 + 1
	return 8 * (perVoxel*int64(d.Voxels()) + 8*int64(d.Pixels()))
}

func (kn *stencilKernel) Constrain(s *State) { kn.bc.apply(s) }

func (kn *stencilKernel) Evaluate(s *State, dir *Direction) Functional {
	d := s.B.Dims
	kn.exec.Run(d.NZ, func(lo, hi int) {
		for k := lo; k < hi; k++ {
			kn.lf[k], kn.ld[k] = kn.localPlane(s.B, dir.G, k)
		}
	})
	kn.exec.Run(d.NZ, func(lo, hi int) {
		for k := lo; k < hi; k++ {
			kn.adjointPlane(dir.G, k)
		}
	})

	w := kn.p.Weights
	var lphoto float64
	if w.Nu > 0 {
		b, obs := s.B, kn.p.Boundary
		for p, m := range kn.p.Mask.W {
			dx, dy := b.X[p]-obs.X[p], b.Y[p]-obs.Y[p]
			lphoto += m * (dx*dx + dy*dy)
			dir.G.X[p] += 2 * w.Nu * m * dx
			dir.G.Y[p] += 2 * w.Nu * m * dy
		}
		lphoto *= w.Nu
	}
	kn.bc.fold(dir)

	f := Functional{
		Lf:     w.Wf * floats.Sum(kn.lf),
		Ld:     w.Wd * floats.Sum(kn.ld),
		Lphoto: lphoto,
	}
	f.L = f.Lf + f.Ld + f.Lphoto
	return f
}

// localPlane computes the pointwise terms on plane k. It writes the direct
// gradient into g and the adjoint sources into kn.q and kn.r, and zeroes all
// three outside the tapered interior. It returns the unweighted plane sums.
func (kn *stencilKernel) localPlane(b, g *field.Volume, k int) (lf, ld float64) {
	d := b.Dims
	w := kn.p.Weights
	q, r := kn.q, kn.r
	for j := 0; j < d.NY; j++ {
		for i := 0; i < d.NX; i++ {
			n := d.Index(i, j, k)
			t := 0.0
			if d.Interior(i, j, k) {
				t = field.Taper(d, w.ND, i, j, k)
			}
			if t == 0 {
				g.X[n], g.Y[n], g.Z[n] = 0, 0, 0
				q.X[n], q.Y[n], q.Z[n] = 0, 0, 0
				r[n] = 0
				continue
			}

			bv := b.At(i, j, k)
			cur := b.Curl(i, j, k)
			div := b.Divergence(i, j, k)
			f := cur.Cross(bv)
			f2 := f.Norm2()
			s := bv.Norm2() + w.Epsilon
			lf += t * f2 / s
			ld += t * div * div

			// ∂/∂B of |F|²/s at fixed J, and the sources whose curl and
			// divergence adjoints complete the gradient.
			a := t * w.Wf
			direct := f.Cross(cur).Scale(2 * a / s).Sub(bv.Scale(2 * a * f2 / (s * s)))
			g.Set(i, j, k, direct)
			q.Set(i, j, k, bv.Cross(f).Scale(2*a/s))
			r[n] = 2 * t * w.Wd * div
		}
	}
	return lf, ld
}

// adjointPlane adds curl(Q) - grad(R) to g on plane k, treating Q and R as
// zero outside the grid.
func (kn *stencilKernel) adjointPlane(g *field.Volume, k int) {
	d := g.Dims
	q, r := kn.q, kn.r
	sy, sz := d.NX, d.NX*d.NY
	for j := 0; j < d.NY; j++ {
		for i := 0; i < d.NX; i++ {
			n := d.Index(i, j, k)
			dx := func(a []float64) float64 { return centred(a, n, 1, i > 0, i < d.NX-1) }
			dy := func(a []float64) float64 { return centred(a, n, sy, j > 0, j < d.NY-1) }
			dz := func(a []float64) float64 { return centred(a, n, sz, k > 0, k < d.NZ-1) }
			g.X[n] += dy(q.Z) - dz(q.Y) - dx(r)
			g.Y[n] += dz(q.X) - dx(q.Z) - dy(r)
			g.Z[n] += dx(q.Y) - dy(q.X) - dz(r)
		}
	}
}

// centred is (a[n+step] - a[n-step]) / 2 with out-of-grid neighbours zero.
func centred(a []float64, n, step int, hasLo, hasHi bool) float64 {
	var v float64
	if hasHi {
		v += a[n+step]
	}
	if hasLo {
		v -= a[n-step]
	}
	return 0.5 * v
}

func (kn *stencilKernel) Advance(cur *State, dir *Direction, dt float64, next *State) {
	d := cur.B.Dims
	np := d.Pixels()
	kn.exec.Run(d.NZ, func(lo, hi int) {
		for c := 0; c < 3; c++ {
			src, grad, dst := cur.B.Component(c), dir.G.Component(c), next.B.Component(c)
			for n := lo * np; n < hi*np; n++ {
				dst[n] = src[n] - dt*grad[n]
			}
		}
	})
	for c := 0; c < 2; c++ {
		for p := range cur.Relaxed[c] {
			next.Relaxed[c][p] = cur.Relaxed[c][p] - dt*dir.GU[c][p]
		}
	}
	kn.bc.apply(next)
}
