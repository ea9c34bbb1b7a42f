// Package quality evaluates force-free and divergence-free quality metrics
// over a field snapshot. Evaluation never mutates its input.
package quality

import (
	"math"

	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/nlfff/internal/field"
)

// Metrics is one quality snapshot.
type Metrics struct {
	Iteration int     `json:"iteration"`
	CWsin     float64 `json:"cwsin"`
	DivMean   float64 `json:"div_mean"`
	DivMax    float64 `json:"div_max"`
	L         float64 `json:"l"`
	Lf        float64 `json:"l_force"`
	Ld        float64 `json:"l_div"`
	Lphoto    float64 `json:"l_photo"`
	Energy    float64 `json:"energy"`
	Step      float64 `json:"step"`
}

// Finite reports whether every value of m is finite.
func (m Metrics) Finite() bool {
	for _, x := range []float64{m.CWsin, m.DivMean, m.DivMax, m.L, m.Lf, m.Ld, m.Lphoto, m.Energy} {
		if math.IsNaN(x) || math.IsInf(x, 0) {
			return false
		}
	}
	return true
}

// Angle returns CWsin expressed in degrees.
func (m Metrics) Angle() float64 {
	return math.Asin(math.Min(1, m.CWsin)) * 180 / math.Pi
}

// Runner splits [0, n) into contiguous chunks and calls fn for each,
// returning once every call has completed.
type Runner interface {
	Run(n int, fn func(lo, hi int))
}

type serial struct{}

func (serial) Run(n int, fn func(lo, hi int)) {
	if n > 0 {
		fn(0, n)
	}
}

// Engine evaluates metrics. The zero value is a serial engine without a
// taper.
type Engine struct {
	// ND is the taper depth. Only voxels with unit taper weight enter the
	// CWsin and divergence statistics.
	ND int
	// Runner parallelizes over z-planes. Nil runs serially.
	Runner Runner
}

// planeSums holds the partial reductions of one z-plane.
type planeSums struct {
	j      float64
	jsin   float64
	div    float64
	divMax float64
	count  int
}

// Evaluate computes CWsin, divergence statistics and energy for v. The
// functional fields of the result are left zero.
//
// Each plane is reduced independently and the planes are combined in order,
// so the result does not depend on the Runner.
func (e Engine) Evaluate(v *field.Volume) Metrics {
	run := e.Runner
	if run == nil {
		run = serial{}
	}
	planes := make([]planeSums, v.NZ)
	energy := make([]float64, v.NZ)

	run.Run(v.NZ, func(lo, hi int) {
		for k := lo; k < hi; k++ {
			energy[k] = planeEnergy(v, k)
		}
	})

	b2 := floats.Sum(energy)
	delta := 1e-12 * math.Sqrt(b2/float64(v.Voxels()))

	run.Run(v.NZ, func(lo, hi int) {
		for k := lo; k < hi; k++ {
			if k == 0 || k == v.NZ-1 {
				continue
			}
			e.planeStats(v, k, delta, &planes[k])
		}
	})

	var m Metrics
	var jsum, jsin, div float64
	var count int
	for _, p := range planes {
		jsum += p.j
		jsin += p.jsin
		div += p.div
		count += p.count
		m.DivMax = math.Max(m.DivMax, p.divMax)
	}
	if jsum > 0 {
		m.CWsin = jsin / jsum
	}
	if count > 0 {
		m.DivMean = div / float64(count)
	}
	m.Energy = b2 / (8 * math.Pi)
	return m
}

func planeEnergy(v *field.Volume, k int) float64 {
	n0 := k * v.Pixels()
	var s float64
	for n := n0; n < n0+v.Pixels(); n++ {
		s += v.X[n]*v.X[n] + v.Y[n]*v.Y[n] + v.Z[n]*v.Z[n]
	}
	return s
}

func (e Engine) planeStats(v *field.Volume, k int, delta float64, out *planeSums) {
	for j := 1; j < v.NY-1; j++ {
		for i := 1; i < v.NX-1; i++ {
			if field.Taper(v.Dims, e.ND, i, j, k) < 1 {
				continue
			}
			b := v.At(i, j, k)
			cur := v.Curl(i, j, k)
			bn := b.Norm()
			out.count++
			out.j += cur.Norm()
			if bn > 0 {
				// |J| sinθ = |J×B| / |B|
				out.jsin += cur.Cross(b).Norm() / bn
			}
			if d := math.Abs(v.Divergence(i, j, k)); d > 0 {
				nd := d / (bn + delta)
				out.div += nd
				out.divMax = math.Max(out.divMax, nd)
			}
		}
	}
}
