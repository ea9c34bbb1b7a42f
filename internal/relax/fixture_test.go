package relax

import (
	"math"
	"math/rand"

	"github.com/banshee-data/nlfff/internal/field"
)

// monopoles returns the exact field of two opposite charges below the
// photosphere.
func monopoles(d field.Dims, depth, a float64) func(x, y, z float64) field.Vec3 {
	xc, yc := float64(d.NX-1)/2, float64(d.NY-1)/2
	return func(x, y, z float64) field.Vec3 {
		var b field.Vec3
		for _, s := range [][4]float64{{xc - a, yc, -depth, 1}, {xc + a, yc, -depth, -1}} {
			r := field.Vec3{X: x - s[0], Y: y - s[1], Z: z - s[2]}
			b = b.Add(r.Scale(s[3] / math.Pow(r.Norm2(), 1.5)))
		}
		return b
	}
}

// shearedBipole is a current-free seed whose measured transverse field has
// been sheared along y, so relaxation has work to do.
func shearedBipole(d field.Dims) (*field.Boundary, *field.Mask, *field.Volume) {
	f := monopoles(d, 3, 2.5)
	seed := field.NewVolume(d)
	for k := 0; k < d.NZ; k++ {
		for j := 0; j < d.NY; j++ {
			for i := 0; i < d.NX; i++ {
				seed.Set(i, j, k, f(float64(i), float64(j), float64(k)))
			}
		}
	}
	b := field.NewBoundary(d.NX, d.NY)
	m := &field.Mask{NX: d.NX, NY: d.NY, W: make([]float64, d.Pixels())}
	for p := 0; p < d.Pixels(); p++ {
		b.X[p], b.Y[p], b.Z[p] = seed.X[p], seed.Y[p]+0.8*seed.Z[p], seed.Z[p]
		m.W[p] = 0.3
		if math.Abs(seed.Z[p]) > 0.02 {
			m.W[p] = 1
		}
	}
	return b, m, seed
}

// randomProblem fills a state and boundary with reproducible noise.
func randomProblem(d field.Dims, seed int64) (*field.Boundary, *field.Mask, *State) {
	rng := rand.New(rand.NewSource(seed))
	b := field.NewBoundary(d.NX, d.NY)
	m := &field.Mask{NX: d.NX, NY: d.NY, W: make([]float64, d.Pixels())}
	for p := range m.W {
		b.X[p], b.Y[p], b.Z[p] = rng.Float64()-0.5, rng.Float64()-0.5, rng.Float64()+0.2
		m.W[p] = []float64{0, 0.5, 1}[p%3]
	}
	s := newState(d)
	for c := 0; c < 3; c++ {
		for n := range s.B.Component(c) {
			s.B.Component(c)[n] = 2*rng.Float64() - 1
		}
	}
	for c := 0; c < 2; c++ {
		for p := range s.Relaxed[c] {
			s.Relaxed[c][p] = rng.Float64() - 0.5
		}
	}
	return b, m, s
}

func cloneState(s *State) *State {
	c := &State{B: s.B.Clone()}
	for i := range s.Relaxed {
		c.Relaxed[i] = append([]float64(nil), s.Relaxed[i]...)
	}
	return c
}
