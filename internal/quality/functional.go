package quality

import "github.com/banshee-data/nlfff/internal/field"

// Weights parameterizes the relaxation functional
//
//	L = Wf Σ w |J×B|²/(|B|²+ε) + Wd Σ w (∇·B)² + Nu Σ_bottom m |B⊥-B⊥obs|²
//
// where the first two sums run over interior voxels with taper weight w.
type Weights struct {
	Wf, Wd  float64
	Nu      float64
	Epsilon float64
	ND      int
}

// Functional returns L and its three parts for v. obs and mask may be nil,
// which drops the photospheric term.
func Functional(v *field.Volume, obs *field.Boundary, mask *field.Mask, w Weights) (l, lf, ld, lphoto float64) {
	for k := 1; k < v.NZ-1; k++ {
		for j := 1; j < v.NY-1; j++ {
			for i := 1; i < v.NX-1; i++ {
				t := field.Taper(v.Dims, w.ND, i, j, k)
				if t == 0 {
					continue
				}
				b := v.At(i, j, k)
				f := v.Curl(i, j, k).Cross(b)
				d := v.Divergence(i, j, k)
				lf += t * f.Norm2() / (b.Norm2() + w.Epsilon)
				ld += t * d * d
			}
		}
	}
	lf *= w.Wf
	ld *= w.Wd
	if obs != nil && mask != nil && w.Nu > 0 {
		for p, m := range mask.W {
			dx, dy := v.X[p]-obs.X[p], v.Y[p]-obs.Y[p]
			lphoto += m * (dx*dx + dy*dy)
		}
		lphoto *= w.Nu
	}
	return lf + ld + lphoto, lf, ld, lphoto
}
