package relax

import (
	"github.com/banshee-data/nlfff/internal/field"
)

// Lateral boundary modes for the side and top faces.
const (
	// LateralOpen copies the adjacent interior layer onto the face.
	LateralOpen = "open"
	// LateralExtrapolated extrapolates linearly from two interior layers.
	LateralExtrapolated = "extrapolated"
	// LateralFixed keeps the face values of the initial field.
	LateralFixed = "fixed"
)

// ValidateLateral reports whether mode is a known lateral boundary mode.
func ValidateLateral(mode string) error {
	switch mode {
	case "", LateralOpen, LateralExtrapolated, LateralFixed:
		return nil
	}
	return field.Invalid("unknown lateral boundary %q (want %q, %q or %q)", mode, LateralOpen, LateralExtrapolated, LateralFixed)
}

// constraints derives the non-free voxels of a state from its free ones.
//
// Order: photosphere, x faces, y faces, then the top face, each from the
// layers already set. fold applies the adjoint in the reverse order so that
// gradients of derived voxels land on the parameters they came from.
type constraints struct {
	d    field.Dims
	mode string
	obs  *field.Boundary
	mask *field.Mask
}

// apply writes the photosphere and face voxels of s.
func (c *constraints) apply(s *State) {
	b, d := s.B, c.d
	for p, m := range c.mask.W {
		b.X[p] = (1-m)*s.Relaxed[0][p] + m*c.obs.X[p]
		b.Y[p] = (1-m)*s.Relaxed[1][p] + m*c.obs.Y[p]
		b.Z[p] = c.obs.Z[p]
	}
	if c.mode == LateralFixed {
		return
	}
	sx, sy, sz := 1, d.NX, d.NX*d.NY
	for comp := 0; comp < 3; comp++ {
		v := b.Component(comp)
		for k := 1; k < d.NZ; k++ {
			for j := 0; j < d.NY; j++ {
				n := d.Index(0, j, k)
				c.set(v, n, sx)
				c.set(v, n+(d.NX-1)*sx, -sx)
			}
			for i := 0; i < d.NX; i++ {
				n := d.Index(i, 0, k)
				c.set(v, n, sy)
				c.set(v, n+(d.NY-1)*sy, -sy)
			}
		}
		for n := d.Index(0, 0, d.NZ-1); n < d.Voxels(); n++ {
			c.set(v, n, -sz)
		}
	}
}

// set derives face voxel n from its inward neighbours at stride step.
func (c *constraints) set(v []float64, n, step int) {
	if c.mode == LateralExtrapolated {
		v[n] = 2*v[n+step] - v[n+2*step]
		return
	}
	v[n] = v[n+step]
}

// fold moves the gradient of derived voxels onto free parameters, writing
// the relaxed-field gradient into dir.GU. Afterwards dir.G is zero on every
// derived voxel.
func (c *constraints) fold(dir *Direction) {
	g, d := dir.G, c.d
	sx, sy, sz := 1, d.NX, d.NX*d.NY
	for comp := 0; comp < 3; comp++ {
		v := g.Component(comp)
		if c.mode == LateralFixed {
			c.zeroFaces(v)
			continue
		}
		for n := d.Index(0, 0, d.NZ-1); n < d.Voxels(); n++ {
			c.unset(v, n, -sz)
		}
		for k := d.NZ - 1; k >= 1; k-- {
			for i := d.NX - 1; i >= 0; i-- {
				n := d.Index(i, 0, k)
				c.unset(v, n+(d.NY-1)*sy, -sy)
				c.unset(v, n, sy)
			}
			for j := d.NY - 1; j >= 0; j-- {
				n := d.Index(0, j, k)
				c.unset(v, n+(d.NX-1)*sx, -sx)
				c.unset(v, n, sx)
			}
		}
	}
	for p, m := range c.mask.W {
		dir.GU[0][p] = (1 - m) * g.X[p]
		dir.GU[1][p] = (1 - m) * g.Y[p]
		g.X[p], g.Y[p], g.Z[p] = 0, 0, 0
	}
}

// unset is the adjoint of set.
func (c *constraints) unset(g []float64, n, step int) {
	gf := g[n]
	g[n] = 0
	if c.mode == LateralExtrapolated {
		g[n+step] += 2 * gf
		g[n+2*step] -= gf
		return
	}
	g[n+step] += gf
}

func (c *constraints) zeroFaces(g []float64) {
	d := c.d
	for k := 1; k < d.NZ; k++ {
		for j := 0; j < d.NY; j++ {
			for i := 0; i < d.NX; i++ {
				if k == d.NZ-1 || i == 0 || j == 0 || i == d.NX-1 || j == d.NY-1 {
					g[d.Index(i, j, k)] = 0
				}
			}
		}
	}
}
