package field

import (
	"fmt"
	"math"
)

// Dims is the voxel extent of a volume.
type Dims struct {
	NX, NY, NZ int
}

// Voxels returns NX*NY*NZ.
func (d Dims) Voxels() int { return d.NX * d.NY * d.NZ }

// Pixels returns the size of one horizontal layer.
func (d Dims) Pixels() int { return d.NX * d.NY }

// Index returns the linear index of voxel (i, j, k).
func (d Dims) Index(i, j, k int) int { return i + d.NX*(j+d.NY*k) }

// Interior reports whether (i, j, k) has a full centred-difference stencil.
func (d Dims) Interior(i, j, k int) bool {
	return i > 0 && i < d.NX-1 && j > 0 && j < d.NY-1 && k > 0 && k < d.NZ-1
}

func (d Dims) String() string { return fmt.Sprintf("%dx%dx%d", d.NX, d.NY, d.NZ) }

// Validate checks the horizontal extents are positive multiples of four and
// that the volume has at least one interior layer.
func (d Dims) Validate() error {
	if d.NX < 4 || d.NX%4 != 0 {
		return Invalid("nx must be a positive multiple of 4, got %d", d.NX)
	}
	if d.NY < 4 || d.NY%4 != 0 {
		return Invalid("ny must be a positive multiple of 4, got %d", d.NY)
	}
	if d.NZ < 3 {
		return Invalid("nz must be at least 3, got %d", d.NZ)
	}
	return nil
}

// Default relaxation parameters used when a grid file omits them.
const (
	DefaultMu = 0.1
	DefaultNu = 0.001
)

// Grid is one multigrid level: its dimensions and relaxation parameters.
// A Grid is immutable once loaded.
type Grid struct {
	Dims

	// Mu is the initial pseudo-time step of the descent.
	Mu float64
	// Nu weights the photospheric misfit term of the functional.
	Nu float64
	// ND is the depth in voxels of the tapered layer next to the lateral
	// and top faces. Zero disables the taper.
	ND int
}

// Validate checks dimensions and parameters.
func (g Grid) Validate() error {
	if err := g.Dims.Validate(); err != nil {
		return err
	}
	if math.IsNaN(g.Mu) || math.IsInf(g.Mu, 0) || g.Mu <= 0 {
		return Invalid("mu must be positive and finite, got %g", g.Mu)
	}
	if math.IsNaN(g.Nu) || math.IsInf(g.Nu, 0) || g.Nu < 0 {
		return Invalid("nu must be non-negative and finite, got %g", g.Nu)
	}
	if g.ND < 0 {
		return Invalid("nd must be non-negative, got %d", g.ND)
	}
	// At least one interior voxel must keep taper weight 1.
	if limit := min((min(g.NX, g.NY)-1)/2, g.NZ-2); g.ND > limit {
		return Invalid("nd=%d leaves no untapered interior voxel in %s (max %d)", g.ND, g.Dims, limit)
	}
	return nil
}

// Taper returns the boundary-layer weight of voxel (i, j, k). The weight is
// one in the physical domain and falls to zero at the lateral and top faces
// over nd voxels with a cosine profile. The photosphere is not tapered.
func Taper(d Dims, nd, i, j, k int) float64 {
	if nd <= 0 {
		return 1
	}
	dist := min(i, d.NX-1-i, j, d.NY-1-j, d.NZ-1-k)
	if dist >= nd {
		return 1
	}
	return 0.5 * (1 - math.Cos(math.Pi*float64(dist)/float64(nd)))
}
