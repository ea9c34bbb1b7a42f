package field

import "math"

// Boundary is the measured photospheric vector field.
type Boundary struct {
	NX, NY  int
	X, Y, Z []float64
}

// NewBoundary allocates a zero boundary.
func NewBoundary(nx, ny int) *Boundary {
	n := nx * ny
	return &Boundary{NX: nx, NY: ny, X: make([]float64, n), Y: make([]float64, n), Z: make([]float64, n)}
}

// Validate checks that the boundary matches d and holds only finite values.
func (b *Boundary) Validate(d Dims) error {
	if b.NX != d.NX || b.NY != d.NY {
		return Invalid("boundary is %dx%d, grid expects %dx%d", b.NX, b.NY, d.NX, d.NY)
	}
	n := d.Pixels()
	if len(b.X) != n || len(b.Y) != n || len(b.Z) != n {
		return Invalid("boundary has %d/%d/%d values, grid expects %d", len(b.X), len(b.Y), len(b.Z), n)
	}
	for p := 0; p < n; p++ {
		if !finite(b.X[p]) || !finite(b.Y[p]) || !finite(b.Z[p]) {
			return Invalid("boundary pixel (%d,%d) is not finite", p%b.NX, p/b.NX)
		}
	}
	return nil
}

// Photosphere extracts the bottom layer of v as a Boundary.
func Photosphere(v *Volume) *Boundary {
	b := NewBoundary(v.NX, v.NY)
	n := v.Pixels()
	copy(b.X, v.X[:n])
	copy(b.Y, v.Y[:n])
	copy(b.Z, v.Z[:n])
	return b
}

// Mask holds the per-pixel confidence of the measured transverse field.
// A weight of 0 lets the pixel relax freely; 1 pins it to the measurement.
type Mask struct {
	NX, NY int
	W      []float64
}

// UniformMask returns a mask with every weight set to w.
func UniformMask(nx, ny int, w float64) *Mask {
	m := &Mask{NX: nx, NY: ny, W: make([]float64, nx*ny)}
	for p := range m.W {
		m.W[p] = w
	}
	return m
}

// Validate checks size and that every weight is finite and within [0, 1].
func (m *Mask) Validate(d Dims) error {
	if m.NX != d.NX || m.NY != d.NY || len(m.W) != d.Pixels() {
		return Invalid("mask has %d values, grid expects %d", len(m.W), d.Pixels())
	}
	for p, w := range m.W {
		if !finite(w) || w < 0 || w > 1 {
			return Invalid("mask pixel (%d,%d) = %g is outside [0, 1]", p%m.NX, p/m.NX, w)
		}
	}
	return nil
}

func finite(x float64) bool { return !math.IsNaN(x) && !math.IsInf(x, 0) }
