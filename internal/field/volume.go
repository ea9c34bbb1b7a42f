package field

import "math"

// Vec3 is a single field vector.
type Vec3 struct {
	X, Y, Z float64
}

func (a Vec3) Add(b Vec3) Vec3      { return Vec3{a.X + b.X, a.Y + b.Y, a.Z + b.Z} }
func (a Vec3) Sub(b Vec3) Vec3      { return Vec3{a.X - b.X, a.Y - b.Y, a.Z - b.Z} }
func (a Vec3) Scale(s float64) Vec3 { return Vec3{a.X * s, a.Y * s, a.Z * s} }
func (a Vec3) Dot(b Vec3) float64   { return a.X*b.X + a.Y*b.Y + a.Z*b.Z }
func (a Vec3) Norm2() float64       { return a.Dot(a) }
func (a Vec3) Norm() float64        { return math.Sqrt(a.Dot(a)) }
func (a Vec3) Cross(b Vec3) Vec3 {
	return Vec3{
		X: a.Y*b.Z - a.Z*b.Y,
		Y: a.Z*b.X - a.X*b.Z,
		Z: a.X*b.Y - a.Y*b.X,
	}
}

// Component names used in diagnostics.
var componentNames = [3]string{"Bx", "By", "Bz"}

// ComponentName returns "Bx", "By" or "Bz".
func ComponentName(c int) string { return componentNames[c] }

// Volume is a dense vector field over a Dims grid, stored component-major.
type Volume struct {
	Dims
	X, Y, Z []float64
}

// NewVolume allocates a zero field.
func NewVolume(d Dims) *Volume {
	n := d.Voxels()
	return &Volume{Dims: d, X: make([]float64, n), Y: make([]float64, n), Z: make([]float64, n)}
}

// Component returns the backing slice of component c (0, 1, 2).
func (v *Volume) Component(c int) []float64 {
	switch c {
	case 0:
		return v.X
	case 1:
		return v.Y
	default:
		return v.Z
	}
}

// At returns the vector at voxel (i, j, k).
func (v *Volume) At(i, j, k int) Vec3 {
	n := v.Index(i, j, k)
	return Vec3{v.X[n], v.Y[n], v.Z[n]}
}

// Set stores b at voxel (i, j, k).
func (v *Volume) Set(i, j, k int, b Vec3) {
	n := v.Index(i, j, k)
	v.X[n], v.Y[n], v.Z[n] = b.X, b.Y, b.Z
}

// CopyFrom overwrites v with o. Both must share dimensions.
func (v *Volume) CopyFrom(o *Volume) {
	copy(v.X, o.X)
	copy(v.Y, o.Y)
	copy(v.Z, o.Z)
}

// Clone returns a deep copy.
func (v *Volume) Clone() *Volume {
	c := NewVolume(v.Dims)
	c.CopyFrom(v)
	return c
}

// NonFinite locates the first NaN or Inf value. ok is false when the field
// is entirely finite.
func (v *Volume) NonFinite() (component, index int, ok bool) {
	for c := 0; c < 3; c++ {
		for n, x := range v.Component(c) {
			if math.IsNaN(x) || math.IsInf(x, 0) {
				return c, n, true
			}
		}
	}
	return 0, 0, false
}

// Coords converts a linear index back to (i, j, k).
func (d Dims) Coords(n int) (i, j, k int) {
	i = n % d.NX
	j = (n / d.NX) % d.NY
	k = n / (d.NX * d.NY)
	return i, j, k
}

// Bytes returns the size of one volume in bytes.
func (d Dims) Bytes() int64 { return 3 * 8 * int64(d.Voxels()) }
