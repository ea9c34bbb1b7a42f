package field

// Resample maps src onto a grid of extent to by trilinear interpolation.
// Corner voxels of both grids coincide, so the photospheric layer of the
// result is interpolated from the photospheric layer of src only.
func Resample(src *Volume, to Dims) *Volume {
	dst := NewVolume(to)
	xs := axisWeights(src.NX, to.NX)
	ys := axisWeights(src.NY, to.NY)
	zs := axisWeights(src.NZ, to.NZ)
	sy, sz := src.NX, src.NX*src.NY

	for k, wz := range zs {
		for j, wy := range ys {
			for i, wx := range xs {
				base := wx.lo + sy*wy.lo + sz*wz.lo
				n := to.Index(i, j, k)
				for c := 0; c < 3; c++ {
					s := src.Component(c)
					c00 := lerp(s[base], s[base+1], wx.f)
					c10 := lerp(s[base+sy], s[base+sy+1], wx.f)
					c01 := lerp(s[base+sz], s[base+sz+1], wx.f)
					c11 := lerp(s[base+sy+sz], s[base+sy+sz+1], wx.f)
					dst.Component(c)[n] = lerp(lerp(c00, c10, wy.f), lerp(c01, c11, wy.f), wz.f)
				}
			}
		}
	}
	return dst
}

type axisWeight struct {
	lo int
	f  float64
}

// axisWeights returns, for each destination index, the lower source index
// and the fractional offset towards lo+1.
func axisWeights(from, to int) []axisWeight {
	w := make([]axisWeight, to)
	if to == 1 || from == 1 {
		return w
	}
	scale := float64(from-1) / float64(to-1)
	for d := range w {
		x := float64(d) * scale
		lo := int(x)
		if lo > from-2 {
			lo = from - 2
		}
		w[d] = axisWeight{lo: lo, f: x - float64(lo)}
	}
	return w
}

func lerp(a, b, f float64) float64 { return a + f*(b-a) }
