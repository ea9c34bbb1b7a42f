package potential

import (
	"gonum.org/v1/gonum/dsp/fourier"

	"github.com/banshee-data/nlfff/internal/field"
)

// spectrum is a 2D complex array of size px×py, x fastest.
type spectrum []complex128

// plan2D performs 2D transforms by rows then columns. A plan carries scratch
// buffers and must not be shared between goroutines.
type plan2D struct {
	px, py   int
	row, col *fourier.CmplxFFT
	in, res  []complex128
	scale    float64
}

func newPlan2D(px, py int) *plan2D {
	pl := &plan2D{
		px:  px,
		py:  py,
		row: fourier.NewCmplxFFT(px),
		col: fourier.NewCmplxFFT(py),
		in:  make([]complex128, max(px, py)),
		res: make([]complex128, max(px, py)),
	}
	pl.scale = 1 / (inverseGain(pl.row) * inverseGain(pl.col))
	return pl
}

// inverseGain measures the factor a forward and inverse transform pair
// applies to its input.
func inverseGain(f *fourier.CmplxFFT) float64 {
	n := f.Len()
	seq := make([]complex128, n)
	seq[0] = 1
	coeff := f.Coefficients(nil, seq)
	back := f.Sequence(nil, coeff)
	return real(back[0])
}

func (pl *plan2D) transform(s spectrum, forward bool) {
	apply := func(f *fourier.CmplxFFT, dst, src []complex128) {
		if forward {
			f.Coefficients(dst, src)
		} else {
			f.Sequence(dst, src)
		}
	}
	px, py := pl.px, pl.py
	in, res := pl.in[:px], pl.res[:px]
	for j := 0; j < py; j++ {
		copy(in, s[j*px:(j+1)*px])
		apply(pl.row, res, in)
		copy(s[j*px:(j+1)*px], res)
	}
	in, res = pl.in[:py], pl.res[:py]
	for i := 0; i < px; i++ {
		for j := 0; j < py; j++ {
			in[j] = s[i+px*j]
		}
		apply(pl.col, res, in)
		for j := 0; j < py; j++ {
			s[i+px*j] = res[j]
		}
	}
	if !forward {
		for n := range s {
			s[n] *= complex(pl.scale, 0)
		}
	}
}

// newFFTLayer returns a layer evaluator that performs the Green's-function
// sum as a linear convolution on a zero-padded 2nx×2ny grid.
func newFFTLayer(d field.Dims, bz []float64) layerFunc {
	px, py := 2*d.NX, 2*d.NY
	src := make(spectrum, px*py)
	for j := 0; j < d.NY; j++ {
		for i := 0; i < d.NX; i++ {
			src[i+px*j] = complex(bz[i+d.NX*j], 0)
		}
	}
	newPlan2D(px, py).transform(src, true)

	return func(out *field.Volume, _ []float64, k int) {
		pl := newPlan2D(px, py)
		kn := newKernel(d.NX, d.NY, height(k))
		buf := make(spectrum, px*py)
		base := k * d.Pixels()
		for c, comp := range [3][]float64{kn.x, kn.y, kn.z} {
			wrapKernel(buf, comp, d.NX, d.NY, px, py)
			pl.transform(buf, true)
			for n := range buf {
				buf[n] *= src[n]
			}
			pl.transform(buf, false)
			dst := out.Component(c)[base : base+d.Pixels()]
			for j := 0; j < d.NY; j++ {
				for i := 0; i < d.NX; i++ {
					dst[i+d.NX*j] = real(buf[i+px*j])
				}
			}
		}
	}
}

// wrapKernel places kernel offsets into buf with negative offsets wrapped to
// the far end of each axis. The unused offset ±nx (and ±ny) stays zero.
func wrapKernel(buf spectrum, comp []float64, nx, ny, px, py int) {
	for n := range buf {
		buf[n] = 0
	}
	w := 2*nx - 1
	for oy := 0; oy < 2*ny-1; oy++ {
		dy := oy - (ny - 1)
		y := (dy + py) % py
		for ox := 0; ox < w; ox++ {
			dx := ox - (nx - 1)
			x := (dx + px) % px
			buf[x+px*y] = complex(comp[ox+w*oy], 0)
		}
	}
}
