// Package potential computes the current-free field that matches the normal
// component of a photospheric boundary.
//
// The field is the half-space Green's-function solution
//
//	B(r) = 1/(2π) Σ_p Bz(p) (r - r_p) / |r - r_p|³
//
// with unit pixel spacing. Layer k ≥ 1 is evaluated at height z = k. The
// photospheric layer uses the monopole sheet lowered by 1/√(2π), which makes
// the self term of Bz exactly one, and Bz is then pinned to the input.
package potential

import (
	"context"
	"fmt"
	"math"
	"runtime"

	"golang.org/x/sync/errgroup"

	"github.com/banshee-data/nlfff/internal/field"
)

// Evaluator names accepted by Options.Method.
const (
	MethodDirect = "direct"
	MethodFFT    = "fft"
)

// sheetDepth is the photospheric evaluation height.
var sheetDepth = 1 / math.Sqrt(2*math.Pi)

// Options selects the evaluator and its parallelism.
type Options struct {
	// Method is MethodDirect or MethodFFT. Empty means MethodFFT.
	Method string
	// Workers bounds the number of layers evaluated concurrently.
	// Zero or negative uses GOMAXPROCS.
	Workers int
}

func (o Options) workers() int {
	if o.Workers > 0 {
		return o.Workers
	}
	return runtime.GOMAXPROCS(0)
}

// ValidateMethod reports whether name is a known evaluator.
func ValidateMethod(name string) error {
	switch name {
	case "", MethodDirect, MethodFFT:
		return nil
	}
	return field.Invalid("unknown potential method %q (want %q or %q)", name, MethodDirect, MethodFFT)
}

// Compute returns the potential field over d for boundary b. When m is not
// nil the photospheric transverse components are blended with the measured
// ones as (1-m)·potential + m·measured.
//
// The result depends only on b, m and d. An all-zero boundary yields an
// all-zero field.
func Compute(ctx context.Context, d field.Dims, b *field.Boundary, m *field.Mask, opts Options) (*field.Volume, error) {
	if err := d.Validate(); err != nil {
		return nil, err
	}
	if err := ValidateMethod(opts.Method); err != nil {
		return nil, err
	}
	if b == nil {
		return nil, field.Invalid("potential field needs a boundary")
	}
	if err := b.Validate(d); err != nil {
		return nil, fmt.Errorf("potential boundary: %w", err)
	}
	if m != nil {
		if err := m.Validate(d); err != nil {
			return nil, fmt.Errorf("potential mask: %w", err)
		}
	}

	out := field.NewVolume(d)
	if allZero(b.Z) {
		blendTransverse(out, b, m)
		return out, nil
	}

	var layer layerFunc
	switch opts.Method {
	case MethodDirect:
		layer = directLayer
	default:
		layer = newFFTLayer(d, b.Z)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(opts.workers())
	for k := 0; k < d.NZ; k++ {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			layer(out, b.Z, k)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	copy(out.Z[:d.Pixels()], b.Z)
	blendTransverse(out, b, m)
	return out, nil
}

// layerFunc fills layer k of out from the normal boundary component bz.
// Calls for different k must be safe to run concurrently.
type layerFunc func(out *field.Volume, bz []float64, k int)

func height(k int) float64 {
	if k == 0 {
		return sheetDepth
	}
	return float64(k)
}

// kernel holds the Green's function for one height on the offset grid
// dx ∈ [-(nx-1), nx-1], dy ∈ [-(ny-1), ny-1].
type kernel struct {
	w, h    int // 2nx-1, 2ny-1
	x, y, z []float64
}

func newKernel(nx, ny int, z float64) *kernel {
	kn := &kernel{w: 2*nx - 1, h: 2*ny - 1}
	n := kn.w * kn.h
	kn.x, kn.y, kn.z = make([]float64, n), make([]float64, n), make([]float64, n)
	for oy := 0; oy < kn.h; oy++ {
		dy := float64(oy - (ny - 1))
		for ox := 0; ox < kn.w; ox++ {
			dx := float64(ox - (nx - 1))
			r2 := dx*dx + dy*dy + z*z
			s := 1 / (2 * math.Pi * r2 * math.Sqrt(r2))
			p := ox + kn.w*oy
			kn.x[p], kn.y[p], kn.z[p] = s*dx, s*dy, s*z
		}
	}
	return kn
}

// directLayer sums the kernel over every non-zero boundary pixel.
func directLayer(out *field.Volume, bz []float64, k int) {
	nx, ny := out.NX, out.NY
	kn := newKernel(nx, ny, height(k))
	base := k * nx * ny
	for j := 0; j < ny; j++ {
		for i := 0; i < nx; i++ {
			var bx, by, bzz float64
			for q := 0; q < ny; q++ {
				row := (j - q + ny - 1) * kn.w
				for p := 0; p < nx; p++ {
					s := bz[p+nx*q]
					if s == 0 {
						continue
					}
					o := row + (i - p + nx - 1)
					bx += s * kn.x[o]
					by += s * kn.y[o]
					bzz += s * kn.z[o]
				}
			}
			n := base + i + nx*j
			out.X[n], out.Y[n], out.Z[n] = bx, by, bzz
		}
	}
}

// blendTransverse applies the mask blend on the photospheric layer.
func blendTransverse(out *field.Volume, b *field.Boundary, m *field.Mask) {
	if m == nil {
		return
	}
	for p, w := range m.W {
		out.X[p] = (1-w)*out.X[p] + w*b.X[p]
		out.Y[p] = (1-w)*out.Y[p] + w*b.Y[p]
	}
}

func allZero(xs []float64) bool {
	for _, x := range xs {
		if x != 0 {
			return false
		}
	}
	return true
}
