package quality

import (
	"context"
	"math"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/nlfff/internal/field"
	"github.com/banshee-data/nlfff/internal/potential"
)

// chunked runs each chunk of size one on its own goroutine.
type chunked struct{}

func (chunked) Run(n int, fn func(lo, hi int)) {
	var wg sync.WaitGroup
	for k := 0; k < n; k++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			fn(k, k+1)
		}()
	}
	wg.Wait()
}

func fill(d field.Dims, f func(i, j, k int) field.Vec3) *field.Volume {
	v := field.NewVolume(d)
	for k := 0; k < d.NZ; k++ {
		for j := 0; j < d.NY; j++ {
			for i := 0; i < d.NX; i++ {
				v.Set(i, j, k, f(i, j, k))
			}
		}
	}
	return v
}

func TestEvaluateZeroField(t *testing.T) {
	m := Engine{}.Evaluate(field.NewVolume(field.Dims{NX: 8, NY: 8, NZ: 4}))
	assert.Equal(t, Metrics{}, m)
	assert.True(t, m.Finite())
}

func TestEvaluateForceFreeField(t *testing.T) {
	// B = (sin az, cos az, 0) has J parallel to B under centred differences.
	a := 0.3
	v := fill(field.Dims{NX: 8, NY: 8, NZ: 10}, func(i, j, k int) field.Vec3 {
		z := a * float64(k)
		return field.Vec3{X: math.Sin(z), Y: math.Cos(z)}
	})
	m := Engine{}.Evaluate(v)
	assert.InDelta(t, 0, m.CWsin, 1e-12)
	assert.Equal(t, 0.0, m.DivMean)
	assert.InDelta(t, float64(8*8*10)/(8*math.Pi), m.Energy, 1e-9)
}

func TestEvaluatePerpendicularCurrent(t *testing.T) {
	// B = (-y, x, 0) + offset: J = (0, 0, 2) is perpendicular to B.
	v := fill(field.Dims{NX: 8, NY: 8, NZ: 4}, func(i, j, k int) field.Vec3 {
		return field.Vec3{X: -float64(j) - 1, Y: float64(i) + 1}
	})
	m := Engine{}.Evaluate(v)
	assert.InDelta(t, 1, m.CWsin, 1e-12)
	assert.InDelta(t, 90, m.Angle(), 1e-4)
}

func TestEvaluateDivergenceMatchesRecomputation(t *testing.T) {
	d := field.Dims{NX: 16, NY: 16, NZ: 6}
	b := field.NewBoundary(d.NX, d.NY)
	for j := 0; j < d.NY; j++ {
		for i := 0; i < d.NX; i++ {
			x, y := float64(i)-7.5, float64(j)-7.5
			b.Z[i+d.NX*j] = math.Exp(-((x-3)*(x-3)+y*y)/6) - math.Exp(-((x+3)*(x+3)+y*y)/6)
		}
	}
	v, err := potential.Compute(context.Background(), d, b, nil, potential.Options{})
	require.NoError(t, err)

	var b2 float64
	for n := range v.X {
		b2 += v.X[n]*v.X[n] + v.Y[n]*v.Y[n] + v.Z[n]*v.Z[n]
	}
	delta := 1e-12 * math.Sqrt(b2/float64(d.Voxels()))

	var sum, peak float64
	var count int
	at := func(c []float64, i, j, k int) float64 { return c[i+d.NX*(j+d.NY*k)] }
	for k := 1; k < d.NZ-1; k++ {
		for j := 1; j < d.NY-1; j++ {
			for i := 1; i < d.NX-1; i++ {
				div := (at(v.X, i+1, j, k)-at(v.X, i-1, j, k))/2 +
					(at(v.Y, i, j+1, k)-at(v.Y, i, j-1, k))/2 +
					(at(v.Z, i, j, k+1)-at(v.Z, i, j, k-1))/2
				bn := math.Sqrt(at(v.X, i, j, k)*at(v.X, i, j, k) + at(v.Y, i, j, k)*at(v.Y, i, j, k) + at(v.Z, i, j, k)*at(v.Z, i, j, k))
				nd := math.Abs(div) / (bn + delta)
				sum += nd
				peak = math.Max(peak, nd)
				count++
			}
		}
	}

	m := Engine{}.Evaluate(v)
	assert.InDelta(t, sum/float64(count), m.DivMean, 1e-12)
	assert.InDelta(t, peak, m.DivMax, 1e-12)
	assert.Greater(t, m.DivMax, 0.0)
}

func TestEvaluateIndependentOfRunner(t *testing.T) {
	d := field.Dims{NX: 12, NY: 8, NZ: 7}
	v := fill(d, func(i, j, k int) field.Vec3 {
		x, y, z := float64(i), float64(j), float64(k)
		return field.Vec3{X: math.Sin(0.4*x + z), Y: math.Cos(0.3 * y * z), Z: 1 + 0.1*x*y}
	})
	serial := Engine{ND: 1}.Evaluate(v)
	parallel := Engine{ND: 1, Runner: chunked{}}.Evaluate(v)
	assert.Equal(t, serial, parallel)
	assert.Greater(t, serial.CWsin, 0.0)
}

func TestEvaluateDoesNotMutate(t *testing.T) {
	d := field.Dims{NX: 8, NY: 8, NZ: 4}
	v := fill(d, func(i, j, k int) field.Vec3 { return field.Vec3{X: float64(i * j), Y: float64(k), Z: 1} })
	before := v.Clone()
	Engine{}.Evaluate(v)
	assert.Equal(t, before, v)
}

func TestFunctional(t *testing.T) {
	d := field.Dims{NX: 8, NY: 8, NZ: 4}
	v := field.NewVolume(d)
	obs := field.NewBoundary(d.NX, d.NY)
	mask := field.UniformMask(d.NX, d.NY, 0.5)

	l, lf, ld, lp := Functional(v, obs, mask, Weights{Wf: 1, Wd: 1, Nu: 2, Epsilon: 1e-30})
	assert.Equal(t, [4]float64{}, [4]float64{l, lf, ld, lp})

	obs.X[3] = 1
	l, _, _, lp = Functional(v, obs, mask, Weights{Wf: 1, Wd: 1, Nu: 2, Epsilon: 1e-30})
	assert.Equal(t, 1.0, lp)
	assert.Equal(t, 1.0, l)

	// A curl-free field with divergence 3 over the 6x6x2 interior.
	v = fill(d, func(i, j, k int) field.Vec3 { return field.Vec3{X: float64(i), Y: float64(j), Z: float64(k)} })
	_, lf, ld, _ = Functional(v, nil, nil, Weights{Wf: 1, Wd: 0.5, Epsilon: 1e-30})
	assert.InDelta(t, 0.5*9*72, ld, 1e-9)
	assert.Equal(t, 0.0, lf)
}

func TestLogLine(t *testing.T) {
	m := Metrics{Iteration: 42, CWsin: 0.125, DivMean: 1e-4, DivMax: 3e-2, L: 12.5, Energy: 0.75, Step: 0.05}
	got, err := ParseLine(FormatLine(m))
	require.NoError(t, err)
	assert.Equal(t, m, got)

	_, err = ParseLine("1 2 3")
	assert.Error(t, err)
	assert.Contains(t, Header(), "cwsin")
}
