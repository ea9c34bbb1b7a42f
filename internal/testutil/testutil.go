// Package testutil provides shared fixtures for tests: synthetic
// boundaries and on-disk project layouts written independently of the
// project package's own encoders.
package testutil

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/banshee-data/nlfff/internal/field"
	"github.com/banshee-data/nlfff/internal/fsutil"
)

// AssertNoError fails the test if err is not nil.
func AssertNoError(t testing.TB, err error) {
	t.Helper()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

// Grid returns a grid with default parameters.
func Grid(nx, ny, nz, nd int) field.Grid {
	return field.Grid{Dims: field.Dims{NX: nx, NY: ny, NZ: nz}, Mu: field.DefaultMu, Nu: field.DefaultNu, ND: nd}
}

// Bipole returns a boundary with a positive and a negative Gaussian spot
// on the x axis through the centre, plus a sheared transverse part.
func Bipole(d field.Dims, amplitude float64) *field.Boundary {
	b := field.NewBoundary(d.NX, d.NY)
	cx, cy := float64(d.NX-1)/2, float64(d.NY-1)/2
	sep, width := float64(d.NX)/6, float64(d.NX)/10
	for j := 0; j < d.NY; j++ {
		for i := 0; i < d.NX; i++ {
			x, y := float64(i)-cx, float64(j)-cy
			g := func(x0 float64) float64 {
				return math.Exp(-((x-x0)*(x-x0) + y*y) / (2 * width * width))
			}
			p := i + d.NX*j
			b.Z[p] = amplitude * (g(-sep) - g(sep))
			b.Y[p] = 0.5 * b.Z[p]
		}
	}
	return b
}

// Files is a set of project files keyed by base name.
type Files map[string][]byte

// LevelFiles renders the inputs of one level in the on-disk formats: a
// key=value grid file, one "Bx By Bz" triple per line and one weight per
// line.
func LevelFiles(level int, g field.Grid, b *field.Boundary, m *field.Mask) Files {
	var ini, dat, mask strings.Builder
	fmt.Fprintf(&ini, "nx=%d\nny=%d\nnz=%d\nmu=%g\nnd=%d\nnue=%g\n", g.NX, g.NY, g.NZ, g.Mu, g.ND, g.Nu)
	for p := range b.Z {
		fmt.Fprintf(&dat, "%.17g %.17g %.17g\n", b.X[p], b.Y[p], b.Z[p])
	}
	for _, w := range m.W {
		fmt.Fprintf(&mask, "%.17g\n", w)
	}
	return Files{
		fmt.Sprintf("grid%d.ini", level):          []byte(ini.String()),
		fmt.Sprintf("allboundaries%d.dat", level): []byte(dat.String()),
		fmt.Sprintf("mask%d.dat", level):          []byte(mask.String()),
	}
}

// Merge adds the files of other to f.
func (f Files) Merge(other Files) Files {
	for k, v := range other {
		f[k] = v
	}
	return f
}

// Names returns the sorted file names.
func (f Files) Names() []string {
	names := make([]string, 0, len(f))
	for k := range f {
		names = append(names, k)
	}
	sort.Strings(names)
	return names
}

// Populate writes f into dir of an in-memory filesystem.
func (f Files) Populate(mfs *fsutil.MemoryFileSystem, dir string) {
	_ = mfs.MkdirAll(dir, 0o755)
	for name, data := range f {
		mfs.WriteFile(filepath.Join(dir, name), data)
	}
}

// WriteDir writes f into dir on disk.
func (f Files) WriteDir(t testing.TB, dir string) {
	t.Helper()
	for name, data := range f {
		AssertNoError(t, os.WriteFile(filepath.Join(dir, name), data, 0o644))
	}
}
