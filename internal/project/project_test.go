package project

import (
	"bytes"
	"errors"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/nlfff/internal/field"
	"github.com/banshee-data/nlfff/internal/fsutil"
	"github.com/banshee-data/nlfff/internal/quality"
	"github.com/banshee-data/nlfff/internal/testutil"
)

func memProject(t *testing.T, files testutil.Files) *Project {
	t.Helper()
	mfs := fsutil.NewMemoryFileSystem()
	files.Populate(mfs, "/proj")
	p, err := Open(mfs, "/proj")
	require.NoError(t, err)
	return p
}

func TestOpen(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	mfs.WriteFile("/file", []byte("x"))

	_, err := Open(mfs, "/missing")
	assert.ErrorIs(t, err, field.ErrValidation)
	_, err = Open(mfs, "/file")
	assert.ErrorIs(t, err, field.ErrValidation)
}

func TestParseGrid(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want field.Grid
	}{
		{
			name: "key value",
			in:   "# level 1\nnx=8\nny = 12\nnz=4\nmu=0.05\nnd=2\nother=x\n",
			want: field.Grid{Dims: field.Dims{NX: 8, NY: 12, NZ: 4}, Mu: 0.05, Nu: field.DefaultNu, ND: 2},
		},
		{
			name: "two line",
			in:   "nx\n\t16\nny\n\t16\nnz\n\t8\nmu\n\t0.1\nnd\n\t4\n",
			want: field.Grid{Dims: field.Dims{NX: 16, NY: 16, NZ: 8}, Mu: 0.1, Nu: field.DefaultNu, ND: 4},
		},
		{
			name: "defaults and nue",
			in:   "NX=4\nNY=4\nNZ=3\nnue=0.25\n",
			want: field.Grid{Dims: field.Dims{NX: 4, NY: 4, NZ: 3}, Mu: field.DefaultMu, Nu: 0.25},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseGrid([]byte(tt.in), "grid1.ini")
			require.NoError(t, err)
			if diff := cmp.Diff(tt.want, got); diff != "" {
				t.Errorf("ParseGrid mismatch (-want +got):\n%s", diff)
			}
		})
	}
}

func TestParseGridErrors(t *testing.T) {
	for name, in := range map[string]string{
		"missing nz":   "nx=8\nny=8\n",
		"not integer":  "nx=8\nny=eight\nnz=4\n",
		"bad mu":       "nx=8\nny=8\nnz=4\nmu=fast\n",
		"dangling key": "nx=8\nny=8\nnz=4\nmu\n",
	} {
		t.Run(name, func(t *testing.T) {
			_, err := ParseGrid([]byte(in), "grid1.ini")
			require.Error(t, err)
			assert.ErrorIs(t, err, field.ErrValidation)
			assert.Contains(t, err.Error(), "grid1.ini")
		})
	}
}

func TestParseBoundaryAndMask(t *testing.T) {
	d := field.Dims{NX: 2, NY: 2, NZ: 3}
	b, err := ParseBoundary([]byte("1 2 3\n4,5,6\n\n7\t8 9\n-1 -2 -3e2\n"), "b.dat", d)
	require.NoError(t, err)
	assert.Equal(t, []float64{1, 4, 7, -1}, b.X)
	assert.Equal(t, []float64{3, 6, 9, -300}, b.Z)

	m, err := ParseMask([]byte("0\n0.5\n1\n0.25\n"), "m.dat", d)
	require.NoError(t, err)
	assert.Equal(t, []float64{0, 0.5, 1, 0.25}, m.W)

	for name, tc := range map[string]struct {
		data string
		mask bool
		line string
	}{
		"short boundary": {data: "1 2 3\n", line: "b.dat: 1 pixels"},
		"two values":     {data: "1 2 3\n1 2\n", line: "b.dat:2"},
		"non finite":     {data: "1 2 3\n1 NaN 3\n", line: "b.dat:2"},
		"not a number":   {data: "1 2 x\n", line: "b.dat:1"},
		"too many":       {data: "0 0 0\n0 0 0\n0 0 0\n0 0 0\n0 0 0\n", line: "b.dat:5"},
		"mask range":     {data: "0\n1.5\n0\n0\n", mask: true, line: "m.dat:2"},
		"mask inf":       {data: "0\n0\nInf\n0\n", mask: true, line: "m.dat:3"},
	} {
		t.Run(name, func(t *testing.T) {
			var err error
			if tc.mask {
				_, err = ParseMask([]byte(tc.data), "m.dat", d)
			} else {
				_, err = ParseBoundary([]byte(tc.data), "b.dat", d)
			}
			require.ErrorIs(t, err, field.ErrValidation)
			assert.Contains(t, err.Error(), tc.line)
		})
	}
}

func TestLoadLevel(t *testing.T) {
	g := testutil.Grid(8, 8, 4, 1)
	b := testutil.Bipole(g.Dims, 10)
	m := field.UniformMask(8, 8, 0.5)
	p := memProject(t, testutil.LevelFiles(1, g, b, m))

	lvl, err := p.LoadLevel(1)
	require.NoError(t, err)
	assert.Equal(t, 1, lvl.Number)
	assert.Equal(t, g, lvl.Grid)
	assert.Equal(t, b.Z, lvl.Boundary.Z)
	assert.Equal(t, m.W, lvl.Mask.W)

	_, err = p.LoadLevel(2)
	require.ErrorIs(t, err, field.ErrValidation)
	assert.Contains(t, err.Error(), "grid2.ini")
}

func TestLoadGridBoundaryIniOverride(t *testing.T) {
	g := testutil.Grid(8, 8, 4, 0)
	files := testutil.LevelFiles(1, g, field.NewBoundary(8, 8), field.UniformMask(8, 8, 1))
	files["boundary.ini"] = []byte("nue\n\t0.75\n")
	p := memProject(t, files)

	got, err := p.LoadGrid(1)
	require.NoError(t, err)
	assert.Equal(t, 0.75, got.Nu)
}

func TestLoadGridRejectsBadDims(t *testing.T) {
	p := memProject(t, testutil.Files{"grid1.ini": []byte("nx=6\nny=8\nnz=4\n")})
	_, err := p.LoadGrid(1)
	assert.ErrorIs(t, err, field.ErrValidation)
}

func TestLoadLevelDimensionMismatch(t *testing.T) {
	g := testutil.Grid(8, 8, 4, 0)
	files := testutil.LevelFiles(1, g, field.NewBoundary(8, 8), field.UniformMask(8, 8, 1))
	files["mask1.dat"] = []byte("1\n1\n")
	p := memProject(t, files)

	_, err := p.LoadLevel(1)
	require.ErrorIs(t, err, field.ErrValidation)
	assert.Contains(t, err.Error(), "mask1.dat")
}

func randomVolume(d field.Dims) *field.Volume {
	v := field.NewVolume(d)
	x := 0.123456789
	for c := 0; c < 3; c++ {
		comp := v.Component(c)
		for n := range comp {
			x = math.Mod(x*997.13+0.731, 1)
			comp[n] = (x - 0.5) * math.Pow(10, float64(n%7)-3)
		}
	}
	v.X[0] = math.SmallestNonzeroFloat64
	v.Y[1] = -math.MaxFloat64
	v.Z[2] = math.Copysign(0, -1)
	return v
}

func TestVolumeRoundTripBitIdentical(t *testing.T) {
	d := field.Dims{NX: 12, NY: 8, NZ: 5}
	v := randomVolume(d)
	p := memProject(t, nil)

	require.NoError(t, p.WriteVolume(PotentialFile, v))
	assert.False(t, p.Has(PotentialFile+fsutil.PartialSuffix))

	data, err := p.FS.ReadFile(p.Path(PotentialFile))
	require.NoError(t, err)
	assert.Len(t, data, int(d.Bytes()))

	got, err := p.ReadVolume(PotentialFile, d)
	require.NoError(t, err)
	for c := 0; c < 3; c++ {
		want, have := v.Component(c), got.Component(c)
		for n := range want {
			if math.Float64bits(want[n]) != math.Float64bits(have[n]) {
				t.Fatalf("%s[%d] = %x, want %x", field.ComponentName(c), n, math.Float64bits(have[n]), math.Float64bits(want[n]))
			}
		}
	}
}

func TestEncodeVolumeLayout(t *testing.T) {
	d := field.Dims{NX: 4, NY: 4, NZ: 3}
	v := field.NewVolume(d)
	v.Y[0] = 1
	var buf bytes.Buffer
	require.NoError(t, EncodeVolume(&buf, v))
	// By[0] follows all of Bx; 1.0 is 0x3ff0000000000000 little-endian.
	off := 8 * d.Voxels()
	assert.Equal(t, []byte{0, 0, 0, 0, 0, 0, 0xf0, 0x3f}, buf.Bytes()[off:off+8])
}

func TestReadVolumeSizeMismatch(t *testing.T) {
	d := field.Dims{NX: 4, NY: 4, NZ: 3}
	p := memProject(t, nil)
	require.NoError(t, p.WriteVolume(FinalFile, field.NewVolume(d)))

	_, err := p.ReadVolume(FinalFile, field.Dims{NX: 4, NY: 4, NZ: 4})
	assert.ErrorIs(t, err, field.ErrValidation)
	_, err = p.ReadVolume("nope.bin", d)
	assert.ErrorIs(t, err, field.ErrValidation)

	_, err = DecodeVolume(bytes.NewReader(make([]byte, d.Bytes()+8)), d)
	assert.ErrorIs(t, err, field.ErrValidation)
	_, err = DecodeVolume(bytes.NewReader(make([]byte, d.Bytes()-8)), d)
	assert.ErrorIs(t, err, field.ErrValidation)
}

func TestWriteVolumeInsufficientSpace(t *testing.T) {
	mfs := fsutil.NewMemoryFileSystem()
	require.NoError(t, mfs.MkdirAll("/proj", 0o755))
	mfs.SetCapacity(100)
	p, err := Open(mfs, "/proj")
	require.NoError(t, err)

	d := field.Dims{NX: 4, NY: 4, NZ: 3}
	err = p.WriteVolume(FinalFile, field.NewVolume(d))
	var re *field.ResourceError
	require.True(t, errors.As(err, &re), "got %v", err)
	assert.Equal(t, d.Bytes(), re.Need)
	assert.Equal(t, int64(100), re.Limit)
	assert.False(t, p.Has(FinalFile))
}

func TestMappedField(t *testing.T) {
	d := field.Dims{NX: 4, NY: 8, NZ: 3}
	v := field.NewVolume(d)
	for n := 0; n < d.Voxels(); n++ {
		v.X[n], v.Y[n], v.Z[n] = float64(n), -float64(n), 3
	}
	dir := t.TempDir()
	p, err := Open(fsutil.OSFileSystem{}, dir)
	require.NoError(t, err)
	require.NoError(t, p.WriteVolume("Bout1.bin", v))

	m, err := p.MapFile("Bout1.bin", d)
	require.NoError(t, err)
	defer m.Close()

	var got field.Vec3
	for c, dst := range []*float64{&got.X, &got.Y, &got.Z} {
		*dst, err = m.Value(c, 1, 2, 1)
		require.NoError(t, err)
	}
	assert.Equal(t, v.At(1, 2, 1), got)
	_, err = m.Value(0, 4, 0, 0)
	assert.ErrorIs(t, err, field.ErrValidation)
	_, err = m.Value(3, 0, 0, 0)
	assert.ErrorIs(t, err, field.ErrValidation)

	plane := make([]float64, d.Pixels())
	require.NoError(t, m.Plane(1, 2, plane))
	assert.Equal(t, v.Y[2*d.Pixels():3*d.Pixels()], plane)
	assert.Error(t, m.Plane(0, 3, plane))

	s, err := m.Stats()
	require.NoError(t, err)
	last := float64(d.Voxels() - 1)
	assert.Equal(t, Range{0, last}, s.Component[0])
	assert.Equal(t, Range{-last, 0}, s.Component[1])
	assert.Equal(t, Range{3, 3}, s.Component[2])
	assert.Equal(t, 3.0, s.Magnitude.Min)

	var energy, sum float64
	for n := 0; n < d.Voxels(); n++ {
		b2 := v.At(d.Coords(n)).Norm2()
		energy += b2
		sum += math.Sqrt(b2)
	}
	assert.InEpsilon(t, energy/(8*math.Pi), s.Energy, 1e-12)
	assert.InEpsilon(t, sum/float64(d.Voxels()), s.MeanB, 1e-12)
}

func TestOpenMappedLengthMismatch(t *testing.T) {
	path := filepath.Join(t.TempDir(), "short.bin")
	require.NoError(t, os.WriteFile(path, make([]byte, 16), 0o644))
	_, err := OpenMapped(path, field.Dims{NX: 4, NY: 4, NZ: 3})
	assert.ErrorIs(t, err, field.ErrValidation)

	_, err = OpenMapped(filepath.Join(t.TempDir(), "missing.bin"), field.Dims{NX: 4, NY: 4, NZ: 3})
	assert.ErrorIs(t, err, field.ErrValidation)
}

func TestQualityLogRoundTrip(t *testing.T) {
	history := []quality.Metrics{
		{Iteration: 0, CWsin: 0.5, DivMean: 1e-2, DivMax: 0.3, L: 12.5, Energy: 40, Step: 0.1},
		{Iteration: 1, CWsin: 0.25, DivMean: 5e-3, DivMax: 0.2, L: 6.25, Energy: 39.5, Step: 0.101},
	}
	s := Summary{
		Level: 2, Dims: field.Dims{NX: 8, NY: 8, NZ: 4}, Status: "max_iterations",
		Iterations: 1, Accepted: 1, Final: history[1], Epsilon: 1e-6,
	}
	p := memProject(t, nil)
	require.NoError(t, p.WriteQualityLog(history, s))

	data, err := p.FS.ReadFile(p.Path("NLFFFquality2.log"))
	require.NoError(t, err)
	assert.True(t, bytes.HasPrefix(data, []byte("# iteration cwsin")))
	assert.Contains(t, string(data), "status: max_iterations\n")

	got, err := p.ReadQualityLog(2)
	require.NoError(t, err)
	if diff := cmp.Diff(history, got.History); diff != "" {
		t.Errorf("history mismatch (-want +got):\n%s", diff)
	}
	if diff := cmp.Diff(s, got.Summary); diff != "" {
		t.Errorf("summary mismatch (-want +got):\n%s", diff)
	}
}

func TestParseQualityLogErrors(t *testing.T) {
	_, err := ParseQualityLog([]byte("# iteration\n0 1 2 3 4 5 6\n"), "q.log")
	assert.ErrorIs(t, err, field.ErrValidation)
	_, err = ParseQualityLog([]byte("0 1 2\n# summary\n"), "q.log")
	assert.ErrorIs(t, err, field.ErrValidation)
	_, err = ParseQualityLog([]byte("# summary\nlevel: one\n"), "q.log")
	assert.ErrorIs(t, err, field.ErrValidation)
}
