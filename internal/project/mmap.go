package project

import (
	"encoding/binary"
	"fmt"
	"math"

	"golang.org/x/exp/mmap"
	"gonum.org/v1/gonum/floats"

	"github.com/banshee-data/nlfff/internal/field"
)

// MappedField is a read-only, memory-mapped .bin field.
type MappedField struct {
	field.Dims
	r *mmap.ReaderAt
}

// OpenMapped maps path and checks its length against d.
func OpenMapped(path string, d field.Dims) (*MappedField, error) {
	r, err := mmap.Open(path)
	if err != nil {
		return nil, field.Invalid("map %s: %v", path, err)
	}
	if int64(r.Len()) != d.Bytes() {
		n := r.Len()
		_ = r.Close()
		return nil, field.Invalid("%s holds %d bytes, grid %s needs %d", path, n, d, d.Bytes())
	}
	return &MappedField{Dims: d, r: r}, nil
}

// MapFile maps name within the project directory. The project must live
// on the OS filesystem.
func (p *Project) MapFile(name string, d field.Dims) (*MappedField, error) {
	return OpenMapped(p.Path(name), d)
}

func (m *MappedField) Close() error { return m.r.Close() }

func (m *MappedField) offset(c, n int) int64 {
	return 8 * (int64(c)*int64(m.Voxels()) + int64(n))
}

// Value returns component c at voxel (i, j, k).
func (m *MappedField) Value(c, i, j, k int) (float64, error) {
	if c < 0 || c > 2 || i < 0 || i >= m.NX || j < 0 || j >= m.NY || k < 0 || k >= m.NZ {
		return 0, field.Invalid("voxel (%d,%d,%d) of component %d is outside grid %s", i, j, k, c, m.Dims)
	}
	var buf [8]byte
	if _, err := m.r.ReadAt(buf[:], m.offset(c, m.Index(i, j, k))); err != nil {
		return 0, fmt.Errorf("read voxel (%d,%d,%d): %w", i, j, k, err)
	}
	return math.Float64frombits(binary.LittleEndian.Uint64(buf[:])), nil
}

// Plane copies component c of layer k into dst, which must hold Pixels
// values.
func (m *MappedField) Plane(c, k int, dst []float64) error {
	if c < 0 || c > 2 || k < 0 || k >= m.NZ {
		return field.Invalid("plane %d of component %d is outside grid %s", k, c, m.Dims)
	}
	if len(dst) != m.Pixels() {
		return fmt.Errorf("plane buffer holds %d values, want %d", len(dst), m.Pixels())
	}
	buf := make([]byte, 8*len(dst))
	if _, err := m.r.ReadAt(buf, m.offset(c, k*m.Pixels())); err != nil {
		return fmt.Errorf("read plane %d: %w", k, err)
	}
	for i := range dst {
		dst[i] = math.Float64frombits(binary.LittleEndian.Uint64(buf[8*i:]))
	}
	return nil
}

// Range is a closed interval of values.
type Range struct {
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// Stats summarizes a field.
type Stats struct {
	Dims      field.Dims `json:"-"`
	Component [3]Range   `json:"components"`
	Magnitude Range      `json:"magnitude"`
	MeanB     float64    `json:"mean_b"`
	Energy    float64    `json:"energy"`
}

// Stats streams the field one plane at a time.
func (m *MappedField) Stats() (Stats, error) {
	s := Stats{Dims: m.Dims, Magnitude: Range{Min: math.Inf(1), Max: math.Inf(-1)}}
	for c := range s.Component {
		s.Component[c] = Range{Min: math.Inf(1), Max: math.Inf(-1)}
	}
	np := m.Pixels()
	planes := [3][]float64{make([]float64, np), make([]float64, np), make([]float64, np)}
	b2 := make([]float64, np)
	mag := make([]float64, np)
	energy := make([]float64, m.NZ)
	sumB := make([]float64, m.NZ)
	for k := 0; k < m.NZ; k++ {
		for c := range planes {
			if err := m.Plane(c, k, planes[c]); err != nil {
				return Stats{}, err
			}
			s.Component[c].Min = min(s.Component[c].Min, floats.Min(planes[c]))
			s.Component[c].Max = max(s.Component[c].Max, floats.Max(planes[c]))
		}
		for p := range b2 {
			b2[p] = planes[0][p]*planes[0][p] + planes[1][p]*planes[1][p] + planes[2][p]*planes[2][p]
			mag[p] = math.Sqrt(b2[p])
		}
		s.Magnitude.Min = min(s.Magnitude.Min, floats.Min(mag))
		s.Magnitude.Max = max(s.Magnitude.Max, floats.Max(mag))
		energy[k] = floats.Sum(b2)
		sumB[k] = floats.Sum(mag)
	}
	s.Energy = floats.Sum(energy) / (8 * math.Pi)
	s.MeanB = floats.Sum(sumB) / float64(m.Voxels())
	return s, nil
}
