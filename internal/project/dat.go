package project

import (
	"bufio"
	"bytes"
	"math"
	"strconv"
	"strings"

	"github.com/banshee-data/nlfff/internal/field"
)

// scanValues calls fn with the numeric fields of every non-blank line.
// Fields are separated by whitespace or commas.
func scanValues(data []byte, name string, fn func(line int, vals []float64) error) error {
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	var vals []float64
	for n := 1; sc.Scan(); n++ {
		fields := strings.FieldsFunc(sc.Text(), func(r rune) bool {
			return r == ',' || r == ' ' || r == '\t' || r == '\r'
		})
		if len(fields) == 0 {
			continue
		}
		vals = vals[:0]
		for _, f := range fields {
			x, err := strconv.ParseFloat(f, 64)
			if err != nil {
				return field.Invalid("%s:%d: %q is not a number", name, n, f)
			}
			if math.IsNaN(x) || math.IsInf(x, 0) {
				return field.Invalid("%s:%d: value %q is not finite", name, n, f)
			}
			vals = append(vals, x)
		}
		if err := fn(n, vals); err != nil {
			return err
		}
	}
	if err := sc.Err(); err != nil {
		return field.Invalid("%s: %v", name, err)
	}
	return nil
}

// ParseBoundary decodes an allboundariesN.dat file of Bx By Bz triples.
// The number of lines must match the pixel count of d.
func ParseBoundary(data []byte, name string, d field.Dims) (*field.Boundary, error) {
	b := field.NewBoundary(d.NX, d.NY)
	p := 0
	err := scanValues(data, name, func(line int, v []float64) error {
		if len(v) != 3 {
			return field.Invalid("%s:%d: want 3 values, got %d", name, line, len(v))
		}
		if p == d.Pixels() {
			return field.Invalid("%s:%d: more than %d pixels for grid %s", name, line, d.Pixels(), d)
		}
		b.X[p], b.Y[p], b.Z[p] = v[0], v[1], v[2]
		p++
		return nil
	})
	if err != nil {
		return nil, err
	}
	if p != d.Pixels() {
		return nil, field.Invalid("%s: %d pixels, grid %s needs %d", name, p, d, d.Pixels())
	}
	return b, nil
}

// ParseMask decodes a maskN.dat file of one weight per line.
func ParseMask(data []byte, name string, d field.Dims) (*field.Mask, error) {
	m := &field.Mask{NX: d.NX, NY: d.NY, W: make([]float64, d.Pixels())}
	p := 0
	err := scanValues(data, name, func(line int, v []float64) error {
		if len(v) != 1 {
			return field.Invalid("%s:%d: want 1 value, got %d", name, line, len(v))
		}
		if p == d.Pixels() {
			return field.Invalid("%s:%d: more than %d pixels for grid %s", name, line, d.Pixels(), d)
		}
		if v[0] < 0 || v[0] > 1 {
			return field.Invalid("%s:%d: weight %g is outside [0, 1]", name, line, v[0])
		}
		m.W[p] = v[0]
		p++
		return nil
	})
	if err != nil {
		return nil, err
	}
	if p != d.Pixels() {
		return nil, field.Invalid("%s: %d pixels, grid %s needs %d", name, p, d, d.Pixels())
	}
	return m, nil
}
