// Package project reads and writes the files of an extrapolation project
// directory: per-level grid, boundary and mask inputs, binary field outputs
// and quality logs.
package project

import (
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"

	"github.com/banshee-data/nlfff/internal/field"
	"github.com/banshee-data/nlfff/internal/fsutil"
)

// File names within a project directory.
const (
	PotentialFile   = "B0.bin"
	FinalFile       = "Bout.bin"
	BoundaryIniFile = "boundary.ini"
)

// Per-level file names.
func GridFile(level int) string        { return fmt.Sprintf("grid%d.ini", level) }
func BoundaryFile(level int) string    { return fmt.Sprintf("allboundaries%d.dat", level) }
func MaskFile(level int) string        { return fmt.Sprintf("mask%d.dat", level) }
func LevelOutputFile(level int) string { return fmt.Sprintf("Bout%d.bin", level) }
func QualityLogFile(level int) string  { return fmt.Sprintf("NLFFFquality%d.log", level) }

// Project is a directory of level inputs and solver outputs.
type Project struct {
	Dir string
	FS  fsutil.FileSystem
}

// Open checks that dir exists on fsys.
func Open(fsys fsutil.FileSystem, dir string) (*Project, error) {
	info, err := fsys.Stat(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, field.Invalid("project directory %s does not exist", dir)
		}
		return nil, fmt.Errorf("stat project directory: %w", err)
	}
	if !info.IsDir() {
		return nil, field.Invalid("project path %s is not a directory", dir)
	}
	return &Project{Dir: dir, FS: fsys}, nil
}

// Path joins name onto the project directory.
func (p *Project) Path(name string) string { return filepath.Join(p.Dir, name) }

// Has reports whether the project holds name.
func (p *Project) Has(name string) bool { return p.FS.Exists(p.Path(name)) }

// Level is the validated input of one grid level.
type Level struct {
	Number   int
	Grid     field.Grid
	Boundary *field.Boundary
	Mask     *field.Mask
}

// LoadGrid reads gridN.ini and applies the nue override from boundary.ini
// when present.
func (p *Project) LoadGrid(level int) (field.Grid, error) {
	name := GridFile(level)
	data, err := p.read(name)
	if err != nil {
		return field.Grid{}, err
	}
	g, err := ParseGrid(data, name)
	if err != nil {
		return field.Grid{}, err
	}
	if p.Has(BoundaryIniFile) {
		bdata, err := p.read(BoundaryIniFile)
		if err != nil {
			return field.Grid{}, err
		}
		nu, ok, err := ParseBoundaryIni(bdata, BoundaryIniFile)
		if err != nil {
			return field.Grid{}, err
		}
		if ok {
			g.Nu = nu
		}
	}
	if err := g.Validate(); err != nil {
		return field.Grid{}, fmt.Errorf("%s: %w", name, err)
	}
	return g, nil
}

// LoadLevel reads and cross-checks every input of level.
func (p *Project) LoadLevel(level int) (*Level, error) {
	g, err := p.LoadGrid(level)
	if err != nil {
		return nil, err
	}

	bname := BoundaryFile(level)
	bdata, err := p.read(bname)
	if err != nil {
		return nil, err
	}
	b, err := ParseBoundary(bdata, bname, g.Dims)
	if err != nil {
		return nil, err
	}

	mname := MaskFile(level)
	mdata, err := p.read(mname)
	if err != nil {
		return nil, err
	}
	m, err := ParseMask(mdata, mname, g.Dims)
	if err != nil {
		return nil, err
	}
	return &Level{Number: level, Grid: g, Boundary: b, Mask: m}, nil
}

// read returns the contents of name, mapping a missing file to a
// validation error.
func (p *Project) read(name string) ([]byte, error) {
	data, err := p.FS.ReadFile(p.Path(name))
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, field.Invalid("missing input file %s", p.Path(name))
		}
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	return data, nil
}
