package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"

	"github.com/banshee-data/nlfff/internal/field"
	"github.com/banshee-data/nlfff/internal/project"
	"github.com/banshee-data/nlfff/internal/security"
)

type inspectReport struct {
	File string `json:"file"`
	Grid string `json:"grid"`
	project.Stats
	// EnergyRatio is the field energy over the potential energy, when
	// B0.bin is present.
	EnergyRatio *float64 `json:"energy_ratio,omitempty"`
}

func runInspect(args []string, stdout, stderr io.Writer) error {
	fs := flag.NewFlagSet("inspect", flag.ContinueOnError)
	fs.SetOutput(stderr)
	asJSON := fs.Bool("json", false, "Print the report as JSON")
	if err := fs.Parse(args); err != nil {
		return usagef("%v", err)
	}
	if fs.NArg() != 3 {
		return usagef("usage: nlfff inspect [-json] <project_dir> <bin_file> <grid_level>")
	}
	level, err := parseLevel(fs.Arg(2))
	if err != nil {
		return err
	}
	p, err := openProject(fs.Arg(0))
	if err != nil {
		return err
	}
	g, err := p.LoadGrid(level)
	if err != nil {
		return err
	}

	name := fs.Arg(1)
	if err := security.ValidatePathWithinDirectory(p.Path(name), p.Dir); err != nil {
		return usagef("%v", err)
	}
	s, err := mappedStats(p, name, g.Dims)
	if err != nil {
		return err
	}
	rep := inspectReport{File: p.Path(name), Grid: g.Dims.String(), Stats: s}
	if name != project.PotentialFile && p.Has(project.PotentialFile) {
		// B0.bin may belong to another level.
		if b0, err := mappedStats(p, project.PotentialFile, g.Dims); err == nil && b0.Energy > 0 {
			ratio := s.Energy / b0.Energy
			rep.EnergyRatio = &ratio
		}
	}

	if *asJSON {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}
	fmt.Fprintf(stdout, "file: %s\ngrid: %s\n", rep.File, rep.Grid)
	for c, r := range s.Component {
		fmt.Fprintf(stdout, "%s: [%.6g, %.6g]\n", field.ComponentName(c), r.Min, r.Max)
	}
	fmt.Fprintf(stdout, "|B|: [%.6g, %.6g] mean %.6g\n", s.Magnitude.Min, s.Magnitude.Max, s.MeanB)
	fmt.Fprintf(stdout, "energy: %.10e\n", s.Energy)
	if rep.EnergyRatio != nil {
		fmt.Fprintf(stdout, "energy/potential: %.6f\n", *rep.EnergyRatio)
	}
	return nil
}

func mappedStats(p *project.Project, name string, d field.Dims) (project.Stats, error) {
	m, err := p.MapFile(name, d)
	if err != nil {
		return project.Stats{}, err
	}
	defer m.Close()
	return m.Stats()
}
