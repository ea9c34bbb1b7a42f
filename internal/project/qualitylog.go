package project

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/banshee-data/nlfff/internal/field"
	"github.com/banshee-data/nlfff/internal/fsutil"
	"github.com/banshee-data/nlfff/internal/quality"
)

// Summary closes a quality log.
type Summary struct {
	Level      int
	Dims       field.Dims
	Status     string
	Converged  bool
	Iterations int
	Accepted   int
	Rejected   int
	Final      quality.Metrics
	Epsilon    float64
}

// QualityLog is the parsed content of an NLFFFqualityN.log file.
type QualityLog struct {
	History []quality.Metrics
	Summary Summary
}

// EncodeQualityLog writes the header, one line per record and the summary
// block.
func EncodeQualityLog(w io.Writer, history []quality.Metrics, s Summary) error {
	bw := bufio.NewWriter(w)
	fmt.Fprintln(bw, quality.Header())
	for _, m := range history {
		fmt.Fprintln(bw, quality.FormatLine(m))
	}
	fmt.Fprintln(bw, "# summary")
	for _, kv := range s.pairs() {
		fmt.Fprintf(bw, "%s: %s\n", kv[0], kv[1])
	}
	return bw.Flush()
}

func (s Summary) pairs() [][2]string {
	g := func(x float64) string { return strconv.FormatFloat(x, 'e', 10, 64) }
	return [][2]string{
		{"level", strconv.Itoa(s.Level)},
		{"grid", s.Dims.String()},
		{"status", s.Status},
		{"converged", strconv.FormatBool(s.Converged)},
		{"iterations", strconv.Itoa(s.Iterations)},
		{"accepted", strconv.Itoa(s.Accepted)},
		{"rejected", strconv.Itoa(s.Rejected)},
		{"cwsin", g(s.Final.CWsin)},
		{"angle_deg", strconv.FormatFloat(s.Final.Angle(), 'f', 4, 64)},
		{"div_mean", g(s.Final.DivMean)},
		{"div_max", g(s.Final.DivMax)},
		{"L", g(s.Final.L)},
		{"energy", g(s.Final.Energy)},
		{"epsilon", g(s.Epsilon)},
	}
}

// WriteQualityLog atomically writes the quality log of a level.
func (p *Project) WriteQualityLog(history []quality.Metrics, s Summary) error {
	return fsutil.WriteAtomic(p.FS, p.Path(QualityLogFile(s.Level)), func(w io.Writer) error {
		return EncodeQualityLog(w, history, s)
	})
}

// ReadQualityLog parses the quality log of level.
func (p *Project) ReadQualityLog(level int) (*QualityLog, error) {
	name := QualityLogFile(level)
	data, err := p.read(name)
	if err != nil {
		return nil, err
	}
	return ParseQualityLog(data, name)
}

// ParseQualityLog is the inverse of EncodeQualityLog. The summary's Final
// metrics carry the values of the summary block, with Iteration taken
// from the last history line.
func ParseQualityLog(data []byte, name string) (*QualityLog, error) {
	ql := &QualityLog{}
	sc := bufio.NewScanner(bytes.NewReader(data))
	inSummary := false
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		switch {
		case line == "":
			continue
		case line == "# summary":
			inSummary = true
			continue
		case strings.HasPrefix(line, "#"):
			continue
		}
		if !inSummary {
			m, err := quality.ParseLine(line)
			if err != nil {
				return nil, field.Invalid("%s:%d: %v", name, n, err)
			}
			ql.History = append(ql.History, m)
			continue
		}
		k, v, ok := strings.Cut(line, ":")
		if !ok {
			return nil, field.Invalid("%s:%d: summary line %q has no key", name, n, line)
		}
		if err := ql.Summary.set(strings.TrimSpace(k), strings.TrimSpace(v)); err != nil {
			return nil, field.Invalid("%s:%d: %v", name, n, err)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("read %s: %w", name, err)
	}
	if !inSummary {
		return nil, field.Invalid("%s: no summary block", name)
	}
	if h := len(ql.History); h > 0 {
		ql.Summary.Final.Iteration = ql.History[h-1].Iteration
		ql.Summary.Final.Step = ql.History[h-1].Step
	}
	return ql, nil
}

func (s *Summary) set(key, value string) error {
	var err error
	atoi := func(dst *int) { *dst, err = strconv.Atoi(value) }
	atof := func(dst *float64) { *dst, err = strconv.ParseFloat(value, 64) }
	switch key {
	case "level":
		atoi(&s.Level)
	case "grid":
		_, err = fmt.Sscanf(value, "%dx%dx%d", &s.Dims.NX, &s.Dims.NY, &s.Dims.NZ)
	case "status":
		s.Status = value
	case "converged":
		s.Converged, err = strconv.ParseBool(value)
	case "iterations":
		atoi(&s.Iterations)
	case "accepted":
		atoi(&s.Accepted)
	case "rejected":
		atoi(&s.Rejected)
	case "cwsin":
		atof(&s.Final.CWsin)
	case "div_mean":
		atof(&s.Final.DivMean)
	case "div_max":
		atof(&s.Final.DivMax)
	case "L":
		atof(&s.Final.L)
	case "energy":
		atof(&s.Final.Energy)
	case "epsilon":
		atof(&s.Epsilon)
	}
	if err != nil {
		return fmt.Errorf("%s: %w", key, err)
	}
	return nil
}
