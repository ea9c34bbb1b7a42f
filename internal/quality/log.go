package quality

import (
	"fmt"
	"strconv"
	"strings"
)

// LogColumns names the whitespace-separated fields of a quality log line.
var LogColumns = []string{"iteration", "cwsin", "div_mean", "div_max", "L", "energy", "step"}

// Header returns the comment line that precedes the iteration lines.
func Header() string {
	return "# " + strings.Join(LogColumns, " ")
}

// FormatLine renders m as one quality log line without a trailing newline.
func FormatLine(m Metrics) string {
	return fmt.Sprintf("%d %.10e %.10e %.10e %.10e %.10e %.6e",
		m.Iteration, m.CWsin, m.DivMean, m.DivMax, m.L, m.Energy, m.Step)
}

// ParseLine is the inverse of FormatLine.
func ParseLine(s string) (Metrics, error) {
	fs := strings.Fields(s)
	if len(fs) != len(LogColumns) {
		return Metrics{}, fmt.Errorf("quality line has %d fields, want %d", len(fs), len(LogColumns))
	}
	var m Metrics
	it, err := strconv.Atoi(fs[0])
	if err != nil {
		return Metrics{}, fmt.Errorf("iteration: %w", err)
	}
	m.Iteration = it
	dst := []*float64{&m.CWsin, &m.DivMean, &m.DivMax, &m.L, &m.Energy, &m.Step}
	for n, p := range dst {
		x, err := strconv.ParseFloat(fs[n+1], 64)
		if err != nil {
			return Metrics{}, fmt.Errorf("%s: %w", LogColumns[n+1], err)
		}
		*p = x
	}
	return m, nil
}
