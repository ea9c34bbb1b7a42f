package project

import (
	"bufio"
	"bytes"
	"strconv"
	"strings"

	"github.com/banshee-data/nlfff/internal/field"
)

type iniValue struct {
	value string
	line  int
}

// parseINI accepts "key=value" lines and the two-line form written by the
// input preparer, where a bare key line is followed by an indented value
// line. Keys are case-insensitive. Blank lines and lines starting with '#'
// or ';' are skipped.
func parseINI(data []byte, name string) (map[string]iniValue, error) {
	out := make(map[string]iniValue)
	sc := bufio.NewScanner(bytes.NewReader(data))
	pending, pendingLine := "", 0
	for n := 1; sc.Scan(); n++ {
		line := strings.TrimSpace(sc.Text())
		if line == "" || line[0] == '#' || line[0] == ';' {
			continue
		}
		if k, v, ok := strings.Cut(line, "="); ok {
			if pending != "" {
				return nil, field.Invalid("%s:%d: key %q has no value", name, pendingLine, pending)
			}
			out[strings.ToLower(strings.TrimSpace(k))] = iniValue{strings.TrimSpace(v), n}
			continue
		}
		if pending == "" {
			pending, pendingLine = strings.ToLower(line), n
			continue
		}
		out[pending] = iniValue{line, n}
		pending = ""
	}
	if err := sc.Err(); err != nil {
		return nil, field.Invalid("%s: %v", name, err)
	}
	if pending != "" {
		return nil, field.Invalid("%s:%d: key %q has no value", name, pendingLine, pending)
	}
	return out, nil
}

// ParseGrid decodes a gridN.ini file. nx, ny and nz are required; mu, nd
// and nu (or nue) fall back to their defaults. Unknown keys are ignored.
// The grid is not validated.
func ParseGrid(data []byte, name string) (field.Grid, error) {
	kv, err := parseINI(data, name)
	if err != nil {
		return field.Grid{}, err
	}
	g := field.Grid{Mu: field.DefaultMu, Nu: field.DefaultNu}
	for _, f := range []struct {
		key string
		dst *int
	}{{"nx", &g.NX}, {"ny", &g.NY}, {"nz", &g.NZ}} {
		v, ok := kv[f.key]
		if !ok {
			return field.Grid{}, field.Invalid("%s: missing %s", name, f.key)
		}
		if *f.dst, err = strconv.Atoi(v.value); err != nil {
			return field.Grid{}, field.Invalid("%s:%d: %s=%q is not an integer", name, v.line, f.key, v.value)
		}
	}
	if v, ok := kv["nd"]; ok {
		if g.ND, err = strconv.Atoi(v.value); err != nil {
			return field.Grid{}, field.Invalid("%s:%d: nd=%q is not an integer", name, v.line, v.value)
		}
	}
	if err := floatKey(kv, name, "mu", &g.Mu); err != nil {
		return field.Grid{}, err
	}
	for _, key := range []string{"nu", "nue"} {
		if err := floatKey(kv, name, key, &g.Nu); err != nil {
			return field.Grid{}, err
		}
	}
	return g, nil
}

// ParseBoundaryIni returns the nue override of a boundary.ini file.
func ParseBoundaryIni(data []byte, name string) (nu float64, ok bool, err error) {
	kv, err := parseINI(data, name)
	if err != nil {
		return 0, false, err
	}
	if _, ok = kv["nue"]; !ok {
		return 0, false, nil
	}
	if err := floatKey(kv, name, "nue", &nu); err != nil {
		return 0, false, err
	}
	return nu, true, nil
}

func floatKey(kv map[string]iniValue, name, key string, dst *float64) error {
	v, ok := kv[key]
	if !ok {
		return nil
	}
	x, err := strconv.ParseFloat(v.value, 64)
	if err != nil {
		return field.Invalid("%s:%d: %s=%q is not a number", name, v.line, key, v.value)
	}
	*dst = x
	return nil
}
