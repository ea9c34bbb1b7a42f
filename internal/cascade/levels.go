package cascade

import "github.com/banshee-data/nlfff/internal/field"

// ParseLevels decodes a level string such as "123". Each character is a
// level from 1 to 9 and levels must be strictly increasing.
func ParseLevels(s string) ([]int, error) {
	if s == "" {
		return nil, field.Invalid("no grid levels given")
	}
	levels := make([]int, 0, len(s))
	for i, r := range s {
		if r < '1' || r > '9' {
			return nil, field.Invalid("bad grid level %q at position %d of %q", r, i+1, s)
		}
		n := int(r - '0')
		if len(levels) > 0 && n <= levels[len(levels)-1] {
			return nil, field.Invalid("grid levels %q must be strictly increasing", s)
		}
		levels = append(levels, n)
	}
	return levels, nil
}
