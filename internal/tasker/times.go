package tasker

import (
	"sort"
	"strings"
)

// MaxTimes caps the number of times kept from one text field.
// The earliest entries are kept.
const MaxTimes = 32

// splitFields splits text on commas, semicolons and whitespace.
func splitFields(text string) []string {
	return strings.FieldsFunc(text, func(r rune) bool {
		switch r {
		case ',', ';', ' ', '\t', '\n', '\r':
			return true
		}
		return false
	})
}

// ParseTimes parses a list of H:M or H:M:S times.
//
// Tokens are separated by commas, semicolons or whitespace. Each field has one
// or two digits. Bad tokens are skipped and returned as ParseErrors. The result
// is sorted ascending with duplicates removed, and empty when nothing parses.
func ParseTimes(text string) ([]TimeOfDay, []*ParseError) {
	var (
		out  []TimeOfDay
		errs []*ParseError
	)
	for _, tok := range splitFields(text) {
		t, reason := parseTimeToken(tok)
		if reason != "" {
			errs = append(errs, &ParseError{Field: "times", Token: tok, Reason: reason})
			continue
		}
		out = append(out, t)
	}

	sort.Slice(out, func(i, j int) bool { return out[i].Before(out[j]) })
	out = dedupSorted(out)

	if len(out) > MaxTimes {
		for _, t := range out[MaxTimes:] {
			errs = append(errs, &ParseError{Field: "times", Token: t.String(), Reason: "too many times"})
		}
		out = out[:MaxTimes]
	}
	return out, errs
}

func dedupSorted(in []TimeOfDay) []TimeOfDay {
	if len(in) < 2 {
		return in
	}
	n := 1
	for i := 1; i < len(in); i++ {
		if in[i] != in[n-1] {
			in[n] = in[i]
			n++
		}
	}
	return in[:n]
}

func parseTimeToken(tok string) (TimeOfDay, string) {
	parts := strings.Split(tok, ":")
	if len(parts) != 2 && len(parts) != 3 {
		return TimeOfDay{}, "expected H:M or H:M:S"
	}
	var v [3]int
	for i, p := range parts {
		n, ok := parseSmallUint(p)
		if !ok {
			return TimeOfDay{}, "fields must be 1-2 digits"
		}
		v[i] = n
	}
	t, ok := NewTimeOfDay(v[0], v[1], v[2])
	if !ok {
		return TimeOfDay{}, "out of range"
	}
	return t, ""
}

// parseSmallUint accepts exactly one or two ASCII digits.
func parseSmallUint(s string) (int, bool) {
	if len(s) == 0 || len(s) > 2 {
		return 0, false
	}
	n := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < '0' || c > '9' {
			return 0, false
		}
		n = n*10 + int(c-'0')
	}
	return n, true
}

// FormatTimes renders times the way ParseTimes accepts them.
func FormatTimes(times []TimeOfDay) string {
	parts := make([]string, len(times))
	for i, t := range times {
		parts[i] = t.String()
	}
	return strings.Join(parts, ",")
}
