package provider

import (
	"fmt"
	"regexp"
	"strings"
)

// Tickers, share classes (BRK.B, RDS-A) and index symbols (^GSPC).
var symbolPattern = regexp.MustCompile(`^\^?[A-Z0-9][A-Z0-9.\-]*$`)

const maxSymbolLen = 10

// NormalizeSymbol trims and upper-cases s and checks it is a plausible ticker
// of at most 10 characters, a leading ^ included.
func NormalizeSymbol(s string) (string, error) {
	sym := strings.ToUpper(strings.TrimSpace(s))
	if len(sym) > maxSymbolLen || !symbolPattern.MatchString(sym) {
		return sym, fmt.Errorf("%w: %q", ErrInvalidSymbol, s)
	}
	return sym, nil
}

// NormalizeSymbols normalizes every entry of in, dropping blanks and
// duplicates while keeping first-seen order. Entries that fail validation
// are returned separately in their upper-cased form.
func NormalizeSymbols(in []string) (valid, invalid []string) {
	seen := make(map[string]struct{}, len(in))
	for _, s := range in {
		if strings.TrimSpace(s) == "" {
			continue
		}
		sym, err := NormalizeSymbol(s)
		if _, dup := seen[sym]; dup {
			continue
		}
		seen[sym] = struct{}{}
		if err != nil {
			invalid = append(invalid, sym)
			continue
		}
		valid = append(valid, sym)
	}
	return valid, invalid
}

// SplitCSV splits a comma separated list, dropping empty items.
func SplitCSV(s string) []string {
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
