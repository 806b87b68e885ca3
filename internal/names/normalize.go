package names

import (
	"regexp"
	"strings"
)

// Reuters codes carry an exchange suffix after the last dot.
var exchangeSuffixes = map[string]bool{
	"O":  true, // NASDAQ
	"K":  true, // NYSE (alternate)
	"N":  true, // NYSE
	"A":  true, // NYSE American
	"P":  true, // NYSE Arca
	"PK": true, // OTC
}

// Class shares arrive as e.g. BRKb, which Yahoo writes as BRK-B.
var classSharePattern = regexp.MustCompile(`^([A-Z]+)([a-z])$`)

// NormalizeSymbol converts vendor symbol spellings to the Yahoo convention:
// dots become dashes, known Reuters exchange suffixes are stripped, and a
// trailing lowercase class letter becomes a dashed upper-case suffix.
func NormalizeSymbol(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}

	if m := classSharePattern.FindStringSubmatch(s); m != nil {
		return m[1] + "-" + strings.ToUpper(m[2])
	}

	if idx := strings.LastIndex(s, "."); idx > 0 {
		suffix := strings.ToUpper(s[idx+1:])
		if exchangeSuffixes[suffix] {
			s = s[:idx]
		}
	}

	return strings.ToUpper(strings.ReplaceAll(s, ".", "-"))
}
