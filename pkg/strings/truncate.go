package strings

import (
	"strings"
)

// DefaultCellMaxLen is the width table cells holding free text are cut to.
const DefaultCellMaxLen = 80

// minTruncateLen leaves room for one character plus "...".
const minTruncateLen = 4

// Truncate flattens s to a single line with single spaces and cuts it to
// maxLen runes, marking a cut with "...".
func Truncate(s string, maxLen int) string {
	if maxLen < minTruncateLen {
		maxLen = minTruncateLen
	}
	s = strings.Join(strings.Fields(s), " ")
	runes := []rune(s)
	if len(runes) > maxLen {
		return string(runes[:maxLen-3]) + "..."
	}
	return s
}
