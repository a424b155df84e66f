// Package diff renders unified diffs used to inform sync decisions.
package diff

import (
	"fmt"

	"github.com/pmezard/go-difflib/difflib"
)

// ContextLines is the number of unchanged lines shown around each hunk.
const ContextLines = 3

// Stats counts changed lines between two texts.
type Stats struct {
	Additions int
	Deletions int
}

// Total returns the number of changed lines.
func (s Stats) Total() int {
	return s.Additions + s.Deletions
}

// Summary renders the stats as "+3 -1", or "no changes".
func (s Stats) Summary() string {
	if s.Total() == 0 {
		return "no changes"
	}
	return fmt.Sprintf("+%d -%d", s.Additions, s.Deletions)
}

// Unified returns a unified diff from a to b together with line statistics.
// Identical inputs produce an empty diff.
func Unified(a, b []byte, nameA, nameB string) (string, Stats) {
	linesA := difflib.SplitLines(string(a))
	linesB := difflib.SplitLines(string(b))

	stats := Count(linesA, linesB)
	if stats.Total() == 0 {
		return "", stats
	}

	text, err := difflib.GetUnifiedDiffString(difflib.UnifiedDiff{
		A:        linesA,
		B:        linesB,
		FromFile: nameA,
		ToFile:   nameB,
		Context:  ContextLines,
	})
	if err != nil {
		// writes go to an in-memory buffer
		return "", stats
	}
	return text, stats
}

// Count returns line statistics without rendering the diff.
func Count(linesA, linesB []string) Stats {
	var stats Stats
	for _, op := range difflib.NewMatcher(linesA, linesB).GetOpCodes() {
		switch op.Tag {
		case 'r':
			stats.Deletions += op.I2 - op.I1
			stats.Additions += op.J2 - op.J1
		case 'd':
			stats.Deletions += op.I2 - op.I1
		case 'i':
			stats.Additions += op.J2 - op.J1
		}
	}
	return stats
}
