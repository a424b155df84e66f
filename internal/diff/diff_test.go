package diff

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestUnified(t *testing.T) {
	a := []byte("one\ntwo\nthree\n")
	b := []byte("one\n2\nthree\nfour\n")

	text, stats := Unified(a, b, "source/notes.md", "target/notes.md")

	assert.Equal(t, Stats{Additions: 2, Deletions: 1}, stats)
	assert.Equal(t, "+2 -1", stats.Summary())
	assert.True(t, strings.HasPrefix(text, "--- source/notes.md\n+++ target/notes.md\n@@ "))
	assert.Contains(t, text, "-two\n")
	assert.Contains(t, text, "+2\n")
	assert.Contains(t, text, "+four\n")
	assert.Contains(t, text, " one\n")
}

func TestUnified_Identical(t *testing.T) {
	text, stats := Unified([]byte("same\n"), []byte("same\n"), "a", "b")
	assert.Empty(t, text)
	assert.Equal(t, 0, stats.Total())
	assert.Equal(t, "no changes", stats.Summary())
}

func TestUnified_NewFile(t *testing.T) {
	_, stats := Unified(nil, []byte("x\ny\n"), "/dev/null", "b")
	assert.Equal(t, Stats{Additions: 2}, stats)
}

func TestCount_DashPrefixedContent(t *testing.T) {
	stats := Count([]string{"--- not a header\n"}, []string{"+++ not a header\n"})
	assert.Equal(t, Stats{Additions: 1, Deletions: 1}, stats)
}
