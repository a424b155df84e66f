package ui

import (
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/schaermu/toolsync/internal/sync"
)

// scriptedPrompter answers questions from a fixed list and keeps them.
func scriptedPrompter(out *bytes.Buffer, answers ...string) (*Prompter, *[]question) {
	p := NewPrompter(nil, out)
	var asked []question
	p.ask = func(_ context.Context, q question) (string, error) {
		asked = append(asked, q)
		if len(answers) == 0 {
			return "", ErrAborted
		}
		a := answers[0]
		answers = answers[1:]
		return a, nil
	}
	return p, &asked
}

func writePair(t *testing.T, source, target string) sync.Pair {
	t.Helper()
	dir := t.TempDir()
	pair := sync.Pair{
		Rel:        "CLAUDE.md",
		SourcePath: filepath.Join(dir, "source.md"),
		TargetPath: filepath.Join(dir, "target.md"),
	}
	require.NoError(t, os.WriteFile(pair.SourcePath, []byte(source), 0644))
	require.NoError(t, os.WriteFile(pair.TargetPath, []byte(target), 0644))
	return pair
}

func TestPrompter_Conflict(t *testing.T) {
	pair := writePair(t, "a\n", "b\n")
	tests := []struct {
		answer string
		want   sync.ConflictDecision
	}{
		{"k", sync.ConflictKeepSource},
		{"t", sync.ConflictUseTarget},
		{"n", sync.ConflictNewer},
		{"s", sync.ConflictSkip},
	}
	for _, tt := range tests {
		t.Run(tt.want.String(), func(t *testing.T) {
			var out bytes.Buffer
			p, _ := scriptedPrompter(&out, tt.answer)
			got, err := p.Conflict(context.Background(), "claude", pair)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestPrompter_DiffThenDecide(t *testing.T) {
	pair := writePair(t, "shared\nsource line\n", "shared\ntarget line\n")
	var out bytes.Buffer
	p, asked := scriptedPrompter(&out, "d", "p")

	got, err := p.ReverseSync(context.Background(), "claude", pair)
	require.NoError(t, err)
	assert.Equal(t, sync.ReversePull, got)
	assert.Len(t, *asked, 2, "question repeats after the diff")
	assert.Contains(t, out.String(), "-source line")
	assert.Contains(t, out.String(), "+target line")
	assert.Contains(t, out.String(), "source/CLAUDE.md")
}

func TestPrompter_Aborted(t *testing.T) {
	var out bytes.Buffer
	p, _ := scriptedPrompter(&out)

	got, err := p.Deletion(context.Background(), "claude", sync.DeleteAction{Rel: "x.md", Side: sync.Target})
	assert.True(t, errors.Is(err, ErrAborted))
	assert.Equal(t, sync.DeletionSkip, got)
}

func TestPrompter_Deletion(t *testing.T) {
	var out bytes.Buffer
	p, asked := scriptedPrompter(&out, "c")

	got, err := p.Deletion(context.Background(), "claude", sync.DeleteAction{Rel: "x.md", Side: sync.Source})
	require.NoError(t, err)
	assert.Equal(t, sync.DeletionCopyBack, got)
	require.Len(t, *asked, 1)
	assert.Contains(t, (*asked)[0].title, "delete x.md from source")
	assert.Equal(t, "copy back to target", (*asked)[0].options[1].label)
}

func TestPrompter_Orphans(t *testing.T) {
	orphans := make([]sync.Orphan, 12)
	for i := range orphans {
		orphans[i] = sync.Orphan{Rel: filepath.Join("agents", string(rune('a'+i))+".md")}
	}
	var out bytes.Buffer
	p, asked := scriptedPrompter(&out, "e", "x")

	got, err := p.Orphans(context.Background(), "claude", orphans)
	require.NoError(t, err)
	assert.Equal(t, sync.OrphansSelect, got)
	details := (*asked)[0].details
	require.Len(t, details, maxListedOrphans+1)
	assert.Equal(t, "... and 2 more", details[maxListedOrphans])

	one, err := p.Orphan(context.Background(), "claude", orphans[0])
	require.NoError(t, err)
	assert.Equal(t, sync.OrphanDelete, one)
}

func TestPrompter_Overwrite(t *testing.T) {
	pair := writePair(t, "mine\n", "theirs\n")
	c := sync.CopyAction{Rel: pair.Rel, From: sync.Target, SrcPath: pair.TargetPath, DstPath: pair.SourcePath}

	var out bytes.Buffer
	p, _ := scriptedPrompter(&out, "y", "n")
	ok, err := p.Overwrite(context.Background(), "claude", c)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = p.Overwrite(context.Background(), "claude", c)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestPrompter_Confirm(t *testing.T) {
	var out bytes.Buffer
	p, asked := scriptedPrompter(&out, "y", "n")

	ok, err := p.Confirm(context.Background(), "restore backup?", "3 files")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, []string{"3 files"}, (*asked)[0].details)

	ok, err = p.Confirm(context.Background(), "restore backup?")
	require.NoError(t, err)
	assert.False(t, ok)
}
