package state

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/schaermu/toolsync/internal/apperr"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestStore(t *testing.T, dir, host string) *Store {
	t.Helper()
	return NewStore(dir, IdentityFrom(host, "0123456789abcdef"), testLogger())
}

func TestDirFor(t *testing.T) {
	assert.Equal(t, filepath.Join("/home/u", ".sync-state"), DirFor("/home/u/.claude"))
	assert.Equal(t, filepath.Join("/home/u", ".sync-state"), DirFor("/home/u/.claude/"))
}

func TestLoad_Empty(t *testing.T) {
	store := newTestStore(t, t.TempDir(), "alpha")

	st, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "alpha-01234567", st.MachineID)
	assert.Equal(t, "alpha", st.Hostname)
	assert.Empty(t, st.Files)
	assert.Empty(t, st.Deletions)
}

func TestSaveLoad(t *testing.T) {
	dir := t.TempDir()
	store := newTestStore(t, dir, "alpha")
	fixed := time.Date(2025, 3, 1, 12, 0, 0, 0, time.UTC)
	store.now = func() time.Time { return fixed }

	st, err := store.Load()
	require.NoError(t, err)
	st.LastSync = time.Time{}
	st.UpdateFile(QualifiedPath("claude", "settings.json"), "sha256:abc", fixed.Add(-time.Hour))
	st.RecordDeletion("claude/old.md", "sha256:def", DecisionConfirmed, fixed)

	require.NoError(t, store.Save(st))
	assert.Equal(t, fixed, st.LastSync, "save refreshes last_sync")
	assert.FileExists(t, filepath.Join(dir, "alpha.json"))

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.True(t, loaded.LastSync.Equal(fixed))
	rec, ok := loaded.File("claude/settings.json")
	require.True(t, ok)
	assert.Equal(t, "sha256:abc", rec.Checksum)
	assert.True(t, loaded.HasDeletionRecord("claude/old.md"))
	assert.Equal(t, DecisionConfirmed, loaded.Deletions["claude/old.md"].Decision)

	// no temp files left behind
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestSave_InterruptedBeforeRename(t *testing.T) {
	dir := t.TempDir()
	store := newTestStore(t, dir, "alpha")

	st, err := store.Load()
	require.NoError(t, err)
	st.UpdateFile("claude/a.md", "sha256:old", time.Now())
	require.NoError(t, store.Save(st))

	// a crash after the temp write but before the rename leaves the old file intact
	st.UpdateFile("claude/a.md", "sha256:new", time.Now())
	data, err := json.MarshalIndent(st, "", "  ")
	require.NoError(t, err)
	tmpPath, err := store.writeTemp(data[:len(data)/2])
	require.NoError(t, err)
	assert.FileExists(t, tmpPath)

	loaded, err := store.Load()
	require.NoError(t, err)
	assert.Equal(t, "sha256:old", loaded.Files["claude/a.md"].Checksum)

	// the stray temp file is not picked up as a machine record
	all, err := store.LoadAll()
	require.NoError(t, err)
	assert.Len(t, all, 1)

	// completing the commit switches to the new content in one step
	full, err := store.writeTemp(data)
	require.NoError(t, err)
	require.NoError(t, store.commit(full))
	loaded, err = store.Load()
	require.NoError(t, err)
	assert.Equal(t, "sha256:new", loaded.Files["claude/a.md"].Checksum)
}

func TestLoad_Corrupt(t *testing.T) {
	dir := t.TempDir()
	store := newTestStore(t, dir, "alpha")
	require.NoError(t, os.WriteFile(store.Path(), []byte("{not json"), 0644))

	_, err := store.Load()
	require.Error(t, err)
	assert.True(t, apperr.IsCode(err, apperr.CodeParse))
}

func TestLoadAll_SkipsCorrupt(t *testing.T) {
	dir := t.TempDir()
	alpha := newTestStore(t, dir, "alpha")
	beta := newTestStore(t, dir, "beta")

	for _, s := range []*Store{alpha, beta} {
		st, err := s.Load()
		require.NoError(t, err)
		require.NoError(t, s.Save(st))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "gamma.json"), []byte("garbage"), 0644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "delta.json"), []byte(`{"hostname":"delta"}`), 0644))

	all, err := alpha.LoadAll()
	require.NoError(t, err)
	assert.Len(t, all, 2)
	assert.Contains(t, all, "alpha-01234567")
	assert.Contains(t, all, "beta-01234567")
}

func TestLoadAll_MissingDir(t *testing.T) {
	store := newTestStore(t, filepath.Join(t.TempDir(), "absent"), "alpha")
	all, err := store.LoadAll()
	require.NoError(t, err)
	assert.Empty(t, all)
}

func TestMostRecentStateForPath(t *testing.T) {
	dir := t.TempDir()
	alpha := newTestStore(t, dir, "alpha")
	beta := newTestStore(t, dir, "beta")
	gamma := newTestStore(t, dir, "gamma")

	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	write := func(s *Store, checksum string, at time.Time) {
		st, err := s.Load()
		require.NoError(t, err)
		st.UpdateFile("claude/CLAUDE.md", checksum, at)
		require.NoError(t, s.Save(st))
	}
	write(alpha, "sha256:a", base.Add(3*time.Hour))
	write(beta, "sha256:b", base.Add(2*time.Hour))
	write(gamma, "sha256:c", base.Add(1*time.Hour))

	rec, ok, err := alpha.MostRecentStateForPath("claude/CLAUDE.md", false)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "sha256:a", rec.Checksum)

	rec, ok, err = alpha.MostRecentStateForPath("claude/CLAUDE.md", true)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "sha256:b", rec.Checksum)

	_, ok, err = alpha.MostRecentStateForPath("claude/unknown.md", false)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestIdentityStable(t *testing.T) {
	a, err := NewIdentity()
	require.NoError(t, err)
	b, err := NewIdentity()
	require.NoError(t, err)

	assert.Equal(t, a, b)
	assert.NotEmpty(t, a.Hostname)
	assert.Len(t, a.MachineID, len(a.Hostname)+1+seedLength)
}

func TestIdentityFrom(t *testing.T) {
	id := IdentityFrom("box", "ABCD-EF01-2345")
	assert.Equal(t, "box-abcdef01", id.MachineID)
	assert.Equal(t, "box", id.Hostname)
}
