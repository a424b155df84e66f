package sync

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/schaermu/toolsync/internal/backup"
	"github.com/schaermu/toolsync/internal/config"
	"github.com/schaermu/toolsync/internal/discovery"
	"github.com/schaermu/toolsync/internal/state"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

func testIdentity() state.Identity {
	return state.IdentityFrom("devbox", "0123456789abcdef")
}

// mockDecider returns fixed answers and counts how often it was asked.
type mockDecider struct {
	reverse   ReverseDecision
	conflict  ConflictDecision
	orphans   OrphansDecision
	orphan    OrphanDecision
	deletion  DeletionDecision
	overwrite bool
	err       error

	calls map[string]int
}

func (m *mockDecider) record(kind string) {
	if m.calls == nil {
		m.calls = make(map[string]int)
	}
	m.calls[kind]++
}

func (m *mockDecider) ReverseSync(_ context.Context, _ string, _ Pair) (ReverseDecision, error) {
	m.record("reverse")
	return m.reverse, m.err
}

func (m *mockDecider) Conflict(_ context.Context, _ string, _ Pair) (ConflictDecision, error) {
	m.record("conflict")
	return m.conflict, m.err
}

func (m *mockDecider) Orphans(_ context.Context, _ string, _ []Orphan) (OrphansDecision, error) {
	m.record("orphans")
	return m.orphans, m.err
}

func (m *mockDecider) Orphan(_ context.Context, _ string, _ Orphan) (OrphanDecision, error) {
	m.record("orphan")
	return m.orphan, m.err
}

func (m *mockDecider) Deletion(_ context.Context, _ string, _ DeleteAction) (DeletionDecision, error) {
	m.record("deletion")
	return m.deletion, m.err
}

func (m *mockDecider) Overwrite(_ context.Context, _ string, _ CopyAction) (bool, error) {
	m.record("overwrite")
	return m.overwrite, m.err
}

// mockSnapshotter records backup requests.
type mockSnapshotter struct {
	requests []backup.Request
	err      error
	onCall   func(req backup.Request)
}

func (m *mockSnapshotter) Snapshot(req backup.Request) (string, error) {
	m.requests = append(m.requests, req)
	if m.onCall != nil {
		m.onCall(req)
	}
	if m.err != nil {
		return "", m.err
	}
	return "backup-1", nil
}

// mockStore counts saves.
type mockStore struct {
	saves int
	err   error
}

func (m *mockStore) Save(_ *state.SyncState) error {
	m.saves++
	return m.err
}

// fixture is a tool with real source and target directories.
type fixture struct {
	root string
	tool *config.ToolConfig
	st   *state.SyncState
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	root := t.TempDir()
	tool := &config.ToolConfig{
		Name:   "claude",
		Source: filepath.Join(root, "dotfiles", "claude"),
		Target: filepath.Join(root, "home", ".claude"),
	}
	for _, dir := range []string{tool.Source, tool.Target} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatal(err)
		}
	}
	return &fixture{
		root: root,
		tool: tool,
		st:   state.New(testIdentity(), time.Now()),
	}
}

func (f *fixture) path(side Side, rel string) string {
	return sidePath(f.tool, side, rel)
}

func (f *fixture) write(t *testing.T, side Side, rel, content string) string {
	t.Helper()
	p := f.path(side, rel)
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	return p
}

func (f *fixture) read(t *testing.T, side Side, rel string) string {
	t.Helper()
	data, err := os.ReadFile(f.path(side, rel))
	if err != nil {
		t.Fatalf("read %s %s: %v", side, rel, err)
	}
	return string(data)
}

func (f *fixture) exists(side Side, rel string) bool {
	_, err := os.Stat(f.path(side, rel))
	return err == nil
}

func (f *fixture) touch(t *testing.T, side Side, rel string, at time.Time) {
	t.Helper()
	if err := os.Chtimes(f.path(side, rel), at, at); err != nil {
		t.Fatal(err)
	}
}

// track records rel as synchronized with the current content of side.
func (f *fixture) track(t *testing.T, side Side, rel string) {
	t.Helper()
	sh, _ := f.tool.Special(rel)
	sum, err := contentFingerprint(f.path(side, rel), sh)
	if err != nil {
		t.Fatal(err)
	}
	f.st.UpdateFile(state.QualifiedPath(f.tool.Name, rel), sum, time.Now())
}

func (f *fixture) executor(decider Decider, snap Snapshotter, store StateSaver) *Executor {
	return &Executor{
		Tool:      f.tool,
		MachineID: testIdentity().MachineID,
		Decider:   decider,
		Inspector: NewInspector(f.tool, testLogger()),
		Backups:   snap,
		Store:     store,
		Logger:    testLogger(),
	}
}

func (f *fixture) plan(t *testing.T, dir Direction) *Plan {
	t.Helper()
	src, tgt := pathSet(t, f.tool.Source), pathSet(t, f.tool.Target)
	plan, err := BuildPlan(PlanInput{
		Tool:      f.tool,
		Direction: dir,
		Source:    src,
		Target:    tgt,
		State:     f.st,
		Inspector: NewInspector(f.tool, testLogger()),
	})
	if err != nil {
		t.Fatalf("BuildPlan: %v", err)
	}
	return plan
}

func pathSet(t *testing.T, root string) mapset.Set[string] {
	t.Helper()
	set, err := discovery.FindManagedFiles(root, discovery.Options{})
	if err != nil {
		t.Fatalf("FindManagedFiles(%s): %v", root, err)
	}
	return set
}
