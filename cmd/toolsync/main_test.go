package main

import (
	"bytes"
	"context"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/schaermu/toolsync/internal/apperr"
	"github.com/schaermu/toolsync/internal/backup"
	"github.com/schaermu/toolsync/internal/config"
	"github.com/schaermu/toolsync/internal/sync"
)

// resetGlobals restores flag variables and the viper config override after
// a test.
func resetGlobals(t *testing.T) {
	t.Helper()
	t.Cleanup(func() {
		toolNames = nil
		pushFlag, pullFlag, bidirectional = false, false, false
		dryRun, autoResolve = false, false
		initOutput, initForce = "", false
		backupTool, assumeYes = "", false
		viper.Set("config", "")
	})
}

type workspace struct {
	root   string
	source string
	target string
	config string
}

func newWorkspace(t *testing.T) workspace {
	t.Helper()
	root := t.TempDir()
	w := workspace{
		root:   root,
		source: filepath.Join(root, "dotfiles", "claude"),
		target: filepath.Join(root, "home", ".claude"),
		config: filepath.Join(root, "toolsync.yaml"),
	}
	for _, d := range []string{w.source, w.target} {
		if err := os.MkdirAll(d, 0755); err != nil {
			t.Fatal(err)
		}
	}
	content := `settings:
  backup_dir: ` + filepath.Join(root, "backups") + `
tools:
  claude:
    source: ` + w.source + `
    target: ` + w.target + `
`
	if err := os.WriteFile(w.config, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}
	viper.Set("config", w.config)
	return w
}

// runCommand prepares cmd to be run directly and returns its output buffer.
func runCommand(t *testing.T, cmd *cobra.Command) *bytes.Buffer {
	t.Helper()
	var out bytes.Buffer
	cmd.SetContext(context.Background())
	cmd.SetOut(&out)
	cmd.SetErr(io.Discard)
	return &out
}

func TestSetupLogger(t *testing.T) {
	for _, tc := range []struct {
		name      string
		logLevel  string
		logFormat string
		debugSeen bool
	}{
		{name: "debug/text", logLevel: "debug", logFormat: "text", debugSeen: true},
		{name: "info/json", logLevel: "info", logFormat: "json"},
		{name: "warn/text", logLevel: "warn", logFormat: "text"},
		{name: "error/text", logLevel: "error", logFormat: "text"},
		{name: "unknown/text", logLevel: "unknown", logFormat: "text"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			var buf bytes.Buffer
			logger := setupLogger(tc.logLevel, tc.logFormat, &buf)
			if logger == nil {
				t.Fatal("setupLogger returned nil")
			}
			logger.Debug("debug message")
			if got := strings.Contains(buf.String(), "debug message"); got != tc.debugSeen {
				t.Errorf("debug message logged = %v, want %v", got, tc.debugSeen)
			}
		})
	}
}

func TestSetupLogger_JSON(t *testing.T) {
	var buf bytes.Buffer
	setupLogger("info", "json", &buf).Info("hello", "tool", "claude")
	if !strings.Contains(buf.String(), `"tool":"claude"`) {
		t.Errorf("expected JSON output, got %q", buf.String())
	}
}

func TestLoadConfig_WithExplicitPath(t *testing.T) {
	resetGlobals(t)
	w := newWorkspace(t)
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	cfg, err := loadConfig(logger)
	if err != nil {
		t.Fatalf("loadConfig returned error: %v", err)
	}
	tool, ok := cfg.Tool("claude")
	if !ok || tool.Target != w.target {
		t.Fatalf("unexpected tool config: %+v", tool)
	}
}

func TestLoadConfig_MissingFile(t *testing.T) {
	resetGlobals(t)
	viper.Set("config", filepath.Join(t.TempDir(), "nonexistent.yaml"))
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	_, err := loadConfig(logger)
	if !apperr.IsCode(err, apperr.CodeNotFound) {
		t.Fatalf("expected NOT_FOUND for missing config file, got %v", err)
	}
}

func TestSetupSignalHandler(t *testing.T) {
	ctx, cancel := setupSignalHandler()
	if ctx == nil {
		t.Fatal("setupSignalHandler returned nil context")
	}

	cancel()

	<-ctx.Done()
	if err := ctx.Err(); err == nil {
		t.Fatal("expected context error after cancel, got nil")
	}
}

func TestSelectedDirection(t *testing.T) {
	resetGlobals(t)

	if got := selectedDirection(); got != sync.Push {
		t.Errorf("default direction = %v, want push", got)
	}
	pullFlag = true
	if got := selectedDirection(); got != sync.Pull {
		t.Errorf("--pull direction = %v", got)
	}
	pullFlag, bidirectional = false, true
	if got := selectedDirection(); got != sync.Bidirectional {
		t.Errorf("--bidirectional direction = %v", got)
	}
}

func TestVersionCmd(t *testing.T) {
	out := runCommand(t, versionCmd)
	versionCmd.Run(versionCmd, []string{})
	if !strings.HasPrefix(out.String(), "toolsync dev") {
		t.Errorf("unexpected version output %q", out.String())
	}
}

func TestInitConfig(t *testing.T) {
	resetGlobals(t)
	initOutput = filepath.Join(t.TempDir(), "nested", "toolsync.yaml")
	runCommand(t, initConfigCmd)

	if err := runInitConfig(initConfigCmd, nil); err != nil {
		t.Fatalf("init-config failed: %v", err)
	}
	data, err := os.ReadFile(initOutput)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(data, config.Template()) {
		t.Error("written config differs from the template")
	}

	if err := runInitConfig(initConfigCmd, nil); !apperr.IsCode(err, apperr.CodeValidation) {
		t.Fatalf("expected VALIDATION_ERROR without --force, got %v", err)
	}

	initForce = true
	if err := runInitConfig(initConfigCmd, nil); err != nil {
		t.Fatalf("init-config --force failed: %v", err)
	}
}

func TestSyncRestoreRoundTrip(t *testing.T) {
	resetGlobals(t)
	w := newWorkspace(t)
	autoResolve = true

	if err := os.WriteFile(filepath.Join(w.source, "CLAUDE.md"), []byte("# notes\n"), 0644); err != nil {
		t.Fatal(err)
	}

	out := runCommand(t, syncCmd)
	if err := runSync(syncCmd, nil); err != nil {
		t.Fatalf("first sync failed: %v", err)
	}
	data, err := os.ReadFile(filepath.Join(w.target, "CLAUDE.md"))
	if err != nil || string(data) != "# notes\n" {
		t.Fatalf("target not synced: %q, %v", data, err)
	}
	if _, err := os.Stat(filepath.Join(w.root, "home", ".sync-state")); err != nil {
		t.Errorf("state directory missing: %v", err)
	}

	out.Reset()
	if err := runSync(syncCmd, nil); err != nil {
		t.Fatalf("second sync failed: %v", err)
	}
	if !strings.Contains(out.String(), "no changes to sync") {
		t.Errorf("second sync should be a no-op, got:\n%s", out.String())
	}

	manifests, err := backup.NewManager(filepath.Join(w.root, "backups"), nil).List("")
	if err != nil || len(manifests) != 1 {
		t.Fatalf("expected one backup, got %d (%v)", len(manifests), err)
	}

	listOut := runCommand(t, listBackupsCmd)
	if err := runListBackups(listBackupsCmd, nil); err != nil {
		t.Fatalf("list-backups failed: %v", err)
	}
	if !strings.Contains(listOut.String(), manifests[0].ID) {
		t.Errorf("list-backups output misses %s:\n%s", manifests[0].ID, listOut.String())
	}

	assumeYes = true
	runCommand(t, restoreCmd)
	if err := runRestore(restoreCmd, []string{manifests[0].ID}); err != nil {
		t.Fatalf("restore failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(w.target, "CLAUDE.md")); !os.IsNotExist(err) {
		t.Errorf("restore should remove the file the sync created, stat err = %v", err)
	}

	if err := runRestore(restoreCmd, []string{"2020-01-01_000000_push_nothing"}); !apperr.IsCode(err, apperr.CodeNotFound) {
		t.Errorf("expected NOT_FOUND for unknown backup, got %v", err)
	}
}

func TestSync_DryRun(t *testing.T) {
	resetGlobals(t)
	w := newWorkspace(t)
	dryRun = true

	if err := os.WriteFile(filepath.Join(w.source, "CLAUDE.md"), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	out := runCommand(t, syncCmd)
	if err := runSync(syncCmd, nil); err != nil {
		t.Fatalf("dry run failed: %v", err)
	}
	if _, err := os.Stat(filepath.Join(w.target, "CLAUDE.md")); !os.IsNotExist(err) {
		t.Error("dry run must not copy files")
	}
	if !strings.Contains(out.String(), "dry run") {
		t.Errorf("expected dry run note, got:\n%s", out.String())
	}
}

func TestSync_UnknownTool(t *testing.T) {
	resetGlobals(t)
	newWorkspace(t)
	toolNames = []string{"nope"}

	runCommand(t, syncCmd)
	if err := runSync(syncCmd, nil); err == nil {
		t.Fatal("expected an error when a tool fails")
	}
}

func TestStatus_ShowsPendingChanges(t *testing.T) {
	resetGlobals(t)
	w := newWorkspace(t)

	if err := os.WriteFile(filepath.Join(w.source, "CLAUDE.md"), []byte("# notes\n"), 0644); err != nil {
		t.Fatal(err)
	}

	out := runCommand(t, statusCmd)
	if err := runStatus(statusCmd, nil); err != nil {
		t.Fatalf("status failed: %v", err)
	}
	for _, want := range []string{"CLAUDE.md", "dry run", "no sync state recorded yet"} {
		if !strings.Contains(out.String(), want) {
			t.Errorf("status output misses %q:\n%s", want, out.String())
		}
	}
	if _, err := os.Stat(filepath.Join(w.target, "CLAUDE.md")); !os.IsNotExist(err) {
		t.Error("status must not copy files")
	}

	toolNames = []string{"nope"}
	if err := runStatus(statusCmd, nil); err == nil {
		t.Error("expected an error for an unknown tool")
	}
}

func TestSync_RunsPropagation(t *testing.T) {
	resetGlobals(t)
	w := newWorkspace(t)
	autoResolve = true

	agents := filepath.Join(w.root, "home", ".config", "opencode", "AGENTS.md")
	content, err := os.ReadFile(w.config)
	if err != nil {
		t.Fatal(err)
	}
	content = append(content, []byte(`propagate:
  - source_tool: claude
    source_file: CLAUDE.md
    targets:
      - dest_path: `+agents+`
        transforms:
          - type: sed
            pattern: s/Claude/the agent/g
`)...)
	if err := os.WriteFile(w.config, content, 0644); err != nil {
		t.Fatal(err)
	}
	if err := os.WriteFile(filepath.Join(w.source, "CLAUDE.md"), []byte("Claude rules\n"), 0644); err != nil {
		t.Fatal(err)
	}

	dryRun = true
	out := runCommand(t, syncCmd)
	if err := runSync(syncCmd, nil); err != nil {
		t.Fatalf("dry run failed: %v", err)
	}
	if _, err := os.Stat(agents); !os.IsNotExist(err) {
		t.Error("dry run must not propagate")
	}

	dryRun = false
	out.Reset()
	if err := runSync(syncCmd, nil); err != nil {
		t.Fatalf("sync failed: %v", err)
	}
	data, err := os.ReadFile(agents)
	if err != nil || string(data) != "the agent rules\n" {
		t.Fatalf("propagated content = %q, %v", data, err)
	}
	if !strings.Contains(out.String(), "propagated") {
		t.Errorf("expected propagation output, got:\n%s", out.String())
	}
}
