//go:build integration

package cli

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/schaermu/toolsync/internal/testutil"
)

const defaultTimeout = 5 * time.Minute

// Harness builds the toolsync binary once and runs it against a temporary
// home directory.
type Harness struct {
	t      *testing.T
	binary string
	home   string
	config string
}

// NewHarness creates a new test harness
func NewHarness(t *testing.T) *Harness {
	t.Helper()
	home := t.TempDir()
	return &Harness{
		t:      t,
		binary: filepath.Join(t.TempDir(), "toolsync"),
		home:   home,
		config: filepath.Join(home, ".toolsync.yaml"),
	}
}

// Build compiles cmd/toolsync into the harness temp directory.
func (h *Harness) Build(ctx context.Context) error {
	h.t.Helper()

	projectRoot, err := testutil.FindProjectRoot()
	if err != nil {
		return fmt.Errorf("get project root: %w", err)
	}

	cmd := exec.CommandContext(ctx, "go", "build", "-o", h.binary, "./cmd/toolsync")
	cmd.Dir = projectRoot
	cmd.Stdout = &testWriter{t: h.t, prefix: "[build] "}
	cmd.Stderr = &testWriter{t: h.t, prefix: "[build] "}

	if err := cmd.Run(); err != nil {
		return fmt.Errorf("go build: %w", err)
	}
	h.t.Logf("Binary built at %s", h.binary)
	return nil
}

// Path returns p joined to the temporary home directory.
func (h *Harness) Path(p ...string) string {
	return filepath.Join(append([]string{h.home}, p...)...)
}

// Exec runs toolsync with args. The config path is passed through the
// environment.
func (h *Harness) Exec(ctx context.Context, args ...string) (string, string, int, error) {
	h.t.Helper()

	cmd := exec.CommandContext(ctx, h.binary, args...)
	cmd.Env = append(os.Environ(),
		"HOME="+h.home,
		"TOOLSYNC_CONFIG="+h.config,
		"TOOLSYNC_LOG_LEVEL=debug",
	)

	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			return "", "", 0, fmt.Errorf("exec failed: %w", err)
		}
	}

	return stdout.String(), stderr.String(), exitCode, nil
}

// MustExec runs toolsync and fails the test on a non-zero exit code
func (h *Harness) MustExec(ctx context.Context, args ...string) (string, string) {
	h.t.Helper()
	stdout, stderr, exitCode, err := h.Exec(ctx, args...)
	if err != nil {
		h.t.Fatalf("exec failed: %v", err)
	}
	if exitCode != 0 {
		h.t.Fatalf("command failed with exit code %d\nstdout: %s\nstderr: %s\nargs: %v",
			exitCode, stdout, stderr, args)
	}
	return stdout, stderr
}

// WriteFile writes a file below the temporary home directory
func (h *Harness) WriteFile(rel, content string) {
	h.t.Helper()
	p := h.Path(rel)
	if err := os.MkdirAll(filepath.Dir(p), 0755); err != nil {
		h.t.Fatalf("mkdir parent: %v", err)
	}
	if err := os.WriteFile(p, []byte(content), 0644); err != nil {
		h.t.Fatalf("write file: %v", err)
	}
}

// ReadFile reads a file below the temporary home directory
func (h *Harness) ReadFile(rel string) (string, error) {
	data, err := os.ReadFile(h.Path(rel))
	return string(data), err
}

// FileExists checks if a file exists below the temporary home directory
func (h *Harness) FileExists(rel string) bool {
	_, err := os.Stat(h.Path(rel))
	return err == nil
}

// testWriter wraps test logging for command output
type testWriter struct {
	t      *testing.T
	prefix string
}

func (w *testWriter) Write(p []byte) (n int, err error) {
	lines := strings.Split(string(p), "\n")
	for _, line := range lines {
		if line != "" {
			w.t.Log(w.prefix + line)
		}
	}
	return len(p), nil
}

var _ io.Writer = (*testWriter)(nil)
