// Package backup snapshots files before a sync overwrites or deletes them.
package backup

import (
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"github.com/klauspost/compress/gzip"

	"github.com/schaermu/toolsync/internal/apperr"
	"github.com/schaermu/toolsync/internal/fingerprint"
)

const (
	manifestName = "manifest.json"
	filesDir     = "files"
	gzSuffix     = ".gz"
	idTimeLayout = "2006-01-02_150405"
)

// Action describes what the sync was about to do to a backed up file.
type Action string

const (
	ActionCreated  Action = "created"
	ActionModified Action = "modified"
	ActionDeleted  Action = "deleted"
)

// File is one path covered by a snapshot. An empty Replacement means the
// path is about to be deleted; otherwise it is about to be overwritten by
// (or created from) Replacement.
type File struct {
	Path        string
	Replacement string
}

// Request describes one snapshot.
type Request struct {
	Tool      string
	Operation string
	Direction string
	MachineID string
	Files     []File
}

// Change records one file in a manifest.
type Change struct {
	File       string `json:"file"`
	Action     Action `json:"action"`
	SizeBefore *int64 `json:"size_before,omitempty"`
	SizeAfter  *int64 `json:"size_after,omitempty"`
	Checksum   string `json:"checksum,omitempty"`
	Stored     string `json:"stored,omitempty"`
}

// Manifest describes a backup directory.
type Manifest struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`
	Operation string    `json:"operation"`
	Direction string    `json:"direction"`
	Tool      string    `json:"tool"`
	MachineID string    `json:"machine_id"`
	Changes   []Change  `json:"changes"`
}

// Manager owns a backup root directory.
type Manager struct {
	root   string
	logger *slog.Logger
	now    func() time.Time
}

// NewManager creates a manager storing backups under root.
func NewManager(root string, logger *slog.Logger) *Manager {
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{root: root, logger: logger, now: time.Now}
}

// Root returns the backup root directory.
func (m *Manager) Root() string {
	return m.root
}

// Snapshot copies every existing file in req into a new backup and returns
// its id. Requests without files create nothing and return an empty id.
func (m *Manager) Snapshot(req Request) (string, error) {
	if len(req.Files) == 0 {
		return "", nil
	}

	now := m.now()
	id, dir, err := m.allocate(now, req.Operation, req.Tool)
	if err != nil {
		return "", err
	}

	manifest := Manifest{
		ID:        id,
		Timestamp: now,
		Operation: req.Operation,
		Direction: req.Direction,
		Tool:      req.Tool,
		MachineID: req.MachineID,
	}

	for i, f := range req.Files {
		change := Change{File: f.Path}

		if f.Replacement != "" {
			if info, err := os.Stat(f.Replacement); err == nil {
				size := info.Size()
				change.SizeAfter = &size
			}
		}

		info, err := os.Stat(f.Path)
		switch {
		case errors.Is(err, fs.ErrNotExist):
			if f.Replacement == "" {
				continue
			}
			change.Action = ActionCreated
			manifest.Changes = append(manifest.Changes, change)
			continue
		case err != nil:
			return "", apperr.IO("backup", f.Path, err)
		}

		change.Action = ActionModified
		if f.Replacement == "" {
			change.Action = ActionDeleted
		}
		size := info.Size()
		change.SizeBefore = &size

		stored := fmt.Sprintf("%03d_%s", i, filepath.Base(f.Path))
		if err := copyFile(f.Path, filepath.Join(dir, filesDir, stored)); err != nil {
			return "", err
		}
		change.Stored = stored

		if fp, err := fingerprint.File(f.Path); err == nil {
			change.Checksum = fp.String()
		}
		manifest.Changes = append(manifest.Changes, change)
	}

	if err := writeManifest(dir, &manifest); err != nil {
		return "", err
	}

	m.logger.Debug("created backup", "id", id, "files", len(manifest.Changes))
	return id, nil
}

// allocate creates a fresh backup directory named after the time, operation
// and tool.
func (m *Manager) allocate(now time.Time, operation, tool string) (string, string, error) {
	base := fmt.Sprintf("%s_%s_%s", now.Format(idTimeLayout), sanitize(operation), sanitize(tool))
	id := base
	for n := 2; ; n++ {
		dir := filepath.Join(m.root, id)
		if err := os.MkdirAll(m.root, 0700); err != nil {
			return "", "", apperr.IO("create backup root", m.root, err)
		}
		err := os.Mkdir(dir, 0700)
		if err == nil {
			if err := os.Mkdir(filepath.Join(dir, filesDir), 0700); err != nil {
				return "", "", apperr.IO("create backup", dir, err)
			}
			return id, dir, nil
		}
		if !errors.Is(err, fs.ErrExist) {
			return "", "", apperr.IO("create backup", dir, err)
		}
		id = fmt.Sprintf("%s_%d", base, n)
	}
}

// List returns every readable backup, newest first, optionally limited to
// one tool.
func (m *Manager) List(tool string) ([]Manifest, error) {
	entries, err := os.ReadDir(m.root)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, nil
		}
		return nil, apperr.IO("list backups", m.root, err)
	}

	var out []Manifest
	for _, e := range entries {
		if !e.IsDir() {
			continue
		}
		manifest, err := readManifest(filepath.Join(m.root, e.Name()))
		if err != nil {
			m.logger.Debug("skipping backup without valid manifest", "id", e.Name(), "error", err)
			continue
		}
		manifest.ID = e.Name()
		if tool != "" && manifest.Tool != tool {
			continue
		}
		out = append(out, *manifest)
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Timestamp.Equal(out[j].Timestamp) {
			return out[i].ID > out[j].ID
		}
		return out[i].Timestamp.After(out[j].Timestamp)
	})
	return out, nil
}

// Restore puts every file of a backup back in place. Files the sync created
// are removed again.
func (m *Manager) Restore(id string) (*Manifest, error) {
	if id == "" || strings.ContainsAny(id, `/\`) || id == "." || id == ".." {
		return nil, apperr.Validation("invalid backup id %q", id)
	}
	dir := filepath.Join(m.root, id)
	if _, err := os.Stat(dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, apperr.NotFound("restore", id, fmt.Errorf("backup not found"))
		}
		return nil, apperr.IO("restore", dir, err)
	}

	manifest, err := readManifest(dir)
	if err != nil {
		return nil, err
	}

	for _, c := range manifest.Changes {
		switch c.Action {
		case ActionCreated:
			if err := os.Remove(c.File); err != nil && !errors.Is(err, fs.ErrNotExist) {
				return nil, apperr.IO("restore", c.File, err)
			}
		case ActionModified, ActionDeleted:
			if c.Stored == "" {
				continue
			}
			if err := restoreFile(filepath.Join(dir, filesDir, c.Stored), c.File); err != nil {
				return nil, err
			}
		}
	}

	m.logger.Info("restored backup", "id", id, "files", len(manifest.Changes))
	return manifest, nil
}

// Cleanup deletes backups older than retentionDays, always keeping the
// retentionCount most recent ones. It returns the number removed.
func (m *Manager) Cleanup(retentionDays, retentionCount int) (int, error) {
	all, err := m.List("")
	if err != nil {
		return 0, err
	}

	cutoff := m.now().AddDate(0, 0, -retentionDays)
	removed := 0
	for i, b := range all {
		if i < retentionCount {
			continue
		}
		if !b.Timestamp.Before(cutoff) {
			continue
		}
		if err := os.RemoveAll(filepath.Join(m.root, b.ID)); err != nil {
			return removed, apperr.IO("remove backup", b.ID, err)
		}
		removed++
	}
	return removed, nil
}

// Compress gzips the stored files of every backup older than ageDays and
// returns the number of backups changed.
func (m *Manager) Compress(ageDays int) (int, error) {
	all, err := m.List("")
	if err != nil {
		return 0, err
	}

	cutoff := m.now().AddDate(0, 0, -ageDays)
	compressed := 0
	for _, b := range all {
		if !b.Timestamp.Before(cutoff) {
			continue
		}
		dir := filepath.Join(m.root, b.ID, filesDir)
		entries, err := os.ReadDir(dir)
		if err != nil {
			continue
		}
		changed := false
		for _, e := range entries {
			if e.IsDir() || strings.HasSuffix(e.Name(), gzSuffix) {
				continue
			}
			if err := gzipFile(filepath.Join(dir, e.Name())); err != nil {
				return compressed, err
			}
			changed = true
		}
		if changed {
			compressed++
		}
	}
	return compressed, nil
}

func sanitize(s string) string {
	if s == "" {
		return "unknown"
	}
	return strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r == ' ' {
			return '-'
		}
		return r
	}, s)
}

func writeManifest(dir string, manifest *Manifest) error {
	data, err := json.MarshalIndent(manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode manifest: %w", err)
	}
	p := filepath.Join(dir, manifestName)
	if err := os.WriteFile(p, data, 0600); err != nil {
		return apperr.IO("write manifest", p, err)
	}
	return nil
}

func readManifest(dir string) (*Manifest, error) {
	p := filepath.Join(dir, manifestName)
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, apperr.FromFS("read manifest", p, err)
	}
	var manifest Manifest
	if err := json.Unmarshal(data, &manifest); err != nil {
		return nil, apperr.Parse("read manifest", p, err)
	}
	return &manifest, nil
}

// copyFile copies src to dst keeping the permission bits and modification
// time.
func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return apperr.FromFS("backup", src, err)
	}
	in, err := os.Open(src)
	if err != nil {
		return apperr.FromFS("backup", src, err)
	}
	defer func() {
		_ = in.Close()
	}()

	out, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, info.Mode().Perm())
	if err != nil {
		return apperr.IO("backup", dst, err)
	}
	if _, err := io.Copy(out, in); err != nil {
		_ = out.Close()
		return apperr.IO("backup", dst, err)
	}
	if err := out.Close(); err != nil {
		return apperr.IO("backup", dst, err)
	}
	_ = os.Chtimes(dst, info.ModTime(), info.ModTime())
	return nil
}

// restoreFile writes a stored copy, compressed or not, back to dst.
func restoreFile(stored, dst string) error {
	var (
		src io.ReadCloser
		err error
	)
	src, err = os.Open(stored)
	if errors.Is(err, fs.ErrNotExist) {
		var f *os.File
		f, err = os.Open(stored + gzSuffix)
		if err == nil {
			var zr *gzip.Reader
			zr, err = gzip.NewReader(f)
			if err != nil {
				_ = f.Close()
				return apperr.Parse("restore", stored+gzSuffix, err)
			}
			src = &gzipReadCloser{Reader: zr, file: f}
		}
	}
	if err != nil {
		return apperr.FromFS("restore", stored, err)
	}
	defer func() {
		_ = src.Close()
	}()

	if err := os.MkdirAll(filepath.Dir(dst), 0755); err != nil {
		return apperr.IO("restore", filepath.Dir(dst), err)
	}
	out, err := os.Create(dst)
	if err != nil {
		return apperr.IO("restore", dst, err)
	}
	if _, err := io.Copy(out, src); err != nil {
		_ = out.Close()
		return apperr.IO("restore", dst, err)
	}
	if err := out.Close(); err != nil {
		return apperr.IO("restore", dst, err)
	}
	return nil
}

type gzipReadCloser struct {
	*gzip.Reader
	file *os.File
}

func (g *gzipReadCloser) Close() error {
	_ = g.Reader.Close()
	return g.file.Close()
}

func gzipFile(p string) error {
	in, err := os.Open(p)
	if err != nil {
		return apperr.FromFS("compress", p, err)
	}
	defer func() {
		_ = in.Close()
	}()

	out, err := os.Create(p + gzSuffix)
	if err != nil {
		return apperr.IO("compress", p, err)
	}
	zw := gzip.NewWriter(out)
	zw.Name = filepath.Base(p)
	if _, err := io.Copy(zw, in); err != nil {
		_ = zw.Close()
		_ = out.Close()
		_ = os.Remove(p + gzSuffix)
		return apperr.IO("compress", p, err)
	}
	if err := zw.Close(); err != nil {
		_ = out.Close()
		_ = os.Remove(p + gzSuffix)
		return apperr.IO("compress", p, err)
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(p + gzSuffix)
		return apperr.IO("compress", p, err)
	}
	return os.Remove(p)
}
