// Package propagate copies files from one tool to others after a sync,
// rewriting their content on the way.
package propagate

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"

	"github.com/schaermu/toolsync/internal/apperr"
	"github.com/schaermu/toolsync/internal/backup"
	"github.com/schaermu/toolsync/internal/config"
	"github.com/schaermu/toolsync/internal/discovery"
	"github.com/schaermu/toolsync/internal/sync"
)

// Operation names propagation snapshots in the backup directory.
const Operation = "propagate"

// Action is what happened to one destination file.
type Action int

const (
	Unchanged Action = iota
	Written
	WouldWrite
	Deleted
	CopiedBack
	// Orphaned marks a destination file without a source counterpart that
	// was left alone.
	Orphaned
	SourceMissing
	Failed
)

func (a Action) String() string {
	switch a {
	case Written:
		return "written"
	case WouldWrite:
		return "would write"
	case Deleted:
		return "deleted"
	case CopiedBack:
		return "copied back"
	case Orphaned:
		return "orphaned"
	case SourceMissing:
		return "source missing"
	case Failed:
		return "failed"
	}
	return "unchanged"
}

// Change is the outcome for one file of a rule.
type Change struct {
	Rule   int
	Source string
	Dest   string
	Action Action
	Err    error
}

// Report collects the changes of a run.
type Report struct {
	Changes   []Change
	BackupIDs []string
}

// Count returns how many changes have the given action.
func (r *Report) Count(a Action) int {
	n := 0
	for _, c := range r.Changes {
		if c.Action == a {
			n++
		}
	}
	return n
}

// Failed reports whether any file or rule failed.
func (r *Report) Failed() bool {
	return r.Count(Failed) > 0
}

func (r *Report) add(c Change) {
	r.Changes = append(r.Changes, c)
}

// Options tunes a Propagator.
type Options struct {
	// DryRun reports what would change without writing or asking.
	DryRun    bool
	MachineID string
}

// Propagator applies the propagation rules of a configuration.
type Propagator struct {
	cfg     *config.Config
	decider sync.Decider
	backups sync.Snapshotter
	logger  *slog.Logger
	opts    Options
}

// New returns a Propagator. Orphaned destination files of directory rules
// are resolved by decider; a nil decider leaves them alone. A nil backups
// skips snapshots.
func New(cfg *config.Config, decider sync.Decider, backups sync.Snapshotter, logger *slog.Logger, opts Options) *Propagator {
	if logger == nil {
		logger = slog.Default()
	}
	if decider == nil {
		decider = sync.DefaultPolicy()
	}
	return &Propagator{cfg: cfg, decider: decider, backups: backups, logger: logger, opts: opts}
}

// pending is a destination file whose content differs from the transformed
// source.
type pending struct {
	src, dest string
	content   []byte
	mode      fs.FileMode
}

// copyBack restores an orphaned destination file into the source directory.
type copyBack struct {
	from, to string
}

// plan is everything one rule is about to change.
type plan struct {
	rule      int
	writes    []pending
	deletes   []string
	copyBacks []copyBack
}

func (p *plan) empty() bool {
	return len(p.writes) == 0 && len(p.deletes) == 0 && len(p.copyBacks) == 0
}

// Run applies every rule in order. A failing rule is logged and recorded in
// the report while the remaining rules still run. Cancellation and errors
// from the decider stop the run.
func (p *Propagator) Run(ctx context.Context) (*Report, error) {
	report := &Report{}
	for i, rule := range p.cfg.Propagate {
		if err := ctx.Err(); err != nil {
			return report, err
		}
		logger := p.logger.With("rule", i, "source", describe(rule))
		if err := p.apply(ctx, i, rule, report, logger); err != nil {
			var de *decisionError
			if errors.As(err, &de) {
				return report, de.err
			}
			logger.Error("propagation failed", "error", err)
			report.add(Change{Rule: i, Source: describe(rule), Action: Failed, Err: err})
		}
	}
	return report, nil
}

type decisionError struct{ err error }

func (e *decisionError) Error() string { return e.err.Error() }
func (e *decisionError) Unwrap() error { return e.err }

func (p *Propagator) apply(ctx context.Context, idx int, rule config.PropagationRule, report *Report, logger *slog.Logger) error {
	src, err := p.sourcePath(rule)
	if err != nil {
		return err
	}
	info, err := os.Stat(src)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			logger.Info("skipping propagation, source does not exist", "path", src)
			report.add(Change{Rule: idx, Source: src, Action: SourceMissing})
			return nil
		}
		return apperr.FromFS("propagate", src, err)
	}

	pl := &plan{rule: idx}
	if info.IsDir() {
		err = p.planDir(ctx, pl, rule, src, report, logger)
	} else {
		err = p.planFile(pl, rule, src, info.Mode().Perm(), report)
	}
	if err != nil {
		return err
	}

	if p.opts.DryRun {
		for _, w := range pl.writes {
			report.add(Change{Rule: idx, Source: w.src, Dest: w.dest, Action: WouldWrite})
		}
		return nil
	}
	if pl.empty() {
		logger.Debug("propagation up to date")
		return nil
	}
	return p.execute(pl, rule, report, logger)
}

func (p *Propagator) sourcePath(rule config.PropagationRule) (string, error) {
	if rule.SourcePath != "" {
		return rule.SourcePath, nil
	}
	tool, ok := p.cfg.Tool(rule.SourceTool)
	if !ok {
		return "", apperr.NotFound("propagate", rule.SourceTool, fmt.Errorf("source tool not found in configuration"))
	}
	// tool based rules read what the tool itself uses
	return filepath.Join(tool.Target, filepath.FromSlash(rule.SourceFile)), nil
}

func (p *Propagator) destPath(target config.PropagationTarget) (string, error) {
	if target.DestPath != "" {
		return target.DestPath, nil
	}
	tool, ok := p.cfg.Tool(target.Tool)
	if !ok {
		return "", apperr.NotFound("propagate", target.Tool, fmt.Errorf("target tool not found in configuration"))
	}
	return filepath.Join(tool.Target, filepath.FromSlash(target.TargetFile)), nil
}

func (p *Propagator) planFile(pl *plan, rule config.PropagationRule, src string, mode fs.FileMode, report *Report) error {
	content, err := os.ReadFile(src)
	if err != nil {
		return apperr.FromFS("propagate", src, err)
	}
	for _, target := range rule.Targets {
		dest, err := p.destPath(target)
		if err != nil {
			report.add(Change{Rule: pl.rule, Source: src, Action: Failed, Err: err})
			continue
		}
		p.planWrite(pl, src, dest, content, mode, target.Transforms, report)
	}
	return nil
}

func (p *Propagator) planDir(ctx context.Context, pl *plan, rule config.PropagationRule, root string, report *Report, logger *slog.Logger) error {
	files, err := listFiles(root, rule.Exclude)
	if err != nil {
		return err
	}

	bases := make([]string, 0, len(rule.Targets))
	for _, target := range rule.Targets {
		base, err := p.destPath(target)
		if err != nil {
			report.add(Change{Rule: pl.rule, Source: root, Action: Failed, Err: err})
			continue
		}
		bases = append(bases, base)
		for _, rel := range files {
			src := filepath.Join(root, filepath.FromSlash(rel))
			info, err := os.Stat(src)
			if err != nil {
				report.add(Change{Rule: pl.rule, Source: src, Action: Failed, Err: apperr.FromFS("propagate", src, err)})
				continue
			}
			content, err := os.ReadFile(src)
			if err != nil {
				report.add(Change{Rule: pl.rule, Source: src, Action: Failed, Err: apperr.FromFS("propagate", src, err)})
				continue
			}
			p.planWrite(pl, src, filepath.Join(base, filepath.FromSlash(rel)), content, info.Mode().Perm(), target.Transforms, report)
		}
	}

	return p.planOrphans(ctx, pl, rule, root, files, bases, report, logger)
}

func (p *Propagator) planWrite(pl *plan, src, dest string, content []byte, mode fs.FileMode, transforms []config.Transform, report *Report) {
	out, err := ApplyAll(string(content), transforms)
	if err != nil {
		report.add(Change{Rule: pl.rule, Source: src, Dest: dest, Action: Failed, Err: err})
		return
	}
	if existing, err := os.ReadFile(dest); err == nil && bytes.Equal(existing, []byte(out)) {
		report.add(Change{Rule: pl.rule, Source: src, Dest: dest, Action: Unchanged})
		return
	}
	pl.writes = append(pl.writes, pending{src: src, dest: dest, content: []byte(out), mode: mode})
}

// planOrphans finds destination files of a directory rule that have no
// source counterpart and asks the decider what to do with them.
func (p *Propagator) planOrphans(ctx context.Context, pl *plan, rule config.PropagationRule, root string, files, bases []string, report *Report, logger *slog.Logger) error {
	propagated := make(map[string]bool, len(files))
	for _, rel := range files {
		propagated[rel] = true
	}

	for _, base := range bases {
		existing, err := listFiles(base, rule.Exclude)
		if err != nil {
			return err
		}
		var orphans []sync.Orphan
		for _, rel := range existing {
			if !propagated[rel] {
				orphans = append(orphans, sync.Orphan{Rel: rel, Path: filepath.Join(base, filepath.FromSlash(rel))})
			}
		}
		if len(orphans) == 0 {
			continue
		}
		logger.Info("destination has files without a source counterpart", "dest", base, "count", len(orphans))

		if p.opts.DryRun {
			for _, o := range orphans {
				report.add(Change{Rule: pl.rule, Dest: o.Path, Action: Orphaned})
			}
			continue
		}

		bulk, err := p.decider.Orphans(ctx, Operation, orphans)
		if err != nil {
			return &decisionError{err}
		}
		for _, o := range orphans {
			d := sync.OrphanSkip
			switch bulk {
			case sync.OrphansDeleteAll:
				d = sync.OrphanDelete
			case sync.OrphansCopyBackAll:
				d = sync.OrphanCopyBack
			case sync.OrphansSelect:
				if d, err = p.decider.Orphan(ctx, Operation, o); err != nil {
					return &decisionError{err}
				}
			}
			switch d {
			case sync.OrphanDelete:
				pl.deletes = append(pl.deletes, o.Path)
			case sync.OrphanCopyBack:
				pl.copyBacks = append(pl.copyBacks, copyBack{from: o.Path, to: filepath.Join(root, filepath.FromSlash(o.Rel))})
			default:
				report.add(Change{Rule: pl.rule, Dest: o.Path, Action: Orphaned})
			}
		}
	}
	return nil
}

// execute snapshots every file the plan touches, then applies it. Failures
// of single files are recorded and do not stop the rule.
func (p *Propagator) execute(pl *plan, rule config.PropagationRule, report *Report, logger *slog.Logger) error {
	if p.backups != nil {
		files := make([]backup.File, 0, len(pl.writes)+len(pl.deletes)+len(pl.copyBacks))
		for _, w := range pl.writes {
			files = append(files, backup.File{Path: w.dest})
		}
		for _, d := range pl.deletes {
			files = append(files, backup.File{Path: d})
		}
		for _, c := range pl.copyBacks {
			files = append(files, backup.File{Path: c.to, Replacement: c.from})
		}
		id, err := p.backups.Snapshot(backup.Request{
			Tool:      backupTool(rule),
			Operation: Operation,
			Direction: "source → destination",
			MachineID: p.opts.MachineID,
			Files:     files,
		})
		if err != nil {
			return fmt.Errorf("backup failed, nothing was propagated: %w", err)
		}
		if id != "" {
			report.BackupIDs = append(report.BackupIDs, id)
			logger.Info("created backup", "id", id)
		}
	}

	for _, w := range pl.writes {
		c := Change{Rule: pl.rule, Source: w.src, Dest: w.dest, Action: Written}
		if err := writeFile(w.dest, w.content, w.mode); err != nil {
			c.Action, c.Err = Failed, err
			logger.Error("failed to propagate file", "dest", w.dest, "error", err)
		} else {
			logger.Info("propagated file", "from", w.src, "to", w.dest)
		}
		report.add(c)
	}

	for _, d := range pl.deletes {
		c := Change{Rule: pl.rule, Dest: d, Action: Deleted}
		if err := os.Remove(d); err != nil && !errors.Is(err, fs.ErrNotExist) {
			c.Action, c.Err = Failed, apperr.FromFS("delete", d, err)
			logger.Error("failed to delete orphan", "path", d, "error", err)
		}
		report.add(c)
	}

	for _, cb := range pl.copyBacks {
		c := Change{Rule: pl.rule, Source: cb.from, Dest: cb.to, Action: CopiedBack}
		if err := copyFile(cb.from, cb.to); err != nil {
			c.Action, c.Err = Failed, err
			logger.Error("failed to copy orphan back", "path", cb.from, "error", err)
		}
		report.add(c)
	}
	return nil
}

// Warnings lists propagation targets that the destination tool also syncs,
// which makes the two features fight over the same file.
func Warnings(cfg *config.Config) []string {
	var out []string
	for _, rule := range cfg.Propagate {
		for _, target := range rule.Targets {
			if target.Tool == "" || target.TargetFile == "" {
				continue
			}
			tool, ok := cfg.Tool(target.Tool)
			if !ok || !tool.IsEnabled() {
				continue
			}
			if discovery.Matches(path.Clean(filepath.ToSlash(target.TargetFile)), tool.Include, tool.Exclude) {
				out = append(out, fmt.Sprintf("tool %s: %s is a propagation target but also matches its sync patterns, consider excluding it", target.Tool, target.TargetFile))
			}
		}
	}
	return out
}

// listFiles returns the slash-separated relative paths of regular files
// under root, skipping hidden entries and paths whose relative path or base
// name matches an exclude pattern. A missing root yields no files.
func listFiles(root string, exclude []string) ([]string, error) {
	var files []string
	err := filepath.WalkDir(root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) && p == root {
				return filepath.SkipDir
			}
			return err
		}
		if p == root {
			return nil
		}
		rel, err := filepath.Rel(root, p)
		if err != nil {
			return err
		}
		rel = filepath.ToSlash(rel)
		if strings.HasPrefix(d.Name(), ".") || excluded(rel, exclude) {
			if d.IsDir() {
				return filepath.SkipDir
			}
			return nil
		}
		if d.Type().IsRegular() {
			files = append(files, rel)
		}
		return nil
	})
	if err != nil {
		return nil, apperr.IO("propagate", root, err)
	}
	sort.Strings(files)
	return files, nil
}

func excluded(rel string, patterns []string) bool {
	for _, pattern := range patterns {
		if ok, _ := doublestar.Match(pattern, rel); ok {
			return true
		}
		if ok, _ := doublestar.Match(pattern, path.Base(rel)); ok {
			return true
		}
	}
	return false
}

func writeFile(dest string, content []byte, mode fs.FileMode) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0755); err != nil {
		return apperr.FromFS("propagate", dest, err)
	}
	if mode == 0 {
		mode = 0644
	}
	if err := os.WriteFile(dest, content, mode); err != nil {
		return apperr.FromFS("propagate", dest, err)
	}
	return nil
}

func copyFile(src, dst string) error {
	info, err := os.Stat(src)
	if err != nil {
		return apperr.FromFS("copy back", src, err)
	}
	content, err := os.ReadFile(src)
	if err != nil {
		return apperr.FromFS("copy back", src, err)
	}
	if err := writeFile(dst, content, info.Mode().Perm()); err != nil {
		return err
	}
	return os.Chtimes(dst, info.ModTime(), info.ModTime())
}

func describe(rule config.PropagationRule) string {
	if rule.SourcePath != "" {
		return rule.SourcePath
	}
	return rule.SourceTool + "/" + rule.SourceFile
}

func backupTool(rule config.PropagationRule) string {
	if rule.SourceTool != "" {
		return rule.SourceTool
	}
	return Operation
}
