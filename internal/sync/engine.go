// Package sync plans and applies synchronization between the source and
// target roots of each configured tool.
package sync

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	mapset "github.com/deckarep/golang-set/v2"

	"github.com/schaermu/toolsync/internal/apperr"
	"github.com/schaermu/toolsync/internal/config"
	"github.com/schaermu/toolsync/internal/discovery"
	"github.com/schaermu/toolsync/internal/state"
)

var errUnknownTool = errors.New("tool not found in configuration")

// Reporter receives what the engine is about to do and what it did.
type Reporter interface {
	PlanSummary(s Summary)
	ToolResult(r *Result)
}

// Options tunes an Engine.
type Options struct {
	// DryRun plans and reports without touching files or state.
	DryRun bool
	// AutoResolve settles conflicts by modification time without asking.
	AutoResolve bool
}

// Result is the outcome of syncing one tool.
type Result struct {
	Tool      string
	Direction Direction
	DryRun    bool
	Plan      *Plan
	Outcome   *Outcome
	Err       error
}

// Failed reports whether the tool sync failed.
func (r *Result) Failed() bool {
	return r.Err != nil
}

// MachineStatus summarizes one machine's recorded state.
type MachineStatus struct {
	MachineID string
	Hostname  string
	LastSync  time.Time
	Files     int
	Deletions int
	Current   bool
	StateDir  string
}

// Engine orchestrates the sync process
type Engine struct {
	cfg      *config.Config
	identity state.Identity
	decider  Decider
	backups  Snapshotter
	reporter Reporter
	logger   *slog.Logger
	opts     Options
	now      func() time.Time
}

// NewEngine creates a new sync engine
func NewEngine(cfg *config.Config, identity state.Identity, decider Decider, backups Snapshotter, reporter Reporter, logger *slog.Logger, opts Options) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if decider == nil {
		decider = DefaultPolicy()
	}
	return &Engine{
		cfg:      cfg,
		identity: identity,
		decider:  decider,
		backups:  backups,
		reporter: reporter,
		logger:   logger,
		opts:     opts,
		now:      time.Now,
	}
}

// SyncTool plans and, unless in dry-run mode, applies one tool's sync.
func (e *Engine) SyncTool(ctx context.Context, name string, direction Direction) (*Result, error) {
	tool, ok := e.cfg.Tool(name)
	if !ok {
		return nil, apperr.NotFound("sync", name, errUnknownTool)
	}
	if !tool.IsEnabled() {
		return nil, apperr.Validation("tool %q is disabled in configuration", name)
	}

	result := &Result{Tool: name, Direction: direction, DryRun: e.opts.DryRun}
	logger := e.logger.With("tool", name)
	logger.Info("starting sync",
		"direction", direction.String(),
		"source", tool.Source,
		"target", tool.Target,
		"dry_run", e.opts.DryRun)

	store := state.NewStore(state.DirFor(tool.Target), e.identity, e.logger)
	st, err := store.Load()
	if err != nil {
		return nil, err
	}

	src, tgt, err := e.discover(tool)
	if err != nil {
		return nil, err
	}
	logger.Debug("discovered files", "source", src.Cardinality(), "target", tgt.Cardinality())

	inspector := NewInspector(tool, e.logger)
	plan, err := BuildPlan(PlanInput{
		Tool:      tool,
		Direction: direction,
		Source:    src,
		Target:    tgt,
		State:     st,
		Inspector: inspector,
	})
	if err != nil {
		return nil, err
	}
	result.Plan = plan

	logger.Info("sync plan",
		"copy", len(plan.Copies),
		"delete", len(plan.Deletes),
		"conflict", len(plan.Conflicts),
		"reverse", len(plan.ReverseSuggestions),
		"orphan", len(plan.Orphans))

	if plan.IsEmpty() {
		logger.Info("no changes to sync")
		return result, nil
	}

	if e.reporter != nil {
		e.reporter.PlanSummary(Summarize(plan))
	}
	e.warnStale(store, st, plan)

	if e.opts.DryRun {
		logger.Info("dry-run complete, no changes applied")
		return result, nil
	}

	exec := &Executor{
		Tool:        tool,
		MachineID:   e.identity.MachineID,
		Decider:     e.decider,
		Inspector:   inspector,
		Backups:     e.backups,
		Store:       store,
		Policy:      DeletionPolicy{ConfirmSource: e.cfg.Settings.ConfirmsSource(), ConfirmTarget: e.cfg.Settings.ConfirmDestructiveTarget},
		AutoResolve: e.opts.AutoResolve,
		Logger:      logger,
		now:         e.now,
	}
	outcome, err := exec.Execute(ctx, plan, st)
	result.Outcome = outcome
	if err != nil {
		return result, err
	}

	logger.Info("sync completed",
		"copied", outcome.Copied,
		"deleted", outcome.Deleted,
		"skipped", outcome.Skipped,
		"failed_deletes", outcome.FailedDeletes)
	return result, nil
}

// SyncAll syncs every enabled tool in name order.
func (e *Engine) SyncAll(ctx context.Context, direction Direction) []*Result {
	var names []string
	for _, tool := range e.cfg.EnabledTools() {
		names = append(names, tool.Name)
	}
	return e.SyncTools(ctx, names, direction)
}

// SyncTools syncs the named tools in order. A failing tool is logged and
// recorded in its Result; the remaining tools still run.
func (e *Engine) SyncTools(ctx context.Context, names []string, direction Direction) []*Result {
	var results []*Result
	for _, name := range names {
		if err := ctx.Err(); err != nil {
			results = append(results, &Result{Tool: name, Direction: direction, Err: err})
			continue
		}
		res, err := e.SyncTool(ctx, name, direction)
		if res == nil {
			res = &Result{Tool: name, Direction: direction, DryRun: e.opts.DryRun}
		}
		if err != nil {
			res.Err = err
			e.logger.Error("sync failed", "tool", name, "error", err)
		}
		if e.reporter != nil {
			e.reporter.ToolResult(res)
		}
		results = append(results, res)
	}
	return results
}

// Status returns every machine recorded in the state directories of the
// enabled tools, most recently synced first.
func (e *Engine) Status(ctx context.Context) ([]MachineStatus, error) {
	dirs := mapset.NewThreadUnsafeSet[string]()
	for _, tool := range e.cfg.EnabledTools() {
		dirs.Add(state.DirFor(tool.Target))
	}
	sorted := dirs.ToSlice()
	sort.Strings(sorted)

	var out []MachineStatus
	for _, dir := range sorted {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		store := state.NewStore(dir, e.identity, e.logger)
		all, err := store.LoadAll()
		if err != nil {
			return nil, err
		}
		for id, st := range all {
			out = append(out, MachineStatus{
				MachineID: id,
				Hostname:  st.Hostname,
				LastSync:  st.LastSync,
				Files:     len(st.Files),
				Deletions: len(st.Deletions),
				Current:   id == e.identity.MachineID,
				StateDir:  dir,
			})
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		if !out[i].LastSync.Equal(out[j].LastSync) {
			return out[i].LastSync.After(out[j].LastSync)
		}
		return out[i].MachineID < out[j].MachineID
	})
	return out, nil
}

func (e *Engine) discover(tool *config.ToolConfig) (mapset.Set[string], mapset.Set[string], error) {
	opts := discovery.Options{
		Include:          tool.Include,
		Exclude:          tool.Exclude,
		FollowSymlinks:   e.cfg.Settings.FollowSymlinks,
		RespectGitignore: e.cfg.Settings.RespectsGitignore(),
	}
	src, err := discovery.FindManagedFiles(tool.Source, opts)
	if err != nil {
		return nil, nil, err
	}
	tgt, err := discovery.FindManagedFiles(tool.Target, opts)
	if err != nil {
		return nil, nil, err
	}
	return src, tgt, nil
}

// warnStale flags contested paths another machine synced after we did.
func (e *Engine) warnStale(store *state.Store, st *state.SyncState, plan *Plan) {
	contested := append(append([]Pair(nil), plan.Conflicts...), plan.ReverseSuggestions...)
	for _, p := range contested {
		q := state.QualifiedPath(plan.Tool, p.Rel)
		other, ok, err := store.MostRecentStateForPath(q, true)
		if err != nil {
			e.logger.Debug("cannot read other machines' state", "error", err)
			return
		}
		if !ok {
			continue
		}
		own, tracked := st.File(q)
		if !tracked || other.LastSynced.After(own.LastSynced) {
			e.logger.Warn("another machine synced this file more recently",
				"tool", plan.Tool,
				"path", p.Rel,
				"synced_at", other.LastSynced)
		}
	}
}
