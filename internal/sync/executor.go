package sync

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/schaermu/toolsync/internal/backup"
	"github.com/schaermu/toolsync/internal/config"
	"github.com/schaermu/toolsync/internal/state"
)

// Snapshotter saves the files a run is about to change.
type Snapshotter interface {
	Snapshot(req backup.Request) (string, error)
}

// StateSaver persists a SyncState.
type StateSaver interface {
	Save(st *state.SyncState) error
}

// DeletionPolicy selects which sides need confirmation before a planned
// deletion.
type DeletionPolicy struct {
	ConfirmSource bool
	ConfirmTarget bool
}

func (p DeletionPolicy) requires(side Side) bool {
	if side == Source {
		return p.ConfirmSource
	}
	return p.ConfirmTarget
}

// Outcome counts what an execution did.
type Outcome struct {
	Copied        int
	Deleted       int
	Skipped       int
	FailedDeletes int
	BackupID      string
	StateSaved    bool
}

// Executor applies a plan. It resolves every ambiguous bucket before the
// first mutation.
type Executor struct {
	Tool        *config.ToolConfig
	MachineID   string
	Decider     Decider
	Inspector   Inspector
	Backups     Snapshotter
	Store       StateSaver
	Policy      DeletionPolicy
	AutoResolve bool
	Logger      *slog.Logger

	now func() time.Time
}

func (e *Executor) clock() time.Time {
	if e.now != nil {
		return e.now()
	}
	return time.Now()
}

func (e *Executor) log() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

// Execute resolves and applies plan, updating st along the way and saving it
// once at the end. A failed copy aborts the run without saving state; failed
// deletions are logged and skipped.
func (e *Executor) Execute(ctx context.Context, plan *Plan, st *state.SyncState) (*Outcome, error) {
	out := &Outcome{}

	copies := append([]CopyAction(nil), plan.Copies...)
	deletes := append([]DeleteAction(nil), plan.Deletes...)

	resolved, skipped, err := e.resolveReverse(ctx, plan.ReverseSuggestions)
	if err != nil {
		return out, err
	}
	copies = append(copies, resolved...)
	out.Skipped += skipped

	resolved, skipped, err = e.resolveConflicts(ctx, plan.Conflicts)
	if err != nil {
		return out, err
	}
	copies = append(copies, resolved...)
	out.Skipped += skipped

	orphanCopies, orphanDeletes, skipped, err := e.resolveOrphans(ctx, plan.Orphans)
	if err != nil {
		return out, err
	}
	copies = append(copies, orphanCopies...)
	deletes = append(deletes, orphanDeletes...)
	out.Skipped += skipped

	deletes, restored, skipped, err := e.confirmDeletions(ctx, plan.Tool, deletes, st)
	if err != nil {
		return out, err
	}
	copies = append(copies, restored...)
	out.Skipped += skipped

	copies, skipped, err = e.confirmOverwrites(ctx, copies)
	if err != nil {
		return out, err
	}
	out.Skipped += skipped

	if len(copies) == 0 && len(deletes) == 0 {
		e.log().Info("nothing left to apply", "tool", plan.Tool, "skipped", out.Skipped)
		return out, e.save(st, out)
	}

	if err := ctx.Err(); err != nil {
		return out, err
	}

	id, err := e.snapshot(plan, copies, deletes)
	if err != nil {
		return out, fmt.Errorf("backup failed, nothing was changed: %w", err)
	}
	out.BackupID = id

	for _, c := range copies {
		if err := applyCopy(c); err != nil {
			return out, fmt.Errorf("copy %s to %s: %w", c.Rel, c.From.Other(), err)
		}
		checksum, err := contentFingerprint(c.DstPath, c.Special)
		if err != nil {
			return out, fmt.Errorf("fingerprint %s: %w", c.Rel, err)
		}
		st.UpdateFile(state.QualifiedPath(plan.Tool, c.Rel), checksum, e.clock())
		out.Copied++
		e.log().Info("synced file", "tool", plan.Tool, "path", c.Rel, "to", c.From.Other().String())
	}

	for _, d := range deletes {
		if err := removeFile(d.Path); err != nil {
			out.FailedDeletes++
			e.log().Error("failed to delete file", "tool", plan.Tool, "path", d.Rel, "side", d.Side.String(), "error", err)
			continue
		}
		q := state.QualifiedPath(plan.Tool, d.Rel)
		st.RemoveFile(q)
		st.RecordDeletion(q, d.checksum, state.DecisionConfirmed, e.clock())
		out.Deleted++
		e.log().Info("deleted file", "tool", plan.Tool, "path", d.Rel, "side", d.Side.String())
	}

	return out, e.save(st, out)
}

func (e *Executor) save(st *state.SyncState, out *Outcome) error {
	if e.Store == nil {
		return nil
	}
	if err := e.Store.Save(st); err != nil {
		return fmt.Errorf("save state: %w", err)
	}
	out.StateSaved = true
	return nil
}

func (e *Executor) resolveReverse(ctx context.Context, pairs []Pair) ([]CopyAction, int, error) {
	var copies []CopyAction
	skipped := 0
	for _, p := range pairs {
		d, err := e.Decider.ReverseSync(ctx, e.Tool.Name, p)
		if err != nil {
			return nil, 0, err
		}
		switch d {
		case ReversePull:
			copies = append(copies, confirmed(p.copyFrom(Target)))
		case ReversePushAnyway:
			copies = append(copies, confirmed(p.copyFrom(Source)))
		default:
			skipped++
			e.log().Info("skipped file with newer target", "tool", e.Tool.Name, "path", p.Rel)
		}
	}
	return copies, skipped, nil
}

func (e *Executor) resolveConflicts(ctx context.Context, pairs []Pair) ([]CopyAction, int, error) {
	var copies []CopyAction
	skipped := 0
	for _, p := range pairs {
		d := ConflictNewer
		if !e.AutoResolve {
			var err error
			if d, err = e.Decider.Conflict(ctx, e.Tool.Name, p); err != nil {
				return nil, 0, err
			}
		}
		switch d {
		case ConflictKeepSource:
			copies = append(copies, confirmed(p.copyFrom(Source)))
		case ConflictUseTarget:
			copies = append(copies, confirmed(p.copyFrom(Target)))
		case ConflictNewer:
			side, err := e.newerSide(p.Rel)
			if err != nil {
				return nil, 0, err
			}
			e.log().Info("resolved conflict by modification time", "tool", e.Tool.Name, "path", p.Rel, "winner", side.String())
			copies = append(copies, confirmed(p.copyFrom(side)))
		default:
			skipped++
			e.log().Info("skipped conflict", "tool", e.Tool.Name, "path", p.Rel)
		}
	}
	return copies, skipped, nil
}

// newerSide returns Source only when the source is strictly newer.
func (e *Executor) newerSide(rel string) (Side, error) {
	srcTime, err := e.Inspector.ModTime(Source, rel)
	if err != nil {
		return Target, err
	}
	tgtTime, err := e.Inspector.ModTime(Target, rel)
	if err != nil {
		return Target, err
	}
	if srcTime.After(tgtTime) {
		return Source, nil
	}
	return Target, nil
}

func (e *Executor) resolveOrphans(ctx context.Context, orphans []Orphan) ([]CopyAction, []DeleteAction, int, error) {
	if len(orphans) == 0 {
		return nil, nil, 0, nil
	}
	bulk, err := e.Decider.Orphans(ctx, e.Tool.Name, orphans)
	if err != nil {
		return nil, nil, 0, err
	}

	var (
		copies  []CopyAction
		deletes []DeleteAction
		skipped int
	)
	for _, o := range orphans {
		d := OrphanSkip
		switch bulk {
		case OrphansDeleteAll:
			d = OrphanDelete
		case OrphansCopyBackAll:
			d = OrphanCopyBack
		case OrphansSelect:
			if d, err = e.Decider.Orphan(ctx, e.Tool.Name, o); err != nil {
				return nil, nil, 0, err
			}
		}
		switch d {
		case OrphanDelete:
			deletes = append(deletes, DeleteAction{Rel: o.Rel, Side: Target, Path: o.Path, Confirmed: true})
		case OrphanCopyBack:
			copies = append(copies, confirmed(toolPair(e.Tool, o.Rel).copyFrom(Target)))
		default:
			skipped++
		}
	}
	return copies, deletes, skipped, nil
}

// confirmDeletions applies the deletion policy. Skipped deletions are
// recorded in st; DeletionCopyBack turns the deletion into a restoring copy.
// Confirmed deletions are recorded by Execute once the file is gone.
func (e *Executor) confirmDeletions(ctx context.Context, tool string, deletes []DeleteAction, st *state.SyncState) ([]DeleteAction, []CopyAction, int, error) {
	var (
		kept     []DeleteAction
		restored []CopyAction
		skipped  int
	)
	for _, d := range deletes {
		decision := DeletionDelete
		if !d.Confirmed && e.Policy.requires(d.Side) {
			var err error
			if decision, err = e.Decider.Deletion(ctx, tool, d); err != nil {
				return nil, nil, 0, err
			}
		}

		checksum, err := e.Inspector.Fingerprint(d.Side, d.Rel)
		if err != nil {
			e.log().Warn("could not fingerprint file before deletion", "tool", tool, "path", d.Rel, "side", d.Side.String(), "error", err)
		}
		switch decision {
		case DeletionDelete:
			d.Confirmed = true
			d.checksum = checksum
			kept = append(kept, d)
		case DeletionCopyBack:
			restored = append(restored, confirmed(toolPair(e.Tool, d.Rel).copyFrom(d.Side)))
		default:
			skipped++
			st.RecordDeletion(state.QualifiedPath(tool, d.Rel), checksum, state.DecisionSkipped, e.clock())
			e.log().Info("skipped deletion", "tool", tool, "path", d.Rel, "side", d.Side.String())
		}
	}
	return kept, restored, skipped, nil
}

// confirmOverwrites asks before replacing existing source files with content
// the user did not explicitly pick.
func (e *Executor) confirmOverwrites(ctx context.Context, copies []CopyAction) ([]CopyAction, int, error) {
	if !e.Policy.ConfirmSource || e.AutoResolve {
		return copies, 0, nil
	}
	kept := copies[:0]
	skipped := 0
	for _, c := range copies {
		if c.From == Target && !c.Confirmed && exists(c.DstPath) {
			ok, err := e.Decider.Overwrite(ctx, e.Tool.Name, c)
			if err != nil {
				return nil, 0, err
			}
			if !ok {
				skipped++
				e.log().Info("kept source file", "tool", e.Tool.Name, "path", c.Rel)
				continue
			}
		}
		kept = append(kept, c)
	}
	return kept, skipped, nil
}

func (e *Executor) snapshot(plan *Plan, copies []CopyAction, deletes []DeleteAction) (string, error) {
	if e.Backups == nil {
		return "", nil
	}
	files := make([]backup.File, 0, len(copies)+len(deletes))
	for _, c := range copies {
		files = append(files, backup.File{Path: c.DstPath, Replacement: c.SrcPath})
	}
	for _, d := range deletes {
		files = append(files, backup.File{Path: d.Path})
	}
	id, err := e.Backups.Snapshot(backup.Request{
		Tool:      plan.Tool,
		Operation: plan.Direction.String(),
		Direction: plan.Direction.Arrow(),
		MachineID: e.MachineID,
		Files:     files,
	})
	if err != nil {
		return "", err
	}
	if id != "" {
		e.log().Info("created backup", "tool", plan.Tool, "id", id)
	}
	return id, nil
}

func confirmed(c CopyAction) CopyAction {
	c.Confirmed = true
	return c
}

func exists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
