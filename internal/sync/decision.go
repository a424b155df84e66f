package sync

import "context"

// ReverseDecision resolves a push where the target looks newer.
type ReverseDecision int

const (
	ReverseSkip ReverseDecision = iota
	ReversePull
	ReversePushAnyway
)

func (d ReverseDecision) String() string {
	switch d {
	case ReversePull:
		return "pull"
	case ReversePushAnyway:
		return "push anyway"
	}
	return "skip"
}

// ConflictDecision resolves a path changed on both sides.
type ConflictDecision int

const (
	ConflictSkip ConflictDecision = iota
	ConflictKeepSource
	ConflictUseTarget
	// ConflictNewer keeps whichever side was modified last.
	ConflictNewer
)

func (d ConflictDecision) String() string {
	switch d {
	case ConflictKeepSource:
		return "keep source"
	case ConflictUseTarget:
		return "use target"
	case ConflictNewer:
		return "newer wins"
	}
	return "skip"
}

// OrphansDecision is the bulk answer for all orphans of a tool.
type OrphansDecision int

const (
	OrphansSkip OrphansDecision = iota
	OrphansDeleteAll
	OrphansCopyBackAll
	// OrphansSelect asks about each orphan individually.
	OrphansSelect
)

func (d OrphansDecision) String() string {
	switch d {
	case OrphansDeleteAll:
		return "delete all"
	case OrphansCopyBackAll:
		return "copy all back"
	case OrphansSelect:
		return "select"
	}
	return "skip"
}

// OrphanDecision is the answer for a single orphan.
type OrphanDecision int

const (
	OrphanSkip OrphanDecision = iota
	OrphanDelete
	OrphanCopyBack
)

func (d OrphanDecision) String() string {
	switch d {
	case OrphanDelete:
		return "delete"
	case OrphanCopyBack:
		return "copy back"
	}
	return "skip"
}

// DeletionDecision confirms a planned deletion.
type DeletionDecision int

const (
	DeletionSkip DeletionDecision = iota
	DeletionDelete
	// DeletionCopyBack restores the missing counterpart instead of deleting.
	DeletionCopyBack
)

func (d DeletionDecision) String() string {
	switch d {
	case DeletionDelete:
		return "delete"
	case DeletionCopyBack:
		return "copy back"
	}
	return "skip"
}

// Decider resolves the ambiguous parts of a plan. Implementations may block
// on user input and should return ctx.Err() when ctx is cancelled.
type Decider interface {
	ReverseSync(ctx context.Context, tool string, p Pair) (ReverseDecision, error)
	Conflict(ctx context.Context, tool string, p Pair) (ConflictDecision, error)
	Orphans(ctx context.Context, tool string, orphans []Orphan) (OrphansDecision, error)
	Orphan(ctx context.Context, tool string, o Orphan) (OrphanDecision, error)
	Deletion(ctx context.Context, tool string, d DeleteAction) (DeletionDecision, error)
	// Overwrite confirms replacing an existing source file.
	Overwrite(ctx context.Context, tool string, c CopyAction) (bool, error)
}

// PolicyDecider answers every question with a fixed policy.
type PolicyDecider struct {
	OnReverse      ReverseDecision
	OnConflict     ConflictDecision
	OnOrphans      OrphansDecision
	OnOrphan       OrphanDecision
	OnDeletion     DeletionDecision
	AllowOverwrite bool
}

// DefaultPolicy never deletes or reverses anything it was not sure about and
// lets the newer side win conflicts.
func DefaultPolicy() *PolicyDecider {
	return &PolicyDecider{
		OnReverse:      ReverseSkip,
		OnConflict:     ConflictNewer,
		OnOrphans:      OrphansSkip,
		OnOrphan:       OrphanSkip,
		OnDeletion:     DeletionSkip,
		AllowOverwrite: true,
	}
}

func (d *PolicyDecider) ReverseSync(ctx context.Context, _ string, _ Pair) (ReverseDecision, error) {
	return d.OnReverse, ctx.Err()
}

func (d *PolicyDecider) Conflict(ctx context.Context, _ string, _ Pair) (ConflictDecision, error) {
	return d.OnConflict, ctx.Err()
}

func (d *PolicyDecider) Orphans(ctx context.Context, _ string, _ []Orphan) (OrphansDecision, error) {
	return d.OnOrphans, ctx.Err()
}

func (d *PolicyDecider) Orphan(ctx context.Context, _ string, _ Orphan) (OrphanDecision, error) {
	return d.OnOrphan, ctx.Err()
}

func (d *PolicyDecider) Deletion(ctx context.Context, _ string, _ DeleteAction) (DeletionDecision, error) {
	return d.OnDeletion, ctx.Err()
}

func (d *PolicyDecider) Overwrite(ctx context.Context, _ string, _ CopyAction) (bool, error) {
	return d.AllowOverwrite, ctx.Err()
}
