package sync

import (
	"os"

	"github.com/schaermu/toolsync/internal/apperr"
	"github.com/schaermu/toolsync/internal/config"
	"github.com/schaermu/toolsync/internal/diff"
	"github.com/schaermu/toolsync/internal/jsonmerge"
)

// ChangeKind classifies a summary line.
type ChangeKind int

const (
	ChangeNew ChangeKind = iota
	ChangeModified
	ChangeDeleted
	ChangeConflict
	ChangeOrphan
)

func (k ChangeKind) String() string {
	switch k {
	case ChangeNew:
		return "new"
	case ChangeModified:
		return "modified"
	case ChangeDeleted:
		return "deleted"
	case ChangeConflict:
		return "conflict"
	case ChangeOrphan:
		return "orphan"
	}
	return "unknown"
}

// Change is one line of a plan summary.
type Change struct {
	Rel  string
	Kind ChangeKind
	// Side is the side that would be modified.
	Side    Side
	Stats   *diff.Stats
	Warning string
}

// Summary lists every bucket of a plan before anything is applied.
type Summary struct {
	Tool      string
	Direction Direction
	Changes   []Change
}

// Summarize turns a plan into summary lines, in bucket order.
func Summarize(p *Plan) Summary {
	s := Summary{Tool: p.Tool, Direction: p.Direction}

	for _, c := range p.Copies {
		ch := Change{Rel: c.Rel, Kind: ChangeNew, Side: c.From.Other()}
		if exists(c.DstPath) {
			ch.Kind = ChangeModified
			if _, stats, err := DiffFiles(c.DstPath, c.SrcPath, c.Special, "", ""); err == nil {
				ch.Stats = &stats
			}
		}
		s.Changes = append(s.Changes, ch)
	}
	for _, d := range p.Deletes {
		s.Changes = append(s.Changes, Change{Rel: d.Rel, Kind: ChangeDeleted, Side: d.Side})
	}
	for _, c := range p.Conflicts {
		ch := Change{Rel: c.Rel, Kind: ChangeConflict, Side: Target, Warning: "changed on both sides"}
		if _, stats, err := DiffFiles(c.TargetPath, c.SourcePath, c.Special, "", ""); err == nil {
			ch.Stats = &stats
		}
		s.Changes = append(s.Changes, ch)
	}
	for _, r := range p.ReverseSuggestions {
		ch := Change{Rel: r.Rel, Kind: ChangeModified, Side: Target, Warning: "target is newer than source"}
		if _, stats, err := DiffFiles(r.TargetPath, r.SourcePath, r.Special, "", ""); err == nil {
			ch.Stats = &stats
		}
		s.Changes = append(s.Changes, ch)
	}
	for _, o := range p.Orphans {
		s.Changes = append(s.Changes, Change{Rel: o.Rel, Kind: ChangeOrphan, Side: Target, Warning: "only in target, never synced"})
	}
	return s
}

// Count returns how many changes have the given kind.
func (s Summary) Count(kind ChangeKind) int {
	n := 0
	for _, c := range s.Changes {
		if c.Kind == kind {
			n++
		}
	}
	return n
}

// DiffFiles renders a unified diff from a to b. Missing files diff as empty
// and special files are compared on their canonical extracted values.
func DiffFiles(a, b string, special *config.SpecialHandling, nameA, nameB string) (string, diff.Stats, error) {
	if nameA == "" {
		nameA = a
	}
	if nameB == "" {
		nameB = b
	}
	da, err := diffContent(a, special)
	if err != nil {
		return "", diff.Stats{}, err
	}
	db, err := diffContent(b, special)
	if err != nil {
		return "", diff.Stats{}, err
	}
	text, stats := diff.Unified(da, db, nameA, nameB)
	return text, stats, nil
}

func diffContent(path string, special *config.SpecialHandling) ([]byte, error) {
	if special != nil {
		canon, err := jsonmerge.CanonicalExtract(path, ruleFor(special))
		switch {
		case err == nil:
			return canon, nil
		case apperr.IsCode(err, apperr.CodeNotFound):
			return nil, nil
		case !apperr.IsCode(err, apperr.CodeParse):
			return nil, err
		}
	}
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	if err != nil {
		return nil, apperr.FromFS("read", path, err)
	}
	return data, nil
}
